// Package localstate models LocalConfig: the installed interface state
// as observed (and persisted) on disk, independent of whatever the
// registry currently reports.
package localstate

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/wiremesh/agent/internal/fsutil"
	"github.com/wiremesh/agent/internal/identity"
	"github.com/wiremesh/agent/internal/registry"
)

// fileName is the name of the persisted LocalConfig file within its
// data directory.
const fileName = "local_config.yaml"

// LocalConfig is the installed interface state: identity, listen
// parameters and the full peer set excluding self. It is created once
// at first boot (via the Address Allocator) and mutated whenever the
// Reconcile Loop observes a non-empty diff; it is never destroyed
// during a run.
type LocalConfig struct {
	InterfaceName string                        `yaml:"interface_name"`
	ListenPort    int                            `yaml:"listen_port"`
	Address       string                        `yaml:"address"` // CIDR, overlay subnet prefix width
	PrivateKeyB64 string                        `yaml:"private_key"`
	PublicKeyB64  string                        `yaml:"public_key"`
	Peers         map[string]registry.PeerRecord `yaml:"peers"` // keyed by public key, excludes self
}

// Keypair reconstructs the node's keypair from the persisted base64 fields.
func (c *LocalConfig) Keypair() (*identity.Keypair, error) {
	return identity.DecodeKeypair(c.PrivateKeyB64, c.PublicKeyB64)
}

// Load reads LocalConfig from dataDir. It returns os.ErrNotExist
// (wrapped) if no config has ever been persisted — callers use this to
// distinguish first boot from a restart.
func Load(dataDir string) (*LocalConfig, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, fileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("localstate: load: %w", os.ErrNotExist)
		}
		return nil, fmt.Errorf("localstate: load: %w", err)
	}

	var cfg LocalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("localstate: load: parse: %w", err)
	}
	return &cfg, nil
}

// Save atomically persists cfg to dataDir.
func Save(dataDir string, cfg *LocalConfig) error {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("localstate: save: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("localstate: save: marshal: %w", err)
	}

	if err := fsutil.WriteFileAtomic(dataDir, fileName, data, 0o600); err != nil {
		return fmt.Errorf("localstate: save: %w", err)
	}
	return nil
}

// OwnPeerRecord builds this node's own PeerRecord from its identity and
// endpoint, suitable for putOwnRecord. The published Address is narrowed
// to a single-host prefix: c.Address carries the wide overlay subnet
// (needed for the .network file's Address= line), but AllowedIPs= for
// this peer must be exact or every peer's entry would overlap.
func (c *LocalConfig) OwnPeerRecord(endpoint string) registry.PeerRecord {
	return registry.PeerRecord{
		PublicKey: c.PublicKeyB64,
		Endpoint:  endpoint,
		Address:   singleHostPrefix(c.Address),
	}
}

// singleHostPrefix narrows a CIDR string to its address's own bit width
// (/32 for IPv4, /128 for IPv6). If cidr doesn't parse as a prefix, it
// is returned unchanged so callers see the original, malformed value
// rather than a silently swallowed error.
func singleHostPrefix(cidr string) string {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return cidr
	}
	addr := prefix.Addr()
	return netip.PrefixFrom(addr, addr.BitLen()).String()
}

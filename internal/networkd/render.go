// Package networkd renders systemd-networkd .network/.netdev unit
// files that pair the local WireGuard interface with every discovered
// peer. The rendered files are bit-exact, since systemd-networkd
// consumes them directly.
package networkd

import (
	"bytes"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strconv"
	"text/template"

	"github.com/wiremesh/agent/internal/fsutil"
	"github.com/wiremesh/agent/internal/localstate"
	"github.com/wiremesh/agent/internal/registry"
)

// netdevGroup is the group the .netdev file must belong to, per its
// contract with systemd-networkd.
const netdevGroup = "systemd-network"

// Config holds the configuration for the networkd rendering backend.
type Config struct {
	// InterfaceName is the name of the WireGuard interface.
	// Default: "wg0"
	InterfaceName string `yaml:"interface_name"`

	// Dir is the output directory for rendered unit files.
	// Default: "/etc/systemd/network/"
	Dir string `yaml:"dir"`

	// Keepalive is the PersistentKeepalive value in rendered peer sections.
	// Default: 25s
	Keepalive int `yaml:"keepalive_seconds"`
}

// DefaultInterfaceName is the default WireGuard interface name.
const DefaultInterfaceName = "wg0"

// DefaultDir is the default networkd output directory.
const DefaultDir = "/etc/systemd/network/"

// DefaultKeepaliveSeconds is the default PersistentKeepalive, in seconds.
const DefaultKeepaliveSeconds = 25

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.InterfaceName == "" {
		c.InterfaceName = DefaultInterfaceName
	}
	if c.Dir == "" {
		c.Dir = DefaultDir
	}
	if c.Keepalive == 0 {
		c.Keepalive = DefaultKeepaliveSeconds
	}
}

// Validate checks that configuration values are acceptable.
func (c *Config) Validate() error {
	if c.Keepalive < 0 {
		return fmt.Errorf("networkd: config: Keepalive must not be negative")
	}
	return nil
}

const networkTemplateText = `[Match]
Name={{.InterfaceName}}

[Network]
Address={{.Address}}
`

const netdevTemplateText = `[NetDev]
Name={{.InterfaceName}}
Kind=wireguard
Description="WireGuard client"
MTUBytes=1280

[WireGuard]
ListenPort={{.ListenPort}}
PrivateKey={{.PrivateKey}}
{{range .Peers}}
[WireGuardPeer]
PublicKey={{.PublicKey}}
Endpoint={{.Endpoint}}
AllowedIPs={{.AllowedIPs}}
PersistentKeepalive={{.Keepalive}}
{{end}}`

var (
	networkTemplate = template.Must(template.New("network").Parse(networkTemplateText))
	netdevTemplate  = template.Must(template.New("netdev").Parse(netdevTemplateText))
)

type networkVars struct {
	InterfaceName string
	Address       string
}

type netdevVars struct {
	InterfaceName string
	ListenPort    int
	PrivateKey    string
	Peers         []peerVars
}

type peerVars struct {
	PublicKey  string
	Endpoint   string
	AllowedIPs string
	Keepalive  int
}

// Render writes the .network and .netdev files for cfg's interface,
// describing local and peers as the current LocalConfig. It returns
// true if either file's content changed relative to what is already on
// disk (used by the reconcile loop to decide whether a restart is
// required).
func Render(cfg Config, local *localstate.LocalConfig, peers map[string]registry.PeerRecord) (changed bool, err error) {
	cfg.ApplyDefaults()

	networkContent, err := renderNetwork(cfg, local)
	if err != nil {
		return false, err
	}
	netdevContent, err := renderNetdev(cfg, local, peers)
	if err != nil {
		return false, err
	}

	networkChanged, err := writeIfChanged(cfg.Dir, cfg.InterfaceName+".network", networkContent, 0o644)
	if err != nil {
		return false, err
	}
	netdevChanged, err := writeIfChanged(cfg.Dir, cfg.InterfaceName+".netdev", netdevContent, 0o640)
	if err != nil {
		return false, err
	}
	if netdevChanged {
		if err := chownGroup(filepath.Join(cfg.Dir, cfg.InterfaceName+".netdev"), netdevGroup); err != nil {
			return false, err
		}
	}

	return networkChanged || netdevChanged, nil
}

// chownGroup sets path's group ownership to groupName, leaving the
// owning user untouched. A missing group (e.g. in a minimal test
// environment without systemd installed) is not treated as fatal.
func chownGroup(path, groupName string) error {
	grp, err := user.LookupGroup(groupName)
	if err != nil {
		return nil
	}
	gid, err := strconv.Atoi(grp.Gid)
	if err != nil {
		return fmt.Errorf("networkd: parse gid for group %s: %w", groupName, err)
	}
	if err := os.Chown(path, -1, gid); err != nil {
		return fmt.Errorf("networkd: chown %s to group %s: %w", path, groupName, err)
	}
	return nil
}

func renderNetwork(cfg Config, local *localstate.LocalConfig) ([]byte, error) {
	var buf bytes.Buffer
	if err := networkTemplate.Execute(&buf, networkVars{
		InterfaceName: cfg.InterfaceName,
		Address:       local.Address,
	}); err != nil {
		return nil, fmt.Errorf("networkd: render .network: %w", err)
	}
	return buf.Bytes(), nil
}

func renderNetdev(cfg Config, local *localstate.LocalConfig, peers map[string]registry.PeerRecord) ([]byte, error) {
	keys := make([]string, 0, len(peers))
	for k := range peers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	peerList := make([]peerVars, 0, len(keys))
	for _, k := range keys {
		p := peers[k]
		peerList = append(peerList, peerVars{
			PublicKey:  p.PublicKey,
			Endpoint:   p.Endpoint,
			AllowedIPs: p.Address,
			Keepalive:  cfg.Keepalive,
		})
	}

	var buf bytes.Buffer
	if err := netdevTemplate.Execute(&buf, netdevVars{
		InterfaceName: cfg.InterfaceName,
		ListenPort:    local.ListenPort,
		PrivateKey:    local.PrivateKeyB64,
		Peers:         peerList,
	}); err != nil {
		return nil, fmt.Errorf("networkd: render .netdev: %w", err)
	}
	return buf.Bytes(), nil
}

// writeIfChanged writes content to dir/name (mode perm) only if it
// differs from the file already on disk, and reports whether a write
// happened. Group ownership is not changed here; Render does that for
// the .netdev file.
func writeIfChanged(dir, name string, content []byte, perm os.FileMode) (bool, error) {
	path := filepath.Join(dir, name)

	existing, err := os.ReadFile(path)
	if err == nil && bytes.Equal(existing, content) {
		return false, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("networkd: read %s: %w", path, err)
	}

	if err := fsutil.WriteFileAtomic(dir, name, content, perm); err != nil {
		return false, fmt.Errorf("networkd: write %s: %w", path, err)
	}

	return true, nil
}

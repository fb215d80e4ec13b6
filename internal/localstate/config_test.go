package localstate

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/wiremesh/agent/internal/registry"
)

func TestLoadMissingConfigReturnsNotExist(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(dir)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := &LocalConfig{
		InterfaceName: "wg0",
		ListenPort:    51820,
		Address:       "10.0.0.1/24",
		PrivateKeyB64: "cHJpdmF0ZS1rZXktcGxhY2Vob2xkZXItMzItYnl0ZXMh",
		PublicKeyB64:  "cHVibGljLWtleS1wbGFjZWhvbGRlci0zMi1ieXRlcyEh",
		Peers: map[string]registry.PeerRecord{
			"peer-b": {PublicKey: "peer-b", Endpoint: "192.168.0.2:51820", Address: "10.0.0.2/32"},
		},
	}

	if err := Save(dir, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got.InterfaceName != cfg.InterfaceName || got.ListenPort != cfg.ListenPort || got.Address != cfg.Address {
		t.Fatalf("round-tripped config mismatch: %+v", got)
	}
	if len(got.Peers) != 1 || got.Peers["peer-b"].Endpoint != "192.168.0.2:51820" {
		t.Fatalf("peer set mismatch: %+v", got.Peers)
	}

	if _, err := os.Stat(filepath.Join(dir, fileName)); err != nil {
		t.Fatalf("expected config file on disk: %v", err)
	}
}

func TestOwnPeerRecord(t *testing.T) {
	cfg := &LocalConfig{
		PublicKeyB64: "cHVibGljLWtleS1wbGFjZWhvbGRlci0zMi1ieXRlcyEh",
		Address:      "10.0.0.1/32",
	}

	rec := cfg.OwnPeerRecord("192.168.0.1:51820")
	if rec.PublicKey != cfg.PublicKeyB64 || rec.Endpoint != "192.168.0.1:51820" || rec.Address != cfg.Address {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

// OwnPeerRecord must narrow a wide overlay-subnet prefix to a
// single-host one: LocalConfig.Address carries the subnet width needed
// for the .network file's Address= line, but every peer's AllowedIPs=
// must be an exact, non-overlapping entry.
func TestOwnPeerRecordNarrowsWideSubnetAddress(t *testing.T) {
	cfg := &LocalConfig{
		PublicKeyB64: "cHVibGljLWtleS1wbGFjZWhvbGRlci0zMi1ieXRlcyEh",
		Address:      "10.0.0.5/24",
	}

	rec := cfg.OwnPeerRecord("192.168.0.1:51820")
	if rec.Address != "10.0.0.5/32" {
		t.Fatalf("expected narrowed /32 address, got %q", rec.Address)
	}
}

func TestOwnPeerRecordNarrowsWideIPv6SubnetAddress(t *testing.T) {
	cfg := &LocalConfig{
		PublicKeyB64: "cHVibGljLWtleS1wbGFjZWhvbGRlci0zMi1ieXRlcyEh",
		Address:      "fd00::5/64",
	}

	rec := cfg.OwnPeerRecord("192.168.0.1:51820")
	if rec.Address != "fd00::5/128" {
		t.Fatalf("expected narrowed /128 address, got %q", rec.Address)
	}
}

package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFileConfigEmptyPathIsNotAnError(t *testing.T) {
	cfg, err := loadFileConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected non-nil empty fileConfig")
	}
}

func TestLoadFileConfigMissingFileIsAnError(t *testing.T) {
	_, err := loadFileConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for nonexistent --config path")
	}
}

func TestLoadFileConfigParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	content := `
data_dir: /var/lib/custom
network: 10.50.0.0/16
wireguard_port: 51821
registry:
  address: http://consul.internal:8500
  prefix: mymesh
reconcile:
  update_period: 5s
  peer_timeout: 0s
networkd:
  interface_name: wg1
  dir: /run/systemd/network
  keepalive_seconds: 40
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadFileConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DataDir != "/var/lib/custom" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Network != "10.50.0.0/16" {
		t.Errorf("Network = %q", cfg.Network)
	}
	if cfg.Registry.Address != "http://consul.internal:8500" {
		t.Errorf("Registry.Address = %q", cfg.Registry.Address)
	}
	if cfg.Registry.Prefix != "mymesh" {
		t.Errorf("Registry.Prefix = %q", cfg.Registry.Prefix)
	}
	if cfg.WireGuardPort != 51821 {
		t.Errorf("WireGuardPort = %d", cfg.WireGuardPort)
	}
	if cfg.Reconcile.UpdatePeriod != "5s" {
		t.Errorf("Reconcile.UpdatePeriod = %q", cfg.Reconcile.UpdatePeriod)
	}
	if cfg.Reconcile.PeerTimeout != "0s" {
		t.Errorf("Reconcile.PeerTimeout = %q", cfg.Reconcile.PeerTimeout)
	}
	if cfg.Networkd.InterfaceName != "wg1" || cfg.Networkd.Dir != "/run/systemd/network" || cfg.Networkd.Keepalive != 40 {
		t.Errorf("Networkd = %+v", cfg.Networkd)
	}
}

func TestLoadFileConfigRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	if err := os.WriteFile(path, []byte("network: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := loadFileConfig(path); err == nil {
		t.Fatal("expected parse error for malformed YAML")
	}
}

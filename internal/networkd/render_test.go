package networkd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wiremesh/agent/internal/localstate"
	"github.com/wiremesh/agent/internal/registry"
)

func testLocal() *localstate.LocalConfig {
	return &localstate.LocalConfig{
		InterfaceName: "wg0",
		ListenPort:    51820,
		Address:       "10.0.0.1/24",
		PrivateKeyB64: "cHJpdmF0ZS1rZXktcGxhY2Vob2xkZXItMzItYnl0ZXMh",
		PublicKeyB64:  "cHVibGljLWtleS1wbGFjZWhvbGRlci0zMi1ieXRlcyEh",
	}
}

func TestRenderWritesBitExactNetworkFile(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{InterfaceName: "wg0", Dir: dir, Keepalive: 25}

	changed, err := Render(cfg, testLocal(), nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !changed {
		t.Fatalf("expected first render to report changed=true")
	}

	data, err := os.ReadFile(filepath.Join(dir, "wg0.network"))
	if err != nil {
		t.Fatalf("read .network: %v", err)
	}

	want := "[Match]\nName=wg0\n\n[Network]\nAddress=10.0.0.1/24\n"
	if string(data) != want {
		t.Fatalf("got:\n%s\nwant:\n%s", data, want)
	}
}

func TestRenderNetdevIncludesPeerSections(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{InterfaceName: "wg0", Dir: dir, Keepalive: 25}

	peers := map[string]registry.PeerRecord{
		"peer-b": {PublicKey: "peer-b-pubkey", Endpoint: "192.168.0.2:51820", Address: "10.0.0.2/32"},
	}

	if _, err := Render(cfg, testLocal(), peers); err != nil {
		t.Fatalf("Render: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "wg0.netdev"))
	if err != nil {
		t.Fatalf("read .netdev: %v", err)
	}
	content := string(data)

	for _, want := range []string{
		"[WireGuard]",
		"ListenPort=51820",
		"PrivateKey=cHJpdmF0ZS1rZXktcGxhY2Vob2xkZXItMzItYnl0ZXMh",
		"[WireGuardPeer]",
		"PublicKey=peer-b-pubkey",
		"Endpoint=192.168.0.2:51820",
		"AllowedIPs=10.0.0.2/32",
		"PersistentKeepalive=25",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("rendered .netdev missing %q:\n%s", want, content)
		}
	}
}

func TestRenderIsIdempotentOnUnchangedInput(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{InterfaceName: "wg0", Dir: dir, Keepalive: 25}

	if _, err := Render(cfg, testLocal(), nil); err != nil {
		t.Fatalf("first Render: %v", err)
	}

	changed, err := Render(cfg, testLocal(), nil)
	if err != nil {
		t.Fatalf("second Render: %v", err)
	}
	if changed {
		t.Fatalf("expected second render with identical input to report changed=false")
	}
}

func TestRenderDetectsPeerSetChange(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{InterfaceName: "wg0", Dir: dir, Keepalive: 25}

	if _, err := Render(cfg, testLocal(), nil); err != nil {
		t.Fatalf("first Render: %v", err)
	}

	peers := map[string]registry.PeerRecord{
		"peer-b": {PublicKey: "peer-b-pubkey", Endpoint: "192.168.0.2:51820", Address: "10.0.0.2/32"},
	}
	changed, err := Render(cfg, testLocal(), peers)
	if err != nil {
		t.Fatalf("second Render: %v", err)
	}
	if !changed {
		t.Fatalf("expected render with a new peer to report changed=true")
	}
}

package reconcile

import (
	"testing"
	"time"
)

func TestApplyDefaultsFillsUnsetPeerTimeout(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.UpdatePeriod != DefaultUpdatePeriod {
		t.Errorf("expected default UpdatePeriod %v, got %v", DefaultUpdatePeriod, cfg.UpdatePeriod)
	}
	if cfg.PeerTimeout == nil || *cfg.PeerTimeout != DefaultPeerTimeout {
		t.Errorf("expected default PeerTimeout %v, got %v", DefaultPeerTimeout, cfg.PeerTimeout)
	}
}

func TestApplyDefaultsPreservesExplicitZeroPeerTimeout(t *testing.T) {
	disabled := time.Duration(0)
	cfg := Config{PeerTimeout: &disabled}
	cfg.ApplyDefaults()

	if cfg.PeerTimeout == nil || *cfg.PeerTimeout != 0 {
		t.Errorf("expected explicit zero PeerTimeout to be preserved, got %v", cfg.PeerTimeout)
	}
}

func TestValidateRejectsMissingSessionTTL(t *testing.T) {
	cfg := Config{UpdatePeriod: time.Second, DataDir: "/tmp/x", Endpoint: "1.2.3.4:51820"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for zero SessionTTL")
	}
}

func TestValidateRejectsMissingDataDir(t *testing.T) {
	cfg := Config{UpdatePeriod: time.Second, SessionTTL: time.Second, Endpoint: "1.2.3.4:51820"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for missing DataDir")
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := Config{UpdatePeriod: time.Second, SessionTTL: time.Second, DataDir: "/tmp/x", Endpoint: "1.2.3.4:51820"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsNegativePeerTimeout(t *testing.T) {
	negative := -time.Second
	cfg := Config{UpdatePeriod: time.Second, SessionTTL: time.Second, DataDir: "/tmp/x", Endpoint: "1.2.3.4:51820", PeerTimeout: &negative}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for negative PeerTimeout")
	}
}

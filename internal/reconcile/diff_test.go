package reconcile

import (
	"testing"

	"github.com/wiremesh/agent/internal/registry"
)

func TestComputeDiffDetectsAdditions(t *testing.T) {
	target := map[string]registry.PeerRecord{
		"peer-a": {PublicKey: "peer-a", Endpoint: "1.2.3.4:51820", Address: "10.0.0.2/32"},
	}
	diff := computeDiff(target, nil)

	if len(diff.Additions) != 1 {
		t.Fatalf("expected 1 addition, got %d", len(diff.Additions))
	}
	if len(diff.Removals) != 0 {
		t.Errorf("expected 0 removals, got %d", len(diff.Removals))
	}
}

func TestComputeDiffDetectsRemovals(t *testing.T) {
	local := map[string]registry.PeerRecord{
		"peer-a": {PublicKey: "peer-a", Endpoint: "1.2.3.4:51820", Address: "10.0.0.2/32"},
	}
	diff := computeDiff(nil, local)

	if len(diff.Removals) != 1 || diff.Removals[0] != "peer-a" {
		t.Fatalf("expected peer-a to be removed, got %v", diff.Removals)
	}
}

func TestComputeDiffDetectsChangedRecord(t *testing.T) {
	local := map[string]registry.PeerRecord{
		"peer-a": {PublicKey: "peer-a", Endpoint: "1.2.3.4:51820", Address: "10.0.0.2/32"},
	}
	target := map[string]registry.PeerRecord{
		"peer-a": {PublicKey: "peer-a", Endpoint: "5.6.7.8:51820", Address: "10.0.0.2/32"},
	}

	diff := computeDiff(target, local)
	if len(diff.Additions) != 1 {
		t.Fatalf("expected changed record to surface as an addition, got %d", len(diff.Additions))
	}
}

func TestComputeDiffIsEmptyWhenConverged(t *testing.T) {
	peers := map[string]registry.PeerRecord{
		"peer-a": {PublicKey: "peer-a", Endpoint: "1.2.3.4:51820", Address: "10.0.0.2/32"},
	}
	diff := computeDiff(peers, peers)
	if !diff.IsEmpty() {
		t.Fatalf("expected empty diff for identical sets, got %+v", diff)
	}
}

package reconcile

import "github.com/wiremesh/agent/internal/registry"

// PeerDiff describes the drift between the target peer set (the
// registry's peer set minus self) and the locally installed peer set.
type PeerDiff struct {
	Additions map[string]registry.PeerRecord
	Removals  []string // public keys present locally but not in target
}

// IsEmpty reports whether there is no drift at all.
func (d PeerDiff) IsEmpty() bool {
	return len(d.Additions) == 0 && len(d.Removals) == 0
}

// computeDiff compares target (the remote peer set minus self) against
// local (the peer set currently installed in LocalConfig) and returns
// what must be added or removed to converge.
func computeDiff(target, local map[string]registry.PeerRecord) PeerDiff {
	diff := PeerDiff{}

	for pubkey, rec := range target {
		existing, ok := local[pubkey]
		if !ok || !existing.Equal(rec) {
			if diff.Additions == nil {
				diff.Additions = make(map[string]registry.PeerRecord)
			}
			diff.Additions[pubkey] = rec
		}
	}

	for pubkey := range local {
		if _, ok := target[pubkey]; !ok {
			diff.Removals = append(diff.Removals, pubkey)
		}
	}

	return diff
}

// Package ownership implements the Ownership Verifier: a background
// task that continuously confirms a node's own peer record still
// exists and is still locked by the node's own session, cancelling the
// agent on preemption or on repeated transport failure.
package ownership

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// staleReadConvergence is the registry's documented stale-read
// convergence window; the verifier sleeps this long before its first
// poll to avoid a spurious early miss right after putOwnRecord.
const staleReadConvergence = 50 * time.Millisecond

// minPacing is the minimum time between polls, with missed-tick skip
// semantics (a long-poll that returns instantly cannot busy-loop).
const minPacing = 1 * time.Second

// maxConsecutiveFailures is the number of consecutive transport
// failures tolerated before the verifier cancels the agent.
const maxConsecutiveFailures = 5

// RecordWatcher is the subset of the Registry Client the verifier needs.
type RecordWatcher interface {
	GetRecord(key string, lastIndex uint64) (sessionID string, newIndex uint64, err error)
}

// Verifier polls a single record's lock owner via long-poll and detects
// preemption (a foreign session now holds the lock) or repeated
// transport failure.
type Verifier struct {
	registry  RecordWatcher
	key       string
	ownSessID string
	logger    *slog.Logger
}

// New creates an Ownership Verifier for the record at key, which must be
// locked by ownSessionID at the time the verifier starts.
func New(registry RecordWatcher, key, ownSessionID string, logger *slog.Logger) *Verifier {
	return &Verifier{
		registry:  registry,
		key:       key,
		ownSessID: ownSessionID,
		logger:    logger.With("component", "ownership"),
	}
}

// Run polls the record's owner until ctx is cancelled or a terminal
// condition (preemption, or maxConsecutiveFailures transport failures
// in a row) is reached, in which case it calls onFatal and returns.
func (v *Verifier) Run(ctx context.Context, onFatal func(error)) {
	select {
	case <-time.After(staleReadConvergence):
	case <-ctx.Done():
		return
	}

	var lastIndex uint64
	failures := 0
	pace := time.NewTicker(minPacing)
	defer pace.Stop()

	for {
		sessID, newIndex, err := v.registry.GetRecord(v.key, lastIndex)
		switch {
		case err != nil:
			failures++
			v.logger.Warn("ownership check failed", "error", err, "consecutive_failures", failures)
			if failures >= maxConsecutiveFailures {
				onFatal(fmt.Errorf("ownership: %d consecutive failures: %w", failures, err))
				return
			}
		case sessID != v.ownSessID:
			v.logger.Error("record preempted by foreign session", "foreign_session", sessID)
			onFatal(fmt.Errorf("ownership: record %s is now locked by session %s, not ours", v.key, sessID))
			return
		default:
			failures = 0
			lastIndex = newIndex
		}

		select {
		case <-ctx.Done():
			return
		case <-pace.C:
		}
	}
}

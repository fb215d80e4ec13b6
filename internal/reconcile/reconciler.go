package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wiremesh/agent/internal/coorderr"
	"github.com/wiremesh/agent/internal/localstate"
	"github.com/wiremesh/agent/internal/metrics"
	"github.com/wiremesh/agent/internal/networkd"
	"github.com/wiremesh/agent/internal/registry"
	"github.com/wiremesh/agent/internal/sysexec"
)

// RegistryClient is the subset of registry.Client the Reconcile Loop
// depends on.
type RegistryClient interface {
	ListPeers() (map[string]registry.PeerRecord, error)
	PutOwnRecord(sessionID string, record registry.PeerRecord) error
	DeleteRecord(publicKeyB64 string) error
}

// peerCounterState tracks a single peer's received-byte counter for
// the timeout sweep.
type peerCounterState struct {
	lastCount    uint64
	lastChangeAt time.Time
}

// Loop is the Reconcile Loop: the agent's central periodic task. Each
// tick it fetches the remote peer set, diffs it against the locally
// installed interface, rewrites and restarts the networkd collaborator
// when needed, re-acquires its own record if lost, and sweeps timed
// out peers.
type Loop struct {
	registry  RegistryClient
	cfg       Config
	netCfg    networkd.Config
	sessionID func() string
	logger    *slog.Logger
	metrics   *metrics.Metrics

	render          func(cfg networkd.Config, local *localstate.LocalConfig, peers map[string]registry.PeerRecord) (bool, error)
	restartNetworkd func() error
	peerTransfer    func(iface string) ([]sysexec.Transfer, error)

	peerTimeout         time.Duration
	peerCounters        map[string]peerCounterState
	lastTimeoutDeletion time.Time
}

// New creates a Loop. sessionID is called whenever the loop re-acquires
// a lost lock, to obtain the Session Supervisor's current session ID.
func New(reg RegistryClient, cfg Config, netCfg networkd.Config, sessionID func() string, logger *slog.Logger, m *metrics.Metrics) *Loop {
	cfg.ApplyDefaults()
	netCfg.ApplyDefaults()
	return &Loop{
		registry:        reg,
		cfg:             cfg,
		netCfg:          netCfg,
		sessionID:       sessionID,
		logger:          logger,
		metrics:         m,
		render:          networkd.Render,
		restartNetworkd: sysexec.RestartNetworkd,
		peerTransfer:    sysexec.PeerTransfer,
		peerTimeout:     *cfg.PeerTimeout,
		peerCounters:    make(map[string]peerCounterState),
	}
}

// Run ticks the Reconcile Loop until ctx is cancelled. The first cycle
// runs immediately.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("reconcile loop started", "component", "reconcile", "update_period", l.cfg.UpdatePeriod)

	l.tick(ctx)

	ticker := time.NewTicker(l.cfg.UpdatePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("reconcile loop stopped", "component", "reconcile")
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	start := time.Now()
	err := l.runCycle(ctx)
	duration := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		if ctx.Err() == nil {
			l.logger.Warn("reconcile cycle aborted", "component", "reconcile", "error", err, "duration", duration)
		}
	} else {
		l.logger.Debug("reconcile cycle completed", "component", "reconcile", "duration", duration)
	}

	if l.metrics != nil {
		l.metrics.ReconcileCycles.WithLabelValues(outcome).Inc()
		l.metrics.ReconcileSeconds.Observe(duration.Seconds())
	}
}

// runCycle performs one reconciliation: fetch, diff, apply, republish
// own record if missing, sweep timed-out peers.
func (l *Loop) runCycle(ctx context.Context) error {
	local, err := localstate.Load(l.cfg.DataDir)
	if err != nil {
		return fmt.Errorf("reconcile: load local config: %w", err)
	}

	rttStart := time.Now()
	remote, err := l.registry.ListPeers()
	if l.metrics != nil {
		l.metrics.RegistryRTT.Observe(time.Since(rttStart).Seconds())
	}
	if err != nil {
		return fmt.Errorf("reconcile: list peers: %w", err)
	}

	target := make(map[string]registry.PeerRecord, len(remote))
	for pubkey, rec := range remote {
		if pubkey == local.PublicKeyB64 {
			continue
		}
		target[pubkey] = rec
	}
	if l.metrics != nil {
		l.metrics.PeerCount.Set(float64(len(target)))
	}

	diff := computeDiff(target, local.Peers)
	if !diff.IsEmpty() {
		if err := l.applyDiff(local, target); err != nil {
			return err
		}
	}

	if _, owned := remote[local.PublicKeyB64]; !owned {
		if err := l.ensureOwnRecord(ctx, local); err != nil {
			return err
		}
	}

	if l.peerTimeout > 0 {
		if err := l.sweepTimedOutPeers(); err != nil {
			return err
		}
	}

	return nil
}

// applyDiff persists the converged peer set and re-renders the
// networkd config, restarting systemd-networkd if its content
// changed.
func (l *Loop) applyDiff(local *localstate.LocalConfig, target map[string]registry.PeerRecord) error {
	local.Peers = target
	if err := localstate.Save(l.cfg.DataDir, local); err != nil {
		return fmt.Errorf("reconcile: save local config: %w", err)
	}

	changed, err := l.render(l.netCfg, local, target)
	if err != nil {
		return coorderr.New(coorderr.ClassCollaborator, "reconcile.render", err)
	}
	if !changed {
		return nil
	}

	if err := l.restartNetworkd(); err != nil {
		return coorderr.New(coorderr.ClassCollaborator, "reconcile.restartNetworkd", err)
	}
	return nil
}

// ensureOwnRecord re-acquires the node's own lock when it is missing
// from the registry, e.g. after eviction during an outage. A node may
// restart while its prior session's TTL is still running down, so
// retries are spaced at 2*SessionTTL.
func (l *Loop) ensureOwnRecord(ctx context.Context, local *localstate.LocalConfig) error {
	record := local.OwnPeerRecord(l.cfg.Endpoint)
	sessID := l.sessionID()

	var lastErr error
	for attempt := 1; attempt <= putOwnRecordMaxAttempts; attempt++ {
		if err := l.registry.PutOwnRecord(sessID, record); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == putOwnRecordMaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * l.cfg.SessionTTL):
		}
	}

	return coorderr.New(coorderr.ClassContention, "reconcile.ensureOwnRecord", fmt.Errorf("exhausted %d attempts: %w", putOwnRecordMaxAttempts, lastErr))
}

// sweepTimedOutPeers consults per-peer received-byte counters and
// deletes any peer whose counter has not advanced for longer than
// PeerTimeout, debounced to at most one deletion per 60s window across
// all peers.
func (l *Loop) sweepTimedOutPeers() error {
	transfers, err := l.peerTransfer(l.netCfg.InterfaceName)
	if err != nil {
		return coorderr.New(coorderr.ClassCollaborator, "reconcile.peerTransfer", err)
	}

	now := time.Now()
	seen := make(map[string]struct{}, len(transfers))

	for _, t := range transfers {
		seen[t.PublicKey] = struct{}{}
		state, ok := l.peerCounters[t.PublicKey]
		if !ok || t.RxBytes != state.lastCount {
			l.peerCounters[t.PublicKey] = peerCounterState{lastCount: t.RxBytes, lastChangeAt: now}
			continue
		}

		if now.Sub(state.lastChangeAt) <= l.peerTimeout {
			continue
		}
		// Single-tick timeout decision; could require two consecutive
		// idle ticks before eviction to guard against a missed rx-byte
		// sample, but the debounce below already bounds eviction rate.
		if now.Sub(l.lastTimeoutDeletion) < timeoutDeletionDebounce {
			continue
		}

		if err := l.registry.DeleteRecord(t.PublicKey); err != nil {
			l.logger.Warn("failed to delete timed-out peer", "component", "reconcile", "public_key", t.PublicKey, "error", err)
			continue
		}
		l.logger.Info("evicted timed-out peer", "component", "reconcile", "public_key", t.PublicKey, "idle", now.Sub(state.lastChangeAt))
		l.lastTimeoutDeletion = now
		delete(l.peerCounters, t.PublicKey)
	}

	for pubkey := range l.peerCounters {
		if _, ok := seen[pubkey]; !ok {
			delete(l.peerCounters, pubkey)
		}
	}

	return nil
}

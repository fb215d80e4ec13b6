package coordsession

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// state is the Session Supervisor's lifecycle state.
type state int

const (
	stateOpening state = iota
	stateLive
	stateDestroying
	stateGone
)

// RegistrySession is the subset of the Registry Client the supervisor needs.
type RegistrySession interface {
	CreateSession(name string, ttl time.Duration) (string, error)
	RenewSession(id string) error
	DestroySession(id string) error
}

// Supervisor opens a TTL'd registry session, renews it at TTL/2 with
// missed ticks skipped rather than accumulated, and destroys it on
// shutdown. A renewal failure is not retried: it cancels the agent.
type Supervisor struct {
	registry RegistrySession
	cfg      Config
	logger   *slog.Logger

	mu        sync.Mutex
	state     state
	sessionID string
}

// New creates a Session Supervisor. Config defaults are applied automatically.
func New(registry RegistrySession, cfg Config, logger *slog.Logger) *Supervisor {
	cfg.ApplyDefaults()
	return &Supervisor{
		registry: registry,
		cfg:      cfg,
		logger:   logger.With("component", "session"),
		state:    stateOpening,
	}
}

// Open creates the session. It must be called once before Run.
func (s *Supervisor) Open() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateOpening {
		return "", fmt.Errorf("coordsession: Open called in state %d, want opening", s.state)
	}

	id, err := s.registry.CreateSession(s.cfg.Name, s.cfg.TTL)
	if err != nil {
		return "", fmt.Errorf("coordsession: open: %w", err)
	}

	s.sessionID = id
	s.state = stateLive

	s.logger.Info("session opened", "session_id", id, "ttl", s.cfg.TTL)
	return id, nil
}

// SessionID returns the current session ID. Empty before Open succeeds.
func (s *Supervisor) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Run starts the renewal loop at TTL/2 cadence. A time.Ticker naturally
// skips missed ticks rather than accumulating them, which is exactly the
// behavior required under clock jumps or scheduler pauses. On the first
// renewal failure, Run calls onFatal with the error and returns; it does
// not retry. Run blocks until ctx is cancelled or a renewal fails.
func (s *Supervisor) Run(ctx context.Context, onFatal func(error)) {
	interval := s.cfg.TTL / 2
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.registry.RenewSession(s.SessionID()); err != nil {
				s.logger.Error("session renewal failed, cancelling agent", "error", err)
				s.setState(stateGone)
				onFatal(fmt.Errorf("coordsession: renew: %w", err))
				return
			}
			s.logger.Debug("session renewed")
		}
	}
}

// Shutdown destroys the session best-effort. It is safe to call even if
// the session was never successfully opened.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	id := s.sessionID
	alreadyGone := s.state == stateGone
	s.state = stateDestroying
	s.mu.Unlock()

	if id == "" || alreadyGone {
		return
	}

	if err := s.registry.DestroySession(id); err != nil {
		s.logger.Warn("session destroy failed (best-effort)", "error", err)
	} else {
		s.logger.Info("session destroyed", "session_id", id)
	}

	s.setState(stateGone)
}

func (s *Supervisor) setState(st state) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

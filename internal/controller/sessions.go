package controller

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// SessionsConfig holds configuration for the session registry.
type SessionsConfig struct {
	// New builds the controller for a new session.
	New func() *Controller

	// IdleTTL is how long an untouched session survives (default: 30 minutes).
	IdleTTL time.Duration

	// SweepInterval is how often Run looks for idle sessions (default: IdleTTL / 4).
	SweepInterval time.Duration

	// Clock is the time source (default: real clock).
	Clock clockwork.Clock

	Logger zerolog.Logger
}

// Sessions maps session ids to controllers, one display state per browser.
type Sessions struct {
	newController func() *Controller
	idleTTL       time.Duration
	sweepInterval time.Duration
	clock         clockwork.Clock
	logger        zerolog.Logger

	mu      sync.Mutex
	entries map[string]*session
	closed  bool
}

type session struct {
	ctrl     *Controller
	lastSeen time.Time
}

// NewSessions creates an empty session registry.
func NewSessions(cfg SessionsConfig) *Sessions {
	idleTTL := cfg.IdleTTL
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}

	sweepInterval := cfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = idleTTL / 4
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Sessions{
		newController: cfg.New,
		idleTTL:       idleTTL,
		sweepInterval: sweepInterval,
		clock:         clock,
		logger:        cfg.Logger,
		entries:       make(map[string]*session),
	}
}

// Get returns the controller for id, creating it on first use, and marks the session active.
func (s *Sessions) Get(id string) *Controller {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if e, ok := s.entries[id]; ok {
		e.lastSeen = now
		return e.ctrl
	}

	if s.closed {
		// Shutting down: hand out a controller that is not kept and
		// whose subscriptions end at once.
		ctrl := s.newController()
		ctrl.Close()
		return ctrl
	}

	e := &session{ctrl: s.newController(), lastSeen: now}
	s.entries[id] = e
	s.logger.Debug().Str("session_id", id).Msg("session created")
	return e.ctrl
}

// Lookup returns the controller for id without creating one.
func (s *Sessions) Lookup(id string) (*Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = s.clock.Now()
	return e.ctrl, true
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep drops sessions idle for longer than the TTL and returns how many were removed.
// A session with a query in flight or an open subscription counts as active.
func (s *Sessions) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	removed := 0
	for id, e := range s.entries {
		if e.ctrl.active() {
			e.lastSeen = now
			continue
		}
		if now.Sub(e.lastSeen) < s.idleTTL {
			continue
		}
		e.ctrl.Close()
		delete(s.entries, id)
		removed++
	}

	if removed > 0 {
		s.logger.Debug().
			Int("expired_sessions", removed).
			Int("live_sessions", len(s.entries)).
			Msg("expired idle sessions")
	}
	return removed
}

// Run sweeps idle sessions until ctx is canceled.
func (s *Sessions) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.Sweep()
		}
	}
}

// Close unsubscribes every observer of every session. Later calls to Get
// return controllers that are not kept.
func (s *Sessions) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, e := range s.entries {
		e.ctrl.Close()
		delete(s.entries, id)
	}
}

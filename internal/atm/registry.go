package atm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/atmguard/internal/metrics"
	"github.com/mbd888/atmguard/internal/syncutil"
)

// Registry holds the live session per card. Unlike the map it replaces it is
// bounded: a periodic sweep evicts sessions idle past the timeout, so an
// abandoned card does not pin memory forever.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	locks    *syncutil.ShardedMutex
	timeout  time.Duration
	now      func() time.Time
}

// NewRegistry creates a registry evicting sessions idle longer than timeout.
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		locks:    &syncutil.ShardedMutex{},
		timeout:  timeout,
		now:      time.Now,
	}
}

// Lock serializes all steps for one card. The returned func releases the
// lock. Distinct cards proceed concurrently.
func (r *Registry) Lock(cardID string) func() {
	return r.locks.Lock(cardID)
}

// GetOrCreate returns the card's live session, creating a fresh
// CARD_INSERTED session if none exists. Call with the card lock held.
func (r *Registry) GetOrCreate(cardID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[cardID]; ok {
		return sess
	}
	sess := newSession(cardID, r.now())
	r.sessions[cardID] = sess
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	return sess
}

// Get returns the card's live session, if any.
func (r *Registry) Get(cardID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[cardID]
	return sess, ok
}

// Remove drops the card's session. Call with the card lock held.
func (r *Registry) Remove(cardID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, cardID)
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
}

// Timeout is the configured inactivity timeout.
func (r *Registry) Timeout() time.Duration {
	return r.timeout
}

// Expired reports whether the session has been idle past the timeout.
func (r *Registry) Expired(sess *Session) bool {
	return sess.idleFor(r.now()) > r.timeout
}

// Sweep evicts every session idle past the timeout and returns how many were
// removed. Each eviction takes the card lock, so a sweep never races an
// in-flight step.
func (r *Registry) Sweep() int {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	removed := 0
	for _, id := range ids {
		unlock := r.locks.Lock(id)
		r.mu.Lock()
		sess, ok := r.sessions[id]
		if ok && sess.idleFor(r.now()) > r.timeout {
			if sess.State != StateExpired {
				sess.State = StateExpired
				metrics.SessionsExpiredTotal.Inc()
			}
			delete(r.sessions, id)
			removed++
		}
		metrics.ActiveSessions.Set(float64(len(r.sessions)))
		r.mu.Unlock()
		unlock()
	}
	return removed
}

// Sweeper periodically evicts idle sessions from a registry.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewSweeper creates a sweeper for the registry.
func NewSweeper(registry *Registry, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		registry: registry,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is actively running.
func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeSweep()
		}
	}
}

// Stop signals the sweeper to stop.
func (s *Sweeper) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Sweeper) safeSweep() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in session sweeper", "panic", fmt.Sprint(r))
		}
	}()
	if removed := s.registry.Sweep(); removed > 0 {
		s.logger.Info("session sweep complete", "sessionsRemoved", removed)
	}
}

package draft

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tutorslots/internal/metrics"
)

type session struct {
	manager   *Manager
	updatedAt time.Time
}

// Registry hands out one Manager per UI session and forgets idle ones. The
// persisted drafts outlive the session; only the in-memory view is dropped.
type Registry struct {
	store   Store
	logger  *zerolog.Logger
	timeout time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

// NewRegistry creates a registry. A non-positive timeout defaults to 30 minutes.
func NewRegistry(store Store, timeout time.Duration, logger *zerolog.Logger) *Registry {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Registry{
		store:    store,
		logger:   logger,
		timeout:  timeout,
		sessions: make(map[string]*session),
	}
}

// NewSessionID returns a fresh random session ID.
func NewSessionID() string {
	return uuid.NewString()
}

// Get returns the session's manager or nil.
func (r *Registry) Get(id string) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || time.Since(s.updatedAt) > r.timeout {
		return nil
	}
	s.updatedAt = time.Now()
	return s.manager
}

// GetOrCreate returns the session's manager, creating it when missing or
// expired.
func (r *Registry) GetOrCreate(id string) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if ok && time.Since(s.updatedAt) <= r.timeout {
		s.updatedAt = time.Now()
		return s.manager
	}

	s = &session{manager: NewManager(r.store, r.logger), updatedAt: time.Now()}
	r.sessions[id] = s
	metrics.SetSessions(len(r.sessions))
	return s.manager
}

// Delete forgets a session.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	metrics.SetSessions(len(r.sessions))
}

// Len returns the number of sessions held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Cleanup removes expired sessions and returns how many were removed.
func (r *Registry) Cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, s := range r.sessions {
		if time.Since(s.updatedAt) > r.timeout {
			delete(r.sessions, id)
			removed++
		}
	}
	metrics.SetSessions(len(r.sessions))
	return removed
}

// Run calls Cleanup every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Cleanup(); n > 0 {
				r.logger.Debug().Int("removed", n).Msg("expired draft sessions")
			}
		}
	}
}

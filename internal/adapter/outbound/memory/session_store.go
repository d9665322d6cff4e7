package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bastion-core/bastion/internal/domain/session"
)

// DefaultSweepInterval is the default interval between expiry sweeps.
const DefaultSweepInterval = 1 * time.Minute

// SessionStore implements session.Store with an in-memory map.
// Thread-safe for concurrent access. A background sweep removes expired
// sessions periodically; routine expiry produces no events.
type SessionStore struct {
	sessions      map[string]*session.Session
	mu            sync.RWMutex
	stopChan      chan struct{}
	wg            sync.WaitGroup
	sweepInterval time.Duration
	once          sync.Once // prevent double-close panic on Stop()
}

// NewSessionStore creates a new in-memory session store with the default
// sweep interval.
func NewSessionStore() *SessionStore {
	return NewSessionStoreWithConfig(DefaultSweepInterval)
}

// NewSessionStoreWithConfig creates a session store with a custom sweep interval.
func NewSessionStoreWithConfig(sweepInterval time.Duration) *SessionStore {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &SessionStore{
		sessions:      make(map[string]*session.Session),
		stopChan:      make(chan struct{}),
		sweepInterval: sweepInterval,
	}
}

// StartSweep starts the background goroutine that removes expired sessions.
// Call Stop() to stop it gracefully.
func (s *SessionStore) StartSweep(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

// sweep removes all expired sessions from the store.
func (s *SessionStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	swept := 0
	for id, sess := range s.sessions {
		if sess.IsExpired() {
			delete(s.sessions, id)
			swept++
		}
	}
	if swept > 0 {
		slog.Debug("swept expired sessions", "count", swept)
	}
}

// Stop stops the background sweep goroutine and waits for it to exit.
// Safe to call multiple times.
func (s *SessionStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Create stores a new session.
func (s *SessionStore) Create(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.ID] = copySession(sess)
	return nil
}

// Get retrieves a session by ID.
// Returns session.ErrSessionNotFound if the session doesn't exist or is
// expired. Expired sessions are NOT deleted here; the sweep handles that,
// so a Get racing the sweep reports not-found either way.
func (s *SessionStore) Get(ctx context.Context, id string) (*session.Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok || sess.IsExpired() {
		return nil, session.ErrSessionNotFound
	}
	return copySession(sess), nil
}

// Update saves changes to an existing session.
func (s *SessionStore) Update(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; !ok {
		return session.ErrSessionNotFound
	}
	s.sessions[sess.ID] = copySession(sess)
	return nil
}

// Delete removes a session. Idempotent.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

// List returns all live (unexpired) sessions.
func (s *SessionStore) List(ctx context.Context) ([]session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if !sess.IsExpired() {
			result = append(result, *copySession(sess))
		}
	}
	return result, nil
}

// Size returns the number of sessions currently stored, expired or not.
// Useful for testing sweep behavior.
func (s *SessionStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// copySession creates a deep copy of a session.
func copySession(sess *session.Session) *session.Session {
	c := *sess
	if sess.SecurityContext != nil {
		c.SecurityContext = make(map[string]string, len(sess.SecurityContext))
		for k, v := range sess.SecurityContext {
			c.SecurityContext[k] = v
		}
	}
	return &c
}

// Compile-time interface verification.
var _ session.Store = (*SessionStore)(nil)

package session

import (
	"context"
	"errors"
)

// ErrSessionNotFound is returned when a session doesn't exist or is expired.
var ErrSessionNotFound = errors.New("session not found")

// Store provides session persistence.
// Interface owned by the domain per hexagonal architecture.
// Implementations: in-memory (default).
type Store interface {
	// Create stores a new session.
	Create(ctx context.Context, s *Session) error

	// Get retrieves a session by ID.
	// Returns ErrSessionNotFound if the session doesn't exist or is expired.
	Get(ctx context.Context, id string) (*Session, error)

	// Update saves changes to an existing session.
	Update(ctx context.Context, s *Session) error

	// Delete removes a session. Deleting an absent session is not an error.
	Delete(ctx context.Context, id string) error

	// List returns all live sessions.
	List(ctx context.Context) ([]Session, error)
}

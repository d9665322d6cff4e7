package identity

import (
	"context"
	"errors"
)

// Sentinel errors for identity store operations.
var (
	// ErrIdentityNotFound is returned when an identity does not exist.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrDuplicateUsername is returned when a username is already taken.
	ErrDuplicateUsername = errors.New("username already exists")
	// ErrProfileNotFound is returned when a biometric profile does not exist.
	ErrProfileNotFound = errors.New("biometric profile not found")
)

// Store provides identity persistence.
// Interface owned by the domain per hexagonal architecture.
// Implementations: in-memory (default), external directory (deployment).
type Store interface {
	// Create stores a new identity.
	// Returns ErrDuplicateUsername if the username is taken.
	Create(ctx context.Context, id *Identity) error

	// Get retrieves an identity by ID.
	// Returns ErrIdentityNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*Identity, error)

	// FindByUsername retrieves an identity by its unique username.
	// Returns ErrIdentityNotFound if it doesn't exist.
	FindByUsername(ctx context.Context, username string) (*Identity, error)

	// Update saves changes to an existing identity.
	// Returns ErrIdentityNotFound if it doesn't exist.
	Update(ctx context.Context, id *Identity) error

	// List returns all identities.
	List(ctx context.Context) ([]Identity, error)
}

package keys

import (
	"context"
	"errors"
)

// Sentinel errors for key operations.
var (
	// ErrKeyNotFound is returned when a key does not exist or has expired.
	ErrKeyNotFound = errors.New("key not found")
	// ErrKeyUsageDenied is returned when a key lacks the requested usage or
	// the caller is not on the key's access list.
	ErrKeyUsageDenied = errors.New("key usage denied")
	// ErrUnsupportedAlgorithm is returned when the kind/algorithm/size
	// combination is not implemented.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
)

// Store provides key persistence.
// Interface owned by the domain per hexagonal architecture.
type Store interface {
	// Create stores a new key.
	Create(ctx context.Context, k *Key) error

	// Get retrieves a key by ID.
	// Returns ErrKeyNotFound if it doesn't exist. Expired keys are
	// returned; callers decide whether expiry matters.
	Get(ctx context.Context, id string) (*Key, error)

	// Delete removes a key by ID.
	Delete(ctx context.Context, id string) error

	// Count returns the number of stored keys.
	Count(ctx context.Context) (int, error)
}

package policy

import (
	"context"
	"errors"
)

// Sentinel errors for policy store operations.
var (
	// ErrPolicyNotFound is returned when a policy does not exist.
	ErrPolicyNotFound = errors.New("policy not found")
	// ErrBackstopRequired is returned when an operation would leave the
	// store without the default-deny backstop.
	ErrBackstopRequired = errors.New("default-deny backstop policy is required")
)

// Store persists and retrieves access policies.
// Interface owned by the domain per hexagonal architecture.
type Store interface {
	// GetAll returns all policies, enabled or not.
	GetAll(ctx context.Context) ([]Policy, error)

	// Get returns a policy by ID.
	// Returns ErrPolicyNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*Policy, error)

	// Save creates or updates a policy.
	Save(ctx context.Context, p *Policy) error

	// Delete removes a policy by ID.
	// Returns ErrPolicyNotFound if it doesn't exist and ErrBackstopRequired
	// for the default-deny backstop.
	Delete(ctx context.Context, id string) error
}

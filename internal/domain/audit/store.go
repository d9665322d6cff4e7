package audit

import (
	"context"
	"errors"
)

// ErrAuditNotFound is returned when an audit run does not exist.
var ErrAuditNotFound = errors.New("audit not found")

// Store persists audit runs.
// Interface owned by the domain per hexagonal architecture.
type Store interface {
	// Save creates or updates an audit run.
	Save(ctx context.Context, a *Audit) error

	// Get retrieves an audit run by ID.
	// Returns ErrAuditNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*Audit, error)

	// List returns all audit runs, newest first.
	List(ctx context.Context) ([]Audit, error)
}

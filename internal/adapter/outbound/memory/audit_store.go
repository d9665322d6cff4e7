package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/bastion-core/bastion/internal/domain/audit"
)

// AuditStore implements audit.Store with an in-memory map.
// Thread-safe for concurrent access.
type AuditStore struct {
	audits map[string]*audit.Audit // ID -> Audit
	mu     sync.RWMutex
}

// NewAuditStore creates a new in-memory audit store.
func NewAuditStore() *AuditStore {
	return &AuditStore{
		audits: make(map[string]*audit.Audit),
	}
}

// Save creates or updates an audit run.
func (s *AuditStore) Save(ctx context.Context, a *audit.Audit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audits[a.ID] = copyAudit(a)
	return nil
}

// Get retrieves an audit run by ID.
func (s *AuditStore) Get(ctx context.Context, id string) (*audit.Audit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.audits[id]
	if !ok {
		return nil, audit.ErrAuditNotFound
	}
	return copyAudit(a), nil
}

// List returns all audit runs, newest first.
func (s *AuditStore) List(ctx context.Context) ([]audit.Audit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]audit.Audit, 0, len(s.audits))
	for _, a := range s.audits {
		result = append(result, *copyAudit(a))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartTime.After(result[j].StartTime)
	})
	return result, nil
}

// copyAudit creates a deep copy of an audit run.
func copyAudit(a *audit.Audit) *audit.Audit {
	c := *a
	c.Findings = make([]audit.Finding, len(a.Findings))
	for i, f := range a.Findings {
		cf := f
		cf.References = append([]string(nil), f.References...)
		if f.Evidence != nil {
			cf.Evidence = make(map[string]any, len(f.Evidence))
			for k, v := range f.Evidence {
				cf.Evidence[k] = v
			}
		}
		c.Findings[i] = cf
	}
	if a.Compliance != nil {
		c.Compliance = make(map[string]bool, len(a.Compliance))
		for k, v := range a.Compliance {
			c.Compliance[k] = v
		}
	}
	c.Recommendations = append([]string(nil), a.Recommendations...)
	return &c
}

// Compile-time interface verification.
var _ audit.Store = (*AuditStore)(nil)

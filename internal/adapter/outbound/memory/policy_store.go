package memory

import (
	"context"
	"sync"

	"github.com/bastion-core/bastion/internal/domain/policy"
)

// PolicyStore implements policy.Store with an in-memory map.
// Thread-safe for concurrent access. The default-deny backstop is seeded
// at construction and cannot be deleted.
type PolicyStore struct {
	policies map[string]*policy.Policy // ID -> Policy
	mu       sync.RWMutex
}

// NewPolicyStore creates a new in-memory policy store seeded with the
// default-deny backstop.
func NewPolicyStore() *PolicyStore {
	backstop := policy.DefaultDeny()
	return &PolicyStore{
		policies: map[string]*policy.Policy{
			backstop.ID: &backstop,
		},
	}
}

// GetAll returns all policies, enabled or not.
func (s *PolicyStore) GetAll(ctx context.Context) ([]policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]policy.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		result = append(result, *copyPolicy(p))
	}
	return result, nil
}

// Get returns a policy by ID.
func (s *PolicyStore) Get(ctx context.Context, id string) (*policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[id]
	if !ok {
		return nil, policy.ErrPolicyNotFound
	}
	return copyPolicy(p), nil
}

// Save creates or updates a policy. Disabling or repurposing the backstop
// is rejected with policy.ErrBackstopRequired.
func (s *PolicyStore) Save(ctx context.Context, p *policy.Policy) error {
	if p.ID == policy.DefaultDenyID && (!p.Enabled || p.Effect != policy.EffectDeny) {
		return policy.ErrBackstopRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.policies[p.ID] = copyPolicy(p)
	return nil
}

// Delete removes a policy by ID. The backstop cannot be deleted.
func (s *PolicyStore) Delete(ctx context.Context, id string) error {
	if id == policy.DefaultDenyID {
		return policy.ErrBackstopRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.policies[id]; !ok {
		return policy.ErrPolicyNotFound
	}
	delete(s.policies, id)
	return nil
}

// copyPolicy creates a deep copy of a policy.
func copyPolicy(p *policy.Policy) *policy.Policy {
	c := *p
	c.Principals = append([]string(nil), p.Principals...)
	c.Resources = append([]string(nil), p.Resources...)
	c.Actions = append([]string(nil), p.Actions...)
	if p.Conditions != nil {
		c.Conditions = make(map[string]string, len(p.Conditions))
		for k, v := range p.Conditions {
			c.Conditions[k] = v
		}
	}
	return &c
}

// Compile-time interface verification.
var _ policy.Store = (*PolicyStore)(nil)

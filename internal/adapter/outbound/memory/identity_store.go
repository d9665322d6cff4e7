// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"sync"

	"github.com/bastion-core/bastion/internal/domain/identity"
)

// IdentityStore implements identity.Store with an in-memory map.
// Thread-safe for concurrent access.
type IdentityStore struct {
	identities map[string]*identity.Identity // ID -> Identity
	byUsername map[string]string             // username -> ID
	mu         sync.RWMutex
}

// NewIdentityStore creates a new in-memory identity store.
func NewIdentityStore() *IdentityStore {
	return &IdentityStore{
		identities: make(map[string]*identity.Identity),
		byUsername: make(map[string]string),
	}
}

// Create stores a new identity.
// Returns identity.ErrDuplicateUsername if the username is taken.
func (s *IdentityStore) Create(ctx context.Context, id *identity.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byUsername[id.Username]; taken {
		return identity.ErrDuplicateUsername
	}
	s.identities[id.ID] = copyIdentity(id)
	s.byUsername[id.Username] = id.ID
	return nil
}

// Get retrieves an identity by ID.
func (s *IdentityStore) Get(ctx context.Context, id string) (*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ident, ok := s.identities[id]
	if !ok {
		return nil, identity.ErrIdentityNotFound
	}
	return copyIdentity(ident), nil
}

// FindByUsername retrieves an identity by its unique username.
func (s *IdentityStore) FindByUsername(ctx context.Context, username string) (*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[username]
	if !ok {
		return nil, identity.ErrIdentityNotFound
	}
	return copyIdentity(s.identities[id]), nil
}

// Update saves changes to an existing identity.
func (s *IdentityStore) Update(ctx context.Context, id *identity.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.identities[id.ID]
	if !ok {
		return identity.ErrIdentityNotFound
	}
	if existing.Username != id.Username {
		if _, taken := s.byUsername[id.Username]; taken {
			return identity.ErrDuplicateUsername
		}
		delete(s.byUsername, existing.Username)
		s.byUsername[id.Username] = id.ID
	}
	s.identities[id.ID] = copyIdentity(id)
	return nil
}

// List returns all identities.
func (s *IdentityStore) List(ctx context.Context) ([]identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]identity.Identity, 0, len(s.identities))
	for _, ident := range s.identities {
		result = append(result, *copyIdentity(ident))
	}
	return result, nil
}

// copyIdentity creates a deep copy of an identity to prevent mutation
// through shared slices.
func copyIdentity(id *identity.Identity) *identity.Identity {
	c := *id
	c.Roles = append([]string(nil), id.Roles...)
	c.Permissions = append([]string(nil), id.Permissions...)
	c.Groups = append([]string(nil), id.Groups...)
	c.MFAMethods = append([]string(nil), id.MFAMethods...)
	c.BiometricProfiles = make([]identity.BiometricProfile, len(id.BiometricProfiles))
	for i, p := range id.BiometricProfiles {
		cp := p
		cp.Template = append([]byte(nil), p.Template...)
		c.BiometricProfiles[i] = cp
	}
	return &c
}

// Compile-time interface verification.
var _ identity.Store = (*IdentityStore)(nil)

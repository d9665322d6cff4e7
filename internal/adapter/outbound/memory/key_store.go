package memory

import (
	"context"
	"sync"

	"github.com/bastion-core/bastion/internal/domain/keys"
)

// KeyStore implements keys.Store with an in-memory map.
// Thread-safe for concurrent access. Key material never leaves the
// process; the crypto provider is the only caller that reads Secret or
// Private fields.
type KeyStore struct {
	keys map[string]*keys.Key // ID -> Key
	mu   sync.RWMutex
}

// NewKeyStore creates a new in-memory key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{
		keys: make(map[string]*keys.Key),
	}
}

// Create stores a new key.
func (s *KeyStore) Create(ctx context.Context, k *keys.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys[k.ID] = copyKey(k)
	return nil
}

// Get retrieves a key by ID. Expired keys are returned; callers decide
// whether expiry matters.
func (s *KeyStore) Get(ctx context.Context, id string) (*keys.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.keys[id]
	if !ok {
		return nil, keys.ErrKeyNotFound
	}
	return copyKey(k), nil
}

// Delete removes a key by ID.
func (s *KeyStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.keys, id)
	return nil
}

// Count returns the number of stored keys.
func (s *KeyStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys), nil
}

// copyKey creates a copy of a key. The RSA key pair is shared (it is
// immutable after generation); slices are copied.
func copyKey(k *keys.Key) *keys.Key {
	c := *k
	c.Secret = append([]byte(nil), k.Secret...)
	c.Usages = append([]keys.Usage(nil), k.Usages...)
	c.AccessList = append([]string(nil), k.AccessList...)
	if k.ExpiresAt != nil {
		exp := *k.ExpiresAt
		c.ExpiresAt = &exp
	}
	return &c
}

// Compile-time interface verification.
var _ keys.Store = (*KeyStore)(nil)

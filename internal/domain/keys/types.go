// Package keys contains the domain types and store port for managed
// encryption keys.
package keys

import (
	"crypto/rsa"
	"time"
)

// Kind is the category of a managed key.
type Kind string

const (
	// KindSymmetric keys hold raw secret material for AES-GCM.
	KindSymmetric Kind = "symmetric"
	// KindAsymmetric keys hold an RSA key pair for sign/verify.
	KindAsymmetric Kind = "asymmetric"
	// KindHash keys hold keyed-hash secret material.
	KindHash Kind = "hash"
)

// Usage names an operation a key is permitted to perform.
type Usage string

const (
	UsageEncrypt Usage = "encrypt"
	UsageDecrypt Usage = "decrypt"
	UsageSign    Usage = "sign"
	UsageVerify  Usage = "verify"
)

// Key is a managed encryption key. Private material never leaves the
// crypto provider; callers reference keys by ID.
type Key struct {
	// ID is the unique identifier for this key.
	ID string
	// Kind is the key category.
	Kind Kind
	// Algorithm names the algorithm, e.g. "aes-256-gcm" or "rsa-pss".
	Algorithm string
	// KeySize is the size in bits.
	KeySize int
	// Secret holds symmetric or keyed-hash material. Nil for asymmetric keys.
	Secret []byte
	// Private is the RSA private key. Nil for symmetric keys.
	Private *rsa.PrivateKey
	// Public is the RSA public key. Nil for symmetric keys.
	Public *rsa.PublicKey
	// CreatedAt is when the key was generated (UTC).
	CreatedAt time.Time
	// ExpiresAt is when the key retires (nil = never). Expired keys are
	// treated as absent; rotation always produces a new key ID.
	ExpiresAt *time.Time
	// Usages are the operations this key may perform.
	Usages []Usage
	// Owner is the identity ID that generated the key.
	Owner string
	// AccessList are identity IDs permitted to use the key besides the owner.
	AccessList []string
}

// IsExpired returns true if the key has passed its expiry.
// A key with nil ExpiresAt never expires.
func (k *Key) IsExpired() bool {
	if k.ExpiresAt == nil {
		return false
	}
	return !time.Now().UTC().Before(*k.ExpiresAt)
}

// AllowsUsage returns true if the key grants the given usage.
func (k *Key) AllowsUsage(u Usage) bool {
	for _, usage := range k.Usages {
		if usage == u {
			return true
		}
	}
	return false
}

// AccessibleBy returns true if the identity may use this key.
// An empty caller is treated as the system and is always permitted.
func (k *Key) AccessibleBy(identityID string) bool {
	if identityID == "" || identityID == k.Owner {
		return true
	}
	for _, id := range k.AccessList {
		if id == identityID {
			return true
		}
	}
	return false
}

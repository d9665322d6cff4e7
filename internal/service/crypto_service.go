// Package service contains application services.
package service

import (
	"context"
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"

	"github.com/bastion-core/bastion/internal/domain/event"
	"github.com/bastion-core/bastion/internal/domain/keys"
)

// cryptoSource is the event source name for the crypto provider.
const cryptoSource = "crypto-provider"

// argon2idParams defines OWASP minimum parameters for Argon2id.
// Memory: 47 MiB, Iterations: 1, Parallelism: 1.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// CryptoService is the cryptographic provider: key generation, symmetric
// encrypt/decrypt, asymmetric sign/verify, and password hashing. Every
// operation emits an encryption-category security event.
type CryptoService struct {
	store  keys.Store
	bus    *event.Bus
	logger *slog.Logger
}

// NewCryptoService creates a new CryptoService.
func NewCryptoService(store keys.Store, bus *event.Bus, logger *slog.Logger) *CryptoService {
	return &CryptoService{store: store, bus: bus, logger: logger}
}

// GenerateKey creates and stores a new managed key.
// Returns keys.ErrUnsupportedAlgorithm if the kind/algorithm/size
// combination is not implemented.
func (s *CryptoService) GenerateKey(ctx context.Context, kind keys.Kind, algorithm string, keySize int, usages []keys.Usage, owner string) (*keys.Key, error) {
	k := &keys.Key{
		ID:         uuid.New().String(),
		Kind:       kind,
		Algorithm:  algorithm,
		KeySize:    keySize,
		CreatedAt:  time.Now().UTC(),
		Usages:     append([]keys.Usage(nil), usages...),
		Owner:      owner,
		AccessList: []string{owner},
	}

	switch kind {
	case keys.KindSymmetric:
		if algorithm != "aes-gcm" || (keySize != 128 && keySize != 192 && keySize != 256) {
			return nil, fmt.Errorf("%w: %s %s/%d", keys.ErrUnsupportedAlgorithm, kind, algorithm, keySize)
		}
		secret := make([]byte, keySize/8)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate key material: %w", err)
		}
		k.Secret = secret

	case keys.KindAsymmetric:
		if algorithm != "rsa" || (keySize != 2048 && keySize != 3072 && keySize != 4096) {
			return nil, fmt.Errorf("%w: %s %s/%d", keys.ErrUnsupportedAlgorithm, kind, algorithm, keySize)
		}
		private, err := rsa.GenerateKey(rand.Reader, keySize)
		if err != nil {
			return nil, fmt.Errorf("generate rsa key pair: %w", err)
		}
		k.Private = private
		k.Public = &private.PublicKey

	case keys.KindHash:
		if algorithm != "hmac-sha256" {
			return nil, fmt.Errorf("%w: %s %s", keys.ErrUnsupportedAlgorithm, kind, algorithm)
		}
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate key material: %w", err)
		}
		k.Secret = secret
		k.KeySize = 256

	default:
		return nil, fmt.Errorf("%w: unknown kind %q", keys.ErrUnsupportedAlgorithm, kind)
	}

	if err := s.store.Create(ctx, k); err != nil {
		return nil, fmt.Errorf("store key: %w", err)
	}

	s.bus.Publish(event.SecurityEvent{
		Category:   event.CategoryEncryption,
		Severity:   event.SeverityLow,
		Source:     cryptoSource,
		IdentityID: owner,
		Action:     "key-generated",
		Details:    map[string]any{"key_id": k.ID, "kind": string(kind), "algorithm": algorithm},
	})
	s.logger.Info("key generated", "key_id", k.ID, "kind", kind, "algorithm", algorithm, "size", k.KeySize)
	return k, nil
}

// usableKey loads a key and enforces expiry, usage, and caller access.
// Expired keys are treated as absent.
func (s *CryptoService) usableKey(ctx context.Context, keyID, caller string, usage keys.Usage) (*keys.Key, error) {
	k, err := s.store.Get(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if k.IsExpired() {
		return nil, keys.ErrKeyNotFound
	}
	if !k.AllowsUsage(usage) || !k.AccessibleBy(caller) {
		return nil, keys.ErrKeyUsageDenied
	}
	return k, nil
}

// Encrypt encrypts plaintext with a symmetric key using AES-GCM.
// The random nonce is prepended to the returned ciphertext.
func (s *CryptoService) Encrypt(ctx context.Context, plaintext []byte, keyID, caller string) ([]byte, error) {
	k, err := s.usableKey(ctx, keyID, caller, keys.UsageEncrypt)
	if err != nil {
		return nil, err
	}
	if k.Kind != keys.KindSymmetric {
		return nil, keys.ErrKeyUsageDenied
	}

	aead, err := newGCM(k.Secret)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := aead.Seal(nonce, nonce, plaintext, nil)

	s.publishOp("data-encrypted", caller, keyID)
	return ciphertext, nil
}

// Decrypt decrypts AES-GCM ciphertext produced by Encrypt.
func (s *CryptoService) Decrypt(ctx context.Context, ciphertext []byte, keyID, caller string) ([]byte, error) {
	k, err := s.usableKey(ctx, keyID, caller, keys.UsageDecrypt)
	if err != nil {
		return nil, err
	}
	if k.Kind != keys.KindSymmetric {
		return nil, keys.ErrKeyUsageDenied
	}

	aead, err := newGCM(k.Secret)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}

	s.publishOp("data-decrypted", caller, keyID)
	return plaintext, nil
}

// Sign signs data with an asymmetric key using RSA-PSS over SHA-256.
func (s *CryptoService) Sign(ctx context.Context, data []byte, keyID, caller string) ([]byte, error) {
	k, err := s.usableKey(ctx, keyID, caller, keys.UsageSign)
	if err != nil {
		return nil, err
	}
	if k.Kind != keys.KindAsymmetric || k.Private == nil {
		return nil, keys.ErrKeyUsageDenied
	}

	digest := sha256.Sum256(data)
	sig, err := rsa.SignPSS(rand.Reader, k.Private, crypto.SHA256, digest[:], nil)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	s.publishOp("data-signed", caller, keyID)
	return sig, nil
}

// Verify checks an RSA-PSS signature. A bad signature returns (false, nil);
// errors are reserved for key problems.
func (s *CryptoService) Verify(ctx context.Context, data, signature []byte, keyID, caller string) (bool, error) {
	k, err := s.usableKey(ctx, keyID, caller, keys.UsageVerify)
	if err != nil {
		return false, err
	}
	if k.Kind != keys.KindAsymmetric || k.Public == nil {
		return false, keys.ErrKeyUsageDenied
	}

	digest := sha256.Sum256(data)
	verifyErr := rsa.VerifyPSS(k.Public, crypto.SHA256, digest[:], signature, nil)

	s.publishOp("signature-verified", caller, keyID)
	return verifyErr == nil, nil
}

// ExportPublicKey returns the PEM-encoded public key of an asymmetric key.
// Public material is not access-controlled.
func (s *CryptoService) ExportPublicKey(ctx context.Context, keyID string) ([]byte, error) {
	k, err := s.store.Get(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if k.IsExpired() {
		return nil, keys.ErrKeyNotFound
	}
	if k.Kind != keys.KindAsymmetric || k.Public == nil {
		return nil, keys.ErrKeyUsageDenied
	}
	der, err := x509.MarshalPKIXPublicKey(k.Public)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// HashPassword hashes a password with Argon2id using a per-call random
// salt. The result is in PHC format and safe to store.
func (s *CryptoService) HashPassword(password string) (string, error) {
	return argon2id.CreateHash(password, argon2idParams)
}

// VerifyPassword compares a password against a stored Argon2id hash.
// The comparison inside the library is constant-time.
func (s *CryptoService) VerifyPassword(password, storedHash string) (bool, error) {
	return safeArgon2idCompare(password, storedHash)
}

// safeArgon2idCompare wraps argon2id.ComparePasswordAndHash with panic
// recovery. The underlying argon2 library panics on malformed hashes with
// invalid parameters (e.g. t=0 rounds); those become errors instead.
func safeArgon2idCompare(password, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(password, storedHash)
}

// publishOp emits the low-severity event every cryptographic operation
// produces.
func (s *CryptoService) publishOp(action, caller, keyID string) {
	s.bus.Publish(event.SecurityEvent{
		Category:   event.CategoryEncryption,
		Severity:   event.SeverityLow,
		Source:     cryptoSource,
		IdentityID: caller,
		Action:     action,
		Details:    map[string]any{"key_id": keyID},
	})
}

// newGCM builds an AES-GCM AEAD from raw key material.
func newGCM(secret []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return aead, nil
}

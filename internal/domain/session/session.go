// Package session manages authenticated session lifecycle.
package session

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"
)

// DefaultTimeout is the session timeout used when an identity does not
// carry its own.
const DefaultTimeout = 30 * time.Minute

// ClientContext carries client attribution captured at login.
type ClientContext struct {
	// IP is the client network address.
	IP string
	// UserAgent is the client user agent string.
	UserAgent string
	// DeviceFingerprint identifies the client device, if supplied.
	DeviceFingerprint string
}

// Session is a time-bounded, revocable proof that a prior authentication
// succeeded.
type Session struct {
	// ID is the session identifier (UUID). It is not a secret; the
	// Token is what proves possession.
	ID string
	// IdentityID references the identity this session belongs to.
	IdentityID string
	// Token is the opaque bearer token presented on each call,
	// 32 random bytes hex-encoded.
	Token string
	// RefreshToken is a signed token used to extend the session.
	RefreshToken string
	// CreatedAt is when the session was created (UTC).
	CreatedAt time.Time
	// ExpiresAt is when the session expires (UTC).
	ExpiresAt time.Time
	// LastActivity is the last validated use of the session (UTC).
	LastActivity time.Time
	// Client is the attribution captured at login.
	Client ClientContext
	// MFAVerified is true when a second factor was verified at login.
	MFAVerified bool
	// SecurityContext holds free-form per-session attributes.
	SecurityContext map[string]string
}

// IsExpired checks if the session has passed its expiry.
// A session exactly at its expiry instant is expired (fail closed).
func (s *Session) IsExpired() bool {
	return !time.Now().UTC().Before(s.ExpiresAt)
}

// TokenMatches compares a presented token in constant time.
func (s *Session) TokenMatches(token string) bool {
	return subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) == 1
}

// Refresh updates LastActivity and extends ExpiresAt by the given duration.
func (s *Session) Refresh(timeout time.Duration) {
	now := time.Now().UTC()
	s.LastActivity = now
	s.ExpiresAt = now.Add(timeout)
}

// Touch updates LastActivity without extending expiry.
func (s *Session) Touch() {
	s.LastActivity = time.Now().UTC()
}

// GenerateToken creates a cryptographically random token.
// Returns 64 hex characters (32 bytes).
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

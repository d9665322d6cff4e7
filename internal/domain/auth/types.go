// Package auth contains the domain types for the authentication chain.
package auth

import (
	"errors"
	"time"

	"github.com/bastion-core/bastion/internal/domain/identity"
	"github.com/bastion-core/bastion/internal/domain/session"
)

// Sentinel errors for authentication outcomes.
var (
	// ErrInvalidCredentials is the generic rejection for any failed factor.
	// Which factor failed is recorded in the audit trail, never returned to
	// the caller.
	ErrInvalidCredentials = errors.New("invalid-credentials")
	// ErrAccountLocked is returned when the account is not in a state that
	// permits authentication.
	ErrAccountLocked = errors.New("account-locked")
	// ErrMFARequired signals that the primary factor succeeded and a second
	// factor code must be supplied. Control flow, not failure.
	ErrMFARequired = errors.New("mfa-required")
	// ErrFactorTimeout is returned when an external factor check exceeded
	// the caller's deadline.
	ErrFactorTimeout = errors.New("factor-timeout")
	// ErrThrottled is returned when the per-username failure throttle
	// rejects an attempt before any factor runs.
	ErrThrottled = errors.New("too many failed attempts")
)

// Credentials is the input to one authentication attempt. Exactly one
// primary factor must be set: Password or a BiometricSample.
type Credentials struct {
	// Username identifies the account.
	Username string
	// Password is the knowledge factor, if used.
	Password string
	// BiometricSample is the raw inherence-factor sample, if used.
	BiometricSample []byte
	// BiometricModality names which enrolled profile the sample targets.
	BiometricModality identity.Modality
	// MFACode is the second-factor code, when the account requires one.
	MFACode string
	// Client is the attribution captured with the attempt.
	Client session.ClientContext
	// FactorTimeout bounds each external factor call. Zero means the
	// coordinator's default.
	FactorTimeout time.Duration
}

// HasPassword reports whether the password factor is present.
func (c *Credentials) HasPassword() bool { return c.Password != "" }

// HasBiometric reports whether the biometric factor is present.
func (c *Credentials) HasBiometric() bool { return len(c.BiometricSample) > 0 }

// Result is a successful authentication outcome.
type Result struct {
	// Identity is the authenticated identity.
	Identity *identity.Identity
	// Session is the issued session.
	Session *session.Session
	// FactorsUsed names the factors that were verified, in order.
	FactorsUsed []string
}

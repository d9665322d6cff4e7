package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bastion-core/bastion/internal/domain/auth"
	"github.com/bastion-core/bastion/internal/domain/biometric"
	"github.com/bastion-core/bastion/internal/domain/event"
	"github.com/bastion-core/bastion/internal/domain/identity"
	"github.com/bastion-core/bastion/internal/domain/mfa"
)

// authSource is the event source name for the authentication coordinator.
const authSource = "auth-coordinator"

// defaultFactorTimeout bounds each external factor check when the caller
// does not supply a deadline of its own.
const defaultFactorTimeout = 5 * time.Second

// Throttle limits authentication attempts per key. Implemented by the
// in-memory login throttle; deployments may substitute their own.
type Throttle interface {
	Allow(ctx context.Context, key string) bool
}

// AuthService coordinates the multi-factor authentication chain: exactly
// one primary factor (password or biometric), then an MFA code when the
// account requires one. All factor failures surface as the generic
// invalid-credentials error; the failing factor is recorded only in the
// event stream.
type AuthService struct {
	identities    *IdentityService
	sessions      *SessionService
	crypto        *CryptoService
	matcher       biometric.Matcher
	verifier      mfa.Verifier
	throttle      Throttle
	bus           *event.Bus
	logger        *slog.Logger
	factorTimeout time.Duration
}

// AuthOption configures an AuthService.
type AuthOption func(*AuthService)

// WithFactorTimeout overrides the default per-factor timeout.
func WithFactorTimeout(d time.Duration) AuthOption {
	return func(s *AuthService) {
		if d > 0 {
			s.factorTimeout = d
		}
	}
}

// NewAuthService creates the coordinator.
func NewAuthService(identities *IdentityService, sessions *SessionService, crypto *CryptoService, matcher biometric.Matcher, verifier mfa.Verifier, throttle Throttle, bus *event.Bus, logger *slog.Logger, opts ...AuthOption) *AuthService {
	s := &AuthService{
		identities:    identities,
		sessions:      sessions,
		crypto:        crypto,
		matcher:       matcher,
		verifier:      verifier,
		throttle:      throttle,
		bus:           bus,
		logger:        logger,
		factorTimeout: defaultFactorTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Authenticate runs the full chain and issues a session on success.
//
// Outcomes:
//   - auth.ErrThrottled before any factor runs when the per-username
//     failure budget is exhausted
//   - auth.ErrAccountLocked for accounts not in the active state
//   - auth.ErrMFARequired when the primary factor passed but the account
//     requires a code that was not supplied
//   - auth.ErrFactorTimeout when a factor check exceeded its deadline
//   - auth.ErrInvalidCredentials for every other failure
func (s *AuthService) Authenticate(ctx context.Context, creds auth.Credentials) (*auth.Result, error) {
	if creds.HasPassword() == creds.HasBiometric() {
		// Zero or two primary factors; the chain needs exactly one.
		s.publishFailure(creds, "", "malformed-credentials", event.SeverityMedium)
		return nil, auth.ErrInvalidCredentials
	}

	if !s.throttle.Allow(ctx, creds.Username) {
		s.bus.Publish(event.SecurityEvent{
			Category:  event.CategoryIntrusion,
			Severity:  event.SeverityHigh,
			Source:    authSource,
			Action:    "authentication-throttled",
			ClientIP:  creds.Client.IP,
			UserAgent: creds.Client.UserAgent,
			Details:   map[string]any{"username": creds.Username},
		})
		return nil, auth.ErrThrottled
	}

	ident, err := s.identities.FindByUsername(ctx, creds.Username)
	if err != nil {
		if errors.Is(err, identity.ErrIdentityNotFound) {
			s.publishFailure(creds, "", "unknown-username", event.SeverityMedium)
			return nil, auth.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("look up identity: %w", err)
	}

	if ident.Status != identity.StatusActive {
		s.bus.Publish(event.SecurityEvent{
			Category:   event.CategoryAuthentication,
			Severity:   event.SeverityHigh,
			Source:     authSource,
			IdentityID: ident.ID,
			Action:     "authentication-blocked",
			ClientIP:   creds.Client.IP,
			UserAgent:  creds.Client.UserAgent,
			Details:    map[string]any{"status": string(ident.Status)},
		})
		return nil, auth.ErrAccountLocked
	}

	factors, primaryModality, err := s.checkPrimary(ctx, ident, creds)
	if err != nil {
		return nil, err
	}

	mfaVerified := false
	if ident.MFAEnabled {
		if creds.MFACode == "" {
			s.bus.Publish(event.SecurityEvent{
				Category:   event.CategoryAuthentication,
				Severity:   event.SeverityLow,
				Source:     authSource,
				IdentityID: ident.ID,
				Action:     "mfa-challenge",
				ClientIP:   creds.Client.IP,
			})
			return nil, auth.ErrMFARequired
		}
		ok, err := s.runFactor(ctx, creds.FactorTimeout, func(fctx context.Context) (bool, error) {
			return s.verifier.Verify(fctx, ident.ID, creds.MFACode)
		})
		if err != nil {
			if errors.Is(err, auth.ErrFactorTimeout) {
				s.publishFailure(creds, ident.ID, "mfa-timeout", event.SeverityHigh)
				return nil, auth.ErrFactorTimeout
			}
			return nil, fmt.Errorf("verify mfa code: %w", err)
		}
		if !ok {
			s.publishFailure(creds, ident.ID, "mfa", event.SeverityHigh)
			return nil, auth.ErrInvalidCredentials
		}
		mfaVerified = true
		factors = append(factors, "mfa")
	}

	if err := s.identities.RecordLogin(ctx, ident.ID, primaryModality); err != nil {
		s.logger.Warn("failed to record login", "identity_id", ident.ID, "error", err)
	}

	sess, err := s.sessions.Create(ctx, ident, creds.Client, mfaVerified)
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}

	s.bus.Publish(event.SecurityEvent{
		Category:   event.CategoryAuthentication,
		Severity:   event.SeverityLow,
		Source:     authSource,
		IdentityID: ident.ID,
		Action:     "authentication-succeeded",
		ClientIP:   creds.Client.IP,
		UserAgent:  creds.Client.UserAgent,
		Details:    map[string]any{"factors": factors, "session_id": sess.ID},
	})
	s.logger.Info("authentication succeeded", "identity_id", ident.ID, "factors", factors)

	return &auth.Result{Identity: ident, Session: sess, FactorsUsed: factors}, nil
}

// checkPrimary verifies the single primary factor. On failure it publishes
// the precise factor to the event stream and returns the generic error.
func (s *AuthService) checkPrimary(ctx context.Context, ident *identity.Identity, creds auth.Credentials) ([]string, identity.Modality, error) {
	if creds.HasPassword() {
		if ident.PasswordHash == "" {
			s.publishFailure(creds, ident.ID, "password", event.SeverityHigh)
			return nil, "", auth.ErrInvalidCredentials
		}
		ok, err := s.crypto.VerifyPassword(creds.Password, ident.PasswordHash)
		if err != nil {
			return nil, "", fmt.Errorf("verify password: %w", err)
		}
		if !ok {
			s.publishFailure(creds, ident.ID, "password", event.SeverityHigh)
			return nil, "", auth.ErrInvalidCredentials
		}
		return []string{"password"}, "", nil
	}

	profile := ident.ProfileForModality(creds.BiometricModality)
	if profile == nil {
		s.publishFailure(creds, ident.ID, "biometric", event.SeverityHigh)
		return nil, "", auth.ErrInvalidCredentials
	}
	ok, err := s.runFactor(ctx, creds.FactorTimeout, func(fctx context.Context) (bool, error) {
		return s.matcher.Compare(fctx, creds.BiometricSample, profile.Template)
	})
	if err != nil {
		if errors.Is(err, auth.ErrFactorTimeout) {
			s.publishFailure(creds, ident.ID, "biometric-timeout", event.SeverityHigh)
			return nil, "", auth.ErrFactorTimeout
		}
		return nil, "", fmt.Errorf("compare biometric sample: %w", err)
	}
	if !ok {
		s.publishFailure(creds, ident.ID, "biometric", event.SeverityHigh)
		return nil, "", auth.ErrInvalidCredentials
	}
	return []string{"biometric"}, creds.BiometricModality, nil
}

// runFactor bounds an external factor call with a deadline and retries
// once on a transient failure. Deadline expiry maps to ErrFactorTimeout
// and is never retried.
func (s *AuthService) runFactor(ctx context.Context, timeout time.Duration, fn func(context.Context) (bool, error)) (bool, error) {
	if timeout <= 0 {
		timeout = s.factorTimeout
	}

	attempt := func() (bool, error) {
		fctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		ok, err := fn(fctx)
		if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(fctx.Err(), context.DeadlineExceeded)) {
			return false, auth.ErrFactorTimeout
		}
		return ok, err
	}

	ok, err := attempt()
	if err != nil && !errors.Is(err, auth.ErrFactorTimeout) {
		s.logger.Warn("factor check failed, retrying once", "error", err)
		return attempt()
	}
	return ok, err
}

// publishFailure records a failed attempt with the precise factor in the
// event details. Callers only ever see the generic rejection. Failures of
// a supplied factor rank high; probes against unknown or malformed input
// rank medium.
func (s *AuthService) publishFailure(creds auth.Credentials, identityID, factor string, severity event.Severity) {
	s.bus.Publish(event.SecurityEvent{
		Category:   event.CategoryAuthentication,
		Severity:   severity,
		Source:     authSource,
		IdentityID: identityID,
		Action:     "authentication-failed",
		ClientIP:   creds.Client.IP,
		UserAgent:  creds.Client.UserAgent,
		Details:    map[string]any{"username": creds.Username, "factor": factor},
	})
}

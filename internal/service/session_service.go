package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bastion-core/bastion/internal/domain/event"
	"github.com/bastion-core/bastion/internal/domain/identity"
	"github.com/bastion-core/bastion/internal/domain/session"
)

// sessionSource is the event source name for the session manager.
const sessionSource = "session-manager"

// SessionService manages session issuance, validation, refresh, and
// revocation. Bearer tokens are opaque random strings; refresh tokens are
// signed JWTs bound to the session ID.
type SessionService struct {
	store      session.Store
	bus        *event.Bus
	logger     *slog.Logger
	signingKey []byte
}

// NewSessionService creates a new SessionService. The signing key signs
// refresh tokens with HMAC-SHA256.
func NewSessionService(store session.Store, signingKey []byte, bus *event.Bus, logger *slog.Logger) *SessionService {
	k := make([]byte, len(signingKey))
	copy(k, signingKey)
	return &SessionService{store: store, bus: bus, logger: logger, signingKey: k}
}

// Create issues a session for an authenticated identity. The timeout comes
// from the identity's SessionTimeout, falling back to the default.
func (s *SessionService) Create(ctx context.Context, ident *identity.Identity, client session.ClientContext, mfaVerified bool) (*session.Session, error) {
	token, err := session.GenerateToken()
	if err != nil {
		return nil, err
	}

	timeout := ident.SessionTimeout
	if timeout <= 0 {
		timeout = session.DefaultTimeout
	}

	now := time.Now().UTC()
	sess := &session.Session{
		ID:           uuid.New().String(),
		IdentityID:   ident.ID,
		Token:        token,
		CreatedAt:    now,
		ExpiresAt:    now.Add(timeout),
		LastActivity: now,
		Client:       client,
		MFAVerified:  mfaVerified,
		SecurityContext: map[string]string{
			"security_level": string(ident.SecurityLevel),
		},
	}

	refresh, err := s.refreshToken(sess)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	sess.RefreshToken = refresh

	if err := s.store.Create(ctx, sess); err != nil {
		return nil, err
	}

	s.bus.Publish(event.SecurityEvent{
		Category:   event.CategoryAuthentication,
		Severity:   event.SeverityLow,
		Source:     sessionSource,
		IdentityID: ident.ID,
		Action:     "session-created",
		ClientIP:   client.IP,
		UserAgent:  client.UserAgent,
		Details:    map[string]any{"session_id": sess.ID, "expires_at": sess.ExpiresAt},
	})
	s.logger.Info("session created", "session_id", sess.ID, "identity_id", ident.ID, "mfa", mfaVerified)
	return sess, nil
}

// Validate checks a session ID and token pair. Any failure (unknown ID,
// expired, token mismatch) yields session.ErrSessionNotFound; a valid
// session gets its LastActivity stamped.
func (s *SessionService) Validate(ctx context.Context, sessionID, token string) (*session.Session, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.TokenMatches(token) {
		return nil, session.ErrSessionNotFound
	}

	sess.Touch()
	if err := s.store.Update(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Refresh extends a session's expiry given a valid refresh token. The
// token's session claim must match the session being refreshed.
func (s *SessionService) Refresh(ctx context.Context, sessionID, refreshToken string, timeout time.Duration) (*session.Session, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(refreshToken, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil || !parsed.Valid {
		return nil, session.ErrSessionNotFound
	}
	if sid, _ := claims["sid"].(string); sid != sess.ID {
		return nil, session.ErrSessionNotFound
	}

	if timeout <= 0 {
		timeout = session.DefaultTimeout
	}
	sess.Refresh(timeout)

	// Rotate the refresh token alongside the extended expiry.
	rotated, err := s.refreshToken(sess)
	if err != nil {
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}
	sess.RefreshToken = rotated

	if err := s.store.Update(ctx, sess); err != nil {
		return nil, err
	}

	s.bus.Publish(event.SecurityEvent{
		Category:   event.CategoryAuthentication,
		Severity:   event.SeverityLow,
		Source:     sessionSource,
		IdentityID: sess.IdentityID,
		Action:     "session-refreshed",
		Details:    map[string]any{"session_id": sess.ID, "expires_at": sess.ExpiresAt},
	})
	return sess, nil
}

// Revoke deletes a session. Revoking an unknown or already-revoked session
// is a no-op; revocation is idempotent.
func (s *SessionService) Revoke(ctx context.Context, sessionID string) error {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil
		}
		return err
	}

	if err := s.store.Delete(ctx, sessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil
		}
		return err
	}

	s.bus.Publish(event.SecurityEvent{
		Category:   event.CategoryAuthentication,
		Severity:   event.SeverityMedium,
		Source:     sessionSource,
		IdentityID: sess.IdentityID,
		Action:     "session-revoked",
		Details:    map[string]any{"session_id": sessionID},
	})
	s.logger.Info("session revoked", "session_id", sessionID, "identity_id", sess.IdentityID)
	return nil
}

// RevokeAllFor revokes every session belonging to an identity. Used when an
// account is locked or disabled.
func (s *SessionService) RevokeAllFor(ctx context.Context, identityID string) (int, error) {
	sessions, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}
	var revoked int
	for _, sess := range sessions {
		if sess.IdentityID != identityID {
			continue
		}
		if err := s.Revoke(ctx, sess.ID); err != nil {
			return revoked, err
		}
		revoked++
	}
	return revoked, nil
}

// ActiveCount returns the number of live sessions.
func (s *SessionService) ActiveCount(ctx context.Context) (int, error) {
	sessions, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(sessions), nil
}

// List returns all live sessions.
func (s *SessionService) List(ctx context.Context) ([]session.Session, error) {
	return s.store.List(ctx)
}

// refreshToken signs a JWT bound to the session, expiring well after the
// session itself so refresh remains possible at the expiry boundary.
func (s *SessionService) refreshToken(sess *session.Session) (string, error) {
	claims := jwt.MapClaims{
		"sid": sess.ID,
		"sub": sess.IdentityID,
		"iat": jwt.NewNumericDate(time.Now().UTC()),
		"exp": jwt.NewNumericDate(sess.ExpiresAt.Add(24 * time.Hour)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
}

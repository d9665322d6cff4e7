package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bastion-core/bastion/internal/adapter/outbound/memory"
	"github.com/bastion-core/bastion/internal/domain/event"
	"github.com/bastion-core/bastion/internal/domain/identity"
	"github.com/bastion-core/bastion/internal/domain/session"
)

func newTestSessions(t *testing.T) (*SessionService, *event.Bus) {
	t.Helper()
	bus := event.NewBus(100)
	svc := NewSessionService(memory.NewSessionStore(), []byte("test-deployment-secret-32-bytes!"), bus, testLogger())
	return svc, bus
}

func testIdentity() *identity.Identity {
	return &identity.Identity{
		ID:             "ident-1",
		Username:       "alice",
		SecurityLevel:  identity.LevelElevated,
		SessionTimeout: time.Hour,
		Status:         identity.StatusActive,
	}
}

func TestSessionService_CreateAndValidate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := newTestSessions(t)

	sess, err := svc.Create(ctx, testIdentity(), session.ClientContext{IP: "198.51.100.1"}, true)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if sess.Token == "" || sess.RefreshToken == "" {
		t.Fatal("session missing tokens")
	}
	if got := sess.ExpiresAt.Sub(sess.CreatedAt); got != time.Hour {
		t.Errorf("session lifetime = %v, want identity timeout 1h", got)
	}
	if sess.SecurityContext["security_level"] != string(identity.LevelElevated) {
		t.Errorf("SecurityContext = %v, want security_level from identity", sess.SecurityContext)
	}

	got, err := svc.Validate(ctx, sess.ID, sess.Token)
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if got.IdentityID != "ident-1" {
		t.Errorf("IdentityID = %q, want ident-1", got.IdentityID)
	}
}

func TestSessionService_ValidateRejectsWrongToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := newTestSessions(t)

	sess, err := svc.Create(ctx, testIdentity(), session.ClientContext{}, false)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if _, err := svc.Validate(ctx, sess.ID, "not-the-token"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Validate(wrong token) error = %v, want ErrSessionNotFound", err)
	}
	if _, err := svc.Validate(ctx, "no-such-session", sess.Token); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Validate(unknown id) error = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionService_ValidateStampsActivity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := newTestSessions(t)

	sess, err := svc.Create(ctx, testIdentity(), session.ClientContext{}, false)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	before := sess.LastActivity

	time.Sleep(5 * time.Millisecond)
	got, err := svc.Validate(ctx, sess.ID, sess.Token)
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if !got.LastActivity.After(before) {
		t.Errorf("LastActivity = %v, want after %v", got.LastActivity, before)
	}
}

func TestSessionService_RefreshExtendsAndRotates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := newTestSessions(t)

	sess, err := svc.Create(ctx, testIdentity(), session.ClientContext{}, false)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	refreshed, err := svc.Refresh(ctx, sess.ID, sess.RefreshToken, 2*time.Hour)
	if err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}
	if !refreshed.ExpiresAt.After(sess.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want extended past %v", refreshed.ExpiresAt, sess.ExpiresAt)
	}
	if refreshed.RefreshToken == sess.RefreshToken {
		t.Error("refresh token was not rotated")
	}

	// The rotated token works; forged and mismatched tokens do not.
	if _, err := svc.Refresh(ctx, sess.ID, refreshed.RefreshToken, time.Hour); err != nil {
		t.Errorf("Refresh(rotated token) error: %v", err)
	}
	if _, err := svc.Refresh(ctx, sess.ID, "garbage.token.here", time.Hour); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Refresh(forged token) error = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionService_RefreshRejectsForeignToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := newTestSessions(t)

	a, err := svc.Create(ctx, testIdentity(), session.ClientContext{}, false)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	other := testIdentity()
	other.ID = "ident-2"
	b, err := svc.Create(ctx, other, session.ClientContext{}, false)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	// A valid token for session B must not refresh session A.
	if _, err := svc.Refresh(ctx, a.ID, b.RefreshToken, time.Hour); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Refresh(foreign token) error = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionService_RevokeIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, bus := newTestSessions(t)

	sess, err := svc.Create(ctx, testIdentity(), session.ClientContext{}, false)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if err := svc.Revoke(ctx, sess.ID); err != nil {
		t.Fatalf("Revoke() error: %v", err)
	}
	if _, err := svc.Validate(ctx, sess.ID, sess.Token); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Validate(revoked) error = %v, want ErrSessionNotFound", err)
	}
	// Second revoke and unknown ID are both no-ops.
	if err := svc.Revoke(ctx, sess.ID); err != nil {
		t.Errorf("Revoke(again) error = %v, want nil", err)
	}
	if err := svc.Revoke(ctx, "never-existed"); err != nil {
		t.Errorf("Revoke(unknown) error = %v, want nil", err)
	}

	events := bus.Recent(10, event.Filter{})
	var revocations int
	for _, e := range events {
		if e.Action == "session-revoked" {
			revocations++
			if e.Severity != event.SeverityMedium {
				t.Errorf("revocation severity = %s, want medium", e.Severity)
			}
		}
	}
	if revocations != 1 {
		t.Errorf("revocation events = %d, want exactly 1", revocations)
	}
}

func TestSessionService_RevokeAllFor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := newTestSessions(t)

	ident := testIdentity()
	for i := 0; i < 3; i++ {
		if _, err := svc.Create(ctx, ident, session.ClientContext{}, false); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
	}
	other := testIdentity()
	other.ID = "ident-2"
	kept, err := svc.Create(ctx, other, session.ClientContext{}, false)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	revoked, err := svc.RevokeAllFor(ctx, ident.ID)
	if err != nil {
		t.Fatalf("RevokeAllFor() error: %v", err)
	}
	if revoked != 3 {
		t.Errorf("RevokeAllFor() = %d, want 3", revoked)
	}

	n, err := svc.ActiveCount(ctx)
	if err != nil {
		t.Fatalf("ActiveCount() error: %v", err)
	}
	if n != 1 {
		t.Errorf("ActiveCount() = %d, want 1", n)
	}
	if _, err := svc.Validate(ctx, kept.ID, kept.Token); err != nil {
		t.Errorf("other identity's session was revoked: %v", err)
	}
}

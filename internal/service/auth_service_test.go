package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bastion-core/bastion/internal/adapter/outbound/memory"
	"github.com/bastion-core/bastion/internal/domain/auth"
	"github.com/bastion-core/bastion/internal/domain/biometric"
	"github.com/bastion-core/bastion/internal/domain/event"
	"github.com/bastion-core/bastion/internal/domain/identity"
	"github.com/bastion-core/bastion/internal/domain/mfa"
	"github.com/bastion-core/bastion/internal/domain/session"
)

// allowAllThrottle never rejects.
type allowAllThrottle struct{}

func (allowAllThrottle) Allow(ctx context.Context, key string) bool { return true }

// denyAllThrottle always rejects.
type denyAllThrottle struct{}

func (denyAllThrottle) Allow(ctx context.Context, key string) bool { return false }

type authFixture struct {
	svc        *AuthService
	identities *IdentityService
	bus        *event.Bus
	verifier   mfa.Verifier
	matcher    biometric.Matcher
}

func newAuthFixture(t *testing.T, verifier mfa.Verifier, throttle Throttle) *authFixture {
	t.Helper()
	bus := event.NewBus(1000)
	logger := testLogger()
	secret := []byte("test-deployment-secret-32-bytes!")

	crypto := NewCryptoService(memory.NewKeyStore(), bus, logger)
	matcher := biometric.NewHKDFMatcher(secret)
	identities := NewIdentityService(memory.NewIdentityStore(), matcher, crypto, bus, logger)
	sessions := NewSessionService(memory.NewSessionStore(), secret, bus, logger)

	if verifier == nil {
		verifier = mfa.NewTOTPVerifier(secret)
	}
	if throttle == nil {
		throttle = allowAllThrottle{}
	}

	svc := NewAuthService(identities, sessions, crypto, matcher, verifier, throttle, bus, logger)
	return &authFixture{svc: svc, identities: identities, bus: bus, verifier: verifier, matcher: matcher}
}

func (f *authFixture) createUser(t *testing.T, username, password string, mfaEnabled bool) *identity.Identity {
	t.Helper()
	ident, err := f.identities.Create(context.Background(), CreateIdentityInput{
		Username:   username,
		Password:   password,
		MFAEnabled: mfaEnabled,
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	return ident
}

func TestAuthService_PasswordSuccess(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, nil, nil)
	f.createUser(t, "alice", "hunter2hunter2", false)

	res, err := f.svc.Authenticate(context.Background(), auth.Credentials{
		Username: "alice",
		Password: "hunter2hunter2",
	})
	if err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}
	if res.Session == nil || res.Session.Token == "" {
		t.Fatal("no session issued")
	}
	if res.Session.MFAVerified {
		t.Error("MFAVerified = true without a second factor")
	}
	if len(res.FactorsUsed) != 1 || res.FactorsUsed[0] != "password" {
		t.Errorf("FactorsUsed = %v, want [password]", res.FactorsUsed)
	}
}

func TestAuthService_WrongPasswordIsGeneric(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, nil, nil)
	f.createUser(t, "alice", "hunter2hunter2", false)

	_, err := f.svc.Authenticate(context.Background(), auth.Credentials{
		Username: "alice",
		Password: "wrong-password",
	})
	if !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("Authenticate() error = %v, want ErrInvalidCredentials", err)
	}

	// The precise factor lives only in the event stream.
	events := f.bus.Recent(10, event.Filter{Category: event.CategoryAuthentication})
	var found bool
	for _, e := range events {
		if e.Action == "authentication-failed" && e.Details["factor"] == "password" {
			found = true
			if e.Severity != event.SeverityHigh {
				t.Errorf("factor failure severity = %s, want high", e.Severity)
			}
		}
	}
	if !found {
		t.Error("failed attempt did not record the failing factor in the event stream")
	}
}

func TestAuthService_UnknownUserIsGeneric(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, nil, nil)
	_, err := f.svc.Authenticate(context.Background(), auth.Credentials{
		Username: "nobody",
		Password: "whatever-pass",
	})
	if !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Errorf("Authenticate(unknown user) error = %v, want ErrInvalidCredentials", err)
	}
}

func TestAuthService_ExactlyOnePrimaryFactor(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, nil, nil)
	f.createUser(t, "alice", "hunter2hunter2", false)

	// No primary factor.
	if _, err := f.svc.Authenticate(context.Background(), auth.Credentials{Username: "alice"}); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Errorf("Authenticate(no factor) error = %v, want ErrInvalidCredentials", err)
	}
	// Both primary factors.
	if _, err := f.svc.Authenticate(context.Background(), auth.Credentials{
		Username:        "alice",
		Password:        "hunter2hunter2",
		BiometricSample: []byte("scan"),
	}); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Errorf("Authenticate(two factors) error = %v, want ErrInvalidCredentials", err)
	}
}

func TestAuthService_LockedAccount(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, nil, nil)
	ident := f.createUser(t, "alice", "hunter2hunter2", false)
	if err := f.identities.UpdateStatus(context.Background(), ident.ID, identity.StatusLocked); err != nil {
		t.Fatalf("UpdateStatus() error: %v", err)
	}

	_, err := f.svc.Authenticate(context.Background(), auth.Credentials{
		Username: "alice",
		Password: "hunter2hunter2",
	})
	if !errors.Is(err, auth.ErrAccountLocked) {
		t.Errorf("Authenticate(locked) error = %v, want ErrAccountLocked", err)
	}
}

func TestAuthService_Throttled(t *testing.T) {
	t.Parallel()

	f := newAuthFixture(t, nil, denyAllThrottle{})
	f.createUser(t, "alice", "hunter2hunter2", false)

	_, err := f.svc.Authenticate(context.Background(), auth.Credentials{
		Username: "alice",
		Password: "hunter2hunter2",
	})
	if !errors.Is(err, auth.ErrThrottled) {
		t.Fatalf("Authenticate() error = %v, want ErrThrottled", err)
	}

	events := f.bus.Recent(10, event.Filter{Category: event.CategoryIntrusion})
	if len(events) != 1 || events[0].Action != "authentication-throttled" {
		t.Errorf("intrusion events = %+v, want one throttle event", events)
	}
}

func TestAuthService_MFAChallengeFlow(t *testing.T) {
	t.Parallel()

	verifier := mfa.VerifierFunc(func(ctx context.Context, identityID, code string) (bool, error) {
		return code == "123456", nil
	})
	f := newAuthFixture(t, verifier, nil)
	f.createUser(t, "alice", "hunter2hunter2", true)

	// Primary factor alone yields the MFA-required outcome, not a failure.
	_, err := f.svc.Authenticate(context.Background(), auth.Credentials{
		Username: "alice",
		Password: "hunter2hunter2",
	})
	if !errors.Is(err, auth.ErrMFARequired) {
		t.Fatalf("Authenticate(no code) error = %v, want ErrMFARequired", err)
	}

	// Wrong code is the generic rejection.
	_, err = f.svc.Authenticate(context.Background(), auth.Credentials{
		Username: "alice",
		Password: "hunter2hunter2",
		MFACode:  "000000",
	})
	if !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("Authenticate(bad code) error = %v, want ErrInvalidCredentials", err)
	}

	// Correct code issues an MFA-verified session.
	res, err := f.svc.Authenticate(context.Background(), auth.Credentials{
		Username: "alice",
		Password: "hunter2hunter2",
		MFACode:  "123456",
	})
	if err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}
	if !res.Session.MFAVerified {
		t.Error("MFAVerified = false after MFA success")
	}
	if len(res.FactorsUsed) != 2 || res.FactorsUsed[1] != "mfa" {
		t.Errorf("FactorsUsed = %v, want [password mfa]", res.FactorsUsed)
	}
}

func TestAuthService_BiometricFlow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newAuthFixture(t, nil, nil)
	ident := f.createUser(t, "alice", "", false)

	sample := []byte("fingerprint-scan")
	if _, err := f.identities.EnrollBiometric(ctx, ident.ID, identity.ModalityFingerprint, [][]byte{sample}, "device-1"); err != nil {
		t.Fatalf("EnrollBiometric() error: %v", err)
	}

	res, err := f.svc.Authenticate(ctx, auth.Credentials{
		Username:          "alice",
		BiometricSample:   sample,
		BiometricModality: identity.ModalityFingerprint,
	})
	if err != nil {
		t.Fatalf("Authenticate(biometric) error: %v", err)
	}
	if len(res.FactorsUsed) != 1 || res.FactorsUsed[0] != "biometric" {
		t.Errorf("FactorsUsed = %v, want [biometric]", res.FactorsUsed)
	}

	// Wrong sample fails generically.
	_, err = f.svc.Authenticate(ctx, auth.Credentials{
		Username:          "alice",
		BiometricSample:   []byte("someone-else"),
		BiometricModality: identity.ModalityFingerprint,
	})
	if !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Errorf("Authenticate(wrong sample) error = %v, want ErrInvalidCredentials", err)
	}

	// Unenrolled modality fails generically.
	_, err = f.svc.Authenticate(ctx, auth.Credentials{
		Username:          "alice",
		BiometricSample:   sample,
		BiometricModality: identity.ModalityFace,
	})
	if !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Errorf("Authenticate(unenrolled modality) error = %v, want ErrInvalidCredentials", err)
	}
}

func TestAuthService_FactorTimeout(t *testing.T) {
	t.Parallel()

	slowVerifier := mfa.VerifierFunc(func(ctx context.Context, identityID, code string) (bool, error) {
		select {
		case <-time.After(time.Second):
			return true, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	})
	f := newAuthFixture(t, slowVerifier, nil)
	f.createUser(t, "alice", "hunter2hunter2", true)

	_, err := f.svc.Authenticate(context.Background(), auth.Credentials{
		Username:      "alice",
		Password:      "hunter2hunter2",
		MFACode:       "123456",
		FactorTimeout: 20 * time.Millisecond,
	})
	if !errors.Is(err, auth.ErrFactorTimeout) {
		t.Errorf("Authenticate(slow verifier) error = %v, want ErrFactorTimeout", err)
	}
}

func TestAuthService_RetriesTransientFactorFailure(t *testing.T) {
	t.Parallel()

	calls := 0
	flaky := mfa.VerifierFunc(func(ctx context.Context, identityID, code string) (bool, error) {
		calls++
		if calls == 1 {
			return false, errors.New("transient backend error")
		}
		return true, nil
	})
	f := newAuthFixture(t, flaky, nil)
	f.createUser(t, "alice", "hunter2hunter2", true)

	res, err := f.svc.Authenticate(context.Background(), auth.Credentials{
		Username: "alice",
		Password: "hunter2hunter2",
		MFACode:  "123456",
	})
	if err != nil {
		t.Fatalf("Authenticate() error after retry: %v", err)
	}
	if calls != 2 {
		t.Errorf("verifier called %d times, want 2 (one retry)", calls)
	}
	if !res.Session.MFAVerified {
		t.Error("MFAVerified = false after retried success")
	}
}

func TestAuthService_SuccessStampsLastLogin(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newAuthFixture(t, nil, nil)
	ident := f.createUser(t, "alice", "hunter2hunter2", false)

	if _, err := f.svc.Authenticate(ctx, auth.Credentials{
		Username: "alice",
		Password: "hunter2hunter2",
	}); err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}

	after, err := f.identities.Get(ctx, ident.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if after.LastLogin.IsZero() {
		t.Error("LastLogin not stamped after success")
	}
}

func TestAuthService_WithSessionLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newAuthFixture(t, nil, nil)
	f.createUser(t, "alice", "hunter2hunter2", false)

	res, err := f.svc.Authenticate(ctx, auth.Credentials{
		Username: "alice",
		Password: "hunter2hunter2",
		Client:   session.ClientContext{IP: "203.0.113.7"},
	})
	if err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}
	if res.Session.Client.IP != "203.0.113.7" {
		t.Errorf("Client.IP = %q, want captured attribution", res.Session.Client.IP)
	}
}

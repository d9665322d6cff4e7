package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bastion-core/bastion/internal/adapter/outbound/cel"
	"github.com/bastion-core/bastion/internal/adapter/outbound/memory"
	"github.com/bastion-core/bastion/internal/domain/audit"
	"github.com/bastion-core/bastion/internal/domain/auth"
	"github.com/bastion-core/bastion/internal/domain/biometric"
	"github.com/bastion-core/bastion/internal/domain/event"
	"github.com/bastion-core/bastion/internal/domain/identity"
	"github.com/bastion-core/bastion/internal/domain/keys"
	"github.com/bastion-core/bastion/internal/domain/mfa"
	"github.com/bastion-core/bastion/internal/domain/policy"
	"github.com/bastion-core/bastion/internal/domain/session"
)

// FrameworkConfig holds the knobs the facade needs beyond its defaults.
type FrameworkConfig struct {
	// DeploymentSecret keys biometric templates, TOTP seeds, and refresh
	// token signatures. Required.
	DeploymentSecret []byte
	// EventCapacity bounds the in-memory event ring. Zero uses the default.
	EventCapacity int
	// AuditInterval is the periodic audit cadence. Zero uses the default.
	AuditInterval time.Duration
	// FactorTimeout bounds external factor checks. Zero uses the default.
	FactorTimeout time.Duration
	// ThrottleFailuresPerMinute limits authentication attempts per
	// username. Zero or negative disables throttling.
	ThrottleFailuresPerMinute float64
	// ThrottleBurst is the attempt burst per username.
	ThrottleBurst int
	// SweepInterval is the expired-session sweep cadence. Zero uses the
	// store default.
	SweepInterval time.Duration
}

// Framework is the composed security engine: one construction call wires
// the crypto provider, identity store, session manager, policy engine,
// authentication coordinator, and audit monitor over shared in-memory
// stores and a single event bus.
type Framework struct {
	Bus      *event.Bus
	Crypto   *CryptoService
	Identity *IdentityService
	Sessions *SessionService
	Policy   *PolicyService
	Auth     *AuthService
	Audit    *AuditService

	sessionStore *memory.SessionStore
	throttle     *memory.LoginThrottle
	logger       *slog.Logger

	cancel  context.CancelFunc
	started bool
	mu      sync.Mutex
}

// NewFramework wires the full engine. The returned framework is inert
// until Start is called.
func NewFramework(cfg FrameworkConfig, logger *slog.Logger) (*Framework, error) {
	if len(cfg.DeploymentSecret) == 0 {
		return nil, fmt.Errorf("deployment secret is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	bus := event.NewBus(cfg.EventCapacity)

	identityStore := memory.NewIdentityStore()
	sessionStore := memory.NewSessionStore()
	if cfg.SweepInterval > 0 {
		sessionStore = memory.NewSessionStoreWithConfig(cfg.SweepInterval)
	}
	policyStore := memory.NewPolicyStore()
	keyStore := memory.NewKeyStore()
	auditStore := memory.NewAuditStore()
	throttle := memory.NewLoginThrottle(cfg.ThrottleFailuresPerMinute, cfg.ThrottleBurst)

	matcher := biometric.NewHKDFMatcher(cfg.DeploymentSecret)
	verifier := mfa.NewTOTPVerifier(cfg.DeploymentSecret)

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("create condition evaluator: %w", err)
	}

	crypto := NewCryptoService(keyStore, bus, logger)
	identities := NewIdentityService(identityStore, matcher, crypto, bus, logger)
	sessions := NewSessionService(sessionStore, cfg.DeploymentSecret, bus, logger)

	policySvc, err := NewPolicyService(context.Background(), policyStore, evaluator, bus, logger)
	if err != nil {
		return nil, err
	}
	// Admin grant above the backstop, mirroring the default-deny seed.
	// Deployments narrow or replace it through their own policies.
	adminAllow := &policy.Policy{
		ID:         "admin-allow",
		Name:       "administrator full access",
		Effect:     policy.EffectAllow,
		Principals: []string{"role:admin"},
		Resources:  []string{"*"},
		Actions:    []string{"*"},
		Priority:   100,
		Enabled:    true,
	}
	if err := policySvc.Save(context.Background(), adminAllow); err != nil {
		return nil, fmt.Errorf("seed admin policy: %w", err)
	}

	var authOpts []AuthOption
	if cfg.FactorTimeout > 0 {
		authOpts = append(authOpts, WithFactorTimeout(cfg.FactorTimeout))
	}
	authSvc := NewAuthService(identities, sessions, crypto, matcher, verifier, throttle, bus, logger, authOpts...)

	var auditOpts []AuditOption
	if cfg.AuditInterval > 0 {
		auditOpts = append(auditOpts, WithAuditInterval(cfg.AuditInterval))
	}
	auditSvc := NewAuditService(auditStore, identityStore, sessionStore, keyStore, bus, logger, auditOpts...)

	return &Framework{
		Bus:          bus,
		Crypto:       crypto,
		Identity:     identities,
		Sessions:     sessions,
		Policy:       policySvc,
		Auth:         authSvc,
		Audit:        auditSvc,
		sessionStore: sessionStore,
		throttle:     throttle,
		logger:       logger,
	}, nil
}

// Start launches the background workers: session sweep, throttle cleanup,
// and the periodic audit. Idempotent.
func (f *Framework) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return
	}
	ctx, f.cancel = context.WithCancel(ctx)
	f.sessionStore.StartSweep(ctx)
	f.throttle.StartCleanup(ctx)
	f.Audit.Start(ctx)
	f.started = true
	f.logger.Info("security framework started")
}

// Stop halts the background workers and waits for them to exit.
// Idempotent.
func (f *Framework) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return
	}
	f.cancel()
	f.sessionStore.Stop()
	f.throttle.Stop()
	f.Audit.Stop()
	f.started = false
	f.logger.Info("security framework stopped")
}

// CreateUser registers a new identity.
func (f *Framework) CreateUser(ctx context.Context, input CreateIdentityInput) (*identity.Identity, error) {
	return f.Identity.Create(ctx, input)
}

// EnrollBiometric enrolls a biometric profile for an identity.
func (f *Framework) EnrollBiometric(ctx context.Context, identityID string, modality identity.Modality, samples [][]byte, deviceID string) (string, error) {
	return f.Identity.EnrollBiometric(ctx, identityID, modality, samples, deviceID)
}

// Authenticate runs the multi-factor chain and issues a session.
func (f *Framework) Authenticate(ctx context.Context, creds auth.Credentials) (*auth.Result, error) {
	return f.Auth.Authenticate(ctx, creds)
}

// ValidateSession checks a session ID and bearer token.
func (f *Framework) ValidateSession(ctx context.Context, sessionID, token string) (*session.Session, error) {
	return f.Sessions.Validate(ctx, sessionID, token)
}

// RefreshSession extends a session given its refresh token.
func (f *Framework) RefreshSession(ctx context.Context, sessionID, refreshToken string, timeout time.Duration) (*session.Session, error) {
	return f.Sessions.Refresh(ctx, sessionID, refreshToken, timeout)
}

// RevokeSession revokes a session. Idempotent.
func (f *Framework) RevokeSession(ctx context.Context, sessionID string) error {
	return f.Sessions.Revoke(ctx, sessionID)
}

// EvaluateAccess resolves an access request for an identity. The
// principal's roles and groups come from the identity store.
func (f *Framework) EvaluateAccess(ctx context.Context, identityID, resource, action string, reqContext map[string]string) (policy.Decision, error) {
	ident, err := f.Identity.Get(ctx, identityID)
	if err != nil {
		return policy.Decision{}, err
	}
	pr := policy.Principal{ID: ident.ID, Roles: ident.Roles, Groups: ident.Groups}
	return f.Policy.Evaluate(ctx, pr, resource, action, reqContext), nil
}

// SavePolicy validates and stores an access policy.
func (f *Framework) SavePolicy(ctx context.Context, p *policy.Policy) error {
	return f.Policy.Save(ctx, p)
}

// DeletePolicy removes an access policy. The backstop cannot be removed.
func (f *Framework) DeletePolicy(ctx context.Context, id string) error {
	return f.Policy.Delete(ctx, id)
}

// GenerateKey creates a managed key.
func (f *Framework) GenerateKey(ctx context.Context, kind keys.Kind, algorithm string, keySize int, usages []keys.Usage, owner string) (*keys.Key, error) {
	return f.Crypto.GenerateKey(ctx, kind, algorithm, keySize, usages, owner)
}

// Encrypt encrypts plaintext under a managed symmetric key.
func (f *Framework) Encrypt(ctx context.Context, plaintext []byte, keyID, caller string) ([]byte, error) {
	return f.Crypto.Encrypt(ctx, plaintext, keyID, caller)
}

// Decrypt decrypts ciphertext under a managed symmetric key.
func (f *Framework) Decrypt(ctx context.Context, ciphertext []byte, keyID, caller string) ([]byte, error) {
	return f.Crypto.Decrypt(ctx, ciphertext, keyID, caller)
}

// Sign signs data under a managed asymmetric key.
func (f *Framework) Sign(ctx context.Context, data []byte, keyID, caller string) ([]byte, error) {
	return f.Crypto.Sign(ctx, data, keyID, caller)
}

// Verify checks a signature under a managed asymmetric key.
func (f *Framework) Verify(ctx context.Context, data, signature []byte, keyID, caller string) (bool, error) {
	return f.Crypto.Verify(ctx, data, signature, keyID, caller)
}

// GetSecurityEvents returns up to limit retained events matching the
// filter, newest first.
func (f *Framework) GetSecurityEvents(limit int, filter event.Filter) []event.SecurityEvent {
	return f.Bus.Recent(limit, filter)
}

// Subscribe registers a sink for every published event.
func (f *Framework) Subscribe(s event.Sink) {
	f.Bus.Subscribe(s)
}

// SubscribeAlerts registers a sink for critical-severity events only.
func (f *Framework) SubscribeAlerts(s event.Sink) {
	f.Bus.SubscribeAlerts(s)
}

// RunAudit executes an on-demand audit.
func (f *Framework) RunAudit(ctx context.Context, scope audit.Scope) (*audit.Audit, error) {
	return f.Audit.Run(ctx, scope)
}

// Health assembles the current posture report.
func (f *Framework) Health(ctx context.Context) (*HealthReport, error) {
	return f.Audit.Health(ctx)
}

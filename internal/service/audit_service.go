package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bastion-core/bastion/internal/domain/audit"
	"github.com/bastion-core/bastion/internal/domain/event"
	"github.com/bastion-core/bastion/internal/domain/identity"
	"github.com/bastion-core/bastion/internal/domain/keys"
	"github.com/bastion-core/bastion/internal/domain/session"
)

// auditSource is the event source name for the audit monitor.
const auditSource = "audit-monitor"

// DefaultAuditInterval is how often the background monitor runs a
// system-scope audit.
const DefaultAuditInterval = time.Hour

// staleSessionAge is the inactivity threshold after which a live session
// becomes an audit finding.
const staleSessionAge = 24 * time.Hour

// mfaAdoptionTarget is the minimum fraction of identities with MFA
// enabled for the adoption check to pass.
const mfaAdoptionTarget = 0.5

// HealthReport is a point-in-time summary of the framework's security
// posture.
type HealthReport struct {
	Status          string    `json:"status"`
	Identities      int       `json:"identities"`
	ActiveSessions  int       `json:"active_sessions"`
	ManagedKeys     int       `json:"managed_keys"`
	RecentCritical  int       `json:"recent_critical_events"`
	LastAuditID     string    `json:"last_audit_id,omitempty"`
	LastAuditStatus string    `json:"last_audit_status,omitempty"`
	OpenFindings    int       `json:"open_findings"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// AuditService runs compliance audits over the framework's state, on
// demand and on a fixed schedule. Every run reaches a terminal status.
type AuditService struct {
	audits     audit.Store
	identities identity.Store
	sessions   session.Store
	keys       keys.Store
	bus        *event.Bus
	logger     *slog.Logger
	interval   time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// AuditOption configures an AuditService.
type AuditOption func(*AuditService)

// WithAuditInterval overrides the background run interval.
func WithAuditInterval(d time.Duration) AuditOption {
	return func(s *AuditService) {
		if d > 0 {
			s.interval = d
		}
	}
}

// NewAuditService creates the monitor.
func NewAuditService(audits audit.Store, identities identity.Store, sessions session.Store, keyStore keys.Store, bus *event.Bus, logger *slog.Logger, opts ...AuditOption) *AuditService {
	s := &AuditService{
		audits:     audits,
		identities: identities,
		sessions:   sessions,
		keys:       keyStore,
		bus:        bus,
		logger:     logger,
		interval:   DefaultAuditInterval,
		stopChan:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the periodic audit goroutine. Call Stop to halt it.
func (s *AuditService) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				if _, err := s.Run(ctx, audit.ScopeSystem); err != nil {
					s.logger.Error("scheduled audit failed", "error", err)
				}
			}
		}
	}()
}

// Stop halts the periodic goroutine and waits for it to exit.
// Safe to call multiple times.
func (s *AuditService) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Run executes one audit over the given scope. The run is persisted in
// the running state first so an abort still leaves a terminal failed
// record behind, never a silent drop.
func (s *AuditService) Run(ctx context.Context, scope audit.Scope) (*audit.Audit, error) {
	now := time.Now().UTC()
	a := &audit.Audit{
		ID:         uuid.New().String(),
		Name:       fmt.Sprintf("%s audit %s", scope, now.Format("2006-01-02 15:04")),
		Scope:      scope,
		Status:     audit.StatusRunning,
		StartTime:  now,
		Compliance: map[string]bool{},
	}
	if err := s.audits.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("record audit start: %w", err)
	}

	if err := s.collect(ctx, a); err != nil {
		a.Status = audit.StatusFailed
		a.EndTime = time.Now().UTC()
		if saveErr := s.audits.Save(ctx, a); saveErr != nil {
			s.logger.Error("failed to record audit failure", "audit_id", a.ID, "error", saveErr)
		}
		s.bus.Publish(event.SecurityEvent{
			Category: event.CategoryCompliance,
			Severity: event.SeverityCritical,
			Source:   auditSource,
			Action:   "audit-failed",
			Details:  map[string]any{"audit_id": a.ID, "error": err.Error()},
		})
		return a, fmt.Errorf("audit run %s: %w", a.ID, err)
	}

	a.Status = audit.StatusCompleted
	a.EndTime = time.Now().UTC()
	if err := s.audits.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("record audit completion: %w", err)
	}

	severity := event.SeverityLow
	if len(a.Findings) > 0 {
		severity = event.SeverityMedium
	}
	s.bus.Publish(event.SecurityEvent{
		Category: event.CategoryCompliance,
		Severity: severity,
		Source:   auditSource,
		Action:   "audit-completed",
		Details: map[string]any{
			"audit_id":   a.ID,
			"findings":   len(a.Findings),
			"compliance": a.Compliance,
		},
	})
	s.logger.Info("audit completed", "audit_id", a.ID, "findings", len(a.Findings))
	return a, nil
}

// collect runs every check and fills findings, compliance results, and
// recommendations.
func (s *AuditService) collect(ctx context.Context, a *audit.Audit) error {
	identities, err := s.identities.List(ctx)
	if err != nil {
		return fmt.Errorf("list identities: %w", err)
	}
	sessions, err := s.sessions.List(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	keyCount, err := s.keys.Count(ctx)
	if err != nil {
		return fmt.Errorf("count keys: %w", err)
	}

	s.checkPasswordHashing(a, identities)
	s.checkMFAAdoption(a, identities)
	s.checkSessionHygiene(a, sessions)
	s.checkKeyPresence(a, keyCount)
	return nil
}

// checkPasswordHashing flags identities whose stored hash is not Argon2id.
func (s *AuditService) checkPasswordHashing(a *audit.Audit, identities []identity.Identity) {
	var weak []string
	for _, id := range identities {
		if id.PasswordHash != "" && !strings.HasPrefix(id.PasswordHash, "$argon2id$") {
			weak = append(weak, id.ID)
		}
	}
	a.Compliance["strong-password-hashing"] = len(weak) == 0
	if len(weak) > 0 {
		a.Findings = append(a.Findings, audit.Finding{
			ID:          uuid.New().String(),
			Severity:    event.SeverityHigh,
			Title:       "Weak password hashes in identity store",
			Description: fmt.Sprintf("%d identities carry a password hash that is not Argon2id", len(weak)),
			Resource:    "identity-store",
			Evidence:    map[string]any{"identity_ids": weak},
			Remediation: "Re-hash affected passwords with Argon2id at next login",
			References:  []string{"OWASP-PSC"},
		})
		a.Recommendations = append(a.Recommendations, "Migrate legacy password hashes to Argon2id")
	}
}

// checkMFAAdoption verifies the MFA adoption fraction meets the target.
func (s *AuditService) checkMFAAdoption(a *audit.Audit, identities []identity.Identity) {
	if len(identities) == 0 {
		a.Compliance["mfa-adoption"] = true
		return
	}
	enabled := 0
	for _, id := range identities {
		if id.MFAEnabled {
			enabled++
		}
	}
	fraction := float64(enabled) / float64(len(identities))
	ok := fraction >= mfaAdoptionTarget
	a.Compliance["mfa-adoption"] = ok
	if !ok {
		a.Findings = append(a.Findings, audit.Finding{
			ID:          uuid.New().String(),
			Severity:    event.SeverityMedium,
			Title:       "Low MFA adoption",
			Description: fmt.Sprintf("only %.0f%% of identities have MFA enabled (target %.0f%%)", fraction*100, mfaAdoptionTarget*100),
			Resource:    "identity-store",
			Evidence:    map[string]any{"enabled": enabled, "total": len(identities)},
			Remediation: "Require MFA enrollment for remaining identities",
		})
		a.Recommendations = append(a.Recommendations, "Enforce MFA enrollment across all active identities")
	}
}

// checkSessionHygiene flags live sessions idle past the staleness
// threshold.
func (s *AuditService) checkSessionHygiene(a *audit.Audit, sessions []session.Session) {
	cutoff := time.Now().UTC().Add(-staleSessionAge)
	var stale []string
	for _, sess := range sessions {
		if sess.LastActivity.Before(cutoff) {
			stale = append(stale, sess.ID)
		}
	}
	a.Compliance["session-hygiene"] = len(stale) == 0
	if len(stale) > 0 {
		a.Findings = append(a.Findings, audit.Finding{
			ID:          uuid.New().String(),
			Severity:    event.SeverityMedium,
			Title:       "Stale active sessions",
			Description: fmt.Sprintf("%d sessions have been inactive for more than %s", len(stale), staleSessionAge),
			Resource:    "session-manager",
			Evidence:    map[string]any{"session_ids": stale},
			Remediation: "Revoke idle sessions and review session timeout configuration",
		})
		a.Recommendations = append(a.Recommendations, "Shorten session timeouts or revoke idle sessions")
	}
}

// checkKeyPresence verifies managed keys exist for encryption duties.
func (s *AuditService) checkKeyPresence(a *audit.Audit, keyCount int) {
	a.Compliance["encryption-keys-present"] = keyCount > 0
	if keyCount == 0 {
		a.Findings = append(a.Findings, audit.Finding{
			ID:          uuid.New().String(),
			Severity:    event.SeverityLow,
			Title:       "No managed encryption keys",
			Description: "the key store holds no keys; data protection operations are unavailable",
			Resource:    "crypto-provider",
			Remediation: "Generate at least one symmetric key for data protection",
		})
		a.Recommendations = append(a.Recommendations, "Provision managed encryption keys")
	}
}

// Get returns an audit run by ID.
func (s *AuditService) Get(ctx context.Context, id string) (*audit.Audit, error) {
	return s.audits.Get(ctx, id)
}

// List returns all audit runs, newest first.
func (s *AuditService) List(ctx context.Context) ([]audit.Audit, error) {
	return s.audits.List(ctx)
}

// Health assembles a point-in-time posture report from store counts, the
// recent event stream, and the latest audit run.
func (s *AuditService) Health(ctx context.Context) (*HealthReport, error) {
	identities, err := s.identities.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	sessions, err := s.sessions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	keyCount, err := s.keys.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count keys: %w", err)
	}

	critical := s.bus.Recent(100, event.Filter{
		Severity: event.SeverityCritical,
		Since:    time.Now().UTC().Add(-time.Hour),
	})

	report := &HealthReport{
		Status:         "healthy",
		Identities:     len(identities),
		ActiveSessions: len(sessions),
		ManagedKeys:    keyCount,
		RecentCritical: len(critical),
		GeneratedAt:    time.Now().UTC(),
	}

	runs, err := s.audits.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list audits: %w", err)
	}
	if len(runs) > 0 {
		last := runs[0]
		report.LastAuditID = last.ID
		report.LastAuditStatus = string(last.Status)
		report.OpenFindings = len(last.Findings)
		if last.Status == audit.StatusFailed {
			report.Status = "degraded"
		}
	}
	if len(critical) > 0 {
		report.Status = "degraded"
	}
	return report, nil
}

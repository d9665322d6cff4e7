package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/bastion-core/bastion/internal/domain/biometric"
	"github.com/bastion-core/bastion/internal/domain/event"
	"github.com/bastion-core/bastion/internal/domain/identity"
	"github.com/bastion-core/bastion/internal/domain/session"
)

// identitySource is the event source name for the identity store.
const identitySource = "identity-store"

// IdentityService provides identity lifecycle operations: creation,
// status transitions, and biometric enrollment. Identities are never
// hard-deleted; disabling preserves audit continuity.
type IdentityService struct {
	store    identity.Store
	matcher  biometric.Matcher
	crypto   *CryptoService
	bus      *event.Bus
	logger   *slog.Logger
	validate *validator.Validate
}

// NewIdentityService creates a new IdentityService.
func NewIdentityService(store identity.Store, matcher biometric.Matcher, crypto *CryptoService, bus *event.Bus, logger *slog.Logger) *IdentityService {
	return &IdentityService{
		store:    store,
		matcher:  matcher,
		crypto:   crypto,
		bus:      bus,
		logger:   logger,
		validate: validator.New(),
	}
}

// CreateIdentityInput holds the input for creating an identity.
type CreateIdentityInput struct {
	Username       string   `validate:"required,min=2,max=64"`
	Email          string   `validate:"omitempty,email"`
	Password       string   `validate:"omitempty,min=8"`
	Roles          []string `validate:"omitempty,dive,min=1"`
	Permissions    []string
	Groups         []string
	MFAEnabled     bool
	MFAMethods     []string
	SecurityLevel  identity.SecurityLevel
	ClearanceLevel int
	SessionTimeout time.Duration
}

// Create stores a new identity. The password, when supplied, is hashed
// before the identity is persisted; the plaintext is never stored.
// Returns identity.ErrDuplicateUsername for a taken username.
func (s *IdentityService) Create(ctx context.Context, input CreateIdentityInput) (*identity.Identity, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("invalid identity input: %w", err)
	}

	var passwordHash string
	if input.Password != "" {
		hash, err := s.crypto.HashPassword(input.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		passwordHash = hash
	}

	level := input.SecurityLevel
	if level == "" {
		level = identity.LevelStandard
	}
	timeout := input.SessionTimeout
	if timeout <= 0 {
		timeout = session.DefaultTimeout
	}

	now := time.Now().UTC()
	ident := &identity.Identity{
		ID:             uuid.New().String(),
		Username:       input.Username,
		Email:          input.Email,
		Roles:          append([]string(nil), input.Roles...),
		Permissions:    append([]string(nil), input.Permissions...),
		Groups:         append([]string(nil), input.Groups...),
		MFAEnabled:     input.MFAEnabled,
		MFAMethods:     append([]string(nil), input.MFAMethods...),
		Status:         identity.StatusActive,
		PasswordHash:   passwordHash,
		SecurityLevel:  level,
		ClearanceLevel: input.ClearanceLevel,
		SessionTimeout: timeout,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.Create(ctx, ident); err != nil {
		return nil, err
	}

	s.bus.Publish(event.SecurityEvent{
		Category:   event.CategoryAuthentication,
		Severity:   event.SeverityLow,
		Source:     identitySource,
		IdentityID: ident.ID,
		Action:     "identity-created",
		Details:    map[string]any{"username": ident.Username},
	})
	s.logger.Info("identity created", "id", ident.ID, "username", ident.Username)
	return ident, nil
}

// Get retrieves an identity by ID.
func (s *IdentityService) Get(ctx context.Context, id string) (*identity.Identity, error) {
	return s.store.Get(ctx, id)
}

// FindByUsername retrieves an identity by username.
func (s *IdentityService) FindByUsername(ctx context.Context, username string) (*identity.Identity, error) {
	return s.store.FindByUsername(ctx, username)
}

// List returns all identities.
func (s *IdentityService) List(ctx context.Context) ([]identity.Identity, error) {
	return s.store.List(ctx)
}

// UpdateStatus transitions an identity's account status. Transitions to
// locked or disabled emit high-severity events; everything else is low.
func (s *IdentityService) UpdateStatus(ctx context.Context, id string, status identity.AccountStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid account status %q", status)
	}

	ident, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	ident.Status = status
	ident.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, ident); err != nil {
		return err
	}

	severity := event.SeverityLow
	if status == identity.StatusLocked || status == identity.StatusDisabled {
		severity = event.SeverityHigh
	}
	s.bus.Publish(event.SecurityEvent{
		Category:   event.CategoryAuthentication,
		Severity:   severity,
		Source:     identitySource,
		IdentityID: id,
		Action:     "status-changed",
		Details:    map[string]any{"status": string(status)},
	})
	s.logger.Info("identity status changed", "id", id, "status", status)
	return nil
}

// EnrollBiometric derives a template from the samples via the matcher and
// appends a new profile to the identity. Raw samples are discarded.
func (s *IdentityService) EnrollBiometric(ctx context.Context, id string, modality identity.Modality, samples [][]byte, deviceID string) (string, error) {
	if !modality.IsValid() {
		return "", fmt.Errorf("invalid biometric modality %q", modality)
	}

	ident, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}

	template, err := s.matcher.Enroll(ctx, samples)
	if err != nil {
		return "", fmt.Errorf("derive biometric template: %w", err)
	}

	profile := identity.BiometricProfile{
		ID:         uuid.New().String(),
		Modality:   modality,
		Template:   template,
		Confidence: biometric.ConfidenceFor(samples),
		EnrolledAt: time.Now().UTC(),
		DeviceID:   deviceID,
	}
	ident.BiometricProfiles = append(ident.BiometricProfiles, profile)
	ident.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, ident); err != nil {
		return "", err
	}

	s.bus.Publish(event.SecurityEvent{
		Category:   event.CategoryAuthentication,
		Severity:   event.SeverityLow,
		Source:     identitySource,
		IdentityID: id,
		Action:     "biometric-enrolled",
		Details:    map[string]any{"modality": string(modality), "profile_id": profile.ID},
	})
	s.logger.Info("biometric enrolled", "identity_id", id, "modality", modality, "profile_id", profile.ID)
	return profile.ID, nil
}

// RecordLogin stamps LastLogin and the profile's LastUsed after a
// successful authentication.
func (s *IdentityService) RecordLogin(ctx context.Context, id string, usedModality identity.Modality) error {
	ident, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	ident.LastLogin = now
	if usedModality != "" {
		if p := ident.ProfileForModality(usedModality); p != nil {
			p.LastUsed = now
		}
	}
	ident.UpdatedAt = now
	if err := s.store.Update(ctx, ident); err != nil {
		return err
	}

	details := map[string]any{}
	if usedModality != "" {
		details["modality"] = string(usedModality)
	}
	s.bus.Publish(event.SecurityEvent{
		Category:   event.CategoryAuthentication,
		Severity:   event.SeverityLow,
		Source:     identitySource,
		IdentityID: id,
		Action:     "login-recorded",
		Details:    details,
	})
	return nil
}

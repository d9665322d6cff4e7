// Package identity contains the domain types and store port for user identities.
package identity

import (
	"time"
)

// AccountStatus is the lifecycle state of an identity.
type AccountStatus string

const (
	// StatusActive allows authentication.
	StatusActive AccountStatus = "active"
	// StatusLocked blocks authentication, typically after repeated failures.
	StatusLocked AccountStatus = "locked"
	// StatusDisabled is the terminal soft-delete state. Identities are never
	// hard-deleted so that audit history stays attributable.
	StatusDisabled AccountStatus = "disabled"
	// StatusPending blocks authentication until activation completes.
	StatusPending AccountStatus = "pending"
)

// IsValid returns true if the status is a known account status.
func (s AccountStatus) IsValid() bool {
	switch s {
	case StatusActive, StatusLocked, StatusDisabled, StatusPending:
		return true
	default:
		return false
	}
}

// SecurityLevel classifies the protection tier of an identity.
type SecurityLevel string

const (
	LevelStandard SecurityLevel = "standard"
	LevelElevated SecurityLevel = "elevated"
	LevelCritical SecurityLevel = "critical"
)

// Modality names a biometric capture type.
type Modality string

const (
	ModalityFingerprint Modality = "fingerprint"
	ModalityFace        Modality = "face"
	ModalityVoice       Modality = "voice"
	ModalityIris        Modality = "iris"
	ModalityBehavioral  Modality = "behavioral"
)

// IsValid returns true if the modality is known.
func (m Modality) IsValid() bool {
	switch m {
	case ModalityFingerprint, ModalityFace, ModalityVoice, ModalityIris, ModalityBehavioral:
		return true
	default:
		return false
	}
}

// BiometricProfile is a derived, non-reversible biometric template owned by
// exactly one identity. Profiles are append-only: they are never mutated
// after enrollment except for the LastUsed stamp.
type BiometricProfile struct {
	// ID is the unique identifier for this profile.
	ID string
	// Modality is the biometric capture type.
	Modality Modality
	// Template is the derived representation; raw samples are never stored.
	Template []byte
	// Confidence is the enrollment-time match confidence in [0,1].
	Confidence float64
	// EnrolledAt is when the profile was created (UTC).
	EnrolledAt time.Time
	// LastUsed is the last successful comparison (UTC, zero if never used).
	LastUsed time.Time
	// DeviceID optionally names the capture device.
	DeviceID string
}

// Identity represents a user known to the security framework.
type Identity struct {
	// ID is the unique identifier for this identity.
	ID string
	// Username is unique across the store.
	Username string
	// Email is the contact address.
	Email string
	// Roles are role names used for principal matching (role:<r>).
	Roles []string
	// Permissions are free-form permission strings.
	Permissions []string
	// Groups are group names used for principal matching (group:<g>).
	Groups []string
	// BiometricProfiles are the enrolled templates, in enrollment order.
	BiometricProfiles []BiometricProfile
	// MFAEnabled requires a verified second factor for every authentication.
	MFAEnabled bool
	// MFAMethods are the allowed second-factor method names.
	MFAMethods []string
	// Status is the account lifecycle state.
	Status AccountStatus
	// LastLogin is the last successful authentication (UTC, zero if never).
	LastLogin time.Time
	// PasswordHash is the opaque, algorithm-tagged hash (argon2id PHC format).
	PasswordHash string
	// SecurityLevel is the protection tier.
	SecurityLevel SecurityLevel
	// ClearanceLevel is the numeric clearance for context conditions.
	ClearanceLevel int
	// SessionTimeout bounds sessions issued for this identity.
	SessionTimeout time.Duration
	// CreatedAt is when the identity was created (UTC).
	CreatedAt time.Time
	// UpdatedAt is when the identity was last modified (UTC).
	UpdatedAt time.Time
}

// HasRole returns true if the identity has the given role.
func (i *Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasGroup returns true if the identity belongs to the given group.
func (i *Identity) HasGroup(group string) bool {
	for _, g := range i.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// ProfileForModality returns the first enrolled profile of the given
// modality, or nil if none is enrolled.
func (i *Identity) ProfileForModality(m Modality) *BiometricProfile {
	for idx := range i.BiometricProfiles {
		if i.BiometricProfiles[idx].Modality == m {
			return &i.BiometricProfiles[idx]
		}
	}
	return nil
}

// Package event contains domain types for the security event stream.
package event

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Category classifies a security event.
type Category string

const (
	// CategoryAuthentication covers login, logout, enrollment, and credential changes.
	CategoryAuthentication Category = "authentication"
	// CategoryAuthorization covers policy evaluations.
	CategoryAuthorization Category = "authorization"
	// CategoryEncryption covers key generation and cryptographic operations.
	CategoryEncryption Category = "encryption"
	// CategoryIntrusion covers detected intrusion attempts.
	CategoryIntrusion Category = "intrusion"
	// CategoryAnomaly covers behavioral anomalies.
	CategoryAnomaly Category = "anomaly"
	// CategoryCompliance covers audit and compliance findings.
	CategoryCompliance Category = "compliance"
)

// Severity ranks how serious an event is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SecurityEvent is a single append-only record in the event stream.
// Events are never mutated after publication.
type SecurityEvent struct {
	// ID is a monotonic sortable identifier (ULID).
	ID string `json:"id"`
	// Timestamp is when the event was published (UTC).
	Timestamp time.Time `json:"timestamp"`
	// Category classifies the event.
	Category Category `json:"category"`
	// Severity ranks the event.
	Severity Severity `json:"severity"`
	// Source names the component that published the event.
	Source string `json:"source"`
	// IdentityID is the identity the event concerns, if any.
	IdentityID string `json:"identity_id,omitempty"`
	// Resource is the resource the event concerns, if any.
	Resource string `json:"resource,omitempty"`
	// Action is the operation the event concerns, if any.
	Action string `json:"action,omitempty"`
	// Details holds open-ended structured context. The event system is
	// intentionally extensible; keys are not schema-bound.
	Details map[string]any `json:"details,omitempty"`
	// ClientIP is the network attribution, if known.
	ClientIP string `json:"client_ip,omitempty"`
	// UserAgent is the client attribution, if known.
	UserAgent string `json:"user_agent,omitempty"`
}

// Filter selects events when querying the log. Zero fields match everything.
type Filter struct {
	// Category filters by event category.
	Category Category
	// Severity filters by exact severity.
	Severity Severity
	// IdentityID filters by the identity the event concerns.
	IdentityID string
	// Source filters by publishing component.
	Source string
	// Since filters out events published before this instant.
	Since time.Time
}

// Matches reports whether the event satisfies the filter.
func (f Filter) Matches(e SecurityEvent) bool {
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.IdentityID != "" && e.IdentityID != f.IdentityID {
		return false
	}
	if f.Source != "" && e.Source != f.Source {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// NewEventID returns a ULID string for a new event.
// ULIDs sort lexicographically by creation time, which keeps the
// append-only log ordered even across restarts.
func NewEventID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String()
}

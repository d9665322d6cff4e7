// Package audit contains domain types for compliance audits and findings.
package audit

import (
	"time"

	"github.com/bastion-core/bastion/internal/domain/event"
)

// Status is the lifecycle state of an audit run.
type Status string

const (
	// StatusScheduled means the run has been created but not started.
	StatusScheduled Status = "scheduled"
	// StatusRunning means the run is in progress.
	StatusRunning Status = "running"
	// StatusCompleted means the run finished and findings are final.
	StatusCompleted Status = "completed"
	// StatusFailed means the run aborted with an error. A run always
	// reaches a terminal status; it never silently drops.
	StatusFailed Status = "failed"
)

// Scope names what an audit run inspects.
type Scope string

const (
	ScopeSystem   Scope = "system"
	ScopeUser     Scope = "user"
	ScopeResource Scope = "resource"
	ScopeNetwork  Scope = "network"
)

// Finding is a single audit-detected deviation from the desired security
// posture.
type Finding struct {
	// ID is the unique identifier for this finding.
	ID string
	// Severity ranks the finding.
	Severity event.Severity
	// Title is a short summary.
	Title string
	// Description explains the deviation.
	Description string
	// Resource names the implicated subsystem or object.
	Resource string
	// Evidence holds open-ended supporting data.
	Evidence map[string]any
	// Remediation is the suggested fix.
	Remediation string
	// References are external reference identifiers (standards, advisories).
	References []string
}

// Audit is one compliance run. Immutable once completed.
type Audit struct {
	// ID is the unique identifier for this run.
	ID string
	// Name is a human-readable name.
	Name string
	// Description provides additional context.
	Description string
	// Scope names what the run inspects.
	Scope Scope
	// Status is the lifecycle state.
	Status Status
	// StartTime is when the run started (UTC).
	StartTime time.Time
	// EndTime is when the run reached a terminal status (UTC).
	EndTime time.Time
	// Findings are the detected deviations.
	Findings []Finding
	// Compliance maps check names to pass/fail.
	Compliance map[string]bool
	// Recommendations are produced for failed compliance checks.
	Recommendations []string
}

// Package policy contains domain types for access-control policy evaluation.
package policy

import "time"

// Effect is the verdict a matching policy contributes.
type Effect string

const (
	// EffectAllow permits the request.
	EffectAllow Effect = "allow"
	// EffectDeny blocks the request.
	EffectDeny Effect = "deny"
)

// IsValid returns true if the effect is known.
func (e Effect) IsValid() bool {
	return e == EffectAllow || e == EffectDeny
}

// DefaultDenyID is the ID of the default-deny backstop policy. The engine
// guarantees a policy with this ID, wildcard patterns, and the lowest
// evaluation precedence always exists, so no request resolves into an
// implicit allow.
const DefaultDenyID = "default-deny"

// DefaultDenyPriority is the backstop priority. Higher numbers evaluate
// later; user policies should stay below this.
const DefaultDenyPriority = 1000

// Policy is a single access-control policy.
type Policy struct {
	// ID is the unique identifier for this policy.
	ID string
	// Name is a human-readable name.
	Name string
	// Description provides additional context.
	Description string
	// Effect is the verdict when the policy matches.
	Effect Effect
	// Principals are patterns matched against the requesting identity:
	// "*", "user:<id>", "role:<r>", or "group:<g>".
	Principals []string
	// Resources are glob patterns matched against the requested resource.
	Resources []string
	// Actions are patterns matched against the requested action ("*" or exact).
	Actions []string
	// Conditions are required context keys with exact-equality values.
	Conditions map[string]string
	// ConditionExpr is an optional CEL expression evaluated against the
	// request context. Empty means no expression condition.
	ConditionExpr string
	// Priority determines evaluation order (lower = evaluated first).
	Priority int
	// Enabled indicates if this policy is active.
	Enabled bool
	// CreatedAt is when the policy was created (UTC).
	CreatedAt time.Time
	// UpdatedAt is when the policy was last modified (UTC).
	UpdatedAt time.Time
}

// Decision is the outcome of evaluating one request.
type Decision struct {
	// Allowed is true if the request is permitted.
	Allowed bool
	// PolicyID is the ID of the policy that decided the outcome.
	PolicyID string
	// Reason explains why the decision was made.
	Reason string
}

// DefaultDeny returns the backstop policy with wildcard patterns and the
// lowest evaluation precedence.
func DefaultDeny() Policy {
	now := time.Now().UTC()
	return Policy{
		ID:          DefaultDenyID,
		Name:        "Default Deny",
		Description: "Deny all access by default",
		Effect:      EffectDeny,
		Principals:  []string{"*"},
		Resources:   []string{"*"},
		Actions:     []string{"*"},
		Priority:    DefaultDenyPriority,
		Enabled:     true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

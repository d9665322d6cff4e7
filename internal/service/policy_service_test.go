package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bastion-core/bastion/internal/adapter/outbound/cel"
	"github.com/bastion-core/bastion/internal/adapter/outbound/memory"
	"github.com/bastion-core/bastion/internal/domain/event"
	"github.com/bastion-core/bastion/internal/domain/policy"
)

func newTestPolicyService(t *testing.T) (*PolicyService, *event.Bus) {
	t.Helper()
	bus := event.NewBus(1000)
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}
	svc, err := NewPolicyService(context.Background(), memory.NewPolicyStore(), evaluator, bus, testLogger())
	if err != nil {
		t.Fatalf("NewPolicyService() error: %v", err)
	}
	return svc, bus
}

func allowPolicy(id string, priority int) *policy.Policy {
	return &policy.Policy{
		ID:         id,
		Name:       id,
		Effect:     policy.EffectAllow,
		Principals: []string{"*"},
		Resources:  []string{"doc/*"},
		Actions:    []string{"read"},
		Priority:   priority,
		Enabled:    true,
	}
}

func TestPolicyService_DefaultDenyBackstop(t *testing.T) {
	t.Parallel()

	svc, _ := newTestPolicyService(t)

	d := svc.Evaluate(context.Background(), policy.Principal{ID: "u1"}, "anything", "read", nil)
	if d.Allowed {
		t.Error("empty policy set allowed a request")
	}
	if d.PolicyID != policy.DefaultDenyID {
		t.Errorf("PolicyID = %q, want backstop", d.PolicyID)
	}
}

func TestPolicyService_FirstMatchWins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := newTestPolicyService(t)

	deny := allowPolicy("deny-docs", 5)
	deny.Effect = policy.EffectDeny
	if err := svc.Save(ctx, deny); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if err := svc.Save(ctx, allowPolicy("allow-docs", 10)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	// The deny has lower priority value, so it evaluates first and wins
	// even though an allow also matches.
	d := svc.Evaluate(ctx, policy.Principal{ID: "u1"}, "doc/readme", "read", nil)
	if d.Allowed {
		t.Error("Evaluate() allowed; deny at higher precedence should win")
	}
	if d.PolicyID != "deny-docs" {
		t.Errorf("PolicyID = %q, want deny-docs", d.PolicyID)
	}
}

func TestPolicyService_PriorityOrdering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := newTestPolicyService(t)

	low := allowPolicy("low-priority", 100)
	low.Effect = policy.EffectDeny
	if err := svc.Save(ctx, low); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if err := svc.Save(ctx, allowPolicy("high-priority", 1)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	d := svc.Evaluate(ctx, policy.Principal{ID: "u1"}, "doc/readme", "read", nil)
	if !d.Allowed || d.PolicyID != "high-priority" {
		t.Errorf("decision = %+v, want allow by high-priority", d)
	}
}

func TestPolicyService_DisabledPoliciesIgnored(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := newTestPolicyService(t)

	p := allowPolicy("disabled", 1)
	p.Enabled = false
	if err := svc.Save(ctx, p); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	d := svc.Evaluate(ctx, policy.Principal{ID: "u1"}, "doc/readme", "read", nil)
	if d.Allowed {
		t.Error("disabled policy was evaluated")
	}
}

func TestPolicyService_PrincipalScoping(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := newTestPolicyService(t)

	p := allowPolicy("admin-only", 1)
	p.Principals = []string{"role:admin"}
	if err := svc.Save(ctx, p); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	admin := policy.Principal{ID: "u1", Roles: []string{"admin"}}
	if d := svc.Evaluate(ctx, admin, "doc/readme", "read", nil); !d.Allowed {
		t.Error("admin was denied")
	}
	user := policy.Principal{ID: "u2", Roles: []string{"user"}}
	if d := svc.Evaluate(ctx, user, "doc/readme", "read", nil); d.Allowed {
		t.Error("non-admin was allowed")
	}
}

func TestPolicyService_ConditionExpr(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := newTestPolicyService(t)

	p := allowPolicy("mfa-gated", 1)
	p.ConditionExpr = `context["mfa"] == "true"`
	if err := svc.Save(ctx, p); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	pr := policy.Principal{ID: "u1"}
	if d := svc.Evaluate(ctx, pr, "doc/readme", "read", map[string]string{"mfa": "true"}); !d.Allowed {
		t.Error("request meeting the condition was denied")
	}
	if d := svc.Evaluate(ctx, pr, "doc/readme", "read", map[string]string{"mfa": "false"}); d.Allowed {
		t.Error("request failing the condition was allowed")
	}
	// Missing context key: the condition evaluates false, falls through to
	// the backstop rather than erroring into an allow.
	if d := svc.Evaluate(ctx, pr, "doc/readme", "read", nil); d.Allowed {
		t.Error("request without context was allowed")
	}
}

func TestPolicyService_SaveValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := newTestPolicyService(t)

	bad := allowPolicy("bad-expr", 1)
	bad.ConditionExpr = `this is not CEL`
	if err := svc.Save(ctx, bad); err == nil {
		t.Error("Save(invalid CEL) error = nil, want error")
	}

	noEffect := allowPolicy("no-effect", 1)
	noEffect.Effect = "maybe"
	if err := svc.Save(ctx, noEffect); err == nil {
		t.Error("Save(invalid effect) error = nil, want error")
	}

	empty := allowPolicy("empty", 1)
	empty.Principals = nil
	if err := svc.Save(ctx, empty); err == nil {
		t.Error("Save(no principals) error = nil, want error")
	}
}

func TestPolicyService_BackstopCannotBeDeleted(t *testing.T) {
	t.Parallel()

	svc, _ := newTestPolicyService(t)
	if err := svc.Delete(context.Background(), policy.DefaultDenyID); !errors.Is(err, policy.ErrBackstopRequired) {
		t.Errorf("Delete(backstop) error = %v, want ErrBackstopRequired", err)
	}
}

func TestPolicyService_SnapshotReloadInvalidatesCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := newTestPolicyService(t)
	pr := policy.Principal{ID: "u1"}

	// Cache a deny from the backstop.
	if d := svc.Evaluate(ctx, pr, "doc/readme", "read", nil); d.Allowed {
		t.Fatal("unexpected allow")
	}

	if err := svc.Save(ctx, allowPolicy("allow-docs", 1)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	// Same request after the policy change must see the new snapshot.
	if d := svc.Evaluate(ctx, pr, "doc/readme", "read", nil); !d.Allowed {
		t.Error("stale cached decision survived a policy change")
	}

	if err := svc.Delete(ctx, "allow-docs"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if d := svc.Evaluate(ctx, pr, "doc/readme", "read", nil); d.Allowed {
		t.Error("decision survived policy deletion")
	}
}

func TestPolicyService_EmitsAuthorizationEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, bus := newTestPolicyService(t)

	svc.Evaluate(ctx, policy.Principal{ID: "u1"}, "doc/x", "read", nil)

	events := bus.Recent(10, event.Filter{Category: event.CategoryAuthorization})
	var found bool
	for _, e := range events {
		if e.IdentityID == "u1" && e.Resource == "doc/x" {
			found = true
			if e.Severity != event.SeverityMedium {
				t.Errorf("deny severity = %s, want medium", e.Severity)
			}
		}
	}
	if !found {
		t.Error("no authorization event emitted for the evaluation")
	}

	// A repeated identical request is served from the decision cache but
	// must still land in the audit trail.
	svc.Evaluate(ctx, policy.Principal{ID: "u1"}, "doc/x", "read", nil)

	events = bus.Recent(10, event.Filter{Category: event.CategoryAuthorization})
	var count int
	for _, e := range events {
		if e.IdentityID == "u1" && e.Resource == "doc/x" {
			count++
		}
	}
	if count != 2 {
		t.Errorf("authorization events after two evaluations = %d, want 2", count)
	}
}

func BenchmarkPolicyService_Evaluate(b *testing.B) {
	ctx := context.Background()
	bus := event.NewBus(1000)
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		b.Fatalf("NewEvaluator() error: %v", err)
	}
	svc, err := NewPolicyService(ctx, memory.NewPolicyStore(), evaluator, bus, testLogger())
	if err != nil {
		b.Fatalf("NewPolicyService() error: %v", err)
	}
	for i := 0; i < 50; i++ {
		p := allowPolicy(fmt.Sprintf("p-%d", i), i)
		p.Resources = []string{fmt.Sprintf("res-%d/*", i)}
		if err := svc.Save(ctx, p); err != nil {
			b.Fatalf("Save() error: %v", err)
		}
	}
	pr := policy.Principal{ID: "u1", Roles: []string{"user"}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		svc.Evaluate(ctx, pr, "res-25/item", "read", nil)
	}
}

package service

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	celgo "github.com/google/cel-go/cel"
	"github.com/google/uuid"

	"github.com/bastion-core/bastion/internal/adapter/outbound/cel"
	"github.com/bastion-core/bastion/internal/domain/event"
	"github.com/bastion-core/bastion/internal/domain/policy"
)

// policySource is the event source name for the policy engine.
const policySource = "policy-engine"

// defaultDecisionCacheSize bounds the evaluation result cache.
const defaultDecisionCacheSize = 1024

// compiledPolicy pairs a policy with its compiled condition program.
type compiledPolicy struct {
	policy.Policy
	program celgo.Program
}

// policySnapshot is an immutable, evaluation-ordered view of the policy
// set. Evaluations read one snapshot for their whole run, so a concurrent
// policy change never produces a half-old half-new decision.
type policySnapshot struct {
	policies []compiledPolicy
	version  uint64
}

// PolicyService evaluates access requests against the policy set using
// priority order and first-match-wins semantics, backed by a default-deny
// backstop. Decisions for identical requests are cached per snapshot.
type PolicyService struct {
	store     policy.Store
	evaluator *cel.Evaluator
	bus       *event.Bus
	logger    *slog.Logger

	snapshot atomic.Value // *policySnapshot
	version  atomic.Uint64

	cache *decisionCache
}

// NewPolicyService creates the engine and loads the initial snapshot.
func NewPolicyService(ctx context.Context, store policy.Store, evaluator *cel.Evaluator, bus *event.Bus, logger *slog.Logger) (*PolicyService, error) {
	s := &PolicyService{
		store:     store,
		evaluator: evaluator,
		bus:       bus,
		logger:    logger,
		cache:     newDecisionCache(defaultDecisionCacheSize),
	}
	if err := s.Reload(ctx); err != nil {
		return nil, fmt.Errorf("load initial policy snapshot: %w", err)
	}
	return s, nil
}

// Reload rebuilds the snapshot from the store: enabled policies only,
// sorted by ascending priority with ID as tiebreak, condition expressions
// compiled once. Stale cached decisions are dropped with the old snapshot.
func (s *PolicyService) Reload(ctx context.Context) error {
	all, err := s.store.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("load policies: %w", err)
	}

	compiled := make([]compiledPolicy, 0, len(all))
	for _, p := range all {
		if !p.Enabled {
			continue
		}
		cp := compiledPolicy{Policy: p}
		if p.ConditionExpr != "" {
			prg, err := s.evaluator.Compile(p.ConditionExpr)
			if err != nil {
				// A policy that stops compiling must not silently vanish
				// into an allow. Skipping a deny-set entry is safe only
				// because the backstop still denies; log loudly.
				s.logger.Error("policy condition failed to compile, skipping policy",
					"policy_id", p.ID, "error", err)
				continue
			}
			cp.program = prg
		}
		compiled = append(compiled, cp)
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		if compiled[i].Priority != compiled[j].Priority {
			return compiled[i].Priority < compiled[j].Priority
		}
		return compiled[i].ID < compiled[j].ID
	})

	snap := &policySnapshot{policies: compiled, version: s.version.Add(1)}
	s.snapshot.Store(snap)
	s.cache.purge()
	s.logger.Debug("policy snapshot reloaded", "policies", len(compiled), "version", snap.version)
	return nil
}

// Evaluate resolves an access request to a Decision. Policies are checked
// in ascending priority order; the first whose principals, resources,
// actions, and conditions all match decides the outcome. The default-deny
// backstop guarantees a terminal match.
func (s *PolicyService) Evaluate(ctx context.Context, pr policy.Principal, resource, action string, reqContext map[string]string) policy.Decision {
	snap := s.snapshot.Load().(*policySnapshot)

	key := decisionKey(snap.version, pr, resource, action, reqContext)
	if d, ok := s.cache.get(key); ok {
		// The cache short-circuits the scan, never the audit trail:
		// every evaluation is observable in the event stream.
		s.publishDecision(pr, resource, action, d)
		return d
	}

	decision := policy.Decision{
		Allowed:  false,
		PolicyID: policy.DefaultDenyID,
		Reason:   "no policy matched; denied by default",
	}
	for i := range snap.policies {
		p := &snap.policies[i]
		if !p.MatchesPrincipal(pr) || !p.MatchesResource(resource) || !p.MatchesAction(action) {
			continue
		}
		if !p.ConditionsMet(reqContext) {
			continue
		}
		if p.program != nil {
			ok, err := s.evaluator.Evaluate(p.program, reqContext, resource, action)
			if err != nil {
				// Fail closed for this policy and keep scanning.
				s.logger.Warn("policy condition evaluation failed",
					"policy_id", p.ID, "error", err)
				continue
			}
			if !ok {
				continue
			}
		}
		decision = policy.Decision{
			Allowed:  p.Effect == policy.EffectAllow,
			PolicyID: p.ID,
			Reason:   fmt.Sprintf("matched policy %q (%s)", p.Name, p.Effect),
		}
		break
	}

	s.cache.put(key, decision)
	s.publishDecision(pr, resource, action, decision)
	return decision
}

// publishDecision emits an authorization event: medium severity for
// denials, low for allows.
func (s *PolicyService) publishDecision(pr policy.Principal, resource, action string, d policy.Decision) {
	severity := event.SeverityLow
	if !d.Allowed {
		severity = event.SeverityMedium
	}
	s.bus.Publish(event.SecurityEvent{
		Category:   event.CategoryAuthorization,
		Severity:   severity,
		Source:     policySource,
		IdentityID: pr.ID,
		Resource:   resource,
		Action:     action,
		Details:    map[string]any{"allowed": d.Allowed, "policy_id": d.PolicyID, "reason": d.Reason},
	})
}

// Save validates and persists a policy, then reloads the snapshot. A new
// policy without an ID gets one assigned.
func (s *PolicyService) Save(ctx context.Context, p *policy.Policy) error {
	if !p.Effect.IsValid() {
		return fmt.Errorf("invalid policy effect %q", p.Effect)
	}
	if len(p.Principals) == 0 || len(p.Resources) == 0 || len(p.Actions) == 0 {
		return fmt.Errorf("policy must declare principals, resources, and actions")
	}
	if p.ConditionExpr != "" {
		if err := s.evaluator.ValidateExpression(p.ConditionExpr); err != nil {
			return fmt.Errorf("policy condition: %w", err)
		}
	}

	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.New().String()
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	if err := s.store.Save(ctx, p); err != nil {
		return err
	}
	if err := s.Reload(ctx); err != nil {
		return err
	}

	s.bus.Publish(event.SecurityEvent{
		Category: event.CategoryAuthorization,
		Severity: event.SeverityLow,
		Source:   policySource,
		Action:   "policy-saved",
		Details:  map[string]any{"policy_id": p.ID, "effect": string(p.Effect), "priority": p.Priority},
	})
	return nil
}

// Delete removes a policy and reloads the snapshot. The default-deny
// backstop cannot be deleted.
func (s *PolicyService) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.Reload(ctx); err != nil {
		return err
	}

	s.bus.Publish(event.SecurityEvent{
		Category: event.CategoryAuthorization,
		Severity: event.SeverityLow,
		Source:   policySource,
		Action:   "policy-deleted",
		Details:  map[string]any{"policy_id": id},
	})
	return nil
}

// Get returns a policy by ID.
func (s *PolicyService) Get(ctx context.Context, id string) (*policy.Policy, error) {
	return s.store.Get(ctx, id)
}

// List returns all stored policies.
func (s *PolicyService) List(ctx context.Context) ([]policy.Policy, error) {
	return s.store.GetAll(ctx)
}

// decisionKey hashes the full request (plus snapshot version) so cached
// decisions can never outlive the policy set they were computed from.
func decisionKey(version uint64, pr policy.Principal, resource, action string, reqContext map[string]string) uint64 {
	h := xxhash.New()
	fmt.Fprintf(h, "%d\x00%s\x00", version, pr.ID)
	for _, r := range pr.Roles {
		h.WriteString(r)
		h.WriteString("\x01")
	}
	for _, g := range pr.Groups {
		h.WriteString(g)
		h.WriteString("\x02")
	}
	h.WriteString(resource)
	h.WriteString("\x00")
	h.WriteString(action)
	h.WriteString("\x00")

	ctxKeys := make([]string, 0, len(reqContext))
	for k := range reqContext {
		ctxKeys = append(ctxKeys, k)
	}
	sort.Strings(ctxKeys)
	for _, k := range ctxKeys {
		h.WriteString(k)
		h.WriteString("=")
		h.WriteString(reqContext[k])
		h.WriteString("\x03")
	}
	return h.Sum64()
}

// decisionCache is a small mutex-guarded LRU of evaluation results.
type decisionCache struct {
	mu      sync.Mutex
	maxSize int
	entries map[uint64]*list.Element
	order   *list.List
}

type cacheEntry struct {
	key      uint64
	decision policy.Decision
}

func newDecisionCache(maxSize int) *decisionCache {
	return &decisionCache{
		maxSize: maxSize,
		entries: make(map[uint64]*list.Element),
		order:   list.New(),
	}
}

func (c *decisionCache) get(key uint64) (policy.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*cacheEntry).decision, true
	}
	return policy.Decision{}, false
}

func (c *decisionCache) put(key uint64, d policy.Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).decision = d
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, decision: d})
	if c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *decisionCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*list.Element)
	c.order.Init()
}

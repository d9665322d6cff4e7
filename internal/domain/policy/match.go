package policy

import "strings"

// Principal is the identity view the matcher needs: the ID plus role and
// group memberships resolved from the identity store.
type Principal struct {
	// ID is the identity ID.
	ID string
	// Roles are the identity's role names.
	Roles []string
	// Groups are the identity's group names.
	Groups []string
}

// MatchesPrincipal reports whether any principal pattern applies.
// A pattern matches if it is "*", "user:<id>" equal to the identity ID,
// or "role:<r>"/"group:<g>" present in the identity's memberships.
func (p *Policy) MatchesPrincipal(pr Principal) bool {
	for _, pattern := range p.Principals {
		if pattern == "*" {
			return true
		}
		if rest, ok := strings.CutPrefix(pattern, "user:"); ok && rest == pr.ID {
			return true
		}
		if rest, ok := strings.CutPrefix(pattern, "role:"); ok {
			for _, r := range pr.Roles {
				if r == rest {
					return true
				}
			}
		}
		if rest, ok := strings.CutPrefix(pattern, "group:"); ok {
			for _, g := range pr.Groups {
				if g == rest {
					return true
				}
			}
		}
	}
	return false
}

// MatchesResource reports whether any resource pattern globs the resource.
func (p *Policy) MatchesResource(resource string) bool {
	for _, pattern := range p.Resources {
		if GlobMatch(pattern, resource) {
			return true
		}
	}
	return false
}

// MatchesAction reports whether any action pattern applies ("*" or exact).
func (p *Policy) MatchesAction(action string) bool {
	for _, pattern := range p.Actions {
		if pattern == "*" || pattern == action {
			return true
		}
	}
	return false
}

// ConditionsMet reports whether every declared condition key is present in
// the context with an exactly equal value. The optional CEL expression is
// evaluated separately by the engine.
func (p *Policy) ConditionsMet(context map[string]string) bool {
	for k, want := range p.Conditions {
		if got, ok := context[k]; !ok || got != want {
			return false
		}
	}
	return true
}

// GlobMatch matches a pattern where "*" matches any substring (including
// empty). All other characters match literally.
func GlobMatch(pattern, s string) bool {
	if pattern == "*" {
		return true
	}
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}

	// Anchor the first and last literal fragments, then require the middle
	// fragments to appear in order.
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]

	last := parts[len(parts)-1]
	if !strings.HasSuffix(s, last) {
		return false
	}
	s = s[:len(s)-len(last)]

	for _, mid := range parts[1 : len(parts)-1] {
		if mid == "" {
			continue
		}
		idx := strings.Index(s, mid)
		if idx < 0 {
			return false
		}
		s = s[idx+len(mid):]
	}
	return true
}

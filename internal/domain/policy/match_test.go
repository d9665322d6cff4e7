package policy

import "testing"

func TestGlobMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pattern string
		s       string
		want    bool
	}{
		{"*", "anything", true},
		{"*", "", true},
		{"exact", "exact", true},
		{"exact", "other", false},
		{"doc/*", "doc/readme", true},
		{"doc/*", "doc/", true},
		{"doc/*", "docs/readme", false},
		{"*/readme", "doc/readme", true},
		{"doc/*/v1", "doc/api/v1", true},
		{"doc/*/v1", "doc/api/v2", false},
		{"a*b*c", "aXbYc", true},
		{"a*b*c", "abc", true},
		{"a*b*c", "acb", false},
		{"", "", true},
		{"", "x", false},
	}

	for _, tt := range tests {
		if got := GlobMatch(tt.pattern, tt.s); got != tt.want {
			t.Errorf("GlobMatch(%q, %q) = %v, want %v", tt.pattern, tt.s, got, tt.want)
		}
	}
}

func TestMatchesPrincipal(t *testing.T) {
	t.Parallel()

	pr := Principal{ID: "u1", Roles: []string{"admin"}, Groups: []string{"ops"}}

	tests := []struct {
		name       string
		principals []string
		want       bool
	}{
		{"wildcard", []string{"*"}, true},
		{"user match", []string{"user:u1"}, true},
		{"user mismatch", []string{"user:u2"}, false},
		{"role match", []string{"role:admin"}, true},
		{"role mismatch", []string{"role:viewer"}, false},
		{"group match", []string{"group:ops"}, true},
		{"group mismatch", []string{"group:dev"}, false},
		{"any of several", []string{"user:u9", "role:admin"}, true},
		{"empty", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Policy{Principals: tt.principals}
			if got := p.MatchesPrincipal(pr); got != tt.want {
				t.Errorf("MatchesPrincipal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchesAction(t *testing.T) {
	t.Parallel()

	p := Policy{Actions: []string{"read", "list"}}
	if !p.MatchesAction("read") {
		t.Error("MatchesAction(read) = false, want true")
	}
	if p.MatchesAction("write") {
		t.Error("MatchesAction(write) = true, want false")
	}

	wild := Policy{Actions: []string{"*"}}
	if !wild.MatchesAction("anything") {
		t.Error("wildcard MatchesAction() = false, want true")
	}
}

func TestConditionsMet(t *testing.T) {
	t.Parallel()

	p := Policy{Conditions: map[string]string{"env": "prod", "region": "eu"}}

	tests := []struct {
		name string
		ctx  map[string]string
		want bool
	}{
		{"all present", map[string]string{"env": "prod", "region": "eu", "extra": "x"}, true},
		{"wrong value", map[string]string{"env": "dev", "region": "eu"}, false},
		{"missing key", map[string]string{"env": "prod"}, false},
		{"nil context", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.ConditionsMet(tt.ctx); got != tt.want {
				t.Errorf("ConditionsMet() = %v, want %v", got, tt.want)
			}
		})
	}

	empty := Policy{}
	if !empty.ConditionsMet(nil) {
		t.Error("no conditions should always be met")
	}
}

func TestDefaultDeny(t *testing.T) {
	t.Parallel()

	p := DefaultDeny()
	if p.ID != DefaultDenyID {
		t.Errorf("ID = %q, want %q", p.ID, DefaultDenyID)
	}
	if p.Effect != EffectDeny {
		t.Errorf("Effect = %q, want deny", p.Effect)
	}
	if p.Priority != DefaultDenyPriority {
		t.Errorf("Priority = %d, want %d", p.Priority, DefaultDenyPriority)
	}
	if !p.Enabled {
		t.Error("backstop must be enabled")
	}
	pr := Principal{ID: "anyone"}
	if !p.MatchesPrincipal(pr) || !p.MatchesResource("anything") || !p.MatchesAction("anything") {
		t.Error("backstop must match every request")
	}
}

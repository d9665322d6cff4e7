package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bastion-core/bastion/internal/domain/policy"
)

// PolicyBundle is a standalone YAML document of seeded policies, loadable
// separately from the main configuration.
type PolicyBundle struct {
	Policies []PolicyConfig `yaml:"policies"`
}

// LoadPolicyBundle reads a policy bundle file.
func LoadPolicyBundle(path string) (*PolicyBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy bundle: %w", err)
	}
	var bundle PolicyBundle
	if err := yaml.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("parse policy bundle: %w", err)
	}
	return &bundle, nil
}

// ToPolicy converts a seeded policy config to the domain type.
func (p PolicyConfig) ToPolicy() policy.Policy {
	return policy.Policy{
		ID:            p.ID,
		Name:          p.Name,
		Effect:        policy.Effect(p.Effect),
		Principals:    append([]string(nil), p.Principals...),
		Resources:     append([]string(nil), p.Resources...),
		Actions:       append([]string(nil), p.Actions...),
		Conditions:    p.Conditions,
		ConditionExpr: p.ConditionExpr,
		Priority:      p.Priority,
		Enabled:       true,
	}
}

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// minSecretLength is the minimum deployment secret length in bytes.
const minSecretLength = 16

// Validate checks the configuration for structural and semantic errors.
// Dev mode relaxes the deployment secret requirement.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		var errs validator.ValidationErrors
		if errors.As(err, &errs) {
			return fmt.Errorf("invalid configuration: %s", describeErrors(errs))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if !c.DevMode && len(c.Framework.DeploymentSecret) < minSecretLength {
		return fmt.Errorf("framework.deployment_secret must be at least %d bytes (set dev_mode for a generated one)", minSecretLength)
	}

	seen := map[string]bool{}
	for i, p := range c.Policies {
		if p.ID != "" {
			if seen[p.ID] {
				return fmt.Errorf("policies[%d]: duplicate policy id %q", i, p.ID)
			}
			seen[p.ID] = true
		}
	}
	return nil
}

// describeErrors flattens validator errors into one readable line.
func describeErrors(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

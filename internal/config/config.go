// Package config provides configuration types and loading for Bastion.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for the Bastion security engine.
type Config struct {
	// Server configures the observability HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Framework configures the security engine core.
	Framework FrameworkConfig `yaml:"framework" mapstructure:"framework"`

	// Events configures durable event persistence.
	Events EventsConfig `yaml:"events" mapstructure:"events"`

	// Policies seeds the policy store at startup. The default-deny
	// backstop always exists regardless of this list.
	Policies []PolicyConfig `yaml:"policies" mapstructure:"policies" validate:"omitempty,dive"`

	// DevMode enables development defaults (verbose logging, generated
	// deployment secret).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the observability HTTP listener.
type ServerConfig struct {
	// HTTPAddr is the listen address, e.g. ":8385".
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"required"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// FrameworkConfig configures the engine core.
type FrameworkConfig struct {
	// DeploymentSecret keys biometric templates, TOTP seeds, and refresh
	// token signatures. Hex or raw string; required outside dev mode.
	DeploymentSecret string `yaml:"deployment_secret" mapstructure:"deployment_secret"`
	// EventCapacity bounds the in-memory event ring.
	EventCapacity int `yaml:"event_capacity" mapstructure:"event_capacity" validate:"omitempty,min=1"`
	// AuditInterval is the periodic audit cadence.
	AuditInterval time.Duration `yaml:"audit_interval" mapstructure:"audit_interval"`
	// FactorTimeout bounds external factor checks during authentication.
	FactorTimeout time.Duration `yaml:"factor_timeout" mapstructure:"factor_timeout"`
	// SweepInterval is the expired-session sweep cadence.
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
	// ThrottleFailuresPerMinute limits authentication attempts per
	// username. Zero disables throttling.
	ThrottleFailuresPerMinute float64 `yaml:"throttle_failures_per_minute" mapstructure:"throttle_failures_per_minute" validate:"omitempty,min=0"`
	// ThrottleBurst is the attempt burst per username.
	ThrottleBurst int `yaml:"throttle_burst" mapstructure:"throttle_burst" validate:"omitempty,min=1"`
}

// EventsConfig configures durable event persistence.
type EventsConfig struct {
	// SQLitePath is the database file for the durable event sink.
	// Empty disables persistence; events live only in the bounded ring.
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	// BatchSize is the insert batch size for the sink worker.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`
	// FlushInterval is the sink worker flush cadence.
	FlushInterval time.Duration `yaml:"flush_interval" mapstructure:"flush_interval"`
	// AlertDir is the directory for rotated critical-alert logs.
	// Empty disables the file alert sink.
	AlertDir string `yaml:"alert_dir" mapstructure:"alert_dir"`
}

// PolicyConfig is one seeded access policy.
type PolicyConfig struct {
	// ID is the policy identifier. Generated when empty.
	ID string `yaml:"id" mapstructure:"id"`
	// Name is a human-readable name.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`
	// Effect is "allow" or "deny".
	Effect string `yaml:"effect" mapstructure:"effect" validate:"required,oneof=allow deny"`
	// Principals are principal patterns: "*", "user:<id>", "role:<r>", "group:<g>".
	Principals []string `yaml:"principals" mapstructure:"principals" validate:"required,min=1"`
	// Resources are glob patterns for resources.
	Resources []string `yaml:"resources" mapstructure:"resources" validate:"required,min=1"`
	// Actions are action patterns ("*" or exact).
	Actions []string `yaml:"actions" mapstructure:"actions" validate:"required,min=1"`
	// Conditions are exact-equality context requirements.
	Conditions map[string]string `yaml:"conditions" mapstructure:"conditions"`
	// ConditionExpr is an optional CEL condition.
	ConditionExpr string `yaml:"condition_expr" mapstructure:"condition_expr"`
	// Priority orders evaluation (lower first).
	Priority int `yaml:"priority" mapstructure:"priority"`
}

// SetDefaults applies default values for optional fields.
func (c *Config) SetDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = defaultString("server.http_addr", ":8385")
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Framework.EventCapacity == 0 {
		c.Framework.EventCapacity = 10000
	}
	if c.Framework.AuditInterval == 0 {
		c.Framework.AuditInterval = time.Hour
	}
	if c.Framework.FactorTimeout == 0 {
		c.Framework.FactorTimeout = 5 * time.Second
	}
	if c.Framework.SweepInterval == 0 {
		c.Framework.SweepInterval = time.Minute
	}
	if c.Framework.ThrottleBurst == 0 {
		c.Framework.ThrottleBurst = 5
	}
	if c.Events.BatchSize == 0 {
		c.Events.BatchSize = 100
	}
	if c.Events.FlushInterval == 0 {
		c.Events.FlushInterval = time.Second
	}
}

// SetDevDefaults applies permissive defaults when DevMode is set.
// A missing deployment secret is tolerated; the caller generates one.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if c.Server.LogLevel == "info" {
		c.Server.LogLevel = "debug"
	}
}

func defaultString(key, fallback string) string {
	if v := viper.GetString(key); v != "" {
		return v
	}
	return fallback
}

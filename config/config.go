// Package config loads the YAML configuration surface for docqa-core:
// per-operation retry policies, circuit breaker settings, health thresholds,
// state persistence options, and telemetry wiring. Values support `${VAR}`
// environment expansion; referencing a missing variable is an error.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Delta-Corvi/docqa-core/health"
	"github.com/Delta-Corvi/docqa-core/observe"
	"github.com/Delta-Corvi/docqa-core/resilience"
	"github.com/Delta-Corvi/docqa-core/state"
)

// Duration wraps time.Duration with YAML support for strings like "500ms".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"5s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the root configuration document.
type Config struct {
	Service  ServiceConfig          `yaml:"service"`
	Retry    map[string]RetryConfig `yaml:"retry"`
	Breakers BreakersConfig         `yaml:"breakers"`
	Health   HealthConfig           `yaml:"health"`
	State    StateConfig            `yaml:"state"`
	Observe  ObserveConfig          `yaml:"observe"`
}

// ServiceConfig identifies the service in telemetry.
type ServiceConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// RetryConfig is one named retry policy.
type RetryConfig struct {
	MaxRetries int      `yaml:"max_retries"`
	BaseDelay  Duration `yaml:"base_delay"`
	MaxDelay   Duration `yaml:"max_delay"`
	Multiplier float64  `yaml:"backoff_multiplier"`
	Jitter     bool     `yaml:"jitter"`
}

// BreakerConfig is one circuit breaker's settings.
type BreakerConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	RecoveryTimeout  Duration `yaml:"recovery_timeout"`
}

// BreakersConfig holds the default breaker settings plus per-name overrides.
type BreakersConfig struct {
	Default   BreakerConfig            `yaml:"default"`
	Overrides map[string]BreakerConfig `yaml:"overrides"`
}

// HealthConfig holds the health classification thresholds.
type HealthConfig struct {
	HealthyRate     float64  `yaml:"healthy_rate"`
	DegradedRate    float64  `yaml:"degraded_rate"`
	MaxAvgResponse  Duration `yaml:"max_avg_response"`
	ErrorBufferSize int      `yaml:"error_buffer_size"`
}

// StateConfig holds state storage and persistence options.
type StateConfig struct {
	Path            string   `yaml:"path"`
	SessionTTL      Duration `yaml:"session_ttl"`
	DefaultCacheTTL Duration `yaml:"default_cache_ttl"`
	SweepInterval   Duration `yaml:"sweep_interval"`
	PersistInterval Duration `yaml:"persist_interval"`
}

// ObserveConfig holds telemetry options.
type ObserveConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// TracingConfig configures tracing.
type TracingConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Exporter  string  `yaml:"exporter"`
	SamplePct float64 `yaml:"sample_pct"`
}

// MetricsConfig configures metrics.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
}

// Load reads, expands, parses, and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	expanded, err := expandEnvStrict(string(data))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects values the components would otherwise silently default.
func (c *Config) Validate() error {
	for name, r := range c.Retry {
		if r.MaxRetries < 0 {
			return fmt.Errorf("retry.%s: max_retries must be >= 0", name)
		}
		if r.Multiplier < 0 {
			return fmt.Errorf("retry.%s: backoff_multiplier must be >= 0", name)
		}
		if r.MaxDelay > 0 && r.BaseDelay > r.MaxDelay {
			return fmt.Errorf("retry.%s: base_delay exceeds max_delay", name)
		}
	}

	if c.Breakers.Default.FailureThreshold < 0 {
		return fmt.Errorf("breakers.default: failure_threshold must be >= 0")
	}
	for name, b := range c.Breakers.Overrides {
		if b.FailureThreshold < 0 {
			return fmt.Errorf("breakers.overrides.%s: failure_threshold must be >= 0", name)
		}
	}

	if c.Health.HealthyRate < 0 || c.Health.HealthyRate > 100 {
		return fmt.Errorf("health: healthy_rate must be within [0,100]")
	}
	if c.Health.DegradedRate < 0 || c.Health.DegradedRate > 100 {
		return fmt.Errorf("health: degraded_rate must be within [0,100]")
	}
	if c.Health.HealthyRate > 0 && c.Health.DegradedRate > c.Health.HealthyRate {
		return fmt.Errorf("health: degraded_rate exceeds healthy_rate")
	}

	return nil
}

// ManagerConfig converts the document into the facade's configuration.
func (c *Config) ManagerConfig() resilience.ManagerConfig {
	policies := resilience.NewPolicyRegistry()
	for name, r := range c.Retry {
		policies.Register(name, resilience.RetryPolicy{
			MaxRetries: r.MaxRetries,
			BaseDelay:  time.Duration(r.BaseDelay),
			MaxDelay:   time.Duration(r.MaxDelay),
			Multiplier: r.Multiplier,
			Jitter:     r.Jitter,
		})
	}

	overrides := make(map[string]resilience.BreakerConfig, len(c.Breakers.Overrides))
	for name, b := range c.Breakers.Overrides {
		overrides[name] = resilience.BreakerConfig{
			FailureThreshold: b.FailureThreshold,
			RecoveryTimeout:  time.Duration(b.RecoveryTimeout),
		}
	}

	return resilience.ManagerConfig{
		Policies: policies,
		BreakerDefaults: resilience.BreakerConfig{
			FailureThreshold: c.Breakers.Default.FailureThreshold,
			RecoveryTimeout:  time.Duration(c.Breakers.Default.RecoveryTimeout),
		},
		BreakerOverrides: overrides,
		Thresholds: health.Thresholds{
			HealthyRate:     c.Health.HealthyRate,
			DegradedRate:    c.Health.DegradedRate,
			MaxAvgResponse:  time.Duration(c.Health.MaxAvgResponse),
			ErrorBufferSize: c.Health.ErrorBufferSize,
		},
		State: state.Config{
			Path:            c.State.Path,
			SessionTTL:      time.Duration(c.State.SessionTTL),
			DefaultCacheTTL: time.Duration(c.State.DefaultCacheTTL),
			SweepInterval:   time.Duration(c.State.SweepInterval),
			PersistInterval: time.Duration(c.State.PersistInterval),
		},
	}
}

// ObserverConfig converts the telemetry section for observe.NewObserver.
func (c *Config) ObserverConfig() observe.Config {
	name := c.Service.Name
	if name == "" {
		name = "docqa-core"
	}
	return observe.Config{
		ServiceName: name,
		Version:     c.Service.Version,
		Tracing: observe.TracingConfig{
			Enabled:   c.Observe.Tracing.Enabled,
			Exporter:  c.Observe.Tracing.Exporter,
			SamplePct: c.Observe.Tracing.SamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  c.Observe.Metrics.Enabled,
			Exporter: c.Observe.Metrics.Exporter,
		},
		Logging: observe.LoggingConfig{
			Enabled: c.Observe.Logging.Enabled,
			Level:   c.Observe.Logging.Level,
		},
	}
}

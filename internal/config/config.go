package config

import (
	"sort"
	"strings"
	"time"

	"github.com/llmgate/llmgate/internal/ailink"
)

// Config represents the complete application configuration.
// Values come from defaults, the YAML config file, LLMGATE_* environment
// variables and runtime overrides, in increasing order of precedence.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	History HistoryConfig `mapstructure:"history" yaml:"history"`
	AILink  ailink.Config `mapstructure:"ailink" yaml:"ailink"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Health  HealthConfig  `mapstructure:"health" yaml:"health"`
	Debug   DebugConfig   `mapstructure:"debug" yaml:"debug"`

	Concurrency ConcurrencyConfig `mapstructure:"concurrency" yaml:"concurrency"`
	Admission   AdmissionConfig   `mapstructure:"admission" yaml:"admission"`
	Throttle    ThrottleConfig    `mapstructure:"throttle" yaml:"throttle"`
	Alerts      AlertsConfig      `mapstructure:"alerts" yaml:"alerts"`
	Snapshots   SnapshotConfig    `mapstructure:"snapshots" yaml:"snapshots"`

	// RateLimits holds explicit limiter settings keyed by provider name.
	RateLimits map[string]RateLimitConfig `mapstructure:"rate_limits" yaml:"rate_limits"`

	// Agents maps a logical agent name to its provider fallback chain.
	Agents map[string]AgentConfig `mapstructure:"agents" yaml:"agents"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver" yaml:"driver"`
	Path      string `mapstructure:"path" yaml:"path"`
	URL       string `mapstructure:"url" yaml:"url,omitempty"`
	AuthToken string `mapstructure:"auth_token" yaml:"-"`
}

// HistoryConfig selects the conversation history backend.
// An empty RedisURL keeps history in process memory.
type HistoryConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	RedisURL string        `mapstructure:"redis_url" yaml:"redis_url,omitempty"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
	MaxTurns int           `mapstructure:"max_turns" yaml:"max_turns"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`

	// Profile selects the logging complexity level
	// Valid values: simple (console text), structured (JSON)
	Profile string `mapstructure:"profile" yaml:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// ReadyTimeout bounds how long readiness waits for a free concurrency slot.
	ReadyTimeout time.Duration `mapstructure:"ready_timeout" yaml:"ready_timeout"`
}

// DebugConfig contains debug and profiling configuration
type DebugConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// PprofEnabled controls whether pprof endpoints are exposed
	// WARNING: Only enable in development/staging environments
	PprofEnabled bool `mapstructure:"pprof_enabled" yaml:"pprof_enabled"`
}

// ConcurrencyConfig bounds in-flight provider calls across the process.
type ConcurrencyConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent" yaml:"max_concurrent"`
}

// AdmissionConfig bounds how long a request waits on a provider's limiter
// before moving to the next candidate.
type AdmissionConfig struct {
	MaxWait         time.Duration `mapstructure:"max_wait" yaml:"max_wait"`
	MaxChecks       int           `mapstructure:"max_checks" yaml:"max_checks"`
	SkipUnavailable bool          `mapstructure:"skip_unavailable" yaml:"skip_unavailable"`
}

// ThrottleConfig controls the auto-throttler.
type ThrottleConfig struct {
	Enabled          bool          `mapstructure:"enabled" yaml:"enabled"`
	Window           time.Duration `mapstructure:"window" yaml:"window"`
	Threshold        int           `mapstructure:"threshold" yaml:"threshold"`
	ReduceFactor     float64       `mapstructure:"reduce_factor" yaml:"reduce_factor"`
	MinRPM           int           `mapstructure:"min_rpm" yaml:"min_rpm"`
	Cooldown         time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
	RecoveryInterval time.Duration `mapstructure:"recovery_interval" yaml:"recovery_interval"`
	RecoveryFactor   float64       `mapstructure:"recovery_factor" yaml:"recovery_factor"`
}

// AlertsConfig controls alert delivery.
type AlertsConfig struct {
	Cooldown time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
}

// SnapshotConfig controls periodic persistence of provider state.
// A zero Interval disables snapshots. Snapshots older than Retention are
// pruned after each write; zero keeps them forever.
type SnapshotConfig struct {
	Interval  time.Duration `mapstructure:"interval" yaml:"interval"`
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`
}

// RateLimitConfig is the limiter configuration of one provider.
type RateLimitConfig struct {
	RPM             int `mapstructure:"rpm" yaml:"rpm"`
	Burst           int `mapstructure:"burst" yaml:"burst"`
	TokensPerMinute int `mapstructure:"tokens_per_minute" yaml:"tokens_per_minute"`
}

// AgentConfig is a provider fallback chain.
type AgentConfig struct {
	Primary   string   `mapstructure:"primary" yaml:"primary"`
	Fallbacks []string `mapstructure:"fallbacks" yaml:"fallbacks,omitempty"`
}

// Chain returns [primary, fallbacks...] with names normalized.
func (a AgentConfig) Chain() []string {
	chain := make([]string, 0, 1+len(a.Fallbacks))
	if p := NormalizeName(a.Primary); p != "" {
		chain = append(chain, p)
	}
	for _, fb := range a.Fallbacks {
		if name := NormalizeName(fb); name != "" {
			chain = append(chain, name)
		}
	}
	return chain
}

// DefaultRateLimit applies to providers with no limits configured anywhere.
var DefaultRateLimit = RateLimitConfig{RPM: 60, Burst: 60}

// EffectiveRateLimits resolves limiter settings for every known provider.
// An explicit rate_limits entry wins; otherwise the provider's rpm_limit and
// tpm_limit are used with burst equal to rpm; otherwise DefaultRateLimit.
func (c *Config) EffectiveRateLimits() map[string]RateLimitConfig {
	out := make(map[string]RateLimitConfig)
	if c == nil {
		return out
	}
	for name, rl := range c.RateLimits {
		out[NormalizeName(name)] = rl
	}
	for name, provider := range c.AILink.Providers {
		name = NormalizeName(name)
		if _, ok := out[name]; ok {
			continue
		}
		rl := DefaultRateLimit
		if provider.RPMLimit > 0 {
			rl = RateLimitConfig{RPM: provider.RPMLimit, Burst: provider.RPMLimit}
		}
		if provider.TPMLimit > 0 {
			rl.TokensPerMinute = provider.TPMLimit
		}
		out[name] = rl
	}
	return out
}

// ProviderRPMLimit returns the vendor-side RPM quota used for status
// classification. Zero means unknown.
func (c *Config) ProviderRPMLimit(name string) int {
	if c == nil {
		return 0
	}
	name = NormalizeName(name)
	if provider, ok := c.AILink.Providers[name]; ok && provider.RPMLimit > 0 {
		return provider.RPMLimit
	}
	if rl, ok := c.RateLimits[name]; ok {
		return rl.RPM
	}
	return 0
}

// Chains returns the fallback chain of every agent.
func (c *Config) Chains() map[string][]string {
	out := make(map[string][]string)
	if c == nil {
		return out
	}
	for name, agent := range c.Agents {
		out[NormalizeName(name)] = agent.Chain()
	}
	return out
}

// AgentNames lists configured agents, sorted.
func (c *Config) AgentNames() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.Agents))
	for name := range c.Agents {
		names = append(names, NormalizeName(name))
	}
	sort.Strings(names)
	return names
}

// ProviderNames lists configured providers, sorted.
func (c *Config) ProviderNames() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.AILink.Providers))
	for name := range c.AILink.Providers {
		names = append(names, NormalizeName(name))
	}
	sort.Strings(names)
	return names
}

// NormalizeName lowercases and trims a provider or agent name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

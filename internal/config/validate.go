package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/llmgate/llmgate/internal/ailink"
)

// ValidationError aggregates every problem found in a config.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Problems) == 0 {
		return "invalid configuration"
	}
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Validate checks cross-field constraints. Every violation is reported.
func (c *Config) Validate() error {
	if c == nil {
		return &ValidationError{Problems: []string{"config is nil"}}
	}
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Concurrency.MaxConcurrent < 1 {
		add("concurrency.max_concurrent must be >= 1 (got %d)", c.Concurrency.MaxConcurrent)
	}
	if c.Admission.MaxChecks < 1 {
		add("admission.max_checks must be >= 1 (got %d)", c.Admission.MaxChecks)
	}
	if c.Admission.MaxWait < 0 {
		add("admission.max_wait must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Profile)) {
	case "", "simple", "structured":
	default:
		add("logging.profile must be simple or structured (got %q)", c.Logging.Profile)
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level %q is not a known level", c.Logging.Level)
	}
	if c.AILink.DefaultTimeout < 0 {
		add("ailink.default_timeout must not be negative")
	}

	for _, name := range sortedKeys(c.AILink.Providers) {
		p := c.AILink.Providers[name]
		if !ailink.IsSupportedProviderType(p.AIProvider) {
			add("provider %s: unsupported ai_provider %q", name, p.AIProvider)
		}
		if p.RPMLimit < 0 || p.TPMLimit < 0 {
			add("provider %s: rpm_limit and tpm_limit must not be negative", name)
		}
		if p.Timeout < 0 {
			add("provider %s: timeout must not be negative", name)
		}
		if !p.Enabled {
			continue
		}
		if strings.TrimSpace(p.Model) == "" {
			add("provider %s: model is required", name)
		}
		isCompat := strings.EqualFold(strings.TrimSpace(p.AIProvider), ailink.ProviderTypeOpenAICompat)
		if isCompat && strings.TrimSpace(p.BaseURL) == "" {
			add("provider %s: base_url is required for openai_compat", name)
		}
		if !p.HasResolvableCredential() && !(isCompat && len(p.Credentials) == 0) {
			add("provider %s: no usable credential (set api_key or api_key_env)", name)
		}
	}

	for _, name := range sortedKeys(c.RateLimits) {
		rl := c.RateLimits[name]
		if _, ok := c.AILink.Providers[name]; !ok {
			add("rate_limits.%s: unknown provider", name)
		}
		if rl.RPM < 1 {
			add("rate_limits.%s: rpm must be >= 1 (got %d)", name, rl.RPM)
		}
		if rl.Burst < rl.RPM {
			add("rate_limits.%s: burst (%d) must be >= rpm (%d)", name, rl.Burst, rl.RPM)
		}
		if rl.TokensPerMinute < 0 {
			add("rate_limits.%s: tokens_per_minute must be >= 0", name)
		}
	}

	for _, name := range sortedKeys(c.Agents) {
		agent := c.Agents[name]
		if NormalizeName(agent.Primary) == "" {
			add("agents.%s: primary is required", name)
		}
		seen := make(map[string]bool)
		for _, provider := range agent.Chain() {
			if seen[provider] {
				add("agents.%s: provider %s appears more than once in the chain", name, provider)
				continue
			}
			seen[provider] = true
			if _, ok := c.AILink.Providers[provider]; !ok {
				add("agents.%s: unknown provider %s", name, provider)
			}
		}
	}

	if t := c.Throttle; t.Enabled {
		if t.Window <= 0 {
			add("throttle.window must be positive")
		}
		if t.Threshold < 1 {
			add("throttle.threshold must be >= 1")
		}
		if t.ReduceFactor <= 0 || t.ReduceFactor >= 1 {
			add("throttle.reduce_factor must be in (0, 1) (got %g)", t.ReduceFactor)
		}
		if t.MinRPM < 1 {
			add("throttle.min_rpm must be >= 1")
		}
		if t.Cooldown < 0 || t.RecoveryInterval < 0 {
			add("throttle.cooldown and throttle.recovery_interval must not be negative")
		}
		if t.RecoveryInterval > 0 && t.RecoveryFactor <= 1 {
			add("throttle.recovery_factor must be > 1 when recovery is enabled (got %g)", t.RecoveryFactor)
		}
	}

	if c.Snapshots.Interval < 0 {
		add("snapshots.interval must not be negative")
	}
	if c.Snapshots.Retention < 0 {
		add("snapshots.retention must not be negative")
	}
	if c.History.MaxTurns < 0 {
		add("history.max_turns must not be negative")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package ailink

import (
	"os"
	"strings"
	"time"
)

// Supported ai_provider values.
const (
	ProviderTypeOpenAI       = "openai"
	ProviderTypeAnthropic    = "anthropic"
	ProviderTypeOpenAICompat = "openai_compat"
)

// Config defines provider configuration for AILink.
//
// This is intentionally self-contained so it can later be extracted as a
// standalone library configuration subtree.
type Config struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`

	// Providers is a set of provider instances keyed by a user-defined id (slug).
	// Each instance declares its underlying provider type via AIProvider.
	Providers map[string]ProviderInstanceConfig `mapstructure:"providers" yaml:"providers"`
}

// ProviderInstanceConfig defines a configured provider instance (e.g. "openai-primary").
type ProviderInstanceConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// AIProvider is the provider type/driver identifier (openai, anthropic, openai_compat).
	AIProvider string `mapstructure:"ai_provider" yaml:"ai_provider"`

	// SelectionPolicy controls which credential is chosen.
	// Supported values: "priority" (default), "round_robin".
	SelectionPolicy string `mapstructure:"selection_policy" yaml:"selection_policy,omitempty"`

	// DefaultCredential, if set, forces selecting the matching credential label.
	// If missing/invalid, selection falls back to SelectionPolicy.
	DefaultCredential string `mapstructure:"default_credential" yaml:"default_credential,omitempty"`

	BaseURL string        `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Model   string        `mapstructure:"model" yaml:"model"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`

	// RPMLimit and TPMLimit describe the vendor-side quota. They feed status
	// classification and act as rate limiter defaults when no explicit
	// rate_limits entry exists.
	RPMLimit int `mapstructure:"rpm_limit" yaml:"rpm_limit,omitempty"`
	TPMLimit int `mapstructure:"tpm_limit" yaml:"tpm_limit,omitempty"`

	Credentials []CredentialConfig `mapstructure:"credentials" yaml:"credentials,omitempty"`
}

// CredentialConfig is a single credential for a provider instance.
//
// Multiple credentials enable key rotation and per-key rate limit handling.
type CredentialConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Label     string `mapstructure:"label" yaml:"label,omitempty"`
	APIKey    string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	APIKeyEnv string `mapstructure:"api_key_env" yaml:"api_key_env,omitempty"`
	Priority  int    `mapstructure:"priority" yaml:"priority,omitempty"`
}

// ResolveKey returns the literal key or, failing that, the value of APIKeyEnv.
func (c CredentialConfig) ResolveKey() string {
	if key := strings.TrimSpace(c.APIKey); key != "" {
		return key
	}
	if env := strings.TrimSpace(c.APIKeyEnv); env != "" {
		return strings.TrimSpace(os.Getenv(env))
	}
	return ""
}

// usable reports whether the credential can be selected. An unlabelled entry
// is the api_key shorthand and counts as enabled without the flag.
func (c CredentialConfig) usable() bool {
	if !c.Enabled && strings.TrimSpace(c.Label) != "" {
		return false
	}
	return c.ResolveKey() != ""
}

// HasResolvableCredential reports whether at least one credential yields a key.
func (p ProviderInstanceConfig) HasResolvableCredential() bool {
	for _, cred := range p.Credentials {
		if cred.usable() {
			return true
		}
	}
	return false
}

// IsSupportedProviderType reports whether an ai_provider value has a driver.
func IsSupportedProviderType(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case ProviderTypeOpenAI, ProviderTypeAnthropic, ProviderTypeOpenAICompat:
		return true
	default:
		return false
	}
}

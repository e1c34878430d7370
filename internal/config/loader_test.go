package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgate/llmgate/internal/ailink"
)

const sampleConfig = `
concurrency:
  max_concurrent: 4
admission:
  max_wait: 2s
ailink:
  providers:
    OpenAI:
      enabled: true
      ai_provider: openai
      model: gpt-4o-mini
      rpm_limit: 500
      credentials:
        - api_key_env: TEST_LLMGATE_OPENAI_KEY
    anthropic:
      enabled: true
      ai_provider: anthropic
      model: claude-3-5-haiku-latest
      timeout: 45s
      credentials:
        - api_key: sk-ant-test
rate_limits:
  openai:
    rpm: 100
    burst: 120
    tokens_per_minute: 90000
agents:
  Writer:
    primary: openai
    fallbacks: [anthropic]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("TEST_LLMGATE_OPENAI_KEY", "sk-test")

	cfg, err := LoadFile(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	t.Run("Defaults", func(t *testing.T) {
		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
		assert.Equal(t, 3, cfg.Admission.MaxChecks)
		assert.True(t, cfg.Throttle.Enabled)
		assert.InDelta(t, 0.8, cfg.Throttle.ReduceFactor, 1e-9)
		assert.NotEmpty(t, cfg.Store.Path)
	})

	t.Run("FileValues", func(t *testing.T) {
		assert.Equal(t, 4, cfg.Concurrency.MaxConcurrent)
		assert.Equal(t, 2*time.Second, cfg.Admission.MaxWait)
		require.Contains(t, cfg.AILink.Providers, "openai")
		assert.Equal(t, 45*time.Second, cfg.AILink.Providers["anthropic"].Timeout)
		assert.Equal(t, map[string][]string{"writer": {"openai", "anthropic"}}, cfg.Chains())
	})

	t.Run("EffectiveRateLimits", func(t *testing.T) {
		limits := cfg.EffectiveRateLimits()
		assert.Equal(t, RateLimitConfig{RPM: 100, Burst: 120, TokensPerMinute: 90000}, limits["openai"])
		assert.Equal(t, DefaultRateLimit, limits["anthropic"])
		assert.Equal(t, 500, cfg.ProviderRPMLimit("openai"))
		assert.Equal(t, 0, cfg.ProviderRPMLimit("anthropic"))
	})

	assert.Same(t, cfg, GetConfig())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("TEST_LLMGATE_OPENAI_KEY", "sk-test")
	t.Setenv("LLMGATE_MAX_CONCURRENT", "7")
	t.Setenv("LLMGATE_AILINK_PROVIDERS_ANTHROPIC_MODEL", "claude-sonnet-4-0")
	t.Setenv("LLMGATE_RATE_LIMITS_OPENAI_RPM", "50")
	t.Setenv("LLMGATE_AGENTS_WRITER_FALLBACKS", "anthropic")

	cfg, err := LoadFile(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Concurrency.MaxConcurrent)
	assert.Equal(t, "claude-sonnet-4-0", cfg.AILink.Providers["anthropic"].Model)
	assert.Equal(t, 50, cfg.RateLimits["openai"].RPM)
	assert.Equal(t, 120, cfg.RateLimits["openai"].Burst)
	assert.Equal(t, []string{"anthropic"}, cfg.Agents["writer"].Fallbacks)
}

func TestLoadRuntimeOverridesWin(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("TEST_LLMGATE_OPENAI_KEY", "sk-test")

	cfg, err := LoadFile(writeConfig(t, sampleConfig), map[string]any{
		"server": map[string]any{"port": 9999},
	})
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("TEST_LLMGATE_OPENAI_KEY", "")

	_, err := LoadFile(writeConfig(t, sampleConfig), map[string]any{
		"concurrency": map[string]any{"max_concurrent": 0},
	})
	require.Error(t, err)

	var validation *ValidationError
	require.True(t, errors.As(err, &validation))
	assert.Contains(t, err.Error(), "max_concurrent")
	assert.Contains(t, err.Error(), "provider openai: no usable credential")
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidateAggregatesProblems(t *testing.T) {
	cfg := &Config{
		Concurrency: ConcurrencyConfig{MaxConcurrent: 1},
		Admission:   AdmissionConfig{MaxChecks: 1},
		AILink: ailink.Config{Providers: map[string]ailink.ProviderInstanceConfig{
			"a": {Enabled: true, AIProvider: "openai", Model: "m", Credentials: []ailink.CredentialConfig{{APIKey: "k"}}},
			"b": {Enabled: false, AIProvider: "carrier-pigeon"},
		}},
		RateLimits: map[string]RateLimitConfig{
			"a":     {RPM: 10, Burst: 5},
			"ghost": {RPM: 1, Burst: 1},
		},
		Agents: map[string]AgentConfig{
			"dup":     {Primary: "a", Fallbacks: []string{"a"}},
			"missing": {Primary: "nope"},
			"empty":   {},
		},
		Throttle: ThrottleConfig{Enabled: true, Window: time.Minute, Threshold: 1, ReduceFactor: 1.5, MinRPM: 1},
	}

	err := cfg.Validate()
	require.Error(t, err)
	var validation *ValidationError
	require.True(t, errors.As(err, &validation))

	msg := err.Error()
	assert.Contains(t, msg, `provider b: unsupported ai_provider "carrier-pigeon"`)
	assert.Contains(t, msg, "rate_limits.a: burst (5) must be >= rpm (10)")
	assert.Contains(t, msg, "rate_limits.ghost: unknown provider")
	assert.Contains(t, msg, "agents.dup: provider a appears more than once")
	assert.Contains(t, msg, "agents.missing: unknown provider nope")
	assert.Contains(t, msg, "agents.empty: primary is required")
	assert.Contains(t, msg, "throttle.reduce_factor")
}

func TestValidateAcceptsBurstEqualToRPM(t *testing.T) {
	cfg := &Config{
		Concurrency: ConcurrencyConfig{MaxConcurrent: 1},
		Admission:   AdmissionConfig{MaxChecks: 1},
		AILink: ailink.Config{Providers: map[string]ailink.ProviderInstanceConfig{
			"a": {AIProvider: "openai_compat"},
		}},
		RateLimits: map[string]RateLimitConfig{"a": {RPM: 5, Burst: 5}},
	}
	require.NoError(t, cfg.Validate())
}

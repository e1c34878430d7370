package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgate/llmgate/internal/ailink"
	"github.com/llmgate/llmgate/internal/config"
)

func TestRegistryGetCreatesDefaults(t *testing.T) {
	registry := NewRegistry(Limits{RPM: 5, Burst: 5})

	limiter := registry.Get("OpenAI ")
	require.NotNil(t, limiter)
	assert.Same(t, limiter, registry.Get("openai"))
	assert.Equal(t, Limits{RPM: 5, Burst: 5}, limiter.Limits())
	assert.Equal(t, []string{"openai"}, registry.Providers())
}

func TestRegistryInvalidDefaultsFallBack(t *testing.T) {
	registry := NewRegistry(Limits{RPM: 10, Burst: 1})
	assert.Equal(t, DefaultLimits, registry.Get("x").Limits())
}

func TestRegistryApplyUpdatesInPlace(t *testing.T) {
	clock := newFakeClock()
	registry := NewRegistry(DefaultLimits)
	registry.Clock = clock.Now

	cfg := &config.Config{
		AILink: ailink.Config{Providers: map[string]ailink.ProviderInstanceConfig{
			"openai":    {Enabled: true, AIProvider: "openai"},
			"anthropic": {Enabled: true, AIProvider: "anthropic", RPMLimit: 50, TPMLimit: 40000},
		}},
		RateLimits: map[string]config.RateLimitConfig{
			"openai": {RPM: 10, Burst: 20, TokensPerMinute: 5000},
		},
	}
	require.NoError(t, registry.Apply(cfg))

	openai := registry.Get("openai")
	assert.Equal(t, Limits{RPM: 10, Burst: 20, TokensPerMinute: 5000}, openai.Limits())
	assert.Equal(t, Limits{RPM: 50, Burst: 50, TokensPerMinute: 40000}, registry.Get("anthropic").Limits())

	require.True(t, openai.Acquire(100).Admitted)

	cfg.RateLimits["openai"] = config.RateLimitConfig{RPM: 4, Burst: 4, TokensPerMinute: 5000}
	delete(cfg.AILink.Providers, "anthropic")
	require.NoError(t, registry.Apply(cfg))

	assert.Same(t, openai, registry.Get("openai"))
	snapshot := openai.Snapshot()
	assert.Equal(t, 4, snapshot.RPM)
	assert.Equal(t, 1, snapshot.WindowCount)
	assert.Equal(t, 100, snapshot.TokensConsumed)
	assert.Equal(t, []string{"openai"}, registry.Providers())
}

func TestRegistryApplyRejectsInvalidLimits(t *testing.T) {
	registry := NewRegistry(DefaultLimits)
	cfg := &config.Config{
		RateLimits: map[string]config.RateLimitConfig{
			"openai": {RPM: 10, Burst: 5},
		},
	}
	require.Error(t, registry.Apply(cfg))
	require.Error(t, registry.Apply(nil))
}

func TestRegistrySnapshots(t *testing.T) {
	registry := NewRegistry(DefaultLimits)
	require.NoError(t, registry.Set("a", Limits{RPM: 1, Burst: 1}))
	require.True(t, registry.Get("a").Acquire(0).Admitted)

	snapshots := registry.Snapshots()
	require.Contains(t, snapshots, "a")
	assert.Equal(t, 1, snapshots["a"].WindowCount)
	assert.InDelta(t, 0.0, snapshots["a"].BucketTokens, 0.01)
}

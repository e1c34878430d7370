package ailink

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/llmgate/llmgate/internal/ailink/driver/anthropic"
	"github.com/llmgate/llmgate/internal/ailink/driver/compat"
	"github.com/llmgate/llmgate/internal/ailink/driver/openai"
	"github.com/llmgate/llmgate/internal/core"
)

func TestSelectCredentialPrefersHighestPriority(t *testing.T) {
	cfg := ProviderInstanceConfig{
		Credentials: []CredentialConfig{
			{Enabled: true, Label: "low", APIKey: "k1", Priority: 1},
			{Enabled: true, Label: "high", APIKey: "k2", Priority: 5},
		},
	}
	cred, key, err := selectCredential(cfg, nil)
	require.NoError(t, err)
	require.Equal(t, "high", cred.Label)
	require.Equal(t, "high", key)
}

func TestSelectCredentialDefaultCredentialWins(t *testing.T) {
	cfg := ProviderInstanceConfig{
		DefaultCredential: "LOW",
		Credentials: []CredentialConfig{
			{Enabled: true, Label: "low", APIKey: "k1", Priority: 1},
			{Enabled: true, Label: "high", APIKey: "k2", Priority: 5},
		},
	}
	cred, _, err := selectCredential(cfg, nil)
	require.NoError(t, err)
	require.Equal(t, "low", cred.Label)
}

func TestSelectCredentialRoundRobin(t *testing.T) {
	registry := NewRegistry(Config{})
	cfg := ProviderInstanceConfig{
		SelectionPolicy: "round_robin",
		Credentials: []CredentialConfig{
			{Enabled: true, Label: "a", APIKey: "k1"},
			{Enabled: true, Label: "b", APIKey: "k2"},
		},
	}
	next := func(group string, n int) int { return registry.rrIndex("p:"+group, n) }

	first, _, err := selectCredential(cfg, next)
	require.NoError(t, err)
	second, _, err := selectCredential(cfg, next)
	require.NoError(t, err)
	third, _, err := selectCredential(cfg, next)
	require.NoError(t, err)

	require.Equal(t, "a", first.Label)
	require.Equal(t, "b", second.Label)
	require.Equal(t, "a", third.Label)
}

func TestSelectCredentialResolvesEnvKeys(t *testing.T) {
	t.Setenv("LLMGATE_TEST_OPENAI_KEY", "from-env")
	cfg := ProviderInstanceConfig{
		Credentials: []CredentialConfig{
			{Enabled: true, Label: "missing", APIKeyEnv: "LLMGATE_TEST_UNSET_KEY", Priority: 9},
			{Enabled: true, Label: "env", APIKeyEnv: "LLMGATE_TEST_OPENAI_KEY"},
		},
	}
	cred, _, err := selectCredential(cfg, nil)
	require.NoError(t, err)
	require.Equal(t, "env", cred.Label)
	require.Equal(t, "from-env", cred.ResolveKey())
}

func TestSelectCredentialCompatWithoutCredentials(t *testing.T) {
	_, key, err := selectCredential(ProviderInstanceConfig{AIProvider: ProviderTypeOpenAICompat}, nil)
	require.NoError(t, err)
	require.Empty(t, key)

	_, _, err = selectCredential(ProviderInstanceConfig{AIProvider: ProviderTypeOpenAI}, nil)
	require.Error(t, err)
}

func TestResolveBuildsDriverPerType(t *testing.T) {
	registry := NewRegistry(Config{
		DefaultTimeout: 30 * time.Second,
		Providers: map[string]ProviderInstanceConfig{
			"openai": {Enabled: true, AIProvider: "openai", Model: "gpt-4o-mini", Credentials: []CredentialConfig{{Enabled: true, APIKey: "k"}}},
			"claude": {Enabled: true, AIProvider: "anthropic", Model: "claude-3-5-haiku-latest", Timeout: 5 * time.Second, Credentials: []CredentialConfig{{Enabled: true, APIKey: "k"}}},
			"local":  {Enabled: true, AIProvider: "openai_compat", Model: "llama3", BaseURL: "http://localhost:11434/v1"},
			"off":    {Enabled: false, AIProvider: "openai", Model: "m"},
			"weird":  {Enabled: true, AIProvider: "palm", Model: "m", Credentials: []CredentialConfig{{Enabled: true, APIKey: "k"}}},
		},
	})

	resolved, err := registry.Resolve("OpenAI")
	require.NoError(t, err)
	require.IsType(t, &openai.Client{}, resolved.Driver)
	require.Equal(t, 30*time.Second, resolved.Timeout)

	resolved, err = registry.Resolve("claude")
	require.NoError(t, err)
	require.IsType(t, &anthropic.Client{}, resolved.Driver)
	require.Equal(t, 5*time.Second, resolved.Timeout)

	resolved, err = registry.Resolve("local")
	require.NoError(t, err)
	require.IsType(t, &compat.Client{}, resolved.Driver)

	again, err := registry.Resolve("local")
	require.NoError(t, err)
	require.Same(t, resolved.Driver, again.Driver)

	_, err = registry.Resolve("off")
	require.ErrorContains(t, err, "disabled")
	_, err = registry.Resolve("missing")
	require.ErrorContains(t, err, "unknown provider")
	_, err = registry.Resolve("weird")
	require.ErrorContains(t, err, "unsupported ai_provider")
}

func TestGatewayCallsCompatProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))
		require.Equal(t, "llama3", payload["model"])
		require.EqualValues(t, 16, payload["max_tokens"])

		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"pong"},"finish_reason":"stop"}],"usage":{"prompt_tokens":2,"completion_tokens":1,"total_tokens":3}}`))
	}))
	defer server.Close()

	gateway := NewGateway(Config{
		Providers: map[string]ProviderInstanceConfig{
			"local": {Enabled: true, AIProvider: "openai_compat", Model: "llama3", BaseURL: server.URL},
		},
	})

	reply, err := gateway.Call(context.Background(), "local", core.CompletionRequest{UserPrompt: "ping", MaxTokens: 16})
	require.NoError(t, err)
	require.Equal(t, "pong", reply.Content)
	require.Equal(t, "llama3", reply.Model)
	require.Equal(t, 2, reply.TokensInput)
	require.Equal(t, 1, reply.TokensOutput)
	require.NoError(t, gateway.Ping("local"))

	gateway.Configure(Config{})
	_, err = gateway.Call(context.Background(), "local", core.CompletionRequest{UserPrompt: "ping"})
	require.ErrorContains(t, err, "unknown provider")
}

func TestGatewayAppliesProviderTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	gateway := NewGateway(Config{
		Providers: map[string]ProviderInstanceConfig{
			"local": {Enabled: true, AIProvider: "openai_compat", Model: "m", BaseURL: server.URL, Timeout: 20 * time.Millisecond},
		},
	})

	_, err := gateway.Call(context.Background(), "local", core.CompletionRequest{UserPrompt: "ping"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

package compat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/llmgate/llmgate/internal/ailink/driver"
)

func TestClientRequiresBaseURL(t *testing.T) {
	client := NewClient("", "")
	_, err := client.Complete(context.Background(), &driver.Request{Model: "m", UserPrompt: "hi"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "base_url")
}

func TestClientSendsRequestAndParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var payload chatCompletionRequest
		require.NoError(t, json.Unmarshal(body, &payload))
		require.Equal(t, "local-model", payload.Model)
		require.Len(t, payload.Messages, 2)
		require.Equal(t, "system", payload.Messages[0].Role)
		require.NotNil(t, payload.MaxTokens)
		require.Equal(t, 64, *payload.MaxTokens)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"local-model","choices":[{"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":4,"completion_tokens":1,"total_tokens":5}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/v1", "test-key")
	client.HTTPClient = server.Client()

	maxTokens := 64
	resp, err := client.Complete(context.Background(), &driver.Request{
		Model:        "local-model",
		SystemPrompt: "be brief",
		UserPrompt:   "hi",
		MaxTokens:    &maxTokens,
	})
	require.NoError(t, err)
	require.Equal(t, "hello", resp.Content)
	require.Equal(t, "stop", resp.FinishReason)
	require.NotNil(t, resp.Usage)
	require.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestClientOmitsAuthWithoutKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	client.HTTPClient = server.Client()

	resp, err := client.Complete(context.Background(), &driver.Request{Model: "m", UserPrompt: "hi"})
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Content)
}

func TestClientReturnsProviderErrorWithRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer server.Close()

	client := NewClient(server.URL, "k")
	client.HTTPClient = server.Client()
	client.ProviderID = "local"

	_, err := client.Complete(context.Background(), &driver.Request{Model: "m", UserPrompt: "hi"})
	require.Error(t, err)

	var perr *driver.ProviderError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, "local", perr.Provider)
	require.Equal(t, http.StatusTooManyRequests, perr.StatusCode)
	require.Equal(t, 7*time.Second, perr.RetryAfter)
	require.Contains(t, err.Error(), "slow down")
}

func TestClientHonorsTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(server.URL, "k")
	client.HTTPClient = server.Client()
	client.Timeout = 20 * time.Millisecond

	_, err := client.Complete(context.Background(), &driver.Request{Model: "m", UserPrompt: "hi"})
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

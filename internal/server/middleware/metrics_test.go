package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgate/llmgate/internal/observability"
)

func useFakeCollector(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()
	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	saved := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = saved })
	return collector
}

func replyWith(status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

func TestRequestMetricsEmission(t *testing.T) {
	cases := []struct {
		name   string
		method string
		status int
		errors int
	}{
		{"ok", http.MethodGet, http.StatusOK, 0},
		{"bad request", http.MethodPost, http.StatusBadRequest, 1},
		{"rate limited", http.MethodPost, http.StatusTooManyRequests, 1},
		{"unavailable", http.MethodPost, http.StatusServiceUnavailable, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			collector := useFakeCollector(t)

			req := httptest.NewRequest(tc.method, "/v1/agents/writer/completions", strings.NewReader(`{"prompt":"hi"}`))
			rec := httptest.NewRecorder()
			RequestMetrics(replyWith(tc.status, "done")).ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, "done", rec.Body.String())
			assert.Equal(t, 1, collector.CountMetricsByName("http_requests_total"))
			assert.Positive(t, collector.CountMetricsByName("http_request_duration_ms"))
			assert.Equal(t, 1, collector.CountMetricsByName("http_request_size_bytes"))
			assert.Equal(t, 1, collector.CountMetricsByName("http_response_size_bytes"))
			assert.Equal(t, tc.errors, collector.CountMetricsByName("http_errors_total"))
		})
	}
}

func TestRequestMetricsWithoutTelemetry(t *testing.T) {
	saved := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = saved })

	rec := httptest.NewRecorder()
	RequestMetrics(replyWith(http.StatusAccepted, "")).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRequestMetricsKeepsRequestID(t *testing.T) {
	collector := useFakeCollector(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "probe-1")
	rec := httptest.NewRecorder()
	RequestID(RequestMetrics(replyWith(http.StatusOK, ""))).ServeHTTP(rec, req)

	assert.Equal(t, "probe-1", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, 1, collector.CountMetricsByName("http_requests_total"))
}

func TestGetEndpointPatternBuckets(t *testing.T) {
	buckets := map[string]string{
		"/":                              "/",
		"/version":                       "/version",
		"/metrics":                       "/metrics",
		"/health":                        "/health/*",
		"/health/ready":                  "/health/*",
		"/v1/agents/writer/completions":  "/v1/*",
		"/v1/conversations/c-42":         "/v1/*",
		"/admin/providers/openai/config": "/unknown",
	}
	for path, want := range buckets {
		assert.Equal(t, want, getEndpointPattern(httptest.NewRequest(http.MethodGet, path, nil)), path)
	}
}

func TestGetEndpointPatternPrefersRoute(t *testing.T) {
	var seen string
	router := chi.NewRouter()
	router.Get("/v1/conversations/{id}", func(w http.ResponseWriter, r *http.Request) {
		seen = getEndpointPattern(r)
	})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/conversations/c-9", nil))
	assert.Equal(t, "/v1/conversations/{id}", seen)
}

func TestErrorType(t *testing.T) {
	assert.Equal(t, "rate_limited", errorType(http.StatusTooManyRequests))
	assert.Equal(t, "client_error", errorType(http.StatusNotFound))
	assert.Equal(t, "server_error", errorType(http.StatusBadGateway))
}

package metrics

import (
	"time"

	"github.com/llmgate/llmgate/internal/observability"
)

// Gateway metrics
const (
	AttemptsTotal           = "gateway_attempts_total"
	FallbacksTotal          = "gateway_fallbacks_total"
	ExhaustedTotal          = "gateway_exhausted_total"
	RateLimitWaitMs         = "gateway_rate_limit_wait_ms"
	SemaphoreActive         = "gateway_semaphore_active"
	ThrottleReductionsTotal = "gateway_throttle_reductions_total"
	ProviderCallDuration    = "gateway_provider_call_duration_ms"
)

// Attempt outcomes
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeSkipped   = "skipped"
	OutcomeCancelled = "cancelled"
)

// RecordAttempt counts one provider attempt by outcome.
func RecordAttempt(provider, outcome, category string) {
	if observability.TelemetrySystem == nil {
		return
	}
	labels := map[string]string{
		"provider": provider,
		"outcome":  outcome,
	}
	if category != "" {
		labels["category"] = category
	}
	counter(AttemptsTotal, labels)
}

// RecordProviderCall records the latency of a provider call.
func RecordProviderCall(provider string, duration time.Duration) {
	histogram(ProviderCallDuration, duration, map[string]string{"provider": provider})
}

// RecordFallback counts a request served by a provider other than the chain primary.
func RecordFallback(agent, provider string) {
	counter(FallbacksTotal, map[string]string{"agent": agent, "provider": provider})
}

// RecordExhausted counts a request for which every provider failed.
func RecordExhausted(agent string) {
	counter(ExhaustedTotal, map[string]string{"agent": agent})
}

// RecordRateLimitWait records time spent waiting on a provider limiter.
func RecordRateLimitWait(provider string, wait time.Duration) {
	histogram(RateLimitWaitMs, wait, map[string]string{"provider": provider})
}

// SetSemaphoreActive sets the number of held concurrency slots.
func SetSemaphoreActive(active int) {
	gauge(SemaphoreActive, float64(active))
}

// RecordThrottleReduction counts an auto-throttler RPM reduction.
func RecordThrottleReduction(provider string) {
	counter(ThrottleReductionsTotal, map[string]string{"provider": provider})
}

func histogram(name string, d time.Duration, labels map[string]string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Histogram(name, d, labels)
	}
}

package core

import "time"

// RateLimitState captures a point-in-time view of a provider rate limiter.
type RateLimitState struct {
	RPM             int       `json:"rpm"`
	Burst           int       `json:"burst"`
	TokensPerMinute int       `json:"tokens_per_minute"`
	BucketTokens    float64   `json:"bucket_tokens"`
	WindowCount     int       `json:"window_count"`
	TokensConsumed  int       `json:"tokens_consumed"`
	MinuteStart     time.Time `json:"minute_start"`
}

// ProviderMetrics is a read-only snapshot of tracked provider behavior.
type ProviderMetrics struct {
	Provider        string     `json:"provider"`
	TotalRequests   int64      `json:"total_requests"`
	TotalFailures   int64      `json:"total_failures"`
	TotalCancelled  int64      `json:"total_cancelled"`
	FailureRate     float64    `json:"failure_rate"`
	AvgLatencyMs    float64    `json:"avg_latency_ms"`
	P95LatencyMs    float64    `json:"p95_latency_ms"`
	Samples         int        `json:"samples"`
	LastError       string     `json:"last_error,omitempty"`
	LastErrorTime   *time.Time `json:"last_error_time,omitempty"`
	Last429Time     *time.Time `json:"last_429_time,omitempty"`
	LastRequestTime *time.Time `json:"last_request_time,omitempty"`
	RPMCurrent      int        `json:"rpm_current"`
}

// ProviderReport combines status, metrics and limiter state for one provider.
type ProviderReport struct {
	Provider  string          `json:"provider"`
	Status    ProviderStatus  `json:"status"`
	Enabled   bool            `json:"enabled"`
	Metrics   ProviderMetrics `json:"metrics"`
	RateLimit RateLimitState  `json:"rate_limit"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ThrottleAction names an auto-throttler adjustment.
type ThrottleAction string

const (
	ThrottleReduce  ThrottleAction = "reduce"
	ThrottleRecover ThrottleAction = "recover"
)

// ThrottleEvent records one RPM adjustment made by the auto-throttler.
type ThrottleEvent struct {
	Provider       string         `json:"provider"`
	Action         ThrottleAction `json:"action"`
	OldRPM         int            `json:"old_rpm"`
	NewRPM         int            `json:"new_rpm"`
	OldBurst       int            `json:"old_burst"`
	NewBurst       int            `json:"new_burst"`
	RateLimitCount int            `json:"rate_limit_count,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

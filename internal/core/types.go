package core

import "time"

// ProviderStatus is the derived health classification of a provider.
type ProviderStatus string

const (
	StatusHealthy     ProviderStatus = "healthy"
	StatusDegraded    ProviderStatus = "degraded"
	StatusUnavailable ProviderStatus = "unavailable"
)

// ErrorCategory classifies a failed provider attempt.
type ErrorCategory string

const (
	ErrorRateLimit ErrorCategory = "rate_limit"
	ErrorTimeout   ErrorCategory = "timeout"
	ErrorNetwork   ErrorCategory = "network"
	ErrorAPI       ErrorCategory = "api_error"
	ErrorUnknown   ErrorCategory = "unknown"
)

// CompletionRequest is a provider-agnostic chat completion request.
type CompletionRequest struct {
	SystemPrompt string   `json:"system_prompt,omitempty"`
	UserPrompt   string   `json:"user_prompt"`
	MaxTokens    int      `json:"max_tokens,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`

	// EstimatedTokens overrides the admission estimate when positive.
	EstimatedTokens int `json:"estimated_tokens,omitempty"`

	ConversationID string `json:"conversation_id,omitempty"`
}

// EstimateTokens returns the number of tokens used for pre-admission budget checks.
// Prompts are approximated at four characters per token.
func (r CompletionRequest) EstimateTokens() int {
	if r.EstimatedTokens > 0 {
		return r.EstimatedTokens
	}
	chars := len(r.SystemPrompt) + len(r.UserPrompt)
	estimate := (chars + 3) / 4
	if r.MaxTokens > 0 {
		estimate += r.MaxTokens
	}
	return estimate
}

// ProviderReply is the normalized response of a single provider call.
type ProviderReply struct {
	Content      string `json:"content"`
	TokensInput  int    `json:"tokens_input"`
	TokensOutput int    `json:"tokens_output"`
	FinishReason string `json:"finish_reason,omitempty"`
	Model        string `json:"model,omitempty"`
}

// CompletionResult is returned to callers after a successful fallback run.
type CompletionResult struct {
	ProviderReply
	Agent        string        `json:"agent"`
	ProviderUsed string        `json:"provider_used"`
	FallbackUsed bool          `json:"fallback_used"`
	Attempts     int           `json:"attempts"`
	Latency      time.Duration `json:"latency_ns"`
}

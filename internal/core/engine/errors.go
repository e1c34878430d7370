package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/llmgate/llmgate/internal/core"
)

// ErrUnknownAgent is returned when no fallback chain exists for an agent.
var ErrUnknownAgent = errors.New("unknown agent")

// AttemptError records the last outcome of one candidate in a chain.
type AttemptError struct {
	Provider string             `json:"provider"`
	Category core.ErrorCategory `json:"category"`
	Skipped  bool               `json:"skipped,omitempty"`
	Err      error              `json:"-"`
}

func (a AttemptError) Error() string {
	msg := "no error"
	if a.Err != nil {
		msg = a.Err.Error()
	}
	if a.Skipped {
		return fmt.Sprintf("%s skipped (%s): %s", a.Provider, a.Category, msg)
	}
	return fmt.Sprintf("%s (%s): %s", a.Provider, a.Category, msg)
}

// ExhaustedError is returned when every candidate in a chain failed or was skipped.
type ExhaustedError struct {
	Agent    string
	Attempts []AttemptError
}

func (e *ExhaustedError) Error() string {
	if e == nil {
		return "all providers failed"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, attempt := range e.Attempts {
		parts = append(parts, attempt.Error())
	}
	return fmt.Sprintf("agent %s: all %d providers failed: %s", e.Agent, len(e.Attempts), strings.Join(parts, "; "))
}

// Unwrap exposes the per-provider errors to errors.Is and errors.As.
func (e *ExhaustedError) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, len(e.Attempts))
	for _, attempt := range e.Attempts {
		if attempt.Err != nil {
			out = append(out, attempt.Err)
		}
	}
	return out
}

// OnlyRateLimited reports whether every attempt ended on a rate limit.
func (e *ExhaustedError) OnlyRateLimited() bool {
	if e == nil || len(e.Attempts) == 0 {
		return false
	}
	for _, attempt := range e.Attempts {
		if attempt.Category != core.ErrorRateLimit {
			return false
		}
	}
	return true
}

// localRateLimitError marks a candidate skipped because its own limiter refused admission.
type localRateLimitError struct {
	reason string
	wait   string
}

func (e *localRateLimitError) Error() string {
	return fmt.Sprintf("local rate limit (%s), next slot in %s", e.reason, e.wait)
}

var errDisabled = errors.New("provider disabled")

var errUnavailable = errors.New("provider unavailable")

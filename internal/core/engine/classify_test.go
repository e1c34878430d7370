package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/llmgate/llmgate/internal/ailink/driver"
	"github.com/llmgate/llmgate/internal/core"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want core.ErrorCategory
	}{
		{name: "nil", err: nil, want: core.ErrorUnknown},
		{name: "deadline", err: context.DeadlineExceeded, want: core.ErrorTimeout},
		{name: "wrapped deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: core.ErrorTimeout},
		{name: "net timeout", err: timeoutErr{}, want: core.ErrorTimeout},
		{name: "provider 429", err: &driver.ProviderError{Provider: "openai", StatusCode: 429, Message: "slow down"}, want: core.ErrorRateLimit},
		{name: "provider 504", err: &driver.ProviderError{Provider: "openai", StatusCode: 504}, want: core.ErrorTimeout},
		{name: "provider 401", err: &driver.ProviderError{Provider: "openai", StatusCode: 401, Message: "bad key"}, want: core.ErrorAPI},
		{name: "provider 500", err: &driver.ProviderError{Provider: "openai", StatusCode: 500}, want: core.ErrorAPI},
		{name: "message rate limit", err: errors.New("Rate limit exceeded"), want: core.ErrorRateLimit},
		{name: "message too many requests", err: errors.New("Too Many Requests"), want: core.ErrorRateLimit},
		{name: "message 429", err: errors.New("upstream said 429"), want: core.ErrorRateLimit},
		{name: "conn refused", err: fmt.Errorf("dial: %w", syscall.ECONNREFUSED), want: core.ErrorNetwork},
		{name: "op error", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("no route")}, want: core.ErrorNetwork},
		{name: "url error", err: &url.Error{Op: "Post", URL: "http://x", Err: errors.New("eof")}, want: core.ErrorNetwork},
		{name: "message 400", err: errors.New("bad request (400)"), want: core.ErrorAPI},
		{name: "message 500 is unknown", err: errors.New("server said 500"), want: core.ErrorUnknown},
		{name: "other", err: errors.New("boom"), want: core.ErrorUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

func TestClassifyErrorRateLimitBeatsNetwork(t *testing.T) {
	err := &url.Error{Op: "Post", URL: "http://x", Err: errors.New("429 too many requests")}
	assert.Equal(t, core.ErrorRateLimit, ClassifyError(err))
}

func TestClassifyErrorIsStable(t *testing.T) {
	err := &driver.ProviderError{Provider: "anthropic", StatusCode: 429}
	first := ClassifyError(err)
	second := ClassifyError(err)
	assert.Equal(t, first, second)
}

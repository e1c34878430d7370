package engine

import (
	"context"
	"errors"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"github.com/llmgate/llmgate/internal/ailink/driver"
	"github.com/llmgate/llmgate/internal/core"
)

var statusPattern = regexp.MustCompile(`\b(4\d\d)\b`)

// ClassifyError maps a failed provider attempt to an error category.
// It has no side effects; classifying the same error twice yields the same result.
func ClassifyError(err error) core.ErrorCategory {
	if err == nil {
		return core.ErrorUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return core.ErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return core.ErrorTimeout
	}

	var providerErr *driver.ProviderError
	if errors.As(err, &providerErr) && providerErr.StatusCode > 0 {
		switch code := providerErr.StatusCode; {
		case code == 429:
			return core.ErrorRateLimit
		case code == 408 || code == 504:
			return core.ErrorTimeout
		case code >= 400 && code < 600:
			return core.ErrorAPI
		}
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") {
		return core.ErrorRateLimit
	}

	var opErr *net.OpError
	var urlErr *url.Error
	if errors.As(err, &opErr) || errors.As(err, &urlErr) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") {
		return core.ErrorNetwork
	}

	if match := statusPattern.FindString(msg); match != "" {
		if code, convErr := strconv.Atoi(match); convErr == nil && code >= 400 && code < 500 {
			return core.ErrorAPI
		}
	}

	return core.ErrorUnknown
}

// Package alert delivers operator notifications about provider throttling and health.
package alert

import (
	"context"
	"errors"
	"time"

	"github.com/llmgate/llmgate/internal/core"
)

// ThrottleAlert is sent when the auto-throttler lowers a provider's RPM.
type ThrottleAlert struct {
	Provider       string        `json:"provider"`
	RateLimitCount int           `json:"rate_limit_count"`
	Window         time.Duration `json:"window_ns"`
	OldRPM         int           `json:"old_rpm"`
	NewRPM         int           `json:"new_rpm"`
	At             time.Time     `json:"at"`
}

// HealthAlert is sent when a provider in a chain could not serve a request.
type HealthAlert struct {
	Provider string              `json:"provider"`
	Status   core.ProviderStatus `json:"status"`
	Category core.ErrorCategory  `json:"error_type,omitempty"`
	Agent    string              `json:"agent,omitempty"`
	ServedBy string              `json:"served_by,omitempty"`
	Reason   string              `json:"reason,omitempty"`
	At       time.Time           `json:"at"`
}

// Notifier delivers alerts. Implementations must be safe for concurrent use.
type Notifier interface {
	SendThrottleAlert(ctx context.Context, alert ThrottleAlert) error
	SendHealthAlert(ctx context.Context, alert HealthAlert) error
}

// Multi fans an alert out to several notifiers and joins their errors.
type Multi []Notifier

func (m Multi) SendThrottleAlert(ctx context.Context, alert ThrottleAlert) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.SendThrottleAlert(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) SendHealthAlert(ctx context.Context, alert HealthAlert) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.SendHealthAlert(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package alert

import (
	"context"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
)

// LogNotifier writes alerts as structured log lines.
type LogNotifier struct {
	Logger *logging.Logger
}

func (n *LogNotifier) SendThrottleAlert(_ context.Context, alert ThrottleAlert) error {
	if n == nil || n.Logger == nil {
		return nil
	}
	n.Logger.Warn("Provider throttled",
		zap.String("provider", alert.Provider),
		zap.Int("rate_limit_count", alert.RateLimitCount),
		zap.Duration("window", alert.Window),
		zap.Int("old_rpm", alert.OldRPM),
		zap.Int("new_rpm", alert.NewRPM),
	)
	return nil
}

func (n *LogNotifier) SendHealthAlert(_ context.Context, alert HealthAlert) error {
	if n == nil || n.Logger == nil {
		return nil
	}
	n.Logger.Warn("Provider health degraded",
		zap.String("provider", alert.Provider),
		zap.String("status", string(alert.Status)),
		zap.String("error_type", string(alert.Category)),
		zap.String("agent", alert.Agent),
		zap.String("served_by", alert.ServedBy),
		zap.String("reason", alert.Reason),
	)
	return nil
}

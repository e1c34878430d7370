package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/llmgate/llmgate/internal/ailink"
	"github.com/llmgate/llmgate/internal/alert"
	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/core"
	"github.com/llmgate/llmgate/internal/core/engine"
	"github.com/llmgate/llmgate/internal/core/ratelimit"
	"github.com/llmgate/llmgate/internal/core/semaphore"
	"github.com/llmgate/llmgate/internal/core/status"
	"github.com/llmgate/llmgate/internal/metrics"
)

// gatewayStack holds every component on the completion path.
type gatewayStack struct {
	Semaphore    *semaphore.Semaphore
	Limiters     *ratelimit.Registry
	Tracker      *status.Tracker
	Throttler    *engine.AutoThrottler
	Orchestrator *engine.Orchestrator
	Gateway      *ailink.Gateway
	Alerts       *alert.Cooldown
	Reloader     *config.Reloader
}

// buildGatewayStack wires the admission and fallback components for cfg.
// events may be nil when no store is available.
func buildGatewayStack(cfg *config.Config, logger *logging.Logger, events engine.ThrottleEventSink) (*gatewayStack, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	sem, err := semaphore.New(cfg.Concurrency.MaxConcurrent)
	if err != nil {
		return nil, err
	}

	limiters := ratelimit.NewRegistry(ratelimit.DefaultLimits)
	tracker := status.NewTracker()
	alerts := alert.NewCooldown(&alert.LogNotifier{Logger: logger}, cfg.Alerts.Cooldown)

	throttler := engine.NewAutoThrottler(limiters, tracker, engine.ThrottleSettingsFromConfig(cfg.Throttle))
	throttler.Notifier = alerts
	throttler.Logger = logger
	if events != nil {
		throttler.Events = events
	}

	gateway := ailink.NewGateway(cfg.AILink)
	orch := &engine.Orchestrator{
		Caller:    gateway,
		Limiters:  limiters,
		Semaphore: sem,
		Tracker:   tracker,
		Throttler: throttler,
		Notifier:  alerts,
		Logger:    logger,
	}

	// Limiters before the throttler: the throttler reads baselines from the
	// same config and forgets reductions the registry just reset.
	reloader := config.NewReloader(cfg)
	reloader.Register("rate_limits", limiters)
	reloader.Register("throttler", throttler)
	reloader.Register("orchestrator", orch)
	reloader.Register("alerts", alerts)
	reloader.Register("ailink", config.ReconfigurableFunc(func(c *config.Config) error {
		gateway.Configure(c.AILink)
		return nil
	}))
	if err := reloader.ApplyAll(); err != nil {
		return nil, err
	}

	return &gatewayStack{
		Semaphore:    sem,
		Limiters:     limiters,
		Tracker:      tracker,
		Throttler:    throttler,
		Orchestrator: orch,
		Gateway:      gateway,
		Alerts:       alerts,
		Reloader:     reloader,
	}, nil
}

// snapshotSink persists provider reports.
type snapshotSink interface {
	SaveSnapshots(ctx context.Context, reports []core.ProviderReport) error
	PruneSnapshots(ctx context.Context, before time.Time) (int64, error)
}

// runSnapshots writes provider reports every interval until ctx is done.
func runSnapshots(ctx context.Context, orch *engine.Orchestrator, sink snapshotSink, interval, retention time.Duration, logger *logging.Logger) {
	if orch == nil || sink == nil || interval <= 0 {
		return
	}
	started := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			metrics.SetServerUptime(int64(now.Sub(started).Seconds()))
			err := saveSnapshot(ctx, orch, sink, retention, now)
			metrics.RecordOperation("snapshot", err == nil)
			if err != nil && logger != nil {
				logger.Warn("Failed to persist provider snapshot", zap.Error(err))
			}
		}
	}
}

func saveSnapshot(ctx context.Context, orch *engine.Orchestrator, sink snapshotSink, retention time.Duration, now time.Time) error {
	if err := sink.SaveSnapshots(ctx, orch.ProviderStatuses()); err != nil {
		return err
	}
	if retention > 0 {
		if _, err := sink.PruneSnapshots(ctx, now.Add(-retention)); err != nil {
			return err
		}
	}
	return nil
}

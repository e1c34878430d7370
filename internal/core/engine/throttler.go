package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/llmgate/llmgate/internal/alert"
	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/core"
	"github.com/llmgate/llmgate/internal/core/ratelimit"
	"github.com/llmgate/llmgate/internal/core/status"
	"github.com/llmgate/llmgate/internal/metrics"
)

// ThrottleEventSink persists throttle adjustments.
type ThrottleEventSink interface {
	RecordThrottleEvent(ctx context.Context, event core.ThrottleEvent) error
}

// ThrottleSettings are the auto-throttler parameters.
type ThrottleSettings struct {
	Enabled          bool
	Window           time.Duration
	Threshold        int
	ReduceFactor     float64
	MinRPM           int
	Cooldown         time.Duration
	RecoveryInterval time.Duration
	RecoveryFactor   float64
}

// ThrottleSettingsFromConfig converts the throttle config section.
func ThrottleSettingsFromConfig(cfg config.ThrottleConfig) ThrottleSettings {
	return ThrottleSettings{
		Enabled:          cfg.Enabled,
		Window:           cfg.Window,
		Threshold:        cfg.Threshold,
		ReduceFactor:     cfg.ReduceFactor,
		MinRPM:           cfg.MinRPM,
		Cooldown:         cfg.Cooldown,
		RecoveryInterval: cfg.RecoveryInterval,
		RecoveryFactor:   cfg.RecoveryFactor,
	}
}

// AutoThrottler lowers a provider's RPM when it keeps answering 429 and
// raises it back step by step once things calm down.
type AutoThrottler struct {
	Limiters *ratelimit.Registry
	Tracker  *status.Tracker
	Notifier alert.Notifier
	Events   ThrottleEventSink
	Logger   *logging.Logger
	Clock    func() time.Time

	mu        sync.Mutex
	settings  ThrottleSettings
	baselines map[string]ratelimit.Limits
	reduced   map[string]time.Time

	// reconfigured wakes Run so it picks up a new recovery interval.
	reconfigured chan struct{}
}

// NewAutoThrottler creates a throttler with the given settings.
func NewAutoThrottler(limiters *ratelimit.Registry, tracker *status.Tracker, settings ThrottleSettings) *AutoThrottler {
	tracker.SetRateLimitHistory(settings.Window)
	return &AutoThrottler{
		Limiters:     limiters,
		Tracker:      tracker,
		settings:     settings,
		baselines:    make(map[string]ratelimit.Limits),
		reduced:      make(map[string]time.Time),
		reconfigured: make(chan struct{}, 1),
	}
}

// Apply takes new settings and baselines from cfg. Outstanding reductions are
// forgotten; the limiter registry restores configured limits on the same reload.
func (a *AutoThrottler) Apply(cfg *config.Config) error {
	if a == nil {
		return fmt.Errorf("auto-throttler not configured")
	}
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	baselines := make(map[string]ratelimit.Limits)
	for name, rl := range cfg.EffectiveRateLimits() {
		baselines[name] = ratelimit.Limits{RPM: rl.RPM, Burst: rl.Burst, TokensPerMinute: rl.TokensPerMinute}
	}

	settings := ThrottleSettingsFromConfig(cfg.Throttle)
	a.Tracker.SetRateLimitHistory(settings.Window)

	a.mu.Lock()
	a.settings = settings
	a.baselines = baselines
	a.reduced = make(map[string]time.Time)
	a.mu.Unlock()

	select {
	case a.reconfigured <- struct{}{}:
	default:
	}
	return nil
}

// Settings returns the active settings.
func (a *AutoThrottler) Settings() ThrottleSettings {
	if a == nil {
		return ThrottleSettings{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// Reduced lists providers currently running below their configured RPM.
func (a *AutoThrottler) Reduced() map[string]time.Time {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]time.Time, len(a.reduced))
	for name, at := range a.reduced {
		out[name] = at
	}
	return out
}

// Observe is called after a provider-side rate limit. When the number of 429s
// inside the window exceeds the threshold and the provider is out of its
// cooldown, the RPM is reduced.
func (a *AutoThrottler) Observe(ctx context.Context, provider string) {
	if a == nil || a.Limiters == nil {
		return
	}
	provider = config.NormalizeName(provider)
	now := a.now()

	a.mu.Lock()
	s := a.settings
	if !s.Enabled || s.Threshold < 1 {
		a.mu.Unlock()
		return
	}
	count := a.Tracker.RateLimitsSince(provider, now.Add(-s.Window))
	if count <= s.Threshold {
		a.mu.Unlock()
		return
	}
	if last, ok := a.reduced[provider]; ok && now.Sub(last) < s.Cooldown {
		a.mu.Unlock()
		return
	}

	limiter := a.Limiters.Get(provider)
	if limiter == nil {
		a.mu.Unlock()
		return
	}
	current := limiter.Limits()
	next := reduceLimits(current, s)
	if next.RPM >= current.RPM {
		a.mu.Unlock()
		return
	}
	if err := limiter.UpdateLimits(next.RPM, next.Burst, next.TokensPerMinute); err != nil {
		a.mu.Unlock()
		a.logWarn("Failed to reduce provider limits", zap.String("provider", provider), zap.Error(err))
		return
	}
	if _, ok := a.baselines[provider]; !ok {
		a.baselines[provider] = current
	}
	a.reduced[provider] = now
	a.mu.Unlock()

	metrics.RecordThrottleReduction(provider)
	a.logWarn("Auto-throttle reduced provider RPM",
		zap.String("provider", provider),
		zap.Int("rate_limit_count", count),
		zap.Int("old_rpm", current.RPM),
		zap.Int("new_rpm", next.RPM))

	if a.Notifier != nil {
		err := a.Notifier.SendThrottleAlert(ctx, alert.ThrottleAlert{
			Provider:       provider,
			RateLimitCount: count,
			Window:         s.Window,
			OldRPM:         current.RPM,
			NewRPM:         next.RPM,
			At:             now,
		})
		if err != nil {
			a.logWarn("Failed to send throttle alert", zap.String("provider", provider), zap.Error(err))
		}
	}
	a.recordEvent(ctx, core.ThrottleEvent{
		Provider:       provider,
		Action:         core.ThrottleReduce,
		OldRPM:         current.RPM,
		NewRPM:         next.RPM,
		OldBurst:       current.Burst,
		NewBurst:       next.Burst,
		RateLimitCount: count,
		CreatedAt:      now,
	})
}

// Recover raises every reduced provider whose last adjustment is at least one
// recovery interval old. Providers back at their baseline stop being tracked.
func (a *AutoThrottler) Recover(ctx context.Context, now time.Time) {
	if a == nil || a.Limiters == nil {
		return
	}

	var events []core.ThrottleEvent
	a.mu.Lock()
	s := a.settings
	if s.RecoveryInterval <= 0 || s.RecoveryFactor <= 1 {
		a.mu.Unlock()
		return
	}
	for provider, last := range a.reduced {
		if now.Sub(last) < s.RecoveryInterval {
			continue
		}
		limiter := a.Limiters.Get(provider)
		if limiter == nil {
			delete(a.reduced, provider)
			continue
		}
		current := limiter.Limits()
		baseline, ok := a.baselines[provider]
		if !ok {
			delete(a.reduced, provider)
			continue
		}
		next := recoverLimits(current, baseline, s.RecoveryFactor)
		if err := limiter.UpdateLimits(next.RPM, next.Burst, next.TokensPerMinute); err != nil {
			a.logWarn("Failed to recover provider limits", zap.String("provider", provider), zap.Error(err))
			continue
		}
		if next.RPM >= baseline.RPM && next.Burst >= baseline.Burst {
			delete(a.reduced, provider)
		} else {
			a.reduced[provider] = now
		}
		events = append(events, core.ThrottleEvent{
			Provider:  provider,
			Action:    core.ThrottleRecover,
			OldRPM:    current.RPM,
			NewRPM:    next.RPM,
			OldBurst:  current.Burst,
			NewBurst:  next.Burst,
			CreatedAt: now,
		})
	}
	a.mu.Unlock()

	for _, event := range events {
		a.logInfo("Auto-throttle raised provider RPM",
			zap.String("provider", event.Provider),
			zap.Int("old_rpm", event.OldRPM),
			zap.Int("new_rpm", event.NewRPM))
		a.recordEvent(ctx, event)
	}
}

// Run calls Recover every recovery interval until ctx is done. The interval
// is re-read after every Apply; while it is zero Run only waits for a reload.
func (a *AutoThrottler) Run(ctx context.Context) {
	if a == nil {
		return
	}
	for {
		var tick <-chan time.Time
		var timer *time.Timer
		if interval := a.Settings().RecoveryInterval; interval > 0 {
			timer = time.NewTimer(interval)
			tick = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return
		case <-a.reconfigured:
			stopTimer(timer)
		case <-tick:
			a.Recover(ctx, a.now())
		}
	}
}

func stopTimer(timer *time.Timer) {
	if timer != nil {
		timer.Stop()
	}
}

func reduceLimits(current ratelimit.Limits, s ThrottleSettings) ratelimit.Limits {
	floor := s.MinRPM
	if floor < 1 {
		floor = 1
	}
	rpm := int(math.Floor(float64(current.RPM) * s.ReduceFactor))
	if rpm < floor {
		rpm = floor
	}
	burst := int(math.Floor(float64(current.Burst) * s.ReduceFactor))
	if burst < rpm {
		burst = rpm
	}
	return ratelimit.Limits{RPM: rpm, Burst: burst, TokensPerMinute: current.TokensPerMinute}
}

func recoverLimits(current, baseline ratelimit.Limits, factor float64) ratelimit.Limits {
	rpm := int(math.Ceil(float64(current.RPM) * factor))
	if rpm <= current.RPM {
		rpm = current.RPM + 1
	}
	if rpm > baseline.RPM {
		rpm = baseline.RPM
	}
	burst := int(math.Ceil(float64(current.Burst) * factor))
	if burst > baseline.Burst {
		burst = baseline.Burst
	}
	if burst < rpm {
		burst = rpm
	}
	return ratelimit.Limits{RPM: rpm, Burst: burst, TokensPerMinute: current.TokensPerMinute}
}

func (a *AutoThrottler) recordEvent(ctx context.Context, event core.ThrottleEvent) {
	if a.Events == nil {
		return
	}
	if err := a.Events.RecordThrottleEvent(ctx, event); err != nil {
		a.logWarn("Failed to record throttle event", zap.String("provider", event.Provider), zap.Error(err))
	}
}

func (a *AutoThrottler) now() time.Time {
	if a != nil && a.Clock != nil {
		return a.Clock()
	}
	return time.Now().UTC()
}

func (a *AutoThrottler) logInfo(msg string, fields ...zap.Field) {
	if a.Logger != nil {
		a.Logger.Info(msg, fields...)
	}
}

func (a *AutoThrottler) logWarn(msg string, fields ...zap.Field) {
	if a.Logger != nil {
		a.Logger.Warn(msg, fields...)
	}
}

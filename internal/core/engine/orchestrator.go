package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/llmgate/llmgate/internal/alert"
	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/core"
	"github.com/llmgate/llmgate/internal/core/ratelimit"
	"github.com/llmgate/llmgate/internal/core/semaphore"
	"github.com/llmgate/llmgate/internal/core/status"
	"github.com/llmgate/llmgate/internal/metrics"
)

// Caller performs a single call against one provider.
type Caller interface {
	Call(ctx context.Context, provider string, req core.CompletionRequest) (*core.ProviderReply, error)
}

// Orchestrator runs completion requests through an agent's provider chain.
//
// Chain order is authoritative: providers are tried strictly in configured
// order and health never reorders them.
type Orchestrator struct {
	Caller    Caller
	Limiters  *ratelimit.Registry
	Semaphore *semaphore.Semaphore
	Tracker   *status.Tracker
	Throttler *AutoThrottler
	Notifier  alert.Notifier
	Logger    *logging.Logger
	Clock     func() time.Time

	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error

	settings atomic.Pointer[settings]
}

type settings struct {
	chains          map[string][]string
	providers       map[string]status.ProviderConfig
	maxWait         time.Duration
	maxChecks       int
	skipUnavailable bool
	maxConcurrent   int
}

// Apply swaps chains, provider flags and admission settings atomically.
func (o *Orchestrator) Apply(cfg *config.Config) error {
	if o == nil {
		return fmt.Errorf("orchestrator not configured")
	}
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	next := &settings{
		chains:          cfg.Chains(),
		providers:       make(map[string]status.ProviderConfig, len(cfg.AILink.Providers)),
		maxWait:         cfg.Admission.MaxWait,
		maxChecks:       cfg.Admission.MaxChecks,
		skipUnavailable: cfg.Admission.SkipUnavailable,
		maxConcurrent:   cfg.Concurrency.MaxConcurrent,
	}
	if next.maxChecks < 1 {
		next.maxChecks = 1
	}
	for name, p := range cfg.AILink.Providers {
		name = config.NormalizeName(name)
		next.providers[name] = status.ProviderConfig{
			Enabled:  p.Enabled,
			RPMLimit: cfg.ProviderRPMLimit(name),
		}
	}

	if o.Semaphore != nil && restartPending(o.settings.Load(), next, o.Semaphore.MaxConcurrent()) {
		o.logWarn("concurrency.max_concurrent changes require a restart",
			zap.Int("active_limit", o.Semaphore.MaxConcurrent()),
			zap.Int("configured", next.maxConcurrent))
	}

	o.settings.Store(next)
	return nil
}

// restartPending reports whether next asks for a concurrency limit the running
// semaphore cannot take and prev did not already ask for it.
func restartPending(prev, next *settings, running int) bool {
	if next.maxConcurrent == running {
		return false
	}
	return prev == nil || prev.maxConcurrent != next.maxConcurrent
}

// Execute runs req through the chain of agent.
func (o *Orchestrator) Execute(ctx context.Context, agent string, req core.CompletionRequest) (*core.CompletionResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if o == nil || o.Caller == nil {
		return nil, fmt.Errorf("orchestrator not configured")
	}
	s := o.settings.Load()
	if s == nil {
		return nil, fmt.Errorf("orchestrator not configured")
	}

	agent = config.NormalizeName(agent)
	chain, ok := s.chains[agent]
	if !ok || len(chain) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agent)
	}

	start := o.now()
	estimate := req.EstimateTokens()
	attempts := make([]AttemptError, 0, len(chain))

	for _, provider := range chain {
		providerCfg := s.providers[provider]
		if !providerCfg.Enabled {
			attempts = append(attempts, AttemptError{Provider: provider, Category: core.ErrorUnknown, Skipped: true, Err: errDisabled})
			metrics.RecordAttempt(provider, metrics.OutcomeSkipped, "disabled")
			continue
		}
		if s.skipUnavailable && o.Tracker.Status(provider, providerCfg) == core.StatusUnavailable {
			attempts = append(attempts, AttemptError{Provider: provider, Category: core.ErrorUnknown, Skipped: true, Err: errUnavailable})
			metrics.RecordAttempt(provider, metrics.OutcomeSkipped, "unavailable")
			continue
		}

		reply, attempt := o.attempt(ctx, s, provider, req, estimate)
		if attempt == nil {
			result := &core.CompletionResult{
				ProviderReply: *reply,
				Agent:         agent,
				ProviderUsed:  provider,
				FallbackUsed:  provider != chain[0],
				Attempts:      len(attempts) + 1,
				Latency:       o.now().Sub(start),
			}
			if result.FallbackUsed {
				metrics.RecordFallback(agent, provider)
				o.notifyFallback(ctx, agent, chain[0], provider, attempts, s)
			}
			o.logDebug("Completion served",
				zap.String("agent", agent),
				zap.String("provider", provider),
				zap.Bool("fallback", result.FallbackUsed),
				zap.Int("attempts", result.Attempts))
			return result, nil
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attempts = append(attempts, *attempt)
		o.logDebug("Provider attempt failed",
			zap.String("agent", agent),
			zap.String("provider", provider),
			zap.String("category", string(attempt.Category)),
			zap.Bool("skipped", attempt.Skipped),
			zap.Error(attempt.Err))
	}

	metrics.RecordExhausted(agent)
	exhausted := &ExhaustedError{Agent: agent, Attempts: attempts}
	o.logWarn("All providers failed", zap.String("agent", agent), zap.Int("attempts", len(attempts)), zap.Error(exhausted))
	return nil, exhausted
}

// attempt tries one provider. A nil AttemptError means success. When the
// caller's ctx is done the provider is recorded as cancelled.
func (o *Orchestrator) attempt(ctx context.Context, s *settings, provider string, req core.CompletionRequest, estimate int) (*core.ProviderReply, *AttemptError) {
	release, err := o.Semaphore.Acquire(ctx)
	if err != nil {
		return nil, o.cancelled(provider, err)
	}
	defer func() {
		release()
		metrics.SetSemaphoreActive(o.Semaphore.Stats().Active)
	}()
	metrics.SetSemaphoreActive(o.Semaphore.Stats().Active)

	limiter := o.Limiters.Get(provider)
	admitted, err := o.admit(ctx, s, provider, limiter, estimate)
	if err != nil {
		return nil, o.cancelled(provider, err)
	}
	if !admitted.Admitted {
		metrics.RecordAttempt(provider, metrics.OutcomeSkipped, string(core.ErrorRateLimit))
		return nil, &AttemptError{
			Provider: provider,
			Category: core.ErrorRateLimit,
			Skipped:  true,
			Err:      &localRateLimitError{reason: admitted.Reason, wait: admitted.Wait.Round(time.Millisecond).String()},
		}
	}

	callStart := o.now()
	reply, err := o.Caller.Call(ctx, provider, req)
	elapsed := o.now().Sub(callStart)
	latencyMs := float64(elapsed) / float64(time.Millisecond)
	if limiter != nil {
		o.Tracker.SetRPMCurrent(provider, limiter.Snapshot().WindowCount)
	}
	metrics.RecordProviderCall(provider, elapsed)

	if err == nil && reply == nil {
		err = fmt.Errorf("provider %s returned no reply", provider)
	}
	if err == nil {
		o.Tracker.RecordRequest(provider, latencyMs, true, nil)
		metrics.RecordAttempt(provider, metrics.OutcomeSuccess, "")
		return reply, nil
	}

	if ctx.Err() != nil {
		return nil, o.cancelled(provider, ctx.Err())
	}

	category := ClassifyError(err)
	o.Tracker.RecordRequest(provider, latencyMs, false, err)
	metrics.RecordAttempt(provider, metrics.OutcomeFailure, string(category))
	if category == core.ErrorRateLimit {
		o.Tracker.RecordRateLimit(provider)
		o.Throttler.Observe(ctx, provider)
	}
	return nil, &AttemptError{Provider: provider, Category: category, Err: err}
}

// admit checks the provider limiter, waiting between checks while the wait
// fits in max_wait and the ctx deadline. A done ctx is never admitted.
func (o *Orchestrator) admit(ctx context.Context, s *settings, provider string, limiter *ratelimit.Limiter, estimate int) (ratelimit.AcquireResult, error) {
	var waited time.Duration
	for check := 1; ; check++ {
		if err := ctx.Err(); err != nil {
			return ratelimit.AcquireResult{}, err
		}
		result := limiter.Acquire(estimate)
		if result.Admitted {
			return result, nil
		}
		if check >= s.maxChecks || waited+result.Wait > s.maxWait {
			return result, nil
		}
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < result.Wait {
			return result, nil
		}

		metrics.RecordRateLimitWait(provider, result.Wait)
		if err := o.sleep(ctx, result.Wait); err != nil {
			return result, err
		}
		waited += result.Wait
	}
}

func (o *Orchestrator) cancelled(provider string, err error) *AttemptError {
	o.Tracker.RecordCancelled(provider)
	metrics.RecordAttempt(provider, metrics.OutcomeCancelled, "")
	return &AttemptError{Provider: provider, Category: ClassifyError(err), Err: err}
}

func (o *Orchestrator) notifyFallback(ctx context.Context, agent, primary, servedBy string, attempts []AttemptError, s *settings) {
	if o.Notifier == nil {
		return
	}
	alertMsg := alert.HealthAlert{
		Provider: primary,
		Status:   o.Tracker.Status(primary, s.providers[primary]),
		Category: core.ErrorUnknown,
		Agent:    agent,
		ServedBy: servedBy,
		Reason:   "request served by fallback provider",
		At:       o.now(),
	}
	for _, attempt := range attempts {
		if attempt.Provider != primary {
			continue
		}
		alertMsg.Category = attempt.Category
		if attempt.Err != nil {
			alertMsg.Reason = attempt.Err.Error()
		}
		break
	}
	if err := o.Notifier.SendHealthAlert(ctx, alertMsg); err != nil {
		o.logWarn("Failed to send health alert", zap.String("provider", primary), zap.Error(err))
	}
}

// ProviderStatus reports status, metrics and limiter state for one provider.
func (o *Orchestrator) ProviderStatus(provider string) (core.ProviderReport, bool) {
	if o == nil {
		return core.ProviderReport{}, false
	}
	s := o.settings.Load()
	if s == nil {
		return core.ProviderReport{}, false
	}
	provider = config.NormalizeName(provider)
	cfg, ok := s.providers[provider]
	if !ok {
		return core.ProviderReport{}, false
	}
	report := core.ProviderReport{
		Provider:  provider,
		Status:    o.Tracker.Status(provider, cfg),
		Enabled:   cfg.Enabled,
		Metrics:   o.Tracker.Snapshot(provider),
		UpdatedAt: o.now(),
	}
	if limiter := o.Limiters.Get(provider); limiter != nil {
		report.RateLimit = limiter.Snapshot()
	}
	return report, true
}

// ProviderStatuses reports every configured provider, sorted by name.
func (o *Orchestrator) ProviderStatuses() []core.ProviderReport {
	if o == nil {
		return nil
	}
	s := o.settings.Load()
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)

	reports := make([]core.ProviderReport, 0, len(names))
	for _, name := range names {
		if report, ok := o.ProviderStatus(name); ok {
			reports = append(reports, report)
		}
	}
	return reports
}

// Chain returns the configured chain of agent.
func (o *Orchestrator) Chain(agent string) ([]string, bool) {
	if o == nil {
		return nil, false
	}
	s := o.settings.Load()
	if s == nil {
		return nil, false
	}
	chain, ok := s.chains[config.NormalizeName(agent)]
	if !ok {
		return nil, false
	}
	return append([]string(nil), chain...), true
}

// Agents lists configured agents, sorted.
func (o *Orchestrator) Agents() []string {
	if o == nil {
		return nil
	}
	s := o.settings.Load()
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.chains))
	for name := range s.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsExhausted reports whether err is an exhausted-chain error.
func IsExhausted(err error) bool {
	var exhausted *ExhaustedError
	return errors.As(err, &exhausted)
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if o.Sleep != nil {
		return o.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (o *Orchestrator) now() time.Time {
	if o != nil && o.Clock != nil {
		return o.Clock()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) logDebug(msg string, fields ...zap.Field) {
	if o.Logger != nil {
		o.Logger.Debug(msg, fields...)
	}
}

func (o *Orchestrator) logWarn(msg string, fields ...zap.Field) {
	if o.Logger != nil {
		o.Logger.Warn(msg, fields...)
	}
}

package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgate/llmgate/internal/ailink"
	"github.com/llmgate/llmgate/internal/ailink/driver"
	"github.com/llmgate/llmgate/internal/alert"
	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/core"
	"github.com/llmgate/llmgate/internal/core/ratelimit"
	"github.com/llmgate/llmgate/internal/core/semaphore"
	"github.com/llmgate/llmgate/internal/core/status"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type callFunc func(ctx context.Context, req core.CompletionRequest) (*core.ProviderReply, error)

type stubCaller struct {
	mu    sync.Mutex
	funcs map[string]callFunc
	calls []string
}

func (s *stubCaller) Call(ctx context.Context, provider string, req core.CompletionRequest) (*core.ProviderReply, error) {
	s.mu.Lock()
	s.calls = append(s.calls, provider)
	fn := s.funcs[provider]
	s.mu.Unlock()
	if fn == nil {
		return nil, errors.New("no stub for " + provider)
	}
	return fn(ctx, req)
}

func (s *stubCaller) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func reply(content string) callFunc {
	return func(context.Context, core.CompletionRequest) (*core.ProviderReply, error) {
		return &core.ProviderReply{Content: content, TokensInput: 10, TokensOutput: 5}, nil
	}
}

func fail(err error) callFunc {
	return func(context.Context, core.CompletionRequest) (*core.ProviderReply, error) {
		return nil, err
	}
}

type recordingNotifier struct {
	mu       sync.Mutex
	throttle []alert.ThrottleAlert
	health   []alert.HealthAlert
}

func (r *recordingNotifier) SendThrottleAlert(_ context.Context, a alert.ThrottleAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.throttle = append(r.throttle, a)
	return nil
}

func (r *recordingNotifier) SendHealthAlert(_ context.Context, a alert.HealthAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.health = append(r.health, a)
	return nil
}

func testConfig(providers ...string) *config.Config {
	cfg := &config.Config{
		AILink: ailink.Config{Providers: map[string]ailink.ProviderInstanceConfig{}},
		Concurrency: config.ConcurrencyConfig{
			MaxConcurrent: 4,
		},
		Admission: config.AdmissionConfig{
			MaxWait:   10 * time.Second,
			MaxChecks: 1,
		},
		Throttle: config.ThrottleConfig{
			Enabled:          true,
			Window:           5 * time.Minute,
			Threshold:        2,
			ReduceFactor:     0.5,
			MinRPM:           1,
			Cooldown:         time.Minute,
			RecoveryInterval: 10 * time.Minute,
			RecoveryFactor:   2,
		},
		RateLimits: map[string]config.RateLimitConfig{},
		Agents:     map[string]config.AgentConfig{},
	}
	for _, name := range providers {
		cfg.AILink.Providers[name] = ailink.ProviderInstanceConfig{
			Enabled:    true,
			AIProvider: ailink.ProviderTypeOpenAI,
			Model:      "test-model",
		}
		cfg.RateLimits[name] = config.RateLimitConfig{RPM: 100, Burst: 100}
	}
	if len(providers) > 0 {
		cfg.Agents["writer"] = config.AgentConfig{Primary: providers[0], Fallbacks: providers[1:]}
	}
	return cfg
}

type harness struct {
	orch     *Orchestrator
	caller   *stubCaller
	clock    *fakeClock
	sem      *semaphore.Semaphore
	limiters *ratelimit.Registry
	tracker  *status.Tracker
	notifier *recordingNotifier
}

func newHarness(t *testing.T, cfg *config.Config, funcs map[string]callFunc) *harness {
	t.Helper()

	clock := newFakeClock()
	sem, err := semaphore.New(cfg.Concurrency.MaxConcurrent)
	require.NoError(t, err)

	limiters := ratelimit.NewRegistry(ratelimit.DefaultLimits)
	limiters.Clock = clock.Now
	require.NoError(t, limiters.Apply(cfg))

	tracker := status.NewTracker()
	tracker.Clock = clock.Now

	notifier := &recordingNotifier{}
	throttler := NewAutoThrottler(limiters, tracker, ThrottleSettings{})
	throttler.Clock = clock.Now
	throttler.Notifier = notifier
	require.NoError(t, throttler.Apply(cfg))

	caller := &stubCaller{funcs: funcs}
	orch := &Orchestrator{
		Caller:    caller,
		Limiters:  limiters,
		Semaphore: sem,
		Tracker:   tracker,
		Throttler: throttler,
		Notifier:  notifier,
		Clock:     clock.Now,
		Sleep: func(ctx context.Context, d time.Duration) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			clock.Advance(d + time.Second)
			return nil
		},
	}
	require.NoError(t, orch.Apply(cfg))

	return &harness{
		orch:     orch,
		caller:   caller,
		clock:    clock,
		sem:      sem,
		limiters: limiters,
		tracker:  tracker,
		notifier: notifier,
	}
}

func TestExecutePrimarySucceeds(t *testing.T) {
	h := newHarness(t, testConfig("primary", "backup"), map[string]callFunc{
		"primary": reply("hello"),
		"backup":  reply("unused"),
	})

	result, err := h.orch.Execute(context.Background(), "writer", core.CompletionRequest{UserPrompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Content)
	assert.Equal(t, "primary", result.ProviderUsed)
	assert.False(t, result.FallbackUsed)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, []string{"primary"}, h.caller.Calls())
	assert.Empty(t, h.notifier.health)

	metrics := h.tracker.Snapshot("primary")
	assert.Equal(t, int64(1), metrics.TotalRequests)
	assert.Equal(t, 1, metrics.RPMCurrent)
}

func TestExecuteFallsBackInChainOrder(t *testing.T) {
	h := newHarness(t, testConfig("primary", "second", "third"), map[string]callFunc{
		"primary": fail(&driver.ProviderError{Provider: "primary", StatusCode: 500, Message: "boom"}),
		"second":  fail(errors.New("connection refused")),
		"third":   reply("from third"),
	})

	result, err := h.orch.Execute(context.Background(), "writer", core.CompletionRequest{UserPrompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "third", result.ProviderUsed)
	assert.True(t, result.FallbackUsed)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, []string{"primary", "second", "third"}, h.caller.Calls())

	require.Len(t, h.notifier.health, 1)
	assert.Equal(t, "primary", h.notifier.health[0].Provider)
	assert.Equal(t, "third", h.notifier.health[0].ServedBy)
	assert.Equal(t, core.StatusUnavailable, h.notifier.health[0].Status)
	assert.Equal(t, core.ErrorAPI, h.notifier.health[0].Category)
	assert.Contains(t, h.notifier.health[0].Reason, "boom")

	assert.Equal(t, int64(1), h.tracker.Snapshot("primary").TotalFailures)
	assert.Equal(t, int64(1), h.tracker.Snapshot("second").TotalFailures)
}

func TestExecuteExhaustedReleasesSlots(t *testing.T) {
	h := newHarness(t, testConfig("primary", "backup"), map[string]callFunc{
		"primary": fail(&driver.ProviderError{Provider: "primary", StatusCode: 429}),
		"backup":  fail(context.DeadlineExceeded),
	})

	_, err := h.orch.Execute(context.Background(), "writer", core.CompletionRequest{UserPrompt: "hi"})
	require.Error(t, err)
	assert.True(t, IsExhausted(err))

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "writer", exhausted.Agent)
	require.Len(t, exhausted.Attempts, 2)
	assert.Equal(t, "primary", exhausted.Attempts[0].Provider)
	assert.Equal(t, core.ErrorRateLimit, exhausted.Attempts[0].Category)
	assert.Equal(t, "backup", exhausted.Attempts[1].Provider)
	assert.Equal(t, core.ErrorTimeout, exhausted.Attempts[1].Category)
	assert.False(t, exhausted.OnlyRateLimited())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, 0, h.sem.Stats().Active)
	assert.Equal(t, 1, h.tracker.RateLimitsSince("primary", h.clock.Now().Add(-time.Minute)))
}

func TestExecuteUnknownAgent(t *testing.T) {
	h := newHarness(t, testConfig("primary"), map[string]callFunc{"primary": reply("x")})

	_, err := h.orch.Execute(context.Background(), "missing", core.CompletionRequest{UserPrompt: "hi"})
	require.ErrorIs(t, err, ErrUnknownAgent)
	assert.Empty(t, h.caller.Calls())
}

func TestExecuteSkipsDisabledProvider(t *testing.T) {
	cfg := testConfig("primary", "backup")
	primary := cfg.AILink.Providers["primary"]
	primary.Enabled = false
	cfg.AILink.Providers["primary"] = primary

	h := newHarness(t, cfg, map[string]callFunc{
		"primary": reply("never"),
		"backup":  reply("backup"),
	})

	result, err := h.orch.Execute(context.Background(), "writer", core.CompletionRequest{UserPrompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "backup", result.ProviderUsed)
	assert.Equal(t, []string{"backup"}, h.caller.Calls())

	require.Len(t, h.notifier.health, 1)
	assert.Equal(t, core.ErrorUnknown, h.notifier.health[0].Category)
	assert.Equal(t, core.StatusUnavailable, h.notifier.health[0].Status)
}

func TestExecuteLocalRateLimitMovesToFallback(t *testing.T) {
	cfg := testConfig("primary", "backup")
	cfg.RateLimits["primary"] = config.RateLimitConfig{RPM: 1, Burst: 1}

	h := newHarness(t, cfg, map[string]callFunc{
		"primary": reply("primary"),
		"backup":  reply("backup"),
	})

	first, err := h.orch.Execute(context.Background(), "writer", core.CompletionRequest{UserPrompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "primary", first.ProviderUsed)

	second, err := h.orch.Execute(context.Background(), "writer", core.CompletionRequest{UserPrompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "backup", second.ProviderUsed)
	assert.Equal(t, 2, second.Attempts)

	// A local skip is not a provider failure.
	assert.Equal(t, int64(0), h.tracker.Snapshot("primary").TotalFailures)
	assert.Equal(t, []string{"primary", "backup"}, h.caller.Calls())
}

func TestExecuteWaitsForLimiterWithinMaxWait(t *testing.T) {
	cfg := testConfig("primary", "backup")
	cfg.RateLimits["primary"] = config.RateLimitConfig{RPM: 1, Burst: 1}
	cfg.Admission.MaxChecks = 3
	cfg.Admission.MaxWait = 2 * time.Minute

	h := newHarness(t, cfg, map[string]callFunc{
		"primary": reply("primary"),
		"backup":  reply("backup"),
	})

	_, err := h.orch.Execute(context.Background(), "writer", core.CompletionRequest{UserPrompt: "hi"})
	require.NoError(t, err)

	start := h.clock.Now()
	result, err := h.orch.Execute(context.Background(), "writer", core.CompletionRequest{UserPrompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "primary", result.ProviderUsed)
	assert.GreaterOrEqual(t, h.clock.Now().Sub(start), time.Minute)
}

func TestExecuteTokenBudgetSkipsOversizedRequest(t *testing.T) {
	cfg := testConfig("primary", "backup")
	cfg.RateLimits["primary"] = config.RateLimitConfig{RPM: 10, Burst: 10, TokensPerMinute: 100}

	h := newHarness(t, cfg, map[string]callFunc{
		"primary": reply("primary"),
		"backup":  reply("backup"),
	})

	result, err := h.orch.Execute(context.Background(), "writer", core.CompletionRequest{UserPrompt: "hi", EstimatedTokens: 500})
	require.NoError(t, err)
	assert.Equal(t, "backup", result.ProviderUsed)
}

func TestExecuteCallerCancellationStopsChain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, testConfig("primary", "backup"), map[string]callFunc{
		"primary": func(ctx context.Context, _ core.CompletionRequest) (*core.ProviderReply, error) {
			cancel()
			return nil, ctx.Err()
		},
		"backup": reply("backup"),
	})

	_, err := h.orch.Execute(ctx, "writer", core.CompletionRequest{UserPrompt: "hi"})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsExhausted(err))
	assert.Equal(t, []string{"primary"}, h.caller.Calls())

	metrics := h.tracker.Snapshot("primary")
	assert.Equal(t, int64(1), metrics.TotalCancelled)
	assert.Equal(t, int64(0), metrics.TotalFailures)
	assert.Equal(t, 0, h.sem.Stats().Active)
}

func TestExecuteWithCancelledContextConsumesNothing(t *testing.T) {
	h := newHarness(t, testConfig("primary", "backup"), map[string]callFunc{
		"primary": reply("primary"),
		"backup":  reply("backup"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := h.orch.Execute(ctx, "writer", core.CompletionRequest{UserPrompt: "hi"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result)
	assert.Empty(t, h.caller.Calls())

	for _, provider := range []string{"primary", "backup"} {
		assert.Equal(t, 0, h.limiters.Get(provider).Snapshot().WindowCount, provider)
		assert.Equal(t, int64(0), h.tracker.Snapshot(provider).TotalRequests, provider)
	}
	assert.Equal(t, 0, h.sem.Stats().Active)
	assert.Equal(t, int64(0), h.sem.Stats().TotalAcquired)
}

func TestExecuteRespectsMaxConcurrent(t *testing.T) {
	cfg := testConfig("primary")
	cfg.Concurrency.MaxConcurrent = 1

	var inFlight, peak atomic.Int32
	h := newHarness(t, cfg, map[string]callFunc{
		"primary": func(context.Context, core.CompletionRequest) (*core.ProviderReply, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return &core.ProviderReply{Content: "ok"}, nil
		},
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.Execute(context.Background(), "writer", core.CompletionRequest{UserPrompt: "hi"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
	stats := h.sem.Stats()
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, int64(8), stats.TotalAcquired)
}

func TestExecuteSkipUnavailable(t *testing.T) {
	cfg := testConfig("primary", "backup")
	cfg.Admission.SkipUnavailable = true

	h := newHarness(t, cfg, map[string]callFunc{
		"primary": fail(&driver.ProviderError{Provider: "primary", StatusCode: 500}),
		"backup":  reply("backup"),
	})

	_, err := h.orch.Execute(context.Background(), "writer", core.CompletionRequest{UserPrompt: "hi"})
	require.NoError(t, err)

	// The recent failure makes primary unavailable, so it is not called again.
	_, err = h.orch.Execute(context.Background(), "writer", core.CompletionRequest{UserPrompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"primary", "backup", "backup"}, h.caller.Calls())
}

func TestProviderStatusReports(t *testing.T) {
	h := newHarness(t, testConfig("primary", "backup"), map[string]callFunc{
		"primary": reply("ok"),
	})

	_, err := h.orch.Execute(context.Background(), "writer", core.CompletionRequest{UserPrompt: "hi"})
	require.NoError(t, err)

	report, ok := h.orch.ProviderStatus("PRIMARY")
	require.True(t, ok)
	assert.Equal(t, "primary", report.Provider)
	assert.Equal(t, core.StatusHealthy, report.Status)
	assert.Equal(t, 1, report.RateLimit.WindowCount)
	assert.Equal(t, 100, report.RateLimit.RPM)

	_, ok = h.orch.ProviderStatus("nope")
	assert.False(t, ok)

	reports := h.orch.ProviderStatuses()
	require.Len(t, reports, 2)
	assert.Equal(t, "backup", reports[0].Provider)
	assert.Equal(t, "primary", reports[1].Provider)

	chain, ok := h.orch.Chain("writer")
	require.True(t, ok)
	assert.Equal(t, []string{"primary", "backup"}, chain)
	assert.Equal(t, []string{"writer"}, h.orch.Agents())
}

func TestExecuteWithoutConfigFails(t *testing.T) {
	orch := &Orchestrator{Caller: &stubCaller{}}
	_, err := orch.Execute(context.Background(), "writer", core.CompletionRequest{})
	require.Error(t, err)
}

func TestRestartPendingWarnsOncePerChange(t *testing.T) {
	cases := []struct {
		name    string
		prev    *settings
		next    int
		running int
		want    bool
	}{
		{"unchanged", &settings{maxConcurrent: 4}, 4, 4, false},
		{"first load differs", nil, 8, 4, true},
		{"new value", &settings{maxConcurrent: 4}, 8, 4, true},
		{"same pending value", &settings{maxConcurrent: 8}, 8, 4, false},
		{"another value", &settings{maxConcurrent: 8}, 16, 4, true},
		{"back to running", &settings{maxConcurrent: 8}, 4, 4, false},
	}
	for _, tc := range cases {
		got := restartPending(tc.prev, &settings{maxConcurrent: tc.next}, tc.running)
		assert.Equal(t, tc.want, got, tc.name)
	}
}

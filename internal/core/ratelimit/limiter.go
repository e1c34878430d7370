package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/llmgate/llmgate/internal/core"
)

// Window is the span of the sliding admission window and the token budget minute.
const Window = time.Minute

// Binding constraint names reported in AcquireResult.Reason.
const (
	ReasonWindow = "rpm_window"
	ReasonBurst  = "burst"
	ReasonTokens = "token_budget"
)

// Limits holds the configured limits of one provider.
type Limits struct {
	RPM             int
	Burst           int
	TokensPerMinute int
}

// DefaultLimits are used for providers without any configured limits.
var DefaultLimits = Limits{RPM: 60, Burst: 60}

// Validate checks rpm >= 1, burst >= rpm and a non-negative token budget.
func (l Limits) Validate() error {
	if l.RPM < 1 {
		return fmt.Errorf("rpm must be >= 1 (got %d)", l.RPM)
	}
	if l.Burst < l.RPM {
		return fmt.Errorf("burst (%d) must be >= rpm (%d)", l.Burst, l.RPM)
	}
	if l.TokensPerMinute < 0 {
		return fmt.Errorf("tokens_per_minute must be >= 0 (got %d)", l.TokensPerMinute)
	}
	return nil
}

// AcquireResult is the outcome of an admission check.
type AcquireResult struct {
	Admitted bool
	// Wait is a hint for when the binding constraint clears. Zero when admitted.
	Wait time.Duration
	// Reason names the constraint with the longest wait.
	Reason string
}

// Limiter combines a token bucket, a sliding 60s request window and a
// tokens-per-minute budget. A request is admitted only when all three agree.
type Limiter struct {
	mu     sync.Mutex
	limits Limits
	bucket *rate.Limiter

	window         []time.Time
	tokensConsumed int
	minuteStart    time.Time

	clock func() time.Time
}

// NewLimiter builds a limiter with a full bucket.
func NewLimiter(limits Limits, clock func() time.Time) (*Limiter, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	l := &Limiter{limits: limits, clock: clock}
	l.bucket = rate.NewLimiter(perSecond(limits.RPM), limits.Burst)
	l.minuteStart = l.now()
	return l, nil
}

// Acquire decides admission for a request estimated at estimatedTokens.
// State is only mutated when the request is admitted.
func (l *Limiter) Acquire(estimatedTokens int) AcquireResult {
	if l == nil {
		return AcquireResult{Admitted: true}
	}
	if estimatedTokens < 0 {
		estimatedTokens = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	var result AcquireResult
	block := func(reason string, wait time.Duration) {
		if wait < 0 {
			wait = 0
		}
		if result.Reason == "" || wait > result.Wait {
			result.Reason = reason
			result.Wait = wait
		}
	}

	if count := len(l.window); count >= l.limits.RPM {
		// Enough entries must expire to bring the count below RPM.
		idx := count - l.limits.RPM
		block(ReasonWindow, l.window[idx].Add(Window).Sub(now))
	}

	if tokens := l.bucket.TokensAt(now); tokens < 1 {
		perSec := float64(l.bucket.Limit())
		block(ReasonBurst, time.Duration((1-tokens)/perSec*float64(time.Second)))
	}

	if l.limits.TokensPerMinute > 0 && l.tokensConsumed+estimatedTokens > l.limits.TokensPerMinute {
		block(ReasonTokens, l.minuteStart.Add(Window).Sub(now))
	}

	if result.Reason != "" {
		return result
	}

	l.bucket.AllowN(now, 1)
	l.window = append(l.window, now)
	l.tokensConsumed += estimatedTokens
	return AcquireResult{Admitted: true}
}

// Release is a no-op; limiting is consumption based.
func (l *Limiter) Release() {}

// UpdateLimits swaps the configured limits. Consumed tokens and window entries
// are kept, so a lower RPM blocks admission until the window drains.
func (l *Limiter) UpdateLimits(rpm, burst, tokensPerMinute int) error {
	if l == nil {
		return fmt.Errorf("rate limiter not configured")
	}
	limits := Limits{RPM: rpm, Burst: burst, TokensPerMinute: tokensPerMinute}
	if err := limits.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.bucket.SetLimitAt(now, perSecond(rpm))
	l.bucket.SetBurstAt(now, burst)
	l.limits = limits
	return nil
}

// Limits returns the current configured limits.
func (l *Limiter) Limits() Limits {
	if l == nil {
		return Limits{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limits
}

// Snapshot returns a read-only view of the limiter state.
func (l *Limiter) Snapshot() core.RateLimitState {
	if l == nil {
		return core.RateLimitState{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	tokens := l.bucket.TokensAt(now)
	if max := float64(l.limits.Burst); tokens > max {
		tokens = max
	}
	return core.RateLimitState{
		RPM:             l.limits.RPM,
		Burst:           l.limits.Burst,
		TokensPerMinute: l.limits.TokensPerMinute,
		BucketTokens:    tokens,
		WindowCount:     len(l.window),
		TokensConsumed:  l.tokensConsumed,
		MinuteStart:     l.minuteStart,
	}
}

// prune drops window entries older than Window and rolls the token minute.
// Callers hold l.mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-Window)
	drop := 0
	for drop < len(l.window) && !l.window[drop].After(cutoff) {
		drop++
	}
	if drop > 0 {
		l.window = append(l.window[:0], l.window[drop:]...)
	}

	if !now.Before(l.minuteStart.Add(Window)) {
		l.tokensConsumed = 0
		l.minuteStart = now
	}
}

func (l *Limiter) now() time.Time {
	if l != nil && l.clock != nil {
		return l.clock()
	}
	return time.Now().UTC()
}

func perSecond(rpm int) rate.Limit {
	return rate.Limit(float64(rpm) / Window.Seconds())
}

package ratelimit

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/llmgate/llmgate/internal/config"
	"github.com/llmgate/llmgate/internal/core"
)

// Registry holds one Limiter per provider.
//
// The registry lock only guards the map; admission decisions run under each
// limiter's own mutex.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	defaults Limits

	Clock func() time.Time
}

// NewRegistry creates an empty registry. Providers looked up before being
// configured get the given defaults.
func NewRegistry(defaults Limits) *Registry {
	if defaults.Validate() != nil {
		defaults = DefaultLimits
	}
	return &Registry{
		limiters: make(map[string]*Limiter),
		defaults: defaults,
	}
}

// Get returns the limiter for provider, creating it with defaults if missing.
func (r *Registry) Get(provider string) *Limiter {
	if r == nil {
		return nil
	}
	provider = normalize(provider)

	r.mu.RLock()
	limiter, ok := r.limiters[provider]
	r.mu.RUnlock()
	if ok {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if limiter, ok := r.limiters[provider]; ok {
		return limiter
	}
	limiter, err := NewLimiter(r.defaults, r.Clock)
	if err != nil {
		return nil
	}
	r.limiters[provider] = limiter
	return limiter
}

// Set configures limits for provider, updating an existing limiter in place.
func (r *Registry) Set(provider string, limits Limits) error {
	if r == nil {
		return fmt.Errorf("rate limit registry not configured")
	}
	provider = normalize(provider)
	if provider == "" {
		return fmt.Errorf("provider name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if limiter, ok := r.limiters[provider]; ok {
		if err := limiter.UpdateLimits(limits.RPM, limits.Burst, limits.TokensPerMinute); err != nil {
			return fmt.Errorf("provider %s: %w", provider, err)
		}
		return nil
	}
	limiter, err := NewLimiter(limits, r.Clock)
	if err != nil {
		return fmt.Errorf("provider %s: %w", provider, err)
	}
	r.limiters[provider] = limiter
	return nil
}

// Apply reconciles the registry with the effective limits of cfg. Existing
// limiters keep their consumption; providers no longer configured are dropped.
func (r *Registry) Apply(cfg *config.Config) error {
	if r == nil {
		return fmt.Errorf("rate limit registry not configured")
	}
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	effective := cfg.EffectiveRateLimits()
	for provider, rl := range effective {
		if err := r.Set(provider, Limits{RPM: rl.RPM, Burst: rl.Burst, TokensPerMinute: rl.TokensPerMinute}); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for provider := range r.limiters {
		if _, ok := effective[provider]; !ok {
			delete(r.limiters, provider)
		}
	}
	return nil
}

// Providers lists the providers with a limiter, sorted.
func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.limiters))
	for name := range r.limiters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshots returns limiter state keyed by provider.
func (r *Registry) Snapshots() map[string]core.RateLimitState {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	limiters := make(map[string]*Limiter, len(r.limiters))
	for name, limiter := range r.limiters {
		limiters[name] = limiter
	}
	r.mu.RUnlock()

	out := make(map[string]core.RateLimitState, len(limiters))
	for name, limiter := range limiters {
		out[name] = limiter.Snapshot()
	}
	return out
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

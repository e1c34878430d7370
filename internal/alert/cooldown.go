package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/llmgate/llmgate/internal/config"
)

// Cooldown suppresses repeated alerts of the same kind for the same provider
// within Period.
type Cooldown struct {
	Next   Notifier
	Period time.Duration
	Clock  func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewCooldown wraps next with a per-provider cooldown.
func NewCooldown(next Notifier, period time.Duration) *Cooldown {
	return &Cooldown{Next: next, Period: period}
}

func (c *Cooldown) SendThrottleAlert(ctx context.Context, alert ThrottleAlert) error {
	if c == nil || c.Next == nil || !c.allow("throttle:"+alert.Provider) {
		return nil
	}
	return c.Next.SendThrottleAlert(ctx, alert)
}

func (c *Cooldown) SendHealthAlert(ctx context.Context, alert HealthAlert) error {
	if c == nil || c.Next == nil || !c.allow("health:"+alert.Provider) {
		return nil
	}
	return c.Next.SendHealthAlert(ctx, alert)
}

// SetPeriod changes the cooldown. Already recorded sends keep their timestamps.
func (c *Cooldown) SetPeriod(period time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Period = period
}

// Apply picks up alerts.cooldown from a reloaded config.
func (c *Cooldown) Apply(cfg *config.Config) error {
	if c == nil {
		return fmt.Errorf("alert cooldown not configured")
	}
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	c.SetPeriod(cfg.Alerts.Cooldown)
	return nil
}

func (c *Cooldown) allow(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.last == nil {
		c.last = make(map[string]time.Time)
	}
	if last, ok := c.last[key]; ok && c.Period > 0 && now.Sub(last) < c.Period {
		return false
	}
	c.last[key] = now
	return true
}

func (c *Cooldown) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now().UTC()
}

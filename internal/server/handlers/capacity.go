package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/llmgate/llmgate/internal/core/semaphore"
)

// CapacityChecker fails when no concurrency slot frees up within Timeout.
type CapacityChecker struct {
	Semaphore *semaphore.Semaphore
	Timeout   time.Duration
}

func (c CapacityChecker) CheckHealth(ctx context.Context) error {
	if c.Semaphore.WaitForCapacity(ctx, c.Timeout) {
		return nil
	}
	stats := c.Semaphore.Stats()
	return fmt.Errorf("no free concurrency slot within %s (%d/%d active)", c.Timeout, stats.Active, stats.MaxConcurrent)
}

// Package semaphore bounds the number of in-flight provider calls across the
// whole process.
package semaphore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Release returns a slot. Calling it more than once has no further effect.
type Release func()

// Stats is a lock-free snapshot of semaphore usage.
type Stats struct {
	MaxConcurrent int   `json:"max_concurrent"`
	Active        int   `json:"active"`
	Available     int   `json:"available"`
	TotalAcquired int64 `json:"total_acquired"`
	TotalQueued   int64 `json:"total_queued"`
	AtCapacity    bool  `json:"at_capacity"`
}

// Semaphore is a FIFO-fair counting semaphore.
type Semaphore struct {
	max     int64
	weights *semaphore.Weighted

	active        atomic.Int64
	totalAcquired atomic.Int64
	totalQueued   atomic.Int64
}

// New creates a semaphore with maxConcurrent slots.
func New(maxConcurrent int) (*Semaphore, error) {
	if maxConcurrent < 1 {
		return nil, fmt.Errorf("max_concurrent must be >= 1 (got %d)", maxConcurrent)
	}
	return &Semaphore{
		max:     int64(maxConcurrent),
		weights: semaphore.NewWeighted(int64(maxConcurrent)),
	}, nil
}

// Acquire blocks until a slot is free or ctx is done. Waiters are served in
// arrival order. A ctx that is already done never gets a slot.
func (s *Semaphore) Acquire(ctx context.Context) (Release, error) {
	if s == nil {
		return func() {}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !s.weights.TryAcquire(1) {
		s.totalQueued.Add(1)
		if err := s.weights.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}
	return s.granted(), nil
}

// TryAcquire takes a slot only if one is immediately free.
func (s *Semaphore) TryAcquire() (Release, bool) {
	if s == nil {
		return func() {}, true
	}
	if !s.weights.TryAcquire(1) {
		return nil, false
	}
	return s.granted(), true
}

// Do runs fn while holding a slot. The slot is returned on every exit path,
// including a panic in fn.
func (s *Semaphore) Do(ctx context.Context, fn func(context.Context) error) error {
	release, err := s.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// WaitForCapacity reports whether a slot becomes free within timeout. The
// probe slot is returned immediately.
func (s *Semaphore) WaitForCapacity(ctx context.Context, timeout time.Duration) bool {
	if s == nil {
		return true
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := s.weights.Acquire(ctx, 1); err != nil {
		return false
	}
	s.weights.Release(1)
	return true
}

// Stats returns current usage.
func (s *Semaphore) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	active := s.active.Load()
	available := s.max - active
	if available < 0 {
		available = 0
	}
	return Stats{
		MaxConcurrent: int(s.max),
		Active:        int(active),
		Available:     int(available),
		TotalAcquired: s.totalAcquired.Load(),
		TotalQueued:   s.totalQueued.Load(),
		AtCapacity:    available == 0,
	}
}

// MaxConcurrent returns the configured slot count.
func (s *Semaphore) MaxConcurrent() int {
	if s == nil {
		return 0
	}
	return int(s.max)
}

func (s *Semaphore) granted() Release {
	s.active.Add(1)
	s.totalAcquired.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.active.Add(-1)
			s.weights.Release(1)
		})
	}
}

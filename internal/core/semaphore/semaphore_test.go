package semaphore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsZero(t *testing.T) {
	_, err := New(0)
	require.Error(t, err)

	sem, err := New(3)
	require.NoError(t, err)
	assert.Equal(t, 3, sem.MaxConcurrent())
}

func TestSemaphoreSerializesWithOneSlot(t *testing.T) {
	sem, err := New(1)
	require.NoError(t, err)

	var inFlight, maxSeen atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := sem.Do(context.Background(), func(context.Context) error {
				n := inFlight.Add(1)
				for {
					prev := maxSeen.Load()
					if n <= prev || maxSeen.CompareAndSwap(prev, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), maxSeen.Load())
	stats := sem.Stats()
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, int64(5), stats.TotalAcquired)
}

func TestSemaphoreActiveWithinBounds(t *testing.T) {
	sem, err := New(3)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := sem.Acquire(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			stats := sem.Stats()
			assert.GreaterOrEqual(t, stats.Active, 1)
			assert.LessOrEqual(t, stats.Active, 3)
			time.Sleep(time.Millisecond)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, sem.Stats().Active)
}

func TestAcquireCancelled(t *testing.T) {
	sem, err := New(1)
	require.NoError(t, err)

	release, err := sem.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = sem.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	stats := sem.Stats()
	assert.Equal(t, 1, stats.Active)
	assert.True(t, stats.AtCapacity)
	assert.Equal(t, int64(1), stats.TotalQueued)

	release()
	assert.Equal(t, 0, sem.Stats().Active)
}

func TestAcquireWithDoneContextTakesNoSlot(t *testing.T) {
	sem, err := New(2)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	release, err := sem.Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, release)

	stats := sem.Stats()
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, int64(0), stats.TotalAcquired)
	assert.Equal(t, int64(0), stats.TotalQueued)

	err = sem.Do(ctx, func(context.Context) error {
		t.Fatal("fn must not run")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestReleaseIsIdempotent(t *testing.T) {
	sem, err := New(2)
	require.NoError(t, err)

	release, err := sem.Acquire(context.Background())
	require.NoError(t, err)
	other, err := sem.Acquire(context.Background())
	require.NoError(t, err)

	release()
	release()
	assert.Equal(t, 1, sem.Stats().Active)

	_, ok := sem.TryAcquire()
	require.True(t, ok)
	_, ok = sem.TryAcquire()
	require.False(t, ok)

	other()
}

func TestDoReleasesOnPanicAndError(t *testing.T) {
	sem, err := New(1)
	require.NoError(t, err)

	require.Panics(t, func() {
		_ = sem.Do(context.Background(), func(context.Context) error {
			panic("boom")
		})
	})
	assert.Equal(t, 0, sem.Stats().Active)

	sentinel := errors.New("failed")
	err = sem.Do(context.Background(), func(context.Context) error { return sentinel })
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 0, sem.Stats().Active)
}

func TestWaitForCapacity(t *testing.T) {
	sem, err := New(1)
	require.NoError(t, err)

	assert.True(t, sem.WaitForCapacity(context.Background(), 10*time.Millisecond))
	assert.Equal(t, 0, sem.Stats().Active)

	release, err := sem.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, sem.WaitForCapacity(context.Background(), 10*time.Millisecond))

	go func() {
		time.Sleep(10 * time.Millisecond)
		release()
	}()
	assert.True(t, sem.WaitForCapacity(context.Background(), time.Second))
}

package respool_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avvakumov/respool"
)

func intFactory() respool.Factory[int] {
	var next atomic.Int64
	return respool.Factory[int]{
		Create: func(ctx context.Context) (int, error) {
			return int(next.Add(1)), nil
		},
		Destroy: func(ctx context.Context, resource int) error { return nil },
	}
}

func newTestPool(t *testing.T, cfg respool.Config[int]) (*respool.Pool[int], *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	cfg.Clock = mock
	p, err := respool.New(cfg)
	require.NoError(t, err)
	return p, mock
}

// S1: a pool with Min == Max dispenses from the idle cache without
// blocking once warm.
func TestPoolSequentialAcquireAndRelease(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, respool.Config[int]{
		Factory: intFactory(),
		Max:     5,
		Min:     5,
	})

	require.NoError(t, p.Ready(context.Background()))

	resource, err := p.AcquireCtx(context.Background(), 0)
	require.NoError(t, err)

	_, err = p.Release(resource).Wait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, p.Available())
}

// S2: when the pool is at Max and every resource is on loan, a further
// Acquire blocks until one is released.
func TestPoolAcquireBlocksUntilRelease(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, respool.Config[int]{
		Factory: intFactory(),
		Max:     1,
		Min:     1,
	})
	require.NoError(t, p.Ready(context.Background()))

	resource, err := p.AcquireCtx(context.Background(), 0)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := p.AcquireCtx(context.Background(), 0)
		assert.NoError(t, err)
	}()

	select {
	case <-done:
		t.Fatal("second acquire returned before release")
	case <-time.After(20 * time.Millisecond):
	}

	_, err = p.Release(resource).Wait(context.Background())
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second acquire never completed after release")
	}
}

// S3: a cancelled context makes AcquireCtx return promptly, and removes
// the request from the waiter queue so a subsequent release doesn't try
// to dispatch to it.
func TestPoolAcquireCtxCancel(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, respool.Config[int]{
		Factory: intFactory(),
		Max:     1,
		Min:     1,
	})
	require.NoError(t, p.Ready(context.Background()))

	resource, err := p.AcquireCtx(context.Background(), 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.AcquireCtx(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 0, p.Pending())

	_, err = p.Release(resource).Wait(context.Background())
	require.NoError(t, err)
}

// S4: AcquireTimeout rejects a queued request with ErrTimeout once it's
// waited too long, driven deterministically via the mock clock.
func TestPoolAcquireTimeout(t *testing.T) {
	t.Parallel()

	p, mock := newTestPool(t, respool.Config[int]{
		Factory:        intFactory(),
		Max:            1,
		Min:            1,
		AcquireTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, p.Ready(context.Background()))

	resource, err := p.AcquireCtx(context.Background(), 0)
	require.NoError(t, err)

	future := p.Acquire(0)

	mock.Add(49 * time.Millisecond)
	select {
	case <-future.Done():
		t.Fatal("future settled before timeout elapsed")
	case <-time.After(10 * time.Millisecond):
	}

	mock.Add(2 * time.Millisecond)
	_, err = future.Wait(context.Background())
	assert.ErrorIs(t, err, respool.ErrTimeout)

	_, err = p.Release(resource).Wait(context.Background())
	require.NoError(t, err)
}

// S5: higher-priority waiters are dispatched before lower-priority ones
// queued earlier.
func TestPoolPriorityOrdering(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, respool.Config[int]{
		Factory:       intFactory(),
		Max:           1,
		Min:           1,
		PriorityRange: 3,
	})
	require.NoError(t, p.Ready(context.Background()))

	resource, err := p.AcquireCtx(context.Background(), 0)
	require.NoError(t, err)

	lowFuture := p.Acquire(2)
	time.Sleep(5 * time.Millisecond)
	highFuture := p.Acquire(0)

	_, err = p.Release(resource).Wait(context.Background())
	require.NoError(t, err)

	select {
	case <-highFuture.Done():
	case <-time.After(time.Second):
		t.Fatal("high priority waiter never settled")
	}

	select {
	case <-lowFuture.Done():
		t.Fatal("low priority waiter settled before its turn")
	default:
	}

	got, err := highFuture.Wait(context.Background())
	require.NoError(t, err)
	_, err = p.Release(got).Wait(context.Background())
	require.NoError(t, err)

	_, err = lowFuture.Wait(context.Background())
	require.NoError(t, err)
}

// S6: MaxWaitingClients rejects further Acquire calls with ErrQueueFull
// once the waiter queue is full and no spare capacity remains.
func TestPoolQueueFull(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, respool.Config[int]{
		Factory:           intFactory(),
		Max:               1,
		Min:               1,
		MaxWaitingClients: 1,
	})
	require.NoError(t, p.Ready(context.Background()))

	_, err := p.AcquireCtx(context.Background(), 0)
	require.NoError(t, err)

	_ = p.Acquire(0)

	_, err = p.Acquire(0).Wait(context.Background())
	assert.ErrorIs(t, err, respool.ErrQueueFull)
}

// S7: TestOnBorrow validates a resource before it's dispatched and
// destroys it instead of dispatching it on validation failure, falling
// through to the next idle resource.
func TestPoolTestOnBorrowRejectsBadResource(t *testing.T) {
	t.Parallel()

	var destroyed atomic.Int64
	factory := respool.Factory[int]{
		Create: func(ctx context.Context) (int, error) { return 1, nil },
		Destroy: func(ctx context.Context, resource int) error {
			destroyed.Add(1)
			return nil
		},
		Validate: func(ctx context.Context, resource int) (bool, error) {
			return false, nil
		},
	}

	p, _ := newTestPool(t, respool.Config[int]{
		Factory:      factory,
		Max:          1,
		Min:          1,
		TestOnBorrow: true,
	})
	require.NoError(t, p.Ready(context.Background()))

	_, err := p.AcquireCtx(context.Background(), 0)
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return destroyed.Load() >= 1 }, time.Second, 5*time.Millisecond)
}

// S8: Drain stops new acquires, waits out the queue and outstanding
// loans, and IdleTimeout-driven eviction doesn't run once draining.
func TestPoolDrainWaitsForLoans(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, respool.Config[int]{
		Factory: intFactory(),
		Max:     2,
		Min:     2,
	})
	require.NoError(t, p.Ready(context.Background()))

	resource, err := p.AcquireCtx(context.Background(), 0)
	require.NoError(t, err)

	drainDone := make(chan error, 1)
	go func() { drainDone <- p.Drain(context.Background()) }()

	select {
	case err := <-drainDone:
		t.Fatalf("drain returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	_, err = p.Acquire(0).Wait(context.Background())
	assert.ErrorIs(t, err, respool.ErrDraining)

	_, err = p.Release(resource).Wait(context.Background())
	require.NoError(t, err)

	select {
	case err := <-drainDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("drain never completed after last loan returned")
	}
}

// Clear destroys every idle resource and, once idle, re-creates up to
// Min provided the pool isn't draining.
func TestPoolClearRecreatesToMin(t *testing.T) {
	t.Parallel()

	var created, destroyed atomic.Int64
	factory := respool.Factory[int]{
		Create: func(ctx context.Context) (int, error) {
			return int(created.Add(1)), nil
		},
		Destroy: func(ctx context.Context, resource int) error {
			destroyed.Add(1)
			return nil
		},
	}

	p, _ := newTestPool(t, respool.Config[int]{
		Factory: factory,
		Max:     3,
		Min:     3,
	})
	require.NoError(t, p.Ready(context.Background()))
	assert.EqualValues(t, 3, created.Load())

	require.NoError(t, p.Clear(context.Background()))

	assert.Eventually(t, func() bool {
		return p.Available() == 3
	}, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 3, destroyed.Load())
	assert.EqualValues(t, 6, created.Load())
}

// Clear does not re-create while the pool is draining.
func TestPoolClearDoesNotRecreateWhileDraining(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, respool.Config[int]{
		Factory: intFactory(),
		Max:     2,
		Min:     2,
	})
	require.NoError(t, p.Ready(context.Background()))

	go p.Drain(context.Background())
	assert.Eventually(t, func() bool {
		_, err := p.Acquire(0).Wait(context.Background())
		return errors.Is(err, respool.ErrDraining)
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Clear(context.Background()))
	assert.Equal(t, 0, p.Available())
	assert.Equal(t, 0, p.Size())
}

// Release rejects ErrUnknownResource for a handle that has no active
// loan against this pool.
func TestPoolReleaseUnknownResource(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, respool.Config[int]{
		Factory: intFactory(),
		Max:     1,
		Min:     1,
	})
	require.NoError(t, p.Ready(context.Background()))

	_, err := p.Release(999).Wait(context.Background())
	assert.ErrorIs(t, err, respool.ErrUnknownResource)
}

// New rejects a config missing a required factory function.
func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := respool.New(respool.Config[int]{Max: 1})
	assert.ErrorIs(t, err, respool.ErrInvalidConfig)
}

// Use acquires, runs fn, and releases on success or destroys on error.
func TestUseReleasesOnSuccessAndDestroysOnError(t *testing.T) {
	t.Parallel()

	var destroyed atomic.Int64
	factory := respool.Factory[int]{
		Create: func(ctx context.Context) (int, error) { return 1, nil },
		Destroy: func(ctx context.Context, resource int) error {
			destroyed.Add(1)
			return nil
		},
	}

	p, _ := newTestPool(t, respool.Config[int]{
		Factory: factory,
		Max:     1,
		Min:     1,
	})
	require.NoError(t, p.Ready(context.Background()))

	result, err := respool.Use(context.Background(), p, 0, func(resource int) (string, error) {
		return fmt.Sprintf("got %d", resource), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "got 1", result)

	_, err = respool.Use(context.Background(), p, 0, func(resource int) (int, error) {
		return 0, errors.New("boom")
	})
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return destroyed.Load() >= 1 }, time.Second, 5*time.Millisecond)
}

// TestPoolConcurrentAcquireAndRelease subjects the pool to concurrent
// load to check for deadlocks or lost wakeups in the dispensing path.
func TestPoolConcurrentAcquireAndRelease(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, respool.Config[int]{
		Factory: intFactory(),
		Max:     5,
		Min:     5,
	})
	require.NoError(t, p.Ready(context.Background()))

	wg := sync.WaitGroup{}
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resource, err := p.AcquireCtx(context.Background(), 0)
			if err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			time.Sleep(time.Millisecond)
			if _, err := p.Release(resource).Wait(context.Background()); err != nil {
				t.Errorf("release failed: %v", err)
			}
		}()
	}
	wg.Wait()
}

// The background evictor retires idle resources past SoftIdleTimeout
// down to, but never below, Min.
func TestPoolEvictionRespectsMin(t *testing.T) {
	t.Parallel()

	var destroyed atomic.Int64
	factory := intFactory()
	factory.Destroy = func(ctx context.Context, resource int) error {
		destroyed.Add(1)
		return nil
	}

	p, mock := newTestPool(t, respool.Config[int]{
		Factory:                factory,
		Max:                    5,
		Min:                    2,
		EvictionRunInterval:    10 * time.Millisecond,
		SoftIdleTimeout:        20 * time.Millisecond,
		NumTestsPerEvictionRun: 10,
	})
	require.NoError(t, p.Ready(context.Background()))

	resources := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		r, err := p.AcquireCtx(context.Background(), 0)
		require.NoError(t, err)
		resources = append(resources, r)
	}
	for _, r := range resources {
		_, err := p.Release(r).Wait(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, p.Available())

	mock.Add(30 * time.Millisecond)
	assert.Eventually(t, func() bool {
		return p.Available() == 2
	}, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, destroyed.Load())
}

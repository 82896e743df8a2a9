package flight

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

func TestDo_ConcurrentCallersShareOneRun(t *testing.T) {
	c := NewCoordinator(time.Minute)
	var calls atomic.Int32
	release := make(chan struct{})

	fn := func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	}

	var wg sync.WaitGroup
	results := make([]interface{}, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Do(context.Background(), "k", time.Second, fn)
			require.NoError(t, err)
			results[i] = v
		}(i)
	}

	// Let the callers pile up on the single in-flight entry before releasing.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, "shared", v)
	}
}

func TestDo_ServesCachedValueWithinTTL(t *testing.T) {
	c := NewCoordinator(time.Minute)
	now := time.Unix(1000, 0)
	c.SetClock(func() time.Time { return now })

	var calls int
	fn := func(ctx context.Context) (interface{}, error) {
		calls++
		return calls, nil
	}

	v, err := c.Do(context.Background(), "k", 10*time.Second, fn)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	now = now.Add(5 * time.Second)
	v, err = c.Do(context.Background(), "k", 10*time.Second, fn)
	require.NoError(t, err)
	assert.Equal(t, 1, v, "second call within ttl reuses the cached value")

	now = now.Add(20 * time.Second)
	v, err = c.Do(context.Background(), "k", 10*time.Second, fn)
	require.NoError(t, err)
	assert.Equal(t, 2, v, "expired cache recomputes")
}

func TestDo_ErrorsAreNeverCached(t *testing.T) {
	c := NewCoordinator(time.Minute)
	var calls int
	fn := func(ctx context.Context) (interface{}, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("boom")
		}
		return "ok", nil
	}

	_, err := c.Do(context.Background(), "k", time.Minute, fn)
	require.Error(t, err)

	v, err := c.Do(context.Background(), "k", time.Minute, fn)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 2, calls)
}

func TestDo_ZeroTTLAlwaysRecomputes(t *testing.T) {
	c := NewCoordinator(time.Minute)
	var calls int
	fn := func(ctx context.Context) (interface{}, error) {
		calls++
		return calls, nil
	}

	for i := 1; i <= 3; i++ {
		v, err := c.Do(context.Background(), "k", 0, fn)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
}

func TestDo_StaleInFlightIsAbandoned(t *testing.T) {
	c := NewCoordinator(100 * time.Millisecond)
	now := time.Unix(1000, 0)
	var mu sync.Mutex
	c.SetClock(func() time.Time { mu.Lock(); defer mu.Unlock(); return now })

	wedged := make(chan struct{})
	started := make(chan struct{})
	first := func(ctx context.Context) (interface{}, error) {
		close(started)
		<-wedged
		return "late", nil
	}

	go func() {
		_, _ = c.Do(context.Background(), "k", time.Minute, first)
	}()
	<-started

	// Advance past the staleness bound; the next caller starts fresh instead
	// of joining the wedged computation.
	mu.Lock()
	now = now.Add(time.Second)
	mu.Unlock()

	v, err := c.Do(context.Background(), "k", time.Minute, func(ctx context.Context) (interface{}, error) {
		return "fresh", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
	close(wedged)
}

func TestDo_CallerContextCancelUnblocksWait(t *testing.T) {
	c := NewCoordinator(time.Minute)
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Do(ctx, "k", time.Minute, func(ctx context.Context) (interface{}, error) {
			<-release
			return "slow", nil
		})
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Do did not return after caller context cancellation")
	}
}

func TestInvalidate_DropsCachedEntry(t *testing.T) {
	c := NewCoordinator(time.Minute)
	var calls int
	fn := func(ctx context.Context) (interface{}, error) {
		calls++
		return calls, nil
	}

	_, err := c.Do(context.Background(), "k", time.Minute, fn)
	require.NoError(t, err)

	c.Invalidate("k")

	v, err := c.Do(context.Background(), "k", time.Minute, fn)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestDo_KeysAreIndependent(t *testing.T) {
	c := NewCoordinator(time.Minute)
	va, err := c.Do(context.Background(), "a", time.Minute, func(ctx context.Context) (interface{}, error) {
		return "a", nil
	})
	require.NoError(t, err)
	vb, err := c.Do(context.Background(), "b", time.Minute, func(ctx context.Context) (interface{}, error) {
		return "b", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "a", va)
	assert.Equal(t, "b", vb)
}

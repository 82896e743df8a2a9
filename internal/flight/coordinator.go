// Package flight collapses concurrent identical computations into one shared
// in-flight result, with a TTL cache and an explicit staleness bound. It
// replaces ambient module-level promise maps with an injectable component.
package flight

import (
	"context"
	"sync"
	"time"
)

// Coordinator owns a map from computation key to a shared in-flight handle.
// Callers for the same key share one computation; a caller that finds the
// in-flight computation older than the staleness bound starts a fresh one
// instead of waiting on a possibly wedged future.
type Coordinator struct {
	staleness time.Duration
	clock     func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	done      chan struct{}
	startedAt time.Time

	value       interface{}
	err         error
	completedAt time.Time
}

// NewCoordinator builds a coordinator with the given staleness bound.
func NewCoordinator(staleness time.Duration) *Coordinator {
	return &Coordinator{
		staleness: staleness,
		clock:     time.Now,
		entries:   make(map[string]*entry),
	}
}

// SetClock overrides the time source, used by tests.
func (c *Coordinator) SetClock(clock func() time.Time) { c.clock = clock }

// Do returns a cached value younger than ttl, joins a live computation
// younger than the staleness bound, or runs fn itself.
func (c *Coordinator) Do(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	now := c.clock()

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		select {
		case <-e.done:
			// Completed: serve if fresh and successful.
			if e.err == nil && ttl > 0 && now.Sub(e.completedAt) <= ttl {
				c.mu.Unlock()
				return e.value, nil
			}
		default:
			// Still running: join unless it has been running too long.
			if now.Sub(e.startedAt) <= c.staleness {
				c.mu.Unlock()
				return c.wait(ctx, e)
			}
		}
	}

	fresh := &entry{done: make(chan struct{}), startedAt: now}
	c.entries[key] = fresh
	c.mu.Unlock()

	// The computation is shared; it must not die with the first caller's ctx.
	runCtx := context.WithoutCancel(ctx)
	go func() {
		fresh.value, fresh.err = fn(runCtx)
		fresh.completedAt = c.clock()
		close(fresh.done)
	}()

	return c.wait(ctx, fresh)
}

func (c *Coordinator) wait(ctx context.Context, e *entry) (interface{}, error) {
	select {
	case <-e.done:
		return e.value, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate drops any cached or in-flight entry for the key. In-flight
// computations finish but no new caller joins them.
func (c *Coordinator) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

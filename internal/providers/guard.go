package providers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Guard wraps one provider fetch with a timeout, a circuit breaker, a rate
// limit, and a last-known-good fallback. A stage that times out or errors
// degrades to the last good value with a recorded reason instead of failing
// the whole detection pass.
type Guard[T any] struct {
	name    string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	log     zerolog.Logger

	mu        sync.RWMutex
	lastGood  *T
	lastGoodAt time.Time
}

// Degradation records one stage fallback for observability.
type Degradation struct {
	Stage  string    `json:"stage"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// NewGuard builds a guard for one named stage.
func NewGuard[T any](name string, timeout time.Duration, log zerolog.Logger) *Guard[T] {
	settings := gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 4
		},
	}
	return &Guard[T]{
		name:    name,
		timeout: timeout,
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(rate.Every(time.Second), 4),
		log:     log.With().Str("stage", name).Logger(),
	}
}

// Fetch runs fn under the guard. On failure it returns the last-known-good
// value plus a degradation record; with no fallback available the error
// propagates.
func (g *Guard[T]) Fetch(ctx context.Context, fn func(context.Context) (T, error)) (T, *Degradation, error) {
	var zero T

	if err := g.limiter.Wait(ctx); err != nil {
		return g.fallback(zero, fmt.Errorf("rate limit: %w", err))
	}

	fetchCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	result, err := g.breaker.Execute(func() (interface{}, error) {
		return fn(fetchCtx)
	})
	if err != nil {
		return g.fallback(zero, err)
	}

	value := result.(T)
	g.mu.Lock()
	g.lastGood = &value
	g.lastGoodAt = time.Now()
	g.mu.Unlock()
	return value, nil, nil
}

func (g *Guard[T]) fallback(zero T, cause error) (T, *Degradation, error) {
	g.mu.RLock()
	last, at := g.lastGood, g.lastGoodAt
	g.mu.RUnlock()

	if last == nil {
		return zero, nil, fmt.Errorf("stage %s: %w", g.name, cause)
	}

	deg := &Degradation{
		Stage:  g.name,
		Reason: fmt.Sprintf("%s:fallback_last_known_good:%s", g.name, cause.Error()),
		At:     time.Now(),
	}
	g.log.Warn().Err(cause).Time("last_good_at", at).Msg("provider degraded to last known good")
	return *last, deg, nil
}

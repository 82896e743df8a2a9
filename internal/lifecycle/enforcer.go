package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/spxrun/internal/config"
	"github.com/sawpanic/spxrun/internal/domain"
	"github.com/sawpanic/spxrun/internal/metrics"
)

// Collection is the shared live-setup set. Writes are last-writer-wins;
// TTL/market-close invalidation is idempotent so the enforcer and detector
// can both mutate it.
type Collection struct {
	mu     sync.RWMutex
	setups []domain.Setup
}

// NewCollection builds an empty collection.
func NewCollection() *Collection { return &Collection{} }

// Snapshot returns a copy of the current setups.
func (c *Collection) Snapshot() []domain.Setup {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Setup, len(c.setups))
	copy(out, c.setups)
	return out
}

// Replace swaps the collection contents.
func (c *Collection) Replace(setups []domain.Setup) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setups = make([]domain.Setup, len(setups))
	copy(c.setups, setups)
}

// Enforcer sweeps the collection on a fixed cadence, independent of request
// traffic: TTL breaches and the market-close sweep apply even when nothing
// polls the detection pipeline.
type Enforcer struct {
	collection *Collection
	machine    *Machine
	cfg        config.DetectionConfig
	log        zerolog.Logger
	metrics    *metrics.Engine
	clock      func() time.Time
}

// NewEnforcer builds an enforcer.
func NewEnforcer(collection *Collection, machine *Machine, cfg config.DetectionConfig, log zerolog.Logger) *Enforcer {
	return &Enforcer{
		collection: collection,
		machine:    machine,
		cfg:        cfg,
		log:        log.With().Str("component", "lifecycle_enforcer").Logger(),
		clock:      time.Now,
	}
}

// SetMetrics attaches the metrics engine. Sweeps run without one otherwise.
func (e *Enforcer) SetMetrics(m *metrics.Engine) { e.metrics = m }

// SetClock overrides the time source, used by tests.
func (e *Enforcer) SetClock(clock func() time.Time) { e.clock = clock }

// Run ticks until the context is cancelled.
func (e *Enforcer) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.EnforceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep()
		}
	}
}

// Sweep applies TTL expiry and the market-close sweep once.
func (e *Enforcer) Sweep() {
	now := e.clock()
	setups := e.collection.Snapshot()
	if len(setups) == 0 {
		return
	}

	afterClose := domain.AfterSessionClose(now)
	expired, closed := 0, 0

	for i := range setups {
		s := &setups[i]
		if s.Status.Terminal() {
			continue
		}

		if afterClose {
			s.Status = domain.StatusInvalidated
			s.InvalidationReason = domain.InvalidMarketClosed
			s.StatusUpdatedAt = now
			s.TTLExpiresAt = nil
			closed++
			continue
		}

		prev := &Previous{
			Status:          s.Status,
			StatusUpdatedAt: s.StatusUpdatedAt,
			TTLExpiresAt:    s.TTLExpiresAt,
			TriggeredAt:     s.TriggeredAt,
			CreatedAt:       s.CreatedAt,
		}
		meta := e.machine.ResolveMetadata(now, s.Status, s.InvalidationReason, prev)
		if meta.Status != s.Status {
			s.Status = meta.Status
			s.InvalidationReason = meta.InvalidationReason
			s.StatusUpdatedAt = meta.StatusUpdatedAt
			s.TTLExpiresAt = meta.TTLExpiresAt
			expired++
		}
	}

	if expired > 0 || closed > 0 {
		e.collection.Replace(setups)
		if e.metrics != nil {
			e.metrics.SweepInvalidations.WithLabelValues("ttl_expired").Add(float64(expired))
			e.metrics.SweepInvalidations.WithLabelValues("market_closed").Add(float64(closed))
		}
		e.log.Info().
			Int("ttl_expired", expired).
			Int("market_closed", closed).
			Msg("lifecycle sweep applied")
	}
}

package calibration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/sawpanic/spxrun/internal/config"
)

// RowLoader fetches resolved outcome rows for a lookback window ending at the
// as-of date.
type RowLoader interface {
	LoadResolvedOutcomes(ctx context.Context, asOfDate string, lookbackDays int) ([]OutcomeRow, error)
}

// Provider hands out calibration models with a short TTL, rebuilding on
// demand. Concurrent callers for the same as-of date collapse into one
// rebuild.
type Provider struct {
	loader RowLoader
	cfg    config.CalibrationConfig
	log    zerolog.Logger
	clock  func() time.Time

	group singleflight.Group

	mu     sync.RWMutex
	models map[string]*Model
}

// NewProvider builds a model provider.
func NewProvider(loader RowLoader, cfg config.CalibrationConfig, log zerolog.Logger) *Provider {
	return &Provider{
		loader: loader,
		cfg:    cfg,
		log:    log.With().Str("component", "calibration").Logger(),
		clock:  time.Now,
		models: make(map[string]*Model),
	}
}

// SetClock overrides the time source, used by tests.
func (p *Provider) SetClock(clock func() time.Time) { p.clock = clock }

// ModelFor returns a fresh model for the as-of date, rebuilding past TTL.
// A rebuild failure with a cached model available degrades to the stale
// model rather than failing the caller.
func (p *Provider) ModelFor(ctx context.Context, asOfDate string) (*Model, error) {
	now := p.clock()

	p.mu.RLock()
	cached, ok := p.models[asOfDate]
	p.mu.RUnlock()
	if ok && !cached.Expired(now) {
		return cached, nil
	}

	v, err, _ := p.group.Do(asOfDate, func() (interface{}, error) {
		// Another caller may have rebuilt while this one waited on the group.
		p.mu.RLock()
		existing, ok := p.models[asOfDate]
		p.mu.RUnlock()
		if ok && !existing.Expired(p.clock()) {
			return existing, nil
		}

		rows, err := p.loader.LoadResolvedOutcomes(ctx, asOfDate, p.cfg.LookbackDays)
		if err != nil {
			return nil, fmt.Errorf("load calibration rows: %w", err)
		}
		model := BuildModel(asOfDate, rows, p.cfg, p.clock())

		p.mu.Lock()
		p.models[asOfDate] = model
		// Drop snapshots for other dates so replay sessions can't pin memory.
		for date := range p.models {
			if date != asOfDate {
				delete(p.models, date)
			}
		}
		p.mu.Unlock()

		p.log.Info().
			Str("as_of", asOfDate).
			Int("resolved_rows", model.RowCount).
			Msg("calibration model rebuilt")
		return model, nil
	})
	if err != nil {
		if ok {
			p.log.Warn().Err(err).Str("as_of", asOfDate).Msg("calibration rebuild failed, serving stale model")
			return cached, nil
		}
		return nil, err
	}
	return v.(*Model), nil
}

// Status summarizes the provider for the health surface.
type Status struct {
	AsOfDate  string    `json:"asOfDate"`
	BuiltAt   time.Time `json:"builtAt"`
	RowCount  int       `json:"rowCount"`
	Expired   bool      `json:"expired"`
}

// Statuses reports every cached model snapshot.
func (p *Provider) Statuses() []Status {
	now := p.clock()
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Status, 0, len(p.models))
	for _, m := range p.models {
		out = append(out, Status{
			AsOfDate: m.AsOfDate,
			BuiltAt:  m.BuiltAt,
			RowCount: m.RowCount,
			Expired:  m.Expired(now),
		})
	}
	return out
}

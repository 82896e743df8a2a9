// Package detect runs the detection pass: signal fetch, scoring, geometry,
// calibration, gating, and lifecycle resolution into a ranked setup list.
package detect

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/spxrun/internal/calibration"
	"github.com/sawpanic/spxrun/internal/config"
	"github.com/sawpanic/spxrun/internal/domain"
	"github.com/sawpanic/spxrun/internal/flight"
	"github.com/sawpanic/spxrun/internal/gates"
	"github.com/sawpanic/spxrun/internal/lifecycle"
	"github.com/sawpanic/spxrun/internal/metrics"
	"github.com/sawpanic/spxrun/internal/providers"
	"github.com/sawpanic/spxrun/internal/quality"
	"github.com/sawpanic/spxrun/internal/score"
)

const detectKey = "detect_setups"

// InstanceRecorder persists per-cycle setup instances for outcome tracking.
type InstanceRecorder interface {
	RecordInstances(ctx context.Context, sessionDate string, setups []domain.Setup) error
}

// ShadowRecorder persists shadow-blocked setups. Write-only side channel.
type ShadowRecorder interface {
	Record(ctx context.Context, sessionDate string, setup domain.Setup)
}

// Detector owns one detection pipeline instance.
type Detector struct {
	cfg   config.EngineConfig
	log   zerolog.Logger
	clock func() time.Time

	levels      *providers.Guard[[]domain.ClusterZone]
	gex         *providers.Guard[domain.GexLandscape]
	regime      *providers.Guard[domain.RegimeState]
	flow        *providers.Guard[domain.FlowSnapshot]
	indicators  *providers.Guard[domain.IndicatorContext]
	bars        *providers.Guard[[]providers.Bar]
	environment *providers.Guard[gates.EnvironmentSnapshot]

	bundle      providers.Bundle
	quality     quality.Scorer
	confluence  *score.Scorer
	calibration *calibration.Provider
	machine     *lifecycle.Machine
	contexts    *lifecycle.ContextTracker
	collection  *lifecycle.Collection
	coordinator *flight.Coordinator

	instances InstanceRecorder
	shadow    ShadowRecorder
	resolved  ResolvedLoader
	metrics   *metrics.Engine
}

// New wires a detector. instances, shadow, and m may be nil in tests.
func New(cfg config.EngineConfig, bundle providers.Bundle, calib *calibration.Provider,
	collection *lifecycle.Collection, instances InstanceRecorder, shadow ShadowRecorder,
	m *metrics.Engine, log zerolog.Logger) *Detector {

	stageTimeout := cfg.Detection.StageTimeout
	return &Detector{
		cfg:         cfg,
		log:         log.With().Str("component", "detector").Logger(),
		clock:       time.Now,
		levels:      providers.NewGuard[[]domain.ClusterZone]("levels", stageTimeout, log),
		gex:         providers.NewGuard[domain.GexLandscape]("gex", stageTimeout, log),
		regime:      providers.NewGuard[domain.RegimeState]("regime", stageTimeout, log),
		flow:        providers.NewGuard[domain.FlowSnapshot]("flow", stageTimeout, log),
		indicators:  providers.NewGuard[domain.IndicatorContext]("indicators", stageTimeout, log),
		bars:        providers.NewGuard[[]providers.Bar]("bars", stageTimeout, log),
		environment: providers.NewGuard[gates.EnvironmentSnapshot]("environment", stageTimeout, log),
		bundle:      bundle,
		confluence:  score.NewScorer(cfg.Confluence),
		calibration: calib,
		machine:     lifecycle.NewMachine(cfg.Lifecycle),
		contexts:    lifecycle.NewContextTracker(),
		collection:  collection,
		coordinator: flight.NewCoordinator(cfg.Detection.StalenessBound),
		instances:   instances,
		shadow:      shadow,
		metrics:     m,
	}
}

// SetClock overrides the time source, used by tests.
func (d *Detector) SetClock(clock func() time.Time) { d.clock = clock }

// Options control one detection call.
type Options struct {
	ForceRefresh bool
	AsOf         time.Time // zero = now; historical timestamps bypass caching
}

// DetectActiveSetups runs (or joins) a detection pass and returns the ranked
// setups. Concurrent callers for "now" collapse into a single computation.
func (d *Detector) DetectActiveSetups(ctx context.Context, opts Options) ([]domain.Setup, error) {
	historical := !opts.AsOf.IsZero()
	if historical || opts.ForceRefresh {
		return d.run(ctx, opts)
	}

	v, err := d.coordinator.Do(ctx, detectKey, d.cfg.Detection.SnapshotCacheTTL,
		func(runCtx context.Context) (interface{}, error) {
			return d.run(runCtx, opts)
		})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Setup), nil
}

// SetupByID returns one setup from the current pass.
func (d *Detector) SetupByID(ctx context.Context, id string) (*domain.Setup, error) {
	setups, err := d.DetectActiveSetups(ctx, Options{})
	if err != nil {
		return nil, err
	}
	for i := range setups {
		if setups[i].ID == id {
			return &setups[i], nil
		}
	}
	return nil, nil
}

type signalSet struct {
	zones       []domain.ClusterZone
	gex         domain.GexLandscape
	regime      domain.RegimeState
	flow        domain.FlowSnapshot
	indicators  *domain.IndicatorContext
	bars        []providers.Bar
	environment gates.EnvironmentSnapshot
	degraded    []providers.Degradation
}

// fetchSignals fans out the provider fetches with per-stage isolation.
// Independent stages run concurrently; a degraded stage contributes its
// last-known-good value and a recorded reason.
func (d *Detector) fetchSignals(ctx context.Context, now time.Time) (*signalSet, error) {
	set := &signalSet{}
	var degraded []providers.Degradation
	collect := func(deg *providers.Degradation) {
		if deg != nil {
			degraded = append(degraded, *deg)
			if d.metrics != nil {
				d.metrics.StageFallbacks.WithLabelValues(deg.Stage).Inc()
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zones, deg, err := d.levels.Fetch(gctx, d.bundle.Levels.Clusters)
		if err != nil {
			return err
		}
		set.zones = zones
		collect(deg)
		return nil
	})
	g.Go(func() error {
		gex, deg, err := d.gex.Fetch(gctx, d.bundle.Gex.Landscape)
		if err != nil {
			return err
		}
		set.gex = gex
		collect(deg)
		return nil
	})
	g.Go(func() error {
		regime, deg, err := d.regime.Fetch(gctx, d.bundle.Regime.Current)
		if err != nil {
			// Regime is advisory: unknown regime scores conservatively.
			set.regime = domain.RegimeState{Regime: domain.RegimeUnknown, Timestamp: now}
			collect(&providers.Degradation{Stage: "regime", Reason: "regime:unavailable:" + err.Error(), At: now})
			return nil
		}
		set.regime = regime
		collect(deg)
		return nil
	})
	g.Go(func() error {
		flow, deg, err := d.flow.Fetch(gctx, d.bundle.Flow.Snapshot)
		if err != nil {
			set.flow = domain.FlowSnapshot{Timestamp: now}
			collect(&providers.Degradation{Stage: "flow", Reason: "flow:unavailable:" + err.Error(), At: now})
			return nil
		}
		set.flow = flow
		collect(deg)
		return nil
	})
	g.Go(func() error {
		ind, deg, err := d.indicators.Fetch(gctx, d.bundle.Indicators.Context)
		if err != nil {
			collect(&providers.Degradation{Stage: "indicators", Reason: "indicators:unavailable:" + err.Error(), At: now})
			return nil
		}
		set.indicators = &ind
		collect(deg)
		return nil
	})
	g.Go(func() error {
		bars, deg, err := d.bars.Fetch(gctx, func(c context.Context) ([]providers.Bar, error) {
			return d.bundle.Bars.RecentBars(c, 2)
		})
		if err != nil {
			collect(&providers.Degradation{Stage: "bars", Reason: "bars:unavailable:" + err.Error(), At: now})
			return nil
		}
		set.bars = bars
		collect(deg)
		return nil
	})
	g.Go(func() error {
		env, deg, err := d.environment.Fetch(gctx, d.bundle.Environment.Snapshot)
		if err != nil {
			// Unevaluable environment resolves conservative, not blocking.
			set.environment = gates.EnvironmentSnapshot{Now: now}
			collect(&providers.Degradation{Stage: "environment", Reason: "environment:unavailable:" + err.Error(), At: now})
			return nil
		}
		set.environment = env
		collect(deg)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("detection signals: %w", err)
	}
	set.environment.Now = now
	set.degraded = degraded
	return set, nil
}

func (d *Detector) run(ctx context.Context, opts Options) ([]domain.Setup, error) {
	started := d.clock()
	now := started
	if !opts.AsOf.IsZero() {
		now = opts.AsOf
	}
	sessionDate := domain.SessionDate(now)

	signals, err := d.fetchSignals(ctx, now)
	if err != nil {
		return nil, err
	}

	profile, err := d.bundle.Profile.Active(ctx)
	if err != nil {
		profile = gates.DefaultProfile()
		signals.degraded = append(signals.degraded, providers.Degradation{
			Stage: "profile", Reason: "profile:unavailable_default:" + err.Error(), At: now,
		})
	}
	evaluator := gates.NewEvaluator(profile)

	var model *calibration.Model
	if d.calibration != nil {
		model, err = d.calibration.ModelFor(ctx, sessionDate)
		if err != nil {
			signals.degraded = append(signals.degraded, providers.Degradation{
				Stage: "calibration", Reason: "calibration:heuristic_only:" + err.Error(), At: now,
			})
		}
	}

	previous := d.collection.Snapshot()
	previousByID := make(map[string]domain.Setup, len(previous))
	for _, s := range previous {
		previousByID[s.ID] = s
	}

	spot := signals.gex.SpotPrice
	candidates := pickCandidateZones(signals.zones, spot)

	setups := make([]domain.Setup, 0, len(candidates))
	for _, zone := range candidates {
		setup, ok := d.buildSetup(ctx, buildContext{
			now:         now,
			sessionDate: sessionDate,
			zone:        zone,
			signals:     signals,
			profile:     profile,
			evaluator:   evaluator,
			model:       model,
			previous:    previousByID,
		})
		if ok {
			setups = append(setups, setup)
		}
	}

	// Setups that left the candidate list while active are carried forward
	// once as expired so consumers see them resolve instead of vanish.
	liveIDs := make(map[string]bool, len(setups))
	for _, s := range setups {
		liveIDs[s.ID] = true
	}
	for _, prev := range previous {
		if liveIDs[prev.ID] || prev.Status.Terminal() {
			continue
		}
		dropped := prev
		dropped.Status = domain.StatusExpired
		dropped.StatusUpdatedAt = now
		dropped.TTLExpiresAt = nil
		setups = append(setups, dropped)
	}

	activeIDs := make(map[string]bool, len(setups))
	for _, s := range setups {
		if !s.Status.Terminal() {
			activeIDs[s.ID] = true
		}
	}
	d.contexts.Prune(activeIDs)

	ranked := rankSetups(applyMixPolicy(dedupeSemantic(setups), d.cfg.Diversification))
	d.collection.Replace(ranked)

	if d.instances != nil {
		if err := d.instances.RecordInstances(ctx, sessionDate, ranked); err != nil {
			d.log.Warn().Err(err).Int("setup_count", len(ranked)).
				Msg("setup outcome tracking persistence failed")
		}
	}

	d.observe(ranked, signals, started)
	return ranked, nil
}

func (d *Detector) observe(ranked []domain.Setup, signals *signalSet, started time.Time) {
	counts := map[domain.SetupStatus]int{}
	blocked := 0
	for _, s := range ranked {
		counts[s.Status]++
		if s.GateStatus != domain.GateEligible {
			blocked++
		}
	}
	if d.metrics != nil {
		d.metrics.DetectionRuns.Inc()
		d.metrics.DetectionDuration.Observe(time.Since(started).Seconds())
		for status, n := range counts {
			d.metrics.SetupsByStatus.WithLabelValues(string(status)).Set(float64(n))
		}
	}
	d.log.Info().
		Int("count", len(ranked)).
		Int("ready", counts[domain.StatusReady]).
		Int("triggered", counts[domain.StatusTriggered]).
		Int("invalidated", counts[domain.StatusInvalidated]).
		Int("expired", counts[domain.StatusExpired]).
		Int("gate_blocked", blocked).
		Int("degraded_stages", len(signals.degraded)).
		Msg("setups detected")
	for _, deg := range signals.degraded {
		d.log.Warn().Str("stage", deg.Stage).Str("reason", deg.Reason).Msg("stage degraded")
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

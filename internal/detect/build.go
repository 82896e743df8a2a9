package detect

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/sawpanic/spxrun/internal/calibration"
	"github.com/sawpanic/spxrun/internal/domain"
	"github.com/sawpanic/spxrun/internal/gates"
	"github.com/sawpanic/spxrun/internal/geometry"
	"github.com/sawpanic/spxrun/internal/lifecycle"
	"github.com/sawpanic/spxrun/internal/providers"
	"github.com/sawpanic/spxrun/internal/quality"
	"github.com/sawpanic/spxrun/internal/score"
)

// buildContext carries one cycle's shared state into the per-zone build.
type buildContext struct {
	now         time.Time
	sessionDate string
	zone        domain.ClusterZone
	signals     *signalSet
	profile     gates.Profile
	evaluator   *gates.Evaluator
	model       *calibration.Model
	previous    map[string]domain.Setup
}

// buildSetup runs the full per-zone pipeline: classification, quality,
// confluence, geometry, lifecycle, probability, and gating. A zone whose
// geometry cannot be constructed yields no setup.
func (d *Detector) buildSetup(ctx context.Context, bc buildContext) (domain.Setup, bool) {
	zone := bc.zone
	spot := bc.signals.gex.SpotPrice
	regime := bc.signals.regime
	now := bc.now

	direction := setupDirection(zone, spot)
	emaAligned, emaSlope := emaAlignment(direction, bc.signals.indicators)
	volumeAligned := volumeRegimeAligned(regime.Regime, bc.signals.indicators)

	setupType := inferSetupType(typeInput{
		regime:        regime.Regime,
		direction:     direction,
		spot:          spot,
		zoneCenter:    zone.Center(),
		gex:           bc.signals.gex,
		indicators:    bc.signals.indicators,
		emaAligned:    emaAligned,
		volumeAligned: volumeAligned,
	})

	id := domain.StableID("spx_setup",
		domain.SetupSeed(bc.sessionDate, setupType, zone.ID, zone.PriceLow, zone.PriceHigh)...)

	var prev *domain.Setup
	if p, ok := bc.previous[id]; ok {
		prev = &p
	}
	createdAt := now
	if prev != nil && !prev.CreatedAt.IsZero() {
		createdAt = prev.CreatedAt
	}
	firstSeenMinute := domain.SessionMinute(createdAt)

	regimeAligned := isRegimeAligned(setupType, regime.Regime)
	regimeConflict := hasRegimeConflict(direction, regime, d.cfg.Lifecycle.RegimeConflictConfidenceThreshold)

	flow := bc.signals.flow
	flowActive := flow.Active(d.cfg.Flow.MinEvents, d.cfg.Flow.MinPremiumUSD)
	alignmentPct := directionalAlignment(direction, flow)
	flowConfirmed := flowActive && flow.Confirmed && flow.Bias == direction
	flowDivergence := alignmentPct != nil &&
		*alignmentPct < d.cfg.Lifecycle.FlowDivergenceAlignmentThreshold

	rating := d.quality.Rate(zone, now)
	gexAligned := isGexAligned(setupType, direction, bc.signals.gex, zone.Center())

	conf := d.confluence.Score(confluenceSignals(confluenceInput{
		flowConfirmed:  flowConfirmed,
		alignmentPct:   alignmentPct,
		flowAt:         flow.Timestamp,
		emaAligned:     emaAligned,
		emaSlope:       emaSlope,
		rating:         rating.Score,
		zoneScore:      zone.ClusterScore,
		gexAligned:     gexAligned,
		regimeAligned:  regimeAligned,
		regimeConflict: regimeConflict,
		zone:           zone,
	}), now.UnixMilli())
	confContinuous := continuousConfluence(conf)

	bucket := domain.BucketForMinute(firstSeenMinute)
	policy := bc.profile.GeometryPolicy.Resolve(setupType, regime.Regime, bucket)
	opp1, opp2 := opposingProjections(bc.signals.zones, zone, direction)
	atr := 0.0
	if bc.signals.indicators != nil {
		atr = bc.signals.indicators.ATRPoints
	}
	geo, err := geometry.Build(geometry.Input{
		Zone:             zone,
		Direction:        direction,
		SetupType:        setupType,
		Policy:           policy,
		FallbackDistance: math.Max(6, atr*1.5),
		OpposingTarget1:  opp1,
		OpposingTarget2:  opp2,
		FlipPoint:        bc.signals.gex.FlipPoint,
		ATRPoints:        atr,
	})
	if err != nil {
		d.log.Warn().Err(err).Str("zone_id", zone.ID).Str("setup_type", string(setupType)).
			Msg("zone rejected on geometry")
		return domain.Setup{}, false
	}

	inEntry := geo.EntryZone.Contains(spot)
	pattern := detectPattern(direction, geo.EntryZone, bc.signals.bars)
	computed := computedStatus(setupType, regime.Regime, conf.Score, inEntry, pattern)

	stopBreach := (direction == domain.Bullish && spot < geo.Stop) ||
		(direction == domain.Bearish && spot > geo.Stop)
	streaks := d.contexts.Observe(id, now, regimeConflict, flowDivergence, stopBreach)

	prevLifecycle := previousLifecycle(prev)
	status, invReason := d.machine.ResolveStatus(lifecycle.StatusInput{
		ComputedStatus: computed,
		Previous:       prevLifecycle,
		Context:        streaks,
	})
	meta := d.machine.ResolveMetadata(now, status, invReason, prevLifecycle)
	status = meta.Status

	var triggeredAt *time.Time
	if prev != nil && prev.TriggeredAt != nil {
		triggeredAt = prev.TriggeredAt
	} else if status == domain.StatusTriggered {
		t := now
		triggeredAt = &t
	}
	wasPreviouslyTriggered := prev != nil &&
		(prev.TriggeredAt != nil || prev.Status == domain.StatusTriggered)

	ev := evInput{
		cfg:              d.cfg.Scoring,
		regime:           regime,
		direction:        direction,
		confluenceScore:  conf.Score,
		zoneQuality:      rating.Score,
		zoneType:         zone.Type,
		flowConfirmed:    flowConfirmed,
		alignmentPct:     alignmentPct,
		gexAligned:       gexAligned,
		emaAligned:       emaAligned,
		emaFastSlope:     emaSlope,
		volumeAligned:    volumeAligned,
		regimeAligned:    regimeAligned,
		regimeConflict:   regimeConflict,
		flowDivergence:   flowDivergence,
		spot:             spot,
		entryMid:         geo.EntryZone.Mid(),
		fallbackDistance: math.Max(6, atr*1.5),
		status:           status,
		inEntryZone:      inEntry,
		context:          streaks,
	}
	finalScore := evScore(ev)

	baseline := d.confluence.BaselineWin(conf.Score, setupType)
	rawPWin := heuristicPWin(baseline, finalScore, regimeAligned, alignmentPct)
	calibrated := d.calibrate(bc.model, setupType, regime.Regime, firstSeenMinute, rawPWin)

	risk := math.Max(0.5, math.Abs(geo.EntryZone.Mid()-geo.Stop))
	r1 := math.Abs(geo.Target1.Price-geo.EntryZone.Mid()) / risk
	r2 := math.Abs(geo.Target2.Price-geo.EntryZone.Mid()) / risk
	evR := expectedValueR(calibrated.PWin, r1, r2, flowConfirmed, status)

	macroScore := macroAlignmentScore(ev)
	var macroPtr *float64
	macroFloor := 0.0
	if d.cfg.MacroFilter.Enabled {
		macroPtr = &macroScore
		macroFloor = d.cfg.MacroFilter.MinAlignmentScore
	}
	env := bc.signals.environment
	env.MaxVix = d.cfg.MacroFilter.MaxVix
	env.ExpectedMoveLimit = d.cfg.MacroFilter.ExpectedMoveMaxUsed
	env.BlackoutBlocks = d.cfg.MacroFilter.BlackoutBlocks
	env.EventRiskBlocks = d.cfg.MacroFilter.EventRiskBlocks

	verdict := bc.evaluator.Evaluate(gates.Input{
		Status:                 status,
		WasPreviouslyTriggered: wasPreviouslyTriggered,
		SetupType:              setupType,
		Regime:                 regime.Regime,
		Direction:              direction,
		FirstSeenMinute:        firstSeenMinute,
		ConfluenceScore:        confContinuous,
		PWinCalibrated:         calibrated.PWin,
		EvR:                    evR,
		FlowConfirmed:          flowConfirmed,
		FlowAlignmentPct:       alignmentPct,
		FlowActive:             flowActive,
		EmaAligned:             emaAligned,
		VolumeRegimeAligned:    volumeAligned,
		MacroAlignmentScore:    macroPtr,
		MacroAlignmentFloor:    macroFloor,
		Environment:            env,
	})

	// A blocked setup is withheld, not discarded: it resets to forming so a
	// later cycle can requalify it, and its tier is hidden.
	if verdict.Blocked() && !status.Terminal() {
		status = domain.StatusForming
		meta = d.machine.ResolveMetadata(now, status, "", prevLifecycle)
		status = meta.Status
		// The gate fired before the trade existed; the trigger never happened.
		if prev == nil || prev.TriggeredAt == nil {
			triggeredAt = nil
		}
	}

	tier := deriveTier(d.cfg.Scoring, status, verdict.Status, finalScore, calibrated.PWin, evR)
	plan := resolveTradeManagement(bc.profile.TradeManagement, setupType, conf.Score, flowConfirmed)
	drivers, risks := decisionNarrative(conf, rating, flowConfirmed, regimeAligned,
		regimeConflict, flowDivergence, gexAligned, calibrated, verdict)

	setup := domain.Setup{
		ID:                  id,
		StableIDHash:        id,
		Type:                setupType,
		Direction:           direction,
		EntryZone:           geo.EntryZone,
		Stop:                geo.Stop,
		Target1:             geo.Target1,
		Target2:             geo.Target2,
		ConfluenceScore:     conf.Score,
		ConfluenceSources:   conf.Sources,
		ConfluenceBreakdown: conf.Breakdown,
		ClusterZone:         zone,
		Regime:              regime.Regime,
		Status:              status,
		Score:               round2(finalScore),
		PWinCalibrated:      calibrated.PWin,
		Probability:         round2(calibrated.PWin * 100),
		EvR:                 round2(evR),
		GateStatus:          verdict.Status,
		GateReasons:         verdict.Reasons,
		Tier:                tier,
		DecisionDrivers:     drivers,
		DecisionRisks:       risks,
		TradeManagement:     plan,
		CreatedAt:           createdAt,
		TriggeredAt:         triggeredAt,
		StatusUpdatedAt:     meta.StatusUpdatedAt,
		TTLExpiresAt:        meta.TTLExpiresAt,
		InvalidationReason:  meta.InvalidationReason,
	}

	d.recordGateOutcome(ctx, bc.sessionDate, setup, calibrated)
	return setup, true
}

func (d *Detector) calibrate(model *calibration.Model, setupType domain.SetupType,
	regime domain.Regime, firstSeenMinute int, rawPWin float64) calibration.Result {
	if model == nil {
		return calibration.Result{
			PWin:   clamp(rawPWin, d.cfg.Calibration.PWinFloor, d.cfg.Calibration.PWinCeiling),
			Source: calibration.SourceHeuristic,
		}
	}
	return model.Calibrate(setupType, regime, firstSeenMinute, rawPWin)
}

func (d *Detector) recordGateOutcome(ctx context.Context, sessionDate string,
	setup domain.Setup, calibrated calibration.Result) {
	if d.metrics != nil {
		d.metrics.CalibrationSource.WithLabelValues(string(calibrated.Source)).Inc()
		for _, reason := range setup.GateReasons {
			d.metrics.GateBlocks.WithLabelValues(string(reason.Kind)).Inc()
		}
		if setup.GateStatus == domain.GateShadowBlocked {
			d.metrics.ShadowBlocks.Inc()
		}
	}
	if setup.GateStatus == domain.GateShadowBlocked && d.shadow != nil {
		d.shadow.Record(ctx, sessionDate, setup)
	}
}

// emaAlignment reports whether the EMA stack supports the trade direction.
func emaAlignment(direction domain.Direction, ind *domain.IndicatorContext) (bool, float64) {
	if ind == nil || ind.EMAFast == 0 || ind.EMASlow == 0 {
		return false, 0
	}
	if direction == domain.Bullish {
		return ind.EMAFast > ind.EMASlow, ind.EMAFastSlope
	}
	return ind.EMAFast < ind.EMASlow, ind.EMAFastSlope
}

// volumeRegimeAligned: expansion regimes want elevated participation, the
// ranging regime wants it subdued.
func volumeRegimeAligned(regime domain.Regime, ind *domain.IndicatorContext) bool {
	if ind == nil || ind.RelativeVolume == 0 {
		return false
	}
	switch regime {
	case domain.RegimeTrending, domain.RegimeBreakout:
		return ind.RelativeVolume >= 1.1
	case domain.RegimeRanging, domain.RegimeSqueeze:
		return ind.RelativeVolume <= 1.35
	}
	return ind.RelativeVolume >= 0.9
}

// directionalAlignment folds the direction-agnostic flow alignment into the
// candidate's direction. Nil propagates: no flow events means no alignment
// signal, which is scored worse than an explicit neutral reading.
func directionalAlignment(direction domain.Direction, flow domain.FlowSnapshot) *float64 {
	if flow.AlignmentPct == nil {
		return nil
	}
	pct := *flow.AlignmentPct
	if flow.Bias != "" && flow.Bias != direction {
		pct = 100 - pct
	}
	return &pct
}

// isGexAligned reports whether the gamma landscape supports the archetype.
func isGexAligned(setupType domain.SetupType, direction domain.Direction,
	gex domain.GexLandscape, zoneCenter float64) bool {
	switch setupType {
	case domain.SetupFadeAtWall, domain.SetupPinMagnet, domain.SetupMeanReversion:
		return gex.NetGex > 0
	case domain.SetupBreakoutVacuum, domain.SetupGammaSqueeze:
		return gex.NetGex < 0
	case domain.SetupFlipReclaim:
		if gex.FlipPoint == 0 {
			return false
		}
		if direction == domain.Bullish {
			return zoneCenter >= gex.FlipPoint
		}
		return zoneCenter <= gex.FlipPoint
	default:
		// Trend family benefits from negative gamma acceleration.
		return gex.NetGex < 0
	}
}

type confluenceInput struct {
	flowConfirmed  bool
	alignmentPct   *float64
	flowAt         time.Time
	emaAligned     bool
	emaSlope       float64
	rating         float64
	zoneScore      float64
	gexAligned     bool
	regimeAligned  bool
	regimeConflict bool
	zone           domain.ClusterZone
}

// confluenceSignals maps the cycle's raw signals into scorer channels. Zone
// touch memory feeds the memory channel: a held zone is prior evidence.
func confluenceSignals(in confluenceInput) score.Signals {
	sig := score.Signals{
		FlowConfirmed:  in.flowConfirmed,
		FlowScore:      in.alignmentPct,
		EMAAligned:     in.emaAligned,
		EMAFastSlope:   in.emaSlope,
		ZoneQuality:    in.rating,
		ZoneScore:      in.zoneScore,
		GexAligned:     in.gexAligned,
		RegimeAligned:  in.regimeAligned,
		RegimeConflict: in.regimeConflict,
	}
	if !in.flowAt.IsZero() {
		sig.FlowAtMs = in.flowAt.UnixMilli()
	}
	if in.zone.TestCount > 0 {
		boost := clamp(in.zone.HoldRate*100, 0, 100)
		sig.MemoryBoost = &boost
		if !in.zone.LastTestAt.IsZero() {
			sig.MemoryAtMs = in.zone.LastTestAt.UnixMilli()
		}
	}
	return sig
}

// continuousConfluence returns the pre-rounding confluence value the gates
// compare against their floor. In legacy mode the integer is already exact.
func continuousConfluence(r score.Result) float64 {
	if r.Breakdown != nil {
		return clamp(r.Breakdown.Composite/20, 0, 5)
	}
	return float64(r.Score)
}

// opposingProjections finds the two nearest zone centers beyond the entry in
// the trade direction, used as target anchors.
func opposingProjections(zones []domain.ClusterZone, entry domain.ClusterZone,
	direction domain.Direction) (float64, float64) {
	var beyond []float64
	for _, z := range zones {
		if z.ID == entry.ID {
			continue
		}
		c := z.Center()
		if direction == domain.Bullish && c > entry.PriceHigh {
			beyond = append(beyond, c)
		}
		if direction == domain.Bearish && c < entry.PriceLow {
			beyond = append(beyond, c)
		}
	}
	sort.Float64s(beyond)
	if direction == domain.Bearish {
		// Nearest first: descending for bearish.
		for i, j := 0, len(beyond)-1; i < j; i, j = i+1, j-1 {
			beyond[i], beyond[j] = beyond[j], beyond[i]
		}
	}
	switch len(beyond) {
	case 0:
		return 0, 0
	case 1:
		return beyond[0], 0
	default:
		return beyond[0], beyond[1]
	}
}

// detectPattern runs trigger-bar detection over the latest two bars.
func detectPattern(direction domain.Direction, entry domain.EntryZone,
	bars []providers.Bar) lifecycle.TriggerPattern {
	if len(bars) < 2 {
		return lifecycle.PatternNone
	}
	prev := bars[len(bars)-2]
	last := bars[len(bars)-1]
	return lifecycle.DetectTrigger(direction, entry,
		lifecycle.Bar{Open: prev.Open, High: prev.High, Low: prev.Low, Close: prev.Close},
		lifecycle.Bar{Open: last.Open, High: last.High, Low: last.Low, Close: last.Close})
}

// computedStatus derives the pre-lifecycle status from confluence, price
// position, and trigger-bar confirmation. Flip reclaims in a ranging regime
// qualify one notch earlier.
func computedStatus(setupType domain.SetupType, regime domain.Regime, confluence int,
	inEntry bool, pattern lifecycle.TriggerPattern) domain.SetupStatus {
	if inEntry && pattern != lifecycle.PatternNone {
		return domain.StatusTriggered
	}
	readyFloor := 3
	if setupType == domain.SetupFlipReclaim && regime == domain.RegimeRanging {
		readyFloor = 2
	}
	if confluence >= readyFloor || pattern != lifecycle.PatternNone {
		return domain.StatusReady
	}
	return domain.StatusForming
}

func previousLifecycle(prev *domain.Setup) *lifecycle.Previous {
	if prev == nil {
		return nil
	}
	return &lifecycle.Previous{
		Status:          prev.Status,
		StatusUpdatedAt: prev.StatusUpdatedAt,
		TTLExpiresAt:    prev.TTLExpiresAt,
		TriggeredAt:     prev.TriggeredAt,
		CreatedAt:       prev.CreatedAt,
	}
}

// resolveTradeManagement tunes the base plan per archetype: fades bank more
// at the first target, high-conviction flow-backed setups hold more for the
// runner.
func resolveTradeManagement(base domain.TradeManagementPlan, setupType domain.SetupType,
	confluence int, flowConfirmed bool) domain.TradeManagementPlan {
	plan := base
	if plan.PartialAtT1Pct <= 0 || plan.PartialAtT1Pct > 1 {
		plan.PartialAtT1Pct = 0.65
	}
	if fadeFamily[setupType] {
		plan.PartialAtT1Pct = clamp(plan.PartialAtT1Pct+0.1, 0.1, 0.9)
	}
	if confluence >= 4 && flowConfirmed {
		plan.PartialAtT1Pct = clamp(plan.PartialAtT1Pct-0.15, 0.1, 0.9)
	}
	plan.PartialAtT1Pct = round2(plan.PartialAtT1Pct)
	return plan
}

// decisionNarrative renders the human-facing drivers and risks.
func decisionNarrative(conf score.Result, rating quality.Rating, flowConfirmed,
	regimeAligned, regimeConflict, flowDivergence, gexAligned bool,
	calibrated calibration.Result, verdict gates.Verdict) ([]string, []string) {

	var drivers, risks []string
	if rating.Score >= 70 {
		drivers = append(drivers, "strong zone structure")
	}
	if flowConfirmed {
		drivers = append(drivers, "options flow confirms direction")
	}
	if regimeAligned {
		drivers = append(drivers, "regime supports archetype")
	}
	if gexAligned {
		drivers = append(drivers, "gamma landscape aligned")
	}
	if conf.Score >= 4 {
		drivers = append(drivers, "high confluence")
	}
	if calibrated.Source != calibration.SourceHeuristic && calibrated.SampleSize >= 12 {
		drivers = append(drivers, "probability backed by trade history")
	}

	if regimeConflict {
		risks = append(risks, "regime classifier points the other way")
	}
	if flowDivergence {
		risks = append(risks, "flow diverging from direction")
	}
	if rating.Score < 45 {
		risks = append(risks, "weak zone structure")
	}
	if calibrated.Source == calibration.SourceHeuristic {
		risks = append(risks, "no empirical history for this context")
	}
	risks = append(risks, domain.RenderReasons(verdict.Reasons)...)
	return drivers, risks
}

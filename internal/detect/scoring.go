package detect

import (
	"math"

	"github.com/sawpanic/spxrun/internal/config"
	"github.com/sawpanic/spxrun/internal/domain"
	"github.com/sawpanic/spxrun/internal/lifecycle"
)

// featureWeights are the regime-dependent EV feature weights.
type featureWeights struct {
	structure, flow, gex, regime, proximity, microTrigger float64
}

func regimeWeights(regime domain.Regime) featureWeights {
	switch regime {
	case domain.RegimeTrending, domain.RegimeBreakout:
		return featureWeights{structure: 0.22, flow: 0.2, gex: 0.14, regime: 0.18, proximity: 0.14, microTrigger: 0.12}
	case domain.RegimeRanging:
		return featureWeights{structure: 0.3, flow: 0.14, gex: 0.18, regime: 0.14, proximity: 0.14, microTrigger: 0.1}
	default:
		return featureWeights{structure: 0.26, flow: 0.17, gex: 0.16, regime: 0.16, proximity: 0.14, microTrigger: 0.11}
	}
}

// evInput gathers everything the EV scorer folds together.
type evInput struct {
	cfg              config.ScoringConfig
	regime           domain.RegimeState
	direction        domain.Direction
	confluenceScore  int
	zoneQuality      float64
	zoneType         domain.ZoneType
	flowConfirmed    bool
	alignmentPct     *float64
	gexAligned       bool
	emaAligned       bool
	emaFastSlope     float64
	volumeAligned    bool
	regimeAligned    bool
	regimeConflict   bool
	flowDivergence   bool
	spot             float64
	entryMid         float64
	fallbackDistance float64
	status           domain.SetupStatus
	inEntryZone      bool
	context          lifecycle.ContextState
}

// evScore is the composed final score (0..100).
func evScore(in evInput) float64 {
	normalizedConfluence := clamp(float64(in.confluenceScore)/5*100, 0, 100)
	if !in.cfg.EvTieringEnabled {
		return normalizedConfluence
	}

	structureQuality := clamp(in.zoneQuality*0.6+normalizedConfluence*0.4, 0, 100)

	flowAlignment := 44.0
	if in.flowConfirmed {
		flowAlignment = 58
	}
	if in.alignmentPct != nil {
		flowAlignment = clamp(*in.alignmentPct+boolBonus(in.flowConfirmed, 6), 0, 100)
	}

	gexAlignment := 42.0
	if in.gexAligned {
		gexAlignment = 82
	}

	regimeAlignment := 36.0
	if in.regimeAligned {
		regimeAlignment = 82
	}
	if in.regime.Direction == in.direction {
		regimeAlignment += 8
	}
	if in.regimeConflict {
		regimeAlignment -= 10
	}
	regimeAlignment = clamp(regimeAlignment, 0, 100)

	proximityDistance := math.Abs(in.spot - in.entryMid)
	proximityRatio := 1 - math.Min(1, proximityDistance/math.Max(2, in.fallbackDistance*1.25))
	proximityUrgency := clamp(35+proximityRatio*65, 0, 100)

	microTrigger := 30.0
	if in.status == domain.StatusTriggered {
		microTrigger = 90
	} else if in.inEntryZone {
		microTrigger = 70
	} else if in.status == domain.StatusReady {
		microTrigger = 55
	}

	w := regimeWeights(in.regime.Regime)
	raw := w.structure*(structureQuality/100) +
		w.flow*(flowAlignment/100) +
		w.gex*(gexAlignment/100) +
		w.regime*(regimeAlignment/100) +
		w.proximity*(proximityUrgency/100) +
		w.microTrigger*(microTrigger/100)

	emaTrendScore := 38.0
	if in.emaAligned {
		emaTrendScore = clamp(68+in.emaFastSlope*20, 0, 100)
	}
	volumeContextScore := 44.0
	if in.volumeAligned {
		volumeContextScore = 72
	}
	indicatorBlend := 0.65*emaTrendScore + 0.35*volumeContextScore

	stalePenalty := math.Min(12, float64(in.context.RegimeConflictStreak+in.context.FlowDivergenceStreak)*3)
	contradictionPenalty := boolBonus(in.regimeConflict, 8) + boolBonus(in.flowDivergence, 7)
	lifecyclePenalty := 0.0
	switch in.status {
	case domain.StatusForming:
		lifecyclePenalty = 6
	case domain.StatusInvalidated:
		lifecyclePenalty = 90
	case domain.StatusExpired:
		lifecyclePenalty = 95
	}

	return clamp(raw*100-stalePenalty-contradictionPenalty-lifecyclePenalty+(indicatorBlend-50)*0.1, 0, 100)
}

// heuristicPWin seeds the calibration model: the baseline table plus score,
// regime, and flow adjustments, clamped before calibration ever sees it.
func heuristicPWin(baseline, finalScore float64, regimeAligned bool, alignmentPct *float64) float64 {
	p := baseline + (finalScore-50)/220
	if regimeAligned {
		p += 0.03
	} else {
		p -= 0.04
	}
	if alignmentPct != nil {
		p += (*alignmentPct - 50) / 240
	}
	return clamp(p, 0.05, 0.95)
}

// expectedValueR computes EV in R multiples with a cost haircut.
func expectedValueR(pWin, rTarget1, rTarget2 float64, flowConfirmed bool, status domain.SetupStatus) float64 {
	rBlended := 0.65*rTarget1 + 0.35*rTarget2
	costR := 0.08
	if !flowConfirmed {
		costR += 0.03
	}
	if status == domain.StatusForming {
		costR += 0.05
	}
	return pWin*rBlended - (1-pWin)*1.0 - costR
}

// deriveTier buckets a gated setup by score/pWin/EV thresholds. Blocked
// setups are always hidden; triggered setups never are.
func deriveTier(cfg config.ScoringConfig, status domain.SetupStatus, gateStatus domain.GateStatus, score, pWin, evR float64) domain.SetupTier {
	if gateStatus != domain.GateEligible {
		return domain.TierHidden
	}
	var tier domain.SetupTier
	switch {
	case !cfg.EvTieringEnabled:
		if status == domain.StatusReady || status == domain.StatusTriggered {
			tier = domain.TierWatchlist
		} else {
			tier = domain.TierHidden
		}
	case score >= cfg.SniperPrimaryMinScore && pWin >= cfg.SniperPrimaryMinPWin && evR >= cfg.SniperPrimaryMinEvR:
		tier = domain.TierSniperPrimary
	case score >= cfg.SniperSecondaryMinScore && evR >= cfg.SniperSecondaryMinEvR:
		tier = domain.TierSniperSecondary
	case score >= cfg.WatchlistMinScore:
		tier = domain.TierWatchlist
	default:
		tier = domain.TierHidden
	}
	if status == domain.StatusTriggered && tier == domain.TierHidden {
		tier = domain.TierWatchlist
	}
	return tier
}

// macroAlignmentScore folds the macro context into one 0..100 score for the
// macro kill switch.
func macroAlignmentScore(in evInput) float64 {
	score := 50.0
	if in.regimeAligned {
		score += 16
	} else {
		score -= 10
	}
	if in.regimeConflict {
		score -= 14
	}
	if in.flowConfirmed {
		score += 10
	}
	if in.alignmentPct != nil {
		score += (*in.alignmentPct - 50) * 0.2
	}
	if in.flowDivergence {
		score -= 12
	}
	if in.emaAligned {
		score += 8
	}
	if in.volumeAligned {
		score += 6
	}
	if in.gexAligned {
		score += 6
	}
	return clamp(score, 0, 100)
}

func boolBonus(b bool, v float64) float64 {
	if b {
		return v
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

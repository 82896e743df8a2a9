// Package score computes confluence: how many independent signal channels
// agree on a trade idea. Legacy mode counts discrete boolean channels into an
// integer 1..5; weighted mode computes a continuous decayed composite and
// derives the integer from it.
package score

import (
	"math"

	"github.com/sawpanic/spxrun/internal/config"
	"github.com/sawpanic/spxrun/internal/domain"
)

// maxBaselineWin caps the table-driven seed so the baseline can never be the
// sole driver of the final probability.
const maxBaselineWin = 0.65

// Signals carries the per-channel inputs for one zone/direction candidate.
// Pointer fields are optional channels; nil means the signal was unavailable,
// which is scored strictly worse than an explicit neutral value.
type Signals struct {
	FlowConfirmed bool
	FlowScore     *float64 // 0..100
	FlowAtMs      int64    // unix ms, 0 = unknown

	EMAAligned   bool
	EMAFastSlope float64

	ZoneQuality float64 // 0..100 from the quality scorer
	ZoneScore   float64 // raw cluster score 0..5

	GexAligned    bool
	RegimeAligned bool
	RegimeConflict bool

	MultiTFComposite *float64 // 0..100
	MultiTFAtMs      int64

	MemoryBoost *float64 // 0..100, zone touch memory
	MemoryAtMs  int64
}

// Result is the confluence verdict for one candidate.
type Result struct {
	Score      int      // 1..5
	Sources    []string // channels that fired, for presentation
	GexAligned bool
	Breakdown  *domain.ConfluenceBreakdown // weighted mode only
}

// Scorer evaluates confluence under one configuration snapshot.
type Scorer struct {
	cfg config.ConfluenceConfig
}

// NewScorer builds a scorer from the confluence configuration.
func NewScorer(cfg config.ConfluenceConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score dispatches on the configured mode.
func (s *Scorer) Score(sig Signals, nowMs int64) Result {
	if s.cfg.WeightedMode {
		return s.scoreWeighted(sig, nowMs)
	}
	return s.scoreLegacy(sig)
}

// scoreLegacy counts the discrete channels that fire.
func (s *Scorer) scoreLegacy(sig Signals) Result {
	var sources []string
	count := 0
	add := func(name string) {
		count++
		sources = append(sources, name)
	}

	if sig.FlowConfirmed {
		add("flow_confirmation")
	}
	if sig.EMAAligned {
		add("ema_alignment")
	}
	if sig.GexAligned {
		add("gex_alignment")
	}
	if sig.RegimeAligned && !sig.RegimeConflict {
		add("regime_alignment")
	}
	if sig.ZoneScore >= s.cfg.ZoneScoreFloor {
		add("zone_structure")
	}
	if sig.MultiTFComposite != nil && *sig.MultiTFComposite >= 60 {
		add("multi_tf_alignment")
	}

	score := count
	if score < 1 {
		score = 1
	}
	if score > 5 {
		score = 5
	}
	return Result{Score: score, Sources: sources, GexAligned: sig.GexAligned}
}

// BaselineWin returns the raw win-probability seed for a confluence score:
// the calibrated baseline table plus the per-archetype offset. The result is
// a seed for the calibration model, never the final probability.
func (s *Scorer) BaselineWin(score int, setupType domain.SetupType) float64 {
	pct, ok := s.cfg.BaselineWinPctByScore[score]
	if !ok {
		pct = 32
	}
	pct += s.cfg.TypeOffsetPct[setupType]
	p := pct / 100
	if p > maxBaselineWin {
		p = maxBaselineWin
	}
	if p < 0.05 {
		p = 0.05
	}
	return p
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// Package geometry derives entry zone, stop, and targets for a setup from its
// zone and the active geometry policy. Policies are keyed by setup type with
// regime and time-of-day refinements layered on top.
package geometry

import (
	"fmt"
	"math"

	"github.com/sawpanic/spxrun/internal/domain"
)

// PolicyEntry scales stop/target construction and bounds targets in R terms.
type PolicyEntry struct {
	StopScale    float64 `json:"stopScale" yaml:"stop_scale"`
	Target1Scale float64 `json:"target1Scale" yaml:"target1_scale"`
	Target2Scale float64 `json:"target2Scale" yaml:"target2_scale"`
	T1MinR       float64 `json:"t1MinR" yaml:"t1_min_r"`
	T1MaxR       float64 `json:"t1MaxR" yaml:"t1_max_r"`
	T2MinR       float64 `json:"t2MinR" yaml:"t2_min_r"`
	T2MaxR       float64 `json:"t2MaxR" yaml:"t2_max_r"`
}

// PolicyPatch is a partial override; nil fields keep the base value.
type PolicyPatch struct {
	StopScale    *float64 `json:"stopScale,omitempty" yaml:"stop_scale,omitempty"`
	Target1Scale *float64 `json:"target1Scale,omitempty" yaml:"target1_scale,omitempty"`
	Target2Scale *float64 `json:"target2Scale,omitempty" yaml:"target2_scale,omitempty"`
	T1MinR       *float64 `json:"t1MinR,omitempty" yaml:"t1_min_r,omitempty"`
	T1MaxR       *float64 `json:"t1MaxR,omitempty" yaml:"t1_max_r,omitempty"`
	T2MinR       *float64 `json:"t2MinR,omitempty" yaml:"t2_min_r,omitempty"`
	T2MaxR       *float64 `json:"t2MaxR,omitempty" yaml:"t2_max_r,omitempty"`
}

// PolicyTable is the geometry section of an optimization profile.
type PolicyTable struct {
	BySetupType            map[domain.SetupType]PolicyEntry `json:"bySetupType" yaml:"by_setup_type"`
	BySetupRegime          map[string]PolicyPatch           `json:"bySetupRegime" yaml:"by_setup_regime"`
	BySetupRegimeTimeBucket map[string]PolicyPatch          `json:"bySetupRegimeTimeBucket" yaml:"by_setup_regime_time_bucket"`
}

// FallbackPolicy is the entry of last resort.
var FallbackPolicy = PolicyEntry{
	StopScale:    1,
	Target1Scale: 1,
	Target2Scale: 1,
	T1MinR:       1.0,
	T1MaxR:       2.2,
	T2MinR:       1.6,
	T2MaxR:       3.4,
}

// defaultPolicyByType seeds per-archetype geometry when the profile has none.
var defaultPolicyByType = map[domain.SetupType]PolicyEntry{
	domain.SetupFadeAtWall:       {StopScale: 1, Target1Scale: 0.95, Target2Scale: 0.95, T1MinR: 1.0, T1MaxR: 1.7, T2MinR: 1.5, T2MaxR: 2.4},
	domain.SetupBreakoutVacuum:   {StopScale: 1.04, Target1Scale: 0.94, Target2Scale: 0.92, T1MinR: 1.2, T1MaxR: 2.4, T2MinR: 1.9, T2MaxR: 3.8},
	domain.SetupMeanReversion:    {StopScale: 1, Target1Scale: 0.95, Target2Scale: 0.95, T1MinR: 1.1, T1MaxR: 1.85, T2MinR: 1.7, T2MaxR: 2.7},
	domain.SetupTrendContinuation: {StopScale: 1.02, Target1Scale: 0.98, Target2Scale: 0.96, T1MinR: 1.1, T1MaxR: 2.2, T2MinR: 1.7, T2MaxR: 3.3},
	domain.SetupOrbBreakout:      {StopScale: 1.02, Target1Scale: 0.96, Target2Scale: 0.94, T1MinR: 1.1, T1MaxR: 2.3, T2MinR: 1.8, T2MaxR: 3.6},
	domain.SetupTrendPullback:    {StopScale: 1.02, Target1Scale: 0.96, Target2Scale: 0.94, T1MinR: 1.05, T1MaxR: 2.1, T2MinR: 1.6, T2MaxR: 3.2},
	domain.SetupFlipReclaim:      {StopScale: 1, Target1Scale: 0.97, Target2Scale: 0.95, T1MinR: 1.3, T1MaxR: 2.1, T2MinR: 2.0, T2MaxR: 3.0},
	domain.SetupGammaSqueeze:     {StopScale: 1.05, Target1Scale: 0.95, Target2Scale: 0.92, T1MinR: 1.2, T1MaxR: 2.5, T2MinR: 2.0, T2MaxR: 4.0},
	domain.SetupPinMagnet:        {StopScale: 1, Target1Scale: 0.96, Target2Scale: 0.95, T1MinR: 1.0, T1MaxR: 1.8, T2MinR: 1.5, T2MaxR: 2.6},
}

// DefaultPolicyFor returns the archetype default entry.
func DefaultPolicyFor(setupType domain.SetupType) PolicyEntry {
	if entry, ok := defaultPolicyByType[setupType]; ok {
		return entry
	}
	return FallbackPolicy
}

// ComboKey joins the regime-refinement lookup key.
func ComboKey(setupType domain.SetupType, regime domain.Regime) string {
	return fmt.Sprintf("%s|%s", setupType, regime)
}

// BucketKey joins the time-bucket-refinement lookup key.
func BucketKey(setupType domain.SetupType, regime domain.Regime, bucket domain.TimeBucket) string {
	return fmt.Sprintf("%s|%s|%s", setupType, regime, bucket)
}

// Resolve layers the policy table: bySetupType, then the (type, regime)
// patch, then the (type, regime, timeBucket) patch. The result is always
// normalized.
func (t PolicyTable) Resolve(setupType domain.SetupType, regime domain.Regime, bucket domain.TimeBucket) PolicyEntry {
	base := DefaultPolicyFor(setupType)
	if entry, ok := t.BySetupType[setupType]; ok {
		base = entry.normalize(base)
	} else {
		base = base.normalize(FallbackPolicy)
	}
	if patch, ok := t.BySetupRegime[ComboKey(setupType, regime)]; ok {
		base = patch.apply(base)
	}
	if patch, ok := t.BySetupRegimeTimeBucket[BucketKey(setupType, regime, bucket)]; ok {
		base = patch.apply(base)
	}
	return base
}

// normalize clamps an entry into sane bounds, filling non-finite or zero
// fields from the fallback. The R bands remain internally consistent:
// t1MaxR > t1MinR and the t2 band sits above the t1 band.
func (e PolicyEntry) normalize(fallback PolicyEntry) PolicyEntry {
	pick := func(v, fb float64) float64 {
		if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fb
		}
		return v
	}
	out := PolicyEntry{
		StopScale:    clamp(pick(e.StopScale, fallback.StopScale), 0.75, 1.4),
		Target1Scale: clamp(pick(e.Target1Scale, fallback.Target1Scale), 0.7, 1.3),
		Target2Scale: clamp(pick(e.Target2Scale, fallback.Target2Scale), 0.7, 1.4),
		T1MinR:       clamp(pick(e.T1MinR, fallback.T1MinR), 0.6, 3.5),
	}
	out.T1MaxR = clamp(pick(e.T1MaxR, fallback.T1MaxR), out.T1MinR+0.1, 4.5)
	out.T2MinR = clamp(pick(e.T2MinR, fallback.T2MinR), math.Max(0.8, out.T1MinR+0.2), 4.2)
	out.T2MaxR = clamp(pick(e.T2MaxR, fallback.T2MaxR), math.Max(out.T2MinR+0.1, out.T1MaxR+0.2), 6)
	return out
}

func (p PolicyPatch) apply(base PolicyEntry) PolicyEntry {
	out := base
	if p.StopScale != nil {
		out.StopScale = *p.StopScale
	}
	if p.Target1Scale != nil {
		out.Target1Scale = *p.Target1Scale
	}
	if p.Target2Scale != nil {
		out.Target2Scale = *p.Target2Scale
	}
	if p.T1MinR != nil {
		out.T1MinR = *p.T1MinR
	}
	if p.T1MaxR != nil {
		out.T1MaxR = *p.T1MaxR
	}
	if p.T2MinR != nil {
		out.T2MinR = *p.T2MinR
	}
	if p.T2MaxR != nil {
		out.T2MaxR = *p.T2MaxR
	}
	return out.normalize(base)
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

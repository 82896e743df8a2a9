package score

import (
	"math"
	"sort"

	"github.com/sawpanic/spxrun/internal/domain"
)

// DecayFactor returns the freshness multiplier for a signal timestamp.
// A missing timestamp (zero or negative unix ms) is treated as exactly one
// half-life old, factor 0.5: unknown age is penalized but never zeroed out.
func (s *Scorer) DecayFactor(signalAtMs, nowMs int64) float64 {
	halfLife := s.cfg.DecayHalfLife.Milliseconds()
	if halfLife <= 0 {
		return 1
	}
	if signalAtMs <= 0 {
		return 0.5
	}
	age := nowMs - signalAtMs
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/float64(halfLife))
}

// effectiveSlot blends a present component toward the missing floor as its
// signal ages. A fully fresh value passes through unchanged; a value of
// unknown age lands halfway between itself and the floor. Zero is a valid
// data point and flows through like any other value.
func (s *Scorer) effectiveSlot(value float64, signalAtMs, nowMs int64) float64 {
	decay := s.DecayFactor(signalAtMs, nowMs)
	return s.cfg.MissingScore + (value-s.cfg.MissingScore)*decay
}

// scoreWeighted computes the continuous composite as a fixed-weight sum of
// per-channel slot scores (0..100), then derives the integer score from it.
func (s *Scorer) scoreWeighted(sig Signals, nowMs int64) Result {
	w := s.cfg.Weights
	components := make(map[string]float64, 7)
	var missing []string

	slot := func(name string, value *float64, atMs int64) float64 {
		if value == nil {
			missing = append(missing, name)
			components[name] = s.cfg.MissingScore
			return s.cfg.MissingScore
		}
		eff := s.effectiveSlot(*value, atMs, nowMs)
		components[name] = eff
		return eff
	}

	flowVal := sig.FlowScore
	if flowVal == nil && sig.FlowConfirmed {
		confirmed := 70.0
		flowVal = &confirmed
	}
	emaScore := boolScore(sig.EMAAligned, 50+sig.EMAFastSlope*20)
	gexScore := boolValue(sig.GexAligned, 82, 42)
	regimeScore := regimeSlot(sig.RegimeAligned, sig.RegimeConflict)

	// EMA, zone, gex, and regime are computed against the current cycle, so
	// they always carry the current timestamp; only the asynchronous feeds
	// (flow, multi-TF, memory) age.
	composite := w.Flow*slot("flow", flowVal, sig.FlowAtMs) +
		w.EMA*slot("ema", &emaScore, nowMs) +
		w.Zone*slot("zone", &sig.ZoneQuality, nowMs) +
		w.Gex*slot("gex", &gexScore, nowMs) +
		w.Regime*slot("regime", &regimeScore, nowMs) +
		w.MultiTF*slot("multi_tf", sig.MultiTFComposite, sig.MultiTFAtMs) +
		w.Memory*slot("memory", sig.MemoryBoost, sig.MemoryAtMs)

	totalWeight := w.Flow + w.EMA + w.Zone + w.Gex + w.Regime + w.MultiTF + w.Memory
	if totalWeight > 0 {
		composite /= totalWeight
	}
	composite = clamp(composite, 0, 100)

	score := int(math.Round(composite / 20))
	if score < 1 {
		score = 1
	}
	if score > 5 {
		score = 5
	}

	var sources []string
	for name, v := range components {
		if v >= 60 {
			sources = append(sources, name)
		}
	}
	sort.Strings(sources)

	return Result{
		Score:      score,
		Sources:    sources,
		GexAligned: sig.GexAligned,
		Breakdown: &domain.ConfluenceBreakdown{
			Composite:  round2(composite),
			Components: components,
			Missing:    missing,
		},
	}
}

func boolScore(aligned bool, alignedScore float64) float64 {
	if aligned {
		return clamp(alignedScore, 0, 100)
	}
	return 38
}

func boolValue(b bool, yes, no float64) float64 {
	if b {
		return yes
	}
	return no
}

func regimeSlot(aligned, conflict bool) float64 {
	v := 36.0
	if aligned {
		v = 82
	}
	if conflict {
		v -= 10
	}
	return clamp(v, 0, 100)
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

package geometry

import (
	"fmt"
	"math"

	"github.com/sawpanic/spxrun/internal/domain"
)

// Fade archetypes carry a wider stop buffer so wall tests don't shake them
// out before the thesis resolves.
const fadeStopBufferPoints = 3.0

// Input is everything the builder needs for one candidate.
type Input struct {
	Zone             domain.ClusterZone
	Direction        domain.Direction
	SetupType        domain.SetupType
	Policy           PolicyEntry
	FallbackDistance float64 // target projection when no opposing zone exists
	OpposingTarget1  float64 // nearest opposing-zone projection, 0 = none
	OpposingTarget2  float64
	FlipPoint        float64
	ATRPoints        float64
}

// Geometry is the constructed trade frame.
type Geometry struct {
	EntryZone domain.EntryZone
	Stop      float64
	Target1   domain.PriceTarget
	Target2   domain.PriceTarget
}

// Build computes entry/stop/targets and guarantees the geometry invariants:
// entry low < high; bullish stop < entry.low < t1 < t2 (bearish mirrored);
// target2 strictly farther from the entry midpoint than target1. Invalid
// geometry from valid inputs is a defect, so Build returns an error instead
// of clamping it away silently.
func Build(in Input) (Geometry, error) {
	entryLow := round2(in.Zone.PriceLow)
	entryHigh := round2(in.Zone.PriceHigh)
	if entryLow >= entryHigh {
		return Geometry{}, fmt.Errorf("geometry: degenerate zone [%.2f, %.2f]", entryLow, entryHigh)
	}
	entry := domain.EntryZone{Low: entryLow, High: entryHigh}
	mid := entry.Mid()
	dir := 1.0
	if in.Direction == domain.Bearish {
		dir = -1
	}

	stop := buildStop(in, entry, dir)
	risk := math.Max(0.5, math.Abs(mid-stop))

	t1, t2 := buildTargets(in, entry, mid, dir, risk)

	g := Geometry{
		EntryZone: entry,
		Stop:      stop,
		Target1:   domain.PriceTarget{Price: t1, Label: "Target 1"},
		Target2:   domain.PriceTarget{Price: t2, Label: "Target 2"},
	}
	if err := g.validate(in.Direction); err != nil {
		return Geometry{}, err
	}
	return g, nil
}

func buildStop(in Input, entry domain.EntryZone, dir float64) float64 {
	buffer := 1.5
	if in.Zone.Type == domain.ZoneFortress {
		buffer = 2.5
	}
	if isFadeFamily(in.SetupType) {
		buffer = math.Max(buffer, fadeStopBufferPoints)
	}
	if in.ATRPoints > 0 {
		buffer = math.Max(buffer, in.ATRPoints*0.35)
	}

	baseStop := entry.Low - buffer
	if dir < 0 {
		baseStop = entry.High + buffer
	}

	// Scale the stop distance around the entry midpoint per policy.
	mid := entry.Mid()
	risk := math.Max(0.35, math.Abs(mid-baseStop))
	scaled := math.Max(0.35, risk*in.Policy.StopScale)
	// The stop always sits outside the entry band.
	halfWidth := (entry.High - entry.Low) / 2
	scaled = math.Max(scaled, halfWidth+0.25)
	return round2(mid - dir*scaled)
}

func buildTargets(in Input, entry domain.EntryZone, mid, dir, risk float64) (float64, float64) {
	p := in.Policy
	halfWidth := (entry.High - entry.Low) / 2

	// Start from opposing-zone projections when present, fallback distance
	// otherwise.
	t1Dist := in.FallbackDistance
	t2Dist := in.FallbackDistance * 1.7
	if in.OpposingTarget1 != 0 {
		t1Dist = math.Max(0.25, math.Abs(in.OpposingTarget1-mid))
	}
	if in.OpposingTarget2 != 0 {
		t2Dist = math.Max(0.4, math.Abs(in.OpposingTarget2-mid))
	}

	// Fades target the flip point when it sits a reasonable distance away in
	// the trade direction.
	if isFadeFamily(in.SetupType) && in.FlipPoint != 0 {
		flipDist := (in.FlipPoint - mid) * dir
		if flipDist >= risk*1.1 && flipDist <= risk*3.2 {
			t1Dist = flipDist
		}
	}

	// Bound each target into its R band, then apply the policy scale.
	t1Dist = math.Max(risk*p.T1MinR, math.Min(risk*p.T1MaxR, t1Dist))
	t2Dist = math.Max(risk*p.T2MinR, math.Min(risk*p.T2MaxR, t2Dist))

	t1Dist = math.Max(0.25, t1Dist*p.Target1Scale)
	// Targets must clear the far edge of the entry band.
	t1Dist = math.Max(t1Dist, halfWidth+math.Max(0.5, risk*0.2))
	t2Dist = math.Max(t1Dist+math.Max(0.3, risk*0.5), t2Dist*p.Target2Scale)

	return round2(mid + dir*t1Dist), round2(mid + dir*t2Dist)
}

func (g Geometry) validate(direction domain.Direction) error {
	mid := g.EntryZone.Mid()
	d1 := math.Abs(g.Target1.Price - mid)
	d2 := math.Abs(g.Target2.Price - mid)
	if d2 <= d1 {
		return fmt.Errorf("geometry: target2 %.2f not beyond target1 %.2f", g.Target2.Price, g.Target1.Price)
	}
	switch direction {
	case domain.Bullish:
		if !(g.Stop < g.EntryZone.Low && g.EntryZone.High < g.Target1.Price && g.Target1.Price < g.Target2.Price) {
			return fmt.Errorf("geometry: bullish ordering violated stop=%.2f entry=[%.2f,%.2f] t1=%.2f t2=%.2f",
				g.Stop, g.EntryZone.Low, g.EntryZone.High, g.Target1.Price, g.Target2.Price)
		}
	case domain.Bearish:
		if !(g.Stop > g.EntryZone.High && g.EntryZone.Low > g.Target1.Price && g.Target1.Price > g.Target2.Price) {
			return fmt.Errorf("geometry: bearish ordering violated stop=%.2f entry=[%.2f,%.2f] t1=%.2f t2=%.2f",
				g.Stop, g.EntryZone.Low, g.EntryZone.High, g.Target1.Price, g.Target2.Price)
		}
	}
	return nil
}

func isFadeFamily(t domain.SetupType) bool {
	switch t {
	case domain.SetupFadeAtWall, domain.SetupMeanReversion, domain.SetupFlipReclaim, domain.SetupPinMagnet:
		return true
	}
	return false
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

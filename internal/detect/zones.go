package detect

import (
	"math"
	"sort"

	"github.com/sawpanic/spxrun/internal/domain"
)

// maxCandidateZones caps the per-cycle candidate set; the nearest zones to
// spot dominate the tradable universe.
const maxCandidateZones = 8

// maxZoneDistancePoints drops zones too far from spot to act this session.
const maxZoneDistancePoints = 60.0

// pickCandidateZones selects the zones nearest spot, close enough to matter.
func pickCandidateZones(zones []domain.ClusterZone, spot float64) []domain.ClusterZone {
	candidates := make([]domain.ClusterZone, 0, len(zones))
	for _, z := range zones {
		if z.PriceLow >= z.PriceHigh {
			continue
		}
		if math.Abs(z.Center()-spot) > maxZoneDistancePoints {
			continue
		}
		candidates = append(candidates, z)
	}
	sort.Slice(candidates, func(i, j int) bool {
		di := math.Abs(candidates[i].Center() - spot)
		dj := math.Abs(candidates[j].Center() - spot)
		if di != dj {
			return di < dj
		}
		return candidates[i].ID < candidates[j].ID
	})
	if len(candidates) > maxCandidateZones {
		candidates = candidates[:maxCandidateZones]
	}
	return candidates
}

// setupDirection: a zone below spot is prospective support (bullish bounce),
// above spot prospective resistance (bearish fade).
func setupDirection(zone domain.ClusterZone, spot float64) domain.Direction {
	if zone.Center() <= spot {
		return domain.Bullish
	}
	return domain.Bearish
}

// typeInput gathers the signals the archetype inference consumes.
type typeInput struct {
	regime     domain.Regime
	direction  domain.Direction
	spot       float64
	zoneCenter float64
	gex        domain.GexLandscape
	indicators *domain.IndicatorContext
	emaAligned bool
	volumeAligned bool
}

// inferSetupType classifies the zone/direction candidate into one of the
// nine archetypes. Wall proximity and the gamma flip dominate; regime breaks
// the remaining ties.
func inferSetupType(in typeInput) domain.SetupType {
	wallProximity := 3.0
	nearCallWall := in.gex.CallWall != 0 && math.Abs(in.zoneCenter-in.gex.CallWall) <= wallProximity
	nearPutWall := in.gex.PutWall != 0 && math.Abs(in.zoneCenter-in.gex.PutWall) <= wallProximity
	nearFlip := in.gex.FlipPoint != 0 && math.Abs(in.zoneCenter-in.gex.FlipPoint) <= wallProximity

	// Fading into a wall against the prevailing push.
	if (nearCallWall && in.direction == domain.Bearish) || (nearPutWall && in.direction == domain.Bullish) {
		return domain.SetupFadeAtWall
	}

	// Reclaiming the gamma flip in the trade direction.
	if nearFlip {
		crossed := (in.direction == domain.Bullish && in.spot > in.gex.FlipPoint) ||
			(in.direction == domain.Bearish && in.spot < in.gex.FlipPoint)
		if crossed {
			return domain.SetupFlipReclaim
		}
	}

	// Negative net gamma accelerates moves: breakouts through a wall become
	// vacuum runs, aligned pushes become squeezes.
	if in.gex.NetGex < 0 {
		breakingWall := (in.direction == domain.Bullish && nearCallWall) ||
			(in.direction == domain.Bearish && nearPutWall)
		if breakingWall {
			return domain.SetupBreakoutVacuum
		}
		if in.emaAligned && in.regime == domain.RegimeBreakout {
			return domain.SetupGammaSqueeze
		}
	}

	// Strong positive gamma at a wall pins price late in the session.
	if in.gex.NetGex > 0 && (nearCallWall || nearPutWall) {
		return domain.SetupPinMagnet
	}

	// Opening-range breakout while the ORB bounds are live.
	if in.indicators != nil && in.indicators.ORBHigh > 0 && in.indicators.ORBLow > 0 {
		brokeOut := (in.direction == domain.Bullish && in.spot > in.indicators.ORBHigh) ||
			(in.direction == domain.Bearish && in.spot < in.indicators.ORBLow)
		if brokeOut && in.regime == domain.RegimeBreakout {
			return domain.SetupOrbBreakout
		}
	}

	switch in.regime {
	case domain.RegimeRanging:
		return domain.SetupMeanReversion
	case domain.RegimeTrending, domain.RegimeBreakout:
		if in.emaAligned {
			if zoneBehindSpot(in) {
				return domain.SetupTrendPullback
			}
			return domain.SetupTrendContinuation
		}
		return domain.SetupTrendPullback
	default:
		return domain.SetupMeanReversion
	}
}

// zoneBehindSpot: pulling back into a zone between spot and the trend origin.
func zoneBehindSpot(in typeInput) bool {
	if in.direction == domain.Bullish {
		return in.zoneCenter < in.spot
	}
	return in.zoneCenter > in.spot
}

// isRegimeAligned reports whether the archetype fits the regime.
func isRegimeAligned(setupType domain.SetupType, regime domain.Regime) bool {
	switch setupType {
	case domain.SetupMeanReversion, domain.SetupFadeAtWall, domain.SetupPinMagnet:
		return regime == domain.RegimeRanging || regime == domain.RegimeSqueeze
	case domain.SetupTrendPullback, domain.SetupTrendContinuation:
		return regime == domain.RegimeTrending || regime == domain.RegimeBreakout
	case domain.SetupOrbBreakout, domain.SetupBreakoutVacuum, domain.SetupGammaSqueeze:
		return regime == domain.RegimeBreakout
	case domain.SetupFlipReclaim:
		return regime != domain.RegimeUnknown
	}
	return false
}

// hasRegimeConflict: the regime classifier confidently points the other way.
func hasRegimeConflict(direction domain.Direction, regime domain.RegimeState, confidenceThreshold float64) bool {
	if regime.Confidence < confidenceThreshold {
		return false
	}
	return regime.Direction != "" && regime.Direction != direction
}

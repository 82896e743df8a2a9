// Package quality rates a price-cluster zone's reliability independent of any
// setup built on it. The score feeds the structure channel of the confluence
// scorer and the EV scorer's structure feature.
package quality

import (
	"time"

	"github.com/sawpanic/spxrun/internal/domain"
)

// Rating is the zone-quality verdict, scaled 0..100.
type Rating struct {
	Score      float64  `json:"score"`
	Structure  float64  `json:"structure"`
	Touch      float64  `json:"touch"`
	TypeBonus  float64  `json:"typeBonus"`
	Notes      []string `json:"notes,omitempty"`
}

// Scorer rates zones. Zero value is usable.
type Scorer struct{}

// Zone type bonuses mirror the presentation weighting of defended structure.
var zoneTypeBonus = map[domain.ZoneType]float64{
	domain.ZoneFortress: 20,
	domain.ZoneDefended: 12,
	domain.ZoneModerate: 6,
	domain.ZoneMinor:    0,
}

// Rate scores a zone from its cluster strength, type, and touch history.
// Structure contributes up to 60, touch history up to 20, type bonus up to 20.
func (Scorer) Rate(zone domain.ClusterZone, now time.Time) Rating {
	structure := clamp(zone.ClusterScore/5*60, 0, 60)
	bonus := zoneTypeBonus[zone.Type]

	touch := touchHistoryScore(zone, now)

	r := Rating{
		Score:     clamp(structure+touch+bonus, 0, 100),
		Structure: structure,
		Touch:     touch,
		TypeBonus: bonus,
	}
	if zone.TestCount == 0 {
		r.Notes = append(r.Notes, "untested zone")
	}
	if zone.HoldRate > 0 && zone.HoldRate < 0.5 {
		r.Notes = append(r.Notes, "weak hold history")
	}
	return r
}

// touchHistoryScore rewards zones that have been tested and held. An untested
// zone scores the midpoint: no evidence either way.
func touchHistoryScore(zone domain.ClusterZone, now time.Time) float64 {
	if zone.TestCount == 0 {
		return 10
	}
	held := zone.HoldRate * 16
	depth := float64(zone.TestCount)
	if depth > 4 {
		depth = 4
	}
	score := held + depth

	// Stale history counts for less.
	if !zone.LastTestAt.IsZero() {
		age := now.Sub(zone.LastTestAt)
		if age > 4*time.Hour {
			score *= 0.7
		}
	}
	return clamp(score, 0, 20)
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

package quality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sawpanic/spxrun/internal/domain"
)

var rateNow = time.Date(2026, 3, 9, 15, 0, 0, 0, time.UTC)

func TestRate_UntestedZoneScoresMidpointTouch(t *testing.T) {
	zone := domain.ClusterZone{ClusterScore: 5, Type: domain.ZoneFortress}
	r := Scorer{}.Rate(zone, rateNow)
	assert.Equal(t, 60.0, r.Structure)
	assert.Equal(t, 10.0, r.Touch)
	assert.Equal(t, 20.0, r.TypeBonus)
	assert.Equal(t, 90.0, r.Score)
	assert.Contains(t, r.Notes, "untested zone")
}

func TestRate_HeldZoneBeatsUntested(t *testing.T) {
	held := domain.ClusterZone{
		ClusterScore: 4, Type: domain.ZoneDefended,
		TestCount: 3, HoldRate: 0.9, LastTestAt: rateNow.Add(-time.Hour),
	}
	untested := domain.ClusterZone{ClusterScore: 4, Type: domain.ZoneDefended}
	assert.Greater(t, Scorer{}.Rate(held, rateNow).Score, Scorer{}.Rate(untested, rateNow).Score)
}

func TestRate_TouchComponents(t *testing.T) {
	zone := domain.ClusterZone{
		ClusterScore: 0, Type: domain.ZoneMinor,
		TestCount: 2, HoldRate: 0.75, LastTestAt: rateNow.Add(-time.Hour),
	}
	r := Scorer{}.Rate(zone, rateNow)
	assert.InDelta(t, 0.75*16+2, r.Touch, 1e-9)
}

func TestRate_TouchDepthCapped(t *testing.T) {
	zone := domain.ClusterZone{
		TestCount: 10, HoldRate: 1, LastTestAt: rateNow.Add(-time.Minute),
	}
	r := Scorer{}.Rate(zone, rateNow)
	assert.Equal(t, 20.0, r.Touch, "16 held + 4 capped depth")
}

func TestRate_StaleHistoryDiscounted(t *testing.T) {
	fresh := domain.ClusterZone{TestCount: 2, HoldRate: 0.75, LastTestAt: rateNow.Add(-time.Hour)}
	stale := fresh
	stale.LastTestAt = rateNow.Add(-5 * time.Hour)
	assert.Less(t, Scorer{}.Rate(stale, rateNow).Touch, Scorer{}.Rate(fresh, rateNow).Touch)
}

func TestRate_WeakHoldHistoryNoted(t *testing.T) {
	zone := domain.ClusterZone{TestCount: 4, HoldRate: 0.3, LastTestAt: rateNow.Add(-time.Hour)}
	r := Scorer{}.Rate(zone, rateNow)
	assert.Contains(t, r.Notes, "weak hold history")
}

func TestRate_ScoreClampedAt100(t *testing.T) {
	zone := domain.ClusterZone{
		ClusterScore: 5, Type: domain.ZoneFortress,
		TestCount: 4, HoldRate: 1, LastTestAt: rateNow.Add(-time.Minute),
	}
	r := Scorer{}.Rate(zone, rateNow)
	assert.Equal(t, 100.0, r.Score)
}

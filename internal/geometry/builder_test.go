package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/spxrun/internal/domain"
)

func testZone() domain.ClusterZone {
	return domain.ClusterZone{
		ID:           "z1",
		PriceLow:     5898,
		PriceHigh:    5902,
		ClusterScore: 4,
		Type:         domain.ZoneDefended,
	}
}

func buildInput(direction domain.Direction, setupType domain.SetupType) Input {
	return Input{
		Zone:             testZone(),
		Direction:        direction,
		SetupType:        setupType,
		Policy:           DefaultPolicyFor(setupType),
		FallbackDistance: 10,
		ATRPoints:        6,
	}
}

func assertOrdering(t *testing.T, g Geometry, direction domain.Direction) {
	t.Helper()
	mid := g.EntryZone.Mid()
	require.Less(t, g.EntryZone.Low, g.EntryZone.High)
	if direction == domain.Bullish {
		assert.Less(t, g.Stop, g.EntryZone.Low)
		assert.Greater(t, g.Target1.Price, g.EntryZone.High)
		assert.Greater(t, g.Target2.Price, g.Target1.Price)
	} else {
		assert.Greater(t, g.Stop, g.EntryZone.High)
		assert.Less(t, g.Target1.Price, g.EntryZone.Low)
		assert.Less(t, g.Target2.Price, g.Target1.Price)
	}
	d1 := abs(g.Target1.Price - mid)
	d2 := abs(g.Target2.Price - mid)
	assert.Greater(t, d2, d1, "target2 strictly beyond target1")
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func TestBuild_OrderingInvariantsBothDirections(t *testing.T) {
	for _, setupType := range domain.AllSetupTypes {
		for _, direction := range []domain.Direction{domain.Bullish, domain.Bearish} {
			g, err := Build(buildInput(direction, setupType))
			require.NoError(t, err, "%s %s", setupType, direction)
			assertOrdering(t, g, direction)
		}
	}
}

func TestBuild_DegenerateZoneRejected(t *testing.T) {
	in := buildInput(domain.Bullish, domain.SetupTrendPullback)
	in.Zone.PriceLow = 5902
	in.Zone.PriceHigh = 5898
	_, err := Build(in)
	require.Error(t, err)
}

func TestBuild_FadeStopBufferIsWider(t *testing.T) {
	fade, err := Build(buildInput(domain.Bearish, domain.SetupFadeAtWall))
	require.NoError(t, err)
	trend, err := Build(buildInput(domain.Bearish, domain.SetupTrendContinuation))
	require.NoError(t, err)

	fadeRisk := abs(fade.Stop - fade.EntryZone.Mid())
	trendRisk := abs(trend.Stop - trend.EntryZone.Mid())
	assert.GreaterOrEqual(t, fadeRisk, trendRisk)
}

func TestBuild_FadeTargetsFlipPointWhenInBand(t *testing.T) {
	in := buildInput(domain.Bearish, domain.SetupFadeAtWall)
	// Flip sits ~2R below the entry midpoint: an attractor worth targeting.
	in.FlipPoint = 5888
	g, err := Build(in)
	require.NoError(t, err)
	assertOrdering(t, g, domain.Bearish)
	assert.Less(t, g.Target1.Price, g.EntryZone.Low)
}

func TestBuild_OpposingZoneAnchorsTargets(t *testing.T) {
	in := buildInput(domain.Bullish, domain.SetupTrendPullback)
	in.OpposingTarget1 = 5912
	in.OpposingTarget2 = 5922
	g, err := Build(in)
	require.NoError(t, err)
	assertOrdering(t, g, domain.Bullish)
}

func TestBuild_WideZoneKeepsStopAndTargetsOutsideBand(t *testing.T) {
	in := buildInput(domain.Bullish, domain.SetupMeanReversion)
	in.Zone.PriceLow = 5880
	in.Zone.PriceHigh = 5905
	g, err := Build(in)
	require.NoError(t, err)
	assertOrdering(t, g, domain.Bullish)
}

func TestResolve_LayeredPolicyMerge(t *testing.T) {
	stop := 1.3
	t1 := 0.8
	table := PolicyTable{
		BySetupRegime: map[string]PolicyPatch{
			"fade_at_wall|ranging": {StopScale: &stop},
		},
		BySetupRegimeTimeBucket: map[string]PolicyPatch{
			"fade_at_wall|ranging|late": {Target1Scale: &t1},
		},
	}

	base := table.Resolve(domain.SetupFadeAtWall, domain.RegimeRanging, domain.BucketOpening)
	assert.InDelta(t, 1.3, base.StopScale, 1e-9)
	assert.InDelta(t, DefaultPolicyFor(domain.SetupFadeAtWall).Target1Scale, base.Target1Scale, 1e-9)

	late := table.Resolve(domain.SetupFadeAtWall, domain.RegimeRanging, domain.BucketLate)
	assert.InDelta(t, 1.3, late.StopScale, 1e-9)
	assert.InDelta(t, 0.8, late.Target1Scale, 1e-9)

	other := table.Resolve(domain.SetupFadeAtWall, domain.RegimeTrending, domain.BucketLate)
	assert.InDelta(t, DefaultPolicyFor(domain.SetupFadeAtWall).StopScale, other.StopScale, 1e-9)
}

func TestResolve_ClampsOutOfRangePatch(t *testing.T) {
	wild := 9.0
	table := PolicyTable{
		BySetupRegime: map[string]PolicyPatch{
			"orb_breakout|breakout": {StopScale: &wild},
		},
	}
	got := table.Resolve(domain.SetupOrbBreakout, domain.RegimeBreakout, domain.BucketOpening)
	assert.LessOrEqual(t, got.StopScale, 1.4)
	assert.Greater(t, got.T1MaxR, got.T1MinR)
	assert.Greater(t, got.T2MaxR, got.T2MinR)
}

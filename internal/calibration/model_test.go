package calibration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/spxrun/internal/config"
	"github.com/sawpanic/spxrun/internal/domain"
)

var testNow = time.Date(2026, 3, 9, 15, 0, 0, 0, time.UTC)

func calCfg() config.CalibrationConfig {
	return config.DefaultEngineConfig().Calibration
}

func row(setupType domain.SetupType, regime domain.Regime, minute int, outcome domain.FinalOutcome) OutcomeRow {
	trig := testNow.Add(-time.Hour)
	return OutcomeRow{
		SetupID:         domain.StableID("t", string(setupType), string(outcome)),
		SessionDate:     "2026-03-09",
		SetupType:       setupType,
		Regime:          regime,
		FirstSeenMinute: minute,
		TriggeredAt:     &trig,
		FinalOutcome:    &outcome,
	}
}

func nRows(n int, setupType domain.SetupType, regime domain.Regime, minute int, outcome domain.FinalOutcome) []OutcomeRow {
	rows := make([]OutcomeRow, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, row(setupType, regime, minute, outcome))
	}
	return rows
}

func TestCalibrate_NoHistoryIsHeuristicPassThrough(t *testing.T) {
	m := BuildModel("2026-03-09", nil, calCfg(), testNow)
	r := m.Calibrate(domain.SetupFadeAtWall, domain.RegimeRanging, 30, 0.58)
	assert.Equal(t, SourceHeuristic, r.Source)
	assert.InDelta(t, 0.58, r.PWin, 1e-9)
	assert.Zero(t, r.SampleSize)
	assert.Nil(t, r.EmpiricalPWin)
	assert.Zero(t, r.BlendWeight)
}

func TestCalibrate_HeuristicStillClamped(t *testing.T) {
	m := BuildModel("2026-03-09", nil, calCfg(), testNow)
	assert.InDelta(t, 0.95, m.Calibrate(domain.SetupFadeAtWall, domain.RegimeRanging, 30, 1.4).PWin, 1e-9)
	assert.InDelta(t, 0.05, m.Calibrate(domain.SetupFadeAtWall, domain.RegimeRanging, 30, -0.2).PWin, 1e-9)
}

func TestCalibrate_UnresolvedRowsAreIgnored(t *testing.T) {
	unresolved := row(domain.SetupFadeAtWall, domain.RegimeRanging, 30, domain.OutcomeTarget1)
	unresolved.FinalOutcome = nil
	m := BuildModel("2026-03-09", []OutcomeRow{unresolved}, calCfg(), testNow)
	assert.Zero(t, m.RowCount)
	r := m.Calibrate(domain.SetupFadeAtWall, domain.RegimeRanging, 30, 0.6)
	assert.Equal(t, SourceHeuristic, r.Source)
}

func TestCalibrate_BucketPreferredOverBroaderLevels(t *testing.T) {
	rows := append(
		nRows(20, domain.SetupFadeAtWall, domain.RegimeRanging, 30, domain.OutcomeTarget1),
		nRows(20, domain.SetupTrendPullback, domain.RegimeTrending, 200, domain.OutcomeStopOut)...,
	)
	m := BuildModel("2026-03-09", rows, calCfg(), testNow)

	// Exact (type, regime, opening) bucket exists.
	r := m.Calibrate(domain.SetupFadeAtWall, domain.RegimeRanging, 45, 0.55)
	assert.Equal(t, SourceBucket, r.Source)
	assert.Equal(t, 20, r.SampleSize)
	require.NotNil(t, r.EmpiricalPWin)
	assert.Greater(t, r.PWin, 0.55, "winning history lifts the heuristic")

	// Same combo, different time bucket: falls back to the regime level.
	r = m.Calibrate(domain.SetupFadeAtWall, domain.RegimeRanging, 300, 0.55)
	assert.Equal(t, SourceRegime, r.Source)

	// Unseen regime for a known type: type level.
	r = m.Calibrate(domain.SetupFadeAtWall, domain.RegimeBreakout, 45, 0.55)
	assert.Equal(t, SourceType, r.Source)

	// Unseen type entirely: global level.
	r = m.Calibrate(domain.SetupOrbBreakout, domain.RegimeBreakout, 45, 0.55)
	assert.Equal(t, SourceGlobal, r.Source)
}

func TestCalibrate_BlendWeightGrowsWithSampleSize(t *testing.T) {
	cfg := calCfg()
	small := BuildModel("2026-03-09",
		nRows(4, domain.SetupFadeAtWall, domain.RegimeRanging, 30, domain.OutcomeTarget1), cfg, testNow)
	large := BuildModel("2026-03-09",
		nRows(40, domain.SetupFadeAtWall, domain.RegimeRanging, 30, domain.OutcomeTarget1), cfg, testNow)

	rSmall := small.Calibrate(domain.SetupFadeAtWall, domain.RegimeRanging, 30, 0.5)
	rLarge := large.Calibrate(domain.SetupFadeAtWall, domain.RegimeRanging, 30, 0.5)

	assert.Greater(t, rLarge.BlendWeight, rSmall.BlendWeight)
	assert.InDelta(t, cfg.BlendWeightMax, rLarge.BlendWeight, 1e-9, "40 trades reaches full confidence")
	assert.Greater(t, rLarge.PWin, rSmall.PWin, "more winning evidence pulls harder")
}

func TestCalibrate_SmoothingShrinksSparseBuckets(t *testing.T) {
	// Two sparse wins over a large losing global population: the smoothed
	// bucket rate sits well below the raw 100%.
	rows := append(
		nRows(2, domain.SetupFadeAtWall, domain.RegimeRanging, 30, domain.OutcomeTarget1),
		nRows(48, domain.SetupTrendPullback, domain.RegimeTrending, 200, domain.OutcomeStopOut)...,
	)
	m := BuildModel("2026-03-09", rows, calCfg(), testNow)
	r := m.Calibrate(domain.SetupFadeAtWall, domain.RegimeRanging, 30, 0.5)
	require.NotNil(t, r.EmpiricalPWin)
	assert.Less(t, *r.EmpiricalPWin, 0.75, "raw 2/2 shrinks toward its prior")
}

func TestModel_Expiry(t *testing.T) {
	m := BuildModel("2026-03-09", nil, calCfg(), testNow)
	assert.False(t, m.Expired(testNow.Add(4*time.Minute)))
	assert.True(t, m.Expired(testNow.Add(6*time.Minute)))
}

package score

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/spxrun/internal/config"
	"github.com/sawpanic/spxrun/internal/domain"
)

func newTestScorer(weighted bool) *Scorer {
	cfg := config.DefaultEngineConfig().Confluence
	cfg.WeightedMode = weighted
	return NewScorer(cfg)
}

func TestBaselineWin_TableValues(t *testing.T) {
	s := newTestScorer(false)

	// trend_continuation carries a zero offset, so the table reads through.
	assert.InDelta(t, 0.40, s.BaselineWin(1, domain.SetupTrendContinuation), 1e-9)
	assert.InDelta(t, 0.50, s.BaselineWin(2, domain.SetupTrendContinuation), 1e-9)
	assert.InDelta(t, 0.55, s.BaselineWin(3, domain.SetupTrendContinuation), 1e-9)
	assert.InDelta(t, 0.57, s.BaselineWin(4, domain.SetupTrendContinuation), 1e-9)
	assert.InDelta(t, 0.60, s.BaselineWin(5, domain.SetupTrendContinuation), 1e-9)
}

func TestBaselineWin_FadeOffsetBeatsPullback(t *testing.T) {
	s := newTestScorer(false)
	for score := 1; score <= 5; score++ {
		fade := s.BaselineWin(score, domain.SetupFadeAtWall)
		pullback := s.BaselineWin(score, domain.SetupTrendPullback)
		assert.Greater(t, fade, pullback, "score %d", score)
	}
}

func TestBaselineWin_CappedAtCeiling(t *testing.T) {
	cfg := config.DefaultEngineConfig().Confluence
	cfg.BaselineWinPctByScore[5] = 80
	s := NewScorer(cfg)
	assert.InDelta(t, 0.65, s.BaselineWin(5, domain.SetupFadeAtWall), 1e-9)
}

func TestScoreLegacy_CountsChannelsAndClamps(t *testing.T) {
	s := newTestScorer(false)

	none := s.Score(Signals{}, 0)
	assert.Equal(t, 1, none.Score, "zero channels clamp up to 1")
	assert.Empty(t, none.Sources)

	mtf := 75.0
	all := s.Score(Signals{
		FlowConfirmed:    true,
		EMAAligned:       true,
		GexAligned:       true,
		RegimeAligned:    true,
		ZoneScore:        4.5,
		MultiTFComposite: &mtf,
	}, 0)
	assert.Equal(t, 5, all.Score, "six channels clamp down to 5")
	assert.Contains(t, all.Sources, "flow_confirmation")
	assert.Contains(t, all.Sources, "zone_structure")
	assert.Contains(t, all.Sources, "multi_tf_alignment")
}

func TestScoreLegacy_RegimeConflictSuppressesRegimeChannel(t *testing.T) {
	s := newTestScorer(false)
	r := s.Score(Signals{RegimeAligned: true, RegimeConflict: true}, 0)
	assert.NotContains(t, r.Sources, "regime_alignment")
}

func TestDecayFactor(t *testing.T) {
	s := newTestScorer(true)
	now := time.Date(2026, 3, 9, 15, 0, 0, 0, time.UTC).UnixMilli()
	halfLife := 15 * time.Minute

	assert.InDelta(t, 1.0, s.DecayFactor(now, now), 1e-9, "fresh signal keeps full weight")
	assert.InDelta(t, 0.5, s.DecayFactor(now-halfLife.Milliseconds(), now), 1e-9)
	assert.InDelta(t, 0.25, s.DecayFactor(now-2*halfLife.Milliseconds(), now), 1e-9)

	assert.InDelta(t, 0.5, s.DecayFactor(0, now), 1e-9, "missing timestamp counts one half-life")
	assert.InDelta(t, 0.5, s.DecayFactor(-1, now), 1e-9)
}

func TestScoreWeighted_MissingVersusNeutralVersusZero(t *testing.T) {
	s := newTestScorer(true)
	now := time.Date(2026, 3, 9, 15, 0, 0, 0, time.UTC).UnixMilli()

	// Missing flow contributes the floor.
	missing := s.Score(Signals{}, now)
	require.NotNil(t, missing.Breakdown)
	assert.InDelta(t, 35, missing.Breakdown.Components["flow"], 1e-9)
	assert.Contains(t, missing.Breakdown.Missing, "flow")

	// Explicit neutral without a timestamp decays halfway toward the floor;
	// still strictly better than missing.
	neutral := 50.0
	withNeutral := s.Score(Signals{FlowScore: &neutral}, now)
	assert.InDelta(t, 42.5, withNeutral.Breakdown.Components["flow"], 1e-9)
	assert.Greater(t, withNeutral.Breakdown.Composite, missing.Breakdown.Composite)

	// Explicit fresh zero is a valid data point, below the missing floor.
	zero := 0.0
	withZero := s.Score(Signals{FlowScore: &zero, FlowAtMs: now}, now)
	assert.InDelta(t, 0, withZero.Breakdown.Components["flow"], 1e-9)
	assert.Less(t, withZero.Breakdown.Composite, missing.Breakdown.Composite)
}

func TestScoreWeighted_FreshNeutralPassesThrough(t *testing.T) {
	s := newTestScorer(true)
	now := time.Date(2026, 3, 9, 15, 0, 0, 0, time.UTC).UnixMilli()
	neutral := 50.0
	r := s.Score(Signals{FlowScore: &neutral, FlowAtMs: now}, now)
	require.NotNil(t, r.Breakdown)
	assert.InDelta(t, 50, r.Breakdown.Components["flow"], 1e-9)
}

func TestScoreWeighted_IntegerScoreBounds(t *testing.T) {
	s := newTestScorer(true)
	now := time.Date(2026, 3, 9, 15, 0, 0, 0, time.UTC).UnixMilli()

	low := s.Score(Signals{}, now)
	assert.GreaterOrEqual(t, low.Score, 1)
	assert.LessOrEqual(t, low.Score, 5)

	mtf, mem, flow := 100.0, 100.0, 100.0
	high := s.Score(Signals{
		FlowScore:        &flow,
		FlowAtMs:         now,
		EMAAligned:       true,
		EMAFastSlope:     2,
		ZoneQuality:      95,
		GexAligned:       true,
		RegimeAligned:    true,
		MultiTFComposite: &mtf,
		MultiTFAtMs:      now,
		MemoryBoost:      &mem,
		MemoryAtMs:       now,
	}, now)
	assert.Equal(t, 5, high.Score)
	assert.Greater(t, high.Breakdown.Composite, 80.0)
}

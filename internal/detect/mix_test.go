package detect

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/spxrun/internal/config"
	"github.com/sawpanic/spxrun/internal/domain"
)

func mixSetup(id string, setupType domain.SetupType, direction domain.Direction,
	status domain.SetupStatus, score float64, entryLow, entryHigh float64) domain.Setup {
	return domain.Setup{
		ID:         id,
		Type:       setupType,
		Direction:  direction,
		Status:     status,
		Score:      score,
		GateStatus: domain.GateEligible,
		EntryZone:  domain.EntryZone{Low: entryLow, High: entryHigh},
	}
}

func TestDedupeSemantic_StrongerOverlapSurvives(t *testing.T) {
	weak := mixSetup("weak", domain.SetupFadeAtWall, domain.Bearish, domain.StatusReady, 50, 5898, 5902)
	strong := mixSetup("strong", domain.SetupFadeAtWall, domain.Bearish, domain.StatusReady, 70, 5900, 5904)

	got := dedupeSemantic([]domain.Setup{weak, strong})
	require.Len(t, got, 1)
	assert.Equal(t, "strong", got[0].ID)

	// Input order must not change the survivor.
	got = dedupeSemantic([]domain.Setup{strong, weak})
	require.Len(t, got, 1)
	assert.Equal(t, "strong", got[0].ID)
}

func TestDedupeSemantic_DifferentTypeOrDirectionKept(t *testing.T) {
	a := mixSetup("a", domain.SetupFadeAtWall, domain.Bearish, domain.StatusReady, 60, 5898, 5902)
	b := mixSetup("b", domain.SetupMeanReversion, domain.Bearish, domain.StatusReady, 55, 5898, 5902)
	c := mixSetup("c", domain.SetupFadeAtWall, domain.Bullish, domain.StatusReady, 50, 5898, 5902)

	got := dedupeSemantic([]domain.Setup{a, b, c})
	assert.Len(t, got, 3)
}

func TestDedupeSemantic_DisjointZonesKept(t *testing.T) {
	a := mixSetup("a", domain.SetupFadeAtWall, domain.Bearish, domain.StatusReady, 60, 5898, 5902)
	b := mixSetup("b", domain.SetupFadeAtWall, domain.Bearish, domain.StatusReady, 55, 5910, 5914)

	got := dedupeSemantic([]domain.Setup{a, b})
	assert.Len(t, got, 2)
}

func TestDedupeSemantic_TerminalNeverCollapses(t *testing.T) {
	dead := mixSetup("dead", domain.SetupFadeAtWall, domain.Bearish, domain.StatusExpired, 90, 5898, 5902)
	live := mixSetup("live", domain.SetupFadeAtWall, domain.Bearish, domain.StatusReady, 60, 5898, 5902)

	got := dedupeSemantic([]domain.Setup{dead, live})
	assert.Len(t, got, 2, "a dead setup is history, not a duplicate of the live one")
}

func TestApplyMixPolicy_PromotesTrendWhenFadesCrowd(t *testing.T) {
	cfg := config.DefaultEngineConfig().Diversification

	fade1 := mixSetup("f1", domain.SetupFadeAtWall, domain.Bearish, domain.StatusReady, 70, 5898, 5902)
	fade2 := mixSetup("f2", domain.SetupMeanReversion, domain.Bullish, domain.StatusReady, 66, 5880, 5884)
	trend := mixSetup("t1", domain.SetupTrendPullback, domain.Bullish, domain.StatusForming, 68, 5890, 5894)
	trend.PWinCalibrated = 0.6
	trend.EvR = 0.3

	got := applyMixPolicy([]domain.Setup{fade1, fade2, trend}, cfg)
	byID := map[string]domain.Setup{}
	for _, s := range got {
		byID[s.ID] = s
	}
	assert.Equal(t, domain.StatusReady, byID["t1"].Status, "qualifying trend setup gets promoted")
}

func TestApplyMixPolicy_NoPromotionUnderShare(t *testing.T) {
	cfg := config.DefaultEngineConfig().Diversification

	fade := mixSetup("f1", domain.SetupFadeAtWall, domain.Bearish, domain.StatusReady, 70, 5898, 5902)
	trendReady := mixSetup("t1", domain.SetupTrendPullback, domain.Bullish, domain.StatusReady, 68, 5890, 5894)
	trendForming := mixSetup("t2", domain.SetupTrendContinuation, domain.Bullish, domain.StatusForming, 75, 5870, 5874)
	trendForming.PWinCalibrated = 0.6
	trendForming.EvR = 0.3

	got := applyMixPolicy([]domain.Setup{fade, trendReady, trendForming}, cfg)
	for _, s := range got {
		if s.ID == "t2" {
			assert.Equal(t, domain.StatusForming, s.Status, "fade share 0.5 is under the cap")
		}
	}
}

func TestApplyMixPolicy_UnqualifiedTrendStaysForming(t *testing.T) {
	cfg := config.DefaultEngineConfig().Diversification

	fade := mixSetup("f1", domain.SetupFadeAtWall, domain.Bearish, domain.StatusReady, 70, 5898, 5902)
	weakTrend := mixSetup("t1", domain.SetupTrendPullback, domain.Bullish, domain.StatusForming, 40, 5890, 5894)
	weakTrend.PWinCalibrated = 0.4
	weakTrend.EvR = -0.1
	blockedTrend := mixSetup("t2", domain.SetupTrendPullback, domain.Bullish, domain.StatusForming, 80, 5870, 5874)
	blockedTrend.PWinCalibrated = 0.7
	blockedTrend.EvR = 0.5
	blockedTrend.GateStatus = domain.GateBlocked

	got := applyMixPolicy([]domain.Setup{fade, weakTrend, blockedTrend}, cfg)
	for _, s := range got {
		if s.ID != "f1" {
			assert.Equal(t, domain.StatusForming, s.Status, "setup %s", s.ID)
		}
	}
}

func TestApplyMixPolicy_RecoveryComboExemptFromFadeCount(t *testing.T) {
	cfg := config.DefaultEngineConfig().Diversification
	cfg.AllowRecoveryCombos = true

	reclaim := mixSetup("r1", domain.SetupFlipReclaim, domain.Bullish, domain.StatusReady, 70, 5898, 5902)
	reclaim.Regime = domain.RegimeRanging
	fade := mixSetup("f1", domain.SetupFadeAtWall, domain.Bearish, domain.StatusReady, 66, 5880, 5884)
	trend := mixSetup("t1", domain.SetupTrendPullback, domain.Bullish, domain.StatusForming, 68, 5890, 5894)
	trend.PWinCalibrated = 0.6
	trend.EvR = 0.3

	got := applyMixPolicy([]domain.Setup{reclaim, fade, trend}, cfg)
	for _, s := range got {
		if s.ID == "t1" {
			assert.Equal(t, domain.StatusForming, s.Status, "fade share 0.5 with the reclaim exempted")
		}
	}
}

func TestApplyMixPolicy_DisabledIsANoOp(t *testing.T) {
	cfg := config.DefaultEngineConfig().Diversification
	cfg.Enabled = false

	fade := mixSetup("f1", domain.SetupFadeAtWall, domain.Bearish, domain.StatusReady, 70, 5898, 5902)
	trend := mixSetup("t1", domain.SetupTrendPullback, domain.Bullish, domain.StatusForming, 80, 5890, 5894)
	trend.PWinCalibrated = 0.7
	trend.EvR = 0.5

	got := applyMixPolicy([]domain.Setup{fade, trend}, cfg)
	for _, s := range got {
		if s.ID == "t1" {
			assert.Equal(t, domain.StatusForming, s.Status)
		}
	}
}

func TestRankSetups_OrderAndRanks(t *testing.T) {
	now := time.Date(2026, 3, 9, 15, 0, 0, 0, time.UTC)

	triggered := mixSetup("trig", domain.SetupFadeAtWall, domain.Bearish, domain.StatusTriggered, 60, 5898, 5902)
	triggered.Tier = domain.TierWatchlist
	triggered.StatusUpdatedAt = now

	primary := mixSetup("prim", domain.SetupTrendPullback, domain.Bullish, domain.StatusReady, 80, 5890, 5894)
	primary.Tier = domain.TierSniperPrimary
	primary.EvR = 0.5
	primary.StatusUpdatedAt = now

	watch := mixSetup("watch", domain.SetupMeanReversion, domain.Bullish, domain.StatusReady, 55, 5880, 5884)
	watch.Tier = domain.TierWatchlist
	watch.EvR = 0.1
	watch.StatusUpdatedAt = now

	forming := mixSetup("form", domain.SetupTrendContinuation, domain.Bullish, domain.StatusForming, 90, 5870, 5874)
	forming.Tier = domain.TierSniperPrimary
	forming.EvR = 1.0
	forming.StatusUpdatedAt = now

	inputs := []domain.Setup{watch, forming, primary, triggered}
	got := rankSetups(inputs)

	require.Len(t, got, 4)
	assert.Equal(t, "trig", got[0].ID, "triggered outranks everything")
	assert.Equal(t, "prim", got[1].ID, "tier breaks the ready tie")
	assert.Equal(t, "watch", got[2].ID)
	assert.Equal(t, "form", got[3].ID, "forming sorts last regardless of score")
	for i, s := range got {
		assert.Equal(t, i+1, s.Rank)
	}
}

func TestRankSetups_DeterministicOverPermutations(t *testing.T) {
	now := time.Date(2026, 3, 9, 15, 0, 0, 0, time.UTC)
	var setups []domain.Setup
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		s := mixSetup(id, domain.SetupTrendPullback, domain.Bullish, domain.StatusReady, 60, 5890, 5894)
		s.Tier = domain.TierWatchlist
		s.EvR = 0.2
		s.Probability = float64(50 + i%2)
		s.StatusUpdatedAt = now
		setups = append(setups, s)
	}

	base := rankSetups(setups)
	rng := rand.New(rand.NewSource(3))
	for trial := 0; trial < 10; trial++ {
		shuffled := make([]domain.Setup, len(setups))
		copy(shuffled, setups)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got := rankSetups(shuffled)
		for i := range got {
			assert.Equal(t, base[i].ID, got[i].ID, "permutation %d position %d", trial, i)
		}
	}
}

package detect

import (
	"sort"

	"github.com/sawpanic/spxrun/internal/config"
	"github.com/sawpanic/spxrun/internal/domain"
)

// fadeFamily marks the archetypes the diversification cap treats as fades.
var fadeFamily = map[domain.SetupType]bool{
	domain.SetupFadeAtWall:    true,
	domain.SetupMeanReversion: true,
	domain.SetupFlipReclaim:   true,
	domain.SetupPinMagnet:     true,
}

var trendFamily = map[domain.SetupType]bool{
	domain.SetupTrendPullback:    true,
	domain.SetupTrendContinuation: true,
	domain.SetupOrbBreakout:      true,
	domain.SetupBreakoutVacuum:   true,
	domain.SetupGammaSqueeze:     true,
}

// dedupeSemantic collapses setups sharing (type, direction, overlapping
// entry zone), keeping the stronger one. Input order does not affect which
// survives: candidates are compared by score, then EV, then id.
func dedupeSemantic(setups []domain.Setup) []domain.Setup {
	sorted := make([]domain.Setup, len(setups))
	copy(sorted, setups)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		if sorted[i].EvR != sorted[j].EvR {
			return sorted[i].EvR > sorted[j].EvR
		}
		return sorted[i].ID < sorted[j].ID
	})

	kept := make([]domain.Setup, 0, len(sorted))
	for _, candidate := range sorted {
		if candidate.Status.Terminal() {
			kept = append(kept, candidate)
			continue
		}
		duplicate := false
		for _, existing := range kept {
			if existing.Status.Terminal() {
				continue
			}
			if existing.Type == candidate.Type &&
				existing.Direction == candidate.Direction &&
				zonesOverlap(existing.EntryZone, candidate.EntryZone) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, candidate)
		}
	}
	return kept
}

func zonesOverlap(a, b domain.EntryZone) bool {
	return a.Low <= b.High && b.Low <= a.High
}

// applyMixPolicy caps the fade-family share of ready setups and promotes
// qualifying trend setups when fades crowd the board.
func applyMixPolicy(setups []domain.Setup, cfg config.DiversificationConfig) []domain.Setup {
	if !cfg.Enabled {
		return setups
	}

	readyFades := 0
	readyTotal := 0
	for _, s := range setups {
		if s.Status != domain.StatusReady {
			continue
		}
		readyTotal++
		if !fadeFamily[s.Type] {
			continue
		}
		// A flip reclaim in a ranging regime is a recovery play, not a crowd
		// fade; the toggle exempts it from the cap.
		if cfg.AllowRecoveryCombos && s.Type == domain.SetupFlipReclaim && s.Regime == domain.RegimeRanging {
			continue
		}
		readyFades++
	}
	if readyTotal == 0 {
		return setups
	}

	fadeShare := float64(readyFades) / float64(readyTotal)
	if fadeShare <= cfg.FadeReadyMaxShare {
		return setups
	}

	// Promote the strongest qualifying forming trend setups to restore mix.
	out := make([]domain.Setup, len(setups))
	copy(out, setups)

	type candidate struct {
		idx   int
		score float64
	}
	var candidates []candidate
	for i, s := range out {
		if s.Status != domain.StatusForming || !trendFamily[s.Type] || s.GateStatus != domain.GateEligible {
			continue
		}
		if s.Score >= cfg.TrendPromotionMinScore &&
			s.PWinCalibrated >= cfg.TrendPromotionMinPWin &&
			s.EvR >= cfg.TrendPromotionMinEvR {
			candidates = append(candidates, candidate{idx: i, score: s.Score})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return out[candidates[i].idx].ID < out[candidates[j].idx].ID
	})

	promoted := 0
	for _, c := range candidates {
		if promoted >= cfg.MinTrendReadySetups {
			break
		}
		out[c.idx].Status = domain.StatusReady
		promoted++
	}
	return out
}

// rankSetups applies the presentation order and assigns ranks 1..n.
func rankSetups(setups []domain.Setup) []domain.Setup {
	out := make([]domain.Setup, len(setups))
	copy(out, setups)
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if sa, sb := domain.StatusSortOrder[a.Status], domain.StatusSortOrder[b.Status]; sa != sb {
			return sa < sb
		}
		if ta, tb := domain.TierSortOrder[tierOrHidden(a.Tier)], domain.TierSortOrder[tierOrHidden(b.Tier)]; ta != tb {
			return ta < tb
		}
		if a.EvR != b.EvR {
			return a.EvR > b.EvR
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Probability != b.Probability {
			return a.Probability > b.Probability
		}
		at, bt := a.StatusUpdatedAt, b.StatusUpdatedAt
		if !at.Equal(bt) {
			return at.After(bt)
		}
		return a.ID < b.ID
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func tierOrHidden(t domain.SetupTier) domain.SetupTier {
	if t == "" {
		return domain.TierHidden
	}
	return t
}

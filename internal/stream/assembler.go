// Package stream assembles the trade stream: live setups merged with past
// resolution records into one deterministically ordered presentation list.
package stream

import (
	"math"
	"sort"
	"time"

	"github.com/sawpanic/spxrun/internal/domain"
)

// Snapshot is the assembled stream handed to consumers.
type Snapshot struct {
	Items             []domain.TradeStreamItem          `json:"items"`
	NowFocusItemID    string                            `json:"nowFocusItemId,omitempty"`
	CountsByLifecycle map[domain.LifecycleState]int     `json:"countsByLifecycle"`
	FeedTrust         string                            `json:"feedTrust"`
	GeneratedAt       time.Time                         `json:"generatedAt"`
}

// BuildSnapshot merges live setups with past records, keyed by stableIdHash.
// On collision the resolved record always wins: a setup that has since
// resolved must not reappear as active. The output order is a stable total
// order, identical for any permutation of the inputs.
func BuildSnapshot(setups []domain.Setup, records []domain.ResolvedRecord, feedTrust string, generatedAt time.Time) Snapshot {
	byHash := make(map[string]domain.TradeStreamItem, len(setups)+len(records))

	for _, s := range setups {
		item := fromSetup(s, generatedAt)
		byHash[item.StableIDHash] = item
	}
	// Records overwrite live setups sharing a hash.
	for _, r := range records {
		byHash[r.StableIDHash] = fromRecord(r)
	}

	items := make([]domain.TradeStreamItem, 0, len(byHash))
	counts := map[domain.LifecycleState]int{
		domain.StreamForming:   0,
		domain.StreamTriggered: 0,
		domain.StreamPast:      0,
	}
	for _, item := range byHash {
		items = append(items, item)
		counts[item.Lifecycle]++
	}

	sort.Slice(items, func(i, j int) bool { return streamLess(items[i], items[j]) })

	return Snapshot{
		Items:             items,
		NowFocusItemID:    pickNowFocus(items),
		CountsByLifecycle: counts,
		FeedTrust:         feedTrust,
		GeneratedAt:       generatedAt,
	}
}

// streamLess is the stable total order: lifecycle rank, momentPriority
// descending, a per-lifecycle tiebreak, then stableIdHash and id so identical
// input sets always produce the identical order.
func streamLess(a, b domain.TradeStreamItem) bool {
	if ra, rb := domain.LifecycleRank[a.Lifecycle], domain.LifecycleRank[b.Lifecycle]; ra != rb {
		return ra < rb
	}
	if a.MomentPriority != b.MomentPriority {
		return a.MomentPriority > b.MomentPriority
	}
	if cmp := lifecycleTiebreak(a, b); cmp != 0 {
		return cmp < 0
	}
	if a.StableIDHash != b.StableIDHash {
		return a.StableIDHash < b.StableIDHash
	}
	return a.ID < b.ID
}

func lifecycleTiebreak(a, b domain.TradeStreamItem) int {
	switch a.Lifecycle {
	case domain.StreamForming:
		// Sooner-to-trigger first.
		return compareFloat(a.EtaSeconds, b.EtaSeconds)
	case domain.StreamTriggered:
		// Most recent trigger first.
		return compareTimeDesc(a.TriggeredAt, b.TriggeredAt)
	default:
		// Most recent resolution first.
		return compareTimeDesc(a.ResolvedAt, b.ResolvedAt)
	}
}

// pickNowFocus selects the single most urgent item with a comparator that
// ignores lifecycle rank entirely: a just-triggered item can outrank a
// pending one for operator attention.
func pickNowFocus(items []domain.TradeStreamItem) string {
	var best *domain.TradeStreamItem
	for i := range items {
		item := &items[i]
		if item.Lifecycle == domain.StreamPast {
			continue
		}
		if best == nil || focusLess(*item, *best) {
			best = item
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}

func focusLess(a, b domain.TradeStreamItem) bool {
	if a.MomentPriority != b.MomentPriority {
		return a.MomentPriority > b.MomentPriority
	}
	if !a.ReferenceAt.Equal(b.ReferenceAt) {
		return a.ReferenceAt.After(b.ReferenceAt)
	}
	if a.StableIDHash != b.StableIDHash {
		return a.StableIDHash < b.StableIDHash
	}
	return a.ID < b.ID
}

// MomentPriority scores urgency from probability, confluence, and EV.
func MomentPriority(probability float64, confluenceScore int, evR float64) float64 {
	return probability*0.55 + float64(confluenceScore)*10*0.25 + evR*10*0.2
}

func fromSetup(s domain.Setup, now time.Time) domain.TradeStreamItem {
	item := domain.TradeStreamItem{
		ID:             s.ID,
		StableIDHash:   s.StableIDHash,
		SetupType:      s.Type,
		Direction:      s.Direction,
		Status:         s.Status,
		MomentPriority: MomentPriority(s.Probability, s.ConfluenceScore, s.EvR),
		TriggeredAt:    s.TriggeredAt,
		ReferenceAt:    s.StatusUpdatedAt,
	}
	switch s.Status {
	case domain.StatusTriggered:
		item.Lifecycle = domain.StreamTriggered
		if s.TriggeredAt != nil {
			item.ReferenceAt = *s.TriggeredAt
		}
	case domain.StatusInvalidated, domain.StatusExpired:
		item.Lifecycle = domain.StreamPast
		resolved := s.StatusUpdatedAt
		item.ResolvedAt = &resolved
	default:
		// forming absorbs forming and ready.
		item.Lifecycle = domain.StreamForming
		item.EtaSeconds = etaSeconds(s, now)
	}
	if item.ReferenceAt.IsZero() {
		item.ReferenceAt = s.CreatedAt
	}
	return item
}

func fromRecord(r domain.ResolvedRecord) domain.TradeStreamItem {
	resolved := r.ResolvedAt
	return domain.TradeStreamItem{
		ID:             r.ID,
		StableIDHash:   r.StableIDHash,
		Lifecycle:      domain.StreamPast,
		SetupType:      r.Type,
		Direction:      r.Direction,
		Outcome:        r.Outcome,
		MomentPriority: MomentPriority(r.Probability, r.ConfluenceScore, r.EvR),
		TriggeredAt:    r.TriggeredAt,
		ResolvedAt:     &resolved,
		ReferenceAt:    r.ResolvedAt,
	}
}

// etaSeconds estimates time-to-trigger from TTL headroom; forming setups
// without a TTL sort last among forming.
func etaSeconds(s domain.Setup, now time.Time) float64 {
	if s.TTLExpiresAt == nil {
		return math.MaxFloat64
	}
	remaining := s.TTLExpiresAt.Sub(now).Seconds()
	if remaining < 0 {
		return 0
	}
	return remaining
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareTimeDesc(a, b *time.Time) int {
	at, bt := time.Time{}, time.Time{}
	if a != nil {
		at = *a
	}
	if b != nil {
		bt = *b
	}
	switch {
	case at.After(bt):
		return -1
	case bt.After(at):
		return 1
	default:
		return 0
	}
}

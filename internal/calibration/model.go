// Package calibration blends heuristic win probabilities with empirically
// observed win rates bucketed by (setup type, regime, time-of-session),
// Bayesian-smoothed by sample size so sparse buckets degrade to broader
// priors instead of overfitting.
package calibration

import (
	"fmt"
	"math"
	"time"

	"github.com/sawpanic/spxrun/internal/config"
	"github.com/sawpanic/spxrun/internal/domain"
)

// Source labels which level of the hierarchy produced a calibration.
type Source string

const (
	SourceBucket    Source = "bucket"
	SourceRegime    Source = "regime"
	SourceType      Source = "type"
	SourceGlobal    Source = "global"
	SourceHeuristic Source = "heuristic"
)

// OutcomeRow is one resolved historical setup. Only rows with both a trigger
// time and a final outcome count toward calibration.
type OutcomeRow struct {
	SetupID      string              `db:"engine_setup_id"`
	SessionDate  string              `db:"session_date"`
	SetupType    domain.SetupType    `db:"setup_type"`
	Regime       domain.Regime       `db:"regime"`
	FirstSeenMinute int              `db:"first_seen_minute_et"`
	TriggeredAt  *time.Time          `db:"triggered_at"`
	FinalOutcome *domain.FinalOutcome `db:"final_outcome"`
}

func (r OutcomeRow) resolved() bool { return r.TriggeredAt != nil && r.FinalOutcome != nil }

func (r OutcomeRow) won() bool {
	if r.FinalOutcome == nil {
		return false
	}
	return *r.FinalOutcome == domain.OutcomeTarget1 || *r.FinalOutcome == domain.OutcomeTarget2
}

// Bucket holds the smoothed empirical rate at one hierarchy level.
type Bucket struct {
	Trades int     `json:"trades"`
	Wins   int     `json:"wins"`
	PWin   float64 `json:"pWin"`
}

// Model is an immutable calibration snapshot for one as-of date.
type Model struct {
	AsOfDate  string `json:"asOfDate"`
	BuiltAt   time.Time `json:"builtAt"`
	RowCount  int    `json:"rowCount"`

	byBucket map[string]Bucket
	byRegime map[string]Bucket
	byType   map[string]Bucket
	global   *Bucket

	cfg config.CalibrationConfig
}

// Result is the calibration verdict for one setup.
type Result struct {
	PWin          float64  `json:"pWin"`
	Source        Source   `json:"source"`
	SampleSize    int      `json:"sampleSize"`
	EmpiricalPWin *float64 `json:"empiricalPWin"`
	BlendWeight   float64  `json:"blendWeight"`
}

func bucketKey(t domain.SetupType, r domain.Regime, b domain.TimeBucket) string {
	return fmt.Sprintf("%s|%s|%s", t, r, b)
}

func regimeKey(t domain.SetupType, r domain.Regime) string {
	return fmt.Sprintf("%s|%s", t, r)
}

// BuildModel aggregates resolved rows into the bucket hierarchy and smooths
// each level toward its parent with count-weighted shrinkage:
// smoothed = (wins + prior·pseudo) / (trades + pseudo).
func BuildModel(asOfDate string, rows []OutcomeRow, cfg config.CalibrationConfig, now time.Time) *Model {
	m := &Model{
		AsOfDate: asOfDate,
		BuiltAt:  now,
		byBucket: make(map[string]Bucket),
		byRegime: make(map[string]Bucket),
		byType:   make(map[string]Bucket),
		cfg:      cfg,
	}

	type tally struct{ trades, wins int }
	bucketTally := make(map[string]*tally)
	regimeTally := make(map[string]*tally)
	typeTally := make(map[string]*tally)
	global := &tally{}

	bump := func(tallies map[string]*tally, key string, won bool) {
		t, ok := tallies[key]
		if !ok {
			t = &tally{}
			tallies[key] = t
		}
		t.trades++
		if won {
			t.wins++
		}
	}

	for _, row := range rows {
		if !row.resolved() {
			continue
		}
		m.RowCount++
		won := row.won()
		tb := domain.BucketForMinute(row.FirstSeenMinute)
		bump(bucketTally, bucketKey(row.SetupType, row.Regime, tb), won)
		bump(regimeTally, regimeKey(row.SetupType, row.Regime), won)
		bump(typeTally, string(row.SetupType), won)
		global.trades++
		if won {
			global.wins++
		}
	}

	if global.trades == 0 {
		return m
	}

	globalRate := float64(global.wins) / float64(global.trades)
	m.global = &Bucket{Trades: global.trades, Wins: global.wins, PWin: globalRate}

	smooth := func(t *tally, prior float64) float64 {
		pseudo := cfg.PriorPseudoCount
		return (float64(t.wins) + prior*pseudo) / (float64(t.trades) + pseudo)
	}

	for key, t := range typeTally {
		m.byType[key] = Bucket{Trades: t.trades, Wins: t.wins, PWin: smooth(t, globalRate)}
	}
	for key, t := range regimeTally {
		prior := globalRate
		if parent, ok := m.byType[typeOfRegimeKey(key)]; ok {
			prior = parent.PWin
		}
		m.byRegime[key] = Bucket{Trades: t.trades, Wins: t.wins, PWin: smooth(t, prior)}
	}
	for key, t := range bucketTally {
		prior := globalRate
		if parent, ok := m.byRegime[regimeOfBucketKey(key)]; ok {
			prior = parent.PWin
		}
		m.byBucket[key] = Bucket{Trades: t.trades, Wins: t.wins, PWin: smooth(t, prior)}
	}
	return m
}

// Calibrate blends rawPWin with the most specific non-empty empirical bucket.
// The blend weight grows from the configured minimum toward the maximum as
// the bucket's sample size approaches the full-confidence trade count; with
// no history at any level the raw heuristic passes through unchanged. The
// output probability is always clamped regardless of inputs.
func (m *Model) Calibrate(setupType domain.SetupType, regime domain.Regime, minuteSinceOpen int, rawPWin float64) Result {
	tb := domain.BucketForMinute(minuteSinceOpen)

	bucket, source := m.lookup(setupType, regime, tb)
	if bucket == nil {
		return Result{
			PWin:          m.clampP(rawPWin),
			Source:        SourceHeuristic,
			SampleSize:    0,
			EmpiricalPWin: nil,
			BlendWeight:   0,
		}
	}

	weight := m.blendWeight(bucket.Trades)
	p := rawPWin*(1-weight) + bucket.PWin*weight
	empirical := bucket.PWin
	return Result{
		PWin:          m.clampP(p),
		Source:        source,
		SampleSize:    bucket.Trades,
		EmpiricalPWin: &empirical,
		BlendWeight:   weight,
	}
}

func (m *Model) lookup(setupType domain.SetupType, regime domain.Regime, tb domain.TimeBucket) (*Bucket, Source) {
	if b, ok := m.byBucket[bucketKey(setupType, regime, tb)]; ok && b.Trades > 0 {
		return &b, SourceBucket
	}
	if b, ok := m.byRegime[regimeKey(setupType, regime)]; ok && b.Trades > 0 {
		return &b, SourceRegime
	}
	if b, ok := m.byType[string(setupType)]; ok && b.Trades > 0 {
		return &b, SourceType
	}
	if m.global != nil && m.global.Trades > 0 {
		b := *m.global
		return &b, SourceGlobal
	}
	return nil, SourceHeuristic
}

func (m *Model) blendWeight(trades int) float64 {
	if trades <= 0 {
		return 0
	}
	full := m.cfg.FullConfidenceTrades
	if full <= 0 {
		full = 1
	}
	frac := math.Min(1, float64(trades)/float64(full))
	return m.cfg.BlendWeightMin + (m.cfg.BlendWeightMax-m.cfg.BlendWeightMin)*frac
}

func (m *Model) clampP(p float64) float64 {
	if math.IsNaN(p) {
		return m.cfg.PWinFloor
	}
	if p < m.cfg.PWinFloor {
		return m.cfg.PWinFloor
	}
	if p > m.cfg.PWinCeiling {
		return m.cfg.PWinCeiling
	}
	return p
}

// Expired reports whether the snapshot is past its TTL.
func (m *Model) Expired(now time.Time) bool {
	return now.Sub(m.BuiltAt) > m.cfg.ModelTTL
}

func typeOfRegimeKey(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			return key[:i]
		}
	}
	return key
}

func regimeOfBucketKey(key string) string {
	last := -1
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			last = i
		}
	}
	if last < 0 {
		return key
	}
	return key[:last]
}

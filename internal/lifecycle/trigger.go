package lifecycle

import (
	"math"

	"github.com/sawpanic/spxrun/internal/domain"
)

// Bar is one price bar used for trigger-pattern detection.
type Bar struct {
	Open  float64
	High  float64
	Low   float64
	Close float64
}

func (b Bar) body() float64  { return math.Abs(b.Close - b.Open) }
func (b Bar) rng() float64   { return b.High - b.Low }
func (b Bar) bullish() bool  { return b.Close > b.Open }
func (b Bar) bearish() bool  { return b.Close < b.Open }

// TriggerPattern labels the bar pattern that confirmed price interaction.
type TriggerPattern string

const (
	PatternEngulfing TriggerPattern = "engulfing"
	PatternHammer    TriggerPattern = "hammer"
	PatternDoji      TriggerPattern = "doji"
	PatternZoneTouch TriggerPattern = "zone_touch"
	PatternNone      TriggerPattern = ""
)

// DetectTrigger inspects the two most recent bars at the entry zone and
// reports whether a trigger-bar pattern confirms the setup's direction.
// Price must actually interact with the entry band; pattern alone is not
// enough.
func DetectTrigger(direction domain.Direction, entry domain.EntryZone, prev, last Bar) TriggerPattern {
	touched := last.Low <= entry.High && last.High >= entry.Low
	if !touched {
		return PatternNone
	}

	if isEngulfing(direction, prev, last) {
		return PatternEngulfing
	}
	if isHammer(direction, last) {
		return PatternHammer
	}
	if isDoji(last) {
		return PatternDoji
	}
	if entry.Contains(last.Close) {
		return PatternZoneTouch
	}
	return PatternNone
}

// isEngulfing: the last bar's body swallows the previous bar's body in the
// trade direction.
func isEngulfing(direction domain.Direction, prev, last Bar) bool {
	if last.body() < prev.body() || prev.body() == 0 {
		return false
	}
	if direction == domain.Bullish {
		return last.bullish() && prev.bearish() && last.Close > prev.Open && last.Open < prev.Close
	}
	return last.bearish() && prev.bullish() && last.Close < prev.Open && last.Open > prev.Close
}

// isHammer: long rejection wick against the stop side, small body near the
// favorable extreme.
func isHammer(direction domain.Direction, b Bar) bool {
	r := b.rng()
	if r == 0 {
		return false
	}
	body := b.body()
	if body > r*0.35 {
		return false
	}
	if direction == domain.Bullish {
		lowerWick := math.Min(b.Open, b.Close) - b.Low
		return lowerWick >= r*0.5
	}
	upperWick := b.High - math.Max(b.Open, b.Close)
	return upperWick >= r*0.5
}

// isDoji: open and close within a sliver of the range, indecision at the
// zone.
func isDoji(b Bar) bool {
	r := b.rng()
	if r == 0 {
		return false
	}
	return b.body() <= r*0.1
}

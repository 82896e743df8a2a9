// Package gates evaluates scored setups against the active optimization
// profile and decides eligibility. The evaluator is stateless; all tuning
// lives in the externally supplied profile.
package gates

import (
	"time"

	"github.com/sawpanic/spxrun/internal/domain"
	"github.com/sawpanic/spxrun/internal/geometry"
)

// Profile is the externally supplied optimization configuration. An external
// tuning process produces it; the engine only consumes it.
type Profile struct {
	Source      string    `json:"source"` // "default" or "scan"
	GeneratedAt time.Time `json:"generatedAt"`

	QualityGate     QualityGate          `json:"qualityGate"`
	FlowGate        FlowGate             `json:"flowGate"`
	IndicatorGate   IndicatorGate        `json:"indicatorGate"`
	TimingGate      TimingGate           `json:"timingGate"`
	RegimeGate      RegimeGate           `json:"regimeGate"`
	TradeManagement domain.TradeManagementPlan `json:"tradeManagement"`
	GeometryPolicy  geometry.PolicyTable `json:"geometryPolicy"`
	DriftControl    DriftControl         `json:"driftControl"`
}

// QualityGate floors. Equality passes every threshold.
type QualityGate struct {
	MinConfluenceScore float64              `json:"minConfluenceScore"`
	MinPWinCalibrated  float64              `json:"minPWinCalibrated"`
	MinEvR             float64              `json:"minEvR"`
	ActionableStatuses []domain.SetupStatus `json:"actionableStatuses"`
}

// FlowGate requirements.
type FlowGate struct {
	RequireFlowConfirmation bool    `json:"requireFlowConfirmation"`
	MinAlignmentPct         float64 `json:"minAlignmentPct"`
}

// IndicatorGate requirements.
type IndicatorGate struct {
	RequireEmaAlignment          bool `json:"requireEmaAlignment"`
	RequireVolumeRegimeAlignment bool `json:"requireVolumeRegimeAlignment"`
}

// TimingGate caps how late in the session each archetype may first appear.
type TimingGate struct {
	Enabled                      bool                      `json:"enabled"`
	MaxFirstSeenMinuteBySetupType map[domain.SetupType]int `json:"maxFirstSeenMinuteBySetupType"`
}

// RegimeGate blocks historically weak (setupType, regime) combinations.
type RegimeGate struct {
	MinTradesPerCombo int      `json:"minTradesPerCombo"`
	MinT1WinRatePct   float64  `json:"minT1WinRatePct"`
	PausedCombos      []string `json:"pausedCombos"`
}

// DriftControl quarantines archetypes whose recent statistics drift outside
// bounds relative to a longer baseline window.
type DriftControl struct {
	Enabled                  bool               `json:"enabled"`
	ShortWindowDays          int                `json:"shortWindowDays"`
	LongWindowDays           int                `json:"longWindowDays"`
	MaxDropPct               float64            `json:"maxDropPct"`
	MinLongWindowTrades      int                `json:"minLongWindowTrades"`
	AutoQuarantineEnabled    bool               `json:"autoQuarantineEnabled"`
	TriggerRateWindowDays    int                `json:"triggerRateWindowDays"`
	MinQuarantineOpportunities int              `json:"minQuarantineOpportunities"`
	MinTriggerRatePct        float64            `json:"minTriggerRatePct"`
	PausedSetupTypes         []domain.SetupType `json:"pausedSetupTypes"`
}

// defaultFirstSeenCaps bounds first-seen minutes per archetype (minutes since
// the 09:30 ET open).
var defaultFirstSeenCaps = map[domain.SetupType]int{
	domain.SetupFadeAtWall:       300,
	domain.SetupBreakoutVacuum:   360,
	domain.SetupMeanReversion:    330,
	domain.SetupTrendContinuation: 390,
	domain.SetupOrbBreakout:      180,
	domain.SetupTrendPullback:    360,
	domain.SetupFlipReclaim:      360,
	domain.SetupGammaSqueeze:     330,
	domain.SetupPinMagnet:        390,
}

// DefaultProfile returns the shipping defaults used until a scan supplies a
// tuned profile.
func DefaultProfile() Profile {
	return Profile{
		Source: "default",
		QualityGate: QualityGate{
			MinConfluenceScore: 3,
			MinPWinCalibrated:  0.62,
			MinEvR:             0.2,
			ActionableStatuses: []domain.SetupStatus{domain.StatusReady, domain.StatusTriggered},
		},
		FlowGate: FlowGate{
			RequireFlowConfirmation: false,
			MinAlignmentPct:         0,
		},
		IndicatorGate: IndicatorGate{},
		TimingGate: TimingGate{
			Enabled:                       true,
			MaxFirstSeenMinuteBySetupType: copyCaps(defaultFirstSeenCaps),
		},
		RegimeGate: RegimeGate{
			MinTradesPerCombo: 12,
			MinT1WinRatePct:   48,
		},
		TradeManagement: domain.TradeManagementPlan{
			PartialAtT1Pct:      0.65,
			MoveStopToBreakeven: true,
		},
		DriftControl: DriftControl{
			Enabled:                    true,
			ShortWindowDays:            5,
			LongWindowDays:             20,
			MaxDropPct:                 12,
			MinLongWindowTrades:        20,
			AutoQuarantineEnabled:      true,
			TriggerRateWindowDays:      20,
			MinQuarantineOpportunities: 20,
			MinTriggerRatePct:          3,
		},
	}
}

// Normalize fills missing or out-of-range fields from the defaults so a
// partial persisted profile can never disable the quality floor by accident.
func (p Profile) Normalize() Profile {
	def := DefaultProfile()
	out := p
	if out.Source == "" {
		out.Source = def.Source
	}
	if out.QualityGate.MinConfluenceScore <= 0 {
		out.QualityGate.MinConfluenceScore = def.QualityGate.MinConfluenceScore
	}
	if out.QualityGate.MinPWinCalibrated <= 0 {
		out.QualityGate.MinPWinCalibrated = def.QualityGate.MinPWinCalibrated
	}
	if out.QualityGate.MinEvR == 0 {
		out.QualityGate.MinEvR = def.QualityGate.MinEvR
	}
	if len(out.QualityGate.ActionableStatuses) == 0 {
		out.QualityGate.ActionableStatuses = def.QualityGate.ActionableStatuses
	}
	if out.TimingGate.MaxFirstSeenMinuteBySetupType == nil {
		out.TimingGate.MaxFirstSeenMinuteBySetupType = copyCaps(defaultFirstSeenCaps)
	} else {
		for setupType, cap := range defaultFirstSeenCaps {
			if _, ok := out.TimingGate.MaxFirstSeenMinuteBySetupType[setupType]; !ok {
				out.TimingGate.MaxFirstSeenMinuteBySetupType[setupType] = cap
			}
		}
	}
	if out.RegimeGate.MinTradesPerCombo <= 0 {
		out.RegimeGate.MinTradesPerCombo = def.RegimeGate.MinTradesPerCombo
	}
	if out.RegimeGate.MinT1WinRatePct <= 0 {
		out.RegimeGate.MinT1WinRatePct = def.RegimeGate.MinT1WinRatePct
	}
	if out.TradeManagement.PartialAtT1Pct <= 0 || out.TradeManagement.PartialAtT1Pct > 1 {
		out.TradeManagement = def.TradeManagement
	}
	if out.DriftControl.ShortWindowDays <= 0 {
		out.DriftControl = def.DriftControl
	}
	return out
}

// FirstSeenCap returns the timing cap for an archetype.
func (p Profile) FirstSeenCap(setupType domain.SetupType) int {
	if cap, ok := p.TimingGate.MaxFirstSeenMinuteBySetupType[setupType]; ok {
		return cap
	}
	if cap, ok := defaultFirstSeenCaps[setupType]; ok {
		return cap
	}
	return 390
}

func copyCaps(src map[domain.SetupType]int) map[domain.SetupType]int {
	out := make(map[domain.SetupType]int, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

package gates

import (
	"fmt"
	"math"

	"github.com/sawpanic/spxrun/internal/domain"
)

// shadowMargin is the float-safe tolerance under the confluence floor within
// which a blocked setup is shadow-logged instead of silently dropped. A setup
// at exactly the floor passes; one within the margin is shadow_blocked; one
// below the margin is plain blocked.
const shadowMargin = 0.005

// Input is the scored setup plus the context the gates need.
type Input struct {
	Status                 domain.SetupStatus
	WasPreviouslyTriggered bool
	SetupType              domain.SetupType
	Regime                 domain.Regime
	Direction              domain.Direction
	FirstSeenMinute        int

	ConfluenceScore    float64 // continuous intermediate, pre-rounding
	PWinCalibrated     float64
	EvR                float64

	FlowConfirmed    bool
	FlowAlignmentPct *float64 // nil when flow data unavailable
	FlowActive       bool     // window activity floors cleared

	EmaAligned           bool
	VolumeRegimeAligned  bool

	// MacroAlignmentScore is the composite macro kill-switch score (0..100);
	// nil when the macro filter is disabled.
	MacroAlignmentScore *float64
	MacroAlignmentFloor float64

	Environment EnvironmentSnapshot
}

// Verdict is the gate outcome.
type Verdict struct {
	Status  domain.GateStatus
	Reasons []domain.GateReason
}

// Blocked reports whether the setup is withheld from the actionable surface.
func (v Verdict) Blocked() bool { return v.Status != domain.GateEligible }

// Evaluator applies the optimization profile. Stateless; safe for concurrent
// use. Evaluate never panics and never returns empty reason entries.
type Evaluator struct {
	profile Profile
}

// NewEvaluator builds an evaluator over a normalized profile.
func NewEvaluator(profile Profile) *Evaluator {
	return &Evaluator{profile: profile.Normalize()}
}

// Profile exposes the active profile for geometry/trade-management callers.
func (e *Evaluator) Profile() Profile { return e.profile }

// Evaluate runs every gate. Gates only apply to setups newly reaching an
// actionable status; previously triggered setups are never re-gated (a trade
// already taken cannot be retro-blocked), and non-actionable statuses pass
// through untouched.
func (e *Evaluator) Evaluate(in Input) Verdict {
	p := e.profile

	actionable := false
	for _, s := range p.QualityGate.ActionableStatuses {
		if in.Status == s {
			actionable = true
			break
		}
	}
	if !actionable || in.WasPreviouslyTriggered {
		return Verdict{Status: domain.GateEligible}
	}

	var reasons []domain.GateReason

	// Drift control and paused combos block outright.
	for _, paused := range p.DriftControl.PausedSetupTypes {
		if paused == in.SetupType {
			reasons = append(reasons, domain.LabelReason(domain.ReasonSetupTypePaused, string(in.SetupType)))
		}
	}
	combo := fmt.Sprintf("%s|%s", in.SetupType, in.Regime)
	for _, paused := range p.RegimeGate.PausedCombos {
		if paused == combo {
			reasons = append(reasons, domain.LabelReason(domain.ReasonComboPaused, combo))
		}
	}

	// Quality gate: equality passes everywhere.
	if in.ConfluenceScore < p.QualityGate.MinConfluenceScore {
		reasons = append(reasons, domain.NumericReason(
			domain.ReasonConfluenceBelowFloor, in.ConfluenceScore, p.QualityGate.MinConfluenceScore))
	}
	if in.PWinCalibrated < p.QualityGate.MinPWinCalibrated {
		reasons = append(reasons, domain.NumericReason(
			domain.ReasonPWinBelowFloor, round4(in.PWinCalibrated), p.QualityGate.MinPWinCalibrated))
	}
	if in.EvR < p.QualityGate.MinEvR {
		reasons = append(reasons, domain.NumericReason(
			domain.ReasonEvRBelowFloor, round3(in.EvR), round3(p.QualityGate.MinEvR)))
	}

	// Flow gate. Unavailable flow data resolves conservatively: the setup is
	// not blocked for a signal nobody produced.
	flowUnavailable := in.FlowAlignmentPct == nil && !in.FlowActive
	if p.FlowGate.RequireFlowConfirmation && !in.FlowConfirmed && !flowUnavailable {
		reasons = append(reasons, domain.LabelReason(domain.ReasonFlowNotConfirmed, "required"))
	}
	if in.FlowAlignmentPct != nil && p.FlowGate.MinAlignmentPct > 0 &&
		*in.FlowAlignmentPct < p.FlowGate.MinAlignmentPct {
		reasons = append(reasons, domain.NumericReason(
			domain.ReasonFlowAlignmentLow, round2(*in.FlowAlignmentPct), p.FlowGate.MinAlignmentPct))
	}

	// Indicator gate.
	if p.IndicatorGate.RequireEmaAlignment && !in.EmaAligned {
		reasons = append(reasons, domain.LabelReason(domain.ReasonEmaMisaligned, "required"))
	}
	if p.IndicatorGate.RequireVolumeRegimeAlignment && !in.VolumeRegimeAligned {
		reasons = append(reasons, domain.LabelReason(domain.ReasonVolumeMisaligned, "required"))
	}

	// Timing gate: archetypes have a latest first-seen minute.
	if p.TimingGate.Enabled {
		if cap := p.FirstSeenCap(in.SetupType); in.FirstSeenMinute > cap {
			reasons = append(reasons, domain.NumericReason(
				domain.ReasonTimingWindowClosed, float64(in.FirstSeenMinute), float64(cap)))
		}
	}

	if in.MacroAlignmentScore != nil && in.MacroAlignmentFloor > 0 &&
		*in.MacroAlignmentScore < in.MacroAlignmentFloor {
		reasons = append(reasons, domain.NumericReason(
			domain.ReasonMacroBelowFloor, round2(*in.MacroAlignmentScore), in.MacroAlignmentFloor))
	}

	reasons = append(reasons, evaluateEnvironment(in.Environment)...)

	if len(reasons) == 0 {
		return Verdict{Status: domain.GateEligible}
	}

	// Shadow gate: a blocked setup whose confluence sits within the float-safe
	// margin of the floor is logged for offline learning instead of
	// disappearing into the blocked pile.
	if in.ConfluenceScore >= p.QualityGate.MinConfluenceScore-shadowMargin {
		return Verdict{Status: domain.GateShadowBlocked, Reasons: reasons}
	}
	return Verdict{Status: domain.GateBlocked, Reasons: reasons}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }

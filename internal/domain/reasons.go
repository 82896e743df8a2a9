package domain

import (
	"fmt"
	"strings"
)

// ReasonKind identifies a gate sub-check. Kinds are machine-checkable; the
// display form is rendered at the boundary via GateReason.String.
type ReasonKind string

const (
	ReasonConfluenceBelowFloor ReasonKind = "confluence_below_floor"
	ReasonPWinBelowFloor       ReasonKind = "pwin_below_floor"
	ReasonEvRBelowFloor        ReasonKind = "ev_r_below_floor"
	ReasonFlowNotConfirmed     ReasonKind = "flow_not_confirmed"
	ReasonFlowAlignmentLow     ReasonKind = "flow_alignment_below_floor"
	ReasonEmaMisaligned        ReasonKind = "ema_misaligned"
	ReasonVolumeMisaligned     ReasonKind = "volume_regime_misaligned"
	ReasonComboPaused          ReasonKind = "regime_combo_paused"
	ReasonSetupTypePaused      ReasonKind = "setup_type_paused"
	ReasonTimingWindowClosed   ReasonKind = "timing_window_closed"
	ReasonMacroBelowFloor      ReasonKind = "macro_alignment_below_floor"
	ReasonVixRegimeAdverse     ReasonKind = "vix_regime_adverse"
	ReasonExpectedMoveUsed     ReasonKind = "expected_move_exhausted"
	ReasonMacroBlackout        ReasonKind = "macro_calendar_blackout"
	ReasonEventRiskElevated    ReasonKind = "event_risk_elevated"
)

// GateReason is a structured gate failure: a kind plus the numeric payload
// that tripped it. Value/Threshold are omitted from the rendering when the
// check is purely categorical (Detail carries the label instead).
type GateReason struct {
	Kind      ReasonKind `json:"kind"`
	Value     float64    `json:"value,omitempty"`
	Threshold float64    `json:"threshold,omitempty"`
	Detail    string     `json:"detail,omitempty"`
	Numeric   bool       `json:"-"`
}

// NumericReason builds a reason for a threshold check, e.g. pwin 0.3 vs 0.4.
func NumericReason(kind ReasonKind, value, threshold float64) GateReason {
	return GateReason{Kind: kind, Value: value, Threshold: threshold, Numeric: true}
}

// LabelReason builds a reason for a categorical check, e.g. a paused combo.
func LabelReason(kind ReasonKind, detail string) GateReason {
	return GateReason{Kind: kind, Detail: detail}
}

// String renders the display form "<check>:<detail>".
func (r GateReason) String() string {
	if r.Numeric {
		return fmt.Sprintf("%s:%s<%s", r.Kind, trimFloat(r.Value), trimFloat(r.Threshold))
	}
	if r.Detail != "" {
		return fmt.Sprintf("%s:%s", r.Kind, r.Detail)
	}
	return string(r.Kind)
}

// RenderReasons renders reasons to display strings, skipping empties so the
// output never contains blank entries.
func RenderReasons(reasons []GateReason) []string {
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		if s := r.String(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%.4f", v)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}

package gates

import (
	"time"

	"github.com/sawpanic/spxrun/internal/domain"
)

// EnvironmentSnapshot carries the macro environment inputs. Pointer fields
// are optional; a missing sub-input resolves conservatively (caution, not a
// block) unless the snapshot explicitly configures blocking.
type EnvironmentSnapshot struct {
	Vix               *float64 `json:"vix,omitempty"`
	MaxVix            float64  `json:"maxVix"`
	ExpectedMoveUsed  *float64 `json:"expectedMoveUsed,omitempty"` // fraction of daily expected move consumed
	ExpectedMoveLimit float64  `json:"expectedMoveLimit"`

	MacroBlackoutUntil *time.Time `json:"macroBlackoutUntil,omitempty"` // e.g. imminent FOMC
	BlackoutBlocks     bool       `json:"blackoutBlocks"`
	EventRiskElevated  bool       `json:"eventRiskElevated"`
	EventRiskBlocks    bool       `json:"eventRiskBlocks"`

	Now time.Time `json:"now"`
}

// evaluateEnvironment runs the macro sub-checks. It never panics; each
// failing sub-check contributes one labeled reason.
func evaluateEnvironment(env EnvironmentSnapshot) []domain.GateReason {
	var reasons []domain.GateReason

	if env.Vix != nil && env.MaxVix > 0 && *env.Vix > env.MaxVix {
		reasons = append(reasons, domain.NumericReason(domain.ReasonVixRegimeAdverse, *env.Vix, env.MaxVix))
	}
	if env.ExpectedMoveUsed != nil && env.ExpectedMoveLimit > 0 &&
		*env.ExpectedMoveUsed > env.ExpectedMoveLimit {
		reasons = append(reasons, domain.NumericReason(
			domain.ReasonExpectedMoveUsed, *env.ExpectedMoveUsed, env.ExpectedMoveLimit))
	}
	if env.BlackoutBlocks && env.MacroBlackoutUntil != nil && env.Now.Before(*env.MacroBlackoutUntil) {
		reasons = append(reasons, domain.LabelReason(
			domain.ReasonMacroBlackout, env.MacroBlackoutUntil.UTC().Format(time.RFC3339)))
	}
	if env.EventRiskBlocks && env.EventRiskElevated {
		reasons = append(reasons, domain.LabelReason(domain.ReasonEventRiskElevated, "elevated"))
	}
	return reasons
}

package lifecycle

import (
	"sync"
	"time"
)

// ContextState is the per-setup streak bookkeeping that debounces noisy
// context signals before they demote or invalidate a setup.
type ContextState struct {
	RegimeConflictStreak int
	FlowDivergenceStreak int
	StopBreachStreak     int
	UpdatedAt            time.Time
}

// ContextTracker owns streak state keyed by setup id. Injected into the
// detector so tests can run without process-wide state.
type ContextTracker struct {
	mu     sync.Mutex
	states map[string]*ContextState
}

// NewContextTracker builds an empty tracker.
func NewContextTracker() *ContextTracker {
	return &ContextTracker{states: make(map[string]*ContextState)}
}

// Observe folds one cycle's signals into the setup's streaks and returns the
// updated state. A quiet cycle resets the corresponding streak.
func (t *ContextTracker) Observe(setupID string, now time.Time, regimeConflict, flowDivergence, stopBreach bool) ContextState {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[setupID]
	if !ok {
		state = &ContextState{}
		t.states[setupID] = state
	}

	bump := func(streak *int, firing bool) {
		if firing {
			*streak++
		} else {
			*streak = 0
		}
	}
	bump(&state.RegimeConflictStreak, regimeConflict)
	bump(&state.FlowDivergenceStreak, flowDivergence)
	bump(&state.StopBreachStreak, stopBreach)
	state.UpdatedAt = now
	return *state
}

// Prune drops state for setups that are no longer active.
func (t *ContextTracker) Prune(activeIDs map[string]bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range t.states {
		if !activeIDs[id] {
			delete(t.states, id)
		}
	}
}

// Reset clears all state.
func (t *ContextTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states = make(map[string]*ContextState)
}

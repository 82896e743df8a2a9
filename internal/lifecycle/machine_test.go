package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/spxrun/internal/config"
	"github.com/sawpanic/spxrun/internal/domain"
)

var machineNow = time.Date(2026, 3, 9, 15, 0, 0, 0, time.UTC)

func newTestMachine() *Machine {
	return NewMachine(config.DefaultEngineConfig().Lifecycle)
}

func TestResolveStatus_TerminalSticks(t *testing.T) {
	m := newTestMachine()
	for _, terminal := range []domain.SetupStatus{domain.StatusInvalidated, domain.StatusExpired} {
		status, reason := m.ResolveStatus(StatusInput{
			ComputedStatus: domain.StatusTriggered,
			Previous:       &Previous{Status: terminal},
		})
		assert.Equal(t, terminal, status)
		assert.Empty(t, reason)
	}
}

func TestResolveStatus_TriggeredIsSticky(t *testing.T) {
	m := newTestMachine()
	status, _ := m.ResolveStatus(StatusInput{
		ComputedStatus: domain.StatusForming,
		Previous:       &Previous{Status: domain.StatusTriggered},
	})
	assert.Equal(t, domain.StatusTriggered, status)
}

func TestResolveStatus_StopBreachConfirmation(t *testing.T) {
	m := newTestMachine()

	// One breach tick is noise; two confirm.
	status, reason := m.ResolveStatus(StatusInput{
		ComputedStatus: domain.StatusTriggered,
		Context:        ContextState{StopBreachStreak: 1},
	})
	assert.Equal(t, domain.StatusTriggered, status)
	assert.Empty(t, reason)

	status, reason = m.ResolveStatus(StatusInput{
		ComputedStatus: domain.StatusTriggered,
		Context:        ContextState{StopBreachStreak: 2},
	})
	assert.Equal(t, domain.StatusInvalidated, status)
	assert.Equal(t, domain.InvalidStopBreach, reason)
}

func TestResolveStatus_StopBreachNeverKillsForming(t *testing.T) {
	m := newTestMachine()
	status, reason := m.ResolveStatus(StatusInput{
		ComputedStatus: domain.StatusForming,
		Context:        ContextState{StopBreachStreak: 5},
	})
	assert.Equal(t, domain.StatusForming, status)
	assert.Empty(t, reason)
}

func TestResolveStatus_ContextStreaks(t *testing.T) {
	m := newTestMachine()

	// Demotion streak downgrades ready to forming without a reason.
	status, reason := m.ResolveStatus(StatusInput{
		ComputedStatus: domain.StatusReady,
		Context:        ContextState{RegimeConflictStreak: 3},
	})
	assert.Equal(t, domain.StatusForming, status)
	assert.Empty(t, reason)

	// The longer invalidation streak kills a triggered trade.
	status, reason = m.ResolveStatus(StatusInput{
		ComputedStatus: domain.StatusTriggered,
		Context:        ContextState{RegimeConflictStreak: 5},
	})
	assert.Equal(t, domain.StatusInvalidated, status)
	assert.Equal(t, domain.InvalidRegimeConflict, reason)

	status, reason = m.ResolveStatus(StatusInput{
		ComputedStatus: domain.StatusTriggered,
		Context:        ContextState{FlowDivergenceStreak: 5},
	})
	assert.Equal(t, domain.StatusInvalidated, status)
	assert.Equal(t, domain.InvalidFlowDivergence, reason)
}

func TestResolveStatus_DisabledPassesThrough(t *testing.T) {
	cfg := config.DefaultEngineConfig().Lifecycle
	cfg.Enabled = false
	m := NewMachine(cfg)
	status, reason := m.ResolveStatus(StatusInput{
		ComputedStatus: domain.StatusTriggered,
		Context:        ContextState{StopBreachStreak: 10, RegimeConflictStreak: 10},
	})
	assert.Equal(t, domain.StatusTriggered, status)
	assert.Empty(t, reason)
}

func TestResolveMetadata_NewStatusAnchorsNow(t *testing.T) {
	m := newTestMachine()
	meta := m.ResolveMetadata(machineNow, domain.StatusForming, "", nil)
	assert.Equal(t, machineNow, meta.StatusUpdatedAt)
	require.NotNil(t, meta.TTLExpiresAt)
	assert.Equal(t, machineNow.Add(30*time.Minute), *meta.TTLExpiresAt)
}

func TestResolveMetadata_UnchangedStatusKeepsAnchor(t *testing.T) {
	m := newTestMachine()
	anchor := machineNow.Add(-10 * time.Minute)
	meta := m.ResolveMetadata(machineNow, domain.StatusForming, "", &Previous{
		Status:          domain.StatusForming,
		StatusUpdatedAt: anchor,
	})
	assert.Equal(t, anchor, meta.StatusUpdatedAt)
	require.NotNil(t, meta.TTLExpiresAt)
	assert.Equal(t, anchor.Add(30*time.Minute), *meta.TTLExpiresAt)
}

func TestResolveMetadata_ExplicitPreviousTTLWins(t *testing.T) {
	m := newTestMachine()
	anchor := machineNow.Add(-10 * time.Minute)
	explicit := machineNow.Add(5 * time.Minute)
	meta := m.ResolveMetadata(machineNow, domain.StatusReady, "", &Previous{
		Status:          domain.StatusReady,
		StatusUpdatedAt: anchor,
		TTLExpiresAt:    &explicit,
	})
	require.NotNil(t, meta.TTLExpiresAt)
	assert.Equal(t, explicit, *meta.TTLExpiresAt)
}

func TestResolveMetadata_StatusChangeDiscardsPreviousTTL(t *testing.T) {
	m := newTestMachine()
	stale := machineNow.Add(-time.Minute)
	meta := m.ResolveMetadata(machineNow, domain.StatusReady, "", &Previous{
		Status:          domain.StatusForming,
		StatusUpdatedAt: machineNow.Add(-20 * time.Minute),
		TTLExpiresAt:    &stale,
	})
	assert.Equal(t, machineNow, meta.StatusUpdatedAt)
	require.NotNil(t, meta.TTLExpiresAt)
	assert.Equal(t, machineNow.Add(90*time.Minute), *meta.TTLExpiresAt)
}

func TestResolveMetadata_TTLBreach(t *testing.T) {
	m := newTestMachine()
	breached := machineNow.Add(-time.Second)

	// Forming and ready expire quietly.
	for _, status := range []domain.SetupStatus{domain.StatusForming, domain.StatusReady} {
		meta := m.ResolveMetadata(machineNow, status, "", &Previous{
			Status:          status,
			StatusUpdatedAt: machineNow.Add(-2 * time.Hour),
			TTLExpiresAt:    &breached,
		})
		assert.Equal(t, domain.StatusExpired, meta.Status, "status %s", status)
		assert.Empty(t, meta.InvalidationReason)
		assert.Nil(t, meta.TTLExpiresAt)
		assert.Equal(t, machineNow, meta.StatusUpdatedAt)
	}

	// A triggered trade that runs out of time invalidates with a reason.
	meta := m.ResolveMetadata(machineNow, domain.StatusTriggered, "", &Previous{
		Status:          domain.StatusTriggered,
		StatusUpdatedAt: machineNow.Add(-2 * time.Hour),
		TTLExpiresAt:    &breached,
	})
	assert.Equal(t, domain.StatusInvalidated, meta.Status)
	assert.Equal(t, domain.InvalidTTLExpired, meta.InvalidationReason)
	assert.Nil(t, meta.TTLExpiresAt)
}

func TestResolveMetadata_ExactExpiryIsNotABreach(t *testing.T) {
	m := newTestMachine()
	exact := machineNow
	meta := m.ResolveMetadata(machineNow, domain.StatusForming, "", &Previous{
		Status:          domain.StatusForming,
		StatusUpdatedAt: machineNow.Add(-30 * time.Minute),
		TTLExpiresAt:    &exact,
	})
	assert.Equal(t, domain.StatusForming, meta.Status)
}

func TestResolveMetadata_TerminalHasNoTTL(t *testing.T) {
	m := newTestMachine()
	meta := m.ResolveMetadata(machineNow, domain.StatusInvalidated, domain.InvalidStopBreach, nil)
	assert.Nil(t, meta.TTLExpiresAt)
	assert.Equal(t, domain.InvalidStopBreach, meta.InvalidationReason)
}

func TestContextTracker_StreaksBumpAndReset(t *testing.T) {
	tracker := NewContextTracker()

	state := tracker.Observe("s1", machineNow, true, false, true)
	assert.Equal(t, 1, state.RegimeConflictStreak)
	assert.Equal(t, 0, state.FlowDivergenceStreak)
	assert.Equal(t, 1, state.StopBreachStreak)

	state = tracker.Observe("s1", machineNow.Add(time.Minute), true, true, false)
	assert.Equal(t, 2, state.RegimeConflictStreak)
	assert.Equal(t, 1, state.FlowDivergenceStreak)
	assert.Equal(t, 0, state.StopBreachStreak, "a quiet cycle resets the streak")
}

func TestContextTracker_StateIsPerSetup(t *testing.T) {
	tracker := NewContextTracker()
	tracker.Observe("s1", machineNow, true, false, false)
	state := tracker.Observe("s2", machineNow, false, false, false)
	assert.Equal(t, 0, state.RegimeConflictStreak)
}

func TestContextTracker_PruneDropsInactive(t *testing.T) {
	tracker := NewContextTracker()
	tracker.Observe("keep", machineNow, true, false, false)
	tracker.Observe("drop", machineNow, true, false, false)

	tracker.Prune(map[string]bool{"keep": true})

	state := tracker.Observe("keep", machineNow, true, false, false)
	assert.Equal(t, 2, state.RegimeConflictStreak)
	state = tracker.Observe("drop", machineNow, true, false, false)
	assert.Equal(t, 1, state.RegimeConflictStreak, "pruned state restarts from zero")
}

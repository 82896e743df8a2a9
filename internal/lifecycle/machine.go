// Package lifecycle advances setups through
// forming -> ready -> triggered -> {invalidated, expired} under trigger
// detection, context streaks, and TTL rules.
package lifecycle

import (
	"time"

	"github.com/sawpanic/spxrun/internal/config"
	"github.com/sawpanic/spxrun/internal/domain"
)

// Metadata is the resolved lifecycle timing for one setup.
type Metadata struct {
	Status             domain.SetupStatus
	StatusUpdatedAt    time.Time
	TTLExpiresAt       *time.Time
	InvalidationReason domain.InvalidationReason
}

// Previous captures the prior cycle's view of a setup.
type Previous struct {
	Status          domain.SetupStatus
	StatusUpdatedAt time.Time
	TTLExpiresAt    *time.Time
	TriggeredAt     *time.Time
	CreatedAt       time.Time
}

// Machine resolves lifecycle transitions under one configuration.
type Machine struct {
	cfg config.LifecycleConfig
}

// NewMachine builds a machine.
func NewMachine(cfg config.LifecycleConfig) *Machine {
	return &Machine{cfg: cfg}
}

// ResolveStatus merges the freshly computed status with the previous cycle,
// stop breaches, and context streaks. Terminal previous statuses stick: a
// setup never resurrects.
func (m *Machine) ResolveStatus(in StatusInput) (domain.SetupStatus, domain.InvalidationReason) {
	if in.Previous != nil && in.Previous.Status.Terminal() {
		return in.Previous.Status, ""
	}

	status := in.ComputedStatus
	// Triggered is sticky: once price has interacted with the entry, the
	// setup stays triggered until it resolves or dies.
	if in.Previous != nil && in.Previous.Status == domain.StatusTriggered {
		status = domain.StatusTriggered
	}

	if !m.cfg.Enabled {
		return status, ""
	}

	var reason domain.InvalidationReason
	stopConfirmed := in.Context.StopBreachStreak >= m.cfg.StopConfirmationTicks
	contextReason := m.contextInvalidationReason(in.Context)
	contextDemote := in.Context.RegimeConflictStreak >= m.cfg.ContextDemotionStreak ||
		in.Context.FlowDivergenceStreak >= m.cfg.ContextDemotionStreak

	switch {
	case (status == domain.StatusReady || status == domain.StatusTriggered) && stopConfirmed:
		status = domain.StatusInvalidated
		reason = domain.InvalidStopBreach
	case status == domain.StatusTriggered && contextReason != "":
		status = domain.StatusInvalidated
		reason = contextReason
	case status == domain.StatusReady && contextDemote:
		status = domain.StatusForming
	}
	return status, reason
}

// StatusInput feeds ResolveStatus.
type StatusInput struct {
	ComputedStatus domain.SetupStatus
	Previous       *Previous
	Context        ContextState
}

func (m *Machine) contextInvalidationReason(ctx ContextState) domain.InvalidationReason {
	if ctx.RegimeConflictStreak >= m.cfg.ContextInvalidationStreak {
		return domain.InvalidRegimeConflict
	}
	if ctx.FlowDivergenceStreak >= m.cfg.ContextInvalidationStreak {
		return domain.InvalidFlowDivergence
	}
	return ""
}

// ResolveMetadata computes statusUpdatedAt and ttlExpiresAt and applies TTL
// breaches. The anchor is the previous statusUpdatedAt when the status is
// unchanged, otherwise now; an explicit previous ttlExpiresAt takes
// precedence over the recomputed one while the status is unchanged. On TTL
// breach, a triggered setup invalidates with ttl_expired; forming and ready
// setups expire.
func (m *Machine) ResolveMetadata(now time.Time, status domain.SetupStatus, reason domain.InvalidationReason, prev *Previous) Metadata {
	anchor := now
	statusUnchanged := prev != nil && prev.Status == status
	if statusUnchanged && !prev.StatusUpdatedAt.IsZero() {
		anchor = prev.StatusUpdatedAt
	} else if prev != nil && prev.StatusUpdatedAt.IsZero() && !prev.CreatedAt.IsZero() && statusUnchanged {
		anchor = prev.CreatedAt
	}

	meta := Metadata{
		Status:             status,
		StatusUpdatedAt:    anchor,
		InvalidationReason: reason,
	}
	if !statusUnchanged {
		meta.StatusUpdatedAt = now
		anchor = now
	}

	ttl, hasTTL := m.cfg.TTLFor(status)
	if !hasTTL {
		return meta
	}

	expiry := anchor.Add(ttl)
	if statusUnchanged && prev.TTLExpiresAt != nil {
		expiry = *prev.TTLExpiresAt
	}
	meta.TTLExpiresAt = &expiry

	if !now.After(expiry) {
		return meta
	}

	// TTL breach.
	switch status {
	case domain.StatusTriggered:
		meta.Status = domain.StatusInvalidated
		meta.InvalidationReason = domain.InvalidTTLExpired
	default:
		meta.Status = domain.StatusExpired
	}
	meta.StatusUpdatedAt = now
	meta.TTLExpiresAt = nil
	return meta
}

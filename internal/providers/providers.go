// Package providers is the signal-provider boundary: the engine consumes
// typed outputs from the levels, gamma, regime, flow, and indicator
// collaborators here and nowhere else. All I/O lives behind this boundary.
package providers

import (
	"context"

	"github.com/sawpanic/spxrun/internal/domain"
	"github.com/sawpanic/spxrun/internal/gates"
)

// LevelProvider yields ordered price-level clusters.
type LevelProvider interface {
	Clusters(ctx context.Context) ([]domain.ClusterZone, error)
}

// GexProvider yields the gamma-exposure landscape.
type GexProvider interface {
	Landscape(ctx context.Context) (domain.GexLandscape, error)
}

// RegimeProvider yields the current regime classification.
type RegimeProvider interface {
	Current(ctx context.Context) (domain.RegimeState, error)
}

// FlowProvider yields the options-flow window aggregation for a direction-
// agnostic view; the scorer derives per-direction alignment from it.
type FlowProvider interface {
	Snapshot(ctx context.Context) (domain.FlowSnapshot, error)
}

// IndicatorProvider yields the intraday indicator context.
type IndicatorProvider interface {
	Context(ctx context.Context) (domain.IndicatorContext, error)
}

// BarProvider yields the most recent price bars for trigger detection.
type BarProvider interface {
	RecentBars(ctx context.Context, n int) ([]Bar, error)
}

// Bar mirrors lifecycle.Bar at the boundary.
type Bar struct {
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// ProfileProvider yields the active optimization profile.
type ProfileProvider interface {
	Active(ctx context.Context) (gates.Profile, error)
}

// EnvironmentProvider yields the macro environment snapshot.
type EnvironmentProvider interface {
	Snapshot(ctx context.Context) (gates.EnvironmentSnapshot, error)
}

// Bundle groups every provider the detector consumes.
type Bundle struct {
	Levels      LevelProvider
	Gex         GexProvider
	Regime      RegimeProvider
	Flow        FlowProvider
	Indicators  IndicatorProvider
	Bars        BarProvider
	Profile     ProfileProvider
	Environment EnvironmentProvider
}

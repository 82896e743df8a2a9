// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine holds every collector the pipeline reports into.
type Engine struct {
	DetectionDuration prometheus.Histogram
	DetectionRuns     prometheus.Counter
	SetupsByStatus    *prometheus.GaugeVec
	GateBlocks        *prometheus.CounterVec
	ShadowBlocks      prometheus.Counter
	StageFallbacks    *prometheus.CounterVec
	CalibrationSource *prometheus.CounterVec
	SweepInvalidations *prometheus.CounterVec
}

// New registers the engine collectors on the given registerer.
func New(reg prometheus.Registerer) *Engine {
	factory := promauto.With(reg)
	return &Engine{
		DetectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "spxrun_detection_duration_seconds",
			Help:    "Wall time of one full detection pass.",
			Buckets: prometheus.DefBuckets,
		}),
		DetectionRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "spxrun_detection_runs_total",
			Help: "Detection passes executed.",
		}),
		SetupsByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spxrun_setups",
			Help: "Setups in the live collection by lifecycle status.",
		}, []string{"status"}),
		GateBlocks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spxrun_gate_blocks_total",
			Help: "Gate blocks by reason kind.",
		}, []string{"kind"}),
		ShadowBlocks: factory.NewCounter(prometheus.CounterOpts{
			Name: "spxrun_shadow_blocks_total",
			Help: "Shadow-blocked setups persisted for offline learning.",
		}),
		StageFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spxrun_stage_fallbacks_total",
			Help: "Signal-provider stages degraded to last known good.",
		}, []string{"stage"}),
		CalibrationSource: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spxrun_calibration_source_total",
			Help: "Calibration lookups by hierarchy source.",
		}, []string{"source"}),
		SweepInvalidations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spxrun_sweep_invalidations_total",
			Help: "Lifecycle sweep terminations by reason.",
		}, []string{"reason"}),
	}
}

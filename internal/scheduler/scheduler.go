// Package scheduler drives the engine's background loops: the detection
// cadence and the lifecycle enforcement sweep.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/spxrun/internal/config"
	"github.com/sawpanic/spxrun/internal/detect"
	"github.com/sawpanic/spxrun/internal/lifecycle"
)

// Scheduler owns the background loops.
type Scheduler struct {
	cfg      config.DetectionConfig
	detector *detect.Detector
	enforcer *lifecycle.Enforcer
	log      zerolog.Logger
}

// New builds a scheduler.
func New(cfg config.DetectionConfig, detector *detect.Detector, enforcer *lifecycle.Enforcer, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		detector: detector,
		enforcer: enforcer,
		log:      log.With().Str("component", "scheduler").Logger(),
	}
}

// Run blocks until the context is cancelled. Detection runs immediately on
// start, then on its interval; the enforcer sweeps on its own cadence so TTL
// and market-close rules apply even when detection stalls.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.enforcer.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.detectLoop(ctx)
	}()

	wg.Wait()
}

func (s *Scheduler) detectLoop(ctx context.Context) {
	s.runDetection(ctx)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDetection(ctx)
		}
	}
}

func (s *Scheduler) runDetection(ctx context.Context) {
	if _, err := s.detector.DetectActiveSetups(ctx, detect.Options{ForceRefresh: true}); err != nil {
		s.log.Error().Err(err).Msg("scheduled detection pass failed")
	}
}

package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/spxrun/internal/detect"
	"github.com/sawpanic/spxrun/internal/domain"
	"github.com/sawpanic/spxrun/internal/gates"
	httpapi "github.com/sawpanic/spxrun/internal/http"
	"github.com/sawpanic/spxrun/internal/scheduler"
)

// defaultProfileProvider serves the shipping defaults when no profile store
// is available.
type defaultProfileProvider struct{}

func (defaultProfileProvider) Active(context.Context) (gates.Profile, error) {
	return gates.DefaultProfile(), nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	eng, err := buildEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.close()

	ctx, stop := signal.NotifyContext(requireContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(eng.cfg.Detection, eng.detector, eng.enforcer, log.Logger)
	go sched.Run(ctx)

	server := httpapi.NewServer(eng.cfg.HTTP, eng.detector, eng.calib, eng.redis, eng.registry, log.Logger)
	return server.ListenAndServe(ctx)
}

func runDetect(cmd *cobra.Command, _ []string) error {
	eng, err := buildEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.close()

	opts := detect.Options{ForceRefresh: true}
	if asOf, _ := cmd.Flags().GetString("as-of"); asOf != "" {
		t, err := time.Parse(time.RFC3339, asOf)
		if err != nil {
			return err
		}
		opts.AsOf = t
	}

	setups, err := eng.detector.DetectActiveSetups(requireContext(cmd), opts)
	if err != nil {
		return err
	}
	return printJSON(setups)
}

func runStream(cmd *cobra.Command, _ []string) error {
	eng, err := buildEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.close()

	snapshot, err := eng.detector.TradeStreamSnapshot(requireContext(cmd))
	if err != nil {
		return err
	}
	return printJSON(snapshot)
}

func runCalibrate(cmd *cobra.Command, _ []string) error {
	eng, err := buildEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.close()

	if eng.calib == nil {
		return errNoDatabase
	}

	ctx := requireContext(cmd)
	asOf := domain.SessionDate(time.Now())
	model, err := eng.calib.ModelFor(ctx, asOf)
	if err != nil {
		return err
	}
	log.Info().Str("as_of", asOf).Int("resolved_rows", model.RowCount).Msg("calibration model built")
	return printJSON(eng.calib.Statuses())
}

package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName = "spxrun"
	version = "v1.3.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "SPX 0DTE setup detection engine",
		Version: version,
		Long: `spxrun detects intraday SPX trade setups from clustered price levels,
gamma exposure, options flow, and regime classification, scores them with a
calibrated expected-value model, and serves them over HTTP and websocket.`,
	}

	rootCmd.PersistentFlags().String("config", "", "Path to the engine config yaml")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine: background detection plus the HTTP/websocket API",
		RunE:  runServe,
	}

	detectCmd := &cobra.Command{
		Use:   "detect",
		Short: "Run one detection pass and print the ranked setups",
		RunE:  runDetect,
	}
	detectCmd.Flags().String("as-of", "", "Historical timestamp (RFC3339) to detect against")

	streamCmd := &cobra.Command{
		Use:   "stream",
		Short: "Run one detection pass and print the trade-stream snapshot",
		RunE:  runStream,
	}

	calibrateCmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Build today's calibration model and print its bucket summary",
		RunE:  runCalibrate,
	}

	rootCmd.AddCommand(serveCmd, detectCmd, streamCmd, calibrateCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

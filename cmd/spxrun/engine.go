package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/spxrun/internal/calibration"
	"github.com/sawpanic/spxrun/internal/config"
	"github.com/sawpanic/spxrun/internal/detect"
	"github.com/sawpanic/spxrun/internal/lifecycle"
	"github.com/sawpanic/spxrun/internal/metrics"
	"github.com/sawpanic/spxrun/internal/persistence"
	"github.com/sawpanic/spxrun/internal/providers"
)

// engine bundles the wired components one command needs.
type engine struct {
	cfg        config.EngineConfig
	detector   *detect.Detector
	collection *lifecycle.Collection
	enforcer   *lifecycle.Enforcer
	calib      *calibration.Provider
	registry   *prometheus.Registry
	redis      *redis.Client
	db         *sqlx.DB
	outcomes   *persistence.OutcomeStore
}

func (e *engine) close() {
	if e.db != nil {
		e.db.Close()
	}
	if e.redis != nil {
		e.redis.Close()
	}
}

// buildEngine wires the full pipeline. Postgres is optional: without it the
// engine runs heuristic-only and skips outcome/shadow persistence.
func buildEngine(cmd *cobra.Command) (*engine, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	var (
		db       *sqlx.DB
		outcomes *persistence.OutcomeStore
		shadow   detect.ShadowRecorder
		profile  providers.ProfileProvider
		calib    *calibration.Provider
	)
	db, err = persistence.Open(cfg.Postgres.DSN)
	if err != nil {
		log.Warn().Err(err).Msg("postgres unavailable: calibration and outcome tracking disabled")
	} else {
		outcomes = persistence.NewOutcomeStore(db, log.Logger)
		shadow = persistence.NewShadowStore(db, log.Logger)
		profile = persistence.NewProfileStore(db, rdb, log.Logger)
		calib = calibration.NewProvider(outcomes, cfg.Calibration, log.Logger)
	}
	if profile == nil {
		profile = defaultProfileProvider{}
	}

	bundle := providers.RedisBundle(rdb, profile)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	collection := lifecycle.NewCollection()
	var instances detect.InstanceRecorder
	if outcomes != nil {
		instances = outcomes
	}
	detector := detect.New(cfg, bundle, calib, collection, instances, shadow, m, log.Logger)
	if outcomes != nil {
		detector.SetResolvedLoader(outcomes)
	}

	enforcer := lifecycle.NewEnforcer(collection, lifecycle.NewMachine(cfg.Lifecycle), cfg.Detection, log.Logger)
	enforcer.SetMetrics(m)

	return &engine{
		cfg:        cfg,
		detector:   detector,
		collection: collection,
		enforcer:   enforcer,
		calib:      calib,
		registry:   registry,
		redis:      rdb,
		db:         db,
		outcomes:   outcomes,
	}, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func requireContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

var errNoDatabase = fmt.Errorf("postgres is required for this command")

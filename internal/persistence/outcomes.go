// Package persistence holds the Postgres stores around the engine: resolved
// setup outcomes feeding the calibration model, the shadow-block log, and the
// active optimization profile. The engine only writes here synchronously; it
// never blocks scoring on a read-back.
package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/sawpanic/spxrun/internal/calibration"
	"github.com/sawpanic/spxrun/internal/domain"
)

// Open connects to Postgres.
func Open(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// OutcomeStore persists per-cycle setup instances and serves resolved rows to
// the calibration model.
type OutcomeStore struct {
	db  *sqlx.DB
	log zerolog.Logger
}

// NewOutcomeStore builds the store.
func NewOutcomeStore(db *sqlx.DB, log zerolog.Logger) *OutcomeStore {
	return &OutcomeStore{db: db, log: log.With().Str("component", "outcome_store").Logger()}
}

// LoadResolvedOutcomes returns rows with both a trigger time and a final
// outcome inside the lookback window. Implements calibration.RowLoader.
func (s *OutcomeStore) LoadResolvedOutcomes(ctx context.Context, asOfDate string, lookbackDays int) ([]calibration.OutcomeRow, error) {
	const q = `
		SELECT engine_setup_id, session_date, setup_type, regime,
		       first_seen_minute_et, triggered_at, final_outcome
		FROM setup_outcomes
		WHERE session_date <= $1
		  AND session_date > ($1::date - $2::int)::text
		  AND triggered_at IS NOT NULL
		  AND final_outcome IS NOT NULL`
	var rows []calibration.OutcomeRow
	if err := s.db.SelectContext(ctx, &rows, q, asOfDate, lookbackDays); err != nil {
		return nil, fmt.Errorf("select resolved outcomes: %w", err)
	}
	return rows, nil
}

// RecordInstances upserts the current cycle's setups so the outcome tracker
// can resolve them later. Keyed by engine setup id; repeated upserts over the
// session keep the latest lifecycle state.
func (s *OutcomeStore) RecordInstances(ctx context.Context, sessionDate string, setups []domain.Setup) error {
	const q = `
		INSERT INTO setup_outcomes (
			id, engine_setup_id, session_date, setup_type, direction, regime, tier,
			first_seen_minute_et, confluence_score, p_win_calibrated, ev_r,
			entry_zone_low, entry_zone_high, stop_price, target_1_price, target_2_price,
			status, gate_status, triggered_at, created_at, updated_at
		) VALUES (
			:id, :engine_setup_id, :session_date, :setup_type, :direction, :regime, :tier,
			:first_seen_minute_et, :confluence_score, :p_win_calibrated, :ev_r,
			:entry_zone_low, :entry_zone_high, :stop_price, :target_1_price, :target_2_price,
			:status, :gate_status, :triggered_at, :created_at, now()
		)
		ON CONFLICT (engine_setup_id) DO UPDATE SET
			status = EXCLUDED.status,
			gate_status = EXCLUDED.gate_status,
			tier = EXCLUDED.tier,
			confluence_score = EXCLUDED.confluence_score,
			p_win_calibrated = EXCLUDED.p_win_calibrated,
			ev_r = EXCLUDED.ev_r,
			triggered_at = COALESCE(setup_outcomes.triggered_at, EXCLUDED.triggered_at),
			updated_at = now()`

	for _, setup := range setups {
		row := map[string]interface{}{
			"id":                   uuid.NewString(),
			"engine_setup_id":      setup.ID,
			"session_date":         sessionDate,
			"setup_type":           string(setup.Type),
			"direction":            string(setup.Direction),
			"regime":               string(setup.Regime),
			"tier":                 string(setup.Tier),
			"first_seen_minute_et": domain.SessionMinute(setup.CreatedAt),
			"confluence_score":     setup.ConfluenceScore,
			"p_win_calibrated":     setup.PWinCalibrated,
			"ev_r":                 setup.EvR,
			"entry_zone_low":       setup.EntryZone.Low,
			"entry_zone_high":      setup.EntryZone.High,
			"stop_price":           setup.Stop,
			"target_1_price":       setup.Target1.Price,
			"target_2_price":       setup.Target2.Price,
			"status":               string(setup.Status),
			"gate_status":          string(setup.GateStatus),
			"triggered_at":         setup.TriggeredAt,
			"created_at":           setup.CreatedAt,
		}
		if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
			return fmt.Errorf("upsert setup instance %s: %w", setup.ID, err)
		}
	}
	return nil
}

// LoadResolvedRecords returns today's resolved records for the trade stream.
func (s *OutcomeStore) LoadResolvedRecords(ctx context.Context, sessionDate string) ([]domain.ResolvedRecord, error) {
	const q = `
		SELECT engine_setup_id, setup_type, direction, final_outcome,
		       p_win_calibrated, confluence_score, ev_r, triggered_at, resolved_at
		FROM setup_outcomes
		WHERE session_date = $1 AND final_outcome IS NOT NULL AND resolved_at IS NOT NULL
		ORDER BY resolved_at DESC`
	type row struct {
		SetupID         string              `db:"engine_setup_id"`
		SetupType       domain.SetupType    `db:"setup_type"`
		Direction       domain.Direction    `db:"direction"`
		FinalOutcome    domain.FinalOutcome `db:"final_outcome"`
		PWinCalibrated  float64             `db:"p_win_calibrated"`
		ConfluenceScore int                 `db:"confluence_score"`
		EvR             float64             `db:"ev_r"`
		TriggeredAt     *time.Time          `db:"triggered_at"`
		ResolvedAt      time.Time           `db:"resolved_at"`
	}
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, q, sessionDate); err != nil {
		return nil, fmt.Errorf("select resolved records: %w", err)
	}
	out := make([]domain.ResolvedRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.ResolvedRecord{
			ID:              r.SetupID,
			StableIDHash:    r.SetupID,
			Type:            r.SetupType,
			Direction:       r.Direction,
			Outcome:         r.FinalOutcome,
			Probability:     r.PWinCalibrated * 100,
			ConfluenceScore: r.ConfluenceScore,
			EvR:             r.EvR,
			TriggeredAt:     r.TriggeredAt,
			ResolvedAt:      r.ResolvedAt,
		})
	}
	return out, nil
}

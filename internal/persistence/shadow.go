package persistence

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/sawpanic/spxrun/internal/domain"
)

// ShadowStore persists shadow-blocked setups for offline threshold tuning.
// Write-only: the engine never reads these rows back synchronously.
type ShadowStore struct {
	db  *sqlx.DB
	log zerolog.Logger
}

// NewShadowStore builds the store.
func NewShadowStore(db *sqlx.DB, log zerolog.Logger) *ShadowStore {
	return &ShadowStore{db: db, log: log.With().Str("component", "shadow_store").Logger()}
}

// Record writes one shadow-blocked setup. Failures are logged, not returned:
// a learning side channel must never degrade the detection pass.
func (s *ShadowStore) Record(ctx context.Context, sessionDate string, setup domain.Setup) {
	const q = `
		INSERT INTO setup_shadow_blocks (
			id, engine_setup_id, session_date, setup_type, regime,
			confluence_score, p_win_calibrated, ev_r, gate_reasons, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (engine_setup_id, session_date) DO NOTHING`

	reasons := strings.Join(domain.RenderReasons(setup.GateReasons), ",")
	_, err := s.db.ExecContext(ctx, q,
		uuid.NewString(), setup.ID, sessionDate, string(setup.Type), string(setup.Regime),
		setup.ConfluenceScore, setup.PWinCalibrated, setup.EvR, reasons,
	)
	if err != nil {
		s.log.Warn().Err(err).Str("setup_id", setup.ID).Msg("shadow block persistence failed")
	}
}

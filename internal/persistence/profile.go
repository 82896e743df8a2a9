package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sawpanic/spxrun/internal/gates"
)

const (
	profileCacheKey = "spxrun:optimizer_profile"
	profileCacheTTL = 30 * time.Second
	profileRowID    = "active"
)

// ProfileStore loads the active optimization profile written by the external
// tuning process. Reads go through a short redis cache; a missing or
// malformed row degrades to the shipping defaults.
type ProfileStore struct {
	db    *sqlx.DB
	cache *redis.Client
	log   zerolog.Logger
}

// NewProfileStore builds the store. cache may be nil.
func NewProfileStore(db *sqlx.DB, cache *redis.Client, log zerolog.Logger) *ProfileStore {
	return &ProfileStore{db: db, cache: cache, log: log.With().Str("component", "profile_store").Logger()}
}

// Active returns the normalized active profile. Implements
// providers.ProfileProvider.
func (s *ProfileStore) Active(ctx context.Context) (gates.Profile, error) {
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, profileCacheKey).Bytes(); err == nil {
			var profile gates.Profile
			if err := json.Unmarshal(raw, &profile); err == nil {
				return profile.Normalize(), nil
			}
		}
	}

	profile, err := s.loadFromDB(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return gates.DefaultProfile(), nil
		}
		return gates.Profile{}, err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(profile); err == nil {
			if err := s.cache.Set(ctx, profileCacheKey, raw, profileCacheTTL).Err(); err != nil {
				s.log.Warn().Err(err).Msg("profile cache write failed")
			}
		}
	}
	return profile, nil
}

func (s *ProfileStore) loadFromDB(ctx context.Context) (gates.Profile, error) {
	var raw []byte
	const q = `SELECT profile FROM setup_optimizer_state WHERE id = $1`
	if err := s.db.GetContext(ctx, &raw, q, profileRowID); err != nil {
		return gates.Profile{}, fmt.Errorf("load optimizer profile: %w", err)
	}
	var profile gates.Profile
	if err := json.Unmarshal(raw, &profile); err != nil {
		s.log.Warn().Err(err).Msg("persisted profile malformed, using defaults")
		return gates.DefaultProfile(), nil
	}
	return profile.Normalize(), nil
}

// Save persists a profile as the active row and drops the cache, used by the
// tuning process and by replay tooling.
func (s *ProfileStore) Save(ctx context.Context, profile gates.Profile) error {
	raw, err := json.Marshal(profile.Normalize())
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	const q = `
		INSERT INTO setup_optimizer_state (id, profile, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET profile = EXCLUDED.profile, updated_at = now()`
	if _, err := s.db.ExecContext(ctx, q, profileRowID, raw); err != nil {
		return fmt.Errorf("save optimizer profile: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Del(ctx, profileCacheKey).Err(); err != nil {
			s.log.Warn().Err(err).Msg("profile cache invalidation failed")
		}
	}
	return nil
}

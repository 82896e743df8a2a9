// Package config defines the single versioned engine configuration. Every
// toggle the pipeline honors lives here and is passed in explicitly; nothing
// reads process environment at decision time.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/spxrun/internal/domain"
)

// EngineConfig is the root configuration, versioned so persisted copies can be
// migrated deliberately.
type EngineConfig struct {
	Version int `yaml:"version"`

	Detection       DetectionConfig       `yaml:"detection"`
	Lifecycle       LifecycleConfig       `yaml:"lifecycle"`
	Scoring         ScoringConfig         `yaml:"scoring"`
	Confluence      ConfluenceConfig      `yaml:"confluence"`
	Calibration     CalibrationConfig     `yaml:"calibration"`
	Diversification DiversificationConfig `yaml:"diversification"`
	MacroFilter     MacroFilterConfig     `yaml:"macro_filter"`
	Flow            FlowConfig            `yaml:"flow"`
	HTTP            HTTPConfig            `yaml:"http"`
	Redis           RedisConfig           `yaml:"redis"`
	Postgres        PostgresConfig        `yaml:"postgres"`
}

// DetectionConfig controls the detection cadence and stage isolation.
type DetectionConfig struct {
	Interval        time.Duration `yaml:"interval"`
	StageTimeout    time.Duration `yaml:"stage_timeout"`
	StalenessBound  time.Duration `yaml:"staleness_bound"`
	SnapshotCacheTTL time.Duration `yaml:"snapshot_cache_ttl"`
	EnforceInterval time.Duration `yaml:"enforce_interval"`
}

// LifecycleConfig controls status transitions and TTLs.
type LifecycleConfig struct {
	Enabled                          bool          `yaml:"enabled"`
	TTLForming                       time.Duration `yaml:"ttl_forming"`
	TTLReady                         time.Duration `yaml:"ttl_ready"`
	TTLTriggered                     time.Duration `yaml:"ttl_triggered"`
	StopConfirmationTicks            int           `yaml:"stop_confirmation_ticks"`
	ContextDemotionStreak            int           `yaml:"context_demotion_streak"`
	ContextInvalidationStreak        int           `yaml:"context_invalidation_streak"`
	RegimeConflictConfidenceThreshold float64      `yaml:"regime_conflict_confidence_threshold"`
	FlowDivergenceAlignmentThreshold float64       `yaml:"flow_divergence_alignment_threshold"`
	TelemetryEnabled                 bool          `yaml:"telemetry_enabled"`
}

// TTLFor returns the TTL for a status; terminal statuses have none.
func (c LifecycleConfig) TTLFor(status domain.SetupStatus) (time.Duration, bool) {
	switch status {
	case domain.StatusForming:
		return c.TTLForming, true
	case domain.StatusReady:
		return c.TTLReady, true
	case domain.StatusTriggered:
		return c.TTLTriggered, true
	default:
		return 0, false
	}
}

// ScoringConfig controls EV scoring and tiering.
type ScoringConfig struct {
	EvTieringEnabled        bool    `yaml:"ev_tiering_enabled"`
	SniperPrimaryMinScore   float64 `yaml:"sniper_primary_min_score"`
	SniperPrimaryMinPWin    float64 `yaml:"sniper_primary_min_pwin"`
	SniperPrimaryMinEvR     float64 `yaml:"sniper_primary_min_ev_r"`
	SniperSecondaryMinScore float64 `yaml:"sniper_secondary_min_score"`
	SniperSecondaryMinEvR   float64 `yaml:"sniper_secondary_min_ev_r"`
	WatchlistMinScore       float64 `yaml:"watchlist_min_score"`
}

// ConfluenceConfig carries the scorer's versioned data tables: the baseline
// win-rate table, per-type offsets, weighted-mode channel weights, and decay
// half-lives. These are injectable data, not compiled-in literals.
type ConfluenceConfig struct {
	WeightedMode bool `yaml:"weighted_mode"`

	// BaselineWinPctByScore maps integer confluence score -> percent.
	BaselineWinPctByScore map[int]float64 `yaml:"baseline_win_pct_by_score"`
	// TypeOffsetPct shifts the baseline per archetype, in percent points.
	TypeOffsetPct map[domain.SetupType]float64 `yaml:"type_offset_pct"`

	Weights      ChannelWeights `yaml:"weights"`
	MissingScore float64        `yaml:"missing_score"` // slot value for absent components
	NeutralScore float64        `yaml:"neutral_score"`
	DecayHalfLife time.Duration `yaml:"decay_half_life"`

	ZoneScoreFloor float64 `yaml:"zone_score_floor"`
}

// ChannelWeights is the weighted-mode split. Values are fractions summing ~1.
type ChannelWeights struct {
	Flow    float64 `yaml:"flow"`
	EMA     float64 `yaml:"ema"`
	Zone    float64 `yaml:"zone"`
	Gex     float64 `yaml:"gex"`
	Regime  float64 `yaml:"regime"`
	MultiTF float64 `yaml:"multi_tf"`
	Memory  float64 `yaml:"memory"`
}

// CalibrationConfig controls the empirical win-rate model.
type CalibrationConfig struct {
	PriorPseudoCount   float64       `yaml:"prior_pseudo_count"`
	BlendWeightMin     float64       `yaml:"blend_weight_min"`
	BlendWeightMax     float64       `yaml:"blend_weight_max"`
	FullConfidenceTrades int         `yaml:"full_confidence_trades"`
	PWinFloor          float64       `yaml:"pwin_floor"`
	PWinCeiling        float64       `yaml:"pwin_ceiling"`
	ModelTTL           time.Duration `yaml:"model_ttl"`
	LookbackDays       int           `yaml:"lookback_days"`
}

// DiversificationConfig controls the setup mix policy.
type DiversificationConfig struct {
	Enabled                     bool    `yaml:"enabled"`
	AllowRecoveryCombos         bool    `yaml:"allow_recovery_combos"`
	FadeReadyMaxShare           float64 `yaml:"fade_ready_max_share"`
	MinAlternativeReadySetups   int     `yaml:"min_alternative_ready_setups"`
	MinTrendReadySetups         int     `yaml:"min_trend_ready_setups"`
	TrendPromotionMinScore      float64 `yaml:"trend_promotion_min_score"`
	TrendPromotionMinPWin       float64 `yaml:"trend_promotion_min_pwin"`
	TrendPromotionMinEvR        float64 `yaml:"trend_promotion_min_ev_r"`
}

// MacroFilterConfig gates on macro alignment and the environment checks.
type MacroFilterConfig struct {
	Enabled              bool    `yaml:"enabled"`
	MinAlignmentScore    float64 `yaml:"min_alignment_score"`
	MaxVix               float64 `yaml:"max_vix"`
	ExpectedMoveMaxUsed  float64 `yaml:"expected_move_max_used"` // fraction 0..1
	BlackoutBlocks       bool    `yaml:"blackout_blocks"`
	EventRiskBlocks      bool    `yaml:"event_risk_blocks"`
}

// FlowConfig sets the activity floors for flow-window confirmation.
type FlowConfig struct {
	MinEvents     int     `yaml:"min_events"`
	MinPremiumUSD float64 `yaml:"min_premium_usd"`
}

// HTTPConfig configures the serving surface.
type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// RedisConfig configures the snapshot cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PostgresConfig configures the outcome/shadow/profile stores.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// DefaultEngineConfig returns the engine defaults. Callers override fields via
// yaml; absent fields keep these values.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Version: 1,
		Detection: DetectionConfig{
			Interval:         15 * time.Second,
			StageTimeout:     4 * time.Second,
			StalenessBound:   20 * time.Second,
			SnapshotCacheTTL: 20 * time.Second,
			EnforceInterval:  30 * time.Second,
		},
		Lifecycle: LifecycleConfig{
			Enabled:                           true,
			TTLForming:                        30 * time.Minute,
			TTLReady:                          90 * time.Minute,
			TTLTriggered:                      90 * time.Minute,
			StopConfirmationTicks:             2,
			ContextDemotionStreak:             3,
			ContextInvalidationStreak:         5,
			RegimeConflictConfidenceThreshold: 0.6,
			FlowDivergenceAlignmentThreshold:  38,
			TelemetryEnabled:                  true,
		},
		Scoring: ScoringConfig{
			EvTieringEnabled:        true,
			SniperPrimaryMinScore:   72,
			SniperPrimaryMinPWin:    0.62,
			SniperPrimaryMinEvR:     0.35,
			SniperSecondaryMinScore: 62,
			SniperSecondaryMinEvR:   0.2,
			WatchlistMinScore:       48,
		},
		Confluence: ConfluenceConfig{
			WeightedMode: false,
			BaselineWinPctByScore: map[int]float64{
				1: 40, 2: 50, 3: 55, 4: 57, 5: 60,
			},
			TypeOffsetPct: map[domain.SetupType]float64{
				domain.SetupFadeAtWall:       3,
				domain.SetupMeanReversion:    2,
				domain.SetupFlipReclaim:      1,
				domain.SetupPinMagnet:        1,
				domain.SetupTrendContinuation: 0,
				domain.SetupOrbBreakout:      0,
				domain.SetupGammaSqueeze:     -1,
				domain.SetupTrendPullback:    -1,
				domain.SetupBreakoutVacuum:   -2,
			},
			Weights: ChannelWeights{
				Flow:    0.10,
				EMA:     0.20,
				Zone:    0.20,
				Gex:     0.15,
				Regime:  0.20,
				MultiTF: 0.10,
				Memory:  0.05,
			},
			MissingScore:  35,
			NeutralScore:  50,
			DecayHalfLife: 15 * time.Minute,
			ZoneScoreFloor: 3,
		},
		Calibration: CalibrationConfig{
			PriorPseudoCount:     12,
			BlendWeightMin:       0.15,
			BlendWeightMax:       0.72,
			FullConfidenceTrades: 40,
			PWinFloor:            0.05,
			PWinCeiling:          0.95,
			ModelTTL:             5 * time.Minute,
			LookbackDays:         45,
		},
		Diversification: DiversificationConfig{
			Enabled:                   true,
			AllowRecoveryCombos:       false,
			FadeReadyMaxShare:         0.6,
			MinAlternativeReadySetups: 1,
			MinTrendReadySetups:       1,
			TrendPromotionMinScore:    60,
			TrendPromotionMinPWin:     0.55,
			TrendPromotionMinEvR:      0.15,
		},
		MacroFilter: MacroFilterConfig{
			Enabled:             true,
			MinAlignmentScore:   40,
			MaxVix:              34,
			ExpectedMoveMaxUsed: 0.85,
			BlackoutBlocks:      true,
			EventRiskBlocks:     false,
		},
		Flow: FlowConfig{
			MinEvents:     3,
			MinPremiumUSD: 250_000,
		},
		HTTP: HTTPConfig{
			Addr:         ":8093",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Postgres: PostgresConfig{
			DSN: "postgres://localhost/spxrun?sslmode=disable",
		},
	}
}

// Load reads a yaml file over the defaults. A missing path returns defaults.
func Load(path string) (EngineConfig, error) {
	cfg := DefaultEngineConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations that would break pipeline invariants.
func (c EngineConfig) Validate() error {
	if c.Calibration.PWinFloor >= c.Calibration.PWinCeiling {
		return fmt.Errorf("config: pwin floor %.2f must be below ceiling %.2f",
			c.Calibration.PWinFloor, c.Calibration.PWinCeiling)
	}
	if c.Calibration.BlendWeightMin > c.Calibration.BlendWeightMax {
		return fmt.Errorf("config: blend weight min %.2f exceeds max %.2f",
			c.Calibration.BlendWeightMin, c.Calibration.BlendWeightMax)
	}
	if c.Confluence.MissingScore >= c.Confluence.NeutralScore {
		return fmt.Errorf("config: missing score %.1f must stay below neutral %.1f",
			c.Confluence.MissingScore, c.Confluence.NeutralScore)
	}
	for score := 1; score <= 5; score++ {
		if _, ok := c.Confluence.BaselineWinPctByScore[score]; !ok {
			return fmt.Errorf("config: baseline win table missing score %d", score)
		}
	}
	if c.Detection.StalenessBound <= 0 {
		return fmt.Errorf("config: staleness bound must be positive")
	}
	return nil
}

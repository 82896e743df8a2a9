package domain

import "time"

// SetupType is one of the nine setup archetypes the detector emits.
type SetupType string

const (
	SetupFadeAtWall       SetupType = "fade_at_wall"
	SetupBreakoutVacuum   SetupType = "breakout_vacuum"
	SetupMeanReversion    SetupType = "mean_reversion"
	SetupTrendContinuation SetupType = "trend_continuation"
	SetupOrbBreakout      SetupType = "orb_breakout"
	SetupTrendPullback    SetupType = "trend_pullback"
	SetupFlipReclaim      SetupType = "flip_reclaim"
	SetupGammaSqueeze     SetupType = "gamma_squeeze"
	SetupPinMagnet        SetupType = "pin_magnet"
)

// AllSetupTypes lists every archetype in a stable order.
var AllSetupTypes = []SetupType{
	SetupFadeAtWall,
	SetupBreakoutVacuum,
	SetupMeanReversion,
	SetupTrendContinuation,
	SetupOrbBreakout,
	SetupTrendPullback,
	SetupFlipReclaim,
	SetupGammaSqueeze,
	SetupPinMagnet,
}

// Direction of the trade idea.
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
)

// SetupStatus is the lifecycle state of a live setup.
type SetupStatus string

const (
	StatusForming     SetupStatus = "forming"
	StatusReady       SetupStatus = "ready"
	StatusTriggered   SetupStatus = "triggered"
	StatusInvalidated SetupStatus = "invalidated"
	StatusExpired     SetupStatus = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s SetupStatus) Terminal() bool {
	return s == StatusInvalidated || s == StatusExpired
}

// StatusSortOrder ranks statuses for presentation (lower sorts first).
var StatusSortOrder = map[SetupStatus]int{
	StatusTriggered:   0,
	StatusReady:       1,
	StatusForming:     2,
	StatusInvalidated: 3,
	StatusExpired:     4,
}

// SetupTier buckets setups by actionability.
type SetupTier string

const (
	TierSniperPrimary   SetupTier = "sniper_primary"
	TierSniperSecondary SetupTier = "sniper_secondary"
	TierWatchlist       SetupTier = "watchlist"
	TierHidden          SetupTier = "hidden"
)

// TierSortOrder ranks tiers for presentation (lower sorts first).
var TierSortOrder = map[SetupTier]int{
	TierSniperPrimary:   0,
	TierSniperSecondary: 1,
	TierWatchlist:       2,
	TierHidden:          3,
}

// GateStatus is the optimization-gate verdict for a setup.
type GateStatus string

const (
	GateEligible      GateStatus = "eligible"
	GateBlocked       GateStatus = "blocked"
	GateShadowBlocked GateStatus = "shadow_blocked"
)

// Regime is the market regime label supplied by the regime classifier.
type Regime string

const (
	RegimeTrending Regime = "trending"
	RegimeRanging  Regime = "ranging"
	RegimeBreakout Regime = "breakout"
	RegimeSqueeze  Regime = "squeeze"
	RegimeUnknown  Regime = "unknown"
)

// ZoneType categorizes how well-defended a cluster zone is.
type ZoneType string

const (
	ZoneFortress ZoneType = "fortress"
	ZoneDefended ZoneType = "defended"
	ZoneModerate ZoneType = "moderate"
	ZoneMinor    ZoneType = "minor"
)

// InvalidationReason labels why a setup went terminal via invalidation.
type InvalidationReason string

const (
	InvalidStopBreach     InvalidationReason = "stop_breach_confirmed"
	InvalidRegimeConflict InvalidationReason = "regime_conflict"
	InvalidFlowDivergence InvalidationReason = "flow_divergence"
	InvalidTTLExpired     InvalidationReason = "ttl_expired"
	InvalidMarketClosed   InvalidationReason = "market_closed"
)

// FinalOutcome is the resolved result of a triggered setup.
type FinalOutcome string

const (
	OutcomeTarget1 FinalOutcome = "t1_win"
	OutcomeTarget2 FinalOutcome = "t2_win"
	OutcomeStopOut FinalOutcome = "stop_out"
	OutcomeExpired FinalOutcome = "expired_unresolved"
)

// ClusterZone is a clustered price band rebuilt upstream each cycle.
type ClusterZone struct {
	ID           string    `json:"id"`
	PriceLow     float64   `json:"priceLow"`
	PriceHigh    float64   `json:"priceHigh"`
	ClusterScore float64   `json:"clusterScore"` // 0..5
	Type         ZoneType  `json:"type"`
	TestCount    int       `json:"testCount"`
	HoldRate     float64   `json:"holdRate"` // 0..1
	LastTestAt   time.Time `json:"lastTestAt"`
	Sources      []string  `json:"sources"`
}

// Center returns the zone midpoint.
func (z ClusterZone) Center() float64 { return (z.PriceLow + z.PriceHigh) / 2 }

// Width returns the zone band width.
func (z ClusterZone) Width() float64 { return z.PriceHigh - z.PriceLow }

// EntryZone is the tradable entry band of a setup.
type EntryZone struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Mid returns the entry midpoint.
func (e EntryZone) Mid() float64 { return (e.Low + e.High) / 2 }

// Contains reports whether price sits inside the band.
func (e EntryZone) Contains(price float64) bool { return price >= e.Low && price <= e.High }

// PriceTarget is a labeled profit target.
type PriceTarget struct {
	Price float64 `json:"price"`
	Label string  `json:"label"`
}

// ConfluenceBreakdown carries the continuous weighted composite alongside the
// discrete score when weighted scoring is enabled.
type ConfluenceBreakdown struct {
	Composite  float64            `json:"composite"` // 0..100
	Components map[string]float64 `json:"components"`
	Missing    []string           `json:"missing,omitempty"`
}

// Setup is the central entity of the detection pipeline.
type Setup struct {
	ID           string    `json:"id"`
	StableIDHash string    `json:"stableIdHash"`
	Type         SetupType `json:"type"`
	Direction    Direction `json:"direction"`

	EntryZone EntryZone   `json:"entryZone"`
	Stop      float64     `json:"stop"`
	Target1   PriceTarget `json:"target1"`
	Target2   PriceTarget `json:"target2"`

	ConfluenceScore     int                  `json:"confluenceScore"` // 1..5
	ConfluenceSources   []string             `json:"confluenceSources"`
	ConfluenceBreakdown *ConfluenceBreakdown `json:"confluenceBreakdown,omitempty"`

	ClusterZone ClusterZone `json:"clusterZone"`
	Regime      Regime      `json:"regime"`
	Status      SetupStatus `json:"status"`

	Score          float64 `json:"score"` // 0..100 final EV score
	PWinCalibrated float64 `json:"pWinCalibrated"`
	Probability    float64 `json:"probability"` // pWinCalibrated * 100
	EvR            float64 `json:"evR"`

	GateStatus  GateStatus   `json:"gateStatus"`
	GateReasons []GateReason `json:"gateReasons,omitempty"`

	Tier SetupTier `json:"tier"`
	Rank int       `json:"rank"`

	DecisionDrivers []string `json:"decisionDrivers,omitempty"`
	DecisionRisks   []string `json:"decisionRisks,omitempty"`

	TradeManagement TradeManagementPlan `json:"tradeManagement"`

	CreatedAt          time.Time          `json:"createdAt"`
	TriggeredAt        *time.Time         `json:"triggeredAt,omitempty"`
	StatusUpdatedAt    time.Time          `json:"statusUpdatedAt"`
	TTLExpiresAt       *time.Time         `json:"ttlExpiresAt,omitempty"`
	InvalidationReason InvalidationReason `json:"invalidationReason,omitempty"`
}

// RiskPoints is the distance from entry midpoint to the stop, floored so
// degenerate geometry cannot divide by zero downstream.
func (s Setup) RiskPoints() float64 {
	risk := s.EntryZone.Mid() - s.Stop
	if risk < 0 {
		risk = -risk
	}
	if risk < 0.25 {
		risk = 0.25
	}
	return risk
}

// TradeManagementPlan is the per-setup execution policy.
type TradeManagementPlan struct {
	PartialAtT1Pct      float64 `json:"partialAtT1Pct"`
	MoveStopToBreakeven bool    `json:"moveStopToBreakeven"`
}

// RegimeState is the typed output of the regime classifier.
type RegimeState struct {
	Regime      Regime    `json:"regime"`
	Direction   Direction `json:"direction"`
	Probability float64   `json:"probability"`
	Magnitude   float64   `json:"magnitude"`
	Confidence  float64   `json:"confidence"` // 0..1
	Timestamp   time.Time `json:"timestamp"`
}

// GexLandscape is the gamma-exposure view for the primary instrument plus the
// cross-instrument combined view.
type GexLandscape struct {
	SpotPrice float64            `json:"spotPrice"`
	NetGex    float64            `json:"netGex"`
	CallWall  float64            `json:"callWall"`
	PutWall   float64            `json:"putWall"`
	FlipPoint float64            `json:"flipPoint"`
	ByStrike  map[float64]float64 `json:"byStrike,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// FlowWindow aggregates options-flow events over one lookback window.
type FlowWindow struct {
	Window     time.Duration `json:"window"`
	EventCount int           `json:"eventCount"`
	PremiumUSD float64       `json:"premiumUsd"`
	FlowScore  float64       `json:"flowScore"` // signed, >0 bullish
}

// FlowSnapshot is the typed output of the options-flow aggregator.
type FlowSnapshot struct {
	Bias         Direction    `json:"bias"`
	AlignmentPct *float64     `json:"alignmentPct,omitempty"` // 0..100, nil when no events
	Confirmed    bool         `json:"confirmed"`
	Windows      []FlowWindow `json:"windows"`
	Timestamp    time.Time    `json:"timestamp"`
}

// Active reports whether any window clears the activity floors. A zero-event
// window never confirms.
func (f FlowSnapshot) Active(minEvents int, minPremiumUSD float64) bool {
	for _, w := range f.Windows {
		if w.EventCount >= minEvents && w.EventCount > 0 && w.PremiumUSD >= minPremiumUSD {
			return true
		}
	}
	return false
}

// IndicatorContext carries the intraday indicator state the scorers consume.
type IndicatorContext struct {
	EMAFast        float64   `json:"emaFast"`
	EMASlow        float64   `json:"emaSlow"`
	EMAFastSlope   float64   `json:"emaFastSlope"`
	VWAP           float64   `json:"vwap"`
	RelativeVolume float64   `json:"relativeVolume"`
	ORBHigh        float64   `json:"orbHigh"`
	ORBLow         float64   `json:"orbLow"`
	ATRPoints      float64   `json:"atrPoints"`
	VIX            float64   `json:"vix"`
	Timestamp      time.Time `json:"timestamp"`
}

// LifecycleState buckets trade-stream items for presentation.
type LifecycleState string

const (
	StreamForming   LifecycleState = "forming"
	StreamTriggered LifecycleState = "triggered"
	StreamPast      LifecycleState = "past"
)

// LifecycleRank orders stream lifecycles (forming < triggered < past).
var LifecycleRank = map[LifecycleState]int{
	StreamForming:   0,
	StreamTriggered: 1,
	StreamPast:      2,
}

// ResolvedRecord is a past/resolution row merged into the trade stream.
type ResolvedRecord struct {
	ID             string       `json:"id"`
	StableIDHash   string       `json:"stableIdHash"`
	Type           SetupType    `json:"type"`
	Direction      Direction    `json:"direction"`
	Outcome        FinalOutcome `json:"outcome"`
	Probability    float64      `json:"probability"`
	ConfluenceScore int         `json:"confluenceScore"`
	EvR            float64      `json:"evR"`
	TriggeredAt    *time.Time   `json:"triggeredAt,omitempty"`
	ResolvedAt     time.Time    `json:"resolvedAt"`
}

// TradeStreamItem is a read-projection used purely for ordering/presentation.
type TradeStreamItem struct {
	ID             string         `json:"id"`
	StableIDHash   string         `json:"stableIdHash"`
	Lifecycle      LifecycleState `json:"lifecycle"`
	MomentPriority float64        `json:"momentPriority"`
	SetupType      SetupType      `json:"setupType"`
	Direction      Direction      `json:"direction"`
	Status         SetupStatus    `json:"status"`
	Outcome        FinalOutcome   `json:"outcome,omitempty"`

	// Ordering hints. EtaSeconds orders forming items; TriggeredAt orders
	// triggered items; ResolvedAt orders past items. ReferenceAt is the most
	// recent of the item's timestamps and drives now-focus selection.
	EtaSeconds  float64    `json:"etaSeconds,omitempty"`
	TriggeredAt *time.Time `json:"triggeredAt,omitempty"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`
	ReferenceAt time.Time  `json:"referenceAt"`
}

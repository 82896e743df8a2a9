package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/sawpanic/spxrun/internal/domain"
	"github.com/sawpanic/spxrun/internal/gates"
)

// Upstream collectors publish their latest snapshot as JSON under these keys.
const (
	keyLevels      = "spxrun:signals:levels"
	keyGex         = "spxrun:signals:gex"
	keyRegime      = "spxrun:signals:regime"
	keyFlow        = "spxrun:signals:flow"
	keyIndicators  = "spxrun:signals:indicators"
	keyBars        = "spxrun:signals:bars"
	keyEnvironment = "spxrun:signals:environment"
)

// RedisBundle builds a provider bundle that reads the upstream signal
// snapshots from redis. profile must be supplied separately; it lives in
// postgres, not in the signal feed.
func RedisBundle(client *redis.Client, profile ProfileProvider) Bundle {
	return Bundle{
		Levels:      redisLevels{client},
		Gex:         redisGex{client},
		Regime:      redisRegime{client},
		Flow:        redisFlow{client},
		Indicators:  redisIndicators{client},
		Bars:        redisBars{client},
		Profile:     profile,
		Environment: redisEnvironment{client},
	}
}

func fetchJSON(ctx context.Context, client *redis.Client, key string, out interface{}) error {
	data, err := client.Get(ctx, key).Bytes()
	if err != nil {
		return fmt.Errorf("signal %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("signal %s: decode: %w", key, err)
	}
	return nil
}

type redisLevels struct{ client *redis.Client }

func (p redisLevels) Clusters(ctx context.Context) ([]domain.ClusterZone, error) {
	var zones []domain.ClusterZone
	if err := fetchJSON(ctx, p.client, keyLevels, &zones); err != nil {
		return nil, err
	}
	return zones, nil
}

type redisGex struct{ client *redis.Client }

func (p redisGex) Landscape(ctx context.Context) (domain.GexLandscape, error) {
	var gex domain.GexLandscape
	if err := fetchJSON(ctx, p.client, keyGex, &gex); err != nil {
		return domain.GexLandscape{}, err
	}
	if gex.SpotPrice <= 0 {
		return domain.GexLandscape{}, fmt.Errorf("signal %s: missing spot price", keyGex)
	}
	return gex, nil
}

type redisRegime struct{ client *redis.Client }

func (p redisRegime) Current(ctx context.Context) (domain.RegimeState, error) {
	var state domain.RegimeState
	if err := fetchJSON(ctx, p.client, keyRegime, &state); err != nil {
		return domain.RegimeState{}, err
	}
	if state.Regime == "" {
		state.Regime = domain.RegimeUnknown
	}
	return state, nil
}

type redisFlow struct{ client *redis.Client }

func (p redisFlow) Snapshot(ctx context.Context) (domain.FlowSnapshot, error) {
	var snap domain.FlowSnapshot
	if err := fetchJSON(ctx, p.client, keyFlow, &snap); err != nil {
		return domain.FlowSnapshot{}, err
	}
	return snap, nil
}

type redisIndicators struct{ client *redis.Client }

func (p redisIndicators) Context(ctx context.Context) (domain.IndicatorContext, error) {
	var ind domain.IndicatorContext
	if err := fetchJSON(ctx, p.client, keyIndicators, &ind); err != nil {
		return domain.IndicatorContext{}, err
	}
	return ind, nil
}

type redisBars struct{ client *redis.Client }

func (p redisBars) RecentBars(ctx context.Context, n int) ([]Bar, error) {
	var bars []Bar
	if err := fetchJSON(ctx, p.client, keyBars, &bars); err != nil {
		return nil, err
	}
	if len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	return bars, nil
}

type redisEnvironment struct{ client *redis.Client }

func (p redisEnvironment) Snapshot(ctx context.Context) (gates.EnvironmentSnapshot, error) {
	var env gates.EnvironmentSnapshot
	if err := fetchJSON(ctx, p.client, keyEnvironment, &env); err != nil {
		return gates.EnvironmentSnapshot{}, err
	}
	return env, nil
}

package calibration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/spxrun/internal/domain"
)

type fakeLoader struct {
	mu    sync.Mutex
	calls int32
	rows  []OutcomeRow
	err   error
	delay time.Duration
}

func (f *fakeLoader) LoadResolvedOutcomes(ctx context.Context, asOfDate string, lookbackDays int) ([]OutcomeRow, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows, f.err
}

func TestProvider_CachesWithinTTL(t *testing.T) {
	loader := &fakeLoader{}
	p := NewProvider(loader, calCfg(), zerolog.Nop())
	now := testNow
	p.SetClock(func() time.Time { return now })

	ctx := context.Background()
	m1, err := p.ModelFor(ctx, "2026-03-09")
	require.NoError(t, err)
	m2, err := p.ModelFor(ctx, "2026-03-09")
	require.NoError(t, err)
	assert.Same(t, m1, m2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&loader.calls))

	// Past TTL the model rebuilds.
	now = now.Add(6 * time.Minute)
	m3, err := p.ModelFor(ctx, "2026-03-09")
	require.NoError(t, err)
	assert.NotSame(t, m1, m3)
	assert.Equal(t, int32(2), atomic.LoadInt32(&loader.calls))
}

func TestProvider_ConcurrentCallersShareOneRebuild(t *testing.T) {
	loader := &fakeLoader{delay: 30 * time.Millisecond}
	p := NewProvider(loader, calCfg(), zerolog.Nop())

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.ModelFor(ctx, "2026-03-09")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&loader.calls))
}

func TestProvider_ServesStaleModelOnRebuildFailure(t *testing.T) {
	loader := &fakeLoader{rows: nRows(5, domain.SetupFadeAtWall, domain.RegimeRanging, 30, domain.OutcomeTarget1)}
	p := NewProvider(loader, calCfg(), zerolog.Nop())
	now := testNow
	p.SetClock(func() time.Time { return now })

	ctx := context.Background()
	m1, err := p.ModelFor(ctx, "2026-03-09")
	require.NoError(t, err)
	assert.Equal(t, 5, m1.RowCount)

	loader.mu.Lock()
	loader.err = errors.New("db down")
	loader.mu.Unlock()
	now = now.Add(10 * time.Minute)

	m2, err := p.ModelFor(ctx, "2026-03-09")
	require.NoError(t, err, "stale model served instead of the load error")
	assert.Same(t, m1, m2)
}

func TestProvider_FailureWithoutCacheSurfaces(t *testing.T) {
	loader := &fakeLoader{err: errors.New("db down")}
	p := NewProvider(loader, calCfg(), zerolog.Nop())
	_, err := p.ModelFor(context.Background(), "2026-03-09")
	require.Error(t, err)
}

package detect

import (
	"context"

	"github.com/sawpanic/spxrun/internal/domain"
	"github.com/sawpanic/spxrun/internal/stream"
)

// ResolvedLoader fetches the session's resolved setup records for the trade
// stream's past section.
type ResolvedLoader interface {
	LoadResolvedRecords(ctx context.Context, sessionDate string) ([]domain.ResolvedRecord, error)
}

// SetResolvedLoader wires the past-records source for the trade stream.
func (d *Detector) SetResolvedLoader(loader ResolvedLoader) { d.resolved = loader }

// TradeStreamSnapshot assembles the deterministic trade-stream projection
// from the live collection and the session's resolved records. A failed
// records load degrades the feed trust label instead of failing the stream.
func (d *Detector) TradeStreamSnapshot(ctx context.Context) (stream.Snapshot, error) {
	setups, err := d.DetectActiveSetups(ctx, Options{})
	if err != nil {
		return stream.Snapshot{}, err
	}

	now := d.clock()
	feedTrust := "live"
	var records []domain.ResolvedRecord
	if d.resolved != nil {
		records, err = d.resolved.LoadResolvedRecords(ctx, domain.SessionDate(now))
		if err != nil {
			d.log.Warn().Err(err).Msg("resolved records unavailable for trade stream")
			feedTrust = "partial"
			records = nil
		}
	}

	return stream.BuildSnapshot(setups, records, feedTrust, now), nil
}

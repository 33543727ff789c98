package ingest

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/davidTeng2025/water-info-crawler/internal/model"
	"github.com/davidTeng2025/water-info-crawler/pkg/geocode"
)

// BatchGeocoder resolves raw records in parallel through a bounded worker
// pool. Output length and order always equal the input; a record whose
// address cannot be resolved is kept with nil coordinates and a failure
// reason rather than aborting the batch.
type BatchGeocoder struct {
	resolver    *geocode.Resolver
	concurrency int
}

// NewBatchGeocoder creates a BatchGeocoder with the given parallelism.
func NewBatchGeocoder(resolver *geocode.Resolver, concurrency int) *BatchGeocoder {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &BatchGeocoder{resolver: resolver, concurrency: concurrency}
}

// GeocodeAll maps raw records to geocoded records, index for index.
func (b *BatchGeocoder) GeocodeAll(ctx context.Context, recs []model.RawRecord, scheme geocode.Scheme) []model.GeocodedRecord {
	out := make([]model.GeocodedRecord, len(recs))

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(b.concurrency)

	for i, raw := range recs {
		eg.Go(func() error {
			out[i] = b.geocodeOne(gCtx, i, raw, scheme)
			return nil
		})
	}
	_ = eg.Wait()

	failed := 0
	for i := range out {
		if !out[i].HasCoordinates() {
			failed++
		}
	}
	if failed > 0 {
		zap.L().Warn("batch geocode finished with failures",
			zap.Int("total", len(out)),
			zap.Int("failed", failed),
		)
	}
	return out
}

func (b *BatchGeocoder) geocodeOne(ctx context.Context, seq int, raw model.RawRecord, scheme geocode.Scheme) model.GeocodedRecord {
	rec := model.GeocodedRecord{
		Seq:      seq,
		Province: raw.Province,
		SiteName: raw.SiteName,
		Address:  geocode.Normalize(raw.Address()),
		Attrs:    raw.Attrs,
	}

	if rec.Address == "" {
		rec.FailureReason = "empty address"
		return rec
	}

	result, err := b.resolver.Resolve(ctx, rec.Address, scheme)
	if err != nil {
		switch {
		case errors.Is(err, geocode.ErrNotFound):
			rec.FailureReason = "address not found"
		case errors.Is(err, geocode.ErrBackendUnavailable):
			rec.FailureReason = "backend unavailable"
		default:
			rec.FailureReason = err.Error()
		}
		zap.L().Debug("geocode failed",
			zap.Int("seq", seq),
			zap.String("address", rec.Address),
			zap.String("reason", rec.FailureReason),
		)
		return rec
	}

	rec.Lat, rec.Lon = &result.Lat, &result.Lon
	rec.Source = model.GeocodeSource(result.Source)
	return rec
}

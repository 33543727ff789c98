// Package query answers nearest-site lookups against the active generation.
package query

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/davidTeng2025/water-info-crawler/internal/model"
	"github.com/davidTeng2025/water-info-crawler/internal/spatial"
	"github.com/davidTeng2025/water-info-crawler/internal/store"
	"github.com/davidTeng2025/water-info-crawler/pkg/geocode"
)

// ErrUsage marks invalid caller-supplied parameters (e.g. top <= 0).
var ErrUsage = eris.New("query: invalid parameters")

// Match is one ranked result: the full record plus its distance from the
// query point.
type Match struct {
	Record     model.GeocodedRecord
	DistanceKM float64
}

// built pins a spatial index and its records to the generation they were
// read from.
type built struct {
	generation int64
	index      *spatial.Index
	records    []model.GeocodedRecord
}

// Service resolves a place name and queries the spatial index bound to the
// generation active at call time. The index is rebuilt lazily when the
// active generation changes; queries never block an in-flight update and an
// update never blocks queries.
type Service struct {
	store      store.Store
	resolver   *geocode.Resolver
	defaultTop int

	current atomic.Pointer[built]
}

// NewService creates a query Service.
func NewService(st store.Store, resolver *geocode.Resolver, defaultTop int) *Service {
	if defaultTop <= 0 {
		defaultTop = 10
	}
	return &Service{store: st, resolver: resolver, defaultTop: defaultTop}
}

// DefaultTop returns the default result count for callers that pass none.
func (s *Service) DefaultTop() int { return s.defaultTop }

// Nearest returns the top closest records to the resolved place, ascending
// by great-circle distance. top <= 0 is a usage error; an unresolvable place
// surfaces geocode.ErrNotFound.
func (s *Service) Nearest(ctx context.Context, place string, top int, scheme geocode.Scheme) ([]Match, error) {
	if top <= 0 {
		return nil, eris.Wrapf(ErrUsage, "top must be positive, got %d", top)
	}

	point, err := s.resolver.Resolve(ctx, place, scheme)
	if err != nil {
		return nil, err
	}

	b, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if b.index.Size() == 0 {
		return nil, nil
	}

	neighbors := b.index.Nearest(point.Lat, point.Lon, top)
	matches := make([]Match, 0, len(neighbors))
	for _, n := range neighbors {
		matches = append(matches, Match{
			Record:     b.records[n.Seq],
			DistanceKM: roundKM(n.DistanceKM),
		})
	}
	return matches, nil
}

// Distance resolves two places and returns the great-circle distance between
// them along with both coordinates.
func (s *Service) Distance(ctx context.Context, placeA, placeB string, scheme geocode.Scheme) (km float64, a, b *geocode.Result, err error) {
	a, err = s.resolver.Resolve(ctx, placeA, scheme)
	if err != nil {
		return 0, nil, nil, eris.Wrapf(err, "place %q", placeA)
	}
	b, err = s.resolver.Resolve(ctx, placeB, scheme)
	if err != nil {
		return 0, a, nil, eris.Wrapf(err, "place %q", placeB)
	}
	return roundKM(spatial.DistanceKM(a.Lat, a.Lon, b.Lat, b.Lon)), a, b, nil
}

// snapshot returns an index bound to the generation active right now,
// rebuilding if the cached one is stale. Concurrent rebuilds of the same
// generation are benign: both produce equivalent indexes and the pointer
// swap is atomic.
func (s *Service) snapshot(ctx context.Context) (*built, error) {
	gen, err := s.store.Active(ctx)
	if err != nil {
		return nil, err
	}

	if cur := s.current.Load(); cur != nil && cur.generation == gen {
		return cur, nil
	}

	records, err := s.store.ReadAll(ctx, gen)
	if err != nil {
		return nil, err
	}

	entries := make([]spatial.Entry, 0, len(records))
	for _, rec := range records {
		if !rec.HasCoordinates() {
			continue
		}
		entries = append(entries, spatial.Entry{Seq: rec.Seq, Lat: *rec.Lat, Lon: *rec.Lon})
	}

	b := &built{generation: gen, index: spatial.Build(entries), records: records}
	s.current.Store(b)
	zap.L().Info("spatial index built",
		zap.Int64("generation", gen),
		zap.Int("indexed", len(entries)),
		zap.Int("records", len(records)),
	)
	return b, nil
}

// roundKM rounds to 4 decimals, matching the precision of the exported API.
func roundKM(km float64) float64 {
	return math.Round(km*10000) / 10000
}

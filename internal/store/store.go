package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/davidTeng2025/water-info-crawler/internal/model"
	"github.com/davidTeng2025/water-info-crawler/pkg/geocode"
)

// ErrUpdateInProgress is returned by BeginUpdate when another update holds
// the single update slot.
var ErrUpdateInProgress = eris.New("store: update already in progress")

// ErrGenerationRetired is returned by ReadAll for a generation that has been
// superseded and garbage-collected.
var ErrGenerationRetired = eris.New("store: generation retired")

// Builder accumulates one full generation. Commit atomically makes it the
// active generation; Rollback discards it and leaves the previous generation
// untouched.
type Builder interface {
	Add(ctx context.Context, rec model.GeocodedRecord) error
	Commit(ctx context.Context) (int64, error)
	Rollback(ctx context.Context) error
}

// Store persists geocoded generations and the geocode cache. The cache
// outlives any single generation; generations are immutable snapshots made
// visible by a single atomic pointer swap.
type Store interface {
	geocode.Cache

	// Generations
	BeginUpdate(ctx context.Context) (Builder, error)
	Active(ctx context.Context) (int64, error)
	ReadAll(ctx context.Context, generation int64) ([]model.GeocodedRecord, error)

	// Geocode cache bulk forms
	CacheExport(ctx context.Context) ([]geocode.CacheEntry, error)
	CacheImport(ctx context.Context, entries []geocode.CacheEntry) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

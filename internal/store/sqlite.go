package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/davidTeng2025/water-info-crawler/internal/model"
	"github.com/davidTeng2025/water-info-crawler/pkg/geocode"
)

// SQLiteStore implements Store using modernc.org/sqlite.
//
// Layout: a meta table holds the active generation id; each generation's
// rows live in their own records_g<N> table, written first under a staging
// name and renamed into place inside the commit transaction. The
// immediately previous generation is kept until the next commit so readers
// that sampled Active() just before a swap can still finish.
type SQLiteStore struct {
	db *sql.DB

	// Serializes commits: at most one update in flight.
	updateMu sync.Mutex
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS geocode_cache (
	address     TEXT PRIMARY KEY,
	lat         REAL NOT NULL,
	lon         REAL NOT NULL,
	source      TEXT NOT NULL,
	resolved_at DATETIME NOT NULL
);
`

const recordColumns = `seq, province, site_name, address, lat, lon, source, failure_reason, attrs_json`

// Migrate creates the fixed tables and garbage-collects staging tables left
// behind by a crash between staging-write and commit.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}

	stale, err := s.tablesLike(ctx, "records_staging_%")
	if err != nil {
		return err
	}
	for _, tbl := range stale {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+tbl); err != nil {
			return eris.Wrapf(err, "sqlite: drop stale staging table %s", tbl)
		}
		zap.L().Info("dropped stale staging table", zap.String("table", tbl))
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Generations ---

// Active returns the current generation id, or 0 when no generation has been
// committed yet.
func (s *SQLiteStore) Active(ctx context.Context) (int64, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key = 'active_generation'`,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: read active generation")
	}
	gen, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: parse active generation %q", value)
	}
	return gen, nil
}

// ReadAll returns every record of the given generation in insertion order.
// Generation 0 (nothing committed yet) yields an empty slice.
func (s *SQLiteStore) ReadAll(ctx context.Context, generation int64) ([]model.GeocodedRecord, error) {
	if generation <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s ORDER BY seq", recordColumns, generationTable(generation)),
	)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return nil, eris.Wrapf(ErrGenerationRetired, "generation %d", generation)
		}
		return nil, eris.Wrapf(err, "sqlite: read generation %d", generation)
	}
	defer rows.Close() //nolint:errcheck

	var recs []model.GeocodedRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: iterate generation")
}

// BeginUpdate claims the single update slot and opens a staging table.
// A second call before Commit/Rollback fails with ErrUpdateInProgress.
func (s *SQLiteStore) BeginUpdate(ctx context.Context) (Builder, error) {
	if !s.updateMu.TryLock() {
		return nil, ErrUpdateInProgress
	}

	staging := "records_staging_" + strings.ReplaceAll(uuid.New().String()[:8], "-", "")
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE %s (
			seq            INTEGER PRIMARY KEY,
			province       TEXT,
			site_name      TEXT,
			address        TEXT NOT NULL,
			lat            REAL,
			lon            REAL,
			source         TEXT,
			failure_reason TEXT,
			attrs_json     TEXT
		)`, staging))
	if err != nil {
		s.updateMu.Unlock()
		return nil, eris.Wrap(err, "sqlite: create staging table")
	}

	return &sqliteBuilder{store: s, staging: staging}, nil
}

type sqliteBuilder struct {
	store   *SQLiteStore
	staging string
	seq     int
	done    bool
}

func (b *sqliteBuilder) Add(ctx context.Context, rec model.GeocodedRecord) error {
	if b.done {
		return eris.New("sqlite: builder already finished")
	}

	attrsJSON, err := json.Marshal(rec.Attrs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal attrs")
	}

	_, err = b.store.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)", b.staging, recordColumns),
		b.seq, rec.Province, rec.SiteName, rec.Address,
		nilIfNilFloat(rec.Lat), nilIfNilFloat(rec.Lon),
		string(rec.Source), nilIfEmpty(rec.FailureReason), string(attrsJSON),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert staging record")
	}
	b.seq++
	return nil
}

// Commit renames the staging table to records_g<N+1> and advances the active
// pointer in one transaction, so a reader sees either the old generation or
// the complete new one. Retirement of generations older than N runs strictly
// after the swap is durable.
func (b *sqliteBuilder) Commit(ctx context.Context) (int64, error) {
	if b.done {
		return 0, eris.New("sqlite: builder already finished")
	}
	b.done = true
	defer b.store.updateMu.Unlock()

	current, err := b.store.Active(ctx)
	if err != nil {
		return 0, err
	}
	next := current + 1

	tx, err := b.store.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin commit tx")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", b.staging, generationTable(next)),
	); err != nil {
		return 0, eris.Wrap(err, "sqlite: rename staging table")
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES ('active_generation', ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		strconv.FormatInt(next, 10),
	); err != nil {
		return 0, eris.Wrap(err, "sqlite: advance active generation")
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit swap")
	}

	b.store.retireThrough(ctx, next-2)

	zap.L().Info("generation committed",
		zap.Int64("generation", next),
		zap.Int("records", b.seq),
	)
	return next, nil
}

// Rollback drops the staging table; the previous generation stays active.
func (b *sqliteBuilder) Rollback(ctx context.Context) error {
	if b.done {
		return nil
	}
	b.done = true
	defer b.store.updateMu.Unlock()

	_, err := b.store.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+b.staging)
	return eris.Wrap(err, "sqlite: rollback staging table")
}

// retireThrough drops record tables for generations up to and including gen.
// Failures only log: a leftover table is re-collected on the next commit.
func (s *SQLiteStore) retireThrough(ctx context.Context, gen int64) {
	if gen <= 0 {
		return
	}
	tables, err := s.tablesLike(ctx, "records_g%")
	if err != nil {
		zap.L().Warn("retire: list generation tables", zap.Error(err))
		return
	}
	for _, tbl := range tables {
		n, err := strconv.ParseInt(strings.TrimPrefix(tbl, "records_g"), 10, 64)
		if err != nil || n > gen {
			continue
		}
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+tbl); err != nil {
			zap.L().Warn("retire: drop generation table", zap.String("table", tbl), zap.Error(err))
			continue
		}
		zap.L().Debug("generation retired", zap.Int64("generation", n))
	}
}

func (s *SQLiteStore) tablesLike(ctx context.Context, pattern string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE ?`, pattern,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tables")
	}
	defer rows.Close() //nolint:errcheck

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan table name")
		}
		names = append(names, name)
	}
	return names, eris.Wrap(rows.Err(), "sqlite: iterate tables")
}

func generationTable(gen int64) string {
	return fmt.Sprintf("records_g%d", gen)
}

// --- Geocode cache ---

// CacheGet returns the cached entry for a normalized address, or nil on miss.
func (s *SQLiteStore) CacheGet(ctx context.Context, address string) (*geocode.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT address, lat, lon, source, resolved_at FROM geocode_cache WHERE address = ?`,
		address,
	)
	var e geocode.CacheEntry
	err := row.Scan(&e.Address, &e.Lat, &e.Lon, &e.Source, &e.ResolvedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: cache get")
	}
	return &e, nil
}

// CachePut upserts an entry. Re-writing identical coordinates is a no-op
// (resolved_at is preserved); differing coordinates overwrite last-write-wins.
func (s *SQLiteStore) CachePut(ctx context.Context, entry geocode.CacheEntry) error {
	if entry.ResolvedAt.IsZero() {
		entry.ResolvedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO geocode_cache (address, lat, lon, source, resolved_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (address) DO UPDATE SET
			lat = excluded.lat,
			lon = excluded.lon,
			source = excluded.source,
			resolved_at = excluded.resolved_at
		WHERE geocode_cache.lat != excluded.lat OR geocode_cache.lon != excluded.lon`,
		entry.Address, entry.Lat, entry.Lon, entry.Source, entry.ResolvedAt,
	)
	return eris.Wrap(err, "sqlite: cache put")
}

// CacheExport returns every cache entry ordered by address.
func (s *SQLiteStore) CacheExport(ctx context.Context) ([]geocode.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT address, lat, lon, source, resolved_at FROM geocode_cache ORDER BY address`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: cache export")
	}
	defer rows.Close() //nolint:errcheck

	var entries []geocode.CacheEntry
	for rows.Next() {
		var e geocode.CacheEntry
		if err := rows.Scan(&e.Address, &e.Lat, &e.Lon, &e.Source, &e.ResolvedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cache entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: iterate cache entries")
}

// CacheImport upserts a batch of entries inside one transaction.
func (s *SQLiteStore) CacheImport(ctx context.Context, entries []geocode.CacheEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin cache import")
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range entries {
		if e.ResolvedAt.IsZero() {
			e.ResolvedAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO geocode_cache (address, lat, lon, source, resolved_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (address) DO UPDATE SET
				lat = excluded.lat,
				lon = excluded.lon,
				source = excluded.source,
				resolved_at = excluded.resolved_at`,
			e.Address, e.Lat, e.Lon, e.Source, e.ResolvedAt,
		); err != nil {
			return eris.Wrapf(err, "sqlite: import cache entry %q", e.Address)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit cache import")
}

// --- helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*model.GeocodedRecord, error) {
	var rec model.GeocodedRecord
	var lat, lon sql.NullFloat64
	var source, failure sql.NullString
	var attrsJSON string

	err := row.Scan(&rec.Seq, &rec.Province, &rec.SiteName, &rec.Address,
		&lat, &lon, &source, &failure, &attrsJSON)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan record")
	}

	if lat.Valid && lon.Valid {
		rec.Lat, rec.Lon = &lat.Float64, &lon.Float64
	}
	if source.Valid {
		rec.Source = model.GeocodeSource(source.String)
	}
	if failure.Valid {
		rec.FailureReason = failure.String
	}
	if attrsJSON != "" {
		if err := json.Unmarshal([]byte(attrsJSON), &rec.Attrs); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal attrs")
		}
	}
	return &rec, nil
}

func nilIfNilFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

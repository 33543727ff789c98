package geocode

import (
	"context"
	"encoding/csv"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// OfflineTable geocodes against a local CSV table of (address, lat, lon)
// triples. Lookup is exact-match on the normalized address, falling back to
// bidirectional substring containment so "江苏南京工业大学" still finds the
// entry keyed "南京工业大学".
type OfflineTable struct {
	path string

	once    sync.Once
	loadErr error
	entries map[string][2]float64
	keys    []string // insertion order, for deterministic fuzzy matches
}

// NewOfflineTable creates an offline provider reading from the given CSV
// path. The file is loaded lazily on first use.
func NewOfflineTable(path string) *OfflineTable {
	return &OfflineTable{path: path}
}

// Name implements Provider.
func (t *OfflineTable) Name() string { return "offline" }

// Geocode implements Provider.
func (t *OfflineTable) Geocode(_ context.Context, address string) (float64, float64, error) {
	t.once.Do(t.load)
	if t.loadErr != nil {
		return 0, 0, eris.Wrapf(ErrBackendUnavailable, "offline table: %v", t.loadErr)
	}

	addr := Normalize(address)
	if c, ok := t.entries[addr]; ok {
		return c[0], c[1], nil
	}
	for _, key := range t.keys {
		if strings.Contains(key, addr) || strings.Contains(addr, key) {
			c := t.entries[key]
			return c[0], c[1], nil
		}
	}
	return 0, 0, eris.Wrapf(ErrNotFound, "offline table: %q", addr)
}

func (t *OfflineTable) load() {
	f, err := os.Open(t.path)
	if err != nil {
		t.loadErr = err
		return
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	t.entries = make(map[string][2]float64)
	rows, err := r.ReadAll()
	if err != nil {
		t.loadErr = err
		return
	}

	for i, row := range rows {
		if len(row) < 3 {
			continue
		}
		addr := Normalize(row[0])
		if addr == "" || (i == 0 && strings.EqualFold(addr, "address")) {
			continue
		}
		lat, latErr := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
		lon, lonErr := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
		if latErr != nil || lonErr != nil {
			continue
		}
		if _, dup := t.entries[addr]; !dup {
			t.keys = append(t.keys, addr)
		}
		t.entries[addr] = [2]float64{lat, lon}
	}

	zap.L().Debug("offline table loaded",
		zap.String("path", t.path),
		zap.Int("entries", len(t.entries)),
	)
}

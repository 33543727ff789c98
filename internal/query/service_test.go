package query

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidTeng2025/water-info-crawler/internal/model"
	"github.com/davidTeng2025/water-info-crawler/internal/store"
	"github.com/davidTeng2025/water-info-crawler/pkg/geocode"
)

type site struct {
	province string
	name     string
	lat, lon float64
}

var testSites = []site{
	{"江苏", "南京工业大学", 32.058, 118.784},
	{"江苏", "苏州监测站", 31.299, 120.585},
	{"河南", "郑州监测站", 34.747, 113.625},
	{"湖北", "武汉监测站", 30.593, 114.305},
}

// newTestService wires a real SQLite store and an offline geocode table. The
// offline table carries every site address plus the query places the tests
// use, so resolution never needs a network backend.
func newTestService(t *testing.T, extraOffline map[string][2]float64) (*Service, *store.SQLiteStore) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.NewSQLite(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	csv := ""
	for _, s := range testSites {
		csv += fmt.Sprintf("%s%s,%f,%f\n", s.province, s.name, s.lat, s.lon)
	}
	for addr, c := range extraOffline {
		csv += fmt.Sprintf("%s,%f,%f\n", addr, c[0], c[1])
	}
	csvPath := filepath.Join(dir, "geo_cache.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(csv), 0o644))

	resolver := geocode.NewResolver(st, nil, geocode.NewOfflineTable(csvPath))
	return NewService(st, resolver, 10), st
}

func commitSites(t *testing.T, st *store.SQLiteStore, sites []site) {
	t.Helper()
	ctx := context.Background()
	b, err := st.BeginUpdate(ctx)
	require.NoError(t, err)
	for i, s := range sites {
		lat, lon := s.lat, s.lon
		require.NoError(t, b.Add(ctx, model.GeocodedRecord{
			Seq:      i,
			Province: s.province,
			SiteName: s.name,
			Address:  s.province + s.name,
			Lat:      &lat,
			Lon:      &lon,
			Source:   model.SourceOffline,
			Attrs:    map[string]string{"省份": s.province, "断面名称": s.name},
		}))
	}
	_, err = b.Commit(ctx)
	require.NoError(t, err)
}

func TestService_Nearest(t *testing.T) {
	// The query place resolves via the offline table to a point right next
	// to the Nanjing site.
	svc, st := newTestService(t, map[string][2]float64{
		"江苏南京江北新区": {32.10, 118.75},
	})
	commitSites(t, st, testSites)
	ctx := context.Background()

	matches, err := svc.Nearest(ctx, "江苏南京江北新区", 3, geocode.SchemeOffline)
	require.NoError(t, err)
	require.Len(t, matches, 3)

	assert.Equal(t, "南京工业大学", matches[0].Record.SiteName)
	assert.Less(t, matches[0].DistanceKM, 10.0)
	for i := 1; i < len(matches); i++ {
		assert.LessOrEqual(t, matches[i-1].DistanceKM, matches[i].DistanceKM)
	}
	assert.Equal(t, "江苏", matches[0].Record.Attrs["省份"])
}

func TestService_NearestTopLargerThanDataset(t *testing.T) {
	svc, st := newTestService(t, nil)
	commitSites(t, st, testSites)

	matches, err := svc.Nearest(context.Background(), "河南郑州监测站", 100, geocode.SchemeOffline)
	require.NoError(t, err)
	assert.Len(t, matches, len(testSites))
	// The resolved place coincides with the Zhengzhou site.
	assert.Equal(t, "郑州监测站", matches[0].Record.SiteName)
	assert.Zero(t, matches[0].DistanceKM)
}

func TestService_NearestUsageError(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.Nearest(context.Background(), "江苏南京工业大学", 0, geocode.SchemeOffline)
	require.ErrorIs(t, err, ErrUsage)

	_, err = svc.Nearest(context.Background(), "江苏南京工业大学", -5, geocode.SchemeOffline)
	require.ErrorIs(t, err, ErrUsage)
}

func TestService_NearestUnresolvablePlace(t *testing.T) {
	svc, st := newTestService(t, nil)
	commitSites(t, st, testSites)

	_, err := svc.Nearest(context.Background(), "不存在的地方xyz", 3, geocode.SchemeOffline)
	require.ErrorIs(t, err, geocode.ErrNotFound)
}

func TestService_NearestEmptyStore(t *testing.T) {
	svc, _ := newTestService(t, nil)

	matches, err := svc.Nearest(context.Background(), "江苏南京工业大学", 3, geocode.SchemeOffline)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestService_NearestExcludesFailedRecords(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := context.Background()

	lat, lon := 32.058, 118.784
	b, err := st.BeginUpdate(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Add(ctx, model.GeocodedRecord{
		Seq: 0, Province: "江苏", SiteName: "南京工业大学",
		Address: "江苏南京工业大学", Lat: &lat, Lon: &lon, Source: model.SourceOffline,
	}))
	require.NoError(t, b.Add(ctx, model.GeocodedRecord{
		Seq: 1, Province: "西藏", SiteName: "无名站",
		Address: "西藏无名站", FailureReason: "address not found",
	}))
	_, err = b.Commit(ctx)
	require.NoError(t, err)

	matches, err := svc.Nearest(ctx, "江苏南京工业大学", 10, geocode.SchemeOffline)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "南京工业大学", matches[0].Record.SiteName)
}

func TestService_IndexFollowsActiveGeneration(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := context.Background()

	commitSites(t, st, testSites[:1])
	matches, err := svc.Nearest(ctx, "江苏南京工业大学", 10, geocode.SchemeOffline)
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	// A swap after the first query must be visible to the next one without
	// restarting the service.
	commitSites(t, st, testSites)
	matches, err = svc.Nearest(ctx, "江苏南京工业大学", 10, geocode.SchemeOffline)
	require.NoError(t, err)
	assert.Len(t, matches, len(testSites))
}

func TestService_Distance(t *testing.T) {
	svc, _ := newTestService(t, nil)

	km, a, b, err := svc.Distance(context.Background(),
		"江苏南京工业大学", "河南郑州监测站", geocode.SchemeOffline)
	require.NoError(t, err)
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.InDelta(t, 32.058, a.Lat, 1e-3)
	assert.InDelta(t, 113.625, b.Lon, 1e-3)
	// Nanjing to Zhengzhou is roughly 540 km.
	assert.InDelta(t, 540, km, 40)

	_, _, _, err = svc.Distance(context.Background(),
		"江苏南京工业大学", "不存在的地方xyz", geocode.SchemeOffline)
	require.ErrorIs(t, err, geocode.ErrNotFound)
}

func TestRoundKM(t *testing.T) {
	assert.Equal(t, 12.3457, roundKM(12.34567))
	assert.Equal(t, 0.0, roundKM(0))
}

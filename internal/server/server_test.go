package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidTeng2025/water-info-crawler/internal/model"
	"github.com/davidTeng2025/water-info-crawler/internal/query"
	"github.com/davidTeng2025/water-info-crawler/internal/store"
	"github.com/davidTeng2025/water-info-crawler/pkg/geocode"
)

// newTestServer spins up the full stack behind httptest: SQLite store with
// one committed generation, offline geocoding, query service, chi router.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	st, err := store.NewSQLite(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	sites := []struct {
		province, name string
		lat, lon       float64
	}{
		{"江苏", "南京工业大学", 32.058, 118.784},
		{"河南", "郑州监测站", 34.747, 113.625},
		{"湖北", "武汉监测站", 30.593, 114.305},
	}

	csv := ""
	b, err := st.BeginUpdate(ctx)
	require.NoError(t, err)
	for i, s := range sites {
		lat, lon := s.lat, s.lon
		require.NoError(t, b.Add(ctx, model.GeocodedRecord{
			Seq: i, Province: s.province, SiteName: s.name,
			Address: s.province + s.name, Lat: &lat, Lon: &lon,
			Source: model.SourceOffline,
			Attrs:  map[string]string{"水质类别": "II"},
		}))
		csv += fmt.Sprintf("%s%s,%f,%f\n", s.province, s.name, s.lat, s.lon)
	}
	_, err = b.Commit(ctx)
	require.NoError(t, err)

	csvPath := filepath.Join(dir, "geo_cache.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(csv), 0o644))

	resolver := geocode.NewResolver(st, nil, geocode.NewOfflineTable(csvPath))
	svc := query.NewService(st, resolver, 10)

	srv := httptest.NewServer(New(svc, 5*time.Second).Router())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, rawURL string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(rawURL)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t)
	status, body := getJSON(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestServer_Nearest(t *testing.T) {
	srv := newTestServer(t)

	status, body := getJSON(t, srv.URL+"/nearest?scheme=offline&top=2&place="+
		url.QueryEscape("江苏南京工业大学"))
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, "江苏南京工业大学", body["place"])
	assert.EqualValues(t, 2, body["count"])

	results, ok := body["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 2)

	first, ok := results[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "南京工业大学", first["site_name"])
	assert.Equal(t, "江苏", first["province"])
	assert.Equal(t, "II", first["水质类别"])
	assert.EqualValues(t, 0, first["distance_km"])

	second, ok := results[1].(map[string]any)
	require.True(t, ok)
	assert.Greater(t, second["distance_km"].(float64), 0.0)
}

func TestServer_NearestDefaultTop(t *testing.T) {
	srv := newTestServer(t)

	status, body := getJSON(t, srv.URL+"/nearest?scheme=offline&place="+
		url.QueryEscape("江苏南京工业大学"))
	require.Equal(t, http.StatusOK, status)
	// Dataset is smaller than the default top, so everything comes back.
	assert.EqualValues(t, 3, body["count"])
}

func TestServer_NearestBadRequests(t *testing.T) {
	srv := newTestServer(t)
	place := url.QueryEscape("江苏南京工业大学")

	tests := []struct {
		name string
		url  string
	}{
		{"missing place", srv.URL + "/nearest?scheme=offline"},
		{"blank place", srv.URL + "/nearest?scheme=offline&place=%20%20"},
		{"zero top", srv.URL + "/nearest?scheme=offline&top=0&place=" + place},
		{"negative top", srv.URL + "/nearest?scheme=offline&top=-3&place=" + place},
		{"non-integer top", srv.URL + "/nearest?scheme=offline&top=five&place=" + place},
		{"unknown scheme", srv.URL + "/nearest?scheme=amap&place=" + place},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := getJSON(t, tt.url)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestServer_NearestUnresolvedPlaceIs404(t *testing.T) {
	srv := newTestServer(t)

	status, body := getJSON(t, srv.URL+"/nearest?scheme=offline&place="+
		url.QueryEscape("不存在的地方xyz"))
	assert.Equal(t, http.StatusNotFound, status)
	assert.NotEmpty(t, body["error"])
}

func TestServer_NearestBackendUnavailableIs503(t *testing.T) {
	// An offline table whose file is missing makes every resolution fail
	// with a backend error.
	dir := t.TempDir()
	ctx := context.Background()

	st, err := store.NewSQLite(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	resolver := geocode.NewResolver(st, nil,
		geocode.NewOfflineTable(filepath.Join(dir, "absent.csv")))
	srv := httptest.NewServer(New(query.NewService(st, resolver, 10), 5*time.Second).Router())
	t.Cleanup(srv.Close)

	status, body := getJSON(t, srv.URL+"/nearest?scheme=offline&place="+
		url.QueryEscape("江苏南京工业大学"))
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.NotEmpty(t, body["error"])
}

func TestServer_Distance(t *testing.T) {
	srv := newTestServer(t)

	status, body := getJSON(t, srv.URL+"/distance?scheme=offline"+
		"&place_a="+url.QueryEscape("江苏南京工业大学")+
		"&place_b="+url.QueryEscape("河南郑州监测站"))
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, "江苏南京工业大学", body["place_a"])
	coordA, ok := body["coord_a"].([]any)
	require.True(t, ok)
	require.Len(t, coordA, 2)
	assert.InDelta(t, 32.058, coordA[0].(float64), 1e-3)

	km, ok := body["distance_km"].(float64)
	require.True(t, ok)
	assert.InDelta(t, 540, km, 40)
}

func TestServer_DistanceMissingParam(t *testing.T) {
	srv := newTestServer(t)

	status, _ := getJSON(t, srv.URL+"/distance?scheme=offline&place_a="+
		url.QueryEscape("江苏南京工业大学"))
	assert.Equal(t, http.StatusBadRequest, status)
}

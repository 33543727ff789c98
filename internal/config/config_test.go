package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "output/water_data.db", cfg.Store.Path)
	assert.Equal(t, "output", cfg.Data.Dir)
	assert.Equal(t, "water_info_*.xlsx", cfg.Data.Glob)
	assert.Equal(t, "https://restapi.amap.com/v3/geocode/geo", cfg.Amap.BaseURL)
	assert.Equal(t, 3.0, cfg.Amap.RPS)
	assert.Equal(t, 8, cfg.Amap.TimeoutSecs)
	assert.Equal(t, 3, cfg.Amap.MaxRetries)
	assert.Equal(t, "online", cfg.Geocode.Scheme)
	assert.Equal(t, "output/geo_cache.csv", cfg.Geocode.OfflineTable)
	assert.Equal(t, 4, cfg.Geocode.Concurrency)
	assert.False(t, cfg.Geocode.Refresh)
	assert.Equal(t, 10, cfg.Query.DefaultTop)
	assert.Equal(t, 15, cfg.Query.TimeoutSecs)
	assert.Equal(t, 5001, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Empty(t, cfg.Amap.Key)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("WATER_AMAP_KEY", "env-key")
	t.Setenv("WATER_SERVER_PORT", "9090")
	t.Setenv("WATER_GEOCODE_SCHEME", "offline")
	t.Setenv("WATER_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Amap.Key)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "offline", cfg.Geocode.Scheme)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched keys keep their defaults.
	assert.Equal(t, "output/water_data.db", cfg.Store.Path)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "json"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "console"}))
	require.Error(t, InitLogger(LogConfig{Level: "verbose", Format: "json"}))
}

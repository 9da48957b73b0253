package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "gridfeed.db", cfg.DBPath)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 10*time.Second, cfg.SyncInterval)
	assert.Equal(t, 20*time.Minute, cfg.WeatherLag)
	assert.Equal(t, 30*time.Minute, cfg.WeatherCatchupLag)
	assert.Equal(t, 10*time.Minute, cfg.LoadLag)
	assert.Equal(t, 7*24*time.Hour, cfg.PrewarmWindow)
	assert.Equal(t, 7*24*time.Hour, cfg.AllSpanLimit)
	assert.Equal(t, (3*365+2*366)*24*time.Hour, cfg.SingleSpanLimit)
	assert.Equal(t, time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC), cfg.AggregateFrom)
	assert.Contains(t, cfg.WeatherHistoricalURL, "historical")
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("DB_PATH", "/tmp/custom.db")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SYNC_INTERVAL", "30s")
	t.Setenv("WEATHER_LAG", "15m")
	t.Setenv("LOAD_LAG", "5m")
	t.Setenv("PREWARM_WINDOW", "48h")
	t.Setenv("AGGREGATE_FROM", "2018-06-01")
	t.Setenv("LOAD_EXPORT_URL", "http://localhost:9999/export")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/custom.db", cfg.DBPath)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.SyncInterval)
	assert.Equal(t, 15*time.Minute, cfg.WeatherLag)
	assert.Equal(t, 5*time.Minute, cfg.LoadLag)
	assert.Equal(t, 48*time.Hour, cfg.PrewarmWindow)
	assert.Equal(t, time.Date(2018, 6, 1, 0, 0, 0, 0, time.UTC), cfg.AggregateFrom)
	assert.Equal(t, "http://localhost:9999/export", cfg.LoadExportURL)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("SYNC_INTERVAL", "not-a-duration")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SYNC_INTERVAL")
}

func TestLoad_InvalidAggregateFrom(t *testing.T) {
	t.Setenv("AGGREGATE_FROM", "June 2015")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AGGREGATE_FROM")
}

func TestLoad_SpanLimitOrdering(t *testing.T) {
	t.Setenv("SINGLE_SPAN_LIMIT", "24h")
	t.Setenv("ALL_SPAN_LIMIT", "48h")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ALL_SPAN_LIMIT")
}

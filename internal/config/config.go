package config

import (
	"fmt"
	"os"
	"time"
)

// Default feed endpoints. The weather network publishes a metadata CSV, per
// station historical archives, current-year "recent" archives and a rolling
// synoptic directory with a LATEST export. The electricity feed exposes a
// single windowed export endpoint.
const (
	defaultWeatherMetaURL       = "https://odp.met.hu/climate/observations_hungary/hourly/station_meta_auto.csv"
	defaultWeatherHistoricalURL = "https://odp.met.hu/climate/observations_hungary/10_minutes/historical/"
	defaultWeatherRecentURL     = "https://odp.met.hu/climate/observations_hungary/10_minutes/recent/"
	defaultWeatherSynopURL      = "https://odp.met.hu/weather/weather_reports/synoptic/hungary/10_minutes/csv/"
	defaultLoadExportURL        = "https://www.mavir.hu/rtdwweb/webuser/chart/7678/export"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	DBPath          string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	SyncInterval time.Duration
	SyncTimeout  time.Duration
	FetchTimeout time.Duration

	WeatherMetaURL       string
	WeatherHistoricalURL string
	WeatherRecentURL     string
	WeatherSynopURL      string
	LoadExportURL        string

	// Lag tolerances absorb each feed's reporting delay: how far behind
	// "now" a watermark may trail before a re-fetch is due.
	WeatherLag        time.Duration
	WeatherCatchupLag time.Duration
	LoadLag           time.Duration

	// AggregateFrom bounds the derived joint tables; rows before it are
	// never aggregated.
	AggregateFrom time.Time

	// PrewarmWindow is the trailing window pre-warmed into the read cache
	// after each sync cycle.
	PrewarmWindow time.Duration

	// Range query span limits: one entity may span years, an all-entities
	// query is capped much tighter.
	SingleSpanLimit time.Duration
	AllSpanLimit    time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	cfg := &Config{
		DBPath:               envOrDefault("DB_PATH", "gridfeed.db"),
		HTTPAddr:             envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:             envOrDefault("LOG_LEVEL", "info"),
		LogFormat:            envOrDefault("LOG_FORMAT", "json"),
		WeatherMetaURL:       envOrDefault("WEATHER_META_URL", defaultWeatherMetaURL),
		WeatherHistoricalURL: envOrDefault("WEATHER_HISTORICAL_URL", defaultWeatherHistoricalURL),
		WeatherRecentURL:     envOrDefault("WEATHER_RECENT_URL", defaultWeatherRecentURL),
		WeatherSynopURL:      envOrDefault("WEATHER_SYNOP_URL", defaultWeatherSynopURL),
		LoadExportURL:        envOrDefault("LOAD_EXPORT_URL", defaultLoadExportURL),
	}

	var err error
	if cfg.ShutdownTimeout, err = durationOrDefault("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.SyncInterval, err = durationOrDefault("SYNC_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.SyncTimeout, err = durationOrDefault("SYNC_TIMEOUT", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = durationOrDefault("FETCH_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.WeatherLag, err = durationOrDefault("WEATHER_LAG", 20*time.Minute); err != nil {
		return nil, err
	}
	if cfg.WeatherCatchupLag, err = durationOrDefault("WEATHER_CATCHUP_LAG", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.LoadLag, err = durationOrDefault("LOAD_LAG", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.PrewarmWindow, err = durationOrDefault("PREWARM_WINDOW", 7*24*time.Hour); err != nil {
		return nil, err
	}
	// At least 5 years (3 regular + 2 leap) for a single entity.
	if cfg.SingleSpanLimit, err = durationOrDefault("SINGLE_SPAN_LIMIT", (3*365+2*366)*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.AllSpanLimit, err = durationOrDefault("ALL_SPAN_LIMIT", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.AggregateFrom, err = timeOrDefault("AGGREGATE_FROM", time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		return nil, err
	}

	if cfg.DBPath == "" {
		return nil, fmt.Errorf("DB_PATH is required")
	}
	if cfg.SyncInterval <= 0 {
		return nil, fmt.Errorf("SYNC_INTERVAL must be positive")
	}
	if cfg.AllSpanLimit > cfg.SingleSpanLimit {
		return nil, fmt.Errorf("ALL_SPAN_LIMIT must not exceed SINGLE_SPAN_LIMIT")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationOrDefault(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func timeOrDefault(key string, def time.Time) (time.Time, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %q (want YYYY-MM-DD)", key, s)
	}
	return t.UTC(), nil
}

package store_test

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mfarkas/gridfeed/internal/domain"
	"github.com/mfarkas/gridfeed/internal/observability"
	"github.com/mfarkas/gridfeed/internal/store"
)

// --- helpers ---

func newTestStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gridfeed.db")
	s, err := store.Open(store.Options{
		Path:            path,
		AggregateFrom:   time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC),
		SingleSpanLimit: 5 * 365 * 24 * time.Hour,
		AllSpanLimit:    7 * 24 * time.Hour,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:         observability.NewMetricsForTesting(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

// rawDB opens a second connection to the store's database file for fixture
// setup and white-box assertions.
func rawDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`PRAGMA busy_timeout = 5000`)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedStation(t *testing.T, s *store.Store, number int) {
	t.Helper()
	err := s.UpsertStations(context.Background(), []domain.Station{
		{Number: number, Name: "Test Station", RegioName: "Test", Latitude: 47.5, Longitude: 19.0, Elevation: 120},
	})
	require.NoError(t, err)
}

func seedLoadColumns(t *testing.T, s *store.Store) {
	t.Helper()
	require.NoError(t, s.EnsureLoadColumns(context.Background(), domain.LoadColumns))
}

func ptr(v float64) *float64 { return &v }

func at(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func weatherRow(ts time.Time, station int, temp float64) domain.WeatherRow {
	return domain.WeatherRow{Time: ts, Station: station, Temp: ptr(temp)}
}

func loadRow(ts time.Time, net float64) domain.LoadRow {
	return domain.LoadRow{Time: ts, NetSystemLoad: ptr(net)}
}

func tableCount(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

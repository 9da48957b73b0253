package electricity_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfarkas/gridfeed/internal/domain"
	"github.com/mfarkas/gridfeed/internal/feed"
	"github.com/mfarkas/gridfeed/internal/feed/electricity"
)

type fakeLedger struct {
	columns    []domain.SeriesColumn
	watermarks map[string]domain.Watermark
	minEnd     *time.Time
}

func (f *fakeLedger) EnsureLoadColumns(_ context.Context, cols []domain.SeriesColumn) error {
	f.columns = cols
	return nil
}

func (f *fakeLedger) ColumnWatermark(_ context.Context, column string) (domain.Watermark, error) {
	return f.watermarks[column], nil
}

func (f *fakeLedger) MinColumnEnd(context.Context) (*time.Time, error) {
	return f.minEnd, nil
}

const exportHeader = "Időpont;Nettó terhelés;Bruttó tény rendszerterhelés;Nettó terv rendszerterhelés;Nettó rendszerterhelés becslés (dayahead)\n"

func newConnector(t *testing.T, ledger *fakeLedger, clock clockwork.Clock, handler http.Handler) (*electricity.Connector, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return electricity.New(electricity.Options{
		Client:    feed.NewClient(domain.FeedElectricity, 5*time.Second),
		Ledger:    ledger,
		Clock:     clock,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		ExportURL: srv.URL + "/export",
		Lag:       10 * time.Minute,
	}), srv
}

func TestDiscover_WindowFromSlowestColumn(t *testing.T) {
	now := time.Date(2020, time.March, 1, 12, 3, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)

	conn, _ := newConnector(t, &fakeLedger{}, clock, http.NewServeMux())
	candidates, err := conn.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, time.Date(2007, time.January, 1, 0, 0, 0, 0, time.UTC), candidates[0].From)
	assert.Equal(t, time.Date(2020, time.March, 2, 12, 0, 0, 0, time.UTC), candidates[0].To)

	minEnd := time.Date(2020, time.February, 28, 0, 0, 0, 0, time.UTC)
	conn, _ = newConnector(t, &fakeLedger{minEnd: &minEnd}, clock, http.NewServeMux())
	candidates, err = conn.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, minEnd, candidates[0].From)
}

func TestIsNeeded_LagGate(t *testing.T) {
	now := time.Date(2020, time.March, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	ctx := context.Background()

	fresh := now.Add(-5 * time.Minute)
	conn, _ := newConnector(t, &fakeLedger{watermarks: map[string]domain.Watermark{
		"NetSystemLoad": {End: &fresh},
	}}, clock, http.NewServeMux())
	needed, err := conn.IsNeeded(ctx, feed.Candidate{})
	require.NoError(t, err)
	assert.False(t, needed)

	stale := now.Add(-15 * time.Minute)
	conn, _ = newConnector(t, &fakeLedger{watermarks: map[string]domain.Watermark{
		"NetSystemLoad": {End: &stale},
	}}, clock, http.NewServeMux())
	needed, err = conn.IsNeeded(ctx, feed.Candidate{})
	require.NoError(t, err)
	assert.True(t, needed)

	// Empty store always syncs.
	conn, _ = newConnector(t, &fakeLedger{}, clock, http.NewServeMux())
	needed, err = conn.IsNeeded(ctx, feed.Candidate{})
	require.NoError(t, err)
	assert.True(t, needed)
}

func TestFetch_SequentialChunks(t *testing.T) {
	var mu sync.Mutex
	var windows [][2]int64
	inFlight := 0
	overlapped := false

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		inFlight++
		if inFlight > 1 {
			overlapped = true
		}
		from, _ := strconv.ParseInt(r.URL.Query().Get("fromTime"), 10, 64)
		to, _ := strconv.ParseInt(r.URL.Query().Get("toTime"), 10, 64)
		windows = append(windows, [2]int64{from, to})
		mu.Unlock()

		fromTime := time.UnixMilli(from).UTC()
		body := exportHeader +
			fmt.Sprintf("%s;4000.0;4500.0;;\n", fromTime.Add(10*time.Minute).Format("2006.01.02 15:04:05 -0700")) +
			fmt.Sprintf("%s;;;;\n", fromTime.Add(20*time.Minute).Format("2006.01.02 15:04:05 -0700"))
		_, _ = io.WriteString(w, body)

		mu.Lock()
		inFlight--
		mu.Unlock()
	})

	conn, _ := newConnector(t, &fakeLedger{}, clockwork.NewFakeClock(), handler)

	// A 3-year window needs multiple 60k-row chunks.
	from := time.Date(2007, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2010, time.January, 1, 0, 0, 0, 0, time.UTC)
	batch, err := conn.Fetch(context.Background(), feed.Candidate{From: from, To: to})
	require.NoError(t, err)

	require.Greater(t, len(windows), 1)
	assert.False(t, overlapped, "chunks must not be fetched concurrently")
	assert.Equal(t, domain.Replace, batch.Mode)
	assert.Len(t, batch.Load, len(windows))

	// Chunks tile the window: each starts where the previous ended, and the
	// first steps one grid slot before From for the exclusive lower bound.
	assert.Equal(t, from.Add(-10*time.Minute).UnixMilli(), windows[0][0])
	for i := 1; i < len(windows); i++ {
		assert.Equal(t, windows[i-1][1], windows[i][0])
	}
	assert.Equal(t, to.UnixMilli(), windows[len(windows)-1][1])
}

func TestFetch_TransientErrorPropagates(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	conn, _ := newConnector(t, &fakeLedger{}, clockwork.NewFakeClock(), handler)

	from := time.Date(2020, time.March, 1, 0, 0, 0, 0, time.UTC)
	_, err := conn.Fetch(context.Background(), feed.Candidate{From: from, To: from.Add(time.Hour)})
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
}

func TestRefreshMeta_SeedsColumns(t *testing.T) {
	ledger := &fakeLedger{}
	conn, _ := newConnector(t, ledger, clockwork.NewFakeClock(), http.NewServeMux())
	require.NoError(t, conn.RefreshMeta(context.Background()))
	assert.Equal(t, domain.LoadColumns, ledger.columns)
}

package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfarkas/gridfeed/internal/api"
	"github.com/mfarkas/gridfeed/internal/domain"
)

func newServer(t *testing.T, ready bool) *api.Server {
	t.Helper()
	st, reader := newFixture(t, clockwork.NewFakeClockAt(at(12, 0)))
	seedWeather(t, st, 13704,
		domain.WeatherRow{Time: at(10, 0), Station: 13704, Temp: ptr(10), Prec: ptr(0.2)},
	)
	ctx := context.Background()
	require.NoError(t, st.EnsureLoadColumns(ctx, domain.LoadColumns))
	_, err := st.MergeLoad(ctx, []domain.LoadRow{{Time: at(10, 0), NetSystemLoad: ptr(4000)}}, domain.Replace)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return api.NewServer(":0", reader, func() bool { return ready }, logger)
}

func get(t *testing.T, s *api.Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func rangeQuery(from, to time.Time) string {
	return fmt.Sprintf("from=%s&to=%s",
		url.QueryEscape(from.Format(time.RFC3339)), url.QueryEscape(to.Format(time.RFC3339)))
}

func TestServer_Health(t *testing.T) {
	s := newServer(t, false)
	assert.Equal(t, http.StatusOK, get(t, s, "/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s, "/readyz").Code)

	s = newServer(t, true)
	assert.Equal(t, http.StatusOK, get(t, s, "/readyz").Code)
}

func TestServer_WeatherStation(t *testing.T) {
	s := newServer(t, true)

	rec := get(t, s, "/weather/stations/13704?"+rangeQuery(at(9, 0), at(11, 0)))
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []domain.WeatherRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Temp)
	assert.Equal(t, 10.0, *rows[0].Temp)
}

func TestServer_WeatherStation_NotFound(t *testing.T) {
	s := newServer(t, true)
	rec := get(t, s, "/weather/stations/99999?"+rangeQuery(at(9, 0), at(11, 0)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_MissingRangeIsBadRequest(t *testing.T) {
	s := newServer(t, true)
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/weather/stations/13704").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, s, "/load?from=garbage&to=alsogarbage").Code)
}

func TestServer_SpanLimitIsBadRequest(t *testing.T) {
	s := newServer(t, true)
	rec := get(t, s, "/weather?"+rangeQuery(at(9, 0), at(9, 0).Add(8*24*time.Hour)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Load(t *testing.T) {
	s := newServer(t, true)
	rec := get(t, s, "/load?"+rangeQuery(at(9, 0), at(11, 0)))
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []domain.LoadRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].NetSystemLoad)
	assert.Equal(t, 4000.0, *rows[0].NetSystemLoad)
}

func TestServer_Aggregate(t *testing.T) {
	s := newServer(t, true)
	rec := get(t, s, "/aggregate/10min?"+rangeQuery(at(9, 0), at(11, 0)))
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []domain.JointRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Prec)
	assert.Equal(t, 0.2, *rows[0].Prec)
}

func TestServer_Status(t *testing.T) {
	s := newServer(t, true)
	rec := get(t, s, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Entities   []domain.EntityStatus `json:"entities"`
		LastUpdate *time.Time            `json:"lastUpdate"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Entities, 1+len(domain.LoadColumns))
	require.NotNil(t, body.LastUpdate)
	assert.Equal(t, at(10, 0), body.LastUpdate.UTC())
}

func TestServer_Columns(t *testing.T) {
	s := newServer(t, true)

	rec := get(t, s, "/weather/columns")
	require.Equal(t, http.StatusOK, rec.Code)
	var cols []domain.SeriesColumn
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cols))
	assert.Equal(t, domain.WeatherColumns, cols)

	rec = get(t, s, "/load/meta")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cols))
	assert.Equal(t, domain.LoadColumns, cols)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mfarkas/gridfeed/internal/domain"
)

// ReadyChecker reports whether the service finished its startup sync.
type ReadyChecker func() bool

// Server exposes the query surface plus health, readiness and metrics routes.
type Server struct {
	httpServer *http.Server
	reader     *Reader
	logger     *slog.Logger
}

func NewServer(addr string, reader *Reader, ready ReadyChecker, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		reader: reader,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if !ready() {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /weather/meta", s.handleWeatherMeta)
	mux.HandleFunc("GET /weather/columns", s.handleWeatherColumns)
	mux.HandleFunc("GET /weather/stations/{id}", s.handleWeatherStation)
	mux.HandleFunc("GET /weather", s.handleWeatherAll)
	mux.HandleFunc("GET /load/meta", s.handleLoadMeta)
	mux.HandleFunc("GET /load", s.handleLoad)
	mux.HandleFunc("GET /aggregate/10min", s.handleAggregate(key10min))
	mux.HandleFunc("GET /aggregate/hourly", s.handleAggregate(keyHourly))

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// --- handlers ---

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	entities, err := s.reader.Status(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	var last *time.Time
	for _, e := range entities {
		if e.End != nil && (last == nil || e.End.After(*last)) {
			last = e.End
		}
	}
	s.writeJSON(w, map[string]any{"entities": entities, "lastUpdate": last})
}

func (s *Server) handleWeatherMeta(w http.ResponseWriter, r *http.Request) {
	stations, err := s.reader.WeatherMeta(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, stations)
}

func (s *Server) handleWeatherColumns(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, domain.WeatherColumns)
}

func (s *Server) handleLoadMeta(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, domain.LoadColumns)
}

func (s *Server) handleWeatherStation(w http.ResponseWriter, r *http.Request) {
	station, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.writeError(w, domain.ErrUnknownStation)
		return
	}
	from, to, ok := s.timeRange(w, r)
	if !ok {
		return
	}
	rows, err := s.reader.WeatherRange(r.Context(), station, from, to, listParam(r, "cols"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, rows)
}

func (s *Server) handleWeatherAll(w http.ResponseWriter, r *http.Request) {
	from, to, ok := s.timeRange(w, r)
	if !ok {
		return
	}
	var stations []int
	for _, raw := range listParam(r, "stations") {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, domain.ErrUnknownStation)
			return
		}
		stations = append(stations, n)
	}
	rows, err := s.reader.WeatherRangeAll(r.Context(), from, to, listParam(r, "cols"), stations)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, rows)
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	from, to, ok := s.timeRange(w, r)
	if !ok {
		return
	}
	rows, err := s.reader.LoadRange(r.Context(), from, to, listParam(r, "cols"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, rows)
}

func (s *Server) handleAggregate(which string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, to, ok := s.timeRange(w, r)
		if !ok {
			return
		}
		rows, err := s.reader.Aggregate(r.Context(), which, from, to)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, rows)
	}
}

// --- plumbing ---

var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", time.DateOnly}

func parseTimeParam(raw string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, domain.ErrInvalidQuery
}

func (s *Server) timeRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	fromRaw, toRaw := r.URL.Query().Get("from"), r.URL.Query().Get("to")
	if fromRaw == "" || toRaw == "" {
		s.writeError(w, domain.ErrInvalidQuery)
		return time.Time{}, time.Time{}, false
	}
	from, err := parseTimeParam(fromRaw)
	if err != nil {
		s.writeError(w, err)
		return time.Time{}, time.Time{}, false
	}
	to, err := parseTimeParam(toRaw)
	if err != nil {
		s.writeError(w, err)
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func listParam(r *http.Request, name string) []string {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encoding failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidQuery):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrUnknownStation):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("query failed", "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

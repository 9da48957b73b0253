// Package api exposes the read surface: a cached reader over the store and
// the HTTP server serving it.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mfarkas/gridfeed/internal/cache"
	"github.com/mfarkas/gridfeed/internal/domain"
	"github.com/mfarkas/gridfeed/internal/observability"
	"github.com/mfarkas/gridfeed/internal/store"
)

const (
	keyLoad        = "load"
	key10min       = "10min"
	keyHourly      = "hourly"
	stationKeyPref = "station/"
)

// ReaderOptions configures a Reader.
type ReaderOptions struct {
	Store *store.Store
	Clock clockwork.Clock

	SingleSpanLimit time.Duration
	AllSpanLimit    time.Duration
	PrewarmWindow   time.Duration

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Reader answers range queries from in-memory snapshots where it can and
// falls back to the store where it can't. Merge commits invalidate exactly
// the touched keys, so a hit is never staler than the last commit.
type Reader struct {
	store *store.Store
	clock clockwork.Clock

	weather *cache.Cache[domain.WeatherRow]
	load    *cache.Cache[domain.LoadRow]
	joint   *cache.Cache[domain.JointRow]

	singleSpanLimit time.Duration
	allSpanLimit    time.Duration
	prewarmWindow   time.Duration

	logger *slog.Logger
	mtr    *observability.Metrics
}

func NewReader(opts ReaderOptions) *Reader {
	r := &Reader{
		store:           opts.Store,
		clock:           opts.Clock,
		weather:         cache.New("weather", func(w domain.WeatherRow) time.Time { return w.Time }, domain.WeatherRow.Clone, opts.Metrics),
		load:            cache.New("load", func(l domain.LoadRow) time.Time { return l.Time }, domain.LoadRow.Clone, opts.Metrics),
		joint:           cache.New("joint", func(j domain.JointRow) time.Time { return j.Time }, domain.JointRow.Clone, opts.Metrics),
		singleSpanLimit: opts.SingleSpanLimit,
		allSpanLimit:    opts.AllSpanLimit,
		prewarmWindow:   opts.PrewarmWindow,
		logger:          opts.Logger,
		mtr:             opts.Metrics,
	}
	opts.Store.OnCommit(r.invalidate)
	return r
}

// invalidate drops the keys a commit touched. Both joint tables derive from
// either feed, so they always go.
func (r *Reader) invalidate(c store.Commit) {
	if c.Feed == domain.FeedWeather {
		r.weather.Invalidate(stationKey(c.Station))
	} else {
		r.load.Invalidate(keyLoad)
	}
	r.joint.Invalidate(key10min)
	r.joint.Invalidate(keyHourly)
}

func stationKey(station int) string {
	return fmt.Sprintf("%s%d", stationKeyPref, station)
}

// Prewarm refreshes the shared snapshots on a trailing window. Called after
// every sync cycle that merged rows, and once at startup.
func (r *Reader) Prewarm(ctx context.Context) error {
	now := r.clock.Now().UTC()
	from := now.Add(-r.prewarmWindow)
	// The load feed publishes a day ahead.
	to := now.Add(24 * time.Hour)

	loadRows, err := r.store.LoadRange(ctx, from, to, nil)
	if err != nil {
		return fmt.Errorf("prewarm load: %w", err)
	}
	r.load.Set(keyLoad, loadRows, &from)

	for _, which := range []string{key10min, keyHourly} {
		rows, err := r.store.Aggregate(ctx, which, from, to)
		if err != nil {
			return fmt.Errorf("prewarm %s: %w", which, err)
		}
		r.joint.Set(which, rows, &from)
	}
	r.logger.Debug("cache prewarmed", "from", from, "load_rows", len(loadRows))
	return nil
}

// WeatherRange serves one station's rows. Full-column requests go through the
// per-station snapshot, filling it on first miss; column-filtered requests
// pass straight through to the store.
func (r *Reader) WeatherRange(ctx context.Context, station int, from, to time.Time, cols []string) ([]domain.WeatherRow, error) {
	if err := r.checkSpan(from, to, r.singleSpanLimit); err != nil {
		return nil, err
	}
	if len(cols) > 0 {
		return r.store.WeatherRange(ctx, station, from, to, cols)
	}

	key := stationKey(station)
	if rows, ok := r.weather.Get(key, from, to); ok {
		return rows, nil
	}

	wm, err := r.store.StationWatermark(ctx, station)
	if err != nil {
		return nil, err
	}
	if wm.Covered(from, to) {
		snapFrom := *wm.Start
		if wm.End.Sub(snapFrom) > r.singleSpanLimit {
			snapFrom = wm.End.Add(-r.singleSpanLimit)
		}
		rows, err := r.store.WeatherRange(ctx, station, snapFrom, *wm.End, nil)
		if err != nil {
			return nil, err
		}
		r.weather.Set(key, rows, &snapFrom)
		if got, ok := r.weather.Get(key, from, to); ok {
			return got, nil
		}
	}
	return r.store.WeatherRange(ctx, station, from, to, nil)
}

// WeatherRangeAll always goes to the store; the all-stations span limit keeps
// these scans short.
func (r *Reader) WeatherRangeAll(ctx context.Context, from, to time.Time, cols []string, stations []int) ([]domain.WeatherRow, error) {
	if err := r.checkSpan(from, to, r.allSpanLimit); err != nil {
		return nil, err
	}
	return r.store.WeatherRangeAll(ctx, from, to, cols, stations)
}

// LoadRange serves from the prewarmed snapshot when the requested range falls
// inside it.
func (r *Reader) LoadRange(ctx context.Context, from, to time.Time, cols []string) ([]domain.LoadRow, error) {
	if err := r.checkSpan(from, to, r.singleSpanLimit); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		if rows, ok := r.load.Get(keyLoad, from, to); ok {
			return rows, nil
		}
	}
	return r.store.LoadRange(ctx, from, to, cols)
}

// Aggregate serves a joint table, preferring the prewarmed snapshot.
func (r *Reader) Aggregate(ctx context.Context, which string, from, to time.Time) ([]domain.JointRow, error) {
	if which != key10min && which != keyHourly {
		return nil, fmt.Errorf("%w: unknown aggregate %q", domain.ErrInvalidQuery, which)
	}
	if err := r.checkSpan(from, to, r.singleSpanLimit); err != nil {
		return nil, err
	}
	if rows, ok := r.joint.Get(which, from, to); ok {
		return rows, nil
	}
	return r.store.Aggregate(ctx, which, from, to)
}

// WeatherMeta passes through; the catalog is tiny and rarely read.
func (r *Reader) WeatherMeta(ctx context.Context) ([]domain.Station, error) {
	return r.store.WeatherMeta(ctx)
}

func (r *Reader) Status(ctx context.Context) ([]domain.EntityStatus, error) {
	return r.store.Status(ctx)
}

func (r *Reader) checkSpan(from, to time.Time, limit time.Duration) error {
	if to.Sub(from) > limit {
		r.mtr.QueryErrors.Inc()
		return fmt.Errorf("%w: span %s exceeds limit %s", domain.ErrInvalidQuery, to.Sub(from), limit)
	}
	return nil
}

package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/mfarkas/gridfeed/internal/domain"
	"github.com/mfarkas/gridfeed/internal/observability"
)

// Merger is the write half of the store the syncer needs.
type Merger interface {
	MergeWeather(ctx context.Context, station int, rows []domain.WeatherRow, mode domain.MergeMode) (domain.WriteResult, error)
	MergeLoad(ctx context.Context, rows []domain.LoadRow, mode domain.MergeMode) (domain.WriteResult, error)
}

// Prewarmer refreshes cache windows after a cycle that merged new rows.
type Prewarmer interface {
	Prewarm(ctx context.Context) error
}

// metaRefresher is implemented by connectors that maintain an entity catalog.
type metaRefresher interface {
	RefreshMeta(ctx context.Context) error
}

// Syncer drives every connector on a fixed interval. Each feed gets its own
// singleton job: runs for different feeds overlap freely, runs for the same
// feed never do.
type Syncer struct {
	scheduler  *gocron.Scheduler
	connectors []Connector
	merger     Merger
	prewarmer  Prewarmer

	interval    time.Duration
	syncTimeout time.Duration

	logger *slog.Logger
	mtr    *observability.Metrics
}

// SyncerOptions configures a Syncer.
type SyncerOptions struct {
	Connectors  []Connector
	Merger      Merger
	Prewarmer   Prewarmer // may be nil
	Interval    time.Duration
	SyncTimeout time.Duration
	Logger      *slog.Logger
	Metrics     *observability.Metrics
}

func NewSyncer(opts SyncerOptions) *Syncer {
	return &Syncer{
		scheduler:   gocron.NewScheduler(time.UTC),
		connectors:  opts.Connectors,
		merger:      opts.Merger,
		prewarmer:   opts.Prewarmer,
		interval:    opts.Interval,
		syncTimeout: opts.SyncTimeout,
		logger:      opts.Logger,
		mtr:         opts.Metrics,
	}
}

// Startup brings the store up to date before periodic syncing begins:
// refresh each connector's catalog, then run sync passes until a pass merges
// nothing. Archives unlocked by a previous pass (a fresh day of recent data
// making the short-window snapshots stale) are picked up by the next one.
func (s *Syncer) Startup(ctx context.Context) error {
	for _, c := range s.connectors {
		if r, ok := c.(metaRefresher); ok {
			if err := r.RefreshMeta(ctx); err != nil {
				return fmt.Errorf("startup %s: %w", c.Name(), err)
			}
		}
	}

	const maxPasses = 3
	for _, c := range s.connectors {
		for pass := 0; pass < maxPasses; pass++ {
			merged, err := s.runOnce(ctx, c)
			if err != nil {
				return fmt.Errorf("startup %s: %w", c.Name(), err)
			}
			if !merged {
				break
			}
		}
	}

	if s.prewarmer != nil {
		if err := s.prewarmer.Prewarm(ctx); err != nil {
			s.logger.Warn("prewarm failed", "error", err)
		}
	}
	return nil
}

// Start schedules one periodic job per connector and starts the scheduler.
func (s *Syncer) Start(ctx context.Context) error {
	for _, c := range s.connectors {
		c := c
		_, err := s.scheduler.Every(s.interval).SingletonMode().Do(func() {
			s.runScheduled(ctx, c)
		})
		if err != nil {
			return fmt.Errorf("schedule %s: %w", c.Name(), err)
		}
	}
	s.scheduler.StartAsync()
	return nil
}

// Stop halts the scheduler; running jobs finish their current candidate.
func (s *Syncer) Stop() {
	s.scheduler.Stop()
}

func (s *Syncer) runScheduled(ctx context.Context, c Connector) {
	runCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	start := time.Now()
	merged, err := s.runOnce(runCtx, c)
	s.mtr.SyncDuration.WithLabelValues(c.Name()).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		s.mtr.SyncRuns.WithLabelValues(c.Name(), "error").Inc()
		s.logger.Error("sync run failed", "feed", c.Name(), "error", err)
	case merged:
		s.mtr.SyncRuns.WithLabelValues(c.Name(), "updated").Inc()
		if s.prewarmer != nil {
			if err := s.prewarmer.Prewarm(runCtx); err != nil {
				s.logger.Warn("prewarm failed", "feed", c.Name(), "error", err)
			}
		}
	default:
		s.mtr.SyncRuns.WithLabelValues(c.Name(), "noop").Inc()
	}
}

// runOnce runs one full sync pass for a connector: discover, filter by need,
// fetch and merge. A failing candidate is logged and skipped so its siblings
// still land; only discovery failure or a dead context aborts the pass.
func (s *Syncer) runOnce(ctx context.Context, c Connector) (bool, error) {
	candidates, err := c.Discover(ctx)
	if err != nil {
		return false, fmt.Errorf("discover: %w", err)
	}

	merged := false
	for _, cand := range candidates {
		if ctx.Err() != nil {
			return merged, ctx.Err()
		}

		needed, err := c.IsNeeded(ctx, cand)
		if err != nil {
			s.logger.Error("need check failed", "feed", c.Name(), "candidate", cand.Name, "error", err)
			continue
		}
		if !needed {
			continue
		}

		batch, err := c.Fetch(ctx, cand)
		if err != nil {
			s.skipCandidate(c.Name(), cand, err)
			continue
		}
		if batch.Empty() {
			continue
		}

		inserted, updated := 0, 0
		if len(batch.Weather) > 0 {
			// Snapshot archives carry every station at once; merge each
			// station's slice on its own so the per-station watermarks move.
			for station, rows := range groupByStation(batch) {
				res, err := s.merger.MergeWeather(ctx, station, rows, batch.Mode)
				if err != nil {
					s.logger.Error("merge failed",
						"feed", c.Name(), "candidate", cand.Name, "station", station, "error", err)
					continue
				}
				inserted += res.Inserted
				updated += res.Updated
			}
		} else {
			res, err := s.merger.MergeLoad(ctx, batch.Load, batch.Mode)
			if err != nil {
				s.logger.Error("merge failed", "feed", c.Name(), "candidate", cand.Name, "error", err)
				continue
			}
			inserted, updated = res.Inserted, res.Updated
		}
		if inserted > 0 || updated > 0 {
			merged = true
			s.logger.Info("candidate merged",
				"feed", c.Name(), "candidate", cand.Name, "kind", cand.Kind,
				"inserted", inserted, "updated", updated)
		}
	}
	return merged, nil
}

// groupByStation splits a weather batch into per-station row slices. A
// station-scoped batch maps directly; snapshot batches split by the station
// column.
func groupByStation(b Batch) map[int][]domain.WeatherRow {
	if b.Station != 0 {
		return map[int][]domain.WeatherRow{b.Station: b.Weather}
	}
	out := make(map[int][]domain.WeatherRow)
	for _, r := range b.Weather {
		out[r.Station] = append(out[r.Station], r)
	}
	return out
}

func (s *Syncer) skipCandidate(feed string, cand Candidate, err error) {
	kind := "malformed"
	var malformed *domain.MalformedPayloadError
	if domain.IsTransient(err) {
		kind = "transient"
	} else if !errors.As(err, &malformed) {
		kind = "other"
	}
	s.mtr.FetchErrors.WithLabelValues(feed, kind).Inc()
	s.logger.Warn("candidate skipped", "feed", feed, "candidate", cand.Name, "kind", kind, "error", err)
}

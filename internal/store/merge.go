package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mfarkas/gridfeed/internal/domain"
)

// Merge engine. Row writes and the watermark update commit in one
// transaction: a crash between the two is impossible, and because both merge
// modes are idempotent the whole batch is safe to retry. The aggregate
// maintainer and the commit hooks run after the commit.

// MergeWeather writes one station's normalized batch into weather_data.
// InsertIfAbsent never touches timestamps already present; Replace lets the
// batch win.
func (s *Store) MergeWeather(ctx context.Context, station int, rows []domain.WeatherRow, mode domain.MergeMode) (domain.WriteResult, error) {
	if len(rows) == 0 {
		return domain.WriteResult{}, nil
	}

	start := time.Now()
	res := domain.WriteResult{MinTime: rows[0].Time, MaxTime: rows[0].Time}
	for _, r := range rows[1:] {
		if r.Time.Before(res.MinTime) {
			res.MinTime = r.Time
		}
		if r.Time.After(res.MaxTime) {
			res.MaxTime = r.Time
		}
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		before, err := countRows(ctx, tx, `SELECT COUNT(*) FROM weather_data WHERE StationNumber = ?`, station)
		if err != nil {
			return err
		}

		conflict := `ON CONFLICT(StationNumber, Time) DO NOTHING`
		if mode == domain.Replace {
			conflict = `ON CONFLICT(StationNumber, Time) DO UPDATE SET
				Prec = excluded.Prec, Temp = excluded.Temp, Pres = excluded.Pres,
				RHum = excluded.RHum, GRad = excluded.GRad, AvgWS = excluded.AvgWS`
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO weather_data (Time, StationNumber, Prec, Temp, Pres, RHum, GRad, AvgWS)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?) `+conflict)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, fmtTime(r.Time), station,
				floatArg(r.Prec), floatArg(r.Temp), floatArg(r.Pres),
				floatArg(r.RHum), floatArg(r.GRad), floatArg(r.AvgWS)); err != nil {
				return fmt.Errorf("merge weather row %s/%d: %w", fmtTime(r.Time), station, err)
			}
		}

		after, err := countRows(ctx, tx, `SELECT COUNT(*) FROM weather_data WHERE StationNumber = ?`, station)
		if err != nil {
			return err
		}
		res.Inserted = after - before
		if mode == domain.Replace {
			res.Updated = len(rows) - res.Inserted
		}

		return recordStationWrite(ctx, tx, station, res.MinTime, res.MaxTime)
	})
	if err != nil {
		return domain.WriteResult{}, err
	}

	s.observeMerge(domain.FeedWeather, mode, res, start)

	if err := s.ApplyWeather(ctx, batchTimes(rows, func(r domain.WeatherRow) time.Time { return r.Time })); err != nil {
		// The fact rows are committed; the next merge touching these
		// timestamps recomputes the same cells.
		s.logger.Error("aggregate maintenance failed", "feed", domain.FeedWeather, "error", err)
	}

	s.fireHooks(Commit{Feed: domain.FeedWeather, Station: station, Mode: mode, Result: res})
	return res, nil
}

// MergeLoad writes a normalized load batch into load_data and extends each
// column's watermark over the batch's non-null values.
func (s *Store) MergeLoad(ctx context.Context, rows []domain.LoadRow, mode domain.MergeMode) (domain.WriteResult, error) {
	if len(rows) == 0 {
		return domain.WriteResult{}, nil
	}

	start := time.Now()
	res := domain.WriteResult{MinTime: rows[0].Time, MaxTime: rows[0].Time}
	for _, r := range rows[1:] {
		if r.Time.Before(res.MinTime) {
			res.MinTime = r.Time
		}
		if r.Time.After(res.MaxTime) {
			res.MaxTime = r.Time
		}
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		before, err := countRows(ctx, tx, `SELECT COUNT(*) FROM load_data`)
		if err != nil {
			return err
		}

		conflict := `ON CONFLICT(Time) DO NOTHING`
		if mode == domain.Replace {
			conflict = `ON CONFLICT(Time) DO UPDATE SET
				NetSystemLoad = excluded.NetSystemLoad,
				GrossSystemLoad = excluded.GrossSystemLoad,
				NetPlanSystemLoad = excluded.NetPlanSystemLoad,
				NetLoadDayAheadEstimate = excluded.NetLoadDayAheadEstimate`
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO load_data (Time, NetSystemLoad, GrossSystemLoad, NetPlanSystemLoad, NetLoadDayAheadEstimate)
			VALUES (?, ?, ?, ?, ?) `+conflict)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, fmtTime(r.Time),
				floatArg(r.NetSystemLoad), floatArg(r.GrossSystemLoad),
				floatArg(r.NetPlanSystemLoad), floatArg(r.NetLoadDayAheadEstimate)); err != nil {
				return fmt.Errorf("merge load row %s: %w", fmtTime(r.Time), err)
			}
		}

		after, err := countRows(ctx, tx, `SELECT COUNT(*) FROM load_data`)
		if err != nil {
			return err
		}
		res.Inserted = after - before
		if mode == domain.Replace {
			res.Updated = len(rows) - res.Inserted
		}

		return recordLoadWrites(ctx, tx, rows)
	})
	if err != nil {
		return domain.WriteResult{}, err
	}

	s.observeMerge(domain.FeedElectricity, mode, res, start)

	if err := s.ApplyLoad(ctx, batchTimes(rows, func(r domain.LoadRow) time.Time { return r.Time })); err != nil {
		s.logger.Error("aggregate maintenance failed", "feed", domain.FeedElectricity, "error", err)
	}

	s.fireHooks(Commit{Feed: domain.FeedElectricity, Mode: mode, Result: res})
	return res, nil
}

func (s *Store) observeMerge(feed string, mode domain.MergeMode, res domain.WriteResult, start time.Time) {
	s.mtr.RowsMerged.WithLabelValues(feed, mode.String()).Add(float64(res.Inserted + res.Updated))
	s.mtr.MergeDuration.WithLabelValues(feed).Observe(time.Since(start).Seconds())
	s.mtr.WatermarkEnd.WithLabelValues(feed).Set(float64(res.MaxTime.Unix()))
}

func countRows(ctx context.Context, tx *sql.Tx, query string, args ...any) (int, error) {
	var n int
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

// batchTimes collects the distinct timestamps of a batch, preserving order.
func batchTimes[T any](rows []T, at func(T) time.Time) []time.Time {
	seen := make(map[time.Time]struct{}, len(rows))
	out := make([]time.Time, 0, len(rows))
	for _, r := range rows {
		t := at(r).UTC()
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

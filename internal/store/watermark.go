package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mfarkas/gridfeed/internal/domain"
)

// Watermark tracking. Each entity's [StartDate, EndDate] is kept next to its
// metadata row. Under normal operation both bounds only extend outward:
// recordStationWrite / recordLoadWrites lower StartDate and raise EndDate but
// never the reverse. RepairWatermarks is the explicit exception.

// StationWatermark returns the covered range for one station. Both bounds are
// nil until the first successful merge for that station.
func (s *Store) StationWatermark(ctx context.Context, station int) (domain.Watermark, error) {
	var start, end sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT StartDate, EndDate FROM weather_meta WHERE StationNumber = ?`, station).Scan(&start, &end)
	if err == sql.ErrNoRows {
		return domain.Watermark{}, fmt.Errorf("station %d: %w", station, domain.ErrUnknownStation)
	}
	if err != nil {
		return domain.Watermark{}, fmt.Errorf("station watermark: %w", err)
	}
	return scanWatermark(start, end)
}

// ColumnWatermark returns the covered range for one load series column.
func (s *Store) ColumnWatermark(ctx context.Context, column string) (domain.Watermark, error) {
	var start, end sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT StartDate, EndDate FROM load_meta WHERE "Column" = ?`, column).Scan(&start, &end)
	if err == sql.ErrNoRows {
		return domain.Watermark{}, fmt.Errorf("column %q: %w", column, domain.ErrInvalidQuery)
	}
	if err != nil {
		return domain.Watermark{}, fmt.Errorf("column watermark: %w", err)
	}
	return scanWatermark(start, end)
}

// MaxStationEnd returns the newest EndDate across all stations, or nil when
// no station has data yet. The weather connector's "is the live export due"
// check keys off this.
func (s *Store) MaxStationEnd(ctx context.Context) (*time.Time, error) {
	var end sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(EndDate) FROM weather_meta`).Scan(&end); err != nil {
		return nil, fmt.Errorf("max station end: %w", err)
	}
	return scanNullTime(end)
}

// MinColumnEnd returns the oldest EndDate across load columns, or nil when
// any column is still empty. Syncing from the minimum guarantees every column
// catches up, at the cost of re-fetching rows other columns already cover.
// Harmless, because the load merge replaces.
func (s *Store) MinColumnEnd(ctx context.Context) (*time.Time, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM load_meta WHERE EndDate IS NULL`).Scan(&n); err != nil {
		return nil, fmt.Errorf("min column end: %w", err)
	}
	if n > 0 {
		return nil, nil
	}
	var end sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(EndDate) FROM load_meta`).Scan(&end); err != nil {
		return nil, fmt.Errorf("min column end: %w", err)
	}
	return scanNullTime(end)
}

// recordStationWrite extends a station's watermark outward to cover
// [minTime, maxTime]. Called by the merge engine only, inside the same
// transaction as the row writes.
func recordStationWrite(ctx context.Context, tx *sql.Tx, station int, minTime, maxTime time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE weather_meta SET
			StartDate = CASE WHEN StartDate IS NULL OR StartDate > ?1 THEN ?1 ELSE StartDate END,
			EndDate   = CASE WHEN EndDate   IS NULL OR EndDate   < ?2 THEN ?2 ELSE EndDate   END
		WHERE StationNumber = ?3`,
		fmtTime(minTime), fmtTime(maxTime), station)
	if err != nil {
		return fmt.Errorf("record station watermark: %w", err)
	}
	return nil
}

// recordLoadWrites extends each column's watermark to cover the batch's
// non-null values for that column. Columns the batch carries no values for
// are untouched, so independently-arriving plan and fact columns keep
// independent watermarks.
func recordLoadWrites(ctx context.Context, tx *sql.Tx, rows []domain.LoadRow) error {
	type bounds struct{ min, max time.Time }
	seen := make(map[string]*bounds, len(domain.LoadColumns))

	observe := func(col string, v *float64, t time.Time) {
		if v == nil {
			return
		}
		b, ok := seen[col]
		if !ok {
			seen[col] = &bounds{min: t, max: t}
			return
		}
		if t.Before(b.min) {
			b.min = t
		}
		if t.After(b.max) {
			b.max = t
		}
	}

	for _, r := range rows {
		observe("NetSystemLoad", r.NetSystemLoad, r.Time)
		observe("GrossSystemLoad", r.GrossSystemLoad, r.Time)
		observe("NetPlanSystemLoad", r.NetPlanSystemLoad, r.Time)
		observe("NetLoadDayAheadEstimate", r.NetLoadDayAheadEstimate, r.Time)
	}

	for col, b := range seen {
		_, err := tx.ExecContext(ctx, `
			UPDATE load_meta SET
				StartDate = CASE WHEN StartDate IS NULL OR StartDate > ?1 THEN ?1 ELSE StartDate END,
				EndDate   = CASE WHEN EndDate   IS NULL OR EndDate   < ?2 THEN ?2 ELSE EndDate   END
			WHERE "Column" = ?3`,
			fmtTime(b.min), fmtTime(b.max), col)
		if err != nil {
			return fmt.Errorf("record column watermark %s: %w", col, err)
		}
	}
	return nil
}

// RepairWatermarks recomputes every watermark from the fact tables. This is
// the explicit repair path and the only operation allowed to shrink a bound,
// e.g. after rows were deleted by hand.
func (s *Store) RepairWatermarks(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE weather_meta SET
				StartDate = (SELECT MIN(Time) FROM weather_data WHERE StationNumber = weather_meta.StationNumber),
				EndDate   = (SELECT MAX(Time) FROM weather_data WHERE StationNumber = weather_meta.StationNumber)`)
		if err != nil {
			return fmt.Errorf("repair station watermarks: %w", err)
		}
		for _, col := range domain.LoadColumnNames {
			_, err := tx.ExecContext(ctx, fmt.Sprintf(`
				UPDATE load_meta SET
					StartDate = (SELECT MIN(Time) FROM load_data WHERE %[1]s IS NOT NULL),
					EndDate   = (SELECT MAX(Time) FROM load_data WHERE %[1]s IS NOT NULL)
				WHERE "Column" = ?`, col), col)
			if err != nil {
				return fmt.Errorf("repair column watermark %s: %w", col, err)
			}
		}
		return nil
	})
}

func scanWatermark(start, end sql.NullString) (domain.Watermark, error) {
	st, err := scanNullTime(start)
	if err != nil {
		return domain.Watermark{}, err
	}
	en, err := scanNullTime(end)
	if err != nil {
		return domain.Watermark{}, err
	}
	return domain.Watermark{Start: st, End: en}, nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Aggregate maintainer. joint_10min and joint_hourly are derived tables owned
// by this file: every cell is a pure function of the fact tables, recomputed
// for exactly the timestamps a merge touched. Recomputing a cell twice yields
// the same value, so a crash between a merge commit and maintenance heals on
// the next batch covering the same timestamps.

// ApplyWeather recomputes the weather columns of the joint rows at the given
// timestamps from weather_data, then re-aggregates the hourly buckets those
// timestamps fall into. Precipitation sums across stations, everything else
// averages. Timestamps before AggregateFrom are ignored.
func (s *Store) ApplyWeather(ctx context.Context, times []time.Time) error {
	times = s.aggregable(times)
	if len(times) == 0 {
		return nil
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		upsert, err := tx.PrepareContext(ctx, `
			INSERT INTO joint_10min (Time, Prec, Temp, RHum, GRad, Pres, Wind)
			SELECT ?1, SUM(Prec), AVG(Temp), AVG(RHum), AVG(GRad), AVG(Pres), AVG(AvgWS)
			FROM weather_data WHERE Time = ?1
			GROUP BY Time HAVING COUNT(*) > 0
			ON CONFLICT(Time) DO UPDATE SET
				Prec = excluded.Prec, Temp = excluded.Temp, RHum = excluded.RHum,
				GRad = excluded.GRad, Pres = excluded.Pres, Wind = excluded.Wind`)
		if err != nil {
			return err
		}
		defer upsert.Close()

		// SELECT over zero source rows yields no row at all, so a joint row
		// whose weather inputs were all deleted needs an explicit NULL pass.
		nullify, err := tx.PrepareContext(ctx, `
			UPDATE joint_10min
			SET Prec = NULL, Temp = NULL, RHum = NULL, GRad = NULL, Pres = NULL, Wind = NULL
			WHERE Time = ?1
			AND NOT EXISTS (SELECT 1 FROM weather_data WHERE Time = ?1)`)
		if err != nil {
			return err
		}
		defer nullify.Close()

		for _, t := range times {
			arg := fmtTime(t)
			if _, err := upsert.ExecContext(ctx, arg); err != nil {
				return fmt.Errorf("joint weather cell %s: %w", arg, err)
			}
			if _, err := nullify.ExecContext(ctx, arg); err != nil {
				return fmt.Errorf("joint weather nullify %s: %w", arg, err)
			}
		}
		return s.recomputeHourly(ctx, tx, times)
	})
	if err != nil {
		return fmt.Errorf("apply weather aggregates: %w", err)
	}
	return nil
}

// ApplyLoad recomputes the NetSystemLoad column of the joint rows at the
// given timestamps from load_data, then the affected hourly buckets.
func (s *Store) ApplyLoad(ctx context.Context, times []time.Time) error {
	times = s.aggregable(times)
	if len(times) == 0 {
		return nil
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		upsert, err := tx.PrepareContext(ctx, `
			INSERT INTO joint_10min (Time, NetSystemLoad)
			SELECT Time, NetSystemLoad FROM load_data WHERE Time = ?1
			ON CONFLICT(Time) DO UPDATE SET NetSystemLoad = excluded.NetSystemLoad`)
		if err != nil {
			return err
		}
		defer upsert.Close()

		nullify, err := tx.PrepareContext(ctx, `
			UPDATE joint_10min SET NetSystemLoad = NULL
			WHERE Time = ?1
			AND NOT EXISTS (SELECT 1 FROM load_data WHERE Time = ?1)`)
		if err != nil {
			return err
		}
		defer nullify.Close()

		for _, t := range times {
			arg := fmtTime(t)
			if _, err := upsert.ExecContext(ctx, arg); err != nil {
				return fmt.Errorf("joint load cell %s: %w", arg, err)
			}
			if _, err := nullify.ExecContext(ctx, arg); err != nil {
				return fmt.Errorf("joint load nullify %s: %w", arg, err)
			}
		}
		return s.recomputeHourly(ctx, tx, times)
	})
	if err != nil {
		return fmt.Errorf("apply load aggregates: %w", err)
	}
	return nil
}

// recomputeHourly re-aggregates every hourly bucket one of the given
// timestamps falls into. A bucket labeled b covers (b-1h, b]; it is written
// only once joint_10min holds a row past b, so a bucket never reports a
// partial hour that is still filling. The predecessor bucket of each touched
// one is included because a new row can flip its finality.
func (s *Store) recomputeHourly(ctx context.Context, tx *sql.Tx, times []time.Time) error {
	buckets := make(map[time.Time]struct{}, len(times))
	for _, t := range times {
		b := hourBucket(t)
		buckets[b] = struct{}{}
		buckets[b.Add(-time.Hour)] = struct{}{}
	}

	upsert, err := tx.PrepareContext(ctx, `
		INSERT INTO joint_hourly (Time, NetSystemLoad, Prec, Temp, RHum, GRad, Pres, Wind)
		SELECT ?2, AVG(NetSystemLoad), SUM(Prec), AVG(Temp), AVG(RHum), AVG(GRad), AVG(Pres), AVG(Wind)
		FROM joint_10min WHERE Time > ?1 AND Time <= ?2
		ON CONFLICT(Time) DO UPDATE SET
			NetSystemLoad = excluded.NetSystemLoad, Prec = excluded.Prec,
			Temp = excluded.Temp, RHum = excluded.RHum, GRad = excluded.GRad,
			Pres = excluded.Pres, Wind = excluded.Wind`)
	if err != nil {
		return err
	}
	defer upsert.Close()

	for b := range buckets {
		end := fmtTime(b)
		start := fmtTime(b.Add(-time.Hour))

		var final bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM joint_10min WHERE Time > ?)`, end).Scan(&final)
		if err != nil {
			return fmt.Errorf("hourly finality %s: %w", end, err)
		}
		if !final {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM joint_hourly WHERE Time = ?`, end); err != nil {
				return fmt.Errorf("hourly drop %s: %w", end, err)
			}
			continue
		}

		var n int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM joint_10min WHERE Time > ? AND Time <= ?`, start, end).Scan(&n)
		if err != nil {
			return fmt.Errorf("hourly count %s: %w", end, err)
		}
		if n == 0 {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM joint_hourly WHERE Time = ?`, end); err != nil {
				return fmt.Errorf("hourly drop %s: %w", end, err)
			}
			continue
		}

		if _, err := upsert.ExecContext(ctx, start, end); err != nil {
			return fmt.Errorf("hourly bucket %s: %w", end, err)
		}
		s.mtr.BucketsRecomputed.Inc()
	}
	return nil
}

// aggregable filters a timestamp set down to the maintained range.
func (s *Store) aggregable(times []time.Time) []time.Time {
	out := times[:0:0]
	for _, t := range times {
		if !t.Before(s.aggregateFrom) {
			out = append(out, t.UTC())
		}
	}
	return out
}

// hourBucket maps a timestamp to the label of the bucket containing it.
// Buckets are right-closed: 10:00:00 belongs to the bucket labeled 10:00,
// 10:00:01 through 11:00:00 to the one labeled 11:00.
func hourBucket(t time.Time) time.Time {
	b := t.UTC().Truncate(time.Hour)
	if b.Equal(t.UTC()) {
		return b
	}
	return b.Add(time.Hour)
}

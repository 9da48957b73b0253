package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mfarkas/gridfeed/internal/domain"
)

// Range queries. Span limits are enforced before any statement runs, column
// lists are validated against the known series, and an empty range comes back
// as an empty slice rather than an error.

// WeatherMeta returns the station catalog ordered by station number.
func (s *Store) WeatherMeta(ctx context.Context) ([]domain.Station, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT StationNumber, StationName, RegioName, Latitude, Longitude, Elevation
		FROM weather_meta ORDER BY StationNumber`)
	if err != nil {
		return nil, fmt.Errorf("weather meta: %w", err)
	}
	defer rows.Close()

	var out []domain.Station
	for rows.Next() {
		var st domain.Station
		var name, regio sql.NullString
		var lat, lon, elev sql.NullFloat64
		if err := rows.Scan(&st.Number, &name, &regio, &lat, &lon, &elev); err != nil {
			return nil, fmt.Errorf("weather meta: %w", err)
		}
		st.Name = name.String
		st.RegioName = regio.String
		st.Latitude = lat.Float64
		st.Longitude = lon.Float64
		st.Elevation = elev.Float64
		out = append(out, st)
	}
	return out, rows.Err()
}

// Status reports the watermark of every tracked entity across both feeds.
func (s *Store) Status(ctx context.Context) ([]domain.EntityStatus, error) {
	var out []domain.EntityStatus

	rows, err := s.db.QueryContext(ctx, `
		SELECT StationNumber, StartDate, EndDate FROM weather_meta ORDER BY StationNumber`)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var station int
		var start, end sql.NullString
		if err := rows.Scan(&station, &start, &end); err != nil {
			return nil, fmt.Errorf("status: %w", err)
		}
		st, err := scanNullTime(start)
		if err != nil {
			return nil, fmt.Errorf("status: %w", err)
		}
		en, err := scanNullTime(end)
		if err != nil {
			return nil, fmt.Errorf("status: %w", err)
		}
		out = append(out, domain.EntityStatus{
			Feed:   domain.FeedWeather,
			Entity: fmt.Sprintf("%d", station),
			Start:  st,
			End:    en,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cols, err := s.db.QueryContext(ctx,
		`SELECT "Column", StartDate, EndDate FROM load_meta ORDER BY "Column"`)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	defer cols.Close()
	for cols.Next() {
		var column string
		var start, end sql.NullString
		if err := cols.Scan(&column, &start, &end); err != nil {
			return nil, fmt.Errorf("status: %w", err)
		}
		st, err := scanNullTime(start)
		if err != nil {
			return nil, fmt.Errorf("status: %w", err)
		}
		en, err := scanNullTime(end)
		if err != nil {
			return nil, fmt.Errorf("status: %w", err)
		}
		out = append(out, domain.EntityStatus{
			Feed:   domain.FeedElectricity,
			Entity: column,
			Start:  st,
			End:    en,
		})
	}
	return out, cols.Err()
}

// WeatherRange returns one station's rows in [from, to]. The span must not
// exceed the single-entity limit and the station must exist.
func (s *Store) WeatherRange(ctx context.Context, station int, from, to time.Time, cols []string) ([]domain.WeatherRow, error) {
	if err := s.checkSpan(from, to, s.singleSpanLimit); err != nil {
		return nil, err
	}
	selected, err := s.selectColumns(cols, domain.WeatherColumns)
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, nil
	}
	if _, err := s.StationWatermark(ctx, station); err != nil {
		return nil, err
	}
	return s.weatherRows(ctx, selected, `WHERE StationNumber = ? AND Time >= ? AND Time <= ?`,
		station, fmtTime(from), fmtTime(to))
}

// WeatherRangeAll returns rows for every station, or for the listed stations,
// under the tighter all-stations span limit.
func (s *Store) WeatherRangeAll(ctx context.Context, from, to time.Time, cols []string, stations []int) ([]domain.WeatherRow, error) {
	if err := s.checkSpan(from, to, s.allSpanLimit); err != nil {
		return nil, err
	}
	selected, err := s.selectColumns(cols, domain.WeatherColumns)
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, nil
	}

	where := `WHERE Time >= ? AND Time <= ?`
	args := []any{fmtTime(from), fmtTime(to)}
	if len(stations) > 0 {
		for _, st := range stations {
			if _, err := s.StationWatermark(ctx, st); err != nil {
				return nil, err
			}
		}
		marks := strings.Repeat("?,", len(stations))
		where += ` AND StationNumber IN (` + marks[:len(marks)-1] + `)`
		for _, st := range stations {
			args = append(args, st)
		}
	}
	return s.weatherRows(ctx, selected, where, args...)
}

// LoadRange returns the electricity rows in [from, to].
func (s *Store) LoadRange(ctx context.Context, from, to time.Time, cols []string) ([]domain.LoadRow, error) {
	if err := s.checkSpan(from, to, s.singleSpanLimit); err != nil {
		return nil, err
	}
	selected, err := s.selectColumns(cols, domain.LoadColumns)
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, nil
	}

	query := `SELECT Time, ` + strings.Join(selected, ", ") +
		` FROM load_data WHERE Time >= ? AND Time <= ? ORDER BY Time`
	rows, err := s.db.QueryContext(ctx, query, fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, fmt.Errorf("load range: %w", err)
	}
	defer rows.Close()

	var out []domain.LoadRow
	for rows.Next() {
		var r domain.LoadRow
		var t string
		vals := make([]sql.NullFloat64, len(selected))
		dest := make([]any, 0, len(selected)+1)
		dest = append(dest, &t)
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("load range: %w", err)
		}
		if r.Time, err = parseSQLTime(t); err != nil {
			return nil, fmt.Errorf("load range: %w", err)
		}
		for i, name := range selected {
			*loadField(&r, name) = nullFloat(vals[i])
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Aggregate returns the joint rows of the 10-minute or hourly table.
func (s *Store) Aggregate(ctx context.Context, which string, from, to time.Time) ([]domain.JointRow, error) {
	var table string
	switch which {
	case "10min":
		table = "joint_10min"
	case "hourly":
		table = "joint_hourly"
	default:
		return nil, fmt.Errorf("%w: unknown aggregate %q", domain.ErrInvalidQuery, which)
	}
	if err := s.checkSpan(from, to, s.singleSpanLimit); err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT Time, NetSystemLoad, Prec, Temp, RHum, GRad, Pres, Wind
		FROM `+table+` WHERE Time >= ? AND Time <= ? ORDER BY Time`,
		fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", which, err)
	}
	defer rows.Close()

	var out []domain.JointRow
	for rows.Next() {
		var r domain.JointRow
		var t string
		var load, prec, temp, rhum, grad, pres, wind sql.NullFloat64
		if err := rows.Scan(&t, &load, &prec, &temp, &rhum, &grad, &pres, &wind); err != nil {
			return nil, fmt.Errorf("aggregate %s: %w", which, err)
		}
		if r.Time, err = parseSQLTime(t); err != nil {
			return nil, fmt.Errorf("aggregate %s: %w", which, err)
		}
		r.NetSystemLoad = nullFloat(load)
		r.Prec = nullFloat(prec)
		r.Temp = nullFloat(temp)
		r.RHum = nullFloat(rhum)
		r.GRad = nullFloat(grad)
		r.Pres = nullFloat(pres)
		r.Wind = nullFloat(wind)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) weatherRows(ctx context.Context, selected []string, where string, args ...any) ([]domain.WeatherRow, error) {
	query := `SELECT Time, StationNumber, ` + strings.Join(selected, ", ") +
		` FROM weather_data ` + where + ` ORDER BY Time, StationNumber`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("weather range: %w", err)
	}
	defer rows.Close()

	var out []domain.WeatherRow
	for rows.Next() {
		var r domain.WeatherRow
		var t string
		vals := make([]sql.NullFloat64, len(selected))
		dest := make([]any, 0, len(selected)+2)
		dest = append(dest, &t, &r.Station)
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("weather range: %w", err)
		}
		if r.Time, err = parseSQLTime(t); err != nil {
			return nil, fmt.Errorf("weather range: %w", err)
		}
		for i, name := range selected {
			*weatherField(&r, name) = nullFloat(vals[i])
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// checkSpan rejects a request whose span exceeds the limit before anything
// touches the database.
func (s *Store) checkSpan(from, to time.Time, limit time.Duration) error {
	if to.Sub(from) > limit {
		s.mtr.QueryErrors.Inc()
		return fmt.Errorf("%w: span %s exceeds limit %s", domain.ErrInvalidQuery, to.Sub(from), limit)
	}
	return nil
}

// selectColumns filters a requested column list down to the known series,
// case-insensitively. An empty request means every column; a request with no
// valid column at all is an invalid query.
func (s *Store) selectColumns(requested []string, known []domain.SeriesColumn) ([]string, error) {
	if len(requested) == 0 {
		out := make([]string, len(known))
		for i, c := range known {
			out[i] = c.Name
		}
		return out, nil
	}
	var out []string
	for _, req := range requested {
		for _, c := range known {
			if strings.EqualFold(req, c.Name) {
				out = append(out, c.Name)
				break
			}
		}
	}
	if len(out) == 0 {
		s.mtr.QueryErrors.Inc()
		return nil, fmt.Errorf("%w: no known column in %v", domain.ErrInvalidQuery, requested)
	}
	return out, nil
}

func weatherField(r *domain.WeatherRow, name string) **float64 {
	switch name {
	case "Prec":
		return &r.Prec
	case "Temp":
		return &r.Temp
	case "Pres":
		return &r.Pres
	case "RHum":
		return &r.RHum
	case "GRad":
		return &r.GRad
	default:
		return &r.AvgWS
	}
}

func loadField(r *domain.LoadRow, name string) **float64 {
	switch name {
	case "NetSystemLoad":
		return &r.NetSystemLoad
	case "GrossSystemLoad":
		return &r.GrossSystemLoad
	case "NetPlanSystemLoad":
		return &r.NetPlanSystemLoad
	default:
		return &r.NetLoadDayAheadEstimate
	}
}

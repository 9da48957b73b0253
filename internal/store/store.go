// Package store owns all persistence: the per-feed fact tables, per-entity
// watermarks, the merge engine and the derived aggregate tables, backed by
// SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "modernc.org/sqlite"

	"github.com/mfarkas/gridfeed/internal/domain"
	"github.com/mfarkas/gridfeed/internal/observability"
)

// sqlTimeLayout keeps timestamps lexicographically ordered as TEXT, so SQL
// MIN/MAX and BETWEEN behave chronologically. All stored times are UTC.
const sqlTimeLayout = "2006-01-02 15:04:05"

const schema = `
CREATE TABLE IF NOT EXISTS weather_meta(
	StationNumber INTEGER PRIMARY KEY,
	Latitude      REAL,
	Longitude     REAL,
	Elevation     REAL,
	StationName   TEXT,
	RegioName     TEXT,
	StartDate     TIMESTAMP,
	EndDate       TIMESTAMP
);

CREATE TABLE IF NOT EXISTS weather_data(
	Time          TIMESTAMP NOT NULL,
	StationNumber INTEGER NOT NULL,
	Prec  REAL,
	Temp  REAL,
	Pres  REAL,
	RHum  REAL,
	GRad  REAL,
	AvgWS REAL,
	PRIMARY KEY (StationNumber, Time),
	FOREIGN KEY (StationNumber) REFERENCES weather_meta(StationNumber)
);
CREATE INDEX IF NOT EXISTS ix_weather_data_time ON weather_data(Time);

CREATE TABLE IF NOT EXISTS load_meta(
	"Column"  TEXT PRIMARY KEY,
	Unit      TEXT,
	StartDate TIMESTAMP,
	EndDate   TIMESTAMP
);

CREATE TABLE IF NOT EXISTS load_data(
	Time TIMESTAMP PRIMARY KEY,
	NetSystemLoad           REAL,
	GrossSystemLoad         REAL,
	NetPlanSystemLoad       REAL,
	NetLoadDayAheadEstimate REAL
);

CREATE TABLE IF NOT EXISTS joint_10min(
	Time TIMESTAMP PRIMARY KEY,
	NetSystemLoad REAL,
	Prec REAL,
	Temp REAL,
	RHum REAL,
	GRad REAL,
	Pres REAL,
	Wind REAL
);

CREATE TABLE IF NOT EXISTS joint_hourly(
	Time TIMESTAMP PRIMARY KEY,
	NetSystemLoad REAL,
	Prec REAL,
	Temp REAL,
	RHum REAL,
	GRad REAL,
	Pres REAL,
	Wind REAL
);
`

// Options configures an opened store.
type Options struct {
	Path string

	// AggregateFrom bounds the derived joint tables.
	AggregateFrom time.Time

	// Span limits enforced on range queries before any table access.
	SingleSpanLimit time.Duration
	AllSpanLimit    time.Duration

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Commit describes one committed merge batch, delivered to commit hooks so
// the read cache can invalidate exactly the affected keys.
type Commit struct {
	Feed    string
	Station int // 0 for the load feed
	Mode    domain.MergeMode
	Result  domain.WriteResult
}

// CommitHook is called synchronously after every successful merge commit.
type CommitHook func(Commit)

// Store is the single source of truth. All writers go through its scoped
// transactions; readers may go through the cache layer instead.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	mtr    *observability.Metrics

	aggregateFrom   time.Time
	singleSpanLimit time.Duration
	allSpanLimit    time.Duration

	hooks []CommitHook
}

// Open opens (creating if needed) the SQLite database at opts.Path and
// ensures the schema exists.
func Open(opts Options) (*Store, error) {
	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; a single conn avoids spurious SQLITE_BUSY
	// between our own transactions.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{
		db:              db,
		logger:          opts.Logger,
		mtr:             opts.Metrics,
		aggregateFrom:   opts.AggregateFrom.UTC(),
		singleSpanLimit: opts.SingleSpanLimit,
		allSpanLimit:    opts.AllSpanLimit,
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// OnCommit registers a hook fired after every successful merge commit.
// Hooks must be registered before the sync driver starts.
func (s *Store) OnCommit(h CommitHook) {
	s.hooks = append(s.hooks, h)
}

func (s *Store) fireHooks(c Commit) {
	for _, h := range s.hooks {
		h(c)
	}
}

// withTx runs fn inside one transaction: commit on success, rollback on any
// error. A transiently failed transaction (lost connection, SQLITE_BUSY) is
// retried once after a short backoff; the batch is safe to retry because
// merges are idempotent.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	attempt := func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if err := fn(tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Error("rollback failed", "error", rbErr)
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(200*time.Millisecond), 1), ctx)
	return backoff.Retry(func() error {
		err := attempt()
		if err != nil && !retryableTxError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

// retryableTxError reports whether the transaction failed for a transient
// reason rather than a constraint or logic error.
func retryableTxError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "connection")
}

// UpsertStations refreshes station metadata. New stations are inserted with
// empty watermarks; known stations get their descriptive attributes updated
// while StartDate/EndDate are left alone; only the merge engine moves those.
func (s *Store) UpsertStations(ctx context.Context, stations []domain.Station) error {
	if len(stations) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO weather_meta (StationNumber, Latitude, Longitude, Elevation, StationName, RegioName)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(StationNumber) DO UPDATE SET
				Latitude = excluded.Latitude,
				Longitude = excluded.Longitude,
				Elevation = excluded.Elevation,
				StationName = excluded.StationName,
				RegioName = excluded.RegioName`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, st := range stations {
			if _, err := stmt.ExecContext(ctx, st.Number, st.Latitude, st.Longitude, st.Elevation, st.Name, st.RegioName); err != nil {
				return fmt.Errorf("upsert station %d: %w", st.Number, err)
			}
		}
		return nil
	})
}

// EnsureLoadColumns seeds load_meta with one row per canonical load column.
// Existing rows, and in particular their watermarks, are untouched.
func (s *Store) EnsureLoadColumns(ctx context.Context, cols []domain.SeriesColumn) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, c := range cols {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO load_meta ("Column", Unit) VALUES (?, ?)`, c.Name, c.Unit); err != nil {
				return fmt.Errorf("ensure load column %s: %w", c.Name, err)
			}
		}
		return nil
	})
}

// StationNumbers returns all known station identifiers.
func (s *Store) StationNumbers(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT StationNumber FROM weather_meta ORDER BY StationNumber`)
	if err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}
	defer rows.Close()

	var nums []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		nums = append(nums, n)
	}
	return nums, rows.Err()
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(sqlTimeLayout)
}

func parseSQLTime(s string) (time.Time, error) {
	// The driver may hand back either our layout or RFC3339 depending on
	// how the value was bound.
	if t, err := time.Parse(sqlTimeLayout, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t.UTC(), nil
}

// scanNullTime converts a nullable stored timestamp to *time.Time.
func scanNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := parseSQLTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// nullFloat converts a nullable SQL float to *float64.
func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// floatArg converts *float64 to a driver-friendly value.
func floatArg(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

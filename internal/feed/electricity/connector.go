// Package electricity syncs the national grid load feed: one windowed export
// endpoint serving the full history on a 10-minute grid, including day-ahead
// plan values for the next day.
package electricity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mfarkas/gridfeed/internal/domain"
	"github.com/mfarkas/gridfeed/internal/feed"
)

// The feed publishes nothing before this point.
var epoch = time.Date(2007, time.January, 1, 0, 0, 0, 0, time.UTC)

// One export answers at most this many rows on the 10-minute grid.
const maxChunkRows = 60000

// Ledger is the load-side store surface the connector consults.
type Ledger interface {
	EnsureLoadColumns(ctx context.Context, cols []domain.SeriesColumn) error
	ColumnWatermark(ctx context.Context, column string) (domain.Watermark, error)
	MinColumnEnd(ctx context.Context) (*time.Time, error)
}

// Options configures an electricity Connector.
type Options struct {
	Client *feed.Client
	Ledger Ledger
	Clock  clockwork.Clock
	Logger *slog.Logger

	ExportURL string

	// Lag is how far behind real time the fact columns run before a fetch is
	// worthwhile.
	Lag time.Duration
}

type Connector struct {
	client *feed.Client
	ledger Ledger
	clock  clockwork.Clock
	logger *slog.Logger

	exportURL string
	lag       time.Duration
}

func New(opts Options) *Connector {
	return &Connector{
		client:    opts.Client,
		ledger:    opts.Ledger,
		clock:     opts.Clock,
		logger:    opts.Logger,
		exportURL: opts.ExportURL,
		lag:       opts.Lag,
	}
}

func (c *Connector) Name() string { return domain.FeedElectricity }

// RefreshMeta seeds the column ledger so every series has a watermark row.
func (c *Connector) RefreshMeta(ctx context.Context) error {
	return c.ledger.EnsureLoadColumns(ctx, domain.LoadColumns)
}

// Discover emits a single windowed candidate from the slowest column's
// watermark to a day past now. The extra day pulls in the published day-ahead
// plan values; Replace merges firm them up as facts arrive.
func (c *Connector) Discover(ctx context.Context) ([]feed.Candidate, error) {
	from := epoch
	end, err := c.ledger.MinColumnEnd(ctx)
	if err != nil {
		return nil, fmt.Errorf("min column end: %w", err)
	}
	if end != nil {
		from = *end
	}
	to := c.clock.Now().UTC().Round(10 * time.Minute).Add(24 * time.Hour)

	return []feed.Candidate{{
		Feed: c.Name(),
		Name: fmt.Sprintf("export %s..%s", from.Format(time.DateOnly), to.Format(time.DateOnly)),
		Kind: "export",
		From: from,
		To:   to,
	}}, nil
}

// IsNeeded gates on the fact column: fetch once real time has run past the
// recorded net load by more than the feed's lag.
func (c *Connector) IsNeeded(ctx context.Context, _ feed.Candidate) (bool, error) {
	wm, err := c.ledger.ColumnWatermark(ctx, "NetSystemLoad")
	if err != nil {
		return false, err
	}
	return wm.EndBefore(c.clock.Now().UTC().Add(-c.lag)), nil
}

// Fetch downloads the candidate window in sequential chunks of at most 60 000
// rows. The upstream rate-limits aggressively, so chunks are never fetched
// concurrently.
func (c *Connector) Fetch(ctx context.Context, cand feed.Candidate) (feed.Batch, error) {
	var rows []domain.LoadRow

	// The export treats fromTime as exclusive; step back one grid slot so the
	// window's first row is included.
	start := cand.From.Add(-10 * time.Minute)
	for start.Before(cand.To) {
		chunkEnd := start.Add(maxChunkRows * 10 * time.Minute)
		if chunkEnd.After(cand.To) {
			chunkEnd = cand.To
		}

		chunk, err := c.fetchChunk(ctx, start, chunkEnd)
		if err != nil {
			return feed.Batch{}, err
		}
		rows = append(rows, chunk...)
		start = chunkEnd
	}

	return feed.Batch{Load: rows, Mode: domain.Replace}, nil
}

func (c *Connector) fetchChunk(ctx context.Context, from, to time.Time) ([]domain.LoadRow, error) {
	url := fmt.Sprintf("%s?exportType=csv&fromTime=%d&toTime=%d&periodType=min&period=10",
		c.exportURL, from.UnixMilli(), to.UnixMilli())
	payload, err := c.client.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	rows, err := parseExportCSV(payload)
	if err != nil {
		return nil, &domain.MalformedPayloadError{
			Feed:      c.Name(),
			Candidate: fmt.Sprintf("chunk %s..%s", from.Format(time.DateOnly), to.Format(time.DateOnly)),
			Err:       err,
		}
	}
	return rows, nil
}

// Package weather syncs the station network feed: a station catalog CSV,
// zipped per-station archives for past years and the current year, and short
// rolling snapshots covering the last day.
package weather

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mfarkas/gridfeed/internal/domain"
	"github.com/mfarkas/gridfeed/internal/feed"
)

// Candidate kinds, in the order Discover emits them.
const (
	KindHistorical = "historical"
	KindPast24h    = "past24h"
	KindRecent     = "recent"
	KindLatest     = "latest"
)

const latestArchive = "HABP_10M_SYNOP_LATEST.csv.zip"

// Catalog is the station-side store surface the connector consults.
type Catalog interface {
	UpsertStations(ctx context.Context, stations []domain.Station) error
	StationNumbers(ctx context.Context) ([]int, error)
	StationWatermark(ctx context.Context, station int) (domain.Watermark, error)
	MaxStationEnd(ctx context.Context) (*time.Time, error)
}

// Options configures a weather Connector.
type Options struct {
	Client  *feed.Client
	Catalog Catalog
	Clock   clockwork.Clock
	Logger  *slog.Logger

	MetaURL       string
	HistoricalURL string
	RecentURL     string
	SynopURL      string

	// Lag is how far behind real time the snapshot feed runs before a fetch
	// is worthwhile; CatchupLag is the point where the single latest snapshot
	// can no longer close the gap and the full past-day set is needed.
	Lag        time.Duration
	CatchupLag time.Duration
}

type Connector struct {
	client  *feed.Client
	catalog Catalog
	clock   clockwork.Clock
	logger  *slog.Logger

	metaURL       string
	historicalURL string
	recentURL     string
	synopURL      string

	lag        time.Duration
	catchupLag time.Duration
}

func New(opts Options) *Connector {
	return &Connector{
		client:        opts.Client,
		catalog:       opts.Catalog,
		clock:         opts.Clock,
		logger:        opts.Logger,
		metaURL:       opts.MetaURL,
		historicalURL: opts.HistoricalURL,
		recentURL:     opts.RecentURL,
		synopURL:      opts.SynopURL,
		lag:           opts.Lag,
		catchupLag:    opts.CatchupLag,
	}
}

func (c *Connector) Name() string { return domain.FeedWeather }

// RefreshMeta downloads the station catalog and upserts it. Stations already
// known keep their watermarks.
func (c *Connector) RefreshMeta(ctx context.Context) error {
	body, err := c.client.Get(ctx, c.metaURL)
	if err != nil {
		return err
	}
	stations, err := parseStationMeta(body)
	if err != nil {
		return &domain.MalformedPayloadError{Feed: c.Name(), Candidate: "station catalog", Err: err}
	}
	if err := c.catalog.UpsertStations(ctx, stations); err != nil {
		return fmt.Errorf("upsert stations: %w", err)
	}
	c.logger.Info("station catalog refreshed", "stations", len(stations))
	return nil
}

// Discover lists the fetchable archives: per-station historical and recent
// zips filtered to known stations, the rolling past-day snapshots, and the
// single latest snapshot.
func (c *Connector) Discover(ctx context.Context) ([]feed.Candidate, error) {
	stations, err := c.catalog.StationNumbers(ctx)
	if err != nil {
		return nil, fmt.Errorf("station numbers: %w", err)
	}
	known := make(map[int]struct{}, len(stations))
	for _, s := range stations {
		known[s] = struct{}{}
	}

	var out []feed.Candidate

	histPattern := historicalToken(c.lastYear())
	hist, err := c.indexHrefs(ctx, c.historicalURL)
	if err != nil {
		return nil, err
	}
	for _, href := range hist {
		station := stationFromName(href)
		if _, ok := known[station]; !ok || !histPattern.MatchString(href) {
			continue
		}
		out = append(out, feed.Candidate{
			Feed: c.Name(), Name: href, URL: c.historicalURL + href,
			Station: station, Kind: KindHistorical,
		})
	}

	for _, cand := range c.past24hCandidates(ctx) {
		out = append(out, cand)
	}

	recent, err := c.indexHrefs(ctx, c.recentURL)
	if err != nil {
		return nil, err
	}
	for _, href := range recent {
		station := stationFromName(href)
		if _, ok := known[station]; !ok || !recentToken.MatchString(href) {
			continue
		}
		out = append(out, feed.Candidate{
			Feed: c.Name(), Name: href, URL: c.recentURL + href,
			Station: station, Kind: KindRecent,
		})
	}

	out = append(out, feed.Candidate{
		Feed: c.Name(), Name: latestArchive, URL: c.synopURL + latestArchive, Kind: KindLatest,
	})
	return out, nil
}

// past24hCandidates scrapes the snapshot index. A failure here degrades to
// the latest-only candidate instead of failing the whole discovery.
func (c *Connector) past24hCandidates(ctx context.Context) []feed.Candidate {
	hrefs, err := c.indexHrefs(ctx, c.synopURL)
	if err != nil {
		c.logger.Warn("snapshot index unavailable", "error", err)
		return nil
	}
	var out []feed.Candidate
	for _, href := range hrefs {
		if href == latestArchive {
			continue
		}
		out = append(out, feed.Candidate{
			Feed: c.Name(), Name: href, URL: c.synopURL + href, Kind: KindPast24h,
		})
	}
	return out
}

func (c *Connector) indexHrefs(ctx context.Context, url string) ([]string, error) {
	page, err := c.client.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	return parseZipHrefs(page), nil
}

// IsNeeded consults the watermarks. Historical archives are final up to last
// year's end; recent archives trail real time by a day; the snapshot kinds
// alternate on how far behind the freshest station is: the single latest
// snapshot only closes a gap narrower than catchupLag, anything wider, an
// empty store included, falls to the full past-day set instead.
func (c *Connector) IsNeeded(ctx context.Context, cand feed.Candidate) (bool, error) {
	now := c.clock.Now().UTC()

	switch cand.Kind {
	case KindHistorical:
		wm, err := c.catalog.StationWatermark(ctx, cand.Station)
		if err != nil {
			return false, err
		}
		return wm.EndBefore(c.lastYearEnd()), nil

	case KindRecent:
		wm, err := c.catalog.StationWatermark(ctx, cand.Station)
		if err != nil {
			return false, err
		}
		return wm.End == nil || !wm.End.After(now.Add(-24*time.Hour)), nil

	case KindLatest:
		end, err := c.catalog.MaxStationEnd(ctx)
		if err != nil {
			return false, err
		}
		if end == nil {
			return false, nil
		}
		return now.After(end.Add(c.lag)) && now.Before(end.Add(c.catchupLag)), nil

	case KindPast24h:
		end, err := c.catalog.MaxStationEnd(ctx)
		if err != nil {
			return false, err
		}
		return end == nil || !now.Before(end.Add(c.catchupLag)), nil
	}
	return false, nil
}

// Fetch downloads one archive and normalizes it. Rows for stations missing
// from the catalog are dropped.
func (c *Connector) Fetch(ctx context.Context, cand feed.Candidate) (feed.Batch, error) {
	payload, err := c.client.Get(ctx, cand.URL)
	if err != nil {
		return feed.Batch{}, err
	}
	rows, err := parseWeatherZip(payload, cand.Station)
	if err != nil {
		return feed.Batch{}, &domain.MalformedPayloadError{Feed: c.Name(), Candidate: cand.Name, Err: err}
	}

	stations, err := c.catalog.StationNumbers(ctx)
	if err != nil {
		return feed.Batch{}, fmt.Errorf("station numbers: %w", err)
	}
	known := make(map[int]struct{}, len(stations))
	for _, s := range stations {
		known[s] = struct{}{}
	}
	kept := rows[:0]
	for _, r := range rows {
		if _, ok := known[r.Station]; ok {
			kept = append(kept, r)
		}
	}

	mode := domain.InsertIfAbsent
	if cand.Kind == KindLatest || cand.Kind == KindPast24h {
		mode = domain.Replace
	}
	return feed.Batch{Station: cand.Station, Weather: kept, Mode: mode}, nil
}

func (c *Connector) lastYear() int {
	return c.clock.Now().UTC().Year() - 1
}

// lastYearEnd is the final timestamp a historical archive carries.
func (c *Connector) lastYearEnd() time.Time {
	return time.Date(c.lastYear(), time.December, 31, 23, 50, 0, 0, time.UTC)
}

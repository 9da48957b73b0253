// Package feed defines the connector contract shared by the upstream feeds
// and the driver that keeps them synced into the store.
package feed

import (
	"context"
	"time"

	"github.com/mfarkas/gridfeed/internal/domain"
)

// Candidate is one fetchable unit discovered on a feed: a zipped archive, the
// latest snapshot, or a windowed export request.
type Candidate struct {
	Feed    string
	Name    string
	URL     string
	Station int    // 0 when the candidate is not station-scoped
	Kind    string // connector-specific, e.g. "historical", "recent", "latest"

	// From/To bound windowed candidates; zero for archive candidates whose
	// range is implied by the payload.
	From time.Time
	To   time.Time
}

// Batch is a fetched candidate normalized into mergeable rows. Exactly one of
// Weather and Load is populated, matching the connector's feed.
type Batch struct {
	Station int
	Weather []domain.WeatherRow
	Load    []domain.LoadRow
	Mode    domain.MergeMode
}

// Empty reports whether the batch carries no rows at all.
func (b Batch) Empty() bool { return len(b.Weather) == 0 && len(b.Load) == 0 }

// Connector is one upstream feed. Discover lists what could be fetched,
// IsNeeded consults the watermarks to skip what the store already covers, and
// Fetch downloads and normalizes a single candidate.
type Connector interface {
	Name() string
	Discover(ctx context.Context) ([]Candidate, error)
	IsNeeded(ctx context.Context, c Candidate) (bool, error)
	Fetch(ctx context.Context, c Candidate) (Batch, error)
}

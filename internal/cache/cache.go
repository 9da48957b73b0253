// Package cache provides an in-memory read cache for time-ordered rows.
//
// Entries carry a validity window: a cached snapshot answers a request only
// when its validFrom bound does not cut into the requested range. Results are
// always independent copies, so callers can never observe a later
// invalidation or overwrite through a slice they already hold.
package cache

import (
	"sync"
	"time"

	"github.com/mfarkas/gridfeed/internal/observability"
)

type entry[T any] struct {
	rows      []T
	validFrom *time.Time
}

// Cache stores row snapshots keyed by string. The zero value is not usable;
// construct with New.
type Cache[T any] struct {
	mu      sync.Mutex
	entries map[string]entry[T]

	kind  string
	at    func(T) time.Time
	clone func(T) T
	mtr   *observability.Metrics
}

// New returns an empty cache. kind labels the cache's lookups in metrics, at
// extracts a row's timestamp for range slicing, and clone deep-copies one row
// so pointer fields never cross the cache boundary.
func New[T any](kind string, at func(T) time.Time, clone func(T) T, mtr *observability.Metrics) *Cache[T] {
	return &Cache[T]{
		entries: make(map[string]entry[T]),
		kind:    kind,
		at:      at,
		clone:   clone,
		mtr:     mtr,
	}
}

// Get returns the cached rows for key restricted to [from, to]. A miss is
// reported both when the key is absent and when the entry's validity window
// starts after the requested range does.
func (c *Cache[T]) Get(key string, from, to time.Time) ([]T, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()

	if !ok || (e.validFrom != nil && e.validFrom.After(from)) {
		c.mtr.CacheLookups.WithLabelValues(c.kind, "miss").Inc()
		return nil, false
	}
	c.mtr.CacheLookups.WithLabelValues(c.kind, "hit").Inc()

	out := make([]T, 0, len(e.rows))
	for _, r := range e.rows {
		t := c.at(r)
		if t.Before(from) || t.After(to) {
			continue
		}
		out = append(out, c.clone(r))
	}
	return out, true
}

// Set stores rows under key. validFrom bounds the entry's validity: requests
// starting before it fall through to the store. nil means valid for any
// range. Rows are deep-copied going in, just as they are coming out.
func (c *Cache[T]) Set(key string, rows []T, validFrom *time.Time) {
	snapshot := make([]T, len(rows))
	for i, r := range rows {
		snapshot[i] = c.clone(r)
	}

	c.mu.Lock()
	c.entries[key] = entry[T]{rows: snapshot, validFrom: validFrom}
	c.mu.Unlock()
}

// Invalidate drops the entry for key, if any.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateAll drops every entry.
func (c *Cache[T]) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]entry[T])
	c.mu.Unlock()
}

// Len reports the number of cached entries.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

package cache_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfarkas/gridfeed/internal/cache"
	"github.com/mfarkas/gridfeed/internal/domain"
	"github.com/mfarkas/gridfeed/internal/observability"
)

type point struct {
	Time  time.Time
	Value float64
}

func newPointCache(t *testing.T) *cache.Cache[point] {
	t.Helper()
	clone := func(p point) point { return p }
	return cache.New("point", func(p point) time.Time { return p.Time }, clone, observability.NewMetricsForTesting())
}

func ts(h, m int) time.Time {
	return time.Date(2020, time.March, 1, h, m, 0, 0, time.UTC)
}

func TestCache_GetSlicesToRange(t *testing.T) {
	c := newPointCache(t)
	c.Set("k", []point{
		{Time: ts(10, 0), Value: 1},
		{Time: ts(10, 10), Value: 2},
		{Time: ts(10, 20), Value: 3},
	}, nil)

	got, ok := c.Get("k", ts(10, 5), ts(10, 15))
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, 2.0, got[0].Value)
}

func TestCache_MissOnAbsentKey(t *testing.T) {
	c := newPointCache(t)
	_, ok := c.Get("nope", ts(10, 0), ts(11, 0))
	assert.False(t, ok)
}

func TestCache_ValidityWindow(t *testing.T) {
	c := newPointCache(t)
	validFrom := ts(10, 0)
	c.Set("k", []point{{Time: ts(10, 10), Value: 1}}, &validFrom)

	// The request starts before the snapshot's validity window.
	_, ok := c.Get("k", ts(9, 0), ts(11, 0))
	assert.False(t, ok)

	got, ok := c.Get("k", ts(10, 0), ts(11, 0))
	require.True(t, ok)
	assert.Len(t, got, 1)
}

func TestCache_ReturnsIndependentCopy(t *testing.T) {
	c := newPointCache(t)
	rows := []point{{Time: ts(10, 0), Value: 1}}
	c.Set("k", rows, nil)

	rows[0].Value = 99 // mutating the input after Set must not leak in

	got, ok := c.Get("k", ts(9, 0), ts(11, 0))
	require.True(t, ok)
	assert.Equal(t, 1.0, got[0].Value)

	got[0].Value = 42 // mutating a result must not leak back
	again, ok := c.Get("k", ts(9, 0), ts(11, 0))
	require.True(t, ok)
	assert.Equal(t, 1.0, again[0].Value)
}

func TestCache_PointerFieldsNeverShared(t *testing.T) {
	c := cache.New("weather",
		func(w domain.WeatherRow) time.Time { return w.Time },
		domain.WeatherRow.Clone,
		observability.NewMetricsForTesting())

	temp := 10.0
	rows := []domain.WeatherRow{{Time: ts(10, 0), Temp: &temp}}
	c.Set("k", rows, nil)

	temp = 50 // the caller's pointee is not the cache's

	got, ok := c.Get("k", ts(9, 0), ts(11, 0))
	require.True(t, ok)
	require.NotNil(t, got[0].Temp)
	assert.Equal(t, 10.0, *got[0].Temp)

	*got[0].Temp = 99 // writing through a result must not reach the snapshot
	again, ok := c.Get("k", ts(9, 0), ts(11, 0))
	require.True(t, ok)
	assert.Equal(t, 10.0, *again[0].Temp)
}

func TestCache_Invalidate(t *testing.T) {
	c := newPointCache(t)
	c.Set("a", []point{{Time: ts(10, 0)}}, nil)
	c.Set("b", []point{{Time: ts(10, 0)}}, nil)

	c.Invalidate("a")
	_, ok := c.Get("a", ts(9, 0), ts(11, 0))
	assert.False(t, ok)
	_, ok = c.Get("b", ts(9, 0), ts(11, 0))
	assert.True(t, ok)

	c.InvalidateAll()
	assert.Equal(t, 0, c.Len())
}

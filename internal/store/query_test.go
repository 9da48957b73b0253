package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfarkas/gridfeed/internal/domain"
)

func TestWeatherRange_SpanLimitRejectedBeforeStoreAccess(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	// The station does not exist; a span violation must win anyway.
	from := at(2010, time.January, 1, 0, 0)
	to := from.Add(6 * 365 * 24 * time.Hour)
	_, err := s.WeatherRange(ctx, 99999, from, to, nil)
	require.ErrorIs(t, err, domain.ErrInvalidQuery)
}

func TestWeatherRangeAll_TighterSpanLimit(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	from := at(2020, time.January, 1, 0, 0)
	_, err := s.WeatherRangeAll(ctx, from, from.Add(8*24*time.Hour), nil, nil)
	require.ErrorIs(t, err, domain.ErrInvalidQuery)

	got, err := s.WeatherRangeAll(ctx, from, from.Add(6*24*time.Hour), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWeatherRange_UnknownStation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	from := at(2020, time.January, 1, 0, 0)
	_, err := s.WeatherRange(ctx, 99999, from, from.Add(24*time.Hour), nil)
	require.ErrorIs(t, err, domain.ErrUnknownStation)
}

func TestWeatherRange_EmptyRange(t *testing.T) {
	s, _ := newTestStore(t)
	seedStation(t, s, 13704)
	ctx := context.Background()

	ts := at(2020, time.March, 1, 10, 0)
	_, err := s.MergeWeather(ctx, 13704, []domain.WeatherRow{weatherRow(ts, 13704, 1.5)}, domain.InsertIfAbsent)
	require.NoError(t, err)

	got, err := s.WeatherRange(ctx, 13704, ts.Add(time.Hour), ts, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWeatherRange_ColumnFilteringCaseInsensitive(t *testing.T) {
	s, _ := newTestStore(t)
	seedStation(t, s, 13704)
	ctx := context.Background()

	ts := at(2020, time.March, 1, 10, 0)
	_, err := s.MergeWeather(ctx, 13704, []domain.WeatherRow{
		{Time: ts, Station: 13704, Temp: ptr(12), Prec: ptr(0.3)},
	}, domain.InsertIfAbsent)
	require.NoError(t, err)

	got, err := s.WeatherRange(ctx, 13704, ts, ts, []string{"temp", "Bogus"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Temp)
	assert.Equal(t, 12.0, *got[0].Temp)
	assert.Nil(t, got[0].Prec) // not requested

	_, err = s.WeatherRange(ctx, 13704, ts, ts, []string{"Bogus", "Nope"})
	require.ErrorIs(t, err, domain.ErrInvalidQuery)
}

func TestWeatherRangeAll_FiltersListedStations(t *testing.T) {
	s, _ := newTestStore(t)
	seedStation(t, s, 13704)
	seedStation(t, s, 13711)
	ctx := context.Background()

	ts := at(2020, time.March, 1, 10, 0)
	for _, st := range []int{13704, 13711} {
		_, err := s.MergeWeather(ctx, st, []domain.WeatherRow{weatherRow(ts, st, 10)}, domain.InsertIfAbsent)
		require.NoError(t, err)
	}

	got, err := s.WeatherRangeAll(ctx, ts, ts, nil, []int{13711})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 13711, got[0].Station)

	_, err = s.WeatherRangeAll(ctx, ts, ts, nil, []int{13711, 99999})
	require.ErrorIs(t, err, domain.ErrUnknownStation)
}

func TestLoadRange_ColumnSubset(t *testing.T) {
	s, _ := newTestStore(t)
	seedLoadColumns(t, s)
	ctx := context.Background()

	ts := at(2020, time.March, 1, 10, 0)
	_, err := s.MergeLoad(ctx, []domain.LoadRow{
		{Time: ts, NetSystemLoad: ptr(4000), GrossSystemLoad: ptr(4500)},
	}, domain.Replace)
	require.NoError(t, err)

	got, err := s.LoadRange(ctx, ts, ts, []string{"netsystemload"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].NetSystemLoad)
	assert.Equal(t, 4000.0, *got[0].NetSystemLoad)
	assert.Nil(t, got[0].GrossSystemLoad)
}

func TestAggregate_UnknownKind(t *testing.T) {
	s, _ := newTestStore(t)
	from := at(2020, time.January, 1, 0, 0)
	_, err := s.Aggregate(context.Background(), "daily", from, from.Add(time.Hour))
	require.ErrorIs(t, err, domain.ErrInvalidQuery)
}

func TestStatus_CoversBothFeeds(t *testing.T) {
	s, _ := newTestStore(t)
	seedStation(t, s, 13704)
	seedLoadColumns(t, s)
	ctx := context.Background()

	ts := at(2020, time.March, 1, 10, 0)
	_, err := s.MergeWeather(ctx, 13704, []domain.WeatherRow{weatherRow(ts, 13704, 10)}, domain.InsertIfAbsent)
	require.NoError(t, err)

	entries, err := s.Status(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1+len(domain.LoadColumns))

	byEntity := map[string]int{}
	for i, e := range entries {
		byEntity[e.Feed+"/"+e.Entity] = i
	}
	i, ok := byEntity[domain.FeedWeather+"/13704"]
	require.True(t, ok)
	require.NotNil(t, entries[i].End)
	assert.Equal(t, ts, *entries[i].End)

	j, ok := byEntity[domain.FeedElectricity+"/NetSystemLoad"]
	require.True(t, ok)
	assert.Nil(t, entries[j].End)
}

func TestWeatherMeta_ReturnsCatalog(t *testing.T) {
	s, _ := newTestStore(t)
	seedStation(t, s, 13704)

	got, err := s.WeatherMeta(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 13704, got[0].Number)
	assert.Equal(t, "Test Station", got[0].Name)
	assert.Equal(t, 47.5, got[0].Latitude)
}

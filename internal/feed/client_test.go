package feed_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfarkas/gridfeed/internal/domain"
	"github.com/mfarkas/gridfeed/internal/feed"
)

func TestClient_Get(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	c := feed.NewClient(domain.FeedWeather, 5*time.Second)
	body, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))
}

func TestClient_NonOKIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := feed.NewClient(domain.FeedWeather, 5*time.Second)
	_, err := c.Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))

	var tfe *domain.TransientFetchError
	require.ErrorAs(t, err, &tfe)
	assert.Equal(t, http.StatusBadGateway, tfe.StatusCode)
}

func TestClient_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := feed.NewClient(domain.FeedWeather, 5*time.Second)
	for i := 0; i < 5; i++ {
		_, err := c.Get(context.Background(), srv.URL)
		require.Error(t, err)
	}

	// The breaker is open now; the request never reaches the server.
	_, err := c.Get(context.Background(), srv.URL+"/next")
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
}

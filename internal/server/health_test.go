package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/issuepilot/issuepilot/internal/monitor"
)

func TestHealthFeedServesLatestSample(t *testing.T) {
	feed := NewHealthFeed(time.Minute)

	feed.Record("acme/api", monitor.HealthSample{ErrorRate: 0.01, LatencyP95: 100})
	feed.Record("acme/api", monitor.HealthSample{ErrorRate: 0.05, LatencyP95: 150})

	s, err := feed.Sample(t.Context(), "acme/api")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 0.05, s.ErrorRate)
	assert.Equal(t, 150.0, s.LatencyP95)
	assert.False(t, s.TakenAt.IsZero(), "Record should stamp TakenAt")
}

func TestHealthFeedUnknownRepo(t *testing.T) {
	feed := NewHealthFeed(time.Minute)

	s, err := feed.Sample(t.Context(), "acme/unknown")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestHealthFeedStaleSampleIsMissing(t *testing.T) {
	feed := NewHealthFeed(time.Minute)
	now := time.Now()
	feed.now = func() time.Time { return now }

	feed.Record("acme/api", monitor.HealthSample{ErrorRate: 0.01})

	feed.now = func() time.Time { return now.Add(2 * time.Minute) }
	s, err := feed.Sample(t.Context(), "acme/api")
	require.NoError(t, err)
	assert.Nil(t, s, "stale sample must read as no data")
}

func TestHealthFeedDefaultMaxAge(t *testing.T) {
	feed := NewHealthFeed(0)
	assert.Equal(t, 5*time.Minute, feed.maxAge)
}

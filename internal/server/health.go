package server

import (
	"context"
	"sync"
	"time"

	"github.com/issuepilot/issuepilot/internal/monitor"
)

// HealthFeed collects health samples pushed by deployments and serves them to
// the post-merge monitor. A sample older than maxAge is treated as missing:
// a stale reading must not trigger a rollback.
type HealthFeed struct {
	mu      sync.Mutex
	samples map[string]monitor.HealthSample
	maxAge  time.Duration
	now     func() time.Time
}

// NewHealthFeed creates a HealthFeed. maxAge <= 0 defaults to 5 minutes.
func NewHealthFeed(maxAge time.Duration) *HealthFeed {
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return &HealthFeed{
		samples: make(map[string]monitor.HealthSample),
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Record stores the latest sample for a repo.
func (f *HealthFeed) Record(repo string, s monitor.HealthSample) {
	if s.TakenAt.IsZero() {
		s.TakenAt = f.now()
	}
	f.mu.Lock()
	f.samples[repo] = s
	f.mu.Unlock()
}

// Sample implements monitor.HealthSource. A missing or stale sample returns
// (nil, nil): no data, not an error.
func (f *HealthFeed) Sample(_ context.Context, repo string) (*monitor.HealthSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.samples[repo]
	if !ok {
		return nil, nil
	}
	if f.now().Sub(s.TakenAt) > f.maxAge {
		return nil, nil
	}
	out := s
	return &out, nil
}

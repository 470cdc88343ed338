package monitor

import (
	"context"
	"time"

	"github.com/issuepilot/issuepilot/internal/lifecycle"
)

// Outcome is the terminal (or pending) state of a monitoring window.
type Outcome string

const (
	// OutcomePending means the window is open and still being evaluated.
	OutcomePending Outcome = "pending"
	// OutcomeHealthy means the window expired without a health regression.
	OutcomeHealthy Outcome = "healthy"
	// OutcomeDegraded means a regression was detected and a rollback was
	// requested.
	OutcomeDegraded Outcome = "degraded"
	// OutcomeRolledBack means the rollback completed.
	OutcomeRolledBack Outcome = "rolled-back"
)

// Window tracks post-merge health for one merged change request. The baseline
// is snapshotted when the window opens; triggers compare later samples against
// it. A window that has left OutcomePending never fires again.
type Window struct {
	Key      lifecycle.Key `yaml:"-"`
	Repo     string        `yaml:"repo"`
	Issue    int           `yaml:"issue"`
	MergeSHA string        `yaml:"merge_sha,omitempty"`

	OpenedAt time.Time     `yaml:"opened_at"`
	Duration time.Duration `yaml:"-"`

	// Baseline snapshot. A zero BaselineTaken means no baseline could be
	// captured at open; relative triggers are then evaluated against the
	// first sample that arrives.
	BaselineTaken      bool    `yaml:"baseline_taken"`
	BaselineErrorRate  float64 `yaml:"baseline_error_rate"`
	BaselineLatencyP95 float64 `yaml:"baseline_latency_p95"`

	Outcome  Outcome   `yaml:"outcome"`
	Reason   string    `yaml:"reason,omitempty"`
	ClosedAt time.Time `yaml:"closed_at,omitempty"`
}

// ExpiresAt returns the instant the window closes healthy if nothing fires.
func (w *Window) ExpiresAt() time.Time {
	return w.OpenedAt.Add(w.Duration)
}

// Open reports whether the window is still pending.
func (w *Window) Open() bool {
	return w.Outcome == OutcomePending
}

// HealthSample is one observation of a repository's production health.
// ErrorRate is a fraction in [0,1]; LatencyP95 is in milliseconds. Critical
// set by the source forces a rollback regardless of the baselines.
type HealthSample struct {
	ErrorRate  float64
	LatencyP95 float64
	Critical   bool
	TakenAt    time.Time
}

// HealthSource provides health samples for a repository. A (nil, nil) return
// means no data is available right now; the monitor treats that as a skipped
// tick, never as a trigger.
type HealthSource interface {
	Sample(ctx context.Context, repo string) (*HealthSample, error)
}

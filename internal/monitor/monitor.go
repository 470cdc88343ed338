package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/issuepilot/issuepilot/internal/lifecycle"
)

// Config holds the monitoring thresholds as an explicit immutable value.
type Config struct {
	// WindowDuration is how long a merged change is watched (default 24h).
	WindowDuration time.Duration
	// SampleInterval is how often the health source is polled (default 1m).
	SampleInterval time.Duration
	// ErrorRateIncrease is the relative error-rate rise over baseline that
	// triggers a rollback (default 0.20 for +20%).
	ErrorRateIncrease float64
	// LatencyIncrease is the relative p95 latency rise over baseline that
	// triggers a rollback (default 0.15 for +15%).
	LatencyIncrease float64
}

// DefaultConfig returns the default monitoring thresholds.
func DefaultConfig() Config {
	return Config{
		WindowDuration:    24 * time.Hour,
		SampleInterval:    time.Minute,
		ErrorRateIncrease: 0.20,
		LatencyIncrease:   0.15,
	}
}

// Sink receives window outcomes. The monitor calls exactly one of these per
// window, once, when the window closes.
type Sink interface {
	// WindowHealthy is called when a window expires with no regression.
	WindowHealthy(ctx context.Context, key lifecycle.Key)
	// WindowDegraded is called when a regression or critical flag fires.
	// The sink is responsible for issuing the revert.
	WindowDegraded(ctx context.Context, key lifecycle.Key, reason string)
}

// WindowStore persists windows so they survive a restart.
type WindowStore interface {
	SaveWindow(w *Window) error
}

type runningWindow struct {
	window *Window
	cancel context.CancelFunc
}

// Monitor runs one goroutine per open window and closes each window exactly
// once, either healthy at expiry or degraded on the first trigger.
type Monitor struct {
	cfg    Config
	source HealthSource
	sink   Sink
	store  WindowStore

	mu      sync.Mutex
	windows map[lifecycle.Key]*runningWindow
	wg      sync.WaitGroup
}

// New creates a Monitor. The store may be nil for in-memory operation.
func New(cfg Config, source HealthSource, sink Sink, store WindowStore) *Monitor {
	return &Monitor{
		cfg:     cfg,
		source:  source,
		sink:    sink,
		store:   store,
		windows: make(map[lifecycle.Key]*runningWindow),
	}
}

// Open starts a monitoring window for a freshly merged change. The baseline
// is snapshotted immediately; if no sample is available the window opens
// without one and adopts the first sample that arrives as its baseline.
func (m *Monitor) Open(ctx context.Context, key lifecycle.Key, mergeSHA string) (*Window, error) {
	m.mu.Lock()
	if _, ok := m.windows[key]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("monitoring window already open for %s", key)
	}
	m.mu.Unlock()

	w := &Window{
		Key:      key,
		Repo:     key.Repo,
		Issue:    key.Number,
		MergeSHA: mergeSHA,
		OpenedAt: time.Now().UTC(),
		Duration: m.cfg.WindowDuration,
		Outcome:  OutcomePending,
	}

	sample, err := m.source.Sample(ctx, key.Repo)
	if err != nil {
		slog.Warn("baseline sample failed; window opens without baseline", "key", key.String(), "error", err)
	} else if sample != nil {
		w.BaselineTaken = true
		w.BaselineErrorRate = sample.ErrorRate
		w.BaselineLatencyP95 = sample.LatencyP95
	}

	if err := m.persist(w); err != nil {
		return nil, fmt.Errorf("persisting window: %w", err)
	}
	m.start(w)
	slog.Info("monitoring window opened",
		"key", key.String(),
		"duration", w.Duration.String(),
		"baseline", w.BaselineTaken)
	return w, nil
}

// Resume restarts watching for windows persisted before a restart. Windows
// whose deadline already passed close healthy immediately; only pending
// windows are accepted.
func (m *Monitor) Resume(ctx context.Context, windows []*Window) {
	for _, w := range windows {
		if !w.Open() {
			continue
		}
		w.Duration = m.cfg.WindowDuration
		if time.Now().After(w.ExpiresAt()) {
			m.close(ctx, w, OutcomeHealthy, "window expired while offline")
			continue
		}
		m.start(w)
		slog.Info("monitoring window resumed",
			"key", w.Key.String(),
			"remaining", time.Until(w.ExpiresAt()).Round(time.Second).String())
	}
}

// Watching reports whether a window is currently open for the key.
func (m *Monitor) Watching(key lifecycle.Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.windows[key]
	return ok
}

// Stop cancels all window goroutines and waits for them to exit. Pending
// windows stay pending on disk and are resumed on the next start.
func (m *Monitor) Stop() {
	m.mu.Lock()
	for _, rw := range m.windows {
		rw.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Monitor) start(w *Window) {
	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.windows[w.Key] = &runningWindow{window: w, cancel: cancel}
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx, w)
	}()
}

func (m *Monitor) run(ctx context.Context, w *Window) {
	expiry := time.NewTimer(time.Until(w.ExpiresAt()))
	defer expiry.Stop()
	ticker := time.NewTicker(m.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Shutdown, not a verdict. The window stays pending.
			m.mu.Lock()
			delete(m.windows, w.Key)
			m.mu.Unlock()
			return
		case <-expiry.C:
			m.close(ctx, w, OutcomeHealthy, "window expired with no regression")
			return
		case <-ticker.C:
			sample, err := m.source.Sample(ctx, w.Repo)
			if err != nil {
				slog.Warn("health sample failed", "key", w.Key.String(), "error", err)
				continue
			}
			if sample == nil {
				continue
			}
			if !w.BaselineTaken {
				// Late baseline: adopt the first sample and persist it.
				w.BaselineTaken = true
				w.BaselineErrorRate = sample.ErrorRate
				w.BaselineLatencyP95 = sample.LatencyP95
				if err := m.persist(w); err != nil {
					slog.Warn("persisting late baseline", "key", w.Key.String(), "error", err)
				}
				continue
			}
			if reason := m.evaluate(w, sample); reason != "" {
				m.close(ctx, w, OutcomeDegraded, reason)
				return
			}
		}
	}
}

// evaluate returns a non-empty trigger reason when a sample breaches the
// window's thresholds.
func (m *Monitor) evaluate(w *Window, s *HealthSample) string {
	if s.Critical {
		return "health source flagged a critical incident"
	}
	if rose(w.BaselineErrorRate, s.ErrorRate, m.cfg.ErrorRateIncrease) {
		return fmt.Sprintf("error rate rose from %.4f to %.4f (threshold +%.0f%%)",
			w.BaselineErrorRate, s.ErrorRate, m.cfg.ErrorRateIncrease*100)
	}
	if rose(w.BaselineLatencyP95, s.LatencyP95, m.cfg.LatencyIncrease) {
		return fmt.Sprintf("p95 latency rose from %.1fms to %.1fms (threshold +%.0f%%)",
			w.BaselineLatencyP95, s.LatencyP95, m.cfg.LatencyIncrease*100)
	}
	return ""
}

// rose reports whether current exceeds baseline by at least the relative
// threshold; a sample sitting exactly on the boundary triggers. The
// comparison tolerates float rounding so 0.12 against a 0.10 baseline counts
// as a 20% rise. With a zero baseline the relative rise is undefined, so the
// threshold is applied as an absolute floor instead: a service that was at
// 0% errors rolls back only once errors reach the threshold fraction itself.
func rose(baseline, current, threshold float64) bool {
	if baseline <= 0 {
		return current >= threshold
	}
	return current-baseline >= baseline*threshold*(1-1e-9)
}

// close settles the window exactly once. Later calls for the same window are
// no-ops, so a trigger and an expiry racing each other cannot both fire.
func (m *Monitor) close(ctx context.Context, w *Window, outcome Outcome, reason string) {
	m.mu.Lock()
	if !w.Open() {
		m.mu.Unlock()
		return
	}
	w.Outcome = outcome
	w.Reason = reason
	w.ClosedAt = time.Now().UTC()
	delete(m.windows, w.Key)
	m.mu.Unlock()

	if err := m.persist(w); err != nil {
		slog.Error("persisting closed window", "key", w.Key.String(), "error", err)
	}

	switch outcome {
	case OutcomeHealthy:
		slog.Info("monitoring window closed healthy", "key", w.Key.String())
		m.sink.WindowHealthy(ctx, w.Key)
	case OutcomeDegraded:
		slog.Warn("monitoring window degraded", "key", w.Key.String(), "reason", reason)
		m.sink.WindowDegraded(ctx, w.Key, reason)
	}
}

// MarkRolledBack records that the revert requested for a degraded window has
// completed.
func (m *Monitor) MarkRolledBack(w *Window) error {
	if w.Outcome != OutcomeDegraded {
		return fmt.Errorf("window for %s is %s, not degraded", w.Key, w.Outcome)
	}
	w.Outcome = OutcomeRolledBack
	return m.persist(w)
}

func (m *Monitor) persist(w *Window) error {
	if m.store == nil {
		return nil
	}
	return m.store.SaveWindow(w)
}

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/issuepilot/issuepilot/internal/lifecycle"
	"github.com/issuepilot/issuepilot/internal/monitor"
)

func TestIssueRecordRoundTrip(t *testing.T) {
	r := NewRecords(t.TempDir())

	key := lifecycle.Key{Repo: "acme/widgets", Number: 7}
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := lifecycle.NewIssueRecord(key, "Fix typo in README", "The word 'teh' appears twice.", []string{"documentation"}, "alice", created)
	_, err := rec.Apply(lifecycle.StatusAnalyzing, "orchestrator", "scoring started")
	require.NoError(t, err)
	conf := 92
	rec.Confidence = &conf
	rec.Strategy = lifecycle.StrategyAuto
	rec.IssueType = "documentation"
	rec.Priority = "low"
	rec.ChangeRequest = 101

	require.NoError(t, r.SaveIssue(rec))

	got, err := r.LoadIssue(key)
	require.NoError(t, err)
	assert.Equal(t, key, got.Key)
	assert.Equal(t, "Fix typo in README", got.Title)
	assert.Equal(t, "The word 'teh' appears twice.", got.Body)
	assert.Equal(t, []string{"documentation"}, got.Labels)
	assert.Equal(t, "alice", got.Author)
	assert.Equal(t, lifecycle.StatusAnalyzing, got.Status)
	require.NotNil(t, got.Confidence)
	assert.Equal(t, 92, *got.Confidence)
	assert.Equal(t, lifecycle.StrategyAuto, got.Strategy)
	assert.Equal(t, "documentation", got.IssueType)
	assert.Equal(t, "low", got.Priority)
	assert.Equal(t, 101, got.ChangeRequest)
	require.Len(t, got.History, 1)
	assert.Equal(t, lifecycle.StatusNew, got.History[0].From)
	assert.Equal(t, lifecycle.StatusAnalyzing, got.History[0].To)
	assert.Equal(t, "orchestrator", got.History[0].Actor)
	assert.Equal(t, "scoring started", got.History[0].Rationale)
}

func TestIssueRecordNilConfidenceStaysNil(t *testing.T) {
	r := NewRecords(t.TempDir())
	key := lifecycle.Key{Repo: "acme/widgets", Number: 8}
	rec := lifecycle.NewIssueRecord(key, "title", "body", nil, "bob", time.Now().UTC())

	require.NoError(t, r.SaveIssue(rec))
	got, err := r.LoadIssue(key)
	require.NoError(t, err)
	assert.Nil(t, got.Confidence)
	assert.Zero(t, got.ChangeRequest)
}

func TestLoadIssueNotFound(t *testing.T) {
	r := NewRecords(t.TempDir())
	_, err := r.LoadIssue(lifecycle.Key{Repo: "acme/widgets", Number: 404})
	assert.Error(t, err)
}

func TestListIssues(t *testing.T) {
	r := NewRecords(t.TempDir())

	for _, n := range []int{1, 2, 3} {
		key := lifecycle.Key{Repo: "acme/widgets", Number: n}
		rec := lifecycle.NewIssueRecord(key, "title", "body", nil, "alice", time.Now().UTC())
		require.NoError(t, r.SaveIssue(rec))
	}

	records, err := r.ListIssues()
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestListIssuesEmptyDir(t *testing.T) {
	r := NewRecords(t.TempDir())
	records, err := r.ListIssues()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestWindowRoundTrip(t *testing.T) {
	r := NewRecords(t.TempDir())

	key := lifecycle.Key{Repo: "acme/widgets", Number: 7}
	opened := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	w := &monitor.Window{
		Key:                key,
		Repo:               "acme/widgets",
		Issue:              7,
		MergeSHA:           "deadbeef",
		OpenedAt:           opened,
		BaselineTaken:      true,
		BaselineErrorRate:  0.02,
		BaselineLatencyP95: 180.5,
		Outcome:            monitor.OutcomePending,
	}
	require.NoError(t, r.SaveWindow(w))

	windows, err := r.ListWindows()
	require.NoError(t, err)
	require.Len(t, windows, 1)
	got := windows[0]
	assert.Equal(t, key, got.Key)
	assert.Equal(t, "deadbeef", got.MergeSHA)
	assert.True(t, got.OpenedAt.Equal(opened))
	assert.True(t, got.BaselineTaken)
	assert.Equal(t, 0.02, got.BaselineErrorRate)
	assert.Equal(t, 180.5, got.BaselineLatencyP95)
	assert.Equal(t, monitor.OutcomePending, got.Outcome)
	assert.True(t, got.ClosedAt.IsZero())
}

func TestSaveWindowOverwrites(t *testing.T) {
	r := NewRecords(t.TempDir())
	key := lifecycle.Key{Repo: "acme/widgets", Number: 9}
	w := &monitor.Window{Key: key, Repo: "acme/widgets", Issue: 9, OpenedAt: time.Now().UTC(), Outcome: monitor.OutcomePending}
	require.NoError(t, r.SaveWindow(w))

	w.Outcome = monitor.OutcomeDegraded
	w.Reason = "error rate rose"
	w.ClosedAt = time.Now().UTC()
	require.NoError(t, r.SaveWindow(w))

	windows, err := r.ListWindows()
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, monitor.OutcomeDegraded, windows[0].Outcome)
	assert.Equal(t, "error rate rose", windows[0].Reason)
	assert.False(t, windows[0].ClosedAt.IsZero())
}

func TestRecordFilenameRoundTrip(t *testing.T) {
	key := lifecycle.Key{Repo: "acme/widgets", Number: 123}
	name := recordFilename(key)
	assert.Equal(t, "acme__widgets__123.md", name)

	parsed, ok := parseRecordFilename(name)
	require.True(t, ok)
	assert.Equal(t, key, parsed)

	_, ok = parseRecordFilename("garbage.md")
	assert.False(t, ok)
}

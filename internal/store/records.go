package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/issuepilot/issuepilot/internal/lifecycle"
	"github.com/issuepilot/issuepilot/internal/monitor"
)

// DefaultRoot returns the data directory for durable records.
func DefaultRoot() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			slog.Error("cannot determine home directory; set $HOME or $XDG_DATA_HOME", "error", err)
			os.Exit(1)
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "issuepilot")
}

// Records persists issue records and monitoring windows as markdown documents
// with YAML frontmatter, one file per issue.
type Records struct {
	root string
}

// NewRecords creates a record store rooted at the given directory.
func NewRecords(root string) *Records {
	return &Records{root: root}
}

// recordFilename flattens a key into a filename: {owner}__{name}__{number}.md.
func recordFilename(key lifecycle.Key) string {
	return fmt.Sprintf("%s__%d.md", strings.ReplaceAll(key.Repo, "/", "__"), key.Number)
}

// parseRecordFilename is the inverse of recordFilename.
func parseRecordFilename(name string) (lifecycle.Key, bool) {
	name = strings.TrimSuffix(name, ".md")
	parts := strings.Split(name, "__")
	if len(parts) != 3 {
		return lifecycle.Key{}, false
	}
	number, err := strconv.Atoi(parts[2])
	if err != nil {
		return lifecycle.Key{}, false
	}
	return lifecycle.Key{Repo: parts[0] + "/" + parts[1], Number: number}, true
}

func (r *Records) issuePath(key lifecycle.Key) string {
	return filepath.Join(r.root, "issues", recordFilename(key))
}

func (r *Records) windowPath(key lifecycle.Key) string {
	return filepath.Join(r.root, "windows", recordFilename(key))
}

// SaveIssue writes an issue record to disk under a file lock. The issue body
// becomes the markdown body; everything else lives in the frontmatter.
func (r *Records) SaveIssue(rec *lifecycle.IssueRecord) error {
	history := make([]map[string]any, 0, len(rec.History))
	for _, t := range rec.History {
		history = append(history, map[string]any{
			"from":      string(t.From),
			"to":        string(t.To),
			"actor":     t.Actor,
			"rationale": t.Rationale,
			"at":        FormatTime(t.At),
		})
	}

	fm := map[string]any{
		"repo":       rec.Key.Repo,
		"number":     rec.Key.Number,
		"title":      rec.Title,
		"labels":     rec.Labels,
		"author":     rec.Author,
		"created_at": FormatTime(rec.CreatedAt),
		"updated_at": FormatTime(rec.UpdatedAt),
		"status":     string(rec.Status),
		"strategy":   string(rec.Strategy),
		"issue_type": rec.IssueType,
		"priority":   rec.Priority,
		"history":    history,
	}
	if rec.Confidence != nil {
		fm["confidence"] = *rec.Confidence
	}
	if rec.ChangeRequest != 0 {
		fm["change_request"] = rec.ChangeRequest
	}

	path := r.issuePath(rec.Key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating issue directory: %w", err)
	}
	return WithLock(path, 5*time.Second, func() error {
		return WriteDocument(path, &Document{Frontmatter: fm, Body: rec.Body})
	})
}

// LoadIssue reads one issue record from disk.
func (r *Records) LoadIssue(key lifecycle.Key) (*lifecycle.IssueRecord, error) {
	doc, err := ReadDocument(r.issuePath(key))
	if err != nil {
		return nil, fmt.Errorf("reading issue record: %w", err)
	}
	return issueFromDocument(key, doc), nil
}

func issueFromDocument(key lifecycle.Key, doc *Document) *lifecycle.IssueRecord {
	fm := doc.Frontmatter
	rec := &lifecycle.IssueRecord{
		Key:           key,
		Title:         GetString(fm, "title"),
		Body:          doc.Body,
		Labels:        GetStringSlice(fm, "labels"),
		Author:        GetString(fm, "author"),
		CreatedAt:     GetTime(fm, "created_at"),
		UpdatedAt:     GetTime(fm, "updated_at"),
		Status:        lifecycle.Status(GetString(fm, "status")),
		Strategy:      lifecycle.Strategy(GetString(fm, "strategy")),
		IssueType:     GetString(fm, "issue_type"),
		Priority:      GetString(fm, "priority"),
		ChangeRequest: GetInt(fm, "change_request"),
	}
	if _, ok := fm["confidence"]; ok {
		c := GetInt(fm, "confidence")
		rec.Confidence = &c
	}
	if entries, ok := fm["history"].([]any); ok {
		for _, e := range entries {
			m, ok := e.(map[string]any)
			if !ok {
				continue
			}
			rec.History = append(rec.History, lifecycle.Transition{
				From:      lifecycle.Status(GetString(m, "from")),
				To:        lifecycle.Status(GetString(m, "to")),
				Actor:     GetString(m, "actor"),
				Rationale: GetString(m, "rationale"),
				At:        GetTime(m, "at"),
			})
		}
	}
	return rec
}

// ListIssues returns every issue record on disk. Unreadable files are logged
// and skipped, never fatal.
func (r *Records) ListIssues() ([]*lifecycle.IssueRecord, error) {
	dir := filepath.Join(r.root, "issues")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading issue directory: %w", err)
	}

	var records []*lifecycle.IssueRecord
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		key, ok := parseRecordFilename(entry.Name())
		if !ok {
			continue
		}
		rec, err := r.LoadIssue(key)
		if err != nil {
			slog.Warn("failed to load issue record", "file", entry.Name(), "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// SaveWindow writes a monitoring window to disk. Satisfies monitor.WindowStore.
func (r *Records) SaveWindow(w *monitor.Window) error {
	fm := map[string]any{
		"repo":                 w.Repo,
		"issue":                w.Issue,
		"merge_sha":            w.MergeSHA,
		"opened_at":            FormatTime(w.OpenedAt),
		"baseline_taken":       w.BaselineTaken,
		"baseline_error_rate":  w.BaselineErrorRate,
		"baseline_latency_p95": w.BaselineLatencyP95,
		"outcome":              string(w.Outcome),
		"reason":               w.Reason,
	}
	if !w.ClosedAt.IsZero() {
		fm["closed_at"] = FormatTime(w.ClosedAt)
	}

	path := r.windowPath(w.Key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating window directory: %w", err)
	}
	return WithLock(path, 5*time.Second, func() error {
		return WriteDocument(path, &Document{Frontmatter: fm})
	})
}

// ListWindows returns every persisted monitoring window.
func (r *Records) ListWindows() ([]*monitor.Window, error) {
	dir := filepath.Join(r.root, "windows")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading window directory: %w", err)
	}

	var windows []*monitor.Window
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		key, ok := parseRecordFilename(entry.Name())
		if !ok {
			continue
		}
		doc, err := ReadDocument(filepath.Join(dir, entry.Name()))
		if err != nil {
			slog.Warn("failed to load window record", "file", entry.Name(), "error", err)
			continue
		}
		fm := doc.Frontmatter
		w := &monitor.Window{
			Key:                key,
			Repo:               GetString(fm, "repo"),
			Issue:              GetInt(fm, "issue"),
			MergeSHA:           GetString(fm, "merge_sha"),
			OpenedAt:           GetTime(fm, "opened_at"),
			BaselineTaken:      GetBool(fm, "baseline_taken"),
			BaselineErrorRate:  GetFloat(fm, "baseline_error_rate"),
			BaselineLatencyP95: GetFloat(fm, "baseline_latency_p95"),
			Outcome:            monitor.Outcome(GetString(fm, "outcome")),
			Reason:             GetString(fm, "reason"),
			ClosedAt:           GetTime(fm, "closed_at"),
		}
		windows = append(windows, w)
	}
	return windows, nil
}

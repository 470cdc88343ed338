package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/issuepilot/issuepilot/internal/confidence"
	"github.com/issuepilot/issuepilot/internal/fixer"
	"github.com/issuepilot/issuepilot/internal/lifecycle"
	"github.com/issuepilot/issuepilot/internal/mergerisk"
	"github.com/issuepilot/issuepilot/internal/monitor"
	"github.com/issuepilot/issuepilot/internal/provider"
	"github.com/issuepilot/issuepilot/internal/store"
)

// AuditLog is the append-only record of transitions, scores, and decisions.
// A transition whose audit append fails is treated as not having happened.
type AuditLog interface {
	AppendTransition(repo string, issue int, fromStatus, toStatus, actor, rationale string) error
	RecordScore(repo string, issue int, scorer string, confidence int, issueType, priority string) error
	RecordDecision(repo string, issue, changeReq int, outcome, strategy string, risk int, rationale string) error
}

// Notifier delivers terminal-event notifications. All methods are
// best-effort; the orchestrator never blocks on them.
type Notifier interface {
	IssueFailed(ctx context.Context, key lifecycle.Key, reason string)
	AutoMerged(ctx context.Context, key lifecycle.Key, changeRequest int, strategy string)
	RolledBack(ctx context.Context, key lifecycle.Key, reason string)
}

// Publisher receives every status change for live feeds.
type Publisher interface {
	StatusChanged(key lifecycle.Key, status lifecycle.Status, rationale string)
}

// IssueEvent is an issue-opened event from the hosting provider.
type IssueEvent struct {
	Repo      string    `json:"repo"`
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Labels    []string  `json:"labels"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

// ChangeRequestEvent signals that a change request was opened or its checks
// changed.
type ChangeRequestEvent struct {
	Repo   string `json:"repo"`
	Number int    `json:"number"`
}

// Options holds the orchestrator's tunables as an explicit immutable value.
type Options struct {
	// Actor is the name recorded on automated transitions.
	Actor string
	// AutoApproveConfidence is the confidence at which an analyzed issue is
	// approved for automation without a human (default 80).
	AutoApproveConfidence int
	// HoldTimeout forces a held change request to manual review when its
	// checks are still pending after this long (default 30m).
	HoldTimeout time.Duration
	// Retry bounds external collaborator calls.
	Retry RetryConfig
}

// DefaultOptions returns the default orchestrator tunables.
func DefaultOptions() Options {
	return Options{
		Actor:                 "issuepilot",
		AutoApproveConfidence: 80,
		HoldTimeout:           30 * time.Minute,
		Retry:                 DefaultRetryConfig(),
	}
}

// Orchestrator sequences issues through their lifecycle. All transitions for
// one issue key are serialized through a per-key mutex; scorers and deciders
// are pure and called without further synchronization.
type Orchestrator struct {
	opts    Options
	records *store.Records
	audit   AuditLog
	rules   confidence.Scorer
	learned confidence.Scorer // optional, falls back to rules
	risk    *mergerisk.Scorer
	decider *mergerisk.Decider
	backend provider.Backend
	fixer   *fixer.Fixer

	mon       *monitor.Monitor
	notifier  Notifier
	publisher Publisher

	mu       sync.Mutex
	keyLocks map[lifecycle.Key]*sync.Mutex
	holds    map[string]*time.Timer
}

// New creates an Orchestrator. learned may be nil to score with rules only.
func New(opts Options, records *store.Records, audit AuditLog, rules, learned confidence.Scorer,
	risk *mergerisk.Scorer, decider *mergerisk.Decider, backend provider.Backend, fix *fixer.Fixer) *Orchestrator {
	return &Orchestrator{
		opts:     opts,
		records:  records,
		audit:    audit,
		rules:    rules,
		learned:  learned,
		risk:     risk,
		decider:  decider,
		backend:  backend,
		fixer:    fix,
		keyLocks: make(map[lifecycle.Key]*sync.Mutex),
		holds:    make(map[string]*time.Timer),
	}
}

// AttachMonitor wires the post-merge monitor. The orchestrator is the
// monitor's sink, so construction happens in two steps.
func (o *Orchestrator) AttachMonitor(m *monitor.Monitor) { o.mon = m }

// SetNotifier wires terminal-event notifications.
func (o *Orchestrator) SetNotifier(n Notifier) { o.notifier = n }

// SetPublisher wires the live status feed.
func (o *Orchestrator) SetPublisher(p Publisher) { o.publisher = p }

func (o *Orchestrator) lock(key lifecycle.Key) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lk, ok := o.keyLocks[key]
	if !ok {
		lk = &sync.Mutex{}
		o.keyLocks[key] = lk
	}
	return lk
}

// HandleIssueOpened ingests a new issue, scores it, and routes it to
// APPROVED or REVIEW_NEEDED. Re-delivery of an already tracked issue is a
// no-op.
func (o *Orchestrator) HandleIssueOpened(ctx context.Context, ev IssueEvent) error {
	key := lifecycle.Key{Repo: ev.Repo, Number: ev.Number}
	lk := o.lock(key)
	lk.Lock()
	defer lk.Unlock()

	if existing, err := o.records.LoadIssue(key); err == nil && existing != nil {
		slog.Debug("issue already tracked, ignoring re-delivery", "key", key.String())
		return nil
	}

	rec := lifecycle.NewIssueRecord(key, ev.Title, ev.Body, ev.Labels, ev.Author, ev.CreatedAt)
	if err := o.records.SaveIssue(rec); err != nil {
		return fmt.Errorf("saving new issue: %w", err)
	}
	slog.Info("issue ingested", "key", key.String(), "title", ev.Title)

	return o.analyze(ctx, rec)
}

// analyze runs confidence scoring and routes the issue. Callers hold the key
// lock.
func (o *Orchestrator) analyze(ctx context.Context, rec *lifecycle.IssueRecord) error {
	if err := o.transition(ctx, rec, lifecycle.StatusAnalyzing, o.opts.Actor, "confidence scoring started"); err != nil {
		return err
	}

	result, scorerName := o.score(ctx, rec)
	rec.Confidence = &result.Score
	rec.IssueType = result.IssueType
	rec.Priority = result.Priority
	if err := o.audit.RecordScore(rec.Key.Repo, rec.Key.Number, scorerName, result.Score, result.IssueType, result.Priority); err != nil {
		slog.Warn("recording score failed", "key", rec.Key.String(), "error", err)
	}

	rationale := fmt.Sprintf("confidence %d via %s scorer (%s, %s priority)", result.Score, scorerName, result.IssueType, result.Priority)
	if err := o.transition(ctx, rec, lifecycle.StatusAnalyzed, o.opts.Actor, rationale); err != nil {
		return err
	}

	if result.Score >= o.opts.AutoApproveConfidence {
		rec.Strategy = lifecycle.StrategyAuto
		rationale := fmt.Sprintf("confidence %d at or above auto-approve threshold %d", result.Score, o.opts.AutoApproveConfidence)
		if err := o.transition(ctx, rec, lifecycle.StatusApproved, o.opts.Actor, rationale); err != nil {
			return err
		}
		return o.startFix(ctx, rec)
	}

	rec.Strategy = lifecycle.StrategyManual
	rationale = fmt.Sprintf("confidence %d below auto-approve threshold %d", result.Score, o.opts.AutoApproveConfidence)
	return o.transition(ctx, rec, lifecycle.StatusReviewNeeded, o.opts.Actor, rationale)
}

// score produces a confidence result, never an error: the learned scorer is
// tried first and the rule scorer is the fallback. Returns the result and the
// name of the scorer that produced it.
func (o *Orchestrator) score(ctx context.Context, rec *lifecycle.IssueRecord) (confidence.Result, string) {
	in := confidence.Input{
		Title:             rec.Title,
		Body:              rec.Body,
		Labels:            rec.Labels,
		Author:            rec.Author,
		AuthorMergedCount: -1,
	}
	if err := withRetry(ctx, o.opts.Retry, "author merged count", func(ctx context.Context) error {
		count, err := o.backend.AuthorMergedCount(ctx, rec.Key.Repo, rec.Author)
		if err != nil {
			return err
		}
		in.AuthorMergedCount = count
		return nil
	}); err != nil {
		slog.Warn("author history unavailable, scoring without it", "key", rec.Key.String(), "error", err)
	}

	if o.learned != nil {
		result, err := o.learned.Score(ctx, in)
		if err == nil {
			return result, "learned"
		}
		slog.Warn("learned scorer failed, falling back to rules", "key", rec.Key.String(), "error", err)
	}

	result, err := o.rules.Score(ctx, in)
	if err != nil {
		// The rule scorer is pure and should never fail; score zero keeps
		// the issue on the manual path.
		slog.Error("rule scorer failed", "key", rec.Key.String(), "error", err)
		return confidence.Result{IssueType: "general", Priority: "medium"}, "rule"
	}
	return result, "rule"
}

// startFix moves an approved issue into fix generation. Callers hold the key
// lock.
func (o *Orchestrator) startFix(ctx context.Context, rec *lifecycle.IssueRecord) error {
	if err := o.transition(ctx, rec, lifecycle.StatusInProgress, o.opts.Actor, "fix generation started"); err != nil {
		return err
	}

	var plan *fixer.Plan
	if err := withRetry(ctx, o.opts.Retry, "fix generation", func(ctx context.Context) error {
		p, err := o.fixer.GenerateFix(ctx, rec)
		if err != nil {
			return err
		}
		plan = p
		return nil
	}); err != nil {
		return o.fail(ctx, rec, fmt.Sprintf("fix generation exhausted retries: %v", err))
	}

	slog.Info("fix plan ready", "key", rec.Key.String(), "branch", plan.Branch, "files", len(plan.Files))
	o.comment(ctx, rec.Key.Repo, rec.Key.Number,
		fmt.Sprintf("Fix plan ready on branch `%s`: %s\n\n%s", plan.Branch, plan.Title, plan.Summary))
	return nil
}

// HandleHumanApproval moves a REVIEW_NEEDED issue to APPROVED on behalf of a
// human and starts fix generation.
func (o *Orchestrator) HandleHumanApproval(ctx context.Context, key lifecycle.Key, approver string) error {
	lk := o.lock(key)
	lk.Lock()
	defer lk.Unlock()

	rec, err := o.records.LoadIssue(key)
	if err != nil {
		return fmt.Errorf("loading issue %s: %w", key, err)
	}
	rec.Strategy = lifecycle.StrategyAuto
	if err := o.transition(ctx, rec, lifecycle.StatusApproved, approver, "approved by human review"); err != nil {
		return err
	}
	return o.startFix(ctx, rec)
}

// IssueStatus is the status summary returned by GetStatus.
type IssueStatus struct {
	Record     *lifecycle.IssueRecord
	Monitoring bool
}

// GetStatus returns the current state of a tracked issue.
func (o *Orchestrator) GetStatus(key lifecycle.Key) (*IssueStatus, error) {
	rec, err := o.records.LoadIssue(key)
	if err != nil {
		return nil, fmt.Errorf("loading issue %s: %w", key, err)
	}
	status := &IssueStatus{Record: rec}
	if o.mon != nil {
		status.Monitoring = o.mon.Watching(key)
	}
	return status, nil
}

// ListIssues returns every tracked issue.
func (o *Orchestrator) ListIssues() ([]*lifecycle.IssueRecord, error) {
	return o.records.ListIssues()
}

// Recover reloads persisted state after a restart: issues stranded in
// ANALYZING are reset and re-scored, change requests left awaiting merge are
// re-decided, and pending monitoring windows are reopened.
func (o *Orchestrator) Recover(ctx context.Context) error {
	issues, err := o.records.ListIssues()
	if err != nil {
		return fmt.Errorf("listing issues: %w", err)
	}
	for _, rec := range issues {
		// Hold timers do not survive a restart, so a change request that
		// was waiting on pending checks is re-evaluated here: settled
		// checks decide immediately, still-pending checks arm a fresh
		// hold with a fresh deadline.
		if rec.Status == lifecycle.StatusPRCreated && rec.ChangeRequest != 0 {
			ev := ChangeRequestEvent{Repo: rec.Key.Repo, Number: rec.ChangeRequest}
			slog.Info("re-evaluating change request held at shutdown",
				"key", rec.Key.String(), "number", rec.ChangeRequest)
			if err := o.HandleChangeRequest(ctx, ev); err != nil {
				slog.Error("re-evaluating change request failed", "key", rec.Key.String(), "error", err)
			}
			continue
		}
		if rec.Status != lifecycle.StatusAnalyzing {
			continue
		}
		lk := o.lock(rec.Key)
		lk.Lock()
		entry := rec.Reset(o.opts.Actor, "analysis interrupted by restart, rescoring")
		if err := o.audit.AppendTransition(rec.Key.Repo, rec.Key.Number, string(entry.From), string(entry.To), entry.Actor, entry.Rationale); err != nil {
			slog.Warn("audit append for recovery reset failed", "key", rec.Key.String(), "error", err)
		}
		if err := o.records.SaveIssue(rec); err != nil {
			lk.Unlock()
			return fmt.Errorf("saving reset issue %s: %w", rec.Key, err)
		}
		slog.Info("reset stranded issue", "key", rec.Key.String())
		if err := o.analyze(ctx, rec); err != nil {
			slog.Error("rescoring recovered issue failed", "key", rec.Key.String(), "error", err)
		}
		lk.Unlock()
	}

	if o.mon != nil {
		windows, err := o.records.ListWindows()
		if err != nil {
			return fmt.Errorf("listing windows: %w", err)
		}
		o.mon.Resume(ctx, windows)
	}
	return nil
}

// WindowHealthy implements monitor.Sink: a clean monitoring window completes
// the issue.
func (o *Orchestrator) WindowHealthy(ctx context.Context, key lifecycle.Key) {
	lk := o.lock(key)
	lk.Lock()
	defer lk.Unlock()

	rec, err := o.records.LoadIssue(key)
	if err != nil {
		slog.Error("loading issue for healthy window", "key", key.String(), "error", err)
		return
	}
	if err := o.transition(ctx, rec, lifecycle.StatusCompleted, o.opts.Actor, "monitoring window closed healthy"); err != nil {
		slog.Error("completing issue failed", "key", key.String(), "error", err)
	}
}

// WindowDegraded implements monitor.Sink: the issue is rolled back and a
// revert is requested from the backend.
func (o *Orchestrator) WindowDegraded(ctx context.Context, key lifecycle.Key, reason string) {
	lk := o.lock(key)
	lk.Lock()
	defer lk.Unlock()

	rec, err := o.records.LoadIssue(key)
	if err != nil {
		slog.Error("loading issue for degraded window", "key", key.String(), "error", err)
		return
	}
	if err := o.transition(ctx, rec, lifecycle.StatusRolledBack, o.opts.Actor, reason); err != nil {
		slog.Error("rolling back issue failed", "key", key.String(), "error", err)
		return
	}

	if rec.ChangeRequest != 0 {
		if err := withRetry(ctx, o.opts.Retry, "revert", func(ctx context.Context) error {
			revertNum, err := o.backend.Revert(ctx, key.Repo, rec.ChangeRequest, reason)
			if err != nil {
				return err
			}
			slog.Info("revert opened", "key", key.String(), "revert", revertNum)
			return nil
		}); err != nil {
			slog.Error("revert request failed", "key", key.String(), "error", err)
		}
	}

	if o.notifier != nil {
		o.notifier.RolledBack(ctx, key, reason)
	}
}

// fail moves an issue to FAILED with the reason recorded and notifies. The
// failure is handled, so fail returns nil unless the transition itself is
// illegal.
func (o *Orchestrator) fail(ctx context.Context, rec *lifecycle.IssueRecord, reason string) error {
	if err := o.transition(ctx, rec, lifecycle.StatusFailed, o.opts.Actor, reason); err != nil {
		return err
	}
	if o.notifier != nil {
		o.notifier.IssueFailed(ctx, rec.Key, reason)
	}
	return nil
}

// transition applies a lifecycle transition with the audit append as part of
// it: when the append fails the in-memory transition is reverted and the
// record is left untouched on disk.
func (o *Orchestrator) transition(ctx context.Context, rec *lifecycle.IssueRecord, to lifecycle.Status, actor, rationale string) error {
	entry, err := rec.Apply(to, actor, rationale)
	if err != nil {
		return err
	}
	if err := o.audit.AppendTransition(rec.Key.Repo, rec.Key.Number, string(entry.From), string(entry.To), actor, rationale); err != nil {
		rec.Revert(entry)
		return fmt.Errorf("audit append for %s: %w", rec.Key, err)
	}
	if err := o.records.SaveIssue(rec); err != nil {
		return fmt.Errorf("saving issue %s: %w", rec.Key, err)
	}

	slog.Info("issue transitioned",
		"key", rec.Key.String(),
		"from", string(entry.From),
		"to", string(entry.To),
		"actor", actor)
	o.comment(ctx, rec.Key.Repo, rec.Key.Number, fmt.Sprintf("**%s** — %s", to, rationale))
	if o.publisher != nil {
		o.publisher.StatusChanged(rec.Key, to, rationale)
	}
	return nil
}

// comment posts a status comment, best-effort.
func (o *Orchestrator) comment(ctx context.Context, repo string, number int, body string) {
	if err := o.backend.PostIssueComment(ctx, repo, number, body); err != nil {
		slog.Warn("status comment failed", "repo", repo, "number", number, "error", err)
	}
}

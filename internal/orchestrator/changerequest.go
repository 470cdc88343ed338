package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/issuepilot/issuepilot/internal/lifecycle"
	"github.com/issuepilot/issuepilot/internal/mergerisk"
)

// HandleChangeRequest evaluates a change request: risk assessment, merge
// decision, and the resulting merge, hold, or manual-review routing. It is
// called both when a change request opens and when its checks change, so
// every step must tolerate re-evaluation.
func (o *Orchestrator) HandleChangeRequest(ctx context.Context, ev ChangeRequestEvent) error {
	var cr *mergerisk.ChangeRequest
	if err := withRetry(ctx, o.opts.Retry, "get change request", func(ctx context.Context) error {
		fetched, err := o.backend.GetChangeRequest(ctx, ev.Repo, ev.Number)
		if err != nil {
			return err
		}
		cr = fetched
		return nil
	}); err != nil {
		return fmt.Errorf("fetching change request %s#%d: %w", ev.Repo, ev.Number, err)
	}

	var rec *lifecycle.IssueRecord
	if cr.IssueNumber != 0 {
		key := lifecycle.Key{Repo: ev.Repo, Number: cr.IssueNumber}
		lk := o.lock(key)
		lk.Lock()
		defer lk.Unlock()

		loaded, err := o.records.LoadIssue(key)
		if err != nil {
			slog.Warn("change request links an untracked issue, no confidence available",
				"repo", ev.Repo, "number", ev.Number, "issue", cr.IssueNumber)
		} else {
			rec = loaded
		}
	}

	if rec != nil && rec.Status == lifecycle.StatusInProgress {
		rec.ChangeRequest = cr.Number
		rationale := fmt.Sprintf("change request #%d opened for issue", cr.Number)
		if err := o.transition(ctx, rec, lifecycle.StatusPRCreated, o.opts.Actor, rationale); err != nil {
			return err
		}
	}

	assessment := o.risk.Assess(cr)
	var conf *int
	if rec != nil {
		conf = rec.Confidence
	}
	decision := o.decider.Decide(assessment, conf, cr)

	issueNumber := 0
	if rec != nil {
		issueNumber = rec.Key.Number
	}
	if err := o.audit.RecordDecision(ev.Repo, issueNumber, cr.Number,
		string(decision.Outcome), string(decision.Strategy), assessment.Score, decision.Rationale); err != nil {
		slog.Warn("recording decision failed", "repo", ev.Repo, "number", cr.Number, "error", err)
	}
	slog.Info("change request decided",
		"repo", ev.Repo,
		"number", cr.Number,
		"outcome", string(decision.Outcome),
		"risk", assessment.Score)
	o.comment(ctx, ev.Repo, cr.Number, fmt.Sprintf("Merge decision: **%s** — %s", decision.Outcome, decision.Rationale))

	switch decision.Outcome {
	case mergerisk.OutcomeHold:
		o.scheduleHold(ev)
		return nil
	case mergerisk.OutcomeManualReview:
		o.cancelHold(ev)
		if rec != nil && rec.Status == lifecycle.StatusPRCreated {
			return o.transition(ctx, rec, lifecycle.StatusReviewNeeded, o.opts.Actor, decision.Rationale)
		}
		return nil
	case mergerisk.OutcomeAutoMerge:
		o.cancelHold(ev)
		return o.autoMerge(ctx, rec, cr, decision)
	}
	return fmt.Errorf("unknown decision outcome %q", decision.Outcome)
}

// autoMerge performs the merge and, for linked issues, moves the issue to
// MERGED and opens a monitoring window. Callers hold the issue lock when rec
// is non-nil.
func (o *Orchestrator) autoMerge(ctx context.Context, rec *lifecycle.IssueRecord, cr *mergerisk.ChangeRequest, decision mergerisk.Decision) error {
	// The merge is an external side effect the lifecycle cannot undo, so
	// the issue must be awaiting merge before the backend is called. A
	// re-delivered event for an issue parked in REVIEW_NEEDED (or already
	// merged) is dropped here; only a human approval re-opens the auto
	// path. The caller holds the issue lock, so the check cannot race a
	// concurrent transition.
	if rec != nil && rec.Status != lifecycle.StatusPRCreated {
		slog.Info("skipping auto-merge, issue is not awaiting merge",
			"key", rec.Key.String(), "status", string(rec.Status))
		return nil
	}

	message := fmt.Sprintf("%s (#%d)", cr.Message, cr.Number)
	var sha string
	if err := withRetry(ctx, o.opts.Retry, "merge", func(ctx context.Context) error {
		merged, err := o.backend.Merge(ctx, cr.Repo, cr.Number, decision.Strategy, message)
		if err != nil {
			return err
		}
		sha = merged
		return nil
	}); err != nil {
		if rec != nil {
			return o.fail(ctx, rec, fmt.Sprintf("merge exhausted retries: %v", err))
		}
		return fmt.Errorf("merging %s#%d: %w", cr.Repo, cr.Number, err)
	}

	if rec == nil {
		slog.Info("unlinked change request merged", "repo", cr.Repo, "number", cr.Number, "sha", sha)
		return nil
	}

	rationale := fmt.Sprintf("auto-merged via %s (%s)", decision.Strategy, sha)
	if err := o.transition(ctx, rec, lifecycle.StatusMerged, o.opts.Actor, rationale); err != nil {
		return err
	}
	if o.notifier != nil {
		o.notifier.AutoMerged(ctx, rec.Key, cr.Number, string(decision.Strategy))
	}
	if o.mon != nil {
		if _, err := o.mon.Open(ctx, rec.Key, sha); err != nil {
			slog.Error("opening monitoring window failed", "key", rec.Key.String(), "error", err)
		}
	}
	return nil
}

func holdKey(ev ChangeRequestEvent) string {
	return fmt.Sprintf("%s#%d", ev.Repo, ev.Number)
}

// scheduleHold arms the hold timeout for a change request with pending
// checks. A re-delivered hold keeps the original deadline.
func (o *Orchestrator) scheduleHold(ev ChangeRequestEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	hk := holdKey(ev)
	if _, ok := o.holds[hk]; ok {
		return
	}
	slog.Info("holding for pending checks", "repo", ev.Repo, "number", ev.Number, "timeout", o.opts.HoldTimeout)
	o.holds[hk] = time.AfterFunc(o.opts.HoldTimeout, func() {
		o.forceReview(ev)
	})
}

// cancelHold disarms the hold timeout once checks settle.
func (o *Orchestrator) cancelHold(ev ChangeRequestEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	hk := holdKey(ev)
	if timer, ok := o.holds[hk]; ok {
		timer.Stop()
		delete(o.holds, hk)
	}
}

// forceReview fires when checks are still pending after the hold timeout.
func (o *Orchestrator) forceReview(ev ChangeRequestEvent) {
	o.mu.Lock()
	delete(o.holds, holdKey(ev))
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), o.opts.Retry.Timeout)
	defer cancel()

	reason := fmt.Sprintf("checks still pending after %s, manual review required", o.opts.HoldTimeout)
	slog.Warn("hold timed out", "repo", ev.Repo, "number", ev.Number)
	o.comment(ctx, ev.Repo, ev.Number, reason)

	cr, err := o.backend.GetChangeRequest(ctx, ev.Repo, ev.Number)
	if err != nil || cr.IssueNumber == 0 {
		return
	}
	key := lifecycle.Key{Repo: ev.Repo, Number: cr.IssueNumber}
	lk := o.lock(key)
	lk.Lock()
	defer lk.Unlock()

	rec, err := o.records.LoadIssue(key)
	if err != nil || rec.Status != lifecycle.StatusPRCreated {
		return
	}
	if err := o.transition(ctx, rec, lifecycle.StatusReviewNeeded, o.opts.Actor, reason); err != nil {
		slog.Error("forcing review failed", "key", key.String(), "error", err)
	}
}

package lifecycle

import "fmt"

// Status is the lifecycle state of a tracked issue.
type Status string

const (
	// StatusNew is the initial state on issue ingestion.
	StatusNew Status = "new"
	// StatusAnalyzing means the confidence scorer is working on the issue.
	StatusAnalyzing Status = "analyzing"
	// StatusAnalyzed means a confidence score has been produced.
	StatusAnalyzed Status = "analyzed"
	// StatusApproved means the issue cleared the confidence threshold for automation.
	StatusApproved Status = "approved"
	// StatusReviewNeeded means a human must look at the issue or its change request.
	StatusReviewNeeded Status = "review_needed"
	// StatusInProgress means the fix-generation collaborator accepted the task.
	StatusInProgress Status = "in_progress"
	// StatusPRCreated means the collaborator produced a change request.
	StatusPRCreated Status = "pr_created"
	// StatusMerged means the change request was merged; a monitoring window is open.
	StatusMerged Status = "merged"
	// StatusCompleted means the monitoring window closed healthy.
	StatusCompleted Status = "completed"
	// StatusRolledBack means the monitoring window detected degradation and a revert was issued.
	StatusRolledBack Status = "rolled_back"
	// StatusFailed means an unrecoverable error ended the lifecycle.
	StatusFailed Status = "failed"
)

// transitions maps each state to the set of states it may legally move to.
// FAILED is additionally reachable from any non-terminal state.
var transitions = map[Status][]Status{
	StatusNew:          {StatusAnalyzing},
	StatusAnalyzing:    {StatusAnalyzed},
	StatusAnalyzed:     {StatusApproved, StatusReviewNeeded},
	StatusApproved:     {StatusInProgress},
	StatusInProgress:   {StatusPRCreated, StatusFailed},
	StatusPRCreated:    {StatusMerged, StatusReviewNeeded},
	StatusMerged:       {StatusCompleted, StatusRolledBack},
	StatusReviewNeeded: {StatusApproved},
	StatusCompleted:    {},
	StatusRolledBack:   {},
	StatusFailed:       {},
}

// Terminal reports whether s is a true terminal state. MERGED is not terminal:
// the post-merge monitor still moves it to COMPLETED or ROLLED_BACK.
func Terminal(s Status) bool {
	switch s {
	case StatusCompleted, StatusRolledBack, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether from → to is a legal transition.
func CanTransition(from, to Status) bool {
	if to == StatusFailed {
		return !Terminal(from)
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseStatus converts a stored string into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusNew, StatusAnalyzing, StatusAnalyzed, StatusApproved,
		StatusReviewNeeded, StatusInProgress, StatusPRCreated,
		StatusMerged, StatusCompleted, StatusRolledBack, StatusFailed:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown lifecycle status %q", s)
}

// InvalidTransitionError is returned when a transition attempt does not match
// the current state. It indicates an ordering bug and is never retried.
type InvalidTransitionError struct {
	Key  Key
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s: %s -> %s", e.Key, e.From, e.To)
}

// Package confidence scores how safely an issue can be resolved without
// human review. Two implementations exist behind the same contract: a pure
// rule-based scorer and a learned scorer backed by an LLM session. The
// orchestrator picks which one to call and falls back to the rules when the
// learned scorer is unavailable.
package confidence

import (
	"context"
	"errors"
)

// ErrScoringInput marks input no scorer can score, such as an issue
// without a title.
var ErrScoringInput = errors.New("invalid scoring input")

// Factor is one labeled point contribution, kept for the audit trail.
type Factor struct {
	Label     string
	Points    int
	Rationale string
}

// Input is everything a scorer may consult. Scoring must be a pure function
// of this value so identical input always yields identical output.
type Input struct {
	Title  string
	Body   string
	Labels []string
	Author string

	// AuthorMergedCount is the author's count of previously merged
	// contributions. -1 means unknown; only a known zero counts against
	// the issue.
	AuthorMergedCount int
}

// Result is a scored issue.
type Result struct {
	// Score is the confidence in [0,100].
	Score int
	// Factors lists every contribution in the order it was applied.
	Factors []Factor
	// IssueType classifies the issue: documentation, bug, feature,
	// security, or general.
	IssueType string
	// Priority is critical, high, medium, or low.
	Priority string
}

// Scorer produces a confidence score for an issue.
type Scorer interface {
	Score(ctx context.Context, in Input) (Result, error)
}

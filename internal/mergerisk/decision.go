package mergerisk

import (
	"fmt"
	"strings"
)

// Outcome is the auto-merge decision for a change request.
type Outcome string

const (
	// OutcomeAutoMerge means the change request may merge without review.
	OutcomeAutoMerge Outcome = "auto-merge"
	// OutcomeManualReview means a human must review before merging.
	OutcomeManualReview Outcome = "manual-review"
	// OutcomeHold means required checks are still pending; the decision is
	// deferred, neither merge nor reject.
	OutcomeHold Outcome = "hold"
)

// Strategy is the merge strategy used when auto-merging.
type Strategy string

const (
	StrategyRebase Strategy = "rebase"
	StrategySquash Strategy = "squash"
	StrategyMerge  Strategy = "merge"
)

// DeciderConfig holds the decision thresholds as an explicit immutable value,
// never ambient state.
type DeciderConfig struct {
	// MaxRisk is the highest risk score that still allows auto-merge
	// (default 3).
	MaxRisk int `json:"max_risk"`
	// MinConfidence is the lowest issue confidence that still allows
	// auto-merge for linked change requests (default 80).
	MinConfidence int `json:"min_confidence"`
	// UnlinkedMaxRisk is the stricter risk ceiling applied to change
	// requests with no originating issue (default 1).
	UnlinkedMaxRisk int `json:"unlinked_max_risk"`
	// RebaseConfidence and SquashConfidence drive strategy selection
	// (defaults 95 and 90).
	RebaseConfidence int `json:"rebase_confidence"`
	SquashConfidence int `json:"squash_confidence"`
}

// DefaultDeciderConfig returns the default thresholds.
func DefaultDeciderConfig() DeciderConfig {
	return DeciderConfig{
		MaxRisk:          3,
		MinConfidence:    80,
		UnlinkedMaxRisk:  1,
		RebaseConfidence: 95,
		SquashConfidence: 90,
	}
}

// Decision is the outcome of the auto-merge decider, with a human-readable
// rationale used for the audit comment.
type Decision struct {
	Outcome   Outcome
	Strategy  Strategy
	Rationale string
}

// Decider combines risk, confidence carry-over, and static safety rules.
type Decider struct {
	cfg DeciderConfig
}

// NewDecider creates a Decider with the given thresholds.
func NewDecider(cfg DeciderConfig) *Decider {
	return &Decider{cfg: cfg}
}

// Decide is a pure function of the assessment, the linked issue's confidence
// (nil for unlinked change requests and for linked issues not yet scored;
// the latter always routes to manual review), and the change request itself.
//
// Lowering risk or raising confidence, everything else fixed, never turns an
// auto-merge into a manual review.
func (d *Decider) Decide(a Assessment, conf *int, cr *ChangeRequest) Decision {
	var reasons []string

	checksOK := true
	for _, c := range cr.Checks {
		if !c.Required {
			continue
		}
		switch c.State {
		case CheckPending:
			return Decision{
				Outcome:   OutcomeHold,
				Strategy:  StrategyMerge,
				Rationale: fmt.Sprintf("required check %q is still pending; decision deferred", c.Name),
			}
		case CheckFail:
			checksOK = false
			reasons = append(reasons, fmt.Sprintf("required check %q failed", c.Name))
		}
	}

	if a.CriticalTouched {
		reasons = append(reasons, "critical files changed")
	}
	if conf == nil {
		// A linked issue without a score is not the same as no issue at
		// all: missing confidence defaults to manual review, never to
		// the unlinked fast path.
		if cr.IssueNumber != 0 {
			reasons = append(reasons, fmt.Sprintf("linked issue #%d has no confidence score yet", cr.IssueNumber))
		} else if a.Score > d.cfg.UnlinkedMaxRisk {
			reasons = append(reasons, fmt.Sprintf("risk too high for unlinked change (%d > %d)", a.Score, d.cfg.UnlinkedMaxRisk))
		}
	} else {
		if a.Score > d.cfg.MaxRisk {
			reasons = append(reasons, fmt.Sprintf("risk too high (%d > %d)", a.Score, d.cfg.MaxRisk))
		}
		if *conf < d.cfg.MinConfidence {
			reasons = append(reasons, fmt.Sprintf("confidence too low (%d < %d)", *conf, d.cfg.MinConfidence))
		}
	}

	if !checksOK || len(reasons) > 0 {
		return Decision{
			Outcome:   OutcomeManualReview,
			Strategy:  StrategyMerge,
			Rationale: summarize(a, "manual review required: "+strings.Join(reasons, ", ")),
		}
	}

	strategy := d.pickStrategy(conf, len(cr.Files))
	rationale := summarize(a, fmt.Sprintf("risk %d/10 within bounds; auto-merge via %s", a.Score, strategy))
	return Decision{Outcome: OutcomeAutoMerge, Strategy: strategy, Rationale: rationale}
}

// pickStrategy maps confidence and file count to a merge strategy: a single
// file at very high confidence keeps clean history via rebase, high
// confidence squashes, anything else merges.
func (d *Decider) pickStrategy(conf *int, fileCount int) Strategy {
	if conf == nil {
		return StrategyMerge
	}
	switch {
	case fileCount == 1 && *conf >= d.cfg.RebaseConfidence:
		return StrategyRebase
	case *conf >= d.cfg.SquashConfidence:
		return StrategySquash
	default:
		return StrategyMerge
	}
}

// summarize builds the audit rationale: decision reasoning plus the top
// factors on each side.
func summarize(a Assessment, decision string) string {
	var b strings.Builder
	b.WriteString(decision)
	if len(a.PositiveFactors) > 0 {
		b.WriteString("; positive:")
		for i, f := range a.PositiveFactors {
			if i == 3 {
				break
			}
			fmt.Fprintf(&b, " %s (+%d)", f.Label, f.Points)
		}
	}
	if len(a.RiskFactors) > 0 {
		b.WriteString("; risk:")
		for i, f := range a.RiskFactors {
			if i == 3 {
				break
			}
			fmt.Fprintf(&b, " %s (+%d)", f.Label, f.Points)
		}
	}
	return b.String()
}

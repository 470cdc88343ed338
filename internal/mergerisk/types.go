// Package mergerisk scores generated change requests for the safety of
// merging them automatically, and turns the score into a merge/hold decision.
// Both the scorer and the decider are pure: identical input always produces
// identical output, which keeps regression tests trivial.
package mergerisk

// CheckState is the state of a single CI check.
type CheckState string

const (
	CheckPass    CheckState = "pass"
	CheckFail    CheckState = "fail"
	CheckPending CheckState = "pending"
)

// CheckResult is one CI check on a change request.
type CheckResult struct {
	Name     string     `json:"name"`
	State    CheckState `json:"state"`
	Required bool       `json:"required"`
}

// ChangeRequest is a proposed set of file modifications under evaluation.
type ChangeRequest struct {
	Repo   string `json:"repo"`
	Number int    `json:"number"`

	// IssueNumber links back to the originating issue; 0 for unlinked
	// change requests. The link is lookup-only: the change request does
	// not own the issue.
	IssueNumber int `json:"issue_number"`

	Files     []string      `json:"files"`
	Additions int           `json:"additions"`
	Deletions int           `json:"deletions"`
	Author    string        `json:"author"`
	Message   string        `json:"message"`
	Checks    []CheckResult `json:"checks"`
}

// TotalLines is the size of the change in changed lines.
func (cr *ChangeRequest) TotalLines() int {
	return cr.Additions + cr.Deletions
}

// Factor is one labeled point contribution to the risk assessment.
type Factor struct {
	Label     string
	Points    int
	Rationale string
}

// Assessment is the output of the risk scorer.
type Assessment struct {
	// Score is the merge risk in [0,10]; 10 forces manual review.
	Score int
	// CriticalTouched is set when any file matched the critical set. It
	// hard-floors the score at 10 regardless of other factors.
	CriticalTouched bool
	// PositiveFactors lower the risk, RiskFactors raise it. Both are kept
	// in application order for the audit comment.
	PositiveFactors []Factor
	RiskFactors     []Factor
}

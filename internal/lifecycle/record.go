package lifecycle

import (
	"fmt"
	"time"
)

// Key uniquely identifies a tracked issue.
type Key struct {
	Repo   string // "owner/name"
	Number int
}

func (k Key) String() string {
	return fmt.Sprintf("%s#%d", k.Repo, k.Number)
}

// Strategy is how an issue will be resolved.
type Strategy string

const (
	StrategyAuto   Strategy = "auto"
	StrategyManual Strategy = "manual"
)

// Transition is one entry in an issue's append-only history.
type Transition struct {
	From      Status    `yaml:"from"`
	To        Status    `yaml:"to"`
	Actor     string    `yaml:"actor"`
	Rationale string    `yaml:"rationale"`
	At        time.Time `yaml:"at"`
}

// IssueRecord is the durable state of a tracked issue. It is owned by the
// orchestrator and mutated only through Apply.
type IssueRecord struct {
	Key       Key
	Title     string
	Body      string
	Labels    []string
	Author    string
	CreatedAt time.Time
	UpdatedAt time.Time

	Status     Status
	Confidence *int // nil until scored
	Strategy   Strategy
	IssueType  string // documentation, bug, feature, security, general
	Priority   string // critical, high, medium, low

	// ChangeRequest is the number of the linked change request, 0 when none.
	ChangeRequest int

	History []Transition
}

// NewIssueRecord creates a record in the NEW state with an empty history.
func NewIssueRecord(key Key, title, body string, labels []string, author string, createdAt time.Time) *IssueRecord {
	return &IssueRecord{
		Key:       key,
		Title:     title,
		Body:      body,
		Labels:    labels,
		Author:    author,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
		Status:    StatusNew,
		Strategy:  StrategyManual,
	}
}

// Apply transitions the record to the given state, appending a history entry.
// The history is append-only: entries are never rewritten or removed. An
// attempt from a state that does not allow the transition returns
// *InvalidTransitionError and leaves the record untouched.
func (r *IssueRecord) Apply(to Status, actor, rationale string) (Transition, error) {
	if !CanTransition(r.Status, to) {
		return Transition{}, &InvalidTransitionError{Key: r.Key, From: r.Status, To: to}
	}
	entry := Transition{
		From:      r.Status,
		To:        to,
		Actor:     actor,
		Rationale: rationale,
		At:        time.Now().UTC(),
	}
	r.Status = to
	r.UpdatedAt = entry.At
	r.History = append(r.History, entry)
	return entry, nil
}

// Reset returns the record to NEW outside the normal transition table,
// appending a history entry that records the jump. Only startup recovery uses
// it, for issues stranded mid-analysis by a crash.
func (r *IssueRecord) Reset(actor, rationale string) Transition {
	entry := Transition{
		From:      r.Status,
		To:        StatusNew,
		Actor:     actor,
		Rationale: rationale,
		At:        time.Now().UTC(),
	}
	r.Status = StatusNew
	r.UpdatedAt = entry.At
	r.History = append(r.History, entry)
	return entry
}

// Revert undoes the most recent Apply. The orchestrator uses it when the
// audit-log append fails, so a transition that was not recorded is treated as
// not having occurred.
func (r *IssueRecord) Revert(entry Transition) {
	if n := len(r.History); n > 0 && r.History[n-1] == entry {
		r.History = r.History[:n-1]
		r.Status = entry.From
	}
}

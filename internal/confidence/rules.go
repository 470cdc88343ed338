package confidence

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Weights holds the tunable point values for the rule scorer. The defaults
// reconstruct the documented behavior of the original rule set; deployments
// override them through configuration rather than editing code.
type Weights struct {
	Baseline       int `json:"baseline"`
	SafeLabel      int `json:"safe_label"`
	ShortBody      int `json:"short_body"`
	LowRiskTitle   int `json:"low_risk_title"`
	RiskKeyword    int `json:"risk_keyword"`
	MultiSubsystem int `json:"multi_subsystem"`
	UnknownAuthor  int `json:"unknown_author"`
	ShortBodyLimit int `json:"short_body_limit"`
}

// DefaultWeights returns the default point values.
func DefaultWeights() Weights {
	return Weights{
		Baseline:       50,
		SafeLabel:      15,
		ShortBody:      10,
		LowRiskTitle:   15,
		RiskKeyword:    -20,
		MultiSubsystem: -10,
		UnknownAuthor:  -10,
		ShortBodyLimit: 500,
	}
}

var (
	// safeLabels mark issues that historically automate well.
	safeLabels = []string{"good first issue", "documentation", "docs"}

	// lowRiskTitle matches titles for trivial, contained changes.
	lowRiskTitle = regexp.MustCompile(`(?i)\b(typo|docs?|documentation|readme|format(ting)?|whitespace|spelling)\b`)

	// riskKeywords in the body signal changes unsafe to automate.
	riskKeywords = []string{"architecture", "security", "vulnerability", "breaking change", "migration", "refactor"}

	// subsystemHints approximate how many distinct subsystems an issue touches.
	subsystemHints = []string{"api", "database", "frontend", "backend", "auth", "deploy", "pipeline", "cache"}

	// fileRef matches a concrete file reference like README.md or cmd/main.go.
	fileRef = regexp.MustCompile(`\b[\w./-]+\.[a-zA-Z]{1,6}\b`)

	reproHint = regexp.MustCompile(`(?i)(steps to reproduce|reproduc|stack trace|expected behav)`)
)

// RuleScorer is the deterministic rule-based confidence scorer.
type RuleScorer struct {
	weights Weights
}

// NewRuleScorer creates a RuleScorer with the given weights.
func NewRuleScorer(w Weights) *RuleScorer {
	return &RuleScorer{weights: w}
}

// Score implements Scorer. It is pure: no I/O, no clock, no state.
func (s *RuleScorer) Score(_ context.Context, in Input) (Result, error) {
	if strings.TrimSpace(in.Title) == "" {
		return Result{}, fmt.Errorf("empty issue title: %w", ErrScoringInput)
	}

	w := s.weights
	title := strings.ToLower(in.Title)
	body := strings.ToLower(in.Body)
	text := title + " " + body

	res := Result{
		IssueType: classifyType(text),
		Priority:  classifyPriority(text, in.Labels),
	}
	score := 0
	add := func(points int, label, rationale string) {
		score += points
		res.Factors = append(res.Factors, Factor{Label: label, Points: points, Rationale: rationale})
	}
	add(w.Baseline, "baseline", "starting score before adjustments")

	for _, l := range in.Labels {
		if containsFold(safeLabels, l) {
			add(w.SafeLabel, "safe label", fmt.Sprintf("label %q marks a low-risk issue", l))
			break
		}
	}

	if lowRiskTitle.MatchString(in.Title) {
		add(w.LowRiskTitle, "low-risk title", "title matches a known trivial-change pattern")
	}

	if len(in.Body) > 0 && len(in.Body) < w.ShortBodyLimit &&
		(fileRef.MatchString(in.Body) || reproHint.MatchString(in.Body)) {
		add(w.ShortBody, "well-structured body", "short body with a concrete file or reproduction reference")
	}

	for _, kw := range riskKeywords {
		if strings.Contains(text, kw) {
			add(w.RiskKeyword, "risk keyword", fmt.Sprintf("body mentions %q", kw))
		}
	}

	if n := countSubsystems(text); n >= 2 {
		add(w.MultiSubsystem, "multiple subsystems", fmt.Sprintf("references %d subsystems", n))
	}

	if in.AuthorMergedCount == 0 {
		add(w.UnknownAuthor, "unproven author", "author has no prior merged contributions")
	}

	res.Score = clamp(score, 0, 100)
	return res, nil
}

func classifyType(text string) string {
	switch {
	case containsAny(text, "security", "vulnerability"):
		return "security"
	case containsAny(text, "typo", "documentation", "docs", "readme"):
		return "documentation"
	case containsAny(text, "bug", "error", "crash", "fix"):
		return "bug"
	case containsAny(text, "feature", "enhancement", "add "):
		return "feature"
	}
	return "general"
}

func classifyPriority(text string, labels []string) string {
	switch {
	case containsFold(labels, "critical"), containsFold(labels, "urgent"), containsFold(labels, "p0"):
		return "critical"
	case containsFold(labels, "high"), containsFold(labels, "important"), containsFold(labels, "p1"):
		return "high"
	case containsAny(text, "crash", "500", "down", "broken"):
		return "high"
	case containsFold(labels, "low"), containsFold(labels, "minor"), containsFold(labels, "p3"):
		return "low"
	}
	return "medium"
}

func countSubsystems(text string) int {
	n := 0
	for _, hint := range subsystemHints {
		if strings.Contains(text, hint) {
			n++
		}
	}
	return n
}

func containsAny(text string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package confidence

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/issuepilot/issuepilot/internal/llm"
)

// LearnedScorer scores issues through an LLM session. It implements the same
// Scorer contract as RuleScorer; the orchestrator falls back to the rules
// whenever this scorer returns an error, so a flaky model never blocks an
// issue.
type LearnedScorer struct {
	client llm.Client
}

// NewLearnedScorer creates a LearnedScorer on top of the given LLM client.
func NewLearnedScorer(client llm.Client) *LearnedScorer {
	return &LearnedScorer{client: client}
}

var (
	scoreRe    = regexp.MustCompile(`(?m)^SCORE:\s*(\d+)\s*$`)
	typeRe     = regexp.MustCompile(`(?m)^TYPE:\s*(\S+)`)
	priorityRe = regexp.MustCompile(`(?m)^PRIORITY:\s*(\S+)`)
	factorRe   = regexp.MustCompile(`(?m)^FACTOR:\s*([^|]+)\|\s*(-?\d+)\s*\|\s*(.+)$`)
)

// Score implements Scorer.
func (s *LearnedScorer) Score(ctx context.Context, in Input) (Result, error) {
	session, err := s.client.CreateSession(ctx, fmt.Sprintf("Score issue: %s", in.Title))
	if err != nil {
		return Result{}, fmt.Errorf("creating scoring session: %w", err)
	}
	defer s.client.DeleteSession(ctx, session.ID)

	resp, err := s.client.SendPrompt(ctx, session.ID, buildScoringPrompt(in))
	if err != nil {
		return Result{}, fmt.Errorf("scoring prompt failed: %w", err)
	}

	res, err := parseScoringResponse(resp.Content)
	if err != nil {
		slog.Warn("learned scorer returned malformed output", "title", in.Title, "error", err)
		return Result{}, err
	}
	return res, nil
}

func buildScoringPrompt(in Input) string {
	var b strings.Builder
	b.WriteString(`You are scoring how safely a tracked issue can be resolved by an unattended automation, on a 0-100 scale.

## Output format (CRITICAL — exactly these lines, nothing else)

SCORE: <integer 0-100>
TYPE: <documentation|bug|feature|security|general>
PRIORITY: <critical|high|medium|low>
FACTOR: <label> | <signed points> | <one-line rationale>

Emit one FACTOR line per contribution, in the order you applied them.

## Issue

`)
	fmt.Fprintf(&b, "Title: %s\n", in.Title)
	fmt.Fprintf(&b, "Labels: %s\n", strings.Join(in.Labels, ", "))
	fmt.Fprintf(&b, "Author: %s (prior merged contributions: %d)\n\n", in.Author, in.AuthorMergedCount)
	b.WriteString(in.Body)
	return b.String()
}

// parseScoringResponse extracts a Result from the structured marker lines.
// Anything out of range or missing is an error; the caller falls back to the
// rule scorer rather than trusting a partial parse.
func parseScoringResponse(content string) (Result, error) {
	m := scoreRe.FindStringSubmatch(content)
	if m == nil {
		return Result{}, fmt.Errorf("no SCORE line in response")
	}
	score, err := strconv.Atoi(m[1])
	if err != nil || score < 0 || score > 100 {
		return Result{}, fmt.Errorf("score %q out of range", m[1])
	}

	res := Result{Score: score, IssueType: "general", Priority: "medium"}
	if m := typeRe.FindStringSubmatch(content); m != nil {
		res.IssueType = strings.ToLower(m[1])
	}
	if m := priorityRe.FindStringSubmatch(content); m != nil {
		res.Priority = strings.ToLower(m[1])
	}
	for _, f := range factorRe.FindAllStringSubmatch(content, -1) {
		points, err := strconv.Atoi(f[2])
		if err != nil {
			continue
		}
		res.Factors = append(res.Factors, Factor{
			Label:     strings.TrimSpace(f[1]),
			Points:    points,
			Rationale: strings.TrimSpace(f[3]),
		})
	}
	return res, nil
}

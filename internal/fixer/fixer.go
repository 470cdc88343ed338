package fixer

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/issuepilot/issuepilot/internal/lifecycle"
	"github.com/issuepilot/issuepilot/internal/llm"
)

// Plan is the fix proposal produced for an approved issue. The change request
// itself arrives later as a hosting-provider event; the plan seeds its title,
// branch, and description so the change can be traced back to the issue.
type Plan struct {
	Title   string
	Branch  string
	Summary string
	// Files are the paths the fix expects to touch, in the model's order.
	Files []string
}

// Fixer turns approved issues into fix plans through an LLM session.
type Fixer struct {
	client llm.Client
}

// New creates a Fixer on top of the given LLM client.
func New(client llm.Client) *Fixer {
	return &Fixer{client: client}
}

var (
	titleRe  = regexp.MustCompile(`(?m)^TITLE:\s*(.+)$`)
	branchRe = regexp.MustCompile(`(?m)^BRANCH:\s*(\S+)`)
	fileRe   = regexp.MustCompile(`(?m)^FILE:\s*(\S+)`)
)

// GenerateFix asks the model for a fix plan for the issue. Malformed output
// is an error; the orchestrator counts it as a failed attempt and retries.
func (f *Fixer) GenerateFix(ctx context.Context, rec *lifecycle.IssueRecord) (*Plan, error) {
	session, err := f.client.CreateSession(ctx, fmt.Sprintf("Fix issue %s", rec.Key))
	if err != nil {
		return nil, fmt.Errorf("creating fix session: %w", err)
	}
	defer f.client.DeleteSession(ctx, session.ID)

	resp, err := f.client.SendPrompt(ctx, session.ID, buildFixPrompt(rec))
	if err != nil {
		return nil, fmt.Errorf("fix prompt failed: %w", err)
	}

	plan, err := parseFixResponse(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parsing fix plan for %s: %w", rec.Key, err)
	}
	if plan.Branch == "" {
		plan.Branch = defaultBranch(rec.Key)
	}
	return plan, nil
}

func buildFixPrompt(rec *lifecycle.IssueRecord) string {
	var b strings.Builder
	b.WriteString(`You are preparing an automated fix for a tracked issue. Produce a plan, not the code.

## Output format (CRITICAL — marker lines first, then a free-form summary)

TITLE: <conventional-commit title for the change, e.g. "fix(docs): correct typo">
BRANCH: <short kebab-case branch name>
FILE: <path expected to change, one line per file>

After the marker lines, write a short summary of the intended change. Reference the issue with "Fixes #`)
	fmt.Fprintf(&b, "%d\".\n\n## Issue %s\n\n", rec.Key.Number, rec.Key)
	fmt.Fprintf(&b, "Title: %s\n", rec.Title)
	fmt.Fprintf(&b, "Type: %s, priority: %s\n", rec.IssueType, rec.Priority)
	fmt.Fprintf(&b, "Labels: %s\n\n", strings.Join(rec.Labels, ", "))
	b.WriteString(rec.Body)
	return b.String()
}

func parseFixResponse(content string) (*Plan, error) {
	m := titleRe.FindStringSubmatch(content)
	if m == nil {
		return nil, fmt.Errorf("no TITLE line in response")
	}
	plan := &Plan{Title: strings.TrimSpace(m[1])}

	if m := branchRe.FindStringSubmatch(content); m != nil {
		plan.Branch = m[1]
	}
	for _, f := range fileRe.FindAllStringSubmatch(content, -1) {
		plan.Files = append(plan.Files, f[1])
	}

	// Everything after the last marker line is the summary.
	lines := strings.Split(content, "\n")
	var summary []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "TITLE:") ||
			strings.HasPrefix(trimmed, "BRANCH:") ||
			strings.HasPrefix(trimmed, "FILE:") {
			summary = summary[:0]
			continue
		}
		summary = append(summary, line)
	}
	plan.Summary = strings.TrimSpace(strings.Join(summary, "\n"))
	return plan, nil
}

func defaultBranch(key lifecycle.Key) string {
	return fmt.Sprintf("issuepilot/issue-%d", key.Number)
}

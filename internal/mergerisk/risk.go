package mergerisk

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// Config holds the tunable inputs to the risk scorer. The critical and
// caution sets come from external configuration; an empty critical set is a
// startup error, not a per-change decision.
type Config struct {
	// CriticalPatterns are path patterns whose modification must never be
	// auto-merged. Any match floors the score at 10.
	CriticalPatterns []string `json:"critical_patterns"`
	// CautionPatterns add one risk point per matching file (config,
	// scripts, migrations).
	CautionPatterns []string `json:"caution_patterns"`
	// AutomationAuthors are identities recognized as the trusted
	// automation (e.g. "issuepilot[bot]").
	AutomationAuthors []string `json:"automation_authors"`
	// SmallChangeThreshold is the changed-line count under which a change
	// counts as small (default 50).
	SmallChangeThreshold int `json:"small_change_threshold"`
}

// DefaultConfig returns the default risk configuration. CriticalPatterns is
// deliberately left for deployments to fill in; Validate at startup rejects
// an empty set.
func DefaultConfig() Config {
	return Config{
		CautionPatterns:      []string{"*.yml", "*.yaml", "Makefile", "*.sql", "scripts/", "*.sh"},
		AutomationAuthors:    []string{"issuepilot[bot]"},
		SmallChangeThreshold: 50,
	}
}

var conventionalCommit = regexp.MustCompile(`^(feat|fix|docs|style|refactor|test|chore|build|ci|perf|revert)(\([^)]+\))?!?: .+`)

// Scorer computes merge risk for change requests.
type Scorer struct {
	cfg Config
}

// NewScorer creates a Scorer with the given configuration.
func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Assess scores a change request. Deterministic for identical input.
func (s *Scorer) Assess(cr *ChangeRequest) Assessment {
	var a Assessment
	positive := func(points int, label, rationale string) {
		a.PositiveFactors = append(a.PositiveFactors, Factor{Label: label, Points: points, Rationale: rationale})
	}
	risky := func(points int, label, rationale string) {
		a.RiskFactors = append(a.RiskFactors, Factor{Label: label, Points: points, Rationale: rationale})
	}

	// Critical files first: a single match overrides everything.
	for _, f := range cr.Files {
		if matchesAny(f, s.cfg.CriticalPatterns) {
			a.CriticalTouched = true
			risky(10, "critical file", fmt.Sprintf("%s is in the critical set", f))
		}
	}

	if containsFold(s.cfg.AutomationAuthors, cr.Author) {
		positive(3, "automation author", fmt.Sprintf("%s is the recognized automation identity", cr.Author))
	}

	threshold := s.cfg.SmallChangeThreshold
	if threshold <= 0 {
		threshold = 50
	}
	switch total := cr.TotalLines(); {
	case total < threshold:
		positive(2, "small change", fmt.Sprintf("%d changed lines below threshold %d", total, threshold))
	case total > threshold*10:
		risky(3, "large changeset", fmt.Sprintf("%d changed lines", total))
	case total > threshold*2:
		risky(1, "medium changeset", fmt.Sprintf("%d changed lines", total))
	}

	docs, tests, source := splitFileKinds(cr.Files)
	switch {
	case source == 0 && (docs > 0 || tests > 0):
		positive(5, "no source changes", "docs-only or test-only change set")
	case source > 0 && tests > 0:
		positive(3, "tests included", fmt.Sprintf("%d test file(s) alongside source changes", tests))
	}

	for _, f := range cr.Files {
		if matchesAny(f, s.cfg.CriticalPatterns) {
			continue // already counted above
		}
		if matchesAny(f, s.cfg.CautionPatterns) {
			risky(1, "caution file", fmt.Sprintf("%s is config, script, or migration", f))
		}
	}

	if conventionalCommit.MatchString(cr.Message) {
		positive(1, "conventional commit", "message follows the conventional-commit format")
	} else if cr.Message != "" {
		risky(1, "malformed message", "message does not follow the conventional-commit format")
	}

	a.Score = s.total(&a)
	return a
}

// total folds the factor lists into the final score. Positive factors offset
// risk factors, the result is clamped to [0,10], and a critical match floors
// it at 10.
func (s *Scorer) total(a *Assessment) int {
	if a.CriticalTouched {
		return 10
	}
	score := 0
	for _, f := range a.RiskFactors {
		score += f.Points
	}
	for _, f := range a.PositiveFactors {
		score -= f.Points
	}
	if score < 0 {
		return 0
	}
	if score > 10 {
		return 10
	}
	return score
}

// matchesAny reports whether file path p matches any pattern. A pattern
// matches the full path, the base name, or — when it ends with "/" — any
// file under that directory.
func matchesAny(p string, patterns []string) bool {
	base := path.Base(p)
	for _, pat := range patterns {
		if strings.HasSuffix(pat, "/") {
			if strings.HasPrefix(p, pat) {
				return true
			}
			continue
		}
		if ok, _ := path.Match(pat, p); ok {
			return true
		}
		if ok, _ := path.Match(pat, base); ok {
			return true
		}
	}
	return false
}

func splitFileKinds(files []string) (docs, tests, source int) {
	for _, f := range files {
		base := strings.ToLower(path.Base(f))
		switch {
		case strings.HasSuffix(base, ".md") || strings.HasPrefix(f, "docs/") || base == "license":
			docs++
		case strings.HasSuffix(base, "_test.go") || strings.HasPrefix(base, "test_") ||
			strings.HasPrefix(f, "test/") || strings.HasPrefix(f, "tests/"):
			tests++
		default:
			source++
		}
	}
	return docs, tests, source
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}

package mergerisk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CriticalPatterns = []string{"Dockerfile", ".github/workflows/", "deploy/"}
	return cfg
}

func TestAssess_DocsOnlyAutomationChangeIsLowRisk(t *testing.T) {
	cr := &ChangeRequest{
		Repo:      "acme/widgets",
		Number:    7,
		Files:     []string{"README.md"},
		Additions: 2,
		Deletions: 1,
		Author:    "issuepilot[bot]",
		Message:   "docs: fix typo in README",
	}
	a := NewScorer(testConfig()).Assess(cr)

	assert.LessOrEqual(t, a.Score, 3)
	assert.False(t, a.CriticalTouched)
	assert.NotEmpty(t, a.PositiveFactors)
}

func TestAssess_CriticalFileFloorsAtTen(t *testing.T) {
	cr := &ChangeRequest{
		Files:     []string{"Dockerfile"},
		Additions: 1,
		Author:    "issuepilot[bot]",
		Message:   "fix: bump base image",
	}
	a := NewScorer(testConfig()).Assess(cr)

	assert.True(t, a.CriticalTouched)
	assert.Equal(t, 10, a.Score, "critical files override every positive factor")
}

func TestAssess_CriticalDirectoryPattern(t *testing.T) {
	a := NewScorer(testConfig()).Assess(&ChangeRequest{
		Files:   []string{".github/workflows/ci.yml"},
		Message: "ci: tweak cache",
	})
	assert.True(t, a.CriticalTouched)
	assert.Equal(t, 10, a.Score)
}

func TestAssess_LargeChangesetRaisesRisk(t *testing.T) {
	small := NewScorer(testConfig()).Assess(&ChangeRequest{
		Files: []string{"internal/parser/parser.go"}, Additions: 10, Message: "x",
	})
	large := NewScorer(testConfig()).Assess(&ChangeRequest{
		Files: []string{"internal/parser/parser.go"}, Additions: 700, Message: "x",
	})
	assert.Greater(t, large.Score, small.Score)
}

func TestAssess_TestsAlongsideSource(t *testing.T) {
	withTests := NewScorer(testConfig()).Assess(&ChangeRequest{
		Files:     []string{"internal/parser/parser.go", "internal/parser/parser_test.go"},
		Additions: 120, Message: "x",
	})
	withoutTests := NewScorer(testConfig()).Assess(&ChangeRequest{
		Files:     []string{"internal/parser/parser.go"},
		Additions: 120, Message: "x",
	})
	assert.Less(t, withTests.Score, withoutTests.Score)
}

func TestAssess_CautionFilesAddRisk(t *testing.T) {
	a := NewScorer(testConfig()).Assess(&ChangeRequest{
		Files:     []string{"config.yaml", "scripts/migrate.sh", "internal/app.go"},
		Additions: 200,
		Message:   "rework everything",
	})

	cautionPoints := 0
	for _, f := range a.RiskFactors {
		if f.Label == "caution file" {
			cautionPoints += f.Points
		}
	}
	assert.Equal(t, 2, cautionPoints)
}

func TestAssess_ConventionalCommit(t *testing.T) {
	conventional := NewScorer(testConfig()).Assess(&ChangeRequest{
		Files: []string{"a.go"}, Additions: 150, Message: "fix(parser): handle empty input",
	})
	malformed := NewScorer(testConfig()).Assess(&ChangeRequest{
		Files: []string{"a.go"}, Additions: 150, Message: "fixed some stuff",
	})
	assert.Less(t, conventional.Score, malformed.Score)
}

func TestAssess_Deterministic(t *testing.T) {
	cr := &ChangeRequest{
		Files:     []string{"internal/app.go", "config.yaml"},
		Additions: 80, Deletions: 12,
		Author:  "issuepilot[bot]",
		Message: "feat: add retry budget",
	}
	s := NewScorer(testConfig())
	first := s.Assess(cr)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, s.Assess(cr))
	}
}

func TestAssess_ScoreBounds(t *testing.T) {
	// All risk, no offsets.
	a := NewScorer(testConfig()).Assess(&ChangeRequest{
		Files: []string{
			"a.yaml", "b.yaml", "c.yaml", "d.yaml", "e.yaml",
			"f.sql", "g.sql", "h.sh", "i.sh", "j.sh", "k.sh", "l.sh",
		},
		Additions: 9000,
		Message:   "stuff",
	})
	require.LessOrEqual(t, a.Score, 10)
	require.GreaterOrEqual(t, a.Score, 0)
}

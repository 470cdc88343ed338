package confidence

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scoreOf(t *testing.T, in Input) Result {
	t.Helper()
	res, err := NewRuleScorer(DefaultWeights()).Score(context.Background(), in)
	require.NoError(t, err)
	return res
}

func TestRuleScorer_DocTypoScoresHigh(t *testing.T) {
	res := scoreOf(t, Input{
		Title:             "Fix typo in README",
		Body:              "The word 'teh' appears in README.md.",
		Labels:            []string{"documentation"},
		Author:            "octocat",
		AuthorMergedCount: 3,
	})

	assert.GreaterOrEqual(t, res.Score, 80)
	assert.Equal(t, "documentation", res.IssueType)
}

func TestRuleScorer_BreakingArchitectureScoresLow(t *testing.T) {
	res := scoreOf(t, Input{
		Title:             "Rework auth",
		Body:              "This is a breaking change to authentication architecture.",
		Labels:            nil,
		Author:            "octocat",
		AuthorMergedCount: 3,
	})

	assert.Less(t, res.Score, 80)
}

func TestRuleScorer_Bounds(t *testing.T) {
	// Pile on every negative factor: score must stay in [0,100].
	res := scoreOf(t, Input{
		Title:             "Broken",
		Body:              "security vulnerability, breaking change, migration, refactor of api database auth backend architecture",
		Author:            "newbie",
		AuthorMergedCount: 0,
	})
	assert.GreaterOrEqual(t, res.Score, 0)
	assert.LessOrEqual(t, res.Score, 100)

	// And every positive factor.
	res = scoreOf(t, Input{
		Title:             "Fix typo docs formatting",
		Body:              "See README.md, steps to reproduce included.",
		Labels:            []string{"good first issue", "documentation"},
		Author:            "octocat",
		AuthorMergedCount: 100,
	})
	assert.LessOrEqual(t, res.Score, 100)
}

func TestRuleScorer_Deterministic(t *testing.T) {
	in := Input{
		Title:             "Fix crash in parser",
		Body:              "stack trace attached, see parser.go",
		Labels:            []string{"bug"},
		Author:            "octocat",
		AuthorMergedCount: 2,
	}
	first := scoreOf(t, in)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, scoreOf(t, in))
	}
}

func TestRuleScorer_EmptyTitleRejected(t *testing.T) {
	_, err := NewRuleScorer(DefaultWeights()).Score(context.Background(), Input{Body: "something"})
	require.ErrorIs(t, err, ErrScoringInput)
}

func TestRuleScorer_UnknownAuthorCountNotPenalized(t *testing.T) {
	known := scoreOf(t, Input{Title: "Fix typo", Body: "x", AuthorMergedCount: 0})
	unknown := scoreOf(t, Input{Title: "Fix typo", Body: "x", AuthorMergedCount: -1})
	assert.Greater(t, unknown.Score, known.Score)
}

func TestRuleScorer_FactorsOrderedAndAudited(t *testing.T) {
	res := scoreOf(t, Input{
		Title:             "Fix typo in README",
		Body:              "See README.md",
		Labels:            []string{"documentation"},
		AuthorMergedCount: 1,
	})

	require.NotEmpty(t, res.Factors)
	assert.Equal(t, "baseline", res.Factors[0].Label)
	sum := 0
	for _, f := range res.Factors {
		sum += f.Points
		assert.NotEmpty(t, f.Rationale)
	}
	assert.Equal(t, res.Score, sum, "factor points must add up to the (unclamped in-range) score")
}

func TestClassifyPriority(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		labels []string
		want   string
	}{
		{"critical label", "anything", []string{"critical"}, "critical"},
		{"p1 label", "anything", []string{"P1"}, "high"},
		{"crash text", "the app crash loops", nil, "high"},
		{"minor label", "anything", []string{"minor"}, "low"},
		{"default", "anything", nil, "medium"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyPriority(strings.ToLower(tt.text), tt.labels))
		})
	}
}

package github

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/issuepilot/issuepilot/internal/mergerisk"
)

// closesPattern matches closing keywords linking a pull request to an issue.
var closesPattern = regexp.MustCompile(`(?i)\b(?:close[sd]?|fix(?:e[sd])?|resolve[sd]?)\s+#(\d+)`)

// splitRepo splits "owner/name" into its two parts.
func splitRepo(repo string) (string, string, error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository %q, want owner/name", repo)
	}
	return parts[0], parts[1], nil
}

// linkedIssueNumber extracts the first issue number referenced with a closing
// keyword in a pull request body, or 0 when there is none.
func linkedIssueNumber(body string) int {
	m := closesPattern.FindStringSubmatch(body)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// mergeMethod maps a merge strategy to the GitHub API merge method.
func mergeMethod(s mergerisk.Strategy) string {
	switch s {
	case mergerisk.StrategyRebase:
		return "rebase"
	case mergerisk.StrategySquash:
		return "squash"
	default:
		return "merge"
	}
}

// mapCheckState maps a check run's status and conclusion to a CheckState.
func mapCheckState(status, conclusion string) mergerisk.CheckState {
	if status != "completed" {
		return mergerisk.CheckPending
	}
	switch conclusion {
	case "success", "neutral", "skipped":
		return mergerisk.CheckPass
	default:
		return mergerisk.CheckFail
	}
}

// mapStatusState maps a legacy commit status state to a CheckState.
func mapStatusState(state string) mergerisk.CheckState {
	switch state {
	case "success":
		return mergerisk.CheckPass
	case "pending":
		return mergerisk.CheckPending
	default:
		return mergerisk.CheckFail
	}
}

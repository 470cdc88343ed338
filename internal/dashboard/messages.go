package dashboard

import "encoding/json"

// BridgeMessage is the envelope for every WebSocket message in both
// directions.
type BridgeMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message types.
const (
	// Client -> server.
	MsgGetIssues = "get_issues"

	// Server -> client.
	MsgIssuesList    = "issues_list"
	MsgStatusChanged = "status_changed"
)

// IssueSummary is the wire form of one tracked issue.
type IssueSummary struct {
	Repo       string `json:"repo"`
	Number     int    `json:"number"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	Strategy   string `json:"strategy"`
	Confidence *int   `json:"confidence,omitempty"`
	IssueType  string `json:"issue_type,omitempty"`
	Priority   string `json:"priority,omitempty"`
	Monitoring bool   `json:"monitoring"`
}

// IssuesListPayload carries the full issue list.
type IssuesListPayload struct {
	Issues []IssueSummary `json:"issues"`
}

// StatusChangedPayload announces one lifecycle transition.
type StatusChangedPayload struct {
	Repo      string `json:"repo"`
	Number    int    `json:"number"`
	Status    string `json:"status"`
	Rationale string `json:"rationale"`
}

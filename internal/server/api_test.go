package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/issuepilot/issuepilot/internal/confidence"
	"github.com/issuepilot/issuepilot/internal/fixer"
	"github.com/issuepilot/issuepilot/internal/lifecycle"
	"github.com/issuepilot/issuepilot/internal/llm"
	"github.com/issuepilot/issuepilot/internal/mergerisk"
	"github.com/issuepilot/issuepilot/internal/orchestrator"
	"github.com/issuepilot/issuepilot/internal/provider"
	"github.com/issuepilot/issuepilot/internal/store"
)

type fixedScorer struct{ score int }

func (f fixedScorer) Score(_ context.Context, _ confidence.Input) (confidence.Result, error) {
	return confidence.Result{Score: f.score, IssueType: "bug", Priority: "medium"}, nil
}

type nopAudit struct{}

func (nopAudit) AppendTransition(string, int, string, string, string, string) error { return nil }
func (nopAudit) RecordScore(string, int, string, int, string, string) error         { return nil }
func (nopAudit) RecordDecision(string, int, int, string, string, int, string) error { return nil }

func newTestServer(t *testing.T, score int) (*httptest.Server, *provider.MockBackend, *store.Records) {
	t.Helper()
	records := store.NewRecords(t.TempDir())
	backend := provider.NewMockBackend()

	client := llm.NewMockClient()
	client.DefaultResult = "TITLE: Fix it\nBRANCH: issuepilot/issue-1\nFILE: main.go\n\nDone."

	opts := orchestrator.DefaultOptions()
	opts.Retry = orchestrator.RetryConfig{Attempts: 1, Timeout: time.Second, Backoff: time.Millisecond}

	riskCfg := mergerisk.DefaultConfig()
	riskCfg.CriticalPatterns = []string{"*.pem"}
	orch := orchestrator.New(opts, records, nopAudit{}, fixedScorer{score: score}, nil,
		mergerisk.NewScorer(riskCfg),
		mergerisk.NewDecider(mergerisk.DefaultDeciderConfig()),
		backend, fixer.New(client))

	api := NewAPIServer(orch, NewHealthFeed(time.Minute))
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv, backend, records
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func waitForStatus(t *testing.T, records *store.Records, key lifecycle.Key, want lifecycle.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		rec, err := records.LoadIssue(key)
		return err == nil && rec.Status == want
	}, 2*time.Second, 10*time.Millisecond, "issue should reach %s", want)
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t, 90)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthzResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "running", health.Status)
	assert.Equal(t, 0, health.Issues)
}

func TestIssueEventAcceptedAndProcessed(t *testing.T) {
	srv, _, records := newTestServer(t, 90)

	resp := postJSON(t, srv.URL+"/events/issues", orchestrator.IssueEvent{
		Repo:   "acme/api",
		Number: 7,
		Title:  "Crash on empty payload",
		Body:   "panic on empty body",
		Author: "dev",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	waitForStatus(t, records, lifecycle.Key{Repo: "acme/api", Number: 7}, lifecycle.StatusInProgress)
}

func TestIssueEventRejectsMissingFields(t *testing.T) {
	srv, _, _ := newTestServer(t, 90)

	resp := postJSON(t, srv.URL+"/events/issues", map[string]any{"repo": "acme/api"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/events/issues", map[string]any{"number": 7})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusEndpoint(t *testing.T) {
	srv, _, records := newTestServer(t, 40)

	resp := postJSON(t, srv.URL+"/events/issues", orchestrator.IssueEvent{
		Repo:   "acme/api",
		Number: 7,
		Title:  "Typo in README",
		Author: "dev",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	waitForStatus(t, records, lifecycle.Key{Repo: "acme/api", Number: 7}, lifecycle.StatusReviewNeeded)

	statusResp, err := http.Get(srv.URL + "/status/acme/api/7")
	require.NoError(t, err)
	defer statusResp.Body.Close()
	require.Equal(t, http.StatusOK, statusResp.StatusCode)

	var status StatusResponse
	require.NoError(t, json.NewDecoder(statusResp.Body).Decode(&status))
	assert.Equal(t, "acme/api", status.Repo)
	assert.Equal(t, 7, status.Number)
	assert.Equal(t, string(lifecycle.StatusReviewNeeded), status.Status)
	assert.NotEmpty(t, status.History)
}

func TestStatusNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t, 90)

	resp, err := http.Get(srv.URL + "/status/acme/api/404")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	bad, err := http.Get(srv.URL + "/status/acme/api/not-a-number")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestListIssues(t *testing.T) {
	srv, _, records := newTestServer(t, 40)

	for n := 1; n <= 2; n++ {
		resp := postJSON(t, srv.URL+"/events/issues", orchestrator.IssueEvent{
			Repo:   "acme/api",
			Number: n,
			Title:  fmt.Sprintf("issue %d", n),
			Author: "dev",
		})
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		waitForStatus(t, records, lifecycle.Key{Repo: "acme/api", Number: n}, lifecycle.StatusReviewNeeded)
	}

	resp, err := http.Get(srv.URL + "/issues")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var views []IssueView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
	assert.Len(t, views, 2)
}

func TestApproveEndpoint(t *testing.T) {
	srv, _, records := newTestServer(t, 40)
	key := lifecycle.Key{Repo: "acme/api", Number: 7}

	resp := postJSON(t, srv.URL+"/events/issues", orchestrator.IssueEvent{
		Repo: "acme/api", Number: 7, Title: "Typo", Author: "dev",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	waitForStatus(t, records, key, lifecycle.StatusReviewNeeded)

	approve := postJSON(t, srv.URL+"/issues/acme/api/7/approve", ApproveRequest{Approver: "alice"})
	require.Equal(t, http.StatusAccepted, approve.StatusCode)
	waitForStatus(t, records, key, lifecycle.StatusInProgress)
}

func TestApproveRequiresApprover(t *testing.T) {
	srv, _, records := newTestServer(t, 40)

	resp := postJSON(t, srv.URL+"/events/issues", orchestrator.IssueEvent{
		Repo: "acme/api", Number: 7, Title: "Typo", Author: "dev",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	waitForStatus(t, records, lifecycle.Key{Repo: "acme/api", Number: 7}, lifecycle.StatusReviewNeeded)

	bad := postJSON(t, srv.URL+"/issues/acme/api/7/approve", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	missing := postJSON(t, srv.URL+"/issues/acme/api/99/approve", ApproveRequest{Approver: "alice"})
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestChangeRequestEventMerges(t *testing.T) {
	srv, backend, records := newTestServer(t, 90)
	key := lifecycle.Key{Repo: "acme/api", Number: 7}

	resp := postJSON(t, srv.URL+"/events/issues", orchestrator.IssueEvent{
		Repo: "acme/api", Number: 7, Title: "Crash", Author: "dev",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	waitForStatus(t, records, key, lifecycle.StatusInProgress)

	backend.ChangeRequests["acme/api#42"] = &mergerisk.ChangeRequest{
		Repo:        "acme/api",
		Number:      42,
		IssueNumber: 7,
		Files:       []string{"internal/app.go"},
		Additions:   10,
		Author:      "issuepilot",
		Message:     "fix: guard nil",
		Checks:      []mergerisk.CheckResult{{Name: "ci", State: mergerisk.CheckPass, Required: true}},
	}

	crResp := postJSON(t, srv.URL+"/events/change-requests", orchestrator.ChangeRequestEvent{
		Repo: "acme/api", Number: 42,
	})
	require.Equal(t, http.StatusAccepted, crResp.StatusCode)

	waitForStatus(t, records, key, lifecycle.StatusMerged)
}

func TestHealthSampleEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, 90)

	resp := postJSON(t, srv.URL+"/health-samples", HealthSampleRequest{
		Repo: "acme/api", ErrorRate: 0.02, LatencyP95: 120,
	})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	bad := postJSON(t, srv.URL+"/health-samples", HealthSampleRequest{
		Repo: "acme/api", ErrorRate: 1.5,
	})
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	missing := postJSON(t, srv.URL+"/health-samples", HealthSampleRequest{ErrorRate: 0.1})
	assert.Equal(t, http.StatusBadRequest, missing.StatusCode)
}

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/issuepilot/issuepilot/internal/lifecycle"
	"github.com/issuepilot/issuepilot/internal/monitor"
	"github.com/issuepilot/issuepilot/internal/orchestrator"
)

// Server is the event-intake and status HTTP API.
type Server struct {
	orch   *orchestrator.Orchestrator
	health *HealthFeed
	start  time.Time
}

// NewAPIServer creates the API server on top of an orchestrator and the
// health feed the monitor samples from.
func NewAPIServer(orch *orchestrator.Orchestrator, health *HealthFeed) *Server {
	return &Server{orch: orch, health: health, start: time.Now()}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /issues", s.handleListIssues)
	mux.HandleFunc("GET /status/{owner}/{repo}/{number}", s.handleStatus)
	mux.HandleFunc("POST /events/issues", s.handleIssueEvent)
	mux.HandleFunc("POST /events/change-requests", s.handleChangeRequestEvent)
	mux.HandleFunc("POST /issues/{owner}/{repo}/{number}/approve", s.handleApprove)
	mux.HandleFunc("POST /health-samples", s.handleHealthSample)
	return mux
}

// HealthzResponse is the JSON response for GET /healthz.
type HealthzResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	Issues int    `json:"issues"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	issues, err := s.orch.ListIssues()
	count := 0
	if err == nil {
		count = len(issues)
	}
	writeJSON(w, http.StatusOK, HealthzResponse{
		Status: "running",
		Uptime: time.Since(s.start).Round(time.Second).String(),
		Issues: count,
	})
}

// IssueView is the JSON form of a tracked issue.
type IssueView struct {
	Repo       string `json:"repo"`
	Number     int    `json:"number"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	Strategy   string `json:"strategy"`
	Confidence *int   `json:"confidence,omitempty"`
	IssueType  string `json:"issue_type,omitempty"`
	Priority   string `json:"priority,omitempty"`
}

func issueView(rec *lifecycle.IssueRecord) IssueView {
	return IssueView{
		Repo:       rec.Key.Repo,
		Number:     rec.Key.Number,
		Title:      rec.Title,
		Status:     string(rec.Status),
		Strategy:   string(rec.Strategy),
		Confidence: rec.Confidence,
		IssueType:  rec.IssueType,
		Priority:   rec.Priority,
	}
}

func (s *Server) handleListIssues(w http.ResponseWriter, r *http.Request) {
	records, err := s.orch.ListIssues()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	views := make([]IssueView, 0, len(records))
	for _, rec := range records {
		views = append(views, issueView(rec))
	}
	writeJSON(w, http.StatusOK, views)
}

// StatusResponse is the JSON response for GET /status/{owner}/{repo}/{number}.
type StatusResponse struct {
	IssueView
	ChangeRequest int                    `json:"change_request,omitempty"`
	Monitoring    bool                   `json:"monitoring"`
	History       []lifecycle.Transition `json:"history"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	status, err := s.orch.GetStatus(key)
	if err != nil {
		http.Error(w, fmt.Sprintf("issue %s not tracked", key), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		IssueView:     issueView(status.Record),
		ChangeRequest: status.Record.ChangeRequest,
		Monitoring:    status.Monitoring,
		History:       status.Record.History,
	})
}

func (s *Server) handleIssueEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var ev orchestrator.IssueEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if ev.Repo == "" || ev.Number <= 0 {
		http.Error(w, "repo and number are required", http.StatusBadRequest)
		return
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	// Respond immediately; scoring and fix generation run asynchronously.
	// Callers track progress through GET /status.
	go func() {
		if err := s.orch.HandleIssueOpened(context.Background(), ev); err != nil {
			slog.Error("handling issue event", "repo", ev.Repo, "number", ev.Number, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"issue":  fmt.Sprintf("%s#%d", ev.Repo, ev.Number),
	})
}

func (s *Server) handleChangeRequestEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var ev orchestrator.ChangeRequestEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if ev.Repo == "" || ev.Number <= 0 {
		http.Error(w, "repo and number are required", http.StatusBadRequest)
		return
	}

	go func() {
		if err := s.orch.HandleChangeRequest(context.Background(), ev); err != nil {
			slog.Error("handling change request event", "repo", ev.Repo, "number", ev.Number, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":         "accepted",
		"change_request": fmt.Sprintf("%s!%d", ev.Repo, ev.Number),
	})
}

// ApproveRequest is the JSON body for the approval endpoint.
type ApproveRequest struct {
	Approver string `json:"approver"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Approver == "" {
		http.Error(w, "approver is required", http.StatusBadRequest)
		return
	}

	if _, err := s.orch.GetStatus(key); err != nil {
		http.Error(w, fmt.Sprintf("issue %s not tracked", key), http.StatusNotFound)
		return
	}

	go func() {
		if err := s.orch.HandleHumanApproval(context.Background(), key, req.Approver); err != nil {
			slog.Error("handling approval", "key", key.String(), "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"issue":  key.String(),
	})
}

// HealthSampleRequest is the JSON body for POST /health-samples.
type HealthSampleRequest struct {
	Repo       string  `json:"repo"`
	ErrorRate  float64 `json:"error_rate"`
	LatencyP95 float64 `json:"latency_p95"`
	Critical   bool    `json:"critical"`
}

func (s *Server) handleHealthSample(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req HealthSampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Repo == "" {
		http.Error(w, "repo is required", http.StatusBadRequest)
		return
	}
	if req.ErrorRate < 0 || req.ErrorRate > 1 {
		http.Error(w, "error_rate must be in [0,1]", http.StatusBadRequest)
		return
	}

	s.health.Record(req.Repo, monitor.HealthSample{
		ErrorRate:  req.ErrorRate,
		LatencyP95: req.LatencyP95,
		Critical:   req.Critical,
		TakenAt:    time.Now().UTC(),
	})
	w.WriteHeader(http.StatusNoContent)
}

// pathKey extracts the issue key from {owner}/{repo}/{number} path segments.
func pathKey(w http.ResponseWriter, r *http.Request) (lifecycle.Key, bool) {
	owner := r.PathValue("owner")
	repo := r.PathValue("repo")
	number, err := strconv.Atoi(r.PathValue("number"))
	if owner == "" || repo == "" || err != nil || number <= 0 {
		http.Error(w, "owner, repo, and a numeric issue number are required", http.StatusBadRequest)
		return lifecycle.Key{}, false
	}
	return lifecycle.Key{Repo: owner + "/" + repo, Number: number}, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Package dashboard serves a live status feed for tracked issues: a small
// REST surface plus a WebSocket bridge that streams lifecycle transitions.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/issuepilot/issuepilot/internal/lifecycle"
)

// Server is the dashboard HTTP server.
type Server struct {
	bridge *Bridge
	srv    *http.Server

	// ListIssuesFn supplies the issue list; set before Start.
	ListIssuesFn func() []IssueSummary
}

// NewServer creates a dashboard server.
func NewServer() *Server {
	s := &Server{}
	s.bridge = NewBridge(func() []IssueSummary {
		if s.ListIssuesFn == nil {
			return nil
		}
		return s.ListIssuesFn()
	})
	return s
}

// StatusChanged implements the orchestrator's publisher hook: every lifecycle
// transition is pushed to connected clients.
func (s *Server) StatusChanged(key lifecycle.Key, status lifecycle.Status, rationale string) {
	s.bridge.BroadcastStatusChanged(StatusChangedPayload{
		Repo:      key.Repo,
		Number:    key.Number,
		Status:    string(status),
		Rationale: rationale,
	})
}

// Start runs the dashboard server and blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	addr := fmt.Sprintf(":%d", port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // WebSocket needs no write timeout
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down dashboard server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	slog.Info("starting dashboard server", "addr", addr)
	if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("dashboard server error: %w", err)
	}
	return nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/issues", s.handleListIssues)
	mux.HandleFunc("GET /ws", s.bridge.HandleWS)
}

func (s *Server) handleListIssues(w http.ResponseWriter, r *http.Request) {
	var issues []IssueSummary
	if s.ListIssuesFn != nil {
		issues = s.ListIssuesFn()
	}
	if issues == nil {
		issues = []IssueSummary{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(issues)
}

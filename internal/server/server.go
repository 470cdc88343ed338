// Package server runs the issuepilot daemon: the event-intake HTTP API, the
// orchestrator and its monitor, and the optional dashboard feed.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/issuepilot/issuepilot/internal/confidence"
	"github.com/issuepilot/issuepilot/internal/config"
	"github.com/issuepilot/issuepilot/internal/dashboard"
	"github.com/issuepilot/issuepilot/internal/db"
	"github.com/issuepilot/issuepilot/internal/fixer"
	"github.com/issuepilot/issuepilot/internal/lifecycle"
	"github.com/issuepilot/issuepilot/internal/llm"
	"github.com/issuepilot/issuepilot/internal/mergerisk"
	"github.com/issuepilot/issuepilot/internal/monitor"
	"github.com/issuepilot/issuepilot/internal/orchestrator"
	"github.com/issuepilot/issuepilot/internal/provider"
	"github.com/issuepilot/issuepilot/internal/provider/github"
	"github.com/issuepilot/issuepilot/internal/store"
)

// RunServer wires the full daemon and blocks until the context is cancelled.
func RunServer(ctx context.Context, port int, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	root := store.DefaultRoot()
	records := store.NewRecords(root)

	dbPath, err := db.DefaultPath(root)
	if err != nil {
		return fmt.Errorf("resolving audit database path: %w", err)
	}
	audit, err := db.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening audit database: %w", err)
	}
	defer audit.Close()
	if err := audit.Migrate(); err != nil {
		return fmt.Errorf("migrating audit database: %w", err)
	}

	registry := provider.NewRegistry()
	registry.Register(github.NewBackend(cfg.Providers["github"].Token))
	backend, err := registry.Get("github")
	if err != nil {
		return fmt.Errorf("selecting backend: %w", err)
	}

	llmClient := llm.NewCopilotClient(cfg.Models.Primary)
	if err := llmClient.Start(ctx); err != nil {
		slog.Warn("LLM client not available — scoring falls back to rules and fix generation will fail", "error", err)
	} else {
		defer llmClient.Stop()
	}

	rules := confidence.NewRuleScorer(cfg.Scoring.Weights)
	var learned confidence.Scorer
	if cfg.Scoring.UseLearned {
		learned = confidence.NewLearnedScorer(llmClient)
	}

	opts := orchestrator.DefaultOptions()
	opts.AutoApproveConfidence = cfg.Scoring.AutoApproveConfidence
	opts.HoldTimeout = cfg.Server.ParseHoldTimeout()
	opts.Retry = orchestrator.RetryConfig{
		Attempts: cfg.Retry.Attempts,
		Timeout:  cfg.Retry.ParseTimeout(),
		Backoff:  cfg.Retry.ParseBackoff(),
	}

	orch := orchestrator.New(opts, records, audit,
		rules, learned,
		mergerisk.NewScorer(cfg.Risk.ScorerConfig()),
		mergerisk.NewDecider(cfg.Risk.DeciderConfig()),
		backend, fixer.New(llmClient))
	orch.SetNotifier(NewTeamsNotifier(&cfg.Notifications))

	health := NewHealthFeed(5 * cfg.Monitor.ParseSampleInterval())
	mon := monitor.New(monitor.Config{
		WindowDuration:    cfg.Monitor.ParseWindowDuration(),
		SampleInterval:    cfg.Monitor.ParseSampleInterval(),
		ErrorRateIncrease: cfg.Monitor.ErrorRateIncrease,
		LatencyIncrease:   cfg.Monitor.LatencyIncrease,
	}, health, orch, records)
	orch.AttachMonitor(mon)
	defer mon.Stop()

	if err := orch.Recover(ctx); err != nil {
		return fmt.Errorf("recovering persisted state: %w", err)
	}

	api := NewAPIServer(orch, health)
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	var wg sync.WaitGroup

	if cfg.Dashboard.Enabled {
		dashPort := cfg.Dashboard.Port
		if dashPort == 0 {
			dashPort = 4098
		}
		dashSrv := dashboard.NewServer()
		dashSrv.ListIssuesFn = func() []dashboard.IssueSummary { return dashboardIssues(orch) }
		orch.SetPublisher(dashSrv)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dashSrv.Start(ctx, dashPort); err != nil {
				slog.Error("dashboard server error", "error", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP server shutdown error", "error", err)
		}
	}()

	slog.Info("starting HTTP server", "addr", addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	wg.Wait()
	return nil
}

func dashboardIssues(orch *orchestrator.Orchestrator) []dashboard.IssueSummary {
	records, err := orch.ListIssues()
	if err != nil {
		slog.Warn("listing issues for dashboard", "error", err)
		return nil
	}
	out := make([]dashboard.IssueSummary, 0, len(records))
	for _, rec := range records {
		monitoring := false
		if st, err := orch.GetStatus(lifecycle.Key{Repo: rec.Key.Repo, Number: rec.Key.Number}); err == nil {
			monitoring = st.Monitoring
		}
		out = append(out, dashboard.IssueSummary{
			Repo:       rec.Key.Repo,
			Number:     rec.Key.Number,
			Title:      rec.Title,
			Status:     string(rec.Status),
			Strategy:   string(rec.Strategy),
			Confidence: rec.Confidence,
			IssueType:  rec.IssueType,
			Priority:   rec.Priority,
			Monitoring: monitoring,
		})
	}
	return out
}

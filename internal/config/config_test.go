package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Models.Primary != "anthropic/claude-sonnet-4-20250514" {
		t.Errorf("unexpected primary model %s", cfg.Models.Primary)
	}
	if cfg.Scoring.AutoApproveConfidence != 80 {
		t.Errorf("expected auto_approve_confidence 80, got %d", cfg.Scoring.AutoApproveConfidence)
	}
	if cfg.Risk.MaxRisk != 3 || cfg.Risk.MinConfidence != 80 {
		t.Errorf("unexpected decider defaults: max_risk=%d min_confidence=%d", cfg.Risk.MaxRisk, cfg.Risk.MinConfidence)
	}
	if cfg.Server.Port != 4097 {
		t.Errorf("expected server port 4097, got %d", cfg.Server.Port)
	}
	if cfg.Monitor.ParseWindowDuration() != 24*time.Hour {
		t.Errorf("expected window duration 24h, got %v", cfg.Monitor.ParseWindowDuration())
	}
	if cfg.Retry.ParseTimeout() != 30*time.Second {
		t.Errorf("expected retry timeout 30s, got %v", cfg.Retry.ParseTimeout())
	}
}

func TestDefaultConfigFailsValidation(t *testing.T) {
	// The critical set has no safe default; an unconfigured deployment must
	// not start.
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for empty critical_patterns")
	}

	cfg.Risk.CriticalPatterns = []string{"internal/auth/"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Risk.CriticalPatterns = []string{"*.pem"}

	cfg.Risk.MaxRisk = 11
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for max_risk 11")
	}
	cfg.Risk.MaxRisk = 3

	cfg.Scoring.AutoApproveConfidence = 200
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for auto_approve_confidence 200")
	}
	cfg.Scoring.AutoApproveConfidence = 80

	cfg.Retry.Attempts = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero retry attempts")
	}
}

func TestLoadJSONC(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.jsonc")

	content := []byte(`{
  // This is a JSONC comment
  "models": {
    "primary": "test-model"
  },
  "server": {
    "port": 9999
  }
}`)

	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	m, err := loadJSONC(path)
	if err != nil {
		t.Fatalf("loadJSONC failed: %v", err)
	}

	models, ok := m["models"].(map[string]any)
	if !ok {
		t.Fatal("expected models to be a map")
	}
	if models["primary"] != "test-model" {
		t.Errorf("expected primary=test-model, got %v", models["primary"])
	}

	server, ok := m["server"].(map[string]any)
	if !ok {
		t.Fatal("expected server to be a map")
	}
	if server["port"] != float64(9999) {
		t.Errorf("expected port=9999, got %v", server["port"])
	}
}

func TestLoadJSONC_FileNotFound(t *testing.T) {
	_, err := loadJSONC("/nonexistent/path/config.jsonc")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadJSONC_MalformedContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.jsonc")

	// Truncated JSON
	if err := os.WriteFile(path, []byte(`{"models": {"primary": "test"`), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	_, err := loadJSONC(path)
	if err == nil {
		t.Error("expected error for malformed JSONC")
	}
}

func TestMergeIntoConfig(t *testing.T) {
	cfg := DefaultConfig()

	src := map[string]any{
		"models": map[string]any{
			"primary": "override-model",
		},
		"server": map[string]any{
			"port": json.Number("8080"),
		},
	}

	if err := mergeIntoConfig(&cfg, src); err != nil {
		t.Fatalf("mergeIntoConfig failed: %v", err)
	}

	if cfg.Models.Primary != "override-model" {
		t.Errorf("expected primary=override-model, got %s", cfg.Models.Primary)
	}
}

func TestMergeDeepPreservesNestedFields(t *testing.T) {
	cfg := DefaultConfig()

	// Override only risk.max_risk; every sibling must survive.
	src := map[string]any{
		"risk": map[string]any{
			"max_risk": json.Number("5"),
		},
	}
	if err := mergeIntoConfig(&cfg, src); err != nil {
		t.Fatalf("mergeIntoConfig failed: %v", err)
	}

	if cfg.Risk.MaxRisk != 5 {
		t.Errorf("expected risk.max_risk=5, got %d", cfg.Risk.MaxRisk)
	}
	if cfg.Risk.MinConfidence != 80 {
		t.Errorf("expected risk.min_confidence preserved as 80, got %d", cfg.Risk.MinConfidence)
	}
	if len(cfg.Risk.CautionPatterns) == 0 {
		t.Error("expected risk.caution_patterns preserved")
	}
	if cfg.Server.Port != 4097 {
		t.Errorf("expected server.port preserved as 4097, got %d", cfg.Server.Port)
	}
	if cfg.Scoring.Weights.Baseline != 50 {
		t.Errorf("expected scoring.weights.baseline preserved as 50, got %d", cfg.Scoring.Weights.Baseline)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := DefaultConfig()

	t.Setenv("GITHUB_TOKEN", "gh-token-456")
	t.Setenv("ISSUEPILOT_TEAMS_WEBHOOK", "https://example.test/webhook")

	applyEnvOverrides(&cfg)

	if cfg.Providers["github"].Token != "gh-token-456" {
		t.Errorf("expected GitHub token=gh-token-456, got %s", cfg.Providers["github"].Token)
	}
	if cfg.Notifications.TeamsWebhookURL != "https://example.test/webhook" {
		t.Errorf("expected Teams webhook override, got %s", cfg.Notifications.TeamsWebhookURL)
	}
}

func TestDurationFallbacks(t *testing.T) {
	m := MonitorConfig{WindowDuration: "not-a-duration", SampleInterval: "bad"}
	if m.ParseWindowDuration() != 24*time.Hour {
		t.Error("expected fallback to 24h for invalid window duration")
	}
	if m.ParseSampleInterval() != time.Minute {
		t.Error("expected fallback to 1m for invalid sample interval")
	}

	s := ServerConfig{HoldTimeout: "bad"}
	if s.ParseHoldTimeout() != 30*time.Minute {
		t.Error("expected fallback to 30m for invalid hold timeout")
	}

	r := RetryConfig{Timeout: "", Backoff: ""}
	if r.ParseTimeout() != 30*time.Second || r.ParseBackoff() != 2*time.Second {
		t.Error("expected retry duration fallbacks")
	}
}

func TestLoadMergesUserConfig(t *testing.T) {
	userConfigDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", userConfigDir)

	// Prevent repo-level config from interfering (run from a non-git dir).
	t.Setenv("GIT_CEILING_DIRECTORIES", t.TempDir())
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("ISSUEPILOT_TEAMS_WEBHOOK", "")

	dir := filepath.Join(userConfigDir, "issuepilot")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	userConfig := []byte(`{"models":{"primary":"user-model"},"server":{"port":5555}}`)
	if err := os.WriteFile(filepath.Join(dir, "issuepilot.jsonc"), userConfig, 0644); err != nil {
		t.Fatalf("failed to write user config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Models.Primary != "user-model" {
		t.Errorf("expected models.primary=user-model, got %s", cfg.Models.Primary)
	}
	if cfg.Server.Port != 5555 {
		t.Errorf("expected server.port=5555, got %d", cfg.Server.Port)
	}
	// Defaults preserved for fields the user config did not set.
	if cfg.Risk.MaxRisk != 3 {
		t.Errorf("expected risk.max_risk preserved as 3, got %d", cfg.Risk.MaxRisk)
	}
}

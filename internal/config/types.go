package config

import (
	"errors"
	"time"

	"github.com/issuepilot/issuepilot/internal/confidence"
	"github.com/issuepilot/issuepilot/internal/mergerisk"
)

// Config is the top-level issuepilot configuration.
type Config struct {
	Models        ModelsConfig              `json:"models"`
	Scoring       ScoringConfig             `json:"scoring"`
	Risk          RiskConfig                `json:"risk"`
	Monitor       MonitorConfig             `json:"monitor"`
	Retry         RetryConfig               `json:"retry"`
	Server        ServerConfig              `json:"server"`
	Providers     map[string]ProviderConfig `json:"providers"`
	Notifications NotificationsConfig       `json:"notifications"`
	Dashboard     DashboardConfig           `json:"dashboard"`
}

// ModelsConfig names the LLM model used for scoring and fix generation.
type ModelsConfig struct {
	Primary string `json:"primary"`
}

// ScoringConfig tunes confidence scoring and the auto-approve gate.
type ScoringConfig struct {
	// UseLearned enables the LLM scorer with the rule scorer as fallback.
	UseLearned bool `json:"use_learned"`
	// AutoApproveConfidence is the score at which an issue skips human review.
	AutoApproveConfidence int                `json:"auto_approve_confidence"`
	Weights               confidence.Weights `json:"weights"`
}

// RiskConfig tunes the merge-risk scorer and decider.
type RiskConfig struct {
	CriticalPatterns     []string `json:"critical_patterns"`
	CautionPatterns      []string `json:"caution_patterns"`
	AutomationAuthors    []string `json:"automation_authors"`
	SmallChangeThreshold int      `json:"small_change_threshold"`

	MaxRisk          int `json:"max_risk"`
	MinConfidence    int `json:"min_confidence"`
	UnlinkedMaxRisk  int `json:"unlinked_max_risk"`
	RebaseConfidence int `json:"rebase_confidence"`
	SquashConfidence int `json:"squash_confidence"`
}

// ScorerConfig returns the risk-scorer view of the config.
func (r RiskConfig) ScorerConfig() mergerisk.Config {
	return mergerisk.Config{
		CriticalPatterns:     r.CriticalPatterns,
		CautionPatterns:      r.CautionPatterns,
		AutomationAuthors:    r.AutomationAuthors,
		SmallChangeThreshold: r.SmallChangeThreshold,
	}
}

// DeciderConfig returns the decider view of the config.
func (r RiskConfig) DeciderConfig() mergerisk.DeciderConfig {
	return mergerisk.DeciderConfig{
		MaxRisk:          r.MaxRisk,
		MinConfidence:    r.MinConfidence,
		UnlinkedMaxRisk:  r.UnlinkedMaxRisk,
		RebaseConfidence: r.RebaseConfidence,
		SquashConfidence: r.SquashConfidence,
	}
}

// MonitorConfig tunes post-merge health monitoring. Durations are strings so
// the JSONC file reads naturally ("24h", "1m").
type MonitorConfig struct {
	WindowDuration    string  `json:"window_duration"`
	SampleInterval    string  `json:"sample_interval"`
	ErrorRateIncrease float64 `json:"error_rate_increase"`
	LatencyIncrease   float64 `json:"latency_increase"`
}

// ParseWindowDuration returns the monitoring window length.
func (m MonitorConfig) ParseWindowDuration() time.Duration {
	d, err := time.ParseDuration(m.WindowDuration)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// ParseSampleInterval returns the health sampling interval.
func (m MonitorConfig) ParseSampleInterval() time.Duration {
	d, err := time.ParseDuration(m.SampleInterval)
	if err != nil {
		return time.Minute
	}
	return d
}

// RetryConfig bounds calls to external collaborators.
type RetryConfig struct {
	Attempts int    `json:"attempts"`
	Timeout  string `json:"timeout"`
	Backoff  string `json:"backoff"`
}

// ParseTimeout returns the per-attempt timeout.
func (r RetryConfig) ParseTimeout() time.Duration {
	d, err := time.ParseDuration(r.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// ParseBackoff returns the initial backoff between attempts.
func (r RetryConfig) ParseBackoff() time.Duration {
	d, err := time.ParseDuration(r.Backoff)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// ServerConfig holds daemon settings.
type ServerConfig struct {
	Port        int    `json:"port"`
	LogDir      string `json:"log_dir"`
	HoldTimeout string `json:"hold_timeout"`
}

// ParseHoldTimeout returns how long a held change request waits for pending
// checks before being forced to manual review.
func (s ServerConfig) ParseHoldTimeout() time.Duration {
	d, err := time.ParseDuration(s.HoldTimeout)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// ProviderConfig holds hosting-provider credentials, keyed by provider name
// in the providers map.
type ProviderConfig struct {
	Token string `json:"token,omitempty"`
}

// NotificationsConfig holds Teams webhook settings.
type NotificationsConfig struct {
	TeamsWebhookURL string `json:"teams_webhook_url"`
	// Events filters which events notify; empty means all.
	Events []string `json:"events"`
}

// DashboardConfig holds live status feed settings.
type DashboardConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// DefaultConfig returns a Config with sensible defaults. CriticalPatterns is
// deliberately empty: deployments must fill it in, and Validate rejects the
// empty set at startup.
func DefaultConfig() Config {
	return Config{
		Models: ModelsConfig{
			Primary: "anthropic/claude-sonnet-4-20250514",
		},
		Scoring: ScoringConfig{
			UseLearned:            true,
			AutoApproveConfidence: 80,
			Weights:               confidence.DefaultWeights(),
		},
		Risk: RiskConfig{
			CautionPatterns:      []string{"*.yml", "*.yaml", "Makefile", "*.sql", "scripts/", "*.sh"},
			AutomationAuthors:    []string{"issuepilot[bot]"},
			SmallChangeThreshold: 50,
			MaxRisk:              3,
			MinConfidence:        80,
			UnlinkedMaxRisk:      1,
			RebaseConfidence:     95,
			SquashConfidence:     90,
		},
		Monitor: MonitorConfig{
			WindowDuration:    "24h",
			SampleInterval:    "1m",
			ErrorRateIncrease: 0.20,
			LatencyIncrease:   0.15,
		},
		Retry: RetryConfig{
			Attempts: 3,
			Timeout:  "30s",
			Backoff:  "2s",
		},
		Server: ServerConfig{
			Port:        4097,
			LogDir:      "~/.local/share/issuepilot/logs",
			HoldTimeout: "30m",
		},
		Providers: make(map[string]ProviderConfig),
		Dashboard: DashboardConfig{
			Port: 4098,
		},
	}
}

// Validate rejects configurations that must not reach the decision pipeline.
func (c *Config) Validate() error {
	if len(c.Risk.CriticalPatterns) == 0 {
		return errors.New("risk.critical_patterns must not be empty: list the paths that may never auto-merge")
	}
	if c.Risk.MaxRisk < 0 || c.Risk.MaxRisk > 10 {
		return errors.New("risk.max_risk must be in [0,10]")
	}
	if c.Risk.MinConfidence < 0 || c.Risk.MinConfidence > 100 {
		return errors.New("risk.min_confidence must be in [0,100]")
	}
	if c.Scoring.AutoApproveConfidence < 0 || c.Scoring.AutoApproveConfidence > 100 {
		return errors.New("scoring.auto_approve_confidence must be in [0,100]")
	}
	if c.Monitor.ErrorRateIncrease <= 0 || c.Monitor.LatencyIncrease <= 0 {
		return errors.New("monitor thresholds must be positive")
	}
	if c.Retry.Attempts < 1 {
		return errors.New("retry.attempts must be at least 1")
	}
	return nil
}

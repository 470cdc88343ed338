package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/issuepilot/issuepilot/internal/config"
	"github.com/spf13/cobra"
	"github.com/tidwall/jsonc"
	"github.com/tidwall/sjson"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactively configure issuepilot for this repository",
	Long: `Launch an interactive form to create or update the repository
configuration at .issuepilot/issuepilot.jsonc.

Critical file patterns are required: any change request touching a
critical path is pinned to maximum risk and will never auto-merge.`,
	Example: `  issuepilot init`,
	RunE: func(cmd *cobra.Command, args []string) error {
		repoRoot := config.RepoRoot()
		if repoRoot == "" {
			return fmt.Errorf("not in a git repository")
		}

		// Seed defaults from the merged config.
		cfg := appConfig
		if cfg == nil {
			defaultCfg := config.DefaultConfig()
			cfg = &defaultCfg
		}

		criticalPatterns := strings.Join(cfg.Risk.CriticalPatterns, ", ")
		cautionPatterns := strings.Join(cfg.Risk.CautionPatterns, ", ")
		automationAuthors := strings.Join(cfg.Risk.AutomationAuthors, ", ")
		teamsWebhook := cfg.Notifications.TeamsWebhookURL
		dashboardEnabled := cfg.Dashboard.Enabled

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Critical file patterns (comma-separated)").
					Description("Changes touching these paths never auto-merge, e.g. internal/auth/, *.pem").
					Value(&criticalPatterns).
					Validate(func(s string) error {
						if len(splitPatterns(s)) == 0 {
							return fmt.Errorf("at least one critical pattern is required")
						}
						return nil
					}),
				huh.NewInput().
					Title("Caution file patterns (comma-separated)").
					Description("Each touched caution path adds one risk point").
					Value(&cautionPatterns),
				huh.NewInput().
					Title("Trusted automation authors (comma-separated)").
					Value(&automationAuthors),
				huh.NewInput().
					Title("Teams webhook URL (leave empty to disable notifications)").
					Value(&teamsWebhook),
				huh.NewConfirm().
					Title("Enable the web dashboard?").
					Value(&dashboardEnabled),
			),
		)

		if err := form.Run(); err != nil {
			return fmt.Errorf("form cancelled: %w", err)
		}

		configDir := filepath.Join(repoRoot, ".issuepilot")
		repoConfigPath := filepath.Join(configDir, "issuepilot.jsonc")

		var existing []byte
		if data, err := os.ReadFile(repoConfigPath); err == nil {
			existing = jsonc.ToJSON(data)
		} else {
			existing = []byte("{}")
		}

		updated := existing
		var err error
		set := func(key string, value any) {
			if err != nil {
				return
			}
			updated, err = sjson.SetBytes(updated, key, value)
		}

		set("risk.critical_patterns", splitPatterns(criticalPatterns))
		set("risk.caution_patterns", splitPatterns(cautionPatterns))
		set("risk.automation_authors", splitPatterns(automationAuthors))
		set("dashboard.enabled", dashboardEnabled)
		if teamsWebhook != "" {
			set("notifications.teams_webhook_url", teamsWebhook)
		}
		if err != nil {
			return fmt.Errorf("building config: %w", err)
		}

		if err := os.MkdirAll(configDir, 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.WriteFile(repoConfigPath, updated, 0644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", repoConfigPath)
		return nil
	},
}

func splitPatterns(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func init() {
	rootCmd.AddCommand(initCmd)
}

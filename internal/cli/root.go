package cli

import (
	"log/slog"

	"github.com/issuepilot/issuepilot/internal/config"
	"github.com/issuepilot/issuepilot/internal/logging"
	"github.com/spf13/cobra"
)

var (
	verbose   bool
	appConfig *config.Config
	rootCmd   = &cobra.Command{
		Use:   "issuepilot",
		Short: "Automated issue resolution daemon with confidence scoring and merge-risk gating",
		Long: `IssuePilot watches repository issues, scores them for automated
resolution, generates fixes via an LLM, and manages the merge lifecycle
with risk assessment and post-merge health monitoring.`,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		logging.Setup(verbose)

		cfg, err := config.Load()
		if err != nil {
			slog.Warn("failed to load config, using defaults", "error", err)
			defaultCfg := config.DefaultConfig()
			cfg = &defaultCfg
		}
		appConfig = cfg
	}
}

func Execute() error {
	return rootCmd.Execute()
}

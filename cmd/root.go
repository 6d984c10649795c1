package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "kcp",
	Short: "Activity planning assistant for child-care programs",
	Long: `kcp helps child-care staff find, invent and schedule activities.

Examples:
  kcp serve                             # run the chat API on :8000
  kcp ask "rainy day games for 6 year olds"
  kcp activities import catalog.yaml    # load and index an activity catalog
  kcp activities search "slime" --type Science
  kcp weather "Ann Arbor" --date 2026-06-01`,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	SilenceUsage:      true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml (default: $XDG_CONFIG_HOME/kcp/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json (overrides config)")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

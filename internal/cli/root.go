package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	dbPath  string
	ownerID string
)

var rootCmd = &cobra.Command{
	Use:   "mailsplit",
	Short: "mailsplit - an A/B-test experiment engine for email campaigns",
	Long: `mailsplit runs multi-variant email experiments: it samples an audience,
splits it across variants, folds delivery and engagement events into
per-variant metrics, tests each variant against control for statistical
significance, and rolls the winner out to the untested remainder.

Running without a subcommand starts the server (same as 'mailsplit serve').`,
	RunE: runServe, // Default action is to start the server
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", getEnvOrDefault("MAILSPLIT_DB", "./mailsplit.db"), "database path")
	rootCmd.PersistentFlags().StringVar(&ownerID, "owner", getEnvOrDefault("MAILSPLIT_OWNER", "default"), "account owner id")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

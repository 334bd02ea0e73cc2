package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailsplit/mailsplit/internal/engine"
	"github.com/mailsplit/mailsplit/internal/store"
)

func init() {
	rootCmd.AddCommand(newRolloutCmd())
}

func newRolloutCmd() *cobra.Command {
	var percentage float64

	cmd := &cobra.Command{
		Use:   "rollout <experiment-id>",
		Short: "Send the winning variant to the untested audience remainder",
		Long: `Materialize a campaign for the winning variant covering every eligible
contact that was not part of the test sample, and hand it to the email
queue. Requires a completed experiment with a declared winner.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(s *store.SQLiteStore, eng *engine.Engine) error {
				summary, err := eng.Rollout(context.Background(), args[0], percentage)
				if err != nil {
					return err
				}

				fmt.Printf("Rollout campaign %s created.\n", summary.CampaignID)
				fmt.Printf("  Subject:    %s\n", summary.Subject)
				fmt.Printf("  Recipients: %d (%.0f%% of the untested remainder)\n",
					len(summary.Recipients), summary.Percentage)
				return nil
			})
		},
	}

	cmd.Flags().Float64Var(&percentage, "percentage", 100, "share of the remainder to roll out to")

	return cmd
}

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailsplit/mailsplit/internal/engine"
	"github.com/mailsplit/mailsplit/internal/store"
)

func init() {
	rootCmd.AddCommand(newWinnerCmd())
}

func newWinnerCmd() *cobra.Command {
	var variantID string

	cmd := &cobra.Command{
		Use:   "winner <experiment-id>",
		Short: "Declare a winning variant and complete the experiment",
		Long: `Declare a winning variant for an active experiment. The experiment is
completed and can then be rolled out to the untested remainder of the
audience with 'mailsplit rollout'.

Example:
  mailsplit winner 7c9a... --variant 41d2...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(s *store.SQLiteStore, eng *engine.Engine) error {
				ctx := context.Background()
				if err := eng.DeclareWinner(ctx, args[0], variantID); err != nil {
					return err
				}

				variant, err := s.GetVariant(ctx, variantID)
				if err != nil {
					return err
				}
				fmt.Printf("Declared winner for experiment %s: %q\n", args[0], variant.Name)
				fmt.Println("Experiment has been marked as completed.")
				fmt.Println("\nRoll the winner out with: mailsplit rollout", args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&variantID, "variant", "v", "", "winning variant id (required)")
	cmd.MarkFlagRequired("variant")

	return cmd
}

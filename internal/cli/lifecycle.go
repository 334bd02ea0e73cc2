package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailsplit/mailsplit/internal/engine"
	"github.com/mailsplit/mailsplit/internal/store"
)

func init() {
	rootCmd.AddCommand(startCmd, pauseCmd, resumeCmd)
}

var startCmd = &cobra.Command{
	Use:   "start <experiment-id>",
	Short: "Activate a draft experiment",
	Long: `Validate the experiment and move it from draft to active. The audience
is sampled and assigned in the background; assignment may still be in
progress when the command returns.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(s *store.SQLiteStore, eng *engine.Engine) error {
			if err := eng.Start(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Experiment %s started. Audience assignment is running.\n", args[0])
			return nil
		})
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause <experiment-id>",
	Short: "Pause an active experiment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(s *store.SQLiteStore, eng *engine.Engine) error {
			if err := eng.Pause(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Experiment %s paused.\n", args[0])
			return nil
		})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <experiment-id>",
	Short: "Resume a paused experiment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(s *store.SQLiteStore, eng *engine.Engine) error {
			if err := eng.Resume(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Experiment %s resumed.\n", args[0])
			return nil
		})
	},
}

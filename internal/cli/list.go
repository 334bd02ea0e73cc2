package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mailsplit/mailsplit/internal/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List experiments",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	return withStore(func(s *store.SQLiteStore) error {
		exps, err := s.ListExperiments(context.Background(), ownerID)
		if err != nil {
			return fmt.Errorf("failed to list experiments: %w", err)
		}

		if len(exps) == 0 {
			fmt.Println("No experiments yet. Create one with: mailsplit create <name>")
			return nil
		}

		fmt.Println("NAME                  TYPE          STATUS     WINNER    CREATED")
		fmt.Println(strings.Repeat("─", 76))
		for _, e := range exps {
			winner := "-"
			if e.WinningVariantID != "" {
				winner = "yes"
			}
			name := e.Name
			if len(name) > 20 {
				name = name[:17] + "..."
			}
			fmt.Printf("%-20s  %-12s  %-9s  %-8s  %s\n",
				name, e.Type, e.Status, winner, e.CreatedAt.Format("2006-01-02"))
			fmt.Printf("  id: %s\n", e.ID)
		}
		return nil
	})
}

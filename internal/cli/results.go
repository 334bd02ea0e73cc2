package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mailsplit/mailsplit/internal/store"
)

var resultsCmd = &cobra.Command{
	Use:   "results <experiment-id>",
	Short: "Show metrics and rates for every variant",
	Args:  cobra.ExactArgs(1),
	RunE:  runResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	id := args[0]

	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()

		exp, err := s.GetExperiment(ctx, id)
		if err != nil {
			if err == store.ErrNotFound {
				return fmt.Errorf("experiment '%s' not found", id)
			}
			return fmt.Errorf("failed to get experiment: %w", err)
		}

		variants, err := s.GetVariants(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get variants: %w", err)
		}
		results, err := s.GetResults(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get results: %w", err)
		}
		byVariant := make(map[string]*store.Result, len(results))
		for _, r := range results {
			byVariant[r.VariantID] = r
		}

		fmt.Printf("EXPERIMENT: %s\n", exp.Name)
		fmt.Printf("STATUS: %s\n", exp.Status)
		fmt.Printf("PRIMARY METRIC: %s (%d%% confidence)\n",
			exp.Config.Metrics.Primary, exp.Config.Statistics.ConfidenceLevel)
		fmt.Println()

		fmt.Println("VARIANT           SAMPLE   SENT    DELIVERED  OPEN%    CLICK%   CONV%    LIFT")
		fmt.Println(strings.Repeat("─", 80))

		for _, v := range variants {
			r := byVariant[v.ID]
			if r == nil {
				fmt.Printf("%-16s  (no results yet)\n", truncate(v.Name, 16))
				continue
			}

			liftStr := "-"
			if v.IsControl {
				liftStr = "control"
			} else if r.Analysis.SampleSize > 0 {
				liftStr = fmt.Sprintf("%+.1f%%", r.Analysis.Lift)
				if r.Analysis.Significant {
					liftStr += " *"
				}
			}

			fmt.Printf("%-16s  %-7d  %-6d  %-9d  %-7.2f  %-7.2f  %-7.2f  %s\n",
				truncate(v.Name, 16), r.Analysis.SampleSize, r.Metrics.Sent, r.Metrics.Delivered,
				r.Rates.Open, r.Rates.Click, r.Rates.Conversion, liftStr)
		}
		fmt.Println("\n* statistically significant against control")

		insights, err := s.ListInsights(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to list insights: %w", err)
		}
		if len(insights) > 0 {
			fmt.Println("\nINSIGHTS")
			for _, in := range insights {
				fmt.Printf("  [%s] %s\n", in.CreatedAt.Format("2006-01-02 15:04"), in.Description)
			}
		}

		return nil
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

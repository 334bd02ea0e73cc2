package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mailsplit/mailsplit/internal/engine"
	"github.com/mailsplit/mailsplit/internal/store"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <experiment-id>",
	Short: "Recompute significance and report per-variant analysis",
	Long: `Run the significance test for every variant against control, overwrite
the stored analysis and print the full report with a recommendation.
If the experiment has automatic winner selection enabled, a significant
result also declares the winner.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	return withEngine(func(s *store.SQLiteStore, eng *engine.Engine) error {
		report, err := eng.Analyze(context.Background(), args[0])
		if err != nil {
			return err
		}

		fmt.Println("VARIANT           SAMPLE   RATE CI (95-style)       P-VALUE   LIFT      SIGNIFICANT")
		fmt.Println(strings.Repeat("─", 88))

		for _, row := range report.Variants {
			if row.IsControl {
				fmt.Printf("%-16s  %-7d  %-21s  %-8s  %-8s  control\n",
					truncate(row.Name, 16), row.Analysis.SampleSize, "-", "-", "-")
				continue
			}

			pStr := "n/a"
			if row.Analysis.PValue != nil {
				pStr = fmt.Sprintf("%.4f", *row.Analysis.PValue)
			}
			ciStr := fmt.Sprintf("[%.1f%%, %.1f%%]",
				row.Analysis.ConfidenceInterval.Lower, row.Analysis.ConfidenceInterval.Upper)

			fmt.Printf("%-16s  %-7d  %-21s  %-8s  %+-7.1f%%  %v\n",
				truncate(row.Name, 16), row.Analysis.SampleSize, ciStr, pStr,
				row.Analysis.Lift, row.Analysis.Significant)
		}

		fmt.Println()
		switch report.Recommendation {
		case "declare_winner":
			fmt.Println("Recommendation: declare a winner")
		default:
			fmt.Println("Recommendation: continue the test")
		}
		return nil
	})
}

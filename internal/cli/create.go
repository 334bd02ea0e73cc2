package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/mailsplit/mailsplit/internal/engine"
	"github.com/mailsplit/mailsplit/internal/store"
)

func init() {
	rootCmd.AddCommand(newCreateCmd())
}

func newCreateCmd() *cobra.Command {
	var (
		expType        string
		description    string
		metric         string
		confidence     int
		testPercentage float64
		autoWinner     bool
		tags           string
		companies      string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new experiment",
		Long: `Create a new experiment in draft state. Variants are collected
interactively: name, subject line, traffic allocation and whether the
variant is the control.

Examples:
  mailsplit create spring-sale --metric open_rate --test-percentage 20
  mailsplit create onboarding --type content --confidence 99 --auto-winner`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			variants, err := promptVariants()
			if err != nil {
				return err
			}
			if err := engine.ValidateVariants(variants); err != nil {
				return err
			}

			exp := &store.Experiment{
				ID:          uuid.NewString(),
				OwnerID:     ownerID,
				Name:        name,
				Description: description,
				Type:        store.ExperimentType(expType),
				Status:      store.StatusDraft,
				Config: store.TestConfiguration{
					Audience: store.AudienceSettings{
						TestPercentage: testPercentage,
						Filters: store.SegmentFilters{
							Tags:      splitList(tags),
							Companies: splitList(companies),
						},
					},
					Metrics: store.SuccessMetrics{
						Primary: store.Metric(metric),
					},
					Statistics: store.StatisticalSettings{
						ConfidenceLevel: confidence,
						AutomaticWinner: autoWinner,
					},
				},
			}

			return withStore(func(s *store.SQLiteStore) error {
				if err := s.CreateExperiment(context.Background(), exp, variants); err != nil {
					return fmt.Errorf("failed to create experiment: %w", err)
				}

				fmt.Printf("Created experiment '%s' (%s) with %d variants:\n", exp.Name, exp.ID, len(variants))
				for _, v := range variants {
					marker := ""
					if v.IsControl {
						marker = " (control)"
					}
					fmt.Printf("  %-20s %5.1f%%%s\n", v.Name, v.TrafficAllocation, marker)
				}
				fmt.Println("\nStart it with: mailsplit start", exp.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&expType, "type", string(store.TypeSubjectLine), "experiment type (subject_line, content, send_time, from_name, multivariate)")
	cmd.Flags().StringVar(&description, "description", "", "experiment description")
	cmd.Flags().StringVar(&metric, "metric", string(store.MetricOpenRate), "primary success metric")
	cmd.Flags().IntVar(&confidence, "confidence", 95, "confidence level (90, 95 or 99)")
	cmd.Flags().Float64Var(&testPercentage, "test-percentage", 20, "percentage of the eligible audience to sample")
	cmd.Flags().BoolVar(&autoWinner, "auto-winner", false, "declare the winner automatically on significance")
	cmd.Flags().StringVar(&tags, "tags", "", "comma-separated tag filter (any-of)")
	cmd.Flags().StringVar(&companies, "companies", "", "comma-separated company filter")

	return cmd
}

func promptVariants() ([]*store.Variant, error) {
	var variants []*store.Variant

	for {
		namePrompt := promptui.Prompt{Label: fmt.Sprintf("Variant %d name", len(variants)+1)}
		name, err := namePrompt.Run()
		if err != nil {
			return nil, err
		}

		subjectPrompt := promptui.Prompt{Label: "Subject line"}
		subject, err := subjectPrompt.Run()
		if err != nil {
			return nil, err
		}

		allocPrompt := promptui.Prompt{
			Label: "Traffic allocation (%)",
			Validate: func(input string) error {
				v, err := strconv.ParseFloat(input, 64)
				if err != nil || v < 0 || v > 100 {
					return fmt.Errorf("enter a number between 0 and 100")
				}
				return nil
			},
		}
		allocStr, err := allocPrompt.Run()
		if err != nil {
			return nil, err
		}
		alloc, _ := strconv.ParseFloat(allocStr, 64)

		controlPrompt := promptui.Select{
			Label: "Is this the control variant",
			Items: []string{"no", "yes"},
		}
		_, isControl, err := controlPrompt.Run()
		if err != nil {
			return nil, err
		}

		variants = append(variants, &store.Variant{
			ID:                uuid.NewString(),
			Name:              name,
			IsControl:         isControl == "yes",
			TrafficAllocation: alloc,
			Campaign:          store.CampaignConfig{Subject: subject},
		})

		morePrompt := promptui.Select{
			Label: "Add another variant",
			Items: []string{"yes", "no"},
		}
		_, more, err := morePrompt.Run()
		if err != nil {
			return nil, err
		}
		if more == "no" {
			return variants, nil
		}
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

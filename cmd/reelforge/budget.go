package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/reelforge/reelforge/pkg/budget"
	"github.com/reelforge/reelforge/pkg/models"
)

func newBudgetCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Inspect spend against the budget limit",
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show spend, remaining budget and alert level",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openLedger(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			status, err := a.evaluator.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printBudgetStatus(status)
		},
	}

	var cost float64
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether an operation of the given cost would be admitted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cost < 0 {
				return errors.New("--cost must be >= 0")
			}
			a, err := openLedger(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			adm, err := a.gate.Check(cmd.Context(), cost)
			if err != nil && !errors.Is(err, budget.ErrBudgetExceeded) && !errors.Is(err, budget.ErrInsufficientBudget) {
				return err
			}
			if adm.Allowed {
				fmt.Printf("allowed: $%.2f fits in remaining $%.2f (%s)\n",
					cost, adm.Status.RemainingBudget, adm.Status.AlertLevel)
				return nil
			}
			fmt.Printf("rejected (%s): $%.2f requested, $%.2f remaining (%s)\n",
				adm.Reason, cost, adm.Status.RemainingBudget, adm.Status.AlertLevel)
			return err
		},
	}
	checkCmd.Flags().Float64Var(&cost, "cost", 0, "estimated cost in USD")
	_ = checkCmd.MarkFlagRequired("cost")

	cmd.AddCommand(statusCmd, checkCmd)
	return cmd
}

func printBudgetStatus(s models.BudgetStatus) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "LIMIT\t$%.2f\n", s.BudgetLimit)
	fmt.Fprintf(w, "SPENT\t$%.2f\t(%.1f%%)\n", s.TotalSpent, s.UtilizationPercentage)
	fmt.Fprintf(w, "REMAINING\t$%.2f\n", s.RemainingBudget)
	fmt.Fprintf(w, "LAST 24H\t$%.2f\n", s.DailySpent)
	fmt.Fprintf(w, "LAST HOUR\t$%.2f\n", s.HourlySpent)
	fmt.Fprintf(w, "ALERT\t%s\n", s.AlertLevel)
	fmt.Fprintf(w, "CAN PROCEED\t%t\n", s.CanProceed)

	services := make([]string, 0, len(s.ServiceBreakdown))
	for svc := range s.ServiceBreakdown {
		services = append(services, string(svc))
	}
	sort.Strings(services)
	for _, svc := range services {
		fmt.Fprintf(w, "  %s\t$%.2f\n", svc, s.ServiceBreakdown[models.Service(svc)])
	}
	return w.Flush()
}

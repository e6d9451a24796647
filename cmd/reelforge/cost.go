package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/reelforge/reelforge/pkg/models"
)

func newCostCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Record and list metered spend",
	}

	var (
		service     string
		amount      float64
		description string
		sessionID   string
		jobID       string
	)
	recordCmd := &cobra.Command{
		Use:   "record",
		Short: "Append a cost entry to the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := models.ParseService(service)
			if err != nil {
				return err
			}
			a, err := openLedger(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			id, err := a.ledger.Record(cmd.Context(), models.CostEntry{
				Service:     svc,
				Amount:      amount,
				Description: description,
				SessionID:   sessionID,
				JobID:       jobID,
			})
			if err != nil {
				return err
			}
			fmt.Printf("recorded entry %d: %s $%.2f\n", id, svc, amount)
			return nil
		},
	}
	recordCmd.Flags().StringVar(&service, "service", string(models.ServiceOther), "service category (video-provider, chat-model, other)")
	recordCmd.Flags().Float64Var(&amount, "amount", 0, "amount in USD")
	recordCmd.Flags().StringVar(&description, "description", "", "free-form description")
	recordCmd.Flags().StringVar(&sessionID, "session", "", "session ID")
	recordCmd.Flags().StringVar(&jobID, "job", "", "job ID")
	_ = recordCmd.MarkFlagRequired("amount")

	var (
		window time.Duration
		limit  int
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent cost entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			if window <= 0 {
				return fmt.Errorf("--window must be positive")
			}
			a, err := openLedger(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			entries, err := a.ledger.Query(cmd.Context(), window, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Printf("No cost entries in the last %s.\n", window)
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTIME\tSERVICE\tAMOUNT\tJOB\tDESCRIPTION")
			var total float64
			for _, e := range entries {
				total += e.Amount
				fmt.Fprintf(w, "%d\t%s\t%s\t%.2f\t%s\t%s\n",
					e.ID, e.CreatedAt.Local().Format(time.DateTime), e.Service, e.Amount, e.JobID, e.Description)
			}
			fmt.Fprintf(w, "\t\tTOTAL\t%.2f\t\t\n", total)
			return w.Flush()
		},
	}
	listCmd.Flags().DurationVar(&window, "window", 24*time.Hour, "lookback window")
	listCmd.Flags().IntVar(&limit, "limit", 100, "maximum number of entries")

	cmd.AddCommand(recordCmd, listCmd)
	return cmd
}

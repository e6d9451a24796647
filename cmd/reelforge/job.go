package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/reelforge/reelforge/pkg/audit"
	"github.com/reelforge/reelforge/pkg/jobs"
	"github.com/reelforge/reelforge/pkg/models"
	"github.com/reelforge/reelforge/pkg/reconcile"
)

func newJobCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect and cancel video jobs",
	}

	statusCmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Reconcile a job with its provider and show it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := a.checkFresh(cmd, args[0]); err != nil {
				return err
			}
			job, err := a.reconciler.Reconcile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printJob(job)
			return nil
		},
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a pending or processing job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := a.checkFresh(cmd, args[0]); err != nil {
				return err
			}
			job, err := a.reconciler.Cancel(cmd.Context(), args[0])
			if errors.Is(err, reconcile.ErrNotCancelled) {
				fmt.Println("provider did not confirm the cancellation; the job keeps running")
				printJob(job)
				return nil
			}
			if err != nil {
				return err
			}
			printJob(job)
			return nil
		},
	}

	var (
		status    string
		sessionID string
		limit     int
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			st := models.JobStatus(status)
			if st != "" && !st.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			a, err := openApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			list, err := a.jobs.List(cmd.Context(), jobs.ListOpts{Status: st, SessionID: sessionID, Limit: limit})
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No jobs found.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tPROGRESS\tEST. COST\tCREATED\tPROMPT")
			for _, j := range list {
				fmt.Fprintf(w, "%s\t%s\t%d%%\t%.2f\t%s\t%s\n",
					j.ID, j.Status, j.Progress, j.EstimatedCost, j.CreatedAt.Local().Format(time.DateTime), shorten(j.Prompt, 48))
			}
			return w.Flush()
		},
	}
	listCmd.Flags().StringVar(&status, "status", "", "filter by status (pending, processing, completed, failed)")
	listCmd.Flags().StringVar(&sessionID, "session", "", "filter by session ID")
	listCmd.Flags().IntVar(&limit, "limit", 50, "maximum number of jobs")

	eventsCmd := &cobra.Command{
		Use:   "events <id>",
		Short: "Show the status transitions recorded for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			if a.journal == nil {
				fmt.Println("The transition journal is disabled.")
				return nil
			}

			events, err := a.journal.Query(cmd.Context(), audit.QueryOpts{JobID: args[0]})
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Println("No transitions recorded.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tFROM\tTO\tPROGRESS\tREASON")
			for _, e := range events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%s\n",
					e.CreatedAt.Local().Format(time.DateTime), e.FromStatus, e.ToStatus, e.Progress, e.Reason)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(statusCmd, cancelCmd, listCmd, eventsCmd)
	return cmd
}

func (a *app) checkFresh(cmd *cobra.Command, id string) error {
	job, err := a.jobs.Get(cmd.Context(), id)
	if err != nil {
		return err
	}
	return jobs.CheckFresh(job, time.Now(), a.cfg.Jobs.Expiry)
}

func printJob(j *models.VideoJob) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\t%s\n", j.ID)
	fmt.Fprintf(w, "STATUS\t%s\t%d%%\n", j.Status, j.Progress)
	fmt.Fprintf(w, "PROMPT\t%s\n", j.Prompt)
	fmt.Fprintf(w, "OPERATION\t%s\n", j.ProviderOperationID)
	fmt.Fprintf(w, "EST. COST\t$%.2f\n", j.EstimatedCost)
	if j.VideoURL != "" {
		fmt.Fprintf(w, "VIDEO\t%s\n", j.VideoURL)
	}
	if j.ThumbnailURL != "" {
		fmt.Fprintf(w, "THUMBNAIL\t%s\n", j.ThumbnailURL)
	}
	if j.Error != "" {
		fmt.Fprintf(w, "ERROR\t%s\n", j.Error)
	}
	_ = w.Flush()
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

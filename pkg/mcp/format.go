package mcp

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/reelforge/reelforge/pkg/models"
)

const timeLayout = "2006-01-02 15:04:05"

func formatBudgetStatus(s models.BudgetStatus) string {
	var b strings.Builder
	b.WriteString("Budget Status\n")
	fmt.Fprintf(&b, "  Limit:       $%.2f\n", s.BudgetLimit)
	fmt.Fprintf(&b, "  Spent:       $%.2f (%.1f%%)\n", s.TotalSpent, s.UtilizationPercentage)
	fmt.Fprintf(&b, "  Remaining:   $%.2f\n", s.RemainingBudget)
	fmt.Fprintf(&b, "  Last 24h:    $%.2f\n", s.DailySpent)
	fmt.Fprintf(&b, "  Last hour:   $%.2f\n", s.HourlySpent)
	fmt.Fprintf(&b, "  Alert level: %s\n", s.AlertLevel)
	if s.CanProceed {
		b.WriteString("  New generations: allowed\n")
	} else {
		b.WriteString("  New generations: blocked\n")
	}

	if len(s.ServiceBreakdown) > 0 {
		services := make([]string, 0, len(s.ServiceBreakdown))
		for svc := range s.ServiceBreakdown {
			services = append(services, string(svc))
		}
		sort.Strings(services)
		b.WriteString("\nBy service\n")
		for _, svc := range services {
			fmt.Fprintf(&b, "  %-16s $%.2f\n", svc, s.ServiceBreakdown[models.Service(svc)])
		}
	}
	return b.String()
}

func formatCostEntries(entries []models.CostEntry, window time.Duration) string {
	if len(entries) == 0 {
		return fmt.Sprintf("No cost entries in the last %s.", window)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-16s %10s  %-38s %s\n", "Time", "Service", "Amount", "Job", "Description")
	b.WriteString(strings.Repeat("-", 110) + "\n")
	var total float64
	for _, e := range entries {
		total += e.Amount
		fmt.Fprintf(&b, "%-20s %-16s %10.2f  %-38s %s\n",
			e.CreatedAt.Format(timeLayout), e.Service, e.Amount, e.JobID, e.Description)
	}
	fmt.Fprintf(&b, "\n%d entries, $%.2f total\n", len(entries), total)
	return b.String()
}

func formatJobs(list []models.VideoJob) string {
	if len(list) == 0 {
		return "No jobs found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-38s %-11s %8s %9s  %-20s %s\n", "Job ID", "Status", "Progress", "Est. Cost", "Created", "Prompt")
	b.WriteString(strings.Repeat("-", 120) + "\n")
	for _, j := range list {
		fmt.Fprintf(&b, "%-38s %-11s %7d%% %9.2f  %-20s %s\n",
			j.ID, j.Status, j.Progress, j.EstimatedCost, j.CreatedAt.Format(timeLayout), truncate(j.Prompt, 40))
	}
	return b.String()
}

func formatJob(j *models.VideoJob) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job %s\n", j.ID)
	fmt.Fprintf(&b, "  Status:    %s (%d%%)\n", j.Status, j.Progress)
	fmt.Fprintf(&b, "  Prompt:    %s\n", j.Prompt)
	if j.SessionID != "" {
		fmt.Fprintf(&b, "  Session:   %s\n", j.SessionID)
	}
	fmt.Fprintf(&b, "  Operation: %s\n", j.ProviderOperationID)
	fmt.Fprintf(&b, "  Est. cost: $%.2f\n", j.EstimatedCost)
	fmt.Fprintf(&b, "  Created:   %s\n", j.CreatedAt.Format(timeLayout))
	if j.CompletedAt != nil {
		fmt.Fprintf(&b, "  Finished:  %s\n", j.CompletedAt.Format(timeLayout))
	}
	if j.VideoURL != "" {
		fmt.Fprintf(&b, "  Video:     %s\n", j.VideoURL)
	}
	if j.ThumbnailURL != "" {
		fmt.Fprintf(&b, "  Thumbnail: %s\n", j.ThumbnailURL)
	}
	if j.Error != "" {
		fmt.Fprintf(&b, "  Error:     %s\n", j.Error)
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

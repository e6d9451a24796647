package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/reelforge/reelforge/pkg/jobs"
	"github.com/reelforge/reelforge/pkg/models"
)

type costsArgs struct {
	Window string `json:"window"`
	Limit  int    `json:"limit"`
}

type jobStatusArgs struct {
	JobID   string `json:"job_id"`
	Refresh *bool  `json:"refresh"`
}

type jobsArgs struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	Limit     int    `json:"limit"`
}

type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

var toolHandlers = map[string]toolHandler{
	"reelforge_budget":     handleBudget,
	"reelforge_costs":      handleCosts,
	"reelforge_job_status": handleJobStatus,
	"reelforge_jobs":       handleJobs,
}

var allTools = []ToolDefinition{
	{
		Name:        "reelforge_budget",
		Description: "Show total, daily and hourly spend against the budget limit, the alert level and whether new generations are admitted.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "reelforge_costs",
		Description: "List recent cost ledger entries, newest first.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"window": map[string]any{
					"type":        "string",
					"description": "Lookback window as a Go duration, e.g. 1h or 24h (optional, defaults to 24h)",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of entries (optional, defaults to 50)",
				},
			},
		},
	},
	{
		Name:        "reelforge_job_status",
		Description: "Show a video job, refreshing non-terminal jobs from the provider.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"job_id"},
			"properties": map[string]any{
				"job_id": map[string]any{
					"type":        "string",
					"description": "The job ID returned at submission",
				},
				"refresh": map[string]any{
					"type":        "boolean",
					"description": "Poll the provider for non-terminal jobs (optional, defaults to true)",
				},
			},
		},
	},
	{
		Name:        "reelforge_jobs",
		Description: "List video jobs, newest first, optionally filtered by status or session.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"status": map[string]any{
					"type":        "string",
					"enum":        []string{"pending", "processing", "completed", "failed"},
					"description": "Filter by status (optional)",
				},
				"session_id": map[string]any{
					"type":        "string",
					"description": "Filter by session ID (optional)",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of jobs (optional, defaults to 20)",
				},
			},
		},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func handleBudget(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	if s.budget == nil {
		return textResult("Budget tracking is not configured.")
	}
	status, err := s.budget.Status(ctx)
	if err != nil {
		s.logger.Error("budget status failed", zap.Error(err))
		return errorResult("Error fetching budget status: " + err.Error())
	}
	return textResult(formatBudgetStatus(status))
}

func handleCosts(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.costs == nil {
		return textResult("Cost ledger is not configured.")
	}
	var args costsArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}

	window := 24 * time.Hour
	if args.Window != "" {
		d, err := time.ParseDuration(args.Window)
		if err != nil || d <= 0 {
			return errorResult("Invalid window (use a duration such as 1h or 24h)")
		}
		window = d
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 50
	}

	entries, err := s.costs.Query(ctx, window, limit)
	if err != nil {
		return errorResult("Error fetching costs: " + err.Error())
	}
	return textResult(formatCostEntries(entries, window))
}

func handleJobStatus(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.jobs == nil {
		return textResult("Job store is not configured.")
	}
	var args jobStatusArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	if args.JobID == "" {
		return errorResult("job_id is required")
	}

	job, err := s.jobs.Get(ctx, args.JobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			return errorResult("Job not found: " + args.JobID)
		}
		return errorResult("Error fetching job: " + err.Error())
	}
	if err := jobs.CheckFresh(job, s.clock.Now(), s.expiry); err != nil {
		return errorResult("Job has expired: " + args.JobID)
	}

	refresh := args.Refresh == nil || *args.Refresh
	if refresh && s.reconciler != nil && !job.Status.Terminal() {
		fresh, err := s.reconciler.Reconcile(ctx, args.JobID)
		if err != nil {
			s.logger.Warn("reconcile failed", zap.String("job_id", args.JobID), zap.Error(err))
		} else {
			job = fresh
		}
	}
	return textResult(formatJob(job))
}

func handleJobs(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.jobs == nil {
		return textResult("Job store is not configured.")
	}
	var args jobsArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	status := models.JobStatus(args.Status)
	if status != "" && !status.Valid() {
		return errorResult("Unknown status: " + args.Status)
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 20
	}

	list, err := s.jobs.List(ctx, jobs.ListOpts{Status: status, SessionID: args.SessionID, Limit: limit})
	if err != nil {
		return errorResult("Error listing jobs: " + err.Error())
	}
	return textResult(formatJobs(list))
}

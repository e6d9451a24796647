// Package generate runs the submission pipeline for new video jobs.
package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reelforge/reelforge/pkg/logging"
	"github.com/reelforge/reelforge/pkg/metrics"
	"github.com/reelforge/reelforge/pkg/models"
	"github.com/reelforge/reelforge/pkg/provider"
)

// ErrInvalidInput is returned for requests without a prompt.
var ErrInvalidInput = errors.New("invalid generation request")

// RejectedError carries the admission decision of a request refused by the
// budget gate. It unwraps to budget.ErrBudgetExceeded or
// budget.ErrInsufficientBudget.
type RejectedError struct {
	Admission models.Admission
	Err       error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("generation rejected: %v", e.Err)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// Gate admits billable work.
type Gate interface {
	Check(ctx context.Context, estimatedCost float64) (models.Admission, error)
}

// Generator starts generations and prices them.
type Generator interface {
	Submit(ctx context.Context, req provider.SubmitRequest) (*provider.Operation, error)
	EstimateCost(params models.GenerationParams) float64
}

// CostRecorder appends ledger entries.
type CostRecorder interface {
	Record(ctx context.Context, e models.CostEntry) (int64, error)
}

// JobCreator stores new jobs and their sessions.
type JobCreator interface {
	Create(ctx context.Context, job *models.VideoJob) error
	UpsertSession(ctx context.Context, s models.Session) error
}

// SubmitInput is a request for a new video.
type SubmitInput struct {
	Prompt    string                  `json:"prompt"`
	SessionID string                  `json:"session_id,omitempty"`
	Params    models.GenerationParams `json:"params"`
}

// Submitter admits, starts, bills and records generations.
type Submitter struct {
	gate      Gate
	generator Generator
	ledger    CostRecorder
	jobs      JobCreator
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewSubmitter creates a Submitter.
func NewSubmitter(g Gate, gen Generator, l CostRecorder, j JobCreator, logger *zap.Logger, m *metrics.Metrics) *Submitter {
	return &Submitter{
		gate:      g,
		generator: gen,
		ledger:    l,
		jobs:      j,
		logger:    logging.OrNop(logger),
		metrics:   m,
	}
}

// Submit runs estimate, admission, provider submit, cost record, job
// create and session upsert in that order. Only the job write is fatal
// after the provider accepted the request.
func (s *Submitter) Submit(ctx context.Context, in SubmitInput) (*models.VideoJob, error) {
	in.Prompt = strings.TrimSpace(in.Prompt)
	if in.Prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	}
	if in.SessionID == "" {
		in.SessionID = uuid.NewString()
	}

	cost := s.generator.EstimateCost(in.Params)
	adm, err := s.gate.Check(ctx, cost)
	if err != nil {
		if adm.Reason != "" {
			return nil, &RejectedError{Admission: adm, Err: err}
		}
		return nil, err
	}

	op, err := s.generator.Submit(ctx, provider.SubmitRequest{Prompt: in.Prompt, Params: in.Params})
	if err != nil {
		return nil, fmt.Errorf("submit generation: %w", err)
	}

	jobID := uuid.NewString()
	log := s.logger.With(zap.String("job_id", jobID), zap.String("operation_id", op.ID))

	_, err = s.ledger.Record(ctx, models.CostEntry{
		Service:     models.ServiceVideoProvider,
		Amount:      cost,
		Description: describe(in.Params),
		SessionID:   in.SessionID,
		JobID:       jobID,
	})
	if err != nil {
		log.Error("cost record failed after provider accepted generation",
			zap.Float64("amount", cost), zap.Error(err))
	} else {
		s.metrics.ObserveCost(models.ServiceVideoProvider, cost)
	}

	job := &models.VideoJob{
		ID:                  jobID,
		SessionID:           in.SessionID,
		Prompt:              in.Prompt,
		Status:              models.JobPending,
		EstimatedCost:       cost,
		ProviderOperationID: op.ID,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		log.Error("job create failed, provider operation is orphaned", zap.Error(err))
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := s.jobs.UpsertSession(ctx, models.Session{
		ID:     in.SessionID,
		Prompt: in.Prompt,
		JobID:  jobID,
		Status: models.JobPending,
	}); err != nil {
		log.Warn("session upsert failed", zap.String("session_id", in.SessionID), zap.Error(err))
	}

	log.Info("generation submitted", zap.Float64("estimated_cost", cost))
	return job, nil
}

func describe(p models.GenerationParams) string {
	parts := []string{"video generation"}
	if p.Model != "" {
		parts = append(parts, p.Model)
	}
	if p.DurationSeconds > 0 {
		parts = append(parts, fmt.Sprintf("%ds", p.DurationSeconds))
	}
	if p.Resolution != "" {
		parts = append(parts, p.Resolution)
	}
	return strings.Join(parts, " ")
}

// Package reconcile brings stored video jobs in line with the provider's
// view of their operations.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/reelforge/reelforge/pkg/clock"
	"github.com/reelforge/reelforge/pkg/jobs"
	"github.com/reelforge/reelforge/pkg/logging"
	"github.com/reelforge/reelforge/pkg/metrics"
	"github.com/reelforge/reelforge/pkg/models"
	"github.com/reelforge/reelforge/pkg/provider"
	"github.com/reelforge/reelforge/pkg/storage"
)

var (
	// ErrCannotCancel is returned for jobs already in a terminal state.
	ErrCannotCancel = errors.New("job cannot be cancelled")
	// ErrNotCancelled is returned when the provider did not confirm a
	// cancellation. The job should be polled again.
	ErrNotCancelled = errors.New("provider did not confirm cancellation")
)

const cancelAttempts = 3

// JobStore is the part of jobs.Store the reconciler needs.
type JobStore interface {
	Get(ctx context.Context, id string) (*models.VideoJob, error)
	Update(ctx context.Context, job *models.VideoJob) error
	SetSessionStatus(ctx context.Context, id string, status models.JobStatus) error
}

// Operations polls and cancels provider operations.
type Operations interface {
	Poll(ctx context.Context, operationID string) (*provider.OperationStatus, error)
	Cancel(ctx context.Context, operationID string) (bool, error)
}

// AssetMigrator copies completed assets into durable storage.
type AssetMigrator interface {
	Migrate(ctx context.Context, req storage.MigrationRequest) storage.MigrationResult
}

// Journal records status transitions.
type Journal interface {
	Log(ctx context.Context, t models.JobTransition) error
}

// Reconciler polls the provider for non-terminal jobs, migrates assets on
// completion and handles user cancellation.
type Reconciler struct {
	jobs     JobStore
	ops      Operations
	migrator AssetMigrator
	journal  Journal
	clock    clock.Clock
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithJournal records transitions to j.
func WithJournal(j Journal) Option {
	return func(r *Reconciler) { r.journal = j }
}

// WithClock sets the clock used for completion timestamps.
func WithClock(c clock.Clock) Option {
	return func(r *Reconciler) { r.clock = clock.OrReal(c) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reconciler) { r.logger = logging.OrNop(l) }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// New creates a Reconciler.
func New(store JobStore, ops Operations, migrator AssetMigrator, opts ...Option) *Reconciler {
	r := &Reconciler{
		jobs:     store,
		ops:      ops,
		migrator: migrator,
		clock:    clock.Real{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile returns the job with id after bringing it up to date with the
// provider. Terminal jobs are returned without a provider call. Provider
// failures are logged and the stored record is returned unchanged.
func (r *Reconciler) Reconcile(ctx context.Context, id string) (*models.VideoJob, error) {
	job, err := r.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	log := r.logger.With(zap.String("job_id", job.ID), zap.String("operation_id", job.ProviderOperationID))

	if job.Status.Terminal() {
		r.metrics.ObserveReconcile("cached")
		return job, nil
	}

	st, err := r.ops.Poll(ctx, job.ProviderOperationID)
	if err != nil {
		r.metrics.ObserveReconcile("provider_error")
		log.Warn("provider poll failed, returning stored job", zap.Error(err))
		return job, nil
	}

	if st.Status == models.JobCompleted && st.VideoURL == "" {
		log.Warn("provider reported completion without a video url, keeping job in progress")
		st.Status = models.JobProcessing
		st.Progress = min(st.Progress, 99)
	}

	prior := job.Status
	next := *job
	reason := apply(&next, st, log)

	if next.Status == models.JobCompleted && prior != models.JobCompleted {
		now := r.clock.Now()
		next.CompletedAt = &now
		next.Progress = 100
		res := r.migrator.Migrate(ctx, storage.MigrationRequest{
			JobID:        job.ID,
			VideoURL:     st.VideoURL,
			ThumbnailURL: st.ThumbnailURL,
			Metadata: map[string]string{
				"job-id":       job.ID,
				"session-id":   job.SessionID,
				"operation-id": job.ProviderOperationID,
			},
		})
		next.VideoURL = res.VideoURL
		next.ThumbnailURL = res.ThumbnailURL
		if !res.Success {
			log.Error("asset migration failed, storing provider urls", zap.Error(res.Err))
			reason = "asset migration failed, provider urls kept"
		}
	}
	if next.Status == models.JobFailed && prior != models.JobFailed {
		now := r.clock.Now()
		next.CompletedAt = &now
	}

	if !changed(job, &next) {
		r.metrics.ObserveReconcile("unchanged")
		return job, nil
	}

	if err := r.jobs.Update(ctx, &next); err != nil {
		if errors.Is(err, jobs.ErrConflict) {
			r.metrics.ObserveReconcile("conflict")
			log.Info("job changed during reconcile, returning stored record")
			return r.jobs.Get(ctx, id)
		}
		return nil, fmt.Errorf("persist reconciled job %s: %w", id, err)
	}
	r.metrics.ObserveReconcile("polled")

	if next.Status != prior {
		r.afterTransition(ctx, &next, prior, reason, log)
	}
	return &next, nil
}

// Cancel stops a pending or processing job. The provider must confirm the
// cancellation before the job is marked failed.
func (r *Reconciler) Cancel(ctx context.Context, id string) (*models.VideoJob, error) {
	job, err := r.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	log := r.logger.With(zap.String("job_id", job.ID), zap.String("operation_id", job.ProviderOperationID))

	if !cancellable(job.Status) {
		r.metrics.ObserveCancel("rejected")
		return job, fmt.Errorf("job %s is %s: %w", id, job.Status, ErrCannotCancel)
	}

	ok, err := r.ops.Cancel(ctx, job.ProviderOperationID)
	if err != nil {
		r.metrics.ObserveCancel("provider_error")
		return nil, fmt.Errorf("cancel job %s: %w", id, err)
	}
	if !ok {
		r.metrics.ObserveCancel("unconfirmed")
		return job, fmt.Errorf("cancel job %s: %w", id, ErrNotCancelled)
	}

	for attempt := 1; ; attempt++ {
		if job.Status == models.JobFailed && job.Error == models.CancelledByUser {
			return job, nil
		}
		prior := job.Status
		now := r.clock.Now()
		job.Status = models.JobFailed
		job.Error = models.CancelledByUser
		job.CompletedAt = &now

		err := r.jobs.Update(ctx, job)
		if err == nil {
			r.metrics.ObserveCancel("cancelled")
			log.Info("job cancelled", zap.String("from", string(prior)))
			r.afterTransition(ctx, job, prior, models.CancelledByUser, log)
			return job, nil
		}
		if !errors.Is(err, jobs.ErrConflict) || attempt == cancelAttempts {
			return nil, fmt.Errorf("persist cancelled job %s: %w", id, err)
		}
		if job, err = r.jobs.Get(ctx, id); err != nil {
			return nil, err
		}
	}
}

// afterTransition mirrors terminal status to the session and journals the
// change. Failures are logged only.
func (r *Reconciler) afterTransition(ctx context.Context, job *models.VideoJob, from models.JobStatus, reason string, log *zap.Logger) {
	if r.journal != nil {
		err := r.journal.Log(ctx, models.JobTransition{
			JobID:      job.ID,
			FromStatus: from,
			ToStatus:   job.Status,
			Progress:   job.Progress,
			Reason:     reason,
		})
		if err != nil {
			log.Warn("journal transition failed", zap.Error(err))
		}
	}
	if job.Status.Terminal() && job.SessionID != "" {
		if err := r.jobs.SetSessionStatus(ctx, job.SessionID, job.Status); err != nil {
			log.Warn("session status update failed", zap.String("session_id", job.SessionID), zap.Error(err))
		}
	}
}

// apply copies provider state onto job and returns the transition reason.
// A status that would move the job backwards is ignored.
func apply(job *models.VideoJob, st *provider.OperationStatus, log *zap.Logger) string {
	if !job.Status.CanAdvanceTo(st.Status) {
		log.Debug("ignoring backwards provider status",
			zap.String("stored", string(job.Status)), zap.String("provider", string(st.Status)))
		return ""
	}
	job.Status = st.Status
	job.Progress = st.Progress

	switch st.Status {
	case models.JobFailed:
		job.Error = st.Error
		if job.Error == "" {
			job.Error = "generation failed"
		}
		return job.Error
	case models.JobCompleted:
		job.Error = ""
		job.VideoURL = st.VideoURL
		job.ThumbnailURL = st.ThumbnailURL
	case models.JobPending, models.JobProcessing:
	}
	return ""
}

func cancellable(s models.JobStatus) bool {
	switch s {
	case models.JobPending, models.JobProcessing:
		return true
	case models.JobCompleted, models.JobFailed:
		return false
	}
	return false
}

func changed(a, b *models.VideoJob) bool {
	return a.Status != b.Status ||
		a.Progress != b.Progress ||
		a.Error != b.Error ||
		a.VideoURL != b.VideoURL ||
		a.ThumbnailURL != b.ThumbnailURL
}

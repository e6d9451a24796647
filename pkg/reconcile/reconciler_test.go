package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelforge/reelforge/pkg/clock"
	"github.com/reelforge/reelforge/pkg/jobs"
	"github.com/reelforge/reelforge/pkg/models"
	"github.com/reelforge/reelforge/pkg/provider"
	"github.com/reelforge/reelforge/pkg/storage"
)

// fakeStore is an in-memory JobStore with version checks.
type fakeStore struct {
	mu       sync.Mutex
	jobs     map[string]models.VideoJob
	sessions map[string]models.JobStatus
	// beforeUpdate runs once before the next Update is applied.
	beforeUpdate func(s *fakeStore)
	sessionErr   error
}

func newFakeStore(js ...models.VideoJob) *fakeStore {
	s := &fakeStore{jobs: map[string]models.VideoJob{}, sessions: map[string]models.JobStatus{}}
	for _, j := range js {
		if j.Version == 0 {
			j.Version = 1
		}
		s.jobs[j.ID] = j
	}
	return s
}

func (s *fakeStore) Get(_ context.Context, id string) (*models.VideoJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, jobs.ErrNotFound)
	}
	return &j, nil
}

func (s *fakeStore) Update(_ context.Context, job *models.VideoJob) error {
	if hook := s.beforeUpdate; hook != nil {
		s.beforeUpdate = nil
		hook(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.jobs[job.ID]
	if !ok {
		return jobs.ErrNotFound
	}
	if cur.Version != job.Version {
		return jobs.ErrConflict
	}
	job.Version++
	s.jobs[job.ID] = *job
	return nil
}

func (s *fakeStore) SetSessionStatus(_ context.Context, id string, status models.JobStatus) error {
	if s.sessionErr != nil {
		return s.sessionErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = status
	return nil
}

func (s *fakeStore) stored(id string) models.VideoJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

type fakeOps struct {
	status      *provider.OperationStatus
	pollErr     error
	cancelOK    bool
	cancelErr   error
	pollCalls   int
	cancelCalls int
}

func (f *fakeOps) Poll(context.Context, string) (*provider.OperationStatus, error) {
	f.pollCalls++
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	st := *f.status
	return &st, nil
}

func (f *fakeOps) Cancel(context.Context, string) (bool, error) {
	f.cancelCalls++
	return f.cancelOK, f.cancelErr
}

type fakeMigrator struct {
	fail  bool
	calls []storage.MigrationRequest
}

func (m *fakeMigrator) Migrate(_ context.Context, req storage.MigrationRequest) storage.MigrationResult {
	m.calls = append(m.calls, req)
	if m.fail {
		return storage.MigrationResult{
			VideoURL:     req.VideoURL,
			ThumbnailURL: req.ThumbnailURL,
			Err:          storage.ErrMigrationFailed,
		}
	}
	return storage.MigrationResult{
		Success:      true,
		VideoURL:     "https://store/videos/" + req.JobID + "/video.mp4",
		ThumbnailURL: "https://store/videos/" + req.JobID + "/thumbnail.jpg",
	}
}

type fakeJournal struct {
	rows []models.JobTransition
	err  error
}

func (j *fakeJournal) Log(_ context.Context, t models.JobTransition) error {
	if j.err != nil {
		return j.err
	}
	j.rows = append(j.rows, t)
	return nil
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func processingJob(id string) models.VideoJob {
	return models.VideoJob{
		ID:                  id,
		SessionID:           "sess-" + id,
		Prompt:              "a red fox",
		Status:              models.JobProcessing,
		Progress:            30,
		ProviderOperationID: "operations/" + id,
		CreatedAt:           testNow.Add(-5 * time.Minute),
	}
}

func completedStatus() *provider.OperationStatus {
	return &provider.OperationStatus{
		Status:       models.JobCompleted,
		Progress:     100,
		VideoURL:     "https://provider/v.mp4",
		ThumbnailURL: "https://provider/t.jpg",
	}
}

func newReconciler(store *fakeStore, ops *fakeOps, mig *fakeMigrator, j *fakeJournal) *Reconciler {
	return New(store, ops, mig, WithJournal(j), WithClock(clock.NewFake(testNow)))
}

func TestReconcileTerminalMakesNoProviderCall(t *testing.T) {
	for _, status := range []models.JobStatus{models.JobCompleted, models.JobFailed} {
		t.Run(string(status), func(t *testing.T) {
			job := processingJob("j1")
			job.Status = status
			store := newFakeStore(job)
			ops := &fakeOps{status: completedStatus()}
			mig := &fakeMigrator{}
			r := newReconciler(store, ops, mig, &fakeJournal{})

			got, err := r.Reconcile(context.Background(), "j1")
			require.NoError(t, err)
			assert.Equal(t, status, got.Status)
			assert.Zero(t, ops.pollCalls)
			assert.Empty(t, mig.calls)
		})
	}
}

func TestReconcileCompletionMigratesOnce(t *testing.T) {
	store := newFakeStore(processingJob("j1"))
	ops := &fakeOps{status: completedStatus()}
	mig := &fakeMigrator{}
	journal := &fakeJournal{}
	r := newReconciler(store, ops, mig, journal)

	got, err := r.Reconcile(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "https://store/videos/j1/video.mp4", got.VideoURL)
	assert.Equal(t, "https://store/videos/j1/thumbnail.jpg", got.ThumbnailURL)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, testNow, *got.CompletedAt)

	require.Len(t, mig.calls, 1)
	assert.Equal(t, "https://provider/v.mp4", mig.calls[0].VideoURL)
	assert.Equal(t, "operations/j1", mig.calls[0].Metadata["operation-id"])

	assert.Equal(t, models.JobCompleted, store.sessions["sess-j1"])
	require.Len(t, journal.rows, 1)
	assert.Equal(t, models.JobProcessing, journal.rows[0].FromStatus)
	assert.Equal(t, models.JobCompleted, journal.rows[0].ToStatus)

	for range 3 {
		again, err := r.Reconcile(context.Background(), "j1")
		require.NoError(t, err)
		assert.Equal(t, got.VideoURL, again.VideoURL)
	}
	assert.Len(t, mig.calls, 1, "migration runs at most once per job")
	assert.Equal(t, 1, ops.pollCalls)
}

func TestReconcileCompletionWithoutVideoURLKeepsPolling(t *testing.T) {
	store := newFakeStore(processingJob("j1"))
	ops := &fakeOps{status: &provider.OperationStatus{Status: models.JobCompleted, Progress: 100}}
	mig := &fakeMigrator{}
	journal := &fakeJournal{}
	r := newReconciler(store, ops, mig, journal)
	ctx := context.Background()

	got, err := r.Reconcile(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobProcessing, got.Status)
	assert.Equal(t, 99, got.Progress)
	assert.Empty(t, got.VideoURL)
	assert.Nil(t, got.CompletedAt)
	assert.Empty(t, mig.calls)
	assert.Equal(t, models.JobProcessing, store.stored("j1").Status)

	ops.status = completedStatus()
	got, err = r.Reconcile(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.Status)
	assert.Equal(t, "https://store/videos/j1/video.mp4", got.VideoURL)
	assert.Equal(t, 2, ops.pollCalls)
	require.Len(t, mig.calls, 1)
	require.Len(t, journal.rows, 1)
	assert.Equal(t, models.JobCompleted, journal.rows[0].ToStatus)
}

func TestReconcileProviderErrorReturnsStoredJob(t *testing.T) {
	job := processingJob("j1")
	store := newFakeStore(job)
	ops := &fakeOps{pollErr: fmt.Errorf("poll: %w", provider.ErrUnavailable)}
	r := newReconciler(store, ops, &fakeMigrator{}, &fakeJournal{})

	got, err := r.Reconcile(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobProcessing, got.Status)
	assert.Equal(t, 30, got.Progress)
	assert.Equal(t, int64(1), store.stored("j1").Version, "nothing is written")
}

func TestReconcileMigrationFailureKeepsProviderURL(t *testing.T) {
	store := newFakeStore(processingJob("j1"))
	ops := &fakeOps{status: completedStatus()}
	mig := &fakeMigrator{fail: true}
	journal := &fakeJournal{}
	r := newReconciler(store, ops, mig, journal)

	got, err := r.Reconcile(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.Status)
	assert.Equal(t, "https://provider/v.mp4", got.VideoURL)
	assert.Equal(t, "https://provider/t.jpg", got.ThumbnailURL)
	assert.Empty(t, got.Error)
	assert.Equal(t, "https://provider/v.mp4", store.stored("j1").VideoURL)
	require.Len(t, journal.rows, 1)
	assert.NotEmpty(t, journal.rows[0].Reason)
}

func TestReconcileProgressUpdate(t *testing.T) {
	store := newFakeStore(processingJob("j1"))
	ops := &fakeOps{status: &provider.OperationStatus{Status: models.JobProcessing, Progress: 55}}
	journal := &fakeJournal{}
	r := newReconciler(store, ops, &fakeMigrator{}, journal)

	got, err := r.Reconcile(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, 55, got.Progress)
	assert.Equal(t, int64(2), store.stored("j1").Version)
	assert.Empty(t, journal.rows, "progress alone is not a transition")
	assert.Empty(t, store.sessions)
}

func TestReconcileUnchangedSkipsWrite(t *testing.T) {
	store := newFakeStore(processingJob("j1"))
	ops := &fakeOps{status: &provider.OperationStatus{Status: models.JobProcessing, Progress: 30}}
	r := newReconciler(store, ops, &fakeMigrator{}, &fakeJournal{})

	_, err := r.Reconcile(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), store.stored("j1").Version)
}

func TestReconcileIgnoresBackwardsStatus(t *testing.T) {
	store := newFakeStore(processingJob("j1"))
	ops := &fakeOps{status: &provider.OperationStatus{Status: models.JobPending}}
	r := newReconciler(store, ops, &fakeMigrator{}, &fakeJournal{})

	got, err := r.Reconcile(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobProcessing, got.Status)
	assert.Equal(t, 30, got.Progress)
}

func TestReconcileFailure(t *testing.T) {
	store := newFakeStore(processingJob("j1"))
	ops := &fakeOps{status: &provider.OperationStatus{Status: models.JobFailed, Error: "safety filter"}}
	mig := &fakeMigrator{}
	r := newReconciler(store, ops, mig, &fakeJournal{})

	got, err := r.Reconcile(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Equal(t, "safety filter", got.Error)
	require.NotNil(t, got.CompletedAt)
	assert.Empty(t, mig.calls)
	assert.Equal(t, models.JobFailed, store.sessions["sess-j1"])
}

func TestReconcileSideEffectFailuresAreNotFatal(t *testing.T) {
	store := newFakeStore(processingJob("j1"))
	store.sessionErr = errors.New("session table locked")
	ops := &fakeOps{status: completedStatus()}
	r := newReconciler(store, ops, &fakeMigrator{}, &fakeJournal{err: errors.New("journal down")})

	got, err := r.Reconcile(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.Status)
	assert.Equal(t, models.JobCompleted, store.stored("j1").Status)
}

func TestReconcileConflictReturnsStoredRecord(t *testing.T) {
	store := newFakeStore(processingJob("j1"))
	store.beforeUpdate = func(s *fakeStore) {
		j := s.jobs["j1"]
		j.Status = models.JobFailed
		j.Error = models.CancelledByUser
		j.Version++
		s.jobs["j1"] = j
	}
	ops := &fakeOps{status: &provider.OperationStatus{Status: models.JobProcessing, Progress: 80}}
	r := newReconciler(store, ops, &fakeMigrator{}, &fakeJournal{})

	got, err := r.Reconcile(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Equal(t, models.CancelledByUser, got.Error)
}

func TestReconcileNotFound(t *testing.T) {
	r := newReconciler(newFakeStore(), &fakeOps{}, &fakeMigrator{}, &fakeJournal{})
	_, err := r.Reconcile(context.Background(), "missing")
	assert.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestCancelTerminalJob(t *testing.T) {
	job := processingJob("j1")
	job.Status = models.JobCompleted
	store := newFakeStore(job)
	ops := &fakeOps{cancelOK: true}
	r := newReconciler(store, ops, &fakeMigrator{}, &fakeJournal{})

	_, err := r.Cancel(context.Background(), "j1")
	require.ErrorIs(t, err, ErrCannotCancel)
	assert.Zero(t, ops.cancelCalls)
	assert.Equal(t, models.JobCompleted, store.stored("j1").Status)
}

func TestCancelConfirmed(t *testing.T) {
	store := newFakeStore(processingJob("j1"))
	ops := &fakeOps{cancelOK: true}
	journal := &fakeJournal{}
	r := newReconciler(store, ops, &fakeMigrator{}, journal)

	got, err := r.Cancel(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Equal(t, models.CancelledByUser, got.Error)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, models.JobFailed, store.sessions["sess-j1"])
	require.Len(t, journal.rows, 1)
	assert.Equal(t, models.CancelledByUser, journal.rows[0].Reason)

	_, err = r.Cancel(context.Background(), "j1")
	assert.ErrorIs(t, err, ErrCannotCancel)
	assert.Equal(t, 1, ops.cancelCalls)
}

func TestCancelNotConfirmed(t *testing.T) {
	store := newFakeStore(processingJob("j1"))
	ops := &fakeOps{cancelOK: false}
	r := newReconciler(store, ops, &fakeMigrator{}, &fakeJournal{})

	_, err := r.Cancel(context.Background(), "j1")
	require.ErrorIs(t, err, ErrNotCancelled)
	assert.Equal(t, models.JobProcessing, store.stored("j1").Status)
}

func TestCancelProviderError(t *testing.T) {
	store := newFakeStore(processingJob("j1"))
	ops := &fakeOps{cancelErr: provider.ErrUnavailable}
	r := newReconciler(store, ops, &fakeMigrator{}, &fakeJournal{})

	_, err := r.Cancel(context.Background(), "j1")
	require.ErrorIs(t, err, provider.ErrUnavailable)
	assert.NotErrorIs(t, err, ErrNotCancelled)
	assert.Equal(t, models.JobProcessing, store.stored("j1").Status)
}

func TestCancelRetriesOnConflict(t *testing.T) {
	store := newFakeStore(processingJob("j1"))
	store.beforeUpdate = func(s *fakeStore) {
		j := s.jobs["j1"]
		j.Progress = 90
		j.Version++
		s.jobs["j1"] = j
	}
	ops := &fakeOps{cancelOK: true}
	r := newReconciler(store, ops, &fakeMigrator{}, &fakeJournal{})

	got, err := r.Cancel(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)
	stored := store.stored("j1")
	assert.Equal(t, models.JobFailed, stored.Status)
	assert.Equal(t, models.CancelledByUser, stored.Error)
	assert.Equal(t, 90, stored.Progress)
}

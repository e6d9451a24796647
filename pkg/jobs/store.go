// Package jobs persists video jobs and their sessions.
package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/reelforge/reelforge/pkg/clock"
	"github.com/reelforge/reelforge/pkg/models"
	"github.com/reelforge/reelforge/pkg/sqlitedb"
)

var (
	// ErrNotFound is returned when a job or session does not exist.
	ErrNotFound = errors.New("not found")
	// ErrExpired is returned for jobs past the lookup expiry window.
	ErrExpired = errors.New("job expired")
	// ErrConflict is returned by Update when the stored version moved on.
	ErrConflict = errors.New("job was modified concurrently")
)

// DefaultExpiry is how long a job may be looked up after creation.
const DefaultExpiry = 24 * time.Hour

// Store reads and writes job and session records.
type Store interface {
	Create(ctx context.Context, job *models.VideoJob) error
	Get(ctx context.Context, id string) (*models.VideoJob, error)
	// Update writes job if its Version still matches the stored row. On
	// success Version and UpdatedAt are advanced in place.
	Update(ctx context.Context, job *models.VideoJob) error
	List(ctx context.Context, opts ListOpts) ([]models.VideoJob, error)

	UpsertSession(ctx context.Context, s models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	SetSessionStatus(ctx context.Context, id string, status models.JobStatus) error

	Close() error
}

// ListOpts filters List results.
type ListOpts struct {
	Status    models.JobStatus
	SessionID string
	Limit     int
}

// CheckFresh returns ErrExpired when job was created more than expiry before now.
func CheckFresh(job *models.VideoJob, now time.Time, expiry time.Duration) error {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if now.Sub(job.CreatedAt) > expiry {
		return fmt.Errorf("job %s created %s: %w", job.ID, job.CreatedAt.Format(time.RFC3339), ErrExpired)
	}
	return nil
}

// SQLiteStore implements Store with a SQLite database.
type SQLiteStore struct {
	db    *sql.DB
	clock clock.Clock
}

const createJobsTable = `
CREATE TABLE IF NOT EXISTS video_jobs (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL DEFAULT '',
	prompt TEXT NOT NULL,
	status TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	video_url TEXT NOT NULL DEFAULT '',
	thumbnail_url TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	estimated_cost_micros INTEGER NOT NULL DEFAULT 0,
	provider_operation_id TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	completed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON video_jobs(status, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_session ON video_jobs(session_id);
`

const createSessionsTable = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	prompt TEXT NOT NULL DEFAULT '',
	job_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// New opens the job store at dbPath and runs auto-migration.
func New(dbPath string, c clock.Clock) (*SQLiteStore, error) {
	db, err := sqlitedb.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open jobs db: %w", err)
	}

	if err := sqlitedb.Migrate(db, createJobsTable, createSessionsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate jobs db: %w", err)
	}

	// Databases written before optimistic locking have no version column.
	if !sqlitedb.ColumnExists(db, "video_jobs", "version") {
		if _, err := db.Exec(`ALTER TABLE video_jobs ADD COLUMN version INTEGER NOT NULL DEFAULT 0`); err != nil {
			db.Close()
			return nil, fmt.Errorf("add version column: %w", err)
		}
	}

	return &SQLiteStore{db: db, clock: clock.OrReal(c)}, nil
}

const jobColumns = `id, session_id, prompt, status, progress, video_url, thumbnail_url, error,
	estimated_cost_micros, provider_operation_id, created_at, updated_at, completed_at, version`

// Create inserts a new job. ID and ProviderOperationID are required.
func (s *SQLiteStore) Create(ctx context.Context, job *models.VideoJob) error {
	if job.ID == "" || job.ProviderOperationID == "" {
		return errors.New("create job: id and provider operation id are required")
	}
	if job.Status == "" {
		job.Status = models.JobPending
	}
	if !job.Status.Valid() {
		return fmt.Errorf("create job: invalid status %q", job.Status)
	}
	if !models.ValidAmount(job.EstimatedCost) {
		return fmt.Errorf("create job: estimated cost out of range: %v", job.EstimatedCost)
	}
	now := s.clock.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	job.Version = 1

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO video_jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.SessionID, job.Prompt, string(job.Status), job.Progress, job.VideoURL, job.ThumbnailURL, job.Error,
		toMicros(job.EstimatedCost), job.ProviderOperationID,
		sqlitedb.ToNanos(job.CreatedAt), sqlitedb.ToNanos(job.UpdatedAt), nullNanos(job.CompletedAt), job.Version,
	)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// Get returns the job with id, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.VideoJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM video_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Update persists the mutable fields of job when job.Version matches the
// stored row. ProviderOperationID, Prompt and CreatedAt are never rewritten.
func (s *SQLiteStore) Update(ctx context.Context, job *models.VideoJob) error {
	if !job.Status.Valid() {
		return fmt.Errorf("update job: invalid status %q", job.Status)
	}
	now := s.clock.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE video_jobs SET status = ?, progress = ?, video_url = ?, thumbnail_url = ?, error = ?,
			updated_at = ?, completed_at = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		string(job.Status), job.Progress, job.VideoURL, job.ThumbnailURL, job.Error,
		sqlitedb.ToNanos(now), nullNanos(job.CompletedAt), job.ID, job.Version,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, job.ID); err != nil {
			return err
		}
		return fmt.Errorf("job %s at version %d: %w", job.ID, job.Version, ErrConflict)
	}
	job.Version++
	job.UpdatedAt = now
	return nil
}

// List returns jobs newest first.
func (s *SQLiteStore) List(ctx context.Context, opts ListOpts) ([]models.VideoJob, error) {
	query := `SELECT ` + jobColumns + ` FROM video_jobs WHERE 1=1`
	var args []any
	if opts.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(opts.Status))
	}
	if opts.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, opts.SessionID)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []models.VideoJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

// UpsertSession creates the session or refreshes its prompt, job and status.
func (s *SQLiteStore) UpsertSession(ctx context.Context, sess models.Session) error {
	now := s.clock.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, prompt, job_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET prompt = excluded.prompt, job_id = excluded.job_id,
			status = excluded.status, updated_at = excluded.updated_at`,
		sess.ID, sess.Prompt, sess.JobID, string(sess.Status), sqlitedb.ToNanos(sess.CreatedAt), sqlitedb.ToNanos(now),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// GetSession returns the session with id, or ErrNotFound.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var sess models.Session
	var status string
	var created, updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, prompt, job_id, status, created_at, updated_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.Prompt, &sess.JobID, &status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.Status = models.JobStatus(status)
	sess.CreatedAt = sqlitedb.FromNanos(created)
	sess.UpdatedAt = sqlitedb.FromNanos(updated)
	return &sess, nil
}

// SetSessionStatus updates only the status of a session.
func (s *SQLiteStore) SetSessionStatus(ctx context.Context, id string, status models.JobStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), sqlitedb.ToNanos(s.clock.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("set session status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*models.VideoJob, error) {
	var job models.VideoJob
	var status string
	var costMicros, created, updated int64
	var completed sql.NullInt64
	err := row.Scan(&job.ID, &job.SessionID, &job.Prompt, &status, &job.Progress, &job.VideoURL,
		&job.ThumbnailURL, &job.Error, &costMicros, &job.ProviderOperationID,
		&created, &updated, &completed, &job.Version)
	if err != nil {
		return nil, err
	}
	job.Status = models.JobStatus(status)
	job.EstimatedCost = float64(costMicros) / 1e6
	job.CreatedAt = sqlitedb.FromNanos(created)
	job.UpdatedAt = sqlitedb.FromNanos(updated)
	if completed.Valid {
		t := sqlitedb.FromNanos(completed.Int64)
		job.CompletedAt = &t
	}
	return &job, nil
}

func toMicros(amount float64) int64 {
	return int64(math.Round(amount * 1e6))
}

func nullNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return sqlitedb.ToNanos(*t)
}

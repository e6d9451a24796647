// Package audit journals job status transitions.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/reelforge/reelforge/pkg/clock"
	"github.com/reelforge/reelforge/pkg/models"
	"github.com/reelforge/reelforge/pkg/sqlitedb"
)

// Logger writes and queries job transitions in SQLite. A nil *Logger
// discards writes.
type Logger struct {
	db            *sql.DB
	retentionDays int
	clock         clock.Clock
	done          chan struct{}
	wg            sync.WaitGroup
}

// QueryOpts filters Query results.
type QueryOpts struct {
	JobID  string
	Status models.JobStatus
	Since  time.Time
	Limit  int
}

const createTable = `
CREATE TABLE IF NOT EXISTS job_transitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	reason TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transitions_job ON job_transitions(job_id, created_at);
CREATE INDEX IF NOT EXISTS idx_transitions_created ON job_transitions(created_at);
`

// New opens the journal at dbPath and starts the retention loop. A
// retentionDays of zero keeps rows forever.
func New(dbPath string, retentionDays int, c clock.Clock) (*Logger, error) {
	db, err := sqlitedb.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	if err := sqlitedb.Migrate(db, createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	l := &Logger{
		db:            db,
		retentionDays: retentionDays,
		clock:         clock.OrReal(c),
		done:          make(chan struct{}),
	}

	l.wg.Add(1)
	go l.retentionLoop()

	return l, nil
}

// Log appends a transition. CreatedAt defaults to now.
func (l *Logger) Log(ctx context.Context, t models.JobTransition) error {
	if l == nil || l.db == nil {
		return nil
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = l.clock.Now()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO job_transitions (job_id, from_status, to_status, progress, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.JobID, string(t.FromStatus), string(t.ToStatus), t.Progress, t.Reason, sqlitedb.ToNanos(t.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("log transition: %w", err)
	}
	return nil
}

// Query returns transitions matching opts, oldest first.
func (l *Logger) Query(ctx context.Context, opts QueryOpts) ([]models.JobTransition, error) {
	if l == nil || l.db == nil {
		return nil, nil
	}
	q := `SELECT id, job_id, from_status, to_status, progress, reason, created_at
		FROM job_transitions WHERE 1=1`
	var args []any

	if opts.JobID != "" {
		q += " AND job_id = ?"
		args = append(args, opts.JobID)
	}
	if opts.Status != "" {
		q += " AND to_status = ?"
		args = append(args, string(opts.Status))
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, sqlitedb.ToNanos(opts.Since))
	}

	q += " ORDER BY created_at, id"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []models.JobTransition
	for rows.Next() {
		var t models.JobTransition
		var from, to string
		var created int64
		if err := rows.Scan(&t.ID, &t.JobID, &from, &to, &t.Progress, &t.Reason, &created); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.FromStatus = models.JobStatus(from)
		t.ToStatus = models.JobStatus(to)
		t.CreatedAt = sqlitedb.FromNanos(created)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Cleanup deletes rows older than the retention period.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	if l.retentionDays <= 0 {
		return 0, nil
	}
	cutoff := l.clock.Now().AddDate(0, 0, -l.retentionDays)
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM job_transitions WHERE created_at < ?`, sqlitedb.ToNanos(cutoff))
	if err != nil {
		return 0, fmt.Errorf("audit cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	close(l.done)
	l.wg.Wait()
	return l.db.Close()
}

func (l *Logger) retentionLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			_, _ = l.Cleanup(context.Background())
		}
	}
}

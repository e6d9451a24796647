package ledger

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

// ErrPersistence wraps failures of the underlying store.
var ErrPersistence = errors.New("ledger persistence error")

// DefaultQueryLimit bounds Query when no limit is given.
const DefaultQueryLimit = 1000

// Ledger is an append-only record of metered spend.
type Ledger interface {
	// Record appends an entry and returns its ID.
	Record(ctx context.Context, e models.CostEntry) (int64, error)
	// Query returns entries created within [now-window, now], newest first.
	Query(ctx context.Context, window time.Duration, limit int) ([]models.CostEntry, error)
	// Total returns the summed amount since a given time. The zero time means all-time.
	Total(ctx context.Context, since time.Time) (float64, error)
	// ByService returns all-time sums grouped by service.
	ByService(ctx context.Context) (map[models.Service]float64, error)
	// Summarize returns the all-time, daily and hourly totals and the
	// per-service breakdown from a single read.
	Summarize(ctx context.Context) (Summary, error)
	// Close releases resources.
	Close() error
}

// SQLiteLedger implements Ledger with a SQLite database.
// Amounts are stored as integer micro-units so sums are exact.
type SQLiteLedger struct {
	db    *sql.DB
	clock clock.Clock
}

const createTable = `
CREATE TABLE IF NOT EXISTS cost_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	service TEXT NOT NULL,
	amount_micros INTEGER NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	session_id TEXT NOT NULL DEFAULT '',
	job_id TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cost_created ON cost_entries(created_at);
CREATE INDEX IF NOT EXISTS idx_cost_service ON cost_entries(service);
`

// New opens the ledger at dbPath and runs auto-migration.
func New(dbPath string, c clock.Clock) (*SQLiteLedger, error) {
	db, err := sqlitedb.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}

	if err := sqlitedb.Migrate(db, createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger db: %w", err)
	}

	return &SQLiteLedger{db: db, clock: clock.OrReal(c)}, nil
}

func toMicros(amount float64) int64 {
	return int64(math.Round(amount * 1e6))
}

func fromMicros(m int64) float64 {
	return float64(m) / 1e6
}

// Record appends a cost entry. CreatedAt defaults to now.
func (l *SQLiteLedger) Record(ctx context.Context, e models.CostEntry) (int64, error) {
	if !e.Service.Valid() {
		return 0, fmt.Errorf("record cost: unknown service %q", e.Service)
	}
	if !models.ValidAmount(e.Amount) {
		return 0, fmt.Errorf("record cost: amount must be between 0 and %.0f, got %v", models.MaxAmount, e.Amount)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.clock.Now()
	}

	res, err := l.db.ExecContext(ctx,
		`INSERT INTO cost_entries (service, amount_micros, description, session_id, job_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(e.Service), toMicros(e.Amount), e.Description, e.SessionID, e.JobID, sqlitedb.ToNanos(e.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("record cost: %w: %w", ErrPersistence, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record cost id: %w: %w", ErrPersistence, err)
	}
	return id, nil
}

// Query returns entries with created_at in [now-window, now], newest first.
func (l *SQLiteLedger) Query(ctx context.Context, window time.Duration, limit int) ([]models.CostEntry, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	now := l.clock.Now()
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, service, amount_micros, description, session_id, job_id, created_at
		 FROM cost_entries WHERE created_at >= ? AND created_at <= ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		sqlitedb.ToNanos(now.Add(-window)), sqlitedb.ToNanos(now), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query costs: %w", err)
	}
	defer rows.Close()

	var entries []models.CostEntry
	for rows.Next() {
		var e models.CostEntry
		var svc string
		var micros, created int64
		if err := rows.Scan(&e.ID, &svc, &micros, &e.Description, &e.SessionID, &e.JobID, &created); err != nil {
			return nil, fmt.Errorf("scan cost: %w", err)
		}
		e.Service = models.Service(svc)
		e.Amount = fromMicros(micros)
		e.CreatedAt = sqlitedb.FromNanos(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Total returns the summed amount of entries created at or after since,
// and not after now.
func (l *SQLiteLedger) Total(ctx context.Context, since time.Time) (float64, error) {
	var micros int64
	var err error
	if since.IsZero() {
		err = l.db.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(amount_micros), 0) FROM cost_entries`,
		).Scan(&micros)
	} else {
		err = l.db.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(amount_micros), 0) FROM cost_entries WHERE created_at >= ? AND created_at <= ?`,
			sqlitedb.ToNanos(since), sqlitedb.ToNanos(l.clock.Now()),
		).Scan(&micros)
	}
	if err != nil {
		return 0, fmt.Errorf("total cost: %w", err)
	}
	return fromMicros(micros), nil
}

// ByService returns all-time sums grouped by service.
func (l *SQLiteLedger) ByService(ctx context.Context) (map[models.Service]float64, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT service, SUM(amount_micros) FROM cost_entries GROUP BY service ORDER BY service`)
	if err != nil {
		return nil, fmt.Errorf("cost by service: %w", err)
	}
	defer rows.Close()

	out := make(map[models.Service]float64)
	for rows.Next() {
		var svc string
		var micros int64
		if err := rows.Scan(&svc, &micros); err != nil {
			return nil, fmt.Errorf("scan cost by service: %w", err)
		}
		out[models.Service(svc)] = fromMicros(micros)
	}
	return out, rows.Err()
}

// Summary is a consistent snapshot of ledger aggregates. Total always equals
// the sum of ByService.
type Summary struct {
	Total     float64
	Daily     float64
	Hourly    float64
	ByService map[models.Service]float64
}

// Summarize computes every aggregate in one statement so that a concurrent
// Record is either fully included or fully excluded.
func (l *SQLiteLedger) Summarize(ctx context.Context) (Summary, error) {
	now := l.clock.Now()
	end := sqlitedb.ToNanos(now)
	rows, err := l.db.QueryContext(ctx,
		`SELECT service,
			SUM(amount_micros),
			SUM(CASE WHEN created_at >= ? AND created_at <= ? THEN amount_micros ELSE 0 END),
			SUM(CASE WHEN created_at >= ? AND created_at <= ? THEN amount_micros ELSE 0 END)
		 FROM cost_entries GROUP BY service ORDER BY service`,
		sqlitedb.ToNanos(now.Add(-24*time.Hour)), end,
		sqlitedb.ToNanos(now.Add(-time.Hour)), end,
	)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize costs: %w", err)
	}
	defer rows.Close()

	var total, daily, hourly int64
	by := make(map[models.Service]float64)
	for rows.Next() {
		var svc string
		var all, d, h int64
		if err := rows.Scan(&svc, &all, &d, &h); err != nil {
			return Summary{}, fmt.Errorf("scan cost summary: %w", err)
		}
		by[models.Service(svc)] = fromMicros(all)
		total += all
		daily += d
		hourly += h
	}
	if err := rows.Err(); err != nil {
		return Summary{}, fmt.Errorf("summarize costs: %w", err)
	}
	return Summary{
		Total:     fromMicros(total),
		Daily:     fromMicros(daily),
		Hourly:    fromMicros(hourly),
		ByService: by,
	}, nil
}

// Close releases the database connection.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

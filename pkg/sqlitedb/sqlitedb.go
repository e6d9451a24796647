// Package sqlitedb opens the shared SQLite database used by the ledger,
// job store and audit journal.
package sqlitedb

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Open opens dbPath with WAL journaling and a busy timeout so that several
// handles on the same file can write concurrently.
func Open(dbPath string) (*sql.DB, error) {
	dsn := dbPath
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	return db, nil
}

// Migrate runs each statement in order.
func Migrate(db *sql.DB, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// ColumnExists reports whether table has the named column.
func ColumnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false
		}
		if name == column {
			return true
		}
	}
	return false
}

// ToNanos converts t to the integer timestamp stored in SQLite.
func ToNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

// FromNanos converts a stored integer timestamp back to UTC time.
func FromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

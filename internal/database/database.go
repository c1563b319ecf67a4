package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// Open opens the SQLite database at path in WAL mode with foreign keys
// enforced on every pooled connection, and applies the schema.
func Open(path string) (*sql.DB, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	// SQLite allows a single writer; a small pool keeps readers concurrent
	// without piling up writers behind the busy timeout.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", path, err)
	}

	if err := Migrate(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates every table and index if missing. Safe to call repeatedly.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Checkpoint folds the WAL back into the main database file so the file can
// be copied on its own.
func Checkpoint(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS issues (
		product_code TEXT PRIMARY KEY,
		product_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		change_desc TEXT NOT NULL DEFAULT '',
		dip_sop TEXT NOT NULL DEFAULT '',
		assembly_sop TEXT NOT NULL DEFAULT '',
		test_sop TEXT NOT NULL DEFAULT '',
		packaging_sop TEXT NOT NULL DEFAULT '',
		oqc_checklist TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_issues_created_at ON issues(created_at)`,
	`CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user' CHECK(role IN ('admin','user')),
		can_add INTEGER NOT NULL DEFAULT 1 CHECK(can_add IN (0,1)),
		can_delete INTEGER NOT NULL DEFAULT 0 CHECK(can_delete IN (0,1)),
		active INTEGER NOT NULL DEFAULT 1 CHECK(active IN (0,1))
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		created_at TEXT NOT NULL,
		FOREIGN KEY (username) REFERENCES users(username) ON UPDATE CASCADE ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_username ON sessions(username)`,
	`CREATE TABLE IF NOT EXISTS activity_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL,
		action TEXT NOT NULL CHECK(action IN ('upload','delete')),
		filename TEXT NOT NULL,
		timestamp TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_logs_timestamp ON activity_logs(timestamp)`,
}

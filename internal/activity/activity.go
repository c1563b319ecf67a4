package activity

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"sopdesk/internal/auth"
	"sopdesk/internal/database"
	"sopdesk/internal/models"
)

// Execer is satisfied by *sql.DB and *sql.Tx so entries can be written inside
// the transaction of the operation they describe.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Notifier receives a change event after log rows are written or removed.
type Notifier interface {
	BroadcastChange(resourceType, action string, id any)
}

// Log is the append-only activity_logs table.
type Log struct {
	DB       *sql.DB
	Notifier Notifier
	Now      func() time.Time
}

// New creates a Log over db.
func New(db *sql.DB, n Notifier) *Log {
	return &Log{DB: db, Notifier: n, Now: time.Now}
}

// Append writes one entry. Pass a *sql.Tx as ex to make the entry part of a
// larger transaction, or nil to write directly.
func (l *Log) Append(ctx context.Context, ex Execer, username, action, filename string) error {
	if ex == nil {
		ex = l.DB
	}
	_, err := ex.ExecContext(ctx,
		"INSERT INTO activity_logs (username, action, filename, timestamp) VALUES (?, ?, ?, ?)",
		username, action, filename, database.Timestamp(l.Now()))
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// List returns every entry, newest first.
func (l *Log) List(ctx context.Context) ([]models.ActivityEntry, error) {
	rows, err := l.DB.QueryContext(ctx,
		"SELECT id, username, action, filename, timestamp FROM activity_logs ORDER BY timestamp DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	entries := []models.ActivityEntry{}
	for rows.Next() {
		var e models.ActivityEntry
		if err := rows.Scan(&e.ID, &e.Username, &e.Action, &e.Filename, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteAll removes every entry. Admin only.
func (l *Log) DeleteAll(ctx context.Context, sess *auth.Session) (int64, error) {
	if !sess.IsAdmin() {
		return 0, auth.ErrForbidden
	}
	res, err := l.DB.ExecContext(ctx, "DELETE FROM activity_logs")
	if err != nil {
		return 0, fmt.Errorf("clear activity: %w", err)
	}
	n, _ := res.RowsAffected()
	l.notify("clear", n)
	return n, nil
}

// Delete removes the entries with the given ids. Admin only.
func (l *Log) Delete(ctx context.Context, sess *auth.Session, ids []int64) (int64, error) {
	if !sess.IsAdmin() {
		return 0, auth.ErrForbidden
	}
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := l.DB.ExecContext(ctx, "DELETE FROM activity_logs WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return 0, fmt.Errorf("delete activity: %w", err)
	}
	n, _ := res.RowsAffected()
	l.notify("delete", ids)
	return n, nil
}

func (l *Log) notify(action string, id any) {
	if l.Notifier != nil {
		l.Notifier.BroadcastChange("activity", action, id)
	}
}

package auth

import (
	"context"
	"database/sql"
	"fmt"
)

// EnsureBootstrapAdmin creates the admin account username with all
// permissions if it does not exist yet. It reports whether a row was created.
func EnsureBootstrapAdmin(ctx context.Context, db *sql.DB, username, password string) (bool, error) {
	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE username = ?", username).Scan(&count); err != nil {
		return false, fmt.Errorf("check bootstrap admin: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	hash, err := HashPassword(password)
	if err != nil {
		return false, fmt.Errorf("hash bootstrap password: %w", err)
	}
	_, err = db.ExecContext(ctx, `INSERT OR IGNORE INTO users (username, password, role, can_add, can_delete, active)
		VALUES (?, ?, 'admin', 1, 1, 1)`, username, hash)
	if err != nil {
		return false, fmt.Errorf("create bootstrap admin: %w", err)
	}
	return true, nil
}

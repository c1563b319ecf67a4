package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Session is the permission set of an authenticated account. It is passed
// explicitly to every operation that needs to know who is acting.
type Session struct {
	Username  string `json:"username"`
	Role      string `json:"role"`
	CanAdd    bool   `json:"can_add"`
	CanDelete bool   `json:"can_delete"`
}

// IsAdmin reports whether the session has the admin role.
func (s *Session) IsAdmin() bool {
	return s != nil && s.Role == "admin"
}

// MayAdd reports whether the session may create records or upload documents.
func (s *Session) MayAdd() bool {
	return s != nil && (s.IsAdmin() || s.CanAdd)
}

// MayDelete reports whether the session may delete records.
func (s *Session) MayDelete() bool {
	return s != nil && (s.IsAdmin() || s.CanDelete)
}

// Authenticate verifies username and password against the users table and
// returns the account's permission set. Every failure mode yields
// ErrInvalidCredentials; only storage errors are returned as-is.
func Authenticate(ctx context.Context, db *sql.DB, username, password string) (*Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var stored string
	var active int
	s := &Session{Username: username}
	err := db.QueryRowContext(ctx,
		"SELECT password, role, can_add, can_delete, active FROM users WHERE username = ?", username).
		Scan(&stored, &s.Role, &s.CanAdd, &s.CanDelete, &active)
	if errors.Is(err, sql.ErrNoRows) {
		burnCompare(password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("look up account: %w", err)
	}

	ok, needsRehash := VerifyPassword(stored, password)
	if !ok || active != 1 {
		return nil, ErrInvalidCredentials
	}

	if needsRehash {
		if hash, err := HashPassword(password); err == nil {
			if _, err := db.ExecContext(ctx, "UPDATE users SET password = ? WHERE username = ?", hash, username); err != nil {
				slog.Warn("password rehash failed", "username", username, "error", err)
			}
		}
	}
	return s, nil
}

// ErrForbidden is returned when a session lacks the permission an operation
// requires.
var ErrForbidden = errors.New("permission denied")

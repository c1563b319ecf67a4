package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNoSession is returned when a token does not map to an active account.
var ErrNoSession = errors.New("no active session")

// SessionStore persists login tokens in the sessions table.
type SessionStore struct {
	DB       *sql.DB
	NewToken func() string
	Now      func() time.Time
}

// NewSessionStore creates a SessionStore issuing random UUID tokens.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{
		DB:       db,
		NewToken: func() string { return uuid.NewString() },
		Now:      time.Now,
	}
}

// Create issues a token for username.
func (s *SessionStore) Create(ctx context.Context, username string) (string, error) {
	token := s.NewToken()
	_, err := s.DB.ExecContext(ctx,
		"INSERT INTO sessions (token, username, created_at) VALUES (?, ?, ?)",
		token, username, s.Now().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return token, nil
}

// Lookup resolves token to the current permission set of its account. Flags
// are read fresh so permission changes and deactivation apply immediately.
func (s *SessionStore) Lookup(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrNoSession
	}
	sess := &Session{}
	err := s.DB.QueryRowContext(ctx, `SELECT u.username, u.role, u.can_add, u.can_delete
		FROM sessions s JOIN users u ON s.username = u.username
		WHERE s.token = ? AND u.active = 1`, token).
		Scan(&sess.Username, &sess.Role, &sess.CanAdd, &sess.CanDelete)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("look up session: %w", err)
	}
	return sess, nil
}

// Delete removes token. Deleting an unknown token is not an error.
func (s *SessionStore) Delete(ctx context.Context, token string) error {
	if _, err := s.DB.ExecContext(ctx, "DELETE FROM sessions WHERE token = ?", token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

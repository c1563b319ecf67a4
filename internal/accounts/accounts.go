// Package accounts implements admin management of user accounts.
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"sopdesk/internal/activity"
	"sopdesk/internal/auth"
	"sopdesk/internal/models"
	"sopdesk/internal/validation"
)

var (
	ErrDuplicateUsername = errors.New("username already exists")
	ErrNotFound          = errors.New("account not found")
	ErrSelfModify        = errors.New("cannot modify the currently logged-in account")
	ErrSelfDelete        = errors.New("cannot delete your own account")
)

// Filter values for List.
const (
	FilterAll      = "all"
	FilterActive   = "active"
	FilterInactive = "inactive"
)

// NewAccount is the input of Create. Role defaults to user.
type NewAccount struct {
	Username  string
	Password  string
	Role      string
	CanAdd    bool
	CanDelete bool
	Active    bool
}

// Update changes an existing account. Empty strings and nil flags keep the
// current value.
type Update struct {
	NewUsername string
	NewPassword string
	Role        string
	CanAdd      *bool
	CanDelete   *bool
	Active      *bool
}

// Filter selects accounts for List.
type Filter struct {
	Status     string
	Descending bool
}

// Service manages the users table.
type Service struct {
	DB       *sql.DB
	Notifier activity.Notifier
}

// New creates a Service.
func New(db *sql.DB, n activity.Notifier) *Service {
	return &Service{DB: db, Notifier: n}
}

func (s *Service) notify(action string, id any) {
	if s.Notifier != nil {
		s.Notifier.BroadcastChange("account", action, id)
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Create adds an account.
func (s *Service) Create(ctx context.Context, actor *auth.Session, in NewAccount) (*models.Account, error) {
	if !actor.IsAdmin() {
		return nil, auth.ErrForbidden
	}
	in.Username = strings.TrimSpace(in.Username)
	if in.Role == "" {
		in.Role = models.RoleUser
	}

	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "username", in.Username)
	validation.RequireField(ve, "password", in.Password)
	validation.ValidateMaxLength(ve, "username", in.Username, validation.MaxNameLength)
	validation.ValidateEnum(ve, "role", in.Role, validation.ValidRoles)
	if err := ve.Err(); err != nil {
		return nil, err
	}

	taken, err := s.exists(ctx, s.DB, in.Username)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrDuplicateUsername
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	_, err = s.DB.ExecContext(ctx,
		"INSERT INTO users (username, password, role, can_add, can_delete, active) VALUES (?, ?, ?, ?, ?, ?)",
		in.Username, hash, in.Role, boolInt(in.CanAdd), boolInt(in.CanDelete), boolInt(in.Active))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, ErrDuplicateUsername
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}

	acct := &models.Account{Username: in.Username, Role: in.Role, CanAdd: in.CanAdd, CanDelete: in.CanDelete, Active: in.Active}
	s.notify("create", acct.Username)
	return acct, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Service) exists(ctx context.Context, q queryer, username string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE username = ?", username).Scan(&n); err != nil {
		return false, fmt.Errorf("check username: %w", err)
	}
	return n > 0, nil
}

// Get returns one account.
func (s *Service) Get(ctx context.Context, username string) (*models.Account, error) {
	var a models.Account
	err := s.DB.QueryRowContext(ctx,
		"SELECT username, role, can_add, can_delete, active FROM users WHERE username = ?", username).
		Scan(&a.Username, &a.Role, &a.CanAdd, &a.CanDelete, &a.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

// Update modifies target. The acting account cannot modify itself.
func (s *Service) Update(ctx context.Context, actor *auth.Session, target string, u Update) (*models.Account, error) {
	if !actor.IsAdmin() {
		return nil, auth.ErrForbidden
	}
	if target == actor.Username {
		return nil, ErrSelfModify
	}
	u.NewUsername = strings.TrimSpace(u.NewUsername)

	ve := &validation.ValidationErrors{}
	validation.ValidateMaxLength(ve, "username", u.NewUsername, validation.MaxNameLength)
	validation.ValidateEnum(ve, "role", u.Role, validation.ValidRoles)
	if err := ve.Err(); err != nil {
		return nil, err
	}

	var hash string
	if u.NewPassword != "" {
		h, err := auth.HashPassword(u.NewPassword)
		if err != nil {
			return nil, err
		}
		hash = h
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var current models.Account
	err = tx.QueryRowContext(ctx,
		"SELECT username, role, can_add, can_delete, active FROM users WHERE username = ?", target).
		Scan(&current.Username, &current.Role, &current.CanAdd, &current.CanDelete, &current.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}

	name := current.Username
	if u.NewUsername != "" && u.NewUsername != current.Username {
		taken, err := s.exists(ctx, tx, u.NewUsername)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, ErrDuplicateUsername
		}
		name = u.NewUsername
	}
	acct := current
	acct.Username = name
	if u.Role != "" {
		acct.Role = u.Role
	}
	if u.CanAdd != nil {
		acct.CanAdd = *u.CanAdd
	}
	if u.CanDelete != nil {
		acct.CanDelete = *u.CanDelete
	}
	if u.Active != nil {
		acct.Active = *u.Active
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE users SET username = ?, role = ?, can_add = ?, can_delete = ?, active = ? WHERE username = ?",
		acct.Username, acct.Role, boolInt(acct.CanAdd), boolInt(acct.CanDelete), boolInt(acct.Active), target)
	if err != nil {
		return nil, fmt.Errorf("update account: %w", err)
	}
	if hash != "" {
		if _, err := tx.ExecContext(ctx, "UPDATE users SET password = ? WHERE username = ?", hash, name); err != nil {
			return nil, fmt.Errorf("update password: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	s.notify("update", name)
	return &acct, nil
}

// Delete removes target and, through the foreign key, its sessions. The
// acting account cannot delete itself.
func (s *Service) Delete(ctx context.Context, actor *auth.Session, target string) error {
	if !actor.IsAdmin() {
		return auth.ErrForbidden
	}
	if target == actor.Username {
		return ErrSelfDelete
	}
	res, err := s.DB.ExecContext(ctx, "DELETE FROM users WHERE username = ?", target)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.notify("delete", target)
	return nil
}

// List returns accounts matching f, ordered by username.
func (s *Service) List(ctx context.Context, actor *auth.Session, f Filter) ([]models.Account, error) {
	if !actor.IsAdmin() {
		return nil, auth.ErrForbidden
	}
	if f.Status == "" {
		f.Status = FilterAll
	}
	ve := &validation.ValidationErrors{}
	validation.ValidateEnum(ve, "filter", f.Status, validation.ValidAccountFilters)
	if err := ve.Err(); err != nil {
		return nil, err
	}

	query := "SELECT username, role, can_add, can_delete, active FROM users"
	switch f.Status {
	case FilterActive:
		query += " WHERE active = 1"
	case FilterInactive:
		query += " WHERE active = 0"
	}
	if f.Descending {
		query += " ORDER BY username DESC"
	} else {
		query += " ORDER BY username ASC"
	}

	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	out := []models.Account{}
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.Username, &a.Role, &a.CanAdd, &a.CanDelete, &a.Active); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

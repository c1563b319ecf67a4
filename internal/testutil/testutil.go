package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"sopdesk/internal/auth"
	"sopdesk/internal/database"
)

// SetupTestDB opens a migrated SQLite database in a per-test temp directory
// and closes it when the test ends.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// AccountOpts describes a seeded account.
type AccountOpts struct {
	Role      string
	CanAdd    bool
	CanDelete bool
	Inactive  bool
}

// CreateAccount inserts an account with a bcrypt hash of password.
func CreateAccount(t *testing.T, db *sql.DB, username, password string, opts AccountOpts) {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	insertAccount(t, db, username, hash, opts)
}

// CreateLegacyAccount inserts an account whose password is stored as the
// unsalted SHA-256 digest older databases used.
func CreateLegacyAccount(t *testing.T, db *sql.DB, username, password string, opts AccountOpts) {
	t.Helper()
	insertAccount(t, db, username, auth.LegacyDigest(password), opts)
}

func insertAccount(t *testing.T, db *sql.DB, username, stored string, opts AccountOpts) {
	t.Helper()
	role := opts.Role
	if role == "" {
		role = "user"
	}
	_, err := db.Exec(`INSERT INTO users (username, password, role, can_add, can_delete, active) VALUES (?, ?, ?, ?, ?, ?)`,
		username, stored, role, boolInt(opts.CanAdd), boolInt(opts.CanDelete), boolInt(!opts.Inactive))
	if err != nil {
		t.Fatalf("Failed to create account %s: %v", username, err)
	}
}

// Admin returns an admin session for username.
func Admin(username string) *auth.Session {
	return &auth.Session{Username: username, Role: "admin", CanAdd: true, CanDelete: true}
}

// User returns a non-admin session with the given flags.
func User(username string, canAdd, canDelete bool) *auth.Session {
	return &auth.Session{Username: username, Role: "user", CanAdd: canAdd, CanDelete: canDelete}
}

// Login authenticates username/password against db and fails the test on error.
func Login(t *testing.T, db *sql.DB, username, password string) *auth.Session {
	t.Helper()
	s, err := auth.Authenticate(context.Background(), db, username, password)
	if err != nil {
		t.Fatalf("Login %s failed: %v", username, err)
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

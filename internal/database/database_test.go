package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_AppliesSchemaAndPragmas(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "work.db"))
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", strings.ToLower(mode))

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	for _, table := range []string{"issues", "users", "sessions", "activity_logs"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "table %s", table)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "work.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(context.Background(), db))
	require.NoError(t, Migrate(context.Background(), db))
}

func TestSchema_ProductCodeIsPrimaryKey(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "work.db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("INSERT INTO issues (product_code, created_at) VALUES ('12345678', '2025-01-01T00:00:00.000000')")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO issues (product_code, created_at) VALUES ('12345678', '2025-01-02T00:00:00.000000')")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNIQUE")
}

func TestSchema_SessionsFollowUserRenameAndDelete(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "work.db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("INSERT INTO users (username, password) VALUES ('amy', 'x')")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO sessions (token, username, created_at) VALUES ('t1', 'amy', 'now')")
	require.NoError(t, err)

	_, err = db.Exec("UPDATE users SET username='amelia' WHERE username='amy'")
	require.NoError(t, err)
	var owner string
	require.NoError(t, db.QueryRow("SELECT username FROM sessions WHERE token='t1'").Scan(&owner))
	assert.Equal(t, "amelia", owner)

	_, err = db.Exec("DELETE FROM users WHERE username='amelia'")
	require.NoError(t, err)
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&n))
	assert.Zero(t, n)
}

func TestSchema_RoleCheckConstraint(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "work.db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("INSERT INTO users (username, password, role) VALUES ('bob', 'x', 'root')")
	assert.Error(t, err)
}

func TestCheckpoint(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "work.db"))
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, Checkpoint(context.Background(), db))
}

func TestTimestamp_SortsLexically(t *testing.T) {
	a := time.Date(2025, 3, 1, 9, 0, 0, 0, time.Local)
	b := a.Add(1500 * time.Microsecond)
	c := a.Add(10 * time.Second)
	assert.Less(t, Timestamp(a), Timestamp(b))
	assert.Less(t, Timestamp(b), Timestamp(c))
	assert.Equal(t, "2025-03-01T09:00:00.000000", Timestamp(a))
}

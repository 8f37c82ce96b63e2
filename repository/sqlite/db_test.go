package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestDB opens a fresh migrated database in a temp directory.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db.sqlite3")
	db, err := Open(path)
	require.NoError(t, err)
	db.MustMigrate(migration)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenAndMigrate(t *testing.T) {
	db := newTestDB(t)
	var count int
	err := db.sql.QueryRow("SELECT COUNT(*) FROM jobs").Scan(&count)
	require.NoError(t, err)
}

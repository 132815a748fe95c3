// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bundle-store/internal/database"
)

// NewDB opens a migrated SQLite database in a temporary directory.  The
// handle is closed when the test finishes.
func NewDB(t testing.TB) *sql.DB {
	t.Helper()
	db, err := database.Open(database.Options{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "store.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db, database.DriverSQLite))
	return db
}

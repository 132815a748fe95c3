package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatements(t *testing.T) {
	for _, driver := range []string{DriverMySQL, DriverSQLite} {
		stmts, err := Statements(driver)
		require.NoError(t, err, driver)
		assert.NotEmpty(t, stmts, driver)
		for _, s := range stmts {
			assert.NotContains(t, s, ";", "statement should be split: %s", s)
		}
	}

	_, err := Statements("postgres")
	assert.Error(t, err)
}

func TestMigrateSQLiteIsRepeatable(t *testing.T) {
	db, err := Open(Options{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "store.db")})
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, Migrate(ctx, db, DriverSQLite))
	require.NoError(t, Migrate(ctx, db, DriverSQLite))

	var n int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('users','orders')`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Options{Driver: "oracle"})
	assert.Error(t, err)
}

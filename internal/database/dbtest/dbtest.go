// Package dbtest opens throwaway migrated databases for tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cricketstatspack/portal/internal/config"
	"github.com/cricketstatspack/portal/internal/database"
)

// NewSQLite returns a migrated SQLite database in the test's temp dir,
// closed automatically when the test ends.
func NewSQLite(t testing.TB) *sqlx.DB {
	t.Helper()

	cfg := config.DatabaseConfig{
		Type: database.DialectSQLite,
		Path: filepath.Join(t.TempDir(), "statspack.db"),
	}
	db, err := database.Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, database.Migrate(context.Background(), db, zap.NewNop()))

	t.Cleanup(func() { db.Close() })
	return db
}

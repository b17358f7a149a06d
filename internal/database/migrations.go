package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

func gooseDialect(dialect string) (goose.Dialect, string, error) {
	switch dialect {
	case DialectPostgres:
		return goose.DialectPostgres, "migrations/postgres", nil
	case DialectSQLite:
		return goose.DialectSQLite3, "migrations/sqlite", nil
	}
	return "", "", fmt.Errorf("no migrations for dialect %q", dialect)
}

// Migrate applies every pending migration for the database's dialect.
func Migrate(ctx context.Context, db *sqlx.DB, logger *zap.Logger) error {
	dialect, dir, err := gooseDialect(DialectOf(db))
	if err != nil {
		return err
	}

	fsys, err := fs.Sub(migrationFS, dir)
	if err != nil {
		return fmt.Errorf("migration fs: %w", err)
	}

	provider, err := goose.NewProvider(dialect, db.DB, fsys)
	if err != nil {
		return fmt.Errorf("migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		logger.Info("applied migration",
			zap.Int64("version", r.Source.Version),
			zap.String("file", r.Source.Path),
			zap.Duration("took", r.Duration),
		)
	}
	return nil
}

package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

// EmbedMigrations contains the embedded SQL migration files, one directory
// per dialect.
//
//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var EmbedMigrations embed.FS

// Migrate applies all pending migrations for the pool's dialect.
func Migrate(ctx context.Context, d *DB) ([]string, error) {
	var (
		dialect goose.Dialect
		dir     string
	)
	switch d.dialect {
	case Postgres:
		dialect, dir = goose.DialectPostgres, "migrations/postgres"
	case SQLite:
		dialect, dir = goose.DialectSQLite3, "migrations/sqlite"
	default:
		return nil, fmt.Errorf("store: unsupported dialect %q", d.dialect)
	}

	fsys, err := fs.Sub(EmbedMigrations, dir)
	if err != nil {
		return nil, fmt.Errorf("migrations fs: %w", err)
	}

	provider, err := goose.NewProvider(dialect, d.sql, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("goose up: %w", err)
	}

	applied := make([]string, 0, len(results))
	for _, r := range results {
		applied = append(applied, r.Source.Path)
	}
	return applied, nil
}

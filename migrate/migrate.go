// Package migrate creates the bookkeeping tables the engine owns, using
// versioned SQL migrations embedded per dialect. The core tables they
// reference (m_code and friends) are assumed to exist.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"

	"github.com/syssam/exttable/dialect"
)

//go:embed migrations
var migrations embed.FS

var gooseDialects = map[dialect.Dialect]goose.Dialect{
	dialect.MySQL:    goose.DialectMySQL,
	dialect.Postgres: goose.DialectPostgres,
}

// Sources returns the migration files of d.
func Sources(d dialect.Dialect) (fs.FS, error) {
	if _, ok := gooseDialects[d]; !ok {
		return nil, fmt.Errorf("migrate: unsupported dialect %q", d)
	}
	return fs.Sub(migrations, "migrations/"+string(d))
}

// NewProvider returns a goose provider over the embedded migrations of d.
func NewProvider(db *sql.DB, d dialect.Dialect, opts ...goose.ProviderOption) (*goose.Provider, error) {
	fsys, err := Sources(d)
	if err != nil {
		return nil, err
	}
	p, err := goose.NewProvider(gooseDialects[d], db, fsys, opts...)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return p, nil
}

// Up applies every pending migration and returns the applied versions.
func Up(ctx context.Context, db *sql.DB, d dialect.Dialect, logger *slog.Logger) ([]int64, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p, err := NewProvider(db, d)
	if err != nil {
		return nil, err
	}
	results, err := p.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate: up: %w", err)
	}
	versions := make([]int64, 0, len(results))
	for _, r := range results {
		logger.InfoContext(ctx, "applied migration",
			"version", r.Source.Version,
			"path", r.Source.Path,
			"duration", r.Duration,
		)
		versions = append(versions, r.Source.Version)
	}
	return versions, nil
}

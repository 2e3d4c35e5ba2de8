// migrate.go -- Embedded SQL migrations.
//
// Each .sql file runs once, in lexical order, inside its own transaction.
// Applied versions are tracked in schema_migrations.
package store

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
)

const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`

// Migrate applies every pending migration in migrationsFS and returns how many ran.
// A failing migration is rolled back as a whole and stops the run.
func (s *PostgresStore) Migrate(ctx context.Context, migrationsFS fs.FS) (int, error) {
	if _, err := s.pool.Exec(ctx, createMigrationsTable); err != nil {
		return 0, fmt.Errorf("creating schema_migrations table: %w", err)
	}

	files, err := fs.Glob(migrationsFS, "*.sql")
	if err != nil {
		return 0, fmt.Errorf("reading migration files: %w", err)
	}
	sort.Strings(files)

	applied := 0
	for _, version := range files {
		var done bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)",
			version,
		).Scan(&done); err != nil {
			return applied, fmt.Errorf("checking migration %s: %w", version, err)
		}
		if done {
			slog.Debug("migration already applied", "version", version)
			continue
		}

		if err := s.applyMigration(ctx, migrationsFS, version); err != nil {
			return applied, err
		}
		applied++
		slog.Info("migration applied", "version", version)
	}

	return applied, nil
}

// applyMigration runs one file and records it, both in a single transaction.
func (s *PostgresStore) applyMigration(ctx context.Context, migrationsFS fs.FS, version string) error {
	sql, err := fs.ReadFile(migrationsFS, version)
	if err != nil {
		return fmt.Errorf("reading migration %s: %w", version, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction for %s: %w", version, err)
	}

	if _, err := tx.Exec(ctx, string(sql)); err != nil {
		tx.Rollback(ctx)
		return fmt.Errorf("executing migration %s: %w", version, err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
		tx.Rollback(ctx)
		return fmt.Errorf("recording migration %s: %w", version, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing migration %s: %w", version, err)
	}
	return nil
}

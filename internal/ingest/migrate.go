package ingest

import (
	"context"
	"embed"
	"io/fs"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/outlier-data/fondos-etl/internal/db"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate runs all pending SQL migrations in lexicographic order.
// It creates the fondos schema and schema_migrations tracking table if
// needed, then applies any .sql files not yet recorded.
func Migrate(ctx context.Context, pool db.Pool) error {
	log := zap.L().With(zap.String("component", "ingest.migrate"))

	// Advisory lock prevents concurrent migration runs (e.g. cron overlap).
	if _, err := pool.Exec(ctx, "SELECT pg_advisory_lock(2743001)"); err != nil {
		return eris.Wrap(err, "ingest: acquire migration advisory lock")
	}
	defer func() {
		if _, err := pool.Exec(ctx, "SELECT pg_advisory_unlock(2743001)"); err != nil {
			log.Warn("ingest: failed to release migration advisory lock", zap.Error(err))
		}
	}()

	if err := ensureMigrationTable(ctx, pool); err != nil {
		return err
	}

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return eris.Wrap(err, "ingest: read migration dir")
	}

	// Lexicographic = numeric order with zero-padded names.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	applied, err := appliedMigrations(ctx, pool)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if applied[name] {
			continue
		}

		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "ingest: read migration %s", name)
		}

		log.Info("applying migration", zap.String("file", name))

		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "ingest: apply migration %s", name)
		}

		if _, err := pool.Exec(ctx,
			"INSERT INTO fondos.schema_migrations (filename, applied_at) VALUES ($1, now())",
			name,
		); err != nil {
			return eris.Wrapf(err, "ingest: record migration %s", name)
		}

		log.Info("migration applied", zap.String("file", name))
	}

	return nil
}

// ensureMigrationTable creates the schema and migration tracking table if they don't exist.
func ensureMigrationTable(ctx context.Context, pool db.Pool) error {
	sql := `
		CREATE SCHEMA IF NOT EXISTS fondos;
		CREATE TABLE IF NOT EXISTS fondos.schema_migrations (
			id         SERIAL PRIMARY KEY,
			filename   TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`
	if _, err := pool.Exec(ctx, sql); err != nil {
		return eris.Wrap(err, "ingest: ensure migration table")
	}
	return nil
}

// appliedMigrations returns the set of already-applied migration filenames.
func appliedMigrations(ctx context.Context, pool db.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, "SELECT filename FROM fondos.schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "ingest: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "ingest: scan migration row")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

package database

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"

	"github.com/jackc/pgx/v5"
)

// migrationLockKey serialises migrations across replicas starting at the
// same time.
const migrationLockKey = 7_304_117

// RunMigrations applies every *.up.sql file in the root of migrations, in
// name order, that is not yet recorded in schema_migrations. Each file runs
// in its own transaction together with its schema_migrations row.
// Connection failures are retried; SQL errors are returned immediately.
func RunMigrations(ctx context.Context, db DBTX, migrations fs.FS, logger *slog.Logger) error {
	names, err := fs.Glob(migrations, "*.up.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)

	return retry(ctx, logger, "run migrations", isTransient, func(ctx context.Context) error {
		if _, err := db.Exec(ctx,
			`CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW())`,
		); err != nil {
			return fmt.Errorf("create schema_migrations table: %w", err)
		}

		for _, name := range names {
			applied, err := applyMigration(ctx, db, migrations, name)
			if err != nil {
				return err
			}
			if applied {
				logger.InfoContext(ctx, "migration applied", slog.String("version", name))
			} else {
				logger.DebugContext(ctx, "migration already applied", slog.String("version", name))
			}
		}
		return nil
	})
}

func applyMigration(ctx context.Context, db DBTX, migrations fs.FS, name string) (applied bool, err error) {
	content, err := fs.ReadFile(migrations, name)
	if err != nil {
		return false, fmt.Errorf("read migration %s: %w", name, err)
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin migration %s: %w", name, err)
	}

	applied, err = applyInTx(ctx, tx, name, string(content))
	if err != nil || !applied {
		_ = tx.Rollback(ctx)
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit migration %s: %w", name, err)
	}
	return true, nil
}

func applyInTx(ctx context.Context, tx pgx.Tx, name, statements string) (bool, error) {
	if _, err := tx.Exec(ctx, fmt.Sprintf("SELECT pg_advisory_xact_lock(%d)", migrationLockKey)); err != nil {
		return false, fmt.Errorf("lock migrations: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", name,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check migration %s: %w", name, err)
	}
	if exists {
		return false, nil
	}

	if _, err := tx.Exec(ctx, statements); err != nil {
		return false, fmt.Errorf("execute migration %s: %w", name, err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", name); err != nil {
		return false, fmt.Errorf("record migration %s: %w", name, err)
	}
	return true, nil
}

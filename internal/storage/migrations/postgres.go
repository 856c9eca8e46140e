package migrations

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"fractional-ledger/internal/storage/postgres"
)

const createLedgerMigrations = `CREATE TABLE IF NOT EXISTS ledger_migrations (
    name       TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// RunPostgresMigrations applies every ledger schema file not yet listed in
// ledger_migrations. Each file commits together with its bookkeeping row.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	files, err := load("postgres")
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createLedgerMigrations); err != nil {
		return fmt.Errorf("create ledger_migrations: %w", err)
	}

	for _, m := range files {
		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx,
				`INSERT INTO ledger_migrations (name) VALUES ($1) ON CONFLICT DO NOTHING`, m.name)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return nil
			}
			_, err = tx.Exec(ctx, m.sql)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
	}
	return nil
}

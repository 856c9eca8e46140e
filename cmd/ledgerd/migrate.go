package main

import (
	"errors"

	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Applies the embedded PostgreSQL and ClickHouse migrations. The ClickHouse
database named in the DSN is created if missing. Migrations are idempotent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.UseMemory {
				return errors.New("nothing to migrate with use_memory set")
			}
			return runMigrations(cmd.Context(), a.cfg, a.logger)
		},
	}
}

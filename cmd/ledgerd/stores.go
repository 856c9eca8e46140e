package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"fractional-ledger/internal/config"
	"fractional-ledger/internal/engine"
	chstore "fractional-ledger/internal/storage/clickhouse"
	"fractional-ledger/internal/storage/migrations"
	pgstore "fractional-ledger/internal/storage/postgres"
)

// createStores connects the persistence backends. Ledger state lives in
// PostgreSQL and the event log in ClickHouse.
func createStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (engine.Stores, func(), error) {
	if cfg.UseMemory {
		logger.Warn("using in-memory storage, state is lost on exit")
		return engine.MemoryStores(), func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return engine.Stores{}, nil, fmt.Errorf("connect to postgres: %w", err)
	}

	chConn, err := chstore.NewConn(ctx, cfg.ClickHouseDSN)
	if err != nil {
		pool.Close()
		return engine.Stores{}, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}

	stores := engine.Stores{
		// PostgreSQL stores (ledger state)
		Assets:           pgstore.NewAssetStore(pool),
		Pools:            pgstore.NewPoolStore(pool),
		Proposals:        pgstore.NewProposalStore(pool),
		Payments:         pgstore.NewPaymentStore(pool),
		Distributions:    pgstore.NewDistributionStore(pool),
		DistributionRuns: pgstore.NewDistributionRunStore(pool),

		// ClickHouse stores (event log)
		Events: chstore.NewEventStore(chConn),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}

	return stores, cleanup, nil
}

// runMigrations applies the embedded PostgreSQL and ClickHouse migrations.
func runMigrations(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		return err
	}
	logger.Info("postgres migrations applied")

	chConn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
	if err != nil {
		return err
	}
	defer chConn.Close()
	logger.Info("clickhouse migrations applied")

	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fractional-ledger/internal/api"
	"fractional-ledger/internal/dispatch"
	"fractional-ledger/internal/distribution"
	"fractional-ledger/internal/engine"
	"fractional-ledger/internal/governance"
	"fractional-ledger/internal/intake"
	"fractional-ledger/internal/observability"
	"fractional-ledger/internal/oracle"
)

const (
	shutdownTimeout = 30 * time.Second
	uptimeInterval  = 15 * time.Second
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ledger service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(parent context.Context) error {
	cfg, logger := a.cfg, a.logger

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	done := make(chan struct{})
	defer close(done)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, initiating graceful shutdown", zap.Stringer("signal", sig))
			cancel()
		case <-done:
			return
		}

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Error("received second signal, forcing immediate shutdown", zap.Stringer("signal", sig))
			os.Exit(1)
		case <-time.After(shutdownTimeout):
			logger.Error("graceful shutdown timed out, forcing exit", zap.Duration("timeout", shutdownTimeout))
			os.Exit(1)
		case <-done:
		}
	}()

	stores, cleanup, err := createStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	var (
		nc         *nats.Conn
		payer      distribution.Payer
		dispatcher governance.Dispatcher
	)
	if cfg.NATSURL != "" {
		nc, err = dispatch.Connect(cfg.NATSURL, "ledgerd", logger)
		if err != nil {
			return err
		}
		defer nc.Drain()
		payer = dispatch.NewNATSPayer(nc, cfg.PayoutSubject)
		dispatcher = dispatch.NewNATSDispatcher(nc, cfg.ExecutionSubject, logger)
	} else {
		logger.Warn("nats_url not set, payouts and execution orders are only recorded in memory")
	}

	var resolver oracle.Resolver = oracle.NewStatic()
	if cfg.OracleWSEndpoint != "" {
		feedCfg := oracle.DefaultFeedConfig()
		feedCfg.Pairs = cfg.Pairs()
		feedCfg.MaxStaleness = cfg.OracleMaxStaleness
		feed, err := oracle.NewFeedClient(ctx, cfg.OracleWSEndpoint, &feedCfg, logger)
		if err != nil {
			return fmt.Errorf("connect price feed: %w", err)
		}
		defer feed.Close()
		resolver = feed
	} else {
		logger.Warn("oracle_ws_endpoint not set, only settlement-currency payments resolve")
	}

	dust, err := cfg.DustThreshold()
	if err != nil {
		return err
	}

	eng, err := engine.New(ctx, engine.Options{
		Stores:             stores,
		Payer:              payer,
		Dispatcher:         dispatcher,
		Oracle:             resolver,
		IntakePrincipal:    cfg.IntakePrincipal,
		AdminPrincipal:     cfg.AdminPrincipal,
		SettlementCurrency: cfg.SettlementCurrency,
		DustFoldThreshold:  dust,
		BatchSize:          cfg.DistributionBatchSize,
		ThresholdBps:       cfg.ThresholdBps(),
		VotingPeriod:       cfg.VotingPeriod,
		Logger:             logger,
	})
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	server := api.NewServer(api.Options{Engine: eng, Logger: logger, Version: version})
	apiServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", observability.Handler())
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return eng.Run(gctx)
	})
	g.Go(func() error {
		return listen(gctx, apiServer, logger.With(zap.String("server", "api")))
	})
	g.Go(func() error {
		return listen(gctx, metricsServer, logger.With(zap.String("server", "metrics")))
	})
	g.Go(func() error {
		return recordUptime(gctx)
	})
	if nc != nil {
		runner := intake.NewRunner(intake.RunnerOptions{
			Conn:      nc,
			Subject:   cfg.PaymentSubject,
			Queue:     "ledgerd",
			Processor: eng.Intake,
			Logger:    logger,
		})
		g.Go(func() error {
			return runner.Run(gctx)
		})
	}

	logger.Info("ledgerd started",
		zap.String("version", version),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("metrics_addr", cfg.MetricsAddr),
		zap.Bool("use_memory", cfg.UseMemory),
		zap.Bool("nats", nc != nil),
	)

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("ledgerd stopped with error", zap.Error(err))
		return err
	}

	logger.Info("shutdown complete")
	return nil
}

// listen serves until ctx is cancelled, then shuts the server down.
func listen(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen %s: %w", srv.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown %s: %w", srv.Addr, err)
	}
	return nil
}

func recordUptime(ctx context.Context) error {
	ticker := time.NewTicker(uptimeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			observability.RecordUptime(uptimeInterval.Seconds())
		}
	}
}

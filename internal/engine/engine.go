// Package engine wires the ledger, the three engines built on it, payment
// intake and the event log into one service object.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"fractional-ledger/internal/dispatch"
	"fractional-ledger/internal/distribution"
	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/eventlog"
	"fractional-ledger/internal/governance"
	"fractional-ledger/internal/intake"
	"fractional-ledger/internal/ledger"
	"fractional-ledger/internal/liquidity"
	"fractional-ledger/internal/oracle"
	"fractional-ledger/internal/principal"
	"fractional-ledger/internal/reporting"
	"fractional-ledger/internal/storage"
	"fractional-ledger/internal/storage/memory"
)

// Stores groups the persistence backends of the engine.
type Stores struct {
	Assets           storage.AssetStore
	Pools            storage.PoolStore
	Proposals        storage.ProposalStore
	Payments         storage.PaymentStore
	Distributions    storage.DistributionStore
	DistributionRuns storage.DistributionRunStore
	Events           storage.EventStore
}

// MemoryStores returns a Stores backed entirely by memory.
func MemoryStores() Stores {
	return Stores{
		Assets:           memory.NewAssetStore(),
		Pools:            memory.NewPoolStore(),
		Proposals:        memory.NewProposalStore(),
		Payments:         memory.NewPaymentStore(),
		Distributions:    memory.NewDistributionStore(),
		DistributionRuns: memory.NewDistributionRunStore(),
		Events:           memory.NewEventStore(),
	}
}

// withDefaults fills unset stores with memory stores.
func (s Stores) withDefaults() Stores {
	m := MemoryStores()
	if s.Assets == nil {
		s.Assets = m.Assets
	}
	if s.Pools == nil {
		s.Pools = m.Pools
	}
	if s.Proposals == nil {
		s.Proposals = m.Proposals
	}
	if s.Payments == nil {
		s.Payments = m.Payments
	}
	if s.Distributions == nil {
		s.Distributions = m.Distributions
	}
	if s.DistributionRuns == nil {
		s.DistributionRuns = m.DistributionRuns
	}
	if s.Events == nil {
		s.Events = m.Events
	}
	return s
}

// Options for creating an Engine.
type Options struct {
	Stores Stores

	// Collaborators
	Payer      distribution.Payer
	Dispatcher governance.Dispatcher
	Oracle     oracle.Resolver

	// Principals
	IntakePrincipal string
	AdminPrincipal  string

	SettlementCurrency string
	DustFoldThreshold  *uint256.Int
	BatchSize          int
	ThresholdBps       uint16
	VotingPeriod       time.Duration

	EventBatchSize     int           // Default: 100
	EventFlushInterval time.Duration // Default: 1s
	FeedBuffer         int           // Default: 256

	Clock  func() int64
	Logger *zap.Logger
}

// Engine is the assembled ledger service.
type Engine struct {
	Ledger      *ledger.Ledger
	Distributor *distribution.Distributor
	Pools       *liquidity.Engine
	Governance  *governance.Tally
	Intake      *intake.Processor
	Events      *eventlog.Log
	Feed        *eventlog.Broadcaster
	Reports     *reporting.Generator

	stores        Stores
	sink          *eventlog.StoreSink
	admin         string
	intake        string
	flushInterval time.Duration
	startedAt     time.Time
	logger        *zap.Logger
}

// Status is a point-in-time summary of the engine.
type Status struct {
	Assets          int
	Pools           int
	EventSeq        uint64
	PendingEvents   int
	FeedSubscribers int
	Uptime          time.Duration
}

// New assembles an engine and restores persisted state.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = func() int64 { return time.Now().UnixMilli() }
	}
	if opts.EventBatchSize <= 0 {
		opts.EventBatchSize = 100
	}
	if opts.EventFlushInterval <= 0 {
		opts.EventFlushInterval = time.Second
	}
	if opts.FeedBuffer <= 0 {
		opts.FeedBuffer = 256
	}
	if opts.Oracle == nil {
		opts.Oracle = oracle.NewStatic()
	}
	if opts.Payer == nil || opts.Dispatcher == nil {
		rec := dispatch.NewRecorder(opts.Logger)
		if opts.Payer == nil {
			opts.Payer = rec
		}
		if opts.Dispatcher == nil {
			opts.Dispatcher = rec
		}
	}
	opts.Stores = opts.Stores.withDefaults()
	logger := opts.Logger

	startSeq, err := opts.Stores.Events.MaxSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("load event sequence: %w", err)
	}

	e := &Engine{
		Feed:          eventlog.NewBroadcaster(opts.FeedBuffer),
		stores:        opts.Stores,
		admin:         opts.AdminPrincipal,
		intake:        opts.IntakePrincipal,
		flushInterval: opts.EventFlushInterval,
		startedAt:     time.Now(),
		logger:        logger.Named("engine"),
	}
	e.sink = eventlog.NewStoreSink(opts.Stores.Events, opts.EventBatchSize, logger)
	e.Events = eventlog.New(eventlog.Options{
		StartSeq: startSeq,
		Clock:    opts.Clock,
		Logger:   logger,
		Sinks:    []eventlog.Sink{eventlog.NewZapSink(logger), e.Feed, e.sink},
	})

	e.Ledger = ledger.New(ledger.Options{
		Store:  opts.Stores.Assets,
		Clock:  opts.Clock,
		Logger: logger,
	})
	e.Distributor = distribution.New(distribution.Options{
		Ledger:            e.Ledger,
		Payer:             opts.Payer,
		Records:           opts.Stores.Distributions,
		Runs:              opts.Stores.DistributionRuns,
		Events:            e.Events,
		IntakePrincipal:   opts.IntakePrincipal,
		Currency:          opts.SettlementCurrency,
		DustFoldThreshold: opts.DustFoldThreshold,
		DefaultBatchSize:  opts.BatchSize,
		Clock:             opts.Clock,
		Logger:            logger,
	})
	e.Pools = liquidity.New(liquidity.Options{
		Ledger:         e.Ledger,
		Store:          opts.Stores.Pools,
		Events:         e.Events,
		AdminPrincipal: opts.AdminPrincipal,
		Clock:          opts.Clock,
		Logger:         logger,
	})
	e.Governance = governance.New(governance.Options{
		Ledger:       e.Ledger,
		Store:        opts.Stores.Proposals,
		Dispatcher:   opts.Dispatcher,
		Events:       e.Events,
		ThresholdBps: opts.ThresholdBps,
		VotingPeriod: opts.VotingPeriod,
		Clock:        opts.Clock,
		Logger:       logger,
	})
	e.Intake = intake.NewProcessor(intake.Options{
		Ledger:             e.Ledger,
		Distributor:        e.Distributor,
		Oracle:             opts.Oracle,
		Payments:           opts.Stores.Payments,
		Events:             e.Events,
		Principal:          opts.IntakePrincipal,
		SettlementCurrency: opts.SettlementCurrency,
		BatchSize:          opts.BatchSize,
		Clock:              opts.Clock,
		Logger:             logger,
	})

	e.Reports = reporting.NewGenerator(
		opts.Stores.Assets,
		opts.Stores.Pools,
		opts.Stores.Proposals,
		opts.Stores.Payments,
		opts.Stores.Distributions,
	)

	if err := e.restore(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// restore loads assets first; pools and proposals refer to them.
// Distributions left incomplete by the previous process are finished last.
func (e *Engine) restore(ctx context.Context) error {
	assets, err := e.Ledger.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore assets: %w", err)
	}
	pools, err := e.Pools.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore pools: %w", err)
	}
	proposals, err := e.Governance.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore proposals: %w", err)
	}
	distributions, err := e.Intake.ResumePending(ctx)
	if err != nil {
		return fmt.Errorf("resume distributions: %w", err)
	}
	e.logger.Info("state restored",
		zap.Int("assets", assets),
		zap.Int("pools", pools),
		zap.Int("proposals", proposals),
		zap.Int("resumed_distributions", distributions),
		zap.Uint64("event_seq", e.Events.Seq()),
	)
	return nil
}

// Run flushes buffered events to the event store until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	return e.sink.Run(ctx, e.flushInterval)
}

// Flush writes buffered events to the event store.
func (e *Engine) Flush(ctx context.Context) error {
	return e.sink.Flush(ctx)
}

// Stores returns the persistence backends.
func (e *Engine) Stores() Stores { return e.stores }

// Status reports counters for the status endpoint.
func (e *Engine) Status() Status {
	s := Status{
		Assets:          len(e.Ledger.Assets()),
		Pools:           len(e.Pools.Pools()),
		EventSeq:        e.Events.Seq(),
		PendingEvents:   e.sink.Pending(),
		FeedSubscribers: e.Feed.Subscribers(),
		Uptime:          time.Since(e.startedAt),
	}
	return s
}

// RegisterAsset creates an asset with its initial holders. Only the admin
// principal may register.
func (e *Engine) RegisterAsset(ctx context.Context, caller, assetID string, allocations []ledger.Allocation) (*domain.AssetSnapshot, error) {
	if err := e.requireAdmin(caller, "register asset"); err != nil {
		return nil, err
	}
	for _, a := range allocations {
		if err := principal.Validate(a.Holder); err != nil {
			return nil, fmt.Errorf("register asset %s: %w", assetID, err)
		}
	}
	snap, err := e.Ledger.RegisterAsset(ctx, assetID, allocations)
	if err != nil {
		return nil, err
	}
	e.Events.Emit(ctx, domain.LedgerEvent{
		Kind:    domain.EventAssetRegistered,
		AssetID: assetID,
		Actor:   caller,
		Attrs: map[string]string{
			"total_supply": snap.TotalSupply.Dec(),
			"holders":      fmt.Sprint(len(snap.Balances)),
		},
	})
	return snap, nil
}

// DeactivateAsset stops all further mutations of an asset.
func (e *Engine) DeactivateAsset(ctx context.Context, caller, assetID string) error {
	if err := e.requireAdmin(caller, "deactivate asset"); err != nil {
		return err
	}
	if err := e.Ledger.Deactivate(ctx, assetID); err != nil {
		return err
	}
	e.Events.Emit(ctx, domain.LedgerEvent{
		Kind:    domain.EventAssetDeactivated,
		AssetID: assetID,
		Actor:   caller,
	})
	return nil
}

// IsAdmin reports whether p is the admin principal.
func (e *Engine) IsAdmin(p string) bool { return p != "" && p == e.admin }

// IsIntake reports whether p is the payment intake principal.
func (e *Engine) IsIntake(p string) bool { return p != "" && p == e.intake }

func (e *Engine) requireAdmin(caller, op string) error {
	if !e.IsAdmin(caller) {
		return fmt.Errorf("%s as %q: %w", op, caller, domain.ErrUnauthorized)
	}
	return nil
}

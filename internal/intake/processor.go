// Package intake accepts incoming revenue payments, converts them into the
// settlement currency and hands them to the distributor.
package intake

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"fractional-ledger/internal/distribution"
	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/eventlog"
	"fractional-ledger/internal/fixedpoint"
	"fractional-ledger/internal/idhash"
	"fractional-ledger/internal/ledger"
	"fractional-ledger/internal/observability"
	"fractional-ledger/internal/oracle"
	"fractional-ledger/internal/storage"
)

// Payment is an incoming payment before conversion.
type Payment struct {
	AssetID  string
	Payer    string
	Amount   *uint256.Int // base units of Currency
	Currency string
}

// Receipt is the outcome of a processed payment. Pages holds every
// distribution page recorded, even when a later page failed.
type Receipt struct {
	Record domain.PaymentRecord
	Pages  []*distribution.Result
}

// Options configures a Processor.
type Options struct {
	Ledger      *ledger.Ledger
	Distributor *distribution.Distributor
	Oracle      oracle.Resolver
	Payments    storage.PaymentStore
	Events      *eventlog.Log // optional

	// Principal is the intake identity the distributor accepts.
	Principal string
	// SettlementCurrency is the currency holders are paid in.
	SettlementCurrency string
	// BatchSize bounds the holders recorded per distribution page.
	BatchSize int

	Clock  func() int64
	Logger *zap.Logger
}

// Processor records payments and drives their distribution.
type Processor struct {
	ledger     *ledger.Ledger
	dist       *distribution.Distributor
	oracle     oracle.Resolver
	payments   storage.PaymentStore
	events     *eventlog.Log
	principal  string
	settlement string
	batchSize  int
	now        func() int64
	logger     *zap.Logger
	nonce      atomic.Uint64
}

// NewProcessor creates a payment processor.
func NewProcessor(opts Options) *Processor {
	if opts.Clock == nil {
		opts.Clock = func() int64 { return time.Now().UnixMilli() }
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Processor{
		ledger:     opts.Ledger,
		dist:       opts.Distributor,
		oracle:     opts.Oracle,
		payments:   opts.Payments,
		events:     opts.Events,
		principal:  opts.Principal,
		settlement: opts.SettlementCurrency,
		batchSize:  opts.BatchSize,
		now:        opts.Clock,
		logger:     opts.Logger.Named("intake"),
	}
}

// Process converts and records the payment, then distributes it to every
// holder. The record is kept even when distribution fails part way.
func (p *Processor) Process(ctx context.Context, in Payment) (*Receipt, error) {
	start := time.Now()
	rec, pages, err := p.process(ctx, in)
	observability.RecordPayment(in.Currency, err)
	observability.RecordOperation("process_payment", time.Since(start).Seconds(), err)
	if rec == nil {
		return nil, err
	}
	return &Receipt{Record: *rec, Pages: pages}, err
}

func (p *Processor) process(ctx context.Context, in Payment) (*domain.PaymentRecord, []*distribution.Result, error) {
	if in.AssetID == "" || in.Payer == "" || in.Currency == "" {
		return nil, nil, fmt.Errorf("payment: missing asset, payer or currency: %w", storage.ErrInvalidInput)
	}
	if in.Amount == nil || in.Amount.IsZero() {
		return nil, nil, fmt.Errorf("payment for %s: %w", in.AssetID, domain.ErrZeroAmount)
	}

	// The quote may block on the network and is taken before any asset lock.
	rate, valid := p.oracle.ResolvePrice(ctx, in.Currency, p.settlement)
	if !valid || rate == nil || rate.IsZero() {
		return nil, nil, fmt.Errorf("price %s: %w", oracle.PairKey(in.Currency, p.settlement), domain.ErrInvalidOracleResult)
	}
	converted, err := fixedpoint.MulDiv(in.Amount, rate, fixedpoint.One)
	if err != nil {
		return nil, nil, err
	}
	if converted.IsZero() {
		return nil, nil, fmt.Errorf("payment for %s converts to zero: %w", in.AssetID, domain.ErrZeroAmount)
	}

	err = p.ledger.View(ctx, in.AssetID, func(tx *ledger.Tx) error {
		if !tx.Active() {
			return fmt.Errorf("payment for %s: %w", in.AssetID, domain.ErrAssetInactive)
		}
		if tx.TotalSupply().IsZero() {
			return fmt.Errorf("payment for %s: %w", in.AssetID, domain.ErrEmptySupply)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	now := p.now()
	rec := &domain.PaymentRecord{
		PaymentID: idhash.ComputePaymentID(in.AssetID, in.Payer, in.Currency, in.Amount.Dec(), now, p.nonce.Add(1)),
		AssetID:   in.AssetID,
		Payer:     in.Payer,
		Amount:    *in.Amount,
		Currency:  in.Currency,
		Rate:      *rate,
		Timestamp: now,
	}
	rec.ConvertedAmount = *converted

	if err := p.payments.Insert(ctx, rec); err != nil {
		return nil, nil, fmt.Errorf("insert payment %s: %w", rec.PaymentID, err)
	}

	if p.events != nil {
		p.events.Emit(ctx, domain.LedgerEvent{
			Kind:    domain.EventPaymentProcessed,
			AssetID: rec.AssetID,
			Actor:   rec.Payer,
			RefID:   rec.PaymentID,
			Attrs: map[string]string{
				"amount":    rec.Amount.Dec(),
				"currency":  rec.Currency,
				"rate":      rec.Rate.Dec(),
				"converted": rec.ConvertedAmount.Dec(),
			},
		})
	}
	p.logger.Info("payment recorded",
		zap.String("payment_id", rec.PaymentID),
		zap.String("asset_id", rec.AssetID),
		zap.String("currency", rec.Currency),
		zap.String("converted", fixedpoint.Format(&rec.ConvertedAmount)),
	)

	pages, err := p.dist.DistributeAll(ctx, p.principal, distribution.Request{
		AssetID:   rec.AssetID,
		PaymentID: rec.PaymentID,
		Amount:    converted,
		MaxBatch:  p.batchSize,
	})
	if err != nil {
		p.logger.Error("distribution incomplete",
			zap.String("payment_id", rec.PaymentID),
			zap.Int("pages", len(pages)),
			zap.Error(err),
		)
		return rec, pages, fmt.Errorf("distribute %s: %w", rec.PaymentID, err)
	}
	return rec, pages, nil
}

// Resume finishes the distribution of a recorded payment: it continues
// from the last recorded page, or starts over when no page was recorded.
func (p *Processor) Resume(ctx context.Context, paymentID string) ([]*distribution.Result, error) {
	rec, err := p.payments.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("resume %s: payment %w", paymentID, err)
		}
		return nil, err
	}
	return p.dist.Resume(ctx, p.principal, distribution.Request{
		AssetID:   rec.AssetID,
		PaymentID: rec.PaymentID,
		Amount:    &rec.ConvertedAmount,
		MaxBatch:  p.batchSize,
	})
}

// ResumePending finishes every distribution left incomplete, including
// payments whose first page was never recorded. Failures are logged and
// skipped; the number of completed distributions is returned.
func (p *Processor) ResumePending(ctx context.Context) (int, error) {
	var ids []string
	seen := make(map[string]bool)

	runs, err := p.dist.PendingRuns(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending runs: %w", err)
	}
	for _, r := range runs {
		ids = append(ids, r.PaymentID)
		seen[r.PaymentID] = true
	}

	for _, assetID := range p.ledger.Assets() {
		payments, err := p.payments.GetByAsset(ctx, assetID)
		if err != nil {
			return 0, fmt.Errorf("list payments of %s: %w", assetID, err)
		}
		for _, rec := range payments {
			if seen[rec.PaymentID] {
				continue
			}
			_, err := p.dist.Run(ctx, rec.PaymentID)
			if err == nil {
				continue
			}
			if !errors.Is(err, storage.ErrNotFound) {
				return 0, fmt.Errorf("load run of %s: %w", rec.PaymentID, err)
			}
			ids = append(ids, rec.PaymentID)
			seen[rec.PaymentID] = true
		}
	}

	completed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return completed, err
		}
		pages, err := p.Resume(ctx, id)
		if err != nil {
			p.logger.Warn("distribution still incomplete",
				zap.String("payment_id", id),
				zap.Int("pages", len(pages)),
				zap.Error(err),
			)
			continue
		}
		completed++
	}
	return completed, nil
}

// Payment returns a stored payment record.
func (p *Processor) Payment(ctx context.Context, paymentID string) (*domain.PaymentRecord, error) {
	return p.payments.GetByID(ctx, paymentID)
}

// Payments returns the payments of an asset.
func (p *Processor) Payments(ctx context.Context, assetID string) ([]*domain.PaymentRecord, error) {
	return p.payments.GetByAsset(ctx, assetID)
}

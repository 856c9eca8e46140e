// Package distribution turns incoming payments into exact per-holder
// allocations and delivers them through a Payer.
//
// A distribution run snapshots the holder balances and total supply when
// its first page is recorded. Every page allocates from that snapshot, so
// the allocations of all pages plus the remainder carried to dust always
// add up to the payment. The run is saved with every page, so a run cut
// short by a failure or a restart can be resumed from its last page.
// Records are written while the asset lock is held; payouts happen after
// it is released.
package distribution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/eventlog"
	"fractional-ledger/internal/fixedpoint"
	"fractional-ledger/internal/ledger"
	"fractional-ledger/internal/observability"
	"fractional-ledger/internal/storage"
	"fractional-ledger/internal/storage/memory"
)

// Payout is one transfer of yield to a holder.
type Payout struct {
	PaymentID string
	AssetID   string
	Holder    string
	Amount    uint256.Int
	Currency  string
}

// Payer delivers yield to holders.
type Payer interface {
	Pay(ctx context.Context, p Payout) error
}

// Options configures a Distributor.
type Options struct {
	Ledger  *ledger.Ledger
	Payer   Payer
	Records storage.DistributionStore    // defaults to an in-memory store
	Runs    storage.DistributionRunStore // defaults to an in-memory store
	Events  *eventlog.Log                // optional

	// IntakePrincipal is the only caller allowed to distribute.
	IntakePrincipal string
	// Currency labels payouts; amounts are in the settlement currency.
	Currency string
	// DustFoldThreshold folds the dust ledger into the next payment once it
	// reaches this amount. Nil or zero disables folding.
	DustFoldThreshold *uint256.Int
	// DefaultBatchSize applies when a request sets no MaxBatch. 0 means
	// one page for all holders.
	DefaultBatchSize int

	Clock  func() int64
	Logger *zap.Logger
}

// Request starts or continues a distribution.
type Request struct {
	AssetID   string
	PaymentID string
	Amount    *uint256.Int // ignored on continuation pages
	Cursor    string       // empty on the first page
	MaxBatch  int
}

// PayoutResult is the delivery outcome of one record.
type PayoutResult struct {
	Holder string
	Amount uint256.Int
	Paid   bool
	Err    error
}

// Result describes one recorded page.
type Result struct {
	PaymentID string
	AssetID   string
	Payouts   []PayoutResult
	// FoldedDust is the dust added to the payment; set on the first page.
	FoldedDust uint256.Int
	// Remainder is the amount carried to dust; set on the final page.
	Remainder uint256.Int
	// NextCursor is empty once every holder has been recorded.
	NextCursor string
}

// Done reports whether the run completed with this page.
func (r *Result) Done() bool { return r.NextCursor == "" }

// Distributor runs distributions and unclaimed-yield claims.
type Distributor struct {
	ledger    *ledger.Ledger
	payer     Payer
	records   storage.DistributionStore
	runs      storage.DistributionRunStore
	events    *eventlog.Log
	intake    string
	currency  string
	threshold uint256.Int
	batchSize int
	now       func() int64
	logger    *zap.Logger

	mu       sync.Mutex
	inflight map[recordKey]struct{}
}

type recordKey struct {
	paymentID string
	holder    string
}

// New creates a distributor.
func New(opts Options) *Distributor {
	if opts.Clock == nil {
		opts.Clock = func() int64 { return time.Now().UnixMilli() }
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Records == nil {
		opts.Records = memory.NewDistributionStore()
	}
	if opts.Runs == nil {
		opts.Runs = memory.NewDistributionRunStore()
	}
	d := &Distributor{
		ledger:    opts.Ledger,
		payer:     opts.Payer,
		records:   opts.Records,
		runs:      opts.Runs,
		events:    opts.Events,
		intake:    opts.IntakePrincipal,
		currency:  opts.Currency,
		batchSize: opts.DefaultBatchSize,
		now:       opts.Clock,
		logger:    opts.Logger.Named("distribution"),
		inflight:  make(map[recordKey]struct{}),
	}
	if opts.DustFoldThreshold != nil {
		d.threshold = *opts.DustFoldThreshold
	}
	return d
}

// Distribute records one page of a distribution and pays it out.
func (d *Distributor) Distribute(ctx context.Context, caller string, req Request) (*Result, error) {
	start := time.Now()
	res, err := d.distribute(ctx, caller, req)
	observability.RecordOperation("distribute", time.Since(start).Seconds(), err)
	return res, err
}

// DistributeAll records and pays every page of a new distribution.
func (d *Distributor) DistributeAll(ctx context.Context, caller string, req Request) ([]*Result, error) {
	var pages []*Result
	for {
		res, err := d.Distribute(ctx, caller, req)
		if err != nil {
			return pages, err
		}
		pages = append(pages, res)
		if res.Done() {
			return pages, nil
		}
		req.Cursor = res.NextCursor
	}
}

func (d *Distributor) distribute(ctx context.Context, caller string, req Request) (*Result, error) {
	if err := d.authorize(caller); err != nil {
		return nil, err
	}
	if req.PaymentID == "" {
		return nil, fmt.Errorf("distribute: %w", storage.ErrInvalidInput)
	}

	offset := 0
	if req.Cursor != "" {
		paymentID, off, err := DecodeCursor(req.Cursor)
		if err != nil {
			return nil, err
		}
		if paymentID != req.PaymentID {
			return nil, fmt.Errorf("cursor is for payment %s: %w", paymentID, domain.ErrInvalidCursor)
		}
		offset = off
	} else if req.Amount == nil || req.Amount.IsZero() {
		return nil, fmt.Errorf("distribute %s: %w", req.PaymentID, domain.ErrZeroAmount)
	}

	batch := req.MaxBatch
	if batch <= 0 {
		batch = d.batchSize
	}

	res := &Result{PaymentID: req.PaymentID, AssetID: req.AssetID}
	var page []*domain.DistributionRecord

	err := d.ledger.Update(ctx, req.AssetID, func(tx *ledger.Tx) error {
		r, err := d.beginPage(ctx, tx, req, offset, res)
		if err != nil {
			return err
		}

		end := len(r.Holders)
		if batch > 0 && offset+batch < end {
			end = offset + batch
		}

		now := d.now()
		next := *r
		page = make([]*domain.DistributionRecord, 0, end-offset)
		for i := offset; i < end; i++ {
			h := r.Holders[i]
			share, err := fixedpoint.MulDiv(&h.Balance, &r.Amount, &r.Supply)
			if err != nil {
				return fmt.Errorf("allocate to %s: %w", h.Holder, err)
			}
			if share.IsZero() {
				continue
			}
			next.Allocated.Add(&next.Allocated, share)
			page = append(page, &domain.DistributionRecord{
				PaymentID: req.PaymentID,
				AssetID:   req.AssetID,
				Holder:    h.Holder,
				Seq:       i,
				Amount:    *share,
				CreatedAt: now,
			})
		}
		next.Offset = end
		next.UpdatedAt = now

		if end == len(r.Holders) {
			remainder, err := fixedpoint.Sub(&r.Amount, &next.Allocated)
			if err != nil {
				return fmt.Errorf("remainder: %w", err)
			}
			if err := tx.AddDust(remainder); err != nil {
				return err
			}
			res.Remainder = *remainder
			next.Done = true
		} else {
			res.NextCursor = EncodeCursor(req.PaymentID, end)
		}

		tx.OnPersist(func(ctx context.Context) error {
			if err := d.recordPage(ctx, page); err != nil {
				return fmt.Errorf("record distribution %s: %w", req.PaymentID, err)
			}
			if err := d.runs.Save(ctx, &next); err != nil {
				return fmt.Errorf("save distribution run %s: %w", req.PaymentID, err)
			}
			return nil
		})
		tx.OnCommit(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			for _, rec := range page {
				d.inflight[recordKey{rec.PaymentID, rec.Holder}] = struct{}{}
			}
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	observability.RecordDistributionPage()

	d.logger.Debug("distribution page recorded",
		zap.String("payment_id", req.PaymentID),
		zap.String("asset_id", req.AssetID),
		zap.Int("records", len(page)),
		zap.Bool("final", res.Done()),
	)

	res.Payouts = make([]PayoutResult, 0, len(page))
	for _, rec := range page {
		err := d.pay(ctx, rec)
		observability.RecordPayout(err)
		res.Payouts = append(res.Payouts, PayoutResult{Holder: rec.Holder, Amount: rec.Amount, Paid: err == nil, Err: err})
		d.emit(ctx, domain.LedgerEvent{
			Kind:    domain.EventYieldDistributed,
			AssetID: req.AssetID,
			Actor:   caller,
			RefID:   req.PaymentID,
			Attrs: map[string]string{
				"holder": rec.Holder,
				"amount": rec.Amount.Dec(),
				"paid":   fmt.Sprint(err == nil),
			},
		})
	}
	return res, nil
}

// beginPage returns the run the page allocates from, starting a new one on
// the first page. Called under the asset lock.
func (d *Distributor) beginPage(ctx context.Context, tx *ledger.Tx, req Request, offset int, res *Result) (*domain.DistributionRun, error) {
	existing, err := d.runs.Get(ctx, req.PaymentID)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		existing = nil
	default:
		return nil, fmt.Errorf("load distribution run %s: %w", req.PaymentID, err)
	}

	if req.Cursor != "" {
		if existing == nil || existing.Done || existing.AssetID != req.AssetID || existing.Offset != offset {
			return nil, fmt.Errorf("no pending page at offset %d for payment %s: %w",
				offset, req.PaymentID, domain.ErrInvalidCursor)
		}
		return existing, nil
	}
	if existing != nil {
		if existing.Done {
			return nil, fmt.Errorf("payment %s: %w", req.PaymentID, domain.ErrAlreadyDistributed)
		}
		return nil, fmt.Errorf("payment %s already has a run in progress: %w", req.PaymentID, domain.ErrInvalidCursor)
	}

	if !tx.Active() {
		return nil, fmt.Errorf("asset %s: %w", req.AssetID, domain.ErrAssetInactive)
	}
	supply := tx.TotalSupply()
	if supply.IsZero() {
		return nil, fmt.Errorf("asset %s: %w", req.AssetID, domain.ErrEmptySupply)
	}

	amount := new(uint256.Int).Set(req.Amount)
	r := &domain.DistributionRun{
		PaymentID: req.PaymentID,
		AssetID:   req.AssetID,
		Supply:    *supply,
		Holders:   tx.Positions(),
	}
	if !d.threshold.IsZero() && !tx.Dust().Lt(&d.threshold) {
		folded := tx.TakeDust()
		sum, err := fixedpoint.Add(amount, folded)
		if err != nil {
			return nil, fmt.Errorf("fold dust: %w", err)
		}
		amount = sum
		r.FoldedDust = *folded
		res.FoldedDust = *folded
	}
	r.Amount = *amount
	r.CreatedAt = d.now()
	r.UpdatedAt = r.CreatedAt
	return r, nil
}

// pay delivers one record and marks it claimed. The record must be
// reserved in d.inflight; the reservation is released unless the payout
// succeeded but could not be marked, so no second payout can start.
func (d *Distributor) pay(ctx context.Context, rec *domain.DistributionRecord) error {
	key := recordKey{rec.PaymentID, rec.Holder}
	release := true
	defer func() {
		if release {
			d.mu.Lock()
			delete(d.inflight, key)
			d.mu.Unlock()
		}
	}()

	err := d.payer.Pay(ctx, Payout{
		PaymentID: rec.PaymentID,
		AssetID:   rec.AssetID,
		Holder:    rec.Holder,
		Amount:    rec.Amount,
		Currency:  d.currency,
	})
	if err != nil {
		d.logger.Warn("payout failed, yield left unclaimed",
			zap.String("payment_id", rec.PaymentID),
			zap.String("holder", rec.Holder),
			zap.String("amount", rec.Amount.Dec()),
			zap.Error(err),
		)
		return err
	}

	if err := d.records.MarkClaimed(ctx, rec.PaymentID, rec.Holder, d.now()); err != nil {
		if errors.Is(err, storage.ErrAlreadyClaimed) {
			return nil
		}
		release = false
		d.logger.Error("payout delivered but not marked claimed",
			zap.String("payment_id", rec.PaymentID),
			zap.String("holder", rec.Holder),
			zap.Error(err),
		)
	}
	return nil
}

func (d *Distributor) emit(ctx context.Context, e domain.LedgerEvent) {
	if d.events != nil {
		d.events.Emit(ctx, e)
	}
}

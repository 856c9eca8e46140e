package distribution

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/storage"
)

// Resume records and pays the remaining pages of a payment's distribution.
// It continues from the saved run, or starts the run when no page was ever
// recorded, in which case req.Amount is required. req.Cursor is ignored.
func (d *Distributor) Resume(ctx context.Context, caller string, req Request) ([]*Result, error) {
	if err := d.authorize(caller); err != nil {
		return nil, err
	}

	r, err := d.runs.Get(ctx, req.PaymentID)
	switch {
	case err == nil:
		if r.Done {
			return nil, fmt.Errorf("payment %s: %w", req.PaymentID, domain.ErrAlreadyDistributed)
		}
		if r.AssetID != req.AssetID {
			return nil, fmt.Errorf("payment %s runs on asset %s: %w", req.PaymentID, r.AssetID, domain.ErrInvalidCursor)
		}
		req.Cursor = EncodeCursor(req.PaymentID, r.Offset)
	case errors.Is(err, storage.ErrNotFound):
		req.Cursor = ""
	default:
		return nil, fmt.Errorf("load distribution run %s: %w", req.PaymentID, err)
	}

	d.logger.Info("resuming distribution",
		zap.String("payment_id", req.PaymentID),
		zap.String("asset_id", req.AssetID),
		zap.Bool("started", req.Cursor != ""),
	)
	return d.DistributeAll(ctx, caller, req)
}

// Run returns the saved run of a payment. Returns storage.ErrNotFound when
// no page was recorded yet.
func (d *Distributor) Run(ctx context.Context, paymentID string) (*domain.DistributionRun, error) {
	return d.runs.Get(ctx, paymentID)
}

// PendingRuns returns the runs that recorded some pages but not all.
func (d *Distributor) PendingRuns(ctx context.Context) ([]*domain.DistributionRun, error) {
	return d.runs.ListPending(ctx)
}

func (d *Distributor) authorize(caller string) error {
	if caller == "" || caller != d.intake {
		return fmt.Errorf("distribute as %q: %w", caller, domain.ErrUnauthorized)
	}
	return nil
}

// recordPage inserts the page's records. A page stored by an earlier
// attempt whose run could not be saved is accepted when every record
// matches.
func (d *Distributor) recordPage(ctx context.Context, page []*domain.DistributionRecord) error {
	if len(page) == 0 {
		return nil
	}
	err := d.records.InsertBulk(ctx, page)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		return err
	}

	stored, getErr := d.records.GetByPayment(ctx, page[0].PaymentID)
	if getErr != nil {
		return err
	}
	have := make(map[string]uint256.Int, len(stored))
	for _, rec := range stored {
		have[rec.Holder] = rec.Amount
	}
	for _, rec := range page {
		amount, ok := have[rec.Holder]
		if !ok || !amount.Eq(&rec.Amount) {
			return err
		}
	}

	d.logger.Warn("distribution page already recorded",
		zap.String("payment_id", page[0].PaymentID),
		zap.Int("records", len(page)),
	)
	return nil
}

package distribution

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/ledger"
	"fractional-ledger/internal/observability"
)

// ClaimResult lists the outcome of every record a claim attempted.
type ClaimResult struct {
	AssetID string
	Holder  string
	Payouts []ClaimedPayout
}

// ClaimedPayout is the outcome of one claimed record.
type ClaimedPayout struct {
	PaymentID string
	Amount    string
	Paid      bool
	Err       error
}

// ClaimUnclaimedYield retries the payout of the caller's unclaimed records
// for asset. When paymentIDs is empty every unclaimed record is retried.
// It fails only when nothing could be attempted or every attempt failed.
func (d *Distributor) ClaimUnclaimedYield(ctx context.Context, holder, assetID string, paymentIDs []string) (*ClaimResult, error) {
	start := time.Now()
	res, err := d.claim(ctx, holder, assetID, paymentIDs)
	observability.RecordOperation("claim", time.Since(start).Seconds(), err)
	return res, err
}

func (d *Distributor) claim(ctx context.Context, holder, assetID string, paymentIDs []string) (*ClaimResult, error) {
	if holder == "" {
		return nil, fmt.Errorf("claim: %w", domain.ErrInvalidAddress)
	}
	if err := d.ledger.View(ctx, assetID, func(*ledger.Tx) error { return nil }); err != nil {
		return nil, err
	}

	records, err := d.records.GetByHolder(ctx, assetID, holder)
	if err != nil {
		return nil, fmt.Errorf("load records of %s: %w", holder, err)
	}

	wanted := make(map[string]bool, len(paymentIDs))
	for _, id := range paymentIDs {
		wanted[id] = true
	}

	var (
		matched  int
		claimed  int
		reserved []*domain.DistributionRecord
	)
	d.mu.Lock()
	for _, rec := range records {
		if len(wanted) > 0 && !wanted[rec.PaymentID] {
			continue
		}
		matched++
		if rec.Claimed {
			claimed++
			continue
		}
		key := recordKey{rec.PaymentID, rec.Holder}
		if _, busy := d.inflight[key]; busy {
			claimed++
			continue
		}
		d.inflight[key] = struct{}{}
		reserved = append(reserved, rec)
	}
	d.mu.Unlock()

	if len(reserved) == 0 {
		if matched > 0 && claimed > 0 {
			return nil, fmt.Errorf("claim %s on %s: %w", holder, assetID, domain.ErrAlreadyClaimed)
		}
		return nil, fmt.Errorf("claim %s on %s: %w", holder, assetID, domain.ErrNothingToClaim)
	}

	res := &ClaimResult{AssetID: assetID, Holder: holder, Payouts: make([]ClaimedPayout, 0, len(reserved))}
	var lastErr error
	for _, rec := range reserved {
		err := d.pay(ctx, rec)
		observability.RecordClaim(err)
		res.Payouts = append(res.Payouts, ClaimedPayout{
			PaymentID: rec.PaymentID,
			Amount:    rec.Amount.Dec(),
			Paid:      err == nil,
			Err:       err,
		})
		if err != nil {
			lastErr = err
			continue
		}
		d.emit(ctx, domain.LedgerEvent{
			Kind:    domain.EventYieldClaimed,
			AssetID: assetID,
			Actor:   holder,
			RefID:   rec.PaymentID,
			Attrs:   map[string]string{"amount": rec.Amount.Dec()},
		})
	}

	paid := 0
	for _, p := range res.Payouts {
		if p.Paid {
			paid++
		}
	}
	d.logger.Info("unclaimed yield claim",
		zap.String("asset_id", assetID),
		zap.String("holder", holder),
		zap.Int("attempted", len(reserved)),
		zap.Int("paid", paid),
	)
	if paid == 0 {
		return res, fmt.Errorf("all %d payouts failed: %w", len(reserved), lastErr)
	}
	return res, nil
}

// Records returns the records of a payment in holder order.
func (d *Distributor) Records(ctx context.Context, paymentID string) ([]*domain.DistributionRecord, error) {
	return d.records.GetByPayment(ctx, paymentID)
}

// Unclaimed returns the holder's unclaimed records for an asset.
func (d *Distributor) Unclaimed(ctx context.Context, assetID, holder string) ([]*domain.DistributionRecord, error) {
	records, err := d.records.GetByHolder(ctx, assetID, holder)
	if err != nil {
		return nil, err
	}
	out := records[:0]
	for _, rec := range records {
		if !rec.Claimed {
			out = append(out, rec)
		}
	}
	return out, nil
}

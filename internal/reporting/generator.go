package reporting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/holiman/uint256"

	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/fixedpoint"
	"fractional-ledger/internal/storage"
)

// Generator produces reports from stored data.
type Generator struct {
	assetStore        storage.AssetStore
	poolStore         storage.PoolStore
	proposalStore     storage.ProposalStore
	paymentStore      storage.PaymentStore
	distributionStore storage.DistributionStore
	now               func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(
	assetStore storage.AssetStore,
	poolStore storage.PoolStore,
	proposalStore storage.ProposalStore,
	paymentStore storage.PaymentStore,
	distributionStore storage.DistributionStore,
) *Generator {
	return &Generator{
		assetStore:        assetStore,
		poolStore:         poolStore,
		proposalStore:     proposalStore,
		paymentStore:      paymentStore,
		distributionStore: distributionStore,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate produces the report of one asset.
func (g *Generator) Generate(ctx context.Context, assetID string) (*AssetReport, error) {
	snap, err := g.assetStore.Get(ctx, assetID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("asset %s: %w", assetID, domain.ErrAssetNotFound)
		}
		return nil, err
	}

	report := &AssetReport{
		GeneratedAt: g.now(),
		AssetID:     assetID,
		Summary: AssetSummary{
			Active:      snap.Active,
			TotalSupply: snap.TotalSupply.Dec(),
			Dust:        snap.Dust.Dec(),
			Version:     snap.Version,
			UpdatedAt:   snap.UpdatedAt,
		},
		Holders: holderRows(snap),
	}
	report.Summary.HolderCount = len(report.Holders)

	if report.Payments, err = g.paymentRows(ctx, assetID); err != nil {
		return nil, err
	}

	pool, err := g.poolStore.Get(ctx, assetID)
	switch {
	case err == nil:
		report.Pool = poolRow(pool)
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	if report.Proposals, err = g.proposalRows(ctx, assetID); err != nil {
		return nil, err
	}
	return report, nil
}

// Statement returns the distribution records of a payment in seq order.
func (g *Generator) Statement(ctx context.Context, paymentID string) ([]StatementRow, error) {
	records, err := g.distributionStore.GetByPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	rows := make([]StatementRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, StatementRow{
			PaymentID: r.PaymentID,
			AssetID:   r.AssetID,
			Seq:       r.Seq,
			Holder:    r.Holder,
			Amount:    r.Amount.Dec(),
			Claimed:   r.Claimed,
			CreatedAt: r.CreatedAt,
			ClaimedAt: r.ClaimedAt,
		})
	}
	return rows, nil
}

// holderRows lists positive balances, largest first.
func holderRows(snap *domain.AssetSnapshot) []HolderRow {
	rows := make([]HolderRow, 0, len(snap.Balances))
	bps := new(uint256.Int)
	for _, b := range snap.Balances {
		if b.Balance.IsZero() {
			continue
		}
		var share int64
		if !snap.TotalSupply.IsZero() {
			// balance <= supply, so the quotient fits in 10000
			bps.MulDivOverflow(&b.Balance, fixedpoint.BpsDenominator, &snap.TotalSupply)
			share = int64(bps.Uint64())
		}
		rows = append(rows, HolderRow{Holder: b.Holder, Balance: b.Balance.Dec(), ShareBps: share})
	}

	balances := make(map[string]uint256.Int, len(snap.Balances))
	for _, b := range snap.Balances {
		balances[b.Holder] = b.Balance
	}
	sort.Slice(rows, func(i, j int) bool {
		bi, bj := balances[rows[i].Holder], balances[rows[j].Holder]
		if c := bi.Cmp(&bj); c != 0 {
			return c > 0
		}
		return rows[i].Holder < rows[j].Holder
	})
	return rows
}

func (g *Generator) paymentRows(ctx context.Context, assetID string) ([]PaymentRow, error) {
	payments, err := g.paymentStore.GetByAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	rows := make([]PaymentRow, 0, len(payments))
	for _, p := range payments {
		records, err := g.distributionStore.GetByPayment(ctx, p.PaymentID)
		if err != nil {
			return nil, err
		}
		var distributed, unclaimed uint256.Int
		for _, r := range records {
			distributed.Add(&distributed, &r.Amount)
			if !r.Claimed {
				unclaimed.Add(&unclaimed, &r.Amount)
			}
		}
		rows = append(rows, PaymentRow{
			PaymentID:   p.PaymentID,
			Payer:       p.Payer,
			Currency:    p.Currency,
			Amount:      p.Amount.Dec(),
			Converted:   p.ConvertedAmount.Dec(),
			Distributed: distributed.Dec(),
			Unclaimed:   unclaimed.Dec(),
			Records:     len(records),
			Timestamp:   p.Timestamp,
		})
	}
	return rows, nil
}

func poolRow(p *domain.Pool) *PoolRow {
	row := &PoolRow{
		ReserveToken: p.ReserveToken.Dec(),
		ReserveBase:  p.ReserveBase.Dec(),
		InvariantK:   p.InvariantK.Dec(),
		FeeBps:       p.FeeBps,
		SpotPrice:    "0",
	}
	if !p.ReserveToken.IsZero() {
		if price, err := fixedpoint.MulDiv(&p.ReserveBase, fixedpoint.One, &p.ReserveToken); err == nil {
			row.SpotPrice = fixedpoint.Format(price)
		}
	}
	return row
}

func (g *Generator) proposalRows(ctx context.Context, assetID string) ([]ProposalRow, error) {
	proposals, err := g.proposalStore.GetByAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	rows := make([]ProposalRow, 0, len(proposals))
	for _, p := range proposals {
		votes, err := g.proposalStore.GetVotes(ctx, p.ProposalID)
		if err != nil {
			return nil, err
		}
		rows = append(rows, ProposalRow{
			ProposalID:     p.ProposalID,
			Proposer:       p.Proposer,
			State:          string(p.State),
			YesPower:       p.YesPower.Dec(),
			NoPower:        p.NoPower.Dec(),
			Votes:          len(votes),
			VotingDeadline: p.VotingDeadline,
		})
	}
	return rows, nil
}

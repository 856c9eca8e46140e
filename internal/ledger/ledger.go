// Package ledger holds the per-asset balance books shared by the yield,
// liquidity and governance engines.
//
// Every mutation of an asset runs inside Update, which serializes callers
// per asset and commits the buffered writes only when the callback
// succeeds. Different assets proceed in parallel.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/storage"
)

// Allocation seeds a holder balance at registration.
type Allocation struct {
	Holder string
	Amount uint256.Int
}

// Options configures a Ledger.
type Options struct {
	// Store persists asset snapshots on every commit. Optional.
	Store storage.AssetStore
	// Clock returns unix ms. Defaults to time.Now.
	Clock func() int64
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
}

// Ledger is the process-wide set of asset books.
type Ledger struct {
	mu     sync.RWMutex
	books  map[string]*book
	store  storage.AssetStore
	now    func() int64
	logger *zap.Logger
}

// New creates an empty ledger.
func New(opts Options) *Ledger {
	if opts.Clock == nil {
		opts.Clock = func() int64 { return time.Now().UnixMilli() }
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Ledger{
		books:  make(map[string]*book),
		store:  opts.Store,
		now:    opts.Clock,
		logger: opts.Logger.Named("ledger"),
	}
}

// RegisterAsset creates an active asset whose total supply is the sum of
// the initial allocations. Repeated holders are merged in first-seen order.
func (l *Ledger) RegisterAsset(ctx context.Context, assetID string, allocations []Allocation) (*domain.AssetSnapshot, error) {
	if assetID == "" {
		return nil, fmt.Errorf("register asset: %w", storage.ErrInvalidInput)
	}

	now := l.now()
	b := &book{
		assetID:   assetID,
		active:    true,
		balances:  make(map[string]uint256.Int, len(allocations)),
		createdAt: now,
		updatedAt: now,
		version:   1,
	}
	for _, a := range allocations {
		if a.Holder == "" {
			return nil, fmt.Errorf("register asset %s: %w", assetID, domain.ErrInvalidAddress)
		}
		if a.Amount.IsZero() {
			return nil, fmt.Errorf("register asset %s: holder %s: %w", assetID, a.Holder, domain.ErrZeroAmount)
		}
		bal, seen := b.balances[a.Holder]
		if _, overflow := bal.AddOverflow(&bal, &a.Amount); overflow {
			return nil, fmt.Errorf("register asset %s: %w", assetID, domain.ErrArithmeticOverflow)
		}
		if _, overflow := b.supply.AddOverflow(&b.supply, &a.Amount); overflow {
			return nil, fmt.Errorf("register asset %s: %w", assetID, domain.ErrArithmeticOverflow)
		}
		if !seen {
			b.order = append(b.order, a.Holder)
		}
		b.balances[a.Holder] = bal
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.books[assetID]; exists {
		return nil, fmt.Errorf("register asset %s: %w", assetID, domain.ErrAssetExists)
	}

	snap := b.snapshot()
	if l.store != nil {
		if err := l.store.Save(ctx, snap); err != nil {
			return nil, fmt.Errorf("persist asset %s: %w", assetID, err)
		}
	}
	l.books[assetID] = b

	l.logger.Info("asset registered",
		zap.String("asset_id", assetID),
		zap.String("total_supply", b.supply.Dec()),
		zap.Int("holders", len(b.order)),
	)
	return snap, nil
}

// Restore loads every persisted asset into memory. Assets already present
// are left untouched.
func (l *Ledger) Restore(ctx context.Context) (int, error) {
	if l.store == nil {
		return 0, nil
	}
	snaps, err := l.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list assets: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	restored := 0
	for _, snap := range snaps {
		if _, exists := l.books[snap.AssetID]; exists {
			continue
		}
		l.books[snap.AssetID] = bookFromSnapshot(snap)
		restored++
	}
	return restored, nil
}

// Update runs fn against the asset book under the asset's lock. Writes made
// through the Tx are applied only if fn returns nil and every persistence
// step succeeds.
func (l *Ledger) Update(ctx context.Context, assetID string, fn func(*Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := l.book(assetID)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tx := b.begin()
	if err := fn(tx); err != nil {
		return err
	}
	return l.commit(ctx, b, tx)
}

// View runs fn against a consistent view of the asset book. Writes are
// discarded.
func (l *Ledger) View(ctx context.Context, assetID string, fn func(*Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := l.book(assetID)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return fn(b.begin())
}

// TransferSupply moves amount between holders. An empty from mints and an
// empty to burns.
func (l *Ledger) TransferSupply(ctx context.Context, assetID, from, to string, amount *uint256.Int) error {
	return l.Update(ctx, assetID, func(tx *Tx) error {
		return tx.TransferSupply(from, to, amount)
	})
}

// Deactivate marks the asset inactive. Mutations fail afterwards.
func (l *Ledger) Deactivate(ctx context.Context, assetID string) error {
	return l.Update(ctx, assetID, func(tx *Tx) error {
		if !tx.active {
			return fmt.Errorf("deactivate %s: %w", assetID, domain.ErrAssetInactive)
		}
		tx.active = false
		tx.changed = true
		return nil
	})
}

// Balance returns the holder balance, zero for unknown holders.
func (l *Ledger) Balance(ctx context.Context, assetID, holder string) (*uint256.Int, error) {
	var bal *uint256.Int
	err := l.View(ctx, assetID, func(tx *Tx) error {
		bal = tx.Balance(holder)
		return nil
	})
	return bal, err
}

// TotalSupply returns the asset's current supply.
func (l *Ledger) TotalSupply(ctx context.Context, assetID string) (*uint256.Int, error) {
	var supply *uint256.Int
	err := l.View(ctx, assetID, func(tx *Tx) error {
		supply = tx.TotalSupply()
		return nil
	})
	return supply, err
}

// Holders returns up to limit positive balances starting at offset, in
// registration order, plus the total number of positive balances.
func (l *Ledger) Holders(ctx context.Context, assetID string, offset, limit int) ([]domain.HolderBalance, int, error) {
	var (
		page  []domain.HolderBalance
		total int
	)
	err := l.View(ctx, assetID, func(tx *Tx) error {
		all := tx.Positions()
		total = len(all)
		page = paginate(all, offset, limit)
		return nil
	})
	return page, total, err
}

// Snapshot returns the asset's current persisted form.
func (l *Ledger) Snapshot(ctx context.Context, assetID string) (*domain.AssetSnapshot, error) {
	var snap *domain.AssetSnapshot
	err := l.View(ctx, assetID, func(tx *Tx) error {
		snap = tx.b.snapshot()
		return nil
	})
	return snap, err
}

// Assets returns the registered asset ids in lexical order.
func (l *Ledger) Assets() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]string, 0, len(l.books))
	for id := range l.books {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (l *Ledger) book(assetID string) (*book, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	b, ok := l.books[assetID]
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", assetID, domain.ErrAssetNotFound)
	}
	return b, nil
}

// commit runs persistence hooks, saves the new snapshot and applies the
// overlay. Called with b.mu held.
func (l *Ledger) commit(ctx context.Context, b *book, tx *Tx) error {
	for _, persist := range tx.persists {
		if err := persist(ctx); err != nil {
			return err
		}
	}

	if tx.changed {
		now := l.now()
		if l.store != nil {
			snap := tx.preview(now)
			if err := l.store.Save(ctx, snap); err != nil {
				return fmt.Errorf("persist asset %s: %w", b.assetID, err)
			}
		}
		tx.apply(now)

		l.logger.Debug("asset committed",
			zap.String("asset_id", b.assetID),
			zap.Int64("version", b.version),
			zap.String("total_supply", b.supply.Dec()),
		)
	}

	for _, fn := range tx.commits {
		fn()
	}
	return nil
}

func paginate(all []domain.HolderBalance, offset, limit int) []domain.HolderBalance {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}

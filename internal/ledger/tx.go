package ledger

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"fractional-ledger/internal/domain"
)

// Tx is a buffered view of one asset book. It is only valid inside the
// Update or View callback that received it.
type Tx struct {
	b *book

	supply  uint256.Int
	active  bool
	dust    uint256.Int
	dirty   map[string]uint256.Int
	added   []string
	changed bool

	persists []func(context.Context) error
	commits  []func()
}

// AssetID returns the id of the asset under transaction.
func (tx *Tx) AssetID() string { return tx.b.assetID }

// Active reports whether the asset accepts mutations.
func (tx *Tx) Active() bool { return tx.active }

// TotalSupply returns the supply including buffered writes.
func (tx *Tx) TotalSupply() *uint256.Int { return new(uint256.Int).Set(&tx.supply) }

// Dust returns the undistributed rounding remainder.
func (tx *Tx) Dust() *uint256.Int { return new(uint256.Int).Set(&tx.dust) }

// Balance returns the holder balance including buffered writes.
func (tx *Tx) Balance(holder string) *uint256.Int {
	bal := tx.balance(holder)
	return &bal
}

// Positions returns every positive balance in registration order.
func (tx *Tx) Positions() []domain.HolderBalance {
	out := make([]domain.HolderBalance, 0, len(tx.b.order)+len(tx.added))
	for _, h := range tx.holders() {
		bal := tx.balance(h)
		if bal.IsZero() {
			continue
		}
		out = append(out, domain.HolderBalance{AssetID: tx.b.assetID, Holder: h, Balance: bal})
	}
	return out
}

// TransferSupply moves amount from one holder to another. An empty from
// mints new supply to the recipient; an empty to burns it from the sender.
func (tx *Tx) TransferSupply(from, to string, amount *uint256.Int) error {
	if !tx.active {
		return fmt.Errorf("asset %s: %w", tx.b.assetID, domain.ErrAssetInactive)
	}
	if amount == nil || amount.IsZero() {
		return domain.ErrZeroAmount
	}
	if from == to {
		return fmt.Errorf("transfer %q to itself: %w", from, domain.ErrInvalidAddress)
	}

	var fromBal, toBal uint256.Int
	supply := tx.supply

	if from == "" {
		if _, overflow := supply.AddOverflow(&supply, amount); overflow {
			return fmt.Errorf("mint %s: %w", amount.Dec(), domain.ErrArithmeticOverflow)
		}
	} else {
		fromBal = tx.balance(from)
		if fromBal.Lt(amount) {
			return fmt.Errorf("holder %s has %s, needs %s: %w",
				from, fromBal.Dec(), amount.Dec(), domain.ErrInsufficientBalance)
		}
		fromBal.Sub(&fromBal, amount)
	}

	if to == "" {
		supply.Sub(&supply, amount)
	} else {
		toBal = tx.balance(to)
		if _, overflow := toBal.AddOverflow(&toBal, amount); overflow {
			return fmt.Errorf("credit %s: %w", to, domain.ErrArithmeticOverflow)
		}
	}

	if from != "" {
		tx.set(from, fromBal)
	}
	if to != "" {
		tx.set(to, toBal)
	}
	tx.supply = supply
	tx.changed = true
	return nil
}

// Mint credits new supply to holder.
func (tx *Tx) Mint(holder string, amount *uint256.Int) error {
	if holder == "" {
		return domain.ErrInvalidAddress
	}
	return tx.TransferSupply("", holder, amount)
}

// Burn destroys supply held by holder.
func (tx *Tx) Burn(holder string, amount *uint256.Int) error {
	if holder == "" {
		return domain.ErrInvalidAddress
	}
	return tx.TransferSupply(holder, "", amount)
}

// AddDust carries a rounding remainder forward.
func (tx *Tx) AddDust(amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if _, overflow := tx.dust.AddOverflow(&tx.dust, amount); overflow {
		return fmt.Errorf("dust: %w", domain.ErrArithmeticOverflow)
	}
	tx.changed = true
	return nil
}

// TakeDust zeroes the dust balance and returns what it held.
func (tx *Tx) TakeDust() *uint256.Int {
	taken := tx.Dust()
	if !taken.IsZero() {
		tx.dust.Clear()
		tx.changed = true
	}
	return taken
}

// OnPersist registers a write that must succeed for the transaction to
// commit. Hooks run in order while the asset lock is held.
func (tx *Tx) OnPersist(fn func(context.Context) error) {
	tx.persists = append(tx.persists, fn)
}

// OnCommit registers a callback run after the transaction committed,
// still under the asset lock.
func (tx *Tx) OnCommit(fn func()) {
	tx.commits = append(tx.commits, fn)
}

func (tx *Tx) balance(holder string) uint256.Int {
	if bal, ok := tx.dirty[holder]; ok {
		return bal
	}
	return tx.b.balances[holder]
}

func (tx *Tx) set(holder string, bal uint256.Int) {
	_, known := tx.b.balances[holder]
	_, staged := tx.dirty[holder]
	if !known && !staged {
		tx.added = append(tx.added, holder)
	}
	tx.dirty[holder] = bal
}

func (tx *Tx) holders() []string {
	if len(tx.added) == 0 {
		return tx.b.order
	}
	all := make([]string, 0, len(tx.b.order)+len(tx.added))
	all = append(all, tx.b.order...)
	return append(all, tx.added...)
}

// preview builds the snapshot the book will have after apply.
func (tx *Tx) preview(now int64) *domain.AssetSnapshot {
	holders := tx.holders()
	snap := &domain.AssetSnapshot{
		AssetID:     tx.b.assetID,
		TotalSupply: tx.supply,
		Active:      tx.active,
		Balances:    make([]domain.HolderBalance, 0, len(holders)),
		Dust:        tx.dust,
		Version:     tx.b.version + 1,
		CreatedAt:   tx.b.createdAt,
		UpdatedAt:   now,
	}
	for _, h := range holders {
		snap.Balances = append(snap.Balances, domain.HolderBalance{
			AssetID: tx.b.assetID,
			Holder:  h,
			Balance: tx.balance(h),
		})
	}
	return snap
}

func (tx *Tx) apply(now int64) {
	b := tx.b
	for h, bal := range tx.dirty {
		b.balances[h] = bal
	}
	b.order = append(b.order, tx.added...)
	b.supply = tx.supply
	b.active = tx.active
	b.dust = tx.dust
	b.version++
	b.updatedAt = now
}

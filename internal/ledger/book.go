package ledger

import (
	"sync"

	"github.com/holiman/uint256"

	"fractional-ledger/internal/domain"
)

// book is one asset's balances. Guarded by mu for its whole lifetime.
type book struct {
	mu sync.Mutex

	assetID   string
	supply    uint256.Int
	active    bool
	balances  map[string]uint256.Int
	order     []string // holders in registration order
	dust      uint256.Int
	version   int64
	createdAt int64
	updatedAt int64
}

func bookFromSnapshot(snap *domain.AssetSnapshot) *book {
	b := &book{
		assetID:   snap.AssetID,
		supply:    snap.TotalSupply,
		active:    snap.Active,
		balances:  make(map[string]uint256.Int, len(snap.Balances)),
		order:     make([]string, 0, len(snap.Balances)),
		dust:      snap.Dust,
		version:   snap.Version,
		createdAt: snap.CreatedAt,
		updatedAt: snap.UpdatedAt,
	}
	for _, hb := range snap.Balances {
		if _, seen := b.balances[hb.Holder]; !seen {
			b.order = append(b.order, hb.Holder)
		}
		b.balances[hb.Holder] = hb.Balance
	}
	return b
}

func (b *book) begin() *Tx {
	return &Tx{
		b:      b,
		supply: b.supply,
		active: b.active,
		dust:   b.dust,
		dirty:  make(map[string]uint256.Int),
	}
}

// snapshot includes zero balances so registration order survives a restart.
func (b *book) snapshot() *domain.AssetSnapshot {
	snap := &domain.AssetSnapshot{
		AssetID:     b.assetID,
		TotalSupply: b.supply,
		Active:      b.active,
		Balances:    make([]domain.HolderBalance, 0, len(b.order)),
		Dust:        b.dust,
		Version:     b.version,
		CreatedAt:   b.createdAt,
		UpdatedAt:   b.updatedAt,
	}
	for _, h := range b.order {
		snap.Balances = append(snap.Balances, domain.HolderBalance{
			AssetID: b.assetID,
			Holder:  h,
			Balance: b.balances[h],
		})
	}
	return snap
}

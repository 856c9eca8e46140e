package domain

import "github.com/holiman/uint256"

// Asset is a fractionally-owned asset tracked by the ledger.
// Registration happens outside the core; deactivation is the only
// mutation the core observes.
type Asset struct {
	AssetID     string      // external asset identifier
	TotalSupply uint256.Int // 18-decimal fixed point, base units
	Active      bool        // false after deactivation
	CreatedAt   int64       // unix ms
}

// HolderBalance is one (asset, holder) entry of the ledger.
type HolderBalance struct {
	AssetID string
	Holder  string
	Balance uint256.Int
}

// AssetSnapshot is the persisted form of one asset's ledger book.
// Balances are in holder registration order.
type AssetSnapshot struct {
	AssetID     string
	TotalSupply uint256.Int
	Active      bool
	Balances    []HolderBalance
	Dust        uint256.Int // undistributed rounding remainder
	Version     int64       // increments on every committed mutation
	CreatedAt   int64
	UpdatedAt   int64
}

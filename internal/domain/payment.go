package domain

import "github.com/holiman/uint256"

// PaymentRecord is an incoming revenue payment for an asset.
// Immutable once created.
type PaymentRecord struct {
	PaymentID       string      // deterministic hash, see idhash.ComputePaymentID
	AssetID         string      // asset receiving the revenue
	Payer           string      // principal that paid
	Amount          uint256.Int // amount in the payer's currency
	Currency        string      // payer's currency code
	Rate            uint256.Int // currency -> settlement rate, 18-decimal
	ConvertedAmount uint256.Int // amount in settlement currency, distributed to holders
	Timestamp       int64       // unix ms
}

// DistributionRecord is one holder's share of a payment.
// Claimed flips exactly once, from false to true.
type DistributionRecord struct {
	PaymentID string
	AssetID   string
	Holder    string
	Seq       int         // position in the distribution's holder order
	Amount    uint256.Int // floor(balance * payment / supply)
	Claimed   bool
	CreatedAt int64 // unix ms
	ClaimedAt int64 // unix ms, 0 while unclaimed
}

// DistributionRun is the persisted progress of one payment's distribution.
// Pages allocate from the holder snapshot taken when the run started.
type DistributionRun struct {
	PaymentID  string
	AssetID    string
	Amount     uint256.Int     // payment plus folded dust
	FoldedDust uint256.Int     // dust taken from the asset on the first page
	Supply     uint256.Int     // total supply at start
	Holders    []HolderBalance // positive balances at start, registration order; nil once done
	Allocated  uint256.Int     // sum of allocations recorded so far
	Offset     int             // index of the next holder to record
	Done       bool            // every holder recorded, remainder carried to dust
	CreatedAt  int64           // unix ms
	UpdatedAt  int64           // unix ms
}

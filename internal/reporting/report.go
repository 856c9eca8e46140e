package reporting

import "time"

// AssetReport summarizes one asset: supply, holders, payments, pool and
// governance.
type AssetReport struct {
	// Metadata
	GeneratedAt time.Time
	AssetID     string

	Summary AssetSummary

	// Holders sorted by balance DESC, holder ASC
	Holders []HolderRow

	// Payments sorted by timestamp ASC
	Payments []PaymentRow

	Pool *PoolRow // nil when the asset has no pool

	// Proposals sorted by created_at ASC
	Proposals []ProposalRow
}

// AssetSummary contains the ledger state of the asset.
type AssetSummary struct {
	Active      bool
	TotalSupply string // base units
	Dust        string // base units
	HolderCount int
	Version     int64
	UpdatedAt   int64 // Unix ms
}

// HolderRow represents one holder position.
type HolderRow struct {
	Holder   string
	Balance  string // base units
	ShareBps int64  // balance / supply in basis points, floored
}

// PaymentRow represents one payment and its distribution status.
type PaymentRow struct {
	PaymentID   string
	Payer       string
	Currency    string
	Amount      string // base units of Currency
	Converted   string // base units of the settlement currency
	Distributed string // sum of distribution records
	Unclaimed   string // sum of unclaimed records
	Records     int
	Timestamp   int64 // Unix ms
}

// PoolRow describes the asset's liquidity pool.
type PoolRow struct {
	ReserveToken string
	ReserveBase  string
	InvariantK   string
	FeeBps       uint16
	SpotPrice    string // base per token, 18-decimal display
}

// ProposalRow represents one governance proposal.
type ProposalRow struct {
	ProposalID     string
	Proposer       string
	State          string
	YesPower       string
	NoPower        string
	Votes          int
	VotingDeadline int64 // Unix ms
}

// StatementRow is one line of a payment statement.
type StatementRow struct {
	PaymentID string
	AssetID   string
	Seq       int
	Holder    string
	Amount    string // base units
	Claimed   bool
	CreatedAt int64
	ClaimedAt int64
}

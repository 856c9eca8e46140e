package domain

// EventKind identifies a ledger event type.
type EventKind string

const (
	EventPaymentProcessed  EventKind = "payment.processed"
	EventYieldDistributed  EventKind = "yield.distributed"
	EventYieldClaimed      EventKind = "yield.claimed"
	EventLiquidityAcquired EventKind = "liquidity.acquired"
	EventLiquidityBurned   EventKind = "liquidity.burned"
	EventProposalCreated   EventKind = "proposal.created"
	EventProposalVoted     EventKind = "proposal.voted"
	EventProposalFinalized EventKind = "proposal.finalized"
	EventProposalExecuted  EventKind = "proposal.executed"
	EventAssetRegistered   EventKind = "asset.registered"
	EventAssetDeactivated  EventKind = "asset.deactivated"
)

// LedgerEvent is one entry of the append-only event log.
// Amounts are carried in Attrs as base-unit decimal strings.
type LedgerEvent struct {
	Seq       uint64 // assigned by the log, strictly increasing
	Kind      EventKind
	AssetID   string
	Actor     string            // principal that caused the event
	RefID     string            // payment id or proposal id, if any
	Attrs     map[string]string // event-specific fields
	Timestamp int64             // unix ms
}

package storage

import (
	"context"

	"fractional-ledger/internal/domain"
)

// AssetStore provides access to asset ledger snapshots.
type AssetStore interface {
	// Save upserts the snapshot. A snapshot with a lower version than the
	// stored one is ignored.
	Save(ctx context.Context, s *domain.AssetSnapshot) error

	// Get retrieves the latest snapshot of an asset. Returns ErrNotFound if not exists.
	Get(ctx context.Context, assetID string) (*domain.AssetSnapshot, error)

	// List retrieves all snapshots, ordered by asset_id ASC.
	List(ctx context.Context) ([]*domain.AssetSnapshot, error)
}

// PoolStore provides access to liquidity pool records.
type PoolStore interface {
	// Upsert stores the current state of a pool.
	Upsert(ctx context.Context, p *domain.Pool) error

	// Get retrieves the pool of an asset. Returns ErrNotFound if not exists.
	Get(ctx context.Context, assetID string) (*domain.Pool, error)

	// List retrieves all pools, ordered by asset_id ASC.
	List(ctx context.Context) ([]*domain.Pool, error)
}

// ProposalStore provides access to governance proposals and votes.
type ProposalStore interface {
	// Upsert stores the current state of a proposal.
	Upsert(ctx context.Context, p *domain.Proposal) error

	// UpsertVote stores the current vote of (proposal_id, voter), replacing a prior one.
	UpsertVote(ctx context.Context, v *domain.VoteRecord) error

	// GetByID retrieves a proposal. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, proposalID string) (*domain.Proposal, error)

	// GetByAsset retrieves all proposals of an asset, ordered by created_at ASC.
	GetByAsset(ctx context.Context, assetID string) ([]*domain.Proposal, error)

	// GetVotes retrieves all votes of a proposal, ordered by cast_at ASC.
	GetVotes(ctx context.Context, proposalID string) ([]*domain.VoteRecord, error)

	// List retrieves all proposals, ordered by created_at ASC.
	List(ctx context.Context) ([]*domain.Proposal, error)
}

// PaymentStore provides access to payment_records storage.
type PaymentStore interface {
	// Insert adds a new payment. Returns ErrDuplicateKey if payment_id exists.
	Insert(ctx context.Context, p *domain.PaymentRecord) error

	// GetByID retrieves a payment. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, paymentID string) (*domain.PaymentRecord, error)

	// GetByAsset retrieves all payments of an asset, ordered by timestamp ASC.
	GetByAsset(ctx context.Context, assetID string) ([]*domain.PaymentRecord, error)
}

// DistributionStore provides access to distribution_records storage.
type DistributionStore interface {
	// InsertBulk adds multiple records atomically. Fails entire batch on any
	// duplicate (payment_id, holder).
	InsertBulk(ctx context.Context, records []*domain.DistributionRecord) error

	// GetByPayment retrieves all records of a payment, ordered by seq ASC.
	GetByPayment(ctx context.Context, paymentID string) ([]*domain.DistributionRecord, error)

	// GetByHolder retrieves all records of a holder for an asset, ordered by created_at ASC, seq ASC.
	GetByHolder(ctx context.Context, assetID, holder string) ([]*domain.DistributionRecord, error)

	// MarkClaimed flips claimed from false to true. Returns ErrNotFound if the
	// record does not exist and ErrAlreadyClaimed if it was already claimed.
	MarkClaimed(ctx context.Context, paymentID, holder string, claimedAt int64) error
}

// DistributionRunStore provides access to distribution_runs storage.
type DistributionRunStore interface {
	// Save upserts the run. The holder snapshot is written with the first
	// save and dropped once the run is done.
	Save(ctx context.Context, r *domain.DistributionRun) error

	// Get retrieves the run of a payment. Returns ErrNotFound if not exists.
	Get(ctx context.Context, paymentID string) (*domain.DistributionRun, error)

	// ListPending retrieves runs that are not done, ordered by created_at ASC, payment_id ASC.
	ListPending(ctx context.Context) ([]*domain.DistributionRun, error)
}

// EventStore provides access to the append-only ledger event log.
type EventStore interface {
	// InsertBulk appends events. Fails entire batch on duplicate seq.
	InsertBulk(ctx context.Context, events []*domain.LedgerEvent) error

	// GetByAsset retrieves events of an asset within [start, end] (inclusive), ordered by seq ASC.
	GetByAsset(ctx context.Context, assetID string, start, end int64) ([]*domain.LedgerEvent, error)

	// GetByRef retrieves events referencing a payment or proposal, ordered by seq ASC.
	GetByRef(ctx context.Context, refID string) ([]*domain.LedgerEvent, error)

	// MaxSeq returns the highest stored seq, 0 when empty.
	MaxSeq(ctx context.Context) (uint64, error)
}

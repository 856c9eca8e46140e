package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/storage"
)

// ProposalStore implements storage.ProposalStore using PostgreSQL.
type ProposalStore struct {
	pool *Pool
}

// NewProposalStore creates a new ProposalStore.
func NewProposalStore(pool *Pool) *ProposalStore {
	return &ProposalStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ProposalStore = (*ProposalStore)(nil)

const proposalColumns = `
	proposal_id, asset_id, proposer, description, execution_payload, target_ref,
	voting_deadline, state, yes_power, no_power, created_at, finalized_at, executed_at
`

// Upsert stores the current state of a proposal. Identity columns are
// written once; later calls only move tallies and lifecycle fields.
func (s *ProposalStore) Upsert(ctx context.Context, p *domain.Proposal) error {
	if p == nil || p.ProposalID == "" || p.AssetID == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO proposals (`+proposalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (proposal_id) DO UPDATE SET
			state = EXCLUDED.state,
			yes_power = EXCLUDED.yes_power,
			no_power = EXCLUDED.no_power,
			finalized_at = EXCLUDED.finalized_at,
			executed_at = EXCLUDED.executed_at
	`,
		p.ProposalID, p.AssetID, p.Proposer, p.Description, p.ExecutionPayload, p.TargetRef,
		p.VotingDeadline, string(p.State), toNumeric(&p.YesPower), toNumeric(&p.NoPower),
		p.CreatedAt, p.FinalizedAt, p.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert proposal: %w", err)
	}
	return nil
}

// UpsertVote stores the current vote of (proposal_id, voter), replacing a prior one.
func (s *ProposalStore) UpsertVote(ctx context.Context, v *domain.VoteRecord) error {
	if v == nil || v.ProposalID == "" || v.Voter == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO proposal_votes (proposal_id, voter, power, choice, cast_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (proposal_id, voter) DO UPDATE SET
			power = EXCLUDED.power,
			choice = EXCLUDED.choice,
			cast_at = EXCLUDED.cast_at
	`, v.ProposalID, v.Voter, toNumeric(&v.Power), string(v.Choice), v.CastAt)
	if err != nil {
		return fmt.Errorf("upsert vote: %w", err)
	}
	return nil
}

// GetByID retrieves a proposal. Returns ErrNotFound if not exists.
func (s *ProposalStore) GetByID(ctx context.Context, proposalID string) (*domain.Proposal, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE proposal_id = $1`, proposalID)

	p, err := scanProposal(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get proposal: %w", err)
	}
	return p, nil
}

// GetByAsset retrieves all proposals of an asset, ordered by created_at ASC.
func (s *ProposalStore) GetByAsset(ctx context.Context, assetID string) ([]*domain.Proposal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+proposalColumns+`
		FROM proposals
		WHERE asset_id = $1
		ORDER BY created_at ASC, proposal_id ASC
	`, assetID)
	if err != nil {
		return nil, fmt.Errorf("get proposals by asset: %w", err)
	}
	defer rows.Close()

	return scanProposals(rows)
}

// GetVotes retrieves all votes of a proposal, ordered by cast_at ASC.
func (s *ProposalStore) GetVotes(ctx context.Context, proposalID string) ([]*domain.VoteRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT proposal_id, voter, power, choice, cast_at
		FROM proposal_votes
		WHERE proposal_id = $1
		ORDER BY cast_at ASC, voter ASC
	`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("get votes: %w", err)
	}
	defer rows.Close()

	var votes []*domain.VoteRecord
	for rows.Next() {
		var v domain.VoteRecord
		var power pgtype.Numeric
		var choice string
		if err := rows.Scan(&v.ProposalID, &v.Voter, &power, &choice, &v.CastAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		if err := fromNumeric(power, &v.Power); err != nil {
			return nil, fmt.Errorf("decode power: %w", err)
		}
		v.Choice = domain.VoteChoice(choice)
		votes = append(votes, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate votes: %w", err)
	}
	return votes, nil
}

// List retrieves all proposals, ordered by created_at ASC.
func (s *ProposalStore) List(ctx context.Context) ([]*domain.Proposal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+proposalColumns+`
		FROM proposals
		ORDER BY created_at ASC, proposal_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	return scanProposals(rows)
}

func scanProposal(row pgx.Row) (*domain.Proposal, error) {
	var p domain.Proposal
	var state string
	var yes, no pgtype.Numeric

	err := row.Scan(
		&p.ProposalID, &p.AssetID, &p.Proposer, &p.Description, &p.ExecutionPayload, &p.TargetRef,
		&p.VotingDeadline, &state, &yes, &no, &p.CreatedAt, &p.FinalizedAt, &p.ExecutedAt,
	)
	if err != nil {
		return nil, err
	}
	p.State = domain.ProposalState(state)
	if err := fromNumeric(yes, &p.YesPower); err != nil {
		return nil, fmt.Errorf("decode yes_power: %w", err)
	}
	if err := fromNumeric(no, &p.NoPower); err != nil {
		return nil, fmt.Errorf("decode no_power: %w", err)
	}
	return &p, nil
}

func scanProposals(rows pgx.Rows) ([]*domain.Proposal, error) {
	var proposals []*domain.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		proposals = append(proposals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposals: %w", err)
	}
	return proposals, nil
}

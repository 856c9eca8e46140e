package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/storage"
)

func TestProposalStore_Lifecycle(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewProposalStore(pool)
	ctx := context.Background()

	p := &domain.Proposal{
		ProposalID:       "prop-1",
		AssetID:          "asset-1",
		Proposer:         "amy",
		Description:      "replace roof",
		ExecutionPayload: []byte{0x01, 0x02},
		TargetRef:        "contractor-7",
		VotingDeadline:   5000,
		State:            domain.ProposalOpen,
		CreatedAt:        1000,
	}
	require.NoError(t, store.Upsert(ctx, p))

	require.NoError(t, store.UpsertVote(ctx, &domain.VoteRecord{
		ProposalID: "prop-1", Voter: "amy", Power: u256(t, "400"), Choice: domain.VoteNo, CastAt: 1100,
	}))
	require.NoError(t, store.UpsertVote(ctx, &domain.VoteRecord{
		ProposalID: "prop-1", Voter: "bob", Power: u256(t, "600"), Choice: domain.VoteYes, CastAt: 1200,
	}))
	// Re-vote replaces.
	require.NoError(t, store.UpsertVote(ctx, &domain.VoteRecord{
		ProposalID: "prop-1", Voter: "amy", Power: u256(t, "400"), Choice: domain.VoteYes, CastAt: 1300,
	}))

	p.YesPower = u256(t, "1000")
	p.State = domain.ProposalPassed
	p.FinalizedAt = 6000
	require.NoError(t, store.Upsert(ctx, p))

	got, err := store.GetByID(ctx, "prop-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalPassed, got.State)
	assert.Equal(t, "1000", got.YesPower.Dec())
	assert.Equal(t, "0", got.NoPower.Dec())
	assert.Equal(t, []byte{0x01, 0x02}, got.ExecutionPayload)
	assert.Equal(t, "contractor-7", got.TargetRef)
	assert.Equal(t, int64(6000), got.FinalizedAt)

	votes, err := store.GetVotes(ctx, "prop-1")
	require.NoError(t, err)
	require.Len(t, votes, 2)
	assert.Equal(t, "bob", votes[0].Voter)
	assert.Equal(t, "amy", votes[1].Voter)
	assert.Equal(t, domain.VoteYes, votes[1].Choice)

	byAsset, err := store.GetByAsset(ctx, "asset-1")
	require.NoError(t, err)
	assert.Len(t, byAsset, 1)

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestProposalStore_List(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewProposalStore(pool)
	ctx := context.Background()

	for i, id := range []string{"prop-b", "prop-a"} {
		require.NoError(t, store.Upsert(ctx, &domain.Proposal{
			ProposalID:     id,
			AssetID:        "asset-1",
			Proposer:       "amy",
			Description:    id,
			VotingDeadline: 9000,
			State:          domain.ProposalOpen,
			CreatedAt:      int64(1000 + i),
		}))
	}

	got, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "prop-b", got[0].ProposalID)
	assert.Equal(t, "prop-a", got[1].ProposalID)
}

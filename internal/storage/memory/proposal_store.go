package memory

import (
	"context"
	"sort"
	"sync"

	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/storage"
)

// ProposalStore is an in-memory implementation of storage.ProposalStore.
type ProposalStore struct {
	mu        sync.RWMutex
	proposals map[string]*domain.Proposal              // keyed by proposal_id
	votes     map[string]map[string]*domain.VoteRecord // proposal_id -> voter -> vote
}

// NewProposalStore creates a new in-memory proposal store.
func NewProposalStore() *ProposalStore {
	return &ProposalStore{
		proposals: make(map[string]*domain.Proposal),
		votes:     make(map[string]map[string]*domain.VoteRecord),
	}
}

// Upsert stores the current state of a proposal.
func (s *ProposalStore) Upsert(_ context.Context, p *domain.Proposal) error {
	if p == nil || p.ProposalID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.proposals[p.ProposalID] = copyProposal(p)
	return nil
}

// UpsertVote stores the current vote of (proposal_id, voter).
func (s *ProposalStore) UpsertVote(_ context.Context, v *domain.VoteRecord) error {
	if v == nil || v.ProposalID == "" || v.Voter == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.proposals[v.ProposalID]; !ok {
		return storage.ErrNotFound
	}
	byVoter, ok := s.votes[v.ProposalID]
	if !ok {
		byVoter = make(map[string]*domain.VoteRecord)
		s.votes[v.ProposalID] = byVoter
	}
	voteCopy := *v
	byVoter[v.Voter] = &voteCopy
	return nil
}

// GetByID retrieves a proposal. Returns ErrNotFound if not exists.
func (s *ProposalStore) GetByID(_ context.Context, proposalID string) (*domain.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.proposals[proposalID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyProposal(p), nil
}

// GetByAsset retrieves all proposals of an asset, ordered by created_at ASC.
func (s *ProposalStore) GetByAsset(_ context.Context, assetID string) ([]*domain.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Proposal
	for _, p := range s.proposals {
		if p.AssetID == assetID {
			result = append(result, copyProposal(p))
		}
	}
	sortProposals(result)
	return result, nil
}

// GetVotes retrieves all votes of a proposal, ordered by cast_at ASC.
func (s *ProposalStore) GetVotes(_ context.Context, proposalID string) ([]*domain.VoteRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.VoteRecord
	for _, v := range s.votes[proposalID] {
		voteCopy := *v
		result = append(result, &voteCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CastAt != result[j].CastAt {
			return result[i].CastAt < result[j].CastAt
		}
		return result[i].Voter < result[j].Voter
	})
	return result, nil
}

// List retrieves all proposals, ordered by created_at ASC.
func (s *ProposalStore) List(_ context.Context) ([]*domain.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Proposal, 0, len(s.proposals))
	for _, p := range s.proposals {
		result = append(result, copyProposal(p))
	}
	sortProposals(result)
	return result, nil
}

func copyProposal(p *domain.Proposal) *domain.Proposal {
	c := *p
	c.ExecutionPayload = append([]byte(nil), p.ExecutionPayload...)
	return &c
}

func sortProposals(ps []*domain.Proposal) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].CreatedAt != ps[j].CreatedAt {
			return ps[i].CreatedAt < ps[j].CreatedAt
		}
		return ps[i].ProposalID < ps[j].ProposalID
	})
}

var _ storage.ProposalStore = (*ProposalStore)(nil)

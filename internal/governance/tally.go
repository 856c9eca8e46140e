// Package governance runs stake-weighted proposals for each asset.
//
// Voting power is the voter's ledger balance when the vote is cast. All
// proposal transitions happen inside the asset's ledger transaction, so
// votes and pool trades of the same asset are serialized. Execution is
// recorded first and handed to the Dispatcher after the lock is released.
package governance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/eventlog"
	"fractional-ledger/internal/fixedpoint"
	"fractional-ledger/internal/idhash"
	"fractional-ledger/internal/ledger"
	"fractional-ledger/internal/observability"
	"fractional-ledger/internal/storage"
)

// DefaultThresholdBps is the share of supply needed to propose (10%).
const DefaultThresholdBps = 1000

// DefaultVotingPeriod applies when Options.VotingPeriod is zero.
const DefaultVotingPeriod = 72 * time.Hour

// ExecutionOrder is handed to the Dispatcher once per passed proposal.
type ExecutionOrder struct {
	ProposalID string `json:"proposal_id"`
	AssetID    string `json:"asset_id"`
	TargetRef  string `json:"target_ref"`
	Payload    []byte `json:"payload"`
	ExecutedAt int64  `json:"executed_at"`
}

// Dispatcher performs the side effect of an executed proposal.
type Dispatcher interface {
	Dispatch(ctx context.Context, order ExecutionOrder) error
}

// Options configures a Tally.
type Options struct {
	Ledger     *ledger.Ledger
	Store      storage.ProposalStore // optional
	Dispatcher Dispatcher
	Events     *eventlog.Log // optional

	ThresholdBps uint16
	VotingPeriod time.Duration

	Clock  func() int64
	Logger *zap.Logger
}

// ProposalInput describes a new proposal.
type ProposalInput struct {
	AssetID     string
	Description string
	Payload     []byte
	TargetRef   string
}

// Tally owns every proposal and vote.
type Tally struct {
	ledger     *ledger.Ledger
	store      storage.ProposalStore
	dispatcher Dispatcher
	events     *eventlog.Log
	threshold  *uint256.Int
	period     time.Duration
	now        func() int64
	logger     *zap.Logger
	nonce      atomic.Uint64

	mu        sync.RWMutex
	proposals map[string]domain.Proposal
	votes     map[string]map[string]domain.VoteRecord
}

// New creates a tally.
func New(opts Options) *Tally {
	if opts.ThresholdBps == 0 {
		opts.ThresholdBps = DefaultThresholdBps
	}
	if opts.VotingPeriod <= 0 {
		opts.VotingPeriod = DefaultVotingPeriod
	}
	if opts.Clock == nil {
		opts.Clock = func() int64 { return time.Now().UnixMilli() }
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Tally{
		ledger:     opts.Ledger,
		store:      opts.Store,
		dispatcher: opts.Dispatcher,
		events:     opts.Events,
		threshold:  uint256.NewInt(uint64(opts.ThresholdBps)),
		period:     opts.VotingPeriod,
		now:        opts.Clock,
		logger:     opts.Logger.Named("governance"),
		proposals:  make(map[string]domain.Proposal),
		votes:      make(map[string]map[string]domain.VoteRecord),
	}
}

// Restore loads persisted proposals and their votes.
func (t *Tally) Restore(ctx context.Context) (int, error) {
	if t.store == nil {
		return 0, nil
	}
	proposals, err := t.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list proposals: %w", err)
	}

	loaded := make(map[string]map[string]domain.VoteRecord, len(proposals))
	for _, p := range proposals {
		votes, err := t.store.GetVotes(ctx, p.ProposalID)
		if err != nil {
			return 0, fmt.Errorf("votes of %s: %w", p.ProposalID, err)
		}
		byVoter := make(map[string]domain.VoteRecord, len(votes))
		for _, v := range votes {
			byVoter[v.Voter] = *v
		}
		loaded[p.ProposalID] = byVoter
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range proposals {
		t.proposals[p.ProposalID] = *p
		t.votes[p.ProposalID] = loaded[p.ProposalID]
	}
	return len(proposals), nil
}

// HasGovernanceRights reports whether holder owns at least the threshold
// share of the asset's current supply.
func (t *Tally) HasGovernanceRights(ctx context.Context, assetID, holder string) (bool, error) {
	var ok bool
	err := t.ledger.View(ctx, assetID, func(tx *ledger.Tx) error {
		var err error
		ok, err = t.hasRights(tx, holder)
		return err
	})
	return ok, err
}

// balance * 10000 >= supply * thresholdBps
func (t *Tally) hasRights(tx *ledger.Tx, holder string) (bool, error) {
	bal := tx.Balance(holder)
	if bal.IsZero() {
		return false, nil
	}
	lhs, err := fixedpoint.Mul(bal, fixedpoint.BpsDenominator)
	if err != nil {
		return false, err
	}
	rhs, err := fixedpoint.Mul(tx.TotalSupply(), t.threshold)
	if err != nil {
		return false, err
	}
	return !lhs.Lt(rhs), nil
}

// CreateProposal opens a proposal. The caller must hold governance rights.
func (t *Tally) CreateProposal(ctx context.Context, caller string, in ProposalInput) (*domain.Proposal, error) {
	var created domain.Proposal
	err := t.ledger.Update(ctx, in.AssetID, func(tx *ledger.Tx) error {
		if !tx.Active() {
			return fmt.Errorf("asset %s: %w", in.AssetID, domain.ErrAssetInactive)
		}
		ok, err := t.hasRights(tx, caller)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%q below proposal threshold: %w", caller, domain.ErrUnauthorized)
		}

		now := t.now()
		created = domain.Proposal{
			ProposalID:       idhash.ComputeProposalID(in.AssetID, caller, in.TargetRef, in.Payload, now, t.nonce.Add(1)),
			AssetID:          in.AssetID,
			Proposer:         caller,
			Description:      in.Description,
			ExecutionPayload: append([]byte(nil), in.Payload...),
			TargetRef:        in.TargetRef,
			VotingDeadline:   now + t.period.Milliseconds(),
			State:            domain.ProposalOpen,
			CreatedAt:        now,
		}
		t.stage(tx, created, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.RecordProposalTransition(string(domain.ProposalOpen))
	t.emit(ctx, domain.EventProposalCreated, caller, &created, map[string]string{
		"deadline":   fmt.Sprint(created.VotingDeadline),
		"target_ref": created.TargetRef,
	})
	return &created, nil
}

// CastVote records the caller's vote with their current balance as power.
// A repeat vote replaces the previous one.
func (t *Tally) CastVote(ctx context.Context, caller, proposalID string, choice domain.VoteChoice) (*domain.Proposal, error) {
	if choice != domain.VoteYes && choice != domain.VoteNo {
		return nil, fmt.Errorf("vote choice %q: %w", choice, storage.ErrInvalidInput)
	}
	if caller == "" {
		return nil, fmt.Errorf("vote: %w", domain.ErrInvalidAddress)
	}

	var (
		updated domain.Proposal
		vote    domain.VoteRecord
	)
	err := t.withProposal(ctx, proposalID, func(tx *ledger.Tx, p domain.Proposal) error {
		if !tx.Active() {
			return fmt.Errorf("asset %s: %w", p.AssetID, domain.ErrAssetInactive)
		}
		if p.State != domain.ProposalOpen {
			return fmt.Errorf("proposal %s is %s: %w", proposalID, p.State, domain.ErrProposalNotOpen)
		}
		now := t.now()
		if now >= p.VotingDeadline {
			return fmt.Errorf("proposal %s: %w", proposalID, domain.ErrProposalExpired)
		}
		power := tx.Balance(caller)
		if power.IsZero() {
			return fmt.Errorf("%q holds no %s: %w", caller, p.AssetID, domain.ErrUnauthorized)
		}

		if prev, voted := t.vote(proposalID, caller); voted {
			bucket := &p.YesPower
			if prev.Choice == domain.VoteNo {
				bucket = &p.NoPower
			}
			left, err := fixedpoint.Sub(bucket, &prev.Power)
			if err != nil {
				return err
			}
			*bucket = *left
		}

		bucket := &p.YesPower
		if choice == domain.VoteNo {
			bucket = &p.NoPower
		}
		sum, err := fixedpoint.Add(bucket, power)
		if err != nil {
			return err
		}
		*bucket = *sum

		vote = domain.VoteRecord{ProposalID: proposalID, Voter: caller, Power: *power, Choice: choice, CastAt: now}
		updated = p
		t.stage(tx, p, &vote)
		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.RecordVote()
	t.emit(ctx, domain.EventProposalVoted, caller, &updated, map[string]string{
		"choice":    string(choice),
		"power":     vote.Power.Dec(),
		"yes_power": updated.YesPower.Dec(),
		"no_power":  updated.NoPower.Dec(),
	})
	return &updated, nil
}

// Finalize closes voting once the deadline has passed. The proposal
// passes only with strictly more yes than no power.
func (t *Tally) Finalize(ctx context.Context, caller, proposalID string) (*domain.Proposal, error) {
	var updated domain.Proposal
	err := t.withProposal(ctx, proposalID, func(tx *ledger.Tx, p domain.Proposal) error {
		if !tx.Active() {
			return fmt.Errorf("asset %s: %w", p.AssetID, domain.ErrAssetInactive)
		}
		if p.State != domain.ProposalOpen {
			return fmt.Errorf("proposal %s is %s: %w", proposalID, p.State, domain.ErrProposalNotOpen)
		}
		now := t.now()
		if now < p.VotingDeadline {
			return fmt.Errorf("proposal %s open until %d: %w", proposalID, p.VotingDeadline, domain.ErrVotingInProgress)
		}
		if p.NoPower.Lt(&p.YesPower) {
			p.State = domain.ProposalPassed
		} else {
			p.State = domain.ProposalFailed
		}
		p.FinalizedAt = now
		updated = p
		t.stage(tx, p, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.RecordProposalTransition(string(updated.State))
	t.emit(ctx, domain.EventProposalFinalized, caller, &updated, map[string]string{
		"state":     string(updated.State),
		"yes_power": updated.YesPower.Dec(),
		"no_power":  updated.NoPower.Dec(),
	})
	return &updated, nil
}

// ExecuteProposal marks a passed proposal executed and dispatches it. The
// transition is recorded before dispatch, so a proposal is dispatched at
// most once; a dispatch failure is returned and the state stays Executed.
func (t *Tally) ExecuteProposal(ctx context.Context, caller, proposalID string) (*domain.Proposal, error) {
	var updated domain.Proposal
	err := t.withProposal(ctx, proposalID, func(tx *ledger.Tx, p domain.Proposal) error {
		switch p.State {
		case domain.ProposalExecuted:
			return fmt.Errorf("proposal %s: %w", proposalID, domain.ErrAlreadyExecuted)
		case domain.ProposalPassed:
		default:
			return fmt.Errorf("proposal %s is %s: %w", proposalID, p.State, domain.ErrProposalNotPassed)
		}
		p.State = domain.ProposalExecuted
		p.ExecutedAt = t.now()
		updated = p
		t.stage(tx, p, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	observability.RecordProposalTransition(string(domain.ProposalExecuted))

	order := ExecutionOrder{
		ProposalID: updated.ProposalID,
		AssetID:    updated.AssetID,
		TargetRef:  updated.TargetRef,
		Payload:    append([]byte(nil), updated.ExecutionPayload...),
		ExecutedAt: updated.ExecutedAt,
	}
	var dispatchErr error
	if t.dispatcher != nil {
		dispatchErr = t.dispatcher.Dispatch(ctx, order)
	}
	if dispatchErr != nil {
		t.logger.Error("proposal dispatch failed",
			zap.String("proposal_id", proposalID),
			zap.String("target_ref", updated.TargetRef),
			zap.Error(dispatchErr),
		)
	}

	t.emit(ctx, domain.EventProposalExecuted, caller, &updated, map[string]string{
		"target_ref": updated.TargetRef,
		"dispatched": fmt.Sprint(dispatchErr == nil),
	})
	if dispatchErr != nil {
		return &updated, fmt.Errorf("dispatch proposal %s: %w", proposalID, dispatchErr)
	}
	return &updated, nil
}

// withProposal runs fn under the lock of the proposal's asset with the
// current proposal state.
func (t *Tally) withProposal(ctx context.Context, proposalID string, fn func(*ledger.Tx, domain.Proposal) error) error {
	p, err := t.Proposal(proposalID)
	if err != nil {
		return err
	}
	return t.ledger.Update(ctx, p.AssetID, func(tx *ledger.Tx) error {
		cur, err := t.Proposal(proposalID)
		if err != nil {
			return err
		}
		return fn(tx, *cur)
	})
}

// stage persists the proposal (and vote) with the transaction and
// publishes them on commit.
func (t *Tally) stage(tx *ledger.Tx, p domain.Proposal, v *domain.VoteRecord) {
	if t.store != nil {
		tx.OnPersist(func(ctx context.Context) error {
			if err := t.store.Upsert(ctx, &p); err != nil {
				return fmt.Errorf("persist proposal %s: %w", p.ProposalID, err)
			}
			if v != nil {
				if err := t.store.UpsertVote(ctx, v); err != nil {
					return fmt.Errorf("persist vote on %s: %w", p.ProposalID, err)
				}
			}
			return nil
		})
	}
	tx.OnCommit(func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.proposals[p.ProposalID] = p
		if v != nil {
			byVoter, ok := t.votes[p.ProposalID]
			if !ok {
				byVoter = make(map[string]domain.VoteRecord)
				t.votes[p.ProposalID] = byVoter
			}
			byVoter[v.Voter] = *v
		}
	})
}

func (t *Tally) vote(proposalID, voter string) (domain.VoteRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.votes[proposalID][voter]
	return v, ok
}

func (t *Tally) emit(ctx context.Context, kind domain.EventKind, actor string, p *domain.Proposal, attrs map[string]string) {
	if t.events == nil {
		return
	}
	t.events.Emit(ctx, domain.LedgerEvent{
		Kind:    kind,
		AssetID: p.AssetID,
		Actor:   actor,
		RefID:   p.ProposalID,
		Attrs:   attrs,
	})
}

// Proposal returns a proposal by id.
func (t *Tally) Proposal(proposalID string) (*domain.Proposal, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.proposals[proposalID]
	if !ok {
		return nil, fmt.Errorf("proposal %s: %w", proposalID, domain.ErrProposalNotFound)
	}
	p.ExecutionPayload = append([]byte(nil), p.ExecutionPayload...)
	return &p, nil
}

// Proposals returns the proposals of an asset ordered by creation time.
func (t *Tally) Proposals(assetID string) []domain.Proposal {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []domain.Proposal
	for _, p := range t.proposals {
		if p.AssetID == assetID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ProposalID < out[j].ProposalID
	})
	return out
}

// Votes returns the current votes on a proposal ordered by voter.
func (t *Tally) Votes(proposalID string) []domain.VoteRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]domain.VoteRecord, 0, len(t.votes[proposalID]))
	for _, v := range t.votes[proposalID] {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Voter < out[j].Voter })
	return out
}

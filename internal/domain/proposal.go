package domain

import "github.com/holiman/uint256"

// ProposalState is the lifecycle state of a governance proposal.
// Open -> Passed|Failed, Passed -> Executed. No state is revisited.
type ProposalState string

const (
	ProposalOpen     ProposalState = "OPEN"
	ProposalPassed   ProposalState = "PASSED"
	ProposalFailed   ProposalState = "FAILED"
	ProposalExecuted ProposalState = "EXECUTED"
)

// Proposal is a stake-weighted governance proposal for one asset.
type Proposal struct {
	ProposalID       string
	AssetID          string
	Proposer         string
	Description      string
	ExecutionPayload []byte // opaque, handed to the execution dispatcher
	TargetRef        string // opaque reference to the execution target
	VotingDeadline   int64  // unix ms; votes accepted while now < deadline
	State            ProposalState
	YesPower         uint256.Int
	NoPower          uint256.Int
	CreatedAt        int64
	FinalizedAt      int64 // 0 until finalized
	ExecutedAt       int64 // 0 until executed
}

// VoteChoice is a voter's position on a proposal.
type VoteChoice string

const (
	VoteYes VoteChoice = "YES"
	VoteNo  VoteChoice = "NO"
)

// VoteRecord is the single current vote of a voter on a proposal.
type VoteRecord struct {
	ProposalID string
	Voter      string
	Power      uint256.Int // voter balance at the time of the vote
	Choice     VoteChoice
	CastAt     int64
}

package domain

import "errors"

// Ledger engine errors. All are recoverable and reported to the caller
// of the failing operation.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAssetInactive       = errors.New("asset inactive")
	ErrAssetNotFound       = errors.New("asset not found")
	ErrAssetExists         = errors.New("asset already registered")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrZeroAmount          = errors.New("amount must be greater than zero")
	ErrArithmeticOverflow  = errors.New("arithmetic overflow")
	ErrInvalidAddress      = errors.New("invalid address")

	// Liquidity
	ErrSlippageExceeded = errors.New("slippage exceeded")
	ErrPoolNotFound     = errors.New("pool not found")
	ErrPoolExists       = errors.New("pool already exists")
	ErrInvalidReserves  = errors.New("invalid pool reserves")

	// Oracle
	ErrInvalidOracleResult = errors.New("invalid oracle result")

	// Distribution
	ErrNothingToClaim     = errors.New("nothing to claim")
	ErrAlreadyClaimed     = errors.New("already claimed")
	ErrInvalidCursor      = errors.New("invalid distribution cursor")
	ErrEmptySupply        = errors.New("asset has no supply")
	ErrAlreadyDistributed = errors.New("payment already distributed")

	// Governance
	ErrProposalNotFound  = errors.New("proposal not found")
	ErrProposalNotOpen   = errors.New("proposal not open")
	ErrProposalExpired   = errors.New("proposal voting period expired")
	ErrProposalNotPassed = errors.New("proposal not passed")
	ErrAlreadyExecuted   = errors.New("proposal already executed")
	ErrVotingInProgress  = errors.New("proposal voting still in progress")
)

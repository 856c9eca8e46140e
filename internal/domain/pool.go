package domain

import "github.com/holiman/uint256"

// MaxFeeBps is the upper bound for a pool fee (100%).
const MaxFeeBps = 10000

// Pool is the liquidity pool of one asset: a virtual token reserve
// against a base-currency reserve.
type Pool struct {
	AssetID      string
	ReserveToken uint256.Int
	ReserveBase  uint256.Int
	InvariantK   uint256.Int // ReserveToken * ReserveBase at last rebalance
	FeeBps       uint16      // fee charged on inputs, in basis points
	CreatedAt    int64       // unix ms
	UpdatedAt    int64       // unix ms
}

// Trade is the outcome of an acquire or burn against a pool.
type Trade struct {
	AssetID     string
	Trader      string
	Side        TradeSide
	TokenAmount uint256.Int // tokens minted (acquire) or burned (burn)
	BaseAmount  uint256.Int // base paid in (acquire) or paid out (burn)
	Fee         uint256.Int // portion of the input withheld as fee
	PoolAfter   Pool
	Timestamp   int64
}

// TradeSide identifies the direction of a pool trade.
type TradeSide string

const (
	TradeSideAcquire TradeSide = "acquire"
	TradeSideBurn    TradeSide = "burn"
)

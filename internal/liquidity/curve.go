package liquidity

import (
	"fmt"

	"github.com/holiman/uint256"

	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/fixedpoint"
)

// Quote is the priced outcome of a trade against a pool state.
type Quote struct {
	AmountIn  uint256.Int // gross input
	Fee       uint256.Int // part of the input withheld as fee
	AmountOut uint256.Int
	After     domain.Pool // pool state after the trade, K rebalanced
}

// quoteAcquire prices baseIn of base currency into tokens:
// tokensOut = reserveToken - ceil(K / (reserveBase + net)).
func quoteAcquire(p domain.Pool, baseIn *uint256.Int) (*Quote, error) {
	if baseIn == nil || baseIn.IsZero() {
		return nil, domain.ErrZeroAmount
	}
	out, fee, err := swapOut(&p.ReserveBase, &p.ReserveToken, &p.InvariantK, baseIn, p.FeeBps)
	if err != nil {
		return nil, err
	}

	after := p
	if _, overflow := after.ReserveBase.AddOverflow(&p.ReserveBase, baseIn); overflow {
		return nil, fmt.Errorf("base reserve: %w", domain.ErrArithmeticOverflow)
	}
	after.ReserveToken.Sub(&p.ReserveToken, out)
	if err := rebalance(&after); err != nil {
		return nil, err
	}
	return &Quote{AmountIn: *baseIn, Fee: *fee, AmountOut: *out, After: after}, nil
}

// quoteBurn prices tokenIn back into base currency:
// baseOut = reserveBase - ceil(K / (reserveToken + net)).
func quoteBurn(p domain.Pool, tokenIn *uint256.Int) (*Quote, error) {
	if tokenIn == nil || tokenIn.IsZero() {
		return nil, domain.ErrZeroAmount
	}
	out, fee, err := swapOut(&p.ReserveToken, &p.ReserveBase, &p.InvariantK, tokenIn, p.FeeBps)
	if err != nil {
		return nil, err
	}

	after := p
	if _, overflow := after.ReserveToken.AddOverflow(&p.ReserveToken, tokenIn); overflow {
		return nil, fmt.Errorf("token reserve: %w", domain.ErrArithmeticOverflow)
	}
	after.ReserveBase.Sub(&p.ReserveBase, out)
	if err := rebalance(&after); err != nil {
		return nil, err
	}
	return &Quote{AmountIn: *tokenIn, Fee: *fee, AmountOut: *out, After: after}, nil
}

// swapOut returns reserveOut - ceil(k / (reserveIn + net)) and the fee.
// The output is rounded down, so the pool never pays more than the curve.
func swapOut(reserveIn, reserveOut, k, amountIn *uint256.Int, feeBps uint16) (out, fee *uint256.Int, err error) {
	net, err := fixedpoint.ApplyBps(amountIn, feeBps)
	if err != nil {
		return nil, nil, err
	}
	fee = new(uint256.Int).Sub(amountIn, net)

	denom, err := fixedpoint.Add(reserveIn, net)
	if err != nil {
		return nil, nil, err
	}
	remaining, err := fixedpoint.CeilDiv(k, denom)
	if err != nil {
		return nil, nil, err
	}
	if !remaining.Lt(reserveOut) {
		return nil, nil, fmt.Errorf("output rounds to zero: %w", domain.ErrZeroAmount)
	}
	if remaining.IsZero() {
		return nil, nil, fmt.Errorf("trade would drain the pool: %w", domain.ErrInvalidReserves)
	}
	return new(uint256.Int).Sub(reserveOut, remaining), fee, nil
}

// rebalance sets K to the product of the new reserves.
func rebalance(p *domain.Pool) error {
	if p.ReserveToken.IsZero() || p.ReserveBase.IsZero() {
		return fmt.Errorf("pool %s: %w", p.AssetID, domain.ErrInvalidReserves)
	}
	k, err := fixedpoint.Mul(&p.ReserveToken, &p.ReserveBase)
	if err != nil {
		return fmt.Errorf("invariant: %w", err)
	}
	p.InvariantK = *k
	return nil
}

// Package fixedpoint provides overflow-checked 256-bit arithmetic and
// conversion between base units and 18-decimal display strings.
package fixedpoint

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"fractional-ledger/internal/domain"
)

// Decimals is the number of fractional digits of every ledger amount.
const Decimals = 18

// One is 1.0 expressed in base units (10^18).
var One = new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(Decimals))

// BpsDenominator is the basis-point scale (100% = 10000).
var BpsDenominator = uint256.NewInt(10000)

// Add returns x + y or ErrArithmeticOverflow.
func Add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, fmt.Errorf("add %s + %s: %w", x.Dec(), y.Dec(), domain.ErrArithmeticOverflow)
	}
	return z, nil
}

// Sub returns x - y or ErrArithmeticOverflow on underflow.
func Sub(x, y *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, fmt.Errorf("sub %s - %s: %w", x.Dec(), y.Dec(), domain.ErrArithmeticOverflow)
	}
	return z, nil
}

// Mul returns x * y or ErrArithmeticOverflow.
func Mul(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, fmt.Errorf("mul %s * %s: %w", x.Dec(), y.Dec(), domain.ErrArithmeticOverflow)
	}
	return z, nil
}

// MulDiv returns floor(x * y / d). The intermediate product is held at
// 512 bits, so only a quotient that does not fit 256 bits overflows.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, fmt.Errorf("muldiv by zero: %w", domain.ErrArithmeticOverflow)
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, fmt.Errorf("muldiv %s * %s / %s: %w", x.Dec(), y.Dec(), d.Dec(), domain.ErrArithmeticOverflow)
	}
	return z, nil
}

// CeilDiv returns ceil(x / d).
func CeilDiv(x, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, fmt.Errorf("ceildiv by zero: %w", domain.ErrArithmeticOverflow)
	}
	q := new(uint256.Int).Div(x, d)
	if !new(uint256.Int).Mod(x, d).IsZero() {
		q.AddUint64(q, 1)
	}
	return q, nil
}

// ApplyBps returns floor(x * (10000 - bps) / 10000), i.e. x net of a fee.
func ApplyBps(x *uint256.Int, feeBps uint16) (*uint256.Int, error) {
	if uint64(feeBps) > BpsDenominator.Uint64() {
		return nil, fmt.Errorf("fee %d bps exceeds 100%%: %w", feeBps, domain.ErrArithmeticOverflow)
	}
	keep := uint256.NewInt(BpsDenominator.Uint64() - uint64(feeBps))
	return MulDiv(x, keep, BpsDenominator)
}

// Parse converts a decimal display string ("12.5") into base units.
// At most 18 fractional digits are accepted; negative values are rejected.
func Parse(s string) (*uint256.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("parse amount %q: negative", s)
	}
	scaled := d.Shift(Decimals)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("parse amount %q: more than %d fractional digits", s, Decimals)
	}
	return fromBig(scaled.BigInt(), s)
}

// ParseUnits converts a base-unit integer string ("12500000000000000000").
func ParseUnits(s string) (*uint256.Int, error) {
	z, err := uint256.FromDecimal(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("parse units %q: %w", s, err)
	}
	return z, nil
}

// Format renders base units as an 18-decimal display string with
// trailing zeros trimmed ("12.5").
func Format(x *uint256.Int) string {
	return decimal.NewFromBigInt(x.ToBig(), -Decimals).String()
}

func fromBig(b *big.Int, src string) (*uint256.Int, error) {
	z, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("parse amount %q: %w", src, domain.ErrArithmeticOverflow)
	}
	return z, nil
}

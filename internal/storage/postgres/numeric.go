package postgres

import (
	"fmt"
	"math/big"
	"time"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5/pgtype"

	"fractional-ledger/internal/observability"
)

var bigTen = big.NewInt(10)

// toNumeric encodes a base-unit amount for a NUMERIC(78,0) column.
func toNumeric(x *uint256.Int) pgtype.Numeric {
	return pgtype.Numeric{Int: x.ToBig(), Exp: 0, Valid: true}
}

// fromNumeric decodes a NUMERIC(78,0) column into dst.
func fromNumeric(n pgtype.Numeric, dst *uint256.Int) error {
	if !n.Valid {
		dst.Clear()
		return nil
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return fmt.Errorf("numeric is not a finite integer")
	}

	b := new(big.Int).Set(n.Int)
	if n.Exp > 0 {
		b.Mul(b, new(big.Int).Exp(bigTen, big.NewInt(int64(n.Exp)), nil))
	} else if n.Exp < 0 {
		var rem big.Int
		b.QuoRem(b, new(big.Int).Exp(bigTen, big.NewInt(int64(-n.Exp)), nil), &rem)
		if rem.Sign() != 0 {
			return fmt.Errorf("numeric %s has a fractional part", n.Int.String())
		}
	}
	if b.Sign() < 0 {
		return fmt.Errorf("numeric %s is negative", b.String())
	}
	if dst.SetFromBig(b) {
		return fmt.Errorf("numeric %s overflows 256 bits", b.String())
	}
	return nil
}

// observe records a query duration and outcome.
func observe(operation string, start time.Time, err error) {
	observability.RecordDBQuery("postgres", operation, time.Since(start).Seconds(), err)
}

package postgres

import (
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5/pgtype"
)

// Token amounts, expiries, and nonces are uint256 values stored as
// NUMERIC(78,0). These helpers translate between *big.Int and the pgx
// numeric representation.

func numericFromBig(v *big.Int) pgtype.Numeric {
	if v == nil {
		v = new(big.Int)
	}
	return pgtype.Numeric{Int: new(big.Int).Set(v), Valid: true}
}

func bigFromNumeric(n pgtype.Numeric) (*big.Int, error) {
	if !n.Valid || n.NaN || n.Int == nil {
		return nil, fmt.Errorf("postgres: numeric is not a valid integer")
	}

	out := new(big.Int).Set(n.Int)
	switch {
	case n.Exp > 0:
		out.Mul(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil))
	case n.Exp < 0:
		return nil, fmt.Errorf("postgres: numeric has fractional digits (exp=%d)", n.Exp)
	}
	return out, nil
}

package historian

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Token decimals of the snapshot fields.
const (
	stableDecimals = 6
	tokenDecimals  = 18
	gasDecimals    = 18
	priceDecimals  = 6
)

// Normalize returns v / 10^decimals. Zero decimals yields zero rather than
// v, and a nil v is zero.
func Normalize(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil || decimals == 0 {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}

package evm

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// BaseDecimals is the wei precision of the chain's native currency.
const BaseDecimals = 18

// FromWei converts a raw on-chain integer into a human-scale decimal.
func FromWei(v *big.Int, decimals uint8) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -int32(decimals))
}

// ToWei converts a human-scale decimal into a raw on-chain integer,
// truncating anything below one unit of precision.
func ToWei(d decimal.Decimal, decimals uint8) *big.Int {
	return d.Shift(int32(decimals)).BigInt()
}

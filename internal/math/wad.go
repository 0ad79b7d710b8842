// Package math holds the integer fixed-point arithmetic used by the lending
// read models. Amounts are arbitrary-precision integers; ratios are WAD-scaled
// (10^18 = 1.0). Nothing in this package uses floating point except
// QuantizePrice, which is the boundary with the external price source.
package math

import (
	"fmt"
	stdmath "math"
	"math/big"
	"strings"
	"sync"
)

// WAD is 10^18, the scale of every ratio (collateral factor, liquidation
// threshold, health factor, price).
var WAD = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// priceStep is 10^9: prices keep nine fractional digits before being scaled
// the rest of the way to WAD.
var priceStep = big.NewInt(1_000_000_000)

var wadPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int {
	return wadPool.Get().(*big.Int)
}

func putInt(v *big.Int) {
	v.SetInt64(0)
	wadPool.Put(v)
}

// WadMul returns a*b/WAD, truncated toward zero. Exactly one of a, b is
// expected to be WAD-scaled; passing two WAD values double-scales.
func WadMul(a, b *big.Int) *big.Int {
	tmp := getInt()
	tmp.Mul(a, b)
	out := new(big.Int).Quo(tmp, WAD)
	putInt(tmp)
	return out
}

// NetPosition returns (deposits - withdrawals, borrows - repays). Either side
// may be negative if upstream accounting is inconsistent; callers decide
// whether to clamp.
func NetPosition(deposits, withdrawals, borrows, repays *big.Int) (netSupply, netBorrow *big.Int) {
	netSupply = new(big.Int).Sub(deposits, withdrawals)
	netBorrow = new(big.Int).Sub(borrows, repays)
	return netSupply, netBorrow
}

// BorrowLimit is the collateral-weighted supply.
func BorrowLimit(netSupply, collateralFactor *big.Int) *big.Int {
	return WadMul(netSupply, collateralFactor)
}

// LiquidationThresholdValue is the supply value at which the position
// becomes liquidatable.
func LiquidationThresholdValue(netSupply, liquidationThreshold *big.Int) *big.Int {
	return WadMul(netSupply, liquidationThreshold)
}

// AvailableBorrow returns max(limit - netBorrow, 0).
func AvailableBorrow(limit, netBorrow *big.Int) *big.Int {
	out := new(big.Int).Sub(limit, netBorrow)
	if out.Sign() < 0 {
		out.SetInt64(0)
	}
	return out
}

// HealthFactor returns netSupply*liquidationThreshold/netBorrow, truncated.
// It returns nil when netBorrow is zero: there is no debt and so no ratio.
func HealthFactor(netSupply, liquidationThreshold, netBorrow *big.Int) *big.Int {
	if netBorrow.Sign() == 0 {
		return nil
	}
	tmp := getInt()
	tmp.Mul(netSupply, liquidationThreshold)
	out := new(big.Int).Quo(tmp, netBorrow)
	putInt(tmp)
	return out
}

// ParseAmount parses a base-10 integer string. An empty string is zero.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

// MustAmount is ParseAmount for values already validated upstream. Bad input
// yields zero.
func MustAmount(s string) *big.Int {
	v, err := ParseAmount(s)
	if err != nil {
		return new(big.Int)
	}
	return v
}

// Sum adds its arguments. Nil values count as zero.
func Sum(vals ...*big.Int) *big.Int {
	out := new(big.Int)
	for _, v := range vals {
		if v != nil {
			out.Add(out, v)
		}
	}
	return out
}

// QuantizePrice converts a USD price to a WAD integer as
// floor(price * 1e9) * 1e9. Only nine fractional digits survive; the lower
// nine digits of the result are always zero. Non-finite or non-positive
// input returns zero.
func QuantizePrice(priceUSD float64) *big.Int {
	if stdmath.IsNaN(priceUSD) || stdmath.IsInf(priceUSD, 0) || priceUSD <= 0 {
		return new(big.Int)
	}
	scaled := stdmath.Floor(priceUSD * 1e9)
	units, _ := new(big.Float).SetFloat64(scaled).Int(nil)
	return units.Mul(units, priceStep)
}

// FormatWad renders nil as "" and everything else in base 10.
func FormatWad(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

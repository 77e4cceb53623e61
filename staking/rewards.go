package staking

import (
	"math/big"

	"github.com/holiman/uint256"
)

// The reward curve assumes a fixed 30% of supply is staked, whatever the
// real ratio is. Changing either constant changes consensus-visible rewards.
var (
	stakedSupplyRatio = big.NewRat(3, 10)
	mobileBonus       = big.NewRat(14, 10)
	hundred           = big.NewRat(100, 1)
)

// ValidatorAPY is the annual percentage yield of a regular validator:
// inflation_rate / 0.3.
func (l *Ledger) ValidatorAPY() float64 {
	f, _ := l.validatorAPY().Float64()
	return f
}

// MobileAPY is ValidatorAPY * 1.4.
func (l *Ledger) MobileAPY() float64 {
	f, _ := l.mobileAPY().Float64()
	return f
}

// Reward is floor(stake * apy / 100) for the applicable APY. It is computed
// on demand and never persisted.
func (l *Ledger) Reward(stake *uint256.Int, mobile bool) *uint256.Int {
	apy := l.validatorAPY()
	if mobile {
		apy = l.mobileAPY()
	}
	r := new(big.Rat).SetInt(stake.ToBig())
	r.Mul(r, apy)
	r.Quo(r, hundred)

	// Rat keeps a positive denominator, so Quo on the parts is floor for
	// non-negative values.
	floor := new(big.Int).Quo(r.Num(), r.Denom())
	out, overflow := uint256.FromBig(floor)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return out
}

func (l *Ledger) validatorAPY() *big.Rat {
	inflation := new(big.Rat)
	inflation.SetFloat64(l.params.InflationRate)
	return inflation.Quo(inflation, stakedSupplyRatio)
}

func (l *Ledger) mobileAPY() *big.Rat {
	apy := l.validatorAPY()
	return apy.Mul(apy, mobileBonus)
}

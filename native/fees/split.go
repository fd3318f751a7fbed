package fees

import (
	"fmt"
	"math/big"
)

// Split fixes the three-way fee distribution ratios in basis points. The
// ratios are validated at ledger construction and immutable afterwards.
type Split struct {
	LiquidityBps uint32
	DaoBps       uint32
	ValidatorBps uint32
}

// Validate checks that the ratios cover the whole fee.
func (s Split) Validate() error {
	if s.LiquidityBps > 10_000 || s.DaoBps > 10_000 || s.ValidatorBps > 10_000 {
		return fmt.Errorf("fees: split share out of range")
	}
	if s.LiquidityBps+s.DaoBps+s.ValidatorBps != 10_000 {
		return fmt.Errorf("fees: split shares must sum to 10000 bps")
	}
	return nil
}

// Shares holds the amounts assigned to each recipient after a split.
type Shares struct {
	Liquidity *big.Int
	Dao       *big.Int
	Validator *big.Int
}

// Apply divides the amount per the configured ratios. The liquidity and
// validator shares use truncating division; the DAO share takes the
// remainder, so the truncation dust is always assigned rather than leaking
// one unit at a time across millions of settlements.
func (s Split) Apply(amount *big.Int) Shares {
	total := big.NewInt(0)
	if amount != nil && amount.Sign() > 0 {
		total = new(big.Int).Set(amount)
	}
	liquidity := new(big.Int).Mul(total, new(big.Int).SetUint64(uint64(s.LiquidityBps)))
	liquidity.Div(liquidity, big.NewInt(10_000))
	validator := new(big.Int).Mul(total, new(big.Int).SetUint64(uint64(s.ValidatorBps)))
	validator.Div(validator, big.NewInt(10_000))
	dao := new(big.Int).Sub(total, liquidity)
	dao.Sub(dao, validator)
	return Shares{Liquidity: liquidity, Dao: dao, Validator: validator}
}

package trove

import "math/big"

var (
	one                     = big.NewInt(1_000_000_000_000_000_000)
	secondsPerMinute uint64 = 60
)

// Params groups the protocol thresholds governing trove operations. All
// fractional values use 1e18 fixed-point scale; debt amounts are MUSD wei.
type Params struct {
	// MCR is the minimum individual collateral ratio in Normal Mode.
	MCR *big.Int
	// CCR is the critical system ratio; TCR below it switches the system
	// into Recovery Mode.
	CCR *big.Int
	// LiquidationReserve is the fixed debt component set aside per trove to
	// compensate whoever triggers its liquidation.
	LiquidationReserve *big.Int
	// MinNetDebt is the floor on debt excluding the reserve.
	MinNetDebt *big.Int
	// BorrowingFeeFloor is the minimum flat origination fee rate.
	BorrowingFeeFloor *big.Int
	// MaxBorrowingFee caps the flat origination fee rate.
	MaxBorrowingFee *big.Int
	// RedemptionFeeFloor is the minimum redemption fee rate.
	RedemptionFeeFloor *big.Int
	// Beta dampens base-rate growth per unit of redeemed supply.
	Beta *big.Int
	// BaseRateDecayFactor is the per-minute exponential decay factor
	// applied to the base rate, 1e18 scale.
	BaseRateDecayFactor *big.Int
	// BootstrapWindow is the period in seconds after deployment during
	// which redemptions are disabled and variable fees are capped.
	BootstrapWindow uint64
	// RedemptionICRTolerance bounds the deviation between a partial
	// redemption's resulting ICR and the caller-supplied expectation.
	RedemptionICRTolerance *big.Int
}

// DefaultParams returns the deployment defaults.
func DefaultParams() Params {
	return Params{
		MCR:                    mustParse("1100000000000000000"), // 110%
		CCR:                    mustParse("1500000000000000000"), // 150%
		LiquidationReserve:     mustParse("200000000000000000000"),
		MinNetDebt:             mustParse("1800000000000000000000"),
		BorrowingFeeFloor:      mustParse("5000000000000000"),  // 0.5%
		MaxBorrowingFee:        mustParse("50000000000000000"), // 5%
		RedemptionFeeFloor:     mustParse("5000000000000000"),  // 0.5%
		Beta:                   big.NewInt(2),
		BaseRateDecayFactor:    mustParse("999037758833783000"), // 12h half life
		BootstrapWindow:        14 * 24 * 60 * 60,
		RedemptionICRTolerance: mustParse("20000000000000000"), // 2%
	}
}

// Clone returns a deep copy of the parameters.
func (p Params) Clone() Params {
	clone := p
	clone.MCR = cloneBig(p.MCR)
	clone.CCR = cloneBig(p.CCR)
	clone.LiquidationReserve = cloneBig(p.LiquidationReserve)
	clone.MinNetDebt = cloneBig(p.MinNetDebt)
	clone.BorrowingFeeFloor = cloneBig(p.BorrowingFeeFloor)
	clone.MaxBorrowingFee = cloneBig(p.MaxBorrowingFee)
	clone.RedemptionFeeFloor = cloneBig(p.RedemptionFeeFloor)
	clone.Beta = cloneBig(p.Beta)
	clone.BaseRateDecayFactor = cloneBig(p.BaseRateDecayFactor)
	clone.RedemptionICRTolerance = cloneBig(p.RedemptionICRTolerance)
	return clone
}

func mustParse(value string) *big.Int {
	out, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("trove: invalid parameter literal " + value)
	}
	return out
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// mulDivFloor computes a*b/den with truncating division.
func mulDivFloor(a, b, den *big.Int) *big.Int {
	if a == nil || b == nil || den == nil || den.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, den)
}

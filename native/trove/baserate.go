package trove

import "math/big"

// BaseRateState is the global dynamic fee scalar. Redemption volume pushes it
// up; elapsed time decays it exponentially.
type BaseRateState struct {
	Rate       *big.Int
	LastUpdate uint64
}

// Cap the decay exponent so the fixed-point power loop stays bounded even
// after very long idle periods (1000 years of minutes).
const maxDecayMinutes = 525_600_000

// decayedBaseRate returns the base rate after applying per-minute exponential
// decay for the elapsed time since the last update.
func decayedBaseRate(p Params, state *BaseRateState, now uint64) *big.Int {
	if state == nil || state.Rate == nil || state.Rate.Sign() == 0 {
		return big.NewInt(0)
	}
	if now <= state.LastUpdate {
		return new(big.Int).Set(state.Rate)
	}
	minutes := (now - state.LastUpdate) / secondsPerMinute
	if minutes == 0 {
		return new(big.Int).Set(state.Rate)
	}
	factor := decPow(p.BaseRateDecayFactor, minutes)
	return mulDivFloor(state.Rate, factor, one)
}

// decPow raises an 1e18 fixed-point base to an integer power by squaring,
// flooring at every multiplication.
func decPow(base *big.Int, n uint64) *big.Int {
	if n > maxDecayMinutes {
		n = maxDecayMinutes
	}
	if n == 0 {
		return new(big.Int).Set(one)
	}
	x := new(big.Int).Set(base)
	y := new(big.Int).Set(one)
	for n > 1 {
		if n%2 == 0 {
			x = mulDivFloor(x, x, one)
			n /= 2
		} else {
			y = mulDivFloor(x, y, one)
			x = mulDivFloor(x, x, one)
			n = (n - 1) / 2
		}
	}
	return mulDivFloor(x, y, one)
}

// borrowingRate is the flat origination fee rate drawn from the base rate.
func borrowingRate(p Params, baseRate *big.Int) *big.Int {
	rate := new(big.Int).Add(p.BorrowingFeeFloor, baseRate)
	if rate.Cmp(p.MaxBorrowingFee) > 0 {
		return new(big.Int).Set(p.MaxBorrowingFee)
	}
	return rate
}

// redemptionRate is the redemption fee rate, capped at 100%.
func redemptionRate(p Params, baseRate *big.Int) *big.Int {
	rate := new(big.Int).Add(p.RedemptionFeeFloor, baseRate)
	if rate.Cmp(one) > 0 {
		return new(big.Int).Set(one)
	}
	return rate
}

// updatedBaseRateFromRedemption decays the base rate for elapsed time, then
// adds redeemed/(supply*BETA), capped at 100%.
func updatedBaseRateFromRedemption(p Params, state *BaseRateState, redeemed, supplyAtStart *big.Int, now uint64) *big.Int {
	decayed := decayedBaseRate(p, state, now)
	if supplyAtStart == nil || supplyAtStart.Sign() == 0 {
		return decayed
	}
	fraction := mulDivFloor(redeemed, one, supplyAtStart)
	fraction.Quo(fraction, p.Beta)
	next := new(big.Int).Add(decayed, fraction)
	if next.Cmp(one) > 0 {
		next.Set(one)
	}
	return next
}

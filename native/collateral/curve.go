package collateral

import "math/big"

var (
	one     = big.NewInt(1_000_000_000_000_000_000)
	two     = big.NewInt(2)
	zeroInt = big.NewInt(0)
)

// ValidateCurve checks that the parameters describe a usable three-piece
// function: non-nil values, non-negative slopes and intercept, ordered
// cutoffs inside (0, 1e18].
func ValidateCurve(p CurveParams) error {
	for _, v := range []*big.Int{p.Slope1, p.Slope2, p.Slope3, p.Intercept1, p.Cutoff1, p.Cutoff2} {
		if v == nil || v.Sign() < 0 {
			return ErrInvalidCurve
		}
	}
	if p.Cutoff1.Sign() <= 0 || p.Cutoff1.Cmp(p.Cutoff2) >= 0 || p.Cutoff2.Cmp(one) > 0 {
		return ErrInvalidCurve
	}
	return nil
}

// deriveIntercepts returns the second and third segment intercepts, chosen so
// segment2(Cutoff1) == segment1(Cutoff1) and segment3(Cutoff2) ==
// segment2(Cutoff2). A derived intercept may be negative when a later segment
// is steeper.
func deriveIntercepts(p CurveParams) (*big.Int, *big.Int) {
	seg1AtCutoff1 := segmentValue(p.Slope1, p.Intercept1, p.Cutoff1)
	intercept2 := new(big.Int).Sub(seg1AtCutoff1, mulDivFloor(p.Slope2, p.Cutoff1, one))
	seg2AtCutoff2 := segmentValue(p.Slope2, intercept2, p.Cutoff2)
	intercept3 := new(big.Int).Sub(seg2AtCutoff2, mulDivFloor(p.Slope3, p.Cutoff2, one))
	return intercept2, intercept3
}

// segmentValue evaluates slope*x/1e18 + intercept without capping.
func segmentValue(slope, intercept, x *big.Int) *big.Int {
	return new(big.Int).Add(mulDivFloor(slope, x, one), intercept)
}

// EvaluateCurve returns the variable fee fraction for a backed percentage in
// [0, 1e18]. The segment is selected by comparing against the cutoffs; each
// segment's output is capped at 100% and floored at zero.
func EvaluateCurve(p CurveParams, percentBacked *big.Int) *big.Int {
	intercept2, intercept3 := deriveIntercepts(p)
	var out *big.Int
	switch {
	case percentBacked.Cmp(p.Cutoff1) <= 0:
		out = segmentValue(p.Slope1, p.Intercept1, percentBacked)
	case percentBacked.Cmp(p.Cutoff2) <= 0:
		out = segmentValue(p.Slope2, intercept2, percentBacked)
	default:
		out = segmentValue(p.Slope3, intercept3, percentBacked)
	}
	if out.Sign() < 0 {
		return big.NewInt(0)
	}
	if out.Cmp(one) > 0 {
		return new(big.Int).Set(one)
	}
	return out
}

// DecayedFee returns the last applied fee reduced linearly over the decay
// window. At the anchor instant the fee is returned unchanged; once the window
// has fully elapsed the fee stays pinned at the last applied value rather than
// continuing toward zero.
func DecayedFee(state *CurveState, window uint64, now uint64) *big.Int {
	if state == nil || state.LastFee == nil || state.LastFee.Sign() == 0 {
		return big.NewInt(0)
	}
	if window == 0 || now <= state.LastFeeTime {
		return new(big.Int).Set(state.LastFee)
	}
	elapsed := now - state.LastFeeTime
	if elapsed >= window {
		return new(big.Int).Set(state.LastFee)
	}
	remaining := new(big.Int).SetUint64(window - elapsed)
	return mulDivFloor(state.LastFee, remaining, new(big.Int).SetUint64(window))
}

// feeFraction computes the variable fee for an operation moving the asset's
// pool value from poolBefore to poolBefore+input while the system value moves
// from systemBefore to systemAfter. The result is the maximum of the averaged
// curve evaluation and the decayed last fee.
func feeFraction(p CurveParams, state *CurveState, input, poolBefore, systemBefore, systemAfter *big.Int, now uint64) (*big.Int, error) {
	for _, v := range []*big.Int{input, poolBefore, systemBefore, systemAfter} {
		if v == nil || v.Sign() < 0 {
			return nil, ErrInvalidAsset
		}
	}
	poolAfter := new(big.Int).Add(poolBefore, input)
	pre, err := percentBacked(poolBefore, systemBefore)
	if err != nil {
		return nil, err
	}
	post, err := percentBacked(poolAfter, systemAfter)
	if err != nil {
		return nil, err
	}
	feePre := EvaluateCurve(p, pre)
	feePost := EvaluateCurve(p, post)
	averaged := new(big.Int).Add(feePre, feePost)
	averaged.Quo(averaged, two)
	decayed := DecayedFee(state, p.DecayWindow, now)
	if decayed.Cmp(averaged) > 0 {
		return decayed, nil
	}
	return averaged, nil
}

// percentBacked returns pool/system at 1e18 scale, clamped to [0, 1e18]. A
// pool value strictly greater than the system value is a validation error
// rather than a clamp.
func percentBacked(pool, system *big.Int) (*big.Int, error) {
	if pool.Cmp(system) > 0 {
		return nil, ErrValueBound
	}
	if system.Sign() == 0 {
		return big.NewInt(0), nil
	}
	fraction := mulDivFloor(pool, one, system)
	if fraction.Cmp(one) > 0 {
		fraction.Set(one)
	}
	if fraction.Sign() < 0 {
		fraction.Set(zeroInt)
	}
	return fraction, nil
}

// mulDivFloor computes a*b/den with truncating division, matching the
// fixed-point discipline used throughout the protocol.
func mulDivFloor(a, b, den *big.Int) *big.Int {
	if a == nil || b == nil || den == nil || den.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, den)
}

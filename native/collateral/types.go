package collateral

import (
	"math/big"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// CurveParams defines the three-piece linear variable-fee curve for a
// collateral type. All fractional values use 1e18 fixed-point scale. Only the
// first segment carries an explicit intercept; the second and third intercepts
// are derived so the curve is continuous at both cutoffs.
type CurveParams struct {
	// Slope1..Slope3 are the per-segment slopes applied to the backed
	// fraction of system value.
	Slope1 *big.Int
	Slope2 *big.Int
	Slope3 *big.Int
	// Intercept1 anchors the first segment.
	Intercept1 *big.Int
	// Cutoff1 and Cutoff2 are the segment breakpoints, 0 < Cutoff1 <
	// Cutoff2 <= 1e18.
	Cutoff1 *big.Int
	Cutoff2 *big.Int
	// DecayWindow is the period in seconds over which the last applied fee
	// decays linearly. Once elapsed, the decayed fee stays pinned at the
	// last applied value.
	DecayWindow uint64
}

// Clone returns a deep copy of the parameters.
func (p CurveParams) Clone() CurveParams {
	clone := CurveParams{DecayWindow: p.DecayWindow}
	clone.Slope1 = cloneBig(p.Slope1)
	clone.Slope2 = cloneBig(p.Slope2)
	clone.Slope3 = cloneBig(p.Slope3)
	clone.Intercept1 = cloneBig(p.Intercept1)
	clone.Cutoff1 = cloneBig(p.Cutoff1)
	clone.Cutoff2 = cloneBig(p.Cutoff2)
	return clone
}

// CurveState carries the mutable fee-decay anchor for one collateral type.
type CurveState struct {
	LastFee     *big.Int
	LastFeeTime uint64
}

// Clone returns a deep copy of the state.
func (s *CurveState) Clone() *CurveState {
	if s == nil {
		return nil
	}
	return &CurveState{LastFee: cloneBig(s.LastFee), LastFeeTime: s.LastFeeTime}
}

// Asset is a collateral registry entry. The core consults it read-only; only
// the holder of the registry capability may mutate entries.
type Asset struct {
	// Symbol is the canonical identifier, NFKC-folded and upper-cased.
	Symbol string
	Name   string
	// Decimals is the native scale of amounts for this asset.
	Decimals uint8
	// SafetyRatio is the risk discount applied when computing normalized
	// value, 1e18 scale, in (0, 1e18].
	SafetyRatio *big.Int
	Active      bool
	// Wrapped marks yield-bearing wrapper assets that are unwrapped to the
	// underlying symbol when sent back to users.
	Wrapped    bool
	Underlying string
	// ValueCap bounds the total normalized value accepted for this asset.
	// Zero means uncapped.
	ValueCap *big.Int
	Curve    CurveParams
}

// Clone returns a deep copy of the asset.
func (a *Asset) Clone() *Asset {
	if a == nil {
		return nil
	}
	clone := *a
	clone.SafetyRatio = cloneBig(a.SafetyRatio)
	clone.ValueCap = cloneBig(a.ValueCap)
	clone.Curve = a.Curve.Clone()
	return &clone
}

// NormalizeSymbol canonicalises a collateral symbol: NFKC normalisation,
// whitespace trim and upper-casing. Registry lookups always go through this so
// visually identical symbols cannot alias distinct entries.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(norm.NFKC.String(symbol)))
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

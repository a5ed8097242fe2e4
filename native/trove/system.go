package trove

import "math/big"

// SystemState tracks the protocol aggregates: outstanding trove debt, the
// MUSD supply and the collateral backing active troves (including amounts
// still pending redistribution). Values are mutated only inside engine
// operations.
type SystemState struct {
	TotalDebt        *big.Int
	TotalSupply      *big.Int
	CollateralTotals map[string]*big.Int
	// TroveCount is the ever-increasing creation counter used to assign
	// audit indexes.
	TroveCount uint64
}

// NewSystemState returns zeroed aggregates.
func NewSystemState() *SystemState {
	return &SystemState{
		TotalDebt:        big.NewInt(0),
		TotalSupply:      big.NewInt(0),
		CollateralTotals: make(map[string]*big.Int),
	}
}

func (s *SystemState) normalize() {
	if s.TotalDebt == nil {
		s.TotalDebt = big.NewInt(0)
	}
	if s.TotalSupply == nil {
		s.TotalSupply = big.NewInt(0)
	}
	if s.CollateralTotals == nil {
		s.CollateralTotals = make(map[string]*big.Int)
	}
}

// AddCollateral increases the tracked total for a symbol.
func (s *SystemState) AddCollateral(symbol string, amount *big.Int) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	s.normalize()
	current, ok := s.CollateralTotals[symbol]
	if !ok || current == nil {
		current = big.NewInt(0)
	}
	s.CollateralTotals[symbol] = new(big.Int).Add(current, amount)
}

// SubCollateral decreases the tracked total for a symbol, pruning zeroes.
func (s *SystemState) SubCollateral(symbol string, amount *big.Int) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	s.normalize()
	current, ok := s.CollateralTotals[symbol]
	if !ok || current == nil {
		current = big.NewInt(0)
	}
	next := new(big.Int).Sub(current, amount)
	if next.Sign() <= 0 {
		delete(s.CollateralTotals, symbol)
		return
	}
	s.CollateralTotals[symbol] = next
}

// ratioAtLeast treats a nil ratio as infinite, which is how a zero-debt
// system compares against any threshold.
func ratioAtLeast(ratio, threshold *big.Int) bool {
	if ratio == nil {
		return true
	}
	return ratio.Cmp(threshold) >= 0
}

// computeRatio returns value*1e18/debt, or nil when debt is zero.
func computeRatio(value, debt *big.Int) *big.Int {
	if debt == nil || debt.Sign() == 0 {
		return nil
	}
	return mulDivFloor(value, one, debt)
}

package trove

import (
	"math/big"

	"meridianchain/crypto"
)

// Status tracks the lifecycle of a trove. A trove leaves the active state
// exactly once and the terminal status records what ended it.
type Status uint8

const (
	StatusNonexistent Status = iota
	StatusActive
	StatusClosedByOwner
	StatusClosedByRedemption
	StatusClosedByLiquidation
)

// String renders the status for audit records.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusClosedByOwner:
		return "closedByOwner"
	case StatusClosedByRedemption:
		return "closedByRedemption"
	case StatusClosedByLiquidation:
		return "closedByLiquidation"
	default:
		return "nonexistent"
	}
}

// Terminal reports whether the status ends the trove lifecycle.
func (s Status) Terminal() bool {
	return s == StatusClosedByOwner || s == StatusClosedByRedemption || s == StatusClosedByLiquidation
}

// Trove is the per-account debt position. Collateral is a sparse symbol map
// so the record stays aligned with the registry even as it grows. Debt
// includes the liquidation reserve component.
type Trove struct {
	Owner      crypto.Address
	Status     Status
	Collateral map[string]*big.Int
	Debt       *big.Int
	// Stake is the redistribution weight snapshot maintained by the
	// redistribution ledger.
	Stake *big.Int
	// ArrayIndex is the position assigned at creation, used only for audit
	// records.
	ArrayIndex uint64
}

// NewTrove returns an empty nonexistent trove for the owner.
func NewTrove(owner crypto.Address) *Trove {
	return &Trove{
		Owner:      owner,
		Status:     StatusNonexistent,
		Collateral: make(map[string]*big.Int),
		Debt:       big.NewInt(0),
		Stake:      big.NewInt(0),
	}
}

// HoldingsCopy returns a deep copy of the collateral map with zero amounts
// pruned.
func (t *Trove) HoldingsCopy() map[string]*big.Int {
	out := make(map[string]*big.Int, len(t.Collateral))
	for symbol, amount := range t.Collateral {
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		out[symbol] = new(big.Int).Set(amount)
	}
	return out
}

// NetDebt returns the debt excluding the liquidation reserve, floored at
// zero.
func (t *Trove) NetDebt(reserve *big.Int) *big.Int {
	if t == nil || t.Debt == nil {
		return big.NewInt(0)
	}
	net := new(big.Int).Sub(t.Debt, reserve)
	if net.Sign() < 0 {
		return big.NewInt(0)
	}
	return net
}

// ChangeSet is the unified adjustment model: any operation against an active
// trove is expressed as collateral in, collateral out and a signed debt
// change.
type ChangeSet struct {
	CollateralIn   map[string]*big.Int
	CollateralOut  map[string]*big.Int
	DebtChange     *big.Int
	IsDebtIncrease bool
}

// IsZero reports whether the change set carries no effect.
func (c ChangeSet) IsZero() bool {
	if c.DebtChange != nil && c.DebtChange.Sign() != 0 {
		return false
	}
	for _, amount := range c.CollateralIn {
		if amount != nil && amount.Sign() != 0 {
			return false
		}
	}
	for _, amount := range c.CollateralOut {
		if amount != nil && amount.Sign() != 0 {
			return false
		}
	}
	return true
}

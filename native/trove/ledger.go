package trove

import (
	"math/big"

	"meridianchain/crypto"
)

// Ledger exposes the pure data operations on trove records. No business
// validation lives here; the adjustment orchestrator and redemption engine
// mutate it only after all invariants have been checked.
type Ledger struct {
	state engineState
}

// NewLedger wires a ledger to the persistence layer.
func NewLedger(state engineState) *Ledger {
	return &Ledger{state: state}
}

func (l *Ledger) ensureTrove(owner crypto.Address) (*Trove, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	t, err := l.state.GetTrove(owner)
	if err != nil {
		return nil, err
	}
	if t == nil {
		t = NewTrove(owner)
	}
	if t.Collateral == nil {
		t.Collateral = make(map[string]*big.Int)
	}
	if t.Debt == nil {
		t.Debt = big.NewInt(0)
	}
	if t.Stake == nil {
		t.Stake = big.NewInt(0)
	}
	return t, nil
}

// SetStatus records a lifecycle transition.
func (l *Ledger) SetStatus(owner crypto.Address, status Status) error {
	t, err := l.ensureTrove(owner)
	if err != nil {
		return err
	}
	t.Status = status
	return l.state.PutTrove(t)
}

// ReplaceCollateral swaps the full holding set, pruning zero amounts.
func (l *Ledger) ReplaceCollateral(owner crypto.Address, holdings map[string]*big.Int) error {
	t, err := l.ensureTrove(owner)
	if err != nil {
		return err
	}
	next := make(map[string]*big.Int, len(holdings))
	for symbol, amount := range holdings {
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		if amount.Sign() < 0 {
			return errNegativeHolding
		}
		next[symbol] = new(big.Int).Set(amount)
	}
	t.Collateral = next
	return l.state.PutTrove(t)
}

// IncreaseDebt adds to the trove debt and returns the new total.
func (l *Ledger) IncreaseDebt(owner crypto.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, errInvalidAmount
	}
	t, err := l.ensureTrove(owner)
	if err != nil {
		return nil, err
	}
	t.Debt = new(big.Int).Add(t.Debt, amount)
	if err := l.state.PutTrove(t); err != nil {
		return nil, err
	}
	return new(big.Int).Set(t.Debt), nil
}

// DecreaseDebt subtracts from the trove debt and returns the new total. The
// debt never goes negative.
func (l *Ledger) DecreaseDebt(owner crypto.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, errInvalidAmount
	}
	t, err := l.ensureTrove(owner)
	if err != nil {
		return nil, err
	}
	next := new(big.Int).Sub(t.Debt, amount)
	if next.Sign() < 0 {
		return nil, errRepayExceedsDebt
	}
	t.Debt = next
	if err := l.state.PutTrove(t); err != nil {
		return nil, err
	}
	return new(big.Int).Set(t.Debt), nil
}

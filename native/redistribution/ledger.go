package redistribution

import (
	"crypto/subtle"
	"errors"
	"math/big"
	"strings"

	"meridianchain/crypto"
	"meridianchain/native/trove"
)

var (
	errNilState     = errors.New("redistribution: state not configured")
	errUnauthorized = errors.New("redistribution: capability check failed")
	errNoStakes     = errors.New("redistribution: no stakes to socialise against")
)

var one = big.NewInt(1_000_000_000_000_000_000)

// Capability is the bearer token guarding the accrual hook. Only the
// liquidation collaborator holds it.
type Capability struct {
	token string
}

// NewCapability wraps a secret token in a capability value.
func NewCapability(token string) Capability {
	return Capability{token: strings.TrimSpace(token)}
}

// Accumulators are the global per-unit-stake reward counters. Each liquidation
// that cannot be absorbed by the stability pool pushes its collateral and debt
// here; troves pick their share up lazily before they are touched.
type Accumulators struct {
	CollateralPerStake map[string]*big.Int
	DebtPerStake       *big.Int
	TotalStakes        *big.Int
}

func (a *Accumulators) normalize() {
	if a.CollateralPerStake == nil {
		a.CollateralPerStake = make(map[string]*big.Int)
	}
	if a.DebtPerStake == nil {
		a.DebtPerStake = big.NewInt(0)
	}
	if a.TotalStakes == nil {
		a.TotalStakes = big.NewInt(0)
	}
}

// Snapshot records the accumulator values a trove has already absorbed.
type Snapshot struct {
	CollateralPerStake map[string]*big.Int
	DebtPerStake       *big.Int
}

// ledgerState abstracts the persistence layer consumed by the ledger.
type ledgerState interface {
	GetAccumulators() (*Accumulators, error)
	PutAccumulators(acc *Accumulators) error
	GetRewardSnapshot(addr crypto.Address) (*Snapshot, error)
	PutRewardSnapshot(addr crypto.Address, snap *Snapshot) error
}

// Ledger maintains socialized liquidation rewards and trove stake weights.
type Ledger struct {
	state      ledgerState
	capability Capability
}

// NewLedger constructs a ledger guarded by the supplied accrual capability.
func NewLedger(capability Capability) *Ledger {
	return &Ledger{capability: capability}
}

// SetState wires the ledger to the external persistence layer.
func (l *Ledger) SetState(state ledgerState) {
	if l == nil {
		return
	}
	l.state = state
}

func (l *Ledger) ensureAccumulators() (*Accumulators, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	acc, err := l.state.GetAccumulators()
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = &Accumulators{}
	}
	acc.normalize()
	return acc, nil
}

// ApplyPending folds the trove's share of accumulated rewards into its
// holdings and debt, refreshes its snapshot, and returns the collateral and
// debt amounts that moved so custody tracking can follow.
func (l *Ledger) ApplyPending(t *trove.Trove) (map[string]*big.Int, *big.Int, error) {
	if t == nil {
		return nil, big.NewInt(0), nil
	}
	acc, err := l.ensureAccumulators()
	if err != nil {
		return nil, nil, err
	}
	snap, err := l.state.GetRewardSnapshot(t.Owner)
	if err != nil {
		return nil, nil, err
	}
	stake := t.Stake
	moved := make(map[string]*big.Int)
	movedDebt := big.NewInt(0)
	if stake != nil && stake.Sign() > 0 {
		for symbol, perStake := range acc.CollateralPerStake {
			delta := new(big.Int).Set(perStake)
			if snap != nil && snap.CollateralPerStake != nil && snap.CollateralPerStake[symbol] != nil {
				delta.Sub(delta, snap.CollateralPerStake[symbol])
			}
			if delta.Sign() <= 0 {
				continue
			}
			pending := new(big.Int).Mul(stake, delta)
			pending.Quo(pending, one)
			if pending.Sign() == 0 {
				continue
			}
			moved[symbol] = pending
			current := t.Collateral[symbol]
			if current == nil {
				current = big.NewInt(0)
			}
			t.Collateral[symbol] = new(big.Int).Add(current, pending)
		}
		debtDelta := new(big.Int).Set(acc.DebtPerStake)
		if snap != nil && snap.DebtPerStake != nil {
			debtDelta.Sub(debtDelta, snap.DebtPerStake)
		}
		if debtDelta.Sign() > 0 {
			movedDebt = new(big.Int).Mul(stake, debtDelta)
			movedDebt.Quo(movedDebt, one)
			t.Debt = new(big.Int).Add(t.Debt, movedDebt)
		}
	}
	next := &Snapshot{
		CollateralPerStake: make(map[string]*big.Int, len(acc.CollateralPerStake)),
		DebtPerStake:       new(big.Int).Set(acc.DebtPerStake),
	}
	for symbol, perStake := range acc.CollateralPerStake {
		next.CollateralPerStake[symbol] = new(big.Int).Set(perStake)
	}
	if err := l.state.PutRewardSnapshot(t.Owner, next); err != nil {
		return nil, nil, err
	}
	return moved, movedDebt, nil
}

// UpdateStake replaces the trove's stake weight, keeping the total in sync.
func (l *Ledger) UpdateStake(t *trove.Trove, newStake *big.Int) error {
	if t == nil {
		return nil
	}
	acc, err := l.ensureAccumulators()
	if err != nil {
		return err
	}
	if newStake == nil || newStake.Sign() < 0 {
		newStake = big.NewInt(0)
	}
	old := t.Stake
	if old == nil {
		old = big.NewInt(0)
	}
	acc.TotalStakes = new(big.Int).Sub(acc.TotalStakes, old)
	acc.TotalStakes.Add(acc.TotalStakes, newStake)
	if acc.TotalStakes.Sign() < 0 {
		acc.TotalStakes = big.NewInt(0)
	}
	t.Stake = new(big.Int).Set(newStake)
	return l.state.PutAccumulators(acc)
}

// RemoveStake clears the trove's stake and snapshot when it leaves the active
// set.
func (l *Ledger) RemoveStake(t *trove.Trove) error {
	if err := l.UpdateStake(t, big.NewInt(0)); err != nil {
		return err
	}
	return l.state.PutRewardSnapshot(t.Owner, nil)
}

// Accrue socialises a liquidation remainder across all stakes. Only the
// holder of the accrual capability may call it.
func (l *Ledger) Accrue(capability Capability, collateral map[string]*big.Int, debt *big.Int) error {
	if l == nil {
		return errUnauthorized
	}
	if l.capability.token == "" ||
		subtle.ConstantTimeCompare([]byte(l.capability.token), []byte(capability.token)) != 1 {
		return errUnauthorized
	}
	acc, err := l.ensureAccumulators()
	if err != nil {
		return err
	}
	if acc.TotalStakes.Sign() == 0 {
		return errNoStakes
	}
	for symbol, amount := range collateral {
		if amount == nil || amount.Sign() <= 0 {
			continue
		}
		perStake := new(big.Int).Mul(amount, one)
		perStake.Quo(perStake, acc.TotalStakes)
		current := acc.CollateralPerStake[symbol]
		if current == nil {
			current = big.NewInt(0)
		}
		acc.CollateralPerStake[symbol] = new(big.Int).Add(current, perStake)
	}
	if debt != nil && debt.Sign() > 0 {
		perStake := new(big.Int).Mul(debt, one)
		perStake.Quo(perStake, acc.TotalStakes)
		acc.DebtPerStake = new(big.Int).Add(acc.DebtPerStake, perStake)
	}
	return l.state.PutAccumulators(acc)
}

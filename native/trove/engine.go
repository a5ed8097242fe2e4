package trove

import (
	"math/big"
	"time"

	"meridianchain/core/events"
	"meridianchain/core/types"
	"meridianchain/crypto"
	"meridianchain/native/collateral"
	nativecommon "meridianchain/native/common"
	"meridianchain/native/pool"
)

const moduleName = "trove"

// engineState abstracts the persistence layer consumed by the engine and the
// trove ledger.
type engineState interface {
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
	GetTrove(addr crypto.Address) (*Trove, error)
	PutTrove(t *Trove) error
	GetTroveIndex() (*TroveIndex, error)
	PutTroveIndex(ix *TroveIndex) error
	GetBaseRate() (*BaseRateState, error)
	PutBaseRate(state *BaseRateState) error
	GetSystem() (*SystemState, error)
	PutSystem(state *SystemState) error
}

// RewardApplier is the redistribution collaborator: it folds pending
// socialized rewards into a trove before the engine touches it and maintains
// stake weights.
type RewardApplier interface {
	ApplyPending(t *Trove) (map[string]*big.Int, *big.Int, error)
	UpdateStake(t *Trove, newStake *big.Int) error
	RemoveStake(t *Trove) error
}

// Engine orchestrates every trove state transition: open, adjust, close,
// surplus claims and redemptions. All invariants are validated before any
// record is written; the node wraps each call in a state transaction so a
// failure rolls back every partial mutation.
type Engine struct {
	state       engineState
	ledger      *Ledger
	registry    *collateral.Registry
	registryCap collateral.Capability
	rewards     RewardApplier
	surplus     *pool.SurplusLedger
	unwrapper   pool.Unwrapper
	pools       pool.Addresses
	params      Params
	emitter     events.Emitter
	nowFn       func() time.Time
	deployTime  uint64
	pauses      nativecommon.PauseView
}

// NewEngine constructs a trove engine bound to the collateral registry. The
// capability authorises the engine as the single caller allowed to commit
// variable-fee samples.
func NewEngine(registry *collateral.Registry, capability collateral.Capability, params Params) *Engine {
	return &Engine{
		registry:    registry,
		registryCap: capability,
		params:      params.Clone(),
		pools:       pool.DefaultAddresses(),
		unwrapper:   pool.IdentityUnwrapper{},
		emitter:     events.NoopEmitter{},
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) {
	if e == nil {
		return
	}
	e.state = state
	e.ledger = NewLedger(state)
}

// SetRewards wires the redistribution collaborator.
func (e *Engine) SetRewards(rewards RewardApplier) {
	if e == nil {
		return
	}
	e.rewards = rewards
}

// SetSurplus wires the surplus claim ledger.
func (e *Engine) SetSurplus(surplus *pool.SurplusLedger) {
	if e == nil {
		return
	}
	e.surplus = surplus
}

// SetUnwrapper wires the hook converting wrapped collateral on outbound
// transfers.
func (e *Engine) SetUnwrapper(unwrapper pool.Unwrapper) {
	if e == nil || unwrapper == nil {
		return
	}
	e.unwrapper = unwrapper
}

// SetPools overrides the custody pool addresses.
func (e *Engine) SetPools(pools pool.Addresses) {
	if e == nil {
		return
	}
	e.pools = pools
}

// SetEmitter wires the audit event sink.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil || emitter == nil {
		return
	}
	e.emitter = emitter
}

// SetClock overrides the time source, primarily for tests.
func (e *Engine) SetClock(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.nowFn = now
}

// SetDeployTime records the deployment instant anchoring the bootstrap
// window.
func (e *Engine) SetDeployTime(deployTime uint64) {
	if e == nil {
		return
	}
	e.deployTime = deployTime
}

// SetPauses wires the administrative pause view.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// Params returns a copy of the configured thresholds.
func (e *Engine) Params() Params {
	return e.params.Clone()
}

// Ledger exposes the pure data layer, primarily for queries.
func (e *Engine) Ledger() *Ledger {
	if e == nil {
		return nil
	}
	return e.ledger
}

func (e *Engine) now() uint64 {
	if e.nowFn != nil {
		return uint64(e.nowFn().Unix())
	}
	return uint64(time.Now().Unix())
}

func (e *Engine) inBootstrap(now uint64) bool {
	return e.params.BootstrapWindow != 0 && now < e.deployTime+e.params.BootstrapWindow
}

// OpenTrove creates a new position from the supplied collateral and requested
// debt. The composite debt recorded is requested + fees + liquidation
// reserve.
func (e *Engine) OpenTrove(owner crypto.Address, collateralIn map[string]*big.Int, requestedDebt, maxFeePct *big.Int, prevHint, nextHint [20]byte) (*Trove, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.registry == nil {
		return nil, errNilRegistry
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if requestedDebt == nil || requestedDebt.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if requestedDebt.Cmp(e.params.MinNetDebt) < 0 {
		return nil, errBelowMinNetDebt
	}
	if err := validateMaxFee(maxFeePct); err != nil {
		return nil, err
	}
	ins, err := e.validateCollateralSet(collateralIn, true)
	if err != nil {
		return nil, err
	}
	if len(ins) == 0 {
		return nil, errZeroChange
	}

	t, err := e.ledger.ensureTrove(owner)
	if err != nil {
		return nil, err
	}
	if t.Status == StatusActive {
		return nil, errTroveExists
	}

	sys, err := e.ensureSystem()
	if err != nil {
		return nil, err
	}
	sysValueBefore, err := e.systemValue(sys)
	if err != nil {
		return nil, err
	}
	_, inNorm, err := e.registry.PortfolioValues(ins)
	if err != nil {
		return nil, err
	}
	sysValueAfter := new(big.Int).Add(sysValueBefore, inNorm)
	tcr := computeRatio(sysValueBefore, sys.TotalDebt)
	recovery := !ratioAtLeast(tcr, e.params.CCR)
	now := e.now()

	flatFee := big.NewInt(0)
	if !recovery {
		baseState, err := e.ensureBaseRate()
		if err != nil {
			return nil, err
		}
		rate := borrowingRate(e.params, decayedBaseRate(e.params, baseState, now))
		flatFee = mulDivFloor(requestedDebt, rate, one)
	}
	varFee, err := e.variableFee(sys, ins, sysValueBefore, sysValueAfter, now)
	if err != nil {
		return nil, err
	}
	totalFee := new(big.Int).Add(flatFee, varFee)
	basis := maxBig(inNorm, requestedDebt)
	if err := checkFeeCap(totalFee, basis, maxFeePct); err != nil {
		return nil, err
	}

	composite := new(big.Int).Add(requestedDebt, totalFee)
	composite.Add(composite, e.params.LiquidationReserve)
	icr := computeRatio(inNorm, composite)
	if recovery {
		if !ratioAtLeast(icr, e.params.CCR) {
			return nil, errICRBelowCCR
		}
	} else {
		if !ratioAtLeast(icr, e.params.MCR) {
			return nil, errICRBelowMCR
		}
		newDebtTotal := new(big.Int).Add(sys.TotalDebt, composite)
		if !ratioAtLeast(computeRatio(sysValueAfter, newDebtTotal), e.params.CCR) {
			return nil, errTCRBelowCCR
		}
	}

	// Custody: move collateral into the active pool, mint the debt.
	for symbol, amount := range ins {
		if err := e.moveCollateral(owner, e.pools.Active, symbol, amount); err != nil {
			return nil, err
		}
		sys.AddCollateral(symbol, amount)
	}
	if err := e.creditMUSD(owner, requestedDebt); err != nil {
		return nil, err
	}
	if totalFee.Sign() > 0 {
		if err := e.creditMUSD(e.pools.Fee, totalFee); err != nil {
			return nil, err
		}
	}
	if err := e.creditMUSD(e.pools.Gas, e.params.LiquidationReserve); err != nil {
		return nil, err
	}
	sys.TotalSupply = new(big.Int).Add(sys.TotalSupply, composite)
	sys.TotalDebt = new(big.Int).Add(sys.TotalDebt, composite)
	sys.TroveCount++

	t.Status = StatusActive
	t.Collateral = copyHoldings(ins)
	t.Debt = composite
	t.ArrayIndex = sys.TroveCount
	if e.rewards != nil {
		if _, _, err := e.rewards.ApplyPending(t); err != nil {
			return nil, err
		}
		if err := e.rewards.UpdateStake(t, inNorm); err != nil {
			return nil, err
		}
	}
	if err := e.state.PutTrove(t); err != nil {
		return nil, err
	}
	if err := e.state.PutSystem(sys); err != nil {
		return nil, err
	}

	ix, err := e.ensureIndex()
	if err != nil {
		return nil, err
	}
	ix.Insert(addr20(owner), RatioKey(icr), prevHint, nextHint)
	if err := e.state.PutTroveIndex(ix); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.TroveCreated{Owner: addr20(owner), Index: t.ArrayIndex})
	e.emitter.Emit(events.TroveUpdated{Owner: addr20(owner), Debt: t.Debt, Collateral: t.HoldingsCopy(), Operation: "open"})
	if totalFee.Sign() > 0 {
		e.emitter.Emit(events.TroveFeePaid{Owner: addr20(owner), Amount: totalFee})
	}
	return t, nil
}

// AdjustTrove applies an arbitrary combination of collateral deposit,
// collateral withdrawal and debt change against an active trove.
func (e *Engine) AdjustTrove(owner crypto.Address, change ChangeSet, maxFeePct *big.Int, prevHint, nextHint [20]byte) (*Trove, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.registry == nil {
		return nil, errNilRegistry
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if change.IsZero() {
		return nil, errZeroChange
	}
	if change.DebtChange != nil && change.DebtChange.Sign() < 0 {
		return nil, errInvalidAmount
	}
	ins, err := e.validateCollateralSet(change.CollateralIn, true)
	if err != nil {
		return nil, err
	}
	outs, err := e.validateCollateralSet(change.CollateralOut, false)
	if err != nil {
		return nil, err
	}
	for symbol := range ins {
		if _, clash := outs[symbol]; clash {
			return nil, errOverlapCollateral
		}
	}
	debtChange := big.NewInt(0)
	if change.DebtChange != nil {
		debtChange = new(big.Int).Set(change.DebtChange)
	}
	debtIncrease := change.IsDebtIncrease && debtChange.Sign() > 0
	debtDecrease := !change.IsDebtIncrease && debtChange.Sign() > 0
	if (debtIncrease || len(ins) > 0) && maxFeePct == nil {
		return nil, errMaxFeeWindow
	}
	if maxFeePct != nil {
		if err := validateMaxFee(maxFeePct); err != nil {
			return nil, err
		}
	}

	t, err := e.ledger.ensureTrove(owner)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusActive {
		return nil, errTroveMissing
	}
	// Pending redistribution rewards fold in before anything is measured.
	if e.rewards != nil {
		if _, _, err := e.rewards.ApplyPending(t); err != nil {
			return nil, err
		}
	}
	oldDebt := new(big.Int).Set(t.Debt)
	_, oldNorm, err := e.registry.PortfolioValues(t.Collateral)
	if err != nil {
		return nil, err
	}
	oldICR := computeRatio(oldNorm, oldDebt)

	sys, err := e.ensureSystem()
	if err != nil {
		return nil, err
	}
	sysValueBefore, err := e.systemValue(sys)
	if err != nil {
		return nil, err
	}
	_, inNorm, err := e.registry.PortfolioValues(ins)
	if err != nil {
		return nil, err
	}
	_, outNorm, err := e.registry.PortfolioValues(outs)
	if err != nil {
		return nil, err
	}
	sysValueAfter := new(big.Int).Add(sysValueBefore, inNorm)
	sysValueAfter.Sub(sysValueAfter, outNorm)
	tcr := computeRatio(sysValueBefore, sys.TotalDebt)
	recovery := !ratioAtLeast(tcr, e.params.CCR)
	now := e.now()

	// Build the new holding set before any fee is charged so a withdrawal
	// that would go negative fails fast.
	newHoldings := t.HoldingsCopy()
	for symbol, amount := range ins {
		current := newHoldings[symbol]
		if current == nil {
			current = big.NewInt(0)
		}
		newHoldings[symbol] = new(big.Int).Add(current, amount)
	}
	for symbol, amount := range outs {
		current := newHoldings[symbol]
		if current == nil {
			current = big.NewInt(0)
		}
		next := new(big.Int).Sub(current, amount)
		if next.Sign() < 0 {
			return nil, errNegativeHolding
		}
		if next.Sign() == 0 {
			delete(newHoldings, symbol)
			continue
		}
		newHoldings[symbol] = next
	}

	flatFee := big.NewInt(0)
	if debtIncrease && !recovery {
		baseState, err := e.ensureBaseRate()
		if err != nil {
			return nil, err
		}
		rate := borrowingRate(e.params, decayedBaseRate(e.params, baseState, now))
		flatFee = mulDivFloor(debtChange, rate, one)
	}
	varFee := big.NewInt(0)
	if len(ins) > 0 {
		varFee, err = e.variableFee(sys, ins, sysValueBefore, sysValueAfter, now)
		if err != nil {
			return nil, err
		}
	}
	totalFee := new(big.Int).Add(flatFee, varFee)
	basis := new(big.Int).Set(inNorm)
	if debtIncrease {
		basis = maxBig(inNorm, debtChange)
	}
	if err := checkFeeCap(totalFee, basis, maxFeePct); err != nil {
		return nil, err
	}

	newDebt := new(big.Int).Add(t.Debt, totalFee)
	if debtIncrease {
		newDebt.Add(newDebt, debtChange)
	} else if debtDecrease {
		net := t.NetDebt(e.params.LiquidationReserve)
		if debtChange.Cmp(net) > 0 {
			return nil, errRepayExceedsDebt
		}
		remaining := new(big.Int).Sub(net, debtChange)
		if remaining.Cmp(e.params.MinNetDebt) < 0 {
			return nil, errBelowMinNetDebt
		}
		newDebt.Sub(newDebt, debtChange)
	}

	_, newNorm, err := e.registry.PortfolioValues(newHoldings)
	if err != nil {
		return nil, err
	}
	newICR := computeRatio(newNorm, newDebt)
	if recovery {
		if len(outs) > 0 {
			return nil, errWithdrawInRecovery
		}
		if debtIncrease {
			if !ratioAtLeast(newICR, e.params.CCR) {
				return nil, errICRBelowCCR
			}
			if newICR != nil && oldICR != nil && newICR.Cmp(oldICR) < 0 {
				return nil, errICRNotImproved
			}
		}
	} else {
		if !ratioAtLeast(newICR, e.params.MCR) {
			return nil, errICRBelowMCR
		}
		newDebtTotal := new(big.Int).Add(sys.TotalDebt, newDebt)
		newDebtTotal.Sub(newDebtTotal, oldDebt)
		if !ratioAtLeast(computeRatio(sysValueAfter, newDebtTotal), e.params.CCR) {
			return nil, errTCRBelowCCR
		}
	}

	// Token moves: mint on increase, burn on decrease, fees minted into
	// debt either way.
	if debtIncrease {
		if err := e.creditMUSD(owner, debtChange); err != nil {
			return nil, err
		}
		sys.TotalSupply = new(big.Int).Add(sys.TotalSupply, debtChange)
	} else if debtDecrease {
		if err := e.debitMUSD(owner, debtChange); err != nil {
			return nil, err
		}
		sys.TotalSupply = new(big.Int).Sub(sys.TotalSupply, debtChange)
	}
	if totalFee.Sign() > 0 {
		if err := e.creditMUSD(e.pools.Fee, totalFee); err != nil {
			return nil, err
		}
		sys.TotalSupply = new(big.Int).Add(sys.TotalSupply, totalFee)
	}
	for symbol, amount := range ins {
		if err := e.moveCollateral(owner, e.pools.Active, symbol, amount); err != nil {
			return nil, err
		}
		sys.AddCollateral(symbol, amount)
	}
	for symbol, amount := range outs {
		if err := e.moveCollateral(e.pools.Active, owner, symbol, amount); err != nil {
			return nil, err
		}
		sys.SubCollateral(symbol, amount)
	}
	sys.TotalDebt = new(big.Int).Add(sys.TotalDebt, newDebt)
	sys.TotalDebt.Sub(sys.TotalDebt, oldDebt)

	t.Collateral = newHoldings
	t.Debt = newDebt
	if e.rewards != nil {
		if err := e.rewards.UpdateStake(t, newNorm); err != nil {
			return nil, err
		}
	}
	if err := e.state.PutTrove(t); err != nil {
		return nil, err
	}
	if err := e.state.PutSystem(sys); err != nil {
		return nil, err
	}

	ix, err := e.ensureIndex()
	if err != nil {
		return nil, err
	}
	ix.ReInsert(addr20(owner), RatioKey(newICR), prevHint, nextHint)
	if err := e.state.PutTroveIndex(ix); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.TroveUpdated{Owner: addr20(owner), Debt: t.Debt, Collateral: t.HoldingsCopy(), Operation: operationKind(change)})
	if totalFee.Sign() > 0 {
		e.emitter.Emit(events.TroveFeePaid{Owner: addr20(owner), Amount: totalFee})
	}
	return t, nil
}

// CloseTrove repays the full debt, burns the liquidation reserve and returns
// every held collateral amount to the owner.
func (e *Engine) CloseTrove(owner crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.registry == nil {
		return errNilRegistry
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	t, err := e.ledger.ensureTrove(owner)
	if err != nil {
		return err
	}
	if t.Status != StatusActive {
		return errTroveMissing
	}
	if e.rewards != nil {
		if _, _, err := e.rewards.ApplyPending(t); err != nil {
			return err
		}
	}
	sys, err := e.ensureSystem()
	if err != nil {
		return err
	}
	sysValueBefore, err := e.systemValue(sys)
	if err != nil {
		return err
	}
	tcr := computeRatio(sysValueBefore, sys.TotalDebt)
	if !ratioAtLeast(tcr, e.params.CCR) {
		return errCloseInRecovery
	}
	_, troveNorm, err := e.registry.PortfolioValues(t.Collateral)
	if err != nil {
		return err
	}
	remainingValue := new(big.Int).Sub(sysValueBefore, troveNorm)
	remainingDebt := new(big.Int).Sub(sys.TotalDebt, t.Debt)
	if !ratioAtLeast(computeRatio(remainingValue, remainingDebt), e.params.CCR) {
		return errTCRBelowCCR
	}
	repay := t.NetDebt(e.params.LiquidationReserve)
	if err := e.debitMUSD(owner, repay); err != nil {
		return err
	}
	if err := e.debitMUSD(e.pools.Gas, e.params.LiquidationReserve); err != nil {
		return err
	}
	sys.TotalSupply = new(big.Int).Sub(sys.TotalSupply, t.Debt)
	sys.TotalDebt = new(big.Int).Sub(sys.TotalDebt, t.Debt)
	for symbol, amount := range t.HoldingsCopy() {
		if err := e.moveCollateral(e.pools.Active, owner, symbol, amount); err != nil {
			return err
		}
		sys.SubCollateral(symbol, amount)
	}
	if e.rewards != nil {
		if err := e.rewards.RemoveStake(t); err != nil {
			return err
		}
	}
	if err := e.state.PutSystem(sys); err != nil {
		return err
	}
	ix, err := e.ensureIndex()
	if err != nil {
		return err
	}
	ix.Remove(addr20(owner))
	if err := e.state.PutTroveIndex(ix); err != nil {
		return err
	}
	t.Status = StatusClosedByOwner
	t.Collateral = make(map[string]*big.Int)
	t.Debt = big.NewInt(0)
	if err := e.state.PutTrove(t); err != nil {
		return err
	}
	e.emitter.Emit(events.TroveUpdated{Owner: addr20(owner), Debt: big.NewInt(0), Operation: "close"})
	return nil
}

// ClaimSurplus sends the owner's claimable surplus collateral back to their
// account, unwrapping wrapped types.
func (e *Engine) ClaimSurplus(owner crypto.Address) (map[string]*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.surplus == nil {
		return nil, errNoSurplus
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	claims, err := e.surplus.Drain(owner)
	if err != nil {
		return nil, err
	}
	if len(claims) == 0 {
		return nil, errNoSurplus
	}
	sent := make(map[string]*big.Int, len(claims))
	for symbol, amount := range claims {
		outSymbol, outAmount, err := e.sendUnwrapped(e.pools.Surplus, owner, symbol, amount)
		if err != nil {
			return nil, err
		}
		current := sent[outSymbol]
		if current == nil {
			current = big.NewInt(0)
		}
		sent[outSymbol] = new(big.Int).Add(current, outAmount)
	}
	e.emitter.Emit(events.SurplusClaimed{Owner: addr20(owner), Collateral: sent})
	return sent, nil
}

// --- Convenience entry points (thin wrappers over the unified model) ---

// AddCollateral deposits a single collateral amount.
func (e *Engine) AddCollateral(owner crypto.Address, symbol string, amount, maxFeePct *big.Int, prevHint, nextHint [20]byte) (*Trove, error) {
	return e.AdjustTrove(owner, ChangeSet{
		CollateralIn: map[string]*big.Int{symbol: amount},
	}, maxFeePct, prevHint, nextHint)
}

// WithdrawCollateral withdraws a single collateral amount.
func (e *Engine) WithdrawCollateral(owner crypto.Address, symbol string, amount *big.Int, prevHint, nextHint [20]byte) (*Trove, error) {
	return e.AdjustTrove(owner, ChangeSet{
		CollateralOut: map[string]*big.Int{symbol: amount},
	}, nil, prevHint, nextHint)
}

// Borrow draws additional MUSD against the trove.
func (e *Engine) Borrow(owner crypto.Address, amount, maxFeePct *big.Int, prevHint, nextHint [20]byte) (*Trove, error) {
	return e.AdjustTrove(owner, ChangeSet{
		DebtChange:     amount,
		IsDebtIncrease: true,
	}, maxFeePct, prevHint, nextHint)
}

// Repay pays down MUSD debt.
func (e *Engine) Repay(owner crypto.Address, amount *big.Int, prevHint, nextHint [20]byte) (*Trove, error) {
	return e.AdjustTrove(owner, ChangeSet{
		DebtChange: amount,
	}, nil, prevHint, nextHint)
}

// --- Queries ---

// GetTrove returns the stored trove for an owner, or a nonexistent record.
func (e *Engine) GetTrove(owner crypto.Address) (*Trove, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.ledger.ensureTrove(owner)
}

// CurrentICR returns the trove's ratio at current prices. Zero debt is
// undefined and rejected.
func (e *Engine) CurrentICR(owner crypto.Address) (*big.Int, error) {
	t, err := e.GetTrove(owner)
	if err != nil {
		return nil, err
	}
	if t.Debt == nil || t.Debt.Sign() == 0 {
		return nil, errInvalidAmount
	}
	_, norm, err := e.registry.PortfolioValues(t.Collateral)
	if err != nil {
		return nil, err
	}
	return computeRatio(norm, t.Debt), nil
}

// SystemSnapshot reports the aggregates and the current system ratio. A nil
// ratio means the system carries no debt.
func (e *Engine) SystemSnapshot() (*SystemState, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	sys, err := e.ensureSystem()
	if err != nil {
		return nil, nil, err
	}
	value, err := e.systemValue(sys)
	if err != nil {
		return nil, nil, err
	}
	return sys, computeRatio(value, sys.TotalDebt), nil
}

// BaseRate returns the decayed base rate at the current instant.
func (e *Engine) BaseRate() (*big.Int, error) {
	state, err := e.ensureBaseRate()
	if err != nil {
		return nil, err
	}
	return decayedBaseRate(e.params, state, e.now()), nil
}

// --- internal helpers ---

func (e *Engine) ensureSystem() (*SystemState, error) {
	sys, err := e.state.GetSystem()
	if err != nil {
		return nil, err
	}
	if sys == nil {
		sys = NewSystemState()
	}
	sys.normalize()
	return sys, nil
}

func (e *Engine) ensureBaseRate() (*BaseRateState, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	state, err := e.state.GetBaseRate()
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = &BaseRateState{Rate: big.NewInt(0), LastUpdate: e.deployTime}
	}
	if state.Rate == nil {
		state.Rate = big.NewInt(0)
	}
	return state, nil
}

func (e *Engine) ensureIndex() (*TroveIndex, error) {
	ix, err := e.state.GetTroveIndex()
	if err != nil {
		return nil, err
	}
	if ix == nil {
		ix = &TroveIndex{}
	}
	return ix, nil
}

func (e *Engine) ensureAccount(addr crypto.Address) (*types.Account, error) {
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = types.NewAccount()
	}
	if acc.BalanceMUSD == nil {
		acc.BalanceMUSD = big.NewInt(0)
	}
	return acc, nil
}

// systemValue prices the tracked collateral totals at current oracle quotes.
func (e *Engine) systemValue(sys *SystemState) (*big.Int, error) {
	_, norm, err := e.registry.PortfolioValues(sys.CollateralTotals)
	if err != nil {
		return nil, err
	}
	return norm, nil
}

// variableFee evaluates and commits the per-collateral fee curve for every
// incoming symbol and returns the summed MUSD fee.
func (e *Engine) variableFee(sys *SystemState, ins map[string]*big.Int, sysValueBefore, sysValueAfter *big.Int, now uint64) (*big.Int, error) {
	total := big.NewInt(0)
	for symbol, amount := range ins {
		inValue, err := e.registry.NormalizedValue(symbol, amount)
		if err != nil {
			return nil, err
		}
		poolAmount := sys.CollateralTotals[symbol]
		if poolAmount == nil {
			poolAmount = big.NewInt(0)
		}
		poolBefore, err := e.registry.NormalizedValue(symbol, poolAmount)
		if err != nil {
			return nil, err
		}
		rate, err := e.registry.FeeAndCommit(e.registryCap, symbol, inValue, poolBefore, sysValueBefore, sysValueAfter, now)
		if err != nil {
			return nil, err
		}
		total.Add(total, mulDivFloor(inValue, rate, one))
	}
	return total, nil
}

// validateCollateralSet normalizes symbols and checks registry membership.
// Incoming collateral must be active; outgoing only needs to exist so retired
// types can still leave the system.
func (e *Engine) validateCollateralSet(set map[string]*big.Int, requireActive bool) (map[string]*big.Int, error) {
	out := make(map[string]*big.Int, len(set))
	for symbol, amount := range set {
		canonical := collateral.NormalizeSymbol(symbol)
		if canonical == "" {
			return nil, errDuplicateCollateral
		}
		if _, dup := out[canonical]; dup {
			return nil, errDuplicateCollateral
		}
		if amount == nil || amount.Sign() <= 0 {
			return nil, errInvalidAmount
		}
		var err error
		if requireActive {
			_, err = e.registry.ActiveAsset(canonical)
		} else {
			_, err = e.registry.Asset(canonical)
		}
		if err != nil {
			return nil, err
		}
		out[canonical] = new(big.Int).Set(amount)
	}
	return out, nil
}

func (e *Engine) moveCollateral(from, to crypto.Address, symbol string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	fromAcc, err := e.ensureAccount(from)
	if err != nil {
		return err
	}
	balance := fromAcc.CollateralBalance(symbol)
	if balance.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	toAcc, err := e.ensureAccount(to)
	if err != nil {
		return err
	}
	fromAcc.SetCollateralBalance(symbol, new(big.Int).Sub(balance, amount))
	toAcc.SetCollateralBalance(symbol, new(big.Int).Add(toAcc.CollateralBalance(symbol), amount))
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to, toAcc)
}

// sendUnwrapped moves collateral out of a pool to a user, converting wrapped
// symbols through the unwrap hook first.
func (e *Engine) sendUnwrapped(from, to crypto.Address, symbol string, amount *big.Int) (string, *big.Int, error) {
	outSymbol, outAmount, err := e.unwrapper.Unwrap(symbol, amount)
	if err != nil {
		return "", nil, err
	}
	fromAcc, err := e.ensureAccount(from)
	if err != nil {
		return "", nil, err
	}
	balance := fromAcc.CollateralBalance(symbol)
	if balance.Cmp(amount) < 0 {
		return "", nil, errInsufficientBalance
	}
	fromAcc.SetCollateralBalance(symbol, new(big.Int).Sub(balance, amount))
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return "", nil, err
	}
	toAcc, err := e.ensureAccount(to)
	if err != nil {
		return "", nil, err
	}
	toAcc.SetCollateralBalance(outSymbol, new(big.Int).Add(toAcc.CollateralBalance(outSymbol), outAmount))
	if err := e.state.PutAccount(to, toAcc); err != nil {
		return "", nil, err
	}
	return outSymbol, outAmount, nil
}

func (e *Engine) creditMUSD(addr crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	acc, err := e.ensureAccount(addr)
	if err != nil {
		return err
	}
	acc.BalanceMUSD = new(big.Int).Add(acc.BalanceMUSD, amount)
	return e.state.PutAccount(addr, acc)
}

func (e *Engine) debitMUSD(addr crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	acc, err := e.ensureAccount(addr)
	if err != nil {
		return err
	}
	if acc.BalanceMUSD.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	acc.BalanceMUSD = new(big.Int).Sub(acc.BalanceMUSD, amount)
	return e.state.PutAccount(addr, acc)
}

func validateMaxFee(maxFeePct *big.Int) error {
	if maxFeePct == nil {
		return nil
	}
	if maxFeePct.Sign() < 0 || maxFeePct.Cmp(one) > 0 {
		return errMaxFeeWindow
	}
	return nil
}

// checkFeeCap enforces the caller-supplied maximum fee percentage against
// the charged fee, measured over the operation's fee basis.
func checkFeeCap(totalFee, basis, maxFeePct *big.Int) error {
	if totalFee.Sign() == 0 {
		return nil
	}
	if maxFeePct == nil {
		return errFeeExceedsMax
	}
	if basis == nil || basis.Sign() == 0 {
		return errFeeExceedsMax
	}
	allowed := mulDivFloor(basis, maxFeePct, one)
	if totalFee.Cmp(allowed) > 0 {
		return errFeeExceedsMax
	}
	return nil
}

func operationKind(change ChangeSet) string {
	hasIn := len(change.CollateralIn) > 0
	hasOut := len(change.CollateralOut) > 0
	hasDebt := change.DebtChange != nil && change.DebtChange.Sign() > 0
	switch {
	case hasIn && !hasOut && !hasDebt:
		return "addCollateral"
	case hasOut && !hasIn && !hasDebt:
		return "withdrawCollateral"
	case hasDebt && change.IsDebtIncrease && !hasIn && !hasOut:
		return "borrow"
	case hasDebt && !change.IsDebtIncrease && !hasIn && !hasOut:
		return "repay"
	default:
		return "adjust"
	}
}

func maxBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

func copyHoldings(holdings map[string]*big.Int) map[string]*big.Int {
	out := make(map[string]*big.Int, len(holdings))
	for symbol, amount := range holdings {
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		out[symbol] = new(big.Int).Set(amount)
	}
	return out
}

func addr20(addr crypto.Address) [20]byte {
	var out [20]byte
	copy(out[:], addr.Bytes())
	return out
}

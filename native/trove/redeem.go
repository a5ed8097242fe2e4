package trove

import (
	"math/big"

	"meridianchain/core/events"
	"meridianchain/crypto"
	nativecommon "meridianchain/native/common"
)

// RedemptionRequest carries a redeem call. Hints are owner addresses: the
// first hint names the expected starting trove, the reinsert hints position a
// partially redeemed trove back into the ordered index.
type RedemptionRequest struct {
	Redeemer      crypto.Address
	Amount        *big.Int
	MaxFee        *big.Int
	FirstHint     [20]byte
	ReinsertPrev  [20]byte
	ReinsertNext  [20]byte
	ExpectedICR   *big.Int
	MaxIterations uint64
}

// RedemptionResult summarises a successful redemption.
type RedemptionResult struct {
	Attempted  *big.Int
	Actual     *big.Int
	Fee        *big.Int
	Collateral map[string]*big.Int
}

// Redeem converts the caller's MUSD into collateral drawn proportionally
// from the worst-collateralised eligible troves. The per-trove allocation is
// deliberately proportional to raw USD value, not normalized value, so the
// redeemer receives a literal dollar-for-dollar exchange.
func (e *Engine) Redeem(req RedemptionRequest) (*RedemptionResult, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.registry == nil {
		return nil, errNilRegistry
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	now := e.now()
	if e.inBootstrap(now) {
		return nil, errBootstrapWindow
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	sys, err := e.ensureSystem()
	if err != nil {
		return nil, err
	}
	sysValue, err := e.systemValue(sys)
	if err != nil {
		return nil, err
	}
	if !ratioAtLeast(computeRatio(sysValue, sys.TotalDebt), e.params.MCR) {
		return nil, errRedemptionsHalted
	}
	redeemerAcc, err := e.ensureAccount(req.Redeemer)
	if err != nil {
		return nil, err
	}
	if redeemerAcc.BalanceMUSD.Cmp(req.Amount) < 0 {
		return nil, errInsufficientBalance
	}
	if req.MaxFee == nil || req.MaxFee.Cmp(req.Amount) > 0 {
		return nil, errMaxFeeWindow
	}
	maxFeeRate := mulDivFloor(req.MaxFee, one, req.Amount)
	if maxFeeRate.Cmp(e.params.RedemptionFeeFloor) < 0 {
		return nil, errMaxFeeWindow
	}
	supplyAtStart := new(big.Int).Set(sys.TotalSupply)

	ix, err := e.ensureIndex()
	if err != nil {
		return nil, err
	}
	candidate, ok := e.startingCandidate(ix, req.FirstHint)
	if !ok {
		return nil, errZeroRedemption
	}

	remaining := new(big.Int).Set(req.Amount)
	actual := big.NewInt(0)
	drawn := make(map[string]*big.Int)
	reservesBurned := big.NewInt(0)
	var iterations uint64

	for remaining.Sign() > 0 {
		if req.MaxIterations > 0 && iterations >= req.MaxIterations {
			break
		}
		iterations++
		next, hasNext := ix.Prev(candidate)

		owner := crypto.NewAddress(crypto.MerPrefix, candidate[:])
		t, err := e.ledger.ensureTrove(owner)
		if err != nil {
			return nil, err
		}
		if t.Status != StatusActive {
			break
		}
		if e.rewards != nil {
			if _, _, err := e.rewards.ApplyPending(t); err != nil {
				return nil, err
			}
		}
		net := t.NetDebt(e.params.LiquidationReserve)
		if net.Sign() <= 0 {
			if !hasNext {
				break
			}
			candidate = next
			continue
		}
		lot := new(big.Int).Set(remaining)
		if lot.Cmp(net) > 0 {
			lot.Set(net)
		}
		sent, err := e.allocateCollateral(t, lot)
		if err != nil {
			return nil, err
		}

		if lot.Cmp(net) == 0 {
			// Full redemption: the trove closes, the reserve burns
			// and the remainder collateral becomes claimable
			// surplus.
			if err := e.closeRedeemedTrove(t, sys, sent, ix); err != nil {
				return nil, err
			}
			reservesBurned.Add(reservesBurned, e.params.LiquidationReserve)
		} else {
			applied, err := e.applyPartialRedemption(t, sys, ix, lot, sent, req)
			if err != nil {
				return nil, err
			}
			if !applied {
				break
			}
		}
		for symbol, amount := range sent {
			current := drawn[symbol]
			if current == nil {
				current = big.NewInt(0)
			}
			drawn[symbol] = new(big.Int).Add(current, amount)
			sys.SubCollateral(symbol, amount)
		}
		actual.Add(actual, lot)
		remaining.Sub(remaining, lot)
		sys.TotalDebt = new(big.Int).Sub(sys.TotalDebt, lot)
		if !hasNext {
			break
		}
		candidate = next
	}

	if actual.Sign() == 0 {
		return nil, errZeroRedemption
	}

	baseState, err := e.ensureBaseRate()
	if err != nil {
		return nil, err
	}
	newRate := updatedBaseRateFromRedemption(e.params, baseState, actual, supplyAtStart, now)
	if err := e.state.PutBaseRate(&BaseRateState{Rate: newRate, LastUpdate: now}); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.BaseRateUpdated{Rate: newRate})

	fee := mulDivFloor(actual, redemptionRate(e.params, newRate), one)
	if fee.Cmp(actual) >= 0 {
		return nil, errFeeEatsRedemption
	}
	if fee.Cmp(req.MaxFee) > 0 {
		return nil, errFeeExceedsMax
	}
	total := new(big.Int).Add(actual, fee)
	if err := e.debitMUSD(req.Redeemer, total); err != nil {
		return nil, err
	}
	if err := e.creditMUSD(e.pools.Fee, fee); err != nil {
		return nil, err
	}
	// Redeemed principal and closed-trove reserves are burned; the fee is a
	// transfer, not a burn.
	sys.TotalSupply = new(big.Int).Sub(sys.TotalSupply, actual)
	sys.TotalSupply.Sub(sys.TotalSupply, reservesBurned)
	if err := e.state.PutSystem(sys); err != nil {
		return nil, err
	}
	for symbol, amount := range drawn {
		if _, _, err := e.sendUnwrapped(e.pools.Active, req.Redeemer, symbol, amount); err != nil {
			return nil, err
		}
	}

	result := &RedemptionResult{
		Attempted:  new(big.Int).Set(req.Amount),
		Actual:     actual,
		Fee:        fee,
		Collateral: drawn,
	}
	e.emitter.Emit(events.RedemptionPerformed{
		Redeemer:   addr20(req.Redeemer),
		Attempted:  result.Attempted,
		Actual:     actual,
		Fee:        fee,
		Collateral: drawn,
	})
	e.emitter.Emit(events.TroveFeePaid{Owner: addr20(req.Redeemer), Amount: fee})
	return result, nil
}

// startingCandidate verifies the supplied hint is still the worst-ratio
// eligible trove, falling back to a scan from the worst end of the index.
func (e *Engine) startingCandidate(ix *TroveIndex, hint [20]byte) ([20]byte, bool) {
	if hint != ([20]byte{}) && ix.Contains(hint) {
		if icr, err := e.indexedICR(hint); err == nil && ratioAtLeast(icr, e.params.MCR) {
			next, hasNext := ix.Next(hint)
			if !hasNext {
				return hint, true
			}
			if nextICR, err := e.indexedICR(next); err == nil && !ratioAtLeast(nextICR, e.params.MCR) {
				return hint, true
			}
		}
	}
	candidate, ok := ix.Last()
	for ok {
		icr, err := e.indexedICR(candidate)
		if err == nil && ratioAtLeast(icr, e.params.MCR) {
			return candidate, true
		}
		candidate, ok = ix.Prev(candidate)
	}
	return [20]byte{}, false
}

func (e *Engine) indexedICR(owner [20]byte) (*big.Int, error) {
	t, err := e.ledger.ensureTrove(crypto.NewAddress(crypto.MerPrefix, owner[:]))
	if err != nil {
		return nil, err
	}
	_, norm, err := e.registry.PortfolioValues(t.Collateral)
	if err != nil {
		return nil, err
	}
	return computeRatio(norm, t.Debt), nil
}

// allocateCollateral splits a redemption lot across the trove's holdings
// proportional to each symbol's raw USD share, converting the per-symbol USD
// allocation back into native units and capping at the held amount.
func (e *Engine) allocateCollateral(t *Trove, lot *big.Int) (map[string]*big.Int, error) {
	totalRaw := big.NewInt(0)
	rawBySymbol := make(map[string]*big.Int, len(t.Collateral))
	for symbol, amount := range t.Collateral {
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		raw, err := e.registry.RawValue(symbol, amount)
		if err != nil {
			return nil, err
		}
		rawBySymbol[symbol] = raw
		totalRaw.Add(totalRaw, raw)
	}
	sent := make(map[string]*big.Int, len(rawBySymbol))
	if totalRaw.Sign() == 0 {
		return sent, nil
	}
	for symbol, raw := range rawBySymbol {
		usdShare := mulDivFloor(lot, raw, totalRaw)
		amount, err := e.registry.AmountForValue(symbol, usdShare)
		if err != nil {
			return nil, err
		}
		held := t.Collateral[symbol]
		if amount.Cmp(held) > 0 {
			amount = new(big.Int).Set(held)
		}
		if amount.Sign() > 0 {
			sent[symbol] = amount
		}
	}
	return sent, nil
}

// closeRedeemedTrove terminates a fully redeemed trove: the reserve burns
// from the gas pool, remainder collateral routes to the surplus ledger and
// the trove leaves the ordered index.
func (e *Engine) closeRedeemedTrove(t *Trove, sys *SystemState, sent map[string]*big.Int, ix *TroveIndex) error {
	if err := e.debitMUSD(e.pools.Gas, e.params.LiquidationReserve); err != nil {
		return err
	}
	sys.TotalDebt = new(big.Int).Sub(sys.TotalDebt, e.params.LiquidationReserve)
	for symbol, held := range t.HoldingsCopy() {
		remainder := new(big.Int).Set(held)
		if sentAmount := sent[symbol]; sentAmount != nil {
			remainder.Sub(remainder, sentAmount)
		}
		if remainder.Sign() <= 0 {
			continue
		}
		if err := e.moveCollateral(e.pools.Active, e.pools.Surplus, symbol, remainder); err != nil {
			return err
		}
		if e.surplus != nil {
			if err := e.surplus.Add(t.Owner, symbol, remainder); err != nil {
				return err
			}
		}
		sys.SubCollateral(symbol, remainder)
	}
	if e.rewards != nil {
		if err := e.rewards.RemoveStake(t); err != nil {
			return err
		}
	}
	ix.Remove(addr20(t.Owner))
	if err := e.state.PutTroveIndex(ix); err != nil {
		return err
	}
	if err := e.ledger.ReplaceCollateral(t.Owner, nil); err != nil {
		return err
	}
	if _, err := e.ledger.DecreaseDebt(t.Owner, t.Debt); err != nil {
		return err
	}
	if err := e.ledger.SetStatus(t.Owner, StatusClosedByRedemption); err != nil {
		return err
	}
	e.emitter.Emit(events.TroveUpdated{Owner: addr20(t.Owner), Debt: big.NewInt(0), Operation: "redeemFull"})
	return nil
}

// applyPartialRedemption commits a partial lot against the trove, returning
// false when the caller's ratio expectation is stale or the remaining net
// debt would fall below the minimum. A false return aborts the whole loop
// without error.
func (e *Engine) applyPartialRedemption(t *Trove, sys *SystemState, ix *TroveIndex, lot *big.Int, sent map[string]*big.Int, req RedemptionRequest) (bool, error) {
	newHoldings := t.HoldingsCopy()
	for symbol, amount := range sent {
		current := newHoldings[symbol]
		if current == nil {
			return false, errNegativeHolding
		}
		next := new(big.Int).Sub(current, amount)
		if next.Sign() < 0 {
			return false, errNegativeHolding
		}
		if next.Sign() == 0 {
			delete(newHoldings, symbol)
			continue
		}
		newHoldings[symbol] = next
	}
	newDebt := new(big.Int).Sub(t.Debt, lot)
	netDebt := new(big.Int).Sub(newDebt, e.params.LiquidationReserve)
	if netDebt.Cmp(e.params.MinNetDebt) < 0 {
		return false, nil
	}
	_, newNorm, err := e.registry.PortfolioValues(newHoldings)
	if err != nil {
		return false, err
	}
	newICR := computeRatio(newNorm, newDebt)
	if req.ExpectedICR != nil && newICR != nil {
		deviation := new(big.Int).Sub(newICR, req.ExpectedICR)
		deviation.Abs(deviation)
		if deviation.Cmp(e.params.RedemptionICRTolerance) > 0 {
			return false, nil
		}
	}
	if err := e.ledger.ReplaceCollateral(t.Owner, newHoldings); err != nil {
		return false, err
	}
	if _, err := e.ledger.DecreaseDebt(t.Owner, lot); err != nil {
		return false, err
	}
	refreshed, err := e.ledger.ensureTrove(t.Owner)
	if err != nil {
		return false, err
	}
	if e.rewards != nil {
		if err := e.rewards.UpdateStake(refreshed, newNorm); err != nil {
			return false, err
		}
		if err := e.state.PutTrove(refreshed); err != nil {
			return false, err
		}
	}
	ix.ReInsert(addr20(t.Owner), RatioKey(newICR), req.ReinsertPrev, req.ReinsertNext)
	if err := e.state.PutTroveIndex(ix); err != nil {
		return false, err
	}
	e.emitter.Emit(events.TroveUpdated{Owner: addr20(t.Owner), Debt: newDebt, Collateral: copyHoldings(newHoldings), Operation: "redeemPartial"})
	return true, nil
}

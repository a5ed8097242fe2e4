package state

import (
	"math/big"
	"sort"

	"meridianchain/core/types"
	"meridianchain/crypto"
	"meridianchain/native/collateral"
	"meridianchain/native/redistribution"
	"meridianchain/native/trove"

	"github.com/holiman/uint256"
)

// RLP cannot encode maps, so every record carrying a symbol map is mirrored
// into a struct holding sorted slices. Sorting keeps the encoding
// deterministic so identical logical states always hash identically.

type storedHolding struct {
	Symbol string
	Amount *big.Int
}

func holdingsToStored(holdings map[string]*big.Int) []storedHolding {
	symbols := make([]string, 0, len(holdings))
	for symbol, amount := range holdings {
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	out := make([]storedHolding, 0, len(symbols))
	for _, symbol := range symbols {
		out = append(out, storedHolding{Symbol: symbol, Amount: new(big.Int).Set(holdings[symbol])})
	}
	return out
}

func storedToHoldings(stored []storedHolding) map[string]*big.Int {
	out := make(map[string]*big.Int, len(stored))
	for _, entry := range stored {
		if entry.Amount == nil || entry.Amount.Sign() == 0 {
			continue
		}
		out[entry.Symbol] = new(big.Int).Set(entry.Amount)
	}
	return out
}

type storedAccount struct {
	Nonce       uint64
	BalanceMUSD *big.Int
	Collateral  []storedHolding
}

func accountToStored(account *types.Account) *storedAccount {
	balance := big.NewInt(0)
	if account.BalanceMUSD != nil {
		balance = new(big.Int).Set(account.BalanceMUSD)
	}
	return &storedAccount{
		Nonce:       account.Nonce,
		BalanceMUSD: balance,
		Collateral:  holdingsToStored(account.Collateral),
	}
}

func storedToAccount(stored *storedAccount) *types.Account {
	account := types.NewAccount()
	account.Nonce = stored.Nonce
	if stored.BalanceMUSD != nil {
		account.BalanceMUSD = new(big.Int).Set(stored.BalanceMUSD)
	}
	account.Collateral = storedToHoldings(stored.Collateral)
	return account
}

type storedTrove struct {
	Owner      []byte
	Status     uint8
	Collateral []storedHolding
	Debt       *big.Int
	Stake      *big.Int
	ArrayIndex uint64
}

func troveToStored(t *trove.Trove) *storedTrove {
	debt := big.NewInt(0)
	if t.Debt != nil {
		debt = new(big.Int).Set(t.Debt)
	}
	stake := big.NewInt(0)
	if t.Stake != nil {
		stake = new(big.Int).Set(t.Stake)
	}
	return &storedTrove{
		Owner:      append([]byte(nil), t.Owner.Bytes()...),
		Status:     uint8(t.Status),
		Collateral: holdingsToStored(t.Collateral),
		Debt:       debt,
		Stake:      stake,
		ArrayIndex: t.ArrayIndex,
	}
}

func storedToTrove(stored *storedTrove) *trove.Trove {
	t := trove.NewTrove(crypto.NewAddress(crypto.MerPrefix, stored.Owner))
	t.Status = trove.Status(stored.Status)
	t.Collateral = storedToHoldings(stored.Collateral)
	if stored.Debt != nil {
		t.Debt = new(big.Int).Set(stored.Debt)
	}
	if stored.Stake != nil {
		t.Stake = new(big.Int).Set(stored.Stake)
	}
	t.ArrayIndex = stored.ArrayIndex
	return t
}

type storedIndexEntry struct {
	Owner []byte
	Key   *big.Int
}

type storedTroveIndex struct {
	Entries []storedIndexEntry
}

func indexToStored(ix *trove.TroveIndex) *storedTroveIndex {
	out := &storedTroveIndex{Entries: make([]storedIndexEntry, 0, len(ix.Entries))}
	for _, entry := range ix.Entries {
		key := big.NewInt(0)
		if entry.Key != nil {
			key = entry.Key.ToBig()
		}
		out.Entries = append(out.Entries, storedIndexEntry{
			Owner: append([]byte(nil), entry.Owner[:]...),
			Key:   key,
		})
	}
	return out
}

func storedToIndex(stored *storedTroveIndex) *trove.TroveIndex {
	ix := &trove.TroveIndex{Entries: make([]trove.IndexEntry, 0, len(stored.Entries))}
	for _, entry := range stored.Entries {
		var owner [20]byte
		copy(owner[:], entry.Owner)
		key := uint256.NewInt(0)
		if entry.Key != nil {
			key, _ = uint256.FromBig(entry.Key)
		}
		ix.Entries = append(ix.Entries, trove.IndexEntry{Owner: owner, Key: key})
	}
	return ix
}

type storedBaseRate struct {
	Rate       *big.Int
	LastUpdate uint64
}

type storedSystem struct {
	TotalDebt   *big.Int
	TotalSupply *big.Int
	Collateral  []storedHolding
	TroveCount  uint64
}

func systemToStored(sys *trove.SystemState) *storedSystem {
	debt := big.NewInt(0)
	if sys.TotalDebt != nil {
		debt = new(big.Int).Set(sys.TotalDebt)
	}
	supply := big.NewInt(0)
	if sys.TotalSupply != nil {
		supply = new(big.Int).Set(sys.TotalSupply)
	}
	return &storedSystem{
		TotalDebt:   debt,
		TotalSupply: supply,
		Collateral:  holdingsToStored(sys.CollateralTotals),
		TroveCount:  sys.TroveCount,
	}
}

func storedToSystem(stored *storedSystem) *trove.SystemState {
	sys := trove.NewSystemState()
	if stored.TotalDebt != nil {
		sys.TotalDebt = new(big.Int).Set(stored.TotalDebt)
	}
	if stored.TotalSupply != nil {
		sys.TotalSupply = new(big.Int).Set(stored.TotalSupply)
	}
	sys.CollateralTotals = storedToHoldings(stored.Collateral)
	sys.TroveCount = stored.TroveCount
	return sys
}

type storedCurveParams struct {
	Slope1      *big.Int
	Slope2      *big.Int
	Slope3      *big.Int
	Intercept1  *big.Int
	Cutoff1     *big.Int
	Cutoff2     *big.Int
	DecayWindow uint64
}

type storedAsset struct {
	Symbol      string
	Name        string
	Decimals    uint8
	SafetyRatio *big.Int
	Active      bool
	Wrapped     bool
	Underlying  string
	ValueCap    *big.Int
	Curve       storedCurveParams
}

func assetToStored(asset *collateral.Asset) *storedAsset {
	clone := asset.Clone()
	return &storedAsset{
		Symbol:      clone.Symbol,
		Name:        clone.Name,
		Decimals:    clone.Decimals,
		SafetyRatio: orZero(clone.SafetyRatio),
		Active:      clone.Active,
		Wrapped:     clone.Wrapped,
		Underlying:  clone.Underlying,
		ValueCap:    orZero(clone.ValueCap),
		Curve: storedCurveParams{
			Slope1:      orZero(clone.Curve.Slope1),
			Slope2:      orZero(clone.Curve.Slope2),
			Slope3:      orZero(clone.Curve.Slope3),
			Intercept1:  orZero(clone.Curve.Intercept1),
			Cutoff1:     orZero(clone.Curve.Cutoff1),
			Cutoff2:     orZero(clone.Curve.Cutoff2),
			DecayWindow: clone.Curve.DecayWindow,
		},
	}
}

func storedToAsset(stored *storedAsset) *collateral.Asset {
	return &collateral.Asset{
		Symbol:      stored.Symbol,
		Name:        stored.Name,
		Decimals:    stored.Decimals,
		SafetyRatio: orZero(stored.SafetyRatio),
		Active:      stored.Active,
		Wrapped:     stored.Wrapped,
		Underlying:  stored.Underlying,
		ValueCap:    orZero(stored.ValueCap),
		Curve: collateral.CurveParams{
			Slope1:      orZero(stored.Curve.Slope1),
			Slope2:      orZero(stored.Curve.Slope2),
			Slope3:      orZero(stored.Curve.Slope3),
			Intercept1:  orZero(stored.Curve.Intercept1),
			Cutoff1:     orZero(stored.Curve.Cutoff1),
			Cutoff2:     orZero(stored.Curve.Cutoff2),
			DecayWindow: stored.Curve.DecayWindow,
		},
	}
}

type storedCurveState struct {
	LastFee     *big.Int
	LastFeeTime uint64
}

type storedAccumulators struct {
	CollateralPerStake []storedHolding
	DebtPerStake       *big.Int
	TotalStakes        *big.Int
}

func accumulatorsToStored(acc *redistribution.Accumulators) *storedAccumulators {
	return &storedAccumulators{
		CollateralPerStake: holdingsToStored(acc.CollateralPerStake),
		DebtPerStake:       orZero(acc.DebtPerStake),
		TotalStakes:        orZero(acc.TotalStakes),
	}
}

func storedToAccumulators(stored *storedAccumulators) *redistribution.Accumulators {
	return &redistribution.Accumulators{
		CollateralPerStake: storedToHoldings(stored.CollateralPerStake),
		DebtPerStake:       orZero(stored.DebtPerStake),
		TotalStakes:        orZero(stored.TotalStakes),
	}
}

type storedSnapshot struct {
	CollateralPerStake []storedHolding
	DebtPerStake       *big.Int
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

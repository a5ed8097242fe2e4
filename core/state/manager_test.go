package state

import (
	"errors"
	"math/big"
	"testing"

	"meridianchain/core/types"
	"meridianchain/crypto"
	"meridianchain/native/collateral"
	"meridianchain/native/redistribution"
	"meridianchain/native/trove"
	"meridianchain/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(storage.NewMemDB())
}

func testAddr(b byte) crypto.Address {
	raw := make([]byte, 20)
	raw[19] = b
	return crypto.NewAddress(crypto.MerPrefix, raw)
}

func bi(value string) *big.Int {
	out, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big literal " + value)
	}
	return out
}

func TestAccountRoundTrip(t *testing.T) {
	m := newTestManager(t)
	addr := testAddr(1)

	got, err := m.GetAccount(addr)
	if err != nil || got != nil {
		t.Fatalf("untouched account = %v, %v", got, err)
	}

	account := types.NewAccount()
	account.Nonce = 7
	account.BalanceMUSD = bi("2000000000000000000000")
	account.SetCollateralBalance("WETH", bi("1500000000000000000"))
	if err := m.PutAccount(addr, account); err != nil {
		t.Fatalf("put account: %v", err)
	}

	got, err = m.GetAccount(addr)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if got.Nonce != 7 || got.BalanceMUSD.Cmp(account.BalanceMUSD) != 0 {
		t.Fatalf("account = %+v", got)
	}
	if got.CollateralBalance("WETH").Cmp(bi("1500000000000000000")) != 0 {
		t.Fatalf("collateral balance = %s", got.CollateralBalance("WETH"))
	}

	if err := m.PutAccount(addr, nil); err != nil {
		t.Fatalf("delete account: %v", err)
	}
	got, err = m.GetAccount(addr)
	if err != nil || got != nil {
		t.Fatalf("deleted account = %v, %v", got, err)
	}
}

func TestTroveRoundTrip(t *testing.T) {
	m := newTestManager(t)
	owner := testAddr(2)

	tr := trove.NewTrove(owner)
	tr.Status = trove.StatusActive
	tr.Debt = bi("2200000000000000000000")
	tr.Stake = bi("4000000000000000000000")
	tr.ArrayIndex = 3
	tr.Collateral["WETH"] = bi("2000000000000000000")
	tr.Collateral["WBTC"] = bi("10000000")
	if err := m.PutTrove(tr); err != nil {
		t.Fatalf("put trove: %v", err)
	}

	got, err := m.GetTrove(owner)
	if err != nil {
		t.Fatalf("get trove: %v", err)
	}
	if got.Status != trove.StatusActive || got.ArrayIndex != 3 {
		t.Fatalf("trove = %+v", got)
	}
	if got.Debt.Cmp(tr.Debt) != 0 || got.Stake.Cmp(tr.Stake) != 0 {
		t.Fatalf("trove amounts = %s / %s", got.Debt, got.Stake)
	}
	if len(got.Collateral) != 2 || got.Collateral["WBTC"].Cmp(bi("10000000")) != 0 {
		t.Fatalf("trove collateral = %v", got.Collateral)
	}
	if !got.Owner.Equal(owner) {
		t.Fatalf("owner = %s", got.Owner)
	}
}

func TestTroveIndexRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ix := &trove.TroveIndex{}
	var a, b [20]byte
	a[19], b[19] = 1, 2
	ix.Insert(a, trove.RatioKey(bi("2000000000000000000")), [20]byte{}, [20]byte{})
	ix.Insert(b, trove.RatioKey(bi("1200000000000000000")), [20]byte{}, [20]byte{})
	if err := m.PutTroveIndex(ix); err != nil {
		t.Fatalf("put index: %v", err)
	}

	got, err := m.GetTroveIndex()
	if err != nil {
		t.Fatalf("get index: %v", err)
	}
	if got.Len() != 2 {
		t.Fatalf("index len = %d", got.Len())
	}
	last, ok := got.Last()
	if !ok || last != b {
		t.Fatalf("last = %v", last)
	}
	key, ok := got.Key(a)
	if !ok || key.ToBig().Cmp(bi("2000000000000000000")) != 0 {
		t.Fatalf("key = %v", key)
	}
}

func TestBaseRateRoundTrip(t *testing.T) {
	m := newTestManager(t)
	got, err := m.GetBaseRate()
	if err != nil || got != nil {
		t.Fatalf("unset base rate = %v, %v", got, err)
	}
	if err := m.PutBaseRate(&trove.BaseRateState{Rate: bi("50000000000000000"), LastUpdate: 1234}); err != nil {
		t.Fatalf("put base rate: %v", err)
	}
	got, err = m.GetBaseRate()
	if err != nil || got.Rate.Cmp(bi("50000000000000000")) != 0 || got.LastUpdate != 1234 {
		t.Fatalf("base rate = %+v, %v", got, err)
	}
}

func TestSystemRoundTrip(t *testing.T) {
	m := newTestManager(t)
	sys := trove.NewSystemState()
	sys.TotalDebt = bi("4200000000000000000000")
	sys.TotalSupply = bi("4000000000000000000000")
	sys.TroveCount = 9
	sys.AddCollateral("WETH", bi("12000000000000000000"))
	if err := m.PutSystem(sys); err != nil {
		t.Fatalf("put system: %v", err)
	}
	got, err := m.GetSystem()
	if err != nil {
		t.Fatalf("get system: %v", err)
	}
	if got.TotalDebt.Cmp(sys.TotalDebt) != 0 || got.TroveCount != 9 {
		t.Fatalf("system = %+v", got)
	}
	if got.CollateralTotals["WETH"].Cmp(bi("12000000000000000000")) != 0 {
		t.Fatalf("collateral totals = %v", got.CollateralTotals)
	}
}

func TestAssetListOrdering(t *testing.T) {
	m := newTestManager(t)
	curve := collateral.CurveParams{
		Slope1:     big.NewInt(0),
		Slope2:     big.NewInt(0),
		Slope3:     big.NewInt(0),
		Intercept1: big.NewInt(0),
		Cutoff1:    bi("500000000000000000"),
		Cutoff2:    bi("1000000000000000000"),
	}
	for _, symbol := range []string{"WETH", "STETH", "WBTC"} {
		asset := &collateral.Asset{
			Symbol:      symbol,
			Decimals:    18,
			SafetyRatio: bi("1000000000000000000"),
			Active:      true,
			ValueCap:    big.NewInt(0),
			Curve:       curve,
		}
		if err := m.PutAsset(asset); err != nil {
			t.Fatalf("put asset %s: %v", symbol, err)
		}
	}
	// Re-registering must not duplicate the index entry.
	if err := m.PutAsset(&collateral.Asset{
		Symbol:      "WETH",
		Decimals:    18,
		SafetyRatio: bi("800000000000000000"),
		ValueCap:    big.NewInt(0),
		Curve:       curve,
	}); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	assets, err := m.ListAssets()
	if err != nil {
		t.Fatalf("list assets: %v", err)
	}
	if len(assets) != 3 {
		t.Fatalf("asset count = %d", len(assets))
	}
	want := []string{"STETH", "WBTC", "WETH"}
	for i, asset := range assets {
		if asset.Symbol != want[i] {
			t.Fatalf("asset order = %v", assets)
		}
	}
	if assets[2].SafetyRatio.Cmp(bi("800000000000000000")) != 0 {
		t.Fatalf("re-registration did not replace entry: %s", assets[2].SafetyRatio)
	}
}

func TestCurveStateRoundTrip(t *testing.T) {
	m := newTestManager(t)
	got, err := m.GetCurveState("WETH")
	if err != nil || got != nil {
		t.Fatalf("unset curve state = %v, %v", got, err)
	}
	if err := m.PutCurveState("WETH", &collateral.CurveState{LastFee: bi("6250000000000000"), LastFeeTime: 5000}); err != nil {
		t.Fatalf("put curve state: %v", err)
	}
	got, err = m.GetCurveState("WETH")
	if err != nil || got.LastFee.Cmp(bi("6250000000000000")) != 0 || got.LastFeeTime != 5000 {
		t.Fatalf("curve state = %+v, %v", got, err)
	}
}

func TestSurplusDeleteOnEmpty(t *testing.T) {
	m := newTestManager(t)
	owner := testAddr(3)
	if err := m.PutSurplus(owner, map[string]*big.Int{"WETH": bi("1100000000000000000")}); err != nil {
		t.Fatalf("put surplus: %v", err)
	}
	claims, err := m.GetSurplus(owner)
	if err != nil || claims["WETH"].Cmp(bi("1100000000000000000")) != 0 {
		t.Fatalf("surplus = %v, %v", claims, err)
	}
	if err := m.PutSurplus(owner, nil); err != nil {
		t.Fatalf("clear surplus: %v", err)
	}
	claims, err = m.GetSurplus(owner)
	if err != nil || claims != nil {
		t.Fatalf("cleared surplus = %v, %v", claims, err)
	}
}

func TestRewardSnapshotRoundTrip(t *testing.T) {
	m := newTestManager(t)
	owner := testAddr(4)

	if err := m.PutAccumulators(&redistribution.Accumulators{
		CollateralPerStake: map[string]*big.Int{"WETH": bi("2500000000000000000")},
		DebtPerStake:       bi("250000000000000000000"),
		TotalStakes:        bi("4000000000000000000"),
	}); err != nil {
		t.Fatalf("put accumulators: %v", err)
	}
	acc, err := m.GetAccumulators()
	if err != nil || acc.TotalStakes.Cmp(bi("4000000000000000000")) != 0 {
		t.Fatalf("accumulators = %+v, %v", acc, err)
	}
	if acc.CollateralPerStake["WETH"].Cmp(bi("2500000000000000000")) != 0 {
		t.Fatalf("per-stake collateral = %v", acc.CollateralPerStake)
	}

	if err := m.PutRewardSnapshot(owner, &redistribution.Snapshot{
		CollateralPerStake: map[string]*big.Int{"WETH": bi("2500000000000000000")},
		DebtPerStake:       bi("250000000000000000000"),
	}); err != nil {
		t.Fatalf("put snapshot: %v", err)
	}
	snap, err := m.GetRewardSnapshot(owner)
	if err != nil || snap.DebtPerStake.Cmp(bi("250000000000000000000")) != 0 {
		t.Fatalf("snapshot = %+v, %v", snap, err)
	}

	if err := m.PutRewardSnapshot(owner, nil); err != nil {
		t.Fatalf("clear snapshot: %v", err)
	}
	snap, err = m.GetRewardSnapshot(owner)
	if err != nil || snap != nil {
		t.Fatalf("cleared snapshot = %+v, %v", snap, err)
	}
}

func TestDeployTimeWriteOnce(t *testing.T) {
	m := newTestManager(t)
	ts, err := m.DeployTime()
	if err != nil || ts != 0 {
		t.Fatalf("unset deploy time = %d, %v", ts, err)
	}
	ts, err = m.SetDeployTime(1000)
	if err != nil || ts != 1000 {
		t.Fatalf("first set = %d, %v", ts, err)
	}
	ts, err = m.SetDeployTime(9999)
	if err != nil || ts != 1000 {
		t.Fatalf("second set should keep original: %d, %v", ts, err)
	}
}

func TestTransactionCommit(t *testing.T) {
	m := newTestManager(t)
	addr := testAddr(5)

	tx := m.Begin()
	account := types.NewAccount()
	account.BalanceMUSD = bi("1000000000000000000")
	if err := tx.PutAccount(addr, account); err != nil {
		t.Fatalf("tx put: %v", err)
	}
	// Writes stay buffered until commit.
	got, err := m.GetAccount(addr)
	if err != nil || got != nil {
		t.Fatalf("uncommitted write visible: %v, %v", got, err)
	}
	// The transaction observes its own writes.
	got, err = tx.GetAccount(addr)
	if err != nil || got == nil {
		t.Fatalf("tx read: %v, %v", got, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	got, err = m.GetAccount(addr)
	if err != nil || got == nil || got.BalanceMUSD.Cmp(bi("1000000000000000000")) != 0 {
		t.Fatalf("committed account = %v, %v", got, err)
	}
	if err := tx.Commit(); !errors.Is(err, ErrTxClosed) {
		t.Fatalf("double commit: %v", err)
	}
}

func TestTransactionDiscard(t *testing.T) {
	m := newTestManager(t)
	addr := testAddr(6)
	account := types.NewAccount()
	account.BalanceMUSD = bi("5")
	if err := m.PutAccount(addr, account); err != nil {
		t.Fatalf("seed account: %v", err)
	}

	tx := m.Begin()
	if err := tx.PutAccount(addr, nil); err != nil {
		t.Fatalf("tx delete: %v", err)
	}
	got, err := tx.GetAccount(addr)
	if err != nil || got != nil {
		t.Fatalf("tx should observe its delete: %v, %v", got, err)
	}
	tx.Discard()

	got, err = m.GetAccount(addr)
	if err != nil || got == nil {
		t.Fatalf("discarded delete applied: %v, %v", got, err)
	}
	if _, err := tx.GetAccount(addr); !errors.Is(err, ErrTxClosed) {
		t.Fatalf("closed tx read: %v", err)
	}
}

package trove_test

import (
	"errors"
	"math/big"
	"testing"

	"meridianchain/crypto"
	"meridianchain/native/trove"
)

// redemptionFixture opens a well-collateralised trove for the redeemer and a
// riskier one for the target, so the target sits at the worst end of the
// index.
func redemptionFixture(t *testing.T, targetDebt *big.Int) (*fixture, crypto.Address, crypto.Address) {
	f := newFixture(t, zeroFeeParams())
	f.registerAsset("WETH", one18, musd(2000))
	redeemer := testAddr(1)
	target := testAddr(2)
	f.openStandard(redeemer, musd(10), musd(5000))
	f.openStandard(target, musd(2), targetDebt)
	return f, redeemer, target
}

func TestRedeemFullTrove(t *testing.T) {
	f, redeemer, target := redemptionFixture(t, musd(1800))

	result, err := f.engine.Redeem(trove.RedemptionRequest{
		Redeemer: redeemer,
		Amount:   musd(1800),
		MaxFee:   musd(300),
	})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if result.Actual.Cmp(musd(1800)) != 0 || result.Attempted.Cmp(musd(1800)) != 0 {
		t.Fatalf("redeemed = %s of %s", result.Actual, result.Attempted)
	}
	// Base rate: 1800/7200 supply over BETA=2 gives 12.5%; the fee on 1800 is
	// exactly 225.
	if result.Fee.Cmp(musd(225)) != 0 {
		t.Fatalf("fee = %s", result.Fee)
	}
	// 1800 USD of WETH at 2000 USD.
	if result.Collateral["WETH"].Cmp(bi("900000000000000000")) != 0 {
		t.Fatalf("drawn collateral = %v", result.Collateral)
	}
	if f.collateralBalance(redeemer, "WETH").Cmp(bi("900000000000000000")) != 0 {
		t.Fatalf("redeemer collateral = %s", f.collateralBalance(redeemer, "WETH"))
	}
	// 5000 minted minus 1800 principal and 225 fee.
	if f.balanceMUSD(redeemer).Cmp(musd(2975)) != 0 {
		t.Fatalf("redeemer balance = %s", f.balanceMUSD(redeemer))
	}
	if f.balanceMUSD(f.pools.Fee).Cmp(musd(225)) != 0 {
		t.Fatalf("fee pool = %s", f.balanceMUSD(f.pools.Fee))
	}

	tr, err := f.engine.GetTrove(target)
	if err != nil {
		t.Fatalf("get trove: %v", err)
	}
	if tr.Status != trove.StatusClosedByRedemption || tr.Debt.Sign() != 0 {
		t.Fatalf("redeemed trove = %+v", tr)
	}
	ix, err := f.manager.GetTroveIndex()
	if err != nil || ix.Contains(hintOf(target)) {
		t.Fatal("redeemed trove still indexed")
	}

	sys, err := f.manager.GetSystem()
	if err != nil {
		t.Fatalf("get system: %v", err)
	}
	// 7200 minus the 1800 lot and the 200 reserve burn on both series.
	if sys.TotalDebt.Cmp(musd(5200)) != 0 || sys.TotalSupply.Cmp(musd(5200)) != 0 {
		t.Fatalf("system totals = %s / %s", sys.TotalDebt, sys.TotalSupply)
	}

	rate, err := f.engine.BaseRate()
	if err != nil || rate.Cmp(bi("125000000000000000")) != 0 {
		t.Fatalf("base rate = %s, %v", rate, err)
	}

	// The unredeemed remainder (1.1 WETH) is claimable surplus.
	claims, err := f.surplus.Claims(target)
	if err != nil || claims["WETH"].Cmp(bi("1100000000000000000")) != 0 {
		t.Fatalf("surplus claims = %v, %v", claims, err)
	}
	sent, err := f.engine.ClaimSurplus(target)
	if err != nil {
		t.Fatalf("claim surplus: %v", err)
	}
	if sent["WETH"].Cmp(bi("1100000000000000000")) != 0 {
		t.Fatalf("claimed = %v", sent)
	}
	if f.collateralBalance(target, "WETH").Cmp(bi("1100000000000000000")) != 0 {
		t.Fatalf("target collateral = %s", f.collateralBalance(target, "WETH"))
	}
	if _, err := f.engine.ClaimSurplus(target); !errors.Is(err, trove.ErrValidation) {
		t.Fatalf("second claim: %v", err)
	}
}

func TestRedeemPartial(t *testing.T) {
	f, redeemer, target := redemptionFixture(t, musd(3000))

	result, err := f.engine.Redeem(trove.RedemptionRequest{
		Redeemer: redeemer,
		Amount:   musd(500),
		MaxFee:   musd(100),
	})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if result.Actual.Cmp(musd(500)) != 0 {
		t.Fatalf("redeemed = %s", result.Actual)
	}
	// 500 USD of WETH at 2000 USD.
	if result.Collateral["WETH"].Cmp(bi("250000000000000000")) != 0 {
		t.Fatalf("drawn collateral = %v", result.Collateral)
	}

	tr, err := f.engine.GetTrove(target)
	if err != nil {
		t.Fatalf("get trove: %v", err)
	}
	if tr.Status != trove.StatusActive {
		t.Fatalf("partially redeemed trove closed: %s", tr.Status)
	}
	if tr.Debt.Cmp(musd(2700)) != 0 {
		t.Fatalf("debt after partial = %s", tr.Debt)
	}
	if tr.Collateral["WETH"].Cmp(bi("1750000000000000000")) != 0 {
		t.Fatalf("collateral after partial = %s", tr.Collateral["WETH"])
	}
	ix, err := f.manager.GetTroveIndex()
	if err != nil || !ix.Contains(hintOf(target)) {
		t.Fatal("partially redeemed trove left the index")
	}

	sys, err := f.manager.GetSystem()
	if err != nil {
		t.Fatalf("get system: %v", err)
	}
	// No reserve burned on a partial redemption.
	if sys.TotalDebt.Cmp(musd(7900)) != 0 || sys.TotalSupply.Cmp(musd(7900)) != 0 {
		t.Fatalf("system totals = %s / %s", sys.TotalDebt, sys.TotalSupply)
	}
}

func TestRedeemPartialBelowMinNetDebtAborts(t *testing.T) {
	f, redeemer, _ := redemptionFixture(t, musd(3000))

	// Redeeming 1500 would leave the target's net debt at 1500, under the
	// 1800 minimum, so nothing is redeemed at all.
	_, err := f.engine.Redeem(trove.RedemptionRequest{
		Redeemer: redeemer,
		Amount:   musd(1500),
		MaxFee:   musd(300),
	})
	if !errors.Is(err, trove.ErrInvariantViolation) {
		t.Fatalf("partial below minimum: %v", err)
	}
}

func TestRedeemStaleExpectedICRAborts(t *testing.T) {
	f, redeemer, _ := redemptionFixture(t, musd(3000))

	_, err := f.engine.Redeem(trove.RedemptionRequest{
		Redeemer:    redeemer,
		Amount:      musd(500),
		MaxFee:      musd(100),
		ExpectedICR: musd(2), // far from the resulting ratio
	})
	if !errors.Is(err, trove.ErrInvariantViolation) {
		t.Fatalf("stale expectation: %v", err)
	}
}

func TestRedeemBootstrapWindow(t *testing.T) {
	params := zeroFeeParams()
	params.BootstrapWindow = 14 * 24 * 3600
	f := newFixture(t, params)
	f.registerAsset("WETH", one18, musd(2000))
	redeemer := testAddr(1)
	f.openStandard(redeemer, musd(10), musd(5000))

	_, err := f.engine.Redeem(trove.RedemptionRequest{
		Redeemer: redeemer,
		Amount:   musd(1800),
		MaxFee:   musd(300),
	})
	if !errors.Is(err, trove.ErrTemporalRestriction) {
		t.Fatalf("redeem inside bootstrap: %v", err)
	}

	// Once the window elapses the same request goes through.
	f.nowSec += params.BootstrapWindow
	target := testAddr(2)
	f.openStandard(target, musd(2), musd(1800))
	if _, err := f.engine.Redeem(trove.RedemptionRequest{
		Redeemer: redeemer,
		Amount:   musd(1800),
		MaxFee:   musd(300),
	}); err != nil {
		t.Fatalf("redeem after bootstrap: %v", err)
	}
}

func TestRedeemHaltedBelowMCR(t *testing.T) {
	f, redeemer, _ := redemptionFixture(t, musd(1800))

	// A crash below the minimum ratio halts redemptions entirely.
	f.oracle.Publish("WETH", musd(200), "test")
	_, err := f.engine.Redeem(trove.RedemptionRequest{
		Redeemer: redeemer,
		Amount:   musd(1800),
		MaxFee:   musd(300),
	})
	if !errors.Is(err, trove.ErrTemporalRestriction) {
		t.Fatalf("redeem below minimum ratio: %v", err)
	}
}

func TestRedeemValidation(t *testing.T) {
	f, redeemer, _ := redemptionFixture(t, musd(1800))

	if _, err := f.engine.Redeem(trove.RedemptionRequest{
		Redeemer: redeemer,
		Amount:   big.NewInt(0),
		MaxFee:   musd(300),
	}); !errors.Is(err, trove.ErrValidation) {
		t.Fatalf("zero amount: %v", err)
	}
	if _, err := f.engine.Redeem(trove.RedemptionRequest{
		Redeemer: redeemer,
		Amount:   musd(1800),
	}); !errors.Is(err, trove.ErrValidation) {
		t.Fatalf("missing max fee: %v", err)
	}
	// A redeemer without the balance cannot redeem.
	broke := testAddr(9)
	if _, err := f.engine.Redeem(trove.RedemptionRequest{
		Redeemer: broke,
		Amount:   musd(1800),
		MaxFee:   musd(300),
	}); !errors.Is(err, trove.ErrInsufficientFunds) {
		t.Fatalf("unfunded redeemer: %v", err)
	}
}

func TestRedeemSpansMultipleTroves(t *testing.T) {
	f := newFixture(t, zeroFeeParams())
	f.registerAsset("WETH", one18, musd(2000))
	redeemer := testAddr(1)
	a := testAddr(2)
	b := testAddr(3)
	f.openStandard(redeemer, musd(20), musd(10000))
	f.openStandard(a, musd(2), musd(1800))  // ratio 2.0, redeemed second
	f.openStandard(b, musd(3), musd(3800))  // ratio 1.5, redeemed first

	// 5600 covers b's 3800 net debt and all of a's 1800.
	result, err := f.engine.Redeem(trove.RedemptionRequest{
		Redeemer: redeemer,
		Amount:   musd(5600),
		MaxFee:   musd(2000),
	})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if result.Actual.Cmp(musd(5600)) != 0 {
		t.Fatalf("redeemed = %s", result.Actual)
	}
	for _, owner := range []crypto.Address{a, b} {
		tr, err := f.engine.GetTrove(owner)
		if err != nil || tr.Status != trove.StatusClosedByRedemption {
			t.Fatalf("trove %s = %+v, %v", owner, tr, err)
		}
	}
	// 5600 USD of WETH at 2000 USD.
	if result.Collateral["WETH"].Cmp(bi("2800000000000000000")) != 0 {
		t.Fatalf("drawn collateral = %v", result.Collateral)
	}

	// MaxIterations bounds the walk to one trove per call.
	f2 := newFixture(t, zeroFeeParams())
	f2.registerAsset("WETH", one18, musd(2000))
	f2.openStandard(testAddr(1), musd(20), musd(10000))
	f2.openStandard(testAddr(2), musd(2), musd(1800))
	f2.openStandard(testAddr(3), musd(3), musd(3800))
	result, err = f2.engine.Redeem(trove.RedemptionRequest{
		Redeemer:      testAddr(1),
		Amount:        musd(5600),
		MaxFee:        musd(2000),
		MaxIterations: 1,
	})
	if err != nil {
		t.Fatalf("bounded redeem: %v", err)
	}
	if result.Actual.Cmp(musd(3800)) != 0 {
		t.Fatalf("bounded redeemed = %s", result.Actual)
	}
}

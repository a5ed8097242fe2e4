package trove

import (
	"math/big"
	"testing"

	"meridianchain/crypto"
)

func testAddr(b byte) crypto.Address {
	raw := make([]byte, 20)
	raw[19] = b
	return crypto.NewAddress(crypto.MerPrefix, raw)
}

func TestDecPow(t *testing.T) {
	half := mustParse("500000000000000000")
	if got := decPow(half, 0); got.Cmp(one) != 0 {
		t.Fatalf("x^0 = %s", got)
	}
	if got := decPow(half, 1); got.Cmp(half) != 0 {
		t.Fatalf("x^1 = %s", got)
	}
	if got := decPow(half, 3); got.Cmp(mustParse("125000000000000000")) != 0 {
		t.Fatalf("x^3 = %s", got)
	}
	if got := decPow(one, 1_000_000); got.Cmp(one) != 0 {
		t.Fatalf("1^n = %s", got)
	}
}

func TestDecayedBaseRate(t *testing.T) {
	p := DefaultParams()
	if got := decayedBaseRate(p, nil, 1000); got.Sign() != 0 {
		t.Fatalf("nil state rate = %s", got)
	}
	state := &BaseRateState{Rate: mustParse("100000000000000000"), LastUpdate: 1000}

	if got := decayedBaseRate(p, state, 1000); got.Cmp(state.Rate) != 0 {
		t.Fatalf("no elapsed time should not decay: %s", got)
	}
	// Sub-minute elapsed time is not charged.
	if got := decayedBaseRate(p, state, 1059); got.Cmp(state.Rate) != 0 {
		t.Fatalf("sub-minute decay applied: %s", got)
	}
	oneMinute := decayedBaseRate(p, state, 1060)
	want := mulDivFloor(state.Rate, p.BaseRateDecayFactor, one)
	if oneMinute.Cmp(want) != 0 {
		t.Fatalf("one-minute decay = %s, want %s", oneMinute, want)
	}
	// The configured factor halves the rate over twelve hours, within
	// fixed-point rounding.
	halfLife := decayedBaseRate(p, state, 1000+12*3600)
	target := new(big.Int).Quo(state.Rate, big.NewInt(2))
	diff := new(big.Int).Sub(halfLife, target)
	diff.Abs(diff)
	tolerance := new(big.Int).Quo(target, big.NewInt(1000))
	if diff.Cmp(tolerance) > 0 {
		t.Fatalf("half-life decay = %s, want about %s", halfLife, target)
	}
}

func TestBorrowingRateCap(t *testing.T) {
	p := DefaultParams()
	if got := borrowingRate(p, big.NewInt(0)); got.Cmp(p.BorrowingFeeFloor) != 0 {
		t.Fatalf("rate at zero base = %s", got)
	}
	if got := borrowingRate(p, mustParse("10000000000000000")); got.Cmp(mustParse("15000000000000000")) != 0 {
		t.Fatalf("rate with base = %s", got)
	}
	if got := borrowingRate(p, one); got.Cmp(p.MaxBorrowingFee) != 0 {
		t.Fatalf("rate not capped: %s", got)
	}
}

func TestRedemptionRateCap(t *testing.T) {
	p := DefaultParams()
	if got := redemptionRate(p, big.NewInt(0)); got.Cmp(p.RedemptionFeeFloor) != 0 {
		t.Fatalf("rate at zero base = %s", got)
	}
	if got := redemptionRate(p, new(big.Int).Mul(one, big.NewInt(2))); got.Cmp(one) != 0 {
		t.Fatalf("rate not capped at 100%%: %s", got)
	}
}

func TestUpdatedBaseRateFromRedemption(t *testing.T) {
	p := DefaultParams()
	state := &BaseRateState{Rate: big.NewInt(0), LastUpdate: 0}

	// Redeeming 10% of supply with BETA=2 adds 5%.
	got := updatedBaseRateFromRedemption(p, state, mustParse("100000000000000000000"), mustParse("1000000000000000000000"), 0)
	if got.Cmp(mustParse("50000000000000000")) != 0 {
		t.Fatalf("rate after redemption = %s", got)
	}
	// Zero supply contributes nothing beyond the decayed rate.
	got = updatedBaseRateFromRedemption(p, state, one, big.NewInt(0), 0)
	if got.Sign() != 0 {
		t.Fatalf("rate with zero supply = %s", got)
	}
	// The result is capped at 100%.
	state = &BaseRateState{Rate: mustParse("900000000000000000"), LastUpdate: 100}
	got = updatedBaseRateFromRedemption(p, state, mustParse("500000000000000000000"), mustParse("1000000000000000000000"), 100)
	if got.Cmp(one) != 0 {
		t.Fatalf("rate not capped: %s", got)
	}
}

func TestTroveNetDebt(t *testing.T) {
	reserve := mustParse("200000000000000000000")
	tr := NewTrove(testAddr(1))
	tr.Debt = mustParse("2200000000000000000000")
	if got := tr.NetDebt(reserve); got.Cmp(mustParse("2000000000000000000000")) != 0 {
		t.Fatalf("net debt = %s", got)
	}
	tr.Debt = mustParse("100000000000000000000")
	if got := tr.NetDebt(reserve); got.Sign() != 0 {
		t.Fatalf("net debt below reserve = %s", got)
	}
}

func TestChangeSetIsZero(t *testing.T) {
	if !(ChangeSet{}).IsZero() {
		t.Fatal("empty change set should be zero")
	}
	if !(ChangeSet{CollateralIn: map[string]*big.Int{"WETH": big.NewInt(0)}}).IsZero() {
		t.Fatal("zero amounts should count as zero")
	}
	if (ChangeSet{DebtChange: big.NewInt(1), IsDebtIncrease: true}).IsZero() {
		t.Fatal("debt change should not be zero")
	}
	if (ChangeSet{CollateralOut: map[string]*big.Int{"WETH": big.NewInt(5)}}).IsZero() {
		t.Fatal("collateral out should not be zero")
	}
}

func TestStatusLifecycle(t *testing.T) {
	if StatusActive.Terminal() || StatusNonexistent.Terminal() {
		t.Fatal("non-terminal status reported terminal")
	}
	for _, s := range []Status{StatusClosedByOwner, StatusClosedByRedemption, StatusClosedByLiquidation} {
		if !s.Terminal() {
			t.Fatalf("status %s should be terminal", s)
		}
	}
	if StatusActive.String() != "active" || StatusClosedByRedemption.String() != "closedByRedemption" {
		t.Fatal("unexpected status rendering")
	}
}

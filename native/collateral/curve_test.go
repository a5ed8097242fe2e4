package collateral

import (
	"errors"
	"math/big"
	"testing"
)

func bi(value string) *big.Int {
	out, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big literal " + value)
	}
	return out
}

func testCurve() CurveParams {
	return CurveParams{
		Slope1:      bi("10000000000000000"),  // 1%
		Slope2:      bi("100000000000000000"), // 10%
		Slope3:      bi("500000000000000000"), // 50%
		Intercept1:  bi("5000000000000000"),   // 0.5%
		Cutoff1:     bi("500000000000000000"), // 50%
		Cutoff2:     bi("900000000000000000"), // 90%
		DecayWindow: 3600,
	}
}

func TestValidateCurve(t *testing.T) {
	if err := ValidateCurve(testCurve()); err != nil {
		t.Fatalf("valid curve rejected: %v", err)
	}
	broken := testCurve()
	broken.Slope2 = nil
	if err := ValidateCurve(broken); !errors.Is(err, ErrInvalidCurve) {
		t.Fatalf("nil slope accepted: %v", err)
	}
	broken = testCurve()
	broken.Cutoff1 = big.NewInt(0)
	if err := ValidateCurve(broken); !errors.Is(err, ErrInvalidCurve) {
		t.Fatalf("zero cutoff accepted: %v", err)
	}
	broken = testCurve()
	broken.Cutoff1, broken.Cutoff2 = broken.Cutoff2, broken.Cutoff1
	if err := ValidateCurve(broken); !errors.Is(err, ErrInvalidCurve) {
		t.Fatalf("inverted cutoffs accepted: %v", err)
	}
	broken = testCurve()
	broken.Cutoff2 = new(big.Int).Add(one, big.NewInt(1))
	if err := ValidateCurve(broken); !errors.Is(err, ErrInvalidCurve) {
		t.Fatalf("cutoff beyond 100%% accepted: %v", err)
	}
}

func TestEvaluateCurveContinuity(t *testing.T) {
	p := testCurve()
	for _, cutoff := range []*big.Int{p.Cutoff1, p.Cutoff2} {
		at := EvaluateCurve(p, cutoff)
		after := EvaluateCurve(p, new(big.Int).Add(cutoff, big.NewInt(1)))
		gap := new(big.Int).Sub(after, at)
		gap.Abs(gap)
		// One unit of input moves the output by at most slope/1e18, which
		// floors to zero for any sane slope; allow a single unit of rounding.
		if gap.Cmp(big.NewInt(1)) > 0 {
			t.Fatalf("discontinuity at %s: %s vs %s", cutoff, at, after)
		}
	}
}

func TestEvaluateCurveSegments(t *testing.T) {
	p := testCurve()
	// Segment 1 at 25%: 1% * 0.25 + 0.5% = 0.75%.
	got := EvaluateCurve(p, bi("250000000000000000"))
	if got.Cmp(bi("7500000000000000")) != 0 {
		t.Fatalf("segment 1 value = %s", got)
	}
	// At zero the intercept alone applies.
	got = EvaluateCurve(p, big.NewInt(0))
	if got.Cmp(p.Intercept1) != 0 {
		t.Fatalf("value at zero = %s", got)
	}
}

func TestEvaluateCurveCap(t *testing.T) {
	p := testCurve()
	p.Slope3 = bi("100000000000000000000") // 10000%
	got := EvaluateCurve(p, one)
	if got.Cmp(one) != 0 {
		t.Fatalf("output not capped at 100%%: %s", got)
	}
}

func TestDecayedFee(t *testing.T) {
	if fee := DecayedFee(nil, 3600, 100); fee.Sign() != 0 {
		t.Fatalf("nil state produced fee %s", fee)
	}
	state := &CurveState{LastFee: bi("40000000000000000"), LastFeeTime: 1000}

	if fee := DecayedFee(state, 3600, 500); fee.Cmp(state.LastFee) != 0 {
		t.Fatalf("fee decayed before anchor: %s", fee)
	}
	// Halfway through the window the fee halves.
	if fee := DecayedFee(state, 3600, 1000+1800); fee.Cmp(bi("20000000000000000")) != 0 {
		t.Fatalf("mid-window fee = %s", fee)
	}
	// A fully elapsed window pins the fee at the last applied value.
	if fee := DecayedFee(state, 3600, 1000+7200); fee.Cmp(state.LastFee) != 0 {
		t.Fatalf("elapsed window fee = %s, want pinned %s", fee, state.LastFee)
	}
	// A zero window keeps the anchor unchanged.
	if fee := DecayedFee(state, 0, 99999); fee.Cmp(state.LastFee) != 0 {
		t.Fatalf("zero-window fee = %s", fee)
	}
}

func TestFeeFractionAveragesEndpoints(t *testing.T) {
	p := testCurve()
	// Pool moves 0% -> 25% of a constant system value: average of the curve
	// at 0 (0.5%) and at 25% (0.75%) is 0.625%.
	fee, err := feeFraction(p, nil, bi("250"), big.NewInt(0), bi("1000"), bi("1000"), 0)
	if err != nil {
		t.Fatalf("feeFraction: %v", err)
	}
	if fee.Cmp(bi("6250000000000000")) != 0 {
		t.Fatalf("averaged fee = %s", fee)
	}
}

func TestFeeFractionDecayFloor(t *testing.T) {
	p := testCurve()
	state := &CurveState{LastFee: bi("40000000000000000"), LastFeeTime: 0}
	fee, err := feeFraction(p, state, bi("250"), big.NewInt(0), bi("1000"), bi("1000"), 0)
	if err != nil {
		t.Fatalf("feeFraction: %v", err)
	}
	if fee.Cmp(state.LastFee) != 0 {
		t.Fatalf("decayed floor not applied: %s", fee)
	}
}

func TestPercentBackedBounds(t *testing.T) {
	if _, err := feeFraction(testCurve(), nil, big.NewInt(0), bi("1001"), bi("1000"), bi("1000"), 0); !errors.Is(err, ErrValueBound) {
		t.Fatalf("pool above system accepted: %v", err)
	}
	fraction, err := percentBacked(big.NewInt(0), big.NewInt(0))
	if err != nil || fraction.Sign() != 0 {
		t.Fatalf("empty system fraction = %s, err %v", fraction, err)
	}
}

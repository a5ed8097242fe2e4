package collateral

import (
	"errors"
	"math/big"
	"testing"
	"time"
)

type memRegistryState struct {
	assets map[string]*Asset
	curves map[string]*CurveState
}

func newMemRegistryState() *memRegistryState {
	return &memRegistryState{
		assets: make(map[string]*Asset),
		curves: make(map[string]*CurveState),
	}
}

func (m *memRegistryState) GetAsset(symbol string) (*Asset, error) {
	asset, ok := m.assets[symbol]
	if !ok {
		return nil, nil
	}
	return asset.Clone(), nil
}

func (m *memRegistryState) PutAsset(asset *Asset) error {
	m.assets[asset.Symbol] = asset.Clone()
	return nil
}

func (m *memRegistryState) ListAssets() ([]*Asset, error) {
	out := make([]*Asset, 0, len(m.assets))
	for _, asset := range m.assets {
		out = append(out, asset.Clone())
	}
	return out, nil
}

func (m *memRegistryState) GetCurveState(symbol string) (*CurveState, error) {
	state, ok := m.curves[symbol]
	if !ok {
		return nil, nil
	}
	clone := *state
	if state.LastFee != nil {
		clone.LastFee = new(big.Int).Set(state.LastFee)
	}
	return &clone, nil
}

func (m *memRegistryState) PutCurveState(symbol string, state *CurveState) error {
	m.curves[symbol] = state
	return nil
}

func testAsset() *Asset {
	return &Asset{
		Symbol:      "weth",
		Name:        "Wrapped Ether",
		Decimals:    18,
		SafetyRatio: bi("800000000000000000"),
		Active:      true,
		ValueCap:    big.NewInt(0),
		Curve:       testCurve(),
	}
}

func newTestRegistry(t *testing.T) (*Registry, Capability, *memRegistryState) {
	t.Helper()
	capability := NewCapability("registry-test")
	registry := NewRegistry(capability)
	state := newMemRegistryState()
	registry.SetState(state)
	return registry, capability, state
}

func TestRegisterAssetNormalizesSymbol(t *testing.T) {
	registry, capability, _ := newTestRegistry(t)
	if err := registry.RegisterAsset(capability, testAsset()); err != nil {
		t.Fatalf("register: %v", err)
	}
	asset, err := registry.Asset(" weth ")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if asset.Symbol != "WETH" {
		t.Fatalf("symbol not normalized: %q", asset.Symbol)
	}
}

func TestRegisterAssetValidation(t *testing.T) {
	registry, capability, _ := newTestRegistry(t)

	bad := testAsset()
	bad.SafetyRatio = new(big.Int).Add(one, big.NewInt(1))
	if err := registry.RegisterAsset(capability, bad); !errors.Is(err, ErrInvalidAsset) {
		t.Fatalf("safety ratio above 100%% accepted: %v", err)
	}

	bad = testAsset()
	bad.SafetyRatio = big.NewInt(0)
	if err := registry.RegisterAsset(capability, bad); !errors.Is(err, ErrInvalidAsset) {
		t.Fatalf("zero safety ratio accepted: %v", err)
	}

	bad = testAsset()
	bad.Wrapped = true
	bad.Underlying = ""
	if err := registry.RegisterAsset(capability, bad); !errors.Is(err, ErrInvalidAsset) {
		t.Fatalf("wrapped asset without underlying accepted: %v", err)
	}

	bad = testAsset()
	bad.Wrapped = true
	bad.Underlying = "WETH"
	if err := registry.RegisterAsset(capability, bad); !errors.Is(err, ErrInvalidAsset) {
		t.Fatalf("self-referential wrapper accepted: %v", err)
	}

	bad = testAsset()
	bad.Curve.Cutoff1 = big.NewInt(0)
	if err := registry.RegisterAsset(capability, bad); !errors.Is(err, ErrInvalidCurve) {
		t.Fatalf("invalid curve accepted: %v", err)
	}
}

func TestRegistryRejectsWrongCapability(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	wrong := NewCapability("someone-else")
	if err := registry.RegisterAsset(wrong, testAsset()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong capability accepted: %v", err)
	}
	if _, err := registry.FeeAndCommit(wrong, "WETH", big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0), 0); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong capability committed fee: %v", err)
	}
}

func TestSetActiveGatesNewExposure(t *testing.T) {
	registry, capability, _ := newTestRegistry(t)
	if err := registry.RegisterAsset(capability, testAsset()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.SetActive(capability, "WETH", false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := registry.ActiveAsset("WETH"); !errors.Is(err, ErrInactiveAsset) {
		t.Fatalf("inactive asset served: %v", err)
	}
	if _, err := registry.Asset("WETH"); err != nil {
		t.Fatalf("plain lookup should still work: %v", err)
	}
}

func TestFeeAndCommitPersistsAnchor(t *testing.T) {
	registry, capability, state := newTestRegistry(t)
	if err := registry.RegisterAsset(capability, testAsset()); err != nil {
		t.Fatalf("register: %v", err)
	}
	// Pool moves 0 -> 250 of a 1000 system: averaged fee 0.625%.
	fee, err := registry.FeeAndCommit(capability, "WETH", bi("250"), big.NewInt(0), bi("1000"), bi("1000"), 5000)
	if err != nil {
		t.Fatalf("fee and commit: %v", err)
	}
	if fee.Cmp(bi("6250000000000000")) != 0 {
		t.Fatalf("committed fee = %s", fee)
	}
	anchor := state.curves["WETH"]
	if anchor == nil || anchor.LastFee.Cmp(fee) != 0 || anchor.LastFeeTime != 5000 {
		t.Fatalf("anchor not persisted: %+v", anchor)
	}
	// The read-only path must not move the anchor.
	if _, err := registry.Fee("WETH", bi("250"), bi("250"), bi("1000"), bi("1000"), 9000); err != nil {
		t.Fatalf("fee quote: %v", err)
	}
	if state.curves["WETH"].LastFeeTime != 5000 {
		t.Fatalf("read-only quote moved the anchor")
	}
}

func TestFeeBootstrapCap(t *testing.T) {
	registry, capability, _ := newTestRegistry(t)
	asset := testAsset()
	// Flat 5% curve.
	asset.Curve = CurveParams{
		Slope1:     big.NewInt(0),
		Slope2:     big.NewInt(0),
		Slope3:     big.NewInt(0),
		Intercept1: bi("50000000000000000"),
		Cutoff1:    bi("500000000000000000"),
		Cutoff2:    one,
	}
	if err := registry.RegisterAsset(capability, asset); err != nil {
		t.Fatalf("register: %v", err)
	}
	deploy := uint64(1000)
	window := uint64(14 * 24 * 3600)
	registry.SetBootstrap(deploy, window)

	fee, err := registry.FeeAndCommit(capability, "WETH", bi("100"), big.NewInt(0), bi("1000"), bi("1000"), deploy+60)
	if err != nil {
		t.Fatalf("fee and commit: %v", err)
	}
	if fee.Cmp(bootstrapFeeCap) != 0 {
		t.Fatalf("bootstrap fee = %s, want capped %s", fee, bootstrapFeeCap)
	}

	fee, err = registry.Fee("WETH", bi("100"), bi("100"), bi("1000"), bi("1000"), deploy+window)
	if err != nil {
		t.Fatalf("fee quote: %v", err)
	}
	if fee.Cmp(bootstrapFeeCap) <= 0 {
		t.Fatalf("post-bootstrap fee still capped: %s", fee)
	}
}

func TestFeeValueCap(t *testing.T) {
	registry, capability, _ := newTestRegistry(t)
	asset := testAsset()
	asset.ValueCap = bi("500")
	if err := registry.RegisterAsset(capability, asset); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := registry.Fee("WETH", bi("300"), bi("300"), bi("1000"), bi("1000"), 0); !errors.Is(err, ErrValueCapExceeded) {
		t.Fatalf("value cap not enforced: %v", err)
	}
	if _, err := registry.Fee("WETH", bi("200"), bi("300"), bi("1000"), bi("1000"), 0); err != nil {
		t.Fatalf("fee inside cap: %v", err)
	}
}

func TestStaticOracleFreshness(t *testing.T) {
	oracle := NewStaticOracle(time.Minute)
	now := time.Unix(10_000, 0)
	oracle.SetClock(func() time.Time { return now })

	if _, err := oracle.Price("WETH"); !errors.Is(err, ErrStaleQuote) {
		t.Fatalf("missing quote served: %v", err)
	}
	oracle.Publish("WETH", bi("2000000000000000000000"), "test")
	quote, err := oracle.Price("WETH")
	if err != nil {
		t.Fatalf("fresh quote: %v", err)
	}
	if quote.Price.Cmp(bi("2000000000000000000000")) != 0 {
		t.Fatalf("quote price = %s", quote.Price)
	}

	now = now.Add(2 * time.Minute)
	if _, err := oracle.Price("WETH"); !errors.Is(err, ErrStaleQuote) {
		t.Fatalf("stale quote served: %v", err)
	}
}

func TestValuation(t *testing.T) {
	registry, capability, _ := newTestRegistry(t)
	oracle := NewStaticOracle(0)
	oracle.Publish("WETH", bi("2000000000000000000000"), "test") // 2000 USD
	registry.SetOracle(oracle)
	if err := registry.RegisterAsset(capability, testAsset()); err != nil {
		t.Fatalf("register: %v", err)
	}

	amount := bi("1500000000000000000") // 1.5 units
	raw, err := registry.RawValue("WETH", amount)
	if err != nil {
		t.Fatalf("raw value: %v", err)
	}
	if raw.Cmp(bi("3000000000000000000000")) != 0 {
		t.Fatalf("raw value = %s", raw)
	}
	normalized, err := registry.NormalizedValue("WETH", amount)
	if err != nil {
		t.Fatalf("normalized value: %v", err)
	}
	if normalized.Cmp(bi("2400000000000000000000")) != 0 {
		t.Fatalf("normalized value = %s", normalized)
	}
	portfolioRaw, portfolioNorm, err := registry.PortfolioValues(map[string]*big.Int{"WETH": amount})
	if err != nil {
		t.Fatalf("portfolio values: %v", err)
	}
	if portfolioRaw.Cmp(raw) != 0 || portfolioNorm.Cmp(normalized) != 0 {
		t.Fatalf("portfolio values = %s / %s", portfolioRaw, portfolioNorm)
	}
	back, err := registry.AmountForValue("WETH", raw)
	if err != nil {
		t.Fatalf("amount for value: %v", err)
	}
	if back.Cmp(amount) != 0 {
		t.Fatalf("amount round trip = %s", back)
	}
}

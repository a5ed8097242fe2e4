package collateral

import (
	"crypto/subtle"
	"math/big"
	"strings"

	"meridianchain/core/events"
)

// Capability is the bearer token guarding registry mutations. Mutating calls
// present it explicitly instead of relying on caller inheritance.
type Capability struct {
	token string
}

// NewCapability wraps a secret token in a capability value.
func NewCapability(token string) Capability {
	return Capability{token: strings.TrimSpace(token)}
}

// registryState abstracts the persistence layer consumed by the registry.
type registryState interface {
	GetAsset(symbol string) (*Asset, error)
	PutAsset(asset *Asset) error
	ListAssets() ([]*Asset, error)
	GetCurveState(symbol string) (*CurveState, error)
	PutCurveState(symbol string, state *CurveState) error
}

// Registry owns the collateral catalogue, valuation and the per-asset fee
// curve. Reads are open; every mutation is capability-gated.
type Registry struct {
	state           registryState
	oracle          PriceOracle
	capability      Capability
	emitter         events.Emitter
	deployTime      uint64
	bootstrapWindow uint64
}

// Bootstrap fee cap applied while the system is inside its deployment window.
var bootstrapFeeCap = big.NewInt(10_000_000_000_000_000) // 1%

// NewRegistry constructs a registry guarded by the supplied capability.
func NewRegistry(capability Capability) *Registry {
	return &Registry{capability: capability, emitter: events.NoopEmitter{}}
}

// SetState wires the registry to the external persistence layer.
func (r *Registry) SetState(state registryState) {
	if r == nil {
		return
	}
	r.state = state
}

// SetOracle wires the price source used for valuation.
func (r *Registry) SetOracle(oracle PriceOracle) {
	if r == nil {
		return
	}
	r.oracle = oracle
}

// SetEmitter wires the audit event sink.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if r == nil || emitter == nil {
		return
	}
	r.emitter = emitter
}

// SetBootstrap records the deployment time and bootstrap window, both in unix
// seconds. While now < deployTime+window the committed variable fee is capped
// at 1%.
func (r *Registry) SetBootstrap(deployTime, window uint64) {
	if r == nil {
		return
	}
	r.deployTime = deployTime
	r.bootstrapWindow = window
}

func (r *Registry) authorize(capability Capability) error {
	if r == nil {
		return ErrUnauthorized
	}
	if r.capability.token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(r.capability.token), []byte(capability.token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// RegisterAsset validates and persists a collateral entry. Existing entries
// are replaced wholesale.
func (r *Registry) RegisterAsset(capability Capability, asset *Asset) error {
	if err := r.authorize(capability); err != nil {
		return err
	}
	if r.state == nil {
		return ErrNilState
	}
	if asset == nil {
		return ErrInvalidAsset
	}
	canonical := asset.Clone()
	canonical.Symbol = NormalizeSymbol(asset.Symbol)
	if canonical.Symbol == "" {
		return ErrInvalidAsset
	}
	if canonical.SafetyRatio == nil || canonical.SafetyRatio.Sign() <= 0 || canonical.SafetyRatio.Cmp(one) > 0 {
		return ErrInvalidAsset
	}
	if canonical.ValueCap == nil {
		canonical.ValueCap = big.NewInt(0)
	}
	if canonical.ValueCap.Sign() < 0 {
		return ErrInvalidAsset
	}
	if canonical.Wrapped {
		canonical.Underlying = NormalizeSymbol(canonical.Underlying)
		if canonical.Underlying == "" || canonical.Underlying == canonical.Symbol {
			return ErrInvalidAsset
		}
	}
	if err := ValidateCurve(canonical.Curve); err != nil {
		return err
	}
	return r.state.PutAsset(canonical)
}

// SetActive toggles whether the asset accepts new exposure.
func (r *Registry) SetActive(capability Capability, symbol string, active bool) error {
	if err := r.authorize(capability); err != nil {
		return err
	}
	asset, err := r.Asset(symbol)
	if err != nil {
		return err
	}
	asset.Active = active
	return r.state.PutAsset(asset)
}

// Asset returns the registry entry for a symbol.
func (r *Registry) Asset(symbol string) (*Asset, error) {
	if r == nil || r.state == nil {
		return nil, ErrNilState
	}
	asset, err := r.state.GetAsset(NormalizeSymbol(symbol))
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, ErrUnknownAsset
	}
	return asset, nil
}

// ActiveAsset returns the entry only when the asset accepts new exposure.
func (r *Registry) ActiveAsset(symbol string) (*Asset, error) {
	asset, err := r.Asset(symbol)
	if err != nil {
		return nil, err
	}
	if !asset.Active {
		return nil, ErrInactiveAsset
	}
	return asset, nil
}

// Assets lists every registered collateral type.
func (r *Registry) Assets() ([]*Asset, error) {
	if r == nil || r.state == nil {
		return nil, ErrNilState
	}
	return r.state.ListAssets()
}

// Fee computes the variable fee fraction without mutating the decay anchor.
// The value cap is enforced before any curve evaluation.
func (r *Registry) Fee(symbol string, input, poolBefore, systemBefore, systemAfter *big.Int, now uint64) (*big.Int, error) {
	fee, _, _, err := r.computeFee(symbol, input, poolBefore, systemBefore, systemAfter, now)
	return fee, err
}

// FeeAndCommit computes the variable fee and persists it as the new decay
// anchor. Only the capability holder may commit.
func (r *Registry) FeeAndCommit(capability Capability, symbol string, input, poolBefore, systemBefore, systemAfter *big.Int, now uint64) (*big.Int, error) {
	if err := r.authorize(capability); err != nil {
		return nil, err
	}
	fee, asset, state, err := r.computeFee(symbol, input, poolBefore, systemBefore, systemAfter, now)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = &CurveState{}
	}
	state.LastFee = new(big.Int).Set(fee)
	state.LastFeeTime = now
	if err := r.state.PutCurveState(asset.Symbol, state); err != nil {
		return nil, err
	}
	r.emitter.Emit(events.CollateralFeeCommitted{Symbol: asset.Symbol, Fee: fee, Time: now})
	return fee, nil
}

func (r *Registry) computeFee(symbol string, input, poolBefore, systemBefore, systemAfter *big.Int, now uint64) (*big.Int, *Asset, *CurveState, error) {
	asset, err := r.Asset(symbol)
	if err != nil {
		return nil, nil, nil, err
	}
	if input == nil || poolBefore == nil {
		return nil, nil, nil, ErrInvalidAsset
	}
	if asset.ValueCap != nil && asset.ValueCap.Sign() > 0 {
		projected := new(big.Int).Add(poolBefore, input)
		if projected.Cmp(asset.ValueCap) > 0 {
			return nil, nil, nil, ErrValueCapExceeded
		}
	}
	state, err := r.state.GetCurveState(asset.Symbol)
	if err != nil {
		return nil, nil, nil, err
	}
	fee, err := feeFraction(asset.Curve, state, input, poolBefore, systemBefore, systemAfter, now)
	if err != nil {
		return nil, nil, nil, err
	}
	if r.inBootstrap(now) && fee.Cmp(bootstrapFeeCap) > 0 {
		fee = new(big.Int).Set(bootstrapFeeCap)
	}
	return fee, asset, state, nil
}

func (r *Registry) inBootstrap(now uint64) bool {
	if r == nil || r.bootstrapWindow == 0 {
		return false
	}
	return now < r.deployTime+r.bootstrapWindow
}

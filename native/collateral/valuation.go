package collateral

import "math/big"

// RawValue returns the USD value of an amount of the asset at 1e18 scale,
// without the safety-ratio discount: price × amount / 10^decimals, floored.
// Redemption allocation is the only consumer of the raw value; every solvency
// ratio uses the normalized form instead.
func (r *Registry) RawValue(symbol string, amount *big.Int) (*big.Int, error) {
	asset, err := r.Asset(symbol)
	if err != nil {
		return nil, err
	}
	return r.rawValue(asset, amount)
}

// NormalizedValue returns the risk-adjusted ("virtual") value of an amount of
// the asset: rawValue × safetyRatio / 1e18, floored.
func (r *Registry) NormalizedValue(symbol string, amount *big.Int) (*big.Int, error) {
	asset, err := r.Asset(symbol)
	if err != nil {
		return nil, err
	}
	return r.normalizedValue(asset, amount)
}

// PortfolioValues returns the raw and normalized USD values of a sparse
// holding set in one pass.
func (r *Registry) PortfolioValues(holdings map[string]*big.Int) (raw, normalized *big.Int, err error) {
	raw = big.NewInt(0)
	normalized = big.NewInt(0)
	for symbol, amount := range holdings {
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		asset, err := r.Asset(symbol)
		if err != nil {
			return nil, nil, err
		}
		assetRaw, err := r.rawValue(asset, amount)
		if err != nil {
			return nil, nil, err
		}
		raw.Add(raw, assetRaw)
		normalized.Add(normalized, mulDivFloor(assetRaw, asset.SafetyRatio, one))
	}
	return raw, normalized, nil
}

// AmountForValue converts a raw USD value (1e18 scale) back into native units
// of the asset, floored. Redemption uses it to turn a per-symbol USD
// allocation into a transferable amount.
func (r *Registry) AmountForValue(symbol string, usdValue *big.Int) (*big.Int, error) {
	asset, err := r.Asset(symbol)
	if err != nil {
		return nil, err
	}
	if usdValue == nil || usdValue.Sign() < 0 {
		return nil, ErrInvalidAsset
	}
	if r.oracle == nil {
		return nil, ErrNoOracle
	}
	quote, err := r.oracle.Price(asset.Symbol)
	if err != nil {
		return nil, err
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(asset.Decimals)), nil)
	return mulDivFloor(usdValue, scale, quote.Price), nil
}

func (r *Registry) rawValue(asset *Asset, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAsset
	}
	if r.oracle == nil {
		return nil, ErrNoOracle
	}
	quote, err := r.oracle.Price(asset.Symbol)
	if err != nil {
		return nil, err
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(asset.Decimals)), nil)
	return mulDivFloor(quote.Price, amount, scale), nil
}

func (r *Registry) normalizedValue(asset *Asset, amount *big.Int) (*big.Int, error) {
	raw, err := r.rawValue(asset, amount)
	if err != nil {
		return nil, err
	}
	return mulDivFloor(raw, asset.SafetyRatio, one), nil
}

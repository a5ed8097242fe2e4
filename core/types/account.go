package types

import "math/big"

// Account is the ledger record for a Meridian address. MUSD is the account
// native stable-credit balance; per-collateral balances are tracked as a
// sparse symbol map so the record does not grow with the registry.
type Account struct {
	Nonce       uint64              `json:"nonce"`
	BalanceMUSD *big.Int            `json:"balanceMUSD"`
	Collateral  map[string]*big.Int `json:"collateral,omitempty"`
}

// NewAccount returns an account with zeroed balances.
func NewAccount() *Account {
	return &Account{
		BalanceMUSD: big.NewInt(0),
		Collateral:  make(map[string]*big.Int),
	}
}

// CollateralBalance returns the balance held for the supplied symbol, never
// nil.
func (a *Account) CollateralBalance(symbol string) *big.Int {
	if a == nil || a.Collateral == nil {
		return big.NewInt(0)
	}
	amount, ok := a.Collateral[symbol]
	if !ok || amount == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(amount)
}

// SetCollateralBalance records the balance for a symbol, pruning zero entries
// so the stored record stays sparse.
func (a *Account) SetCollateralBalance(symbol string, amount *big.Int) {
	if a == nil {
		return
	}
	if a.Collateral == nil {
		a.Collateral = make(map[string]*big.Int)
	}
	if amount == nil || amount.Sign() == 0 {
		delete(a.Collateral, symbol)
		return
	}
	a.Collateral[symbol] = new(big.Int).Set(amount)
}

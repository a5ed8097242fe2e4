package pool

import (
	"errors"
	"math/big"

	"meridianchain/crypto"
)

var (
	// ErrNilState is returned when a ledger is used before its persistence
	// layer is wired.
	ErrNilState = errors.New("pool: state not configured")
	// ErrInvalidAmount is returned for nil or negative amounts.
	ErrInvalidAmount = errors.New("pool: amount must be positive")
)

// Addresses groups the protocol-owned custody accounts. Collateral and MUSD
// held by the pools live in ordinary ledger accounts under these addresses,
// so every balance movement stays inside the same atomic commit as the trove
// mutation that caused it.
type Addresses struct {
	// Active holds the collateral backing all active troves.
	Active crypto.Address
	// Gas holds the MUSD liquidation reserves minted at trove creation.
	Gas crypto.Address
	// Fee collects origination and redemption fees for the staking-reward
	// collaborator.
	Fee crypto.Address
	// Surplus holds collateral left behind by full redemptions until the
	// owner claims it.
	Surplus crypto.Address
}

// DefaultAddresses derives the deployment custody addresses.
func DefaultAddresses() Addresses {
	return Addresses{
		Active:  crypto.ModuleAddress("trove/active"),
		Gas:     crypto.ModuleAddress("trove/gas"),
		Fee:     crypto.ModuleAddress("trove/fee"),
		Surplus: crypto.ModuleAddress("trove/surplus"),
	}
}

// Unwrapper converts a wrapped yield-bearing collateral amount into its
// underlying symbol and amount when collateral is sent back to a user.
type Unwrapper interface {
	Unwrap(symbol string, amount *big.Int) (string, *big.Int, error)
}

// IdentityUnwrapper passes collateral through unchanged. Deployments without
// wrapped assets use it as the default hook.
type IdentityUnwrapper struct{}

// Unwrap implements the Unwrapper interface.
func (IdentityUnwrapper) Unwrap(symbol string, amount *big.Int) (string, *big.Int, error) {
	out := big.NewInt(0)
	if amount != nil {
		out = new(big.Int).Set(amount)
	}
	return symbol, out, nil
}

// surplusState abstracts the persistence consumed by the surplus ledger.
type surplusState interface {
	GetSurplus(addr crypto.Address) (map[string]*big.Int, error)
	PutSurplus(addr crypto.Address, claims map[string]*big.Int) error
}

// SurplusLedger tracks per-account claimable collateral routed out of full
// redemptions and liquidations.
type SurplusLedger struct {
	state surplusState
}

// NewSurplusLedger constructs an unwired ledger.
func NewSurplusLedger() *SurplusLedger {
	return &SurplusLedger{}
}

// SetState wires the ledger to the external persistence layer.
func (s *SurplusLedger) SetState(state surplusState) {
	if s == nil {
		return
	}
	s.state = state
}

// Add credits claimable collateral for an owner.
func (s *SurplusLedger) Add(owner crypto.Address, symbol string, amount *big.Int) error {
	if s == nil || s.state == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	claims, err := s.state.GetSurplus(owner)
	if err != nil {
		return err
	}
	if claims == nil {
		claims = make(map[string]*big.Int)
	}
	current, ok := claims[symbol]
	if !ok || current == nil {
		current = big.NewInt(0)
	}
	claims[symbol] = new(big.Int).Add(current, amount)
	return s.state.PutSurplus(owner, claims)
}

// Claims returns the claimable balances for an owner.
func (s *SurplusLedger) Claims(owner crypto.Address) (map[string]*big.Int, error) {
	if s == nil || s.state == nil {
		return nil, ErrNilState
	}
	claims, err := s.state.GetSurplus(owner)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*big.Int, len(claims))
	for symbol, amount := range claims {
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		out[symbol] = new(big.Int).Set(amount)
	}
	return out, nil
}

// Drain removes and returns every claimable balance for an owner.
func (s *SurplusLedger) Drain(owner crypto.Address) (map[string]*big.Int, error) {
	claims, err := s.Claims(owner)
	if err != nil {
		return nil, err
	}
	if len(claims) == 0 {
		return claims, nil
	}
	if err := s.state.PutSurplus(owner, nil); err != nil {
		return nil, err
	}
	return claims, nil
}

package events

import (
	"math/big"
	"sort"
	"strings"

	"meridianchain/core/types"
	"meridianchain/crypto"
)

const (
	// TypeTroveCreated is emitted when a trove is opened and registered in
	// the ordered index.
	TypeTroveCreated = "trove.created"
	// TypeTroveUpdated is emitted after any successful mutation of an active
	// trove, including the terminal update that zeroes it.
	TypeTroveUpdated = "trove.updated"
	// TypeTroveFeePaid is emitted whenever an origination or redemption fee
	// is charged against an owner.
	TypeTroveFeePaid = "trove.fee"
	// TypeRedemption is emitted once per successful redemption call.
	TypeRedemption = "trove.redemption"
	// TypeSurplusClaimed is emitted when an owner withdraws surplus
	// collateral left behind by a full redemption or liquidation.
	TypeSurplusClaimed = "trove.surplus_claimed"
	// TypeBaseRateUpdated is emitted when redemption volume moves the global
	// base rate.
	TypeBaseRateUpdated = "baserate.updated"
)

// TroveCreated records the registration of a new trove.
type TroveCreated struct {
	Owner [20]byte
	Index uint64
}

func (TroveCreated) EventType() string { return TypeTroveCreated }

func (e TroveCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeTroveCreated,
		Attributes: map[string]string{
			"owner": addressString(e.Owner),
			"index": new(big.Int).SetUint64(e.Index).String(),
		},
	}
}

// TroveUpdated records the post-operation debt and holdings of a trove.
type TroveUpdated struct {
	Owner      [20]byte
	Debt       *big.Int
	Collateral map[string]*big.Int
	Operation  string
}

func (TroveUpdated) EventType() string { return TypeTroveUpdated }

func (e TroveUpdated) Event() *types.Event {
	debt := big.NewInt(0)
	if e.Debt != nil {
		debt = new(big.Int).Set(e.Debt)
	}
	symbols, amounts := flattenCollateral(e.Collateral)
	return &types.Event{
		Type: TypeTroveUpdated,
		Attributes: map[string]string{
			"owner":     addressString(e.Owner),
			"debt":      debt.String(),
			"symbols":   symbols,
			"amounts":   amounts,
			"operation": strings.TrimSpace(e.Operation),
		},
	}
}

// TroveFeePaid records a fee charged to an owner in MUSD.
type TroveFeePaid struct {
	Owner  [20]byte
	Amount *big.Int
}

func (TroveFeePaid) EventType() string { return TypeTroveFeePaid }

func (e TroveFeePaid) Event() *types.Event {
	amount := big.NewInt(0)
	if e.Amount != nil {
		amount = new(big.Int).Set(e.Amount)
	}
	return &types.Event{
		Type: TypeTroveFeePaid,
		Attributes: map[string]string{
			"owner":  addressString(e.Owner),
			"amount": amount.String(),
		},
	}
}

// RedemptionPerformed summarises a redemption call: the amount the caller
// asked for, the amount actually redeemed, the fee charged and the collateral
// drawn per symbol.
type RedemptionPerformed struct {
	Redeemer   [20]byte
	Attempted  *big.Int
	Actual     *big.Int
	Fee        *big.Int
	Collateral map[string]*big.Int
}

func (RedemptionPerformed) EventType() string { return TypeRedemption }

func (e RedemptionPerformed) Event() *types.Event {
	attempted := big.NewInt(0)
	if e.Attempted != nil {
		attempted = new(big.Int).Set(e.Attempted)
	}
	actual := big.NewInt(0)
	if e.Actual != nil {
		actual = new(big.Int).Set(e.Actual)
	}
	fee := big.NewInt(0)
	if e.Fee != nil {
		fee = new(big.Int).Set(e.Fee)
	}
	symbols, amounts := flattenCollateral(e.Collateral)
	return &types.Event{
		Type: TypeRedemption,
		Attributes: map[string]string{
			"redeemer":  addressString(e.Redeemer),
			"attempted": attempted.String(),
			"actual":    actual.String(),
			"fee":       fee.String(),
			"symbols":   symbols,
			"amounts":   amounts,
		},
	}
}

// SurplusClaimed records a surplus withdrawal for an owner.
type SurplusClaimed struct {
	Owner      [20]byte
	Collateral map[string]*big.Int
}

func (SurplusClaimed) EventType() string { return TypeSurplusClaimed }

func (e SurplusClaimed) Event() *types.Event {
	symbols, amounts := flattenCollateral(e.Collateral)
	return &types.Event{
		Type: TypeSurplusClaimed,
		Attributes: map[string]string{
			"owner":   addressString(e.Owner),
			"symbols": symbols,
			"amounts": amounts,
		},
	}
}

// BaseRateUpdated records a movement of the global redemption base rate.
type BaseRateUpdated struct {
	Rate *big.Int
}

func (BaseRateUpdated) EventType() string { return TypeBaseRateUpdated }

func (e BaseRateUpdated) Event() *types.Event {
	rate := big.NewInt(0)
	if e.Rate != nil {
		rate = new(big.Int).Set(e.Rate)
	}
	return &types.Event{
		Type:       TypeBaseRateUpdated,
		Attributes: map[string]string{"rate": rate.String()},
	}
}

func addressString(raw [20]byte) string {
	if raw == ([20]byte{}) {
		return ""
	}
	return crypto.NewAddress(crypto.MerPrefix, raw[:]).String()
}

func flattenCollateral(collateral map[string]*big.Int) (string, string) {
	if len(collateral) == 0 {
		return "", ""
	}
	symbols := make([]string, 0, len(collateral))
	for symbol := range collateral {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	amounts := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		amount := collateral[symbol]
		if amount == nil {
			amount = big.NewInt(0)
		}
		amounts = append(amounts, amount.String())
	}
	return strings.Join(symbols, ","), strings.Join(amounts, ",")
}

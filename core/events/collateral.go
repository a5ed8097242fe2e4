package events

import (
	"math/big"
	"strings"

	"meridianchain/core/types"
)

const (
	// TypeCollateralFeeCommitted is emitted when the registry persists a new
	// last-applied fee for a collateral type.
	TypeCollateralFeeCommitted = "collateral.fee_committed"
)

// CollateralFeeCommitted records a committed variable-fee sample for a
// collateral type.
type CollateralFeeCommitted struct {
	Symbol string
	Fee    *big.Int
	Time   uint64
}

func (CollateralFeeCommitted) EventType() string { return TypeCollateralFeeCommitted }

func (e CollateralFeeCommitted) Event() *types.Event {
	fee := big.NewInt(0)
	if e.Fee != nil {
		fee = new(big.Int).Set(e.Fee)
	}
	return &types.Event{
		Type: TypeCollateralFeeCommitted,
		Attributes: map[string]string{
			"symbol": strings.TrimSpace(e.Symbol),
			"fee":    fee.String(),
			"time":   new(big.Int).SetUint64(e.Time).String(),
		},
	}
}

package trove

import (
	"errors"
	"fmt"
)

// Error classes. Every failure returned by the engine wraps exactly one of
// these so callers (and the RPC layer) can map outcomes without string
// matching.
var (
	ErrValidation          = errors.New("trove engine: validation failed")
	ErrStateConflict       = errors.New("trove engine: position state conflict")
	ErrInvariantViolation  = errors.New("trove engine: invariant violated")
	ErrInsufficientFunds   = errors.New("trove engine: insufficient funds")
	ErrTemporalRestriction = errors.New("trove engine: operation not available yet")
)

var (
	errNilState            = errors.New("trove engine: state not configured")
	errNilRegistry         = errors.New("trove engine: collateral registry not configured")
	errZeroChange          = fmt.Errorf("%w: empty adjustment", ErrValidation)
	errInvalidAmount       = fmt.Errorf("%w: amount must be positive", ErrValidation)
	errDuplicateCollateral = fmt.Errorf("%w: duplicate collateral symbol", ErrValidation)
	errOverlapCollateral   = fmt.Errorf("%w: symbol present on both sides of adjustment", ErrValidation)
	errTroveExists         = fmt.Errorf("%w: trove already active", ErrStateConflict)
	errTroveMissing        = fmt.Errorf("%w: trove not active", ErrStateConflict)
	errICRBelowMCR         = fmt.Errorf("%w: ratio below minimum", ErrInvariantViolation)
	errICRBelowCCR         = fmt.Errorf("%w: ratio below critical threshold", ErrInvariantViolation)
	errICRNotImproved      = fmt.Errorf("%w: recovery mode requires ratio improvement", ErrInvariantViolation)
	errTCRBelowCCR         = fmt.Errorf("%w: system ratio would fall below critical threshold", ErrInvariantViolation)
	errFeeExceedsMax       = fmt.Errorf("%w: fee exceeds caller maximum", ErrInvariantViolation)
	errFeeEatsRedemption   = fmt.Errorf("%w: fee would consume redeemed amount", ErrInvariantViolation)
	errWithdrawInRecovery  = fmt.Errorf("%w: collateral withdrawal forbidden in recovery mode", ErrInvariantViolation)
	errCloseInRecovery     = fmt.Errorf("%w: close forbidden in recovery mode", ErrInvariantViolation)
	errBelowMinNetDebt     = fmt.Errorf("%w: net debt below minimum", ErrInvariantViolation)
	errRepayExceedsDebt    = fmt.Errorf("%w: repayment exceeds net debt", ErrValidation)
	errNegativeHolding     = fmt.Errorf("%w: withdrawal exceeds held collateral", ErrInsufficientFunds)
	errInsufficientBalance = fmt.Errorf("%w: balance cannot cover operation", ErrInsufficientFunds)
	errBootstrapWindow     = fmt.Errorf("%w: inside bootstrap window", ErrTemporalRestriction)
	errRedemptionsHalted   = fmt.Errorf("%w: system ratio below minimum, redemptions halted", ErrTemporalRestriction)
	errZeroRedemption      = fmt.Errorf("%w: nothing redeemed", ErrInvariantViolation)
	errMaxFeeWindow        = fmt.Errorf("%w: max fee percentage outside allowed window", ErrValidation)
	errNoSurplus           = fmt.Errorf("%w: no claimable surplus", ErrValidation)
)

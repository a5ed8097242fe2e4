package collateral

import "errors"

var (
	// ErrUnknownAsset is returned when a symbol has no registry entry.
	ErrUnknownAsset = errors.New("collateral: unknown asset")
	// ErrInactiveAsset is returned when an operation references a retired
	// collateral type.
	ErrInactiveAsset = errors.New("collateral: asset not active")
	// ErrInvalidAsset is returned when a registration carries malformed
	// parameters.
	ErrInvalidAsset = errors.New("collateral: invalid asset parameters")
	// ErrInvalidCurve is returned when curve parameters cannot form a
	// continuous three-piece function.
	ErrInvalidCurve = errors.New("collateral: invalid fee curve parameters")
	// ErrValueBound is returned when a pool value exceeds the system value
	// it is supposed to be a fraction of.
	ErrValueBound = errors.New("collateral: pool value exceeds system value")
	// ErrValueCapExceeded is returned when a deposit would push the asset's
	// total normalized value past its configured cap.
	ErrValueCapExceeded = errors.New("collateral: normalized value cap exceeded")
	// ErrUnauthorized is returned when a mutating call does not present the
	// registry capability.
	ErrUnauthorized = errors.New("collateral: capability check failed")
	// ErrNilState is returned when the registry is used before its
	// persistence layer is wired.
	ErrNilState = errors.New("collateral: state not configured")
	// ErrNoOracle is returned when valuation is requested without a price
	// source.
	ErrNoOracle = errors.New("collateral: price oracle not configured")
	// ErrStaleQuote is returned when the freshest available quote is older
	// than the configured maximum age.
	ErrStaleQuote = errors.New("collateral: no fresh oracle quote available")
)

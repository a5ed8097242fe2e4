package collateral

import (
	"math/big"
	"strings"
	"sync"
	"time"
)

// PriceQuote captures a USD price for one whole unit of an asset, 1e18 scale,
// along with the timestamp reported by the upstream source.
type PriceQuote struct {
	Price     *big.Int
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q PriceQuote) Clone() PriceQuote {
	clone := PriceQuote{Timestamp: q.Timestamp, Source: q.Source}
	if q.Price != nil {
		clone.Price = new(big.Int).Set(q.Price)
	}
	return clone
}

// PriceOracle resolves the USD price for a collateral symbol.
type PriceOracle interface {
	Price(symbol string) (PriceQuote, error)
}

// StaticOracle serves operator-published prices with a freshness window. It is
// the deployment default; richer aggregators satisfy the same interface.
type StaticOracle struct {
	mu     sync.RWMutex
	quotes map[string]PriceQuote
	maxAge time.Duration
	now    func() time.Time
}

// NewStaticOracle constructs an oracle that rejects quotes older than maxAge.
// A zero maxAge disables the freshness check.
func NewStaticOracle(maxAge time.Duration) *StaticOracle {
	return &StaticOracle{
		quotes: make(map[string]PriceQuote),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// SetClock overrides the time source, primarily for tests.
func (o *StaticOracle) SetClock(now func() time.Time) {
	if o == nil || now == nil {
		return
	}
	o.mu.Lock()
	o.now = now
	o.mu.Unlock()
}

// Publish records a price observation for a symbol.
func (o *StaticOracle) Publish(symbol string, price *big.Int, source string) {
	if o == nil || price == nil {
		return
	}
	canonical := NormalizeSymbol(symbol)
	if canonical == "" {
		return
	}
	o.mu.Lock()
	o.quotes[canonical] = PriceQuote{
		Price:     new(big.Int).Set(price),
		Timestamp: o.now(),
		Source:    strings.TrimSpace(source),
	}
	o.mu.Unlock()
}

// Price returns the latest fresh quote for the symbol.
func (o *StaticOracle) Price(symbol string) (PriceQuote, error) {
	if o == nil {
		return PriceQuote{}, ErrNoOracle
	}
	o.mu.RLock()
	quote, ok := o.quotes[NormalizeSymbol(symbol)]
	now := o.now()
	maxAge := o.maxAge
	o.mu.RUnlock()
	if !ok || quote.Price == nil || quote.Price.Sign() <= 0 {
		return PriceQuote{}, ErrStaleQuote
	}
	if maxAge > 0 && now.Sub(quote.Timestamp) > maxAge {
		return PriceQuote{}, ErrStaleQuote
	}
	return quote.Clone(), nil
}

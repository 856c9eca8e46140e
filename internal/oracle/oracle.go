// Package oracle resolves currency conversion rates for payment intake.
package oracle

import (
	"context"
	"strings"
	"sync"

	"github.com/holiman/uint256"

	"fractional-ledger/internal/fixedpoint"
)

// Resolver returns the 18-decimal rate converting one unit of base into
// quote. valid is false when no trustworthy rate is available.
type Resolver interface {
	ResolvePrice(ctx context.Context, base, quote string) (rate *uint256.Int, valid bool)
}

// PairKey normalizes a currency pair into a cache key.
func PairKey(base, quote string) string {
	return strings.ToUpper(base) + "/" + strings.ToUpper(quote)
}

// Static is a fixed-rate resolver. The identity pair always resolves to 1.
type Static struct {
	mu    sync.RWMutex
	rates map[string]uint256.Int
}

// NewStatic creates an empty static resolver.
func NewStatic() *Static {
	return &Static{rates: make(map[string]uint256.Int)}
}

// Set stores the rate of a pair. A zero rate makes the pair invalid.
func (s *Static) Set(base, quote string, rate *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[PairKey(base, quote)] = *rate
}

func (s *Static) ResolvePrice(_ context.Context, base, quote string) (*uint256.Int, bool) {
	if strings.EqualFold(base, quote) {
		return new(uint256.Int).Set(fixedpoint.One), true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rate, ok := s.rates[PairKey(base, quote)]
	if !ok || rate.IsZero() {
		return nil, false
	}
	return &rate, true
}

package rates

import (
	"errors"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	nativecommon "pynthchain/native/common"
)

var (
	ErrInvalidRate = errors.New("rates: rate must be positive")
	ErrUnknownKey  = errors.New("rates: currency key must not be empty")
)

// PriceQuote captures a unit-scale pUSD price for a currency along with the
// timestamp reported by the upstream oracle and the oracle identifier.
type PriceQuote struct {
	Key       string
	Rate      *big.Int
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q PriceQuote) Clone() PriceQuote {
	clone := q
	clone.Rate = nativecommon.Copy(q.Rate)
	return clone
}

// Feed is an in-memory price feed. Quotes older than the stale period are
// reported invalid; pUSD is pinned to one unit and never stale.
type Feed struct {
	mu          sync.RWMutex
	quotes      map[string]PriceQuote
	stalePeriod time.Duration
	nowFn       func() time.Time
}

// NewFeed constructs a feed with the supplied staleness window. A zero window
// disables staleness checks.
func NewFeed(stalePeriod time.Duration) *Feed {
	return &Feed{
		quotes:      make(map[string]PriceQuote),
		stalePeriod: stalePeriod,
		nowFn:       time.Now,
	}
}

// SetClock overrides the time source, primarily for tests.
func (f *Feed) SetClock(now func() time.Time) {
	if f == nil || now == nil {
		return
	}
	f.mu.Lock()
	f.nowFn = now
	f.mu.Unlock()
}

// SetStalePeriod updates the staleness window.
func (f *Feed) SetStalePeriod(d time.Duration) {
	if f == nil {
		return
	}
	f.mu.Lock()
	f.stalePeriod = d
	f.mu.Unlock()
}

// Update records a new quote. A zero timestamp is replaced by the current time.
func (f *Feed) Update(key string, rate *big.Int, ts time.Time, source string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrUnknownKey
	}
	if !nativecommon.IsPositive(rate) {
		return ErrInvalidRate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if ts.IsZero() {
		ts = f.nowFn()
	}
	f.quotes[key] = PriceQuote{Key: key, Rate: new(big.Int).Set(rate), Timestamp: ts, Source: strings.TrimSpace(source)}
	return nil
}

// Remove drops the quote for key, making it invalid.
func (f *Feed) Remove(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.quotes, strings.TrimSpace(key))
}

// RateAndInvalid implements nativecommon.RateView.
func (f *Feed) RateAndInvalid(key string) (*big.Int, bool) {
	if key == nativecommon.PUSD {
		return nativecommon.Copy(nativecommon.Unit), false
	}
	if f == nil {
		return new(big.Int), true
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	quote, ok := f.quotes[key]
	if !ok {
		return new(big.Int), true
	}
	return nativecommon.Copy(quote.Rate), f.staleLocked(quote)
}

func (f *Feed) staleLocked(quote PriceQuote) bool {
	if f.stalePeriod <= 0 {
		return false
	}
	return f.nowFn().Sub(quote.Timestamp) > f.stalePeriod
}

// Quote returns the stored quote for key.
func (f *Feed) Quote(key string) (PriceQuote, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	quote, ok := f.quotes[key]
	if !ok {
		return PriceQuote{}, false
	}
	return quote.Clone(), true
}

// Quotes returns every stored quote sorted by key.
func (f *Feed) Quotes() []PriceQuote {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]PriceQuote, 0, len(f.quotes))
	for _, quote := range f.quotes {
		out = append(out, quote.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

package rules

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// Book is the set of known market rules keyed by base market.
type Book struct {
	mu    sync.RWMutex
	rules map[string]Rules
}

// NewBook creates a book seeded with the default markets, overridden by extra.
func NewBook(extra ...Rules) *Book {
	b := &Book{rules: make(map[string]Rules)}
	for _, r := range Defaults() {
		b.rules[r.Market] = r
	}
	for _, r := range extra {
		b.Set(r)
	}
	return b
}

// Set adds or replaces rules for a market.
func (b *Book) Set(r Rules) {
	r.Market = Base(r.Market)
	b.mu.Lock()
	b.rules[r.Market] = r
	b.mu.Unlock()
}

// Get looks up rules by base market or symbol.
func (b *Book) Get(market string) (Rules, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.rules[Base(market)]
	return r, ok
}

// Markets lists every supported base market.
func (b *Book) Markets() []string {
	b.mu.RLock()
	out := make([]string, 0, len(b.rules))
	for k := range b.rules {
		out = append(out, k)
	}
	b.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Defaults are rules for the markets traded out of the box.
func Defaults() []Rules {
	d := decimal.RequireFromString
	return []Rules{
		{
			Market: "BTC", Group: 1,
			MinTradeSize: d("0.0001"), MinChangeSize: d("0.00001"), MinPriceChange: d("1"),
			LimitPriceCap: d("0.05"), MaxMarketOrderUSD: d("1000000"), MaxLimitOrderUSD: d("5000000"), MaxPositionUSD: d("10000000"),
		},
		{
			Market: "ETH", Group: 1,
			MinTradeSize: d("0.01"), MinChangeSize: d("0.001"), MinPriceChange: d("0.1"),
			LimitPriceCap: d("0.05"), MaxMarketOrderUSD: d("1000000"), MaxLimitOrderUSD: d("5000000"), MaxPositionUSD: d("10000000"),
		},
		{
			Market: "SOL", Group: 2,
			MinTradeSize: d("0.1"), MinChangeSize: d("0.01"), MinPriceChange: d("0.01"),
			LimitPriceCap: d("0.05"), MaxMarketOrderUSD: d("500000"), MaxLimitOrderUSD: d("2500000"), MaxPositionUSD: d("5000000"),
		},
	}
}

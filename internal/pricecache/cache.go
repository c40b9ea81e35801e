package pricecache

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Level is one side of an order book row.
type Level struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Entry is the best bid/ask snapshot of a market.
type Entry struct {
	Market        string
	Bid           decimal.Decimal
	Ask           decimal.Decimal
	Spread        decimal.Decimal
	SpreadPercent decimal.Decimal
	Mid           decimal.Decimal
	UpdatedAt     time.Time
}

// EntryStatus describes the freshness of one cached market.
type EntryStatus struct {
	Entry
	Age   time.Duration
	Fresh bool
}

// Cache holds the freshest top of book per market. Keys are upper-cased.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
	maxAge  time.Duration
}

// New creates a cache. maxAge is used by Status to flag fresh entries.
func New(maxAge time.Duration) *Cache {
	return NewWithClock(maxAge, time.Now)
}

func NewWithClock(maxAge time.Duration, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		entries: make(map[string]Entry),
		now:     now,
		maxAge:  maxAge,
	}
}

// Update stores the first level of each side. Empty books are ignored.
func (c *Cache) Update(market string, bids, asks []Level) bool {
	if len(bids) == 0 || len(asks) == 0 {
		return false
	}
	return c.Set(market, bids[0].Price, asks[0].Price)
}

// Set overwrites the entry of market with bid/ask.
func (c *Cache) Set(market string, bid, ask decimal.Decimal) bool {
	if !bid.IsPositive() || !ask.IsPositive() {
		return false
	}

	spread := ask.Sub(bid)
	entry := Entry{
		Market:        normalize(market),
		Bid:           bid,
		Ask:           ask,
		Spread:        spread,
		SpreadPercent: spread.Div(bid).Mul(hundred),
		Mid:           bid.Add(ask).Div(decimal.NewFromInt(2)),
		UpdatedAt:     c.now(),
	}

	c.mu.Lock()
	c.entries[entry.Market] = entry
	c.mu.Unlock()
	return true
}

// Get returns the entry only if it is not older than maxAge.
func (c *Cache) Get(market string, maxAge time.Duration) (Entry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[normalize(market)]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	if c.now().Sub(entry.UpdatedAt) > maxAge {
		return Entry{}, false
	}
	return entry, true
}

// Prices returns bid and ask if the entry is fresh.
func (c *Cache) Prices(market string, maxAge time.Duration) (bid, ask decimal.Decimal, ok bool) {
	entry, ok := c.Get(market, maxAge)
	if !ok {
		return decimal.Zero, decimal.Zero, false
	}
	return entry.Bid, entry.Ask, true
}

// SpreadPercent returns the spread of the last update regardless of age.
func (c *Cache) SpreadPercent(market string) (decimal.Decimal, bool) {
	c.mu.RLock()
	entry, ok := c.entries[normalize(market)]
	c.mu.RUnlock()
	if !ok {
		return decimal.Zero, false
	}
	return entry.SpreadPercent, true
}

// Markets lists cached markets in sorted order.
func (c *Cache) Markets() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.entries))
	for k := range c.entries {
		out = append(out, k)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Status reports every cached market with its age.
func (c *Cache) Status() []EntryStatus {
	now := c.now()
	c.mu.RLock()
	out := make([]EntryStatus, 0, len(c.entries))
	for _, e := range c.entries {
		age := now.Sub(e.UpdatedAt)
		out = append(out, EntryStatus{Entry: e, Age: age, Fresh: age <= c.maxAge})
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Market < out[j].Market
	})
	return out
}

func normalize(market string) string {
	return strings.ToUpper(strings.TrimSpace(market))
}

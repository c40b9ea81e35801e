package pricecache

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCacheGetRespectsMaxAge(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	c := NewWithClock(2*time.Second, clock.Now)

	require.True(t, c.Update("btc-usd", []Level{{Price: dec("100")}}, []Level{{Price: dec("101")}}))

	entry, ok := c.Get("BTC-USD", 2*time.Second)
	require.True(t, ok)
	assert.True(t, entry.Bid.Equal(dec("100")))
	assert.True(t, entry.Ask.Equal(dec("101")))
	assert.True(t, entry.Spread.Equal(dec("1")))
	assert.True(t, entry.SpreadPercent.Equal(dec("1")))
	assert.True(t, entry.Mid.Equal(dec("100.5")))

	clock.t = clock.t.Add(2 * time.Second)
	_, ok = c.Get("BTC-USD", 2*time.Second)
	assert.True(t, ok, "age equal to maxAge is still fresh")

	clock.t = clock.t.Add(time.Millisecond)
	_, ok = c.Get("BTC-USD", 2*time.Second)
	assert.False(t, ok)

	_, _, ok = c.Prices("BTC-USD", time.Second)
	assert.False(t, ok)
}

func TestCacheIgnoresEmptyBook(t *testing.T) {
	c := New(time.Second)
	assert.False(t, c.Update("ETH", nil, []Level{{Price: dec("1")}}))
	assert.False(t, c.Update("ETH", []Level{{Price: dec("1")}}, nil))
	assert.Empty(t, c.Markets())
}

func TestCacheSpreadAndStatus(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	c := NewWithClock(time.Second, clock.Now)
	c.Set("eth", dec("2000"), dec("2002"))
	c.Set("btc", dec("50000"), dec("50010"))

	sp, ok := c.SpreadPercent("ETH")
	require.True(t, ok)
	assert.True(t, sp.Equal(dec("0.1")))

	_, ok = c.SpreadPercent("SOL")
	assert.False(t, ok)

	clock.t = clock.t.Add(1500 * time.Millisecond)
	c.Set("btc", dec("50000"), dec("50010"))

	assert.Equal(t, []string{"BTC", "ETH"}, c.Markets())
	status := c.Status()
	require.Len(t, status, 2)
	assert.True(t, status[0].Fresh)
	assert.False(t, status[1].Fresh)
	assert.Equal(t, 1500*time.Millisecond, status[1].Age)
}

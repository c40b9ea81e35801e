package trader

import (
	"context"
	"testing"
	"time"

	"hedgebot/internal/exchange"
	"hedgebot/internal/exchange/sim"
	"hedgebot/internal/model"
	"hedgebot/internal/model/enum"
	"hedgebot/internal/pricecache"
	"hedgebot/internal/risk"
	"hedgebot/internal/rules"
	"hedgebot/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.MaxOpenRetries = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.BatchNotional = model.DecimalRange{Min: dec("10"), Max: dec("5")}
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Leverage["BTC"] = model.Leverage{Min: 0, Max: 10}
	assert.Error(t, cfg.Validate())

	assert.Equal(t, model.FixedLeverage(50), DefaultConfig().LeverageFor("btc-usd"))
	assert.Equal(t, model.FixedLeverage(10), DefaultConfig().LeverageFor("DOGE"))
}

func TestTrackerTransitions(t *testing.T) {
	tr := NewTracker()
	for _, p := range []Phase{PhaseLeverage, PhaseOpen, PhaseClose, PhaseOpen, PhaseMonitor, PhaseClose, PhaseReleased} {
		require.NoError(t, tr.Advance(p), p.String())
	}
	assert.ErrorIs(t, tr.Advance(PhaseOpen), exception.ErrInvalidPhaseTransition)

	tr = NewTracker()
	require.NoError(t, tr.Advance(PhaseLeverage))
	assert.ErrorIs(t, tr.Advance(PhaseMonitor), exception.ErrInvalidPhaseTransition)
	assert.Equal(t, PhaseLeverage, tr.Current())
	assert.Equal(t, []Phase{PhaseIdle, PhaseLeverage}, tr.History())
}

func TestSplitNotional(t *testing.T) {
	rnd := newRandom(3)
	assert.Nil(t, splitNotional(rnd, dec("100"), 0, 0.4))
	assert.Equal(t, []decimal.Decimal{dec("100")}, splitNotional(rnd, dec("100"), 1, 0.4))

	for n := 2; n <= 7; n++ {
		total := dec("1234.56")
		parts := splitNotional(rnd, total, n, 0.9)
		require.Len(t, parts, n)
		sum := decimal.Zero
		for _, p := range parts {
			assert.True(t, p.IsPositive())
			sum = sum.Add(p)
		}
		assert.True(t, sum.Equal(total), "n=%d sum=%s", n, sum)
	}
}

func TestComposeAndPlanKeepHedgeBalanced(t *testing.T) {
	cfg := testConfig(enum.OrderModeMarket)
	cfg.LongAccounts = model.IntRange{Min: 1, Max: 10}
	h := newHarness(t, cfg, nil, sim.Config{}, risk.Config{})

	_, err := h.tr.Compose(model.Task{ID: "t1", Market: "BTC", Accounts: []string{"a"}}, 1)
	assert.ErrorIs(t, err, exception.ErrOrderEmptyBatch)

	task := model.NewTask("t2", "BTC", []string{"a", "b", "c", "d", "e"}, h.clock.Now(), nil)
	for range 20 {
		b, err := h.tr.Compose(task, 7)
		require.NoError(t, err)
		assert.Equal(t, uint64(7), b.Seq)
		assert.GreaterOrEqual(t, b.LongCount(), 1)
		assert.GreaterOrEqual(t, b.ShortCount(), 1)
		assert.ElementsMatch(t, task.Accounts, b.Accounts())

		longs, shorts := decimal.Zero, decimal.Zero
		for _, l := range h.tr.plan(b) {
			assert.True(t, l.USD.IsPositive())
			if l.Side == enum.PositionSideLong {
				longs = longs.Add(l.USD)
			} else {
				shorts = shorts.Add(l.USD)
			}
		}
		assert.True(t, longs.Equal(shorts), "longs %s shorts %s", longs, shorts)
		total := longs.Add(shorts)
		assert.True(t, total.GreaterThanOrEqual(dec("999.99")) && total.LessThanOrEqual(dec("1200.01")), total.String())
	}
}

func quoted(bid, ask string) book { return book{Bid: dec(bid), Ask: dec(ask)} }

func TestOffsetAdaptsToSpread(t *testing.T) {
	cfg := testConfig(enum.OrderModeLimit)
	h := newHarness(t, cfg, nil, sim.Config{}, risk.Config{})

	off := h.tr.offset("BTC", quoted("100", "100.02"))
	assert.True(t, off.IsPositive())
	assert.True(t, off.LessThan(cfg.LimitOffset))
	assert.True(t, h.tr.offset("BTC", quoted("100", "101")).Equal(cfg.LimitOffset))
	assert.True(t, h.tr.offset("BTC", quoted("100", "100")).Equal(cfg.LimitOffset))

	cfg.AdaptiveOffset = false
	tr := h.build(t, cfg, h.ex, risk.Config{})
	assert.True(t, tr.offset("BTC", quoted("100", "100.02")).Equal(cfg.LimitOffset))

	buy, err := h.tr.limitPrice("BTC", enum.OrderSideBuy, quoted("25000", "25010"))
	require.NoError(t, err)
	sell, err := h.tr.limitPrice("BTC", enum.OrderSideSell, quoted("25000", "25010"))
	require.NoError(t, err)
	assert.True(t, buy.LessThan(dec("25000")))
	assert.True(t, sell.GreaterThan(dec("25010")))
}

// wideCache serves a wide book but reports a narrow derived spread.
type wideCache struct{ spread decimal.Decimal }

func (c wideCache) Prices(string, time.Duration) (decimal.Decimal, decimal.Decimal, bool) {
	return dec("100"), dec("101"), true
}

func (c wideCache) SpreadPercent(string) (decimal.Decimal, bool) { return c.spread, true }

func TestOffsetUsesCacheSpread(t *testing.T) {
	cfg := testConfig(enum.OrderModeLimit)
	h := newHarness(t, cfg, nil, sim.Config{}, risk.Config{})
	tr, err := New(cfg, Deps{Client: h.ex, Cache: wideCache{spread: dec("0.003")}, Now: h.clock.Now, Sleep: h.clock.Sleep})
	require.NoError(t, err)

	bk, err := tr.touch(t.Context(), "BTC")
	require.NoError(t, err)
	assert.True(t, bk.Cached)
	off := tr.offset("BTC", bk)
	assert.True(t, off.Equal(dec("0.00001")), off.String())

	bk.Cached = false
	assert.True(t, tr.offset("BTC", bk).Equal(cfg.LimitOffset))
}

// driftedQuote has a book far above its mark.
type driftedQuote struct{}

func (driftedQuote) Quote(context.Context, string) (exchange.Quote, error) {
	return exchange.Quote{Bid: dec("25000"), Ask: dec("25010"), Mark: dec("20000")}, nil
}

func TestLimitPriceOutsideCapIsRejected(t *testing.T) {
	cfg := testConfig(enum.OrderModeLimit)
	h := newHarness(t, cfg, []string{"a"}, sim.Config{}, risk.Config{})
	tr, err := New(cfg, Deps{Client: h.ex, Quotes: driftedQuote{}, Now: h.clock.Now, Sleep: h.clock.Sleep})
	require.NoError(t, err)

	bk, err := tr.touch(t.Context(), "BTC")
	require.NoError(t, err)
	_, err = tr.limitPrice("BTC", enum.OrderSideBuy, bk)
	assert.ErrorIs(t, err, exception.ErrOrderPriceOutsideCap)
	_, err = tr.limitPrice("BTC", enum.OrderSideSell, bk)
	assert.NoError(t, err)

	filled, err := tr.tryLimitOpen(t.Context(), batchOf([]string{"a"}), leg{Account: "a", Side: enum.PositionSideLong, USD: dec("500")})
	assert.False(t, filled)
	assert.ErrorIs(t, err, exception.ErrOrderPriceOutsideCap)
	assert.Zero(t, h.ex.Stats().LimitOrders)
}

func TestOpenDeniedAboveMarketCap(t *testing.T) {
	cfg := testConfig(enum.OrderModeMarket)
	h := newHarness(t, cfg, []string{"a"}, sim.Config{}, risk.Config{})
	tr, err := New(cfg, Deps{
		Client: h.ex,
		Quotes: h.ex,
		Rules:  rules.NewBook(rules.Rules{Market: "BTC", MinChangeSize: dec("0.00001"), MaxMarketOrderUSD: dec("400"), MaxLimitOrderUSD: dec("5000")}),
		Now:    h.clock.Now,
		Sleep:  h.clock.Sleep,
	})
	require.NoError(t, err)

	res := tr.openLeg(t.Context(), batchOf([]string{"a"}), leg{Account: "a", Side: enum.PositionSideLong, USD: dec("500")})
	assert.False(t, res.Opened)
	assert.ErrorIs(t, res.Err, exception.ErrOrderRiskDenied)
	assert.Zero(t, h.ex.Stats().MarketOrders)

	res = tr.openLeg(t.Context(), batchOf([]string{"a"}), leg{Account: "a", Side: enum.PositionSideLong, USD: dec("300")})
	assert.True(t, res.Opened)
}

type markOnly struct{ mark decimal.Decimal }

func (m markOnly) Quote(context.Context, string) (exchange.Quote, error) {
	return exchange.Quote{Mark: m.mark}, nil
}

func TestTouchPrefersCacheThenQuote(t *testing.T) {
	h := newHarness(t, testConfig(enum.OrderModeLimit), nil, sim.Config{}, risk.Config{})
	cache := pricecache.NewWithClock(2*time.Second, h.clock.Now)
	require.True(t, cache.Set("BTC", dec("10"), dec("11")))

	tr, err := New(testConfig(enum.OrderModeLimit), Deps{Client: h.ex, Quotes: markOnly{dec("100")}, Cache: cache, Now: h.clock.Now, Sleep: h.clock.Sleep})
	require.NoError(t, err)

	bk, err := tr.touch(t.Context(), "BTC")
	require.NoError(t, err)
	assert.True(t, bk.Cached)
	assert.True(t, bk.Bid.Equal(dec("10")) && bk.Ask.Equal(dec("11")))

	_ = h.clock.Sleep(t.Context(), 5*time.Second)
	bk, err = tr.touch(t.Context(), "BTC")
	require.NoError(t, err)
	assert.False(t, bk.Cached)
	assert.True(t, bk.Bid.Equal(dec("99.95")), bk.Bid.String())
	assert.True(t, bk.Ask.Equal(dec("100.05")), bk.Ask.String())
	assert.True(t, bk.Mark.Equal(dec("100")))

	tr, err = New(testConfig(enum.OrderModeLimit), Deps{Client: h.ex, Quotes: markOnly{}, Now: h.clock.Now, Sleep: h.clock.Sleep})
	require.NoError(t, err)
	_, err = tr.touch(t.Context(), "BTC")
	assert.ErrorIs(t, err, exception.ErrOrderNoQuote)
}

func TestApplyLeverageDrawsFromRange(t *testing.T) {
	cfg := testConfig(enum.OrderModeMarket)
	cfg.Leverage["BTC"] = model.Leverage{Min: 40, Max: 50, Step: 5}
	accounts := []string{"a", "b", "c", "d"}
	h := newHarness(t, cfg, accounts, sim.Config{}, risk.Config{})

	applied := h.tr.applyLeverage(t.Context(), batchOf(accounts[:2], accounts[2:]...))
	require.Len(t, applied, 4)
	for _, a := range accounts {
		assert.Contains(t, []int{40, 45, 50}, applied[a])
		assert.Equal(t, applied[a], h.ex.Leverage(a, "BTC"))
	}
}

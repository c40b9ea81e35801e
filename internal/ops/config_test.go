package ops

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"hedgebot/internal/chaos"
	"hedgebot/internal/model"
	"hedgebot/internal/model/enum"
	"hedgebot/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	l := Default()
	assert.Equal(t, enum.OrderModeMarket, l.Trader.Mode)
	assert.Equal(t, []string{"BTC", "ETH"}, l.Generator.Markets)
	assert.Equal(t, model.IntRange{Min: 3, Max: 3}, l.Generator.BatchSize)
	assert.Equal(t, 5*time.Second, l.Generator.Interval)
	assert.Equal(t, 10, l.QueueSize)
	assert.Equal(t, 5, l.Pool.MaxConsecutiveErrors)
	assert.Equal(t, 1, l.Orchestrator.Workers)
	assert.Equal(t, model.DurationRange{Min: 60 * time.Second, Max: 150 * time.Second}, l.Orchestrator.Cooldown)
	assert.Equal(t, 300*time.Second, l.Orchestrator.StatsInterval)
	assert.True(t, l.Orchestrator.Balanced)
	assert.True(t, l.Trader.MarketFallback)
	assert.False(t, l.Trader.OpenMarketFallback)
	assert.False(t, l.Risk.StopLossEnabled)
	assert.True(t, l.Risk.StopLossPercent.Equal(decimal.NewFromInt(-70)))
	assert.False(t, l.Feed.Enabled)
	assert.False(t, l.History.Enabled)
	assert.Nil(t, l.Paper.Chaos)
	assert.Equal(t, model.FixedLeverage(15), l.Trader.Leverage["SOL"])
}

func TestDecodeOverrides(t *testing.T) {
	raw := `{
		"trading": {
			"mode": "limit",
			"openMarketFallback": true,
			"markets": ["btc-usd", "SOL"],
			"batchSize": [4, 6],
			"longAccounts": [1, 2],
			"batchNotional": ["500", 750.5],
			"leverage": {"BTC": 20, "SOL-USD": [5, 15, 5]},
			"defaultLeverage": [2, 4],
			"limitOffset": "0.0002",
			"workers": 3,
			"queueSize": 20,
			"closeOnExit": true
		},
		"timing": {"hold": [1, 2.5], "cooldown": [10, 20], "generationInterval": 0.5, "marketSettle": 0.25},
		"pool": {"balanced": false, "maxConsecutiveErrors": 2, "snapshot": "/tmp/pool.json"},
		"risk": {"stopLossEnabled": true, "nativeStopLoss": true, "stopLossPercent": -50},
		"feed": {"enabled": true, "url": "wss://feed.example"},
		"history": {"dsn": "postgres://u@db/h"},
		"paper": {"prices": {"btc": 30000}, "chaos": {"seed": 3, "failRate": 0.1, "perOp": {"limitOrder": 0.5}, "maxDelay": 0.01}},
		"rules": [{"market": "DOGE", "minTradeSize": "10", "minChangeSize": "1", "minPriceChange": "0.00001"}],
		"stats": {"interval": 30}
	}`
	l, err := Decode([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, enum.OrderModeLimit, l.Trader.Mode)
	assert.True(t, l.Trader.OpenMarketFallback)
	assert.Equal(t, []string{"BTC", "SOL"}, l.Generator.Markets)
	assert.Equal(t, model.IntRange{Min: 4, Max: 6}, l.Generator.BatchSize)
	assert.True(t, l.Trader.BatchNotional.Max.Equal(decimal.RequireFromString("750.5")))
	assert.Equal(t, model.FixedLeverage(20), l.Trader.Leverage["BTC"])
	assert.Equal(t, model.Leverage{Min: 5, Max: 15, Step: 5}, l.Trader.Leverage["SOL"])
	assert.Equal(t, model.Leverage{Min: 2, Max: 4, Step: 1}, l.Trader.DefaultLeverage)
	assert.Equal(t, model.FixedLeverage(50), l.Trader.Leverage["ETH"])
	assert.Equal(t, model.DurationRange{Min: time.Second, Max: 2500 * time.Millisecond}, l.Trader.Hold)
	assert.Equal(t, 250*time.Millisecond, l.Trader.MarketSettle)
	assert.Equal(t, 500*time.Millisecond, l.Generator.Interval)
	assert.Equal(t, 3, l.Orchestrator.Workers)
	assert.False(t, l.Orchestrator.Balanced)
	assert.False(t, l.Generator.Balanced)
	assert.Equal(t, 30*time.Second, l.Orchestrator.StatsInterval)
	assert.Equal(t, 20, l.QueueSize)
	assert.Equal(t, 2, l.Pool.MaxConsecutiveErrors)
	assert.Equal(t, "/tmp/pool.json", l.SnapshotPath)
	assert.True(t, l.CloseOnExit)
	assert.True(t, l.Risk.NativeStopLoss)
	assert.True(t, l.Feed.Enabled)
	assert.Equal(t, "wss://feed.example", l.Feed.Config.BaseURL)
	assert.Equal(t, []string{"BTC", "SOL"}, l.Feed.Config.Markets)
	assert.True(t, l.History.Enabled)
	assert.Equal(t, "postgres://u@db/h", l.History.Option.ConnString)
	assert.True(t, l.Paper.Prices["BTC"].Equal(decimal.NewFromInt(30000)))
	assert.True(t, l.Paper.Prices["SOL"].IsPositive())
	require.NotNil(t, l.Paper.Chaos)
	assert.Equal(t, 0.5, l.Paper.Chaos.PerOp[chaos.OpLimitOrder])
	assert.Equal(t, 10*time.Millisecond, l.Paper.Chaos.MaxDelay)
	require.Len(t, l.Rules, 1)
	assert.Equal(t, "DOGE", l.Rules[0].Market)
}

func TestDecodeRejects(t *testing.T) {
	testCases := []struct {
		desc string
		raw  string
	}{
		{desc: "bad json", raw: `{`},
		{desc: "mode", raw: `{"trading": {"mode": "twap"}}`},
		{desc: "range arity", raw: `{"trading": {"batchSize": [3]}}`},
		{desc: "batch too small", raw: `{"trading": {"batchSize": [1, 3]}}`},
		{desc: "longs fill batch", raw: `{"trading": {"batchSize": [2, 2], "longAccounts": [2, 2]}}`},
		{desc: "leverage arity", raw: `{"trading": {"leverage": {"BTC": [1, 2, 3, 4]}}}`},
		{desc: "leverage type", raw: `{"trading": {"leverage": {"BTC": "high"}}}`},
		{desc: "zero leverage", raw: `{"trading": {"leverage": {"BTC": 0}}}`},
		{desc: "workers", raw: `{"trading": {"workers": 0}}`},
		{desc: "queue size", raw: `{"trading": {"queueSize": 0}}`},
		{desc: "positive stop", raw: `{"risk": {"stopLossEnabled": true, "stopLossPercent": 10}}`},
		{desc: "cooldown order", raw: `{"timing": {"cooldown": [20, 10]}}`},
		{desc: "chaos rate", raw: `{"paper": {"chaos": {"failRate": 2}}}`},
		{desc: "paper price", raw: `{"paper": {"prices": {"BTC": 0}}}`},
		{desc: "empty market", raw: `{"trading": {"markets": [" "]}}`},
		{desc: "rules market", raw: `{"rules": [{"minTradeSize": "1"}]}`},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := Decode([]byte(tc.raw))
			assert.Error(t, err)
		})
	}
}

func TestDecodeClassifiesShapeErrors(t *testing.T) {
	_, err := Decode([]byte(`{"timing": {"hold": [1, 2, 3]}}`))
	assert.ErrorIs(t, err, exception.ErrConfigInvalidRange)
	var lev LeverageValue
	assert.ErrorIs(t, lev.UnmarshalJSON([]byte(`[1]`)), exception.ErrConfigInvalidLeverage)
	assert.ErrorIs(t, lev.UnmarshalJSON([]byte(`"ten"`)), exception.ErrConfigInvalidLeverage)
}

func TestWatchReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"stats": {"interval": 10}}`), 0o644))
	first, err := Load(path)
	require.NoError(t, err)
	rt := NewRuntime(first)

	var reloads atomic.Int64
	go Watch(t.Context(), path, 5*time.Millisecond, func(l Loaded) {
		rt.Update(l)
		reloads.Add(1)
	})

	// invalid content is skipped
	later := time.Now().Add(time.Second)
	require.NoError(t, os.WriteFile(path, []byte(`{"stats": {"interval": -1}}`), 0o644))
	require.NoError(t, os.Chtimes(path, later, later))
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, reloads.Load())
	assert.Equal(t, 10*time.Second, rt.Load().Orchestrator.StatsInterval)

	later = later.Add(time.Second)
	require.NoError(t, os.WriteFile(path, []byte(`{"stats": {"interval": 20}}`), 0o644))
	require.NoError(t, os.Chtimes(path, later, later))
	require.Eventually(t, func() bool { return reloads.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 20*time.Second, rt.Load().Orchestrator.StatsInterval)
}

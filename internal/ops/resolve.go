package ops

import (
	"fmt"
	"strings"
	"time"

	"hedgebot/internal/chaos"
	"hedgebot/internal/feed"
	"hedgebot/internal/generator"
	"hedgebot/internal/history"
	"hedgebot/internal/model"
	"hedgebot/internal/model/enum"
	"hedgebot/internal/orchestrator"
	"hedgebot/internal/pool"
	"hedgebot/internal/risk"
	"hedgebot/internal/rules"
	"hedgebot/internal/trader"
	"hedgebot/pkg/conn"

	"github.com/shopspring/decimal"
)

const (
	defaultQueueSize            = 10
	defaultMaxConsecutiveErrors = 5
	defaultFeedURL              = "wss://api.starknet.extended.exchange"
)

var defaultMarkets = []string{"BTC", "ETH"}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Trader       trader.Config
	Generator    generator.Config
	Orchestrator orchestrator.Config
	Pool         pool.Config
	Risk         risk.Config
	Rules        []rules.Rules
	QueueSize    int
	SnapshotPath string
	CloseOnExit  bool
	Feed         FeedSettings
	History      HistorySettings
	Paper        PaperSettings
}

type FeedSettings struct {
	Enabled bool
	Config  feed.Config
}

type HistorySettings struct {
	Enabled bool
	Option  conn.Option
	Config  history.Config
}

type PaperSettings struct {
	Prices         map[string]decimal.Decimal
	SpreadPercent  decimal.Decimal
	LimitFillRate  float64
	WalkInterval   time.Duration
	WalkVolatility decimal.Decimal
	Chaos          *chaos.Config
}

// Default returns the configuration used when no file is given.
func Default() Loaded {
	loaded, err := Resolve(FileConfig{})
	if err != nil {
		panic(fmt.Sprintf("default config is invalid: %v", err))
	}
	return loaded
}

// Resolve applies cfg over the defaults and validates the result.
func Resolve(cfg FileConfig) (Loaded, error) {
	tr, err := resolveTrader(cfg.Trading, cfg.Timing)
	if err != nil {
		return Loaded{}, err
	}

	markets := defaultMarkets
	if len(cfg.Trading.Markets) != 0 {
		markets = make([]string, 0, len(cfg.Trading.Markets))
		for _, m := range cfg.Trading.Markets {
			if strings.TrimSpace(m) == "" {
				return Loaded{}, fmt.Errorf("markets must not contain empty names")
			}
			markets = append(markets, rules.Base(m))
		}
	}

	gen := generator.Config{BatchSize: model.IntRange{Min: 3, Max: 3}, Markets: markets, Interval: 5 * time.Second, Balanced: true}
	if err := intRange(&gen.BatchSize, "batch size", cfg.Trading.BatchSize); err != nil {
		return Loaded{}, err
	}
	duration(&gen.Interval, cfg.Timing.GenerationInterval)
	set(&gen.Balanced, cfg.Pool.Balanced)
	if err := gen.Validate(); err != nil {
		return Loaded{}, err
	}
	if tr.LongAccounts.Min >= gen.BatchSize.Min {
		return Loaded{}, fmt.Errorf("long accounts min must be < batch size min")
	}

	orch := orchestrator.DefaultConfig()
	orch.Balanced = gen.Balanced
	set(&orch.Workers, cfg.Trading.Workers)
	if err := durationRange(&orch.Cooldown, "cooldown", cfg.Timing.Cooldown); err != nil {
		return Loaded{}, err
	}
	duration(&orch.DrainTimeout, cfg.Timing.DrainTimeout)
	duration(&orch.StatsInterval, cfg.Stats.Interval)
	if err := orch.Validate(); err != nil {
		return Loaded{}, err
	}

	pl := pool.Config{Cooldown: orch.Cooldown.Min, MaxConsecutiveErrors: defaultMaxConsecutiveErrors}
	set(&pl.MaxConsecutiveErrors, cfg.Pool.MaxConsecutiveErrors)
	if pl.MaxConsecutiveErrors < 0 {
		return Loaded{}, fmt.Errorf("max consecutive errors must be >= 0")
	}

	rk := risk.Config{StopLossPercent: decimal.NewFromInt(-70)}
	set(&rk.StopLossEnabled, cfg.Risk.StopLossEnabled)
	set(&rk.NativeStopLoss, cfg.Risk.NativeStopLoss)
	set(&rk.StopLossPercent, cfg.Risk.StopLossPercent)
	set(&rk.MaxOrderUSD, cfg.Risk.MaxOrderUSD)
	set(&rk.KillSwitch, cfg.Risk.KillSwitch)
	if rk.StopLossEnabled && !rk.StopLossPercent.IsNegative() {
		return Loaded{}, fmt.Errorf("stop loss percent must be < 0")
	}
	if rk.MaxOrderUSD.IsNegative() {
		return Loaded{}, fmt.Errorf("max order usd must be >= 0")
	}

	for _, r := range cfg.Rules {
		if r.Market == "" {
			return Loaded{}, fmt.Errorf("rules market is empty")
		}
		if r.MinTradeSize.IsNegative() || r.MinChangeSize.IsNegative() || r.MinPriceChange.IsNegative() {
			return Loaded{}, fmt.Errorf("rules of %s must be >= 0", r.Market)
		}
	}

	queueSize := defaultQueueSize
	set(&queueSize, cfg.Trading.QueueSize)
	if queueSize <= 0 {
		return Loaded{}, fmt.Errorf("queue size must be > 0")
	}

	fd, err := resolveFeed(cfg.Feed, markets)
	if err != nil {
		return Loaded{}, err
	}
	hist, err := resolveHistory(cfg.History)
	if err != nil {
		return Loaded{}, err
	}
	paper, err := resolvePaper(cfg.Paper, markets)
	if err != nil {
		return Loaded{}, err
	}

	loaded := Loaded{
		Trader:       tr,
		Generator:    gen,
		Orchestrator: orch,
		Pool:         pl,
		Risk:         rk,
		Rules:        cfg.Rules,
		QueueSize:    queueSize,
		Feed:         fd,
		History:      hist,
		Paper:        paper,
	}
	set(&loaded.SnapshotPath, cfg.Pool.Snapshot)
	set(&loaded.CloseOnExit, cfg.Trading.CloseOnExit)
	return loaded, nil
}

func resolveFeed(cfg FeedConfig, markets []string) (FeedSettings, error) {
	fc := feed.DefaultConfig()
	fc.BaseURL = defaultFeedURL
	fc.Markets = markets
	fc.Proxies = cfg.Proxies
	set(&fc.BaseURL, cfg.URL)
	duration(&fc.ReconnectDelay, cfg.ReconnectDelay)
	duration(&fc.PingInterval, cfg.PingInterval)
	out := FeedSettings{Enabled: false, Config: fc}
	set(&out.Enabled, cfg.Enabled)
	if out.Enabled {
		if err := fc.Validate(); err != nil {
			return FeedSettings{}, err
		}
	}
	return out, nil
}

func resolveHistory(cfg HistoryConfig) (HistorySettings, error) {
	out := HistorySettings{Config: history.DefaultConfig()}
	if cfg.DSN != nil && *cfg.DSN != "" {
		out.Enabled = true
		out.Option.ConnString = *cfg.DSN
	}
	set(&out.Option.MaxOpenConns, cfg.MaxOpenConns)
	duration(&out.Config.FlushInterval, cfg.FlushInterval)
	if out.Config.FlushInterval <= 0 {
		return HistorySettings{}, fmt.Errorf("history flush interval must be > 0")
	}
	return out, nil
}

func resolvePaper(cfg PaperConfig, markets []string) (PaperSettings, error) {
	out := PaperSettings{
		Prices: map[string]decimal.Decimal{
			"BTC": decimal.NewFromInt(60000),
			"ETH": decimal.NewFromInt(3000),
			"SOL": decimal.NewFromInt(150),
		},
		SpreadPercent:  decimal.RequireFromString("0.02"),
		LimitFillRate:  0.7,
		WalkInterval:   time.Second,
		WalkVolatility: decimal.RequireFromString("0.05"),
	}
	for m, p := range cfg.Prices {
		if !p.IsPositive() {
			return PaperSettings{}, fmt.Errorf("paper price of %s must be > 0", m)
		}
	}
	if len(cfg.Prices) != 0 {
		out.Prices = make(map[string]decimal.Decimal, len(cfg.Prices))
		for m, p := range cfg.Prices {
			out.Prices[rules.Base(m)] = p
		}
	}
	for _, m := range markets {
		if _, ok := out.Prices[m]; !ok {
			out.Prices[m] = decimal.NewFromInt(100)
		}
	}
	set(&out.SpreadPercent, cfg.SpreadPercent)
	set(&out.LimitFillRate, cfg.LimitFillRate)
	duration(&out.WalkInterval, cfg.WalkInterval)
	set(&out.WalkVolatility, cfg.WalkVolatility)
	if out.LimitFillRate < 0 || out.LimitFillRate > 1 {
		return PaperSettings{}, fmt.Errorf("paper limit fill rate must be within [0, 1]")
	}
	if out.WalkInterval <= 0 || out.WalkVolatility.IsNegative() {
		return PaperSettings{}, fmt.Errorf("paper walk interval must be > 0 and volatility >= 0")
	}

	if cfg.Chaos != nil {
		cc := chaos.Config{
			Seed:     cfg.Chaos.Seed,
			FailRate: cfg.Chaos.FailRate,
			MaxDelay: seconds(cfg.Chaos.MaxDelay),
		}
		if len(cfg.Chaos.PerOp) != 0 {
			cc.PerOp = make(map[chaos.Op]float64, len(cfg.Chaos.PerOp))
			for op, rate := range cfg.Chaos.PerOp {
				cc.PerOp[chaos.Op(op)] = rate
			}
		}
		if err := cc.Validate(); err != nil {
			return PaperSettings{}, err
		}
		out.Chaos = &cc
	}
	return out, nil
}

func resolveTrader(tc TradingConfig, tm TimingConfig) (trader.Config, error) {
	c := trader.DefaultConfig()
	if tc.Mode != nil {
		mode, ok := enum.ParseOrderMode(*tc.Mode)
		if !ok {
			return trader.Config{}, fmt.Errorf("mode must be LIMIT or MARKET, got %q", *tc.Mode)
		}
		c.Mode = mode
	}
	if err := intRange(&c.LongAccounts, "long accounts", tc.LongAccounts); err != nil {
		return trader.Config{}, err
	}
	if err := decimalRange(&c.BatchNotional, "batch notional", tc.BatchNotional); err != nil {
		return trader.Config{}, err
	}
	if err := decimalRange(&c.SizeVariation, "size variation", tc.SizeVariation); err != nil {
		return trader.Config{}, err
	}
	for m, l := range tc.Leverage {
		c.Leverage[rules.Base(m)] = l.Leverage
	}
	if tc.DefaultLeverage != nil {
		c.DefaultLeverage = tc.DefaultLeverage.Leverage
	}
	set(&c.LimitOffset, tc.LimitOffset)
	set(&c.AdaptiveOffset, tc.AdaptiveOffset)
	set(&c.MarketFallback, tc.MarketFallback)
	set(&c.OpenMarketFallback, tc.OpenFallback)
	set(&c.MaxOpenRetries, tc.MaxOpenRetries)
	set(&c.MaxCloseRetries, tc.MaxCloseRetries)
	set(&c.MaxBatchRetries, tc.MaxBatchRetries)
	set(&c.CloseAllRounds, tc.CloseAllRounds)

	duration(&c.ExecutionTimeout, tm.ExecutionTimeout)
	duration(&c.CloseTimeout, tm.CloseTimeout)
	duration(&c.CheckInterval, tm.CheckInterval)
	duration(&c.CancelSettle, tm.CancelSettle)
	duration(&c.MarketSettle, tm.MarketSettle)
	duration(&c.MonitorInterval, tm.MonitorInterval)
	duration(&c.OnError, tm.OnError)
	duration(&c.StopLossDelay, tm.StopLossDelay)
	duration(&c.CacheMaxAge, tm.CacheMaxAge)
	ranges := []struct {
		dst  *model.DurationRange
		name string
		v    []float64
	}{
		{&c.Hold, "hold", tm.Hold},
		{&c.BetweenOrders, "between orders", tm.BetweenOrders},
		{&c.BetweenAccounts, "between accounts", tm.BetweenAccounts},
		{&c.RetryDelay, "retry delay", tm.RetryDelay},
	}
	for _, r := range ranges {
		if err := durationRange(r.dst, r.name, r.v); err != nil {
			return trader.Config{}, err
		}
	}
	if err := c.Validate(); err != nil {
		return trader.Config{}, err
	}
	return c, nil
}

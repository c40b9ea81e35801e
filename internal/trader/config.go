package trader

import (
	"fmt"
	"time"

	"hedgebot/internal/model"
	"hedgebot/internal/model/enum"
	"hedgebot/internal/rules"

	"github.com/shopspring/decimal"
)

// Config drives one batch from leverage to close.
type Config struct {
	Mode enum.OrderMode

	LongAccounts  model.IntRange
	BatchNotional model.DecimalRange
	// SizeVariation.Max bounds the random per-account weight deviation.
	SizeVariation model.DecimalRange

	Leverage        map[string]model.Leverage
	DefaultLeverage model.Leverage

	LimitOffset    decimal.Decimal
	AdaptiveOffset bool

	ExecutionTimeout time.Duration
	CloseTimeout     time.Duration
	CheckInterval    time.Duration
	// CancelSettle is waited after cancelling an unfilled order before re-checking the position.
	CancelSettle time.Duration
	// MarketSettle is waited after a market order before verifying it.
	MarketSettle time.Duration

	MaxOpenRetries  int
	MaxCloseRetries int
	MaxBatchRetries int
	// MarketFallback closes with one market order after the limit close retries run out.
	MarketFallback bool
	// OpenMarketFallback opens with one market order after the limit open retries run out.
	OpenMarketFallback bool

	Hold            model.DurationRange
	MonitorInterval time.Duration

	BetweenOrders   model.DurationRange
	BetweenAccounts model.DurationRange
	RetryDelay      model.DurationRange
	OnError         time.Duration
	StopLossDelay   time.Duration

	CacheMaxAge    time.Duration
	CloseAllRounds int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Mode:          enum.OrderModeMarket,
		LongAccounts:  model.IntRange{Min: 1, Max: 1},
		BatchNotional: model.DecimalRange{Min: decimal.NewFromInt(1000), Max: decimal.NewFromInt(1200)},
		SizeVariation: model.DecimalRange{Min: decimal.RequireFromString("0.1"), Max: decimal.RequireFromString("0.4")},
		Leverage: map[string]model.Leverage{
			"BTC": model.FixedLeverage(50),
			"ETH": model.FixedLeverage(50),
			"SOL": model.FixedLeverage(15),
		},
		DefaultLeverage:  model.FixedLeverage(10),
		LimitOffset:      decimal.RequireFromString("0.0001"),
		AdaptiveOffset:   true,
		ExecutionTimeout: 100 * time.Second,
		CloseTimeout:     100 * time.Second,
		CheckInterval:    3 * time.Second,
		CancelSettle:     2 * time.Second,
		MarketSettle:     500 * time.Millisecond,
		MaxOpenRetries:   5,
		MaxCloseRetries:  5,
		MaxBatchRetries:  300,
		MarketFallback:   true,
		Hold:             model.DurationRange{Min: 60 * time.Second, Max: 200 * time.Second},
		MonitorInterval:  200 * time.Second,
		BetweenOrders:    model.DurationRange{Min: 3 * time.Second, Max: 5 * time.Second},
		BetweenAccounts:  model.DurationRange{Min: 3 * time.Second, Max: 5 * time.Second},
		RetryDelay:       model.DurationRange{Min: 2 * time.Second, Max: 5 * time.Second},
		OnError:          60 * time.Second,
		StopLossDelay:    500 * time.Millisecond,
		CacheMaxAge:      2 * time.Second,
		CloseAllRounds:   5,
	}
}

// Validate checks ranges and retry bounds.
func (c Config) Validate() error {
	if !c.Mode.IsAvailable() {
		return fmt.Errorf("mode must be LIMIT or MARKET")
	}
	if c.LongAccounts.Min < 1 || !c.LongAccounts.Valid() {
		return fmt.Errorf("long accounts must be >= 1 and min <= max")
	}
	if !c.BatchNotional.Min.IsPositive() || !c.BatchNotional.Valid() {
		return fmt.Errorf("batch notional must be > 0 and min <= max")
	}
	if c.SizeVariation.Min.IsNegative() || !c.SizeVariation.Valid() {
		return fmt.Errorf("size variation must be >= 0 and min <= max")
	}
	if !c.DefaultLeverage.Valid() {
		return fmt.Errorf("default leverage must be > 0")
	}
	for m, l := range c.Leverage {
		if !l.Valid() {
			return fmt.Errorf("leverage of %s must be > 0 and min <= max", m)
		}
	}
	if c.LimitOffset.IsNegative() {
		return fmt.Errorf("limit offset must be >= 0")
	}
	if c.ExecutionTimeout <= 0 || c.CloseTimeout <= 0 || c.CheckInterval <= 0 {
		return fmt.Errorf("execution timeout, close timeout and check interval must be > 0")
	}
	if c.MaxOpenRetries < 1 || c.MaxCloseRetries < 1 || c.MaxBatchRetries < 1 {
		return fmt.Errorf("retry limits must be >= 1")
	}
	if !c.Hold.Valid() || c.MonitorInterval <= 0 {
		return fmt.Errorf("hold range must be valid and monitor interval > 0")
	}
	for name, r := range map[string]model.DurationRange{
		"between orders":   c.BetweenOrders,
		"between accounts": c.BetweenAccounts,
		"retry delay":      c.RetryDelay,
	} {
		if !r.Valid() {
			return fmt.Errorf("%s must be >= 0 and min <= max", name)
		}
	}
	if c.CloseAllRounds < 1 {
		return fmt.Errorf("close all rounds must be >= 1")
	}
	return nil
}

// LeverageFor returns the configured leverage of a market.
func (c Config) LeverageFor(market string) model.Leverage {
	if l, ok := c.Leverage[rules.Base(market)]; ok {
		return l
	}
	return c.DefaultLeverage
}

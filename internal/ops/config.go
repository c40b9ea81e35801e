package ops

import (
	"os"

	"hedgebot/internal/rules"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

// FileConfig mirrors the JSON config layout. Nil or empty fields keep their defaults.
// Durations are seconds; ranges are [min, max] arrays.
type FileConfig struct {
	Trading TradingConfig `json:"trading"`
	Timing  TimingConfig  `json:"timing"`
	Pool    PoolConfig    `json:"pool"`
	Risk    RiskConfig    `json:"risk"`
	Feed    FeedConfig    `json:"feed"`
	History HistoryConfig `json:"history"`
	Paper   PaperConfig   `json:"paper"`
	Rules   []rules.Rules `json:"rules"`
	Stats   StatsConfig   `json:"stats"`
}

// TradingConfig describes what a batch trades and how.
type TradingConfig struct {
	Mode            *string                  `json:"mode"`
	Markets         []string                 `json:"markets"`
	BatchSize       []int                    `json:"batchSize"`
	LongAccounts    []int                    `json:"longAccounts"`
	BatchNotional   []decimal.Decimal        `json:"batchNotional"`
	SizeVariation   []decimal.Decimal        `json:"sizeVariation"`
	Leverage        map[string]LeverageValue `json:"leverage"`
	DefaultLeverage *LeverageValue           `json:"defaultLeverage"`
	LimitOffset     *decimal.Decimal         `json:"limitOffset"`
	AdaptiveOffset  *bool                    `json:"adaptiveOffset"`
	MarketFallback  *bool                    `json:"marketFallback"`
	OpenFallback    *bool                    `json:"openMarketFallback"`
	MaxOpenRetries  *int                     `json:"maxOpenRetries"`
	MaxCloseRetries *int                     `json:"maxCloseRetries"`
	MaxBatchRetries *int                     `json:"maxBatchRetries"`
	Workers         *int                     `json:"workers"`
	QueueSize       *int                     `json:"queueSize"`
	CloseAllRounds  *int                     `json:"closeAllRounds"`
	CloseOnExit     *bool                    `json:"closeOnExit"`
}

// TimingConfig holds delays and timeouts in seconds.
type TimingConfig struct {
	ExecutionTimeout   *float64  `json:"executionTimeout"`
	CloseTimeout       *float64  `json:"closeTimeout"`
	CheckInterval      *float64  `json:"checkInterval"`
	CancelSettle       *float64  `json:"cancelSettle"`
	MarketSettle       *float64  `json:"marketSettle"`
	Hold               []float64 `json:"hold"`
	MonitorInterval    *float64  `json:"monitorInterval"`
	BetweenOrders      []float64 `json:"betweenOrders"`
	BetweenAccounts    []float64 `json:"betweenAccounts"`
	RetryDelay         []float64 `json:"retryDelay"`
	Cooldown           []float64 `json:"cooldown"`
	GenerationInterval *float64  `json:"generationInterval"`
	OnError            *float64  `json:"onError"`
	StopLossDelay      *float64  `json:"stopLossDelay"`
	CacheMaxAge        *float64  `json:"cacheMaxAge"`
	DrainTimeout       *float64  `json:"drainTimeout"`
}

type PoolConfig struct {
	Balanced             *bool   `json:"balanced"`
	MaxConsecutiveErrors *int    `json:"maxConsecutiveErrors"`
	Snapshot             *string `json:"snapshot"`
}

type RiskConfig struct {
	StopLossEnabled *bool            `json:"stopLossEnabled"`
	NativeStopLoss  *bool            `json:"nativeStopLoss"`
	StopLossPercent *decimal.Decimal `json:"stopLossPercent"`
	MaxOrderUSD     *decimal.Decimal `json:"maxOrderUsd"`
	KillSwitch      *bool            `json:"killSwitch"`
}

type FeedConfig struct {
	Enabled        *bool    `json:"enabled"`
	URL            *string  `json:"url"`
	Proxies        []string `json:"proxies"`
	ReconnectDelay *float64 `json:"reconnectDelay"`
	PingInterval   *float64 `json:"pingInterval"`
}

type HistoryConfig struct {
	DSN           *string  `json:"dsn"`
	MaxOpenConns  *int     `json:"maxOpenConns"`
	FlushInterval *float64 `json:"flushInterval"`
}

// PaperConfig drives the in-memory exchange used by -paper.
type PaperConfig struct {
	Prices         map[string]decimal.Decimal `json:"prices"`
	SpreadPercent  *decimal.Decimal           `json:"spreadPercent"`
	LimitFillRate  *float64                   `json:"limitFillRate"`
	WalkInterval   *float64                   `json:"walkInterval"`
	WalkVolatility *decimal.Decimal           `json:"walkVolatility"`
	Chaos          *ChaosConfig               `json:"chaos"`
}

type ChaosConfig struct {
	Seed     int64              `json:"seed"`
	FailRate float64            `json:"failRate"`
	PerOp    map[string]float64 `json:"perOp"`
	MaxDelay float64            `json:"maxDelay"`
}

// StatsConfig is hot-swappable.
type StatsConfig struct {
	Interval *float64 `json:"interval"`
}

// Load reads a JSON config file and resolves it.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, errors.Wrapf(err, "read config %s", path)
	}
	return Decode(data)
}

// Decode resolves raw JSON config.
func Decode(data []byte) (Loaded, error) {
	var cfg FileConfig
	if err := sonic.ConfigStd.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, errors.Wrap(err, "decode config")
	}
	return Resolve(cfg)
}

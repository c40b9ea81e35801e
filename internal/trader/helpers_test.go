package trader

import (
	"context"
	"sync"
	"testing"
	"time"

	"hedgebot/internal/exchange"
	"hedgebot/internal/exchange/sim"
	"hedgebot/internal/model"
	"hedgebot/internal/model/enum"
	"hedgebot/internal/obs"
	"hedgebot/internal/risk"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeClock advances on every sleep so timeouts elapse without waiting.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []model.OrderEvent
}

func (r *recorder) RecordOrder(_ context.Context, ev model.OrderEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count(purpose model.OrderPurpose) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Purpose == purpose {
			n++
		}
	}
	return n
}

type harness struct {
	tr      *Trader
	ex      *sim.Exchange
	clock   *fakeClock
	metrics *obs.Metrics
	rec     *recorder
}

func testConfig(mode enum.OrderMode) Config {
	cfg := DefaultConfig()
	cfg.Mode = mode
	cfg.Hold = model.DurationRange{Min: 20 * time.Second, Max: 20 * time.Second}
	cfg.MonitorInterval = 10 * time.Second
	cfg.MaxBatchRetries = 3
	return cfg
}

func newHarness(t *testing.T, cfg Config, accounts []string, simCfg sim.Config, riskCfg risk.Config) *harness {
	t.Helper()
	clock := newClock()
	if simCfg.Prices == nil {
		simCfg.Prices = map[string]decimal.Decimal{"BTC": dec("25000"), "ETH": dec("1600")}
	}
	simCfg.Seed = 7
	simCfg.Sleep = clock.Sleep
	h := &harness{
		ex:      sim.New(accounts, simCfg),
		clock:   clock,
		metrics: obs.NewMetrics(1),
		rec:     &recorder{},
	}
	h.tr = h.build(t, cfg, h.ex, riskCfg)
	return h
}

func (h *harness) build(t *testing.T, cfg Config, client exchange.Client, riskCfg risk.Config) *Trader {
	t.Helper()
	tr, err := New(cfg, Deps{
		Client:   client,
		Quotes:   h.ex,
		Risk:     risk.NewEngine(riskCfg),
		Metrics:  h.metrics,
		Recorder: h.rec,
		Seed:     11,
		Now:      h.clock.Now,
		Sleep:    h.clock.Sleep,
	})
	require.NoError(t, err)
	return tr
}

// open places a market order directly on the venue.
func (h *harness) open(t *testing.T, account, market string, side enum.OrderSide, qty string) {
	t.Helper()
	_, err := h.ex.PlaceMarketOrder(t.Context(), account, exchange.OrderRequest{Market: market, Side: side, Quantity: dec(qty)})
	require.NoError(t, err)
}

func (h *harness) flat(t *testing.T, accounts ...string) bool {
	t.Helper()
	for _, a := range accounts {
		positions, err := h.ex.Positions(t.Context(), a, "")
		require.NoError(t, err)
		if len(positions) != 0 {
			return false
		}
	}
	return true
}

func batchOf(longs []string, shorts ...string) model.Batch {
	return model.Batch{Seq: 1, TaskID: "task_test", Market: "BTC", Longs: longs, Shorts: shorts}
}

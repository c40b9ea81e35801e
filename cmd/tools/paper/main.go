package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"hedgebot/internal/chaos"
	"hedgebot/internal/exchange/sim"
	"hedgebot/internal/model"
	"hedgebot/internal/model/enum"
	"hedgebot/internal/obs"
	"hedgebot/internal/ops"
	"hedgebot/internal/pool"
	"hedgebot/internal/risk"
	"hedgebot/internal/rules"
	"hedgebot/internal/trader"

	"github.com/shopspring/decimal"
)

// virtualClock advances on every sleep so a soak of hours of trading finishes in seconds.
type virtualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *virtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *virtualClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	batches := flag.Int("batches", 50, "Number of batches to run")
	accounts := flag.Int("accounts", 10, "Number of paper accounts")
	mode := flag.String("mode", "", "Order mode override (LIMIT or MARKET)")
	seed := flag.Uint64("seed", 0, "RNG seed (0=now)")
	failRate := flag.Float64("fail-rate", 0, "Exchange call failure probability [0-1]")
	fillRate := flag.Float64("limit-fill-rate", -1, "Limit order fill probability override [0-1]")
	drift := flag.Float64("drift", 0.2, "Max price move per batch in percent")
	flag.Parse()

	if *batches <= 0 || *accounts < 2 {
		log.Fatalf("batches must be > 0 and accounts >= 2")
	}
	loaded := ops.Default()
	if *configPath != "" {
		var err error
		if loaded, err = ops.Load(*configPath); err != nil {
			log.Fatalf("config load failed: %v", err)
		}
	}
	if *mode != "" {
		m, ok := enum.ParseOrderMode(*mode)
		if !ok {
			log.Fatalf("mode must be LIMIT or MARKET")
		}
		loaded.Trader.Mode = m
	}
	if *fillRate >= 0 {
		loaded.Paper.LimitFillRate = *fillRate
	}
	if *seed == 0 {
		*seed = uint64(time.Now().UnixNano())
	}

	clock := &virtualClock{now: time.Now()}
	simCfg := sim.Config{
		Prices:        loaded.Paper.Prices,
		SpreadPercent: loaded.Paper.SpreadPercent,
		LimitFillRate: loaded.Paper.LimitFillRate,
		Seed:          int64(*seed),
		Sleep:         clock.Sleep,
	}
	chaosCfg := chaos.Config{Seed: int64(*seed), FailRate: *failRate}
	if loaded.Paper.Chaos != nil {
		chaosCfg = *loaded.Paper.Chaos
		if *failRate > 0 {
			chaosCfg.FailRate = *failRate
		}
	}
	if chaosCfg.FailRate > 0 || len(chaosCfg.PerOp) > 0 {
		engine, err := chaos.NewEngine(chaosCfg)
		if err != nil {
			log.Fatalf("chaos config invalid: %v", err)
		}
		simCfg.Chaos = engine
	}

	ids := make([]string, *accounts)
	for i := range ids {
		ids[i] = fmt.Sprintf("paper-%02d", i+1)
	}
	ex := sim.New(ids, simCfg)
	metrics := obs.NewMetrics(1)
	tr, err := trader.New(loaded.Trader, trader.Deps{
		Client:  ex,
		Quotes:  ex,
		Rules:   rules.NewBook(loaded.Rules...),
		Risk:    risk.NewEngine(loaded.Risk),
		Metrics: metrics,
		Seed:    *seed,
		Now:     clock.Now,
		Sleep:   clock.Sleep,
	})
	if err != nil {
		log.Fatalf("trader init failed: %v", err)
	}
	p, err := pool.New(ids, loaded.Pool)
	if err != nil {
		log.Fatalf("pool init failed: %v", err)
	}

	rnd := rand.New(rand.NewPCG(*seed, *seed>>7|1))
	ctx := context.Background()
	pnl := decimal.Zero
	var success, failed int
	start := clock.Now()
	for i := range *batches {
		size := loaded.Generator.BatchSize.Min + rnd.IntN(loaded.Generator.BatchSize.Max-loaded.Generator.BatchSize.Min+1)
		picked, ok := p.SelectBatch(size, 2, loaded.Generator.Balanced)
		if !ok {
			log.Printf("batch %d skipped: not enough accounts", i+1)
			continue
		}
		market := loaded.Generator.Markets[rnd.IntN(len(loaded.Generator.Markets))]
		moveMarket(ex, market, *drift, rnd)

		task := model.NewTask(model.NewTaskID(clock.Now()), market, picked, clock.Now(), nil)
		batch, err := tr.Compose(task, uint64(i+1))
		if err == nil {
			var out trader.Outcome
			out, err = tr.Execute(ctx, batch)
			pnl = pnl.Add(out.PnL)
		}
		p.ReleaseImmediately(picked)
		for _, id := range picked {
			if err != nil {
				p.ReportError(id)
			} else {
				p.ReportSuccess(id)
			}
		}
		if err != nil {
			failed++
			log.Printf("batch %d %s failed: %v", i+1, market, err)
			continue
		}
		success++
	}

	report := tr.CloseAll(ctx, ids)
	snap := metrics.Snapshot()
	stats := ex.Stats()
	log.Printf("paper soak: batches=%d success=%d failed=%d pnl=%s virtual=%s",
		*batches, success, failed, pnl.StringFixed(2), clock.Now().Sub(start).Round(time.Second))
	log.Printf("pipeline: limit_fills=%d market_fills=%d close_fallbacks=%d batch_retries=%d stop_loss_closes=%d",
		snap.LimitFills, snap.MarketFills, snap.CloseFallbacks, snap.BatchRetries, snap.StopLossCloses)
	log.Printf("exchange: limit_orders=%d market_orders=%d cancels=%d mass_cancels=%d stops_hit=%d",
		stats.LimitOrders, stats.MarketOrders, stats.Cancels, stats.MassCancels, stats.StopsHit)
	log.Printf("leftover: found=%d closed=%d failed=%d pool=%+v", report.Found, report.Closed, report.Failed, p.Stats())
}

func moveMarket(ex *sim.Exchange, market string, maxPercent float64, rnd *rand.Rand) {
	price, ok := ex.Price(market)
	if !ok || maxPercent <= 0 {
		return
	}
	step := (rnd.Float64()*2 - 1) * maxPercent / 100
	ex.SetPrice(market, price.Mul(decimal.NewFromFloat(1+step)))
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"hedgebot/internal/bus"
	"hedgebot/internal/chaos"
	"hedgebot/internal/exchange"
	"hedgebot/internal/exchange/sim"
	"hedgebot/internal/feed"
	"hedgebot/internal/generator"
	"hedgebot/internal/history"
	"hedgebot/internal/model"
	"hedgebot/internal/obs"
	"hedgebot/internal/ops"
	"hedgebot/internal/orchestrator"
	"hedgebot/internal/pool"
	"hedgebot/internal/pricecache"
	"hedgebot/internal/risk"
	"hedgebot/internal/rules"
	"hedgebot/internal/trader"
	"hedgebot/pkg/exception"

	"github.com/grafana/pyroscope-go"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

const paperAccounts = 10

type options struct {
	configPath      string
	configReload    time.Duration
	accountsPath    string
	paper           bool
	feedURL         string
	dsn             string
	pyroscopeAddr   string
	snapshotPath    string
	closeOnExit     bool
	shutdownTimeout time.Duration
}

func main() {
	var opt options
	flag.StringVar(&opt.configPath, "config", "", "Path to JSON config")
	flag.DurationVar(&opt.configReload, "config-reload-interval", 2*time.Second, "Config reload interval (0=disable)")
	flag.StringVar(&opt.accountsPath, "accounts", "", "Accounts file, one id per line or a JSON array")
	flag.BoolVar(&opt.paper, "paper", false, "Trade against the in-memory paper exchange")
	flag.StringVar(&opt.feedURL, "feed-url", "", "Order book websocket origin (enables the feed)")
	flag.StringVar(&opt.dsn, "dsn", "", "Postgres DSN for trade history (overrides config)")
	flag.StringVar(&opt.pyroscopeAddr, "pyroscope", "", "Pyroscope server address (empty=disable)")
	flag.StringVar(&opt.snapshotPath, "snapshot", "", "Pool snapshot path (overrides config)")
	flag.BoolVar(&opt.closeOnExit, "close-on-exit", false, "Close every open position on shutdown")
	flag.DurationVar(&opt.shutdownTimeout, "shutdown-timeout", 5*time.Minute, "Upper bound for the shutdown sequence")
	flag.Parse()

	if err := run(opt); err != nil {
		log.Fatalf("trader failed: %v", err)
	}
}

func run(opt options) error {
	loaded, err := loadConfig(opt.configPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	applyFlags(&loaded, opt)
	runtime := ops.NewRuntime(loaded)

	accounts, err := loadAccounts(opt)
	if err != nil {
		return err
	}

	if opt.pyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "hedgebot.trader",
			ServerAddress:   opt.pyroscopeAddr,
		})
		if err != nil {
			return fmt.Errorf("start profiler: %w", err)
		}
		defer profiler.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cache := pricecache.New(loaded.Trader.CacheMaxAge)
	client, quotes, err := newExchange(ctx, loaded, accounts, cache, opt.paper)
	if err != nil {
		return err
	}

	p, err := pool.New(accounts, loaded.Pool)
	if err != nil {
		return err
	}
	restoreSnapshot(p, loaded.SnapshotPath)

	metrics := obs.NewMetrics(loaded.Orchestrator.Workers)
	queue := bus.NewQueue(loaded.QueueSize)
	gen, err := generator.New(loaded.Generator, p, queue, metrics)
	if err != nil {
		return err
	}

	var (
		store *history.Store
		sinks []orchestrator.ResultSink
	)
	deps := trader.Deps{
		Client:  client,
		Quotes:  quotes,
		Cache:   cache,
		Rules:   rules.NewBook(loaded.Rules...),
		Risk:    risk.NewEngine(loaded.Risk),
		Metrics: metrics,
	}
	if loaded.History.Enabled {
		store, err = history.Open(ctx, loaded.History.Option, loaded.History.Config)
		if err != nil {
			return err
		}
		defer closeStore(store)
		sinks = append(sinks, store)
		deps.Recorder = store
	}

	tr, err := trader.New(loaded.Trader, deps)
	if err != nil {
		return err
	}
	orch, err := orchestrator.New(loaded.Orchestrator, orchestrator.Deps{
		Pool:      p,
		Queue:     queue,
		Generator: gen,
		Executor:  tr,
		Metrics:   metrics,
		Sinks:     sinks,
	})
	if err != nil {
		return err
	}

	if loaded.Feed.Enabled {
		f, err := feed.New(loaded.Feed.Config, cache)
		if err != nil {
			return err
		}
		go func() {
			if err := f.Run(ctx); err != nil {
				logs.Errorf("feed stopped, err: %+v", err)
			}
		}()
	}

	if opt.configPath != "" && opt.configReload > 0 {
		go ops.Watch(ctx, opt.configPath, opt.configReload, func(l ops.Loaded) {
			runtime.Update(l)
			orch.SetStatsInterval(l.Orchestrator.StatsInterval)
		})
	}

	pnl := make(chan decimal.Decimal, 1)
	go func() { pnl <- consumeResults(orch.Results()) }()

	runDone := make(chan error, 1)
	go func() { runDone <- orch.Run(ctx) }()
	logs.Infof("trader started, mode: %s, accounts: %d, markets: %v, workers: %d, paper: %t",
		loaded.Trader.Mode, len(accounts), loaded.Generator.Markets, loaded.Orchestrator.Workers, opt.paper)

	select {
	case <-sys.Shutdown():
		logs.Info("shutdown signal received")
	case err := <-runDone:
		logs.Errorf("orchestrator exited early, err: %v", err)
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), opt.shutdownTimeout)
	report := orch.Shutdown(shutdownCtx, runtime.Load().CloseOnExit)
	stop()
	cancel()

	saveSnapshot(p, loaded.SnapshotPath)
	total := decimal.Zero
	if report.WorkersStopped {
		total = <-pnl
	}
	processed, success, failed := report.Final.Metrics.Totals()
	logs.Infof("trader stopped, processed: %d, success: %d, failed: %d, pnl: %s, discarded: %d, close all failed: %d",
		processed, success, failed, total.StringFixed(2), report.Discarded, report.CloseAll.Failed)
	if store != nil {
		if summary, err := store.Summary(context.Background(), time.Time{}); err == nil {
			logs.Infof("history: tasks %d, succeeded %d, failed %d, cancelled %d, notional %s, pnl %s",
				summary.Tasks, summary.Succeeded, summary.Failed, summary.Cancelled, summary.Notional.StringFixed(2), summary.PnL.StringFixed(2))
		}
	}
	return nil
}

func loadConfig(path string) (ops.Loaded, error) {
	if path == "" {
		return ops.Default(), nil
	}
	return ops.Load(path)
}

func applyFlags(loaded *ops.Loaded, opt options) {
	if opt.feedURL != "" {
		loaded.Feed.Enabled = true
		loaded.Feed.Config.BaseURL = opt.feedURL
	}
	if opt.dsn != "" {
		loaded.History.Enabled = true
		loaded.History.Option.ConnString = opt.dsn
	}
	if opt.snapshotPath != "" {
		loaded.SnapshotPath = opt.snapshotPath
	}
	if opt.closeOnExit {
		loaded.CloseOnExit = true
	}
}

func loadAccounts(opt options) ([]string, error) {
	if opt.accountsPath != "" {
		return ops.LoadAccounts(opt.accountsPath)
	}
	if !opt.paper {
		return nil, fmt.Errorf("%w, accounts file is required outside paper mode", exception.ErrConfigNoAccounts)
	}
	ids := make([]string, paperAccounts)
	for i := range ids {
		ids[i] = fmt.Sprintf("paper-%02d", i+1)
	}
	return ids, nil
}

// newExchange builds the trading client. Only the paper exchange ships with this binary.
func newExchange(ctx context.Context, loaded ops.Loaded, accounts []string, cache *pricecache.Cache, paper bool) (exchange.Client, exchange.QuoteSource, error) {
	if !paper {
		return nil, nil, fmt.Errorf("no exchange client configured, run with -paper")
	}
	cfg := sim.Config{
		Prices:        loaded.Paper.Prices,
		SpreadPercent: loaded.Paper.SpreadPercent,
		LimitFillRate: loaded.Paper.LimitFillRate,
	}
	if loaded.Paper.Chaos != nil {
		engine, err := chaos.NewEngine(*loaded.Paper.Chaos)
		if err != nil {
			return nil, nil, err
		}
		cfg.Chaos = engine
	}
	ex := sim.New(accounts, cfg)
	if !loaded.Feed.Enabled {
		go ex.Walk(ctx, loaded.Paper.WalkInterval, loaded.Paper.WalkVolatility, func(market string, bid, ask decimal.Decimal) {
			cache.Set(market, bid, ask)
		})
	}
	return ex, ex, nil
}

func restoreSnapshot(p *pool.Pool, path string) {
	if path == "" {
		return
	}
	snap, err := pool.ReadSnapshot(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logs.Warnf("pool snapshot restore failed, err: %+v", err)
		}
		return
	}
	logs.Infof("pool snapshot restored, accounts: %d", p.Restore(snap))
}

func saveSnapshot(p *pool.Pool, path string) {
	if path == "" {
		return
	}
	if err := pool.WriteSnapshot(path, p.Snapshot()); err != nil {
		logs.Errorf("pool snapshot save failed, err: %+v", err)
	}
}

func closeStore(store *history.Store) {
	if err := store.Close(); err != nil {
		logs.Errorf("close history store, err: %+v", err)
	}
}

func consumeResults(results <-chan model.Result) decimal.Decimal {
	total := decimal.Zero
	for r := range results {
		total = total.Add(r.PnL)
		if !r.Success {
			logs.Debugf("task %s #%d did not succeed: %s", r.Task.ID, r.Seq, r.Err)
		}
	}
	return total
}

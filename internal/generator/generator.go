package generator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"hedgebot/internal/model"
	"hedgebot/internal/obs"
	"hedgebot/internal/rules"
	"hedgebot/pkg/exception"

	"github.com/yanun0323/logs"
)

const defaultInterval = 5 * time.Second

// Config controls task generation.
type Config struct {
	BatchSize model.IntRange
	Markets   []string
	Interval  time.Duration
	Balanced  bool
	Seed      uint64
	Now       func() time.Time
}

func (c Config) Validate() error {
	if c.BatchSize.Min < 2 || !c.BatchSize.Valid() {
		return fmt.Errorf("batch size must be >= 2 and min <= max")
	}
	if len(c.Markets) == 0 {
		return exception.ErrMarketDataNoMarkets
	}
	if c.Interval < 0 {
		return fmt.Errorf("interval must be >= 0")
	}
	return nil
}

// AccountSource hands out and takes back accounts.
type AccountSource interface {
	SelectBatch(size, minSize int, balanced bool) ([]string, bool)
	ReleaseImmediately(ids []string)
}

// Publisher is the non-blocking side of the task queue.
type Publisher interface {
	TryPublish(t model.Task) error
	Full() bool
}

// Generator samples the account pool on a fixed interval and enqueues tasks.
type Generator struct {
	cfg     Config
	pool    AccountSource
	queue   Publisher
	metrics *obs.Metrics

	mu  sync.Mutex
	rnd *rand.Rand

	running   atomic.Bool
	generated atomic.Uint64
	stopOnce  sync.Once
	stop      chan struct{}
}

func New(cfg Config, pool AccountSource, queue Publisher, metrics *obs.Metrics) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if pool == nil || queue == nil {
		return nil, exception.ErrNilInstance
	}
	if cfg.Interval == 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Seed == 0 {
		cfg.Seed = uint64(time.Now().UnixNano())
	}
	markets := make([]string, len(cfg.Markets))
	for i, m := range cfg.Markets {
		markets[i] = rules.Base(m)
	}
	cfg.Markets = markets
	return &Generator{
		cfg:     cfg,
		pool:    pool,
		queue:   queue,
		metrics: metrics,
		rnd:     rand.New(rand.NewPCG(cfg.Seed, cfg.Seed>>1|1)),
		stop:    make(chan struct{}),
	}, nil
}

// Run ticks until ctx is done or Stop is called.
func (g *Generator) Run(ctx context.Context) {
	if g.running.Swap(true) {
		return
	}
	defer g.running.Store(false)

	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()

	logs.Infof("generator started, interval: %s, markets: %v", g.cfg.Interval, g.cfg.Markets)
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.stop:
			logs.Info("generator stopped")
			return
		case <-ticker.C:
			g.Tick()
		}
	}
}

// Tick produces at most one task. It never blocks on a full queue.
func (g *Generator) Tick() (model.Task, bool) {
	if g.queue.Full() {
		g.metrics.IncSkipQueueFull()
		logs.Debugf("queue full, skip generation")
		return model.Task{}, false
	}

	size := g.between(g.cfg.BatchSize.Min, g.cfg.BatchSize.Max)
	accounts, ok := g.pool.SelectBatch(size, g.cfg.BatchSize.Min, g.cfg.Balanced)
	if !ok {
		g.metrics.IncSkipNoAccounts()
		logs.Debugf("not enough available accounts for batch of %d", size)
		return model.Task{}, false
	}

	now := g.cfg.Now()
	market := g.cfg.Markets[g.intn(len(g.cfg.Markets))]
	task := model.NewTask(model.NewTaskID(now), market, accounts, now, map[string]string{
		"size": fmt.Sprint(len(accounts)),
	})
	if err := g.queue.TryPublish(task); err != nil {
		g.pool.ReleaseImmediately(accounts)
		if errors.Is(err, exception.ErrQueueClosed) {
			g.metrics.IncQueueClosed()
		} else {
			g.metrics.IncSkipQueueFull()
		}
		logs.Debugf("publish task %s, err: %v", task.ID, err)
		return model.Task{}, false
	}

	g.generated.Add(1)
	g.metrics.IncGenerated()
	logs.Infof("task %s generated, market: %s, accounts: %v", task.ID, market, accounts)
	return task, true
}

// Stop ends Run after the current tick.
func (g *Generator) Stop() {
	g.stopOnce.Do(func() { close(g.stop) })
}

func (g *Generator) Running() bool { return g.running.Load() }

func (g *Generator) Generated() uint64 { return g.generated.Load() }

func (g *Generator) intn(n int) int {
	if n <= 1 {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rnd.IntN(n)
}

func (g *Generator) between(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + g.intn(hi-lo+1)
}

package orchestrator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"hedgebot/internal/bus"
	"hedgebot/internal/generator"
	"hedgebot/internal/model"
	"hedgebot/internal/obs"
	"hedgebot/internal/pool"
	"hedgebot/internal/trader"
	"hedgebot/pkg/exception"

	"golang.org/x/sync/errgroup"
)

// Executor runs batches. *trader.Trader implements it.
type Executor interface {
	Compose(task model.Task, seq uint64) (model.Batch, error)
	Execute(ctx context.Context, b model.Batch) (trader.Outcome, error)
	CloseAll(ctx context.Context, accounts []string) trader.CloseAllReport
	MassCancelAll(ctx context.Context, accounts []string) int
}

// ResultSink receives every Task Result. Errors are logged and never fail a task.
type ResultSink interface {
	RecordResult(ctx context.Context, r model.Result) error
}

// Config controls workers, cooldown and shutdown.
type Config struct {
	Workers       int
	PollTimeout   time.Duration
	Cooldown      model.DurationRange
	StatsInterval time.Duration
	DrainTimeout  time.Duration
	// Balanced routes task outcomes to the pool error counters.
	Balanced     bool
	ResultBuffer int
	SinkTimeout  time.Duration
	Seed         uint64
}

func DefaultConfig() Config {
	return Config{
		Workers:       1,
		PollTimeout:   time.Second,
		Cooldown:      model.DurationRange{Min: 60 * time.Second, Max: 150 * time.Second},
		StatsInterval: 300 * time.Second,
		DrainTimeout:  30 * time.Second,
		Balanced:      true,
		ResultBuffer:  64,
		SinkTimeout:   5 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be > 0")
	}
	if c.PollTimeout <= 0 || c.StatsInterval <= 0 || c.DrainTimeout <= 0 {
		return fmt.Errorf("poll timeout, stats interval and drain timeout must be > 0")
	}
	if !c.Cooldown.Valid() {
		return fmt.Errorf("cooldown must be >= 0 and min <= max")
	}
	return nil
}

// Deps are the components the orchestrator owns.
type Deps struct {
	Pool      *pool.Pool
	Queue     *bus.Queue
	Generator *generator.Generator
	Executor  Executor
	Metrics   *obs.Metrics
	Sequence  *obs.Sequence
	Sinks     []ResultSink
	Now       func() time.Time
}

// Orchestrator runs the generator, the workers and the stats loop, and shuts them down in order.
type Orchestrator struct {
	cfg     Config
	pool    *pool.Pool
	queue   *bus.Queue
	gen     *generator.Generator
	exec    Executor
	metrics *obs.Metrics
	seq     *obs.Sequence
	sinks   []ResultSink
	now     func() time.Time

	rndMu sync.Mutex
	rnd   *rand.Rand

	results       chan model.Result
	resultsOnce   sync.Once
	statsInterval atomic.Int64
	statsWake     chan struct{}

	mu          sync.Mutex
	running     atomic.Bool
	stopWorkers context.CancelFunc
	stopStats   context.CancelFunc
	workers     sync.WaitGroup

	shutdownOnce sync.Once
	report       ShutdownReport
}

func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Pool == nil || deps.Queue == nil || deps.Generator == nil || deps.Executor == nil {
		return nil, exception.ErrNilInstance
	}
	if deps.Sequence == nil {
		deps.Sequence = obs.NewSequence(0)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.Seed == 0 {
		cfg.Seed = uint64(time.Now().UnixNano())
	}
	if cfg.ResultBuffer <= 0 {
		cfg.ResultBuffer = 64
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 5 * time.Second
	}
	o := &Orchestrator{
		cfg:       cfg,
		pool:      deps.Pool,
		queue:     deps.Queue,
		gen:       deps.Generator,
		exec:      deps.Executor,
		metrics:   deps.Metrics,
		seq:       deps.Sequence,
		sinks:     deps.Sinks,
		now:       deps.Now,
		rnd:       rand.New(rand.NewPCG(cfg.Seed, cfg.Seed>>3|1)),
		results:   make(chan model.Result, cfg.ResultBuffer),
		statsWake: make(chan struct{}, 1),
	}
	o.statsInterval.Store(int64(cfg.StatsInterval))
	return o, nil
}

// Run starts the generator, the workers and the stats loop, and blocks until all of them end.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.running.Swap(true) {
		return nil
	}
	o.workers.Add(o.cfg.Workers)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	statsCtx, stopStats := context.WithCancel(ctx)
	o.mu.Lock()
	o.stopWorkers, o.stopStats = stopWorkers, stopStats
	o.mu.Unlock()
	defer stopWorkers()
	defer stopStats()

	var g errgroup.Group
	g.Go(func() error {
		o.gen.Run(ctx)
		return nil
	})
	for i := range o.cfg.Workers {
		g.Go(func() error {
			defer o.workers.Done()
			o.worker(workerCtx, i)
			return nil
		})
	}
	g.Go(func() error {
		o.statsLoop(statsCtx)
		return nil
	})
	return g.Wait()
}

// Results streams every Task Result. It is closed after shutdown stops the workers.
// A slow reader misses results rather than blocking workers.
func (o *Orchestrator) Results() <-chan model.Result { return o.results }

// SetStatsInterval changes the stats period of a running orchestrator.
func (o *Orchestrator) SetStatsInterval(d time.Duration) {
	if d <= 0 || time.Duration(o.statsInterval.Swap(int64(d))) == d {
		return
	}
	select {
	case o.statsWake <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) StatsInterval() time.Duration {
	return time.Duration(o.statsInterval.Load())
}

func (o *Orchestrator) cooldown() time.Duration {
	c := o.cfg.Cooldown
	if c.Max <= c.Min {
		return c.Min
	}
	o.rndMu.Lock()
	defer o.rndMu.Unlock()
	return c.Min + time.Duration(o.rnd.Int64N(int64(c.Max-c.Min)+1))
}

func (o *Orchestrator) closeResults() {
	o.resultsOnce.Do(func() { close(o.results) })
}

package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hedgebot/internal/bus"
	"hedgebot/internal/exchange"
	"hedgebot/internal/exchange/sim"
	"hedgebot/internal/generator"
	"hedgebot/internal/model"
	"hedgebot/internal/model/enum"
	"hedgebot/internal/obs"
	"hedgebot/internal/pool"
	"hedgebot/internal/trader"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExec tracks in-flight accounts and fails the test run on overlap.
type fakeExec struct {
	mu       sync.Mutex
	inflight map[string]bool
	overlap  atomic.Bool
	executed atomic.Int64
	closeAll atomic.Int64
	cancels  atomic.Int64
	execute  func(ctx context.Context, b model.Batch) (trader.Outcome, error)
}

func newFakeExec() *fakeExec {
	return &fakeExec{inflight: make(map[string]bool)}
}

func (f *fakeExec) Compose(task model.Task, seq uint64) (model.Batch, error) {
	if len(task.Accounts) < 2 {
		return model.Batch{}, fmt.Errorf("task %s too small", task.ID)
	}
	return model.Batch{Seq: seq, TaskID: task.ID, Market: task.Market, Longs: task.Accounts[:1], Shorts: task.Accounts[1:]}, nil
}

func (f *fakeExec) Execute(ctx context.Context, b model.Batch) (trader.Outcome, error) {
	f.mu.Lock()
	for _, a := range b.Accounts() {
		if f.inflight[a] {
			f.overlap.Store(true)
		}
		f.inflight[a] = true
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		for _, a := range b.Accounts() {
			delete(f.inflight, a)
		}
		f.mu.Unlock()
	}()

	f.executed.Add(1)
	if f.execute != nil {
		return f.execute(ctx, b)
	}
	return trader.Outcome{Batch: b, Opened: b.Total(), Closed: b.Total(), PnL: decimal.NewFromInt(1)}, nil
}

func (f *fakeExec) CloseAll(context.Context, []string) trader.CloseAllReport {
	f.closeAll.Add(1)
	return trader.CloseAllReport{Rounds: 1}
}

func (f *fakeExec) MassCancelAll(context.Context, []string) int {
	f.cancels.Add(1)
	return 0
}

type sinkFunc func(ctx context.Context, r model.Result) error

func (s sinkFunc) RecordResult(ctx context.Context, r model.Result) error { return s(ctx, r) }

type fixture struct {
	orch  *Orchestrator
	pool  *pool.Pool
	queue *bus.Queue
	gen   *generator.Generator
}

func accounts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("acc-%02d", i)
	}
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollTimeout = 5 * time.Millisecond
	cfg.Cooldown = model.DurationRange{Min: time.Hour, Max: time.Hour}
	cfg.DrainTimeout = time.Second
	cfg.Seed = 9
	return cfg
}

func newFixture(t *testing.T, cfg Config, n int, interval time.Duration, exec Executor, sinks ...ResultSink) fixture {
	t.Helper()
	p, err := pool.New(accounts(n), pool.Config{Cooldown: time.Hour, MaxConsecutiveErrors: 3})
	require.NoError(t, err)
	q := bus.NewQueue(10)
	m := obs.NewMetrics(cfg.Workers)
	g, err := generator.New(generator.Config{BatchSize: model.IntRange{Min: 3, Max: 3}, Markets: []string{"BTC"}, Interval: interval, Seed: 3}, p, q, m)
	require.NoError(t, err)
	o, err := New(cfg, Deps{Pool: p, Queue: q, Generator: g, Executor: exec, Metrics: m, Sinks: sinks})
	require.NoError(t, err)
	return fixture{orch: o, pool: p, queue: q, gen: g}
}

func (f fixture) start(t *testing.T, ctx context.Context) chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- f.orch.Run(ctx) }()
	return done
}

func waitResult(t *testing.T, o *Orchestrator) model.Result {
	t.Helper()
	select {
	case r := <-o.Results():
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no result")
		return model.Result{}
	}
}

func waitDone(t *testing.T, done chan error) {
	t.Helper()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return")
	}
}

func TestSuccessfulTaskCoolsDown(t *testing.T) {
	var recorded atomic.Int64
	exec := newFakeExec()
	f := newFixture(t, testConfig(), 5, time.Hour, exec, sinkFunc(func(context.Context, model.Result) error {
		recorded.Add(1)
		return nil
	}))
	done := f.start(t, t.Context())

	_, ok := f.gen.Tick()
	require.True(t, ok)
	res := waitResult(t, f.orch)
	assert.True(t, res.Success)
	assert.Equal(t, uint64(1), res.Seq)
	assert.Equal(t, 3, res.Opened)
	assert.Empty(t, res.Err)
	assert.Equal(t, int64(1), recorded.Load())

	stats := f.pool.Stats()
	assert.Equal(t, 3, stats.Cooldown)
	assert.Equal(t, 2, stats.Available)

	report := f.orch.Shutdown(t.Context(), true)
	waitDone(t, done)
	assert.True(t, report.WorkersStopped)
	assert.Equal(t, int64(1), exec.closeAll.Load())
	assert.Zero(t, exec.cancels.Load())
	_, success, _ := report.Final.Metrics.Totals()
	assert.Equal(t, uint64(1), success)
}

func TestFailedTaskReleasesImmediately(t *testing.T) {
	exec := newFakeExec()
	exec.execute = func(ctx context.Context, b model.Batch) (trader.Outcome, error) {
		return trader.Outcome{Batch: b}, fmt.Errorf("venue down")
	}
	f := newFixture(t, testConfig(), 3, time.Hour, exec)
	done := f.start(t, t.Context())

	_, ok := f.gen.Tick()
	require.True(t, ok)
	res := waitResult(t, f.orch)
	assert.False(t, res.Success)
	assert.False(t, res.Cancelled)
	assert.Equal(t, "venue down", res.Err)
	assert.Equal(t, 3, f.pool.Stats().Available)
	for _, a := range res.Task.Accounts {
		st, ok := f.pool.Status(a)
		require.True(t, ok)
		assert.Equal(t, 1, st.ConsecutiveErrors)
	}

	f.orch.Shutdown(t.Context(), false)
	waitDone(t, done)
	assert.Equal(t, int64(1), exec.cancels.Load())
}

func TestPanicDoesNotKillWorker(t *testing.T) {
	exec := newFakeExec()
	var calls atomic.Int64
	exec.execute = func(ctx context.Context, b model.Batch) (trader.Outcome, error) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return trader.Outcome{Batch: b}, nil
	}
	f := newFixture(t, testConfig(), 6, time.Hour, exec)
	done := f.start(t, t.Context())

	_, ok := f.gen.Tick()
	require.True(t, ok)
	res := waitResult(t, f.orch)
	assert.False(t, res.Success)
	assert.Equal(t, "boom", res.Err)

	_, ok = f.gen.Tick()
	require.True(t, ok)
	res = waitResult(t, f.orch)
	assert.True(t, res.Success)

	f.orch.Shutdown(t.Context(), false)
	waitDone(t, done)
}

func TestCancelReleasesImmediately(t *testing.T) {
	exec := newFakeExec()
	started := make(chan struct{})
	exec.execute = func(ctx context.Context, b model.Batch) (trader.Outcome, error) {
		close(started)
		<-ctx.Done()
		return trader.Outcome{Batch: b}, ctx.Err()
	}
	f := newFixture(t, testConfig(), 3, time.Hour, exec)
	ctx, cancel := context.WithCancel(t.Context())
	done := f.start(t, ctx)

	_, ok := f.gen.Tick()
	require.True(t, ok)
	<-started
	cancel()

	res := waitResult(t, f.orch)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 3, f.pool.Stats().Available)
	waitDone(t, done)

	report := f.orch.Shutdown(t.Context(), true)
	assert.True(t, report.WorkersStopped)
	assert.Equal(t, int64(1), exec.closeAll.Load())
}

func TestShutdownTimesOutAndDiscardsQueued(t *testing.T) {
	exec := newFakeExec()
	cfg := testConfig()
	cfg.DrainTimeout = 20 * time.Millisecond
	f := newFixture(t, cfg, 9, time.Hour, exec)

	// no workers running, so nothing drains the queue
	for range 2 {
		_, ok := f.gen.Tick()
		require.True(t, ok)
	}
	require.Equal(t, 6, f.pool.Stats().InTrade)

	start := time.Now()
	report := f.orch.Shutdown(t.Context(), false)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 2, report.Remaining)
	assert.Equal(t, 2, report.Discarded)
	assert.Equal(t, 9, f.pool.Stats().Available)
	assert.Zero(t, f.queue.Unfinished())

	again := f.orch.Shutdown(t.Context(), true)
	assert.Equal(t, report, again)
	assert.Equal(t, int64(1), exec.cancels.Load())
	assert.Zero(t, exec.closeAll.Load())
}

func TestWorkersNeverShareAccounts(t *testing.T) {
	exec := newFakeExec()
	exec.execute = func(ctx context.Context, b model.Batch) (trader.Outcome, error) {
		time.Sleep(2 * time.Millisecond)
		return trader.Outcome{Batch: b}, nil
	}
	cfg := testConfig()
	cfg.Workers = 4
	cfg.Cooldown = model.DurationRange{Min: time.Millisecond, Max: 3 * time.Millisecond}
	f := newFixture(t, cfg, 12, time.Millisecond, exec)
	done := f.start(t, t.Context())

	go func() {
		for range f.orch.Results() {
		}
	}()
	require.Eventually(t, func() bool { return exec.executed.Load() >= 20 }, 3*time.Second, time.Millisecond)
	f.orch.Shutdown(t.Context(), false)
	waitDone(t, done)

	assert.False(t, exec.overlap.Load())
	st := f.pool.Stats()
	assert.Zero(t, st.InTrade)
}

func TestSetStatsInterval(t *testing.T) {
	f := newFixture(t, testConfig(), 3, time.Hour, newFakeExec())
	assert.Equal(t, 300*time.Second, f.orch.StatsInterval())
	f.orch.SetStatsInterval(time.Second)
	assert.Equal(t, time.Second, f.orch.StatsInterval())
	f.orch.SetStatsInterval(0)
	assert.Equal(t, time.Second, f.orch.StatsInterval())
}

// fakeClock advances on every sleep so the pipeline runs without waiting.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

func TestEndToEndWithPaperExchange(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	ids := accounts(10)
	ex := sim.New(ids, sim.Config{Prices: map[string]decimal.Decimal{"BTC": decimal.NewFromInt(25000)}, Seed: 1, Sleep: clock.Sleep})

	tcfg := trader.DefaultConfig()
	tcfg.Mode = enum.OrderModeMarket
	tcfg.BatchNotional = model.DecimalRange{Min: decimal.NewFromInt(1000), Max: decimal.NewFromInt(1000)}
	tr, err := trader.New(tcfg, trader.Deps{Client: ex, Quotes: ex, Seed: 2, Now: clock.Now, Sleep: clock.Sleep})
	require.NoError(t, err)

	f := newFixture(t, testConfig(), len(ids), time.Hour, tr)
	before := f.pool.Stats().Available
	done := f.start(t, t.Context())

	task, ok := f.gen.Tick()
	require.True(t, ok)
	assert.Equal(t, before-3, f.pool.Stats().Available)

	res := waitResult(t, f.orch)
	require.True(t, res.Success, res.Err)
	assert.Equal(t, 3, res.Opened)
	assert.Equal(t, 3, res.Closed)
	assert.True(t, res.Notional.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, 3, f.pool.Stats().Cooldown)
	for _, a := range task.Accounts {
		positions, err := ex.Positions(t.Context(), a, "")
		require.NoError(t, err)
		assert.Empty(t, positions)
	}

	// leave a stray position for the shutdown sweep
	_, err = ex.PlaceMarketOrder(t.Context(), ids[0], exchange.OrderRequest{Market: "BTC", Side: enum.OrderSideBuy, Quantity: decimal.RequireFromString("0.01")})
	require.NoError(t, err)
	report := f.orch.Shutdown(t.Context(), true)
	waitDone(t, done)
	assert.Equal(t, 1, report.CloseAll.Closed)
	positions, err := ex.Positions(t.Context(), ids[0], "")
	require.NoError(t, err)
	assert.Empty(t, positions)
}

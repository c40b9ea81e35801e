package history

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"hedgebot/internal/model"
	"hedgebot/pkg/conn"
	"hedgebot/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"gorm.io/gorm"
)

// Config controls the asynchronous order writer.
type Config struct {
	OrderBuffer   int
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		OrderBuffer:   1024,
		BatchSize:     100,
		FlushInterval: time.Second,
		WriteTimeout:  5 * time.Second,
	}
}

// writer is the insert side of the store.
type writer interface {
	CreateTask(ctx context.Context, rec *TaskRecord) error
	CreateOrders(ctx context.Context, recs []OrderRecord) error
}

type gormWriter struct {
	db    *gorm.DB
	batch int
}

func (w gormWriter) CreateTask(ctx context.Context, rec *TaskRecord) error {
	return w.db.WithContext(ctx).Create(rec).Error
}

func (w gormWriter) CreateOrders(ctx context.Context, recs []OrderRecord) error {
	return w.db.WithContext(ctx).CreateInBatches(recs, w.batch).Error
}

// Store persists task results and order events. Write failures are logged and never returned to the trading path.
type Store struct {
	cfg    Config
	db     *gorm.DB
	w      writer
	client *conn.Client

	mu      sync.RWMutex
	closed  bool
	orders  chan OrderRecord
	dropped atomic.Uint64
	done    chan struct{}
}

// Open connects to postgres and migrates the schema.
func Open(ctx context.Context, opt conn.Option, cfg Config) (*Store, error) {
	client, err := conn.New(opt)
	if err != nil {
		return nil, errors.Wrap(err, "open history database")
	}
	s, err := New(client.DB(), cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.client = client
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing gorm handle and starts the order writer.
func New(db *gorm.DB, cfg Config) (*Store, error) {
	if db == nil {
		return nil, exception.ErrNilInstance
	}
	cfg = cfg.withDefaults()
	return newStore(db, gormWriter{db: db, batch: cfg.BatchSize}, cfg), nil
}

func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.OrderBuffer <= 0 {
		cfg.OrderBuffer = def.OrderBuffer
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return cfg
}

func newStore(db *gorm.DB, w writer, cfg Config) *Store {
	s := &Store{
		cfg:    cfg,
		db:     db,
		w:      w,
		orders: make(chan OrderRecord, cfg.OrderBuffer),
		done:   make(chan struct{}),
	}
	go s.writeOrders()
	return s
}

func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&TaskRecord{}, &OrderRecord{}); err != nil {
		return errors.Wrap(err, "migrate history tables")
	}
	return nil
}

// RecordResult stores one task result synchronously.
func (s *Store) RecordResult(ctx context.Context, r model.Result) error {
	rec := taskRecord(r)
	if err := s.w.CreateTask(ctx, &rec); err != nil {
		return errors.Wrapf(err, "insert task %s", r.Task.ID)
	}
	return nil
}

// RecordOrder queues an order event. A full buffer drops the event.
func (s *Store) RecordOrder(_ context.Context, e model.OrderEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.orders <- orderRecord(e):
	default:
		s.dropped.Add(1)
		logs.Warnf("history order buffer full, drop order of task %s account %s", e.TaskID, e.Account)
	}
}

func (s *Store) writeOrders() {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]OrderRecord, 0, s.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
		defer cancel()
		if err := s.w.CreateOrders(ctx, batch); err != nil {
			logs.Errorf("insert %d orders, err: %+v", len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec, ok := <-s.orders:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= s.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Dropped counts order events lost to a full buffer.
func (s *Store) Dropped() uint64 { return s.dropped.Load() }

// Close flushes queued orders and closes the database when Open created it.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.orders)
	s.mu.Unlock()

	<-s.done
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Summary aggregates stored task results.
type Summary struct {
	Tasks       int64
	Succeeded   int64
	Cancelled   int64
	Failed      int64
	Notional    decimal.Decimal
	PnL         decimal.Decimal
	AvgDuration time.Duration
}

type summaryRow struct {
	Tasks         int64           `gorm:"column:tasks"`
	Succeeded     int64           `gorm:"column:succeeded"`
	Cancelled     int64           `gorm:"column:cancelled"`
	Notional      decimal.Decimal `gorm:"column:notional"`
	PnL           decimal.Decimal `gorm:"column:pnl"`
	AvgDurationMs float64         `gorm:"column:avg_duration_ms"`
}

// Summary aggregates results finished at or after since. A zero since covers every result.
func (s *Store) Summary(ctx context.Context, since time.Time) (Summary, error) {
	var row summaryRow
	q := s.db.WithContext(ctx).Model(&TaskRecord{}).Select(
		"count(*) AS tasks, " +
			"coalesce(sum(case when success then 1 else 0 end), 0) AS succeeded, " +
			"coalesce(sum(case when cancelled then 1 else 0 end), 0) AS cancelled, " +
			"coalesce(sum(notional), 0) AS notional, " +
			"coalesce(sum(pnl), 0) AS pnl, " +
			"coalesce(avg(duration_ms), 0) AS avg_duration_ms")
	if !since.IsZero() {
		q = q.Where("finished_at >= ?", since)
	}
	if err := q.Scan(&row).Error; err != nil {
		return Summary{}, errors.Wrap(err, "summarize tasks")
	}
	return row.summary(), nil
}

func (r summaryRow) summary() Summary {
	return Summary{
		Tasks:       r.Tasks,
		Succeeded:   r.Succeeded,
		Cancelled:   r.Cancelled,
		Failed:      r.Tasks - r.Succeeded - r.Cancelled,
		Notional:    r.Notional,
		PnL:         r.PnL,
		AvgDuration: time.Duration(r.AvgDurationMs * float64(time.Millisecond)),
	}
}

// Recent returns the latest results, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]TaskRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []TaskRecord
	if err := s.db.WithContext(ctx).Order("finished_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, errors.Wrap(err, "query recent tasks")
	}
	return out, nil
}

// Orders returns the order log of a task in placement order.
func (s *Store) Orders(ctx context.Context, taskID string) ([]OrderRecord, error) {
	var out []OrderRecord
	if err := s.db.WithContext(ctx).Where("task_id = ?", taskID).Order("placed_at ASC").Find(&out).Error; err != nil {
		return nil, errors.Wrapf(err, "query orders of task %s", taskID)
	}
	return out, nil
}

package model

import (
	"fmt"
	"maps"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Task is one unit of work produced by the generator and consumed once by a worker.
// Fields must not be modified after the task has been enqueued.
type Task struct {
	ID        string
	Accounts  []string
	Market    string
	CreatedAt time.Time
	Metadata  map[string]string
}

// NewTask copies accounts and metadata so the caller's slices stay independent.
func NewTask(id, market string, accounts []string, createdAt time.Time, metadata map[string]string) Task {
	return Task{
		ID:        id,
		Accounts:  slices.Clone(accounts),
		Market:    market,
		CreatedAt: createdAt,
		Metadata:  maps.Clone(metadata),
	}
}

// NewTaskID formats task_<unix-ms>_<4-digit random>.
func NewTaskID(now time.Time) string {
	return fmt.Sprintf("task_%d_%d", now.UnixMilli(), 1000+rand.IntN(9000))
}

// Batch is the in-flight split of a task into long and short accounts.
type Batch struct {
	Seq       uint64
	TaskID    string
	Market    string
	Longs     []string
	Shorts    []string
	CreatedAt time.Time
}

func (b Batch) Total() int      { return len(b.Longs) + len(b.Shorts) }
func (b Batch) LongCount() int  { return len(b.Longs) }
func (b Batch) ShortCount() int { return len(b.Shorts) }

// Accounts returns longs followed by shorts.
func (b Batch) Accounts() []string {
	out := make([]string, 0, b.Total())
	out = append(out, b.Longs...)
	return append(out, b.Shorts...)
}

// Result is the outcome of one task.
type Result struct {
	Task      Task
	Seq       uint64
	Success   bool
	Opened    int
	Closed    int
	Attempts  int
	PnL       decimal.Decimal
	Notional  decimal.Decimal
	Duration  time.Duration
	Err       string
	Worker    int
	Finished  time.Time
	Via       string
	Cancelled bool
}

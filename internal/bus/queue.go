package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"hedgebot/internal/model"
	"hedgebot/pkg/exception"
)

// Queue is a bounded FIFO of tasks. Producers never block.
// Unfinished counts queued plus taken-but-not-done tasks.
type Queue struct {
	ch     chan model.Task
	closed uint32

	mu         sync.Mutex
	unfinished int
	drained    chan struct{}
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	drained := make(chan struct{})
	close(drained)
	return &Queue{ch: make(chan model.Task, capacity), drained: drained}
}

// TryPublish enqueues a task without blocking.
func (q *Queue) TryPublish(t model.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if atomic.LoadUint32(&q.closed) != 0 {
		return exception.ErrQueueClosed
	}
	select {
	case q.ch <- t:
		if q.unfinished == 0 {
			q.drained = make(chan struct{})
		}
		q.unfinished++
		return nil
	default:
		return exception.ErrQueueFull
	}
}

// Next waits up to timeout for a task. Every task returned must be followed by Done.
func (q *Queue) Next(ctx context.Context, timeout time.Duration) (model.Task, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return model.Task{}, ctx.Err()
	case <-timer.C:
		return model.Task{}, exception.ErrQueueTimeout
	case t, ok := <-q.ch:
		if !ok {
			return model.Task{}, exception.ErrQueueClosed
		}
		return t, nil
	}
}

// Done marks one task taken by Next as finished.
func (q *Queue) Done() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.unfinished == 0 {
		return exception.ErrQueueNotDone
	}
	q.unfinished--
	if q.unfinished == 0 {
		close(q.drained)
	}
	return nil
}

// Wait blocks until every published task is done or ctx ends.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	drained := q.drained
	q.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len is the number of tasks waiting to be taken.
func (q *Queue) Len() int { return len(q.ch) }

// Cap is the configured capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// Full reports whether TryPublish would fail with ErrQueueFull.
func (q *Queue) Full() bool { return len(q.ch) >= cap(q.ch) }

// Unfinished is the number of tasks not yet marked done.
func (q *Queue) Unfinished() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unfinished
}

// Drain removes every queued task without blocking and marks each one done.
func (q *Queue) Drain() []model.Task {
	var out []model.Task
	for {
		select {
		case t, ok := <-q.ch:
			if !ok {
				return out
			}
			out = append(out, t)
			_ = q.Done()
		default:
			return out
		}
	}
}

// Close stops the queue from accepting new tasks.
func (q *Queue) Close() {
	if atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		q.mu.Lock()
		close(q.ch)
		q.mu.Unlock()
	}
}

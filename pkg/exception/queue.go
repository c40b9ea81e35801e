package exception

import "errors"

var (
	ErrQueueFull    = errors.New("queue: full")
	ErrQueueClosed  = errors.New("queue: closed")
	ErrQueueTimeout = errors.New("queue: poll timeout")
	ErrQueueNotDone = errors.New("queue: done called more than enqueued")
)

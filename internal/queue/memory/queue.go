// Package memory provides a bounded in-process task queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/insights-collector/internal/collector"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained.
var ErrClosed = collector.ErrQueueClosed

// Queue is a bounded channel of tasks with context-aware operations.
type Queue struct {
	ch      chan collector.Task
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a queue holding at most capacity tasks.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan collector.Task, capacity)}
}

// Enqueue blocks until there is room or ctx ends.
func (q *Queue) Enqueue(ctx context.Context, task collector.Task) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- task:
		return nil
	}
}

// Dequeue pops the next task, respecting ctx.
func (q *Queue) Dequeue(ctx context.Context) (collector.Task, error) {
	select {
	case <-ctx.Done():
		return collector.Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case task, ok := <-q.ch:
		if !ok {
			return collector.Task{}, ErrClosed
		}
		return task, nil
	}
}

// Close stops accepting tasks. Queued tasks can still be dequeued.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}

package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/insights-collector/internal/clock/system"
	"github.com/JakeFAU/insights-collector/internal/collector"
)

type resultList struct {
	items     []json.RawMessage
	expiresAt time.Time
	// signal is closed and replaced on every push to wake waiters.
	signal chan struct{}
}

// ResultQueue is an in-process per-(topic, job) list with TTL. Pop takes the
// most recently pushed payload, matching the Redis RPUSH/BRPOP pairing.
type ResultQueue struct {
	mu    sync.Mutex
	lists map[string]*resultList
	clock collector.Clock
}

// NewResultQueue builds a queue. A nil clock uses the system clock.
func NewResultQueue(clock collector.Clock) *ResultQueue {
	if clock == nil {
		clock = system.New()
	}
	return &ResultQueue{
		lists: make(map[string]*resultList),
		clock: clock,
	}
}

func resultKey(topic, jobID string) string {
	return topic + ":" + jobID
}

// Push appends payload and refreshes the key's TTL.
func (q *ResultQueue) Push(_ context.Context, topic, jobID string, payload json.RawMessage, ttl time.Duration) error {
	now := q.clock.Now()
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sweepLocked(now)
	list := q.listLocked(resultKey(topic, jobID))
	list.items = append(list.items, append(json.RawMessage(nil), payload...))
	list.expiresAt = now.Add(ttl)
	close(list.signal)
	list.signal = make(chan struct{})
	return nil
}

// Pop waits up to timeout for a payload.
func (q *ResultQueue) Pop(ctx context.Context, topic, jobID string, timeout time.Duration) (json.RawMessage, bool, error) {
	key := resultKey(topic, jobID)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		q.mu.Lock()
		list := q.listLocked(key)
		if len(list.items) > 0 && q.clock.Now().Before(list.expiresAt) {
			last := len(list.items) - 1
			payload := list.items[last]
			list.items = list.items[:last]
			q.mu.Unlock()
			return payload, true, nil
		}
		signal := list.signal
		q.mu.Unlock()

		select {
		case <-signal:
		case <-timer.C:
			q.dropIdle(key)
			return nil, false, nil
		case <-ctx.Done():
			q.dropIdle(key)
			return nil, false, fmt.Errorf("wait for result canceled: %w", ctx.Err())
		}
	}
}

// Len reports the number of queued payloads for a key; expired lists count as empty.
func (q *ResultQueue) Len(topic, jobID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	list, ok := q.lists[resultKey(topic, jobID)]
	if !ok || !q.clock.Now().Before(list.expiresAt) {
		return 0
	}
	return len(list.items)
}

func (q *ResultQueue) listLocked(key string) *resultList {
	list, ok := q.lists[key]
	if !ok {
		list = &resultList{signal: make(chan struct{})}
		q.lists[key] = list
	}
	return list
}

// dropIdle removes a list that a waiter created but nobody pushed to.
func (q *ResultQueue) dropIdle(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if list, ok := q.lists[key]; ok && len(list.items) == 0 && list.expiresAt.IsZero() {
		close(list.signal)
		delete(q.lists, key)
	}
}

func (q *ResultQueue) sweepLocked(now time.Time) {
	for key, list := range q.lists {
		if len(list.items) > 0 && !now.Before(list.expiresAt) {
			list.items = nil
		}
		if len(list.items) == 0 && !list.expiresAt.IsZero() && !now.Before(list.expiresAt) {
			close(list.signal)
			delete(q.lists, key)
		}
	}
}

// Package wait lets a synchronous caller block until a webhook delivers a
// result for a single (topic, job) pair.
package wait

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/insights-collector/internal/collector"
	"github.com/JakeFAU/insights-collector/internal/metrics"
)

// ErrTimedOut means no result arrived in time. It is distinct from store errors.
var ErrTimedOut = errors.New("timed out waiting for result")

// DefaultResultTTL bounds undelivered results when no TTL is configured.
const DefaultResultTTL = time.Hour

// Waiter pairs Deliver with WaitForResult over a collector.ResultQueue.
type Waiter struct {
	queue collector.ResultQueue
	ttl   time.Duration
}

// New builds a Waiter. ttl <= 0 uses DefaultResultTTL.
func New(queue collector.ResultQueue, ttl time.Duration) *Waiter {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &Waiter{queue: queue, ttl: ttl}
}

// Deliver queues payload for (topic, jobID) and refreshes the key's TTL.
func (w *Waiter) Deliver(ctx context.Context, topic, jobID string, payload json.RawMessage) error {
	if err := w.queue.Push(ctx, topic, jobID, payload, w.ttl); err != nil {
		return fmt.Errorf("deliver result for %s/%s: %w", topic, jobID, err)
	}
	return nil
}

// WaitForResult blocks up to timeout. It returns ErrTimedOut when nothing
// arrives and the ctx error if the caller gives up first.
func (w *Waiter) WaitForResult(ctx context.Context, topic, jobID string, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0, got %s", timeout)
	}
	payload, ok, err := w.queue.Pop(ctx, topic, jobID, timeout)
	switch {
	case err != nil:
		metrics.ObserveWait("error")
		return nil, fmt.Errorf("wait for result %s/%s: %w", topic, jobID, err)
	case !ok:
		metrics.ObserveWait("timeout")
		return nil, ErrTimedOut
	default:
		metrics.ObserveWait("delivered")
		return payload, nil
	}
}

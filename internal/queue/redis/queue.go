// Package redis provides a task queue backed by a Redis list so several
// collector processes can share work.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/insights-collector/internal/collector"
)

// DefaultKey is the list tasks are pushed onto.
const DefaultKey = "collector:tasks"

// Queue pushes JSON-encoded tasks with LPUSH and pops them with BRPOP, so
// tasks are served in submission order.
type Queue struct {
	client  redis.UniversalClient
	key     string
	pollFor time.Duration
}

// NewQueue wraps client. An empty key uses DefaultKey.
func NewQueue(client redis.UniversalClient, key string) *Queue {
	if key == "" {
		key = DefaultKey
	}
	return &Queue{client: client, key: key, pollFor: 5 * time.Second}
}

// Enqueue appends a task.
func (q *Queue) Enqueue(ctx context.Context, task collector.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return collector.Unavailable("enqueue task", err)
	}
	return nil
}

// Dequeue blocks until a task is available or ctx ends.
func (q *Queue) Dequeue(ctx context.Context) (collector.Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return collector.Task{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		vals, err := q.client.BRPop(ctx, q.pollFor, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return collector.Task{}, fmt.Errorf("dequeue canceled: %w", ctxErr)
			}
			return collector.Task{}, collector.Unavailable("dequeue task", err)
		}
		var task collector.Task
		if err := json.Unmarshal([]byte(vals[1]), &task); err != nil {
			return collector.Task{}, fmt.Errorf("decode task: %w", err)
		}
		return task, nil
	}
}

// Len reports queued tasks.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, collector.Unavailable("queue length", err)
	}
	return n, nil
}

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/insights-collector/internal/collector"
)

// ResultQueue pushes webhook payloads onto webhook:results:{topic}:{job_id}.
// Pop uses BRPOP, so the newest payload is returned first. Redis rounds
// blocking timeouts below one second up to one second.
type ResultQueue struct {
	client redis.UniversalClient
}

// NewResultQueue wraps an existing client.
func NewResultQueue(client redis.UniversalClient) *ResultQueue {
	return &ResultQueue{client: client}
}

// Push appends payload and refreshes the list TTL.
func (q *ResultQueue) Push(ctx context.Context, topic, jobID string, payload json.RawMessage, ttl time.Duration) error {
	key := resultsKey(topic, jobID)
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, []byte(payload))
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return collector.Unavailable("push webhook result", err)
	}
	return nil
}

// Pop blocks up to timeout. ok is false when nothing arrived in time.
func (q *ResultQueue) Pop(ctx context.Context, topic, jobID string, timeout time.Duration) (json.RawMessage, bool, error) {
	vals, err := q.client.BRPop(ctx, timeout, resultsKey(topic, jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, false, ctxErr
		}
		return nil, false, collector.Unavailable("wait for webhook result", err)
	}
	if len(vals) != 2 {
		return nil, false, nil
	}
	return json.RawMessage(vals[1]), true, nil
}

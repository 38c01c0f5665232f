package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/insights-collector/internal/collector"
)

const fieldJobID = "job_id"

// CorrelationStore keeps each mapping in a hash at webhook:corr:{topic}:{id}.
type CorrelationStore struct {
	client redis.UniversalClient
}

// NewCorrelationStore wraps an existing client.
func NewCorrelationStore(client redis.UniversalClient) *CorrelationStore {
	return &CorrelationStore{client: client}
}

// Register replaces the mapping and its metadata and refreshes the TTL.
func (s *CorrelationStore) Register(
	ctx context.Context,
	topic, correlationID, jobID string,
	metadata map[string]string,
	ttl time.Duration,
) error {
	key := correlationKey(topic, correlationID)
	fields := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		fields[k] = v
	}
	fields[fieldJobID] = jobID
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return collector.Unavailable("register correlation", err)
	}
	return nil
}

// Resolve looks the mapping up without consuming it.
func (s *CorrelationStore) Resolve(ctx context.Context, topic, correlationID string) (collector.Correlation, error) {
	vals, err := s.client.HGetAll(ctx, correlationKey(topic, correlationID)).Result()
	if err != nil {
		return collector.Correlation{}, collector.Unavailable("resolve correlation", err)
	}
	jobID := vals[fieldJobID]
	if jobID == "" {
		return collector.Correlation{}, collector.ErrNotFound
	}
	delete(vals, fieldJobID)
	return collector.Correlation{JobID: jobID, Metadata: vals}, nil
}

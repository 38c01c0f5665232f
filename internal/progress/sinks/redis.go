package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/insights-collector/internal/progress"
)

// DefaultChannelPrefix namespaces per-job channels.
const DefaultChannelPrefix = "progress"

// RedisSink publishes every event as JSON on {prefix}:{job_id} so live-update
// feeds can subscribe to a single job.
type RedisSink struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisSink builds a sink. An empty prefix uses DefaultChannelPrefix.
func NewRedisSink(client redis.UniversalClient, prefix string) *RedisSink {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisSink{client: client, prefix: prefix}
}

// Channel returns the channel name for jobID.
func (s *RedisSink) Channel(jobID string) string {
	return s.prefix + ":" + jobID
}

// Consume publishes the batch in one pipeline, preserving event order.
func (s *RedisSink) Consume(ctx context.Context, batch []progress.Event) error {
	if len(batch) == 0 {
		return nil
	}
	var encodeErrs []error
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, evt := range batch {
			data, err := json.Marshal(evt)
			if err != nil {
				encodeErrs = append(encodeErrs, fmt.Errorf("encode %s event for %s: %w", evt.Type, evt.JobID, err))
				continue
			}
			pipe.Publish(ctx, s.Channel(evt.JobID), data)
		}
		return nil
	})
	if err != nil {
		encodeErrs = append(encodeErrs, fmt.Errorf("publish progress events: %w", err))
	}
	return errors.Join(encodeErrs...)
}

// Close is a no-op; the client is owned by the caller.
func (s *RedisSink) Close(context.Context) error {
	return nil
}

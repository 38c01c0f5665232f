package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/insights-collector/internal/collector"
)

func newQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), ContextTimeoutEnabled: true})
	t.Cleanup(func() { _ = client.Close() })
	return NewQueue(client, "")
}

func TestQueueIsFIFO(t *testing.T) {
	t.Parallel()

	q := newQueue(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, collector.Task{
			JobID:       id,
			Source:      collector.SourceConfig{Type: collector.SourceAmazon, Identifiers: []string{"B0ABCDEFGH"}},
			Credentials: collector.Credentials{UserID: "7"},
		}))
	}
	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	for _, want := range []string{"a", "b", "c"} {
		task, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, want, task.JobID)
		require.Equal(t, []string{"B0ABCDEFGH"}, task.Source.Identifiers)
		require.Equal(t, "7", task.Credentials.UserID)
	}
}

func TestQueueDequeueHonoursContext(t *testing.T) {
	t.Parallel()

	q := newQueue(t)
	q.pollFor = time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := q.Dequeue(ctx)
	require.Error(t, err)
	require.Less(t, time.Since(start), 3*time.Second)
}

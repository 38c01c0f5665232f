package wait

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/insights-collector/internal/collector"
	"github.com/JakeFAU/insights-collector/internal/storage/memory"
)

func TestWaitReceivesLaterDelivery(t *testing.T) {
	t.Parallel()

	w := New(memory.NewResultQueue(nil), time.Minute)
	ctx := context.Background()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = w.Deliver(ctx, "products", "job-1", json.RawMessage(`{"rows":[1,2]}`))
	}()

	payload, err := w.WaitForResult(ctx, "products", "job-1", 2*time.Second)
	require.NoError(t, err)
	require.JSONEq(t, `{"rows":[1,2]}`, string(payload))
}

func TestWaitTimesOut(t *testing.T) {
	t.Parallel()

	w := New(memory.NewResultQueue(nil), 0)
	start := time.Now()
	_, err := w.WaitForResult(context.Background(), "products", "job-2", 30*time.Millisecond)
	require.ErrorIs(t, err, ErrTimedOut)
	require.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)

	_, err = w.WaitForResult(context.Background(), "products", "job-2", 0)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrTimedOut)
}

type brokenQueue struct{}

func (brokenQueue) Push(context.Context, string, string, json.RawMessage, time.Duration) error {
	return collector.Unavailable("push", errors.New("refused"))
}

func (brokenQueue) Pop(context.Context, string, string, time.Duration) (json.RawMessage, bool, error) {
	return nil, false, collector.Unavailable("pop", errors.New("refused"))
}

func TestWaitSurfacesInfrastructureErrors(t *testing.T) {
	t.Parallel()

	w := New(brokenQueue{}, time.Minute)
	require.ErrorIs(t, w.Deliver(context.Background(), "t", "j", json.RawMessage(`1`)),
		collector.ErrInfrastructureUnavailable)
	_, err := w.WaitForResult(context.Background(), "t", "j", time.Second)
	require.ErrorIs(t, err, collector.ErrInfrastructureUnavailable)
	require.NotErrorIs(t, err, ErrTimedOut)
}

package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/insights-collector/internal/collector"
	"github.com/JakeFAU/insights-collector/internal/fanin"
	queuemem "github.com/JakeFAU/insights-collector/internal/queue/memory"
	"github.com/JakeFAU/insights-collector/internal/storage/memory"
	"github.com/JakeFAU/insights-collector/internal/worker"
)

type fixedIDs struct{ id string }

func (f fixedIDs) NewID() (string, error) { return f.id, nil }

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type failingQueue struct {
	mu    sync.Mutex
	fails map[collector.SourceType]bool
	tasks []collector.Task
}

func (q *failingQueue) Enqueue(_ context.Context, task collector.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fails[task.Source.Type] {
		return errors.New("queue full")
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *failingQueue) Dequeue(ctx context.Context) (collector.Task, error) {
	<-ctx.Done()
	return collector.Task{}, ctx.Err()
}

type captureFinalizer struct {
	mu   sync.Mutex
	done []collector.Completion
}

func (f *captureFinalizer) Finalize(_ context.Context, c collector.Completion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done = append(f.done, c)
	return nil
}

func (f *captureFinalizer) completions() []collector.Completion {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]collector.Completion(nil), f.done...)
}

type okScraper struct{}

func (okScraper) Scrape(_ context.Context, task collector.Task) (json.RawMessage, error) {
	return json.Marshal(map[string]string{"source": string(task.Source.Type)})
}

func TestSubmitValidatesRequest(t *testing.T) {
	t.Parallel()

	d := New(&failingQueue{}, fanin.New(memory.NewJobStateStore(nil)), fixedIDs{id: "x"}, nil, nil, nil)
	ctx := context.Background()

	_, err := d.Submit(ctx, collector.JobRequest{})
	require.ErrorIs(t, err, ErrInvalidJob)

	_, err = d.Submit(ctx, collector.JobRequest{Sources: []collector.SourceConfig{{Type: ""}}})
	require.ErrorIs(t, err, ErrInvalidJob)

	_, err = d.Submit(ctx, collector.JobRequest{Sources: []collector.SourceConfig{
		{Type: collector.SourceGoogle}, {Type: collector.SourceGoogle},
	}})
	require.ErrorIs(t, err, ErrInvalidJob)
}

func TestSubmitEnqueuesOneTaskPerSource(t *testing.T) {
	t.Parallel()

	queue := &failingQueue{}
	store := memory.NewJobStateStore(nil)
	clock := fakeClock{now: time.Unix(1700000000, 0)}
	d := New(queue, fanin.New(store), fixedIDs{id: "job-gen"}, clock, nil, zap.NewNop())

	jobID, err := d.Submit(context.Background(), collector.JobRequest{
		Credentials: collector.Credentials{UserID: "u-9"},
		Sources: []collector.SourceConfig{
			{Type: collector.SourceTrustpilot, URLs: []string{"https://www.trustpilot.com/review/acme.com"}},
			{Type: collector.SourceAmazon, Identifiers: []string{"B0ABCDEFGH"}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "job-gen", jobID)
	require.Len(t, queue.tasks, 2)
	for _, task := range queue.tasks {
		require.Equal(t, "job-gen", task.JobID)
		require.Equal(t, "u-9", task.Credentials.UserID)
		require.Equal(t, int64(1700000000), task.Submitted)
	}

	state, err := store.Get(context.Background(), "job-gen")
	require.NoError(t, err)
	require.Equal(t, 2, state.Expected)
	require.Zero(t, state.Completed)
}

func TestSubmitRecordsEnqueueFailureAsErrorResult(t *testing.T) {
	t.Parallel()

	queue := &failingQueue{fails: map[collector.SourceType]bool{collector.SourceGoogle: true}}
	store := memory.NewJobStateStore(nil)
	d := New(queue, fanin.New(store), fixedIDs{}, nil, nil, nil)

	jobID, err := d.Submit(context.Background(), collector.JobRequest{
		JobID: "job-caller",
		Sources: []collector.SourceConfig{
			{Type: collector.SourceGoogle},
			{Type: collector.SourceDruni},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "job-caller", jobID)
	require.Len(t, queue.tasks, 1)

	state, err := store.Get(context.Background(), "job-caller")
	require.NoError(t, err)
	require.Equal(t, 1, state.Completed)
	require.Contains(t, state.Results[collector.SourceGoogle].Message(), "enqueue failed")
}

func TestRunProcessesJobEndToEnd(t *testing.T) {
	t.Parallel()

	queue := queuemem.NewQueue(16)
	finalizer := &captureFinalizer{}
	coordinator := fanin.New(memory.NewJobStateStore(nil), fanin.WithFinalizers(finalizer))
	workers := make([]*worker.Worker, 0, 3)
	for i := 0; i < 3; i++ {
		workers = append(workers, worker.New(worker.Deps{
			Queue:    queue,
			Reporter: coordinator,
			Scraper:  okScraper{},
		}, worker.Config{}, zap.NewNop()))
	}
	d := New(queue, coordinator, fixedIDs{id: "job-e2e"}, nil, workers, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopped := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(stopped)
	}()

	_, err := d.Submit(ctx, collector.JobRequest{Sources: []collector.SourceConfig{
		{Type: collector.SourceGoogle},
		{Type: collector.SourceTrustpilot},
		{Type: collector.SourceTripadvisor},
		{Type: collector.SourceDruni},
	}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(finalizer.completions()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	completion := finalizer.completions()[0]
	require.Equal(t, "job-e2e", completion.JobID)
	require.Len(t, completion.Results, 4)
	require.JSONEq(t, `{"source":"druni"}`, string(completion.Results[collector.SourceDruni].Payload()))

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

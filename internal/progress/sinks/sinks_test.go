package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/insights-collector/internal/collector"
	"github.com/JakeFAU/insights-collector/internal/progress"
	"github.com/JakeFAU/insights-collector/internal/store"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func jobBatch(jobID string) []progress.Event {
	return []progress.Event{
		{Type: progress.EventJobStarted, JobID: jobID, TS: t0, Expected: 2},
		{
			Type: progress.EventSourceComplete, JobID: jobID, TS: t0.Add(time.Second),
			SourceType: collector.SourceTrustpilot, Outcome: progress.OutcomeSuccess, Completed: 1, Expected: 2,
		},
		{
			Type: progress.EventSourceComplete, JobID: jobID, TS: t0.Add(2 * time.Second),
			SourceType: collector.SourceGoogle, Outcome: progress.OutcomeError, Completed: 2, Expected: 2,
		},
		{
			Type: progress.EventJobCompleted, JobID: jobID, TS: t0.Add(10 * time.Second),
			Results: map[collector.SourceType]collector.Result{
				collector.SourceTrustpilot: collector.Success(json.RawMessage(`"gs://a"`)),
				collector.SourceGoogle:     collector.Failure("timeout"),
			},
		},
	}
}

func TestPrometheusSinkRecordsLifecycle(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), jobBatch("job-1")))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{Type: progress.EventError, JobID: "job-1", TS: t0, Message: "x"},
	}))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.jobsStarted), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("partial")), 1e-9)
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.jobsRunning), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.sources.WithLabelValues("google", "error")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.sources.WithLabelValues("trustpilot", "success")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.errors), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.jobRuntime, "collector_job_runtime_seconds"))

	_, err = NewPrometheusSink(reg)
	require.Error(t, err, "duplicate registration must fail")
}

func TestStoreSinkCollapsesProgress(t *testing.T) {
	t.Parallel()

	repo := &fakeJobRepo{}
	sink := NewStoreSink(repo, nil)
	require.NoError(t, sink.Consume(context.Background(), jobBatch("job-1")))

	require.Equal(t, []string{"job-1"}, repo.starts)
	require.Equal(t, map[string]int{"job-1": 2}, repo.progress)
	require.Equal(t, 1, repo.updates)
}

func TestStoreSinkJoinsErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeJobRepo{err: errors.New("db down")}
	err := NewStoreSink(repo, nil).Consume(context.Background(), jobBatch("job-1"))
	require.ErrorContains(t, err, "persist start of job-1")
	require.ErrorContains(t, err, "persist progress of job-1")
}

func TestLogSinkLogsErrorsAtWarn(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{Type: progress.EventJobStarted, JobID: "job-1", TS: t0, Expected: 2},
		{Type: progress.EventError, JobID: "job-1", TS: t0, Message: "enqueue failed"},
	}))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zapcore.InfoLevel, entries[0].Level)
	require.Equal(t, zapcore.WarnLevel, entries[1].Level)
	require.Equal(t, "enqueue failed", entries[1].ContextMap()["message"])
}

func TestRedisSinkPublishesPerJobChannel(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sink := NewRedisSink(client, "")
	require.Equal(t, "progress:job-9", sink.Channel("job-9"))

	ctx := context.Background()
	sub := client.Subscribe(ctx, sink.Channel("job-9"))
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, sink.Consume(ctx, jobBatch("job-9")))

	ch := sub.Channel()
	var got []progress.EventType
	for len(got) < 4 {
		select {
		case msg := <-ch:
			var evt progress.Event
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &evt))
			got = append(got, evt.Type)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d of 4 events", len(got))
		}
	}
	require.Equal(t, []progress.EventType{
		progress.EventJobStarted,
		progress.EventSourceComplete,
		progress.EventSourceComplete,
		progress.EventJobCompleted,
	}, got)
}

type fakeJobRepo struct {
	mu       sync.Mutex
	err      error
	starts   []string
	progress map[string]int
	updates  int
}

func (f *fakeJobRepo) UpsertJobStart(_ context.Context, jobID string, _ int, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.starts = append(f.starts, jobID)
	return nil
}

func (f *fakeJobRepo) UpdateProgress(_ context.Context, jobID string, completed int, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.progress == nil {
		f.progress = make(map[string]int)
	}
	f.progress[jobID] = completed
	f.updates++
	return nil
}

func (f *fakeJobRepo) CompleteJob(context.Context, string, store.JobRunStatus, int, json.RawMessage, time.Time) error {
	return nil
}

func (f *fakeJobRepo) GetJob(context.Context, string) (store.JobRun, error) {
	return store.JobRun{}, store.ErrNotFound
}

func (f *fakeJobRepo) ListJobs(context.Context, *store.JobRunStatus, int, int) ([]store.JobRun, error) {
	return nil, nil
}

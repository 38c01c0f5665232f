package fanin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/insights-collector/internal/collector"
	"github.com/JakeFAU/insights-collector/internal/progress"
	pubmemory "github.com/JakeFAU/insights-collector/internal/publisher/memory"
	"github.com/JakeFAU/insights-collector/internal/storage/memory"
	"github.com/JakeFAU/insights-collector/internal/store"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) ofType(typ progress.EventType) []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []progress.Event
	for _, evt := range r.events {
		if evt.Type == typ {
			out = append(out, evt)
		}
	}
	return out
}

type countingFinalizer struct {
	mu          sync.Mutex
	completions []collector.Completion
	err         error
}

func (f *countingFinalizer) Finalize(ctx context.Context, c collector.Completion) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completions = append(f.completions, c)
	return f.err
}

func (f *countingFinalizer) calls() []collector.Completion {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]collector.Completion(nil), f.completions...)
}

func TestTwoSourceScenario(t *testing.T) {
	t.Parallel()

	emitter := &recordingEmitter{}
	fin := &countingFinalizer{}
	c := New(memory.NewJobStateStore(nil), WithEmitter(emitter), WithFinalizers(fin))
	ctx := context.Background()

	require.NoError(t, c.StartJob(ctx, "job-1", 2))
	require.Len(t, emitter.ofType(progress.EventJobStarted), 1)

	require.NoError(t, c.ReportSourceComplete(ctx, "job-1", collector.SourceTrustpilot,
		collector.Success(json.RawMessage(`"s3://a"`))))
	state, err := c.State(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, 1, state.Completed)
	require.Empty(t, emitter.ofType(progress.EventJobCompleted))

	require.NoError(t, c.ReportSourceComplete(ctx, "job-1", collector.SourceGoogle, collector.Failure("timeout")))

	done := emitter.ofType(progress.EventJobCompleted)
	require.Len(t, done, 1)
	encoded, err := json.Marshal(done[0].Results)
	require.NoError(t, err)
	require.JSONEq(t, `{"trustpilot":{"success":"s3://a"},"google":{"error":"timeout"}}`, string(encoded))

	progressEvents := emitter.ofType(progress.EventSourceComplete)
	require.Len(t, progressEvents, 2)
	require.Equal(t, 2, progressEvents[1].Completed)
	require.Equal(t, progress.OutcomeError, progressEvents[1].Outcome)

	require.Len(t, fin.calls(), 1)
	require.Equal(t, 1, fin.calls()[0].Failed())

	_, err = c.State(ctx, "job-1")
	require.ErrorIs(t, err, collector.ErrNotFound)
}

func TestReportForUnknownJobIsNoop(t *testing.T) {
	t.Parallel()

	emitter := &recordingEmitter{}
	jobs := memory.NewJobStateStore(nil)
	c := New(jobs, WithEmitter(emitter))

	require.NoError(t, c.ReportSourceComplete(context.Background(), "ghost", collector.SourceAmazon, collector.Failure("x")))
	require.Empty(t, emitter.ofType(progress.EventSourceComplete))
	_, err := jobs.Get(context.Background(), "ghost")
	require.ErrorIs(t, err, collector.ErrNotFound)
}

func TestDuplicateDeliveryNeverOvercounts(t *testing.T) {
	t.Parallel()

	fin := &countingFinalizer{}
	c := New(memory.NewJobStateStore(nil), WithFinalizers(fin))
	ctx := context.Background()
	require.NoError(t, c.StartJob(ctx, "job-dup", 2))

	require.NoError(t, c.ReportSourceComplete(ctx, "job-dup", collector.SourceAmazon, collector.Failure("first")))
	require.NoError(t, c.ReportSourceComplete(ctx, "job-dup", collector.SourceAmazon,
		collector.Success(json.RawMessage(`{"rows":3}`))))
	state, err := c.State(ctx, "job-dup")
	require.NoError(t, err)
	require.Equal(t, 1, state.Completed)

	require.NoError(t, c.ReportSourceComplete(ctx, "job-dup", collector.SourceGoogle, collector.Failure("x")))
	require.Len(t, fin.calls(), 1)
	require.True(t, fin.calls()[0].Results[collector.SourceAmazon].IsSuccess())

	// A straggler after finalization is ignored.
	require.NoError(t, c.ReportSourceComplete(ctx, "job-dup", collector.SourceGoogle, collector.Failure("late")))
	require.Len(t, fin.calls(), 1)
}

func TestConcurrentReportsFinalizeExactlyOnce(t *testing.T) {
	t.Parallel()

	for _, n := range []int{2, 3, 10, 50} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			t.Parallel()

			fin := &countingFinalizer{}
			c := New(memory.NewJobStateStore(nil), WithFinalizers(fin))
			ctx := context.Background()
			require.NoError(t, c.StartJob(ctx, "job", n))

			var wg sync.WaitGroup
			var failures atomic.Int32
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					src := collector.SourceType(fmt.Sprintf("src-%d", i))
					if err := c.ReportSourceComplete(ctx, "job", src, collector.Failure("x")); err != nil {
						failures.Add(1)
					}
				}(i)
			}
			wg.Wait()
			require.Zero(t, failures.Load())
			calls := fin.calls()
			require.Len(t, calls, 1)
			require.Len(t, calls[0].Results, n)
		})
	}
}

func TestFinalizerErrorsDoNotUndoFinalization(t *testing.T) {
	t.Parallel()

	failing := &countingFinalizer{err: errors.New("webhook down")}
	after := &countingFinalizer{}
	c := New(memory.NewJobStateStore(nil), WithFinalizers(failing, nil, after))
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, c.StartJob(ctx, "job-f", 1))
	cancel()
	// The reporting request is gone, but finalizers still run.
	require.NoError(t, c.ReportSourceComplete(ctx, "job-f", collector.SourceDruni, collector.Failure("x")))
	require.Len(t, failing.calls(), 1)
	require.Len(t, after.calls(), 1)
	_, err := c.State(context.Background(), "job-f")
	require.ErrorIs(t, err, collector.ErrNotFound)
}

func TestStartJobValidates(t *testing.T) {
	t.Parallel()

	c := New(memory.NewJobStateStore(nil))
	require.Error(t, c.StartJob(context.Background(), "", 1))
	require.Error(t, c.StartJob(context.Background(), "job", 0))
}

type failingStore struct{}

func (failingStore) Create(context.Context, string, int, time.Duration) error {
	return collector.Unavailable("create job state", errors.New("dial tcp: refused"))
}

func (failingStore) Record(context.Context, string, collector.SourceType, collector.Result) (collector.RecordOutcome, error) {
	return collector.RecordOutcome{}, collector.Unavailable("record", errors.New("dial tcp: refused"))
}

func (failingStore) Get(context.Context, string) (collector.JobState, error) {
	return collector.JobState{}, collector.Unavailable("get", errors.New("dial tcp: refused"))
}

func TestStoreFailuresSurface(t *testing.T) {
	t.Parallel()

	emitter := &recordingEmitter{}
	c := New(failingStore{}, WithEmitter(emitter))
	ctx := context.Background()
	require.ErrorIs(t, c.StartJob(ctx, "job", 1), collector.ErrInfrastructureUnavailable)
	require.ErrorIs(t, c.ReportSourceComplete(ctx, "job", collector.SourceGoogle, collector.Failure("x")),
		collector.ErrInfrastructureUnavailable)
	require.Len(t, emitter.ofType(progress.EventError), 1)
	_, err := c.State(ctx, "job")
	require.ErrorIs(t, err, collector.ErrInfrastructureUnavailable)
}

func TestRepositoryAndPublisherFinalizers(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	pub := pubmemory.New()
	c := New(memory.NewJobStateStore(nil), WithFinalizers(
		NewRepositoryFinalizer(repo),
		NewPublisherFinalizer(pub, "job-completions"),
	))
	ctx := context.Background()
	require.NoError(t, c.StartJob(ctx, "job-r", 2))
	require.NoError(t, c.ReportSourceComplete(ctx, "job-r", collector.SourceGoogle,
		collector.Success(json.RawMessage(`"gs://b/1.json"`))))
	require.NoError(t, c.ReportSourceComplete(ctx, "job-r", collector.SourceAmazon, collector.Failure("blocked")))

	require.Equal(t, store.RunPartial, repo.status)
	require.Equal(t, 2, repo.completed)
	require.JSONEq(t, `{"google":{"success":"gs://b/1.json"},"amazon":{"error":"blocked"}}`, string(repo.results))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "job-completions", msgs[0].Topic)
	var decoded struct {
		JobID   string                     `json:"job_id"`
		Results map[string]json.RawMessage `json:"results"`
	}
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	require.Equal(t, "job-r", decoded.JobID)
	require.Len(t, decoded.Results, 2)

	require.Equal(t, "repository", finalizerName(NewRepositoryFinalizer(repo)))
	require.Contains(t, finalizerName(FinalizerFunc(func(context.Context, collector.Completion) error { return nil })),
		"FinalizerFunc")
}

type fakeRepo struct {
	mu        sync.Mutex
	status    store.JobRunStatus
	completed int
	results   json.RawMessage
}

func (f *fakeRepo) UpsertJobStart(context.Context, string, int, time.Time) error { return nil }

func (f *fakeRepo) UpdateProgress(context.Context, string, int, time.Time) error { return nil }

func (f *fakeRepo) CompleteJob(
	_ context.Context, _ string, status store.JobRunStatus, completed int, results json.RawMessage, _ time.Time,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.completed, f.results = status, completed, results
	return nil
}

func (f *fakeRepo) GetJob(context.Context, string) (store.JobRun, error) {
	return store.JobRun{}, store.ErrNotFound
}

func (f *fakeRepo) ListJobs(context.Context, *store.JobRunStatus, int, int) ([]store.JobRun, error) {
	return nil, nil
}

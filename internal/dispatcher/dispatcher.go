// Package dispatcher accepts jobs, starts their fan-in state and fans their
// sources out to the worker pool through the task queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/insights-collector/internal/clock/system"
	"github.com/JakeFAU/insights-collector/internal/collector"
	"github.com/JakeFAU/insights-collector/internal/worker"
)

// ErrInvalidJob rejects a job request that cannot be fanned out.
var ErrInvalidJob = errors.New("invalid job")

// JobStarter initialises fan-in state and receives completions. The fan-in
// coordinator implements it.
type JobStarter interface {
	collector.Reporter
	StartJob(ctx context.Context, jobID string, expected int) error
}

// Dispatcher fans out job sources to a pool of workers.
type Dispatcher struct {
	queue   collector.Queue
	jobs    JobStarter
	ids     collector.IDGenerator
	clock   collector.Clock
	logger  *zap.Logger
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(
	queue collector.Queue,
	jobs JobStarter,
	ids collector.IDGenerator,
	clock collector.Clock,
	workers []*worker.Worker,
	logger *zap.Logger,
) *Dispatcher {
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		jobs:    jobs,
		ids:     ids,
		clock:   clock,
		logger:  logger.Named("dispatcher"),
		workers: workers,
	}
}

// Run starts all workers and blocks until the context finishes and every
// worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Dispatch enqueues one source task. It returns once the task is queued; the
// error is non-nil only when the task could not be enqueued.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	jobID string,
	source collector.SourceConfig,
	creds collector.Credentials,
) error {
	task := collector.Task{
		JobID:       jobID,
		Source:      source,
		Credentials: creds,
		Attempt:     1,
		Submitted:   d.clock.Now().Unix(),
	}
	if err := d.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Submit validates req, starts its fan-in state and dispatches every source.
// A source that cannot be enqueued is recorded as an error result so the job
// still finalizes with one entry per source.
func (d *Dispatcher) Submit(ctx context.Context, req collector.JobRequest) (string, error) {
	if err := validate(req); err != nil {
		return "", err
	}
	jobID := req.JobID
	if jobID == "" {
		id, err := d.ids.NewID()
		if err != nil {
			return "", fmt.Errorf("generate job id: %w", err)
		}
		jobID = id
	}
	if err := d.jobs.StartJob(ctx, jobID, len(req.Sources)); err != nil {
		return "", fmt.Errorf("start job %s: %w", jobID, err)
	}
	logger := d.logger.With(zap.String("job_id", jobID))
	logger.Info("job submitted", zap.Int("sources", len(req.Sources)))

	for _, source := range req.Sources {
		err := d.Dispatch(ctx, jobID, source, req.Credentials)
		if err == nil {
			continue
		}
		logger.Error("dispatch source failed", zap.String("source_type", string(source.Type)), zap.Error(err))
		result := collector.Failure(fmt.Sprintf("enqueue failed: %v", err))
		if reportErr := d.jobs.ReportSourceComplete(context.WithoutCancel(ctx), jobID, source.Type, result); reportErr != nil {
			logger.Error("record enqueue failure", zap.String("source_type", string(source.Type)), zap.Error(reportErr))
		}
	}
	return jobID, nil
}

func validate(req collector.JobRequest) error {
	if len(req.Sources) == 0 {
		return fmt.Errorf("%w: at least one source is required", ErrInvalidJob)
	}
	seen := make(map[collector.SourceType]struct{}, len(req.Sources))
	for i, source := range req.Sources {
		if source.Type == "" {
			return fmt.Errorf("%w: source %d has no type", ErrInvalidJob, i)
		}
		if _, dup := seen[source.Type]; dup {
			return fmt.Errorf("%w: duplicate source %q", ErrInvalidJob, source.Type)
		}
		seen[source.Type] = struct{}{}
	}
	return nil
}

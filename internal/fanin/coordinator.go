// Package fanin tracks per-job source completions and finalizes each job
// exactly once, when the last expected source reports.
package fanin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/insights-collector/internal/clock/system"
	"github.com/JakeFAU/insights-collector/internal/collector"
	"github.com/JakeFAU/insights-collector/internal/metrics"
	"github.com/JakeFAU/insights-collector/internal/progress"
)

const (
	defaultStateTTL        = 24 * time.Hour
	defaultFinalizeTimeout = 30 * time.Second
)

// Coordinator implements collector.Reporter over a JobStateStore. It holds no
// locks of its own; atomicity lives in the store.
type Coordinator struct {
	store           collector.JobStateStore
	emitter         progress.Emitter
	finalizers      []collector.Finalizer
	clock           collector.Clock
	logger          *zap.Logger
	stateTTL        time.Duration
	finalizeTimeout time.Duration
}

var _ collector.Reporter = (*Coordinator)(nil)

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithEmitter sets the progress emitter.
func WithEmitter(e progress.Emitter) Option {
	return func(c *Coordinator) {
		if e != nil {
			c.emitter = e
		}
	}
}

// WithFinalizers appends finalizers, run in order after fan-in completes.
func WithFinalizers(fs ...collector.Finalizer) Option {
	return func(c *Coordinator) {
		for _, f := range fs {
			if f != nil {
				c.finalizers = append(c.finalizers, f)
			}
		}
	}
}

// WithClock overrides the clock.
func WithClock(clock collector.Clock) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStateTTL bounds how long unfinished job state is kept.
func WithStateTTL(ttl time.Duration) Option {
	return func(c *Coordinator) {
		if ttl > 0 {
			c.stateTTL = ttl
		}
	}
}

// WithFinalizeTimeout bounds the whole finalizer chain for one job.
func WithFinalizeTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.finalizeTimeout = d
		}
	}
}

// New builds a Coordinator over store.
func New(store collector.JobStateStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:           store,
		emitter:         progress.NopEmitter{},
		clock:           system.New(),
		logger:          zap.NewNop(),
		stateTTL:        defaultStateTTL,
		finalizeTimeout: defaultFinalizeTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("fanin")
	return c
}

// StartJob initialises state for jobID. It must precede any report for the job.
func (c *Coordinator) StartJob(ctx context.Context, jobID string, expected int) error {
	if jobID == "" {
		return errors.New("job id is required")
	}
	if expected <= 0 {
		return fmt.Errorf("expected source count must be > 0, got %d", expected)
	}
	if err := c.store.Create(ctx, jobID, expected, c.stateTTL); err != nil {
		return fmt.Errorf("start job %s: %w", jobID, err)
	}
	c.emitter.Emit(progress.Event{
		Type:     progress.EventJobStarted,
		JobID:    jobID,
		TS:       c.clock.Now(),
		Expected: expected,
	})
	c.logger.Info("job started", zap.String("job_id", jobID), zap.Int("expected", expected))
	return nil
}

// ReportSourceComplete records one source's result. Reports for unknown or
// finalized jobs are logged and dropped. The caller whose report completes the
// job runs the finalizers; their failures are logged, not returned.
func (c *Coordinator) ReportSourceComplete(
	ctx context.Context,
	jobID string,
	source collector.SourceType,
	result collector.Result,
) error {
	out, err := c.store.Record(ctx, jobID, source, result)
	if err != nil {
		c.emitter.Emit(progress.Event{
			Type:       progress.EventError,
			JobID:      jobID,
			TS:         c.clock.Now(),
			SourceType: source,
			Message:    "failed to record source result",
		})
		return fmt.Errorf("record %s for job %s: %w", source, jobID, err)
	}
	if !out.Found {
		c.logger.Info("completion for unknown or finalized job ignored",
			zap.String("job_id", jobID),
			zap.String("source_type", string(source)))
		return nil
	}
	if !out.Counted {
		c.logger.Info("duplicate completion overwrote earlier result",
			zap.String("job_id", jobID),
			zap.String("source_type", string(source)))
	}
	c.emitter.Emit(progress.Event{
		Type:       progress.EventSourceComplete,
		JobID:      jobID,
		TS:         c.clock.Now(),
		SourceType: source,
		Outcome:    progress.OutcomeOf(result),
		Completed:  out.Completed,
		Expected:   out.Expected,
		Message:    result.Message(),
	})
	if !out.Finalized {
		return nil
	}

	completion := collector.Completion{
		JobID:      jobID,
		Expected:   out.Expected,
		Results:    out.Results,
		FinishedAt: c.clock.Now(),
	}
	metrics.ObserveJobFinalized()
	c.emitter.Emit(progress.Event{
		Type:      progress.EventJobCompleted,
		JobID:     jobID,
		TS:        completion.FinishedAt,
		Completed: out.Completed,
		Expected:  out.Expected,
		Results:   out.Results,
	})
	c.logger.Info("job finalized",
		zap.String("job_id", jobID),
		zap.Int("expected", out.Expected),
		zap.Int("failed", completion.Failed()))
	c.finalize(ctx, completion)
	return nil
}

// State returns in-flight state or collector.ErrNotFound once finalized.
func (c *Coordinator) State(ctx context.Context, jobID string) (collector.JobState, error) {
	state, err := c.store.Get(ctx, jobID)
	if err != nil {
		return collector.JobState{}, fmt.Errorf("job state %s: %w", jobID, err)
	}
	return state, nil
}

// finalize runs detached from the reporting request so a caller hanging up
// does not cut the chain short.
func (c *Coordinator) finalize(ctx context.Context, completion collector.Completion) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.finalizeTimeout)
	defer cancel()
	for _, f := range c.finalizers {
		if err := f.Finalize(ctx, completion); err != nil {
			name := finalizerName(f)
			metrics.ObserveFinalizerError(name)
			c.logger.Error("finalizer failed",
				zap.String("job_id", completion.JobID),
				zap.String("finalizer", name),
				zap.Error(err))
		}
	}
}

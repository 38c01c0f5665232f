// Package worker executes source tasks pulled from the task queue. Local
// sources run the scraper and report straight to the fan-in coordinator;
// provider sources trigger the external provider and register a correlation
// so the provider's webhook can be tied back to the job.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/insights-collector/internal/clock/system"
	"github.com/JakeFAU/insights-collector/internal/collector"
	"github.com/JakeFAU/insights-collector/internal/metrics"
	"github.com/JakeFAU/insights-collector/internal/policy/ratelimit"
	"github.com/JakeFAU/insights-collector/internal/policy/retry"
	"github.com/JakeFAU/insights-collector/internal/progress"
)

// skippedPayload is reported when discovery leaves nothing to collect.
var skippedPayload = json.RawMessage(`{"status":"skipped","message":"no valid identifiers"}`)

// Config controls Worker behavior.
type Config struct {
	// Modes selects local or provider execution per source; unlisted sources run locally.
	Modes map[collector.SourceType]collector.SourceMode
	// CallbackBaseURL is public_base_url joined with the API prefix.
	CallbackBaseURL string
	SharedSecret    string
	CorrelationTTL  time.Duration
	TaskTimeout     time.Duration
}

// Deps are the collaborators a Worker uses. Scraper, Provider and
// Correlations may be nil when no source needs them.
type Deps struct {
	Queue        collector.Queue
	Reporter     collector.Reporter
	Scraper      collector.Scraper
	Provider     collector.Provider
	Correlations collector.CorrelationStore
	Discoverers  map[collector.SourceType]collector.Discoverer
	Retry        *retry.Policy
	Limiter      *ratelimit.Limiter
	Emitter      progress.Emitter
	Clock        collector.Clock
}

// Worker consumes tasks until its context ends.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Retry == nil {
		deps.Retry = retry.New(retry.Config{})
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.NopEmitter{}
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if cfg.CorrelationTTL <= 0 {
		cfg.CorrelationTTL = time.Hour
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 5 * time.Minute
	}
	cfg.CallbackBaseURL = strings.TrimRight(cfg.CallbackBaseURL, "/")
	return &Worker{deps: deps, cfg: cfg, logger: logger.Named("worker")}
}

// Run blocks, consuming tasks until ctx ends or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		task, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, collector.ErrQueueClosed) {
				return
			}
			w.logger.Error("dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		w.Execute(ctx, task)
	}
}

// Execute runs one task. Any failure becomes that source's Error result; it
// never escapes to the caller.
func (w *Worker) Execute(ctx context.Context, task collector.Task) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	source := task.Source.Type
	mode := w.modeFor(source)
	logger := w.logger.With(
		zap.String("job_id", task.JobID),
		zap.String("source_type", string(source)),
		zap.String("mode", string(mode)),
	)
	w.deps.Emitter.Emit(progress.Event{
		Type:       progress.EventSourceStarted,
		JobID:      task.JobID,
		TS:         w.deps.Clock.Now(),
		SourceType: source,
	})

	taskCtx, cancel := context.WithTimeout(ctx, w.cfg.TaskTimeout)
	defer cancel()

	var (
		result   collector.Result
		complete = true
	)
	if mode == collector.ModeProvider {
		result, complete = w.runProvider(taskCtx, task, logger)
	} else {
		result = w.runLocal(taskCtx, task, logger)
	}
	if !complete {
		metrics.ObserveSourceTask(string(source), string(mode), "triggered")
		return
	}
	metrics.ObserveSourceTask(string(source), string(mode), progress.OutcomeOf(result))
	if err := w.deps.Reporter.ReportSourceComplete(context.WithoutCancel(ctx), task.JobID, source, result); err != nil {
		logger.Error("report source completion failed", zap.Error(err))
	}
}

func (w *Worker) modeFor(source collector.SourceType) collector.SourceMode {
	if mode, ok := w.cfg.Modes[source]; ok {
		return mode
	}
	return collector.ModeLocal
}

func (w *Worker) runLocal(ctx context.Context, task collector.Task, logger *zap.Logger) (result collector.Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("scraper panicked", zap.Any("panic", r))
			result = collector.Failure(fmt.Sprintf("source %s panicked: %v", task.Source.Type, r))
		}
	}()
	if w.deps.Scraper == nil {
		return collector.Failure("no scraper configured for local sources")
	}
	payload, err := w.deps.Scraper.Scrape(ctx, task)
	if err != nil {
		taskErr := &collector.SourceTaskError{Source: task.Source.Type, Err: err}
		logger.Warn("local source failed", zap.Error(taskErr))
		return collector.Failure(taskErr.Error())
	}
	return collector.Success(payload)
}

// runProvider returns complete=false once a correlation is registered; the
// result then arrives through the webhook.
func (w *Worker) runProvider(
	ctx context.Context,
	task collector.Task,
	logger *zap.Logger,
) (result collector.Result, complete bool) {
	source := task.Source.Type
	defer func() {
		if r := recover(); r != nil {
			logger.Error("provider source panicked", zap.Any("panic", r))
			result, complete = collector.Failure(fmt.Sprintf("source %s panicked: %v", source, r)), true
		}
	}()
	if w.deps.Provider == nil || w.deps.Correlations == nil {
		return collector.Failure(fmt.Sprintf("no provider configured for %s", source)), true
	}

	targets, err := w.targets(ctx, task, logger)
	if err != nil {
		taskErr := &collector.SourceTaskError{Source: source, Err: err}
		logger.Warn("discovery failed", zap.Error(taskErr))
		return collector.Failure(taskErr.Error()), true
	}
	if len(targets) == 0 && task.Source.Keyword == "" {
		logger.Info("no valid identifiers, skipping provider")
		return collector.Success(skippedPayload), true
	}

	req := collector.TriggerRequest{
		JobID:       task.JobID,
		Source:      task.Source,
		Targets:     targets,
		CallbackURL: w.cfg.CallbackBaseURL + "/webhooks/" + string(source),
		AuthHeader:  "Bearer " + w.cfg.SharedSecret,
	}
	var correlationID string
	err = w.deps.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := w.deps.Limiter.Wait(ctx, string(source)); err != nil {
			return err
		}
		id, err := w.deps.Provider.Trigger(ctx, req)
		if err != nil {
			logger.Warn("provider trigger attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		if id == "" {
			return retry.Permanent(errors.New("provider returned no correlation id"))
		}
		correlationID = id
		return nil
	})
	if err != nil {
		metrics.ObserveProviderTrigger(string(source), "error")
		triggerErr := &collector.ProviderTriggerError{Source: source, Err: err}
		logger.Error("provider trigger failed", zap.Error(triggerErr))
		return collector.Failure(triggerErr.Error()), true
	}
	metrics.ObserveProviderTrigger(string(source), "success")

	metadata := map[string]string{
		collector.MetaUserID:     task.Credentials.UserID,
		collector.MetaBrandName:  task.Credentials.BrandName,
		collector.MetaSourceType: string(source),
	}
	if err := w.deps.Correlations.Register(
		context.WithoutCancel(ctx), string(source), correlationID, task.JobID, metadata, w.cfg.CorrelationTTL,
	); err != nil {
		logger.Error("register correlation failed", zap.String("correlation_id", correlationID), zap.Error(err))
		return collector.Failure(fmt.Sprintf("register correlation: %v", err)), true
	}
	w.deps.Emitter.Emit(progress.Event{
		Type:       progress.EventProgress,
		JobID:      task.JobID,
		TS:         w.deps.Clock.Now(),
		SourceType: source,
		Message:    "provider run started: " + correlationID,
	})
	logger.Info("provider run started",
		zap.String("correlation_id", correlationID),
		zap.Int("targets", len(targets)))
	return collector.Result{}, false
}

func (w *Worker) targets(ctx context.Context, task collector.Task, logger *zap.Logger) ([]string, error) {
	if d, ok := w.deps.Discoverers[task.Source.Type]; ok && d != nil {
		targets, err := d.Discover(ctx, task.Source)
		if err != nil {
			return nil, fmt.Errorf("discover targets: %w", err)
		}
		logger.Debug("discovery resolved targets",
			zap.Int("identifiers", len(task.Source.Identifiers)),
			zap.Int("targets", len(targets)))
		return targets, nil
	}
	targets := make([]string, 0, len(task.Source.URLs)+len(task.Source.Identifiers))
	for _, raw := range append(append([]string(nil), task.Source.URLs...), task.Source.Identifiers...) {
		if v := strings.TrimSpace(raw); v != "" {
			targets = append(targets, v)
		}
	}
	return targets, nil
}

package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/insights-collector/internal/progress"
)

// PrometheusSink exports job lifecycle metrics.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    prometheus.Histogram
	sources       *prometheus.CounterVec
	errors        prometheus.Counter

	mu      sync.Mutex
	running map[string]time.Time
}

// NewPrometheusSink registers its collectors on reg (the default registerer when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collector_jobs_started_total",
			Help: "Jobs started.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_jobs_completed_total",
			Help: "Jobs finalized, partitioned by result (success, partial, error).",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "collector_jobs_running",
			Help: "Jobs started but not yet finalized by this process.",
		}),
		jobRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "collector_job_runtime_seconds",
			Help:    "Time from job_started to job_completed.",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		}),
		sources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_source_completions_total",
			Help: "Source completions partitioned by source type and outcome.",
		}, []string{"source_type", "outcome"}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collector_progress_errors_total",
			Help: "Error events emitted by the pipeline.",
		}),
		running: make(map[string]time.Time),
	}
	for _, c := range []prometheus.Collector{
		s.jobsStarted, s.jobsCompleted, s.jobsRunning, s.jobRuntime, s.sources, s.errors,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Type {
		case progress.EventJobStarted:
			s.jobsStarted.Inc()
			if s.start(evt) {
				s.jobsRunning.Inc()
			}
		case progress.EventSourceComplete:
			outcome := evt.Outcome
			if outcome == "" {
				outcome = progress.OutcomeSuccess
			}
			s.sources.WithLabelValues(string(evt.SourceType), outcome).Inc()
		case progress.EventJobCompleted:
			s.jobsCompleted.WithLabelValues(jobResult(evt)).Inc()
			if started, ok := s.finish(evt.JobID); ok {
				s.jobsRunning.Dec()
				s.jobRuntime.Observe(evt.TS.Sub(started).Seconds())
			}
		case progress.EventError:
			s.errors.Inc()
		}
	}
	return nil
}

func jobResult(evt progress.Event) string {
	failed := 0
	for _, r := range evt.Results {
		if r.IsError() {
			failed++
		}
	}
	switch {
	case failed == 0:
		return "success"
	case failed >= len(evt.Results):
		return "error"
	default:
		return "partial"
	}
}

func (s *PrometheusSink) start(evt progress.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[evt.JobID]; ok {
		return false
	}
	s.running[evt.JobID] = evt.TS
	return true
}

func (s *PrometheusSink) finish(jobID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	started, ok := s.running[jobID]
	delete(s.running, jobID)
	return started, ok
}

// Close is a no-op.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

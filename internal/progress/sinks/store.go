package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/insights-collector/internal/progress"
	"github.com/JakeFAU/insights-collector/internal/store"
)

// StoreSink persists job starts and progress counts. Final rows are written by
// the repository finalizer, not here.
type StoreSink struct {
	repo   store.JobRepository
	logger *zap.Logger
}

// NewStoreSink builds a sink over repo.
func NewStoreSink(repo store.JobRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

type progressMark struct {
	completed int
	at        time.Time
}

// Consume writes starts in order and collapses progress to the highest count
// per job so a burst of completions costs one UPDATE.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	marks := make(map[string]progressMark)
	var order []string
	var errs []error
	for _, evt := range batch {
		switch evt.Type {
		case progress.EventJobStarted:
			if err := s.repo.UpsertJobStart(ctx, evt.JobID, evt.Expected, evt.TS); err != nil {
				errs = append(errs, fmt.Errorf("persist start of %s: %w", evt.JobID, err))
			}
		case progress.EventSourceComplete, progress.EventProgress:
			if evt.Completed == 0 {
				continue
			}
			m, seen := marks[evt.JobID]
			if !seen {
				order = append(order, evt.JobID)
			}
			if evt.Completed > m.completed {
				m.completed = evt.Completed
			}
			if evt.TS.After(m.at) {
				m.at = evt.TS
			}
			marks[evt.JobID] = m
		}
	}
	for _, jobID := range order {
		m := marks[jobID]
		if err := s.repo.UpdateProgress(ctx, jobID, m.completed, m.at); err != nil {
			errs = append(errs, fmt.Errorf("persist progress of %s: %w", jobID, err))
		}
	}
	return errors.Join(errs...)
}

// Close is a no-op.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

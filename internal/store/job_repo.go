package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound signals that the requested job run does not exist.
var ErrNotFound = errors.New("job run not found")

// JobRunStatus mirrors the job_runs.status column.
type JobRunStatus string

// Job run statuses.
const (
	RunRunning JobRunStatus = "running"
	// RunSuccess means every source produced a payload.
	RunSuccess JobRunStatus = "success"
	// RunPartial means some sources failed.
	RunPartial JobRunStatus = "partial"
	// RunError means every source failed.
	RunError JobRunStatus = "error"
)

// ParseJobRunStatus validates a status filter.
func ParseJobRunStatus(raw string) (JobRunStatus, bool) {
	switch s := JobRunStatus(raw); s {
	case RunRunning, RunSuccess, RunPartial, RunError:
		return s, true
	default:
		return "", false
	}
}

// StatusFor derives the final status from failure counts.
func StatusFor(expected, failed int) JobRunStatus {
	switch {
	case failed == 0:
		return RunSuccess
	case failed >= expected:
		return RunError
	default:
		return RunPartial
	}
}

// JobRun is one row of job_runs.
type JobRun struct {
	JobID      string          `json:"job_id"`
	Status     JobRunStatus    `json:"status"`
	Expected   int             `json:"expected"`
	Completed  int             `json:"completed"`
	StartedAt  time.Time       `json:"started_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Results    json.RawMessage `json:"results,omitempty"`
}

// JobRepository persists job runs for the API and audit trail.
type JobRepository interface {
	// UpsertJobStart inserts the run as running; repeats are no-ops.
	UpsertJobStart(ctx context.Context, jobID string, expected int, startedAt time.Time) error
	// UpdateProgress raises completed to at least the given value.
	UpdateProgress(ctx context.Context, jobID string, completed int, at time.Time) error
	// CompleteJob stores the final status and results.
	CompleteJob(
		ctx context.Context,
		jobID string,
		status JobRunStatus,
		completed int,
		results json.RawMessage,
		finishedAt time.Time,
	) error
	// GetJob loads one run or returns ErrNotFound.
	GetJob(ctx context.Context, jobID string) (JobRun, error)
	// ListJobs returns runs newest first, optionally filtered by status.
	ListJobs(ctx context.Context, status *JobRunStatus, limit, offset int) ([]JobRun, error)
}

package collector

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing or expired record.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized rejects a webhook whose shared secret does not match.
	ErrUnauthorized = errors.New("unauthorized webhook")
	// ErrMissingPayload rejects a webhook without a body.
	ErrMissingPayload = errors.New("missing payload")
	// ErrUnresolvedCorrelation rejects a webhook that cannot be tied to a job.
	ErrUnresolvedCorrelation = errors.New("missing job_id/correlation_id")
	// ErrInfrastructureUnavailable marks store or broker outages.
	ErrInfrastructureUnavailable = errors.New("infrastructure unavailable")
	// ErrQueueClosed is returned by a task queue that will yield no more tasks.
	ErrQueueClosed = errors.New("queue closed")
)

// Unavailable wraps err so errors.Is(err, ErrInfrastructureUnavailable) holds.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrInfrastructureUnavailable, op, err)
}

// SourceTaskError is a failure inside one source's collaborator. It is recorded
// as that source's result and never aborts the job.
type SourceTaskError struct {
	Source SourceType
	Err    error
}

func (e *SourceTaskError) Error() string {
	return fmt.Sprintf("source %s failed: %v", e.Source, e.Err)
}

func (e *SourceTaskError) Unwrap() error { return e.Err }

// ProviderTriggerError is a failure to start an asynchronous provider run.
type ProviderTriggerError struct {
	Source SourceType
	Err    error
}

func (e *ProviderTriggerError) Error() string {
	return fmt.Sprintf("provider trigger failed for %s: %v", e.Source, e.Err)
}

func (e *ProviderTriggerError) Unwrap() error { return e.Err }

package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/insights-collector/internal/collector"
)

// EventType names a lifecycle milestone of a job.
type EventType string

// Supported event types.
const (
	EventJobStarted     EventType = "job_started"
	EventSourceStarted  EventType = "source_started"
	EventSourceComplete EventType = "source_complete"
	EventJobCompleted   EventType = "job_completed"
	EventProgress       EventType = "progress"
	EventError          EventType = "error"
)

// Source outcomes carried on source_complete events.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Event is one progress notification for a job. Subscribers receive it as JSON.
type Event struct {
	Type       EventType            `json:"type"`
	JobID      string               `json:"job_id"`
	TS         time.Time            `json:"ts"`
	SourceType collector.SourceType `json:"source_type,omitempty"`
	// Outcome is success or error on source_complete events.
	Outcome   string                                `json:"outcome,omitempty"`
	Completed int                                   `json:"completed,omitempty"`
	Expected  int                                   `json:"expected,omitempty"`
	Results   map[collector.SourceType]collector.Result `json:"results,omitempty"`
	Message   string                                `json:"message,omitempty"`
}

// Validate rejects events sinks could not attribute.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Type {
	case EventJobStarted, EventJobCompleted, EventProgress, EventError:
	case EventSourceStarted, EventSourceComplete:
		if e.SourceType == "" {
			return fmt.Errorf("%s requires source type", e.Type)
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.Completed < 0 || e.Expected < 0 {
		return errors.New("counts must be >= 0")
	}
	return nil
}

// OutcomeOf maps a result to the outcome label used on events and metrics.
func OutcomeOf(r collector.Result) string {
	if r.IsError() {
		return OutcomeError
	}
	return OutcomeSuccess
}

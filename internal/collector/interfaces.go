package collector

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// CorrelationStore maps provider correlation ids to job ids with a TTL.
type CorrelationStore interface {
	Register(ctx context.Context, topic, correlationID, jobID string, metadata map[string]string, ttl time.Duration) error
	Resolve(ctx context.Context, topic, correlationID string) (Correlation, error)
}

// JobStateStore holds per-job fan-in counters and results.
type JobStateStore interface {
	// Create initialises state for jobID with the expected source count.
	Create(ctx context.Context, jobID string, expected int, ttl time.Duration) error
	// Record stores result under source and atomically advances the counter.
	Record(ctx context.Context, jobID string, source SourceType, result Result) (RecordOutcome, error)
	// Get returns ErrNotFound once the job is finalized or expired.
	Get(ctx context.Context, jobID string) (JobState, error)
}

// ResultQueue is a per-(topic, job) list used by synchronous waiters.
type ResultQueue interface {
	Push(ctx context.Context, topic, jobID string, payload json.RawMessage, ttl time.Duration) error
	// Pop blocks up to timeout; ok is false when nothing arrived.
	Pop(ctx context.Context, topic, jobID string, timeout time.Duration) (payload json.RawMessage, ok bool, err error)
}

// Queue provides enqueue/dequeue semantics for source tasks.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Dequeue(ctx context.Context) (Task, error)
}

// Reporter receives source completions. The fan-in coordinator implements it.
type Reporter interface {
	ReportSourceComplete(ctx context.Context, jobID string, source SourceType, result Result) error
}

// Scraper runs a locally executable source and returns its payload.
type Scraper interface {
	Scrape(ctx context.Context, task Task) (json.RawMessage, error)
}

// Provider starts an asynchronous collection and returns the provider's correlation id.
type Provider interface {
	Trigger(ctx context.Context, req TriggerRequest) (string, error)
}

// Discoverer resolves raw source identifiers to canonical targets. Identifiers
// that cannot be resolved are excluded rather than failing the source.
type Discoverer interface {
	Discover(ctx context.Context, source SourceConfig) ([]string, error)
}

// SnapshotLoader downloads provider results announced by a ready webhook.
type SnapshotLoader interface {
	FetchSnapshot(ctx context.Context, snapshotID string) (json.RawMessage, error)
}

// Archiver persists a payload and returns a URI that stands in for it.
type Archiver interface {
	Archive(ctx context.Context, jobID string, source SourceType, data []byte) (string, error)
}

// Finalizer runs once per job after fan-in completes.
type Finalizer interface {
	Finalize(ctx context.Context, completion Completion) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes messages to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}

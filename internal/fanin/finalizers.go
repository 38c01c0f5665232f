package fanin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/insights-collector/internal/collector"
	"github.com/JakeFAU/insights-collector/internal/store"
)

// Named is implemented by finalizers that want a stable label in logs and metrics.
type Named interface {
	Name() string
}

func finalizerName(f collector.Finalizer) string {
	if n, ok := f.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", f)
}

// FinalizerFunc adapts a function to collector.Finalizer.
type FinalizerFunc func(ctx context.Context, completion collector.Completion) error

// Finalize implements collector.Finalizer.
func (f FinalizerFunc) Finalize(ctx context.Context, completion collector.Completion) error {
	return f(ctx, completion)
}

// RepositoryFinalizer writes the final job run.
type RepositoryFinalizer struct {
	repo store.JobRepository
}

// NewRepositoryFinalizer wraps repo.
func NewRepositoryFinalizer(repo store.JobRepository) *RepositoryFinalizer {
	return &RepositoryFinalizer{repo: repo}
}

// Name implements Named.
func (*RepositoryFinalizer) Name() string { return "repository" }

// Finalize stores status, count and results.
func (f *RepositoryFinalizer) Finalize(ctx context.Context, completion collector.Completion) error {
	results, err := json.Marshal(completion.Results)
	if err != nil {
		return fmt.Errorf("encode results for %s: %w", completion.JobID, err)
	}
	status := store.StatusFor(completion.Expected, completion.Failed())
	if err := f.repo.CompleteJob(ctx, completion.JobID, status, len(completion.Results), results,
		completion.FinishedAt); err != nil {
		return fmt.Errorf("persist completion of %s: %w", completion.JobID, err)
	}
	return nil
}

// PublisherFinalizer announces completions on a topic.
type PublisherFinalizer struct {
	publisher collector.Publisher
	topic     string
}

// NewPublisherFinalizer publishes to topic through publisher.
func NewPublisherFinalizer(publisher collector.Publisher, topic string) *PublisherFinalizer {
	return &PublisherFinalizer{publisher: publisher, topic: topic}
}

// Name implements Named.
func (*PublisherFinalizer) Name() string { return "publisher" }

// Finalize publishes the completion.
func (f *PublisherFinalizer) Finalize(ctx context.Context, completion collector.Completion) error {
	if _, err := f.publisher.Publish(ctx, f.topic, completion); err != nil {
		return fmt.Errorf("publish completion of %s: %w", completion.JobID, err)
	}
	return nil
}

package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/JakeFAU/insights-collector/internal/clock/system"
	"github.com/JakeFAU/insights-collector/internal/collector"
)

type correlationEntry struct {
	jobID     string
	metadata  map[string]string
	expiresAt time.Time
}

type correlationKey struct {
	topic string
	id    string
}

// CorrelationStore maps (topic, correlation id) to a job id with lazy expiry.
type CorrelationStore struct {
	mu      sync.RWMutex
	entries map[correlationKey]correlationEntry
	clock   collector.Clock
}

// NewCorrelationStore builds a store. A nil clock uses the system clock.
func NewCorrelationStore(clock collector.Clock) *CorrelationStore {
	if clock == nil {
		clock = system.New()
	}
	return &CorrelationStore{
		entries: make(map[correlationKey]correlationEntry),
		clock:   clock,
	}
}

// Register stores the mapping, replacing any earlier one for the same key.
func (s *CorrelationStore) Register(
	_ context.Context,
	topic, correlationID, jobID string,
	metadata map[string]string,
	ttl time.Duration,
) error {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)
	s.entries[correlationKey{topic: topic, id: correlationID}] = correlationEntry{
		jobID:     jobID,
		metadata:  maps.Clone(metadata),
		expiresAt: now.Add(ttl),
	}
	return nil
}

// Resolve returns the mapping or collector.ErrNotFound. Reads do not consume it.
func (s *CorrelationStore) Resolve(_ context.Context, topic, correlationID string) (collector.Correlation, error) {
	s.mu.RLock()
	entry, ok := s.entries[correlationKey{topic: topic, id: correlationID}]
	s.mu.RUnlock()
	if !ok || !s.clock.Now().Before(entry.expiresAt) {
		return collector.Correlation{}, collector.ErrNotFound
	}
	return collector.Correlation{JobID: entry.jobID, Metadata: maps.Clone(entry.metadata)}, nil
}

func (s *CorrelationStore) sweepLocked(now time.Time) {
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
}

package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/JakeFAU/insights-collector/internal/clock/system"
	"github.com/JakeFAU/insights-collector/internal/collector"
)

type jobState struct {
	mu        sync.Mutex
	expected  int
	completed int
	results   map[collector.SourceType]collector.Result
	expiresAt time.Time
	done      bool
}

// JobStateStore keeps fan-in state per job. Each job has its own mutex so
// unrelated jobs never contend.
type JobStateStore struct {
	mu    sync.RWMutex
	jobs  map[string]*jobState
	clock collector.Clock
}

// NewJobStateStore builds a store. A nil clock uses the system clock.
func NewJobStateStore(clock collector.Clock) *JobStateStore {
	if clock == nil {
		clock = system.New()
	}
	return &JobStateStore{
		jobs:  make(map[string]*jobState),
		clock: clock,
	}
}

// Create initialises (or replaces) state for jobID.
func (s *JobStateStore) Create(_ context.Context, jobID string, expected int, ttl time.Duration) error {
	if expected <= 0 {
		return fmt.Errorf("expected source count must be > 0, got %d", expected)
	}
	now := s.clock.Now()
	st := &jobState{
		expected:  expected,
		results:   make(map[collector.SourceType]collector.Result, expected),
		expiresAt: now.Add(ttl),
	}
	s.mu.Lock()
	s.sweepLocked(now)
	s.jobs[jobID] = st
	s.mu.Unlock()
	return nil
}

// sweepLocked drops expired jobs that were never finalized. expiresAt is
// fixed at creation, so it is read without the per-job lock.
func (s *JobStateStore) sweepLocked(now time.Time) {
	for id, st := range s.jobs {
		if !now.Before(st.expiresAt) {
			delete(s.jobs, id)
		}
	}
}

// Len reports how many jobs are held, expired or not.
func (s *JobStateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Record stores the result and advances the counter when the source slot is
// new. The caller that moves the counter onto the expected total receives
// Finalized=true and the full results; the state is removed in the same step.
func (s *JobStateStore) Record(
	_ context.Context,
	jobID string,
	source collector.SourceType,
	result collector.Result,
) (collector.RecordOutcome, error) {
	st := s.lookup(jobID)
	if st == nil {
		return collector.RecordOutcome{}, nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.done {
		return collector.RecordOutcome{}, nil
	}
	if !s.clock.Now().Before(st.expiresAt) {
		st.done = true
		s.remove(jobID, st)
		return collector.RecordOutcome{}, nil
	}

	_, seen := st.results[source]
	st.results[source] = result
	out := collector.RecordOutcome{Found: true, Expected: st.expected}
	if seen {
		out.Completed = st.completed
		return out, nil
	}
	st.completed++
	out.Counted = true
	out.Completed = st.completed
	if st.completed == st.expected {
		st.done = true
		out.Finalized = true
		out.Results = maps.Clone(st.results)
		s.remove(jobID, st)
	}
	return out, nil
}

// Get returns a snapshot of the job or collector.ErrNotFound.
func (s *JobStateStore) Get(_ context.Context, jobID string) (collector.JobState, error) {
	st := s.lookup(jobID)
	if st == nil {
		return collector.JobState{}, collector.ErrNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.done || !s.clock.Now().Before(st.expiresAt) {
		return collector.JobState{}, collector.ErrNotFound
	}
	return collector.JobState{
		JobID:     jobID,
		Expected:  st.expected,
		Completed: st.completed,
		Results:   maps.Clone(st.results),
	}, nil
}

func (s *JobStateStore) lookup(jobID string) *jobState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[jobID]
}

// remove drops jobID only if it still points at st; a newer Create wins.
func (s *JobStateStore) remove(jobID string, st *jobState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs[jobID] == st {
		delete(s.jobs, jobID)
	}
}

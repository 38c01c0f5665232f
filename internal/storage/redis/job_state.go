package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/insights-collector/internal/collector"
)

const (
	fieldTotal     = "total_sources"
	fieldCompleted = "completed_count"
)

// recordScript stores a source result and advances the counter only for new
// slots. The caller whose increment reaches the total receives every result
// and both keys are deleted before the script returns.
//
// Reply: {found, counted, completed, expected, finalized, field, value, ...}
var recordScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {0, 0, 0, 0, 0}
end
local expected = tonumber(redis.call('HGET', KEYS[1], 'total_sources'))
local added = redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[2], ttl)
end
if added == 0 then
  local completed = tonumber(redis.call('HGET', KEYS[1], 'completed_count'))
  return {1, 0, completed, expected, 0}
end
local completed = redis.call('HINCRBY', KEYS[1], 'completed_count', 1)
if completed ~= expected then
  return {1, 1, completed, expected, 0}
end
local results = redis.call('HGETALL', KEYS[2])
redis.call('DEL', KEYS[1], KEYS[2])
local out = {1, 1, completed, expected, 1}
for i = 1, #results do
  out[#out + 1] = results[i]
end
return out
`)

// JobStateStore keeps fan-in state in job:{id} and job:{id}:results.
type JobStateStore struct {
	client redis.UniversalClient
}

// NewJobStateStore wraps an existing client.
func NewJobStateStore(client redis.UniversalClient) *JobStateStore {
	return &JobStateStore{client: client}
}

// Create initialises (or replaces) the job's counters with a TTL.
func (s *JobStateStore) Create(ctx context.Context, jobID string, expected int, ttl time.Duration) error {
	if expected <= 0 {
		return fmt.Errorf("expected source count must be > 0, got %d", expected)
	}
	key := jobKey(jobID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key, jobResultsKey(jobID))
		pipe.HSet(ctx, key, fieldTotal, expected, fieldCompleted, 0)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return collector.Unavailable("create job state", err)
	}
	return nil
}

// Record runs recordScript; the store-and-increment step is a single Redis command.
func (s *JobStateStore) Record(
	ctx context.Context,
	jobID string,
	source collector.SourceType,
	result collector.Result,
) (collector.RecordOutcome, error) {
	encoded, err := json.Marshal(result)
	if err != nil {
		return collector.RecordOutcome{}, fmt.Errorf("encode result for %s: %w", source, err)
	}
	reply, err := recordScript.Run(ctx, s.client,
		[]string{jobKey(jobID), jobResultsKey(jobID)},
		string(source), string(encoded),
	).Slice()
	if err != nil {
		return collector.RecordOutcome{}, collector.Unavailable("record source result", err)
	}
	return parseRecordReply(reply)
}

// Get returns the counters and stored results or collector.ErrNotFound.
func (s *JobStateStore) Get(ctx context.Context, jobID string) (collector.JobState, error) {
	var counters, results *redis.MapStringStringCmd
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		counters = pipe.HGetAll(ctx, jobKey(jobID))
		results = pipe.HGetAll(ctx, jobResultsKey(jobID))
		return nil
	})
	if err != nil {
		return collector.JobState{}, collector.Unavailable("get job state", err)
	}
	fields := counters.Val()
	if len(fields) == 0 {
		return collector.JobState{}, collector.ErrNotFound
	}
	expected, err := strconv.Atoi(fields[fieldTotal])
	if err != nil {
		return collector.JobState{}, fmt.Errorf("parse %s for job %s: %w", fieldTotal, jobID, err)
	}
	completed, err := strconv.Atoi(fields[fieldCompleted])
	if err != nil {
		return collector.JobState{}, fmt.Errorf("parse %s for job %s: %w", fieldCompleted, jobID, err)
	}
	state := collector.JobState{
		JobID:     jobID,
		Expected:  expected,
		Completed: completed,
		Results:   make(map[collector.SourceType]collector.Result, len(results.Val())),
	}
	for source, raw := range results.Val() {
		var r collector.Result
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return collector.JobState{}, fmt.Errorf("decode result %s for job %s: %w", source, jobID, err)
		}
		state.Results[collector.SourceType(source)] = r
	}
	return state, nil
}

func parseRecordReply(reply []any) (collector.RecordOutcome, error) {
	if len(reply) < 5 {
		return collector.RecordOutcome{}, fmt.Errorf("unexpected record reply length %d", len(reply))
	}
	nums := make([]int64, 5)
	for i := range nums {
		n, ok := reply[i].(int64)
		if !ok {
			return collector.RecordOutcome{}, fmt.Errorf("unexpected record reply element %d: %T", i, reply[i])
		}
		nums[i] = n
	}
	out := collector.RecordOutcome{
		Found:     nums[0] == 1,
		Counted:   nums[1] == 1,
		Completed: int(nums[2]),
		Expected:  int(nums[3]),
		Finalized: nums[4] == 1,
	}
	if !out.Finalized {
		return out, nil
	}
	rest := reply[5:]
	if len(rest)%2 != 0 {
		return collector.RecordOutcome{}, fmt.Errorf("odd number of result fields: %d", len(rest))
	}
	out.Results = make(map[collector.SourceType]collector.Result, len(rest)/2)
	for i := 0; i < len(rest); i += 2 {
		field, _ := rest[i].(string)
		raw, _ := rest[i+1].(string)
		var r collector.Result
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return collector.RecordOutcome{}, fmt.Errorf("decode result %s: %w", field, err)
		}
		out.Results[collector.SourceType(field)] = r
	}
	return out, nil
}

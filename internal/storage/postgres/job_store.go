// Package postgres persists job runs with pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/insights-collector/internal/store"
)

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// querier is the subset of *pgxpool.Pool the store needs.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// JobStore implements store.JobRepository on the job_runs table:
//
//	job_runs(job_id text primary key, status text, expected int, completed int,
//	         started_at timestamptz, updated_at timestamptz, finished_at timestamptz,
//	         results jsonb)
type JobStore struct {
	pool querier
}

var _ store.JobRepository = (*JobStore)(nil)

// NewJobStore connects a pool and verifies it.
func NewJobStore(ctx context.Context, cfg Config) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &JobStore{pool: pool}, nil
}

// NewJobStoreWithPool wraps an existing pool (used by tests with pgxmock).
func NewJobStoreWithPool(pool querier) (*JobStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

// Ping checks connectivity for readiness probes.
func (s *JobStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *JobStore) Close() {
	s.pool.Close()
}

// UpsertJobStart records a running job. A row that already exists is left alone.
func (s *JobStore) UpsertJobStart(ctx context.Context, jobID string, expected int, startedAt time.Time) error {
	const query = `
		INSERT INTO job_runs (job_id, status, expected, completed, started_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $4)
		ON CONFLICT (job_id) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, query, jobID, string(store.RunRunning), expected, startedAt); err != nil {
		return fmt.Errorf("upsert job start: %w", err)
	}
	return nil
}

// UpdateProgress moves completed forward while the run is still running.
func (s *JobStore) UpdateProgress(ctx context.Context, jobID string, completed int, at time.Time) error {
	const query = `
		UPDATE job_runs
		SET completed = GREATEST(completed, $2), updated_at = $3
		WHERE job_id = $1 AND status = 'running';
	`
	if _, err := s.pool.Exec(ctx, query, jobID, completed, at); err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

// CompleteJob writes the final row. It inserts when the start row has not
// been persisted yet, since start rows arrive through the progress pipeline.
func (s *JobStore) CompleteJob(
	ctx context.Context,
	jobID string,
	status store.JobRunStatus,
	completed int,
	results json.RawMessage,
	finishedAt time.Time,
) error {
	const query = `
		INSERT INTO job_runs (job_id, status, expected, completed, started_at, updated_at, finished_at, results)
		VALUES ($1, $2, $3, $3, $4, $4, $4, $5)
		ON CONFLICT (job_id) DO UPDATE
		SET status = EXCLUDED.status,
			completed = EXCLUDED.completed,
			updated_at = EXCLUDED.updated_at,
			finished_at = EXCLUDED.finished_at,
			results = EXCLUDED.results;
	`
	if _, err := s.pool.Exec(ctx, query, jobID, string(status), completed, finishedAt, []byte(results)); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

const selectColumns = `job_id, status, expected, completed, started_at, updated_at, finished_at, results`

// GetJob loads one run.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (store.JobRun, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM job_runs WHERE job_id = $1;`, jobID)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.JobRun{}, store.ErrNotFound
	}
	if err != nil {
		return store.JobRun{}, fmt.Errorf("get job: %w", err)
	}
	return run, nil
}

// ListJobs returns runs newest first.
func (s *JobStore) ListJobs(ctx context.Context, status *store.JobRunStatus, limit, offset int) ([]store.JobRun, error) {
	var filter any
	if status != nil {
		filter = string(*status)
	}
	rows, err := s.pool.Query(ctx, `SELECT `+selectColumns+` FROM job_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;`, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	runs := []store.JobRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.JobRun, error) {
	var (
		run     store.JobRun
		status  string
		results []byte
	)
	err := row.Scan(
		&run.JobID,
		&status,
		&run.Expected,
		&run.Completed,
		&run.StartedAt,
		&run.UpdatedAt,
		&run.FinishedAt,
		&results,
	)
	if err != nil {
		return store.JobRun{}, err
	}
	run.Status = store.JobRunStatus(status)
	if len(results) > 0 {
		run.Results = json.RawMessage(results)
	}
	return run, nil
}

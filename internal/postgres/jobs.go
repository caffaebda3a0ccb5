package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/makaohq/makao/internal/jobs"
)

// JobStore implements jobs.Store using PostgreSQL.
type JobStore struct {
	pool *pgxpool.Pool
}

// Compile-time check that JobStore implements jobs.Store.
var _ jobs.Store = (*JobStore)(nil)

// NewJobStore creates a new PostgreSQL-backed job store.
func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

// Enqueue inserts a pending job.
func (s *JobStore) Enqueue(ctx context.Context, job *jobs.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (
			id, job_type, queue, payload, status, priority,
			retry_count, max_retries, scheduled_at, timeout_seconds,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, now())`,
		job.ID, job.JobType, job.Queue, job.Payload, jobs.StatusPending,
		job.Priority, job.MaxRetries, job.ScheduledAt, job.TimeoutSeconds,
	)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// ClaimNext claims the next due pending job. SKIP LOCKED keeps concurrent
// workers from claiming the same row.
func (s *JobStore) ClaimNext(ctx context.Context, workerID, queue string) (*jobs.Job, error) {
	query := `
		UPDATE jobs
		SET status = 'running', started_at = now(), worker_id = $1
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending'
			  AND scheduled_at <= now()`
	args := []any{workerID}
	if queue != "" {
		query += ` AND queue = $2`
		args = append(args, queue)
	}
	query += `
			ORDER BY priority DESC, scheduled_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, job_type, queue, payload, status, priority,
		          retry_count, max_retries, scheduled_at, started_at,
		          completed_at, last_error, timeout_seconds, created_at`

	row := s.pool.QueryRow(ctx, query, args...)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// Complete marks the job done.
func (s *JobStore) Complete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'completed', completed_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// Fail reschedules the job with a retry backoff, or marks it failed once
// retries are spent. Backoff doubles per retry from a one-minute base.
func (s *JobStore) Fail(ctx context.Context, id string, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET retry_count = retry_count + 1,
		    last_error = $2,
		    status = CASE WHEN retry_count + 1 >= max_retries
		                  THEN 'failed' ELSE 'pending' END,
		    completed_at = CASE WHEN retry_count + 1 >= max_retries
		                        THEN now() ELSE NULL END,
		    scheduled_at = CASE WHEN retry_count + 1 >= max_retries
		                        THEN scheduled_at
		                        ELSE now() + (interval '1 minute' * power(2, retry_count)) END
		WHERE id = $1`,
		id, errMsg)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

func scanJob(row rowScanner) (*jobs.Job, error) {
	var (
		job         jobs.Job
		startedAt   pgtype.Timestamptz
		completedAt pgtype.Timestamptz
		lastError   pgtype.Text
	)

	err := row.Scan(
		&job.ID, &job.JobType, &job.Queue, &job.Payload, &job.Status,
		&job.Priority, &job.RetryCount, &job.MaxRetries, &job.ScheduledAt,
		&startedAt, &completedAt, &lastError, &job.TimeoutSeconds,
		&job.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	job.LastError = textValue(lastError)
	return &job, nil
}

package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/makaohq/makao/internal/telemetry"
)

// Job statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Job is one unit of deferred work in the database-backed queue.
type Job struct {
	ID       string
	JobType  string
	Queue    string
	Payload  []byte
	Status   string
	Priority int

	RetryCount int
	MaxRetries int

	ScheduledAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	LastError      string
	TimeoutSeconds int

	CreatedAt time.Time
}

// Store persists and claims jobs. Claiming must be safe across concurrent
// workers; the PostgreSQL implementation uses FOR UPDATE SKIP LOCKED.
type Store interface {
	Enqueue(ctx context.Context, job *Job) error

	// ClaimNext atomically claims the next runnable job on the queue
	// (empty = any queue). Returns (nil, nil) when nothing is due.
	ClaimNext(ctx context.Context, workerID, queue string) (*Job, error)

	Complete(ctx context.Context, id string) error

	// Fail records the error and either reschedules the job with an
	// incremented retry count or marks it failed once retries are spent.
	Fail(ctx context.Context, id string, errMsg string) error
}

// Billing job types.
const (
	JobTypeSweepOverdue  = "billing:sweep_overdue"
	JobTypeAutoReconcile = "billing:auto_reconcile"
)

// BillingQueue is the queue all billing maintenance jobs run on.
const BillingQueue = "billing"

// SweepOverduePayload carries the reference time for an overdue sweep.
// Zero AsOf means "now at execution time".
type SweepOverduePayload struct {
	AsOf time.Time `json:"as_of,omitempty"`
}

// AutoReconcilePayload scopes an auto-reconcile run. Empty CompanyID
// reconciles across all companies.
type AutoReconcilePayload struct {
	CompanyID string `json:"company_id,omitempty"`
}

// EnqueueSweepOverdue schedules an overdue sweep. Typically enqueued
// nightly by the scheduler.
func EnqueueSweepOverdue(ctx context.Context, store Store, payload SweepOverduePayload, scheduledAt time.Time) error {
	return enqueue(ctx, store, JobTypeSweepOverdue, payload, enqueueOpts{
		priority:       50,
		maxRetries:     3,
		scheduledAt:    scheduledAt,
		timeoutSeconds: 120,
	})
}

// EnqueueAutoReconcile schedules an auto-reconcile run.
func EnqueueAutoReconcile(ctx context.Context, store Store, payload AutoReconcilePayload, scheduledAt time.Time) error {
	return enqueue(ctx, store, JobTypeAutoReconcile, payload, enqueueOpts{
		priority:       75,
		maxRetries:     3,
		scheduledAt:    scheduledAt,
		timeoutSeconds: 120,
	})
}

type enqueueOpts struct {
	priority       int
	maxRetries     int
	scheduledAt    time.Time
	timeoutSeconds int
}

func enqueue(ctx context.Context, store Store, jobType string, payload any, opts enqueueOpts) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", jobType, err)
	}

	scheduledAt := opts.scheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = time.Now()
	}

	if err := store.Enqueue(ctx, &Job{
		ID:             uuid.New().String(),
		JobType:        jobType,
		Queue:          BillingQueue,
		Payload:        payloadJSON,
		Status:         StatusPending,
		Priority:       opts.priority,
		MaxRetries:     opts.maxRetries,
		ScheduledAt:    scheduledAt,
		TimeoutSeconds: opts.timeoutSeconds,
	}); err != nil {
		return err
	}

	if telemetry.Business != nil {
		telemetry.Business.JobsEnqueued.WithLabelValues(jobType).Inc()
	}
	return nil
}

package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/makaohq/makao/internal/domain"
	"github.com/makaohq/makao/internal/jobs"
	"github.com/makaohq/makao/internal/telemetry"
)

// Config holds worker configuration.
type Config struct {
	// WorkerID uniquely identifies this worker instance.
	WorkerID string

	// PollInterval is how often to check for new jobs.
	PollInterval time.Duration

	// MaxConcurrency is the maximum number of jobs to process concurrently.
	MaxConcurrency int

	// Queue name to process (empty string = all queues).
	Queue string
}

// Worker processes background billing jobs from the database-backed queue.
type Worker struct {
	config     Config
	store      jobs.Store
	reconciler domain.Reconciler
	sweeper    domain.OverdueSweeper
	logger     *slog.Logger

	wg sync.WaitGroup
}

// NewWorker creates a background job worker.
func NewWorker(
	store jobs.Store,
	reconciler domain.Reconciler,
	sweeper domain.OverdueSweeper,
	config Config,
	logger *slog.Logger,
) *Worker {
	if config.WorkerID == "" {
		config.WorkerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}
	if config.PollInterval == 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.MaxConcurrency == 0 {
		config.MaxConcurrency = 5
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		config:     config,
		store:      store,
		reconciler: reconciler,
		sweeper:    sweeper,
		logger:     logger,
	}
}

// Start begins processing jobs until the context is cancelled, then waits
// for in-flight jobs to finish.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("worker starting",
		"worker_id", w.config.WorkerID,
		"queue", w.config.Queue,
		"poll_interval", w.config.PollInterval,
		"max_concurrency", w.config.MaxConcurrency,
	)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, w.config.MaxConcurrency)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker shutting down", "worker_id", w.config.WorkerID)
			w.wg.Wait()
			return ctx.Err()

		case <-ticker.C:
			select {
			case sem <- struct{}{}:
				w.wg.Add(1)
				go func() {
					defer w.wg.Done()
					defer func() { <-sem }()
					w.claimAndProcess(ctx)
				}()
			default:
				// At max concurrency, skip this poll.
			}
		}
	}
}

// claimAndProcess claims and processes a single job.
func (w *Worker) claimAndProcess(ctx context.Context) {
	job, err := w.store.ClaimNext(ctx, w.config.WorkerID, w.config.Queue)
	if err != nil {
		w.logger.Error("failed to claim job", "error", err)
		return
	}
	if job == nil {
		return
	}

	w.logger.Info("processing job",
		"job_id", job.ID,
		"job_type", job.JobType,
		"retry_count", job.RetryCount,
	)

	started := time.Now()
	err = w.processJob(ctx, job)
	if telemetry.Business != nil {
		telemetry.Business.JobDuration.WithLabelValues(job.JobType).Observe(time.Since(started).Seconds())
	}

	if err != nil {
		w.logger.Error("job failed",
			"job_id", job.ID,
			"job_type", job.JobType,
			"error", err,
		)
		if telemetry.Business != nil {
			telemetry.Business.JobsFailed.WithLabelValues(job.JobType).Inc()
		}
		if failErr := w.store.Fail(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to record job failure", "job_id", job.ID, "error", failErr)
		}
		return
	}

	w.logger.Info("job completed", "job_id", job.ID, "job_type", job.JobType)
	if telemetry.Business != nil {
		telemetry.Business.JobsProcessed.WithLabelValues(job.JobType).Inc()
	}
	if err := w.store.Complete(ctx, job.ID); err != nil {
		w.logger.Error("failed to mark job completed", "job_id", job.ID, "error", err)
	}
}

// processJob dispatches by job type under the job's own timeout.
func (w *Worker) processJob(ctx context.Context, job *jobs.Job) error {
	timeout := time.Duration(job.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch job.JobType {
	case jobs.JobTypeSweepOverdue:
		return w.runSweep(jobCtx, job)
	case jobs.JobTypeAutoReconcile:
		return w.runAutoReconcile(jobCtx, job)
	default:
		return fmt.Errorf("unknown job type: %s", job.JobType)
	}
}

func (w *Worker) runSweep(ctx context.Context, job *jobs.Job) error {
	var payload jobs.SweepOverduePayload
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal sweep payload: %w", err)
		}
	}

	asOf := payload.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}

	report, err := w.sweeper.Sweep(ctx, asOf)
	if err != nil {
		return fmt.Errorf("overdue sweep: %w", err)
	}

	w.logger.Info("overdue sweep job finished",
		"job_id", job.ID,
		"examined", report.Examined,
		"marked_overdue", report.MarkedOverdue,
	)
	return nil
}

func (w *Worker) runAutoReconcile(ctx context.Context, job *jobs.Job) error {
	var payload jobs.AutoReconcilePayload
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal reconcile payload: %w", err)
		}
	}

	// The queue runs with operator authority: full scope when no company
	// is named, company scope otherwise.
	actor := domain.Actor{ID: w.config.WorkerID, Role: domain.RoleSuperAdmin}
	if payload.CompanyID != "" {
		actor = domain.Actor{
			ID:        w.config.WorkerID,
			Role:      domain.RoleAdmin,
			CompanyID: payload.CompanyID,
		}
	}

	report, err := w.reconciler.AutoReconcile(ctx, actor)
	if err != nil {
		return fmt.Errorf("auto-reconcile: %w", err)
	}

	w.logger.Info("auto-reconcile job finished",
		"job_id", job.ID,
		"examined", report.PaymentsExamined,
		"linked", report.PaymentsLinked,
		"invoices_paid", report.InvoicesPaid,
	)
	return nil
}

package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makaohq/makao/internal/domain"
	"github.com/makaohq/makao/internal/jobs"
)

// memJobStore hands out scripted jobs and records terminal calls.
type memJobStore struct {
	queue     []*jobs.Job
	completed []string
	failed    map[string]string
}

func newMemJobStore(queued ...*jobs.Job) *memJobStore {
	return &memJobStore{
		queue:  queued,
		failed: make(map[string]string),
	}
}

func (s *memJobStore) Enqueue(ctx context.Context, job *jobs.Job) error {
	s.queue = append(s.queue, job)
	return nil
}

func (s *memJobStore) ClaimNext(ctx context.Context, workerID, queue string) (*jobs.Job, error) {
	if len(s.queue) == 0 {
		return nil, nil
	}
	job := s.queue[0]
	s.queue = s.queue[1:]
	return job, nil
}

func (s *memJobStore) Complete(ctx context.Context, jobID string) error {
	s.completed = append(s.completed, jobID)
	return nil
}

func (s *memJobStore) Fail(ctx context.Context, jobID, reason string) error {
	s.failed[jobID] = reason
	return nil
}

type recordingSweeper struct {
	asOf   time.Time
	report domain.SweepReport
	err    error
}

func (r *recordingSweeper) Sweep(ctx context.Context, now time.Time) (domain.SweepReport, error) {
	r.asOf = now
	return r.report, r.err
}

type recordingReconciler struct {
	actor domain.Actor
	err   error
}

func (r *recordingReconciler) LinkPayment(ctx context.Context, actor domain.Actor, paymentID, invoiceID string) (*domain.Payment, *domain.Invoice, error) {
	return nil, nil, nil
}

func (r *recordingReconciler) AutoReconcile(ctx context.Context, actor domain.Actor) (domain.ReconcileReport, error) {
	r.actor = actor
	return domain.ReconcileReport{}, r.err
}

func mustPayload(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestWorker_SweepJobUsesPayloadTime(t *testing.T) {
	asOf := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)
	store := newMemJobStore(&jobs.Job{
		ID:      "job-1",
		JobType: jobs.JobTypeSweepOverdue,
		Payload: mustPayload(t, jobs.SweepOverduePayload{AsOf: asOf}),
	})
	sweeper := &recordingSweeper{report: domain.SweepReport{Examined: 3, MarkedOverdue: 1}}

	w := NewWorker(store, &recordingReconciler{}, sweeper, Config{}, nil)
	w.claimAndProcess(context.Background())

	assert.True(t, sweeper.asOf.Equal(asOf))
	assert.Equal(t, []string{"job-1"}, store.completed)
	assert.Empty(t, store.failed)
}

func TestWorker_ReconcileJobScopesActorByPayload(t *testing.T) {
	store := newMemJobStore(
		&jobs.Job{
			ID:      "job-all",
			JobType: jobs.JobTypeAutoReconcile,
		},
		&jobs.Job{
			ID:      "job-scoped",
			JobType: jobs.JobTypeAutoReconcile,
			Payload: mustPayload(t, jobs.AutoReconcilePayload{CompanyID: "co-1"}),
		},
	)
	reconciler := &recordingReconciler{}

	w := NewWorker(store, reconciler, &recordingSweeper{}, Config{}, nil)

	w.claimAndProcess(context.Background())
	assert.Equal(t, domain.RoleSuperAdmin, reconciler.actor.Role)

	w.claimAndProcess(context.Background())
	assert.Equal(t, domain.RoleAdmin, reconciler.actor.Role)
	assert.Equal(t, "co-1", reconciler.actor.CompanyID)

	assert.Equal(t, []string{"job-all", "job-scoped"}, store.completed)
}

func TestWorker_FailedJobIsRecorded(t *testing.T) {
	store := newMemJobStore(&jobs.Job{
		ID:      "job-bad",
		JobType: "billing:unknown",
	})

	w := NewWorker(store, &recordingReconciler{}, &recordingSweeper{}, Config{}, nil)
	w.claimAndProcess(context.Background())

	assert.Empty(t, store.completed)
	assert.Contains(t, store.failed["job-bad"], "unknown job type")
}

func TestWorker_EmptyQueueIsQuiet(t *testing.T) {
	store := newMemJobStore()

	w := NewWorker(store, &recordingReconciler{}, &recordingSweeper{}, Config{}, nil)
	w.claimAndProcess(context.Background())

	assert.Empty(t, store.completed)
	assert.Empty(t, store.failed)
}

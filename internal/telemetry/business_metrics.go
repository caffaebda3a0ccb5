package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics holds Prometheus metrics for billing-level observability.
// Counters carry a company_id label for per-issuer dashboard segmentation.
type BusinessMetrics struct {
	// Invoice lifecycle
	InvoicesCreated   *prometheus.CounterVec
	InvoicesSent      *prometheus.CounterVec
	InvoicesPaid      *prometheus.CounterVec
	InvoicesDeleted   *prometheus.CounterVec
	InvoiceValue      *prometheus.HistogramVec
	TransitionDenied  *prometheus.CounterVec

	// Sequence allocator
	NumberCollisions  *prometheus.CounterVec
	NumberExhaustions *prometheus.CounterVec

	// Reconciliation
	PaymentsRecorded *prometheus.CounterVec
	PaymentsLinked   *prometheus.CounterVec
	ReconcileRuns    prometheus.Counter
	ReconcileMatches *prometheus.CounterVec

	// Overdue sweep
	SweepRuns        prometheus.Counter
	SweepTransitions *prometheus.CounterVec
	SweepDuration    prometheus.Histogram

	// Side effects (best-effort collaborators)
	SideEffectFailures *prometheus.CounterVec

	// Background jobs
	JobsEnqueued  *prometheus.CounterVec
	JobsProcessed *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
}

// NewBusinessMetrics creates and registers billing metrics.
func NewBusinessMetrics(namespace string) *BusinessMetrics {
	if namespace == "" {
		namespace = "makao"
	}
	const subsystem = "billing"

	return &BusinessMetrics{
		InvoicesCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "invoices_created_total",
				Help:      "Total invoices created",
			},
			[]string{"company_id", "channel"},
		),
		InvoicesSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "invoices_sent_total",
				Help:      "Total invoice send operations (including re-sends)",
			},
			[]string{"company_id"},
		),
		InvoicesPaid: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "invoices_paid_total",
				Help:      "Total invoices promoted to paid",
			},
			[]string{"company_id", "source"}, // source: direct, reconcile
		),
		InvoicesDeleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "invoices_deleted_total",
				Help:      "Total invoices deleted",
			},
			[]string{"company_id"},
		),
		InvoiceValue: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "invoice_value",
				Help:      "Distribution of invoice total amounts",
				Buckets:   []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
			},
			[]string{"company_id", "currency"},
		),
		TransitionDenied: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "transition_denied_total",
				Help:      "Total invoice transitions rejected by the guard table",
			},
			[]string{"from", "to"},
		),

		NumberCollisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "number_collisions_total",
				Help:      "Total identifier allocation collisions that triggered a retry",
			},
			[]string{"kind"}, // kind: invoice, receipt
		),
		NumberExhaustions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "number_exhaustions_total",
				Help:      "Total identifier allocations that hit the retry ceiling",
			},
			[]string{"kind"},
		),

		PaymentsRecorded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payments_recorded_total",
				Help:      "Total payment records created",
			},
			[]string{"company_id", "method", "status"},
		),
		PaymentsLinked: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "payments_linked_total",
				Help:      "Total payments linked to invoices",
			},
			[]string{"company_id", "source"}, // source: manual, auto
		),
		ReconcileRuns: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reconcile_runs_total",
				Help:      "Total auto-reconcile runs",
			},
		),
		ReconcileMatches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reconcile_matches_total",
				Help:      "Total exact-amount matches found by auto-reconcile",
			},
			[]string{"company_id"},
		),

		SweepRuns: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "sweep_runs_total",
				Help:      "Total overdue sweep runs",
			},
		),
		SweepTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "sweep_transitions_total",
				Help:      "Total sent invoices escalated to overdue by the sweep",
			},
			[]string{"company_id"},
		),
		SweepDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "sweep_duration_seconds",
				Help:      "Duration of overdue sweep runs",
				Buckets:   prometheus.DefBuckets,
			},
		),

		SideEffectFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "side_effect_failures_total",
				Help:      "Total best-effort side effects that failed (logged, never fatal)",
			},
			[]string{"effect"}, // effect: shadow_payment, token, notification, snapshot
		),

		JobsEnqueued: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "jobs_enqueued_total",
				Help:      "Total background jobs enqueued",
			},
			[]string{"job_type"},
		),
		JobsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "jobs_processed_total",
				Help:      "Total background jobs processed successfully",
			},
			[]string{"job_type"},
		),
		JobsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "jobs_failed_total",
				Help:      "Total background jobs that failed",
			},
			[]string{"job_type"},
		),
		JobDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "job_duration_seconds",
				Help:      "Duration of background job executions",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"job_type"},
		),
	}
}

// Business is the process-wide metrics instance. Nil until
// InitBusinessMetrics runs; callers must nil-check (tests skip init).
var Business *BusinessMetrics

// InitBusinessMetrics initializes the global business metrics instance.
func InitBusinessMetrics(namespace string) *BusinessMetrics {
	Business = NewBusinessMetrics(namespace)
	return Business
}

package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/makaohq/makao/internal/domain"
	"github.com/makaohq/makao/internal/telemetry"
)

type overdueSweeper struct {
	invoices domain.InvoiceStore
	prefs    domain.PreferenceReader
	notifier domain.NotificationDispatcher
	logger   *slog.Logger
}

var _ domain.OverdueSweeper = (*overdueSweeper)(nil)

// NewOverdueSweeper creates the sweep that escalates sent invoices past
// their grace deadline to overdue.
func NewOverdueSweeper(
	invoices domain.InvoiceStore,
	prefs domain.PreferenceReader,
	notifier domain.NotificationDispatcher,
	logger *slog.Logger,
) domain.OverdueSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &overdueSweeper{
		invoices: invoices,
		prefs:    prefs,
		notifier: notifier,
		logger:   logger,
	}
}

// Sweep scans all sent invoices and flips the ones whose grace deadline has
// elapsed. An invoice due on day D with grace g stays sent through the end
// of D+g and becomes overdue on D+g+1; comparison is at day granularity in
// the invoice's own timezone. The status write is conditional on the
// invoice still being sent, so a payment or cancellation racing the sweep
// always wins.
func (s *overdueSweeper) Sweep(ctx context.Context, now time.Time) (domain.SweepReport, error) {
	var report domain.SweepReport
	started := time.Now()

	candidates, err := s.invoices.ListByStatus(ctx, "",
		[]domain.InvoiceStatus{domain.InvoiceStatusSent})
	if err != nil {
		return report, domain.Internal(err, "sweep.overdue", "failed to list sent invoices")
	}

	// Grace periods are issuer settings; cache per company for the run.
	grace := make(map[string]int)

	for i := range candidates {
		inv := &candidates[i]
		report.Examined++

		days, ok := grace[inv.CompanyID]
		if !ok {
			days, err = s.prefs.GracePeriodDays(ctx, inv.CompanyID)
			if err != nil {
				s.logger.Warn("failed to read grace period, defaulting to zero",
					"company_id", inv.CompanyID, "error", err)
				days = 0
			}
			grace[inv.CompanyID] = days
		}

		deadline := startOfDay(inv.DueDate.AddDate(0, 0, days))
		if !deadline.Before(startOfDay(now.In(inv.DueDate.Location()))) {
			continue
		}

		updated, err := s.invoices.UpdateStatus(ctx, inv.ID,
			domain.InvoiceStatusSent, domain.InvoiceStatusOverdue)
		if err != nil {
			s.logger.Error("failed to mark invoice overdue", "invoice_id", inv.ID, "error", err)
			continue
		}
		if !updated {
			continue
		}
		inv.Status = domain.InvoiceStatusOverdue
		report.MarkedOverdue++

		if telemetry.Business != nil {
			telemetry.Business.SweepTransitions.WithLabelValues(inv.CompanyID).Inc()
		}

		if s.notifier != nil {
			if err := s.notifier.NotifyInvoice(ctx, domain.InvoiceEventOverdue, inv); err != nil {
				s.logger.Warn("overdue notification failed", "invoice_id", inv.ID, "error", err)
				if telemetry.Business != nil {
					telemetry.Business.SideEffectFailures.WithLabelValues("notification").Inc()
				}
			}
		}
	}

	if telemetry.Business != nil {
		telemetry.Business.SweepRuns.Inc()
		telemetry.Business.SweepDuration.Observe(time.Since(started).Seconds())
	}

	s.logger.Info("overdue sweep completed",
		"examined", report.Examined,
		"marked_overdue", report.MarkedOverdue,
		"duration", time.Since(started))

	return report, nil
}

// startOfDay truncates t to midnight in its own location.
func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

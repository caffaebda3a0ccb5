package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/makaohq/makao/internal/domain"
	"github.com/makaohq/makao/internal/telemetry"
)

type reconciler struct {
	payments  domain.PaymentStore
	invoices  domain.InvoiceStore
	lifecycle domain.InvoiceService
	access    invoiceAccess
	logger    *slog.Logger
	now       func() time.Time
}

var _ domain.Reconciler = (*reconciler)(nil)

// NewReconciler creates the payment reconciler. Invoice settlement goes
// through the lifecycle service so the transition guards always apply; the
// reconciler never writes invoice status directly.
func NewReconciler(
	payments domain.PaymentStore,
	invoices domain.InvoiceStore,
	lifecycle domain.InvoiceService,
	resolver domain.AccessResolver,
	logger *slog.Logger,
) domain.Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &reconciler{
		payments:  payments,
		invoices:  invoices,
		lifecycle: lifecycle,
		access:    invoiceAccess{resolver: resolver},
		logger:    logger,
		now:       time.Now,
	}
}

// LinkPayment attaches a payment to an invoice, then settles the invoice if
// the approved linked sum now covers the total. Re-linking to the same
// invoice is a no-op; linking elsewhere while already linked conflicts.
func (r *reconciler) LinkPayment(ctx context.Context, actor domain.Actor, paymentID, invoiceID string) (*domain.Payment, *domain.Invoice, error) {
	if actor.Role == domain.RoleTenant {
		return nil, nil, ErrTenantsCannotMutate
	}

	payment, err := r.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, nil, domain.Internal(err, "reconcile.link", "failed to load payment")
	}
	if payment == nil {
		return nil, nil, ErrPaymentNotFound
	}
	if !actor.IsSuper() && actor.CompanyID != payment.CompanyID {
		// Out of scope reads as absent.
		return nil, nil, ErrPaymentNotFound
	}

	inv, err := r.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, nil, domain.Internal(err, "reconcile.link", "failed to load invoice")
	}
	if inv == nil {
		return nil, nil, ErrInvoiceNotFound
	}

	visible, err := r.access.canView(ctx, actor, inv)
	if err != nil {
		return nil, nil, domain.Internal(err, "reconcile.link", "failed to resolve invoice visibility")
	}
	if !visible {
		return nil, nil, ErrInvoiceNotFound
	}
	if err := r.access.canMutate(ctx, actor, inv); err != nil {
		return nil, nil, err
	}

	if payment.CompanyID != inv.CompanyID {
		return nil, nil, ErrCrossTenantLink
	}
	if payment.TenantID != "" && payment.TenantID != inv.TenantID {
		return nil, nil, ErrPayerMismatch
	}
	if inv.Status == domain.InvoiceStatusPaid && payment.InvoiceID != inv.ID {
		return nil, nil, ErrInvoiceAlreadyPaid
	}
	if inv.Status.Terminal() && inv.Status != domain.InvoiceStatusPaid {
		return nil, nil, ErrInvoiceNotOpen
	}
	if payment.InvoiceID != "" && payment.InvoiceID != inv.ID {
		return nil, nil, ErrPaymentAlreadyLinked
	}

	linked, err := r.payments.LinkToInvoice(ctx, payment.ID, inv.ID)
	if err != nil {
		return nil, nil, domain.Internal(err, "reconcile.link", "failed to link payment")
	}
	if !linked {
		// Lost a race: someone linked it elsewhere between load and write.
		return nil, nil, ErrPaymentAlreadyLinked
	}
	payment.InvoiceID = inv.ID

	if telemetry.Business != nil {
		telemetry.Business.PaymentsLinked.WithLabelValues(payment.CompanyID, "manual").Inc()
	}

	if _, err := r.settleIfCovered(ctx, actor, payment, inv); err != nil {
		return nil, nil, err
	}

	return payment, inv, nil
}

// AutoReconcile matches unlinked approved payments against open invoices by
// exact amount per recipient, earliest due date first. Unmatched payments
// are skipped. Restricted to admins (company scope) and superadmins (all
// companies).
func (r *reconciler) AutoReconcile(ctx context.Context, actor domain.Actor) (domain.ReconcileReport, error) {
	var report domain.ReconcileReport

	var companyID string
	switch actor.Role {
	case domain.RoleSuperAdmin:
		companyID = ""
	case domain.RoleAdmin:
		if actor.CompanyID == "" {
			return report, ErrNoCompany
		}
		companyID = actor.CompanyID
	default:
		return report, ErrNotPermitted
	}

	if telemetry.Business != nil {
		telemetry.Business.ReconcileRuns.Inc()
	}

	payments, err := r.payments.ListUnlinkedApproved(ctx, companyID)
	if err != nil {
		return report, domain.Internal(err, "reconcile.auto", "failed to list unlinked payments")
	}
	if len(payments) == 0 {
		return report, nil
	}

	open, err := r.invoices.ListByStatus(ctx, companyID,
		[]domain.InvoiceStatus{domain.InvoiceStatusSent, domain.InvoiceStatusOverdue})
	if err != nil {
		return report, domain.Internal(err, "reconcile.auto", "failed to list open invoices")
	}

	// Candidates grouped by (company, recipient), preserving the store's
	// due-date ordering so the oldest obligation settles first.
	type key struct{ companyID, tenantID string }
	candidates := make(map[key][]*domain.Invoice)
	for i := range open {
		inv := &open[i]
		k := key{inv.CompanyID, inv.TenantID}
		candidates[k] = append(candidates[k], inv)
	}

	for i := range payments {
		p := &payments[i]
		report.PaymentsExamined++

		k := key{p.CompanyID, p.TenantID}
		matched := -1
		for j, inv := range candidates[k] {
			if inv == nil {
				continue
			}
			if inv.Currency != p.Currency {
				continue
			}
			if !inv.TotalAmount.Equal(p.Amount) {
				continue
			}
			matched = j
			break
		}
		if matched < 0 {
			continue
		}
		inv := candidates[k][matched]

		linked, err := r.payments.LinkToInvoice(ctx, p.ID, inv.ID)
		if err != nil {
			r.logger.Error("auto-reconcile link failed", "payment_id", p.ID, "invoice_id", inv.ID, "error", err)
			continue
		}
		if !linked {
			continue
		}
		p.InvoiceID = inv.ID
		report.PaymentsLinked++
		candidates[k][matched] = nil

		if telemetry.Business != nil {
			telemetry.Business.PaymentsLinked.WithLabelValues(p.CompanyID, "auto").Inc()
			telemetry.Business.ReconcileMatches.WithLabelValues(p.CompanyID).Inc()
		}

		settled, err := r.settleIfCovered(ctx, actor, p, inv)
		if err != nil {
			r.logger.Error("auto-reconcile settlement failed", "payment_id", p.ID, "invoice_id", inv.ID, "error", err)
			continue
		}
		if settled {
			report.InvoicesPaid++
		}
	}

	return report, nil
}

// settleIfCovered promotes the invoice to paid through the lifecycle
// service once the approved linked sum reaches the total. A partial cover
// leaves the invoice open; a concurrent settlement is not an error here.
func (r *reconciler) settleIfCovered(ctx context.Context, actor domain.Actor, payment *domain.Payment, inv *domain.Invoice) (bool, error) {
	if inv.Status == domain.InvoiceStatusPaid {
		return false, nil
	}

	covered, err := r.payments.SumApprovedForInvoice(ctx, inv.ID)
	if err != nil {
		return false, domain.Internal(err, "reconcile.settle", "failed to sum linked payments")
	}
	if covered.LessThan(inv.TotalAmount) {
		return false, nil
	}

	paidAt := r.now()
	if payment.ProcessedAt != nil {
		paidAt = *payment.ProcessedAt
	}
	reference := payment.GatewayRef
	if reference == "" {
		reference = payment.ReceiptNumber
	}

	updated, err := r.lifecycle.MarkPaid(ctx, actor, inv.ID, domain.MarkPaidParams{
		Method:    payment.Method,
		Reference: reference,
		PaidAt:    paidAt,
	})
	if err != nil {
		if domain.IsCode(err, domain.ECONFLICT) {
			// Another writer settled or closed it first.
			r.logger.Info("invoice settled concurrently", "invoice_id", inv.ID)
			return false, nil
		}
		return false, err
	}

	*inv = *updated
	return true, nil
}

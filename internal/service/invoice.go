package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/makaohq/makao/internal/domain"
	"github.com/makaohq/makao/internal/telemetry"
)

// fallbackCurrency is used when neither the request nor the issuer's
// settings name a currency. Amounts are single-currency decimals; no
// conversion happens anywhere in this core.
const fallbackCurrency = "KES"

// sideEffectTimeout bounds each best-effort collaborator call so a slow
// notification or snapshot backend cannot stall the request path.
const sideEffectTimeout = 5 * time.Second

type invoiceService struct {
	invoices  domain.InvoiceStore
	payments  domain.PaymentStore
	alloc     *SequenceAllocator
	access    invoiceAccess
	prefs     domain.PreferenceReader
	notifier  domain.NotificationDispatcher
	snapshots domain.SnapshotRecorder
	tokens    domain.TokenIssuer
	logger    *slog.Logger
	now       func() time.Time
}

// Compile-time check that invoiceService implements domain.InvoiceService.
var _ domain.InvoiceService = (*invoiceService)(nil)

// NewInvoiceService creates the invoice lifecycle manager. All dependencies
// are injected; there are no ambient singletons.
func NewInvoiceService(
	invoices domain.InvoiceStore,
	payments domain.PaymentStore,
	alloc *SequenceAllocator,
	resolver domain.AccessResolver,
	prefs domain.PreferenceReader,
	notifier domain.NotificationDispatcher,
	snapshots domain.SnapshotRecorder,
	tokens domain.TokenIssuer,
	logger *slog.Logger,
) domain.InvoiceService {
	if logger == nil {
		logger = slog.Default()
	}
	return &invoiceService{
		invoices:  invoices,
		payments:  payments,
		alloc:     alloc,
		access:    invoiceAccess{resolver: resolver},
		prefs:     prefs,
		notifier:  notifier,
		snapshots: snapshots,
		tokens:    tokens,
		logger:    logger,
		now:       time.Now,
	}
}

// Create allocates an invoice number, persists the invoice and line items
// atomically, then fires the creation side effects. The financial record is
// authoritative: a failed side effect is logged and swallowed, never rolled
// back or retried.
func (s *invoiceService) Create(ctx context.Context, actor domain.Actor, params domain.CreateInvoiceParams) (*domain.Invoice, error) {
	if actor.Role == domain.RoleTenant {
		return nil, ErrTenantsCannotMutate
	}
	if actor.CompanyID == "" {
		return nil, ErrNoCompany
	}

	if err := validateCreateParams(params); err != nil {
		return nil, err
	}

	// Recipient must exist, hold the tenant capability, and be reachable
	// through the actor's tenant-access relationship.
	accessible, err := s.access.resolver.TenantAccessible(ctx, actor, params.TenantID)
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			return nil, ErrTenantNotFound
		}
		return nil, domain.Internal(err, "invoice.create", "failed to resolve tenant access")
	}
	if !accessible {
		return nil, ErrNotPermitted
	}

	issueDate := params.IssueDate
	if issueDate.IsZero() {
		issueDate = s.now()
	}

	currency := params.Currency
	dueDate := params.DueDate
	if currency == "" || dueDate.IsZero() {
		defaults, err := s.prefs.BillingDefaults(ctx, actor.CompanyID)
		if err != nil {
			s.logger.Warn("failed to read billing defaults", "company_id", actor.CompanyID, "error", err)
			defaults = domain.BillingDefaults{}
		}
		if currency == "" {
			currency = defaults.Currency
		}
		if dueDate.IsZero() && defaults.DueDay > 0 {
			dueDate = dueDateFromDay(issueDate, defaults.DueDay)
		}
	}
	if currency == "" {
		currency = fallbackCurrency
	}
	if dueDate.IsZero() {
		return nil, ErrMissingDueDate
	}

	items, subtotal := buildLineItems(params)
	total := subtotal.Add(params.TaxAmount).Sub(params.DiscountAmount)
	if !total.IsPositive() {
		return nil, ErrNonPositiveTotal
	}

	inv := &domain.Invoice{
		ID:             uuid.New().String(),
		CompanyID:      actor.CompanyID,
		TenantID:       params.TenantID,
		PropertyID:     params.PropertyID,
		UnitID:         params.UnitID,
		Currency:       currency,
		Subtotal:       subtotal,
		TaxAmount:      params.TaxAmount,
		DiscountAmount: params.DiscountAmount,
		TotalAmount:    total,
		IssueDate:      issueDate,
		DueDate:        dueDate,
		Status:         domain.InvoiceStatusSent,
		CreatedBy:      actor.ID,
		Metadata:       buildMetadata(params),
		Items:          items,
		CreatedAt:      s.now(),
		UpdatedAt:      s.now(),
	}
	for i := range inv.Items {
		inv.Items[i].InvoiceID = inv.ID
	}

	scope := SequenceScope{CompanyID: actor.CompanyID, PropertyCode: params.PropertyCode}
	number, err := allocateWithRetry(ctx,
		func(attempt int) (string, error) {
			if attempt > 0 && telemetry.Business != nil {
				telemetry.Business.NumberCollisions.WithLabelValues("invoice").Inc()
			}
			return s.alloc.InvoiceNumber(ctx, scope, issueDate, attempt)
		},
		func(number string) error {
			inv.InvoiceNumber = number
			return s.invoices.CreateWithItems(ctx, inv)
		},
		ErrDuplicateInvoiceNumber,
		ErrInvoiceNumberExhausted,
	)
	if err != nil {
		if domain.IsCode(err, domain.ECONFLICT) && telemetry.Business != nil {
			telemetry.Business.NumberExhaustions.WithLabelValues("invoice").Inc()
		}
		return nil, err
	}
	inv.InvoiceNumber = number

	if telemetry.Business != nil {
		telemetry.Business.InvoicesCreated.WithLabelValues(inv.CompanyID, params.Channel).Inc()
		value, _ := inv.TotalAmount.Float64()
		telemetry.Business.InvoiceValue.WithLabelValues(inv.CompanyID, inv.Currency).Observe(value)
	}

	// Post-commit side effects. Each is independent and independently
	// failing; none shares a transaction with the invoice write.
	s.fireAndForget(ctx, "shadow_payment", func(fctx context.Context) error {
		return s.createShadowPayment(fctx, inv)
	})
	s.fireAndForget(ctx, "token", func(fctx context.Context) error {
		return s.tokens.IssueVerificationToken(fctx, inv.ID)
	})
	s.fireAndForget(ctx, "notification", func(fctx context.Context) error {
		return s.notifier.NotifyInvoice(fctx, domain.InvoiceEventCreated, inv)
	})
	s.fireAndForget(ctx, "snapshot", func(fctx context.Context) error {
		return s.snapshots.RecordSnapshot(fctx, inv, 1)
	})

	return inv, nil
}

// createShadowPayment records the pending payment that mirrors a freshly
// created invoice: same amount, same recipient, settles on the due date.
func (s *invoiceService) createShadowPayment(ctx context.Context, inv *domain.Invoice) error {
	p := &domain.Payment{
		ID:          uuid.New().String(),
		CompanyID:   inv.CompanyID,
		TenantID:    inv.TenantID,
		InvoiceID:   inv.ID,
		Amount:      inv.TotalAmount,
		Currency:    inv.Currency,
		Type:        domain.PaymentTypeRent,
		Status:      domain.PaymentStatusPending,
		PeriodLabel: inv.DueDate.Format("2006-01"),
		CreatedAt:   s.now(),
	}

	_, err := allocateWithRetry(ctx,
		func(attempt int) (string, error) {
			if attempt > 0 && telemetry.Business != nil {
				telemetry.Business.NumberCollisions.WithLabelValues("receipt").Inc()
			}
			return s.alloc.ReceiptNumber(ctx, inv.CompanyID, s.now(), attempt)
		},
		func(number string) error {
			p.ReceiptNumber = number
			return s.payments.Create(ctx, p)
		},
		ErrDuplicateReceiptNumber,
		ErrReceiptNumberExhausted,
	)
	if err != nil {
		return err
	}

	if telemetry.Business != nil {
		telemetry.Business.PaymentsRecorded.WithLabelValues(p.CompanyID, p.Method, string(p.Status)).Inc()
	}
	return nil
}

// Get returns an invoice with its line items. An out-of-scope invoice is
// reported as not found so its existence does not leak.
func (s *invoiceService) Get(ctx context.Context, actor domain.Actor, invoiceID string) (*domain.Invoice, error) {
	inv, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, domain.Internal(err, "invoice.get", "failed to load invoice")
	}
	if inv == nil {
		return nil, ErrInvoiceNotFound
	}

	visible, err := s.access.canView(ctx, actor, inv)
	if err != nil {
		return nil, domain.Internal(err, "invoice.get", "failed to resolve invoice visibility")
	}
	if !visible {
		return nil, ErrInvoiceNotFound
	}

	items, err := s.invoices.Items(ctx, inv.ID)
	if err != nil {
		return nil, domain.Internal(err, "invoice.get", "failed to load line items")
	}
	inv.Items = items
	return inv, nil
}

// List returns invoices with the actor's mandatory role scope applied
// before the caller's filter.
func (s *invoiceService) List(ctx context.Context, actor domain.Actor, filter domain.InvoiceFilter) ([]domain.Invoice, error) {
	companyID, propertyIDs, tenantID, ok, err := s.access.listScope(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Empty scope set (e.g. agent with no active assignments).
		return []domain.Invoice{}, nil
	}

	if tenantID != "" {
		filter.TenantID = tenantID
	}
	if len(propertyIDs) > 0 {
		if len(filter.PropertyIDs) > 0 {
			filter.PropertyIDs = intersect(filter.PropertyIDs, propertyIDs)
			if len(filter.PropertyIDs) == 0 {
				return []domain.Invoice{}, nil
			}
		} else {
			filter.PropertyIDs = propertyIDs
		}
	}

	invoices, err := s.invoices.List(ctx, companyID, filter)
	if err != nil {
		return nil, domain.Internal(err, "invoice.list", "failed to list invoices")
	}
	return invoices, nil
}

// Send re-sends an invoice. Idempotent from sent; legacy drafts are
// accepted and activated.
func (s *invoiceService) Send(ctx context.Context, actor domain.Actor, invoiceID string) (*domain.Invoice, error) {
	inv, err := s.getForMutation(ctx, actor, invoiceID)
	if err != nil {
		return nil, err
	}

	if err := s.transition(ctx, inv, domain.InvoiceStatusSent); err != nil {
		return nil, err
	}

	if telemetry.Business != nil {
		telemetry.Business.InvoicesSent.WithLabelValues(inv.CompanyID).Inc()
	}

	s.fireAndForget(ctx, "notification", func(fctx context.Context) error {
		return s.notifier.NotifyInvoice(fctx, domain.InvoiceEventSent, inv)
	})

	return inv, nil
}

// MarkPaid settles an invoice from sent or overdue, stamping paid-at and
// the payment method/reference.
func (s *invoiceService) MarkPaid(ctx context.Context, actor domain.Actor, invoiceID string, params domain.MarkPaidParams) (*domain.Invoice, error) {
	inv, err := s.getForMutation(ctx, actor, invoiceID)
	if err != nil {
		return nil, err
	}

	if !inv.Status.CanTransitionTo(domain.InvoiceStatusPaid) {
		if telemetry.Business != nil {
			telemetry.Business.TransitionDenied.WithLabelValues(string(inv.Status), string(domain.InvoiceStatusPaid)).Inc()
		}
		if inv.Status == domain.InvoiceStatusPaid {
			return nil, ErrInvoiceAlreadyPaid
		}
		return nil, ErrInvoiceNotOpen
	}

	if params.PaidAt.IsZero() {
		params.PaidAt = s.now()
	}

	updated, err := s.invoices.MarkPaid(ctx, inv.ID,
		[]domain.InvoiceStatus{domain.InvoiceStatusSent, domain.InvoiceStatusOverdue}, params)
	if err != nil {
		return nil, domain.Internal(err, "invoice.mark_paid", "failed to mark invoice paid")
	}
	if !updated {
		return nil, ErrConcurrentTransition
	}

	inv.Status = domain.InvoiceStatusPaid
	inv.PaidAt = &params.PaidAt
	inv.PaymentMethod = params.Method
	inv.PaymentReference = params.Reference

	if telemetry.Business != nil {
		telemetry.Business.InvoicesPaid.WithLabelValues(inv.CompanyID, "direct").Inc()
	}

	s.fireAndForget(ctx, "snapshot", func(fctx context.Context) error {
		return s.snapshots.RecordSnapshot(fctx, inv, 2)
	})
	s.fireAndForget(ctx, "notification", func(fctx context.Context) error {
		return s.notifier.NotifyInvoice(fctx, domain.InvoiceEventPaid, inv)
	})

	return inv, nil
}

// Cancel is an administrative transition; no payment side effects.
func (s *invoiceService) Cancel(ctx context.Context, actor domain.Actor, invoiceID string) (*domain.Invoice, error) {
	return s.adminTransition(ctx, actor, invoiceID, domain.InvoiceStatusCancelled)
}

// Void is an administrative transition; no payment side effects.
func (s *invoiceService) Void(ctx context.Context, actor domain.Actor, invoiceID string) (*domain.Invoice, error) {
	return s.adminTransition(ctx, actor, invoiceID, domain.InvoiceStatusVoid)
}

func (s *invoiceService) adminTransition(ctx context.Context, actor domain.Actor, invoiceID string, to domain.InvoiceStatus) (*domain.Invoice, error) {
	inv, err := s.getForMutation(ctx, actor, invoiceID)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, inv, to); err != nil {
		return nil, err
	}
	return inv, nil
}

// Delete removes an unpaid invoice. Paid invoices are never physically
// deleted. Line items belong exclusively to the invoice, so the store
// delete cascades to them.
func (s *invoiceService) Delete(ctx context.Context, actor domain.Actor, invoiceID string) error {
	inv, err := s.getForMutation(ctx, actor, invoiceID)
	if err != nil {
		return err
	}

	if inv.Status == domain.InvoiceStatusPaid {
		return ErrDeletePaidInvoice
	}

	if err := s.invoices.Delete(ctx, inv.ID); err != nil {
		return domain.Internal(err, "invoice.delete", "failed to delete invoice")
	}

	if telemetry.Business != nil {
		telemetry.Business.InvoicesDeleted.WithLabelValues(inv.CompanyID).Inc()
	}
	return nil
}

// getForMutation loads an invoice and re-derives the actor's permission.
// Out-of-scope records are not found; in-scope records the actor cannot
// mutate are forbidden.
func (s *invoiceService) getForMutation(ctx context.Context, actor domain.Actor, invoiceID string) (*domain.Invoice, error) {
	inv, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, domain.Internal(err, "invoice.load", "failed to load invoice")
	}
	if inv == nil {
		return nil, ErrInvoiceNotFound
	}

	visible, err := s.access.canView(ctx, actor, inv)
	if err != nil {
		return nil, domain.Internal(err, "invoice.load", "failed to resolve invoice visibility")
	}
	if !visible {
		return nil, ErrInvoiceNotFound
	}

	if err := s.access.canMutate(ctx, actor, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// transition applies a guarded conditional status write and mutates inv on
// success.
func (s *invoiceService) transition(ctx context.Context, inv *domain.Invoice, to domain.InvoiceStatus) error {
	if !inv.Status.CanTransitionTo(to) {
		if telemetry.Business != nil {
			telemetry.Business.TransitionDenied.WithLabelValues(string(inv.Status), string(to)).Inc()
		}
		return ErrIllegalTransition
	}

	updated, err := s.invoices.UpdateStatus(ctx, inv.ID, inv.Status, to)
	if err != nil {
		return domain.Internal(err, "invoice.transition", "failed to update invoice status")
	}
	if !updated {
		return ErrConcurrentTransition
	}
	inv.Status = to
	return nil
}

// fireAndForget runs a best-effort side effect with a bounded deadline,
// detached from the request's cancellation. Failures are logged and
// counted, never propagated: the financial record is authoritative even if
// a downstream notification is lost.
func (s *invoiceService) fireAndForget(ctx context.Context, effect string, fn func(context.Context) error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	if err := fn(fctx); err != nil {
		s.logger.Warn("side effect failed", "effect", effect, "error", err)
		if telemetry.Business != nil {
			telemetry.Business.SideEffectFailures.WithLabelValues(effect).Inc()
		}
	}
}

// validateCreateParams rejects malformed input before any write occurs.
func validateCreateParams(params domain.CreateInvoiceParams) error {
	var err error
	if params.TenantID == "" {
		err = domain.AddFieldError(err, "tenant_id", "recipient is required")
	}
	if params.RentAmount.IsNegative() {
		err = domain.AddFieldError(err, "rent_amount", "rent amount cannot be negative")
	}
	if params.TaxAmount.IsNegative() {
		err = domain.AddFieldError(err, "tax_amount", "tax amount cannot be negative")
	}
	if params.DiscountAmount.IsNegative() {
		err = domain.AddFieldError(err, "discount_amount", "discount amount cannot be negative")
	}
	for _, u := range params.Utilities {
		if u.Name == "" {
			err = domain.AddFieldError(err, "utilities", "utility name is required")
		}
		if u.Amount.IsNegative() {
			err = domain.AddFieldError(err, "utilities", "utility amount cannot be negative")
		}
	}
	for _, item := range params.ExtraItems {
		if item.Description == "" {
			err = domain.AddFieldError(err, "items", "line item description is required")
		}
		if item.UnitPrice.IsNegative() {
			err = domain.AddFieldError(err, "items", "line item unit price cannot be negative")
		}
	}
	return err
}

// buildLineItems turns the billing request into the invoice's line items:
// a rent line, one line per included utility, then the ad hoc charges.
// The returned subtotal is the sum of line totals, which makes the
// conservation invariant hold by construction at creation time.
func buildLineItems(params domain.CreateInvoiceParams) ([]domain.LineItem, decimal.Decimal) {
	one := decimal.NewFromInt(1)
	var items []domain.LineItem
	subtotal := decimal.Zero

	position := 0
	add := func(description string, qty, unitPrice decimal.Decimal, tag string) {
		total := qty.Mul(unitPrice)
		items = append(items, domain.LineItem{
			ID:          uuid.New().String(),
			Description: description,
			Quantity:    qty,
			UnitPrice:   unitPrice,
			TotalPrice:  total,
			SourceTag:   tag,
			Position:    position,
		})
		subtotal = subtotal.Add(total)
		position++
	}

	if params.RentAmount.IsPositive() {
		add("Rent", one, params.RentAmount, "rent")
	}
	for _, u := range params.Utilities {
		if !u.Included {
			continue
		}
		add(u.Name, one, u.Amount, u.Name)
	}
	for _, item := range params.ExtraItems {
		qty := item.Quantity
		if qty.IsZero() {
			qty = one
		}
		tag := item.SourceTag
		if tag == "" {
			tag = "other"
		}
		add(item.Description, qty, item.UnitPrice, tag)
	}

	return items, subtotal
}

// buildMetadata records the billing context that produced the invoice.
func buildMetadata(params domain.CreateInvoiceParams) map[string]any {
	meta := map[string]any{
		"rent_amount": params.RentAmount.String(),
	}
	if params.Channel != "" {
		meta["channel"] = params.Channel
	}
	if len(params.Utilities) > 0 {
		utilities := make([]map[string]any, 0, len(params.Utilities))
		for _, u := range params.Utilities {
			utilities = append(utilities, map[string]any{
				"name":     u.Name,
				"amount":   u.Amount.String(),
				"included": u.Included,
			})
		}
		meta["utilities"] = utilities
	}
	return meta
}

// dueDateFromDay resolves an issuer's preferred due day-of-month to the
// first occurrence on or after the issue date.
func dueDateFromDay(issueDate time.Time, day int) time.Time {
	due := time.Date(issueDate.Year(), issueDate.Month(), day, 0, 0, 0, 0, issueDate.Location())
	if due.Before(issueDate) {
		due = due.AddDate(0, 1, 0)
	}
	return due
}

// intersect returns the elements of a that are also in b.
func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, s := range b {
		set[s] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := set[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

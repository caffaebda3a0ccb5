package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the settlement state of a recorded money movement.
type PaymentStatus string

const (
	// PaymentStatusPending covers shadow payments created alongside an
	// invoice and gateway payments awaiting confirmation.
	PaymentStatusPending PaymentStatus = "pending"

	// PaymentStatusApproved is a gateway-confirmed or manually completed
	// payment. Only approved payments count toward settling an invoice.
	PaymentStatusApproved PaymentStatus = "approved"

	PaymentStatusFailed PaymentStatus = "failed"
)

// PaymentMethod values observed from the payment channels in production.
const (
	PaymentMethodCash        = "cash"
	PaymentMethodMobileMoney = "mobile_money"
	PaymentMethodGateway     = "online_gateway"
	PaymentMethodBank        = "bank_transfer"
)

// PaymentType distinguishes rent settlements from other charges.
const (
	PaymentTypeRent  = "rent"
	PaymentTypeOther = "other"
)

// Payment records one money movement. Payments are never deleted; they are
// mutated only when linked to an invoice or when their status changes.
type Payment struct {
	ID        string
	CompanyID string

	// TenantID is the payer.
	TenantID string

	// InvoiceID links the payment to the invoice it settles. Nullable; set
	// at most once unless explicitly re-linked, and only to an invoice
	// whose recipient equals the payer.
	InvoiceID string

	Amount   decimal.Decimal
	Currency string
	Method   string
	Type     string
	Status   PaymentStatus

	// ReceiptNumber is the issuer-supplied receipt identifier, unique per
	// deployment (RCT-{year}-{seq}, company/year granularity).
	ReceiptNumber string

	// GatewayRef is the external gateway transaction id, unique when present.
	GatewayRef string

	// PeriodLabel is the human billing period this payment covers
	// ("2026-08", "Aug 2026 rent", ...).
	PeriodLabel string

	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// PaymentFilter narrows payment listings. Role scoping is applied by the
// service before any of these filters.
type PaymentFilter struct {
	TenantID  string
	InvoiceID string
	Status    PaymentStatus
	Type      string

	// Search matches receipt number and gateway reference.
	Search string

	Limit  int32
	Offset int32
}

// RecordPaymentParams contains the input for recording a payment.
type RecordPaymentParams struct {
	// CompanyID names the issuer when the actor is a superadmin; ignored
	// otherwise (the actor's own company is used).
	CompanyID string

	TenantID string
	Amount   decimal.Decimal
	Currency string
	Method   string
	Type     string

	// GatewayRef is required for online gateway payments; the intake
	// verifies it against the gateway before recording.
	GatewayRef string

	PeriodLabel string
}

// PaymentIntake records money movements upstream of reconciliation.
// Manual payments (cash, mobile money, bank transfer) are recorded as
// approved; gateway payments are verified against the external gateway
// and take their status, amount and currency from the confirmation.
type PaymentIntake interface {
	Record(ctx context.Context, actor Actor, params RecordPaymentParams) (*Payment, error)

	// Get returns a payment visible to the actor. Out-of-scope payments
	// are reported as not found.
	Get(ctx context.Context, actor Actor, paymentID string) (*Payment, error)

	// List returns payments scoped to the actor's role before applying
	// the filter.
	List(ctx context.Context, actor Actor, filter PaymentFilter) ([]Payment, error)
}

// ReconcileReport summarizes one auto-reconcile run.
type ReconcileReport struct {
	PaymentsExamined int
	PaymentsLinked   int
	InvoicesPaid     int
}

// SweepReport summarizes one overdue sweep run.
type SweepReport struct {
	Examined      int
	MarkedOverdue int
}

// Reconciler matches independently recorded payments against outstanding
// invoices. It calls back into the invoice lifecycle's transition guards
// rather than writing invoice state directly.
type Reconciler interface {
	// LinkPayment links a payment to an invoice and promotes the invoice to
	// paid when the approved sum covers the total. Linking a payment that is
	// already linked elsewhere, or into an already-paid invoice, conflicts
	// and leaves both records unchanged.
	LinkPayment(ctx context.Context, actor Actor, paymentID, invoiceID string) (*Payment, *Invoice, error)

	// AutoReconcile scans unlinked approved payments against open invoices
	// (company-scoped unless the actor is a superadmin), matching by exact
	// amount per recipient, earliest due date first. A payment matching no
	// candidate is skipped, not an error. Safe to run repeatedly.
	AutoReconcile(ctx context.Context, actor Actor) (ReconcileReport, error)
}

// OverdueSweeper escalates sent invoices whose grace deadline has elapsed.
type OverdueSweeper interface {
	// Sweep transitions sent invoices to overdue when
	// startOfDay(due + grace) < startOfDay(now). Idempotent: invoices
	// already overdue, paid, cancelled, or void are untouched.
	Sweep(ctx context.Context, now time.Time) (SweepReport, error)
}

// PaymentStore persists payment records. Duplicate receipt numbers surface
// as ErrDuplicateReceiptNumber so callers can retry allocation.
type PaymentStore interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id string) (*Payment, error)

	// List applies companyID scoping (empty = all companies) before filter.
	List(ctx context.Context, companyID string, filter PaymentFilter) ([]Payment, error)

	// ListUnlinkedApproved returns approved payments with no invoice link,
	// scoped to companyID when non-empty, oldest first.
	ListUnlinkedApproved(ctx context.Context, companyID string) ([]Payment, error)

	// LinkToInvoice is a conditional write: the link is set only while the
	// payment is unlinked or already linked to the same invoice. Returns
	// false when the payment is linked elsewhere.
	LinkToInvoice(ctx context.Context, paymentID, invoiceID string) (bool, error)

	UpdateStatus(ctx context.Context, id string, status PaymentStatus, processedAt time.Time) error

	// SumApprovedForInvoice aggregates approved amounts linked to the invoice.
	SumApprovedForInvoice(ctx context.Context, invoiceID string) (decimal.Decimal, error)

	// CountReceiptsInYear counts receipt numbers already issued for the
	// company within the calendar year.
	CountReceiptsInYear(ctx context.Context, companyID string, year int) (int64, error)
}

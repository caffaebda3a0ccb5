package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is the lifecycle state of an invoice.
type InvoiceStatus string

const (
	// InvoiceStatusDraft is a legacy/compatibility state. Normal creation
	// never produces it, but transition guards accept it as a source.
	InvoiceStatusDraft InvoiceStatus = "draft"

	// InvoiceStatusSent is the initial state: invoices are created active.
	InvoiceStatusSent InvoiceStatus = "sent"

	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
	InvoiceStatusVoid      InvoiceStatus = "void"
)

// invoiceTransitions is the single source of truth for legal status
// transitions. Guards consult this table instead of comparing strings ad hoc.
// A sent→sent entry makes re-sending idempotent.
var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusDraft:     {InvoiceStatusSent, InvoiceStatusCancelled, InvoiceStatusVoid},
	InvoiceStatusSent:      {InvoiceStatusSent, InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled, InvoiceStatusVoid},
	InvoiceStatusOverdue:   {InvoiceStatusPaid, InvoiceStatusCancelled, InvoiceStatusVoid},
	InvoiceStatusPaid:      {},
	InvoiceStatusCancelled: {},
	InvoiceStatusVoid:      {},
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s InvoiceStatus) CanTransitionTo(next InvoiceStatus) bool {
	for _, allowed := range invoiceTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible from s.
func (s InvoiceStatus) Terminal() bool {
	return len(invoiceTransitions[s]) == 0
}

// Valid reports whether s is a known status.
func (s InvoiceStatus) Valid() bool {
	_, ok := invoiceTransitions[s]
	return ok
}

// LineItem is one itemized charge belonging to exactly one invoice.
// Line items are created atomically with their invoice and never mutated
// independently afterwards.
type LineItem struct {
	ID          string
	InvoiceID   string
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	TotalPrice  decimal.Decimal

	// SourceTag identifies the charge's origin: "rent", a named utility
	// ("water", "electricity", ...), or "other".
	SourceTag string

	Position int
}

// Invoice is a billing obligation from an issuer (company) to a recipient
// (tenant), optionally scoped to a property/unit.
//
// Invariant enforced at creation: TotalAmount = Subtotal + TaxAmount −
// DiscountAmount, and the sum of line item totals equals TotalAmount.
type Invoice struct {
	ID            string
	CompanyID     string
	TenantID      string
	PropertyID    string
	UnitID        string
	InvoiceNumber string
	Currency      string

	Subtotal       decimal.Decimal
	TaxAmount      decimal.Decimal
	DiscountAmount decimal.Decimal
	TotalAmount    decimal.Decimal

	IssueDate time.Time
	DueDate   time.Time
	PaidAt    *time.Time

	Status InvoiceStatus

	// PaymentMethod and PaymentReference are stamped when the invoice is
	// marked paid (directly or by reconciliation).
	PaymentMethod    string
	PaymentReference string

	CreatedBy string

	// Metadata carries free-form billing context: rent amount, itemized
	// utility charges, creation channel.
	Metadata map[string]any

	Items []LineItem

	CreatedAt time.Time
	UpdatedAt time.Time
}

// UtilityCharge is one named utility on an invoice request. Included
// charges become line items and count toward the invoice total.
type UtilityCharge struct {
	Name     string
	Amount   decimal.Decimal
	Included bool
}

// LineItemParams describes an additional ad hoc charge.
type LineItemParams struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	SourceTag   string
}

// CreateInvoiceParams contains the input for creating an invoice.
type CreateInvoiceParams struct {
	TenantID   string
	PropertyID string
	UnitID     string

	// PropertyCode, when set, is embedded in the generated invoice number.
	PropertyCode string

	Currency  string
	IssueDate time.Time
	DueDate   time.Time

	RentAmount decimal.Decimal
	Utilities  []UtilityCharge
	ExtraItems []LineItemParams

	TaxAmount      decimal.Decimal
	DiscountAmount decimal.Decimal

	// Channel records how the invoice came to exist ("api", "portal",
	// "import", ...). Stored in metadata only.
	Channel string
}

// MarkPaidParams records how an invoice was settled.
type MarkPaidParams struct {
	Method    string
	Reference string
	PaidAt    time.Time
}

// InvoiceFilter narrows invoice listings. Role scoping (company, owned or
// assigned properties, own tenancy) is applied by the service before any of
// these filters.
type InvoiceFilter struct {
	TenantID string
	UnitID   string
	Status   InvoiceStatus

	// PropertyIDs restricts to invoices on the given properties. Used both
	// as a caller filter and as the scope set for agents and landlords.
	PropertyIDs []string

	// Search matches invoice number and line item descriptions.
	Search string

	Limit  int32
	Offset int32
}

// InvoiceService drives an invoice through its guarded lifecycle. Every
// operation re-derives permission from the actor before writing; guard
// failures abort with no partial state change.
type InvoiceService interface {
	// Create allocates an invoice number, persists the invoice and its line
	// items as one unit, and fires the creation side effects (shadow
	// payment, verification token, notification, document snapshot). Side
	// effects are best-effort and never fail the create.
	Create(ctx context.Context, actor Actor, params CreateInvoiceParams) (*Invoice, error)

	// Get returns an invoice visible to the actor. Out-of-scope invoices
	// are reported as not found, never as forbidden.
	Get(ctx context.Context, actor Actor, invoiceID string) (*Invoice, error)

	// List returns invoices scoped to the actor's role before applying the
	// filter. An agent with no active assignments gets an empty result.
	List(ctx context.Context, actor Actor, filter InvoiceFilter) ([]Invoice, error)

	// Send re-sends an invoice and notifies the recipient. Idempotent from
	// sent; conflicts from paid, cancelled, and void.
	Send(ctx context.Context, actor Actor, invoiceID string) (*Invoice, error)

	// MarkPaid settles an invoice from sent or overdue.
	MarkPaid(ctx context.Context, actor Actor, invoiceID string, params MarkPaidParams) (*Invoice, error)

	// Cancel and Void are administrative transitions with no payment side
	// effects beyond the status change.
	Cancel(ctx context.Context, actor Actor, invoiceID string) (*Invoice, error)
	Void(ctx context.Context, actor Actor, invoiceID string) (*Invoice, error)

	// Delete removes an unpaid invoice and its line items. Paid invoices
	// are never deleted.
	Delete(ctx context.Context, actor Actor, invoiceID string) error
}

// InvoiceStore persists invoices. CreateWithItems writes the invoice and
// its line items atomically and surfaces duplicate invoice numbers as
// ErrDuplicateInvoiceNumber so callers can retry allocation.
type InvoiceStore interface {
	CreateWithItems(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id string) (*Invoice, error)
	Items(ctx context.Context, invoiceID string) ([]LineItem, error)

	// List applies companyID scoping (empty = all companies) before filter.
	List(ctx context.Context, companyID string, filter InvoiceFilter) ([]Invoice, error)

	// ListByStatus returns invoices in any of the given statuses, scoped to
	// companyID when non-empty, ordered oldest due date first.
	ListByStatus(ctx context.Context, companyID string, statuses []InvoiceStatus) ([]Invoice, error)

	// UpdateStatus performs a conditional write: the status moves from→to
	// only if the row still holds from. Returns false when the row changed
	// underneath the caller.
	UpdateStatus(ctx context.Context, id string, from, to InvoiceStatus) (bool, error)

	// MarkPaid conditionally settles an invoice whose status is one of
	// froms, stamping paid-at, method and reference.
	MarkPaid(ctx context.Context, id string, froms []InvoiceStatus, params MarkPaidParams) (bool, error)

	Delete(ctx context.Context, id string) error

	// CountNumbersInPeriod counts invoice numbers already issued for the
	// company (and property code, when set) within the calendar month.
	// Input to the sequence allocator's candidate derivation.
	CountNumbersInPeriod(ctx context.Context, companyID, propertyCode string, year int, month time.Month) (int64, error)
}

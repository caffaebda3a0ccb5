package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// The interfaces in this file are the narrow seams to systems outside the
// billing core: the permission layer, issuer settings, notification
// delivery, document snapshots, and the payment gateway. The core consumes
// them; it never implements them beyond thin adapters.

// AccessResolver answers relationship questions against the permission
// layer's ownership chain. Implementations must report a missing tenant or
// property as (false, not-found error), not as a bare false.
type AccessResolver interface {
	// TenantAccessible reports whether the actor has a tenant-access
	// relationship with the recipient: same company, owns the property the
	// tenant occupies, or is the tenant themself.
	TenantAccessible(ctx context.Context, actor Actor, tenantID string) (bool, error)

	// PropertyOwned reports whether the user owns the property.
	PropertyOwned(ctx context.Context, userID, propertyID string) (bool, error)

	// ActiveAssignment reports whether the agent holds an active assignment
	// to the property.
	ActiveAssignment(ctx context.Context, agentID, propertyID string) (bool, error)

	// AssignedProperties lists the properties an agent is actively assigned
	// to. An empty set scopes the agent to an empty view, not an error.
	AssignedProperties(ctx context.Context, agentID string) ([]string, error)

	// OwnedProperties lists the properties a landlord owns.
	OwnedProperties(ctx context.Context, userID string) ([]string, error)
}

// BillingDefaults are the issuer-level invoice defaults.
type BillingDefaults struct {
	Currency string
	DueDay   int
}

// PreferenceReader reads issuer settings. Grace period is consumed by the
// overdue sweep; billing defaults at invoice creation.
type PreferenceReader interface {
	// GracePeriodDays returns the issuer's grace period in days. Absent
	// settings default to 0, not an error.
	GracePeriodDays(ctx context.Context, companyID string) (int, error)

	BillingDefaults(ctx context.Context, companyID string) (BillingDefaults, error)
}

// Invoice notification events.
const (
	InvoiceEventCreated = "invoice.created"
	InvoiceEventSent    = "invoice.sent"
	InvoiceEventPaid    = "invoice.paid"
	InvoiceEventOverdue = "invoice.overdue"
)

// NotificationDispatcher notifies a recipient about an invoice event.
// Fire-and-forget: callers log failures and never propagate them.
type NotificationDispatcher interface {
	NotifyInvoice(ctx context.Context, event string, inv *Invoice) error
}

// SnapshotRecorder persists an immutable rendering of an invoice at a given
// revision. Fire-and-forget.
type SnapshotRecorder interface {
	RecordSnapshot(ctx context.Context, inv *Invoice, revision int) error
}

// TokenIssuer issues a verification token for a freshly created invoice so
// the recipient can validate its authenticity. Fire-and-forget.
type TokenIssuer interface {
	IssueVerificationToken(ctx context.Context, invoiceID string) error
}

// GatewayTransaction is the gateway's view of a confirmed transaction.
type GatewayTransaction struct {
	Reference   string
	Amount      decimal.Decimal
	Currency    string
	Status      string
	PayerRef    string
	ProcessedAt time.Time
	Metadata    map[string]string
}

// GatewayVerifier confirms a transaction reference against the external
// payment gateway. Consumed by the payment intake path upstream of
// reconciliation.
type GatewayVerifier interface {
	VerifyTransaction(ctx context.Context, reference string) (*GatewayTransaction, error)
}

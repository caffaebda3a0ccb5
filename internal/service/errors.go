package service

import (
	"github.com/makaohq/makao/internal/domain"
)

// Not-found errors - use domain.ENOTFOUND
var (
	ErrInvoiceNotFound  = domain.Errorf(domain.ENOTFOUND, "", "Invoice not found")
	ErrPaymentNotFound  = domain.Errorf(domain.ENOTFOUND, "", "Payment not found")
	ErrTenantNotFound   = domain.Errorf(domain.ENOTFOUND, "", "Tenant not found")
	ErrPropertyNotFound = domain.Errorf(domain.ENOTFOUND, "", "Property not found")
)

// Validation errors - use domain.EINVALID
var (
	ErrMissingTenant      = domain.Errorf(domain.EINVALID, "", "Invoice recipient is required")
	ErrNonPositiveTotal   = domain.Errorf(domain.EINVALID, "", "Invoice total must be greater than zero")
	ErrMissingDueDate     = domain.Errorf(domain.EINVALID, "", "Invoice due date is required")
	ErrPayerMismatch      = domain.Errorf(domain.EINVALID, "", "Payment payer does not match invoice recipient")
	ErrCrossTenantLink    = domain.Errorf(domain.EINVALID, "", "Payment and invoice belong to different companies")
	ErrUnbalancedInvoice  = domain.Errorf(domain.EINVALID, "", "Line item totals do not add up to the invoice total")
)

// State conflicts - use domain.ECONFLICT
var (
	ErrIllegalTransition     = domain.Errorf(domain.ECONFLICT, "", "Illegal invoice status transition")
	ErrInvoiceAlreadyPaid    = domain.Errorf(domain.ECONFLICT, "", "Invoice is already paid")
	ErrInvoiceNotOpen        = domain.Errorf(domain.ECONFLICT, "", "Invoice is not open for settlement")
	ErrDeletePaidInvoice     = domain.Errorf(domain.ECONFLICT, "", "Paid invoices cannot be deleted")
	ErrPaymentAlreadyLinked  = domain.Errorf(domain.ECONFLICT, "", "Payment is already linked to a different invoice")
	ErrConcurrentTransition  = domain.Errorf(domain.ECONFLICT, "", "Invoice was modified concurrently, retry the operation")

	// Duplicate-number sentinels returned by the store adapters on unique
	// constraint violations; the allocator retry loop keys off them.
	ErrDuplicateInvoiceNumber = domain.Errorf(domain.ECONFLICT, "", "Invoice number already exists")
	ErrDuplicateReceiptNumber = domain.Errorf(domain.ECONFLICT, "", "Receipt number already exists")

	// ErrInvoiceNumberExhausted is the collision-exhausted failure: the
	// allocator hit its retry ceiling. Fatal for the request, never
	// swallowed.
	ErrInvoiceNumberExhausted = domain.Errorf(domain.ECONFLICT, "", "Could not allocate a unique invoice number, please retry")
	ErrReceiptNumberExhausted = domain.Errorf(domain.ECONFLICT, "", "Could not allocate a unique receipt number, please retry")
)

// Permission errors - use domain.EFORBIDDEN
var (
	ErrNotPermitted  = domain.Errorf(domain.EFORBIDDEN, "", "Acting party is not permitted to perform this operation")
	ErrCompanyScope  = domain.ErrCompanyMismatch
	ErrNoCompany     = domain.ErrNoCompany
	ErrTenantsCannotMutate = domain.Errorf(domain.EFORBIDDEN, "", "Tenants have read-only access to their invoices")
)

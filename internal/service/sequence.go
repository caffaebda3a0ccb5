package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/makaohq/makao/internal/domain"
)

// Identifier prefixes. Invoice numbers are month-scoped per company (and
// optionally property); receipt numbers are year-scoped per company.
const (
	invoicePrefix = "INV"
	receiptPrefix = "RCT"
)

// Allocation retry policy: the count-then-format candidate is racy by
// design, so every allocation is paired with an insert attempt and retried
// on a uniqueness violation. Bounded loop, no recursion.
const (
	maxAllocAttempts = 5
	allocBackoffStep = 50 * time.Millisecond
)

// SequenceScope identifies the partition an identifier is drawn from.
type SequenceScope struct {
	CompanyID    string
	PropertyCode string
}

// SequenceAllocator produces human-readable, collision-resistant invoice
// and receipt identifiers. The candidate sequence is derived from a count
// of identifiers already issued in the scope and period, nudged forward by
// the caller's attempt hint after a collision.
type SequenceAllocator struct {
	invoices domain.InvoiceStore
	payments domain.PaymentStore
}

// NewSequenceAllocator creates a SequenceAllocator over the given stores.
func NewSequenceAllocator(invoices domain.InvoiceStore, payments domain.PaymentStore) *SequenceAllocator {
	return &SequenceAllocator{
		invoices: invoices,
		payments: payments,
	}
}

// InvoiceNumber returns a candidate invoice number for the scope and
// period: {PREFIX}-{propertyCode?}-{year}-{month}-{seq}. The attempt hint
// shifts the candidate forward so a retry after a collision does not
// recompute the same sequence.
func (a *SequenceAllocator) InvoiceNumber(ctx context.Context, scope SequenceScope, at time.Time, attempt int) (string, error) {
	count, err := a.invoices.CountNumbersInPeriod(ctx, scope.CompanyID, scope.PropertyCode, at.Year(), at.Month())
	if err != nil {
		return "", domain.Internal(err, "sequence.invoice_number", "failed to count issued invoice numbers")
	}

	seq := count + 1 + int64(attempt)
	if scope.PropertyCode != "" {
		return fmt.Sprintf("%s-%s-%d-%02d-%04d", invoicePrefix, scope.PropertyCode, at.Year(), at.Month(), seq), nil
	}
	return fmt.Sprintf("%s-%d-%02d-%04d", invoicePrefix, at.Year(), at.Month(), seq), nil
}

// ReceiptNumber returns a candidate receipt number for the company and
// calendar year: RCT-{year}-{seq}.
func (a *SequenceAllocator) ReceiptNumber(ctx context.Context, companyID string, at time.Time, attempt int) (string, error) {
	count, err := a.payments.CountReceiptsInYear(ctx, companyID, at.Year())
	if err != nil {
		return "", domain.Internal(err, "sequence.receipt_number", "failed to count issued receipt numbers")
	}

	seq := count + 1 + int64(attempt)
	return fmt.Sprintf("%s-%d-%04d", receiptPrefix, at.Year(), seq), nil
}

// allocateWithRetry runs the allocate-then-insert loop: insert is the
// caller's closure, and a duplicate sentinel from it triggers another
// allocation with an incremented attempt hint and a linearly increasing
// backoff. Exhausting the ceiling returns exhausted; any other insert
// error is surfaced as-is.
func allocateWithRetry(
	ctx context.Context,
	allocate func(attempt int) (string, error),
	insert func(number string) error,
	duplicate error,
	exhausted error,
) (string, error) {
	for attempt := 0; attempt < maxAllocAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, allocBackoffStep*time.Duration(attempt)); err != nil {
				return "", err
			}
		}

		number, err := allocate(attempt)
		if err != nil {
			return "", err
		}

		err = insert(number)
		if err == nil {
			return number, nil
		}
		if errors.Is(err, duplicate) {
			continue
		}
		return "", err
	}

	return "", exhausted
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

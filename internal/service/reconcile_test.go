package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makaohq/makao/internal/domain"
)

func TestLinkPayment_SettlesAtFullCover(t *testing.T) {
	f := newBillingFixture()
	r := f.reconciler()
	ctx := context.Background()
	actor := adminActor("co-1")

	f.seedInvoice("inv-1", "co-1", "tenant-1", domain.InvoiceStatusSent, march(5), d("1000"))
	f.seedPayment("pay-1", "co-1", "tenant-1", domain.PaymentStatusApproved, d("1000"), march(6))

	payment, inv, err := r.LinkPayment(ctx, actor, "pay-1", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "inv-1", payment.InvoiceID)
	assert.Equal(t, domain.InvoiceStatusPaid, inv.Status)
	require.NotNil(t, inv.PaidAt)
	assert.Equal(t, domain.PaymentMethodMobileMoney, inv.PaymentMethod)
	assert.Equal(t, "RCT-SEED-pay-1", inv.PaymentReference)
	assert.Equal(t, 1, f.notifier.eventCount(domain.InvoiceEventPaid))
}

func TestLinkPayment_PartialCoverLeavesInvoiceOpen(t *testing.T) {
	f := newBillingFixture()
	r := f.reconciler()
	ctx := context.Background()

	f.seedInvoice("inv-1", "co-1", "tenant-1", domain.InvoiceStatusSent, march(5), d("1000"))
	f.seedPayment("pay-1", "co-1", "tenant-1", domain.PaymentStatusApproved, d("400"), march(6))

	payment, inv, err := r.LinkPayment(ctx, adminActor("co-1"), "pay-1", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "inv-1", payment.InvoiceID)
	assert.Equal(t, domain.InvoiceStatusSent, inv.Status)

	// A second partial that completes the total settles it.
	f.seedPayment("pay-2", "co-1", "tenant-1", domain.PaymentStatusApproved, d("600"), march(7))
	_, inv, err = r.LinkPayment(ctx, adminActor("co-1"), "pay-2", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPaid, inv.Status)
}

func TestLinkPayment_RelinkToSameInvoiceIsIdempotent(t *testing.T) {
	f := newBillingFixture()
	r := f.reconciler()
	ctx := context.Background()
	actor := adminActor("co-1")

	f.seedInvoice("inv-1", "co-1", "tenant-1", domain.InvoiceStatusSent, march(5), d("1000"))
	f.seedPayment("pay-1", "co-1", "tenant-1", domain.PaymentStatusApproved, d("1000"), march(6))

	_, _, err := r.LinkPayment(ctx, actor, "pay-1", "inv-1")
	require.NoError(t, err)

	payment, inv, err := r.LinkPayment(ctx, actor, "pay-1", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "inv-1", payment.InvoiceID)
	assert.Equal(t, domain.InvoiceStatusPaid, inv.Status)
}

func TestLinkPayment_Conflicts(t *testing.T) {
	f := newBillingFixture()
	r := f.reconciler()
	ctx := context.Background()
	actor := adminActor("co-1")

	f.seedInvoice("inv-1", "co-1", "tenant-1", domain.InvoiceStatusSent, march(5), d("1000"))
	f.seedInvoice("inv-2", "co-1", "tenant-1", domain.InvoiceStatusSent, march(6), d("1000"))
	f.seedInvoice("inv-paid", "co-1", "tenant-1", domain.InvoiceStatusPaid, march(4), d("500"))
	f.seedInvoice("inv-void", "co-1", "tenant-1", domain.InvoiceStatusVoid, march(4), d("500"))
	f.seedPayment("pay-1", "co-1", "tenant-1", domain.PaymentStatusApproved, d("500"), march(6))

	t.Run("linked elsewhere", func(t *testing.T) {
		_, _, err := r.LinkPayment(ctx, actor, "pay-1", "inv-1")
		require.NoError(t, err)
		_, _, err = r.LinkPayment(ctx, actor, "pay-1", "inv-2")
		assert.ErrorIs(t, err, ErrPaymentAlreadyLinked)
	})

	t.Run("into paid invoice", func(t *testing.T) {
		f.seedPayment("pay-2", "co-1", "tenant-1", domain.PaymentStatusApproved, d("500"), march(7))
		_, _, err := r.LinkPayment(ctx, actor, "pay-2", "inv-paid")
		assert.ErrorIs(t, err, ErrInvoiceAlreadyPaid)
	})

	t.Run("into void invoice", func(t *testing.T) {
		f.seedPayment("pay-3", "co-1", "tenant-1", domain.PaymentStatusApproved, d("500"), march(7))
		_, _, err := r.LinkPayment(ctx, actor, "pay-3", "inv-void")
		assert.ErrorIs(t, err, ErrInvoiceNotOpen)
	})
}

func TestLinkPayment_Validation(t *testing.T) {
	f := newBillingFixture()
	r := f.reconciler()
	ctx := context.Background()
	super := domain.Actor{ID: "root", Role: domain.RoleSuperAdmin}

	f.seedInvoice("inv-co1", "co-1", "tenant-1", domain.InvoiceStatusSent, march(5), d("1000"))
	f.seedInvoice("inv-co2", "co-2", "tenant-9", domain.InvoiceStatusSent, march(5), d("1000"))
	f.seedPayment("pay-co1", "co-1", "tenant-1", domain.PaymentStatusApproved, d("1000"), march(6))
	f.seedPayment("pay-other-tenant", "co-1", "tenant-2", domain.PaymentStatusApproved, d("1000"), march(6))

	t.Run("cross-company link rejected", func(t *testing.T) {
		_, _, err := r.LinkPayment(ctx, super, "pay-co1", "inv-co2")
		assert.ErrorIs(t, err, ErrCrossTenantLink)
		assert.True(t, domain.IsCode(err, domain.EINVALID))
	})

	t.Run("payer mismatch rejected", func(t *testing.T) {
		_, _, err := r.LinkPayment(ctx, super, "pay-other-tenant", "inv-co1")
		assert.ErrorIs(t, err, ErrPayerMismatch)
	})

	t.Run("foreign company payment reads as absent", func(t *testing.T) {
		_, _, err := r.LinkPayment(ctx, adminActor("co-2"), "pay-co1", "inv-co2")
		assert.ErrorIs(t, err, ErrPaymentNotFound)
	})

	t.Run("tenant cannot link", func(t *testing.T) {
		tenant := domain.Actor{ID: "tenant-1", Role: domain.RoleTenant}
		_, _, err := r.LinkPayment(ctx, tenant, "pay-co1", "inv-co1")
		assert.ErrorIs(t, err, ErrTenantsCannotMutate)
	})
}

func TestAutoReconcile_MatchesExactAmountOldestDueFirst(t *testing.T) {
	f := newBillingFixture()
	r := f.reconciler()
	ctx := context.Background()

	// Two identical obligations for the same recipient; the payment must
	// settle the one due first.
	f.seedInvoice("inv-early", "co-1", "tenant-1", domain.InvoiceStatusSent, march(5), d("800"))
	f.seedInvoice("inv-late", "co-1", "tenant-1", domain.InvoiceStatusSent, march(20), d("800"))
	f.seedPayment("pay-800", "co-1", "tenant-1", domain.PaymentStatusApproved, d("800"), march(6))

	// No exact match anywhere for this one; it must be skipped, not fail.
	f.seedPayment("pay-999", "co-1", "tenant-1", domain.PaymentStatusApproved, d("999"), march(6))

	report, err := r.AutoReconcile(ctx, adminActor("co-1"))
	require.NoError(t, err)
	assert.Equal(t, 2, report.PaymentsExamined)
	assert.Equal(t, 1, report.PaymentsLinked)
	assert.Equal(t, 1, report.InvoicesPaid)

	early, err := f.invoices.GetByID(ctx, "inv-early")
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPaid, early.Status)

	late, err := f.invoices.GetByID(ctx, "inv-late")
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusSent, late.Status)

	// Re-running finds nothing new.
	report, err = r.AutoReconcile(ctx, adminActor("co-1"))
	require.NoError(t, err)
	assert.Equal(t, 0, report.PaymentsLinked)
	assert.Equal(t, 0, report.InvoicesPaid)
}

func TestAutoReconcile_OnePaymentPerInvoice(t *testing.T) {
	f := newBillingFixture()
	r := f.reconciler()
	ctx := context.Background()

	f.seedInvoice("inv-1", "co-1", "tenant-1", domain.InvoiceStatusSent, march(5), d("800"))
	f.seedPayment("pay-a", "co-1", "tenant-1", domain.PaymentStatusApproved, d("800"), march(6))
	f.seedPayment("pay-b", "co-1", "tenant-1", domain.PaymentStatusApproved, d("800"), march(7))

	report, err := r.AutoReconcile(ctx, adminActor("co-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.PaymentsLinked)
	assert.Equal(t, 1, report.InvoicesPaid)

	// The second identical payment stays unlinked for manual review.
	b, err := f.payments.GetByID(ctx, "pay-b")
	require.NoError(t, err)
	assert.Empty(t, b.InvoiceID)
}

func TestAutoReconcile_ScopedByCompany(t *testing.T) {
	f := newBillingFixture()
	r := f.reconciler()
	ctx := context.Background()

	f.seedInvoice("inv-co2", "co-2", "tenant-9", domain.InvoiceStatusSent, march(5), d("700"))
	f.seedPayment("pay-co2", "co-2", "tenant-9", domain.PaymentStatusApproved, d("700"), march(6))

	// Admin of co-1 never touches co-2 records.
	report, err := r.AutoReconcile(ctx, adminActor("co-1"))
	require.NoError(t, err)
	assert.Equal(t, 0, report.PaymentsExamined)

	// Superadmin reconciles across companies.
	super := domain.Actor{ID: "root", Role: domain.RoleSuperAdmin}
	report, err = r.AutoReconcile(ctx, super)
	require.NoError(t, err)
	assert.Equal(t, 1, report.InvoicesPaid)
}

func TestAutoReconcile_RoleRestrictions(t *testing.T) {
	f := newBillingFixture()
	r := f.reconciler()
	ctx := context.Background()

	_, err := r.AutoReconcile(ctx, domain.Actor{ID: "l-1", Role: domain.RoleLandlord})
	assert.ErrorIs(t, err, ErrNotPermitted)

	_, err = r.AutoReconcile(ctx, domain.Actor{ID: "a-1", Role: domain.RoleAdmin})
	assert.ErrorIs(t, err, domain.ErrNoCompany)
}

func TestAutoReconcile_SkipsCurrencyMismatch(t *testing.T) {
	f := newBillingFixture()
	r := f.reconciler()
	ctx := context.Background()

	f.seedInvoice("inv-1", "co-1", "tenant-1", domain.InvoiceStatusSent, march(5), d("800"))
	p := f.seedPayment("pay-usd", "co-1", "tenant-1", domain.PaymentStatusApproved, d("800"), march(6))
	f.payments.payments[p.ID].Currency = "USD"

	report, err := r.AutoReconcile(ctx, adminActor("co-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.PaymentsExamined)
	assert.Equal(t, 0, report.PaymentsLinked)
}

func TestSettle_UsesPaymentProcessedAt(t *testing.T) {
	f := newBillingFixture()
	r := f.reconciler()
	ctx := context.Background()

	f.seedInvoice("inv-1", "co-1", "tenant-1", domain.InvoiceStatusOverdue, march(5), d("1000"))
	p := f.seedPayment("pay-1", "co-1", "tenant-1", domain.PaymentStatusApproved, d("1000"), march(6))
	processed := time.Date(2026, time.March, 8, 10, 30, 0, 0, time.UTC)
	f.payments.payments[p.ID].ProcessedAt = &processed

	_, inv, err := r.LinkPayment(ctx, adminActor("co-1"), "pay-1", "inv-1")
	require.NoError(t, err)
	require.NotNil(t, inv.PaidAt)
	assert.Equal(t, processed, *inv.PaidAt)
}

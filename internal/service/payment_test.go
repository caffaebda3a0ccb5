package service

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makaohq/makao/internal/domain"
)

func TestRecordPayment_ManualIsApproved(t *testing.T) {
	f := newBillingFixture()
	f.resolver.accessibleTenants["tenant-1"] = true

	p, err := f.intake().Record(context.Background(), adminActor("co-1"), domain.RecordPaymentParams{
		TenantID:    "tenant-1",
		Amount:      d("1000"),
		Method:      domain.PaymentMethodCash,
		PeriodLabel: "2026-03",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusApproved, p.Status)
	assert.NotNil(t, p.ProcessedAt)
	assert.Equal(t, "co-1", p.CompanyID)
	assert.Equal(t, domain.PaymentTypeRent, p.Type)
	assert.Equal(t, "KES", p.Currency)
	assert.Regexp(t, regexp.MustCompile(`^RCT-\d{4}-\d{4}$`), p.ReceiptNumber)
}

func TestRecordPayment_GatewayTakesConfirmedValues(t *testing.T) {
	f := newBillingFixture()
	f.resolver.accessibleTenants["tenant-1"] = true
	processedAt := time.Date(2026, time.March, 3, 10, 0, 0, 0, time.UTC)
	f.verifier.tx = &domain.GatewayTransaction{
		Reference:   "ch_123",
		Amount:      d("1500"),
		Currency:    "USD",
		Status:      "succeeded",
		ProcessedAt: processedAt,
	}

	p, err := f.intake().Record(context.Background(), adminActor("co-1"), domain.RecordPaymentParams{
		TenantID:   "tenant-1",
		Amount:     d("999"),
		Currency:   "KES",
		Method:     domain.PaymentMethodGateway,
		GatewayRef: "ch_123",
	})
	require.NoError(t, err)

	// The gateway's confirmation wins over the caller's figures.
	assert.True(t, p.Amount.Equal(d("1500")), "amount = %s", p.Amount)
	assert.Equal(t, "USD", p.Currency)
	assert.Equal(t, "ch_123", p.GatewayRef)
	assert.Equal(t, domain.PaymentStatusApproved, p.Status)
	require.NotNil(t, p.ProcessedAt)
	assert.True(t, p.ProcessedAt.Equal(processedAt))
}

func TestRecordPayment_GatewayFailureRecordedAsFailed(t *testing.T) {
	f := newBillingFixture()
	f.resolver.accessibleTenants["tenant-1"] = true
	f.verifier.tx = &domain.GatewayTransaction{
		Amount: d("500"),
		Status: "failed",
	}

	p, err := f.intake().Record(context.Background(), adminActor("co-1"), domain.RecordPaymentParams{
		TenantID:   "tenant-1",
		Method:     domain.PaymentMethodGateway,
		GatewayRef: "ch_bad",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusFailed, p.Status)
	assert.Nil(t, p.ProcessedAt)
}

func TestRecordPayment_UnknownGatewayReference(t *testing.T) {
	f := newBillingFixture()
	f.resolver.accessibleTenants["tenant-1"] = true

	_, err := f.intake().Record(context.Background(), adminActor("co-1"), domain.RecordPaymentParams{
		TenantID:   "tenant-1",
		Method:     domain.PaymentMethodGateway,
		GatewayRef: "ch_missing",
	})
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ENOTFOUND))
}

func TestRecordPayment_Validation(t *testing.T) {
	f := newBillingFixture()
	f.resolver.accessibleTenants["tenant-1"] = true
	intake := f.intake()

	t.Run("missing payer and method", func(t *testing.T) {
		_, err := intake.Record(context.Background(), adminActor("co-1"), domain.RecordPaymentParams{})
		require.Error(t, err)
		require.True(t, domain.IsValidationError(err))
		fields := domain.GetValidationFields(err)
		assert.Contains(t, fields, "tenant_id")
		assert.Contains(t, fields, "method")
	})

	t.Run("non-positive manual amount", func(t *testing.T) {
		_, err := intake.Record(context.Background(), adminActor("co-1"), domain.RecordPaymentParams{
			TenantID: "tenant-1",
			Method:   domain.PaymentMethodCash,
			Amount:   d("0"),
		})
		require.Error(t, err)
		require.True(t, domain.IsValidationError(err))
		assert.Contains(t, domain.GetValidationFields(err), "amount")
	})

	t.Run("gateway without reference", func(t *testing.T) {
		_, err := intake.Record(context.Background(), adminActor("co-1"), domain.RecordPaymentParams{
			TenantID: "tenant-1",
			Method:   domain.PaymentMethodGateway,
		})
		require.Error(t, err)
		require.True(t, domain.IsValidationError(err))
		assert.Contains(t, domain.GetValidationFields(err), "gateway_ref")
	})
}

func TestRecordPayment_Permissions(t *testing.T) {
	f := newBillingFixture()
	f.resolver.accessibleTenants["tenant-1"] = true
	intake := f.intake()
	params := domain.RecordPaymentParams{
		TenantID: "tenant-1",
		Amount:   d("1000"),
		Method:   domain.PaymentMethodCash,
	}

	t.Run("tenant cannot record", func(t *testing.T) {
		tenant := domain.Actor{ID: "tenant-1", Role: domain.RoleTenant}
		_, err := intake.Record(context.Background(), tenant, params)
		assert.ErrorIs(t, err, ErrNotPermitted)
	})

	t.Run("admin without company", func(t *testing.T) {
		_, err := intake.Record(context.Background(), domain.Actor{ID: "a", Role: domain.RoleAdmin}, params)
		assert.ErrorIs(t, err, ErrNoCompany)
	})

	t.Run("superadmin must name the issuer", func(t *testing.T) {
		super := domain.Actor{ID: "root", Role: domain.RoleSuperAdmin}
		_, err := intake.Record(context.Background(), super, params)
		assert.ErrorIs(t, err, ErrNoCompany)

		scoped := params
		scoped.CompanyID = "co-9"
		p, err := intake.Record(context.Background(), super, scoped)
		require.NoError(t, err)
		assert.Equal(t, "co-9", p.CompanyID)
	})

	t.Run("inaccessible payer", func(t *testing.T) {
		foreign := params
		foreign.TenantID = "tenant-other"
		_, err := intake.Record(context.Background(), adminActor("co-1"), foreign)
		assert.ErrorIs(t, err, ErrNotPermitted)
	})
}

func TestListPayments_RoleScoping(t *testing.T) {
	f := newBillingFixture()
	f.seedPayment("p1", "co-1", "tenant-1", domain.PaymentStatusApproved, d("1000"), march(1))
	f.seedPayment("p2", "co-1", "tenant-2", domain.PaymentStatusApproved, d("2000"), march(2))
	f.seedPayment("p3", "co-2", "tenant-3", domain.PaymentStatusApproved, d("3000"), march(3))
	intake := f.intake()

	t.Run("admin sees own company", func(t *testing.T) {
		out, err := intake.List(context.Background(), adminActor("co-1"), domain.PaymentFilter{})
		require.NoError(t, err)
		assert.Len(t, out, 2)
	})

	t.Run("superadmin sees all", func(t *testing.T) {
		super := domain.Actor{ID: "root", Role: domain.RoleSuperAdmin}
		out, err := intake.List(context.Background(), super, domain.PaymentFilter{})
		require.NoError(t, err)
		assert.Len(t, out, 3)
	})

	t.Run("tenant sees only their own", func(t *testing.T) {
		tenant := domain.Actor{ID: "tenant-1", Role: domain.RoleTenant}
		out, err := intake.List(context.Background(), tenant, domain.PaymentFilter{TenantID: "tenant-2"})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "p1", out[0].ID)
	})

	t.Run("landlord needs an accessible payer filter", func(t *testing.T) {
		landlord := domain.Actor{ID: "landlord-1", Role: domain.RoleLandlord, CompanyID: "co-1"}
		_, err := intake.List(context.Background(), landlord, domain.PaymentFilter{})
		assert.ErrorIs(t, err, ErrNotPermitted)

		f.resolver.accessibleTenants["tenant-2"] = true
		out, err := intake.List(context.Background(), landlord, domain.PaymentFilter{TenantID: "tenant-2"})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "p2", out[0].ID)
	})
}

func TestGetPayment_OutOfScopeReadsAsNotFound(t *testing.T) {
	f := newBillingFixture()
	f.seedPayment("p1", "co-1", "tenant-1", domain.PaymentStatusApproved, d("1000"), march(1))
	intake := f.intake()

	foreignAdmin := adminActor("co-2")
	_, err := intake.Get(context.Background(), foreignAdmin, "p1")
	assert.ErrorIs(t, err, ErrPaymentNotFound)

	_, err = intake.Get(context.Background(), adminActor("co-1"), "p1")
	assert.NoError(t, err)
}

package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makaohq/makao/internal/domain"
)

func TestInvoiceNumber_Format(t *testing.T) {
	f := newBillingFixture()
	alloc := NewSequenceAllocator(f.invoices, f.payments)
	at := time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		scope   SequenceScope
		attempt int
		want    string
	}{
		{"company scope", SequenceScope{CompanyID: "co-1"}, 0, "INV-2026-03-0001"},
		{"property scope", SequenceScope{CompanyID: "co-1", PropertyCode: "NBO1"}, 0, "INV-NBO1-2026-03-0001"},
		{"attempt shifts sequence", SequenceScope{CompanyID: "co-1"}, 3, "INV-2026-03-0004"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := alloc.InvoiceNumber(context.Background(), tt.scope, at, tt.attempt)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReceiptNumber_Format(t *testing.T) {
	f := newBillingFixture()
	alloc := NewSequenceAllocator(f.invoices, f.payments)
	at := time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC)

	got, err := alloc.ReceiptNumber(context.Background(), "co-1", at, 0)
	require.NoError(t, err)
	assert.Equal(t, "RCT-2026-0001", got)
}

func TestCreate_RetriesPastCollisions(t *testing.T) {
	f := newBillingFixture()
	f.resolver.accessibleTenants["tenant-1"] = true

	// Pin the count so every attempt derives from the same base, and
	// pre-claim the first two candidates to force two collisions.
	var zero int64
	f.invoices.countOverride = &zero
	f.invoices.numbers["INV-2026-03-0001"] = true
	f.invoices.numbers["INV-2026-03-0002"] = true

	inv, err := f.service.Create(context.Background(), adminActor("co-1"), rentParams("tenant-1"))
	require.NoError(t, err)
	assert.Equal(t, "INV-2026-03-0003", inv.InvoiceNumber)
}

func TestCreate_FailsWhenRetriesExhausted(t *testing.T) {
	f := newBillingFixture()
	f.resolver.accessibleTenants["tenant-1"] = true

	var zero int64
	f.invoices.countOverride = &zero
	for _, n := range []string{
		"INV-2026-03-0001", "INV-2026-03-0002", "INV-2026-03-0003",
		"INV-2026-03-0004", "INV-2026-03-0005",
	} {
		f.invoices.numbers[n] = true
	}

	_, err := f.service.Create(context.Background(), adminActor("co-1"), rentParams("tenant-1"))
	assert.ErrorIs(t, err, ErrInvoiceNumberExhausted)
	assert.True(t, domain.IsCode(err, domain.ECONFLICT))
}

func TestCreate_ConcurrentCreatorsGetDistinctNumbers(t *testing.T) {
	f := newBillingFixture()
	f.resolver.accessibleTenants["tenant-1"] = true
	actor := adminActor("co-1")

	const creators = 5
	var wg sync.WaitGroup
	errs := make([]error, creators)
	invoices := make([]*domain.Invoice, creators)

	for i := 0; i < creators; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			invoices[i], errs[i] = f.service.Create(context.Background(), actor, rentParams("tenant-1"))
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i := 0; i < creators; i++ {
		require.NoError(t, errs[i], "creator %d", i)
		num := invoices[i].InvoiceNumber
		assert.False(t, seen[num], "duplicate invoice number %s", num)
		seen[num] = true
	}
}

func TestAllocateWithRetry_SurfacesUnrelatedErrors(t *testing.T) {
	insertErr := assert.AnError
	_, err := allocateWithRetry(context.Background(),
		func(attempt int) (string, error) { return "N-1", nil },
		func(number string) error { return insertErr },
		ErrDuplicateInvoiceNumber,
		ErrInvoiceNumberExhausted,
	)
	assert.ErrorIs(t, err, insertErr)
}

func TestAllocateWithRetry_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := allocateWithRetry(ctx,
		func(attempt int) (string, error) { return "N-1", nil },
		func(number string) error { return ErrDuplicateInvoiceNumber },
		ErrDuplicateInvoiceNumber,
		ErrInvoiceNumberExhausted,
	)
	assert.ErrorIs(t, err, context.Canceled)
}

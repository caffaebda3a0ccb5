// Package gateway verifies payment references against the external payment
// gateway. The billing core consumes it through domain.GatewayVerifier on
// the payment intake path, upstream of reconciliation.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"

	"github.com/makaohq/makao/internal/domain"
)

// StripeVerifier confirms transaction references against Stripe payment
// intents.
type StripeVerifier struct {
	logger *slog.Logger
}

var _ domain.GatewayVerifier = (*StripeVerifier)(nil)

// NewStripeVerifier configures the Stripe client and returns a verifier.
func NewStripeVerifier(apiKey string, logger *slog.Logger) *StripeVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	stripe.Key = apiKey
	return &StripeVerifier{logger: logger}
}

// VerifyTransaction fetches the payment intent behind the reference. An
// unknown reference is a not-found domain error; anything else from the
// gateway is internal.
func (v *StripeVerifier) VerifyTransaction(ctx context.Context, reference string) (*domain.GatewayTransaction, error) {
	params := &stripe.PaymentIntentParams{
		Params: stripe.Params{Context: ctx},
	}

	pi, err := paymentintent.Get(reference, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return nil, domain.NotFound("gateway.verify", "transaction", reference)
		}
		return nil, domain.Internal(err, "gateway.verify", "gateway lookup failed")
	}

	tx := &domain.GatewayTransaction{
		Reference: pi.ID,
		// Stripe amounts are minor units of the currency.
		Amount:      decimal.New(pi.Amount, -2),
		Currency:    string(pi.Currency),
		Status:      mapIntentStatus(pi.Status),
		ProcessedAt: time.Unix(pi.Created, 0),
		Metadata:    pi.Metadata,
	}
	if pi.Customer != nil {
		tx.PayerRef = pi.Customer.ID
	}
	return tx, nil
}

// mapIntentStatus reduces Stripe's intent states to the three settlement
// states the payment intake path understands.
func mapIntentStatus(status stripe.PaymentIntentStatus) string {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return "succeeded"
	case stripe.PaymentIntentStatusCanceled:
		return "failed"
	default:
		return "pending"
	}
}

// MockVerifier serves development and test environments without gateway
// credentials. References prefixed "fail-" verify as failed; everything
// else succeeds with the configured amount.
type MockVerifier struct {
	Currency string
	Amount   decimal.Decimal
}

var _ domain.GatewayVerifier = (*MockVerifier)(nil)

func (m *MockVerifier) VerifyTransaction(ctx context.Context, reference string) (*domain.GatewayTransaction, error) {
	if reference == "" {
		return nil, domain.Invalid("gateway.verify", "transaction reference is required")
	}

	status := "succeeded"
	if len(reference) >= 5 && reference[:5] == "fail-" {
		status = "failed"
	}

	currency := m.Currency
	if currency == "" {
		currency = "KES"
	}

	return &domain.GatewayTransaction{
		Reference:   fmt.Sprintf("mock_%s", reference),
		Amount:      m.Amount,
		Currency:    currency,
		Status:      status,
		ProcessedAt: time.Now(),
	}, nil
}

package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/makaohq/makao/internal/domain"
	"github.com/makaohq/makao/internal/telemetry"
)

type paymentIntake struct {
	payments domain.PaymentStore
	alloc    *SequenceAllocator
	resolver domain.AccessResolver
	gateway  domain.GatewayVerifier
	logger   *slog.Logger
	now      func() time.Time
}

// Compile-time check that paymentIntake implements domain.PaymentIntake.
var _ domain.PaymentIntake = (*paymentIntake)(nil)

// NewPaymentIntake creates the payment recording service. Gateway payments
// are verified through the verifier before a record is written.
func NewPaymentIntake(
	payments domain.PaymentStore,
	alloc *SequenceAllocator,
	resolver domain.AccessResolver,
	gateway domain.GatewayVerifier,
	logger *slog.Logger,
) domain.PaymentIntake {
	if logger == nil {
		logger = slog.Default()
	}
	return &paymentIntake{
		payments: payments,
		alloc:    alloc,
		resolver: resolver,
		gateway:  gateway,
		logger:   logger,
		now:      time.Now,
	}
}

// Record validates the request, verifies gateway references, allocates a
// receipt number and persists the payment. Manual methods are recorded as
// approved; gateway payments carry the status the gateway confirmed.
func (s *paymentIntake) Record(ctx context.Context, actor domain.Actor, params domain.RecordPaymentParams) (*domain.Payment, error) {
	if actor.Role == domain.RoleTenant {
		return nil, ErrNotPermitted
	}

	companyID := actor.CompanyID
	if actor.IsSuper() {
		companyID = params.CompanyID
	}
	if companyID == "" {
		return nil, ErrNoCompany
	}

	if err := validateRecordParams(params); err != nil {
		return nil, err
	}

	accessible, err := s.resolver.TenantAccessible(ctx, actor, params.TenantID)
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			return nil, ErrTenantNotFound
		}
		return nil, domain.Internal(err, "payment.record", "failed to resolve tenant access")
	}
	if !accessible {
		return nil, ErrNotPermitted
	}

	paymentType := params.Type
	if paymentType == "" {
		paymentType = domain.PaymentTypeRent
	}

	p := &domain.Payment{
		ID:          uuid.New().String(),
		CompanyID:   companyID,
		TenantID:    params.TenantID,
		Amount:      params.Amount,
		Currency:    params.Currency,
		Method:      params.Method,
		Type:        paymentType,
		PeriodLabel: params.PeriodLabel,
		CreatedAt:   s.now(),
	}
	if p.Currency == "" {
		p.Currency = fallbackCurrency
	}

	if params.Method == domain.PaymentMethodGateway {
		if err := s.applyGatewayConfirmation(ctx, p, params.GatewayRef); err != nil {
			return nil, err
		}
	} else {
		// A manually recorded payment is money already in hand.
		processedAt := s.now()
		p.Status = domain.PaymentStatusApproved
		p.ProcessedAt = &processedAt
	}

	_, err = allocateWithRetry(ctx,
		func(attempt int) (string, error) {
			if attempt > 0 && telemetry.Business != nil {
				telemetry.Business.NumberCollisions.WithLabelValues("receipt").Inc()
			}
			return s.alloc.ReceiptNumber(ctx, companyID, s.now(), attempt)
		},
		func(number string) error {
			p.ReceiptNumber = number
			return s.payments.Create(ctx, p)
		},
		ErrDuplicateReceiptNumber,
		ErrReceiptNumberExhausted,
	)
	if err != nil {
		if errors.Is(err, ErrReceiptNumberExhausted) && telemetry.Business != nil {
			telemetry.Business.NumberExhaustions.WithLabelValues("receipt").Inc()
		}
		return nil, err
	}

	if telemetry.Business != nil {
		telemetry.Business.PaymentsRecorded.WithLabelValues(p.CompanyID, p.Method, string(p.Status)).Inc()
	}

	s.logger.Info("payment recorded",
		"payment_id", p.ID,
		"company_id", p.CompanyID,
		"tenant_id", p.TenantID,
		"method", p.Method,
		"status", p.Status,
		"receipt_number", p.ReceiptNumber,
	)

	return p, nil
}

// applyGatewayConfirmation verifies the gateway reference and stamps the
// payment with the confirmed amount, currency and status. The gateway's
// view of the transaction wins over the caller's.
func (s *paymentIntake) applyGatewayConfirmation(ctx context.Context, p *domain.Payment, reference string) error {
	tx, err := s.gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			return domain.NotFound("payment.record", "gateway transaction", reference)
		}
		return domain.Internal(err, "payment.record", "failed to verify gateway transaction")
	}

	p.GatewayRef = tx.Reference
	if !tx.Amount.IsZero() {
		p.Amount = tx.Amount
	}
	if tx.Currency != "" {
		p.Currency = tx.Currency
	}

	switch tx.Status {
	case string(domain.PaymentStatusApproved), "succeeded", "completed":
		p.Status = domain.PaymentStatusApproved
		processedAt := tx.ProcessedAt
		if processedAt.IsZero() {
			processedAt = s.now()
		}
		p.ProcessedAt = &processedAt
	case string(domain.PaymentStatusFailed):
		p.Status = domain.PaymentStatusFailed
	default:
		p.Status = domain.PaymentStatusPending
	}

	return nil
}

// Get returns a payment inside the actor's scope. Out-of-scope payments
// read as absent so their existence does not leak.
func (s *paymentIntake) Get(ctx context.Context, actor domain.Actor, paymentID string) (*domain.Payment, error) {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, domain.Internal(err, "payment.get", "failed to load payment")
	}
	if p == nil {
		return nil, ErrPaymentNotFound
	}

	visible, err := s.canViewPayment(ctx, actor, p)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, ErrPaymentNotFound
	}

	return p, nil
}

// List returns payments scoped to the actor's role. Landlords and agents
// see payments only through a recipient they have tenant access to.
func (s *paymentIntake) List(ctx context.Context, actor domain.Actor, filter domain.PaymentFilter) ([]domain.Payment, error) {
	companyID := ""

	switch actor.Role {
	case domain.RoleSuperAdmin:

	case domain.RoleAdmin:
		if actor.CompanyID == "" {
			return nil, ErrNoCompany
		}
		companyID = actor.CompanyID

	case domain.RoleTenant:
		filter.TenantID = actor.ID

	case domain.RoleLandlord, domain.RoleAgent:
		if filter.TenantID == "" {
			return nil, ErrNotPermitted
		}
		accessible, err := s.resolver.TenantAccessible(ctx, actor, filter.TenantID)
		if err != nil {
			if domain.IsCode(err, domain.ENOTFOUND) {
				return nil, ErrTenantNotFound
			}
			return nil, domain.Internal(err, "payment.list", "failed to resolve tenant access")
		}
		if !accessible {
			return nil, ErrNotPermitted
		}

	default:
		return nil, ErrNotPermitted
	}

	payments, err := s.payments.List(ctx, companyID, filter)
	if err != nil {
		return nil, domain.Internal(err, "payment.list", "failed to list payments")
	}
	return payments, nil
}

// canViewPayment mirrors the invoice visibility rules for payment records.
func (s *paymentIntake) canViewPayment(ctx context.Context, actor domain.Actor, p *domain.Payment) (bool, error) {
	switch actor.Role {
	case domain.RoleSuperAdmin:
		return true, nil
	case domain.RoleAdmin:
		return actor.CompanyID != "" && actor.CompanyID == p.CompanyID, nil
	case domain.RoleTenant:
		return actor.ID == p.TenantID, nil
	case domain.RoleLandlord, domain.RoleAgent:
		accessible, err := s.resolver.TenantAccessible(ctx, actor, p.TenantID)
		if err != nil {
			if domain.IsCode(err, domain.ENOTFOUND) {
				return false, nil
			}
			return false, domain.Internal(err, "payment.get", "failed to resolve tenant access")
		}
		return accessible, nil
	default:
		return false, nil
	}
}

// validateRecordParams accumulates field errors for the record request.
func validateRecordParams(params domain.RecordPaymentParams) error {
	var err error

	if params.TenantID == "" {
		err = domain.AddFieldError(err, "tenant_id", "payer is required")
	}

	switch params.Method {
	case domain.PaymentMethodCash, domain.PaymentMethodMobileMoney, domain.PaymentMethodBank:
		if !params.Amount.IsPositive() {
			err = domain.AddFieldError(err, "amount", "amount must be greater than zero")
		}
	case domain.PaymentMethodGateway:
		if params.GatewayRef == "" {
			err = domain.AddFieldError(err, "gateway_ref", "gateway reference is required for gateway payments")
		}
	case "":
		err = domain.AddFieldError(err, "method", "payment method is required")
	default:
		err = domain.AddFieldError(err, "method", "unknown payment method: "+params.Method)
	}

	if params.Type != "" && params.Type != domain.PaymentTypeRent && params.Type != domain.PaymentTypeOther {
		err = domain.AddFieldError(err, "type", "unknown payment type: "+params.Type)
	}

	return err
}

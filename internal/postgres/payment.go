package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/makaohq/makao/internal/domain"
	"github.com/makaohq/makao/internal/service"
)

// PaymentStore implements domain.PaymentStore using PostgreSQL.
type PaymentStore struct {
	pool *pgxpool.Pool
}

// Compile-time check that PaymentStore implements domain.PaymentStore.
var _ domain.PaymentStore = (*PaymentStore)(nil)

// NewPaymentStore creates a new PostgreSQL-backed payment store.
func NewPaymentStore(pool *pgxpool.Pool) *PaymentStore {
	return &PaymentStore{pool: pool}
}

const paymentColumns = `
	id, company_id, tenant_id, invoice_id, amount, currency, method,
	type, status, receipt_number, gateway_ref, period_label,
	created_at, processed_at`

// Create inserts a payment. A duplicate receipt number surfaces as
// service.ErrDuplicateReceiptNumber so the allocator can retry.
func (s *PaymentStore) Create(ctx context.Context, p *domain.Payment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO payments (
			id, company_id, tenant_id, invoice_id, amount, currency,
			method, type, status, receipt_number, gateway_ref,
			period_label, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, now()
		)`,
		p.ID, p.CompanyID, p.TenantID, nullText(p.InvoiceID), p.Amount, p.Currency,
		nullText(p.Method), p.Type, string(p.Status), nullText(p.ReceiptNumber),
		nullText(p.GatewayRef), nullText(p.PeriodLabel),
	)
	if err != nil {
		if isUniqueViolation(err, "receipt_number") {
			return service.ErrDuplicateReceiptNumber
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetByID returns the payment or (nil, nil) when absent.
func (s *PaymentStore) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)

	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

// List returns payments scoped to companyID (empty = all) with the filter
// applied, oldest first.
func (s *PaymentStore) List(ctx context.Context, companyID string, filter domain.PaymentFilter) ([]domain.Payment, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if companyID != "" {
		conds = append(conds, "company_id = "+arg(companyID))
	}
	if filter.TenantID != "" {
		conds = append(conds, "tenant_id = "+arg(filter.TenantID))
	}
	if filter.InvoiceID != "" {
		conds = append(conds, "invoice_id = "+arg(filter.InvoiceID))
	}
	if filter.Status != "" {
		conds = append(conds, "status = "+arg(string(filter.Status)))
	}
	if filter.Type != "" {
		conds = append(conds, "type = "+arg(filter.Type))
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		conds = append(conds, "(receipt_number ILIKE "+arg(pattern)+" OR gateway_ref ILIKE "+arg(pattern)+")")
	}

	query := `SELECT ` + paymentColumns + ` FROM payments`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	return collectPayments(rows)
}

// ListUnlinkedApproved returns approved payments with no invoice link,
// oldest first, scoped to companyID when non-empty.
func (s *PaymentStore) ListUnlinkedApproved(ctx context.Context, companyID string) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE status = 'approved' AND invoice_id IS NULL`
	var args []any
	if companyID != "" {
		query += " AND company_id = $1"
		args = append(args, companyID)
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list unlinked payments: %w", err)
	}
	defer rows.Close()

	return collectPayments(rows)
}

// LinkToInvoice sets the link only while the payment is unlinked or
// already linked to the same invoice.
func (s *PaymentStore) LinkToInvoice(ctx context.Context, paymentID, invoiceID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE payments
		SET invoice_id = $2
		WHERE id = $1 AND (invoice_id IS NULL OR invoice_id = $2)`,
		paymentID, invoiceID)
	if err != nil {
		return false, fmt.Errorf("link payment: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateStatus records a settlement state change.
func (s *PaymentStore) UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus, processedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE payments
		SET status = $2, processed_at = $3
		WHERE id = $1`,
		id, string(status), processedAt)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	return nil
}

// SumApprovedForInvoice aggregates approved amounts linked to the invoice.
func (s *PaymentStore) SumApprovedForInvoice(ctx context.Context, invoiceID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(sum(amount), 0) FROM payments
		WHERE invoice_id = $1 AND status = 'approved'`,
		invoiceID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum approved payments: %w", err)
	}
	return sum, nil
}

// CountReceiptsInYear counts receipt numbers already issued for the
// company's year partition, matched on the number itself.
func (s *PaymentStore) CountReceiptsInYear(ctx context.Context, companyID string, year int) (int64, error) {
	pattern := fmt.Sprintf("RCT-%d-%%", year)

	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM payments
		WHERE company_id = $1 AND receipt_number LIKE $2`,
		companyID, pattern).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count receipt numbers: %w", err)
	}
	return count, nil
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var (
		p           domain.Payment
		invoiceID   pgtype.Text
		method      pgtype.Text
		receipt     pgtype.Text
		gatewayRef  pgtype.Text
		periodLabel pgtype.Text
		status      string
		processedAt pgtype.Timestamptz
	)

	err := row.Scan(
		&p.ID, &p.CompanyID, &p.TenantID, &invoiceID, &p.Amount, &p.Currency,
		&method, &p.Type, &status, &receipt, &gatewayRef, &periodLabel,
		&p.CreatedAt, &processedAt,
	)
	if err != nil {
		return nil, err
	}

	p.InvoiceID = textValue(invoiceID)
	p.Method = textValue(method)
	p.Status = domain.PaymentStatus(status)
	p.ReceiptNumber = textValue(receipt)
	p.GatewayRef = textValue(gatewayRef)
	p.PeriodLabel = textValue(periodLabel)
	if processedAt.Valid {
		t := processedAt.Time
		p.ProcessedAt = &t
	}
	return &p, nil
}

func collectPayments(rows pgx.Rows) ([]domain.Payment, error) {
	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

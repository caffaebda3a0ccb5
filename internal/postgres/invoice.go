package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/makaohq/makao/internal/domain"
	"github.com/makaohq/makao/internal/service"
)

// InvoiceStore implements domain.InvoiceStore using PostgreSQL.
type InvoiceStore struct {
	pool *pgxpool.Pool
}

// Compile-time check that InvoiceStore implements domain.InvoiceStore.
var _ domain.InvoiceStore = (*InvoiceStore)(nil)

// NewInvoiceStore creates a new PostgreSQL-backed invoice store.
func NewInvoiceStore(pool *pgxpool.Pool) *InvoiceStore {
	return &InvoiceStore{pool: pool}
}

const invoiceColumns = `
	id, company_id, tenant_id, property_id, unit_id, invoice_number,
	currency, subtotal, tax_amount, discount_amount, total_amount,
	issue_date, due_date, paid_at, status, payment_method,
	payment_reference, created_by, metadata, created_at, updated_at`

// CreateWithItems inserts the invoice and its line items in one
// transaction. A duplicate invoice number surfaces as
// service.ErrDuplicateInvoiceNumber so the allocator can retry.
func (s *InvoiceStore) CreateWithItems(ctx context.Context, inv *domain.Invoice) error {
	metadata, err := json.Marshal(inv.Metadata)
	if err != nil {
		return fmt.Errorf("marshal invoice metadata: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO invoices (
			id, company_id, tenant_id, property_id, unit_id, invoice_number,
			currency, subtotal, tax_amount, discount_amount, total_amount,
			issue_date, due_date, status, created_by, metadata,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16,
			now(), now()
		)`,
		inv.ID, inv.CompanyID, inv.TenantID,
		nullText(inv.PropertyID), nullText(inv.UnitID), inv.InvoiceNumber,
		inv.Currency, inv.Subtotal, inv.TaxAmount, inv.DiscountAmount, inv.TotalAmount,
		inv.IssueDate, inv.DueDate, string(inv.Status), inv.CreatedBy, metadata,
	)
	if err != nil {
		if isUniqueViolation(err, "invoice_number") {
			return service.ErrDuplicateInvoiceNumber
		}
		return fmt.Errorf("insert invoice: %w", err)
	}

	for _, item := range inv.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO invoice_items (
				id, invoice_id, description, quantity, unit_price,
				total_price, source_tag, position
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			item.ID, inv.ID, item.Description, item.Quantity, item.UnitPrice,
			item.TotalPrice, item.SourceTag, item.Position,
		)
		if err != nil {
			return fmt.Errorf("insert line item: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetByID returns the invoice without its line items, or (nil, nil) when
// absent.
func (s *InvoiceStore) GetByID(ctx context.Context, id string) (*domain.Invoice, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)

	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	return inv, nil
}

// Items returns the invoice's line items in display order.
func (s *InvoiceStore) Items(ctx context.Context, invoiceID string) ([]domain.LineItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, invoice_id, description, quantity, unit_price,
		       total_price, source_tag, position
		FROM invoice_items
		WHERE invoice_id = $1
		ORDER BY position`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list line items: %w", err)
	}
	defer rows.Close()

	var items []domain.LineItem
	for rows.Next() {
		var item domain.LineItem
		if err := rows.Scan(
			&item.ID, &item.InvoiceID, &item.Description, &item.Quantity,
			&item.UnitPrice, &item.TotalPrice, &item.SourceTag, &item.Position,
		); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// List returns invoices scoped to companyID (empty = all) with the filter
// applied, newest due date last.
func (s *InvoiceStore) List(ctx context.Context, companyID string, filter domain.InvoiceFilter) ([]domain.Invoice, error) {
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
	if filter.UnitID != "" {
		conds = append(conds, "unit_id = "+arg(filter.UnitID))
	}
	if filter.Status != "" {
		conds = append(conds, "status = "+arg(string(filter.Status)))
	}
	if len(filter.PropertyIDs) > 0 {
		conds = append(conds, "property_id = ANY("+arg(filter.PropertyIDs)+")")
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		conds = append(conds, `(invoice_number ILIKE `+arg(pattern)+
			` OR id IN (SELECT invoice_id FROM invoice_items WHERE description ILIKE `+arg(pattern)+`))`)
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY due_date ASC, created_at ASC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	return collectInvoices(rows)
}

// ListByStatus returns invoices in any of the given statuses, oldest due
// date first.
func (s *InvoiceStore) ListByStatus(ctx context.Context, companyID string, statuses []domain.InvoiceStatus) ([]domain.Invoice, error) {
	values := make([]string, len(statuses))
	for i, st := range statuses {
		values[i] = string(st)
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE status = ANY($1)`
	args := []any{values}
	if companyID != "" {
		query += " AND company_id = $2"
		args = append(args, companyID)
	}
	query += " ORDER BY due_date ASC, created_at ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list invoices by status: %w", err)
	}
	defer rows.Close()

	return collectInvoices(rows)
}

// UpdateStatus moves the invoice from→to only if the row still holds from.
func (s *InvoiceStore) UpdateStatus(ctx context.Context, id string, from, to domain.InvoiceStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE invoices
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("update invoice status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkPaid settles the invoice if its status is one of froms.
func (s *InvoiceStore) MarkPaid(ctx context.Context, id string, froms []domain.InvoiceStatus, params domain.MarkPaidParams) (bool, error) {
	values := make([]string, len(froms))
	for i, st := range froms {
		values[i] = string(st)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE invoices
		SET status = 'paid',
		    paid_at = $3,
		    payment_method = $4,
		    payment_reference = $5,
		    updated_at = now()
		WHERE id = $1 AND status = ANY($2)`,
		id, values, params.PaidAt, nullText(params.Method), nullText(params.Reference))
	if err != nil {
		return false, fmt.Errorf("mark invoice paid: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Delete removes the invoice; line items go with it via ON DELETE CASCADE.
func (s *InvoiceStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete invoice: %w", err)
	}
	return nil
}

// CountNumbersInPeriod counts invoice numbers already issued in the
// scope's month partition. The count is matched on the number itself, not
// the issue date, so it tracks exactly what the allocator's format emits.
func (s *InvoiceStore) CountNumbersInPeriod(ctx context.Context, companyID, propertyCode string, year int, month time.Month) (int64, error) {
	var pattern string
	if propertyCode != "" {
		pattern = fmt.Sprintf("INV-%s-%d-%02d-%%", propertyCode, year, month)
	} else {
		pattern = fmt.Sprintf("INV-%d-%02d-%%", year, month)
	}

	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM invoices
		WHERE company_id = $1 AND invoice_number LIKE $2`,
		companyID, pattern).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count invoice numbers: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*domain.Invoice, error) {
	var (
		inv        domain.Invoice
		propertyID pgtype.Text
		unitID     pgtype.Text
		paidAt     pgtype.Timestamptz
		method     pgtype.Text
		reference  pgtype.Text
		status     string
		metadata   []byte
	)

	err := row.Scan(
		&inv.ID, &inv.CompanyID, &inv.TenantID, &propertyID, &unitID,
		&inv.InvoiceNumber, &inv.Currency, &inv.Subtotal, &inv.TaxAmount,
		&inv.DiscountAmount, &inv.TotalAmount, &inv.IssueDate, &inv.DueDate,
		&paidAt, &status, &method, &reference, &inv.CreatedBy, &metadata,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	inv.PropertyID = textValue(propertyID)
	inv.UnitID = textValue(unitID)
	inv.Status = domain.InvoiceStatus(status)
	inv.PaymentMethod = textValue(method)
	inv.PaymentReference = textValue(reference)
	if paidAt.Valid {
		t := paidAt.Time
		inv.PaidAt = &t
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &inv.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal invoice metadata: %w", err)
		}
	}
	return &inv, nil
}

func collectInvoices(rows pgx.Rows) ([]domain.Invoice, error) {
	var invoices []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

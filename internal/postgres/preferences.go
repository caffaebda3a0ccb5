package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/makaohq/makao/internal/domain"
)

// PreferenceStore reads issuer billing settings from company_settings.
type PreferenceStore struct {
	pool *pgxpool.Pool
}

// Compile-time check that PreferenceStore implements domain.PreferenceReader.
var _ domain.PreferenceReader = (*PreferenceStore)(nil)

// NewPreferenceStore creates a new PostgreSQL-backed preference reader.
func NewPreferenceStore(pool *pgxpool.Pool) *PreferenceStore {
	return &PreferenceStore{pool: pool}
}

// GracePeriodDays returns the company's overdue grace period. A company
// with no settings row gets 0, not an error.
func (s *PreferenceStore) GracePeriodDays(ctx context.Context, companyID string) (int, error) {
	var days int
	err := s.pool.QueryRow(ctx,
		`SELECT grace_period_days FROM company_settings WHERE company_id = $1`,
		companyID).Scan(&days)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("read grace period: %w", err)
	}
	return days, nil
}

// BillingDefaults returns the company's invoice defaults. Absent settings
// read as zero values; the lifecycle applies its own fallbacks.
func (s *PreferenceStore) BillingDefaults(ctx context.Context, companyID string) (domain.BillingDefaults, error) {
	var (
		currency pgtype.Text
		dueDay   pgtype.Int4
	)
	err := s.pool.QueryRow(ctx,
		`SELECT default_currency, default_due_day FROM company_settings WHERE company_id = $1`,
		companyID).Scan(&currency, &dueDay)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.BillingDefaults{}, nil
		}
		return domain.BillingDefaults{}, fmt.Errorf("read billing defaults: %w", err)
	}

	defaults := domain.BillingDefaults{Currency: textValue(currency)}
	if dueDay.Valid {
		defaults.DueDay = int(dueDay.Int32)
	}
	return defaults, nil
}

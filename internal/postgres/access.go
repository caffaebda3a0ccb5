package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/makaohq/makao/internal/domain"
)

// AccessResolver answers ownership-chain questions from the properties,
// tenancies and agent assignment tables.
type AccessResolver struct {
	pool *pgxpool.Pool
}

// Compile-time check that AccessResolver implements domain.AccessResolver.
var _ domain.AccessResolver = (*AccessResolver)(nil)

// NewAccessResolver creates a new PostgreSQL-backed access resolver.
func NewAccessResolver(pool *pgxpool.Pool) *AccessResolver {
	return &AccessResolver{pool: pool}
}

// TenantAccessible reports whether the actor can reach the tenant through
// the tenant-access relationship. A tenant with no tenancy record at all
// reads as not found.
func (r *AccessResolver) TenantAccessible(ctx context.Context, actor domain.Actor, tenantID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tenancies WHERE tenant_id = $1)`,
		tenantID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check tenant exists: %w", err)
	}
	if !exists {
		return false, domain.NotFound("access.tenant", "tenant", tenantID)
	}

	if actor.IsSuper() || actor.ID == tenantID {
		return true, nil
	}

	switch actor.Role {
	case domain.RoleAdmin:
		err = r.pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM tenancies
				WHERE tenant_id = $1 AND company_id = $2 AND active
			)`, tenantID, actor.CompanyID).Scan(&exists)

	case domain.RoleLandlord:
		err = r.pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1
				FROM tenancies t
				JOIN properties p ON p.id = t.property_id
				WHERE t.tenant_id = $1 AND t.active AND p.landlord_id = $2
			)`, tenantID, actor.ID).Scan(&exists)

	case domain.RoleAgent:
		err = r.pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1
				FROM tenancies t
				JOIN agent_assignments a ON a.property_id = t.property_id
				WHERE t.tenant_id = $1 AND t.active
				  AND a.agent_id = $2 AND a.active
			)`, tenantID, actor.ID).Scan(&exists)

	default:
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolve tenant access: %w", err)
	}
	return exists, nil
}

// PropertyOwned reports whether the user is the property's landlord.
func (r *AccessResolver) PropertyOwned(ctx context.Context, userID, propertyID string) (bool, error) {
	var owned bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM properties WHERE id = $1 AND landlord_id = $2)`,
		propertyID, userID).Scan(&owned)
	if err != nil {
		return false, fmt.Errorf("resolve property ownership: %w", err)
	}
	return owned, nil
}

// ActiveAssignment reports whether the agent holds an active assignment on
// the property.
func (r *AccessResolver) ActiveAssignment(ctx context.Context, agentID, propertyID string) (bool, error) {
	var assigned bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM agent_assignments
			WHERE agent_id = $1 AND property_id = $2 AND active
		)`, agentID, propertyID).Scan(&assigned)
	if err != nil {
		return false, fmt.Errorf("resolve agent assignment: %w", err)
	}
	return assigned, nil
}

// AssignedProperties lists the properties the agent is actively assigned to.
func (r *AccessResolver) AssignedProperties(ctx context.Context, agentID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT property_id FROM agent_assignments WHERE agent_id = $1 AND active`,
		agentID)
	if err != nil {
		return nil, fmt.Errorf("list agent assignments: %w", err)
	}
	defer rows.Close()

	return collectIDs(rows)
}

// OwnedProperties lists the properties the landlord owns.
func (r *AccessResolver) OwnedProperties(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM properties WHERE landlord_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list owned properties: %w", err)
	}
	defer rows.Close()

	return collectIDs(rows)
}

func collectIDs(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

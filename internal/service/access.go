package service

import (
	"context"

	"github.com/makaohq/makao/internal/domain"
)

// invoiceAccess re-derives permission from the acting party's role against
// the invoice's issuer/company/property ownership chain. Every transition
// calls it before writing; the permission matrix itself lives outside this
// core, reached through the AccessResolver.
type invoiceAccess struct {
	resolver domain.AccessResolver
}

// canMutate reports whether the actor may perform a state-changing
// operation on the invoice.
func (a invoiceAccess) canMutate(ctx context.Context, actor domain.Actor, inv *domain.Invoice) error {
	switch actor.Role {
	case domain.RoleSuperAdmin:
		return nil

	case domain.RoleAdmin:
		if actor.CompanyID == "" {
			return ErrNoCompany
		}
		if actor.CompanyID != inv.CompanyID {
			return ErrCompanyScope
		}
		return nil

	case domain.RoleLandlord:
		if inv.CreatedBy == actor.ID {
			return nil
		}
		if inv.PropertyID != "" {
			owned, err := a.resolver.PropertyOwned(ctx, actor.ID, inv.PropertyID)
			if err != nil {
				return domain.Internal(err, "invoice.authorize", "failed to resolve property ownership")
			}
			if owned {
				return nil
			}
		}
		return ErrNotPermitted

	case domain.RoleAgent:
		if inv.PropertyID == "" {
			return ErrNotPermitted
		}
		assigned, err := a.resolver.ActiveAssignment(ctx, actor.ID, inv.PropertyID)
		if err != nil {
			return domain.Internal(err, "invoice.authorize", "failed to resolve agent assignment")
		}
		if !assigned {
			return ErrNotPermitted
		}
		return nil

	case domain.RoleTenant:
		return ErrTenantsCannotMutate

	default:
		return ErrNotPermitted
	}
}

// canView reports whether the invoice is inside the actor's visible scope.
// Callers translate a failure to not-found, never to forbidden, so the
// existence of out-of-scope records does not leak.
func (a invoiceAccess) canView(ctx context.Context, actor domain.Actor, inv *domain.Invoice) (bool, error) {
	switch actor.Role {
	case domain.RoleSuperAdmin:
		return true, nil
	case domain.RoleAdmin:
		return actor.CompanyID != "" && actor.CompanyID == inv.CompanyID, nil
	case domain.RoleLandlord:
		if inv.CreatedBy == actor.ID {
			return true, nil
		}
		if inv.PropertyID == "" {
			return false, nil
		}
		return a.resolver.PropertyOwned(ctx, actor.ID, inv.PropertyID)
	case domain.RoleAgent:
		if inv.PropertyID == "" {
			return false, nil
		}
		return a.resolver.ActiveAssignment(ctx, actor.ID, inv.PropertyID)
	case domain.RoleTenant:
		return actor.ID == inv.TenantID, nil
	default:
		return false, nil
	}
}

// listScope resolves the mandatory role scope for listings, applied before
// any caller-supplied filter. The boolean is false when the scope is empty
// by construction (an agent with no active assignments), which yields an
// empty result rather than an error.
func (a invoiceAccess) listScope(ctx context.Context, actor domain.Actor) (companyID string, propertyIDs []string, tenantID string, ok bool, err error) {
	switch actor.Role {
	case domain.RoleSuperAdmin:
		return "", nil, "", true, nil

	case domain.RoleAdmin:
		if actor.CompanyID == "" {
			return "", nil, "", false, ErrNoCompany
		}
		return actor.CompanyID, nil, "", true, nil

	case domain.RoleLandlord:
		owned, err := a.resolver.OwnedProperties(ctx, actor.ID)
		if err != nil {
			return "", nil, "", false, domain.Internal(err, "invoice.list", "failed to resolve owned properties")
		}
		if len(owned) == 0 {
			return "", nil, "", false, nil
		}
		return "", owned, "", true, nil

	case domain.RoleAgent:
		assigned, err := a.resolver.AssignedProperties(ctx, actor.ID)
		if err != nil {
			return "", nil, "", false, domain.Internal(err, "invoice.list", "failed to resolve agent assignments")
		}
		if len(assigned) == 0 {
			return "", nil, "", false, nil
		}
		return "", assigned, "", true, nil

	case domain.RoleTenant:
		return "", nil, actor.ID, true, nil

	default:
		return "", nil, "", false, ErrNotPermitted
	}
}

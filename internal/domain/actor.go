package domain

// Role is the acting party's role as asserted by the identity layer.
// The identity layer and the role/permission matrix live outside this core;
// an Actor arrives already authenticated at every entry point.
type Role string

const (
	// RoleSuperAdmin may act across all companies.
	RoleSuperAdmin Role = "super_admin"

	// RoleAdmin is scoped to a single company.
	RoleAdmin Role = "admin"

	// RoleLandlord owns properties; may act on invoices they created or
	// invoices on properties they own.
	RoleLandlord Role = "landlord"

	// RoleAgent is a field agent; may act on invoices for properties they
	// hold an active assignment to.
	RoleAgent Role = "agent"

	// RoleTenant is a billing recipient; read-only access to their own
	// invoices.
	RoleTenant Role = "tenant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleLandlord, RoleAgent, RoleTenant:
		return true
	}
	return false
}

// Actor is the opaque, already-authenticated acting party supplied by the
// identity layer. The core never authenticates; it only derives scope.
type Actor struct {
	ID        string
	Role      Role
	CompanyID string
	AgencyID  string
}

// IsSuper reports whether the actor may act across company boundaries.
func (a Actor) IsSuper() bool {
	return a.Role == RoleSuperAdmin
}

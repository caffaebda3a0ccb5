package routes

import (
	"github.com/makaohq/makao/internal/router"
)

// RegisterAPIRoutes registers the billing API route groups. Every route in
// here sits behind the identity middleware; the probe and metrics endpoints
// are registered separately in main.
func RegisterAPIRoutes(r *router.Router, deps APIDeps) {
	deps.Invoices.RegisterRoutes(r)
	deps.Payments.RegisterRoutes(r)
	deps.Ops.RegisterRoutes(r)
}

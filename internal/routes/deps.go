package routes

import (
	"github.com/makaohq/makao/internal/handler/api"
)

// APIDeps contains the handlers behind the billing JSON API.
type APIDeps struct {
	Invoices *api.InvoiceHandler
	Payments *api.PaymentHandler
	Ops      *api.OpsHandler
}

package api

// Test-only aliases so the external test package can decode responses.
type (
	InvoiceResponse = invoiceResponse
	ErrorResponse   = errorResponse
)

package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/makaohq/makao/internal/domain"
	"github.com/makaohq/makao/internal/router"
)

// InvoiceHandler exposes the invoice lifecycle as a JSON API.
type InvoiceHandler struct {
	invoices domain.InvoiceService
	validate *validator.Validate
	logger   *slog.Logger
}

// NewInvoiceHandler creates an invoice API handler.
func NewInvoiceHandler(invoices domain.InvoiceService, logger *slog.Logger) *InvoiceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &InvoiceHandler{
		invoices: invoices,
		validate: newValidator(),
		logger:   logger,
	}
}

// RegisterRoutes registers the invoice routes.
func (h *InvoiceHandler) RegisterRoutes(r *router.Router) {
	r.Post("/api/invoices", h.Create)
	r.Get("/api/invoices", h.List)
	r.Get("/api/invoices/{id}", h.Get)
	r.Post("/api/invoices/{id}/send", h.Send)
	r.Post("/api/invoices/{id}/mark-paid", h.MarkPaid)
	r.Post("/api/invoices/{id}/cancel", h.Cancel)
	r.Post("/api/invoices/{id}/void", h.Void)
	r.Delete("/api/invoices/{id}", h.Delete)
}

type utilityChargeRequest struct {
	Name     string          `json:"name" validate:"required"`
	Amount   decimal.Decimal `json:"amount"`
	Included bool            `json:"included"`
}

type lineItemRequest struct {
	Description string          `json:"description" validate:"required"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	SourceTag   string          `json:"source_tag"`
}

type createInvoiceRequest struct {
	TenantID     string `json:"tenant_id" validate:"required"`
	PropertyID   string `json:"property_id"`
	UnitID       string `json:"unit_id"`
	PropertyCode string `json:"property_code"`
	Currency     string `json:"currency"`

	IssueDate *time.Time `json:"issue_date"`
	DueDate   *time.Time `json:"due_date"`

	RentAmount decimal.Decimal        `json:"rent_amount"`
	Utilities  []utilityChargeRequest `json:"utilities" validate:"dive"`
	ExtraItems []lineItemRequest      `json:"extra_items" validate:"dive"`

	TaxAmount      decimal.Decimal `json:"tax_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
}

type markPaidRequest struct {
	Method    string     `json:"method" validate:"required,oneof=cash mobile_money online_gateway bank_transfer"`
	Reference string     `json:"reference"`
	PaidAt    *time.Time `json:"paid_at"`
}

type lineItemResponse struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	SourceTag   string          `json:"source_tag"`
	Position    int             `json:"position"`
}

type invoiceResponse struct {
	ID            string `json:"id"`
	CompanyID     string `json:"company_id"`
	TenantID      string `json:"tenant_id"`
	PropertyID    string `json:"property_id,omitempty"`
	UnitID        string `json:"unit_id,omitempty"`
	InvoiceNumber string `json:"invoice_number"`
	Currency      string `json:"currency"`

	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`

	IssueDate time.Time  `json:"issue_date"`
	DueDate   time.Time  `json:"due_date"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`

	Status           string `json:"status"`
	PaymentMethod    string `json:"payment_method,omitempty"`
	PaymentReference string `json:"payment_reference,omitempty"`

	Items []lineItemResponse `json:"items,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toInvoiceResponse(inv *domain.Invoice) invoiceResponse {
	resp := invoiceResponse{
		ID:               inv.ID,
		CompanyID:        inv.CompanyID,
		TenantID:         inv.TenantID,
		PropertyID:       inv.PropertyID,
		UnitID:           inv.UnitID,
		InvoiceNumber:    inv.InvoiceNumber,
		Currency:         inv.Currency,
		Subtotal:         inv.Subtotal,
		TaxAmount:        inv.TaxAmount,
		DiscountAmount:   inv.DiscountAmount,
		TotalAmount:      inv.TotalAmount,
		IssueDate:        inv.IssueDate,
		DueDate:          inv.DueDate,
		PaidAt:           inv.PaidAt,
		Status:           string(inv.Status),
		PaymentMethod:    inv.PaymentMethod,
		PaymentReference: inv.PaymentReference,
		CreatedAt:        inv.CreatedAt,
		UpdatedAt:        inv.UpdatedAt,
	}
	for _, item := range inv.Items {
		resp.Items = append(resp.Items, lineItemResponse{
			ID:          item.ID,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TotalPrice:  item.TotalPrice,
			SourceTag:   item.SourceTag,
			Position:    item.Position,
		})
	}
	return resp
}

// Create handles POST /api/invoices.
func (h *InvoiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	var req createInvoiceRequest
	if err := decodeAndValidate(r, h.validate, &req); err != nil {
		respondError(w, r, err)
		return
	}

	params := domain.CreateInvoiceParams{
		TenantID:       req.TenantID,
		PropertyID:     req.PropertyID,
		UnitID:         req.UnitID,
		PropertyCode:   req.PropertyCode,
		Currency:       req.Currency,
		RentAmount:     req.RentAmount,
		TaxAmount:      req.TaxAmount,
		DiscountAmount: req.DiscountAmount,
		Channel:        "api",
	}
	if req.IssueDate != nil {
		params.IssueDate = *req.IssueDate
	}
	if req.DueDate != nil {
		params.DueDate = *req.DueDate
	}
	for _, u := range req.Utilities {
		params.Utilities = append(params.Utilities, domain.UtilityCharge{
			Name:     u.Name,
			Amount:   u.Amount,
			Included: u.Included,
		})
	}
	for _, item := range req.ExtraItems {
		params.ExtraItems = append(params.ExtraItems, domain.LineItemParams{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			SourceTag:   item.SourceTag,
		})
	}

	inv, err := h.invoices.Create(r.Context(), actor, params)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, toInvoiceResponse(inv))
}

// Get handles GET /api/invoices/{id}.
func (h *InvoiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	inv, err := h.invoices.Get(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, toInvoiceResponse(inv))
}

// List handles GET /api/invoices.
func (h *InvoiceHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := domain.InvoiceFilter{
		TenantID: q.Get("tenant_id"),
		UnitID:   q.Get("unit_id"),
		Status:   domain.InvoiceStatus(q.Get("status")),
		Search:   q.Get("search"),
		Limit:    queryInt32(q.Get("limit"), 50),
		Offset:   queryInt32(q.Get("offset"), 0),
	}
	if ids := q["property_id"]; len(ids) > 0 {
		filter.PropertyIDs = ids
	}
	if filter.Status != "" && !filter.Status.Valid() {
		respondError(w, r, domain.Invalid("invoice.list", "unknown status: "+string(filter.Status)))
		return
	}

	invoices, err := h.invoices.List(r.Context(), actor, filter)
	if err != nil {
		respondError(w, r, err)
		return
	}

	items := make([]invoiceResponse, 0, len(invoices))
	for i := range invoices {
		items = append(items, toInvoiceResponse(&invoices[i]))
	}
	respondJSON(w, http.StatusOK, map[string]any{"invoices": items})
}

// Send handles POST /api/invoices/{id}/send.
func (h *InvoiceHandler) Send(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.invoices.Send)
}

// Cancel handles POST /api/invoices/{id}/cancel.
func (h *InvoiceHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.invoices.Cancel)
}

// Void handles POST /api/invoices/{id}/void.
func (h *InvoiceHandler) Void(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.invoices.Void)
}

// MarkPaid handles POST /api/invoices/{id}/mark-paid.
func (h *InvoiceHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	var req markPaidRequest
	if err := decodeAndValidate(r, h.validate, &req); err != nil {
		respondError(w, r, err)
		return
	}

	params := domain.MarkPaidParams{
		Method:    req.Method,
		Reference: req.Reference,
	}
	if req.PaidAt != nil {
		params.PaidAt = *req.PaidAt
	}

	inv, err := h.invoices.MarkPaid(r.Context(), actor, r.PathValue("id"), params)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, toInvoiceResponse(inv))
}

// Delete handles DELETE /api/invoices/{id}.
func (h *InvoiceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	if err := h.invoices.Delete(r.Context(), actor, r.PathValue("id")); err != nil {
		respondError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *InvoiceHandler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, actor domain.Actor, invoiceID string) (*domain.Invoice, error)) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	inv, err := op(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, toInvoiceResponse(inv))
}

// queryInt32 parses a numeric query parameter with a fallback.
func queryInt32(raw string, fallback int32) int32 {
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || n < 0 {
		return fallback
	}
	return int32(n)
}

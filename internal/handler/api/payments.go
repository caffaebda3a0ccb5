package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/makaohq/makao/internal/domain"
	"github.com/makaohq/makao/internal/router"
)

// PaymentHandler exposes payment intake and reconciliation as a JSON API.
type PaymentHandler struct {
	intake     domain.PaymentIntake
	reconciler domain.Reconciler
	validate   *validator.Validate
	logger     *slog.Logger
}

// NewPaymentHandler creates a payment API handler.
func NewPaymentHandler(intake domain.PaymentIntake, reconciler domain.Reconciler, logger *slog.Logger) *PaymentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentHandler{
		intake:     intake,
		reconciler: reconciler,
		validate:   newValidator(),
		logger:     logger,
	}
}

// RegisterRoutes registers the payment routes.
func (h *PaymentHandler) RegisterRoutes(r *router.Router) {
	r.Post("/api/payments", h.Record)
	r.Get("/api/payments", h.List)
	r.Get("/api/payments/{id}", h.Get)
	r.Post("/api/payments/{id}/link", h.Link)
	r.Post("/api/reconcile", h.Reconcile)
}

type recordPaymentRequest struct {
	CompanyID   string          `json:"company_id"`
	TenantID    string          `json:"tenant_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Method      string          `json:"method" validate:"required,oneof=cash mobile_money online_gateway bank_transfer"`
	Type        string          `json:"type" validate:"omitempty,oneof=rent other"`
	GatewayRef  string          `json:"gateway_ref"`
	PeriodLabel string          `json:"period_label"`
}

type linkPaymentRequest struct {
	InvoiceID string `json:"invoice_id" validate:"required"`
}

type paymentResponse struct {
	ID            string          `json:"id"`
	CompanyID     string          `json:"company_id"`
	TenantID      string          `json:"tenant_id"`
	InvoiceID     string          `json:"invoice_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Method        string          `json:"method"`
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	ReceiptNumber string          `json:"receipt_number"`
	GatewayRef    string          `json:"gateway_ref,omitempty"`
	PeriodLabel   string          `json:"period_label,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
}

func toPaymentResponse(p *domain.Payment) paymentResponse {
	return paymentResponse{
		ID:            p.ID,
		CompanyID:     p.CompanyID,
		TenantID:      p.TenantID,
		InvoiceID:     p.InvoiceID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Method:        p.Method,
		Type:          p.Type,
		Status:        string(p.Status),
		ReceiptNumber: p.ReceiptNumber,
		GatewayRef:    p.GatewayRef,
		PeriodLabel:   p.PeriodLabel,
		CreatedAt:     p.CreatedAt,
		ProcessedAt:   p.ProcessedAt,
	}
}

// Record handles POST /api/payments.
func (h *PaymentHandler) Record(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	var req recordPaymentRequest
	if err := decodeAndValidate(r, h.validate, &req); err != nil {
		respondError(w, r, err)
		return
	}

	p, err := h.intake.Record(r.Context(), actor, domain.RecordPaymentParams{
		CompanyID:   req.CompanyID,
		TenantID:    req.TenantID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Method:      req.Method,
		Type:        req.Type,
		GatewayRef:  req.GatewayRef,
		PeriodLabel: req.PeriodLabel,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, toPaymentResponse(p))
}

// Get handles GET /api/payments/{id}.
func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	p, err := h.intake.Get(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, toPaymentResponse(p))
}

// List handles GET /api/payments.
func (h *PaymentHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := domain.PaymentFilter{
		TenantID:  q.Get("tenant_id"),
		InvoiceID: q.Get("invoice_id"),
		Status:    domain.PaymentStatus(q.Get("status")),
		Type:      q.Get("type"),
		Search:    q.Get("search"),
		Limit:     queryInt32(q.Get("limit"), 50),
		Offset:    queryInt32(q.Get("offset"), 0),
	}

	payments, err := h.intake.List(r.Context(), actor, filter)
	if err != nil {
		respondError(w, r, err)
		return
	}

	items := make([]paymentResponse, 0, len(payments))
	for i := range payments {
		items = append(items, toPaymentResponse(&payments[i]))
	}
	respondJSON(w, http.StatusOK, map[string]any{"payments": items})
}

// Link handles POST /api/payments/{id}/link.
func (h *PaymentHandler) Link(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	var req linkPaymentRequest
	if err := decodeAndValidate(r, h.validate, &req); err != nil {
		respondError(w, r, err)
		return
	}

	payment, invoice, err := h.reconciler.LinkPayment(r.Context(), actor, r.PathValue("id"), req.InvoiceID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"payment": toPaymentResponse(payment),
		"invoice": toInvoiceResponse(invoice),
	})
}

// Reconcile handles POST /api/reconcile. Scoping (company vs all) follows
// the actor's role inside the reconciler.
func (h *PaymentHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	report, err := h.reconciler.AutoReconcile(r.Context(), actor)
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"payments_examined": report.PaymentsExamined,
		"payments_linked":   report.PaymentsLinked,
		"invoices_paid":     report.InvoicesPaid,
	})
}

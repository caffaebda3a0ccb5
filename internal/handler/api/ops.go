package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/makaohq/makao/internal/domain"
	"github.com/makaohq/makao/internal/router"
)

// OpsHandler exposes operational endpoints: the on-demand overdue sweep
// and the liveness probe. Scheduled sweeps run through the job worker;
// this endpoint exists for operators who need one now.
type OpsHandler struct {
	sweeper domain.OverdueSweeper
	logger  *slog.Logger
}

// NewOpsHandler creates the operational endpoints handler.
func NewOpsHandler(sweeper domain.OverdueSweeper, logger *slog.Logger) *OpsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpsHandler{
		sweeper: sweeper,
		logger:  logger,
	}
}

// RegisterRoutes registers the operational routes.
func (h *OpsHandler) RegisterRoutes(r *router.Router) {
	r.Post("/api/sweep", h.Sweep)
}

// Sweep handles POST /api/sweep. Restricted to administrators; the sweep
// itself has no per-actor scoping, so the gate lives here.
func (h *OpsHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	if actor.Role != domain.RoleSuperAdmin && actor.Role != domain.RoleAdmin {
		respondError(w, r, domain.Forbidden("sweep.run", "Only administrators may trigger an overdue sweep"))
		return
	}

	report, err := h.sweeper.Sweep(r.Context(), time.Now())
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"examined":       report.Examined,
		"marked_overdue": report.MarkedOverdue,
	})
}

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/northwear/api/internal/platform/httpx"
	"github.com/northwear/api/internal/services"
)

// InternalTaskHandlers exposes the scheduler-triggered maintenance endpoints.
// The /internal group is protected by its own middleware stack (OIDC from the
// scheduler), not by shopper authentication.
type InternalTaskHandlers struct {
	maintenance services.MaintenanceService
}

// NewInternalTaskHandlers constructs the internal task endpoints.
func NewInternalTaskHandlers(maintenance services.MaintenanceService) *InternalTaskHandlers {
	return &InternalTaskHandlers{maintenance: maintenance}
}

// Routes wires the task endpoints onto the internal router.
func (h *InternalTaskHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/tasks/expire-sessions", h.expireSessions)
	r.Post("/tasks/recompute-lowest-prices", h.recomputeLowestPrices)
}

func (h *InternalTaskHandlers) expireSessions(w http.ResponseWriter, r *http.Request) {
	h.runSweep(w, r, func() (services.SweepReport, error) {
		return h.maintenance.SweepExpiredSessions(r.Context())
	})
}

func (h *InternalTaskHandlers) recomputeLowestPrices(w http.ResponseWriter, r *http.Request) {
	h.runSweep(w, r, func() (services.SweepReport, error) {
		return h.maintenance.RecomputeLowestPrices(r.Context())
	})
}

func (h *InternalTaskHandlers) runSweep(w http.ResponseWriter, r *http.Request, sweep func() (services.SweepReport, error)) {
	ctx := r.Context()
	if h.maintenance == nil {
		httpx.WriteError(ctx, w, httpx.NewError("maintenance_unavailable", "maintenance service is unavailable", http.StatusServiceUnavailable))
		return
	}

	report, err := sweep()
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("task_failed", "maintenance task failed", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"scanned":     report.Scanned,
		"updated":     report.Updated,
		"failed":      report.Failed,
		"started_at":  formatTime(report.StartedAt),
		"duration_ms": report.Duration.Milliseconds(),
	})
}

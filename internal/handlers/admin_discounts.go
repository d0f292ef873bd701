package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/northwear/api/internal/domain"
	"github.com/northwear/api/internal/platform/httpx"
	"github.com/northwear/api/internal/repositories"
	"github.com/northwear/api/internal/services"
)

// AdminDiscountHandlers manages discount code definitions.
type AdminDiscountHandlers struct {
	discounts services.DiscountService
}

// NewAdminDiscountHandlers constructs the discount management endpoints.
func NewAdminDiscountHandlers(discounts services.DiscountService) *AdminDiscountHandlers {
	return &AdminDiscountHandlers{discounts: discounts}
}

// Routes wires the discount endpoints onto the admin router.
func (h *AdminDiscountHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/discount-codes", h.listCodes)
	r.Post("/discount-codes", h.createCode)
	r.Put("/discount-codes/{codeID}", h.updateCode)
	r.Delete("/discount-codes/{codeID}", h.deleteCode)
	r.Post("/discount-codes/validate", h.validateCode)
}

type discountCodeRequest struct {
	Code          string  `json:"code"`
	Type          string  `json:"type"`
	Value         int64   `json:"value"`
	MinOrderValue *int64  `json:"min_order_value"`
	MaxUses       *int64  `json:"max_uses"`
	ValidFrom     *string `json:"valid_from"`
	ValidTo       *string `json:"valid_to"`
	Active        bool    `json:"active"`
}

func (h *AdminDiscountHandlers) listCodes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.discounts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("discount_service_unavailable", "discount service is unavailable", http.StatusServiceUnavailable))
		return
	}

	filter := repositories.DiscountListFilter{
		ActiveOnly: r.URL.Query().Get("active_only") == "true",
		Pagination: paginationFromQuery(r),
	}

	page, err := h.discounts.ListCodes(ctx, filter)
	if err != nil {
		writeDiscountError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"discount_codes":  page.Items,
		"next_page_token": page.NextPageToken,
	})
}

func (h *AdminDiscountHandlers) createCode(w http.ResponseWriter, r *http.Request) {
	h.upsertCode(w, r, "")
}

func (h *AdminDiscountHandlers) updateCode(w http.ResponseWriter, r *http.Request) {
	codeID := strings.TrimSpace(chi.URLParam(r, "codeID"))
	if codeID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "code id is required", http.StatusBadRequest))
		return
	}
	h.upsertCode(w, r, codeID)
}

func (h *AdminDiscountHandlers) upsertCode(w http.ResponseWriter, r *http.Request, codeID string) {
	ctx := r.Context()
	actor, ok := requireAdminIdentity(ctx, w)
	if !ok {
		return
	}
	if h.discounts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("discount_service_unavailable", "discount service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req discountCodeRequest
	if err := decodeJSONBody(r, maxAdminBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	code := domain.DiscountCode{
		ID:            codeID,
		Code:          strings.TrimSpace(req.Code),
		Type:          domain.DiscountType(strings.TrimSpace(req.Type)),
		Value:         req.Value,
		MinOrderValue: req.MinOrderValue,
		MaxUses:       req.MaxUses,
		Active:        req.Active,
	}
	var err error
	if code.ValidFrom, err = optionalTimestamp(req.ValidFrom, "valid_from"); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	if code.ValidTo, err = optionalTimestamp(req.ValidTo, "valid_to"); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	cmd := services.UpsertDiscountCodeCommand{Code: code, ActorID: actor}

	var (
		saved  services.DiscountCode
		svcErr error
		status = http.StatusOK
	)
	if codeID == "" {
		saved, svcErr = h.discounts.CreateCode(ctx, cmd)
		status = http.StatusCreated
	} else {
		saved, svcErr = h.discounts.UpdateCode(ctx, cmd)
	}
	if svcErr != nil {
		writeDiscountError(ctx, w, svcErr)
		return
	}

	writeJSONResponse(w, status, map[string]any{"discount_code": saved})
}

func (h *AdminDiscountHandlers) deleteCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireAdminIdentity(ctx, w); !ok {
		return
	}
	if h.discounts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("discount_service_unavailable", "discount service is unavailable", http.StatusServiceUnavailable))
		return
	}

	codeID := strings.TrimSpace(chi.URLParam(r, "codeID"))
	if codeID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "code id is required", http.StatusBadRequest))
		return
	}

	if err := h.discounts.DeleteCode(ctx, codeID); err != nil {
		writeDiscountError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type validateDiscountRequest struct {
	Code     string `json:"code"`
	Subtotal int64  `json:"subtotal"`
}

// validateCode lets staff preview the verdict a shopper would get for a code
// and subtotal without touching any cart.
func (h *AdminDiscountHandlers) validateCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireAdminIdentity(ctx, w); !ok {
		return
	}
	if h.discounts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("discount_service_unavailable", "discount service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req validateDiscountRequest
	if err := decodeJSONBody(r, maxAdminBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	validation, err := h.discounts.Validate(ctx, services.ValidateDiscountCommand{
		Code:     strings.TrimSpace(req.Code),
		Subtotal: req.Subtotal,
	})
	if err != nil {
		writeDiscountError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"validation": validation})
}

func writeDiscountError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrDiscountInvalidCode), errors.Is(err, services.ErrDiscountInvalidDefinition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrDiscountNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("discount_not_found", "discount code not found", http.StatusNotFound))
	case errors.Is(err, services.ErrDiscountDuplicateCode):
		httpx.WriteError(ctx, w, httpx.NewError("duplicate_code", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("discount_error", "discount operation failed", http.StatusInternalServerError))
	}
}

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/northwear/api/internal/domain"
	"github.com/northwear/api/internal/platform/auth"
	"github.com/northwear/api/internal/platform/httpx"
	"github.com/northwear/api/internal/services"
)

const (
	maxCheckoutBodySize     = 32 * 1024
	checkoutRateLimit       = 10
	checkoutRateLimitWindow = time.Minute
)

// CheckoutHandlers exposes the order placement endpoint.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
	limiter  *checkoutLimiter
}

// NewCheckoutHandlers constructs handlers enforcing authentication before order placement.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
		limiter:  newCheckoutLimiter(checkoutRateLimit, checkoutRateLimitWindow, nil),
	}
}

// Routes wires the /checkout endpoints onto the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.placeOrder)
}

type placeOrderRequest struct {
	Guest          bool           `json:"guest"`
	Email          string         `json:"email"`
	Name           string         `json:"name"`
	Phone          string         `json:"phone"`
	Company        string         `json:"company"`
	VATID          string         `json:"vat_id"`
	DeliveryMethod string         `json:"delivery_method"`
	PaymentMethod  string         `json:"payment_method"`
	SuccessURL     string         `json:"success_url"`
	CancelURL      string         `json:"cancel_url"`
	Locale         string         `json:"locale"`
	Address        addressPayload `json:"shipping_address"`
}

type addressPayload struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

func (h *CheckoutHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts; try again shortly", http.StatusTooManyRequests))
		return
	}

	var req placeOrderRequest
	if err := decodeJSONBody(r, maxCheckoutBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cmd := services.PlaceOrderCommand{
		UserID:        identity.UID,
		Guest:         req.Guest,
		Email:         strings.TrimSpace(req.Email),
		CustomerName:  strings.TrimSpace(req.Name),
		CustomerPhone: strings.TrimSpace(req.Phone),
		Company:       strings.TrimSpace(req.Company),
		VATID:         strings.TrimSpace(req.VATID),
		ShippingAddress: domain.Address{
			Line1:      strings.TrimSpace(req.Address.Line1),
			Line2:      strings.TrimSpace(req.Address.Line2),
			City:       strings.TrimSpace(req.Address.City),
			Region:     strings.TrimSpace(req.Address.Region),
			PostalCode: strings.TrimSpace(req.Address.PostalCode),
			Country:    strings.TrimSpace(req.Address.Country),
		},
		DeliveryMethod: domain.DeliveryMethod(strings.TrimSpace(req.DeliveryMethod)),
		PaymentMethod:  domain.PaymentMethod(strings.TrimSpace(req.PaymentMethod)),
		SuccessURL:     strings.TrimSpace(req.SuccessURL),
		CancelURL:      strings.TrimSpace(req.CancelURL),
		Locale:         strings.TrimSpace(req.Locale),
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	}

	placement, err := h.checkout.PlaceOrder(ctx, cmd)
	if err != nil {
		h.writeCheckoutError(ctx, w, placement, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, buildPlacementPayload(placement))
}

func (h *CheckoutHandlers) writeCheckoutError(ctx context.Context, w http.ResponseWriter, placement services.OrderPlacement, err error) {
	var conflict *services.StockConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSONResponse(w, http.StatusConflict, map[string]any{
			"error": map[string]any{
				"code":    "stock_conflict",
				"message": "some items are no longer available",
			},
			"lines": conflict.Lines,
		})
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutCartEmpty):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart has no items to place", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutDiscountRejected):
		httpx.WriteError(ctx, w, httpx.NewError("discount_rejected", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		// The order exists and holds its stock until the session sweep releases
		// it, so the client gets the order reference back for a retry.
		writeJSONResponse(w, http.StatusBadGateway, map[string]any{
			"error": map[string]any{
				"code":    "payment_init_failed",
				"message": "payment session could not be created",
			},
			"order": buildOrderPayload(placement.Order),
		})
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to place order", http.StatusInternalServerError))
	}
}

type placementResponse struct {
	Order   orderPayload            `json:"order"`
	Payment *paymentSessionResponse `json:"payment,omitempty"`
}

type paymentSessionResponse struct {
	SessionID   string `json:"session_id"`
	Provider    string `json:"provider"`
	RedirectURL string `json:"redirect_url,omitempty"`
	ExpiresAt   string `json:"expires_at,omitempty"`
}

func buildPlacementPayload(placement services.OrderPlacement) placementResponse {
	resp := placementResponse{Order: buildOrderPayload(placement.Order)}
	if placement.Session != nil {
		resp.Payment = &paymentSessionResponse{
			SessionID:   placement.Session.ID,
			Provider:    placement.Session.Provider,
			RedirectURL: placement.Session.RedirectURL,
			ExpiresAt:   formatTime(placement.Session.ExpiresAt),
		}
	}
	return resp
}

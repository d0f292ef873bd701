package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/northwear/api/internal/payments"
	"github.com/northwear/api/internal/platform/httpx"
	"github.com/northwear/api/internal/services"
)

const maxWebhookBodySize = 256 * 1024

// WebhookHandlers receives PSP notifications. Signature verification happens
// before any order state is touched; unverifiable payloads are rejected with a
// 4xx and never dispatched.
type WebhookHandlers struct {
	verifier payments.WebhookVerifier
	orders   services.OrderService
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewWebhookHandlers constructs the webhook endpoints.
func NewWebhookHandlers(verifier payments.WebhookVerifier, orders services.OrderService, logger func(ctx context.Context, event string, fields map[string]any)) *WebhookHandlers {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &WebhookHandlers{
		verifier: verifier,
		orders:   orders,
		logger:   logger,
	}
}

// Routes wires the /webhooks endpoints onto the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments", h.handlePayment)
}

func (h *WebhookHandlers) handlePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.verifier == nil || h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook processing is unavailable", http.StatusServiceUnavailable))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
		return
	}
	if int64(len(payload)) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}

	event, err := h.verifier.Parse(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrWebhookSignature):
			h.logger(ctx, "webhook.signature_rejected", map[string]any{"error": err.Error()})
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		case errors.Is(err, payments.ErrWebhookUnhandled):
			// Acknowledge event types we do not consume so the PSP stops retrying.
			writeJSONResponse(w, http.StatusOK, map[string]any{"status": "ignored"})
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "malformed webhook payload", http.StatusBadRequest))
		}
		return
	}

	switch event.Kind {
	case payments.WebhookPaymentSucceeded:
		_, err = h.orders.MarkPaid(ctx, services.PaymentConfirmation{
			SessionID: event.SessionID,
			EventID:   event.ID,
			PaidAt:    event.PaidAt,
		})
	case payments.WebhookSessionExpired:
		_, err = h.orders.ExpireSession(ctx, services.SessionExpiry{
			SessionID: event.SessionID,
			EventID:   event.ID,
		})
	default:
		writeJSONResponse(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			// A session we never issued (or from another environment); retrying
			// will not help, so acknowledge it.
			h.logger(ctx, "webhook.unknown_session", map[string]any{"sessionId": event.SessionID, "eventId": event.ID})
			writeJSONResponse(w, http.StatusOK, map[string]any{"status": "ignored"})
			return
		}
		h.logger(ctx, "webhook.dispatch_failed", map[string]any{"sessionId": event.SessionID, "eventId": event.ID, "error": err.Error()})
		httpx.WriteError(ctx, w, httpx.NewError("webhook_failed", "failed to process webhook", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"status": "processed"})
}

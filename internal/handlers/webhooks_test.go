package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/northwear/api/internal/domain"
	"github.com/northwear/api/internal/payments"
	"github.com/northwear/api/internal/repositories"
	"github.com/northwear/api/internal/services"
)

type stubWebhookVerifier struct {
	event payments.WebhookEvent
	err   error

	gotPayload   []byte
	gotSignature string
}

func (s *stubWebhookVerifier) Parse(payload []byte, signatureHeader string) (payments.WebhookEvent, error) {
	s.gotPayload = payload
	s.gotSignature = signatureHeader
	return s.event, s.err
}

type stubOrderService struct {
	markPaidFn func(ctx context.Context, cmd services.PaymentConfirmation) (services.Order, error)
	expireFn   func(ctx context.Context, cmd services.SessionExpiry) (services.Order, error)
	shipFn     func(ctx context.Context, cmd services.ShipOrderCommand) (services.Order, error)
	cancelFn   func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error)
	getFn      func(ctx context.Context, orderID string) (services.Order, error)
	listFn     func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[services.Order], error)
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return services.Order{}, services.ErrOrderNotFound
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) MarkPaid(ctx context.Context, cmd services.PaymentConfirmation) (services.Order, error) {
	if s.markPaidFn != nil {
		return s.markPaidFn(ctx, cmd)
	}
	return services.Order{}, nil
}

func (s *stubOrderService) ExpireSession(ctx context.Context, cmd services.SessionExpiry) (services.Order, error) {
	if s.expireFn != nil {
		return s.expireFn(ctx, cmd)
	}
	return services.Order{}, nil
}

func (s *stubOrderService) Ship(ctx context.Context, cmd services.ShipOrderCommand) (services.Order, error) {
	if s.shipFn != nil {
		return s.shipFn(ctx, cmd)
	}
	return services.Order{}, nil
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, nil
}

var _ services.OrderService = (*stubOrderService)(nil)

func webhookTestRouter(verifier payments.WebhookVerifier, orders services.OrderService) chi.Router {
	r := chi.NewRouter()
	NewWebhookHandlers(verifier, orders, nil).Routes(r)
	return r
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	verifier := &stubWebhookVerifier{err: payments.ErrWebhookSignature}
	called := false
	orders := &stubOrderService{
		markPaidFn: func(context.Context, services.PaymentConfirmation) (services.Order, error) {
			called = true
			return services.Order{}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "bad")
	rr := httptest.NewRecorder()
	webhookTestRouter(verifier, orders).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if called {
		t.Fatalf("order state must not change on signature failure")
	}
	if verifier.gotSignature != "bad" {
		t.Fatalf("expected signature header to reach verifier, got %q", verifier.gotSignature)
	}
}

func TestWebhookIgnoresUnhandledEvents(t *testing.T) {
	verifier := &stubWebhookVerifier{err: payments.ErrWebhookUnhandled}

	req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	webhookTestRouter(verifier, &stubOrderService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "ignored" {
		t.Fatalf("expected ignored status, got %v", body["status"])
	}
}

func TestWebhookDispatchesPaymentSucceeded(t *testing.T) {
	paidAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	verifier := &stubWebhookVerifier{
		event: payments.WebhookEvent{
			ID:        "evt_1",
			Kind:      payments.WebhookPaymentSucceeded,
			SessionID: "sess_1",
			PaidAt:    paidAt,
		},
	}

	var got services.PaymentConfirmation
	orders := &stubOrderService{
		markPaidFn: func(_ context.Context, cmd services.PaymentConfirmation) (services.Order, error) {
			got = cmd
			return services.Order{ID: "ord_1", Status: domain.OrderStatusPaid}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	webhookTestRouter(verifier, orders).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.SessionID != "sess_1" || got.EventID != "evt_1" || !got.PaidAt.Equal(paidAt) {
		t.Fatalf("unexpected confirmation: %+v", got)
	}
	body := decodeBody(t, rr)
	if body["status"] != "processed" {
		t.Fatalf("expected processed status, got %v", body["status"])
	}
}

func TestWebhookDispatchesSessionExpired(t *testing.T) {
	verifier := &stubWebhookVerifier{
		event: payments.WebhookEvent{
			ID:        "evt_2",
			Kind:      payments.WebhookSessionExpired,
			SessionID: "sess_1",
		},
	}

	var got services.SessionExpiry
	orders := &stubOrderService{
		expireFn: func(_ context.Context, cmd services.SessionExpiry) (services.Order, error) {
			got = cmd
			return services.Order{ID: "ord_1", Status: domain.OrderStatusExpired}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	webhookTestRouter(verifier, orders).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if got.SessionID != "sess_1" || got.EventID != "evt_2" {
		t.Fatalf("unexpected expiry command: %+v", got)
	}
}

func TestWebhookAcknowledgesUnknownSession(t *testing.T) {
	verifier := &stubWebhookVerifier{
		event: payments.WebhookEvent{
			ID:        "evt_3",
			Kind:      payments.WebhookPaymentSucceeded,
			SessionID: "sess_unknown",
		},
	}
	orders := &stubOrderService{
		markPaidFn: func(context.Context, services.PaymentConfirmation) (services.Order, error) {
			return services.Order{}, services.ErrOrderNotFound
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	webhookTestRouter(verifier, orders).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 for unknown session, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != "ignored" {
		t.Fatalf("expected ignored status, got %v", body["status"])
	}
}

func TestWebhookFailsClosedOnDispatchError(t *testing.T) {
	verifier := &stubWebhookVerifier{
		event: payments.WebhookEvent{
			ID:        "evt_4",
			Kind:      payments.WebhookPaymentSucceeded,
			SessionID: "sess_1",
		},
	}
	orders := &stubOrderService{
		markPaidFn: func(context.Context, services.PaymentConfirmation) (services.Order, error) {
			return services.Order{}, services.ErrOrderUnavailable
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	webhookTestRouter(verifier, orders).ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500 so the PSP retries, got %d", rr.Code)
	}
}

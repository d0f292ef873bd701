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
	"github.com/northwear/api/internal/services"
)

type stubCheckoutService struct {
	placeFn func(ctx context.Context, cmd services.PlaceOrderCommand) (services.OrderPlacement, error)
}

func (s *stubCheckoutService) PlaceOrder(ctx context.Context, cmd services.PlaceOrderCommand) (services.OrderPlacement, error) {
	if s.placeFn != nil {
		return s.placeFn(ctx, cmd)
	}
	return services.OrderPlacement{}, nil
}

func (s *stubCheckoutService) DeliveryCost(domain.DeliveryMethod, int64) int64 {
	return 0
}

var _ services.CheckoutService = (*stubCheckoutService)(nil)

func checkoutTestRouter(svc services.CheckoutService) chi.Router {
	r := chi.NewRouter()
	NewCheckoutHandlers(nil, svc).Routes(r)
	return r
}

const placeOrderBody = `{
	"email": "jan@example.com",
	"name": "Jan Kowalski",
	"delivery_method": "courier",
	"payment_method": "card",
	"success_url": "https://shop.example.com/success",
	"cancel_url": "https://shop.example.com/cancel",
	"shipping_address": {
		"line1": "ul. Prosta 1",
		"city": "Warszawa",
		"postal_code": "00-001",
		"country": "PL"
	}
}`

func TestCheckoutPlaceOrder(t *testing.T) {
	expires := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)
	svc := &stubCheckoutService{
		placeFn: func(_ context.Context, cmd services.PlaceOrderCommand) (services.OrderPlacement, error) {
			if cmd.UserID != "user-1" {
				t.Fatalf("unexpected user id %q", cmd.UserID)
			}
			if cmd.DeliveryMethod != domain.DeliveryMethodCourier {
				t.Fatalf("unexpected delivery method %q", cmd.DeliveryMethod)
			}
			if cmd.IdempotencyKey != "idem-1" {
				t.Fatalf("expected idempotency key from header, got %q", cmd.IdempotencyKey)
			}
			return services.OrderPlacement{
				Order: domain.Order{
					ID:          "ord_1",
					Number:      "1042",
					Status:      domain.OrderStatusPending,
					Currency:    "PLN",
					Subtotal:    16000,
					TotalAmount: 17500,
				},
				Session: &services.PaymentSession{
					ID:          "sess_1",
					Provider:    "stripe",
					RedirectURL: "https://pay.example.com/sess_1",
					ExpiresAt:   expires,
				},
			}, nil
		},
	}

	req := authedRequest(http.MethodPost, "/", strings.NewReader(placeOrderBody), "user-1")
	req.Header.Set("Idempotency-Key", "idem-1")
	rr := httptest.NewRecorder()
	checkoutTestRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	order := body["order"].(map[string]any)
	if order["number"] != "1042" {
		t.Fatalf("expected order number 1042, got %v", order["number"])
	}
	payment := body["payment"].(map[string]any)
	if payment["session_id"] != "sess_1" {
		t.Fatalf("expected payment session in response, got %v", payment)
	}
}

func TestCheckoutStockConflict(t *testing.T) {
	svc := &stubCheckoutService{
		placeFn: func(context.Context, services.PlaceOrderCommand) (services.OrderPlacement, error) {
			return services.OrderPlacement{}, &services.StockConflictError{
				Lines: []domain.AvailabilityResult{{
					ProductID:         "p1",
					Size:              "M",
					Requested:         3,
					Available:         false,
					AvailableQuantity: 1,
					Message:           "insufficient stock",
				}},
			}
		},
	}

	req := authedRequest(http.MethodPost, "/", strings.NewReader(placeOrderBody), "user-1")
	rr := httptest.NewRecorder()
	checkoutTestRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	lines := body["lines"].([]any)
	if len(lines) != 1 {
		t.Fatalf("expected one conflicting line, got %v", body["lines"])
	}
	line := lines[0].(map[string]any)
	if line["availableQuantity"] != float64(1) {
		t.Fatalf("expected available quantity in conflict line, got %v", line)
	}
}

func TestCheckoutDiscountRejected(t *testing.T) {
	svc := &stubCheckoutService{
		placeFn: func(context.Context, services.PlaceOrderCommand) (services.OrderPlacement, error) {
			return services.OrderPlacement{}, services.ErrCheckoutDiscountRejected
		},
	}

	req := authedRequest(http.MethodPost, "/", strings.NewReader(placeOrderBody), "user-1")
	rr := httptest.NewRecorder()
	checkoutTestRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
}

func TestCheckoutPaymentInitFailureReturnsOrder(t *testing.T) {
	svc := &stubCheckoutService{
		placeFn: func(context.Context, services.PlaceOrderCommand) (services.OrderPlacement, error) {
			return services.OrderPlacement{
				Order: domain.Order{ID: "ord_1", Status: domain.OrderStatusPending},
			}, services.ErrCheckoutPaymentFailed
		},
	}

	req := authedRequest(http.MethodPost, "/", strings.NewReader(placeOrderBody), "user-1")
	rr := httptest.NewRecorder()
	checkoutTestRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	order := body["order"].(map[string]any)
	if order["id"] != "ord_1" {
		t.Fatalf("expected pending order reference in response, got %v", body)
	}
	if order["status"] != string(domain.OrderStatusPending) {
		t.Fatalf("expected pending status, got %v", order["status"])
	}
}

func TestCheckoutRateLimit(t *testing.T) {
	svc := &stubCheckoutService{
		placeFn: func(context.Context, services.PlaceOrderCommand) (services.OrderPlacement, error) {
			return services.OrderPlacement{Order: domain.Order{ID: "ord_1"}}, nil
		},
	}
	router := checkoutTestRouter(svc)

	var lastCode int
	for i := 0; i < checkoutRateLimit+1; i++ {
		req := authedRequest(http.MethodPost, "/", strings.NewReader(placeOrderBody), "user-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		lastCode = rr.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected status 429 after exceeding the limit, got %d", lastCode)
	}
}

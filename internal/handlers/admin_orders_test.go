package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/northwear/api/internal/domain"
	"github.com/northwear/api/internal/repositories"
	"github.com/northwear/api/internal/services"
)

type stubInventoryService struct {
	adjustFn   func(ctx context.Context, cmd services.StockAdjustCommand) (services.Product, error)
	lowStockFn func(ctx context.Context, filter services.LowStockFilter) (domain.CursorPage[services.Product], error)
}

func (s *stubInventoryService) AdjustStock(ctx context.Context, cmd services.StockAdjustCommand) (services.Product, error) {
	if s.adjustFn != nil {
		return s.adjustFn(ctx, cmd)
	}
	return services.Product{}, nil
}

func (s *stubInventoryService) ListLowStock(ctx context.Context, filter services.LowStockFilter) (domain.CursorPage[services.Product], error) {
	if s.lowStockFn != nil {
		return s.lowStockFn(ctx, filter)
	}
	return domain.CursorPage[services.Product]{}, nil
}

var _ services.InventoryService = (*stubInventoryService)(nil)

func adminOrderTestRouter(orders services.OrderService, inventory services.InventoryService, system services.SystemService) chi.Router {
	r := chi.NewRouter()
	NewAdminOrderHandlers(orders, inventory, system).Routes(r)
	return r
}

func TestAdminListOrdersParsesStatusFilter(t *testing.T) {
	var got repositories.OrderListFilter
	orders := &stubOrderService{
		listFn: func(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[services.Order], error) {
			got = filter
			return domain.CursorPage[services.Order]{
				Items: []services.Order{{ID: "ord_1", Status: domain.OrderStatusPending}},
			}, nil
		},
	}

	req := authedRequest(http.MethodGet, "/orders?status=pending,paid&user_id=user-1", nil, "staff-1", "staff")
	rr := httptest.NewRecorder()
	adminOrderTestRouter(orders, nil, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(got.Status) != 2 || got.Status[0] != domain.OrderStatusPending || got.Status[1] != domain.OrderStatusPaid {
		t.Fatalf("unexpected status filter: %+v", got.Status)
	}
	if got.UserID != "user-1" {
		t.Fatalf("unexpected user filter: %q", got.UserID)
	}
}

func TestAdminShipOrder(t *testing.T) {
	var got services.ShipOrderCommand
	orders := &stubOrderService{
		shipFn: func(_ context.Context, cmd services.ShipOrderCommand) (services.Order, error) {
			got = cmd
			return services.Order{ID: cmd.OrderID, Status: domain.OrderStatusShipped}, nil
		},
	}

	req := authedRequest(http.MethodPost, "/orders/ord_1/ship", nil, "staff-1", "staff")
	rr := httptest.NewRecorder()
	adminOrderTestRouter(orders, nil, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.OrderID != "ord_1" || got.ActorID != "staff-1" {
		t.Fatalf("unexpected ship command: %+v", got)
	}
	body := decodeBody(t, rr)
	order := body["order"].(map[string]any)
	if order["status"] != string(domain.OrderStatusShipped) {
		t.Fatalf("expected shipped status, got %v", order["status"])
	}
}

func TestAdminShipOrderInvalidTransition(t *testing.T) {
	orders := &stubOrderService{
		shipFn: func(context.Context, services.ShipOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderInvalidTransition
		},
	}

	req := authedRequest(http.MethodPost, "/orders/ord_1/ship", nil, "staff-1", "staff")
	rr := httptest.NewRecorder()
	adminOrderTestRouter(orders, nil, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestAdminCancelOrder(t *testing.T) {
	var got services.CancelOrderCommand
	orders := &stubOrderService{
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			got = cmd
			return services.Order{ID: cmd.OrderID, Status: domain.OrderStatusCancelled, CancelReason: cmd.Reason}, nil
		},
	}

	payload := strings.NewReader(`{"reason": "customer request"}`)
	req := authedRequest(http.MethodPost, "/orders/ord_1/cancel", payload, "staff-1", "staff")
	rr := httptest.NewRecorder()
	adminOrderTestRouter(orders, nil, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.Reason != "customer request" {
		t.Fatalf("unexpected cancel reason %q", got.Reason)
	}
}

func TestAdminAdjustStock(t *testing.T) {
	var got services.StockAdjustCommand
	inventory := &stubInventoryService{
		adjustFn: func(_ context.Context, cmd services.StockAdjustCommand) (services.Product, error) {
			got = cmd
			return services.Product{ID: cmd.ProductID}, nil
		},
	}

	payload := strings.NewReader(`{"product_id": "p1", "size": "M", "delta": -2, "reason": "damaged"}`)
	req := authedRequest(http.MethodPost, "/stock-adjustments", payload, "staff-1", "staff")
	rr := httptest.NewRecorder()
	adminOrderTestRouter(nil, inventory, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.ProductID != "p1" || got.Delta != -2 || got.ActorID != "staff-1" {
		t.Fatalf("unexpected adjust command: %+v", got)
	}
}

func TestAdminLowStockThresholdValidation(t *testing.T) {
	req := authedRequest(http.MethodGet, "/low-stock?threshold=-1", nil, "staff-1", "staff")
	rr := httptest.NewRecorder()
	adminOrderTestRouter(nil, &stubInventoryService{}, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminListAuditLogs(t *testing.T) {
	system := &stubSystemService{}
	req := authedRequest(http.MethodGet, "/audit-logs?actor=staff-1", nil, "staff-1", "staff")
	rr := httptest.NewRecorder()
	adminOrderTestRouter(nil, nil, system).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/northwear/api/internal/domain"
	"github.com/northwear/api/internal/repositories"
)

func newMaintenanceServiceWith(t *testing.T, orders repositories.OrderRepository, products repositories.ProductRepository, events OrderEventPublisher, now time.Time, batchSize int) MaintenanceService {
	t.Helper()
	svc, err := NewMaintenanceService(MaintenanceServiceDeps{
		Orders:      orders,
		Products:    products,
		OrderEvents: events,
		Clock:       fixedClock(now),
		BatchSize:   batchSize,
	})
	if err != nil {
		t.Fatalf("unexpected error constructing maintenance service: %v", err)
	}
	return svc
}

func TestMaintenanceSweepExpiresPendingSessions(t *testing.T) {
	now := time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC)
	batches := [][]domain.Order{
		{
			{ID: "ord-1", Number: "NW-2026-000001", Status: domain.OrderStatusPending},
			{ID: "ord-2", Number: "NW-2026-000002", Status: domain.OrderStatusPending},
		},
	}
	orders := &stubOrderRepository{
		listExpiredFunc: func(ctx context.Context, before time.Time, limit int) ([]domain.Order, error) {
			if len(batches) == 0 {
				return nil, nil
			}
			batch := batches[0]
			batches = batches[1:]
			return batch, nil
		},
		transitionFunc: func(ctx context.Context, req repositories.OrderStatusUpdate) (repositories.OrderTransitionResult, error) {
			if req.To != domain.OrderStatusExpired {
				t.Fatalf("expected transition to expired, got %s", req.To)
			}
			if !req.RestoreStock {
				t.Fatalf("expected expiry to restore held stock")
			}
			if len(req.From) != 1 || req.From[0] != domain.OrderStatusPending {
				t.Fatalf("expected transition guarded on pending, got %v", req.From)
			}
			return repositories.OrderTransitionResult{
				Order:   domain.Order{ID: req.OrderID, Status: domain.OrderStatusExpired},
				Applied: true,
			}, nil
		},
	}
	events := &stubOrderEventPublisher{}
	svc := newMaintenanceServiceWith(t, orders, &stubProductRepository{}, events, now, 0)

	report, err := svc.SweepExpiredSessions(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Scanned != 2 || report.Updated != 2 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(events.events) != 2 {
		t.Fatalf("expected one event per expired order, got %d", len(events.events))
	}
	if events.events[0].Type != "order.status_changed" || events.events[0].CurrentStatus != domain.OrderStatusExpired {
		t.Fatalf("unexpected event %+v", events.events[0])
	}
}

func TestMaintenanceSweepCountsFailuresAndSkipsAlreadyMoved(t *testing.T) {
	now := time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC)
	served := false
	orders := &stubOrderRepository{
		listExpiredFunc: func(ctx context.Context, before time.Time, limit int) ([]domain.Order, error) {
			if served {
				return nil, nil
			}
			served = true
			return []domain.Order{
				{ID: "ord-ok", Status: domain.OrderStatusPending},
				{ID: "ord-raced", Status: domain.OrderStatusPending},
				{ID: "ord-broken", Status: domain.OrderStatusPending},
			}, nil
		},
		transitionFunc: func(ctx context.Context, req repositories.OrderStatusUpdate) (repositories.OrderTransitionResult, error) {
			switch req.OrderID {
			case "ord-raced":
				// A webhook confirmed payment between listing and transition.
				return repositories.OrderTransitionResult{Applied: false}, nil
			case "ord-broken":
				return repositories.OrderTransitionResult{}, errors.New("contention")
			default:
				return repositories.OrderTransitionResult{
					Order:   domain.Order{ID: req.OrderID, Status: domain.OrderStatusExpired},
					Applied: true,
				}, nil
			}
		},
	}
	events := &stubOrderEventPublisher{}
	svc := newMaintenanceServiceWith(t, orders, &stubProductRepository{}, events, now, 0)

	report, err := svc.SweepExpiredSessions(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Scanned != 3 || report.Updated != 1 || report.Failed != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(events.events) != 1 {
		t.Fatalf("expected only the applied transition to publish, got %d", len(events.events))
	}
}

func TestMaintenanceSweepStopsWhenNothingMoves(t *testing.T) {
	now := time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC)
	listCalls := 0
	orders := &stubOrderRepository{
		listExpiredFunc: func(ctx context.Context, before time.Time, limit int) ([]domain.Order, error) {
			listCalls++
			return []domain.Order{
				{ID: "ord-1", Status: domain.OrderStatusPending},
				{ID: "ord-2", Status: domain.OrderStatusPending},
			}, nil
		},
		transitionFunc: func(ctx context.Context, req repositories.OrderStatusUpdate) (repositories.OrderTransitionResult, error) {
			return repositories.OrderTransitionResult{Applied: false}, nil
		},
	}
	svc := newMaintenanceServiceWith(t, orders, &stubProductRepository{}, nil, now, 2)

	report, err := svc.SweepExpiredSessions(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if listCalls != 1 {
		t.Fatalf("expected sweep to stop after a batch with no progress, got %d listings", listCalls)
	}
	if report.Scanned != 2 || report.Updated != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestMaintenanceRecomputeLowestPrices(t *testing.T) {
	now := time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC)
	freshAt := now.Add(-24 * time.Hour)
	staleAt := now.Add(-40 * 24 * time.Hour)

	recorded := make(map[string]int64)
	products := &stubProductRepository{
		listFunc: func(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
			return domain.CursorPage[domain.Product]{Items: []domain.Product{
				// Stored value older than the window gets reset.
				{ID: "prod-stale", BasePrice: 10000, LowestPrice30d: int64Ptr(8000), LowestPriceAt: &staleAt},
				// Fresh value below the current price stays put.
				{ID: "prod-kept", BasePrice: 10000, LowestPrice30d: int64Ptr(9000), LowestPriceAt: &freshAt},
				// A new promo undercuts the stored value.
				{ID: "prod-promo", BasePrice: 10000, PromoPrice: int64Ptr(7000), LowestPrice30d: int64Ptr(9000), LowestPriceAt: &freshAt},
				// Never computed before.
				{ID: "prod-new", BasePrice: 5000},
			}}, nil
		},
		setLowestFunc: func(ctx context.Context, productID string, price *int64, computedAt time.Time) error {
			recorded[productID] = *price
			return nil
		},
	}
	svc := newMaintenanceServiceWith(t, &stubOrderRepository{}, products, nil, now, 0)

	report, err := svc.RecomputeLowestPrices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Scanned != 4 || report.Updated != 3 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if _, ok := recorded["prod-kept"]; ok {
		t.Fatalf("expected fresh lower value to be kept, got update %v", recorded)
	}
	if recorded["prod-stale"] != 10000 {
		t.Fatalf("expected stale value reset to current price, got %d", recorded["prod-stale"])
	}
	if recorded["prod-promo"] != 7000 {
		t.Fatalf("expected promo price recorded as new lowest, got %d", recorded["prod-promo"])
	}
	if recorded["prod-new"] != 5000 {
		t.Fatalf("expected first computation for prod-new, got %d", recorded["prod-new"])
	}
}

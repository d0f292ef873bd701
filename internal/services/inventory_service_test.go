package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/northwear/api/internal/domain"
	"github.com/northwear/api/internal/repositories"
)

type stubStockEventPublisher struct {
	events []domain.StockEvent
	err    error
}

func (s *stubStockEventPublisher) PublishStockEvent(ctx context.Context, event domain.StockEvent) error {
	s.events = append(s.events, event)
	return s.err
}

func newInventoryServiceWith(t *testing.T, products repositories.ProductRepository, events StockEventPublisher, now time.Time) InventoryService {
	t.Helper()
	svc, err := NewInventoryService(InventoryServiceDeps{
		Products: products,
		Events:   events,
		Clock:    fixedClock(now),
	})
	if err != nil {
		t.Fatalf("unexpected error constructing inventory service: %v", err)
	}
	return svc
}

func TestInventoryAdjustStockPublishesRemaining(t *testing.T) {
	now := time.Date(2026, 6, 2, 9, 0, 0, 0, time.UTC)
	products := &stubProductRepository{
		adjustStockFunc: func(ctx context.Context, req repositories.StockAdjustRequest) (domain.Product, error) {
			if req.ProductID != "prod-1" || req.Size != "M" || req.Delta != 5 {
				t.Fatalf("unexpected adjust request %+v", req)
			}
			return domain.Product{
				ID:    "prod-1",
				Sizes: []domain.SizeStock{{Label: "M", Stock: 12}},
			}, nil
		},
	}
	events := &stubStockEventPublisher{}
	svc := newInventoryServiceWith(t, products, events, now)

	product, err := svc.AdjustStock(context.Background(), StockAdjustCommand{
		ProductID: "prod-1",
		Size:      " m ",
		Delta:     5,
		ActorID:   "staff-1",
		Reason:    "restock",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if product.ID != "prod-1" {
		t.Fatalf("unexpected product %+v", product)
	}
	if len(events.events) != 1 {
		t.Fatalf("expected one stock event, got %d", len(events.events))
	}
	event := events.events[0]
	if event.Type != "stock.adjusted" || event.Size != "M" || event.Delta != 5 || event.Remaining != 12 {
		t.Fatalf("unexpected stock event %+v", event)
	}
}

func TestInventoryAdjustStockRejectsInvalidInput(t *testing.T) {
	now := time.Date(2026, 6, 2, 9, 0, 0, 0, time.UTC)
	svc := newInventoryServiceWith(t, &stubProductRepository{}, nil, now)

	cases := []struct {
		name string
		cmd  StockAdjustCommand
	}{
		{name: "missing product", cmd: StockAdjustCommand{Size: "M", Delta: 1}},
		{name: "missing size", cmd: StockAdjustCommand{ProductID: "prod-1", Delta: 1}},
		{name: "zero delta", cmd: StockAdjustCommand{ProductID: "prod-1", Size: "M"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.AdjustStock(context.Background(), tc.cmd); !errors.Is(err, ErrInventoryInvalidInput) {
				t.Fatalf("expected ErrInventoryInvalidInput, got %v", err)
			}
		})
	}
}

func TestInventoryAdjustStockUnknownProduct(t *testing.T) {
	now := time.Date(2026, 6, 2, 9, 0, 0, 0, time.UTC)
	products := &stubProductRepository{
		adjustStockFunc: func(ctx context.Context, req repositories.StockAdjustRequest) (domain.Product, error) {
			return domain.Product{}, &repositoryErrorStub{notFound: true}
		},
	}
	svc := newInventoryServiceWith(t, products, nil, now)

	_, err := svc.AdjustStock(context.Background(), StockAdjustCommand{ProductID: "ghost", Size: "M", Delta: 1})
	if !errors.Is(err, ErrInventoryProductNotFound) {
		t.Fatalf("expected ErrInventoryProductNotFound, got %v", err)
	}
}

func TestInventoryListLowStock(t *testing.T) {
	now := time.Date(2026, 6, 2, 9, 0, 0, 0, time.UTC)
	products := &stubProductRepository{
		listLowStockFunc: func(ctx context.Context, query repositories.LowStockQuery) (domain.CursorPage[domain.Product], error) {
			if query.Threshold != 3 {
				t.Fatalf("expected threshold passed through, got %d", query.Threshold)
			}
			return domain.CursorPage[domain.Product]{Items: []domain.Product{{ID: "prod-low"}}}, nil
		},
	}
	svc := newInventoryServiceWith(t, products, nil, now)

	page, err := svc.ListLowStock(context.Background(), LowStockFilter{Threshold: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "prod-low" {
		t.Fatalf("unexpected page %+v", page)
	}

	if _, err := svc.ListLowStock(context.Background(), LowStockFilter{Threshold: -1}); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected ErrInventoryInvalidInput for negative threshold, got %v", err)
	}
}

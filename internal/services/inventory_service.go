package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/northwear/api/internal/domain"
	"github.com/northwear/api/internal/repositories"
)

var (
	// ErrInventoryInvalidInput signals the caller provided invalid arguments.
	ErrInventoryInvalidInput = errors.New("inventory service: invalid input")
	// ErrInventoryProductNotFound indicates the adjustment target does not exist.
	ErrInventoryProductNotFound = errors.New("inventory service: product not found")
)

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Products repositories.ProductRepository
	Events   StockEventPublisher
	Audit    AuditLogService
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	products repositories.ProductRepository
	events   StockEventPublisher
	audit    AuditLogService
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Products == nil {
		return nil, errors.New("inventory service: product repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &inventoryService{
		products: deps.Products,
		events:   deps.Events,
		audit:    deps.Audit,
		clock:    func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// AdjustStock applies a manual delta to one size entry and publishes the
// resulting stock level. Checkout decrements do not go through here; they run
// inside the pending-order transaction.
func (s *inventoryService) AdjustStock(ctx context.Context, cmd StockAdjustCommand) (Product, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	size := strings.ToUpper(strings.TrimSpace(cmd.Size))
	if size == "" {
		return Product{}, fmt.Errorf("%w: size is required", ErrInventoryInvalidInput)
	}
	if cmd.Delta == 0 {
		return Product{}, fmt.Errorf("%w: delta must be non-zero", ErrInventoryInvalidInput)
	}

	now := s.clock()
	product, err := s.products.AdjustStock(ctx, repositories.StockAdjustRequest{
		ProductID: productID,
		Size:      size,
		Delta:     cmd.Delta,
		Now:       now,
	})
	if err != nil {
		if isProductMissing(err) {
			return Product{}, fmt.Errorf("%w: %s", ErrInventoryProductNotFound, productID)
		}
		return Product{}, err
	}

	remaining, _ := product.StockFor(size)
	s.publishStockEvent(ctx, domain.StockEvent{
		Type:       "stock.adjusted",
		ProductID:  productID,
		Size:       size,
		Delta:      cmd.Delta,
		Remaining:  remaining,
		OccurredAt: now,
	})
	s.recordAudit(ctx, cmd, productID, size, remaining)
	return product, nil
}

// ListLowStock returns products with any size at or below the threshold.
func (s *inventoryService) ListLowStock(ctx context.Context, filter LowStockFilter) (domain.CursorPage[Product], error) {
	threshold := filter.Threshold
	if threshold < 0 {
		return domain.CursorPage[Product]{}, fmt.Errorf("%w: threshold must be >= 0", ErrInventoryInvalidInput)
	}
	return s.products.ListLowStock(ctx, repositories.LowStockQuery{
		Threshold: threshold,
		PageSize:  filter.Pagination.PageSize,
		PageToken: strings.TrimSpace(filter.Pagination.PageToken),
	})
}

func (s *inventoryService) publishStockEvent(ctx context.Context, event domain.StockEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishStockEvent(ctx, event); err != nil {
		s.logger(ctx, "stock.event_publish_failed", map[string]any{
			"productId": event.ProductID,
			"size":      event.Size,
			"error":     err.Error(),
		})
	}
}

func (s *inventoryService) recordAudit(ctx context.Context, cmd StockAdjustCommand, productID, size string, remaining int) {
	if s.audit == nil {
		return
	}
	metadata := map[string]any{
		"size":      size,
		"delta":     cmd.Delta,
		"remaining": remaining,
	}
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		metadata["reason"] = reason
	}
	s.audit.Record(ctx, AuditLogRecord{
		Actor:     cmd.ActorID,
		ActorType: "staff",
		Action:    "stock.adjust",
		TargetRef: "/products/" + productID,
		Metadata:  metadata,
	})
}

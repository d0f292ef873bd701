package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/northwear/api/internal/domain"
	"github.com/northwear/api/internal/repositories"
)

const (
	defaultSweepBatchSize = 100
	lowestPriceWindow     = 30 * 24 * time.Hour
)

// MaintenanceServiceDeps bundles the collaborators behind the periodic sweeps.
type MaintenanceServiceDeps struct {
	Orders      repositories.OrderRepository
	Products    repositories.ProductRepository
	OrderEvents OrderEventPublisher
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
	BatchSize   int
}

type maintenanceService struct {
	orders      repositories.OrderRepository
	products    repositories.ProductRepository
	orderEvents OrderEventPublisher
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)
	batchSize   int
}

// NewMaintenanceService wires the sweep runner.
func NewMaintenanceService(deps MaintenanceServiceDeps) (MaintenanceService, error) {
	if deps.Orders == nil {
		return nil, errors.New("maintenance service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("maintenance service: product repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	batchSize := deps.BatchSize
	if batchSize <= 0 {
		batchSize = defaultSweepBatchSize
	}
	return &maintenanceService{
		orders:      deps.Orders,
		products:    deps.Products,
		orderEvents: deps.OrderEvents,
		clock:       func() time.Time { return clock().UTC() },
		logger:      logger,
		batchSize:   batchSize,
	}, nil
}

// SweepExpiredSessions expires pending orders whose payment session deadline
// has passed, restoring their held stock. This is the compensation path for
// sessions the provider never reported back on.
func (s *maintenanceService) SweepExpiredSessions(ctx context.Context) (SweepReport, error) {
	started := s.clock()
	report := SweepReport{StartedAt: started}

	for {
		if err := ctx.Err(); err != nil {
			report.Duration = s.clock().Sub(started)
			return report, err
		}

		batch, err := s.orders.ListExpiredPending(ctx, s.clock(), s.batchSize)
		if err != nil {
			report.Duration = s.clock().Sub(started)
			return report, err
		}
		if len(batch) == 0 {
			break
		}

		applied := 0
		for _, order := range batch {
			report.Scanned++
			result, err := s.orders.TransitionStatus(ctx, repositories.OrderStatusUpdate{
				OrderID:      order.ID,
				From:         []domain.OrderStatus{domain.OrderStatusPending},
				To:           domain.OrderStatusExpired,
				RestoreStock: true,
				Now:          s.clock(),
			})
			if err != nil {
				report.Failed++
				s.logger(ctx, "maintenance.expire_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
				continue
			}
			if !result.Applied {
				continue
			}
			report.Updated++
			applied++
			s.publishExpiry(ctx, result.Order, order.Status)
		}

		// A batch where nothing moved means the remaining candidates keep
		// failing; stop instead of spinning on them.
		if applied == 0 || len(batch) < s.batchSize {
			break
		}
	}

	report.Duration = s.clock().Sub(started)
	s.logger(ctx, "maintenance.expired_sessions_swept", map[string]any{
		"scanned": report.Scanned,
		"updated": report.Updated,
		"failed":  report.Failed,
	})
	return report, nil
}

// RecomputeLowestPrices walks the live catalog and refreshes the
// lowest-price-in-30-days value shown next to promotions. A stored value older
// than the window is reset to the current effective price.
func (s *maintenanceService) RecomputeLowestPrices(ctx context.Context) (SweepReport, error) {
	started := s.clock()
	report := SweepReport{StartedAt: started}
	windowStart := started.Add(-lowestPriceWindow)

	pageToken := ""
	for {
		if err := ctx.Err(); err != nil {
			report.Duration = s.clock().Sub(started)
			return report, err
		}

		page, err := s.products.List(ctx, repositories.ProductListFilter{
			Pagination: domain.Pagination{PageSize: s.batchSize, PageToken: pageToken},
		})
		if err != nil {
			report.Duration = s.clock().Sub(started)
			return report, err
		}

		now := s.clock()
		for _, product := range page.Items {
			report.Scanned++
			effective := product.EffectivePrice(now)

			stale := product.LowestPrice30d == nil ||
				product.LowestPriceAt == nil ||
				product.LowestPriceAt.Before(windowStart)
			if !stale && effective >= *product.LowestPrice30d {
				continue
			}

			price := effective
			if err := s.products.SetLowestPrice(ctx, product.ID, &price, now); err != nil {
				report.Failed++
				s.logger(ctx, "maintenance.lowest_price_failed", map[string]any{"productId": product.ID, "error": err.Error()})
				continue
			}
			report.Updated++
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	report.Duration = s.clock().Sub(started)
	s.logger(ctx, "maintenance.lowest_prices_recomputed", map[string]any{
		"scanned": report.Scanned,
		"updated": report.Updated,
		"failed":  report.Failed,
	})
	return report, nil
}

func (s *maintenanceService) publishExpiry(ctx context.Context, order domain.Order, previous domain.OrderStatus) {
	if s.orderEvents == nil {
		return
	}
	event := domain.OrderEvent{
		Type:           "order.status_changed",
		OrderID:        order.ID,
		OrderNumber:    order.Number,
		PreviousStatus: previous,
		CurrentStatus:  order.Status,
		OccurredAt:     s.clock(),
		Metadata:       map[string]any{"source": "session_sweep"},
	}
	if err := s.orderEvents.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event_publish_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
	}
}

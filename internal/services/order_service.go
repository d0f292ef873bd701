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
	// ErrOrderInvalidInput indicates the caller supplied invalid parameters.
	ErrOrderInvalidInput = errors.New("order service: invalid input")
	// ErrOrderUnavailable indicates order dependencies are currently unavailable.
	ErrOrderUnavailable = errors.New("order service: unavailable")
	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("order service: not found")
	// ErrOrderInvalidTransition indicates the requested status change is not allowed
	// from the order's current state.
	ErrOrderInvalidTransition = errors.New("order service: invalid transition")
)

// orderTransitions is the explicit state machine. A status missing from the
// map is terminal.
var orderTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending: {domain.OrderStatusPaid, domain.OrderStatusCancelled, domain.OrderStatusExpired},
	domain.OrderStatusPaid:    {domain.OrderStatusShipped},
}

func transitionAllowed(from, to domain.OrderStatus) bool {
	for _, candidate := range orderTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// transitionSources returns every status the target status may be entered from.
func transitionSources(to domain.OrderStatus) []domain.OrderStatus {
	var from []domain.OrderStatus
	for status, targets := range orderTransitions {
		for _, candidate := range targets {
			if candidate == to {
				from = append(from, status)
			}
		}
	}
	return from
}

// OrderServiceDeps wires the dependencies required by the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Mailer      OrderMailer
	OrderEvents OrderEventPublisher
	Audit       AuditLogService
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders      repositories.OrderRepository
	mailer      OrderMailer
	orderEvents OrderEventPublisher
	audit       AuditLogService
	now         func() time.Time
	logger      func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderService constructs an OrderService validating required dependencies.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderService{
		orders:      deps.Orders,
		mailer:      deps.Mailer,
		orderEvents: deps.OrderEvents,
		audit:       deps.Audit,
		now:         func() time.Time { return clock().UTC() },
		logger:      logger,
	}, nil
}

// GetOrder loads one order.
func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		if isRepoNotFound(err) {
			return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
		}
		return Order{}, err
	}
	return order, nil
}

// ListOrders returns a page of orders for admin or customer views.
func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	if s == nil || s.orders == nil {
		return domain.CursorPage[Order]{}, ErrOrderUnavailable
	}
	return s.orders.List(ctx, filter)
}

// MarkPaid applies a verified payment success event. The underlying
// check-and-set makes webhook retries a no-op, so the confirmation email goes
// out at most once, and only after the paid status is durably committed.
func (s *orderService) MarkPaid(ctx context.Context, cmd PaymentConfirmation) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}
	sessionID := strings.TrimSpace(cmd.SessionID)
	if sessionID == "" {
		return Order{}, fmt.Errorf("%w: session id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByPaymentSession(ctx, sessionID)
	if err != nil {
		if isRepoNotFound(err) {
			return Order{}, fmt.Errorf("%w: payment session %s", ErrOrderNotFound, sessionID)
		}
		return Order{}, err
	}

	// Providers retry webhook deliveries; a duplicate arriving after the
	// order has already shipped confirms nothing new.
	if order.Status == domain.OrderStatusShipped {
		return order, nil
	}

	paidAt := cmd.PaidAt
	if paidAt.IsZero() {
		paidAt = s.now()
	}
	result, err := s.orders.TransitionStatus(ctx, repositories.OrderStatusUpdate{
		OrderID: order.ID,
		From:    transitionSources(domain.OrderStatusPaid),
		To:      domain.OrderStatusPaid,
		PaidAt:  &paidAt,
		Now:     s.now(),
	})
	if err != nil {
		return Order{}, s.translateTransitionError(order.ID, domain.OrderStatusPaid, err)
	}
	if !result.Applied {
		// Duplicate delivery of the same event.
		return result.Order, nil
	}

	s.publishEvent(ctx, result.Order, order.Status, map[string]any{"eventId": cmd.EventID})
	if s.mailer != nil {
		if err := s.mailer.OrderConfirmation(ctx, result.Order); err != nil {
			s.logger(ctx, "order.confirmation_email_failed", map[string]any{"orderId": result.Order.ID, "error": err.Error()})
		}
		if err := s.mailer.OperatorNotification(ctx, result.Order); err != nil {
			s.logger(ctx, "order.operator_email_failed", map[string]any{"orderId": result.Order.ID, "error": err.Error()})
		}
	}
	return result.Order, nil
}

// ExpireSession applies a verified payment session expiry. Stock held by the
// pending order is restored in the same transaction. An expiry arriving after
// the order was paid changes nothing.
func (s *orderService) ExpireSession(ctx context.Context, cmd SessionExpiry) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}
	sessionID := strings.TrimSpace(cmd.SessionID)
	if sessionID == "" {
		return Order{}, fmt.Errorf("%w: session id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByPaymentSession(ctx, sessionID)
	if err != nil {
		if isRepoNotFound(err) {
			return Order{}, fmt.Errorf("%w: payment session %s", ErrOrderNotFound, sessionID)
		}
		return Order{}, err
	}

	// A paid or shipped order keeps its stock and status regardless of
	// session expiry events arriving late.
	if order.Status != domain.OrderStatusPending && order.Status != domain.OrderStatusExpired {
		return order, nil
	}

	result, err := s.orders.TransitionStatus(ctx, repositories.OrderStatusUpdate{
		OrderID:      order.ID,
		From:         []domain.OrderStatus{domain.OrderStatusPending},
		To:           domain.OrderStatusExpired,
		RestoreStock: true,
		Now:          s.now(),
	})
	if err != nil {
		return Order{}, s.translateTransitionError(order.ID, domain.OrderStatusExpired, err)
	}
	if result.Applied {
		s.publishEvent(ctx, result.Order, order.Status, map[string]any{"eventId": cmd.EventID})
	}
	return result.Order, nil
}

// Ship moves a paid order to shipped.
func (s *orderService) Ship(ctx context.Context, cmd ShipOrderCommand) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}
	id := strings.TrimSpace(cmd.OrderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	before, err := s.GetOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if before.Status != domain.OrderStatusShipped && !transitionAllowed(before.Status, domain.OrderStatusShipped) {
		return Order{}, fmt.Errorf("%w: %s -> shipped", ErrOrderInvalidTransition, before.Status)
	}

	result, err := s.orders.TransitionStatus(ctx, repositories.OrderStatusUpdate{
		OrderID: id,
		From:    transitionSources(domain.OrderStatusShipped),
		To:      domain.OrderStatusShipped,
		Now:     s.now(),
	})
	if err != nil {
		return Order{}, s.translateTransitionError(id, domain.OrderStatusShipped, err)
	}
	if result.Applied {
		s.publishEvent(ctx, result.Order, before.Status, nil)
		s.recordAudit(ctx, cmd.ActorID, "order.ship", result.Order)
	}
	return result.Order, nil
}

// Cancel cancels a pending order and restores its stock.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}
	id := strings.TrimSpace(cmd.OrderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	before, err := s.GetOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if before.Status != domain.OrderStatusCancelled && !transitionAllowed(before.Status, domain.OrderStatusCancelled) {
		return Order{}, fmt.Errorf("%w: %s -> cancelled", ErrOrderInvalidTransition, before.Status)
	}

	result, err := s.orders.TransitionStatus(ctx, repositories.OrderStatusUpdate{
		OrderID:      id,
		From:         []domain.OrderStatus{domain.OrderStatusPending},
		To:           domain.OrderStatusCancelled,
		Reason:       strings.TrimSpace(cmd.Reason),
		RestoreStock: true,
		Now:          s.now(),
	})
	if err != nil {
		return Order{}, s.translateTransitionError(id, domain.OrderStatusCancelled, err)
	}
	if result.Applied {
		s.publishEvent(ctx, result.Order, before.Status, map[string]any{"reason": cmd.Reason})
		s.recordAudit(ctx, cmd.ActorID, "order.cancel", result.Order)
		if s.mailer != nil {
			if err := s.mailer.OrderCancelled(ctx, result.Order); err != nil {
				s.logger(ctx, "order.cancel_email_failed", map[string]any{"orderId": result.Order.ID, "error": err.Error()})
			}
		}
	}
	return result.Order, nil
}

func (s *orderService) translateTransitionError(orderID string, target domain.OrderStatus, err error) error {
	if isRepoNotFound(err) {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if repoErr, ok := err.(repositories.RepositoryError); ok && repoErr.IsConflict() {
		return fmt.Errorf("%w: order %s cannot move to %s", ErrOrderInvalidTransition, orderID, target)
	}
	return err
}

func (s *orderService) publishEvent(ctx context.Context, order Order, previous domain.OrderStatus, metadata map[string]any) {
	if s.orderEvents == nil {
		return
	}
	event := OrderEvent{
		Type:           "order.status_changed",
		OrderID:        order.ID,
		OrderNumber:    order.Number,
		PreviousStatus: previous,
		CurrentStatus:  order.Status,
		OccurredAt:     s.now(),
		Metadata:       metadata,
	}
	if err := s.orderEvents.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event_publish_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
	}
}

func (s *orderService) recordAudit(ctx context.Context, actorID string, action string, order Order) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, AuditLogRecord{
		Actor:     actorID,
		ActorType: "staff",
		Action:    action,
		TargetRef: "/orders/" + order.ID,
		Metadata:  map[string]any{"orderNumber": order.Number, "status": string(order.Status)},
	})
}

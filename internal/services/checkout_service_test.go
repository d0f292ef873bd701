package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/northwear/api/internal/domain"
	"github.com/northwear/api/internal/payments"
	"github.com/northwear/api/internal/repositories"
)

type stubOrderRepository struct {
	createPendingFunc func(ctx context.Context, req repositories.OrderCreateRequest) (domain.Order, error)
	findByIDFunc      func(ctx context.Context, orderID string) (domain.Order, error)
	findBySessionFunc func(ctx context.Context, sessionID string) (domain.Order, error)
	listFunc          func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	transitionFunc    func(ctx context.Context, req repositories.OrderStatusUpdate) (repositories.OrderTransitionResult, error)
	attachFunc        func(ctx context.Context, orderID string, sessionID string, expiresAt *time.Time) (domain.Order, error)
	listExpiredFunc   func(ctx context.Context, before time.Time, limit int) ([]domain.Order, error)
}

func (s *stubOrderRepository) CreatePending(ctx context.Context, req repositories.OrderCreateRequest) (domain.Order, error) {
	if s.createPendingFunc != nil {
		return s.createPendingFunc(ctx, req)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findByIDFunc != nil {
		return s.findByIDFunc(ctx, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepository) FindByPaymentSession(ctx context.Context, sessionID string) (domain.Order, error) {
	if s.findBySessionFunc != nil {
		return s.findBySessionFunc(ctx, sessionID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderRepository) TransitionStatus(ctx context.Context, req repositories.OrderStatusUpdate) (repositories.OrderTransitionResult, error) {
	if s.transitionFunc != nil {
		return s.transitionFunc(ctx, req)
	}
	return repositories.OrderTransitionResult{}, errors.New("not implemented")
}

func (s *stubOrderRepository) AttachPaymentSession(ctx context.Context, orderID string, sessionID string, expiresAt *time.Time) (domain.Order, error) {
	if s.attachFunc != nil {
		return s.attachFunc(ctx, orderID, sessionID, expiresAt)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepository) ListExpiredPending(ctx context.Context, before time.Time, limit int) ([]domain.Order, error) {
	if s.listExpiredFunc != nil {
		return s.listExpiredFunc(ctx, before, limit)
	}
	return nil, nil
}

type stubPaymentGateway struct {
	createSessionFunc func(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	calls             int
}

func (s *stubPaymentGateway) CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	s.calls++
	if s.createSessionFunc != nil {
		return s.createSessionFunc(ctx, paymentCtx, req)
	}
	return payments.CheckoutSession{}, errors.New("not implemented")
}

type stubCounterSequence struct {
	nextOrderNumberFunc func(ctx context.Context) (string, error)
}

func (s *stubCounterSequence) Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error) {
	return CounterValue{}, errors.New("not implemented")
}

func (s *stubCounterSequence) NextOrderNumber(ctx context.Context) (string, error) {
	if s.nextOrderNumberFunc != nil {
		return s.nextOrderNumberFunc(ctx)
	}
	return "NW-2026-000001", nil
}

type stubOrderEventPublisher struct {
	events []domain.OrderEvent
	err    error
}

func (s *stubOrderEventPublisher) PublishOrderEvent(ctx context.Context, event domain.OrderEvent) error {
	s.events = append(s.events, event)
	return s.err
}

type checkoutFixture struct {
	carts    *stubCartRepository
	products *stubProductRepository
	orders   *stubOrderRepository
	codes    *stubDiscountCodeRepository
	gateway  *stubPaymentGateway
	events   *stubOrderEventPublisher
	now      time.Time
}

func newCheckoutFixture(now time.Time) *checkoutFixture {
	return &checkoutFixture{
		carts:    &stubCartRepository{},
		products: &stubProductRepository{},
		orders:   &stubOrderRepository{},
		codes:    &stubDiscountCodeRepository{},
		gateway:  &stubPaymentGateway{},
		events:   &stubOrderEventPublisher{},
		now:      now,
	}
}

func (f *checkoutFixture) service(t *testing.T, discounts DiscountService) CheckoutService {
	t.Helper()
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Carts:         f.carts,
		Products:      f.products,
		Orders:        f.orders,
		DiscountCodes: f.codes,
		Pricing:       newPricingAt(t, f.now),
		Discounts:     discounts,
		Counters:      &stubCounterSequence{},
		Payments:      f.gateway,
		OrderEvents:   f.events,
		Clock:         fixedClock(f.now),
		IDGenerator:   func() string { return "order-1" },
		SessionTTL:    30 * time.Minute,
		Rates:         ShippingRates{FreeThreshold: 20000, Locker: 999, Courier: 1499},
		Currency:      "pln",
	})
	if err != nil {
		t.Fatalf("unexpected error constructing checkout service: %v", err)
	}
	return svc
}

func placeOrderCommand() PlaceOrderCommand {
	return PlaceOrderCommand{
		UserID:       "user-7",
		Email:        "anna@example.com",
		CustomerName: "Anna Nowak",
		ShippingAddress: domain.Address{
			Line1:      "ul. Prosta 1",
			City:       "Warszawa",
			PostalCode: "00-001",
			Country:    "PL",
		},
		DeliveryMethod: domain.DeliveryMethodCourier,
		PaymentMethod:  domain.PaymentMethodCard,
		SuccessURL:     "https://shop.example.com/success",
		CancelURL:      "https://shop.example.com/cancel",
	}
}

func TestCheckoutDeliveryCost(t *testing.T) {
	f := newCheckoutFixture(time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC))
	svc := f.service(t, &stubDiscountValidator{})

	cases := []struct {
		method   domain.DeliveryMethod
		subtotal int64
		want     int64
	}{
		{domain.DeliveryMethodLocker, 19999, 999},
		{domain.DeliveryMethodCourier, 19999, 1499},
		{domain.DeliveryMethodLocker, 20000, 0},
		{domain.DeliveryMethodCourier, 25000, 0},
	}
	for _, tc := range cases {
		if got := svc.DeliveryCost(tc.method, tc.subtotal); got != tc.want {
			t.Fatalf("DeliveryCost(%s, %d) = %d, want %d", tc.method, tc.subtotal, got, tc.want)
		}
	}
}

func TestCheckoutPlaceOrderSnapshotsPricesAndTotals(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	f := newCheckoutFixture(now)

	f.carts.getFunc = func(ctx context.Context, userID string) (domain.Cart, error) {
		return domain.Cart{
			ID:           userID,
			UserID:       userID,
			DiscountCode: strPtr("TEN"),
			Items: []domain.CartItem{
				{ID: "line-1", ProductID: "prod-promo", Size: "M", Quantity: 1},
				{ID: "line-2", ProductID: "prod-plain", Size: "L", Quantity: 2},
			},
		}, nil
	}
	f.products.findByIDsFunc = func(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
		return map[string]domain.Product{
			"prod-promo": {
				ID:         "prod-promo",
				Name:       "Hoodie",
				BasePrice:  10000,
				PromoPrice: int64Ptr(8000),
				Sizes:      []domain.SizeStock{{Label: "M", Stock: 3}},
			},
			"prod-plain": {
				ID:        "prod-plain",
				Name:      "Tee",
				BasePrice: 3000,
				Sizes:     []domain.SizeStock{{Label: "L", Stock: 5}},
			},
		}, nil
	}
	f.codes.findByCodeFunc = func(ctx context.Context, code string) (domain.DiscountCode, error) {
		return domain.DiscountCode{ID: "dc-10", Code: "TEN"}, nil
	}

	var createReq repositories.OrderCreateRequest
	f.orders.createPendingFunc = func(ctx context.Context, req repositories.OrderCreateRequest) (domain.Order, error) {
		createReq = req
		return req.Order, nil
	}
	cartDeleted := false
	f.carts.deleteFunc = func(ctx context.Context, userID string) error {
		cartDeleted = true
		return nil
	}
	f.gateway.createSessionFunc = func(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
		if req.Amount != 14099 {
			t.Fatalf("expected session amount 14099, got %d", req.Amount)
		}
		return payments.CheckoutSession{ID: "cs_123", Provider: "stripe", RedirectURL: "https://pay.example.com/cs_123", ExpiresAt: now.Add(30 * time.Minute)}, nil
	}
	f.orders.attachFunc = func(ctx context.Context, orderID string, sessionID string, expiresAt *time.Time) (domain.Order, error) {
		order := createReq.Order
		order.PaymentSessionID = sessionID
		return order, nil
	}

	discounts := &stubDiscountValidator{
		validateFunc: func(ctx context.Context, cmd ValidateDiscountCommand) (DiscountValidation, error) {
			if cmd.Subtotal != 14000 {
				t.Fatalf("expected re-validation against subtotal 14000, got %d", cmd.Subtotal)
			}
			return DiscountValidation{Code: "TEN", Valid: true, Amount: 1400}, nil
		},
	}

	placement, err := f.service(t, discounts).PlaceOrder(context.Background(), placeOrderCommand())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	order := createReq.Order
	if order.Subtotal != 14000 {
		t.Fatalf("expected subtotal 14000 (promo price snapshot), got %d", order.Subtotal)
	}
	if order.DeliveryCost != 1499 {
		t.Fatalf("expected courier cost 1499 below free threshold, got %d", order.DeliveryCost)
	}
	if order.DiscountAmount != 1400 {
		t.Fatalf("expected discount 1400, got %d", order.DiscountAmount)
	}
	if order.TotalAmount != 14000+1499-1400 {
		t.Fatalf("expected total %d, got %d", 14000+1499-1400, order.TotalAmount)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending order, got %s", order.Status)
	}
	if order.Currency != "PLN" {
		t.Fatalf("expected currency PLN, got %q", order.Currency)
	}
	if order.Number != "NW-2026-000001" {
		t.Fatalf("unexpected order number %q", order.Number)
	}
	if len(order.Lines) != 2 || order.Lines[0].UnitPrice != 8000 || order.Lines[1].UnitPrice != 3000 {
		t.Fatalf("unexpected frozen lines %+v", order.Lines)
	}
	if createReq.DiscountCodeID != "dc-10" {
		t.Fatalf("expected discount code id dc-10 in create request, got %q", createReq.DiscountCodeID)
	}
	if len(createReq.StockLines) != 2 {
		t.Fatalf("expected 2 stock lines, got %d", len(createReq.StockLines))
	}
	if !cartDeleted {
		t.Fatalf("expected cart cleared after placement")
	}
	if placement.Session == nil || placement.Session.ID != "cs_123" {
		t.Fatalf("expected payment session on placement, got %+v", placement.Session)
	}
	if placement.Order.PaymentSessionID != "cs_123" {
		t.Fatalf("expected session attached to order, got %q", placement.Order.PaymentSessionID)
	}
}

func TestCheckoutPlaceOrderFreeDeliveryAtThreshold(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	f := newCheckoutFixture(now)

	f.carts.getFunc = func(ctx context.Context, userID string) (domain.Cart, error) {
		return domain.Cart{
			ID:     userID,
			UserID: userID,
			Items:  []domain.CartItem{{ID: "line-1", ProductID: "prod-1", Size: "M", Quantity: 2}},
		}, nil
	}
	f.products.findByIDsFunc = func(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
		return map[string]domain.Product{
			"prod-1": {ID: "prod-1", Name: "Coat", BasePrice: 10000, Sizes: []domain.SizeStock{{Label: "M", Stock: 2}}},
		}, nil
	}
	var created domain.Order
	f.orders.createPendingFunc = func(ctx context.Context, req repositories.OrderCreateRequest) (domain.Order, error) {
		created = req.Order
		return req.Order, nil
	}

	cmd := placeOrderCommand()
	cmd.PaymentMethod = domain.PaymentMethodBankTransfer

	placement, err := f.service(t, &stubDiscountValidator{}).PlaceOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Subtotal != 20000 {
		t.Fatalf("expected subtotal 20000, got %d", created.Subtotal)
	}
	if created.DeliveryCost != 0 {
		t.Fatalf("expected free delivery at threshold, got %d", created.DeliveryCost)
	}
	if placement.Session != nil {
		t.Fatalf("expected no payment session for bank transfer")
	}
	if f.gateway.calls != 0 {
		t.Fatalf("expected gateway untouched for offline payment, got %d calls", f.gateway.calls)
	}
}

func TestCheckoutPlaceOrderStockConflictListsFailingLines(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	f := newCheckoutFixture(now)

	f.carts.getFunc = func(ctx context.Context, userID string) (domain.Cart, error) {
		return domain.Cart{
			ID:     userID,
			UserID: userID,
			Items: []domain.CartItem{
				{ID: "line-1", ProductID: "prod-1", Size: "M", Quantity: 4},
				{ID: "line-2", ProductID: "prod-2", Size: "L", Quantity: 1},
			},
		}, nil
	}
	f.products.findByIDsFunc = func(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
		return map[string]domain.Product{
			"prod-1": {ID: "prod-1", BasePrice: 5000, Sizes: []domain.SizeStock{{Label: "M", Stock: 1}}},
			"prod-2": {ID: "prod-2", BasePrice: 5000, Sizes: []domain.SizeStock{{Label: "L", Stock: 3}}},
		}, nil
	}

	_, err := f.service(t, &stubDiscountValidator{}).PlaceOrder(context.Background(), placeOrderCommand())
	var conflict *StockConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected StockConflictError, got %v", err)
	}
	if len(conflict.Lines) != 1 {
		t.Fatalf("expected 1 conflicting line, got %d", len(conflict.Lines))
	}
	if conflict.Lines[0].ProductID != "prod-1" || conflict.Lines[0].AvailableQuantity != 1 {
		t.Fatalf("unexpected conflict line %+v", conflict.Lines[0])
	}
}

func TestCheckoutPlaceOrderTranslatesTransactionStockError(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	f := newCheckoutFixture(now)

	f.carts.getFunc = func(ctx context.Context, userID string) (domain.Cart, error) {
		return domain.Cart{
			ID:     userID,
			UserID: userID,
			Items:  []domain.CartItem{{ID: "line-1", ProductID: "prod-1", Size: "M", Quantity: 1}},
		}, nil
	}
	f.products.findByIDsFunc = func(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
		return map[string]domain.Product{
			"prod-1": {ID: "prod-1", BasePrice: 5000, Sizes: []domain.SizeStock{{Label: "M", Stock: 1}}},
		}, nil
	}
	f.orders.createPendingFunc = func(ctx context.Context, req repositories.OrderCreateRequest) (domain.Order, error) {
		return domain.Order{}, &repositories.StockError{
			Code:      repositories.StockErrorInsufficientStock,
			ProductID: "prod-1",
			Size:      "M",
			Available: 0,
			Message:   "stock changed during checkout",
		}
	}

	_, err := f.service(t, &stubDiscountValidator{}).PlaceOrder(context.Background(), placeOrderCommand())
	var conflict *StockConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected StockConflictError from transaction, got %v", err)
	}
	if conflict.Lines[0].AvailableQuantity != 0 {
		t.Fatalf("unexpected conflict line %+v", conflict.Lines[0])
	}
}

func TestCheckoutPlaceOrderRejectsStaleDiscount(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	f := newCheckoutFixture(now)

	f.carts.getFunc = func(ctx context.Context, userID string) (domain.Cart, error) {
		return domain.Cart{
			ID:           userID,
			UserID:       userID,
			DiscountCode: strPtr("GONE"),
			Items:        []domain.CartItem{{ID: "line-1", ProductID: "prod-1", Size: "M", Quantity: 1}},
		}, nil
	}
	f.products.findByIDsFunc = func(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
		return map[string]domain.Product{
			"prod-1": {ID: "prod-1", BasePrice: 5000, Sizes: []domain.SizeStock{{Label: "M", Stock: 2}}},
		}, nil
	}
	discounts := &stubDiscountValidator{
		validateFunc: func(ctx context.Context, cmd ValidateDiscountCommand) (DiscountValidation, error) {
			return DiscountValidation{Code: "GONE", Valid: false, Reason: domain.DiscountReasonExhausted, Message: "discount code has no uses left"}, nil
		},
	}

	_, err := f.service(t, discounts).PlaceOrder(context.Background(), placeOrderCommand())
	if !errors.Is(err, ErrCheckoutDiscountRejected) {
		t.Fatalf("expected ErrCheckoutDiscountRejected, got %v", err)
	}
}

func TestCheckoutPlaceOrderKeepsPendingOrderOnPaymentFailure(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	f := newCheckoutFixture(now)

	f.carts.getFunc = func(ctx context.Context, userID string) (domain.Cart, error) {
		return domain.Cart{
			ID:     userID,
			UserID: userID,
			Items:  []domain.CartItem{{ID: "line-1", ProductID: "prod-1", Size: "M", Quantity: 1}},
		}, nil
	}
	f.products.findByIDsFunc = func(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
		return map[string]domain.Product{
			"prod-1": {ID: "prod-1", BasePrice: 5000, Sizes: []domain.SizeStock{{Label: "M", Stock: 2}}},
		}, nil
	}
	f.orders.createPendingFunc = func(ctx context.Context, req repositories.OrderCreateRequest) (domain.Order, error) {
		return req.Order, nil
	}
	f.gateway.createSessionFunc = func(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
		return payments.CheckoutSession{}, errors.New("psp unreachable")
	}

	placement, err := f.service(t, &stubDiscountValidator{}).PlaceOrder(context.Background(), placeOrderCommand())
	if !errors.Is(err, ErrCheckoutPaymentFailed) {
		t.Fatalf("expected ErrCheckoutPaymentFailed, got %v", err)
	}
	if placement.Order.ID == "" || placement.Order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending order returned alongside the failure, got %+v", placement.Order)
	}
	if placement.Session != nil {
		t.Fatalf("expected no session on payment failure")
	}
}

func TestCheckoutPlaceOrderEmptyCart(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	f := newCheckoutFixture(now)
	f.carts.getFunc = func(ctx context.Context, userID string) (domain.Cart, error) {
		return domain.Cart{ID: userID, UserID: userID}, nil
	}

	_, err := f.service(t, &stubDiscountValidator{}).PlaceOrder(context.Background(), placeOrderCommand())
	if !errors.Is(err, ErrCheckoutCartEmpty) {
		t.Fatalf("expected ErrCheckoutCartEmpty, got %v", err)
	}
}

func TestCheckoutPlaceOrderGuestLeavesUserUnset(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	f := newCheckoutFixture(now)

	f.carts.getFunc = func(ctx context.Context, userID string) (domain.Cart, error) {
		return domain.Cart{
			ID:     userID,
			UserID: userID,
			Items:  []domain.CartItem{{ID: "line-1", ProductID: "prod-1", Size: "M", Quantity: 1}},
		}, nil
	}
	f.products.findByIDsFunc = func(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
		return map[string]domain.Product{
			"prod-1": {ID: "prod-1", BasePrice: 5000, Sizes: []domain.SizeStock{{Label: "M", Stock: 2}}},
		}, nil
	}
	var created domain.Order
	f.orders.createPendingFunc = func(ctx context.Context, req repositories.OrderCreateRequest) (domain.Order, error) {
		created = req.Order
		return req.Order, nil
	}

	cmd := placeOrderCommand()
	cmd.Guest = true
	cmd.PaymentMethod = domain.PaymentMethodBankTransfer

	if _, err := f.service(t, &stubDiscountValidator{}).PlaceOrder(context.Background(), cmd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Customer.UserID != nil {
		t.Fatalf("expected guest order without user id, got %v", created.Customer.UserID)
	}
	if created.Customer.Email != "anna@example.com" {
		t.Fatalf("expected customer snapshot, got %+v", created.Customer)
	}
}

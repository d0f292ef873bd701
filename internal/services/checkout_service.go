package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/northwear/api/internal/domain"
	"github.com/northwear/api/internal/payments"
	"github.com/northwear/api/internal/repositories"
)

const defaultPaymentSessionTTL = 30 * time.Minute

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutCartEmpty indicates the cart has no lines to place.
	ErrCheckoutCartEmpty = errors.New("checkout: cart is empty")
	// ErrCheckoutDiscountRejected indicates the applied code failed re-validation at placement.
	ErrCheckoutDiscountRejected = errors.New("checkout: discount code rejected")
	// ErrCheckoutPaymentFailed indicates the PSP session could not be created.
	// The pending order survives; the expiry sweep releases its stock if the
	// shopper never retries payment.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment session failed")
)

// StockConflictError reports the lines that failed the availability re-check
// inside order placement.
type StockConflictError struct {
	Lines []AvailabilityResult
}

// Error implements the error interface.
func (e *StockConflictError) Error() string {
	if e == nil || len(e.Lines) == 0 {
		return "checkout: stock conflict"
	}
	return fmt.Sprintf("checkout: stock conflict on %d line(s)", len(e.Lines))
}

// ShippingRates configures delivery pricing. Orders at or above FreeThreshold
// ship free; below it the flat rate for the chosen method applies.
type ShippingRates struct {
	FreeThreshold int64
	Locker        int64
	Courier       int64
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Carts         repositories.CartRepository
	Products      repositories.ProductRepository
	Orders        repositories.OrderRepository
	DiscountCodes repositories.DiscountCodeRepository
	Pricing       PricingService
	Discounts     DiscountService
	Counters      CounterService
	Payments      PaymentGateway
	OrderEvents   OrderEventPublisher
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
	IDGenerator   func() string
	SessionTTL    time.Duration
	Rates         ShippingRates
	Currency      string
}

type checkoutService struct {
	carts       repositories.CartRepository
	products    repositories.ProductRepository
	orders      repositories.OrderRepository
	codes       repositories.DiscountCodeRepository
	pricing     PricingService
	discounts   DiscountService
	counters    CounterService
	payments    PaymentGateway
	orderEvents OrderEventPublisher
	now         func() time.Time
	logger      func(ctx context.Context, event string, fields map[string]any)
	newID       func() string
	sessionTTL  time.Duration
	rates       ShippingRates
	currency    string
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("checkout service: product repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("checkout service: pricing service is required")
	}
	if deps.Discounts == nil {
		return nil, errors.New("checkout service: discount service is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("checkout service: counter service is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	ttl := deps.SessionTTL
	if ttl <= 0 {
		ttl = defaultPaymentSessionTTL
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "PLN"
	}
	rates := deps.Rates
	if rates.FreeThreshold <= 0 {
		rates.FreeThreshold = 20000
	}

	return &checkoutService{
		carts:       deps.Carts,
		products:    deps.Products,
		orders:      deps.Orders,
		codes:       deps.DiscountCodes,
		pricing:     deps.Pricing,
		discounts:   deps.Discounts,
		counters:    deps.Counters,
		payments:    deps.Payments,
		orderEvents: deps.OrderEvents,
		now:         func() time.Time { return clock().UTC() },
		logger:      logger,
		newID:       idGen,
		sessionTTL:  ttl,
		rates:       rates,
		currency:    currency,
	}, nil
}

// DeliveryCost resolves the delivery charge for a method at a given subtotal.
func (s *checkoutService) DeliveryCost(method DeliveryMethod, subtotal int64) int64 {
	if subtotal >= s.rates.FreeThreshold {
		return 0
	}
	switch method {
	case domain.DeliveryMethodLocker:
		return s.rates.Locker
	default:
		return s.rates.Courier
	}
}

// PlaceOrder assembles and persists an order from the user's cart: fresh
// availability check, price snapshot, delivery cost, discount re-validation,
// then the single transaction that decrements stock, bumps the code usage, and
// creates the pending order. A payment session is created afterwards for
// online methods.
func (s *checkoutService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (OrderPlacement, error) {
	if s == nil || s.orders == nil {
		return OrderPlacement{}, ErrCheckoutUnavailable
	}
	if err := validatePlaceOrder(cmd); err != nil {
		return OrderPlacement{}, err
	}

	cart, err := s.carts.GetCart(ctx, strings.TrimSpace(cmd.UserID))
	if err != nil {
		if isRepoNotFound(err) {
			return OrderPlacement{}, ErrCheckoutCartEmpty
		}
		return OrderPlacement{}, err
	}
	if len(cart.Items) == 0 {
		return OrderPlacement{}, ErrCheckoutCartEmpty
	}

	products, err := s.loadCartProducts(ctx, cart)
	if err != nil {
		return OrderPlacement{}, err
	}

	// Fresh availability verdicts before touching anything.
	var conflicts []AvailabilityResult
	for _, item := range cart.Items {
		verdict := availabilityFor(item, products)
		if !verdict.Available {
			conflicts = append(conflicts, verdict)
		}
	}
	if len(conflicts) > 0 {
		return OrderPlacement{}, &StockConflictError{Lines: conflicts}
	}

	now := s.now()
	lines := make([]OrderLine, 0, len(cart.Items))
	stockLines := make([]repositories.StockLine, 0, len(cart.Items))
	var subtotal int64
	for _, item := range cart.Items {
		product := products[item.ProductID]
		unit := s.pricing.Quote(product).EffectivePrice
		lines = append(lines, OrderLine{
			ProductID:   item.ProductID,
			ProductName: product.Name,
			Size:        item.Size,
			UnitPrice:   unit,
			Quantity:    item.Quantity,
		})
		stockLines = append(stockLines, repositories.StockLine{
			ProductID: item.ProductID,
			Size:      item.Size,
			Quantity:  item.Quantity,
		})
		subtotal += unit * int64(item.Quantity)
	}

	deliveryCost := s.DeliveryCost(cmd.DeliveryMethod, subtotal)

	var discountAmount int64
	var discountCode *string
	var discountCodeID string
	if cart.DiscountCode != nil {
		validation, err := s.discounts.Validate(ctx, ValidateDiscountCommand{
			Code:     *cart.DiscountCode,
			Subtotal: subtotal,
		})
		if err != nil {
			return OrderPlacement{}, err
		}
		if !validation.Valid {
			return OrderPlacement{}, fmt.Errorf("%w: %s", ErrCheckoutDiscountRejected, validation.Message)
		}
		stored, err := s.codes.FindByCode(ctx, validation.Code)
		if err != nil {
			return OrderPlacement{}, err
		}
		discountAmount = validation.Amount
		code := validation.Code
		discountCode = &code
		discountCodeID = stored.ID
	}

	orderNumber, err := s.counters.NextOrderNumber(ctx)
	if err != nil {
		return OrderPlacement{}, err
	}

	sessionDeadline := now.Add(s.sessionTTL)
	customer := OrderCustomer{
		Email:   strings.TrimSpace(cmd.Email),
		Name:    strings.TrimSpace(cmd.CustomerName),
		Phone:   strings.TrimSpace(cmd.CustomerPhone),
		Company: strings.TrimSpace(cmd.Company),
		VATID:   strings.TrimSpace(cmd.VATID),
	}
	if !cmd.Guest {
		uid := strings.TrimSpace(cmd.UserID)
		customer.UserID = &uid
	}

	order := Order{
		ID:               s.newID(),
		Number:           orderNumber,
		Customer:         customer,
		ShippingAddress:  cmd.ShippingAddress,
		DeliveryMethod:   cmd.DeliveryMethod,
		DeliveryCost:     deliveryCost,
		PaymentMethod:    cmd.PaymentMethod,
		Status:           domain.OrderStatusPending,
		Currency:         s.currency,
		Subtotal:         subtotal,
		DiscountCode:     discountCode,
		DiscountAmount:   discountAmount,
		TotalAmount:      subtotal + deliveryCost - discountAmount,
		Lines:            lines,
		SessionExpiresAt: &sessionDeadline,
	}

	created, err := s.orders.CreatePending(ctx, repositories.OrderCreateRequest{
		Order:          order,
		StockLines:     stockLines,
		DiscountCodeID: discountCodeID,
		Now:            now,
	})
	if err != nil {
		return OrderPlacement{}, s.translateCreateError(err)
	}

	if err := s.carts.Delete(ctx, cart.UserID); err != nil {
		s.logger(ctx, "checkout.cart_clear_failed", map[string]any{"orderId": created.ID, "error": err.Error()})
	}
	s.publishOrderEvent(ctx, created, "order.created")

	if !cmd.PaymentMethod.Online() {
		return OrderPlacement{Order: created}, nil
	}

	session, err := s.payments.CreateCheckoutSession(ctx, payments.PaymentContext{Currency: created.Currency}, payments.CheckoutSessionRequest{
		Amount:         created.TotalAmount,
		Currency:       created.Currency,
		SuccessURL:     strings.TrimSpace(cmd.SuccessURL),
		CancelURL:      strings.TrimSpace(cmd.CancelURL),
		Locale:         strings.TrimSpace(cmd.Locale),
		IdempotencyKey: strings.TrimSpace(cmd.IdempotencyKey),
		Metadata:       map[string]string{"orderId": created.ID, "orderNumber": created.Number},
		Items:          checkoutLineItems(created),
		ExpiresAt:      sessionDeadline,
	})
	if err != nil {
		s.logger(ctx, "checkout.payment_session_failed", map[string]any{"orderId": created.ID, "error": err.Error()})
		return OrderPlacement{Order: created}, fmt.Errorf("%w: %v", ErrCheckoutPaymentFailed, err)
	}

	expiresAt := session.ExpiresAt
	var expiryPtr *time.Time
	if !expiresAt.IsZero() {
		expiryPtr = &expiresAt
	}
	attached, err := s.orders.AttachPaymentSession(ctx, created.ID, session.ID, expiryPtr)
	if err != nil {
		return OrderPlacement{Order: created}, err
	}

	return OrderPlacement{
		Order: attached,
		Session: &PaymentSession{
			ID:          session.ID,
			Provider:    session.Provider,
			RedirectURL: session.RedirectURL,
			ExpiresAt:   session.ExpiresAt,
		},
	}, nil
}

func (s *checkoutService) loadCartProducts(ctx context.Context, cart Cart) (map[string]domain.Product, error) {
	ids := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.ProductID)
	}
	return s.products.FindByIDs(ctx, ids)
}

func (s *checkoutService) translateCreateError(err error) error {
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		line := AvailabilityResult{
			ProductID:         stockErr.ProductID,
			Size:              stockErr.Size,
			AvailableQuantity: stockErr.Available,
			Message:           stockErr.Message,
		}
		return &StockConflictError{Lines: []AvailabilityResult{line}}
	}
	var discountErr *repositories.DiscountError
	if errors.As(err, &discountErr) {
		return fmt.Errorf("%w: %s", ErrCheckoutDiscountRejected, discountErr.Message)
	}
	return err
}

func (s *checkoutService) publishOrderEvent(ctx context.Context, order Order, eventType string) {
	if s.orderEvents == nil {
		return
	}
	event := OrderEvent{
		Type:          eventType,
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		CurrentStatus: order.Status,
		OccurredAt:    s.now(),
	}
	if err := s.orderEvents.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "checkout.event_publish_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
	}
}

func checkoutLineItems(order Order) []payments.CheckoutLineItem {
	items := make([]payments.CheckoutLineItem, 0, len(order.Lines)+1)
	for _, line := range order.Lines {
		items = append(items, payments.CheckoutLineItem{
			Name:     fmt.Sprintf("%s (%s)", line.ProductName, line.Size),
			SKU:      line.ProductID,
			Quantity: int64(line.Quantity),
			Amount:   line.UnitPrice,
			Currency: order.Currency,
		})
	}
	if order.DeliveryCost > 0 {
		items = append(items, payments.CheckoutLineItem{
			Name:     "Delivery",
			Quantity: 1,
			Amount:   order.DeliveryCost,
			Currency: order.Currency,
		})
	}
	return items
}

func validatePlaceOrder(cmd PlaceOrderCommand) error {
	switch {
	case strings.TrimSpace(cmd.UserID) == "":
		return fmt.Errorf("%w: user id is required", ErrCheckoutInvalidInput)
	case strings.TrimSpace(cmd.Email) == "":
		return fmt.Errorf("%w: email is required", ErrCheckoutInvalidInput)
	case strings.TrimSpace(cmd.CustomerName) == "":
		return fmt.Errorf("%w: customer name is required", ErrCheckoutInvalidInput)
	}
	switch cmd.DeliveryMethod {
	case domain.DeliveryMethodLocker, domain.DeliveryMethodCourier:
	default:
		return fmt.Errorf("%w: unknown delivery method %q", ErrCheckoutInvalidInput, cmd.DeliveryMethod)
	}
	switch cmd.PaymentMethod {
	case domain.PaymentMethodCard, domain.PaymentMethodBankTransfer:
	default:
		return fmt.Errorf("%w: unknown payment method %q", ErrCheckoutInvalidInput, cmd.PaymentMethod)
	}
	address := cmd.ShippingAddress
	if strings.TrimSpace(address.Line1) == "" || strings.TrimSpace(address.City) == "" ||
		strings.TrimSpace(address.PostalCode) == "" || strings.TrimSpace(address.Country) == "" {
		return fmt.Errorf("%w: shipping address is incomplete", ErrCheckoutInvalidInput)
	}
	if cmd.PaymentMethod.Online() && (strings.TrimSpace(cmd.SuccessURL) == "" || strings.TrimSpace(cmd.CancelURL) == "") {
		return fmt.Errorf("%w: success and cancel urls are required for online payment", ErrCheckoutInvalidInput)
	}
	return nil
}

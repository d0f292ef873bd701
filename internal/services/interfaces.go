package services

import (
	"context"
	"time"

	domain "github.com/northwear/api/internal/domain"
	"github.com/northwear/api/internal/payments"
	"github.com/northwear/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	SortOrder          = domain.SortOrder
	Product            = domain.Product
	SizeStock          = domain.SizeStock
	Category           = domain.Category
	CategoryNode       = domain.CategoryNode
	CategoryIndex      = domain.CategoryIndex
	Cart               = domain.Cart
	CartItem           = domain.CartItem
	AvailabilityResult = domain.AvailabilityResult
	DiscountCode       = domain.DiscountCode
	DiscountType       = domain.DiscountType
	DiscountValidation = domain.DiscountValidation
	DeliveryMethod     = domain.DeliveryMethod
	PaymentMethod      = domain.PaymentMethod
	Order              = domain.Order
	OrderLine          = domain.OrderLine
	OrderStatus        = domain.OrderStatus
	OrderCustomer      = domain.OrderCustomer
	Address            = domain.Address
	OrderEvent         = domain.OrderEvent
	StockEvent         = domain.StockEvent
	SystemHealthReport = domain.SystemHealthReport
	AuditLogEntry      = domain.AuditLogEntry
)

// PricingService resolves the price a shopper pays right now and guards the
// promo pricing rules on catalog writes.
type PricingService interface {
	Quote(product Product) PriceQuote
	ValidatePromoPricing(cmd PromoPricingCommand) error
}

// DiscountService validates discount codes against a subtotal and manages the
// code definitions for admin use.
type DiscountService interface {
	Validate(ctx context.Context, cmd ValidateDiscountCommand) (DiscountValidation, error)
	ListCodes(ctx context.Context, filter DiscountListFilter) (domain.CursorPage[DiscountCode], error)
	CreateCode(ctx context.Context, cmd UpsertDiscountCodeCommand) (DiscountCode, error)
	UpdateCode(ctx context.Context, cmd UpsertDiscountCodeCommand) (DiscountCode, error)
	DeleteCode(ctx context.Context, codeID string) error
}

// CartService manages mutable cart state and produces advisory availability
// verdicts for cart views.
type CartService interface {
	GetOrCreateCart(ctx context.Context, userID string) (Cart, error)
	AddOrUpdateItem(ctx context.Context, cmd UpsertCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	ApplyDiscountCode(ctx context.Context, cmd CartDiscountCommand) (Cart, error)
	RemoveDiscountCode(ctx context.Context, userID string) (Cart, error)
	ClearCart(ctx context.Context, userID string) error
	View(ctx context.Context, userID string) (CartView, error)
	CheckAvailability(ctx context.Context, items []CartItem) ([]AvailabilityResult, error)
}

// CheckoutService assembles orders: availability re-check, price snapshot,
// delivery cost, discount re-validation, and the atomic pending-order write,
// followed by the payment session hand-off.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (OrderPlacement, error)
	DeliveryCost(method DeliveryMethod, subtotal int64) int64
}

// OrderService owns the order state machine and payment reconciliation.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	MarkPaid(ctx context.Context, cmd PaymentConfirmation) (Order, error)
	ExpireSession(ctx context.Context, cmd SessionExpiry) (Order, error)
	Ship(ctx context.Context, cmd ShipOrderCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// CatalogService manages products and the two-level category tree.
type CatalogService interface {
	ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[ProductView], error)
	GetProduct(ctx context.Context, productID string) (ProductView, error)
	GetProductBySlug(ctx context.Context, slug string) (ProductView, error)
	CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	UpdateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	DeleteProduct(ctx context.Context, cmd DeleteProductCommand) error
	RestoreProduct(ctx context.Context, productID string) (Product, error)
	CategoryTree(ctx context.Context) ([]CategoryNode, error)
	GetCategoryBySlug(ctx context.Context, slug string) (Category, error)
	CreateCategory(ctx context.Context, cmd UpsertCategoryCommand) (Category, error)
	UpdateCategory(ctx context.Context, cmd UpsertCategoryCommand) (Category, error)
	DeleteCategory(ctx context.Context, cmd DeleteCategoryCommand) error
}

// InventoryService applies manual stock adjustments and surfaces low stock.
type InventoryService interface {
	AdjustStock(ctx context.Context, cmd StockAdjustCommand) (Product, error)
	ListLowStock(ctx context.Context, filter LowStockFilter) (domain.CursorPage[Product], error)
}

// MediaService issues signed upload URLs for catalog imagery.
type MediaService interface {
	IssueSignedUpload(ctx context.Context, cmd SignedUploadCommand) (SignedUpload, error)
	PromoteUpload(ctx context.Context, cmd PromoteUploadCommand) (PromotedMedia, error)
}

// SystemService aggregates utility endpoints (health checks, audit logs, counters).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	ListAuditLogs(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
	NextCounterValue(ctx context.Context, cmd CounterCommand) (int64, error)
}

// AuditLogService centralizes immutable audit log persistence and retrieval.
type AuditLogService interface {
	Record(ctx context.Context, record AuditLogRecord)
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
}

/// MaintenanceService runs the periodic sweeps behind the order lifecycle:
// releasing stock held by expired payment sessions and recomputing the
// lowest-price-in-30-days values shown next to promotions.
type MaintenanceService interface {
	SweepExpiredSessions(ctx context.Context) (SweepReport, error)
	RecomputeLowestPrices(ctx context.Context) (SweepReport, error)
}

// OrderEventPublisher accepts order lifecycle notifications for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// StockEventPublisher accepts per-size stock change notifications.
type StockEventPublisher interface {
	PublishStockEvent(ctx context.Context, event StockEvent) error
}

// OrderMailer delivers order emails. Sends are best effort and happen only
// after the state change is durably committed. OperatorNotification alerts the
// shop staff about a new paid order; the other methods address the customer.
type OrderMailer interface {
	OrderConfirmation(ctx context.Context, order Order) error
	OrderCancelled(ctx context.Context, order Order) error
	OperatorNotification(ctx context.Context, order Order) error
}

// PaymentGateway is the slice of the payment manager the checkout flow needs.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// Command and DTO definitions ------------------------------------------------

// PriceQuote is the resolved price view for one product at one instant.
type PriceQuote struct {
	BasePrice      int64
	EffectivePrice int64
	PromoActive    bool
	LowestPrice30d *int64
}

type PromoPricingCommand struct {
	BasePrice     int64
	PromoPrice    *int64
	PromoStartsAt *time.Time
	PromoEndsAt   *time.Time
}

type ValidateDiscountCommand struct {
	Code     string
	Subtotal int64
}

type DiscountListFilter = repositories.DiscountListFilter

type UpsertDiscountCodeCommand struct {
	Code    DiscountCode
	ActorID string
}

type UpsertCartItemCommand struct {
	UserID    string
	ItemID    *string
	ProductID string
	Size      string
	Quantity  int
}

type RemoveCartItemCommand struct {
	UserID string
	ItemID string
}

type CartDiscountCommand struct {
	UserID string
	Code   string
}

// CartViewLine is one cart line joined with live product data.
type CartViewLine struct {
	Item         CartItem
	ProductName  string
	ProductSlug  string
	UnitPrice    int64
	LineTotal    int64
	Availability AvailabilityResult
}

// CartView is the priced, availability-annotated cart presented to shoppers.
// Verdicts here are advisory; placement re-validates everything.
type CartView struct {
	Cart     Cart
	Lines    []CartViewLine
	Subtotal int64
	Discount *DiscountValidation
}

// PlaceOrderCommand submits a cart as an order. UserID identifies the cart
// owner; Guest marks checkouts that should not be linked to an account.
type PlaceOrderCommand struct {
	UserID          string
	Guest           bool
	Email           string
	CustomerName    string
	CustomerPhone   string
	Company         string
	VATID           string
	ShippingAddress Address
	DeliveryMethod  DeliveryMethod
	PaymentMethod   PaymentMethod
	SuccessURL      string
	CancelURL       string
	Locale          string
	IdempotencyKey  string
}

// PaymentSession is the client-facing slice of the PSP session.
type PaymentSession struct {
	ID          string
	Provider    string
	RedirectURL string
	ExpiresAt   time.Time
}

// OrderPlacement is the result of a successful checkout submission. Session is
// nil for offline payment methods such as bank transfer.
type OrderPlacement struct {
	Order   Order
	Session *PaymentSession
}

type OrderListFilter = repositories.OrderListFilter

// PaymentConfirmation carries a verified PSP success event.
type PaymentConfirmation struct {
	SessionID string
	EventID   string
	PaidAt    time.Time
}

// SessionExpiry carries a verified PSP expiry event.
type SessionExpiry struct {
	SessionID string
	EventID   string
}

type ShipOrderCommand struct {
	OrderID string
	ActorID string
}

type CancelOrderCommand struct {
	OrderID string
	ActorID string
	Reason  string
}

type ProductListFilter struct {
	CategorySlug   string
	Search         string
	IncludeDeleted bool
	Pagination     Pagination
}

// ProductView joins a product with its resolved price.
type ProductView struct {
	Product Product
	Price   PriceQuote
}

type UpsertProductCommand struct {
	Product Product
	ActorID string
}

type DeleteProductCommand struct {
	ProductID string
	ActorID   string
}

type UpsertCategoryCommand struct {
	Category Category
	ActorID  string
}

type DeleteCategoryCommand struct {
	CategoryID string
	ActorID    string
}

type StockAdjustCommand struct {
	ProductID string
	Size      string
	Delta     int
	ActorID   string
	Reason    string
}

type LowStockFilter struct {
	Threshold  int
	Pagination Pagination
}

type SignedUploadCommand struct {
	ActorID     string
	Kind        string
	FileName    string
	ContentType string
	SizeBytes   int64
}

// SignedUpload is a time-limited URL the client PUTs the file to, plus the
// public URL the stored object will be served from.
type SignedUpload struct {
	UploadURL string
	PublicURL string
	ObjectKey string
	ExpiresAt time.Time
}

type PromoteUploadCommand struct {
	ActorID   string
	ObjectKey string
}

// PromotedMedia identifies the final object after a staged upload is promoted.
type PromotedMedia struct {
	ObjectKey string
	PublicURL string
}

// SweepReport summarises one maintenance pass.
type SweepReport struct {
	Scanned   int
	Updated   int
	Failed    int
	StartedAt time.Time
	Duration  time.Duration
}

// AuditLogRecord defines the payload accepted by the audit writer service.
type AuditLogRecord struct {
	Actor      string
	ActorType  string
	Action     string
	TargetRef  string
	Severity   string
	RequestID  string
	OccurredAt time.Time
	Metadata   map[string]any
	IPAddress  string
	UserAgent  string
}

type AuditLogFilter = repositories.AuditLogFilter

type CounterCommand struct {
	CounterID string
	Step      int64
}

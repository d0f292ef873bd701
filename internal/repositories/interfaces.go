package repositories

import (
	"context"
	"time"

	domain "github.com/northwear/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Categories() CategoryRepository
	Carts() CartRepository
	DiscountCodes() DiscountCodeRepository
	Orders() OrderRepository
	AuditLogs() AuditLogRepository
	Counters() CounterRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ProductRepository persists products with their embedded per-size stock list.
// Read methods exclude soft-deleted products unless the filter opts in; the
// exclusion lives here so no caller can forget it.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindBySlug(ctx context.Context, slug string) (domain.Product, error)
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
	SoftDelete(ctx context.Context, productID string, deletedAt time.Time) error
	Restore(ctx context.Context, productID string) error
	CountActiveByCategory(ctx context.Context, categoryIDs []string) (int, error)
	AdjustStock(ctx context.Context, req StockAdjustRequest) (domain.Product, error)
	ListLowStock(ctx context.Context, query LowStockQuery) (domain.CursorPage[domain.Product], error)
	SetLowestPrice(ctx context.Context, productID string, price *int64, computedAt time.Time) error
}

// CategoryRepository persists the two-level category tree with soft deletion.
type CategoryRepository interface {
	Insert(ctx context.Context, category domain.Category) error
	Update(ctx context.Context, category domain.Category) error
	FindByID(ctx context.Context, categoryID string) (domain.Category, error)
	FindBySlug(ctx context.Context, slug string) (domain.Category, error)
	ListActive(ctx context.Context) ([]domain.Category, error)
	ListChildren(ctx context.Context, parentID string) ([]domain.Category, error)
	SoftDelete(ctx context.Context, categoryIDs []string, deletedAt time.Time) error
	Restore(ctx context.Context, categoryID string) error
}

// CartRepository owns cart header + items persistence keyed by user.
type CartRepository interface {
	UpsertCart(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	ReplaceItems(ctx context.Context, userID string, items []domain.CartItem) (domain.Cart, error)
	Delete(ctx context.Context, userID string) error
}

// DiscountCodeRepository maintains discount code definitions. Usage counters
// are incremented only inside the pending-order transaction, so there is no
// standalone increment method here.
type DiscountCodeRepository interface {
	Insert(ctx context.Context, code domain.DiscountCode) error
	Update(ctx context.Context, code domain.DiscountCode) error
	Delete(ctx context.Context, codeID string) error
	FindByID(ctx context.Context, codeID string) (domain.DiscountCode, error)
	FindByCode(ctx context.Context, code string) (domain.DiscountCode, error)
	List(ctx context.Context, filter DiscountListFilter) (domain.CursorPage[domain.DiscountCode], error)
}

// OrderRepository persists orders and owns every multi-entity atomic write the
// order lifecycle needs. CreatePending performs stock re-validation, per-size
// decrement, bounded discount usage increment, and order creation in a single
// transaction; TransitionStatus performs the status check-and-set (optionally
// restoring stock) the same way.
type OrderRepository interface {
	CreatePending(ctx context.Context, req OrderCreateRequest) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByPaymentSession(ctx context.Context, sessionID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	TransitionStatus(ctx context.Context, req OrderStatusUpdate) (OrderTransitionResult, error)
	AttachPaymentSession(ctx context.Context, orderID string, sessionID string, expiresAt *time.Time) (domain.Order, error)
	ListExpiredPending(ctx context.Context, before time.Time, limit int) ([]domain.Order, error)
}

// AuditLogRepository persists immutable audit trail entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Request/response DTOs ------------------------------------------------------

// StockLine identifies a per-size stock mutation target.
type StockLine struct {
	ProductID string
	Size      string
	Quantity  int
}

// StockAdjustRequest applies a manual delta to one size entry. A negative
// delta never drives stock below zero; a missing size entry is created when
// the delta is positive.
type StockAdjustRequest struct {
	ProductID string
	Size      string
	Delta     int
	Now       time.Time
}

// OrderCreateRequest bundles everything the pending-order transaction writes.
// DiscountCodeID is empty when no code was applied.
type OrderCreateRequest struct {
	Order          domain.Order
	StockLines     []StockLine
	DiscountCodeID string
	Now            time.Time
}

// OrderStatusUpdate describes an atomic conditional status transition.
// The transition applies only when the current status is in From; when the
// current status already equals To the update is a no-op rather than an error.
type OrderStatusUpdate struct {
	OrderID      string
	From         []domain.OrderStatus
	To           domain.OrderStatus
	Reason       string
	RestoreStock bool
	PaidAt       *time.Time
	Now          time.Time
}

// OrderTransitionResult reports the post-transition order and whether the
// transition was applied (false means the order was already in the target state).
type OrderTransitionResult struct {
	Order   domain.Order
	Applied bool
}

// Filter DTOs shared across repositories ------------------------------------

type ProductListFilter struct {
	CategoryIDs    []string
	Search         string
	IncludeDeleted bool
	Pagination     domain.Pagination
}

type LowStockQuery struct {
	Threshold int
	PageSize  int
	PageToken string
}

type DiscountListFilter struct {
	ActiveOnly bool
	Pagination domain.Pagination
}

type OrderListFilter struct {
	UserID     string
	Status     []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type AuditLogFilter struct {
	TargetRef  string
	Actor      string
	ActorType  string
	Action     string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}

package domain

import (
	"strings"
	"time"
)

// Pagination carries cursor-based pagination inputs shared across repositories.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder captures ascending/descending intent for list queries.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// CursorPage wraps a page of results with the token required to fetch the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// RangeQuery expresses an optional interval filter.
type RangeQuery[T any] struct {
	From *T
	To   *T
}

// SizeStock is one (size label, stock count) entry within a product's inventory list.
type SizeStock struct {
	Label string `firestore:"label" json:"label"`
	Stock int    `firestore:"stock" json:"stock"`
}

// Product is a sellable catalog item with per-size stock and an optional promo window.
// Prices are stored in the minor currency unit.
type Product struct {
	ID             string      `firestore:"-" json:"id"`
	Name           string      `firestore:"name" json:"name"`
	Slug           string      `firestore:"slug" json:"slug"`
	Description    string      `firestore:"description" json:"description"`
	CategoryID     string      `firestore:"categoryId" json:"categoryId"`
	Currency       string      `firestore:"currency" json:"currency"`
	BasePrice      int64       `firestore:"basePrice" json:"basePrice"`
	PromoPrice     *int64      `firestore:"promoPrice" json:"promoPrice,omitempty"`
	PromoStartsAt  *time.Time  `firestore:"promoStartsAt" json:"promoStartsAt,omitempty"`
	PromoEndsAt    *time.Time  `firestore:"promoEndsAt" json:"promoEndsAt,omitempty"`
	LowestPrice30d *int64      `firestore:"lowestPrice30d" json:"lowestPrice30d,omitempty"`
	LowestPriceAt  *time.Time  `firestore:"lowestPriceAt" json:"-"`
	Sizes          []SizeStock `firestore:"sizes" json:"sizes"`
	ImageURL       string      `firestore:"imageUrl" json:"imageUrl,omitempty"`
	CreatedAt      time.Time   `firestore:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time   `firestore:"updatedAt" json:"updatedAt"`
	DeletedAt      *time.Time  `firestore:"deletedAt" json:"deletedAt,omitempty"`
}

// Deleted reports whether the product has been soft-deleted.
func (p Product) Deleted() bool {
	return p.DeletedAt != nil && !p.DeletedAt.IsZero()
}

// StockFor returns the stock count for the given size label and whether the size exists.
func (p Product) StockFor(size string) (int, bool) {
	label := strings.TrimSpace(size)
	for _, entry := range p.Sizes {
		if entry.Label == label {
			return entry.Stock, true
		}
	}
	return 0, false
}

// Category is a node in the two-level catalog tree. Root categories have no parent;
// subcategories reference a root. Deeper nesting is rejected at write time.
type Category struct {
	ID        string     `firestore:"-" json:"id"`
	Name      string     `firestore:"name" json:"name"`
	Slug      string     `firestore:"slug" json:"slug"`
	ParentID  *string    `firestore:"parentId" json:"parentId,omitempty"`
	ImageURL  string     `firestore:"imageUrl" json:"imageUrl,omitempty"`
	CreatedAt time.Time  `firestore:"createdAt" json:"createdAt"`
	UpdatedAt time.Time  `firestore:"updatedAt" json:"updatedAt"`
	DeletedAt *time.Time `firestore:"deletedAt" json:"deletedAt,omitempty"`
}

// Deleted reports whether the category has been soft-deleted.
func (c Category) Deleted() bool {
	return c.DeletedAt != nil && !c.DeletedAt.IsZero()
}

// IsRoot reports whether the category sits at the top level of the tree.
func (c Category) IsRoot() bool {
	return c.ParentID == nil || strings.TrimSpace(*c.ParentID) == ""
}

// CategoryNode is a category plus its direct subcategories.
type CategoryNode struct {
	Category
	Children []CategoryNode `json:"children,omitempty"`
}

// CategoryIndex provides map lookup into a fetched category tree, built once per
// fetch instead of re-scanning nested slices at every call site.
type CategoryIndex struct {
	byID map[string]*CategoryNode
}

// NewCategoryIndex builds a lookup map over every node of the tree.
func NewCategoryIndex(roots []CategoryNode) CategoryIndex {
	idx := CategoryIndex{byID: make(map[string]*CategoryNode)}
	var walk func(nodes []CategoryNode)
	walk = func(nodes []CategoryNode) {
		for i := range nodes {
			node := &nodes[i]
			idx.byID[node.ID] = node
			walk(node.Children)
		}
	}
	walk(roots)
	return idx
}

// Find returns the node with the given ID anywhere in the tree.
func (i CategoryIndex) Find(id string) (*CategoryNode, bool) {
	node, ok := i.byID[strings.TrimSpace(id)]
	return node, ok
}

// CartItem is one (product, size, quantity) line within a cart.
type CartItem struct {
	ID        string `firestore:"id" json:"id"`
	ProductID string `firestore:"productId" json:"productId"`
	Size      string `firestore:"size" json:"size"`
	Quantity  int    `firestore:"quantity" json:"quantity"`
}

// Cart holds the mutable pre-checkout state for one user.
type Cart struct {
	ID           string     `firestore:"-" json:"id"`
	UserID       string     `firestore:"userId" json:"userId"`
	Items        []CartItem `firestore:"items" json:"items"`
	DiscountCode *string    `firestore:"discountCode" json:"discountCode,omitempty"`
	CreatedAt    time.Time  `firestore:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time  `firestore:"updatedAt" json:"updatedAt"`
}

// AvailabilityResult is the per-line verdict produced by the availability check.
type AvailabilityResult struct {
	ProductID         string `json:"productId"`
	Size              string `json:"size"`
	Requested         int    `json:"requested"`
	Available         bool   `json:"available"`
	AvailableQuantity int    `json:"availableQuantity"`
	Message           string `json:"message,omitempty"`
}

// DiscountType distinguishes percentage codes from fixed-amount codes.
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

// DiscountCode is an admin-managed code applied at checkout. Codes are stored
// uppercase and matched case-insensitively. Value is a percent for percentage
// codes and a minor-unit amount for fixed codes.
type DiscountCode struct {
	ID            string       `firestore:"-" json:"id"`
	Code          string       `firestore:"code" json:"code"`
	Type          DiscountType `firestore:"type" json:"type"`
	Value         int64        `firestore:"value" json:"value"`
	MinOrderValue *int64       `firestore:"minOrderValue" json:"minOrderValue,omitempty"`
	MaxUses       *int64       `firestore:"maxUses" json:"maxUses,omitempty"`
	UsedCount     int64        `firestore:"usedCount" json:"usedCount"`
	ValidFrom     *time.Time   `firestore:"validFrom" json:"validFrom,omitempty"`
	ValidTo       *time.Time   `firestore:"validTo" json:"validTo,omitempty"`
	Active        bool         `firestore:"active" json:"active"`
	CreatedAt     time.Time    `firestore:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time    `firestore:"updatedAt" json:"updatedAt"`
}

// Exhausted reports whether the code has reached its usage cap.
func (d DiscountCode) Exhausted() bool {
	return d.MaxUses != nil && d.UsedCount >= *d.MaxUses
}

// DiscountReason enumerates the ordered rejection reasons produced by validation.
type DiscountReason string

const (
	DiscountReasonCodeNotFound DiscountReason = "CodeNotFound"
	DiscountReasonCodeInactive DiscountReason = "CodeInactive"
	DiscountReasonNotYetValid  DiscountReason = "NotYetValid"
	DiscountReasonExpired      DiscountReason = "Expired"
	DiscountReasonBelowMinimum DiscountReason = "BelowMinimum"
	DiscountReasonExhausted    DiscountReason = "Exhausted"
)

// DiscountValidation is the outcome of validating a code against a subtotal.
type DiscountValidation struct {
	Code    string         `json:"code"`
	Valid   bool           `json:"valid"`
	Reason  DiscountReason `json:"reason,omitempty"`
	Message string         `json:"message,omitempty"`
	Type    DiscountType   `json:"type,omitempty"`
	Value   int64          `json:"value,omitempty"`
	Amount  int64          `json:"amount,omitempty"`
}

// DeliveryMethod selects how a parcel reaches the customer.
type DeliveryMethod string

const (
	DeliveryMethodLocker  DeliveryMethod = "locker"
	DeliveryMethodCourier DeliveryMethod = "courier"
)

// PaymentMethod selects how the customer pays for an order.
type PaymentMethod string

const (
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
)

// Online reports whether the method requires a payment-provider session.
func (m PaymentMethod) Online() bool {
	return m == PaymentMethodCard
}

// OrderStatus is the order lifecycle state. Transitions are enforced by the
// order service state machine.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusExpired   OrderStatus = "expired"
)

// Terminal reports whether no further transitions are allowed from the status.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusShipped, OrderStatusCancelled, OrderStatusExpired:
		return true
	}
	return false
}

// Address is a postal address snapshot carried on orders.
type Address struct {
	Line1      string `firestore:"line1" json:"line1"`
	Line2      string `firestore:"line2" json:"line2,omitempty"`
	City       string `firestore:"city" json:"city"`
	Region     string `firestore:"region" json:"region,omitempty"`
	PostalCode string `firestore:"postalCode" json:"postalCode"`
	Country    string `firestore:"country" json:"country"`
}

// OrderCustomer snapshots the purchaser's identity. UserID is nil for guest checkouts.
type OrderCustomer struct {
	UserID  *string `firestore:"userId" json:"userId,omitempty"`
	Email   string  `firestore:"email" json:"email"`
	Name    string  `firestore:"name" json:"name"`
	Phone   string  `firestore:"phone" json:"phone,omitempty"`
	Company string  `firestore:"company" json:"company,omitempty"`
	VATID   string  `firestore:"vatId" json:"vatId,omitempty"`
}

// OrderLine is a frozen snapshot of one purchased line. It never changes after
// order creation regardless of later product edits.
type OrderLine struct {
	ProductID   string `firestore:"productId" json:"productId"`
	ProductName string `firestore:"productName" json:"productName"`
	Size        string `firestore:"size" json:"size"`
	UnitPrice   int64  `firestore:"unitPrice" json:"unitPrice"`
	Quantity    int    `firestore:"quantity" json:"quantity"`
}

// Total returns the line extension.
func (l OrderLine) Total() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// Order is the record of a completed checkout submission.
// TotalAmount = Subtotal + DeliveryCost - DiscountAmount, fixed at creation and
// never recomputed from live product prices.
type Order struct {
	ID               string         `firestore:"-" json:"id"`
	Number           string         `firestore:"number" json:"number"`
	Customer         OrderCustomer  `firestore:"customer" json:"customer"`
	ShippingAddress  Address        `firestore:"shippingAddress" json:"shippingAddress"`
	DeliveryMethod   DeliveryMethod `firestore:"deliveryMethod" json:"deliveryMethod"`
	DeliveryCost     int64          `firestore:"deliveryCost" json:"deliveryCost"`
	PaymentMethod    PaymentMethod  `firestore:"paymentMethod" json:"paymentMethod"`
	PaymentSessionID string         `firestore:"paymentSessionId" json:"paymentSessionId,omitempty"`
	Status           OrderStatus    `firestore:"status" json:"status"`
	Currency         string         `firestore:"currency" json:"currency"`
	Subtotal         int64          `firestore:"subtotal" json:"subtotal"`
	DiscountCode     *string        `firestore:"discountCode" json:"discountCode,omitempty"`
	DiscountAmount   int64          `firestore:"discountAmount" json:"discountAmount"`
	TotalAmount      int64          `firestore:"totalAmount" json:"totalAmount"`
	Lines            []OrderLine    `firestore:"lines" json:"lines"`
	CancelReason     string         `firestore:"cancelReason" json:"cancelReason,omitempty"`
	CreatedAt        time.Time      `firestore:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time      `firestore:"updatedAt" json:"updatedAt"`
	PaidAt           *time.Time     `firestore:"paidAt" json:"paidAt,omitempty"`
	SessionExpiresAt *time.Time     `firestore:"sessionExpiresAt" json:"sessionExpiresAt,omitempty"`
}

// OrderEvent is published after order lifecycle changes for downstream consumers.
type OrderEvent struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId"`
	OrderNumber    string         `json:"orderNumber,omitempty"`
	PreviousStatus OrderStatus    `json:"previousStatus,omitempty"`
	CurrentStatus  OrderStatus    `json:"currentStatus,omitempty"`
	ActorID        string         `json:"actorId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// StockEvent is published when per-size stock changes.
type StockEvent struct {
	Type       string    `json:"type"`
	ProductID  string    `json:"productId"`
	Size       string    `json:"size"`
	Delta      int       `json:"delta"`
	Remaining  int       `json:"remaining"`
	OccurredAt time.Time `json:"occurredAt"`
}

// AuditLogEntry is one immutable record of an admin mutation.
type AuditLogEntry struct {
	ID         string         `firestore:"-" json:"id"`
	Actor      string         `firestore:"actor" json:"actor"`
	ActorType  string         `firestore:"actorType" json:"actorType"`
	Action     string         `firestore:"action" json:"action"`
	TargetRef  string         `firestore:"targetRef" json:"targetRef"`
	Severity   string         `firestore:"severity" json:"severity"`
	RequestID  string         `firestore:"requestId" json:"requestId,omitempty"`
	OccurredAt time.Time      `firestore:"occurredAt" json:"occurredAt"`
	Metadata   map[string]any `firestore:"metadata" json:"metadata,omitempty"`
	IPAddress  string         `firestore:"ipAddress" json:"ipAddress,omitempty"`
	UserAgent  string         `firestore:"userAgent" json:"userAgent,omitempty"`
}

// HealthStatus is the probe outcome for a single dependency.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// SystemHealthCheck is the result of probing one dependency.
type SystemHealthCheck struct {
	Status    HealthStatus  `json:"status"`
	Detail    string        `json:"detail,omitempty"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latencyMs"`
	CheckedAt time.Time     `json:"checkedAt"`
}

// SystemHealthReport aggregates dependency probes for the health endpoints.
type SystemHealthReport struct {
	Status      HealthStatus                 `json:"status"`
	Checks      map[string]SystemHealthCheck `json:"checks"`
	GeneratedAt time.Time                    `json:"generatedAt"`
	Version     string                       `json:"version,omitempty"`
	CommitSHA   string                       `json:"commitSha,omitempty"`
	Environment string                       `json:"environment,omitempty"`
	Uptime      time.Duration                `json:"uptimeMs,omitempty"`
}

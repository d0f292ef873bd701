package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/northwear/api/internal/domain"
	"github.com/northwear/api/internal/repositories"
)

var (
	errCartRepositoryRequired = errors.New("cart service: cart repository is required")
	errCartProductsRequired   = errors.New("cart service: product repository is required")
	errCartPricingRequired    = errors.New("cart service: pricing service is required")
)

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due to missing dependencies or backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartNotFound indicates the requested cart or cart item does not exist.
var ErrCartNotFound = errors.New("cart service: not found")

const maxCartLineQuantity = 50

// CartServiceDeps wires the repositories and collaborators for cart operations.
type CartServiceDeps struct {
	Carts       repositories.CartRepository
	Products    repositories.ProductRepository
	Pricing     PricingService
	Discounts   DiscountService
	Clock       func() time.Time
	IDGenerator func() string
}

type cartService struct {
	carts     repositories.CartRepository
	products  repositories.ProductRepository
	pricing   PricingService
	discounts DiscountService
	newID     func() string
	now       func() time.Time
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Products == nil {
		return nil, errCartProductsRequired
	}
	if deps.Pricing == nil {
		return nil, errCartPricingRequired
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &cartService{
		carts:     deps.Carts,
		products:  deps.Products,
		pricing:   deps.Pricing,
		discounts: deps.Discounts,
		newID:     idGen,
		now:       func() time.Time { return clock().UTC() },
	}, nil
}

// GetOrCreateCart loads the active cart for the user, creating a new cart when absent.
func (s *cartService) GetOrCreateCart(ctx context.Context, userID string) (Cart, error) {
	if s == nil || s.carts == nil {
		return Cart{}, ErrCartUnavailable
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	cart, err := s.carts.GetCart(ctx, uid)
	if err == nil {
		return cart, nil
	}
	if !isRepoNotFound(err) {
		return Cart{}, err
	}

	now := s.now()
	return s.carts.UpsertCart(ctx, Cart{
		ID:        uid,
		UserID:    uid,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// AddOrUpdateItem upserts one line. Lines are keyed by (product, size); adding
// an existing combination replaces its quantity.
func (s *cartService) AddOrUpdateItem(ctx context.Context, cmd UpsertCartItemCommand) (Cart, error) {
	if s == nil || s.carts == nil {
		return Cart{}, ErrCartUnavailable
	}
	uid := strings.TrimSpace(cmd.UserID)
	productID := strings.TrimSpace(cmd.ProductID)
	size := strings.TrimSpace(cmd.Size)
	switch {
	case uid == "":
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	case productID == "":
		return Cart{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	case size == "":
		return Cart{}, fmt.Errorf("%w: size is required", ErrCartInvalidInput)
	case cmd.Quantity <= 0 || cmd.Quantity > maxCartLineQuantity:
		return Cart{}, fmt.Errorf("%w: quantity must be between 1 and %d", ErrCartInvalidInput, maxCartLineQuantity)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if isProductMissing(err) {
			return Cart{}, fmt.Errorf("%w: product %s", ErrCartNotFound, productID)
		}
		return Cart{}, err
	}
	if _, ok := product.StockFor(size); !ok {
		return Cart{}, fmt.Errorf("%w: product %s has no size %s", ErrCartInvalidInput, productID, size)
	}

	cart, err := s.GetOrCreateCart(ctx, uid)
	if err != nil {
		return Cart{}, err
	}

	updated := false
	for i := range cart.Items {
		sameLine := cart.Items[i].ProductID == productID && cart.Items[i].Size == size
		if cmd.ItemID != nil && cart.Items[i].ID == strings.TrimSpace(*cmd.ItemID) {
			sameLine = true
		}
		if !sameLine {
			continue
		}
		cart.Items[i].ProductID = productID
		cart.Items[i].Size = size
		cart.Items[i].Quantity = cmd.Quantity
		updated = true
		break
	}
	if !updated {
		cart.Items = append(cart.Items, CartItem{
			ID:        s.newID(),
			ProductID: productID,
			Size:      size,
			Quantity:  cmd.Quantity,
		})
	}

	return s.carts.ReplaceItems(ctx, uid, cart.Items)
}

// RemoveItem deletes one line by its item ID.
func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	if s == nil || s.carts == nil {
		return Cart{}, ErrCartUnavailable
	}
	uid := strings.TrimSpace(cmd.UserID)
	itemID := strings.TrimSpace(cmd.ItemID)
	if uid == "" || itemID == "" {
		return Cart{}, fmt.Errorf("%w: user id and item id are required", ErrCartInvalidInput)
	}

	cart, err := s.carts.GetCart(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, fmt.Errorf("%w: cart for user %s", ErrCartNotFound, uid)
		}
		return Cart{}, err
	}

	kept := cart.Items[:0]
	removed := false
	for _, item := range cart.Items {
		if item.ID == itemID {
			removed = true
			continue
		}
		kept = append(kept, item)
	}
	if !removed {
		return Cart{}, fmt.Errorf("%w: item %s", ErrCartNotFound, itemID)
	}

	return s.carts.ReplaceItems(ctx, uid, kept)
}

// ApplyDiscountCode attaches a code to the cart. The code must exist; any
// other eligibility problem is surfaced at view time and placement, not here.
func (s *cartService) ApplyDiscountCode(ctx context.Context, cmd CartDiscountCommand) (Cart, error) {
	if s == nil || s.carts == nil {
		return Cart{}, ErrCartUnavailable
	}
	if s.discounts == nil {
		return Cart{}, ErrCartUnavailable
	}
	uid := strings.TrimSpace(cmd.UserID)
	code := strings.ToUpper(strings.TrimSpace(cmd.Code))
	if uid == "" || code == "" {
		return Cart{}, fmt.Errorf("%w: user id and code are required", ErrCartInvalidInput)
	}

	cart, err := s.GetOrCreateCart(ctx, uid)
	if err != nil {
		return Cart{}, err
	}

	subtotal, err := s.cartSubtotal(ctx, cart)
	if err != nil {
		return Cart{}, err
	}
	validation, err := s.discounts.Validate(ctx, ValidateDiscountCommand{Code: code, Subtotal: subtotal})
	if err != nil {
		return Cart{}, err
	}
	if !validation.Valid && validation.Reason == domain.DiscountReasonCodeNotFound {
		return Cart{}, fmt.Errorf("%w: discount code %s", ErrCartNotFound, code)
	}

	cart.DiscountCode = &code
	cart.UpdatedAt = s.now()
	return s.carts.UpsertCart(ctx, cart)
}

// RemoveDiscountCode detaches any applied code.
func (s *cartService) RemoveDiscountCode(ctx context.Context, userID string) (Cart, error) {
	if s == nil || s.carts == nil {
		return Cart{}, ErrCartUnavailable
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	cart, err := s.carts.GetCart(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, fmt.Errorf("%w: cart for user %s", ErrCartNotFound, uid)
		}
		return Cart{}, err
	}
	cart.DiscountCode = nil
	cart.UpdatedAt = s.now()
	return s.carts.UpsertCart(ctx, cart)
}

// ClearCart removes the cart entirely.
func (s *cartService) ClearCart(ctx context.Context, userID string) error {
	if s == nil || s.carts == nil {
		return ErrCartUnavailable
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if err := s.carts.Delete(ctx, uid); err != nil && !isRepoNotFound(err) {
		return err
	}
	return nil
}

// CheckAvailability produces a per-line verdict for the given items. Verdicts
// are advisory; the pending-order transaction is the authority at placement.
func (s *cartService) CheckAvailability(ctx context.Context, items []CartItem) ([]AvailabilityResult, error) {
	if s == nil || s.products == nil {
		return nil, ErrCartUnavailable
	}
	if len(items) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]AvailabilityResult, 0, len(items))
	for _, item := range items {
		results = append(results, availabilityFor(item, products))
	}
	return results, nil
}

// View joins the cart with live product data: resolved prices, a subtotal over
// the available lines, and the discount validation outcome when a code is set.
func (s *cartService) View(ctx context.Context, userID string) (CartView, error) {
	if s == nil || s.carts == nil {
		return CartView{}, ErrCartUnavailable
	}
	cart, err := s.GetOrCreateCart(ctx, userID)
	if err != nil {
		return CartView{}, err
	}

	ids := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return CartView{}, err
	}

	view := CartView{Cart: cart}
	for _, item := range cart.Items {
		line := CartViewLine{
			Item:         item,
			Availability: availabilityFor(item, products),
		}
		if product, ok := products[item.ProductID]; ok {
			quote := s.pricing.Quote(product)
			line.ProductName = product.Name
			line.ProductSlug = product.Slug
			line.UnitPrice = quote.EffectivePrice
			line.LineTotal = quote.EffectivePrice * int64(item.Quantity)
			view.Subtotal += line.LineTotal
		}
		view.Lines = append(view.Lines, line)
	}

	if cart.DiscountCode != nil && s.discounts != nil {
		validation, err := s.discounts.Validate(ctx, ValidateDiscountCommand{
			Code:     *cart.DiscountCode,
			Subtotal: view.Subtotal,
		})
		if err != nil {
			return CartView{}, err
		}
		view.Discount = &validation
	}

	return view, nil
}

func (s *cartService) cartSubtotal(ctx context.Context, cart Cart) (int64, error) {
	if len(cart.Items) == 0 {
		return 0, nil
	}
	ids := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return 0, err
	}
	var subtotal int64
	for _, item := range cart.Items {
		if product, ok := products[item.ProductID]; ok {
			subtotal += s.pricing.Quote(product).EffectivePrice * int64(item.Quantity)
		}
	}
	return subtotal, nil
}

func availabilityFor(item CartItem, products map[string]domain.Product) AvailabilityResult {
	result := AvailabilityResult{
		ProductID: item.ProductID,
		Size:      item.Size,
		Requested: item.Quantity,
	}
	product, ok := products[item.ProductID]
	if !ok {
		result.Message = "product is no longer available"
		return result
	}
	stock, ok := product.StockFor(item.Size)
	if !ok {
		result.Message = fmt.Sprintf("size %s is no longer offered", item.Size)
		return result
	}
	result.AvailableQuantity = stock
	if stock < item.Quantity {
		result.Message = fmt.Sprintf("only %d left in size %s", stock, item.Size)
		return result
	}
	result.Available = true
	return result
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

func isProductMissing(err error) bool {
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		return stockErr.Code == repositories.StockErrorProductNotFound
	}
	return isRepoNotFound(err)
}

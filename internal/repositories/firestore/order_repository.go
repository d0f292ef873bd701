package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/northwear/api/internal/domain"
	pfirestore "github.com/northwear/api/internal/platform/firestore"
	"github.com/northwear/api/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository persists orders and owns the multi-document transactions the
// order lifecycle depends on. Stock decrements, the bounded discount usage
// increment, and the order insert land in one transaction; status transitions
// with optional stock restore do the same on the way back.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[domain.Order]
	products *pfirestore.Collection[productDocument]
	codes    *pfirestore.Collection[discountCodeDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[domain.Order](provider, orderCollection),
		products: pfirestore.NewCollection[productDocument](provider, productCollection),
		codes:    pfirestore.NewCollection[discountCodeDocument](provider, discountCollection),
	}, nil
}

// CreatePending writes the pending order together with its stock decrements
// and, when a code was applied, the bounded usage increment. Any stock or
// usage violation aborts the whole transaction, so a failed placement leaves
// nothing behind.
func (r *OrderRepository) CreatePending(ctx context.Context, req repositories.OrderCreateRequest) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(req.Order.ID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	if req.Order.Status != domain.OrderStatusPending {
		return domain.Order{}, fmt.Errorf("order repository: new orders must be pending, got %s", req.Order.Status)
	}

	now := req.Now.UTC()
	order := req.Order
	order.CreatedAt = now
	order.UpdatedAt = now

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// All reads must precede all writes inside a Firestore transaction.
		productIDs := make([]string, 0, len(req.StockLines))
		seen := make(map[string]bool, len(req.StockLines))
		for _, line := range req.StockLines {
			id := strings.TrimSpace(line.ProductID)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			productIDs = append(productIDs, id)
		}

		productRefs := make(map[string]*firestore.DocumentRef, len(productIDs))
		productDocs := make(map[string]productDocument, len(productIDs))
		for _, id := range productIDs {
			ref, err := r.products.DocumentRef(ctx, id)
			if err != nil {
				return err
			}
			doc, err := getProductDoc(tx, ref, id)
			if err != nil {
				return err
			}
			if doc.deleted() {
				return repositories.NewStockError(repositories.StockErrorProductNotFound, fmt.Sprintf("product %s not found", id), nil)
			}
			productRefs[id] = ref
			productDocs[id] = doc
		}

		var codeRef *firestore.DocumentRef
		var codeDoc discountCodeDocument
		if codeID := strings.TrimSpace(req.DiscountCodeID); codeID != "" {
			ref, err := r.codes.DocumentRef(ctx, codeID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return &repositories.DiscountError{
						Code:    repositories.DiscountErrorNotFound,
						CodeID:  codeID,
						Message: fmt.Sprintf("discount code %s not found", codeID),
						Err:     err,
					}
				}
				return err
			}
			if err := snap.DataTo(&codeDoc); err != nil {
				return fmt.Errorf("decode discount code %s: %w", codeID, err)
			}
			if codeDoc.MaxUses != nil && codeDoc.UsedCount >= *codeDoc.MaxUses {
				return &repositories.DiscountError{
					Code:    repositories.DiscountErrorExhausted,
					CodeID:  codeID,
					Message: fmt.Sprintf("discount code %s has no uses left", codeDoc.Code),
				}
			}
			codeRef = ref
		}

		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}

		// Apply every line decrement against the in-memory copies so repeated
		// product references within one order accumulate correctly.
		for _, line := range req.StockLines {
			id := strings.TrimSpace(line.ProductID)
			size := strings.TrimSpace(line.Size)
			doc, ok := productDocs[id]
			if !ok {
				continue
			}
			applied := false
			for i := range doc.Sizes {
				if doc.Sizes[i].Label != size {
					continue
				}
				if doc.Sizes[i].Stock < line.Quantity {
					return &repositories.StockError{
						Code:      repositories.StockErrorInsufficientStock,
						ProductID: id,
						Size:      size,
						Available: doc.Sizes[i].Stock,
						Message:   fmt.Sprintf("only %d left for size %s", doc.Sizes[i].Stock, size),
					}
				}
				doc.Sizes[i].Stock -= line.Quantity
				applied = true
				break
			}
			if !applied {
				return &repositories.StockError{
					Code:      repositories.StockErrorSizeNotFound,
					ProductID: id,
					Size:      size,
					Message:   fmt.Sprintf("size %s not found for product %s", size, id),
				}
			}
			productDocs[id] = doc
		}

		for _, id := range productIDs {
			doc := productDocs[id]
			doc.UpdatedAt = now
			doc.recalculate()
			if err := tx.Set(productRefs[id], doc); err != nil {
				return err
			}
		}

		if codeRef != nil {
			if err := tx.Update(codeRef, []firestore.Update{
				{Path: "usedCount", Value: codeDoc.UsedCount + 1},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
		}

		return tx.Create(orderRef, order)
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.createPending", err)
	}
	order.ID = orderID
	return order, nil
}

// FindByID loads an order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.orders.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	order := doc.Data
	order.ID = doc.ID
	return order, nil
}

// FindByPaymentSession resolves the order attached to a payment session.
func (r *OrderRepository) FindByPaymentSession(ctx context.Context, sessionID string) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	session := strings.TrimSpace(sessionID)
	if session == "" {
		return domain.Order{}, errors.New("order repository: session id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	iter := client.Collection(orderCollection).
		Where("paymentSessionId", "==", session).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.Order{}, pfirestore.WrapError("orders.findBySession", status.Errorf(codes.NotFound, "no order for payment session %s", session))
	}
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.findBySession", err)
	}

	var order domain.Order
	if err := snap.DataTo(&order); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
	}
	order.ID = snap.Ref.ID
	return order, nil
}

// List returns a page of orders, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	query := client.Collection(orderCollection).Query
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		query = query.Where("customer.userId", "==", userID)
	}
	if len(filter.Status) == 1 {
		query = query.Where("status", "==", string(filter.Status[0]))
	} else if len(filter.Status) > 1 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}
		query = query.Where("status", "in", statuses)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<", filter.DateRange.To.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeCatalogPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var order domain.Order
		if err := snap.DataTo(&order); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		order.ID = snap.Ref.ID
		orders = append(orders, order)
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeCatalogPageToken(catalogPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

// TransitionStatus applies an atomic conditional status change. When the order
// already sits in the target status the call reports Applied=false instead of
// failing, which makes webhook retries harmless. RestoreStock puts the order's
// line quantities back onto the product documents in the same transaction.
func (r *OrderRepository) TransitionStatus(ctx context.Context, req repositories.OrderStatusUpdate) (repositories.OrderTransitionResult, error) {
	if r == nil || r.provider == nil {
		return repositories.OrderTransitionResult{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return repositories.OrderTransitionResult{}, errors.New("order repository: order id is required")
	}
	if req.To == "" {
		return repositories.OrderTransitionResult{}, errors.New("order repository: target status is required")
	}

	now := req.Now.UTC()
	var result repositories.OrderTransitionResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		var order domain.Order
		if err := snap.DataTo(&order); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		order.ID = orderID

		if order.Status == req.To {
			result = repositories.OrderTransitionResult{Order: order, Applied: false}
			return nil
		}

		allowed := false
		for _, from := range req.From {
			if order.Status == from {
				allowed = true
				break
			}
		}
		if !allowed {
			return status.Errorf(codes.FailedPrecondition, "order %s is %s, cannot move to %s", orderID, order.Status, req.To)
		}

		// Reads before writes: load every product the restore touches first.
		type restoreTarget struct {
			ref *firestore.DocumentRef
			doc productDocument
		}
		var restores map[string]restoreTarget
		if req.RestoreStock {
			restores = make(map[string]restoreTarget, len(order.Lines))
			for _, line := range order.Lines {
				id := strings.TrimSpace(line.ProductID)
				if id == "" {
					continue
				}
				if _, ok := restores[id]; ok {
					continue
				}
				ref, err := r.products.DocumentRef(ctx, id)
				if err != nil {
					return err
				}
				docSnap, err := tx.Get(ref)
				if err != nil {
					// The product may have been hard-removed since; the
					// transition still has to go through.
					if status.Code(err) == codes.NotFound {
						continue
					}
					return err
				}
				var doc productDocument
				if err := docSnap.DataTo(&doc); err != nil {
					return fmt.Errorf("decode product %s: %w", id, err)
				}
				restores[id] = restoreTarget{ref: ref, doc: doc}
			}

			for _, line := range order.Lines {
				id := strings.TrimSpace(line.ProductID)
				target, ok := restores[id]
				if !ok {
					continue
				}
				found := false
				for i := range target.doc.Sizes {
					if target.doc.Sizes[i].Label == line.Size {
						target.doc.Sizes[i].Stock += line.Quantity
						found = true
						break
					}
				}
				if !found {
					target.doc.Sizes = append(target.doc.Sizes, sizeStockDocument{Label: line.Size, Stock: line.Quantity})
				}
				restores[id] = target
			}

			for _, target := range restores {
				target.doc.UpdatedAt = now
				target.doc.recalculate()
				if err := tx.Set(target.ref, target.doc); err != nil {
					return err
				}
			}
		}

		order.Status = req.To
		order.UpdatedAt = now
		if req.Reason != "" {
			order.CancelReason = req.Reason
		}
		if req.PaidAt != nil {
			paidAt := req.PaidAt.UTC()
			order.PaidAt = &paidAt
		}
		if err := tx.Set(orderRef, order); err != nil {
			return err
		}
		result = repositories.OrderTransitionResult{Order: order, Applied: true}
		return nil
	})
	if err != nil {
		return repositories.OrderTransitionResult{}, wrapOrderError("orders.transition", err)
	}
	return result, nil
}

// AttachPaymentSession records the payment session handle and its expiry on a
// freshly created order.
func (r *OrderRepository) AttachPaymentSession(ctx context.Context, orderID string, sessionID string, expiresAt *time.Time) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	session := strings.TrimSpace(sessionID)
	if id == "" || session == "" {
		return domain.Order{}, errors.New("order repository: order id and session id are required")
	}

	updates := []firestore.Update{
		{Path: "paymentSessionId", Value: session},
		{Path: "updatedAt", Value: time.Now().UTC()},
	}
	if expiresAt != nil {
		updates = append(updates, firestore.Update{Path: "sessionExpiresAt", Value: expiresAt.UTC()})
	}
	if _, err := r.orders.Update(ctx, id, updates); err != nil {
		return domain.Order{}, err
	}
	return r.FindByID(ctx, id)
}

// ListExpiredPending returns pending orders whose payment session expired
// before the cutoff, oldest first, for the expiry sweep.
func (r *OrderRepository) ListExpiredPending(ctx context.Context, before time.Time, limit int) ([]domain.Order, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("order repository not initialised")
	}
	if limit <= 0 {
		limit = 50
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	iter := client.Collection(orderCollection).
		Where("status", "==", string(domain.OrderStatusPending)).
		Where("sessionExpiresAt", "<=", before.UTC()).
		OrderBy("sessionExpiresAt", firestore.Asc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("orders.listExpired", err)
		}
		var order domain.Order
		if err := snap.DataTo(&order); err != nil {
			return nil, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		order.ID = snap.Ref.ID
		orders = append(orders, order)
	}
	return orders, nil
}

func wrapOrderError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	var discountErr *repositories.DiscountError
	if errors.As(err, &discountErr) {
		if discountErr.Op == "" {
			discountErr.Op = op
		}
		return discountErr
	}
	return pfirestore.WrapError(op, err)
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

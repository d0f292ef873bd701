package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/northwear/api/internal/domain"
	pfirestore "github.com/northwear/api/internal/platform/firestore"
	"github.com/northwear/api/internal/repositories"
)

const cartCollection = "carts"

// CartRepository stores one cart document per user with the item lines
// embedded. Carts are working state, not history, so there is no soft delete.
type CartRepository struct {
	provider *pfirestore.Provider
	carts    *pfirestore.Collection[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewCollection[cartDocument](provider, cartCollection)
	return &CartRepository{provider: provider, carts: base}, nil
}

// UpsertCart writes the full cart document keyed by the owning user.
func (r *CartRepository) UpsertCart(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.carts == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	userID := strings.TrimSpace(cart.UserID)
	if userID == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}
	doc := newCartDocument(cart)
	if _, err := r.carts.Set(ctx, userID, doc); err != nil {
		return domain.Cart{}, err
	}
	return doc.toDomain(userID), nil
}

// GetCart loads the cart for a user.
func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.carts == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	id := strings.TrimSpace(userID)
	if id == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}
	doc, err := r.carts.Get(ctx, id)
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ReplaceItems swaps the item lines in a transaction so concurrent updates to
// the same cart cannot interleave.
func (r *CartRepository) ReplaceItems(ctx context.Context, userID string, items []domain.CartItem) (domain.Cart, error) {
	if r == nil || r.provider == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	id := strings.TrimSpace(userID)
	if id == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	now := time.Now().UTC()
	var updated cartDocument
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.carts.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc cartDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode cart %s: %w", id, err)
		}
		doc.Items = newCartItemDocuments(items)
		doc.UpdatedAt = now
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc
		return nil
	})
	if err != nil {
		return domain.Cart{}, pfirestore.WrapError("carts.replaceItems", err)
	}
	return updated.toDomain(id), nil
}

// Delete removes the cart document, typically after an order is placed.
func (r *CartRepository) Delete(ctx context.Context, userID string) error {
	if r == nil || r.provider == nil {
		return errors.New("cart repository not initialised")
	}
	id := strings.TrimSpace(userID)
	if id == "" {
		return errors.New("cart repository: user id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	if _, err := client.Collection(cartCollection).Doc(id).Delete(ctx); err != nil {
		return pfirestore.WrapError("carts.delete", err)
	}
	return nil
}

type cartItemDocument struct {
	ID        string `firestore:"id"`
	ProductID string `firestore:"productId"`
	Size      string `firestore:"size"`
	Quantity  int    `firestore:"quantity"`
}

type cartDocument struct {
	Items        []cartItemDocument `firestore:"items"`
	DiscountCode *string            `firestore:"discountCode,omitempty"`
	CreatedAt    time.Time          `firestore:"createdAt"`
	UpdatedAt    time.Time          `firestore:"updatedAt"`
}

func (d cartDocument) toDomain(userID string) domain.Cart {
	items := make([]domain.CartItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.CartItem{
			ID:        item.ID,
			ProductID: item.ProductID,
			Size:      item.Size,
			Quantity:  item.Quantity,
		}
	}
	return domain.Cart{
		ID:           userID,
		UserID:       userID,
		Items:        items,
		DiscountCode: d.DiscountCode,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func newCartItemDocuments(items []domain.CartItem) []cartItemDocument {
	docs := make([]cartItemDocument, len(items))
	for i, item := range items {
		docs[i] = cartItemDocument{
			ID:        strings.TrimSpace(item.ID),
			ProductID: strings.TrimSpace(item.ProductID),
			Size:      strings.TrimSpace(item.Size),
			Quantity:  item.Quantity,
		}
	}
	return docs
}

func newCartDocument(cart domain.Cart) cartDocument {
	return cartDocument{
		Items:        newCartItemDocuments(cart.Items),
		DiscountCode: cart.DiscountCode,
		CreatedAt:    cart.CreatedAt.UTC(),
		UpdatedAt:    cart.UpdatedAt.UTC(),
	}
}

var _ repositories.CartRepository = (*CartRepository)(nil)

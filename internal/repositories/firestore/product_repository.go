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
	"github.com/northwear/api/internal/platform/pagination"
	"github.com/northwear/api/internal/repositories"
)

const productCollection = "products"

// ProductRepository persists products with their embedded per-size stock list.
// Soft-deleted products are filtered out of every read unless the caller
// explicitly opts in via the list filter.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.Collection[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewCollection[productDocument](provider, productCollection)
	return &ProductRepository{provider: provider, products: base}, nil
}

// Insert creates a new product document, failing when the ID already exists.
func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(product.ID)
	if id == "" {
		return errors.New("product repository: product id is required")
	}

	doc := newProductDocument(product)
	ref, err := r.products.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("products.insert", err)
	}
	return nil
}

// Update overwrites the product document.
func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	if r == nil || r.products == nil {
		return errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(product.ID)
	if id == "" {
		return errors.New("product repository: product id is required")
	}
	_, err := r.products.Set(ctx, id, newProductDocument(product))
	return err
}

// FindByID loads a product, treating soft-deleted documents as missing.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	product, err := r.findAny(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	if product.Deleted() {
		return domain.Product{}, repositories.NewStockError(repositories.StockErrorProductNotFound, fmt.Sprintf("product %s not found", productID), nil)
	}
	return product, nil
}

func (r *ProductRepository) findAny(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}
	doc, err := r.products.Get(ctx, id)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Product{}, repositories.NewStockError(repositories.StockErrorProductNotFound, fmt.Sprintf("product %s not found", id), err)
		}
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindBySlug resolves a non-deleted product by its slug.
func (r *ProductRepository) FindBySlug(ctx context.Context, slug string) (domain.Product, error) {
	if r == nil || r.provider == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	trimmed := strings.TrimSpace(slug)
	if trimmed == "" {
		return domain.Product{}, errors.New("product repository: slug is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Product{}, err
	}

	iter := client.Collection(productCollection).
		Where("slug", "==", trimmed).
		Where("deletedAt", "==", nil).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.Product{}, repositories.NewStockError(repositories.StockErrorProductNotFound, fmt.Sprintf("product slug %s not found", trimmed), nil)
	}
	if err != nil {
		return domain.Product{}, pfirestore.WrapError("products.findBySlug", err)
	}

	var doc productDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Product{}, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

// FindByIDs loads several non-deleted products keyed by ID. Missing or deleted
// products are simply absent from the result so the caller can produce
// per-line verdicts.
func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if r == nil || r.products == nil {
		return nil, errors.New("product repository not initialised")
	}

	out := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := out[id]; ok {
			continue
		}
		product, err := r.findAny(ctx, id)
		if err != nil {
			var stockErr *repositories.StockError
			if errors.As(err, &stockErr) && stockErr.Code == repositories.StockErrorProductNotFound {
				continue
			}
			return nil, err
		}
		if product.Deleted() {
			continue
		}
		out[id] = product
	}
	return out, nil
}

// List returns a page of products ordered by creation time descending.
func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
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
		return domain.CursorPage[domain.Product]{}, err
	}

	query := client.Collection(productCollection).Query
	if !filter.IncludeDeleted {
		query = query.Where("deletedAt", "==", nil)
	}
	if len(filter.CategoryIDs) == 1 {
		query = query.Where("categoryId", "==", strings.TrimSpace(filter.CategoryIDs[0]))
	} else if len(filter.CategoryIDs) > 1 {
		query = query.Where("categoryId", "in", filter.CategoryIDs)
	}
	query = query.OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeCatalogPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var products []domain.Product
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Product]{}, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		product := doc.toDomain(snap.Ref.ID)
		if search := strings.TrimSpace(filter.Search); search != "" {
			if !strings.Contains(strings.ToLower(product.Name), strings.ToLower(search)) {
				continue
			}
		}
		products = append(products, product)
	}

	hasMore := len(products) > pageSize
	if hasMore {
		products = products[:pageSize]
	}
	var nextToken string
	if hasMore && len(products) > 0 {
		last := products[len(products)-1]
		encoded, err := encodeCatalogPageToken(catalogPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Product]{Items: products, NextPageToken: nextToken}, nil
}

// SoftDelete marks the product deleted without removing the document, so past
// orders keep a resolvable reference.
func (r *ProductRepository) SoftDelete(ctx context.Context, productID string, deletedAt time.Time) error {
	if r == nil || r.products == nil {
		return errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return errors.New("product repository: product id is required")
	}
	stamp := deletedAt.UTC()
	_, err := r.products.Update(ctx, id, []firestore.Update{
		{Path: "deletedAt", Value: stamp},
		{Path: "updatedAt", Value: stamp},
	})
	return err
}

// Restore clears the soft-delete marker.
func (r *ProductRepository) Restore(ctx context.Context, productID string) error {
	if r == nil || r.products == nil {
		return errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return errors.New("product repository: product id is required")
	}
	_, err := r.products.Update(ctx, id, []firestore.Update{
		{Path: "deletedAt", Value: nil},
		{Path: "updatedAt", Value: time.Now().UTC()},
	})
	return err
}

// CountActiveByCategory counts non-deleted products referencing any of the
// given categories. Used to block category deletion.
func (r *ProductRepository) CountActiveByCategory(ctx context.Context, categoryIDs []string) (int, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("product repository not initialised")
	}
	ids := make([]string, 0, len(categoryIDs))
	for _, id := range categoryIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	// Firestore "in" filters cap at 30 values; two category levels stay far below that.
	iter := client.Collection(productCollection).
		Where("deletedAt", "==", nil).
		Where("categoryId", "in", ids).
		Documents(ctx)
	defer iter.Stop()
	for {
		_, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return 0, pfirestore.WrapError("products.countByCategory", err)
		}
		count++
	}
	return count, nil
}

// AdjustStock applies a manual delta to one size entry inside a transaction.
// Negative deltas never drive the count below zero; a positive delta for an
// unknown size creates the entry.
func (r *ProductRepository) AdjustStock(ctx context.Context, req repositories.StockAdjustRequest) (domain.Product, error) {
	if r == nil || r.provider == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(req.ProductID)
	size := strings.TrimSpace(req.Size)
	if id == "" || size == "" {
		return domain.Product{}, errors.New("product repository: product id and size are required")
	}

	now := req.Now.UTC()
	var updated domain.Product
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
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

		found := false
		for i := range doc.Sizes {
			if doc.Sizes[i].Label != size {
				continue
			}
			found = true
			next := doc.Sizes[i].Stock + req.Delta
			if next < 0 {
				return &repositories.StockError{
					Code:      repositories.StockErrorInsufficientStock,
					ProductID: id,
					Size:      size,
					Available: doc.Sizes[i].Stock,
					Message:   fmt.Sprintf("stock for size %s cannot drop below zero", size),
				}
			}
			doc.Sizes[i].Stock = next
			break
		}
		if !found {
			if req.Delta <= 0 {
				return &repositories.StockError{
					Code:      repositories.StockErrorSizeNotFound,
					ProductID: id,
					Size:      size,
					Message:   fmt.Sprintf("size %s not found for product %s", size, id),
				}
			}
			doc.Sizes = append(doc.Sizes, sizeStockDocument{Label: size, Stock: req.Delta})
		}

		doc.UpdatedAt = now
		doc.recalculate()
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc.toDomain(id)
		return nil
	})
	if err != nil {
		return domain.Product{}, wrapStockError("products.adjustStock", err)
	}
	return updated, nil
}

// ListLowStock pages through products whose smallest size count is at or below
// the threshold, ordered most-depleted first.
func (r *ProductRepository) ListLowStock(ctx context.Context, query repositories.LowStockQuery) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
	}

	pageSize := query.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}
	threshold := query.Threshold
	if threshold < 0 {
		threshold = 0
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}

	firestoreQuery := client.Collection(productCollection).
		Where("deletedAt", "==", nil).
		Where("minStock", "<=", threshold).
		OrderBy("minStock", firestore.Asc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(query.PageToken); token != "" {
		decoded, err := decodeLowStockPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.lowStock", err)
		}
		firestoreQuery = firestoreQuery.StartAfter(decoded.MinStock, decoded.ID)
	}

	iter := firestoreQuery.Documents(ctx)
	defer iter.Stop()

	var products []domain.Product
	minByID := make(map[string]int)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.lowStock", err)
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Product]{}, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		products = append(products, doc.toDomain(snap.Ref.ID))
		minByID[snap.Ref.ID] = doc.MinStock
	}

	hasMore := len(products) > pageSize
	if hasMore {
		products = products[:pageSize]
	}
	var nextToken string
	if hasMore && len(products) > 0 {
		last := products[len(products)-1]
		encoded, err := encodeLowStockPageToken(lowStockPageToken{ID: last.ID, MinStock: minByID[last.ID]})
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.lowStock", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Product]{Items: products, NextPageToken: nextToken}, nil
}

// SetLowestPrice records the derived lowest-price-in-30-days value computed by
// the batch sweep. A nil price clears the field.
func (r *ProductRepository) SetLowestPrice(ctx context.Context, productID string, price *int64, computedAt time.Time) error {
	if r == nil || r.products == nil {
		return errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return errors.New("product repository: product id is required")
	}
	var value any = firestore.Delete
	if price != nil {
		value = *price
	}
	_, err := r.products.Update(ctx, id, []firestore.Update{
		{Path: "lowestPrice30d", Value: value},
		{Path: "lowestPriceAt", Value: computedAt.UTC()},
	})
	return err
}

// Document structures --------------------------------------------------------

type sizeStockDocument struct {
	Label string `firestore:"label"`
	Stock int    `firestore:"stock"`
}

type productDocument struct {
	Name           string              `firestore:"name"`
	Slug           string              `firestore:"slug"`
	Description    string              `firestore:"description,omitempty"`
	CategoryID     string              `firestore:"categoryId"`
	Currency       string              `firestore:"currency"`
	BasePrice      int64               `firestore:"basePrice"`
	PromoPrice     *int64              `firestore:"promoPrice,omitempty"`
	PromoStartsAt  *time.Time          `firestore:"promoStartsAt,omitempty"`
	PromoEndsAt    *time.Time          `firestore:"promoEndsAt,omitempty"`
	LowestPrice30d *int64              `firestore:"lowestPrice30d,omitempty"`
	LowestPriceAt  *time.Time          `firestore:"lowestPriceAt,omitempty"`
	Sizes          []sizeStockDocument `firestore:"sizes"`
	// MinStock denormalizes the smallest size count so low-stock listings can
	// be served by a range query instead of scanning every document.
	MinStock  int        `firestore:"minStock"`
	ImageURL  string     `firestore:"imageUrl,omitempty"`
	CreatedAt time.Time  `firestore:"createdAt"`
	UpdatedAt time.Time  `firestore:"updatedAt"`
	DeletedAt *time.Time `firestore:"deletedAt"`
}

func (d *productDocument) recalculate() {
	min := 0
	for i, entry := range d.Sizes {
		if i == 0 || entry.Stock < min {
			min = entry.Stock
		}
	}
	d.MinStock = min
}

func (d productDocument) deleted() bool {
	return d.DeletedAt != nil && !d.DeletedAt.IsZero()
}

func (d productDocument) toDomain(id string) domain.Product {
	sizes := make([]domain.SizeStock, len(d.Sizes))
	for i, entry := range d.Sizes {
		sizes[i] = domain.SizeStock{Label: entry.Label, Stock: entry.Stock}
	}
	return domain.Product{
		ID:             id,
		Name:           d.Name,
		Slug:           d.Slug,
		Description:    d.Description,
		CategoryID:     d.CategoryID,
		Currency:       d.Currency,
		BasePrice:      d.BasePrice,
		PromoPrice:     d.PromoPrice,
		PromoStartsAt:  d.PromoStartsAt,
		PromoEndsAt:    d.PromoEndsAt,
		LowestPrice30d: d.LowestPrice30d,
		LowestPriceAt:  d.LowestPriceAt,
		Sizes:          sizes,
		ImageURL:       d.ImageURL,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
		DeletedAt:      d.DeletedAt,
	}
}

func newProductDocument(product domain.Product) productDocument {
	sizes := make([]sizeStockDocument, len(product.Sizes))
	for i, entry := range product.Sizes {
		sizes[i] = sizeStockDocument{Label: strings.TrimSpace(entry.Label), Stock: entry.Stock}
	}
	doc := productDocument{
		Name:           strings.TrimSpace(product.Name),
		Slug:           strings.TrimSpace(product.Slug),
		Description:    product.Description,
		CategoryID:     strings.TrimSpace(product.CategoryID),
		Currency:       strings.ToUpper(strings.TrimSpace(product.Currency)),
		BasePrice:      product.BasePrice,
		PromoPrice:     product.PromoPrice,
		PromoStartsAt:  product.PromoStartsAt,
		PromoEndsAt:    product.PromoEndsAt,
		LowestPrice30d: product.LowestPrice30d,
		LowestPriceAt:  product.LowestPriceAt,
		Sizes:          sizes,
		ImageURL:       strings.TrimSpace(product.ImageURL),
		CreatedAt:      product.CreatedAt.UTC(),
		UpdatedAt:      product.UpdatedAt.UTC(),
		DeletedAt:      product.DeletedAt,
	}
	doc.recalculate()
	return doc
}

func getProductDoc(tx *firestore.Transaction, ref *firestore.DocumentRef, id string) (productDocument, error) {
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return productDocument{}, repositories.NewStockError(repositories.StockErrorProductNotFound, fmt.Sprintf("product %s not found", id), err)
		}
		return productDocument{}, err
	}
	var doc productDocument
	if err := snap.DataTo(&doc); err != nil {
		return productDocument{}, fmt.Errorf("decode product %s: %w", id, err)
	}
	return doc, nil
}

// Page tokens ----------------------------------------------------------------

type catalogPageToken struct {
	ID        string
	CreatedAt time.Time
}

type lowStockPageToken struct {
	ID       string
	MinStock int
}

func encodeCatalogPageToken(token catalogPageToken) (string, error) {
	return pagination.EncodeToken(token)
}

func decodeCatalogPageToken(encoded string) (*catalogPageToken, error) {
	var token catalogPageToken
	if err := pagination.DecodeToken(encoded, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

func encodeLowStockPageToken(token lowStockPageToken) (string, error) {
	return pagination.EncodeToken(token)
}

func decodeLowStockPageToken(encoded string) (*lowStockPageToken, error) {
	var token lowStockPageToken
	if err := pagination.DecodeToken(encoded, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

func wrapStockError(op string, err error) error {
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
	return pfirestore.WrapError(op, err)
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	domain "github.com/northwear/api/internal/domain"
	"github.com/northwear/api/internal/repositories"
)

var (
	// ErrCatalogRepositoryMissing indicates a repository dependency is absent.
	ErrCatalogRepositoryMissing = errors.New("catalog service: repository is not configured")
	// ErrCatalogInvalidInput indicates the caller supplied invalid data to a catalog mutation.
	ErrCatalogInvalidInput = errors.New("catalog service: invalid input")
	// ErrCatalogNotFound indicates the product or category does not exist.
	ErrCatalogNotFound = errors.New("catalog service: not found")
	// ErrCatalogSlugConflict indicates another live record already owns the slug.
	ErrCatalogSlugConflict = errors.New("catalog service: slug conflict")
	// ErrCatalogCategoryDepth indicates a category would nest deeper than two levels.
	ErrCatalogCategoryDepth = errors.New("catalog service: category tree is limited to two levels")
	// ErrCatalogCategoryInUse indicates the category still has active products underneath it.
	ErrCatalogCategoryInUse = errors.New("catalog service: category has active products")
)

var slugSanitizer = regexp.MustCompile(`[^a-z0-9]+`)

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Products   repositories.ProductRepository
	Categories repositories.CategoryRepository
	Pricing    PricingService
	Audit      AuditLogService
	Clock      func() time.Time
}

type catalogService struct {
	products   repositories.ProductRepository
	categories repositories.CategoryRepository
	pricing    PricingService
	audit      AuditLogService
	clock      func() time.Time
	newID      func() string
	sanitizer  *bluemonday.Policy
}

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, fmt.Errorf("catalog service: product repository is required")
	}
	if deps.Categories == nil {
		return nil, fmt.Errorf("catalog service: category repository is required")
	}
	if deps.Pricing == nil {
		return nil, fmt.Errorf("catalog service: pricing service is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &catalogService{
		products:   deps.Products,
		categories: deps.Categories,
		pricing:    deps.Pricing,
		audit:      deps.Audit,
		clock:      func() time.Time { return clock().UTC() },
		newID:      func() string { return ulid.Make().String() },
		sanitizer:  bluemonday.StrictPolicy(),
	}, nil
}

// ListProducts returns priced product summaries. Filtering by a root category
// slug includes products filed under its subcategories.
func (s *catalogService) ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[ProductView], error) {
	if s.products == nil {
		return domain.CursorPage[ProductView]{}, ErrCatalogRepositoryMissing
	}

	repoFilter := repositories.ProductListFilter{
		Search:         strings.TrimSpace(filter.Search),
		IncludeDeleted: filter.IncludeDeleted,
		Pagination: domain.Pagination{
			PageSize:  filter.Pagination.PageSize,
			PageToken: strings.TrimSpace(filter.Pagination.PageToken),
		},
	}
	if slug := strings.TrimSpace(filter.CategorySlug); slug != "" {
		ids, err := s.categoryScope(ctx, slug)
		if err != nil {
			return domain.CursorPage[ProductView]{}, err
		}
		repoFilter.CategoryIDs = ids
	}

	page, err := s.products.List(ctx, repoFilter)
	if err != nil {
		return domain.CursorPage[ProductView]{}, err
	}

	views := make([]ProductView, len(page.Items))
	for i, product := range page.Items {
		views[i] = ProductView{Product: product, Price: s.pricing.Quote(product)}
	}
	return domain.CursorPage[ProductView]{Items: views, NextPageToken: page.NextPageToken}, nil
}

// GetProduct loads one live product with its resolved price.
func (s *catalogService) GetProduct(ctx context.Context, productID string) (ProductView, error) {
	if s.products == nil {
		return ProductView{}, ErrCatalogRepositoryMissing
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return ProductView{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	product, err := s.products.FindByID(ctx, id)
	if err != nil {
		if isProductMissing(err) {
			return ProductView{}, fmt.Errorf("%w: product %s", ErrCatalogNotFound, id)
		}
		return ProductView{}, err
	}
	return ProductView{Product: product, Price: s.pricing.Quote(product)}, nil
}

// GetProductBySlug loads one live product by its URL slug.
func (s *catalogService) GetProductBySlug(ctx context.Context, slug string) (ProductView, error) {
	if s.products == nil {
		return ProductView{}, ErrCatalogRepositoryMissing
	}
	normalized := strings.ToLower(strings.TrimSpace(slug))
	if normalized == "" {
		return ProductView{}, fmt.Errorf("%w: slug is required", ErrCatalogInvalidInput)
	}
	product, err := s.products.FindBySlug(ctx, normalized)
	if err != nil {
		if isProductMissing(err) {
			return ProductView{}, fmt.Errorf("%w: product %s", ErrCatalogNotFound, normalized)
		}
		return ProductView{}, err
	}
	return ProductView{Product: product, Price: s.pricing.Quote(product)}, nil
}

// CreateProduct validates and stores a new product.
func (s *catalogService) CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	if s.products == nil || s.categories == nil {
		return Product{}, ErrCatalogRepositoryMissing
	}
	product, err := s.normalizeProduct(ctx, cmd.Product, "")
	if err != nil {
		return Product{}, err
	}

	now := s.clock()
	product.ID = s.newID()
	product.CreatedAt = now
	product.UpdatedAt = now
	product.DeletedAt = nil

	if err := s.products.Insert(ctx, product); err != nil {
		return Product{}, err
	}
	s.recordAudit(ctx, cmd.ActorID, "product.create", "/products/"+product.ID, map[string]any{"slug": product.Slug})
	return product, nil
}

// UpdateProduct validates and overwrites an existing product.
func (s *catalogService) UpdateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	if s.products == nil || s.categories == nil {
		return Product{}, ErrCatalogRepositoryMissing
	}
	id := strings.TrimSpace(cmd.Product.ID)
	if id == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	existing, err := s.products.FindByID(ctx, id)
	if err != nil {
		if isProductMissing(err) {
			return Product{}, fmt.Errorf("%w: product %s", ErrCatalogNotFound, id)
		}
		return Product{}, err
	}

	product, err := s.normalizeProduct(ctx, cmd.Product, id)
	if err != nil {
		return Product{}, err
	}
	product.ID = id
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = s.clock()
	product.DeletedAt = existing.DeletedAt
	product.LowestPrice30d = existing.LowestPrice30d

	if err := s.products.Update(ctx, product); err != nil {
		return Product{}, err
	}
	s.recordAudit(ctx, cmd.ActorID, "product.update", "/products/"+product.ID, map[string]any{"slug": product.Slug})
	return product, nil
}

// DeleteProduct soft-deletes a product. Orders keep their snapshots; the
// product merely stops appearing in storefront reads.
func (s *catalogService) DeleteProduct(ctx context.Context, cmd DeleteProductCommand) error {
	if s.products == nil {
		return ErrCatalogRepositoryMissing
	}
	id := strings.TrimSpace(cmd.ProductID)
	if id == "" {
		return fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	if err := s.products.SoftDelete(ctx, id, s.clock()); err != nil {
		if isProductMissing(err) {
			return fmt.Errorf("%w: product %s", ErrCatalogNotFound, id)
		}
		return err
	}
	s.recordAudit(ctx, cmd.ActorID, "product.delete", "/products/"+id, nil)
	return nil
}

// RestoreProduct brings a soft-deleted product back into the storefront.
func (s *catalogService) RestoreProduct(ctx context.Context, productID string) (Product, error) {
	if s.products == nil {
		return Product{}, ErrCatalogRepositoryMissing
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	if err := s.products.Restore(ctx, id); err != nil {
		if isRepoNotFound(err) {
			return Product{}, fmt.Errorf("%w: product %s", ErrCatalogNotFound, id)
		}
		return Product{}, err
	}
	return s.products.FindByID(ctx, id)
}

// CategoryTree returns the live two-level tree, roots first, children nested.
func (s *catalogService) CategoryTree(ctx context.Context) ([]CategoryNode, error) {
	if s.categories == nil {
		return nil, ErrCatalogRepositoryMissing
	}
	categories, err := s.categories.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	return buildCategoryTree(categories), nil
}

// GetCategoryBySlug loads one live category.
func (s *catalogService) GetCategoryBySlug(ctx context.Context, slug string) (Category, error) {
	if s.categories == nil {
		return Category{}, ErrCatalogRepositoryMissing
	}
	normalized := strings.ToLower(strings.TrimSpace(slug))
	if normalized == "" {
		return Category{}, fmt.Errorf("%w: slug is required", ErrCatalogInvalidInput)
	}
	category, err := s.categories.FindBySlug(ctx, normalized)
	if err != nil {
		if isRepoNotFound(err) {
			return Category{}, fmt.Errorf("%w: category %s", ErrCatalogNotFound, normalized)
		}
		return Category{}, err
	}
	return category, nil
}

// CreateCategory validates and stores a new category.
func (s *catalogService) CreateCategory(ctx context.Context, cmd UpsertCategoryCommand) (Category, error) {
	if s.categories == nil {
		return Category{}, ErrCatalogRepositoryMissing
	}
	category, err := s.normalizeCategory(ctx, cmd.Category, "")
	if err != nil {
		return Category{}, err
	}

	now := s.clock()
	category.ID = s.newID()
	category.CreatedAt = now
	category.UpdatedAt = now
	category.DeletedAt = nil

	if err := s.categories.Insert(ctx, category); err != nil {
		return Category{}, err
	}
	s.recordAudit(ctx, cmd.ActorID, "category.create", "/categories/"+category.ID, map[string]any{"slug": category.Slug})
	return category, nil
}

// UpdateCategory validates and overwrites an existing category.
func (s *catalogService) UpdateCategory(ctx context.Context, cmd UpsertCategoryCommand) (Category, error) {
	if s.categories == nil {
		return Category{}, ErrCatalogRepositoryMissing
	}
	id := strings.TrimSpace(cmd.Category.ID)
	if id == "" {
		return Category{}, fmt.Errorf("%w: category id is required", ErrCatalogInvalidInput)
	}

	existing, err := s.categories.FindByID(ctx, id)
	if err != nil {
		if isRepoNotFound(err) {
			return Category{}, fmt.Errorf("%w: category %s", ErrCatalogNotFound, id)
		}
		return Category{}, err
	}

	category, err := s.normalizeCategory(ctx, cmd.Category, id)
	if err != nil {
		return Category{}, err
	}

	// A root category with children cannot be demoted to a subcategory
	// without orphaning the third level.
	if existing.IsRoot() && !category.IsRoot() {
		children, err := s.categories.ListChildren(ctx, id)
		if err != nil {
			return Category{}, err
		}
		if len(children) > 0 {
			return Category{}, fmt.Errorf("%w: category %s still has subcategories", ErrCatalogCategoryDepth, id)
		}
	}

	category.ID = id
	category.CreatedAt = existing.CreatedAt
	category.UpdatedAt = s.clock()
	category.DeletedAt = existing.DeletedAt

	if err := s.categories.Update(ctx, category); err != nil {
		return Category{}, err
	}
	s.recordAudit(ctx, cmd.ActorID, "category.update", "/categories/"+category.ID, map[string]any{"slug": category.Slug})
	return category, nil
}

// DeleteCategory soft-deletes a category and its subcategories. The delete is
// refused while any active product is filed under the category or a child.
func (s *catalogService) DeleteCategory(ctx context.Context, cmd DeleteCategoryCommand) error {
	if s.categories == nil || s.products == nil {
		return ErrCatalogRepositoryMissing
	}
	id := strings.TrimSpace(cmd.CategoryID)
	if id == "" {
		return fmt.Errorf("%w: category id is required", ErrCatalogInvalidInput)
	}

	category, err := s.categories.FindByID(ctx, id)
	if err != nil {
		if isRepoNotFound(err) {
			return fmt.Errorf("%w: category %s", ErrCatalogNotFound, id)
		}
		return err
	}

	ids := []string{category.ID}
	if category.IsRoot() {
		children, err := s.categories.ListChildren(ctx, category.ID)
		if err != nil {
			return err
		}
		for _, child := range children {
			ids = append(ids, child.ID)
		}
	}

	count, err := s.products.CountActiveByCategory(ctx, ids)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %d active products under category %s", ErrCatalogCategoryInUse, count, id)
	}

	if err := s.categories.SoftDelete(ctx, ids, s.clock()); err != nil {
		return err
	}
	s.recordAudit(ctx, cmd.ActorID, "category.delete", "/categories/"+id, map[string]any{"cascade": len(ids) - 1})
	return nil
}

func (s *catalogService) normalizeProduct(ctx context.Context, product Product, currentID string) (Product, error) {
	product.Name = s.sanitizer.Sanitize(strings.TrimSpace(product.Name))
	product.Description = s.sanitizer.Sanitize(strings.TrimSpace(product.Description))
	product.CategoryID = strings.TrimSpace(product.CategoryID)
	product.Currency = strings.ToUpper(strings.TrimSpace(product.Currency))
	product.ImageURL = strings.TrimSpace(product.ImageURL)

	if product.Name == "" {
		return Product{}, fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	}
	if product.CategoryID == "" {
		return Product{}, fmt.Errorf("%w: category id is required", ErrCatalogInvalidInput)
	}
	if product.Currency == "" {
		product.Currency = "PLN"
	}

	if err := s.pricing.ValidatePromoPricing(PromoPricingCommand{
		BasePrice:     product.BasePrice,
		PromoPrice:    product.PromoPrice,
		PromoStartsAt: product.PromoStartsAt,
		PromoEndsAt:   product.PromoEndsAt,
	}); err != nil {
		return Product{}, fmt.Errorf("%w: %v", ErrCatalogInvalidInput, err)
	}

	sizes, err := normalizeSizes(product.Sizes)
	if err != nil {
		return Product{}, err
	}
	product.Sizes = sizes

	if product.Slug == "" {
		product.Slug = Slugify(product.Name)
	} else {
		product.Slug = Slugify(product.Slug)
	}
	if product.Slug == "" {
		return Product{}, fmt.Errorf("%w: name does not produce a usable slug", ErrCatalogInvalidInput)
	}

	category, err := s.categories.FindByID(ctx, product.CategoryID)
	if err != nil {
		if isRepoNotFound(err) {
			return Product{}, fmt.Errorf("%w: category %s does not exist", ErrCatalogInvalidInput, product.CategoryID)
		}
		return Product{}, err
	}
	if category.Deleted() {
		return Product{}, fmt.Errorf("%w: category %s is deleted", ErrCatalogInvalidInput, product.CategoryID)
	}

	if err := s.checkProductSlug(ctx, product.Slug, currentID); err != nil {
		return Product{}, err
	}
	return product, nil
}

func (s *catalogService) normalizeCategory(ctx context.Context, category Category, currentID string) (Category, error) {
	category.Name = s.sanitizer.Sanitize(strings.TrimSpace(category.Name))
	category.ImageURL = strings.TrimSpace(category.ImageURL)
	if category.Name == "" {
		return Category{}, fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	}

	if category.Slug == "" {
		category.Slug = Slugify(category.Name)
	} else {
		category.Slug = Slugify(category.Slug)
	}
	if category.Slug == "" {
		return Category{}, fmt.Errorf("%w: name does not produce a usable slug", ErrCatalogInvalidInput)
	}

	if category.ParentID != nil {
		parentID := strings.TrimSpace(*category.ParentID)
		if parentID == "" {
			category.ParentID = nil
		} else {
			if parentID == currentID {
				return Category{}, fmt.Errorf("%w: category cannot be its own parent", ErrCatalogInvalidInput)
			}
			parent, err := s.categories.FindByID(ctx, parentID)
			if err != nil {
				if isRepoNotFound(err) {
					return Category{}, fmt.Errorf("%w: parent category %s does not exist", ErrCatalogInvalidInput, parentID)
				}
				return Category{}, err
			}
			if parent.Deleted() {
				return Category{}, fmt.Errorf("%w: parent category %s is deleted", ErrCatalogInvalidInput, parentID)
			}
			if !parent.IsRoot() {
				return Category{}, fmt.Errorf("%w: parent %s is itself a subcategory", ErrCatalogCategoryDepth, parentID)
			}
			category.ParentID = &parentID
		}
	}

	existing, err := s.categories.FindBySlug(ctx, category.Slug)
	if err != nil {
		if !isRepoNotFound(err) {
			return Category{}, err
		}
	} else if existing.ID != currentID {
		return Category{}, fmt.Errorf("%w: slug %s is already in use", ErrCatalogSlugConflict, category.Slug)
	}
	return category, nil
}

func (s *catalogService) checkProductSlug(ctx context.Context, slug, currentID string) error {
	existing, err := s.products.FindBySlug(ctx, slug)
	if err != nil {
		if isProductMissing(err) {
			return nil
		}
		return err
	}
	if existing.ID != currentID {
		return fmt.Errorf("%w: slug %s is already in use", ErrCatalogSlugConflict, slug)
	}
	return nil
}

// categoryScope resolves a slug to the category ID plus, for roots, the IDs of
// its subcategories.
func (s *catalogService) categoryScope(ctx context.Context, slug string) ([]string, error) {
	category, err := s.categories.FindBySlug(ctx, strings.ToLower(slug))
	if err != nil {
		if isRepoNotFound(err) {
			return nil, fmt.Errorf("%w: category %s", ErrCatalogNotFound, slug)
		}
		return nil, err
	}
	ids := []string{category.ID}
	if category.IsRoot() {
		children, err := s.categories.ListChildren(ctx, category.ID)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			ids = append(ids, child.ID)
		}
	}
	return ids, nil
}

func (s *catalogService) recordAudit(ctx context.Context, actorID, action, targetRef string, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, AuditLogRecord{
		Actor:     actorID,
		ActorType: "staff",
		Action:    action,
		TargetRef: targetRef,
		Metadata:  metadata,
	})
}

func buildCategoryTree(categories []domain.Category) []CategoryNode {
	childrenByParent := make(map[string][]domain.Category)
	var roots []domain.Category
	for _, category := range categories {
		if category.IsRoot() {
			roots = append(roots, category)
			continue
		}
		parentID := strings.TrimSpace(*category.ParentID)
		childrenByParent[parentID] = append(childrenByParent[parentID], category)
	}

	nodes := make([]CategoryNode, 0, len(roots))
	for _, root := range roots {
		node := CategoryNode{Category: root}
		for _, child := range childrenByParent[root.ID] {
			node.Children = append(node.Children, CategoryNode{Category: child})
		}
		nodes = append(nodes, node)
	}
	return nodes
}

func normalizeSizes(sizes []SizeStock) ([]SizeStock, error) {
	if len(sizes) == 0 {
		return nil, fmt.Errorf("%w: at least one size is required", ErrCatalogInvalidInput)
	}
	seen := make(map[string]struct{}, len(sizes))
	result := make([]SizeStock, 0, len(sizes))
	for _, size := range sizes {
		label := strings.ToUpper(strings.TrimSpace(size.Label))
		if label == "" {
			return nil, fmt.Errorf("%w: size label is required", ErrCatalogInvalidInput)
		}
		if _, ok := seen[label]; ok {
			return nil, fmt.Errorf("%w: duplicate size %s", ErrCatalogInvalidInput, label)
		}
		if size.Stock < 0 {
			return nil, fmt.Errorf("%w: stock for size %s must be >= 0", ErrCatalogInvalidInput, label)
		}
		seen[label] = struct{}{}
		result = append(result, SizeStock{Label: label, Stock: size.Stock})
	}
	return result, nil
}

// Slugify folds a display name into a lowercase URL slug, stripping diacritics
// so "Bluza Miejska" and "Bluza Miejská" land on the same slug.
func Slugify(value string) string {
	stripped, _, err := transform.String(transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	), strings.TrimSpace(value))
	if err != nil {
		stripped = strings.TrimSpace(value)
	}
	slug := slugSanitizer.ReplaceAllString(strings.ToLower(stripped), "-")
	return strings.Trim(slug, "-")
}

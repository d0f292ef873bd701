package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/northwear/api/internal/domain"
	"github.com/northwear/api/internal/repositories"
)

type stubCategoryRepository struct {
	insertFunc       func(ctx context.Context, category domain.Category) error
	updateFunc       func(ctx context.Context, category domain.Category) error
	findByIDFunc     func(ctx context.Context, categoryID string) (domain.Category, error)
	findBySlugFunc   func(ctx context.Context, slug string) (domain.Category, error)
	listActiveFunc   func(ctx context.Context) ([]domain.Category, error)
	listChildrenFunc func(ctx context.Context, parentID string) ([]domain.Category, error)
	softDeleteFunc   func(ctx context.Context, categoryIDs []string, deletedAt time.Time) error
	restoreFunc      func(ctx context.Context, categoryID string) error
}

func (s *stubCategoryRepository) Insert(ctx context.Context, category domain.Category) error {
	if s.insertFunc != nil {
		return s.insertFunc(ctx, category)
	}
	return nil
}

func (s *stubCategoryRepository) Update(ctx context.Context, category domain.Category) error {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, category)
	}
	return nil
}

func (s *stubCategoryRepository) FindByID(ctx context.Context, categoryID string) (domain.Category, error) {
	if s.findByIDFunc != nil {
		return s.findByIDFunc(ctx, categoryID)
	}
	return domain.Category{}, errors.New("not implemented")
}

func (s *stubCategoryRepository) FindBySlug(ctx context.Context, slug string) (domain.Category, error) {
	if s.findBySlugFunc != nil {
		return s.findBySlugFunc(ctx, slug)
	}
	return domain.Category{}, &repositoryErrorStub{notFound: true}
}

func (s *stubCategoryRepository) ListActive(ctx context.Context) ([]domain.Category, error) {
	if s.listActiveFunc != nil {
		return s.listActiveFunc(ctx)
	}
	return nil, nil
}

func (s *stubCategoryRepository) ListChildren(ctx context.Context, parentID string) ([]domain.Category, error) {
	if s.listChildrenFunc != nil {
		return s.listChildrenFunc(ctx, parentID)
	}
	return nil, nil
}

func (s *stubCategoryRepository) SoftDelete(ctx context.Context, categoryIDs []string, deletedAt time.Time) error {
	if s.softDeleteFunc != nil {
		return s.softDeleteFunc(ctx, categoryIDs, deletedAt)
	}
	return nil
}

func (s *stubCategoryRepository) Restore(ctx context.Context, categoryID string) error {
	if s.restoreFunc != nil {
		return s.restoreFunc(ctx, categoryID)
	}
	return nil
}

func newCatalogServiceWith(t *testing.T, products repositories.ProductRepository, categories repositories.CategoryRepository, now time.Time) CatalogService {
	t.Helper()
	svc, err := NewCatalogService(CatalogServiceDeps{
		Products:   products,
		Categories: categories,
		Pricing:    newPricingAt(t, now),
		Clock:      fixedClock(now),
	})
	if err != nil {
		t.Fatalf("unexpected error constructing catalog service: %v", err)
	}
	return svc
}

func liveCategory(id, slug string, parentID *string) domain.Category {
	return domain.Category{ID: id, Name: slug, Slug: slug, ParentID: parentID}
}

func TestSlugify(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Bluza Miejska", "bluza-miejska"},
		{"  Kurtka -- Zimowa!  ", "kurtka-zimowa"},
		{"Brudna Koszulka 3XL", "brudna-koszulka-3xl"},
		{"Çapka Zielona", "capka-zielona"},
	}
	for _, tc := range cases {
		if got := Slugify(tc.in); got != tc.want {
			t.Fatalf("Slugify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCatalogCreateProductValidatesPromoAtWriteTime(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	categories := &stubCategoryRepository{
		findByIDFunc: func(ctx context.Context, categoryID string) (domain.Category, error) {
			return liveCategory(categoryID, "hoodies", nil), nil
		},
	}
	svc := newCatalogServiceWith(t, &stubProductRepository{}, categories, now)

	_, err := svc.CreateProduct(context.Background(), UpsertProductCommand{
		Product: domain.Product{
			Name:       "Bluza Miejska",
			CategoryID: "cat-1",
			BasePrice:  10000,
			PromoPrice: int64Ptr(11000),
			Sizes:      []domain.SizeStock{{Label: "M", Stock: 5}},
		},
	})
	if !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected ErrCatalogInvalidInput for promo above base, got %v", err)
	}
}

func TestCatalogCreateProductGeneratesSlugAndNormalisesSizes(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	var inserted domain.Product
	products := &stubProductRepository{
		insertFunc: func(ctx context.Context, product domain.Product) error {
			inserted = product
			return nil
		},
		findBySlugFunc: func(ctx context.Context, slug string) (domain.Product, error) {
			return domain.Product{}, &repositoryErrorStub{notFound: true}
		},
	}
	categories := &stubCategoryRepository{
		findByIDFunc: func(ctx context.Context, categoryID string) (domain.Category, error) {
			return liveCategory(categoryID, "hoodies", nil), nil
		},
	}
	svc := newCatalogServiceWith(t, products, categories, now)

	created, err := svc.CreateProduct(context.Background(), UpsertProductCommand{
		Product: domain.Product{
			Name:       "Bluza Miejska",
			CategoryID: "cat-1",
			BasePrice:  12000,
			Sizes:      []domain.SizeStock{{Label: " m ", Stock: 5}, {Label: "L", Stock: 0}},
		},
		ActorID: "staff-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inserted.Slug != "bluza-miejska" {
		t.Fatalf("expected generated slug bluza-miejska, got %q", inserted.Slug)
	}
	if inserted.Sizes[0].Label != "M" {
		t.Fatalf("expected size labels uppercased, got %+v", inserted.Sizes)
	}
	if inserted.Currency != "PLN" {
		t.Fatalf("expected default currency PLN, got %q", inserted.Currency)
	}
	if created.ID == "" || !created.CreatedAt.Equal(now) {
		t.Fatalf("unexpected created product %+v", created)
	}
}

func TestCatalogCreateProductSlugConflict(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	products := &stubProductRepository{
		findBySlugFunc: func(ctx context.Context, slug string) (domain.Product, error) {
			return domain.Product{ID: "other", Slug: slug}, nil
		},
	}
	categories := &stubCategoryRepository{
		findByIDFunc: func(ctx context.Context, categoryID string) (domain.Category, error) {
			return liveCategory(categoryID, "hoodies", nil), nil
		},
	}
	svc := newCatalogServiceWith(t, products, categories, now)

	_, err := svc.CreateProduct(context.Background(), UpsertProductCommand{
		Product: domain.Product{
			Name:       "Bluza Miejska",
			CategoryID: "cat-1",
			BasePrice:  12000,
			Sizes:      []domain.SizeStock{{Label: "M", Stock: 5}},
		},
	})
	if !errors.Is(err, ErrCatalogSlugConflict) {
		t.Fatalf("expected ErrCatalogSlugConflict, got %v", err)
	}
}

func TestCatalogCreateCategoryRejectsThirdLevel(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	categories := &stubCategoryRepository{
		findByIDFunc: func(ctx context.Context, categoryID string) (domain.Category, error) {
			// The requested parent is itself a subcategory.
			return liveCategory(categoryID, "sub", strPtr("root-1")), nil
		},
	}
	svc := newCatalogServiceWith(t, &stubProductRepository{}, categories, now)

	_, err := svc.CreateCategory(context.Background(), UpsertCategoryCommand{
		Category: domain.Category{Name: "Deep", ParentID: strPtr("sub-1")},
	})
	if !errors.Is(err, ErrCatalogCategoryDepth) {
		t.Fatalf("expected ErrCatalogCategoryDepth, got %v", err)
	}
}

func TestCatalogCreateCategorySlugUniqueAmongLive(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	categories := &stubCategoryRepository{
		findBySlugFunc: func(ctx context.Context, slug string) (domain.Category, error) {
			return liveCategory("cat-9", slug, nil), nil
		},
	}
	svc := newCatalogServiceWith(t, &stubProductRepository{}, categories, now)

	_, err := svc.CreateCategory(context.Background(), UpsertCategoryCommand{
		Category: domain.Category{Name: "Hoodies"},
	})
	if !errors.Is(err, ErrCatalogSlugConflict) {
		t.Fatalf("expected ErrCatalogSlugConflict, got %v", err)
	}
}

func TestCatalogDeleteCategoryBlockedByActiveProducts(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	categories := &stubCategoryRepository{
		findByIDFunc: func(ctx context.Context, categoryID string) (domain.Category, error) {
			return liveCategory(categoryID, "hoodies", nil), nil
		},
		listChildrenFunc: func(ctx context.Context, parentID string) ([]domain.Category, error) {
			return []domain.Category{liveCategory("cat-child", "zip-hoodies", strPtr(parentID))}, nil
		},
	}
	products := &stubProductRepository{
		countActiveFunc: func(ctx context.Context, categoryIDs []string) (int, error) {
			if len(categoryIDs) != 2 {
				t.Fatalf("expected count across category and child, got %v", categoryIDs)
			}
			return 3, nil
		},
	}
	svc := newCatalogServiceWith(t, products, categories, now)

	err := svc.DeleteCategory(context.Background(), DeleteCategoryCommand{CategoryID: "cat-1"})
	if !errors.Is(err, ErrCatalogCategoryInUse) {
		t.Fatalf("expected ErrCatalogCategoryInUse, got %v", err)
	}
}

func TestCatalogDeleteCategoryCascadesToChildren(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	var deleted []string
	categories := &stubCategoryRepository{
		findByIDFunc: func(ctx context.Context, categoryID string) (domain.Category, error) {
			return liveCategory(categoryID, "hoodies", nil), nil
		},
		listChildrenFunc: func(ctx context.Context, parentID string) ([]domain.Category, error) {
			return []domain.Category{liveCategory("cat-child", "zip-hoodies", strPtr(parentID))}, nil
		},
		softDeleteFunc: func(ctx context.Context, categoryIDs []string, deletedAt time.Time) error {
			deleted = categoryIDs
			return nil
		},
	}
	products := &stubProductRepository{
		countActiveFunc: func(ctx context.Context, categoryIDs []string) (int, error) {
			return 0, nil
		},
	}
	svc := newCatalogServiceWith(t, products, categories, now)

	if err := svc.DeleteCategory(context.Background(), DeleteCategoryCommand{CategoryID: "cat-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deleted) != 2 || deleted[0] != "cat-1" || deleted[1] != "cat-child" {
		t.Fatalf("expected cascade over root and child, got %v", deleted)
	}
}

func TestCatalogCategoryTreeNestsChildren(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	categories := &stubCategoryRepository{
		listActiveFunc: func(ctx context.Context) ([]domain.Category, error) {
			return []domain.Category{
				liveCategory("root-1", "men", nil),
				liveCategory("root-2", "women", nil),
				liveCategory("sub-1", "men-hoodies", strPtr("root-1")),
			}, nil
		},
	}
	svc := newCatalogServiceWith(t, &stubProductRepository{}, categories, now)

	tree, err := svc.CategoryTree(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tree) != 2 {
		t.Fatalf("expected 2 roots, got %d", len(tree))
	}
	if len(tree[0].Children) != 1 || tree[0].Children[0].ID != "sub-1" {
		t.Fatalf("expected sub-1 nested under root-1, got %+v", tree[0].Children)
	}
	if len(tree[1].Children) != 0 {
		t.Fatalf("expected root-2 without children, got %+v", tree[1].Children)
	}
}

func TestCatalogListProductsScopesRootCategoryToChildren(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	categories := &stubCategoryRepository{
		findBySlugFunc: func(ctx context.Context, slug string) (domain.Category, error) {
			return liveCategory("root-1", slug, nil), nil
		},
		listChildrenFunc: func(ctx context.Context, parentID string) ([]domain.Category, error) {
			return []domain.Category{liveCategory("sub-1", "men-hoodies", strPtr(parentID))}, nil
		},
	}
	products := &stubProductRepository{
		listFunc: func(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
			if len(filter.CategoryIDs) != 2 {
				t.Fatalf("expected category scope with child ids, got %v", filter.CategoryIDs)
			}
			return domain.CursorPage[domain.Product]{
				Items: []domain.Product{{ID: "prod-1", BasePrice: 9000, PromoPrice: int64Ptr(7000)}},
			}, nil
		},
	}
	svc := newCatalogServiceWith(t, products, categories, now)

	page, err := svc.ListProducts(context.Background(), ProductListFilter{CategorySlug: "men"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected 1 product, got %d", len(page.Items))
	}
	if page.Items[0].Price.EffectivePrice != 7000 {
		t.Fatalf("expected resolved promo price on view, got %d", page.Items[0].Price.EffectivePrice)
	}
}

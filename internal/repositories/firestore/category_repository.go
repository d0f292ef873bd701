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

const categoryCollection = "categories"

// CategoryRepository persists the two-level category tree. Depth validation is
// a service concern; this layer only stores the parent reference.
type CategoryRepository struct {
	provider   *pfirestore.Provider
	categories *pfirestore.Collection[categoryDocument]
}

// NewCategoryRepository constructs a Firestore-backed category repository.
func NewCategoryRepository(provider *pfirestore.Provider) (*CategoryRepository, error) {
	if provider == nil {
		return nil, errors.New("category repository requires firestore provider")
	}
	base := pfirestore.NewCollection[categoryDocument](provider, categoryCollection)
	return &CategoryRepository{provider: provider, categories: base}, nil
}

// Insert creates a new category document, failing when the ID already exists.
func (r *CategoryRepository) Insert(ctx context.Context, category domain.Category) error {
	if r == nil || r.categories == nil {
		return errors.New("category repository not initialised")
	}
	id := strings.TrimSpace(category.ID)
	if id == "" {
		return errors.New("category repository: category id is required")
	}
	ref, err := r.categories.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newCategoryDocument(category)); err != nil {
		return pfirestore.WrapError("categories.insert", err)
	}
	return nil
}

// Update overwrites the category document.
func (r *CategoryRepository) Update(ctx context.Context, category domain.Category) error {
	if r == nil || r.categories == nil {
		return errors.New("category repository not initialised")
	}
	id := strings.TrimSpace(category.ID)
	if id == "" {
		return errors.New("category repository: category id is required")
	}
	_, err := r.categories.Set(ctx, id, newCategoryDocument(category))
	return err
}

// FindByID loads a category, treating soft-deleted documents as missing.
func (r *CategoryRepository) FindByID(ctx context.Context, categoryID string) (domain.Category, error) {
	if r == nil || r.categories == nil {
		return domain.Category{}, errors.New("category repository not initialised")
	}
	id := strings.TrimSpace(categoryID)
	if id == "" {
		return domain.Category{}, errors.New("category repository: category id is required")
	}
	doc, err := r.categories.Get(ctx, id)
	if err != nil {
		return domain.Category{}, err
	}
	category := doc.Data.toDomain(doc.ID)
	if category.Deleted() {
		return domain.Category{}, pfirestore.WrapError("categories.findByID", status.Errorf(codes.NotFound, "category %s not found", id))
	}
	return category, nil
}

// FindBySlug resolves a non-deleted category by slug. Slug uniqueness among
// non-deleted categories is enforced by the service using this lookup.
func (r *CategoryRepository) FindBySlug(ctx context.Context, slug string) (domain.Category, error) {
	if r == nil || r.provider == nil {
		return domain.Category{}, errors.New("category repository not initialised")
	}
	trimmed := strings.TrimSpace(slug)
	if trimmed == "" {
		return domain.Category{}, errors.New("category repository: slug is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Category{}, err
	}

	iter := client.Collection(categoryCollection).
		Where("slug", "==", trimmed).
		Where("deletedAt", "==", nil).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.Category{}, pfirestore.WrapError("categories.findBySlug", status.Errorf(codes.NotFound, "category slug %s not found", trimmed))
	}
	if err != nil {
		return domain.Category{}, pfirestore.WrapError("categories.findBySlug", err)
	}

	var doc categoryDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Category{}, fmt.Errorf("decode category %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

// ListActive returns every non-deleted category ordered by name.
func (r *CategoryRepository) ListActive(ctx context.Context) ([]domain.Category, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("category repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	iter := client.Collection(categoryCollection).
		Where("deletedAt", "==", nil).
		OrderBy("name", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	return collectCategories(iter)
}

// ListChildren returns non-deleted categories directly under the parent.
func (r *CategoryRepository) ListChildren(ctx context.Context, parentID string) ([]domain.Category, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("category repository not initialised")
	}
	parent := strings.TrimSpace(parentID)
	if parent == "" {
		return nil, errors.New("category repository: parent id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	iter := client.Collection(categoryCollection).
		Where("deletedAt", "==", nil).
		Where("parentId", "==", parent).
		OrderBy("name", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	return collectCategories(iter)
}

// SoftDelete marks the given categories deleted in a single batch, so a parent
// and its children disappear together.
func (r *CategoryRepository) SoftDelete(ctx context.Context, categoryIDs []string, deletedAt time.Time) error {
	if r == nil || r.provider == nil {
		return errors.New("category repository not initialised")
	}
	ids := make([]string, 0, len(categoryIDs))
	for _, id := range categoryIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	stamp := deletedAt.UTC()
	writer := client.BulkWriter(ctx)
	for _, id := range ids {
		ref := client.Collection(categoryCollection).Doc(id)
		if _, err := writer.Update(ref, []firestore.Update{
			{Path: "deletedAt", Value: stamp},
			{Path: "updatedAt", Value: stamp},
		}); err != nil {
			writer.End()
			return pfirestore.WrapError("categories.softDelete", err)
		}
	}
	writer.End()
	return nil
}

// Restore clears the soft-delete marker on a single category.
func (r *CategoryRepository) Restore(ctx context.Context, categoryID string) error {
	if r == nil || r.categories == nil {
		return errors.New("category repository not initialised")
	}
	id := strings.TrimSpace(categoryID)
	if id == "" {
		return errors.New("category repository: category id is required")
	}
	_, err := r.categories.Update(ctx, id, []firestore.Update{
		{Path: "deletedAt", Value: nil},
		{Path: "updatedAt", Value: time.Now().UTC()},
	})
	return err
}

func collectCategories(iter *firestore.DocumentIterator) ([]domain.Category, error) {
	var categories []domain.Category
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("categories.list", err)
		}
		var doc categoryDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode category %s: %w", snap.Ref.ID, err)
		}
		categories = append(categories, doc.toDomain(snap.Ref.ID))
	}
	return categories, nil
}

type categoryDocument struct {
	Name      string     `firestore:"name"`
	Slug      string     `firestore:"slug"`
	ParentID  *string    `firestore:"parentId"`
	ImageURL  string     `firestore:"imageUrl,omitempty"`
	CreatedAt time.Time  `firestore:"createdAt"`
	UpdatedAt time.Time  `firestore:"updatedAt"`
	DeletedAt *time.Time `firestore:"deletedAt"`
}

func (d categoryDocument) toDomain(id string) domain.Category {
	return domain.Category{
		ID:        id,
		Name:      d.Name,
		Slug:      d.Slug,
		ParentID:  d.ParentID,
		ImageURL:  d.ImageURL,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
		DeletedAt: d.DeletedAt,
	}
}

func newCategoryDocument(category domain.Category) categoryDocument {
	return categoryDocument{
		Name:      strings.TrimSpace(category.Name),
		Slug:      strings.TrimSpace(category.Slug),
		ParentID:  category.ParentID,
		ImageURL:  strings.TrimSpace(category.ImageURL),
		CreatedAt: category.CreatedAt.UTC(),
		UpdatedAt: category.UpdatedAt.UTC(),
		DeletedAt: category.DeletedAt,
	}
}

var _ repositories.CategoryRepository = (*CategoryRepository)(nil)

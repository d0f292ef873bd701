package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/northwear/api/internal/domain"
	pfirestore "github.com/northwear/api/internal/platform/firestore"
	"github.com/northwear/api/internal/repositories"
)

const discountCollection = "discountCodes"

// DiscountCodeRepository persists discount code definitions. Codes are stored
// uppercase so lookups stay case-insensitive without composite indexes. The
// usage counter on a document is only ever incremented inside the
// pending-order transaction owned by the order repository.
type DiscountCodeRepository struct {
	provider *pfirestore.Provider
	codes    *pfirestore.Collection[discountCodeDocument]
}

// NewDiscountCodeRepository constructs a Firestore-backed discount code repository.
func NewDiscountCodeRepository(provider *pfirestore.Provider) (*DiscountCodeRepository, error) {
	if provider == nil {
		return nil, errors.New("discount repository requires firestore provider")
	}
	base := pfirestore.NewCollection[discountCodeDocument](provider, discountCollection)
	return &DiscountCodeRepository{provider: provider, codes: base}, nil
}

// Insert creates a new code document, rejecting duplicates of the normalised code value.
func (r *DiscountCodeRepository) Insert(ctx context.Context, code domain.DiscountCode) error {
	if r == nil || r.codes == nil {
		return errors.New("discount repository not initialised")
	}
	id := strings.TrimSpace(code.ID)
	if id == "" {
		return errors.New("discount repository: code id is required")
	}
	normalized := strings.ToUpper(strings.TrimSpace(code.Code))
	if normalized == "" {
		return errors.New("discount repository: code value is required")
	}

	if existing, err := r.FindByCode(ctx, normalized); err == nil && existing.ID != id {
		return &repositories.DiscountError{
			Op:      "discounts.insert",
			Code:    repositories.DiscountErrorDuplicateCode,
			CodeID:  existing.ID,
			Message: fmt.Sprintf("code %s already exists", normalized),
		}
	} else if err != nil {
		var discountErr *repositories.DiscountError
		if !errors.As(err, &discountErr) || discountErr.Code != repositories.DiscountErrorNotFound {
			return err
		}
	}

	ref, err := r.codes.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newDiscountCodeDocument(code)); err != nil {
		return pfirestore.WrapError("discounts.insert", err)
	}
	return nil
}

// Update overwrites the code definition while preserving the stored usage counter.
func (r *DiscountCodeRepository) Update(ctx context.Context, code domain.DiscountCode) error {
	if r == nil || r.provider == nil {
		return errors.New("discount repository not initialised")
	}
	id := strings.TrimSpace(code.ID)
	if id == "" {
		return errors.New("discount repository: code id is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.codes.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var current discountCodeDocument
		if err := snap.DataTo(&current); err != nil {
			return fmt.Errorf("decode discount code %s: %w", id, err)
		}
		doc := newDiscountCodeDocument(code)
		doc.UsedCount = current.UsedCount
		doc.CreatedAt = current.CreatedAt
		return tx.Set(ref, doc)
	})
	return wrapDiscountError("discounts.update", err)
}

// Delete removes the code document entirely. Orders keep their own snapshot of
// the applied code so the history survives.
func (r *DiscountCodeRepository) Delete(ctx context.Context, codeID string) error {
	if r == nil || r.provider == nil {
		return errors.New("discount repository not initialised")
	}
	id := strings.TrimSpace(codeID)
	if id == "" {
		return errors.New("discount repository: code id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	if _, err := client.Collection(discountCollection).Doc(id).Delete(ctx); err != nil {
		return pfirestore.WrapError("discounts.delete", err)
	}
	return nil
}

// FindByID loads a code definition by document ID.
func (r *DiscountCodeRepository) FindByID(ctx context.Context, codeID string) (domain.DiscountCode, error) {
	if r == nil || r.codes == nil {
		return domain.DiscountCode{}, errors.New("discount repository not initialised")
	}
	id := strings.TrimSpace(codeID)
	if id == "" {
		return domain.DiscountCode{}, errors.New("discount repository: code id is required")
	}
	doc, err := r.codes.Get(ctx, id)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.DiscountCode{}, &repositories.DiscountError{
				Op:      "discounts.findByID",
				Code:    repositories.DiscountErrorNotFound,
				CodeID:  id,
				Message: fmt.Sprintf("discount code %s not found", id),
				Err:     err,
			}
		}
		return domain.DiscountCode{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByCode resolves a code case-insensitively by its normalised value.
func (r *DiscountCodeRepository) FindByCode(ctx context.Context, code string) (domain.DiscountCode, error) {
	if r == nil || r.provider == nil {
		return domain.DiscountCode{}, errors.New("discount repository not initialised")
	}
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return domain.DiscountCode{}, errors.New("discount repository: code value is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.DiscountCode{}, err
	}

	iter := client.Collection(discountCollection).
		Where("code", "==", normalized).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.DiscountCode{}, &repositories.DiscountError{
			Op:      "discounts.findByCode",
			Code:    repositories.DiscountErrorNotFound,
			Message: fmt.Sprintf("discount code %s not found", normalized),
		}
	}
	if err != nil {
		return domain.DiscountCode{}, pfirestore.WrapError("discounts.findByCode", err)
	}

	var doc discountCodeDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.DiscountCode{}, fmt.Errorf("decode discount code %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

// List returns a page of codes ordered by creation time descending.
func (r *DiscountCodeRepository) List(ctx context.Context, filter repositories.DiscountListFilter) (domain.CursorPage[domain.DiscountCode], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.DiscountCode]{}, errors.New("discount repository not initialised")
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
		return domain.CursorPage[domain.DiscountCode]{}, err
	}

	query := client.Collection(discountCollection).Query
	if filter.ActiveOnly {
		query = query.Where("active", "==", true)
	}
	query = query.OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeCatalogPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.DiscountCode]{}, pfirestore.WrapError("discounts.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var codes []domain.DiscountCode
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.DiscountCode]{}, pfirestore.WrapError("discounts.list", err)
		}
		var doc discountCodeDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.DiscountCode]{}, fmt.Errorf("decode discount code %s: %w", snap.Ref.ID, err)
		}
		codes = append(codes, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(codes) > pageSize
	if hasMore {
		codes = codes[:pageSize]
	}
	var nextToken string
	if hasMore && len(codes) > 0 {
		last := codes[len(codes)-1]
		encoded, err := encodeCatalogPageToken(catalogPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.DiscountCode]{}, pfirestore.WrapError("discounts.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.DiscountCode]{Items: codes, NextPageToken: nextToken}, nil
}

type discountCodeDocument struct {
	Code          string     `firestore:"code"`
	Type          string     `firestore:"type"`
	Value         int64      `firestore:"value"`
	MinOrderValue *int64     `firestore:"minOrderValue,omitempty"`
	MaxUses       *int64     `firestore:"maxUses,omitempty"`
	UsedCount     int64      `firestore:"usedCount"`
	ValidFrom     *time.Time `firestore:"validFrom,omitempty"`
	ValidTo       *time.Time `firestore:"validTo,omitempty"`
	Active        bool       `firestore:"active"`
	CreatedAt     time.Time  `firestore:"createdAt"`
	UpdatedAt     time.Time  `firestore:"updatedAt"`
}

func (d discountCodeDocument) toDomain(id string) domain.DiscountCode {
	return domain.DiscountCode{
		ID:            id,
		Code:          d.Code,
		Type:          domain.DiscountType(d.Type),
		Value:         d.Value,
		MinOrderValue: d.MinOrderValue,
		MaxUses:       d.MaxUses,
		UsedCount:     d.UsedCount,
		ValidFrom:     d.ValidFrom,
		ValidTo:       d.ValidTo,
		Active:        d.Active,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func newDiscountCodeDocument(code domain.DiscountCode) discountCodeDocument {
	return discountCodeDocument{
		Code:          strings.ToUpper(strings.TrimSpace(code.Code)),
		Type:          string(code.Type),
		Value:         code.Value,
		MinOrderValue: code.MinOrderValue,
		MaxUses:       code.MaxUses,
		UsedCount:     code.UsedCount,
		ValidFrom:     code.ValidFrom,
		ValidTo:       code.ValidTo,
		Active:        code.Active,
		CreatedAt:     code.CreatedAt.UTC(),
		UpdatedAt:     code.UpdatedAt.UTC(),
	}
}

func wrapDiscountError(op string, err error) error {
	if err == nil {
		return nil
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

var _ repositories.DiscountCodeRepository = (*DiscountCodeRepository)(nil)

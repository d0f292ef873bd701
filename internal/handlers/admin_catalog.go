package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/northwear/api/internal/domain"
	"github.com/northwear/api/internal/platform/auth"
	"github.com/northwear/api/internal/platform/httpx"
	"github.com/northwear/api/internal/services"
)

const maxAdminBodySize = 64 * 1024

// adminRoles lists the claim values allowed through the admin route group.
var adminRoles = []string{auth.RoleAdmin, auth.RoleStaff}

// AdminCatalogHandlers exposes product and category management plus signed
// uploads for catalog imagery.
type AdminCatalogHandlers struct {
	catalog services.CatalogService
	media   services.MediaService
}

// NewAdminCatalogHandlers constructs the admin catalog endpoints.
func NewAdminCatalogHandlers(catalog services.CatalogService, media services.MediaService) *AdminCatalogHandlers {
	return &AdminCatalogHandlers{
		catalog: catalog,
		media:   media,
	}
}

// Routes wires the catalog management endpoints onto the admin router.
func (h *AdminCatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/products", h.listProducts)
	r.Post("/products", h.createProduct)
	r.Put("/products/{productID}", h.updateProduct)
	r.Delete("/products/{productID}", h.deleteProduct)
	r.Post("/products/{productID}/restore", h.restoreProduct)
	r.Post("/categories", h.createCategory)
	r.Put("/categories/{categoryID}", h.updateCategory)
	r.Delete("/categories/{categoryID}", h.deleteCategory)
	r.Post("/media/uploads", h.signUpload)
	r.Post("/media/uploads/promote", h.promoteUpload)
}

type productRequest struct {
	Name          string             `json:"name"`
	Description   string             `json:"description"`
	CategoryID    string             `json:"category_id"`
	Currency      string             `json:"currency"`
	BasePrice     int64              `json:"base_price"`
	PromoPrice    *int64             `json:"promo_price"`
	PromoStartsAt *string            `json:"promo_starts_at"`
	PromoEndsAt   *string            `json:"promo_ends_at"`
	Sizes         []sizeStockRequest `json:"sizes"`
	ImageURL      string             `json:"image_url"`
}

type sizeStockRequest struct {
	Label string `json:"label"`
	Stock int    `json:"stock"`
}

func (h *AdminCatalogHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	filter := services.ProductListFilter{
		CategorySlug:   strings.TrimSpace(r.URL.Query().Get("category")),
		Search:         strings.TrimSpace(r.URL.Query().Get("q")),
		IncludeDeleted: r.URL.Query().Get("include_deleted") == "true",
		Pagination:     paginationFromQuery(r),
	}

	page, err := h.catalog.ListProducts(ctx, filter)
	if err != nil {
		writeAdminCatalogError(ctx, w, err)
		return
	}

	items := make([]services.ProductView, 0, len(page.Items))
	items = append(items, page.Items...)
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"products":        items,
		"next_page_token": page.NextPageToken,
	})
}

func (h *AdminCatalogHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	h.upsertProduct(w, r, "")
}

func (h *AdminCatalogHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}
	h.upsertProduct(w, r, productID)
}

func (h *AdminCatalogHandlers) upsertProduct(w http.ResponseWriter, r *http.Request, productID string) {
	ctx := r.Context()
	actor, ok := requireAdminIdentity(ctx, w)
	if !ok {
		return
	}
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req productRequest
	if err := decodeJSONBody(r, maxAdminBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	product, err := productFromRequest(req)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	product.ID = productID

	cmd := services.UpsertProductCommand{Product: product, ActorID: actor}

	var (
		saved  services.Product
		svcErr error
		status = http.StatusOK
	)
	if productID == "" {
		saved, svcErr = h.catalog.CreateProduct(ctx, cmd)
		status = http.StatusCreated
	} else {
		saved, svcErr = h.catalog.UpdateProduct(ctx, cmd)
	}
	if svcErr != nil {
		writeAdminCatalogError(ctx, w, svcErr)
		return
	}

	writeJSONResponse(w, status, map[string]any{"product": saved})
}

func (h *AdminCatalogHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireAdminIdentity(ctx, w)
	if !ok {
		return
	}
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	if err := h.catalog.DeleteProduct(ctx, services.DeleteProductCommand{ProductID: productID, ActorID: actor}); err != nil {
		writeAdminCatalogError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminCatalogHandlers) restoreProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireAdminIdentity(ctx, w); !ok {
		return
	}
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.RestoreProduct(ctx, productID)
	if err != nil {
		writeAdminCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"product": product})
}

type categoryRequest struct {
	Name     string  `json:"name"`
	ParentID *string `json:"parent_id"`
	ImageURL string  `json:"image_url"`
}

func (h *AdminCatalogHandlers) createCategory(w http.ResponseWriter, r *http.Request) {
	h.upsertCategory(w, r, "")
}

func (h *AdminCatalogHandlers) updateCategory(w http.ResponseWriter, r *http.Request) {
	categoryID := strings.TrimSpace(chi.URLParam(r, "categoryID"))
	if categoryID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "category id is required", http.StatusBadRequest))
		return
	}
	h.upsertCategory(w, r, categoryID)
}

func (h *AdminCatalogHandlers) upsertCategory(w http.ResponseWriter, r *http.Request, categoryID string) {
	ctx := r.Context()
	actor, ok := requireAdminIdentity(ctx, w)
	if !ok {
		return
	}
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req categoryRequest
	if err := decodeJSONBody(r, maxAdminBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	category := domain.Category{
		ID:       categoryID,
		Name:     strings.TrimSpace(req.Name),
		ImageURL: strings.TrimSpace(req.ImageURL),
	}
	if req.ParentID != nil && strings.TrimSpace(*req.ParentID) != "" {
		parent := strings.TrimSpace(*req.ParentID)
		category.ParentID = &parent
	}

	cmd := services.UpsertCategoryCommand{Category: category, ActorID: actor}

	var (
		saved  services.Category
		svcErr error
		status = http.StatusOK
	)
	if categoryID == "" {
		saved, svcErr = h.catalog.CreateCategory(ctx, cmd)
		status = http.StatusCreated
	} else {
		saved, svcErr = h.catalog.UpdateCategory(ctx, cmd)
	}
	if svcErr != nil {
		writeAdminCatalogError(ctx, w, svcErr)
		return
	}

	writeJSONResponse(w, status, map[string]any{"category": saved})
}

func (h *AdminCatalogHandlers) deleteCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireAdminIdentity(ctx, w)
	if !ok {
		return
	}
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	categoryID := strings.TrimSpace(chi.URLParam(r, "categoryID"))
	if categoryID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "category id is required", http.StatusBadRequest))
		return
	}

	if err := h.catalog.DeleteCategory(ctx, services.DeleteCategoryCommand{CategoryID: categoryID, ActorID: actor}); err != nil {
		writeAdminCatalogError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type signUploadRequest struct {
	Kind        string `json:"kind"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

func (h *AdminCatalogHandlers) signUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireAdminIdentity(ctx, w)
	if !ok {
		return
	}
	if h.media == nil {
		httpx.WriteError(ctx, w, httpx.NewError("media_service_unavailable", "media service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req signUploadRequest
	if err := decodeJSONBody(r, maxAdminBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	upload, err := h.media.IssueSignedUpload(ctx, services.SignedUploadCommand{
		ActorID:     actor,
		Kind:        strings.TrimSpace(req.Kind),
		FileName:    strings.TrimSpace(req.FileName),
		ContentType: strings.TrimSpace(req.ContentType),
		SizeBytes:   req.SizeBytes,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrMediaInvalidInput):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		case errors.Is(err, services.ErrMediaSignerUnavailable):
			httpx.WriteError(ctx, w, httpx.NewError("media_service_unavailable", "upload signing is unavailable", http.StatusServiceUnavailable))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("media_error", "failed to sign upload", http.StatusInternalServerError))
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"upload_url": upload.UploadURL,
		"public_url": upload.PublicURL,
		"object_key": upload.ObjectKey,
		"expires_at": formatTime(upload.ExpiresAt),
	})
}

type promoteUploadRequest struct {
	ObjectKey string `json:"object_key"`
}

func (h *AdminCatalogHandlers) promoteUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireAdminIdentity(ctx, w)
	if !ok {
		return
	}
	if h.media == nil {
		httpx.WriteError(ctx, w, httpx.NewError("media_service_unavailable", "media service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req promoteUploadRequest
	if err := decodeJSONBody(r, maxAdminBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	promoted, err := h.media.PromoteUpload(ctx, services.PromoteUploadCommand{
		ActorID:   actor,
		ObjectKey: strings.TrimSpace(req.ObjectKey),
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrMediaInvalidInput):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		case errors.Is(err, services.ErrMediaCopierUnavailable):
			httpx.WriteError(ctx, w, httpx.NewError("media_service_unavailable", "upload promotion is unavailable", http.StatusServiceUnavailable))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("media_error", "failed to promote upload", http.StatusInternalServerError))
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"object_key": promoted.ObjectKey,
		"public_url": promoted.PublicURL,
	})
}

func requireAdminIdentity(ctx context.Context, w http.ResponseWriter) (string, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return identity.UID, true
}

func writeAdminCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "resource not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogSlugConflict):
		httpx.WriteError(ctx, w, httpx.NewError("slug_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCatalogCategoryDepth):
		httpx.WriteError(ctx, w, httpx.NewError("category_depth", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCatalogCategoryInUse):
		httpx.WriteError(ctx, w, httpx.NewError("category_in_use", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "catalog operation failed", http.StatusInternalServerError))
	}
}

func productFromRequest(req productRequest) (domain.Product, error) {
	product := domain.Product{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		CategoryID:  strings.TrimSpace(req.CategoryID),
		Currency:    strings.TrimSpace(req.Currency),
		BasePrice:   req.BasePrice,
		PromoPrice:  req.PromoPrice,
		ImageURL:    strings.TrimSpace(req.ImageURL),
		Sizes:       make([]domain.SizeStock, 0, len(req.Sizes)),
	}
	for _, size := range req.Sizes {
		product.Sizes = append(product.Sizes, domain.SizeStock{
			Label: strings.TrimSpace(size.Label),
			Stock: size.Stock,
		})
	}
	var err error
	if product.PromoStartsAt, err = optionalTimestamp(req.PromoStartsAt, "promo_starts_at"); err != nil {
		return domain.Product{}, err
	}
	if product.PromoEndsAt, err = optionalTimestamp(req.PromoEndsAt, "promo_ends_at"); err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

func optionalTimestamp(raw *string, field string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	parsed, err := parseRFC3339(strings.TrimSpace(*raw))
	if err != nil {
		return nil, errors.New(field + " must be an RFC3339 timestamp")
	}
	return &parsed, nil
}

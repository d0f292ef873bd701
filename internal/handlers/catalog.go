package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/northwear/api/internal/platform/httpx"
	"github.com/northwear/api/internal/services"
)

// CatalogHandlers exposes the public storefront read endpoints.
type CatalogHandlers struct {
	catalog services.CatalogService
}

// NewCatalogHandlers constructs handlers over the catalog service.
func NewCatalogHandlers(catalog services.CatalogService) *CatalogHandlers {
	return &CatalogHandlers{catalog: catalog}
}

// Routes wires the public catalog endpoints onto the provided router.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/products", h.listProducts)
	r.Get("/products/{slug}", h.getProduct)
	r.Get("/categories", h.categoryTree)
	r.Get("/categories/{slug}", h.getCategory)
}

func (h *CatalogHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	filter := services.ProductListFilter{
		CategorySlug: strings.TrimSpace(r.URL.Query().Get("category")),
		Search:       strings.TrimSpace(r.URL.Query().Get("q")),
		Pagination:   paginationFromQuery(r),
	}

	page, err := h.catalog.ListProducts(ctx, filter)
	if err != nil {
		h.writeCatalogError(ctx, w, err)
		return
	}

	items := make([]productPayload, 0, len(page.Items))
	for _, view := range page.Items {
		items = append(items, buildProductPayload(view))
	}

	writeJSONResponse(w, http.StatusOK, productListResponse{
		Products:      items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *CatalogHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	slug := strings.TrimSpace(chi.URLParam(r, "slug"))
	if slug == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product slug is required", http.StatusBadRequest))
		return
	}

	view, err := h.catalog.GetProductBySlug(ctx, slug)
	if err != nil {
		h.writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(view)})
}

func (h *CatalogHandlers) categoryTree(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	tree, err := h.catalog.CategoryTree(ctx)
	if err != nil {
		h.writeCatalogError(ctx, w, err)
		return
	}
	if tree == nil {
		tree = []services.CategoryNode{}
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"categories": tree})
}

func (h *CatalogHandlers) getCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
		return
	}

	slug := strings.TrimSpace(chi.URLParam(r, "slug"))
	if slug == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "category slug is required", http.StatusBadRequest))
		return
	}

	category, err := h.catalog.GetCategoryBySlug(ctx, slug)
	if err != nil {
		h.writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"category": category})
}

func (h *CatalogHandlers) writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "resource not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to read catalog", http.StatusInternalServerError))
	}
}

type productListResponse struct {
	Products      []productPayload `json:"products"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type productResponse struct {
	Product productPayload `json:"product"`
}

type productPayload struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Slug           string             `json:"slug"`
	Description    string             `json:"description,omitempty"`
	CategoryID     string             `json:"category_id"`
	Currency       string             `json:"currency"`
	BasePrice      int64              `json:"base_price"`
	EffectivePrice int64              `json:"effective_price"`
	PromoActive    bool               `json:"promo_active"`
	PromoEndsAt    string             `json:"promo_ends_at,omitempty"`
	LowestPrice30d *int64             `json:"lowest_price_30d,omitempty"`
	Sizes          []sizeStockPayload `json:"sizes"`
	ImageURL       string             `json:"image_url,omitempty"`
	UpdatedAt      string             `json:"updated_at,omitempty"`
}

type sizeStockPayload struct {
	Label   string `json:"label"`
	InStock bool   `json:"in_stock"`
	Stock   int    `json:"stock"`
}

func buildProductPayload(view services.ProductView) productPayload {
	product := view.Product
	payload := productPayload{
		ID:             product.ID,
		Name:           product.Name,
		Slug:           product.Slug,
		Description:    product.Description,
		CategoryID:     product.CategoryID,
		Currency:       product.Currency,
		BasePrice:      view.Price.BasePrice,
		EffectivePrice: view.Price.EffectivePrice,
		PromoActive:    view.Price.PromoActive,
		LowestPrice30d: view.Price.LowestPrice30d,
		ImageURL:       product.ImageURL,
		Sizes:          make([]sizeStockPayload, 0, len(product.Sizes)),
	}
	if view.Price.PromoActive && product.PromoEndsAt != nil {
		payload.PromoEndsAt = formatTime(*product.PromoEndsAt)
	}
	if !product.UpdatedAt.IsZero() {
		payload.UpdatedAt = formatTime(product.UpdatedAt)
	}
	for _, size := range product.Sizes {
		payload.Sizes = append(payload.Sizes, sizeStockPayload{
			Label:   size.Label,
			InStock: size.Stock > 0,
			Stock:   size.Stock,
		})
	}
	return payload
}

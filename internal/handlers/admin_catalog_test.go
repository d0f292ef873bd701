package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/northwear/api/internal/services"
)

type stubMediaService struct {
	signFn    func(ctx context.Context, cmd services.SignedUploadCommand) (services.SignedUpload, error)
	promoteFn func(ctx context.Context, cmd services.PromoteUploadCommand) (services.PromotedMedia, error)
}

func (s *stubMediaService) IssueSignedUpload(ctx context.Context, cmd services.SignedUploadCommand) (services.SignedUpload, error) {
	if s.signFn != nil {
		return s.signFn(ctx, cmd)
	}
	return services.SignedUpload{}, nil
}

func (s *stubMediaService) PromoteUpload(ctx context.Context, cmd services.PromoteUploadCommand) (services.PromotedMedia, error) {
	if s.promoteFn != nil {
		return s.promoteFn(ctx, cmd)
	}
	return services.PromotedMedia{}, nil
}

var _ services.MediaService = (*stubMediaService)(nil)

func adminCatalogTestRouter(catalog services.CatalogService, media services.MediaService) chi.Router {
	r := chi.NewRouter()
	NewAdminCatalogHandlers(catalog, media).Routes(r)
	return r
}

func TestAdminCreateProduct(t *testing.T) {
	var got services.UpsertProductCommand
	svc := &stubCatalogService{
		createProductFn: func(_ context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
			got = cmd
			saved := cmd.Product
			saved.ID = "p1"
			saved.Slug = "box-hoodie"
			return saved, nil
		},
	}

	payload := strings.NewReader(`{
		"name": "Box Hoodie",
		"category_id": "c1",
		"base_price": 10000,
		"promo_price": 8000,
		"promo_starts_at": "2024-06-01T00:00:00Z",
		"sizes": [{"label": "M", "stock": 5}]
	}`)
	req := authedRequest(http.MethodPost, "/products", payload, "staff-1", "staff")
	rr := httptest.NewRecorder()
	adminCatalogTestRouter(svc, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.ActorID != "staff-1" {
		t.Fatalf("expected actor id from identity, got %q", got.ActorID)
	}
	if got.Product.PromoPrice == nil || *got.Product.PromoPrice != 8000 {
		t.Fatalf("expected promo price 8000, got %+v", got.Product.PromoPrice)
	}
	if got.Product.PromoStartsAt == nil || !got.Product.PromoStartsAt.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected parsed promo start, got %+v", got.Product.PromoStartsAt)
	}
}

func TestAdminCreateProductRejectsBadTimestamp(t *testing.T) {
	payload := strings.NewReader(`{"name": "Hoodie", "promo_starts_at": "tomorrow"}`)
	req := authedRequest(http.MethodPost, "/products", payload, "staff-1", "staff")
	rr := httptest.NewRecorder()
	adminCatalogTestRouter(&stubCatalogService{}, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminCreateProductMapsPricingRejection(t *testing.T) {
	svc := &stubCatalogService{
		createProductFn: func(context.Context, services.UpsertProductCommand) (services.Product, error) {
			return services.Product{}, services.ErrCatalogInvalidInput
		},
	}

	payload := strings.NewReader(`{"name": "Hoodie", "base_price": 5000, "promo_price": 6000}`)
	req := authedRequest(http.MethodPost, "/products", payload, "staff-1", "staff")
	rr := httptest.NewRecorder()
	adminCatalogTestRouter(svc, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminDeleteCategoryInUse(t *testing.T) {
	svc := &stubCatalogService{
		deleteCategoryFn: func(context.Context, services.DeleteCategoryCommand) error {
			return services.ErrCatalogCategoryInUse
		},
	}

	req := authedRequest(http.MethodDelete, "/categories/c1", nil, "staff-1", "staff")
	rr := httptest.NewRecorder()
	adminCatalogTestRouter(svc, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestAdminCreateCategoryDepthRejected(t *testing.T) {
	svc := &stubCatalogService{
		createCategoryFn: func(context.Context, services.UpsertCategoryCommand) (services.Category, error) {
			return services.Category{}, services.ErrCatalogCategoryDepth
		},
	}

	payload := strings.NewReader(`{"name": "Zips", "parent_id": "sub-1"}`)
	req := authedRequest(http.MethodPost, "/categories", payload, "staff-1", "staff")
	rr := httptest.NewRecorder()
	adminCatalogTestRouter(svc, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
}

func TestAdminSignUpload(t *testing.T) {
	expires := time.Date(2024, 6, 1, 12, 15, 0, 0, time.UTC)
	media := &stubMediaService{
		signFn: func(_ context.Context, cmd services.SignedUploadCommand) (services.SignedUpload, error) {
			if cmd.Kind != "product-image" {
				t.Fatalf("unexpected kind %q", cmd.Kind)
			}
			return services.SignedUpload{
				UploadURL: "https://storage.example.com/signed",
				PublicURL: "https://cdn.example.com/media/products/u1/cover.jpg",
				ObjectKey: "media/products/u1/cover.jpg",
				ExpiresAt: expires,
			}, nil
		},
	}

	payload := strings.NewReader(`{
		"kind": "product-image",
		"file_name": "cover.jpg",
		"content_type": "image/jpeg",
		"size_bytes": 1024
	}`)
	req := authedRequest(http.MethodPost, "/media/uploads", payload, "staff-1", "staff")
	rr := httptest.NewRecorder()
	adminCatalogTestRouter(&stubCatalogService{}, media).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["upload_url"] != "https://storage.example.com/signed" {
		t.Fatalf("expected signed upload url, got %v", body["upload_url"])
	}
}

func TestAdminPromoteUpload(t *testing.T) {
	media := &stubMediaService{
		promoteFn: func(_ context.Context, cmd services.PromoteUploadCommand) (services.PromotedMedia, error) {
			if cmd.ObjectKey != "uploads/media/products/u1/cover.jpg" {
				t.Fatalf("unexpected object key %q", cmd.ObjectKey)
			}
			return services.PromotedMedia{
				ObjectKey: "media/products/u1/cover.jpg",
				PublicURL: "https://cdn.example.com/media/products/u1/cover.jpg",
			}, nil
		},
	}

	payload := strings.NewReader(`{"object_key": "uploads/media/products/u1/cover.jpg"}`)
	req := authedRequest(http.MethodPost, "/media/uploads/promote", payload, "staff-1", "staff")
	rr := httptest.NewRecorder()
	adminCatalogTestRouter(&stubCatalogService{}, media).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["public_url"] != "https://cdn.example.com/media/products/u1/cover.jpg" {
		t.Fatalf("expected promoted public url, got %v", body["public_url"])
	}
}

func TestAdminEndpointsRequireIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(`{"name":"x"}`))
	rr := httptest.NewRecorder()
	adminCatalogTestRouter(&stubCatalogService{}, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/northwear/api/internal/services"
)

type stubMaintenanceService struct {
	sweepFn     func(ctx context.Context) (services.SweepReport, error)
	recomputeFn func(ctx context.Context) (services.SweepReport, error)
}

func (s *stubMaintenanceService) SweepExpiredSessions(ctx context.Context) (services.SweepReport, error) {
	if s.sweepFn != nil {
		return s.sweepFn(ctx)
	}
	return services.SweepReport{}, nil
}

func (s *stubMaintenanceService) RecomputeLowestPrices(ctx context.Context) (services.SweepReport, error) {
	if s.recomputeFn != nil {
		return s.recomputeFn(ctx)
	}
	return services.SweepReport{}, nil
}

var _ services.MaintenanceService = (*stubMaintenanceService)(nil)

func internalTaskTestRouter(svc services.MaintenanceService) chi.Router {
	r := chi.NewRouter()
	NewInternalTaskHandlers(svc).Routes(r)
	return r
}

func TestInternalExpireSessionsReportsSweep(t *testing.T) {
	svc := &stubMaintenanceService{
		sweepFn: func(context.Context) (services.SweepReport, error) {
			return services.SweepReport{
				Scanned:   12,
				Updated:   3,
				StartedAt: time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC),
				Duration:  250 * time.Millisecond,
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/tasks/expire-sessions", nil)
	rr := httptest.NewRecorder()
	internalTaskTestRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["scanned"] != float64(12) || body["updated"] != float64(3) {
		t.Fatalf("unexpected sweep counts: %v", body)
	}
	if body["duration_ms"] != float64(250) {
		t.Fatalf("expected duration in milliseconds, got %v", body["duration_ms"])
	}
}

func TestInternalRecomputeLowestPricesFailure(t *testing.T) {
	svc := &stubMaintenanceService{
		recomputeFn: func(context.Context) (services.SweepReport, error) {
			return services.SweepReport{}, errors.New("firestore unavailable")
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/tasks/recompute-lowest-prices", nil)
	rr := httptest.NewRecorder()
	internalTaskTestRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
}

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/mallkit/api/internal/domain"
	"github.com/mallkit/api/internal/services"
)

func TestNewRouterServesHealthEndpoints(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["status"] != domain.HealthStatusOK {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
}

func TestNewRouterReturnsJSONNotFound(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nowhere", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["error"] != errorNotFoundCode {
		t.Fatalf("expected error %s, got %v", errorNotFoundCode, body["error"])
	}
}

func TestNewRouterUnconfiguredGroupsReturnNotImplemented(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected status 501, got %d", rr.Code)
	}
}

func TestNewRouterMountsAdminRoutes(t *testing.T) {
	orders := &stubOrderService{
		getFunc: func(ctx context.Context, orderID string) (services.OrderDetail, error) {
			return services.OrderDetail{Order: sampleOrder()}, nil
		},
	}
	router := NewRouter(
		WithAdminRoutes(func(r chi.Router) {
			NewAdminOrderHandlers(orders, nil).Routes(r)
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders/ord_1", nil)
	req = requestWithIdentity(req, staffIdentity())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestNewRouterAppliesWebhookMiddlewares(t *testing.T) {
	var sawMiddleware bool
	marker := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sawMiddleware = true
			next.ServeHTTP(w, r)
		})
	}
	payments := &stubPaymentService{
		recordFunc: func(ctx context.Context, cmd services.PaymentWebhookCommand) error {
			return nil
		},
	}
	router := NewRouter(
		WithWebhookRoutes(func(r chi.Router) {
			NewWebhookHandlers(payments).Routes(r)
		}),
		WithWebhookMiddlewares(marker),
	)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments/gateway", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if !sawMiddleware {
		t.Fatalf("expected webhook middleware to run")
	}
}

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/mallkit/api/internal/domain"
	"github.com/mallkit/api/internal/platform/auth"
	"github.com/mallkit/api/internal/services"
)

func newAdminBankingRouter(svc services.BankingService) chi.Router {
	r := chi.NewRouter()
	NewAdminBankingHandlers(svc, nil).Routes(r)
	return r
}

func TestAdminBankingHandlersGetAccount(t *testing.T) {
	svc := &stubBankingService{
		getFunc: func(ctx context.Context) (domain.BankAccount, error) {
			return domain.BankAccount{BankName: "KB", AccountNumber: "110-123-456789", Holder: "Mallkit Co."}, nil
		},
	}
	router := newAdminBankingRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/bank-account", nil)
	req = requestWithIdentity(req, staffIdentity())
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var payload bankAccountPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload.BankName != "KB" || payload.Holder != "Mallkit Co." {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestAdminBankingHandlersGetAccountNotConfigured(t *testing.T) {
	svc := &stubBankingService{
		getFunc: func(ctx context.Context) (domain.BankAccount, error) {
			return domain.BankAccount{}, services.ErrBankingNotFound
		},
	}
	router := newAdminBankingRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/bank-account", nil)
	req = requestWithIdentity(req, staffIdentity())
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestAdminBankingHandlersUpdateAccountRequiresAdmin(t *testing.T) {
	router := newAdminBankingRouter(&stubBankingService{})

	body := `{"bank_name":"KB","account_number":"110-123-456789","holder":"Mallkit Co."}`
	req := httptest.NewRequest(http.MethodPut, "/bank-account", strings.NewReader(body))
	req = requestWithIdentity(req, staffIdentity())
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestAdminBankingHandlersUpdateAccount(t *testing.T) {
	var captured services.UpdateBankAccountCommand
	svc := &stubBankingService{
		updateFunc: func(ctx context.Context, cmd services.UpdateBankAccountCommand) (domain.BankAccount, error) {
			captured = cmd
			return cmd.Account, nil
		},
	}
	router := newAdminBankingRouter(svc)

	body := `{"bank_name":"KB","account_number":"110-123-456789","holder":"Mallkit Co."}`
	req := httptest.NewRequest(http.MethodPut, "/bank-account", strings.NewReader(body))
	req.Header.Set("Idempotency-Key", "idem-acct-1")
	req = requestWithIdentity(req, staffIdentity(auth.RoleAdmin))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Account.AccountNumber != "110-123-456789" {
		t.Fatalf("unexpected account %+v", captured.Account)
	}
	if captured.Actor.Type != "admin" {
		t.Fatalf("expected admin actor, got %+v", captured.Actor)
	}
	if captured.IdempotencyKey != "idem-acct-1" {
		t.Fatalf("unexpected idempotency key %q", captured.IdempotencyKey)
	}
}

func TestAdminBankingHandlersUpdateAccountInvalidInput(t *testing.T) {
	svc := &stubBankingService{
		updateFunc: func(ctx context.Context, cmd services.UpdateBankAccountCommand) (domain.BankAccount, error) {
			return domain.BankAccount{}, services.ErrBankingInvalidInput
		},
	}
	router := newAdminBankingRouter(svc)

	req := httptest.NewRequest(http.MethodPut, "/bank-account", strings.NewReader(`{"bank_name":"KB"}`))
	req = requestWithIdentity(req, staffIdentity(auth.RoleAdmin))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

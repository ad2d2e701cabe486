package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/mallkit/api/internal/domain"
	"github.com/mallkit/api/internal/services"
)

func newAdminBankTransferRouter(svc services.BankTransferService) chi.Router {
	r := chi.NewRouter()
	NewAdminBankTransferHandlers(svc, nil).Routes(r)
	return r
}

func sampleTransfer() domain.BankTransferRequest {
	created := time.Date(2024, 3, 3, 11, 0, 0, 0, time.UTC)
	return domain.BankTransferRequest{
		ID:             "bt_1",
		OrderID:        "ord_1",
		OrderNumber:    "MK-2024-000001",
		Status:         domain.TransferStatusRequested,
		DepositorName:  "KIM MINJI",
		TransferAmount: 45000,
		BankAccount: domain.BankAccount{
			BankName:      "KB",
			AccountNumber: "110-123-456789",
			Holder:        "Mallkit Co.",
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestAdminBankTransferHandlersCreateTransfer(t *testing.T) {
	var captured services.CreateBankTransferCommand
	svc := &stubBankTransferService{
		createFunc: func(ctx context.Context, cmd services.CreateBankTransferCommand) (domain.BankTransferRequest, error) {
			captured = cmd
			return sampleTransfer(), nil
		},
	}
	router := newAdminBankTransferRouter(svc)

	body := `{"order_number":"MK-2024-000001","depositor_name":"KIM MINJI"}`
	req := httptest.NewRequest(http.MethodPost, "/bank-transfers", strings.NewReader(body))
	req.Header.Set("Idempotency-Key", "idem-bt-1")
	req = requestWithIdentity(req, staffIdentity())
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderNumber != "MK-2024-000001" || captured.DepositorName != "KIM MINJI" {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.IdempotencyKey != "idem-bt-1" {
		t.Fatalf("unexpected idempotency key %q", captured.IdempotencyKey)
	}

	var payload bankTransferPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload.BankAccount.AccountNumber != "110-123-456789" {
		t.Fatalf("expected account snapshot in payload, got %+v", payload.BankAccount)
	}
}

func TestAdminBankTransferHandlersApproveTransfer(t *testing.T) {
	decided := time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)
	var captured services.DecideBankTransferCommand
	svc := &stubBankTransferService{
		approveFunc: func(ctx context.Context, cmd services.DecideBankTransferCommand) (domain.BankTransferRequest, error) {
			captured = cmd
			approved := sampleTransfer()
			approved.Status = domain.TransferStatusApproved
			approved.DecidedAt = &decided
			return approved, nil
		},
	}
	router := newAdminBankTransferRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/bank-transfers/bt_1:approve", nil)
	req = requestWithIdentity(req, staffIdentity())
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.RequestID != "bt_1" {
		t.Fatalf("unexpected request id %q", captured.RequestID)
	}

	var payload bankTransferPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload.Status != string(domain.TransferStatusApproved) {
		t.Fatalf("expected status APPROVED, got %q", payload.Status)
	}
	if payload.DecidedAt == "" {
		t.Fatalf("expected decided_at to be set")
	}
}

func TestAdminBankTransferHandlersApproveOutOfStock(t *testing.T) {
	svc := &stubBankTransferService{
		approveFunc: func(ctx context.Context, cmd services.DecideBankTransferCommand) (domain.BankTransferRequest, error) {
			return domain.BankTransferRequest{}, services.ErrOutOfStock
		},
	}
	router := newAdminBankTransferRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/bank-transfers/bt_1:approve", nil)
	req = requestWithIdentity(req, staffIdentity())
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["error"] != "out_of_stock" {
		t.Fatalf("expected error out_of_stock, got %v", body["error"])
	}
}

func TestAdminBankTransferHandlersRejectTransfer(t *testing.T) {
	var captured services.DecideBankTransferCommand
	svc := &stubBankTransferService{
		rejectFunc: func(ctx context.Context, cmd services.DecideBankTransferCommand) (domain.BankTransferRequest, error) {
			captured = cmd
			rejected := sampleTransfer()
			rejected.Status = domain.TransferStatusRejected
			rejected.RejectedReason = cmd.Reason
			return rejected, nil
		},
	}
	router := newAdminBankTransferRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/bank-transfers/bt_1:reject", strings.NewReader(`{"reason":"no matching deposit"}`))
	req = requestWithIdentity(req, staffIdentity())
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Reason != "no matching deposit" {
		t.Fatalf("unexpected reason %q", captured.Reason)
	}
}

func TestAdminBankTransferHandlersRejectRequiresReason(t *testing.T) {
	svc := &stubBankTransferService{
		rejectFunc: func(ctx context.Context, cmd services.DecideBankTransferCommand) (domain.BankTransferRequest, error) {
			return domain.BankTransferRequest{}, services.ErrTransferInvalidInput
		},
	}
	router := newAdminBankTransferRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/bank-transfers/bt_1:reject", strings.NewReader(`{"reason":""}`))
	req = requestWithIdentity(req, staffIdentity())
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminBankTransferHandlersRejectAfterDecision(t *testing.T) {
	svc := &stubBankTransferService{
		rejectFunc: func(ctx context.Context, cmd services.DecideBankTransferCommand) (domain.BankTransferRequest, error) {
			return domain.BankTransferRequest{}, &domain.InvalidTransitionError{
				Label:   "transfer_status",
				Current: "APPROVED",
				Next:    "REJECTED",
			}
		},
	}
	router := newAdminBankTransferRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/bank-transfers/bt_1:reject", strings.NewReader(`{"reason":"wrong amount"}`))
	req = requestWithIdentity(req, staffIdentity())
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["error"] != "invalid_transition" || body["current"] != "APPROVED" {
		t.Fatalf("unexpected error payload %v", body)
	}
}

func TestAdminBankTransferHandlersListParsesQuery(t *testing.T) {
	var captured services.BankTransferListFilter
	svc := &stubBankTransferService{
		listFunc: func(ctx context.Context, filter services.BankTransferListFilter) (domain.CursorPage[domain.BankTransferRequest], error) {
			captured = filter
			return domain.CursorPage[domain.BankTransferRequest]{Items: []domain.BankTransferRequest{sampleTransfer()}}, nil
		},
	}
	router := newAdminBankTransferRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/bank-transfers?status=requested&depositor=KIM", nil)
	req = requestWithIdentity(req, staffIdentity())
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if len(captured.Status) != 1 || captured.Status[0] != domain.TransferStatusRequested {
		t.Fatalf("unexpected status filter %v", captured.Status)
	}
	if captured.Depositor != "KIM" {
		t.Fatalf("unexpected depositor %q", captured.Depositor)
	}
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/mallkit/api/internal/domain"
	"github.com/mallkit/api/internal/platform/auth"
	"github.com/mallkit/api/internal/platform/httpx"
	"github.com/mallkit/api/internal/services"
)

const maxBankAccountBodySize = 4 * 1024

// AdminBankingHandlers exposes the wire destination account configuration.
// Each bank transfer request snapshots this account at creation time.
type AdminBankingHandlers struct {
	banking services.BankingService
	guard   IdempotencyGuard
}

// NewAdminBankingHandlers constructs a new AdminBankingHandlers instance.
func NewAdminBankingHandlers(banking services.BankingService, guard IdempotencyGuard) *AdminBankingHandlers {
	return &AdminBankingHandlers{
		banking: banking,
		guard:   guard,
	}
}

// Routes registers the /admin/bank-account endpoints.
func (h *AdminBankingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/bank-account", h.getAccount)
	r.With(guardMiddleware(h.guard, "banking.update")).Put("/bank-account", h.updateAccount)
}

type updateBankAccountRequest struct {
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	Holder        string `json:"holder"`
}

func bankAccountPayloadFrom(account domain.BankAccount) bankAccountPayload {
	return bankAccountPayload{
		BankName:      account.BankName,
		AccountNumber: account.AccountNumber,
		Holder:        account.Holder,
	}
}

func (h *AdminBankingHandlers) getAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.banking == nil {
		httpx.WriteError(ctx, w, httpx.NewError("banking_service_unavailable", "banking service unavailable", http.StatusServiceUnavailable))
		return
	}

	account, err := h.banking.GetAccount(ctx)
	if err != nil {
		writeBankingError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, bankAccountPayloadFrom(account))
}

func (h *AdminBankingHandlers) updateAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.banking == nil {
		httpx.WriteError(ctx, w, httpx.NewError("banking_service_unavailable", "banking service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || !identity.HasRole(auth.RoleAdmin) {
		httpx.WriteError(ctx, w, httpx.NewError("permission_denied", "updating the bank account requires the admin role", http.StatusForbidden))
		return
	}

	body, err := readLimitedBody(r, maxBankAccountBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req updateBankAccountRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	account, err := h.banking.UpdateAccount(ctx, services.UpdateBankAccountCommand{
		Account: domain.BankAccount{
			BankName:      req.BankName,
			AccountNumber: req.AccountNumber,
			Holder:        req.Holder,
		},
		Actor:          requestActor(ctx),
		IdempotencyKey: requestIdempotencyKey(r),
	})
	if err != nil {
		writeBankingError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, bankAccountPayloadFrom(account))
}

func writeBankingError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrBankingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "bank account payload is invalid", http.StatusBadRequest))
	case errors.Is(err, services.ErrBankingNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("bank_account_not_configured", "wire destination account is not configured", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process bank account", http.StatusInternalServerError))
	}
}

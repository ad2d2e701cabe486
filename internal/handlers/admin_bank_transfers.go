package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/mallkit/api/internal/domain"
	"github.com/mallkit/api/internal/platform/httpx"
	"github.com/mallkit/api/internal/services"
)

const (
	defaultTransferPageSize = 20
	maxTransferPageSize     = 100
	maxTransferBodySize     = 8 * 1024
)

var validTransferStatuses = map[domain.TransferStatus]struct{}{
	domain.TransferStatusRequested: {},
	domain.TransferStatusApproved:  {},
	domain.TransferStatusRejected:  {},
}

// AdminBankTransferHandlers exposes the manual wire claim lifecycle to staff.
type AdminBankTransferHandlers struct {
	transfers services.BankTransferService
	guard     IdempotencyGuard
}

// NewAdminBankTransferHandlers constructs a new AdminBankTransferHandlers instance.
func NewAdminBankTransferHandlers(transfers services.BankTransferService, guard IdempotencyGuard) *AdminBankTransferHandlers {
	return &AdminBankTransferHandlers{
		transfers: transfers,
		guard:     guard,
	}
}

// Routes registers the /admin/bank-transfers endpoints.
func (h *AdminBankTransferHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/bank-transfers", h.listTransfers)
	r.With(guardMiddleware(h.guard, "banktransfers.create")).Post("/bank-transfers", h.createTransfer)
	r.Get("/bank-transfers/{requestID}", h.getTransfer)
	r.With(guardMiddleware(h.guard, "banktransfers.approve")).Post("/bank-transfers/{requestID}:approve", h.approveTransfer)
	r.With(guardMiddleware(h.guard, "banktransfers.reject")).Post("/bank-transfers/{requestID}:reject", h.rejectTransfer)
}

type createBankTransferRequest struct {
	OrderNumber   string `json:"order_number"`
	DepositorName string `json:"depositor_name"`
}

type rejectBankTransferRequest struct {
	Reason string `json:"reason"`
}

type bankAccountPayload struct {
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	Holder        string `json:"holder"`
}

type bankTransferPayload struct {
	ID             string             `json:"id"`
	OrderID        string             `json:"order_id"`
	OrderNumber    string             `json:"order_number"`
	Status         string             `json:"status"`
	DepositorName  string             `json:"depositor_name"`
	TransferAmount int64              `json:"transfer_amount"`
	BankAccount    bankAccountPayload `json:"bank_account"`
	RejectedReason string             `json:"rejected_reason,omitempty"`
	DecidedAt      string             `json:"decided_at,omitempty"`
	CreatedAt      string             `json:"created_at"`
	UpdatedAt      string             `json:"updated_at"`
}

type bankTransferListResponse struct {
	Items         []bankTransferPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

func bankTransferPayloadFrom(transfer domain.BankTransferRequest) bankTransferPayload {
	return bankTransferPayload{
		ID:             transfer.ID,
		OrderID:        transfer.OrderID,
		OrderNumber:    transfer.OrderNumber,
		Status:         string(transfer.Status),
		DepositorName:  transfer.DepositorName,
		TransferAmount: transfer.TransferAmount,
		BankAccount: bankAccountPayload{
			BankName:      transfer.BankAccount.BankName,
			AccountNumber: transfer.BankAccount.AccountNumber,
			Holder:        transfer.BankAccount.Holder,
		},
		RejectedReason: transfer.RejectedReason,
		DecidedAt:      formatTimePtr(transfer.DecidedAt),
		CreatedAt:      formatTime(transfer.CreatedAt),
		UpdatedAt:      formatTime(transfer.UpdatedAt),
	}
}

func (h *AdminBankTransferHandlers) listTransfers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.transfers == nil {
		httpx.WriteError(ctx, w, httpx.NewError("bank_transfer_service_unavailable", "bank transfer service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()

	dateRange, err := parseDateRangeQuery(query)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := parsePageQuery(query, defaultTransferPageSize, maxTransferPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.BankTransferListFilter{
		OrderID:    strings.TrimSpace(query.Get("order_id")),
		Depositor:  strings.TrimSpace(query.Get("depositor")),
		DateRange:  dateRange,
		Pagination: page,
	}
	for _, value := range parseFilterValues(query["status"]) {
		status := domain.TransferStatus(value)
		if _, ok := validTransferStatuses[status]; !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown status filter "+value, http.StatusBadRequest))
			return
		}
		filter.Status = append(filter.Status, status)
	}

	pageResult, err := h.transfers.List(ctx, filter)
	if err != nil {
		writeBankTransferError(ctx, w, err)
		return
	}

	items := make([]bankTransferPayload, 0, len(pageResult.Items))
	for _, transfer := range pageResult.Items {
		items = append(items, bankTransferPayloadFrom(transfer))
	}
	writeJSONResponse(w, http.StatusOK, bankTransferListResponse{
		Items:         items,
		NextPageToken: pageResult.NextPageToken,
	})
}

func (h *AdminBankTransferHandlers) createTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.transfers == nil {
		httpx.WriteError(ctx, w, httpx.NewError("bank_transfer_service_unavailable", "bank transfer service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxTransferBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req createBankTransferRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	transfer, err := h.transfers.Create(ctx, services.CreateBankTransferCommand{
		OrderNumber:    strings.TrimSpace(req.OrderNumber),
		DepositorName:  req.DepositorName,
		Actor:          requestActor(ctx),
		IdempotencyKey: requestIdempotencyKey(r),
	})
	if err != nil {
		writeBankTransferError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, bankTransferPayloadFrom(transfer))
}

func (h *AdminBankTransferHandlers) getTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.transfers == nil {
		httpx.WriteError(ctx, w, httpx.NewError("bank_transfer_service_unavailable", "bank transfer service unavailable", http.StatusServiceUnavailable))
		return
	}

	requestID := strings.TrimSpace(chi.URLParam(r, "requestID"))
	if requestID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request id is required", http.StatusBadRequest))
		return
	}

	transfer, err := h.transfers.Get(ctx, requestID)
	if err != nil {
		writeBankTransferError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, bankTransferPayloadFrom(transfer))
}

func (h *AdminBankTransferHandlers) approveTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.transfers == nil {
		httpx.WriteError(ctx, w, httpx.NewError("bank_transfer_service_unavailable", "bank transfer service unavailable", http.StatusServiceUnavailable))
		return
	}

	requestID := strings.TrimSpace(chi.URLParam(r, "requestID"))
	if requestID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request id is required", http.StatusBadRequest))
		return
	}

	transfer, err := h.transfers.Approve(ctx, services.DecideBankTransferCommand{
		RequestID:      requestID,
		Actor:          requestActor(ctx),
		IdempotencyKey: requestIdempotencyKey(r),
	})
	if err != nil {
		writeBankTransferError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, bankTransferPayloadFrom(transfer))
}

func (h *AdminBankTransferHandlers) rejectTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.transfers == nil {
		httpx.WriteError(ctx, w, httpx.NewError("bank_transfer_service_unavailable", "bank transfer service unavailable", http.StatusServiceUnavailable))
		return
	}

	requestID := strings.TrimSpace(chi.URLParam(r, "requestID"))
	if requestID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxTransferBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req rejectBankTransferRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	transfer, err := h.transfers.Reject(ctx, services.DecideBankTransferCommand{
		RequestID:      requestID,
		Reason:         req.Reason,
		Actor:          requestActor(ctx),
		IdempotencyKey: requestIdempotencyKey(r),
	})
	if err != nil {
		writeBankTransferError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, bankTransferPayloadFrom(transfer))
}

func writeBankTransferError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	if writeTransitionError(ctx, w, err) {
		return
	}
	switch {
	case errors.Is(err, services.ErrOutOfStock):
		httpx.WriteError(ctx, w, httpx.NewError("out_of_stock", "insufficient stock to settle order", http.StatusConflict))
	case errors.Is(err, services.ErrTransferInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "bank transfer payload is invalid", http.StatusBadRequest))
	case errors.Is(err, services.ErrTransferNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("bank_transfer_not_found", "bank transfer request not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrBankingNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("bank_account_not_configured", "wire destination account is not configured", http.StatusConflict))
	case errors.Is(err, services.ErrTransferConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", "bank transfer was modified concurrently", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process bank transfer", http.StatusInternalServerError))
	}
}

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
	defaultReturnPageSize = 20
	maxReturnPageSize     = 100
	maxReturnBodySize     = 16 * 1024
)

var validReturnStatuses = map[domain.ReturnStatus]struct{}{
	domain.ReturnStatusRequested:       {},
	domain.ReturnStatusApproved:        {},
	domain.ReturnStatusPickupScheduled: {},
	domain.ReturnStatusReceived:        {},
	domain.ReturnStatusRefunding:       {},
	domain.ReturnStatusRefunded:        {},
	domain.ReturnStatusRejected:        {},
	domain.ReturnStatusClosed:          {},
}

// AdminReturnHandlers exposes the return/refund case lifecycle to staff.
type AdminReturnHandlers struct {
	returns services.ReturnService
	guard   IdempotencyGuard
}

// NewAdminReturnHandlers constructs a new AdminReturnHandlers instance.
func NewAdminReturnHandlers(returns services.ReturnService, guard IdempotencyGuard) *AdminReturnHandlers {
	return &AdminReturnHandlers{
		returns: returns,
		guard:   guard,
	}
}

// Routes registers the /admin/returns endpoints.
func (h *AdminReturnHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/returns", h.listReturns)
	r.With(guardMiddleware(h.guard, "returns.create")).Post("/returns", h.createReturn)
	r.Get("/returns/{returnID}", h.getReturn)
	r.With(guardMiddleware(h.guard, "returns.update")).Patch("/returns/{returnID}", h.updateReturn)
	r.With(guardMiddleware(h.guard, "returns.delete")).Delete("/returns/{returnID}", h.deleteReturn)
}

type createReturnRequest struct {
	OrderNumber     string `json:"order_number"`
	Reason          string `json:"reason"`
	RequestedAmount *int64 `json:"requested_amount"`
}

type updateReturnRequest struct {
	Status         *string `json:"status"`
	Reason         *string `json:"reason"`
	ApprovedAmount *int64  `json:"approved_amount"`
	RejectedReason *string `json:"rejected_reason"`
}

type returnRequestPayload struct {
	ID              string `json:"id"`
	OrderID         string `json:"order_id"`
	OrderNumber     string `json:"order_number"`
	Status          string `json:"status"`
	Reason          string `json:"reason,omitempty"`
	RejectedReason  string `json:"rejected_reason,omitempty"`
	RequestedAmount int64  `json:"requested_amount"`
	ApprovedAmount  *int64 `json:"approved_amount,omitempty"`
	ApprovedAt      string `json:"approved_at,omitempty"`
	ReceivedAt      string `json:"received_at,omitempty"`
	RefundedAt      string `json:"refunded_at,omitempty"`
	ClosedAt        string `json:"closed_at,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

type returnListResponse struct {
	Items         []returnRequestPayload `json:"items"`
	NextPageToken string                 `json:"next_page_token,omitempty"`
}

func returnRequestPayloadFrom(ret domain.ReturnRequest) returnRequestPayload {
	return returnRequestPayload{
		ID:              ret.ID,
		OrderID:         ret.OrderID,
		OrderNumber:     ret.OrderNumber,
		Status:          string(ret.Status),
		Reason:          ret.Reason,
		RejectedReason:  ret.RejectedReason,
		RequestedAmount: ret.RequestedAmount,
		ApprovedAmount:  ret.ApprovedAmount,
		ApprovedAt:      formatTimePtr(ret.ApprovedAt),
		ReceivedAt:      formatTimePtr(ret.ReceivedAt),
		RefundedAt:      formatTimePtr(ret.RefundedAt),
		ClosedAt:        formatTimePtr(ret.ClosedAt),
		CreatedAt:       formatTime(ret.CreatedAt),
		UpdatedAt:       formatTime(ret.UpdatedAt),
	}
}

func (h *AdminReturnHandlers) listReturns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()

	dateRange, err := parseDateRangeQuery(query)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := parsePageQuery(query, defaultReturnPageSize, maxReturnPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.ReturnListFilter{
		OrderID:    strings.TrimSpace(query.Get("order_id")),
		DateRange:  dateRange,
		Pagination: page,
	}
	for _, value := range parseFilterValues(query["status"]) {
		status := domain.ReturnStatus(value)
		if _, ok := validReturnStatuses[status]; !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown status filter "+value, http.StatusBadRequest))
			return
		}
		filter.Status = append(filter.Status, status)
	}

	pageResult, err := h.returns.List(ctx, filter)
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}

	items := make([]returnRequestPayload, 0, len(pageResult.Items))
	for _, ret := range pageResult.Items {
		items = append(items, returnRequestPayloadFrom(ret))
	}
	writeJSONResponse(w, http.StatusOK, returnListResponse{
		Items:         items,
		NextPageToken: pageResult.NextPageToken,
	})
}

func (h *AdminReturnHandlers) createReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxReturnBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req createReturnRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	ret, err := h.returns.Create(ctx, services.CreateReturnCommand{
		OrderNumber:     strings.TrimSpace(req.OrderNumber),
		Reason:          req.Reason,
		RequestedAmount: req.RequestedAmount,
		Actor:           requestActor(ctx),
		IdempotencyKey:  requestIdempotencyKey(r),
	})
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, returnRequestPayloadFrom(ret))
}

func (h *AdminReturnHandlers) getReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	returnID := strings.TrimSpace(chi.URLParam(r, "returnID"))
	if returnID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "return id is required", http.StatusBadRequest))
		return
	}

	ret, err := h.returns.Get(ctx, returnID)
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, returnRequestPayloadFrom(ret))
}

func (h *AdminReturnHandlers) updateReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	returnID := strings.TrimSpace(chi.URLParam(r, "returnID"))
	if returnID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "return id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxReturnBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req updateReturnRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cmd := services.UpdateReturnCommand{
		ReturnID:       returnID,
		Reason:         req.Reason,
		ApprovedAmount: req.ApprovedAmount,
		RejectedReason: req.RejectedReason,
		Actor:          requestActor(ctx),
		IdempotencyKey: requestIdempotencyKey(r),
	}
	if req.Status != nil {
		status := domain.ReturnStatus(strings.ToUpper(strings.TrimSpace(*req.Status)))
		if _, ok := validReturnStatuses[status]; !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown return status "+*req.Status, http.StatusBadRequest))
			return
		}
		cmd.Status = &status
	}

	ret, err := h.returns.Update(ctx, cmd)
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, returnRequestPayloadFrom(ret))
}

func (h *AdminReturnHandlers) deleteReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	returnID := strings.TrimSpace(chi.URLParam(r, "returnID"))
	if returnID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "return id is required", http.StatusBadRequest))
		return
	}

	if err := h.returns.Delete(ctx, services.DeleteReturnCommand{
		ReturnID:       returnID,
		Actor:          requestActor(ctx),
		IdempotencyKey: requestIdempotencyKey(r),
	}); err != nil {
		writeReturnError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeReturnError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	if writeTransitionError(ctx, w, err) {
		return
	}
	switch {
	case errors.Is(err, services.ErrReturnPermissionDenied):
		httpx.WriteError(ctx, w, httpx.NewError("permission_denied", "refund execution requires an elevated role", http.StatusForbidden))
	case errors.Is(err, services.ErrReturnInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "return payload is invalid", http.StatusBadRequest))
	case errors.Is(err, services.ErrReturnNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("return_not_found", "return request not found", http.StatusNotFound))
	case errors.Is(err, services.ErrReturnConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", "return was modified concurrently", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process return", http.StatusInternalServerError))
	}
}

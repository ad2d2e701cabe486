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
	defaultOrderPageSize  = 20
	maxOrderPageSize      = 100
	maxOrderPatchBodySize = 16 * 1024
)

var validOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusPending:         {},
	domain.OrderStatusPaid:            {},
	domain.OrderStatusFailed:          {},
	domain.OrderStatusCanceled:        {},
	domain.OrderStatusPartialRefunded: {},
	domain.OrderStatusRefunded:        {},
}

var validPaymentStatuses = map[domain.PaymentStatus]struct{}{
	domain.PaymentStatusUnpaid:   {},
	domain.PaymentStatusReady:    {},
	domain.PaymentStatusApproved: {},
	domain.PaymentStatusFailed:   {},
	domain.PaymentStatusCanceled: {},
}

var validShippingStatuses = map[domain.ShippingStatus]struct{}{
	domain.ShippingStatusReady:     {},
	domain.ShippingStatusPreparing: {},
	domain.ShippingStatusShipped:   {},
	domain.ShippingStatusDelivered: {},
}

var validDisplayStatuses = map[domain.DisplayStatus]struct{}{
	domain.DisplayStatusPaymentPending:   {},
	domain.DisplayStatusPaymentCompleted: {},
	domain.DisplayStatusShipping:         {},
	domain.DisplayStatusDelivered:        {},
	domain.DisplayStatusReturned:         {},
	domain.DisplayStatusCanceled:         {},
	domain.DisplayStatusUnpaidCanceled:   {},
}

// AdminOrderHandlers exposes the order patch engine and order reads to staff.
type AdminOrderHandlers struct {
	orders services.OrderService
	guard  IdempotencyGuard
}

// NewAdminOrderHandlers constructs a new AdminOrderHandlers instance.
func NewAdminOrderHandlers(orders services.OrderService, guard IdempotencyGuard) *AdminOrderHandlers {
	return &AdminOrderHandlers{
		orders: orders,
		guard:  guard,
	}
}

// Routes registers the /admin/orders endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/orders", h.listOrders)
	r.With(guardMiddleware(h.guard, "orders.create")).Post("/orders", h.createOrder)
	r.Get("/orders/{orderID}", h.getOrder)
	r.With(guardMiddleware(h.guard, "orders.patch")).Patch("/orders/{orderID}", h.patchOrder)
}

type orderItemRequest struct {
	SKU        string `json:"sku"`
	ProductRef string `json:"product_ref"`
	OptionRef  string `json:"option_ref"`
	Name       string `json:"name"`
	Quantity   int64  `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
	Total      int64  `json:"total"`
}

type createOrderRequest struct {
	UserRef     string             `json:"user_ref"`
	Items       []orderItemRequest `json:"items"`
	Subtotal    int64              `json:"subtotal"`
	ShippingFee int64              `json:"shipping_fee"`
	Discount    int64              `json:"discount"`
	Total       int64              `json:"total"`
	Recipient   string             `json:"recipient"`
	Address     string             `json:"address"`
}

type patchOrderRequest struct {
	Status         *string `json:"status"`
	PaymentStatus  *string `json:"payment_status"`
	ShippingStatus *string `json:"shipping_status"`
	DisplayStatus  *string `json:"display_status"`
	Recipient      *string `json:"recipient"`
	Address        *string `json:"address"`
	Courier        *string `json:"courier"`
	TrackingNumber *string `json:"tracking_number"`
	IssueInvoice   bool    `json:"issue_invoice"`
	MarkDelivered  bool    `json:"mark_delivered"`
}

type orderItemPayload struct {
	SKU        string `json:"sku"`
	ProductRef string `json:"product_ref,omitempty"`
	OptionRef  string `json:"option_ref,omitempty"`
	Name       string `json:"name"`
	Quantity   int64  `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
	Total      int64  `json:"total"`
}

type orderPayload struct {
	ID              string             `json:"id"`
	OrderNumber     string             `json:"order_number"`
	UserRef         string             `json:"user_ref,omitempty"`
	Status          string             `json:"status"`
	PaymentStatus   string             `json:"payment_status"`
	ShippingStatus  string             `json:"shipping_status"`
	DisplayStatus   string             `json:"display_status"`
	Subtotal        int64              `json:"subtotal"`
	ShippingFee     int64              `json:"shipping_fee"`
	Discount        int64              `json:"discount"`
	Total           int64              `json:"total"`
	Items           []orderItemPayload `json:"items"`
	Recipient       string             `json:"recipient,omitempty"`
	Address         string             `json:"address,omitempty"`
	Courier         string             `json:"courier,omitempty"`
	TrackingNumber  string             `json:"tracking_number,omitempty"`
	Memo            string             `json:"memo,omitempty"`
	InvoiceIssuedAt string             `json:"invoice_issued_at,omitempty"`
	PaidAt          string             `json:"paid_at,omitempty"`
	ShippedAt       string             `json:"shipped_at,omitempty"`
	DeliveredAt     string             `json:"delivered_at,omitempty"`
	CanceledAt      string             `json:"canceled_at,omitempty"`
	CreatedAt       string             `json:"created_at"`
	UpdatedAt       string             `json:"updated_at"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderDetailPayload struct {
	Order    orderPayload           `json:"order"`
	Payments []paymentPayload       `json:"payments"`
	Returns  []returnRequestPayload `json:"returns"`
}

type paymentPayload struct {
	ID         string `json:"id"`
	OrderID    string `json:"order_id"`
	Provider   string `json:"provider"`
	Status     string `json:"status"`
	Amount     int64  `json:"amount"`
	PaymentKey string `json:"payment_key,omitempty"`
	ApprovedAt string `json:"approved_at,omitempty"`
	CreatedAt  string `json:"created_at"`
}

func paymentPayloadFrom(payment domain.PaymentTransaction) paymentPayload {
	return paymentPayload{
		ID:         payment.ID,
		OrderID:    payment.OrderID,
		Provider:   string(payment.Provider),
		Status:     string(payment.Status),
		Amount:     payment.Amount,
		PaymentKey: payment.PaymentKey,
		ApprovedAt: formatTimePtr(payment.ApprovedAt),
		CreatedAt:  formatTime(payment.CreatedAt),
	}
}

func orderPayloadFrom(order domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			SKU:        item.SKU,
			ProductRef: item.ProductRef,
			OptionRef:  item.OptionRef,
			Name:       item.Name,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			Total:      item.Total,
		})
	}
	return orderPayload{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		UserRef:         order.UserRef,
		Status:          string(order.Status),
		PaymentStatus:   string(order.PaymentStatus),
		ShippingStatus:  string(order.ShippingStatus),
		DisplayStatus:   string(order.DisplayStatus),
		Subtotal:        order.Subtotal,
		ShippingFee:     order.ShippingFee,
		Discount:        order.Discount,
		Total:           order.Total,
		Items:           items,
		Recipient:       order.Recipient,
		Address:         order.Address,
		Courier:         order.Courier,
		TrackingNumber:  order.TrackingNumber,
		Memo:            order.Memo,
		InvoiceIssuedAt: formatTimePtr(order.InvoiceIssuedAt),
		PaidAt:          formatTimePtr(order.PaidAt),
		ShippedAt:       formatTimePtr(order.ShippedAt),
		DeliveredAt:     formatTimePtr(order.DeliveredAt),
		CanceledAt:      formatTimePtr(order.CanceledAt),
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
	}
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()

	dateRange, err := parseDateRangeQuery(query)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := parsePageQuery(query, defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.OrderListFilter{
		UserRef:     strings.TrimSpace(query.Get("user_ref")),
		OrderNumber: strings.TrimSpace(query.Get("order_number")),
		DateRange:   dateRange,
		Pagination:  page,
	}
	for _, value := range parseFilterValues(query["status"]) {
		status := domain.OrderStatus(value)
		if _, ok := validOrderStatuses[status]; !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown status filter "+value, http.StatusBadRequest))
			return
		}
		filter.Status = append(filter.Status, status)
	}
	for _, value := range parseFilterValues(query["payment_status"]) {
		status := domain.PaymentStatus(value)
		if _, ok := validPaymentStatuses[status]; !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown payment_status filter "+value, http.StatusBadRequest))
			return
		}
		filter.PaymentStatus = append(filter.PaymentStatus, status)
	}
	for _, value := range parseFilterValues(query["display_status"]) {
		status := domain.DisplayStatus(value)
		if _, ok := validDisplayStatuses[status]; !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown display_status filter "+value, http.StatusBadRequest))
			return
		}
		filter.DisplayStatus = append(filter.DisplayStatus, status)
	}

	pageResult, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(pageResult.Items))
	for _, order := range pageResult.Items {
		items = append(items, orderPayloadFrom(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: pageResult.NextPageToken,
	})
}

func (h *AdminOrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxOrderPatchBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cmd := services.CreateOrderCommand{
		UserRef:        strings.TrimSpace(req.UserRef),
		Subtotal:       req.Subtotal,
		ShippingFee:    req.ShippingFee,
		Discount:       req.Discount,
		Total:          req.Total,
		Recipient:      req.Recipient,
		Address:        req.Address,
		Actor:          requestActor(ctx),
		IdempotencyKey: requestIdempotencyKey(r),
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, domain.OrderItem{
			SKU:        item.SKU,
			ProductRef: item.ProductRef,
			OptionRef:  item.OptionRef,
			Name:       item.Name,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			Total:      item.Total,
		})
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderPayloadFrom(order))
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	detail, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payments := make([]paymentPayload, 0, len(detail.Payments))
	for _, payment := range detail.Payments {
		payments = append(payments, paymentPayloadFrom(payment))
	}
	returns := make([]returnRequestPayload, 0, len(detail.Returns))
	for _, ret := range detail.Returns {
		returns = append(returns, returnRequestPayloadFrom(ret))
	}
	writeJSONResponse(w, http.StatusOK, orderDetailPayload{
		Order:    orderPayloadFrom(detail.Order),
		Payments: payments,
		Returns:  returns,
	})
}

func (h *AdminOrderHandlers) patchOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxOrderPatchBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req patchOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cmd := services.OrderPatchCommand{
		OrderID:        orderID,
		Recipient:      req.Recipient,
		Address:        req.Address,
		Courier:        req.Courier,
		TrackingNumber: req.TrackingNumber,
		IssueInvoice:   req.IssueInvoice,
		MarkDelivered:  req.MarkDelivered,
		Actor:          requestActor(ctx),
		IdempotencyKey: requestIdempotencyKey(r),
	}
	if req.Status != nil {
		status := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(*req.Status)))
		if _, ok := validOrderStatuses[status]; !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown order status "+*req.Status, http.StatusBadRequest))
			return
		}
		cmd.Status = &status
	}
	if req.PaymentStatus != nil {
		status := domain.PaymentStatus(strings.ToUpper(strings.TrimSpace(*req.PaymentStatus)))
		if _, ok := validPaymentStatuses[status]; !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown payment status "+*req.PaymentStatus, http.StatusBadRequest))
			return
		}
		cmd.PaymentStatus = &status
	}
	if req.ShippingStatus != nil {
		status := domain.ShippingStatus(strings.ToUpper(strings.TrimSpace(*req.ShippingStatus)))
		if _, ok := validShippingStatuses[status]; !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown shipping status "+*req.ShippingStatus, http.StatusBadRequest))
			return
		}
		cmd.ShippingStatus = &status
	}
	if req.DisplayStatus != nil {
		status := domain.DisplayStatus(strings.ToUpper(strings.TrimSpace(*req.DisplayStatus)))
		if _, ok := validDisplayStatuses[status]; !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown display status "+*req.DisplayStatus, http.StatusBadRequest))
			return
		}
		cmd.DisplayStatus = &status
	}

	order, err := h.orders.ApplyPatch(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderPayloadFrom(order))
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds the allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
	}
}

func writeTransitionError(ctx context.Context, w http.ResponseWriter, err error) bool {
	var transition *domain.InvalidTransitionError
	if !errors.As(err, &transition) {
		if errors.Is(err, domain.ErrInvalidTransition) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", "state transition not allowed", http.StatusConflict))
			return true
		}
		return false
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", "state transition not allowed", http.StatusConflict).WithDetails(map[string]any{
		"entity":  transition.Label,
		"current": transition.Current,
		"next":    transition.Next,
	}))
	return true
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	if writeTransitionError(ctx, w, err) {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderNoUpdateFields):
		httpx.WriteError(ctx, w, httpx.NewError("no_update_fields", "patch contains no effective changes", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order payload is invalid", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOutOfStock):
		httpx.WriteError(ctx, w, httpx.NewError("out_of_stock", "insufficient stock to settle order", http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", "order was modified concurrently", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process order", http.StatusInternalServerError))
	}
}

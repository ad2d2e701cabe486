package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/mallkit/api/internal/domain"
	"github.com/mallkit/api/internal/platform/httpx"
	"github.com/mallkit/api/internal/services"
)

const (
	maxWebhookBodySize = 32 * 1024

	webhookRateLimit  = 120
	webhookRateWindow = time.Minute
)

var webhookProviders = map[string]domain.PaymentProvider{
	"gateway":       domain.PaymentProviderGateway,
	"bank-transfer": domain.PaymentProviderBankTransfer,
}

// WebhookHandlers ingests settlement notifications from payment providers.
// Authentication (HMAC signature and nonce validation) is applied by the
// webhook group middleware.
type WebhookHandlers struct {
	payments services.PaymentService
	limiter  rateLimiter
}

// WebhookOption customises the webhook handlers before construction.
type WebhookOption func(*WebhookHandlers)

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(payments services.PaymentService, opts ...WebhookOption) *WebhookHandlers {
	h := &WebhookHandlers{
		payments: payments,
		limiter:  newSimpleRateLimiter(webhookRateLimit, webhookRateWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// WithWebhookRateLimiter overrides the per-sender delivery rate limiter.
func WithWebhookRateLimiter(limiter rateLimiter) WebhookOption {
	return func(h *WebhookHandlers) {
		h.limiter = limiter
	}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/{provider}", h.paymentWebhook)
}

type paymentWebhookRequest struct {
	OrderID    string `json:"order_id"`
	PaymentKey string `json:"payment_key"`
	Amount     int64  `json:"amount"`
	Status     string `json:"status"`
	OccurredAt string `json:"occurred_at"`
}

func (h *WebhookHandlers) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	providerName := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	provider, ok := webhookProviders[providerName]
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unknown_provider", "unknown payment provider "+providerName, http.StatusNotFound))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(providerName+"|"+r.RemoteAddr) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many webhook deliveries", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req paymentWebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cmd := services.PaymentWebhookCommand{
		Provider:   provider,
		OrderID:    strings.TrimSpace(req.OrderID),
		PaymentKey: strings.TrimSpace(req.PaymentKey),
		Amount:     req.Amount,
		Status:     domain.PaymentStatus(strings.ToUpper(strings.TrimSpace(req.Status))),
	}
	if raw := strings.TrimSpace(req.OccurredAt); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "occurred_at must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.OccurredAt = ts
	}

	if err := h.payments.RecordWebhookEvent(ctx, cmd); err != nil {
		writePaymentWebhookError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
}

func writePaymentWebhookError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	if writeTransitionError(ctx, w, err) {
		return
	}
	switch {
	case errors.Is(err, services.ErrOutOfStock):
		httpx.WriteError(ctx, w, httpx.NewError("out_of_stock", "insufficient stock to settle order", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "webhook payload is invalid", http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", "order was modified concurrently", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process webhook", http.StatusInternalServerError))
	}
}

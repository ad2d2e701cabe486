package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/mallkit/api/internal/domain"
	"github.com/mallkit/api/internal/platform/httpx"
	"github.com/mallkit/api/internal/services"
)

const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 200
)

// AdminAuditLogHandlers exposes the append-only audit trail to staff.
type AdminAuditLogHandlers struct {
	audit services.AuditLogService
}

// NewAdminAuditLogHandlers constructs a new AdminAuditLogHandlers instance.
func NewAdminAuditLogHandlers(audit services.AuditLogService) *AdminAuditLogHandlers {
	return &AdminAuditLogHandlers{audit: audit}
}

// Routes registers the /admin/audit-logs endpoints.
func (h *AdminAuditLogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/audit-logs", h.listAuditLogs)
}

type auditLogDiffPayload struct {
	Before any `json:"before"`
	After  any `json:"after"`
}

type auditLogPayload struct {
	ID             string                         `json:"id"`
	Actor          string                         `json:"actor"`
	ActorType      string                         `json:"actor_type"`
	Action         string                         `json:"action"`
	TargetRef      string                         `json:"target_ref"`
	IdempotencyKey string                         `json:"idempotency_key,omitempty"`
	Diff           map[string]auditLogDiffPayload `json:"diff,omitempty"`
	Metadata       map[string]any                 `json:"metadata,omitempty"`
	CreatedAt      string                         `json:"created_at"`
}

type auditLogListResponse struct {
	Items         []auditLogPayload `json:"items"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

func auditLogPayloadFrom(entry domain.AuditLogEntry) auditLogPayload {
	payload := auditLogPayload{
		ID:             entry.ID,
		Actor:          entry.Actor,
		ActorType:      entry.ActorType,
		Action:         entry.Action,
		TargetRef:      entry.TargetRef,
		IdempotencyKey: entry.IdempotencyKey,
		Metadata:       cloneMap(entry.Metadata),
		CreatedAt:      formatTime(entry.CreatedAt),
	}
	if len(entry.Diff) > 0 {
		payload.Diff = make(map[string]auditLogDiffPayload, len(entry.Diff))
		for field, diff := range entry.Diff {
			payload.Diff[field] = auditLogDiffPayload{Before: diff.Before, After: diff.After}
		}
	}
	return payload
}

func (h *AdminAuditLogHandlers) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.audit == nil {
		httpx.WriteError(ctx, w, httpx.NewError("audit_service_unavailable", "audit log service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()

	dateRange, err := parseDateRangeQuery(query)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := parsePageQuery(query, defaultAuditPageSize, maxAuditPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.AuditLogFilter{
		TargetRef:  strings.TrimSpace(query.Get("target_ref")),
		Actor:      strings.TrimSpace(query.Get("actor")),
		ActorType:  strings.TrimSpace(query.Get("actor_type")),
		Action:     strings.TrimSpace(query.Get("action")),
		DateRange:  dateRange,
		Pagination: page,
	}

	pageResult, err := h.audit.List(ctx, filter)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to list audit logs", http.StatusInternalServerError))
		return
	}

	items := make([]auditLogPayload, 0, len(pageResult.Items))
	for _, entry := range pageResult.Items {
		items = append(items, auditLogPayloadFrom(entry))
	}
	writeJSONResponse(w, http.StatusOK, auditLogListResponse{
		Items:         items,
		NextPageToken: pageResult.NextPageToken,
	})
}

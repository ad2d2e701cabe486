package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strconv"
	"strings"
	"time"

	domain "github.com/mallkit/api/internal/domain"
	"github.com/mallkit/api/internal/platform/auth"
	"github.com/mallkit/api/internal/services"
)

const defaultMaxBodySize = 64 * 1024

// IdempotencyGuard binds a mutation route to its idempotency action and
// returns the middleware enforcing the guard for that action.
type IdempotencyGuard func(action string) func(http.Handler) http.Handler

func guardMiddleware(guard IdempotencyGuard, action string) func(http.Handler) http.Handler {
	if guard != nil {
		if mw := guard(action); mw != nil {
			return mw
		}
	}
	return func(next http.Handler) http.Handler { return next }
}

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultMaxBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseFilterValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	filters := make([]string, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.ToUpper(strings.TrimSpace(part))
			if trimmed == "" {
				continue
			}
			if _, exists := seen[trimmed]; exists {
				continue
			}
			seen[trimmed] = struct{}{}
			filters = append(filters, trimmed)
		}
	}
	return filters
}

func parseTimeParam(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("must be RFC3339 timestamp")
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	return maps.Clone(src)
}

func parseDateRangeQuery(query map[string][]string) (domain.RangeQuery[time.Time], error) {
	var dateRange domain.RangeQuery[time.Time]
	get := func(name string) string {
		if values := query[name]; len(values) > 0 {
			return strings.TrimSpace(values[0])
		}
		return ""
	}
	if raw := get("created_after"); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			return dateRange, fmt.Errorf("created_after %w", err)
		}
		dateRange.From = &ts
	}
	if raw := get("created_before"); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			return dateRange, fmt.Errorf("created_before %w", err)
		}
		dateRange.To = &ts
	}
	return dateRange, nil
}

func parsePageQuery(query map[string][]string, defaultSize, maxSize int) (domain.Pagination, error) {
	page := domain.Pagination{PageSize: defaultSize}
	get := func(name string) string {
		if values := query[name]; len(values) > 0 {
			return strings.TrimSpace(values[0])
		}
		return ""
	}
	if raw := get("page_size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return page, errors.New("page_size must be an integer")
		}
		if size <= 0 {
			return page, errors.New("page_size must be positive")
		}
		if size > maxSize {
			size = maxSize
		}
		page.PageSize = size
	}
	page.PageToken = get("page_token")
	return page, nil
}

func requestActor(ctx context.Context) services.Actor {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil {
		return services.Actor{Type: "unknown"}
	}
	actor := services.Actor{
		ID:        firstNonEmpty(identity.Email, identity.UID),
		Type:      "staff",
		CanRefund: identity.CanExecuteRefund(),
	}
	if identity.HasRole(auth.RoleAdmin) {
		actor.Type = "admin"
	}
	return actor
}

func requestIdempotencyKey(r *http.Request) string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.Header.Get("Idempotency-Key"))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

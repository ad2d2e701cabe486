package handlers

import (
	"net/http"
	"sort"
	"time"

	domain "github.com/mallkit/api/internal/domain"
	"github.com/mallkit/api/internal/services"
)

// HealthHandlers serves the /healthz liveness and /readyz readiness probes.
type HealthHandlers struct {
	system services.SystemService
	build  services.BuildInfo
	clock  func() time.Time
}

// HealthOption customises the health handlers before construction.
type HealthOption func(*HealthHandlers)

// NewHealthHandlers constructs handlers for the health endpoints.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.clock == nil {
		h.clock = time.Now
	}
	return h
}

// WithHealthSystemService wires the service used to probe dependencies on /readyz.
func WithHealthSystemService(svc services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = svc
	}
}

// WithHealthBuildInfo overrides the build metadata reported by /healthz.
func WithHealthBuildInfo(info services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the clock used for response timestamps.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		h.clock = clock
	}
}

func (h *HealthHandlers) buildInfo() services.BuildInfo {
	if h.build != (services.BuildInfo{}) {
		return h.build
	}
	if h.system != nil {
		return h.system.Build()
	}
	return services.BuildInfo{}
}

// Healthz reports process liveness. It never probes dependencies so a
// degraded backend does not cause restarts.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	info := h.buildInfo()
	payload := map[string]any{
		"status":      domain.HealthStatusOK,
		"time":        formatTime(h.clock()),
		"version":     info.Version,
		"commitSha":   info.CommitSHA,
		"environment": info.Environment,
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

// Readyz probes downstream dependencies and reports aggregate readiness.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.system == nil {
		writeJSONResponse(w, http.StatusOK, map[string]any{
			"status": domain.HealthStatusOK,
			"time":   formatTime(h.clock()),
		})
		return
	}

	report, err := h.system.HealthReport(r.Context())
	if err != nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, map[string]any{
			"status":  domain.HealthStatusError,
			"time":    formatTime(h.clock()),
			"details": []string{err.Error()},
		})
		return
	}

	checks := make(map[string]any, len(report.Checks))
	details := make([]string, 0)
	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := report.Checks[name]
		entry := map[string]any{
			"status": check.Status,
		}
		if check.Detail != "" {
			entry["detail"] = check.Detail
		}
		if check.Error != "" {
			entry["error"] = check.Error
			details = append(details, name+": "+check.Error)
		}
		if check.Latency > 0 {
			entry["latency_ms"] = check.Latency.Milliseconds()
		}
		if !check.CheckedAt.IsZero() {
			entry["checked_at"] = formatTime(check.CheckedAt)
		}
		checks[name] = entry
	}

	status := http.StatusOK
	if report.Status != domain.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}

	payload := map[string]any{
		"status":      report.Status,
		"time":        formatTime(h.clock()),
		"checks":      checks,
		"details":     details,
		"version":     report.Version,
		"commitSha":   report.CommitSHA,
		"environment": report.Environment,
	}
	if report.Uptime > 0 {
		payload["uptime_seconds"] = int64(report.Uptime.Seconds())
	}
	if !report.GeneratedAt.IsZero() {
		payload["generated_at"] = formatTime(report.GeneratedAt)
	}
	writeJSONResponse(w, status, payload)
}

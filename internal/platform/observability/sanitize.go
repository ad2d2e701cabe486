package observability

import (
	"strings"
	"unicode"
)

// Log field limits. Route patterns and identifiers come straight from the
// request, so they are stripped of control characters and clamped before
// they reach a log line.
const (
	maxFieldLen  = 256
	maxRouteLen  = 180
	maxMethodLen = 10
	maxUserIDLen = 64
)

func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = maxFieldLen
	}
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, value)
	runes := []rune(cleaned)
	if len(runes) > limit {
		return string(runes[:limit])
	}
	return cleaned
}

// SanitizeRoute cleans a chi route pattern for logging.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, maxRouteLen)
}

// SanitizeMethod cleans an HTTP method for logging.
func SanitizeMethod(method string) string {
	return sanitizeString(method, maxMethodLen)
}

// SanitizeUserID clamps a user identifier before it is logged.
func SanitizeUserID(uid string) string {
	if uid == "" {
		return ""
	}
	return sanitizeString(uid, maxUserIDLen)
}

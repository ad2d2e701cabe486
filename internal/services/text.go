package services

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/width"
)

// strictText strips all markup from operator-entered free text before it is
// persisted or echoed back.
var strictText = bluemonday.StrictPolicy()

func sanitizeFreeText(value string, max int) string {
	value = strictText.Sanitize(strings.TrimSpace(value))
	value = strings.TrimSpace(value)
	if max > 0 && len(value) > max {
		value = value[:max]
	}
	return value
}

// normalizeDepositorName folds full-width characters to their narrow forms
// and collapses runs of whitespace so operator matching of wire transfers is
// stable across input methods.
func normalizeDepositorName(value string) string {
	value = width.Fold.String(strings.TrimSpace(value))
	return strings.Join(strings.Fields(value), " ")
}

package textutil

import (
	"strings"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// NormalizeSlug folds a slug candidate into the canonical stored form:
// trimmed, full-width characters narrowed, NFKC-normalized, lowercased.
func NormalizeSlug(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	value = width.Narrow.String(value)
	value = norm.NFKC.String(value)
	return strings.ToLower(value)
}

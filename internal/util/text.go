package util

import "strings"

func SanitizePostgresText(value string) string {
	if value == "" {
		return value
	}

	sanitized := strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(sanitized, "\x00", "")
}

// NormalizeQueryText drops invalid UTF-8 and NUL bytes and collapses runs of
// whitespace, so classification and cache keys see one canonical form.
func NormalizeQueryText(value string) string {
	return strings.Join(strings.Fields(SanitizePostgresText(value)), " ")
}

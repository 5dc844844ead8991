package utils

import (
	"regexp"
	"strings"
)

var controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)

// SanitizeString strips control characters and surrounding whitespace from free text
func SanitizeString(s string) string {
	return strings.TrimSpace(controlChars.ReplaceAllString(s, ""))
}

// OrDefault returns s sanitized, or def when nothing remains
func OrDefault(s, def string) string {
	if clean := SanitizeString(s); clean != "" {
		return clean
	}
	return def
}

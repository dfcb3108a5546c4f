package observability

import (
	"strings"
	"unicode"
)

// Field length limits for values copied from requests into log entries.
const (
	maxRouteLength      = 180
	maxMethodLength     = 10
	maxAddressLength    = 64
	maxAnnotationLength = 64
)

// clip drops control characters other than whitespace and keeps at most limit runes.
func clip(value string, limit int) string {
	var b strings.Builder
	n := 0
	for _, r := range value {
		if n == limit {
			break
		}
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

// SanitizeRoute bounds a route or path for logging. Empty routes log as "/".
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return clip(route, maxRouteLength)
}

func SanitizeMethod(method string) string {
	return clip(method, maxMethodLength)
}

// SanitizeAnnotation bounds handler-supplied values such as cart ids and currency codes.
func SanitizeAnnotation(value string) string {
	return clip(strings.TrimSpace(value), maxAnnotationLength)
}

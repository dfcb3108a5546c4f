package textutil

import (
	"strings"
	"unicode/utf8"
)

// CompactStringMap trims keys and values and drops entries where either is empty. Keys longer
// than maxKey runes are dropped and values are cut to maxValue runes; a non-positive limit
// disables that check. Returns nil when nothing survives.
func CompactStringMap(values map[string]string, maxKey, maxValue int) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		if maxKey > 0 && utf8.RuneCountInString(key) > maxKey {
			continue
		}
		result[key] = truncateRunes(value, maxValue)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func truncateRunes(value string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit])
}

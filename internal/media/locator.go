package media

import (
	"regexp"
	"strings"
)

var (
	locatorPattern = regexp.MustCompile(`(?i)(https?://\S+)`)
	trailingPunct  = regexp.MustCompile(`[)\]}>,.]+$`)
)

// ExtractLocator returns the first http(s) URL in text with trailing
// punctuation removed. The boolean is false when text holds no URL.
func ExtractLocator(text string) (string, bool) {
	match := locatorPattern.FindString(text)
	if match == "" {
		return "", false
	}
	locator := trailingPunct.ReplaceAllString(match, "")
	if locator == "" {
		return "", false
	}
	return locator, true
}

// CacheKey derives the artifact cache key for a locator. Keys are the trimmed
// locator and nothing else: query order, scheme case, and tracking parameters
// all produce distinct keys.
func CacheKey(locator string) string {
	return strings.TrimSpace(locator)
}

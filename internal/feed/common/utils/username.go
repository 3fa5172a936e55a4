package utils

import (
	"strings"

	"github.com/samber/lo"
)

// NormalizeUsername returns a username in canonical form:
// - Trimmed of surrounding whitespace
// - Without a leading "@"
// - Lowercased
func NormalizeUsername(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "@")
	return strings.ToLower(name)
}

// ProfileHandle extracts the handle from a single-segment profile href such as
// "/alice/". Direct-post paths ("/p/...") and anything with more or fewer
// segments are rejected.
func ProfileHandle(href string) (string, bool) {
	if len(href) < 3 || href[0] != '/' || href[len(href)-1] != '/' {
		return "", false
	}
	inner := href[1 : len(href)-1]
	if inner == "" || strings.Contains(inner, "/") {
		return "", false
	}
	if strings.HasPrefix(href, "/p/") {
		return "", false
	}
	return inner, true
}

// NormalizeList trims entries, drops empties and removes case-insensitive
// duplicates while keeping the first spelling seen.
func NormalizeList(items []string) []string {
	trimmed := lo.FilterMap(items, func(s string, _ int) (string, bool) {
		s = strings.TrimSpace(s)
		return s, s != ""
	})
	return lo.UniqBy(trimmed, strings.ToLower)
}

// ContainsAnyFold reports whether text contains any of the phrases,
// case-insensitively. Empty phrases never match.
func ContainsAnyFold(text string, phrases []string) bool {
	lower := strings.ToLower(text)
	return lo.SomeBy(phrases, func(p string) bool {
		return p != "" && strings.Contains(lower, strings.ToLower(p))
	})
}

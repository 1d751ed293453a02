package entity

import (
	"strings"
	"unicode"
)

// toCamel converts snake_case to camelCase, the fallback mapping for raw
// columns that carry no explicit field declaration.
func toCamel(s string) string {
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))

	upperNext := false
	for i, r := range s {
		if r == '_' {
			upperNext = b.Len() > 0
			continue
		}
		switch {
		case upperNext:
			b.WriteRune(unicode.ToUpper(r))
			upperNext = false
		case i == 0:
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

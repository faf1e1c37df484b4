// Package strings holds small string helpers shared by request types.
package strings

import (
	"strings"
	"unicode"
)

// DedupeFold trims and lowercases each value, drops blanks and keeps the
// first occurrence of each. Order is preserved.
func DedupeFold(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		folded := strings.ToLower(strings.TrimSpace(v))
		if folded == "" {
			continue
		}
		if _, ok := seen[folded]; ok {
			continue
		}
		seen[folded] = struct{}{}
		result = append(result, folded)
	}
	return result
}

// TrimInPlace trims every field pointed to.
func TrimInPlace(fields ...*string) {
	for _, f := range fields {
		if f != nil {
			*f = strings.TrimSpace(*f)
		}
	}
}

// TrimEach trims the elements of values in place.
func TrimEach(values []string) {
	for i, v := range values {
		values[i] = strings.TrimSpace(v)
	}
}

// SnakeCase turns a Go identifier into its snake_case form, keeping
// acronyms together: "ConsentIDs" -> "consent_ids".
func SnakeCase(ident string) string {
	runes := []rune(ident)
	var b strings.Builder
	b.Grow(len(ident) + 4)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1])
			// "IDs": the trailing s belongs to the acronym
			if nextLower && i+2 == len(runes) && runes[i+1] == 's' {
				nextLower = false
			}
			if prevLower || nextLower {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

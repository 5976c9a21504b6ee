// Package entity resolves extracted company and investor names to stable
// entity records keyed by a normalized name.
package entity

import (
	"strings"
	"unicode"
)

// Normalize canonicalizes a display name into its matching key: lowercase,
// every rune that is not a letter, digit or whitespace removed, trimmed.
// Normalize("ACME, Inc.") == Normalize("Acme Inc") == "acme inc".
func Normalize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

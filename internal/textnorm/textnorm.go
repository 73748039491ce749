package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lower-cases, trims and strips combining marks, so "Duração" and
// "duracao" compare equal.
func Fold(value string) string {
	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(folder, value)
	if err != nil {
		folded = value
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// ContainsAny reports whether value contains at least one of the hints.
func ContainsAny(value string, hints ...string) bool {
	for _, hint := range hints {
		if strings.Contains(value, hint) {
			return true
		}
	}
	return false
}

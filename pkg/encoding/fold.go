package encoding

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FoldASCII strips diacritics ("Café Ñandú" -> "Cafe Nandu").
// If the transform fails the input is returned trimmed.
func FoldASCII(s string) string {
	if s == "" {
		return ""
	}

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return strings.TrimSpace(s)
	}

	return strings.TrimSpace(folded)
}

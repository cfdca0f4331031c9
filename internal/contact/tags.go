package contact

import (
	"regexp"
	"strings"

	"github.com/Guizzs26/shop-sync/pkg/encoding"
)

const maxTagLen = 60

var (
	tagSpaces  = regexp.MustCompile(`\s+`)
	tagInvalid = regexp.MustCompile(`[^a-z0-9_-]`)
)

// NormalizeTag folds accents, lower-cases, turns whitespace into "-" and
// drops anything outside [a-z0-9_-]. "Big Sale!" becomes "big-sale".
func NormalizeTag(s string) string {
	s = strings.ToLower(encoding.FoldASCII(s))
	s = strings.TrimSpace(strings.NewReplacer(`"`, "", "'", "").Replace(s))
	s = tagSpaces.ReplaceAllString(s, "-")
	s = tagInvalid.ReplaceAllString(s, "")
	if len(s) > maxTagLen {
		s = s[:maxTagLen]
	}
	return s
}

// NormalizeTags normalizes, drops empties and dedupes keeping first occurrence.
// Comma separated entries are split first.
func NormalizeTags(raw []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, entry := range raw {
		for part := range strings.SplitSeq(entry, ",") {
			t := NormalizeTag(part)
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

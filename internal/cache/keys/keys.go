// Package keys builds cache keys for tile content.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const prefix = "tile"

// Content returns the cache key for one tile's content. scope is the
// canonical query string the tileset was requested with; content fetched
// under different filters or output CRS never shares a key.
func Content(table, crs, scope, ref string) string {
	tableSafe := sanitize(strings.TrimSpace(table))
	crsSafe := sanitize(strings.ToUpper(strings.TrimSpace(crs)))

	refSafe := sanitize(ref)
	const maxRefTextLen = 120
	if len(refSafe) > maxRefTextLen {
		refSafe = refSafe[:maxRefTextLen]
	}

	scopeSum := xxhash.Sum64String(scope)
	refSum := xxhash.Sum64String(ref)

	return fmt.Sprintf("%s:%s:%s:q=%016x:%s:r=%016x", prefix, tableSafe, crsSafe, scopeSum, refSafe, refSum)
}

// sanitize keeps key-safe runes, maps whitespace to '_' and everything else
// to '-', collapsing repeats.
func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case unicode.IsSpace(r):
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-' || r == '.':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}

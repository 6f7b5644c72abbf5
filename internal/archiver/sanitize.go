package archiver

import (
	"regexp"
	"strings"
)

// invalidChars matches the reserved filesystem characters and any
// whitespace run: < > : " / \ | ? *
var invalidChars = regexp.MustCompile(`[<>:"/\\|?*\s]+`)

// maxSegmentLength is the truncation bound for a sanitized path segment.
const maxSegmentLength = 100

// sanitizeSegment replaces reserved characters and whitespace runs with a
// single underscore, collapses runs, eliminates traversal sequences and
// leading dots, and truncates to maxSegmentLength code points. An input
// with nothing left after sanitization becomes a safe placeholder.
func sanitizeSegment(name string) string {
	cleaned := invalidChars.ReplaceAllString(name, "_")

	// ".." must be eliminated to a fixed point, not in one pass: a single
	// substitution over ".._.." style input leaves a traversal sequence
	// behind.
	for strings.Contains(cleaned, "..") {
		cleaned = strings.ReplaceAll(cleaned, "..", "_")
	}

	cleaned = collapseUnderscores(cleaned)
	cleaned = strings.Trim(cleaned, "_")
	// Stripping underscores can re-expose a leading dot, so the dot strip
	// comes last. Underscores are included so "_.foo" style remainders
	// reduce cleanly.
	cleaned = strings.TrimLeft(cleaned, "._")

	runes := []rune(cleaned)
	if len(runes) > maxSegmentLength {
		runes = runes[:maxSegmentLength]
	}
	cleaned = string(runes)

	if cleaned == "" {
		cleaned = "unnamed"
	}
	return cleaned
}

func collapseUnderscores(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if r == '_' {
			if lastUnderscore {
				continue
			}
			lastUnderscore = true
		} else {
			lastUnderscore = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Package text provides utterance normalization and language detection.
package text

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// canonical removes format runes (zero-width, directional marks) and
// applies Unicode canonical composition.
var canonical = transform.Chain(runes.Remove(runes.In(unicode.Cf)), norm.NFC)

// foldDiacritics strips combining marks (DUPONT, Élodie -> elodie).
// Used only for the telemetry hash form, never for matching.
var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalizer canonicalizes raw utterances for consistent matching.
// Deterministic and side-effect free: it always returns a value,
// possibly empty, never an error.
type Normalizer struct {
	maxLen int // runes
}

// NewNormalizer creates a normalizer that truncates input to maxLen runes.
func NewNormalizer(maxLen int) *Normalizer {
	if maxLen <= 0 {
		maxLen = 512
	}
	return &Normalizer{maxLen: maxLen}
}

// Normalize applies, in order: rune-length truncation (so oversized input
// never reaches the transforms), format-rune removal, canonical
// composition, lowercasing, and whitespace collapsing.
func (n *Normalizer) Normalize(text string) string {
	text = truncateRunes(text, n.maxLen)

	out, _, err := transform.String(canonical, text)
	if err != nil {
		// Malformed UTF-8; match on the raw bytes rather than failing.
		out = text
	}

	out = strings.ToLower(out)
	return collapseSpaces(out)
}

// FoldForHash produces the case/diacritic-normalized, length-truncated
// form fed to the keyed telemetry hash. Lowercasing happens here too, so
// the hash form does not depend on whether input was normalized first.
func (n *Normalizer) FoldForHash(normalized string, truncLen int) string {
	lowered := strings.ToLower(normalized)
	folded, _, err := transform.String(foldDiacritics, lowered)
	if err != nil {
		folded = lowered
	}
	return truncateRunes(folded, truncLen)
}

// MaxLen returns the configured rune limit.
func (n *Normalizer) MaxLen() int {
	return n.maxLen
}

// collapseSpaces maps all Unicode whitespace to plain spaces and
// collapses runs, trimming the ends.
func collapseSpaces(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == max {
			return s[:i]
		}
		count++
	}
	return s
}

package names

import (
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Similarity thresholds used by the enrichment workers. The matcher is
// deliberately tiered: exact and cleaned comparisons run before any
// percentage check so short strings are not accepted on edit distance alone.
const (
	// SimilarThreshold gates the general "similar" tier used for artist
	// image lookups and top-result acceptance.
	SimilarThreshold = 85
	// MatchThreshold gates producer/artist matching during metadata-API
	// song matching.
	MatchThreshold = 80
	// LenientThreshold accepts a "reasonably close" candidate only when
	// no better candidate exists.
	LenientThreshold = 70
)

var (
	parentheticalRe = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]`)
	featClauseRe    = regexp.MustCompile(`(?i)\s+(feat\.|featuring|ft\.|with)\s+.*$`)
	whitespaceRe    = regexp.MustCompile(`\s+`)
)

// Clean normalizes a free-text name for comparison: parenthetical and
// bracketed segments are removed, a leading "the " article and trailing
// featuring clauses are stripped, and internal whitespace is collapsed.
// The result is lowercased.
func Clean(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = parentheticalRe.ReplaceAllString(s, "")
	s = featClauseRe.ReplaceAllString(s, "")
	s = strings.TrimPrefix(s, "the ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Exact reports whether two names are equal after trimming whitespace,
// ignoring case.
func Exact(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// CleanedMatch reports whether the cleaned forms of two names are equal, or
// whether one contains the other. Substring containment is only considered
// when both cleaned strings are longer than 3 characters, which keeps short
// names from matching everything.
func CleanedMatch(a, b string) bool {
	ca, cb := Clean(a), Clean(b)
	if ca == "" || cb == "" {
		return false
	}
	if ca == cb {
		return true
	}
	if len(ca) > 3 && len(cb) > 3 {
		return strings.Contains(ca, cb) || strings.Contains(cb, ca)
	}
	return false
}

// Similarity returns the character-level similarity percentage between the
// cleaned, lowercased forms of two names. 100 means identical.
func Similarity(a, b string) int {
	ca, cb := Clean(a), Clean(b)
	if ca == cb {
		return 100
	}
	longest := len(ca)
	if len(cb) > longest {
		longest = len(cb)
	}
	if longest == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(ca, cb)
	pct := 100 - (dist*100)/longest
	if pct < 0 {
		pct = 0
	}
	return pct
}

// Matches reports whether two names pass the exact tier, the cleaned tier,
// or a percentage similarity at or above the given threshold.
func Matches(a, b string, threshold int) bool {
	if Exact(a, b) {
		return true
	}
	if CleanedMatch(a, b) {
		return true
	}
	return Similarity(a, b) >= threshold
}

// IsSimilar is the general-purpose tier: exact, cleaned, or >= 85%.
func IsSimilar(a, b string) bool {
	return Matches(a, b, SimilarThreshold)
}

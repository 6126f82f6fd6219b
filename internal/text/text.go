// Package text holds the shared normalization and similarity helpers
// used by the analyzer, resolver, and deduplicator.
package text

import (
	"strings"
	"unicode"
)

// Normalize lowercases, strips control characters, and collapses
// whitespace runs to single spaces.
func Normalize(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	lastSpace := false
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}

// Tokenize splits normalized text on non-alphanumeric runes.
func Tokenize(input string) []string {
	normalized := Normalize(input)
	if normalized == "" {
		return nil
	}

	parts := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		tokens = append(tokens, p)
	}
	return tokens
}

func TokenSet(input string) map[string]struct{} {
	tokens := Tokenize(input)
	if len(tokens) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		set[token] = struct{}{}
	}
	return set
}

// TokenJaccard is the Jaccard similarity of the two token sets.
func TokenJaccard(left, right string) float64 {
	return jaccard(TokenSet(left), TokenSet(right))
}

// TrigramJaccard is the Jaccard similarity of the rune-trigram sets of
// the normalized inputs. Inputs shorter than three runes compare as a
// single gram.
func TrigramJaccard(left, right string) float64 {
	return jaccard(TrigramSet(left), TrigramSet(right))
}

func TrigramSet(input string) map[string]struct{} {
	normalized := Normalize(input)
	if normalized == "" {
		return nil
	}

	runes := []rune(normalized)
	if len(runes) < 3 {
		return map[string]struct{}{string(runes): {}}
	}

	set := make(map[string]struct{}, len(runes)-2)
	for i := 0; i <= len(runes)-3; i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}

// LevenshteinRatio is 1 - (edit distance / longer length), computed
// over the normalized inputs' runes.
func LevenshteinRatio(left, right string) float64 {
	a := []rune(Normalize(left))
	b := []rune(Normalize(right))
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	distance := prev[len(b)]
	longest := max(len(a), len(b))
	return 1 - float64(distance)/float64(longest)
}

func jaccard(leftSet, rightSet map[string]struct{}) float64 {
	if len(leftSet) == 0 || len(rightSet) == 0 {
		return 0
	}

	intersection := 0
	for token := range leftSet {
		if _, ok := rightSet[token]; ok {
			intersection++
		}
	}
	if intersection == 0 {
		return 0
	}

	union := len(leftSet) + len(rightSet) - intersection
	if union <= 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// TruncateSentence cuts text to at most maxLen runes, preferring the
// last full sentence boundary; without one it appends an ellipsis.
func TruncateSentence(input string, maxLen int) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" || maxLen <= 0 {
		return ""
	}
	runes := []rune(trimmed)
	if len(runes) <= maxLen {
		return trimmed
	}

	cut := string(runes[:maxLen])
	if lastPeriod := strings.LastIndex(cut, "."); lastPeriod > 0 {
		return cut[:lastPeriod+1]
	}
	return cut + "..."
}

package analyze

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/halcyonbio/pharmawatch/internal/text"
)

// drugPatterns match generic-name suffixes: monoclonal antibodies,
// kinase inhibitors, humanized antibodies, tyrosine kinase inhibitors,
// and CDK inhibitors.
var drugPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b[A-Z][a-z]*mab\b`),
	regexp.MustCompile(`\b[A-Z][a-z]*nib\b`),
	regexp.MustCompile(`\b[A-Z][a-z]*zumab\b`),
	regexp.MustCompile(`\b[A-Z][a-z]*tinib\b`),
	regexp.MustCompile(`\b[A-Z][a-z]*ciclib\b`),
}

// ExtractDrugNames returns drug-name candidates in order of first
// appearance, deduplicated.
func ExtractDrugNames(input string) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, pattern := range drugPatterns {
		for _, match := range pattern.FindAllString(input, -1) {
			if _, exists := seen[match]; exists {
				continue
			}
			seen[match] = struct{}{}
			names = append(names, match)
		}
	}
	return names
}

// stopwords lists generic English words plus the handful of domain
// words that appear in virtually every record and carry no signal.
var stopwords = map[string]struct{}{
	"a": {}, "about": {}, "after": {}, "all": {}, "an": {}, "and": {},
	"are": {}, "as": {}, "at": {}, "be": {}, "been": {}, "but": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "have": {}, "in": {},
	"into": {}, "is": {}, "it": {}, "its": {}, "more": {}, "new": {},
	"no": {}, "not": {}, "of": {}, "on": {}, "or": {}, "over": {},
	"than": {}, "that": {}, "the": {}, "their": {}, "this": {}, "to": {},
	"under": {}, "up": {}, "was": {}, "were": {}, "will": {}, "with": {},
	"study": {}, "trial": {}, "phase": {}, "patients": {},
}

// TopTerms returns the k most frequent non-stopword tokens, most
// frequent first. Ties break toward the token that appeared earlier in
// the text.
func TopTerms(input string, k int) []string {
	if k <= 0 {
		return nil
	}

	tokens := text.Tokenize(text.Normalize(input))

	type termInfo struct {
		count     int
		firstSeen int
	}
	infos := make(map[string]*termInfo)
	order := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if len(token) < 3 || isNumeric(token) {
			continue
		}
		if _, stop := stopwords[token]; stop {
			continue
		}
		info, exists := infos[token]
		if !exists {
			infos[token] = &termInfo{count: 1, firstSeen: len(order)}
			order = append(order, token)
			continue
		}
		info.count++
	}

	sort.SliceStable(order, func(i, j int) bool {
		a, b := infos[order[i]], infos[order[j]]
		if a.count != b.count {
			return a.count > b.count
		}
		return a.firstSeen < b.firstSeen
	})

	if len(order) > k {
		order = order[:k]
	}
	return order
}

func isNumeric(token string) bool {
	for _, r := range token {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(token) > 0
}

func mergeTerms(primary, secondary []string, limit int) []string {
	seen := make(map[string]struct{}, len(primary)+len(secondary))
	merged := make([]string, 0, len(primary)+len(secondary))
	for _, group := range [][]string{primary, secondary} {
		for _, term := range group {
			key := strings.ToLower(term)
			if _, exists := seen[key]; exists {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, term)
		}
	}
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

package analyze

import (
	"fmt"
	"sort"
	"strings"

	"github.com/halcyonbio/pharmawatch/internal/text"
)

// DefaultScorerName is used when SENTIMENT_SCORER is unset.
const DefaultScorerName = "lexicon"

const (
	LabelPositive = "positive"
	LabelNegative = "negative"
	LabelNeutral  = "neutral"
)

// Polarity bands: scores above/below these cutoffs classify as
// positive/negative, everything between as neutral.
const (
	positiveBand = 0.1
	negativeBand = -0.1
)

// Scorer produces a polarity score in [-1, 1] for a piece of text.
type Scorer interface {
	Name() string
	Score(input string) (float64, error)
}

// Label maps a polarity score onto its sentiment band.
func Label(score float64) string {
	switch {
	case score > positiveBand:
		return LabelPositive
	case score < negativeBand:
		return LabelNegative
	default:
		return LabelNeutral
	}
}

var positiveWords = []string{
	"good", "great", "excellent", "positive", "success", "successful",
	"approved", "approval", "effective", "efficacy", "breakthrough", "promising",
}

var negativeWords = []string{
	"bad", "poor", "negative", "failed", "failure", "rejected",
	"adverse", "risk", "setback", "discontinued", "warning", "recall",
}

// LexiconScorer counts polarity word occurrences and scores
// (positive - negative) / (positive + negative). Text with no lexicon
// hits scores zero.
type LexiconScorer struct{}

func (LexiconScorer) Name() string { return "lexicon" }

func (LexiconScorer) Score(input string) (float64, error) {
	tokens := text.Tokenize(text.Normalize(input))
	counts := make(map[string]int, len(tokens))
	for _, token := range tokens {
		counts[token]++
	}

	var positive, negative int
	for _, word := range positiveWords {
		positive += counts[word]
	}
	for _, word := range negativeWords {
		negative += counts[word]
	}

	total := positive + negative
	if total == 0 {
		return 0, nil
	}
	return float64(positive-negative) / float64(total), nil
}

// NeutralScorer scores everything zero. Useful when sentiment should
// be suppressed without changing the rest of the pipeline.
type NeutralScorer struct{}

func (NeutralScorer) Name() string { return "neutral" }

func (NeutralScorer) Score(string) (float64, error) { return 0, nil }

// ScorerRegistry stores sentiment scorers and resolves a default.
type ScorerRegistry struct {
	scorers       map[string]Scorer
	defaultScorer string
}

func NewScorerRegistry(defaultScorer string) *ScorerRegistry {
	normalizedDefault := normalizeScorerName(defaultScorer)
	if normalizedDefault == "" {
		normalizedDefault = DefaultScorerName
	}

	return &ScorerRegistry{
		scorers:       make(map[string]Scorer),
		defaultScorer: normalizedDefault,
	}
}

// NewDefaultScorerRegistry creates a registry with every built-in
// scorer registered.
func NewDefaultScorerRegistry(defaultScorer string) *ScorerRegistry {
	registry := NewScorerRegistry(defaultScorer)
	_ = registry.Register(LexiconScorer{})
	_ = registry.Register(NeutralScorer{})

	if _, exists := registry.scorers[registry.defaultScorer]; !exists {
		registry.defaultScorer = DefaultScorerName
	}

	return registry
}

func (r *ScorerRegistry) Register(scorer Scorer) error {
	if r == nil {
		return fmt.Errorf("registry is nil")
	}
	if scorer == nil {
		return fmt.Errorf("scorer is nil")
	}
	name := normalizeScorerName(scorer.Name())
	if name == "" {
		return fmt.Errorf("scorer name is required")
	}
	r.scorers[name] = scorer
	return nil
}

// Scorer resolves a scorer by name. Empty names use the configured
// default.
func (r *ScorerRegistry) Scorer(name string) (Scorer, error) {
	if r == nil {
		return nil, fmt.Errorf("registry is nil")
	}
	if len(r.scorers) == 0 {
		return nil, fmt.Errorf("no sentiment scorers are registered")
	}

	resolved := normalizeScorerName(name)
	if resolved == "" {
		resolved = r.defaultScorer
	}
	scorer, ok := r.scorers[resolved]
	if ok {
		return scorer, nil
	}

	return nil, fmt.Errorf("sentiment scorer %q is not registered (available: %s)", resolved, strings.Join(r.ScorerNames(), ", "))
}

func (r *ScorerRegistry) ScorerNames() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.scorers))
	for name := range r.scorers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeScorerName(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Package analyze scores sentiment and extracts terms from canonical
// record text. Scoring degrades to neutral rather than failing a
// record: non-English text and scorer errors both keep their extracted
// terms and a neutral label.
package analyze

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/halcyonbio/pharmawatch/internal/langdetect"
)

// Result is the analyzer's output for one record.
type Result struct {
	SentimentScore float64
	SentimentLabel string
	Language       string
	Terms          []string
}

type Analyzer struct {
	scorer   Scorer
	topTerms int
	logger   zerolog.Logger
}

func New(scorer Scorer, topTerms int, logger zerolog.Logger) *Analyzer {
	if topTerms <= 0 {
		topTerms = 10
	}
	return &Analyzer{
		scorer:   scorer,
		topTerms: topTerms,
		logger:   logger,
	}
}

// Analyze scores the combined title and body text.
func (a *Analyzer) Analyze(title, body string) Result {
	combined := strings.TrimSpace(strings.TrimSpace(title) + " " + strings.TrimSpace(body))

	code := langdetect.DetectISO6391(combined)
	language := code
	if language == "" {
		language = "und"
	}

	result := Result{
		SentimentLabel: LabelNeutral,
		Language:       language,
		Terms:          mergeTerms(ExtractDrugNames(combined), TopTerms(combined, a.topTerms), a.topTerms),
	}

	// The lexicon is English; other languages keep neutral sentiment.
	if code != "" && code != "en" {
		return result
	}

	score, err := a.scorer.Score(combined)
	if err != nil {
		a.logger.Warn().
			Err(err).
			Str("scorer", a.scorer.Name()).
			Msg("sentiment scoring failed, keeping neutral")
		return result
	}

	result.SentimentScore = score
	result.SentimentLabel = Label(score)
	return result
}

package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/halcyonbio/pharmawatch/internal/globaltime"
	"github.com/halcyonbio/pharmawatch/internal/reader"
)

const newswireContentLimit = 500

// newswireSite is one whitelisted trade-press landing page.
type newswireSite struct {
	name string
	url  string
}

// newswireSites is the fixed whitelist of trade-press sources. Arbitrary
// URLs are never fetched.
var newswireSites = []newswireSite{
	{name: "FiercePharma", url: "https://www.fiercepharma.com/pharma"},
	{name: "BioSpace", url: "https://www.biospace.com/news/"},
	{name: "PharmaTimes", url: "https://www.pharmatimes.com/news"},
	{name: "Endpoints News", url: "https://endpts.com"},
}

// NewswireAdapter scrapes headline text from whitelisted trade-press
// pages. Each fetch yields at most one record per site.
type NewswireAdapter struct {
	client  *http.Client
	timeout time.Duration
	logger  zerolog.Logger
}

func NewNewswireAdapter(client *http.Client, timeout time.Duration, logger zerolog.Logger) *NewswireAdapter {
	if timeout <= 0 {
		timeout = reader.DefaultFetchTimeout
	}
	return &NewswireAdapter{
		client:  client,
		timeout: timeout,
		logger:  logger,
	}
}

func (a *NewswireAdapter) Name() string { return NameNewswire }

func (a *NewswireAdapter) Fetch(ctx context.Context, query Query) ([]RawRecord, error) {
	term := strings.ToLower(strings.TrimSpace(query.Term))
	fetchedAt := globaltime.Now().UTC().Format(time.RFC3339)

	records := make([]RawRecord, 0, len(newswireSites))
	var failures int
	for _, site := range newswireSites {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if query.Limit > 0 && len(records) >= query.Limit {
			break
		}

		title := "Latest Updates from " + site.name
		text, err := reader.FetchTextWithOptions(ctx, site.url, title, reader.FetchOptions{
			Timeout:    a.timeout,
			HTTPClient: a.client,
		})
		if err != nil {
			failures++
			a.logger.Warn().
				Err(err).
				Str("site", site.name).
				Msg("newswire site failed, continuing")
			continue
		}

		if term != "" && !strings.Contains(strings.ToLower(text), term) {
			continue
		}

		content, _ := reader.TruncateText(text, newswireContentLimit)
		records = append(records, RawRecord{
			"id":           site.url,
			"source_name":  site.name,
			"title":        title,
			"url":          site.url,
			"published_at": fetchedAt,
			"content":      content,
		})
	}

	if failures == len(newswireSites) {
		return nil, fmt.Errorf("newswire: all %d sites failed: %w", failures, ErrUnavailable)
	}

	return records, nil
}

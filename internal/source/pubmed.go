package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// PubMedAdapter fetches publication summaries through the NCBI Entrez
// esearch + esummary endpoints.
type PubMedAdapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewPubMedAdapter(baseURL, apiKey string, client *http.Client) *PubMedAdapter {
	return &PubMedAdapter{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		client:  client,
	}
}

func (a *PubMedAdapter) Name() string { return NamePubMed }

func (a *PubMedAdapter) Fetch(ctx context.Context, query Query) ([]RawRecord, error) {
	if a == nil || a.baseURL == "" {
		return nil, fmt.Errorf("pubmed adapter is not configured")
	}

	ids, err := a.search(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	return a.summaries(ctx, ids)
}

func (a *PubMedAdapter) search(ctx context.Context, query Query) ([]string, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 20
	}

	term := strings.TrimSpace(query.Term)
	if term == "" {
		term = "pharmaceutical"
	}

	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("term", term)
	params.Set("retmax", strconv.Itoa(limit))
	params.Set("retmode", "json")
	params.Set("sort", "date")
	if !query.Since.IsZero() {
		params.Set("datetype", "pdat")
		params.Set("mindate", query.Since.UTC().Format("2006/01/02"))
		params.Set("maxdate", "3000")
	}
	if a.apiKey != "" {
		params.Set("api_key", a.apiKey)
	}

	var decoded struct {
		ESearchResult struct {
			IDList []string `json:"idlist"`
		} `json:"esearchresult"`
	}
	if err := getJSON(ctx, a.client, a.baseURL+"/esearch.fcgi?"+params.Encode(), &decoded); err != nil {
		return nil, fmt.Errorf("pubmed search: %w", err)
	}
	return decoded.ESearchResult.IDList, nil
}

func (a *PubMedAdapter) summaries(ctx context.Context, ids []string) ([]RawRecord, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("id", strings.Join(ids, ","))
	params.Set("retmode", "json")
	if a.apiKey != "" {
		params.Set("api_key", a.apiKey)
	}

	var decoded struct {
		Result map[string]any `json:"result"`
	}
	if err := getJSON(ctx, a.client, a.baseURL+"/esummary.fcgi?"+params.Encode(), &decoded); err != nil {
		return nil, fmt.Errorf("pubmed summary: %w", err)
	}

	records := make([]RawRecord, 0, len(ids))
	for _, id := range ids {
		entry, ok := decoded.Result[id].(map[string]any)
		if !ok {
			continue
		}
		records = append(records, RawRecord(entry))
	}
	return records, nil
}

package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/halcyonbio/pharmawatch/internal/globaltime"
)

// FDAAdapter fetches drug approval records from the openFDA drugsfda
// endpoint. Each application is flattened to one record per product so
// downstream stages see a flat stream.
type FDAAdapter struct {
	baseURL string
	client  *http.Client
}

func NewFDAAdapter(baseURL string, client *http.Client) *FDAAdapter {
	return &FDAAdapter{
		baseURL: strings.TrimSpace(baseURL),
		client:  client,
	}
}

func (a *FDAAdapter) Name() string { return NameFDA }

type fdaResult struct {
	ApplicationNumber string `json:"application_number"`
	Products          []struct {
		BrandName     string `json:"brand_name"`
		ProductNumber string `json:"product_number"`
	} `json:"products"`
	Submissions []struct {
		SubmissionStatus     string `json:"submission_status"`
		SubmissionStatusDate string `json:"submission_status_date"`
	} `json:"submissions"`
	OpenFDA struct {
		ManufacturerName    []string `json:"manufacturer_name"`
		IndicationsAndUsage []string `json:"indications_and_usage"`
	} `json:"openfda"`
}

func (a *FDAAdapter) Fetch(ctx context.Context, query Query) ([]RawRecord, error) {
	if a == nil || a.baseURL == "" {
		return nil, fmt.Errorf("fda adapter is not configured")
	}

	limit := query.Limit
	if limit <= 0 {
		limit = 20
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("search", buildFDASearch(query))

	var decoded struct {
		Results []fdaResult `json:"results"`
	}
	if err := getJSON(ctx, a.client, a.baseURL+"?"+params.Encode(), &decoded); err != nil {
		return nil, fmt.Errorf("fda: %w", err)
	}

	records := make([]RawRecord, 0, len(decoded.Results))
	for _, result := range decoded.Results {
		approvalDate := latestApprovalDate(result)

		manufacturer := ""
		if len(result.OpenFDA.ManufacturerName) > 0 {
			manufacturer = result.OpenFDA.ManufacturerName[0]
		}
		indication := ""
		if len(result.OpenFDA.IndicationsAndUsage) > 0 {
			indication = result.OpenFDA.IndicationsAndUsage[0]
		}

		for _, product := range result.Products {
			records = append(records, RawRecord{
				"drug_name":          product.BrandName,
				"product_number":     product.ProductNumber,
				"company":            manufacturer,
				"approval_date":      approvalDate,
				"indication":         indication,
				"application_number": result.ApplicationNumber,
				"url":                fdaApplicationURL(result.ApplicationNumber),
			})
		}
	}

	return records, nil
}

// latestApprovalDate returns the status date of the most recent approved
// submission, or "" when the application has none.
func latestApprovalDate(result fdaResult) string {
	submissions := result.Submissions
	sort.Slice(submissions, func(i, j int) bool {
		return submissions[i].SubmissionStatusDate > submissions[j].SubmissionStatusDate
	})
	for _, submission := range submissions {
		if submission.SubmissionStatus == "AP" {
			return submission.SubmissionStatusDate
		}
	}
	return ""
}

func fdaApplicationURL(applicationNumber string) string {
	return "https://www.accessdata.fda.gov/scripts/cder/daf/index.cfm?event=overview.process&ApplNo=" + url.QueryEscape(applicationNumber)
}

func buildFDASearch(query Query) string {
	parts := make([]string, 0, 2)
	if term := strings.TrimSpace(query.Term); term != "" {
		quoted := strconv.Quote(term)
		parts = append(parts, fmt.Sprintf("(openfda.manufacturer_name:%s OR openfda.brand_name:%s OR openfda.generic_name:%s)", quoted, quoted, quoted))
	}
	if !query.Since.IsZero() {
		since := query.Since.UTC().Format("20060102")
		parts = append(parts, fmt.Sprintf("submissions.submission_status_date:[%s TO 99991231]", since))
	}
	if len(parts) == 0 {
		yearAgo := globaltime.Now().UTC().AddDate(-1, 0, 0).Format("20060102")
		return fmt.Sprintf("submissions.submission_status_date:[%s TO 99991231]", yearAgo)
	}
	return strings.Join(parts, " AND ")
}

package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// trialsFields are the study fields requested from the registry API.
var trialsFields = []string{
	"NCTId", "BriefTitle", "Condition", "InterventionName",
	"LeadSponsorName", "Phase", "StudyType",
	"OverallStatus", "LastUpdatePostDate", "EnrollmentCount",
}

// TrialsAdapter fetches study records from the ClinicalTrials.gov
// study-fields endpoint.
type TrialsAdapter struct {
	baseURL string
	client  *http.Client
}

func NewTrialsAdapter(baseURL string, client *http.Client) *TrialsAdapter {
	return &TrialsAdapter{
		baseURL: strings.TrimSpace(baseURL),
		client:  client,
	}
}

func (a *TrialsAdapter) Name() string { return NameTrials }

func (a *TrialsAdapter) Fetch(ctx context.Context, query Query) ([]RawRecord, error) {
	if a == nil || a.baseURL == "" {
		return nil, fmt.Errorf("trials adapter is not configured")
	}

	limit := query.Limit
	if limit <= 0 {
		limit = 50
	}

	expr := buildTrialsExpr(query)

	params := url.Values{}
	params.Set("expr", expr)
	params.Set("fields", strings.Join(trialsFields, ","))
	params.Set("fmt", "json")
	params.Set("min_rnk", "1")
	params.Set("max_rnk", strconv.Itoa(limit))

	var decoded struct {
		StudyFieldsResponse struct {
			NStudiesFound int         `json:"NStudiesFound"`
			StudyFields   []RawRecord `json:"StudyFields"`
		} `json:"StudyFieldsResponse"`
	}
	if err := getJSON(ctx, a.client, a.baseURL+"?"+params.Encode(), &decoded); err != nil {
		return nil, fmt.Errorf("trials: %w", err)
	}

	return decoded.StudyFieldsResponse.StudyFields, nil
}

func buildTrialsExpr(query Query) string {
	parts := make([]string, 0, 2)
	if term := strings.TrimSpace(query.Term); term != "" {
		parts = append(parts, fmt.Sprintf("(%q[Sponsor] OR %q[Intervention] OR %q)", term, term, term))
	}
	if !query.Since.IsZero() {
		since := query.Since.UTC().Format("01/02/2006")
		parts = append(parts, fmt.Sprintf("AREA[LastUpdatePostDate]RANGE[%s, MAX]", since))
	}
	if len(parts) == 0 {
		return "AREA[LastUpdatePostDate]RANGE[MIN, MAX]"
	}
	return strings.Join(parts, " AND ")
}

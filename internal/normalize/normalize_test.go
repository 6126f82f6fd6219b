package normalize

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/halcyonbio/pharmawatch/internal/source"
)

func TestNormalizeTrialFromStudyFields(t *testing.T) {
	t.Parallel()

	raw := source.RawRecord{
		"NCTId":              []any{"NCT01234567"},
		"BriefTitle":         []any{"A Study of Examplumab in Advanced Melanoma"},
		"Condition":          []any{"Advanced Melanoma", "Solid Tumors"},
		"InterventionName":   []any{"Examplumab"},
		"LeadSponsorName":    []any{"Halcyon Bio"},
		"Phase":              []any{"Phase 1/Phase 2"},
		"OverallStatus":      []any{"Recruiting"},
		"LastUpdatePostDate": []any{"May 12, 2026"},
	}

	canonical, err := Normalize("trials", raw)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}

	if canonical.Kind != KindTrial {
		t.Fatalf("kind = %q, want %q", canonical.Kind, KindTrial)
	}
	if canonical.SourceNativeID != "NCT01234567" {
		t.Fatalf("native id = %q, want NCT01234567", canonical.SourceNativeID)
	}
	if canonical.Phase == nil || *canonical.Phase != "Phase 1/2" {
		t.Fatalf("phase = %v, want Phase 1/2", canonical.Phase)
	}
	if canonical.TherapeuticArea == nil || *canonical.TherapeuticArea != "Oncology" {
		t.Fatalf("area = %v, want Oncology", canonical.TherapeuticArea)
	}
	if canonical.URL != "https://clinicaltrials.gov/study/NCT01234567" {
		t.Fatalf("url = %q", canonical.URL)
	}
	want := time.Date(2026, time.May, 12, 0, 0, 0, 0, time.UTC)
	if !canonical.PublishedAt.Equal(want) {
		t.Fatalf("published at = %v, want %v", canonical.PublishedAt, want)
	}
	if canonical.Sponsor == nil || *canonical.Sponsor != "Halcyon Bio" {
		t.Fatalf("sponsor = %v, want Halcyon Bio", canonical.Sponsor)
	}
	if len(canonical.Conditions) != 2 {
		t.Fatalf("got %d conditions, want 2", len(canonical.Conditions))
	}
}

func TestNormalizeTrialFromFlatShape(t *testing.T) {
	t.Parallel()

	raw := source.RawRecord{
		"nct_id":       "NCT07654321",
		"title":        "Asthma Maintenance Study",
		"condition":    "Asthma, Chronic Bronchitis",
		"intervention": "Inhalezumab",
		"sponsor":      "Meridian Therapeutics",
		"phase":        "Early Phase 1",
		"status":       "Completed",
		"last_updated": "2026-02-10",
	}

	canonical, err := Normalize("trials", raw)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}

	if canonical.Phase == nil || *canonical.Phase != "Phase 1" {
		t.Fatalf("phase = %v, want Phase 1", canonical.Phase)
	}
	if canonical.TherapeuticArea == nil || *canonical.TherapeuticArea != "Respiratory" {
		t.Fatalf("area = %v, want Respiratory", canonical.TherapeuticArea)
	}
	if len(canonical.Conditions) != 2 {
		t.Fatalf("got %d conditions, want 2", len(canonical.Conditions))
	}
	if len(canonical.Interventions) != 1 || canonical.Interventions[0] != "Inhalezumab" {
		t.Fatalf("interventions = %v", canonical.Interventions)
	}
}

func TestNormalizeTrialMissingIDIsMalformed(t *testing.T) {
	t.Parallel()

	_, err := Normalize("trials", source.RawRecord{"BriefTitle": []any{"Orphaned"}})
	if !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("err = %v, want ErrMalformedRecord", err)
	}
}

func TestNormalizePublicationFromSummaryShape(t *testing.T) {
	t.Parallel()

	raw := source.RawRecord{
		"uid":             "38991122",
		"title":           "Immune checkpoint response in metastatic carcinoma",
		"fulljournalname": "Journal of Clinical Findings",
		"pubdate":         "2026 Jan 15",
		"authors": []any{
			map[string]any{"name": "Vasquez R", "authtype": "Author"},
			map[string]any{"name": "Okafor T", "authtype": "Author"},
		},
	}

	canonical, err := Normalize("pubmed", raw)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}

	if canonical.Kind != KindPublication {
		t.Fatalf("kind = %q, want %q", canonical.Kind, KindPublication)
	}
	if canonical.URL != "https://pubmed.ncbi.nlm.nih.gov/38991122/" {
		t.Fatalf("url = %q", canonical.URL)
	}
	if canonical.BodyText != canonical.Title {
		t.Fatalf("body should fall back to title when no abstract is present")
	}
	if len(canonical.Authors) != 2 || canonical.Authors[0] != "Vasquez R" {
		t.Fatalf("authors = %v", canonical.Authors)
	}
	if canonical.TherapeuticArea == nil || *canonical.TherapeuticArea != "Oncology" {
		t.Fatalf("area = %v, want Oncology", canonical.TherapeuticArea)
	}
	want := time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC)
	if !canonical.PublishedAt.Equal(want) {
		t.Fatalf("published at = %v, want %v", canonical.PublishedAt, want)
	}
}

func TestNormalizePublicationPrefersAbstractBody(t *testing.T) {
	t.Parallel()

	raw := source.RawRecord{
		"pmid":        "22334455",
		"title":       "Insulin sensitivity outcomes",
		"journal":     "Metabolism Letters",
		"pub_date":    "15 Jan 2026",
		"all_authors": []any{"Chen L", "Dubois M"},
		"abstract":    "A randomized trial in type 2 diabetes patients showed improved outcomes.",
	}

	canonical, err := Normalize("pubmed", raw)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}

	if canonical.BodyText != "A randomized trial in type 2 diabetes patients showed improved outcomes." {
		t.Fatalf("body = %q", canonical.BodyText)
	}
	if canonical.TherapeuticArea == nil || *canonical.TherapeuticArea != "Metabolic" {
		t.Fatalf("area = %v, want Metabolic", canonical.TherapeuticArea)
	}
	if canonical.Journal == nil || *canonical.Journal != "Metabolism Letters" {
		t.Fatalf("journal = %v", canonical.Journal)
	}
}

func TestNormalizeApproval(t *testing.T) {
	t.Parallel()

	raw := source.RawRecord{
		"drug_name":          "Examplumab",
		"product_number":     "001",
		"company":            "Halcyon Bio",
		"approval_date":      "20260115",
		"indication":         "For treatment of relapsed lymphoma.",
		"application_number": "NDA021436",
		"url":                "https://www.accessdata.fda.gov/scripts/cder/daf/index.cfm?event=overview.process&ApplNo=NDA021436",
	}

	canonical, err := Normalize("fda", raw)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}

	if canonical.Kind != KindRegulatory {
		t.Fatalf("kind = %q, want %q", canonical.Kind, KindRegulatory)
	}
	if canonical.SourceNativeID != "NDA021436/001" {
		t.Fatalf("native id = %q, want NDA021436/001", canonical.SourceNativeID)
	}
	if canonical.Status == nil || *canonical.Status != "Approved" {
		t.Fatalf("status = %v, want Approved", canonical.Status)
	}
	if canonical.Phase == nil || *canonical.Phase != "Approved" {
		t.Fatalf("phase = %v, want Approved", canonical.Phase)
	}
	if canonical.TherapeuticArea == nil || *canonical.TherapeuticArea != "Oncology" {
		t.Fatalf("area = %v, want Oncology", canonical.TherapeuticArea)
	}
	want := time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC)
	if !canonical.PublishedAt.Equal(want) {
		t.Fatalf("published at = %v, want %v", canonical.PublishedAt, want)
	}
}

func TestNormalizeApprovalMissingApplicationIsMalformed(t *testing.T) {
	t.Parallel()

	_, err := Normalize("fda", source.RawRecord{"drug_name": "Examplumab"})
	if !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("err = %v, want ErrMalformedRecord", err)
	}
}

func TestNormalizeNews(t *testing.T) {
	t.Parallel()

	raw := source.RawRecord{
		"id":           "https://www.fiercepharma.com/pharma",
		"source_name":  "FiercePharma",
		"title":        "Latest Updates from FiercePharma",
		"url":          "https://www.fiercepharma.com/pharma",
		"published_at": "2026-04-01T08:30:00Z",
		"content":      "Positive readout for a covid antiviral lifted the sector today.",
	}

	canonical, err := Normalize("newswire", raw)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}

	if canonical.Kind != KindNews {
		t.Fatalf("kind = %q, want %q", canonical.Kind, KindNews)
	}
	if canonical.TherapeuticArea == nil || *canonical.TherapeuticArea != "Infectious Disease" {
		t.Fatalf("area = %v, want Infectious Disease", canonical.TherapeuticArea)
	}
	want := time.Date(2026, time.April, 1, 8, 30, 0, 0, time.UTC)
	if !canonical.PublishedAt.Equal(want) {
		t.Fatalf("published at = %v, want %v", canonical.PublishedAt, want)
	}
}

func TestNormalizeNewsLeadText(t *testing.T) {
	t.Parallel()

	raw := source.RawRecord{
		"id":           "biospace-77102",
		"title":        "Acme wins accelerated approval",
		"url":          "https://www.biospace.com/acme-wins",
		"published_at": "2026-04-01T08:30:00Z",
		"summary":      "The FDA cleared the antibody for second line use.",
		"content":      "Full article text with far more detail than the wire summary carries.",
	}

	canonical, err := Normalize("newswire", raw)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if canonical.LeadText != "The FDA cleared the antibody for second line use." {
		t.Fatalf("lead = %q, want the wire summary", canonical.LeadText)
	}

	delete(raw, "summary")
	canonical, err = Normalize("newswire", raw)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if canonical.LeadText != "Full article text with far more detail than the wire summary carries." {
		t.Fatalf("lead = %q, want it derived from the body", canonical.LeadText)
	}
}

func TestNormalizeUnknownSource(t *testing.T) {
	t.Parallel()

	_, err := Normalize("usenet", source.RawRecord{"id": "x", "title": "y"})
	if err == nil {
		t.Fatal("expected error for unknown source")
	}
}

func TestContentHashTracksBodyChanges(t *testing.T) {
	t.Parallel()

	first := contentHash("Title", "Body one")
	same := contentHash("Title", "  Body   ONE ")
	changed := contentHash("Title", "Body two")

	if !bytes.Equal(first, same) {
		t.Fatal("hash should be stable under whitespace and case changes")
	}
	if bytes.Equal(first, changed) {
		t.Fatal("hash should change when body text changes")
	}
}

func TestStandardizePhase(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want string
	}{
		{"Phase 1", "Phase 1"},
		{"Phase 1/Phase 2", "Phase 1/2"},
		{"Phase 2/Phase 3", "Phase 2/3"},
		{"Early Phase 1", "Phase 1"},
		{"Phase 3", "Phase 3"},
		{"N/A", "Preclinical"},
		{"Not Applicable", "Preclinical"},
		{"Approved", "Approved"},
		{"", "Unknown"},
		{"Expanded Access", "Unknown"},
	}
	for _, tc := range cases {
		if got := StandardizePhase(tc.raw); got != tc.want {
			t.Fatalf("StandardizePhase(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestCategorizeCondition(t *testing.T) {
	t.Parallel()

	cases := []struct {
		condition string
		want      string
	}{
		{"Advanced Melanoma", "Oncology"},
		{"Chronic Heart Failure", "Cardiovascular"},
		{"Early Alzheimer Disease", "Neurology"},
		{"Rheumatoid Arthritis", "Immunology"},
		{"Type 2 Diabetes", "Metabolic"},
		{"Severe Asthma", "Respiratory"},
		{"HIV Infection", "Infectious Disease"},
		{"Chronic Back Pain", "Other"},
		{"", "Other"},
	}
	for _, tc := range cases {
		if got := CategorizeCondition(tc.condition); got != tc.want {
			t.Fatalf("CategorizeCondition(%q) = %q, want %q", tc.condition, got, tc.want)
		}
	}
}

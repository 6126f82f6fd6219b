package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/halcyonbio/pharmawatch/internal/normalize"
)

type fakeStore struct {
	records []Stored
}

func (s *fakeStore) FindBySourceID(ctx context.Context, source, nativeID string) (*Stored, error) {
	for i := range s.records {
		if s.records[i].Source == source && s.records[i].SourceNativeID == nativeID {
			record := s.records[i]
			return &record, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) ListKindSince(ctx context.Context, kind string, since time.Time) ([]Stored, error) {
	var out []Stored
	for _, record := range s.records {
		if record.Kind != kind {
			continue
		}
		if record.PublishedAt.IsZero() || record.PublishedAt.Before(since) {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

func newsCanonical(nativeID, title, lead string, published time.Time) *normalize.Canonical {
	return &normalize.Canonical{
		Kind:           normalize.KindNews,
		Source:         "newswire",
		SourceNativeID: nativeID,
		Title:          title,
		LeadText:       lead,
		PublishedAt:    published,
		ContentHash:    []byte(title + lead),
	}
}

func TestCheckUnknownRecordIsNew(t *testing.T) {
	t.Parallel()

	checker := New(&fakeStore{}, 0.9, 72*time.Hour)
	decision, err := checker.Check(context.Background(), newsCanonical("n-1", "Acme expands oncology pipeline", "The deal adds two assets.", time.Now()))
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if decision.Outcome != OutcomeNew {
		t.Fatalf("outcome = %q, want %q", decision.Outcome, OutcomeNew)
	}
}

func TestCheckSameSourceIDIsRefresh(t *testing.T) {
	t.Parallel()

	published := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	store := &fakeStore{records: []Stored{{
		ID:             7,
		UUID:           "rec-7",
		Kind:           normalize.KindTrial,
		Source:         "trials",
		SourceNativeID: "NCT01234567",
		Title:          "Examplumab in advanced melanoma",
		Status:         "Recruiting",
		PublishedAt:    published,
		ContentHash:    []byte("h1"),
	}}}
	checker := New(store, 0.9, 72*time.Hour)

	status := "Completed"
	incoming := &normalize.Canonical{
		Kind:           normalize.KindTrial,
		Source:         "trials",
		SourceNativeID: "NCT01234567",
		Title:          "Examplumab in advanced melanoma",
		Status:         &status,
		PublishedAt:    published,
		ContentHash:    []byte("h1"),
	}
	decision, err := checker.Check(context.Background(), incoming)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if decision.Outcome != OutcomeRefresh {
		t.Fatalf("outcome = %q, want %q", decision.Outcome, OutcomeRefresh)
	}
	if decision.Existing == nil || decision.Existing.ID != 7 {
		t.Fatalf("existing = %+v, want record 7", decision.Existing)
	}
	if decision.ContentChanged {
		t.Fatal("content marked changed for identical hash")
	}

	incoming.ContentHash = []byte("h2")
	decision, err = checker.Check(context.Background(), incoming)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !decision.ContentChanged {
		t.Fatal("content change not detected")
	}
}

func TestCheckSyndicatedStoryIsDuplicate(t *testing.T) {
	t.Parallel()

	title := "Acme wins accelerated approval for Examplumab"
	lead := "The FDA cleared the antibody for second line use."
	kept := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	store := &fakeStore{records: []Stored{{
		ID:             3,
		UUID:           "rec-3",
		Kind:           normalize.KindNews,
		Source:         "newswire",
		SourceNativeID: "biospace-881",
		Title:          title,
		LeadText:       lead,
		PublishedAt:    kept,
	}}}
	checker := New(store, 0.9, 72*time.Hour)

	incoming := newsCanonical("fierce-202", title, lead, kept.Add(5*time.Hour))
	decision, err := checker.Check(context.Background(), incoming)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if decision.Outcome != OutcomeDuplicate {
		t.Fatalf("outcome = %q, want %q", decision.Outcome, OutcomeDuplicate)
	}
	if decision.Existing == nil || decision.Existing.ID != 3 {
		t.Fatalf("existing = %+v, want record 3", decision.Existing)
	}
	if decision.Similarity != 1 {
		t.Fatalf("similarity = %v, want 1", decision.Similarity)
	}
	if decision.EarlierPublication != nil {
		t.Fatalf("earlier publication = %v, want none", decision.EarlierPublication)
	}
}

func TestCheckDuplicateAdoptsEarlierPublication(t *testing.T) {
	t.Parallel()

	title := "Acme wins accelerated approval for Examplumab"
	lead := "The FDA cleared the antibody for second line use."
	kept := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	store := &fakeStore{records: []Stored{{
		ID:             3,
		Kind:           normalize.KindNews,
		Source:         "newswire",
		SourceNativeID: "biospace-881",
		Title:          title,
		LeadText:       lead,
		PublishedAt:    kept,
	}}}
	checker := New(store, 0.9, 72*time.Hour)

	earlier := kept.Add(-6 * time.Hour)
	decision, err := checker.Check(context.Background(), newsCanonical("fierce-202", title, lead, earlier))
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if decision.Outcome != OutcomeDuplicate {
		t.Fatalf("outcome = %q, want %q", decision.Outcome, OutcomeDuplicate)
	}
	if decision.EarlierPublication == nil || !decision.EarlierPublication.Equal(earlier) {
		t.Fatalf("earlier publication = %v, want %v", decision.EarlierPublication, earlier)
	}
}

func TestCheckOldStoryOutsideWindowIsNew(t *testing.T) {
	t.Parallel()

	title := "Acme wins accelerated approval for Examplumab"
	lead := "The FDA cleared the antibody for second line use."
	kept := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	store := &fakeStore{records: []Stored{{
		ID:             3,
		Kind:           normalize.KindNews,
		Source:         "newswire",
		SourceNativeID: "biospace-881",
		Title:          title,
		LeadText:       lead,
		PublishedAt:    kept,
	}}}
	checker := New(store, 0.9, 72*time.Hour)

	decision, err := checker.Check(context.Background(), newsCanonical("fierce-202", title, lead, kept.Add(100*time.Hour)))
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if decision.Outcome != OutcomeNew {
		t.Fatalf("outcome = %q, want %q", decision.Outcome, OutcomeNew)
	}
}

func TestCheckDissimilarStoryIsNew(t *testing.T) {
	t.Parallel()

	published := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	store := &fakeStore{records: []Stored{{
		ID:             3,
		Kind:           normalize.KindNews,
		Source:         "newswire",
		SourceNativeID: "biospace-881",
		Title:          "Acme wins accelerated approval for Examplumab",
		LeadText:       "The FDA cleared the antibody for second line use.",
		PublishedAt:    published,
	}}}
	checker := New(store, 0.9, 72*time.Hour)

	decision, err := checker.Check(context.Background(), newsCanonical("fierce-202", "Zenith reports mixed readout in heart failure", "Topline results missed one endpoint.", published.Add(time.Hour)))
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if decision.Outcome != OutcomeNew {
		t.Fatalf("outcome = %q, want %q", decision.Outcome, OutcomeNew)
	}
}

func TestCheckKeepsEarliestOfSeveralCopies(t *testing.T) {
	t.Parallel()

	title := "Acme wins accelerated approval for Examplumab"
	lead := "The FDA cleared the antibody for second line use."
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	store := &fakeStore{records: []Stored{
		{ID: 9, Kind: normalize.KindNews, Source: "newswire", SourceNativeID: "pharmatimes-4", Title: title, LeadText: lead, PublishedAt: base.Add(2 * time.Hour)},
		{ID: 4, Kind: normalize.KindNews, Source: "newswire", SourceNativeID: "biospace-881", Title: title, LeadText: lead, PublishedAt: base},
	}}
	checker := New(store, 0.9, 72*time.Hour)

	decision, err := checker.Check(context.Background(), newsCanonical("fierce-202", title, lead, base.Add(3*time.Hour)))
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if decision.Outcome != OutcomeDuplicate {
		t.Fatalf("outcome = %q, want %q", decision.Outcome, OutcomeDuplicate)
	}
	if decision.Existing.ID != 4 {
		t.Fatalf("kept record %d, want 4", decision.Existing.ID)
	}
}

func TestCheckSkipsRecordsWithoutPublicationTime(t *testing.T) {
	t.Parallel()

	checker := New(&fakeStore{}, 0.9, 72*time.Hour)
	decision, err := checker.Check(context.Background(), newsCanonical("n-1", "Quiet week for biotech", "", time.Time{}))
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if decision.Outcome != OutcomeNew {
		t.Fatalf("outcome = %q, want %q", decision.Outcome, OutcomeNew)
	}
}

func TestMergePolicyStatusOnly(t *testing.T) {
	t.Parallel()

	published := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	existing := &Stored{Status: "Recruiting", Phase: "Phase 2", PublishedAt: published, ContentHash: []byte("h1")}

	status := "Completed"
	phase := "Phase 2"
	incoming := &normalize.Canonical{Status: &status, Phase: &phase, PublishedAt: published, ContentHash: []byte("h1")}

	plan := MergePolicy(existing, incoming)
	if !plan.UpdateStatus {
		t.Fatal("status change not planned")
	}
	if plan.UpdatePhase || plan.UpdatePublishedAt || plan.ReanalyzeBody {
		t.Fatalf("plan = %+v, want status update only", plan)
	}
}

func TestMergePolicyBodyChangeForcesReanalysis(t *testing.T) {
	t.Parallel()

	published := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	existing := &Stored{Status: "Recruiting", Phase: "Phase 2", PublishedAt: published, ContentHash: []byte("h1")}

	status := "Recruiting"
	phase := "Phase 3"
	incoming := &normalize.Canonical{Status: &status, Phase: &phase, PublishedAt: published.Add(24 * time.Hour), ContentHash: []byte("h2")}

	plan := MergePolicy(existing, incoming)
	if plan.UpdateStatus {
		t.Fatal("unchanged status planned for update")
	}
	if !plan.UpdatePhase || !plan.UpdatePublishedAt || !plan.ReanalyzeBody {
		t.Fatalf("plan = %+v, want phase, publication and body updates", plan)
	}
}

func TestMergePolicyIdenticalPayloadIsEmpty(t *testing.T) {
	t.Parallel()

	published := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	existing := &Stored{Status: "Recruiting", Phase: "Phase 2", PublishedAt: published, ContentHash: []byte("h1")}

	status := "Recruiting"
	phase := "Phase 2"
	incoming := &normalize.Canonical{Status: &status, Phase: &phase, PublishedAt: published, ContentHash: []byte("h1")}

	if plan := MergePolicy(existing, incoming); !plan.Empty() {
		t.Fatalf("plan = %+v, want empty", plan)
	}
}

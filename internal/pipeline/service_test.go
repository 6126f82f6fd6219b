package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/halcyonbio/pharmawatch/internal/config"
	"github.com/halcyonbio/pharmawatch/internal/normalize"
	"github.com/halcyonbio/pharmawatch/internal/resolve"
	"github.com/halcyonbio/pharmawatch/internal/source"
)

type fakeAdapter struct {
	name  string
	fetch func(ctx context.Context, query source.Query) ([]source.RawRecord, error)
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) Fetch(ctx context.Context, query source.Query) ([]source.RawRecord, error) {
	return a.fetch(ctx, query)
}

func testService(retries int) *Service {
	return &Service{
		cfg: &config.Config{
			FuzzyMatchThreshold:      0.85,
			DedupSimilarityThreshold: 0.90,
			DedupWindowHours:         72,
			SourceTimeout:            50 * time.Millisecond,
			FetchRetryAttempts:       retries,
			FetchRetryBaseDelay:      time.Millisecond,
		},
		logger: zerolog.Nop(),
	}
}

func TestFetchWithRetryRecoversFromTransientFailure(t *testing.T) {
	t.Parallel()

	svc := testService(3)
	calls := 0
	adapter := &fakeAdapter{name: source.NameTrials, fetch: func(ctx context.Context, query source.Query) ([]source.RawRecord, error) {
		calls++
		if calls < 3 {
			return nil, fmt.Errorf("upstream 503: %w", source.ErrUnavailable)
		}
		return []source.RawRecord{{"id": "a"}}, nil
	}}

	var retries []int
	records, err := svc.fetchWithRetry(context.Background(), adapter, source.Query{}, func(attempt int) {
		retries = append(retries, attempt)
	})
	if err != nil {
		t.Fatalf("fetchWithRetry: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if len(retries) != 2 || retries[0] != 2 || retries[1] != 3 {
		t.Fatalf("retry attempts = %v, want [2 3]", retries)
	}
}

func TestFetchWithRetryGivesUpAfterConfiguredAttempts(t *testing.T) {
	t.Parallel()

	svc := testService(2)
	calls := 0
	adapter := &fakeAdapter{name: source.NamePubMed, fetch: func(ctx context.Context, query source.Query) ([]source.RawRecord, error) {
		calls++
		return nil, fmt.Errorf("upstream 429: %w", source.ErrRateLimited)
	}}

	_, err := svc.fetchWithRetry(context.Background(), adapter, source.Query{}, nil)
	if !errors.Is(err, source.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestFetchWithRetryStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	svc := testService(3)
	permanent := errors.New("bad credentials")
	calls := 0
	adapter := &fakeAdapter{name: source.NameFDA, fetch: func(ctx context.Context, query source.Query) ([]source.RawRecord, error) {
		calls++
		return nil, permanent
	}}

	_, err := svc.fetchWithRetry(context.Background(), adapter, source.Query{}, nil)
	if !errors.Is(err, permanent) {
		t.Fatalf("err = %v, want the permanent error", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestFetchWithRetryTreatsTimeoutAsTransient(t *testing.T) {
	t.Parallel()

	svc := testService(1)
	svc.cfg.SourceTimeout = 5 * time.Millisecond
	calls := 0
	adapter := &fakeAdapter{name: source.NameNewswire, fetch: func(ctx context.Context, query source.Query) ([]source.RawRecord, error) {
		calls++
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	_, err := svc.fetchWithRetry(context.Background(), adapter, source.Query{}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestFetchWithRetryStopsWhenBatchIsCanceled(t *testing.T) {
	t.Parallel()

	svc := testService(3)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	adapter := &fakeAdapter{name: source.NameTrials, fetch: func(fetchCtx context.Context, query source.Query) ([]source.RawRecord, error) {
		calls++
		cancel()
		return nil, fmt.Errorf("upstream 503: %w", source.ErrUnavailable)
	}}

	_, err := svc.fetchWithRetry(ctx, adapter, source.Query{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestMatchInBatchFindsSyndicatedCopy(t *testing.T) {
	t.Parallel()

	svc := testService(0)
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	title := "Acme Therapeutics reports positive phase 3 results for examplumab"
	lead := "Top-line data show the trial met its primary endpoint."

	prior := &workItem{canonical: &normalize.Canonical{
		Kind:        normalize.KindNews,
		Title:       title,
		LeadText:    lead,
		PublishedAt: base,
	}}
	item := &workItem{canonical: &normalize.Canonical{
		Kind:        normalize.KindNews,
		Title:       title,
		LeadText:    lead,
		PublishedAt: base.Add(4 * time.Hour),
	}}

	got, score := svc.matchInBatch([]*workItem{prior}, item)
	if got != prior {
		t.Fatal("expected the earlier copy to match")
	}
	if score != 1 {
		t.Fatalf("score = %v, want 1", score)
	}
}

func TestMatchInBatchScopesKindAndWindow(t *testing.T) {
	t.Parallel()

	svc := testService(0)
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	title := "Regulator clears new oncology combination"
	copyOf := func(kind string, published time.Time) *workItem {
		return &workItem{canonical: &normalize.Canonical{
			Kind:        kind,
			Title:       title,
			LeadText:    "Approval covers previously treated adults.",
			PublishedAt: published,
		}}
	}

	item := copyOf(normalize.KindNews, base)

	if got, _ := svc.matchInBatch([]*workItem{copyOf(normalize.KindRegulatory, base)}, item); got != nil {
		t.Fatal("a different record kind must not match")
	}
	if got, _ := svc.matchInBatch([]*workItem{copyOf(normalize.KindNews, base.Add(-80 * time.Hour))}, item); got != nil {
		t.Fatal("a copy outside the window must not match")
	}

	undated := copyOf(normalize.KindNews, time.Time{})
	if got, _ := svc.matchInBatch([]*workItem{copyOf(normalize.KindNews, base)}, undated); got != nil {
		t.Fatal("an undated record must not match")
	}
}

func TestDedupTextSkipsMissingLead(t *testing.T) {
	t.Parallel()

	if got := dedupText(&normalize.Canonical{Title: "headline"}); got != "headline" {
		t.Fatalf("got %q, want %q", got, "headline")
	}
	if got := dedupText(&normalize.Canonical{Title: "headline", LeadText: "opener"}); got != "headline opener" {
		t.Fatalf("got %q, want %q", got, "headline opener")
	}
}

func TestWorkItemResetKeepsIdentity(t *testing.T) {
	t.Parallel()

	canonical := &normalize.Canonical{Kind: normalize.KindNews, Title: "headline"}
	other := &workItem{}
	item := &workItem{
		recordUUID:  "11111111-2222-3333-4444-555555555555",
		canonical:   canonical,
		dupOf:       other,
		dupScore:    0.95,
		repeatedKey: true,
		skipped:     true,
		recordID:    7,
	}

	item.reset()

	if item.recordUUID != "11111111-2222-3333-4444-555555555555" || item.canonical != canonical {
		t.Fatal("reset must keep the record identity")
	}
	if item.dupOf != nil || item.dupScore != 0 || item.repeatedKey || item.skipped || item.recordID != 0 {
		t.Fatal("reset must clear per-attempt state")
	}
	if item.matches != nil || item.decision != nil {
		t.Fatal("reset must clear stage outputs")
	}
}

// fakeEntityStore backs a resolver without a database.
type fakeEntityStore struct {
	entities []resolve.Entity
	aliases  []resolve.Alias
	nextID   int64
}

func (s *fakeEntityStore) ListEntities(ctx context.Context) ([]resolve.Entity, error) {
	return append([]resolve.Entity(nil), s.entities...), nil
}

func (s *fakeEntityStore) ListAliases(ctx context.Context) ([]resolve.Alias, error) {
	return append([]resolve.Alias(nil), s.aliases...), nil
}

func (s *fakeEntityStore) CreateEntity(ctx context.Context, kind, name, normalized string) (*resolve.Entity, bool, error) {
	s.nextID++
	entity := resolve.Entity{
		ID:             s.nextID,
		UUID:           fmt.Sprintf("ent-%d", s.nextID),
		Kind:           kind,
		Name:           name,
		NormalizedName: normalized,
	}
	s.entities = append(s.entities, entity)
	copied := entity
	return &copied, true, nil
}

func (s *fakeEntityStore) CreateAlias(ctx context.Context, entityID int64, kind, alias, normalized string) error {
	s.aliases = append(s.aliases, resolve.Alias{EntityID: entityID, Kind: kind, Alias: alias, Normalized: normalized})
	return nil
}

func (s *fakeEntityStore) RecordAudit(ctx context.Context, audit resolve.Audit) error { return nil }

func TestLinkRecurringAuthorsCreatesSharedKOL(t *testing.T) {
	t.Parallel()

	svc := testService(0)
	resolver := resolve.New(&fakeEntityStore{}, 0.85, zerolog.Nop())
	if err := resolver.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	journal := "Oncology Reports"
	pub := func(uuid, title string, authors ...string) *workItem {
		return &workItem{recordUUID: uuid, canonical: &normalize.Canonical{
			Kind:    normalize.KindPublication,
			Title:   title,
			Journal: &journal,
			Authors: authors,
		}}
	}
	first := pub("rec-1", "Dose finding results", "Sarah Chen", "David Okafor")
	second := pub("rec-2", "Long term follow up", "Sarah Chen")
	news := &workItem{recordUUID: "rec-3", canonical: &normalize.Canonical{
		Kind:  normalize.KindNews,
		Title: "Sector roundup",
	}}

	items := []*workItem{first, second, news}
	if err := svc.linkRecurringAuthors(context.Background(), resolver, items); err != nil {
		t.Fatalf("linkRecurringAuthors: %v", err)
	}

	if len(first.matches) != 1 || len(second.matches) != 1 {
		t.Fatalf("matches = %d and %d, want 1 each", len(first.matches), len(second.matches))
	}
	if first.matches[0].Entity.Kind != resolve.KindKOL || first.matches[0].Entity.Name != "Sarah Chen" {
		t.Fatalf("entity = %+v, want kol Sarah Chen", first.matches[0].Entity)
	}
	if first.matches[0].Entity.ID != second.matches[0].Entity.ID {
		t.Fatal("both records must link the same kol entity")
	}
	if !first.matches[0].Created || second.matches[0].Created {
		t.Fatal("only the first link may create the entity")
	}
	if len(news.matches) != 0 {
		t.Fatalf("news matches = %d, want 0", len(news.matches))
	}
}

func TestLinkRecurringAuthorsSkipsOneOffAuthors(t *testing.T) {
	t.Parallel()

	svc := testService(0)
	store := &fakeEntityStore{}
	resolver := resolve.New(store, 0.85, zerolog.Nop())
	if err := resolver.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	item := &workItem{recordUUID: "rec-1", canonical: &normalize.Canonical{
		Kind:    normalize.KindPublication,
		Title:   "Single center experience",
		Authors: []string{"Lena Fischer"},
	}}
	if err := svc.linkRecurringAuthors(context.Background(), resolver, []*workItem{item}); err != nil {
		t.Fatalf("linkRecurringAuthors: %v", err)
	}
	if len(item.matches) != 0 {
		t.Fatalf("matches = %d, want 0", len(item.matches))
	}
	if len(store.entities) != 0 {
		t.Fatalf("entities created = %d, want 0", len(store.entities))
	}
}

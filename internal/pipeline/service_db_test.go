package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/halcyonbio/pharmawatch/internal/analyze"
	"github.com/halcyonbio/pharmawatch/internal/config"
	"github.com/halcyonbio/pharmawatch/internal/db"
	"github.com/halcyonbio/pharmawatch/internal/source"
)

// sqliteService wires a full pipeline service to a private in-memory
// database, so batch writes can be checked end to end.
func sqliteService(t *testing.T) (*Service, *db.Pool) {
	t.Helper()

	cfg := &config.Config{
		Environment:              "test",
		LogLevel:                 "silent",
		DatabaseURL:              "sqlite://:memory:",
		DBMinConns:               1,
		DBMaxConns:               1,
		FuzzyMatchThreshold:      0.85,
		DedupSimilarityThreshold: 0.90,
		DedupWindowHours:         72,
		TopTermsCount:            10,
		SourceTimeout:            5 * time.Second,
		FetchRetryAttempts:       1,
		FetchRetryBaseDelay:      time.Millisecond,
	}

	pool, err := db.NewPool(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })

	analyzer := analyze.New(analyze.LexiconScorer{}, cfg.TopTermsCount, zerolog.Nop())
	return NewService(pool, source.NewRegistry(), analyzer, cfg, zerolog.Nop()), pool
}

func countRows(t *testing.T, pool *db.Pool, table string) int {
	t.Helper()
	var n int
	if err := pool.QueryRow(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func trialRecord(nctID, status string) source.RawRecord {
	return source.RawRecord{
		"nct_id":       nctID,
		"title":        "AcmeDrug in Advanced Melanoma",
		"condition":    "Advanced Melanoma",
		"intervention": "AcmeDrug",
		"sponsor":      "Acme Therapeutics",
		"phase":        "Phase 3",
		"status":       status,
		"last_updated": "2026-03-01",
	}
}

func TestRunEnvelopeReingestIsIdempotent(t *testing.T) {
	t.Parallel()

	svc, pool := sqliteService(t)
	ctx := context.Background()
	fetchedAt := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	first, err := svc.RunEnvelope(ctx, "trials", "acme", fetchedAt, []source.RawRecord{trialRecord("NCT00000123", "Recruiting")})
	if err != nil {
		t.Fatalf("first RunEnvelope: %v", err)
	}
	if first.State != StateDone || first.Persisted != 1 {
		t.Fatalf("first run state=%s persisted=%d, want done/1", first.State, first.Persisted)
	}
	if first.EntitiesCreated != 2 {
		t.Fatalf("first run created %d entities, want sponsor + drug", first.EntitiesCreated)
	}

	second, err := svc.RunEnvelope(ctx, "trials", "acme", fetchedAt.Add(time.Hour), []source.RawRecord{trialRecord("NCT00000123", "Completed")})
	if err != nil {
		t.Fatalf("second RunEnvelope: %v", err)
	}
	if second.State != StateDone {
		t.Fatalf("second run state = %s, want done", second.State)
	}
	if second.Persisted != 0 || second.Deduplicated != 1 {
		t.Fatalf("second run persisted=%d deduplicated=%d, want 0/1", second.Persisted, second.Deduplicated)
	}
	if second.EntitiesCreated != 0 || second.XrefsRecorded != 0 {
		t.Fatalf("second run created=%d xrefs=%d, want re-ingest to reuse everything", second.EntitiesCreated, second.XrefsRecorded)
	}

	if got := countRows(t, pool, "records"); got != 1 {
		t.Fatalf("records = %d, want 1 after re-ingest", got)
	}
	if got := countRows(t, pool, "entities"); got != 2 {
		t.Fatalf("entities = %d, want 2 after re-ingest", got)
	}

	var status string
	if err := pool.QueryRow(ctx, `SELECT COALESCE(status, '') FROM records WHERE source_native_id = ?`, "NCT00000123").Scan(&status); err != nil {
		t.Fatalf("load record status: %v", err)
	}
	if status != "Completed" {
		t.Fatalf("status = %q, want the refreshed value Completed", status)
	}
}

func TestRunEnvelopeCommitFailureLeavesNothingBehind(t *testing.T) {
	t.Parallel()

	svc, pool := sqliteService(t)
	ctx := context.Background()

	// Reads still pass; the first link write inside the commit
	// transaction aborts it, mid-batch.
	_, err := pool.Exec(ctx, `
CREATE TRIGGER entity_links_unavailable BEFORE INSERT ON entity_links
BEGIN
	SELECT RAISE(ABORT, 'entity_links unavailable');
END`)
	if err != nil {
		t.Fatalf("install trigger: %v", err)
	}

	records := []source.RawRecord{
		trialRecord("NCT00000123", "Recruiting"),
		trialRecord("NCT00000456", "Recruiting"),
	}
	result, err := svc.RunEnvelope(ctx, "trials", "acme", time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), records)
	if err == nil {
		t.Fatal("expected the batch to fail")
	}
	if result.State != StateFailed {
		t.Fatalf("state = %s, want failed", result.State)
	}

	for _, table := range []string{"records", "entities", "entity_aliases", "entity_links", "record_xrefs", "resolution_audits", "source_checkpoints"} {
		if got := countRows(t, pool, table); got != 0 {
			t.Fatalf("%s = %d rows after failed commit, want 0", table, got)
		}
	}

	var runState string
	if err := pool.QueryRow(ctx, `SELECT state FROM ingest_runs ORDER BY run_id DESC LIMIT 1`).Scan(&runState); err != nil {
		t.Fatalf("load run state: %v", err)
	}
	if runState != string(StateFailed) {
		t.Fatalf("run state = %q, want failed", runState)
	}
}

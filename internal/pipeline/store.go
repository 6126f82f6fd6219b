package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonbio/pharmawatch/internal/db"
	"github.com/halcyonbio/pharmawatch/internal/dedup"
	"github.com/halcyonbio/pharmawatch/internal/resolve"
)

// batchBuffer collects the entity write set produced while resolving.
// Nothing in it touches the database until the commit transaction;
// a failed batch therefore leaves no entities behind.
type batchBuffer struct {
	entities []pendingEntity
	aliases  []resolve.Alias
	audits   []resolve.Audit
}

// pendingEntity is an entity minted during resolving. Its provisional
// id is negative; flushEntitiesTx maps it to the real row id.
type pendingEntity struct {
	provisionalID int64
	uuid          string
	kind          string
	name          string
	normalized    string
}

// resolveStore backs the resolver with committed reads and buffered
// writes.
type resolveStore struct {
	pool *db.Pool
	buf  *batchBuffer
}

func (s *resolveStore) ListEntities(ctx context.Context) ([]resolve.Entity, error) {
	const q = `
SELECT
	e.entity_id,
	e.entity_uuid,
	e.kind,
	e.canonical_name,
	e.normalized_name,
	(SELECT COUNT(*) FROM entity_links l WHERE l.entity_id = e.entity_id) AS link_count
FROM entities e
ORDER BY e.entity_id
`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var entities []resolve.Entity
	for rows.Next() {
		var entity resolve.Entity
		if err := rows.Scan(&entity.ID, &entity.UUID, &entity.Kind, &entity.Name, &entity.NormalizedName, &entity.LinkCount); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return entities, nil
}

func (s *resolveStore) ListAliases(ctx context.Context) ([]resolve.Alias, error) {
	const q = `
SELECT entity_id, kind, alias, normalized_alias
FROM entity_aliases
ORDER BY alias_id
`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query entity aliases: %w", err)
	}
	defer rows.Close()

	var aliases []resolve.Alias
	for rows.Next() {
		var alias resolve.Alias
		if err := rows.Scan(&alias.EntityID, &alias.Kind, &alias.Alias, &alias.Normalized); err != nil {
			return nil, fmt.Errorf("scan entity alias: %w", err)
		}
		aliases = append(aliases, alias)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity aliases: %w", err)
	}
	return aliases, nil
}

func (s *resolveStore) CreateEntity(ctx context.Context, kind, name, normalized string) (*resolve.Entity, bool, error) {
	entity := &resolve.Entity{
		ID:             -int64(len(s.buf.entities) + 1),
		UUID:           uuid.NewString(),
		Kind:           kind,
		Name:           name,
		NormalizedName: normalized,
	}
	s.buf.entities = append(s.buf.entities, pendingEntity{
		provisionalID: entity.ID,
		uuid:          entity.UUID,
		kind:          kind,
		name:          name,
		normalized:    normalized,
	})
	return entity, true, nil
}

func (s *resolveStore) CreateAlias(ctx context.Context, entityID int64, kind, alias, normalized string) error {
	s.buf.aliases = append(s.buf.aliases, resolve.Alias{
		EntityID:   entityID,
		Kind:       kind,
		Alias:      alias,
		Normalized: normalized,
	})
	return nil
}

func (s *resolveStore) RecordAudit(ctx context.Context, audit resolve.Audit) error {
	s.buf.audits = append(s.buf.audits, audit)
	return nil
}

// dedupStore reads committed records for the duplicate checker.
type dedupStore struct {
	pool *db.Pool
}

const storedRecordColumns = `
	record_id,
	record_uuid,
	kind,
	source,
	source_native_id,
	title,
	lead_text,
	COALESCE(status, ''),
	COALESCE(phase, ''),
	published_at,
	content_hash
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStoredRecord(row rowScanner) (*dedup.Stored, error) {
	var stored dedup.Stored
	var publishedAt *time.Time
	err := row.Scan(
		&stored.ID,
		&stored.UUID,
		&stored.Kind,
		&stored.Source,
		&stored.SourceNativeID,
		&stored.Title,
		&stored.LeadText,
		&stored.Status,
		&stored.Phase,
		&publishedAt,
		&stored.ContentHash,
	)
	if err != nil {
		return nil, err
	}
	if publishedAt != nil {
		stored.PublishedAt = publishedAt.UTC()
	}
	return &stored, nil
}

func (s *dedupStore) FindBySourceID(ctx context.Context, sourceName, nativeID string) (*dedup.Stored, error) {
	q := `SELECT` + storedRecordColumns + `FROM records WHERE source = ? AND source_native_id = ?`
	stored, err := scanStoredRecord(s.pool.QueryRow(ctx, q, sourceName, nativeID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find record %s/%s: %w", sourceName, nativeID, err)
	}
	return stored, nil
}

func (s *dedupStore) ListKindSince(ctx context.Context, kind string, since time.Time) ([]dedup.Stored, error) {
	q := `SELECT` + storedRecordColumns + `FROM records WHERE kind = ? AND published_at >= ? ORDER BY record_id`
	rows, err := s.pool.Query(ctx, q, kind, since)
	if err != nil {
		return nil, fmt.Errorf("query %s records since %s: %w", kind, since.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var out []dedup.Stored
	for rows.Next() {
		stored, err := scanStoredRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, *stored)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

type entityFlushStats struct {
	created int
	merged  int
}

// flushEntitiesTx writes the buffered entities. The insert ignores
// unique conflicts, so an entity another batch committed first merges
// instead of aborting the transaction; the follow-up select resolves
// the surviving row either way.
func flushEntitiesTx(ctx context.Context, tx db.Tx, pending []pendingEntity, now time.Time) (map[int64]int64, entityFlushStats, error) {
	const insertQ = `
INSERT INTO entities (entity_uuid, kind, canonical_name, normalized_name, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (kind, normalized_name) DO NOTHING
`
	const selectQ = `
SELECT entity_id FROM entities WHERE kind = ? AND normalized_name = ?
`
	const selfAliasQ = `
INSERT INTO entity_aliases (entity_id, kind, alias, normalized_alias, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (kind, normalized_alias) DO NOTHING
`

	idMap := make(map[int64]int64, len(pending))
	var stats entityFlushStats
	for _, entity := range pending {
		tag, err := tx.Exec(ctx, insertQ, entity.uuid, entity.kind, entity.name, entity.normalized, now, now)
		if err != nil {
			return nil, stats, fmt.Errorf("insert entity %s/%q: %w", entity.kind, entity.name, err)
		}
		if tag.RowsAffected() == 1 {
			stats.created++
		} else {
			stats.merged++
		}

		var realID int64
		if err := tx.QueryRow(ctx, selectQ, entity.kind, entity.normalized).Scan(&realID); err != nil {
			return nil, stats, fmt.Errorf("load entity id %s/%q: %w", entity.kind, entity.normalized, err)
		}
		idMap[entity.provisionalID] = realID

		if _, err := tx.Exec(ctx, selfAliasQ, realID, entity.kind, entity.name, entity.normalized, now); err != nil {
			return nil, stats, fmt.Errorf("insert canonical alias %s/%q: %w", entity.kind, entity.name, err)
		}
	}
	return idMap, stats, nil
}

func mapEntityID(idMap map[int64]int64, id int64) (int64, error) {
	if id >= 0 {
		return id, nil
	}
	real, ok := idMap[id]
	if !ok {
		return 0, fmt.Errorf("unmapped provisional entity id %d", id)
	}
	return real, nil
}

func flushAliasesTx(ctx context.Context, tx db.Tx, aliases []resolve.Alias, idMap map[int64]int64, now time.Time) error {
	const q = `
INSERT INTO entity_aliases (entity_id, kind, alias, normalized_alias, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (kind, normalized_alias) DO NOTHING
`
	for _, alias := range aliases {
		entityID, err := mapEntityID(idMap, alias.EntityID)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, q, entityID, alias.Kind, alias.Alias, alias.Normalized, now); err != nil {
			return fmt.Errorf("insert alias %s/%q: %w", alias.Kind, alias.Alias, err)
		}
	}
	return nil
}

func flushAuditsTx(ctx context.Context, tx db.Tx, audits []resolve.Audit, idMap map[int64]int64, now time.Time) error {
	const q = `
INSERT INTO resolution_audits (record_uuid, kind, mention, winner_entity_id, similarity, runner_up_entity_id, runner_up_similarity, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`
	for _, audit := range audits {
		winnerID, err := mapEntityID(idMap, audit.WinnerEntityID)
		if err != nil {
			return err
		}
		var runnerUpID *int64
		if audit.RunnerUpEntityID != nil {
			mapped, err := mapEntityID(idMap, *audit.RunnerUpEntityID)
			if err != nil {
				return err
			}
			runnerUpID = &mapped
		}
		if _, err := tx.Exec(ctx, q, audit.RecordUUID, audit.Kind, audit.Mention, winnerID, audit.Similarity, runnerUpID, audit.RunnerUpSimilarity, now); err != nil {
			return fmt.Errorf("insert resolution audit for %q: %w", audit.Mention, err)
		}
	}
	return nil
}

func insertRecordTx(ctx context.Context, tx db.Tx, item *workItem, now time.Time) (int64, error) {
	const q = `
INSERT INTO records (
	record_uuid,
	kind,
	source,
	source_native_id,
	title,
	body_text,
	lead_text,
	url,
	published_at,
	status,
	phase,
	therapeutic_area,
	journal,
	sponsor,
	sentiment_score,
	sentiment_label,
	extracted_terms,
	language,
	raw_payload,
	content_hash,
	created_at,
	updated_at
)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING record_id
`
	canonical := item.canonical
	termsJSON, err := marshalTerms(item.analysis.Terms)
	if err != nil {
		return 0, err
	}

	var recordURL *string
	if canonical.URL != "" {
		recordURL = &canonical.URL
	}
	var publishedAt *time.Time
	if !canonical.PublishedAt.IsZero() {
		published := canonical.PublishedAt
		publishedAt = &published
	}

	var recordID int64
	err = tx.QueryRow(
		ctx,
		q,
		item.recordUUID,
		canonical.Kind,
		canonical.Source,
		canonical.SourceNativeID,
		canonical.Title,
		canonical.BodyText,
		canonical.LeadText,
		recordURL,
		publishedAt,
		canonical.Status,
		canonical.Phase,
		canonical.TherapeuticArea,
		canonical.Journal,
		canonical.Sponsor,
		item.analysis.SentimentScore,
		item.analysis.SentimentLabel,
		termsJSON,
		item.analysis.Language,
		[]byte(canonical.RawPayload),
		canonical.ContentHash,
		now,
		now,
	).Scan(&recordID)
	if err != nil {
		return 0, fmt.Errorf("insert record %s/%s: %w", canonical.Source, canonical.SourceNativeID, err)
	}
	return recordID, nil
}

func marshalTerms(terms []string) ([]byte, error) {
	if terms == nil {
		terms = []string{}
	}
	encoded, err := json.Marshal(terms)
	if err != nil {
		return nil, fmt.Errorf("marshal extracted terms: %w", err)
	}
	return encoded, nil
}

func insertLinkTx(ctx context.Context, tx db.Tx, recordID, entityID int64, match resolve.Match, now time.Time) error {
	const q = `
INSERT INTO entity_links (record_id, entity_id, confidence, match_basis, mention, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`
	if _, err := tx.Exec(ctx, q, recordID, entityID, match.Confidence, match.Basis, match.Mention, now); err != nil {
		return fmt.Errorf("insert entity link record=%d entity=%d: %w", recordID, entityID, err)
	}
	return nil
}

func applyRefreshTx(ctx context.Context, tx db.Tx, recordID int64, item *workItem, plan dedup.RefreshPlan, now time.Time) error {
	sets := []string{"updated_at = ?"}
	args := []any{now}

	canonical := item.canonical
	if plan.UpdateStatus {
		sets = append(sets, "status = ?")
		args = append(args, canonical.Status)
	}
	if plan.UpdatePhase {
		sets = append(sets, "phase = ?")
		args = append(args, canonical.Phase)
	}
	if plan.UpdatePublishedAt {
		published := canonical.PublishedAt
		sets = append(sets, "published_at = ?")
		args = append(args, published)
	}
	if plan.ReanalyzeBody {
		termsJSON, err := marshalTerms(item.analysis.Terms)
		if err != nil {
			return err
		}
		sets = append(sets,
			"body_text = ?",
			"lead_text = ?",
			"content_hash = ?",
			"sentiment_score = ?",
			"sentiment_label = ?",
			"extracted_terms = ?",
			"language = ?",
		)
		args = append(args,
			canonical.BodyText,
			canonical.LeadText,
			canonical.ContentHash,
			item.analysis.SentimentScore,
			item.analysis.SentimentLabel,
			termsJSON,
			item.analysis.Language,
		)
	}

	args = append(args, recordID)
	q := "UPDATE records SET " + strings.Join(sets, ", ") + " WHERE record_id = ?"
	if _, err := tx.Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("refresh record %d: %w", recordID, err)
	}
	return nil
}

func insertXrefTx(ctx context.Context, tx db.Tx, keptRecordID int64, item *workItem, similarity float64, now time.Time) error {
	const q = `
INSERT INTO record_xrefs (record_id, source, source_native_id, title, url, published_at, similarity, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`
	canonical := item.canonical
	var xrefURL *string
	if canonical.URL != "" {
		xrefURL = &canonical.URL
	}
	var publishedAt *time.Time
	if !canonical.PublishedAt.IsZero() {
		published := canonical.PublishedAt
		publishedAt = &published
	}
	if _, err := tx.Exec(ctx, q, keptRecordID, canonical.Source, canonical.SourceNativeID, canonical.Title, xrefURL, publishedAt, similarity, now); err != nil {
		return fmt.Errorf("insert xref for record %d: %w", keptRecordID, err)
	}
	return nil
}

func adoptEarlierPublicationTx(ctx context.Context, tx db.Tx, recordID int64, published time.Time, now time.Time) error {
	const q = `
UPDATE records
SET published_at = ?, updated_at = ?
WHERE record_id = ? AND (published_at IS NULL OR published_at > ?)
`
	if _, err := tx.Exec(ctx, q, published, now, recordID, published); err != nil {
		return fmt.Errorf("adopt earlier publication for record %d: %w", recordID, err)
	}
	return nil
}

func createRunRow(ctx context.Context, pool *db.Pool, runUUID, sourceName, query string, now time.Time) (int64, error) {
	const q = `
INSERT INTO ingest_runs (run_uuid, source, query, state, attempt, started_at, created_at, updated_at)
VALUES (?, ?, ?, ?, 1, ?, ?, ?)
RETURNING run_id
`
	var runID int64
	if err := pool.QueryRow(ctx, q, runUUID, sourceName, query, string(StateFetching), now, now, now).Scan(&runID); err != nil {
		return 0, fmt.Errorf("insert ingest run: %w", err)
	}
	return runID, nil
}

func updateRunStateRow(ctx context.Context, pool *db.Pool, runID int64, state State, now time.Time) error {
	const q = `UPDATE ingest_runs SET state = ?, updated_at = ? WHERE run_id = ?`
	if _, err := pool.Exec(ctx, q, string(state), now, runID); err != nil {
		return fmt.Errorf("update run %d state: %w", runID, err)
	}
	return nil
}

func bumpRunAttemptRow(ctx context.Context, pool *db.Pool, runID int64, attempt int, now time.Time) error {
	const q = `UPDATE ingest_runs SET attempt = ?, updated_at = ? WHERE run_id = ?`
	if _, err := pool.Exec(ctx, q, attempt, now, runID); err != nil {
		return fmt.Errorf("update run %d attempt: %w", runID, err)
	}
	return nil
}

func finishRunRow(ctx context.Context, pool *db.Pool, runID int64, state State, result BatchResult, errorMessage *string, now time.Time) error {
	const q = `
UPDATE ingest_runs
SET state = ?,
	finished_at = ?,
	items_fetched = ?,
	items_malformed = ?,
	items_deduplicated = ?,
	items_persisted = ?,
	entities_created = ?,
	entities_merged = ?,
	xrefs_recorded = ?,
	error_message = ?,
	updated_at = ?
WHERE run_id = ?
`
	_, err := pool.Exec(
		ctx,
		q,
		string(state),
		now,
		result.Fetched,
		result.Malformed,
		result.Deduplicated,
		result.Persisted,
		result.EntitiesCreated,
		result.EntitiesMerged,
		result.XrefsRecorded,
		errorMessage,
		now,
		runID,
	)
	if err != nil {
		return fmt.Errorf("finish run %d: %w", runID, err)
	}
	return nil
}

func loadCheckpointRow(ctx context.Context, pool *db.Pool, sourceName, query string) (time.Time, bool, error) {
	const q = `SELECT window_end FROM source_checkpoints WHERE source = ? AND query = ?`
	var windowEnd time.Time
	if err := pool.QueryRow(ctx, q, sourceName, query).Scan(&windowEnd); err != nil {
		if db.IsNoRows(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("load checkpoint %s/%q: %w", sourceName, query, err)
	}
	return windowEnd.UTC(), true, nil
}

// upsertCheckpointTx advances the fetch window for (source, query).
// The window only moves forward, so replaying an old offline envelope
// cannot rewind a live source.
func upsertCheckpointTx(ctx context.Context, tx db.Tx, sourceName, query string, windowEnd time.Time, runID int64, now time.Time) error {
	const q = `
INSERT INTO source_checkpoints (source, query, window_end, last_successful_run_id, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (source, query) DO UPDATE SET
	window_end = CASE
		WHEN excluded.window_end > source_checkpoints.window_end THEN excluded.window_end
		ELSE source_checkpoints.window_end
	END,
	last_successful_run_id = excluded.last_successful_run_id,
	updated_at = excluded.updated_at
`
	if _, err := tx.Exec(ctx, q, sourceName, query, windowEnd, runID, now); err != nil {
		return fmt.Errorf("upsert checkpoint %s/%q: %w", sourceName, query, err)
	}
	return nil
}

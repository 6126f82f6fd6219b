package db

import (
	"context"
	"fmt"
	"time"
)

// KindCount stores per-kind record counts.
type KindCount struct {
	Kind  string `json:"kind"`
	Count int64  `json:"count"`
}

// SentimentCount stores per-label record counts.
type SentimentCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// SourceActivity stores per-source totals and the latest run outcome.
type SourceActivity struct {
	Source        string     `json:"source"`
	Records       int64      `json:"records"`
	LastRunState  string     `json:"last_run_state"`
	LastRunAt     time.Time  `json:"last_run_at"`
	LastRunClosed *time.Time `json:"last_run_closed,omitempty"`
}

// TopEntity is one frequently linked entity.
type TopEntity struct {
	EntityUUID    string `json:"entity_uuid"`
	Kind          string `json:"kind"`
	CanonicalName string `json:"canonical_name"`
	LinkCount     int64  `json:"link_count"`
}

// IngestStats is the read model behind the stats command and endpoint.
// LastCommitAt is nil until the first batch commits.
type IngestStats struct {
	Records      int64            `json:"records"`
	Entities     int64            `json:"entities"`
	Xrefs        int64            `json:"xrefs"`
	LastCommitAt *time.Time       `json:"last_commit_at,omitempty"`
	ByKind       []KindCount      `json:"by_kind"`
	BySentiment  []SentimentCount `json:"by_sentiment"`
	Sources      []SourceActivity `json:"sources"`
	TopEntities  []TopEntity      `json:"top_entities"`
}

// QueryIngestStats returns corpus totals, per-kind and per-sentiment
// breakdowns, per-source activity and the most linked entities.
func (p *Pool) QueryIngestStats(ctx context.Context, topEntities int) (*IngestStats, error) {
	if topEntities <= 0 {
		topEntities = 10
	}

	stats := &IngestStats{
		ByKind:      make([]KindCount, 0, 4),
		BySentiment: make([]SentimentCount, 0, 3),
	}

	const totalsQ = `
SELECT
	(SELECT COUNT(*) FROM records) AS records,
	(SELECT COUNT(*) FROM entities) AS entities,
	(SELECT COUNT(*) FROM record_xrefs) AS xrefs,
	(SELECT MAX(finished_at) FROM ingest_runs WHERE state = 'done') AS last_commit_at
`
	if err := p.QueryRow(ctx, totalsQ).Scan(&stats.Records, &stats.Entities, &stats.Xrefs, &stats.LastCommitAt); err != nil {
		return nil, fmt.Errorf("query stats totals: %w", err)
	}

	const kindQ = `
SELECT r.kind, COUNT(*)
FROM records r
GROUP BY r.kind
ORDER BY r.kind
`
	kindRows, err := p.Query(ctx, kindQ)
	if err != nil {
		return nil, fmt.Errorf("query stats kinds: %w", err)
	}
	defer kindRows.Close()
	for kindRows.Next() {
		var row KindCount
		if err := kindRows.Scan(&row.Kind, &row.Count); err != nil {
			return nil, fmt.Errorf("scan stats kind row: %w", err)
		}
		stats.ByKind = append(stats.ByKind, row)
	}
	if err := kindRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats kind rows: %w", err)
	}

	const sentimentQ = `
SELECT r.sentiment_label, COUNT(*)
FROM records r
GROUP BY r.sentiment_label
ORDER BY r.sentiment_label
`
	sentimentRows, err := p.Query(ctx, sentimentQ)
	if err != nil {
		return nil, fmt.Errorf("query stats sentiment: %w", err)
	}
	defer sentimentRows.Close()
	for sentimentRows.Next() {
		var row SentimentCount
		if err := sentimentRows.Scan(&row.Label, &row.Count); err != nil {
			return nil, fmt.Errorf("scan stats sentiment row: %w", err)
		}
		stats.BySentiment = append(stats.BySentiment, row)
	}
	if err := sentimentRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats sentiment rows: %w", err)
	}

	sources, err := p.querySourceActivity(ctx)
	if err != nil {
		return nil, err
	}
	stats.Sources = sources

	top, err := p.queryTopEntities(ctx, topEntities)
	if err != nil {
		return nil, err
	}
	stats.TopEntities = top

	return stats, nil
}

func (p *Pool) querySourceActivity(ctx context.Context) ([]SourceActivity, error) {
	const q = `
SELECT
	u.source,
	(SELECT COUNT(*) FROM records r WHERE r.source = u.source) AS records,
	u.state,
	u.started_at,
	u.finished_at
FROM ingest_runs u
WHERE u.run_id IN (SELECT MAX(run_id) FROM ingest_runs GROUP BY source)
ORDER BY u.source
`
	rows, err := p.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query stats sources: %w", err)
	}
	defer rows.Close()

	var sources []SourceActivity
	for rows.Next() {
		var row SourceActivity
		if err := rows.Scan(&row.Source, &row.Records, &row.LastRunState, &row.LastRunAt, &row.LastRunClosed); err != nil {
			return nil, fmt.Errorf("scan stats source row: %w", err)
		}
		sources = append(sources, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats source rows: %w", err)
	}
	return sources, nil
}

func (p *Pool) queryTopEntities(ctx context.Context, limit int) ([]TopEntity, error) {
	const q = `
SELECT
	e.entity_uuid,
	e.kind,
	e.canonical_name,
	(SELECT COUNT(*) FROM entity_links l WHERE l.entity_id = e.entity_id) AS link_count
FROM entities e
ORDER BY link_count DESC, e.entity_id
LIMIT ?
`
	rows, err := p.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query top entities: %w", err)
	}
	defer rows.Close()

	entities := make([]TopEntity, 0, limit)
	for rows.Next() {
		var row TopEntity
		if err := rows.Scan(&row.EntityUUID, &row.Kind, &row.CanonicalName, &row.LinkCount); err != nil {
			return nil, fmt.Errorf("scan top entity row: %w", err)
		}
		entities = append(entities, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate top entity rows: %w", err)
	}
	return entities, nil
}

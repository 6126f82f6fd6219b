package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RecordListOptions filters record listings. Zero values mean no
// filter.
type RecordListOptions struct {
	Kind           string
	Source         string
	SentimentLabel string
	Search         string
	EntityUUID     string
	Since          time.Time
	Until          time.Time
	Limit          int
	Offset         int
}

// RecordListItem is one row of the records list.
type RecordListItem struct {
	RecordID       int64      `json:"record_id"`
	RecordUUID     string     `json:"record_uuid"`
	Kind           string     `json:"kind"`
	Source         string     `json:"source"`
	SourceNativeID string     `json:"source_native_id"`
	Title          string     `json:"title"`
	URL            *string    `json:"url,omitempty"`
	PublishedAt    *time.Time `json:"published_at,omitempty"`
	Status         *string    `json:"status,omitempty"`
	Phase          *string    `json:"phase,omitempty"`
	SentimentScore float64    `json:"sentiment_score"`
	SentimentLabel string     `json:"sentiment_label"`
	CreatedAt      time.Time  `json:"created_at"`
}

// RecordEntityLink is one resolved entity on a record.
type RecordEntityLink struct {
	EntityID   int64   `json:"entity_id"`
	EntityUUID string  `json:"entity_uuid"`
	Kind       string  `json:"kind"`
	Name       string  `json:"canonical_name"`
	Mention    string  `json:"mention"`
	MatchBasis string  `json:"match_basis"`
	Confidence float64 `json:"confidence"`
}

// RecordXrefItem is one cross-referenced duplicate of a record.
type RecordXrefItem struct {
	Source         string     `json:"source"`
	SourceNativeID string     `json:"source_native_id"`
	Title          string     `json:"title"`
	URL            *string    `json:"url,omitempty"`
	PublishedAt    *time.Time `json:"published_at,omitempty"`
	Similarity     float64    `json:"similarity"`
}

// RecordDetail is the full read model for one record.
type RecordDetail struct {
	RecordListItem
	BodyText        string             `json:"body_text"`
	LeadText        string             `json:"lead_text"`
	TherapeuticArea *string            `json:"therapeutic_area,omitempty"`
	Journal         *string            `json:"journal,omitempty"`
	Sponsor         *string            `json:"sponsor,omitempty"`
	Language        string             `json:"language"`
	ExtractedTerms  []string           `json:"extracted_terms"`
	UpdatedAt       time.Time          `json:"updated_at"`
	Entities        []RecordEntityLink `json:"entities"`
	Xrefs           []RecordXrefItem   `json:"xrefs"`
}

const recordListColumns = `
	r.record_id,
	r.record_uuid,
	r.kind,
	r.source,
	r.source_native_id,
	r.title,
	r.url,
	r.published_at,
	r.status,
	r.phase,
	r.sentiment_score,
	r.sentiment_label,
	r.created_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecordListItem(row rowScanner, item *RecordListItem) error {
	return row.Scan(
		&item.RecordID,
		&item.RecordUUID,
		&item.Kind,
		&item.Source,
		&item.SourceNativeID,
		&item.Title,
		&item.URL,
		&item.PublishedAt,
		&item.Status,
		&item.Phase,
		&item.SentimentScore,
		&item.SentimentLabel,
		&item.CreatedAt,
	)
}

// ListRecords lists normalized records, newest first. Undated records
// sort by arrival time.
func (p *Pool) ListRecords(ctx context.Context, opts RecordListOptions) ([]RecordListItem, error) {
	if opts.Limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	var conds []string
	var args []any
	if opts.Kind != "" {
		conds = append(conds, "r.kind = ?")
		args = append(args, opts.Kind)
	}
	if opts.Source != "" {
		conds = append(conds, "r.source = ?")
		args = append(args, opts.Source)
	}
	if opts.SentimentLabel != "" {
		conds = append(conds, "r.sentiment_label = ?")
		args = append(args, opts.SentimentLabel)
	}
	if opts.Search != "" {
		conds = append(conds, "LOWER(r.title) LIKE ?")
		args = append(args, "%"+strings.ToLower(opts.Search)+"%")
	}
	if opts.EntityUUID != "" {
		conds = append(conds, `EXISTS (
    SELECT 1 FROM entity_links l
    JOIN entities e ON e.entity_id = l.entity_id
    WHERE l.record_id = r.record_id AND e.entity_uuid = ?
  )`)
		args = append(args, opts.EntityUUID)
	}
	if !opts.Since.IsZero() {
		conds = append(conds, "r.published_at >= ?")
		args = append(args, opts.Since.UTC())
	}
	if !opts.Until.IsZero() {
		conds = append(conds, "r.published_at < ?")
		args = append(args, opts.Until.UTC())
	}

	q := "SELECT" + recordListColumns + "FROM records r\n"
	if len(conds) > 0 {
		q += "WHERE " + strings.Join(conds, "\n  AND ") + "\n"
	}
	q += "ORDER BY COALESCE(r.published_at, r.created_at) DESC, r.record_id DESC\nLIMIT ? OFFSET ?"
	args = append(args, opts.Limit, offset)

	rows, err := p.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	items := make([]RecordListItem, 0, opts.Limit)
	for rows.Next() {
		var item RecordListItem
		if err := scanRecordListItem(rows, &item); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record rows: %w", err)
	}
	return items, nil
}

// GetRecordByUUID loads one record with its linked entities and
// cross-references.
func (p *Pool) GetRecordByUUID(ctx context.Context, recordUUID string) (*RecordDetail, error) {
	const q = `
SELECT
	r.record_id,
	r.record_uuid,
	r.kind,
	r.source,
	r.source_native_id,
	r.title,
	r.url,
	r.published_at,
	r.status,
	r.phase,
	r.sentiment_score,
	r.sentiment_label,
	r.created_at,
	r.body_text,
	r.lead_text,
	r.therapeutic_area,
	r.journal,
	r.sponsor,
	r.language,
	r.extracted_terms,
	r.updated_at
FROM records r
WHERE r.record_uuid = ?
`
	var detail RecordDetail
	var terms []byte
	err := p.QueryRow(ctx, q, recordUUID).Scan(
		&detail.RecordID,
		&detail.RecordUUID,
		&detail.Kind,
		&detail.Source,
		&detail.SourceNativeID,
		&detail.Title,
		&detail.URL,
		&detail.PublishedAt,
		&detail.Status,
		&detail.Phase,
		&detail.SentimentScore,
		&detail.SentimentLabel,
		&detail.CreatedAt,
		&detail.BodyText,
		&detail.LeadText,
		&detail.TherapeuticArea,
		&detail.Journal,
		&detail.Sponsor,
		&detail.Language,
		&terms,
		&detail.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("query record %s: %w", recordUUID, err)
	}
	if len(terms) > 0 {
		if err := json.Unmarshal(terms, &detail.ExtractedTerms); err != nil {
			return nil, fmt.Errorf("decode extracted terms: %w", err)
		}
	}

	entities, err := p.listRecordEntities(ctx, detail.RecordID)
	if err != nil {
		return nil, err
	}
	detail.Entities = entities

	xrefs, err := p.listRecordXrefs(ctx, detail.RecordID)
	if err != nil {
		return nil, err
	}
	detail.Xrefs = xrefs

	return &detail, nil
}

func (p *Pool) listRecordEntities(ctx context.Context, recordID int64) ([]RecordEntityLink, error) {
	const q = `
SELECT
	e.entity_id,
	e.entity_uuid,
	e.kind,
	e.canonical_name,
	l.mention,
	l.match_basis,
	l.confidence
FROM entity_links l
JOIN entities e ON e.entity_id = l.entity_id
WHERE l.record_id = ?
ORDER BY l.confidence DESC, e.entity_id
`
	rows, err := p.Query(ctx, q, recordID)
	if err != nil {
		return nil, fmt.Errorf("query record entities: %w", err)
	}
	defer rows.Close()

	var links []RecordEntityLink
	for rows.Next() {
		var link RecordEntityLink
		if err := rows.Scan(&link.EntityID, &link.EntityUUID, &link.Kind, &link.Name, &link.Mention, &link.MatchBasis, &link.Confidence); err != nil {
			return nil, fmt.Errorf("scan record entity row: %w", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record entity rows: %w", err)
	}
	return links, nil
}

func (p *Pool) listRecordXrefs(ctx context.Context, recordID int64) ([]RecordXrefItem, error) {
	const q = `
SELECT x.source, x.source_native_id, x.title, x.url, x.published_at, x.similarity
FROM record_xrefs x
WHERE x.record_id = ?
ORDER BY x.xref_id
`
	rows, err := p.Query(ctx, q, recordID)
	if err != nil {
		return nil, fmt.Errorf("query record xrefs: %w", err)
	}
	defer rows.Close()

	var xrefs []RecordXrefItem
	for rows.Next() {
		var xref RecordXrefItem
		if err := rows.Scan(&xref.Source, &xref.SourceNativeID, &xref.Title, &xref.URL, &xref.PublishedAt, &xref.Similarity); err != nil {
			return nil, fmt.Errorf("scan record xref row: %w", err)
		}
		xrefs = append(xrefs, xref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record xref rows: %w", err)
	}
	return xrefs, nil
}

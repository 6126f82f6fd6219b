package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EntityListOptions filters entity listings. Zero values mean no
// filter.
type EntityListOptions struct {
	Kind   string
	Search string
	Limit  int
	Offset int
}

// EntityListItem is one row of the entities list.
type EntityListItem struct {
	EntityID      int64     `json:"entity_id"`
	EntityUUID    string    `json:"entity_uuid"`
	Kind          string    `json:"kind"`
	CanonicalName string    `json:"canonical_name"`
	LinkCount     int64     `json:"link_count"`
	AliasCount    int64     `json:"alias_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// EntityDetail is the full read model for one entity.
type EntityDetail struct {
	EntityListItem
	NormalizedName string   `json:"normalized_name"`
	Aliases        []string `json:"aliases"`
}

const entityListColumns = `
	e.entity_id,
	e.entity_uuid,
	e.kind,
	e.canonical_name,
	(SELECT COUNT(*) FROM entity_links l WHERE l.entity_id = e.entity_id) AS link_count,
	(SELECT COUNT(*) FROM entity_aliases a WHERE a.entity_id = e.entity_id) AS alias_count,
	e.created_at
`

func scanEntityListItem(row rowScanner, item *EntityListItem) error {
	return row.Scan(
		&item.EntityID,
		&item.EntityUUID,
		&item.Kind,
		&item.CanonicalName,
		&item.LinkCount,
		&item.AliasCount,
		&item.CreatedAt,
	)
}

// ListEntities lists resolved entities, most linked first. Search
// matches canonical names and aliases.
func (p *Pool) ListEntities(ctx context.Context, opts EntityListOptions) ([]EntityListItem, error) {
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
		conds = append(conds, "e.kind = ?")
		args = append(args, opts.Kind)
	}
	if opts.Search != "" {
		pattern := "%" + strings.ToLower(opts.Search) + "%"
		conds = append(conds, "(LOWER(e.canonical_name) LIKE ? OR EXISTS (SELECT 1 FROM entity_aliases a WHERE a.entity_id = e.entity_id AND LOWER(a.alias) LIKE ?))")
		args = append(args, pattern, pattern)
	}

	q := "SELECT" + entityListColumns + "FROM entities e\n"
	if len(conds) > 0 {
		q += "WHERE " + strings.Join(conds, "\n  AND ") + "\n"
	}
	q += "ORDER BY link_count DESC, e.entity_id\nLIMIT ? OFFSET ?"
	args = append(args, opts.Limit, offset)

	rows, err := p.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	items := make([]EntityListItem, 0, opts.Limit)
	for rows.Next() {
		var item EntityListItem
		if err := scanEntityListItem(rows, &item); err != nil {
			return nil, fmt.Errorf("scan entity row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity rows: %w", err)
	}
	return items, nil
}

// FindEntity resolves an entity by UUID, canonical name or alias. The
// two lookups stay separate because the uuid column rejects non-uuid
// comparisons.
func (p *Pool) FindEntity(ctx context.Context, key string) (*EntityDetail, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return nil, fmt.Errorf("entity key is required")
	}

	cond := `(LOWER(e.canonical_name) = ?
   OR EXISTS (SELECT 1 FROM entity_aliases a WHERE a.entity_id = e.entity_id AND LOWER(a.alias) = ?))`
	args := []any{strings.ToLower(trimmed), strings.ToLower(trimmed)}
	if _, err := uuid.Parse(trimmed); err == nil {
		cond = "e.entity_uuid = ?"
		args = []any{trimmed}
	}

	q := `
SELECT` + entityListColumns + `,
	e.normalized_name
FROM entities e
WHERE ` + cond + `
ORDER BY e.entity_id
LIMIT 1
`
	var detail EntityDetail
	err := p.QueryRow(ctx, q, args...).Scan(
		&detail.EntityID,
		&detail.EntityUUID,
		&detail.Kind,
		&detail.CanonicalName,
		&detail.LinkCount,
		&detail.AliasCount,
		&detail.CreatedAt,
		&detail.NormalizedName,
	)
	if err != nil {
		return nil, fmt.Errorf("query entity %q: %w", key, err)
	}

	aliases, err := p.listEntityAliases(ctx, detail.EntityID)
	if err != nil {
		return nil, err
	}
	detail.Aliases = aliases
	return &detail, nil
}

func (p *Pool) listEntityAliases(ctx context.Context, entityID int64) ([]string, error) {
	const q = `
SELECT a.alias
FROM entity_aliases a
WHERE a.entity_id = ?
ORDER BY a.alias_id
`
	rows, err := p.Query(ctx, q, entityID)
	if err != nil {
		return nil, fmt.Errorf("query entity aliases: %w", err)
	}
	defer rows.Close()

	var aliases []string
	for rows.Next() {
		var alias string
		if err := rows.Scan(&alias); err != nil {
			return nil, fmt.Errorf("scan entity alias row: %w", err)
		}
		aliases = append(aliases, alias)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity alias rows: %w", err)
	}
	return aliases, nil
}

package db

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RunListOptions filters ingest run listings. Zero values mean no
// filter.
type RunListOptions struct {
	Source string
	State  string
	Limit  int
}

// RunListItem is the read model for one ingest run.
type RunListItem struct {
	RunID             int64      `json:"run_id"`
	RunUUID           string     `json:"run_uuid"`
	Source            string     `json:"source"`
	Query             string     `json:"query,omitempty"`
	State             string     `json:"state"`
	Attempt           int        `json:"attempt"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
	ItemsFetched      int        `json:"items_fetched"`
	ItemsMalformed    int        `json:"items_malformed"`
	ItemsDeduplicated int        `json:"items_deduplicated"`
	ItemsPersisted    int        `json:"items_persisted"`
	EntitiesCreated   int        `json:"entities_created"`
	EntitiesMerged    int        `json:"entities_merged"`
	XrefsRecorded     int        `json:"xrefs_recorded"`
	ErrorMessage      *string    `json:"error_message,omitempty"`
}

// CheckpointItem is the stored fetch window for one (source, query).
type CheckpointItem struct {
	Source              string    `json:"source"`
	Query               string    `json:"query,omitempty"`
	WindowEnd           time.Time `json:"window_end"`
	LastSuccessfulRunID *int64    `json:"last_successful_run_id,omitempty"`
	UpdatedAt           time.Time `json:"updated_at"`
}

const runListColumns = `
	u.run_id,
	u.run_uuid,
	u.source,
	u.query,
	u.state,
	u.attempt,
	u.started_at,
	u.finished_at,
	u.items_fetched,
	u.items_malformed,
	u.items_deduplicated,
	u.items_persisted,
	u.entities_created,
	u.entities_merged,
	u.xrefs_recorded,
	u.error_message
`

func scanRunListItem(row rowScanner, item *RunListItem) error {
	return row.Scan(
		&item.RunID,
		&item.RunUUID,
		&item.Source,
		&item.Query,
		&item.State,
		&item.Attempt,
		&item.StartedAt,
		&item.FinishedAt,
		&item.ItemsFetched,
		&item.ItemsMalformed,
		&item.ItemsDeduplicated,
		&item.ItemsPersisted,
		&item.EntitiesCreated,
		&item.EntitiesMerged,
		&item.XrefsRecorded,
		&item.ErrorMessage,
	)
}

// ListRuns lists ingest runs, newest first.
func (p *Pool) ListRuns(ctx context.Context, opts RunListOptions) ([]RunListItem, error) {
	if opts.Limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	var conds []string
	var args []any
	if opts.Source != "" {
		conds = append(conds, "u.source = ?")
		args = append(args, opts.Source)
	}
	if opts.State != "" {
		conds = append(conds, "u.state = ?")
		args = append(args, opts.State)
	}

	q := "SELECT" + runListColumns + "FROM ingest_runs u\n"
	if len(conds) > 0 {
		q += "WHERE " + strings.Join(conds, "\n  AND ") + "\n"
	}
	q += "ORDER BY u.run_id DESC\nLIMIT ?"
	args = append(args, opts.Limit)

	rows, err := p.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	items := make([]RunListItem, 0, opts.Limit)
	for rows.Next() {
		var item RunListItem
		if err := scanRunListItem(rows, &item); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return items, nil
}

// GetRunByUUID loads one ingest run.
func (p *Pool) GetRunByUUID(ctx context.Context, runUUID string) (*RunListItem, error) {
	q := "SELECT" + runListColumns + "FROM ingest_runs u\nWHERE u.run_uuid = ?"
	var item RunListItem
	if err := scanRunListItem(p.QueryRow(ctx, q, runUUID), &item); err != nil {
		return nil, fmt.Errorf("query run %s: %w", runUUID, err)
	}
	return &item, nil
}

// ListCheckpoints lists the stored fetch windows.
func (p *Pool) ListCheckpoints(ctx context.Context) ([]CheckpointItem, error) {
	const q = `
SELECT c.source, c.query, c.window_end, c.last_successful_run_id, c.updated_at
FROM source_checkpoints c
ORDER BY c.source, c.query
`
	rows, err := p.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	var items []CheckpointItem
	for rows.Next() {
		var item CheckpointItem
		if err := rows.Scan(&item.Source, &item.Query, &item.WindowEnd, &item.LastSuccessfulRunID, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoint rows: %w", err)
	}
	return items, nil
}

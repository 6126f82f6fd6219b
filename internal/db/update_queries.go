package db

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RecordStatusUpdate is the before and after view of a manual status
// refresh.
type RecordStatusUpdate struct {
	RecordUUID string  `json:"record_uuid"`
	Title      string  `json:"title"`
	OldStatus  *string `json:"old_status,omitempty"`
	NewStatus  string  `json:"new_status"`
}

// UpdateRecordStatus sets the status of one record and bumps
// updated_at. Status is the only operator-editable field; everything
// else is owned by the ingest pipeline.
func (p *Pool) UpdateRecordStatus(ctx context.Context, recordUUID, status string, now time.Time) (*RecordStatusUpdate, error) {
	trimmedUUID := strings.TrimSpace(recordUUID)
	if trimmedUUID == "" {
		return nil, fmt.Errorf("record UUID is required")
	}
	trimmedStatus := strings.TrimSpace(status)
	if trimmedStatus == "" {
		return nil, fmt.Errorf("status must not be empty")
	}

	tx, err := p.BeginTx(ctx, TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	update := &RecordStatusUpdate{RecordUUID: trimmedUUID, NewStatus: trimmedStatus}
	const selectQ = `
SELECT r.title, r.status
FROM records r
WHERE r.record_uuid = ?
`
	if err := tx.QueryRow(ctx, selectQ, trimmedUUID).Scan(&update.Title, &update.OldStatus); err != nil {
		if IsNoRows(err) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("load record: %w", err)
	}

	const updateQ = `
UPDATE records
SET status = ?, updated_at = ?
WHERE record_uuid = ?
`
	tag, err := tx.Exec(ctx, updateQ, trimmedStatus, now.UTC(), trimmedUUID)
	if err != nil {
		return nil, fmt.Errorf("update record status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNoRows
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return update, nil
}

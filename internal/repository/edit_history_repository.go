package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/apperrors"
	"github.com/pesio-ai/be-plt-approvals/internal/db"
)

// EditHistoryRepository appends and reads immutable document edit records.
type EditHistoryRepository struct {
	db *db.DB
}

// NewEditHistoryRepository creates a new EditHistoryRepository.
func NewEditHistoryRepository(db *db.DB) *EditHistoryRepository {
	return &EditHistoryRepository{db: db}
}

// Append inserts one edit record. Append is the only mutation exposed.
func (r *EditHistoryRepository) Append(ctx context.Context, entry *EditHistoryEntry) error {
	beforeJSON, err := marshalSnapshot(entry.Before)
	if err != nil {
		return err
	}
	afterJSON, err := marshalSnapshot(entry.After)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO edit_history
		    (tenant_id, process_type, process_id, editor_id,
		     changed_fields, before_snapshot, after_snapshot,
		     approvals_reset, reset_at)
		VALUES ($1, $2, $3, $4,
		        $5, $6, $7,
		        $8, $9)
		RETURNING id, edited_at, created_at
	`

	return r.db.QueryRow(ctx, query,
		entry.TenantID,
		entry.ProcessType,
		entry.ProcessID,
		entry.EditorID,
		entry.ChangedFields,
		beforeJSON,
		afterJSON,
		entry.ApprovalsReset,
		entry.ResetAt,
	).Scan(&entry.ID, &entry.EditedAt, &entry.CreatedAt)
}

// GetByProcess returns a document's edit trail, newest first.
func (r *EditHistoryRepository) GetByProcess(ctx context.Context, tenantID string, processType ProcessType, processID string) ([]*EditHistoryEntry, error) {
	query := `
		SELECT id, tenant_id, process_type, process_id, editor_id,
		       changed_fields, before_snapshot, after_snapshot,
		       approvals_reset, reset_at, edited_at, created_at
		FROM edit_history
		WHERE tenant_id = $1 AND process_type = $2 AND process_id = $3
		ORDER BY edited_at DESC
	`

	rows, err := r.db.Query(ctx, query, tenantID, processType, processID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get edit history")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func marshalSnapshot(snapshot map[string]interface{}) ([]byte, error) {
	if snapshot == nil {
		return nil, nil
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal edit snapshot")
	}
	return data, nil
}

func (r *EditHistoryRepository) scanRows(rows pgx.Rows) ([]*EditHistoryEntry, error) {
	var entries []*EditHistoryEntry
	for rows.Next() {
		entry := &EditHistoryEntry{}
		var beforeJSON, afterJSON []byte

		err := rows.Scan(
			&entry.ID,
			&entry.TenantID,
			&entry.ProcessType,
			&entry.ProcessID,
			&entry.EditorID,
			&entry.ChangedFields,
			&beforeJSON,
			&afterJSON,
			&entry.ApprovalsReset,
			&entry.ResetAt,
			&entry.EditedAt,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan edit history entry")
		}

		if beforeJSON != nil {
			if err := json.Unmarshal(beforeJSON, &entry.Before); err != nil {
				return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to unmarshal before snapshot")
			}
		}
		if afterJSON != nil {
			if err := json.Unmarshal(afterJSON, &entry.After); err != nil {
				return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to unmarshal after snapshot")
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

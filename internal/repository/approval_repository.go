package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/apperrors"
	"github.com/pesio-ai/be-plt-approvals/internal/db"
)

// ApprovalRepository manages the approval ledger rows. Decision and transfer
// updates are compare-and-set on status = 'pending', so of two concurrent
// attempts on the same row exactly one sees the pending row and wins.
type ApprovalRepository struct {
	db *db.DB
}

// NewApprovalRepository creates a new ApprovalRepository.
func NewApprovalRepository(db *db.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

const approvalColumns = `
	id, tenant_id, process_type, process_id,
	level, approver_id, status, decided_at, notes,
	original_approver_id, transferred_at, transferred_by, transfer_reason,
	created_at, updated_at`

// CreateLedger inserts one pending row per level. Callers wrap this in a
// transaction together with whatever else must commit atomically.
func (r *ApprovalRepository) CreateLedger(ctx context.Context, rows []*Approval) error {
	query := `
		INSERT INTO approvals
		    (tenant_id, process_type, process_id, level, approver_id, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	for _, row := range rows {
		err := r.db.QueryRow(ctx, query,
			row.TenantID,
			row.ProcessType,
			row.ProcessID,
			row.Level,
			row.ApproverID,
			row.Status,
		).Scan(&row.ID, &row.CreatedAt, &row.UpdatedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create approval row")
		}
	}
	return nil
}

// GetByID retrieves a single ledger row within a tenant.
func (r *ApprovalRepository) GetByID(ctx context.Context, tenantID, id string) (*Approval, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM approvals
		WHERE id = $1 AND tenant_id = $2
	`

	a, err := r.scanApproval(r.db.QueryRow(ctx, query, id, tenantID))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("approval", id)
	}
	return a, err
}

// GetByProcess returns every ledger row for a document, cancelled history
// included, ordered oldest ledger first then by level.
func (r *ApprovalRepository) GetByProcess(ctx context.Context, tenantID string, processType ProcessType, processID string) ([]*Approval, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM approvals
		WHERE tenant_id = $1 AND process_type = $2 AND process_id = $3
		ORDER BY created_at ASC, level ASC
	`

	rows, err := r.db.Query(ctx, query, tenantID, processType, processID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get approvals for process")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// GetActiveByProcess returns the current ledger for a document: every row not
// cancelled by a reset, ordered by level.
func (r *ApprovalRepository) GetActiveByProcess(ctx context.Context, tenantID string, processType ProcessType, processID string) ([]*Approval, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM approvals
		WHERE tenant_id = $1 AND process_type = $2 AND process_id = $3
		  AND status <> 'cancelled'
		ORDER BY level ASC
	`

	rows, err := r.db.Query(ctx, query, tenantID, processType, processID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get active approvals")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// GetPendingForUser returns the pending-approval inbox for an approver.
func (r *ApprovalRepository) GetPendingForUser(ctx context.Context, tenantID, userID string) ([]*Approval, error) {
	query := `
		SELECT ` + approvalColumns + `
		FROM approvals
		WHERE tenant_id = $1
		  AND approver_id = $2
		  AND status = 'pending'
		ORDER BY created_at ASC, level ASC
	`

	rows, err := r.db.Query(ctx, query, tenantID, userID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get pending approvals")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// CountPending returns how many levels of a document's ledger are still pending.
func (r *ApprovalRepository) CountPending(ctx context.Context, tenantID string, processType ProcessType, processID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM approvals
		WHERE tenant_id = $1 AND process_type = $2 AND process_id = $3
		  AND status = 'pending'
	`

	var count int
	if err := r.db.QueryRow(ctx, query, tenantID, processType, processID).Scan(&count); err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to count pending approvals")
	}
	return count, nil
}

// Decide records the outcome of one ledger row. The update only applies while
// the row is still pending and still assigned to actorID, so a decision and a
// concurrent transfer cannot both win; false means the row changed hands or
// was decided first.
func (r *ApprovalRepository) Decide(ctx context.Context, tenantID, id, actorID string, status ApprovalStatus, notes *string) (bool, error) {
	query := `
		UPDATE approvals
		SET status     = $3,
		    decided_at = NOW(),
		    notes      = $4,
		    updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2
		  AND status = 'pending'
		  AND approver_id = $5
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, tenantID, status, notes, actorID).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to record approval decision")
	}
	return true, nil
}

// Transfer reassigns a pending row to a new approver, keeping the original
// approver for audit. False means the row was no longer pending.
func (r *ApprovalRepository) Transfer(ctx context.Context, tenantID, id, newApproverID, reason, transferredBy string) (bool, error) {
	query := `
		UPDATE approvals
		SET original_approver_id = COALESCE(original_approver_id, approver_id),
		    approver_id          = $3,
		    transferred_at       = NOW(),
		    transferred_by       = $4,
		    transfer_reason      = $5,
		    updated_at           = NOW()
		WHERE id = $1 AND tenant_id = $2
		  AND status = 'pending'
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, tenantID, newApproverID, transferredBy, reason).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to transfer approval")
	}
	return true, nil
}

// CancelActive cancels every pending and approved row of a document's current
// ledger, returning how many rows were cancelled. Rejected rows are terminal
// history and stay untouched.
func (r *ApprovalRepository) CancelActive(ctx context.Context, tenantID string, processType ProcessType, processID string) (int64, error) {
	query := `
		UPDATE approvals
		SET status     = 'cancelled',
		    updated_at = NOW()
		WHERE tenant_id = $1 AND process_type = $2 AND process_id = $3
		  AND status IN ('pending', 'approved')
	`

	tag, err := r.db.Exec(ctx, query, tenantID, processType, processID)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to cancel active approvals")
	}
	return tag.RowsAffected(), nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type approvalScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalRepository) scanApproval(row approvalScanner) (*Approval, error) {
	a := &Approval{}
	err := row.Scan(
		&a.ID,
		&a.TenantID,
		&a.ProcessType,
		&a.ProcessID,
		&a.Level,
		&a.ApproverID,
		&a.Status,
		&a.DecidedAt,
		&a.Notes,
		&a.OriginalApproverID,
		&a.TransferredAt,
		&a.TransferredBy,
		&a.TransferReason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *ApprovalRepository) scanRows(rows pgx.Rows) ([]*Approval, error) {
	var approvals []*Approval
	for rows.Next() {
		a, err := r.scanApproval(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan approval row")
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

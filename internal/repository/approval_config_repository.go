package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/apperrors"
	"github.com/pesio-ai/be-plt-approvals/internal/db"
)

// ApprovalConfigRepository handles CRUD for approval_configs.
type ApprovalConfigRepository struct {
	db *db.DB
}

// NewApprovalConfigRepository creates a new ApprovalConfigRepository.
func NewApprovalConfigRepository(db *db.DB) *ApprovalConfigRepository {
	return &ApprovalConfigRepository{db: db}
}

const approvalConfigColumns = `
	id, tenant_id, name, process_type,
	cost_center_id, department, financial_class, requester_id,
	value_limit, level, approvers, active,
	created_by, created_at, updated_at`

// Create inserts a new approval config.
func (r *ApprovalConfigRepository) Create(ctx context.Context, cfg *ApprovalConfig) error {
	approversJSON, err := json.Marshal(cfg.Approvers)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal approvers")
	}

	query := `
		INSERT INTO approval_configs
		    (tenant_id, name, process_type,
		     cost_center_id, department, financial_class, requester_id,
		     value_limit, level, approvers, active, created_by)
		VALUES ($1, $2, $3,
		        $4, $5, $6, $7,
		        $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`

	return r.db.QueryRow(ctx, query,
		cfg.TenantID,
		cfg.Name,
		cfg.ProcessType,
		cfg.CostCenterID,
		cfg.Department,
		cfg.FinancialClass,
		cfg.RequesterID,
		cfg.ValueLimit,
		cfg.Level,
		approversJSON,
		cfg.Active,
		cfg.CreatedBy,
	).Scan(&cfg.ID, &cfg.CreatedAt, &cfg.UpdatedAt)
}

// GetByID retrieves a config by primary key within a tenant.
func (r *ApprovalConfigRepository) GetByID(ctx context.Context, tenantID, id string) (*ApprovalConfig, error) {
	query := `
		SELECT ` + approvalConfigColumns + `
		FROM approval_configs
		WHERE id = $1 AND tenant_id = $2
	`

	cfg, err := r.scanConfig(r.db.QueryRow(ctx, query, id, tenantID))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("approval_config", id)
	}
	return cfg, err
}

// List returns all configs for a tenant, optionally filtered by process type
// and active flag.
func (r *ApprovalConfigRepository) List(ctx context.Context, tenantID string, processType *ProcessType, activeOnly bool) ([]*ApprovalConfig, error) {
	query := `
		SELECT ` + approvalConfigColumns + `
		FROM approval_configs
		WHERE tenant_id = $1
	`
	args := []any{tenantID}
	if processType != nil {
		query += " AND process_type = $2"
		args = append(args, *processType)
	}
	if activeOnly {
		query += " AND active = TRUE"
	}
	query += " ORDER BY level ASC, name ASC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list approval configs")
	}
	defer rows.Close()

	var configs []*ApprovalConfig
	for rows.Next() {
		cfg, err := r.scanConfig(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan approval config")
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

// ListActive returns the active configs for one process type, ordered by level.
// This is the candidate set rule resolution works from.
func (r *ApprovalConfigRepository) ListActive(ctx context.Context, tenantID string, processType ProcessType) ([]*ApprovalConfig, error) {
	return r.List(ctx, tenantID, &processType, true)
}

// Update persists changes to an existing config.
func (r *ApprovalConfigRepository) Update(ctx context.Context, cfg *ApprovalConfig) error {
	approversJSON, err := json.Marshal(cfg.Approvers)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal approvers")
	}

	query := `
		UPDATE approval_configs
		SET name            = $3,
		    cost_center_id  = $4,
		    department      = $5,
		    financial_class = $6,
		    requester_id    = $7,
		    value_limit     = $8,
		    level           = $9,
		    approvers       = $10,
		    active          = $11,
		    updated_at      = NOW()
		WHERE id = $1 AND tenant_id = $2
		RETURNING updated_at
	`

	err = r.db.QueryRow(ctx, query,
		cfg.ID,
		cfg.TenantID,
		cfg.Name,
		cfg.CostCenterID,
		cfg.Department,
		cfg.FinancialClass,
		cfg.RequesterID,
		cfg.ValueLimit,
		cfg.Level,
		approversJSON,
		cfg.Active,
	).Scan(&cfg.UpdatedAt)

	if err == pgx.ErrNoRows {
		return apperrors.NotFound("approval_config", cfg.ID)
	}
	return err
}

// Delete removes an approval config.
func (r *ApprovalConfigRepository) Delete(ctx context.Context, tenantID, id string) error {
	query := `
		DELETE FROM approval_configs
		WHERE id = $1 AND tenant_id = $2
	`

	tag, err := r.db.Exec(ctx, query, id, tenantID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to delete approval config")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("approval_config", id)
	}
	return nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type configScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalConfigRepository) scanConfig(row configScanner) (*ApprovalConfig, error) {
	cfg := &ApprovalConfig{}
	var approversJSON []byte

	err := row.Scan(
		&cfg.ID,
		&cfg.TenantID,
		&cfg.Name,
		&cfg.ProcessType,
		&cfg.CostCenterID,
		&cfg.Department,
		&cfg.FinancialClass,
		&cfg.RequesterID,
		&cfg.ValueLimit,
		&cfg.Level,
		&approversJSON,
		&cfg.Active,
		&cfg.CreatedBy,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(approversJSON, &cfg.Approvers); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to unmarshal approvers")
	}
	return cfg, nil
}

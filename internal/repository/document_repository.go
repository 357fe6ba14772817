package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/apperrors"
	"github.com/pesio-ai/be-plt-approvals/internal/db"
)

// DocumentRepository manages workflow document handles. Domain services
// register and update their documents here; the approval engine reads the
// handle and writes workflow_state only, with a compare-and-set on the
// expected current state.
type DocumentRepository struct {
	db *db.DB
}

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(db *db.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

const documentColumns = `
	tenant_id, process_type, process_id, reference_number, workflow_state,
	value, cost_center_id, department, financial_class, requester_id,
	created_at, updated_at`

// Register inserts a document handle when the owning service first exposes a
// document to the approval engine.
func (r *DocumentRepository) Register(ctx context.Context, doc *WorkflowDocument) error {
	query := `
		INSERT INTO workflow_documents
		    (tenant_id, process_type, process_id, reference_number, workflow_state,
		     value, cost_center_id, department, financial_class, requester_id)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	return r.db.QueryRow(ctx, query,
		doc.TenantID,
		doc.ProcessType,
		doc.ProcessID,
		doc.ReferenceNumber,
		doc.WorkflowState,
		doc.Value,
		doc.CostCenterID,
		doc.Department,
		doc.FinancialClass,
		doc.RequesterID,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
}

// Get retrieves the handle for one document.
func (r *DocumentRepository) Get(ctx context.Context, tenantID string, processType ProcessType, processID string) (*WorkflowDocument, error) {
	query := `
		SELECT ` + documentColumns + `
		FROM workflow_documents
		WHERE tenant_id = $1 AND process_type = $2 AND process_id = $3
	`

	doc, err := r.scanDocument(r.db.QueryRow(ctx, query, tenantID, processType, processID))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("document", processID)
	}
	return doc, err
}

// UpdateAttributes rewrites the rule-matching attributes after the owning
// service edits the document. Workflow state is untouched.
func (r *DocumentRepository) UpdateAttributes(ctx context.Context, tenantID string, processType ProcessType, processID string, attrs DocumentAttributes) error {
	query := `
		UPDATE workflow_documents
		SET value           = $4,
		    cost_center_id  = $5,
		    department      = $6,
		    financial_class = $7,
		    requester_id    = $8,
		    updated_at      = NOW()
		WHERE tenant_id = $1 AND process_type = $2 AND process_id = $3
		RETURNING process_id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query,
		tenantID, processType, processID,
		attrs.Value, attrs.CostCenterID, attrs.Department, attrs.FinancialClass, attrs.RequesterID,
	).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperrors.NotFound("document", processID)
	}
	return err
}

// SetWorkflowState moves the document from an expected state to a new one.
// False means the document was not in the expected state, so some other
// transition committed first.
func (r *DocumentRepository) SetWorkflowState(ctx context.Context, tenantID string, processType ProcessType, processID, fromState, toState string) (bool, error) {
	query := `
		UPDATE workflow_documents
		SET workflow_state = $5,
		    updated_at     = NOW()
		WHERE tenant_id = $1 AND process_type = $2 AND process_id = $3
		  AND workflow_state = $4
		RETURNING process_id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, tenantID, processType, processID, fromState, toState).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to set workflow state")
	}
	return true, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type documentScanner interface {
	Scan(dest ...any) error
}

func (r *DocumentRepository) scanDocument(row documentScanner) (*WorkflowDocument, error) {
	doc := &WorkflowDocument{}
	err := row.Scan(
		&doc.TenantID,
		&doc.ProcessType,
		&doc.ProcessID,
		&doc.ReferenceNumber,
		&doc.WorkflowState,
		&doc.Value,
		&doc.CostCenterID,
		&doc.Department,
		&doc.FinancialClass,
		&doc.RequesterID,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

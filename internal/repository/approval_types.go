package repository

import "time"

// ── Domain types for the approval engine ─────────────────────────────────────

// ProcessType categorizes the documents subject to approval routing.
type ProcessType string

const (
	ProcessRequisition   ProcessType = "requisition"
	ProcessQuotation     ProcessType = "quotation"
	ProcessPurchaseOrder ProcessType = "purchase_order"
	ProcessPayable       ProcessType = "payable"
	ProcessMaterialExit  ProcessType = "material_exit"
)

// KnownProcessTypes lists every process type the engine routes.
var KnownProcessTypes = []ProcessType{
	ProcessRequisition,
	ProcessQuotation,
	ProcessPurchaseOrder,
	ProcessPayable,
	ProcessMaterialExit,
}

// Valid reports whether the process type is one the engine knows.
func (p ProcessType) Valid() bool {
	for _, known := range KnownProcessTypes {
		if p == known {
			return true
		}
	}
	return false
}

// ApprovalStatus is the lifecycle of a single ledger row. Once non-pending a
// row never changes again; a reset cancels it and creates fresh rows.
type ApprovalStatus string

const (
	StatusPending   ApprovalStatus = "pending"
	StatusApproved  ApprovalStatus = "approved"
	StatusRejected  ApprovalStatus = "rejected"
	StatusCancelled ApprovalStatus = "cancelled"
)

// ConfigApprover is one entry in an approval config's approvers JSONB array.
type ConfigApprover struct {
	UserID    string `json:"user_id"`
	IsPrimary bool   `json:"is_primary"`
	Order     int    `json:"order"`
}

// ApprovalConfig is an administrator-managed routing rule. Each optional
// criterion narrows the documents the config applies to; Level positions the
// config inside the approval chain it contributes to.
type ApprovalConfig struct {
	ID             string           `json:"id"`
	TenantID       string           `json:"tenant_id"`
	Name           string           `json:"name"`
	ProcessType    ProcessType      `json:"process_type"`
	CostCenterID   *string          `json:"cost_center_id,omitempty"`
	Department     *string          `json:"department,omitempty"`
	FinancialClass *string          `json:"financial_class,omitempty"`
	RequesterID    *string          `json:"requester_id,omitempty"` // matches the document's requesting user
	ValueLimit     *int64           `json:"value_limit,omitempty"` // cents; matches documents valued at or below this
	Level          int              `json:"level"`
	Approvers      []ConfigApprover `json:"approvers"`
	Active         bool             `json:"active"`
	CreatedBy      *string          `json:"created_by,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Approval is one ledger row: the required decision at one level of a
// document's approval chain.
type Approval struct {
	ID                 string         `json:"id"`
	TenantID           string         `json:"tenant_id"`
	ProcessType        ProcessType    `json:"process_type"`
	ProcessID          string         `json:"process_id"`
	Level              int            `json:"level"`
	ApproverID         string         `json:"approver_id"`
	Status             ApprovalStatus `json:"status"`
	DecidedAt          *time.Time     `json:"decided_at,omitempty"`
	Notes              *string        `json:"notes,omitempty"`
	OriginalApproverID *string        `json:"original_approver_id,omitempty"`
	TransferredAt      *time.Time     `json:"transferred_at,omitempty"`
	TransferredBy      *string        `json:"transferred_by,omitempty"`
	TransferReason     *string        `json:"transfer_reason,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// DocumentAttributes are the only document fields rule resolution reads.
type DocumentAttributes struct {
	Value          int64   `json:"value"` // cents
	CostCenterID   *string `json:"cost_center_id,omitempty"`
	Department     *string `json:"department,omitempty"`
	FinancialClass *string `json:"financial_class,omitempty"`
	RequesterID    *string `json:"requester_id,omitempty"`
}

// WorkflowDocument is the engine's handle on a document. The owning domain
// service manages every other field; the engine reads the attributes and
// writes only WorkflowState.
type WorkflowDocument struct {
	TenantID        string      `json:"tenant_id"`
	ProcessType     ProcessType `json:"process_type"`
	ProcessID       string      `json:"process_id"`
	ReferenceNumber *string     `json:"reference_number,omitempty"`
	WorkflowState   string      `json:"workflow_state"`
	Value           int64       `json:"value"`
	CostCenterID    *string     `json:"cost_center_id,omitempty"`
	Department      *string     `json:"department,omitempty"`
	FinancialClass  *string     `json:"financial_class,omitempty"`
	RequesterID     *string     `json:"requester_id,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Attributes extracts the rule-matching view of the document.
func (d *WorkflowDocument) Attributes() DocumentAttributes {
	return DocumentAttributes{
		Value:          d.Value,
		CostCenterID:   d.CostCenterID,
		Department:     d.Department,
		FinancialClass: d.FinancialClass,
		RequesterID:    d.RequesterID,
	}
}

// EditHistoryEntry is one immutable record of a document edit, including
// whether the edit forced an approval reset.
type EditHistoryEntry struct {
	ID             string                 `json:"id"`
	TenantID       string                 `json:"tenant_id"`
	ProcessType    ProcessType            `json:"process_type"`
	ProcessID      string                 `json:"process_id"`
	EditorID       string                 `json:"editor_id"`
	ChangedFields  []string               `json:"changed_fields"`
	Before         map[string]interface{} `json:"before,omitempty"`
	After          map[string]interface{} `json:"after,omitempty"`
	ApprovalsReset bool                   `json:"approvals_reset"`
	ResetAt        *time.Time             `json:"reset_at,omitempty"`
	EditedAt       time.Time              `json:"edited_at"`
	CreatedAt      time.Time              `json:"created_at"`
}

package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-plt-approvals/internal/apperrors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/workflow"
)

// DocumentRegistry is the document persistence the document service depends on.
type DocumentRegistry interface {
	Register(ctx context.Context, doc *repository.WorkflowDocument) error
	Get(ctx context.Context, tenantID string, processType repository.ProcessType, processID string) (*repository.WorkflowDocument, error)
	UpdateAttributes(ctx context.Context, tenantID string, processType repository.ProcessType, processID string, attrs repository.DocumentAttributes) error
	SetWorkflowState(ctx context.Context, tenantID string, processType repository.ProcessType, processID, fromState, toState string) (bool, error)
}

// DocumentService registers document handles and drives their non-gate
// transitions. Gate transitions (pending to approved or rejected) belong to
// the approval processor alone and are refused here.
type DocumentService struct {
	docs      DocumentRegistry
	approvals *ApprovalService
	log       zerolog.Logger
}

// NewDocumentService creates a new DocumentService.
func NewDocumentService(docs DocumentRegistry, approvals *ApprovalService, log zerolog.Logger) *DocumentService {
	return &DocumentService{docs: docs, approvals: approvals, log: log}
}

// RegisterDocument records a document handle at its initial workflow state.
func (s *DocumentService) RegisterDocument(ctx context.Context, doc *repository.WorkflowDocument) (*repository.WorkflowDocument, error) {
	if !doc.ProcessType.Valid() {
		return nil, apperrors.InvalidInput("process_type", "unknown process type")
	}
	if doc.ProcessID == "" {
		return nil, apperrors.InvalidInput("process_id", "process id is required")
	}

	states := workflow.States(doc.ProcessType)
	valid := false
	for _, state := range states {
		if string(state) == doc.WorkflowState {
			valid = true
			break
		}
	}
	if !valid {
		return nil, apperrors.InvalidInput("workflow_state", "unknown state for process type")
	}

	if err := s.docs.Register(ctx, doc); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("tenant_id", doc.TenantID).
		Str("process_type", string(doc.ProcessType)).
		Str("process_id", doc.ProcessID).
		Str("workflow_state", doc.WorkflowState).
		Msg("Document registered")

	return doc, nil
}

// GetDocument returns one document handle.
func (s *DocumentService) GetDocument(ctx context.Context, tenantID string, processType repository.ProcessType, processID string) (*repository.WorkflowDocument, error) {
	return s.docs.Get(ctx, tenantID, processType, processID)
}

// TransitionDocument moves a document along one legal non-gate edge, for
// example forwarding an approved requisition or marking an order delivered.
func (s *DocumentService) TransitionDocument(
	ctx context.Context,
	tenantID string,
	processType repository.ProcessType,
	processID, toState string,
) (*repository.WorkflowDocument, error) {
	doc, err := s.docs.Get(ctx, tenantID, processType, processID)
	if err != nil {
		return nil, err
	}

	from := workflow.State(doc.WorkflowState)
	to := workflow.State(toState)
	if err := workflow.Validate(processType, from, to); err != nil {
		return nil, err
	}
	if workflow.IsGateEdge(processType, from, to) {
		return nil, apperrors.InvalidState("approval gate transitions require an approval decision")
	}

	moved, err := s.docs.SetWorkflowState(ctx, tenantID, processType, processID, doc.WorkflowState, toState)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidState,
			"document %s is no longer in state %s", processID, doc.WorkflowState)
	}

	s.log.Info().
		Str("tenant_id", tenantID).
		Str("process_type", string(processType)).
		Str("process_id", processID).
		Str("from_state", doc.WorkflowState).
		Str("to_state", toState).
		Msg("Document transitioned")

	return s.docs.Get(ctx, tenantID, processType, processID)
}

// UpdateDocumentAttributes applies an attribute edit and, when the edit
// touches fields the rules read, resets the approval ledger.
func (s *DocumentService) UpdateDocumentAttributes(
	ctx context.Context,
	tenantID string,
	processType repository.ProcessType,
	processID string,
	attrs repository.DocumentAttributes,
	edit EditContext,
) (*repository.WorkflowDocument, bool, error) {
	editable, err := s.approvals.CanEditSolicitation(ctx, tenantID, processType, processID)
	if err != nil {
		return nil, false, err
	}
	if !editable {
		return nil, false, apperrors.InvalidState("document can no longer be edited")
	}

	if err := s.docs.UpdateAttributes(ctx, tenantID, processType, processID, attrs); err != nil {
		return nil, false, err
	}

	reset := false
	if touchesApprovalCriteria(edit.ChangedFields) {
		reset, err = s.approvals.ResetApprovalsAfterEdit(ctx, tenantID, processType, processID, edit)
		if err != nil {
			return nil, false, err
		}
	} else if err := s.approvals.history.Append(ctx, s.approvals.historyEntry(tenantID, processType, processID, edit, false, nil)); err != nil {
		return nil, false, err
	}

	doc, err := s.docs.Get(ctx, tenantID, processType, processID)
	if err != nil {
		return nil, false, err
	}
	return doc, reset, nil
}

// approvalCriteriaFields are the attribute names the rule resolver reads.
// Edits touching any of them invalidate decisions already made.
var approvalCriteriaFields = map[string]bool{
	"value":           true,
	"cost_center_id":  true,
	"department":      true,
	"financial_class": true,
	"requester_id":    true,
	"items":           true,
}

func touchesApprovalCriteria(changed []string) bool {
	for _, field := range changed {
		if approvalCriteriaFields[field] {
			return true
		}
	}
	return false
}

package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-plt-approvals/internal/apperrors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/rules"
	"github.com/pesio-ai/be-plt-approvals/internal/workflow"
)

// ChainResolver resolves a document's approval chain from the tenant's rules.
type ChainResolver interface {
	Resolve(ctx context.Context, tenantID string, processType repository.ProcessType, attrs repository.DocumentAttributes) ([]rules.Level, error)
}

// LedgerStore is the approval ledger persistence the service depends on.
type LedgerStore interface {
	CreateLedger(ctx context.Context, rows []*repository.Approval) error
	GetByID(ctx context.Context, tenantID, id string) (*repository.Approval, error)
	GetByProcess(ctx context.Context, tenantID string, processType repository.ProcessType, processID string) ([]*repository.Approval, error)
	GetActiveByProcess(ctx context.Context, tenantID string, processType repository.ProcessType, processID string) ([]*repository.Approval, error)
	GetPendingForUser(ctx context.Context, tenantID, userID string) ([]*repository.Approval, error)
	CountPending(ctx context.Context, tenantID string, processType repository.ProcessType, processID string) (int, error)
	Decide(ctx context.Context, tenantID, id, actorID string, status repository.ApprovalStatus, notes *string) (bool, error)
	Transfer(ctx context.Context, tenantID, id, newApproverID, reason, transferredBy string) (bool, error)
	CancelActive(ctx context.Context, tenantID string, processType repository.ProcessType, processID string) (int64, error)
}

// DocumentStore is the document-handle persistence the service depends on.
type DocumentStore interface {
	Get(ctx context.Context, tenantID string, processType repository.ProcessType, processID string) (*repository.WorkflowDocument, error)
	SetWorkflowState(ctx context.Context, tenantID string, processType repository.ProcessType, processID, fromState, toState string) (bool, error)
}

// HistoryStore is the edit-history persistence the service depends on.
type HistoryStore interface {
	Append(ctx context.Context, entry *repository.EditHistoryEntry) error
	GetByProcess(ctx context.Context, tenantID string, processType repository.ProcessType, processID string) ([]*repository.EditHistoryEntry, error)
}

// Transactor runs a function as one atomic unit of work.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Notifier announces new pending work to approvers. Publishing is non-fatal
// and happens only after the triggering write has committed.
type Notifier interface {
	PublishApprovalEvent(ctx context.Context, eventType string, row *repository.Approval, actorID string, recipients []string, payload map[string]interface{})
}

// ApprovalService is the approval processor: it creates ledgers, records
// decisions, handles transfer and edit-reset, and drives the document state
// machine through its approval gate. Every ledger mutation and its dependent
// document transition commit in one transaction, so callers never observe one
// without the other.
type ApprovalService struct {
	resolver ChainResolver
	ledger   LedgerStore
	docs     DocumentStore
	history  HistoryStore
	tx       Transactor
	notifier Notifier
	log      zerolog.Logger
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(
	resolver ChainResolver,
	ledger LedgerStore,
	docs DocumentStore,
	history HistoryStore,
	tx Transactor,
	log zerolog.Logger,
) *ApprovalService {
	return &ApprovalService{
		resolver: resolver,
		ledger:   ledger,
		docs:     docs,
		history:  history,
		tx:       tx,
		log:      log,
	}
}

// WithNotifier attaches an event publisher. A nil service notifier disables
// publishing.
func (s *ApprovalService) WithNotifier(notifier Notifier) *ApprovalService {
	s.notifier = notifier
	return s
}

// Decision is the outcome an approver records on a ledger row.
type Decision string

const (
	DecisionApproved  Decision = "approved"
	DecisionRejected  Decision = "rejected"
	DecisionCancelled Decision = "cancelled"
)

func (d Decision) status() (repository.ApprovalStatus, error) {
	switch d {
	case DecisionApproved:
		return repository.StatusApproved, nil
	case DecisionRejected:
		return repository.StatusRejected, nil
	case DecisionCancelled:
		return repository.StatusCancelled, nil
	}
	return "", apperrors.InvalidInput("decision", "must be approved, rejected or cancelled")
}

// ── Ledger creation ───────────────────────────────────────────────────────────

// CreateApprovalsForProcess materializes the full approval ledger for a
// document: one pending row per resolved level, each addressed to the first
// approver of that level. Idempotent: an existing ledger is returned
// unchanged. The document must be sitting at its approval gate.
func (s *ApprovalService) CreateApprovalsForProcess(
	ctx context.Context,
	tenantID string,
	processType repository.ProcessType,
	processID string,
) ([]*repository.Approval, bool, error) {
	if !processType.Valid() {
		return nil, false, apperrors.InvalidInput("process_type", "unknown process type")
	}

	existing, err := s.ledger.GetActiveByProcess(ctx, tenantID, processType, processID)
	if err != nil {
		return nil, false, err
	}
	if len(existing) > 0 {
		return existing, false, nil
	}

	doc, err := s.docs.Get(ctx, tenantID, processType, processID)
	if err != nil {
		return nil, false, err
	}

	gate, err := workflow.GateFor(processType)
	if err != nil {
		return nil, false, err
	}
	if workflow.State(doc.WorkflowState) != gate.Pending {
		return nil, false, apperrors.Newf(apperrors.ErrCodeInvalidState,
			"document is not awaiting approval (state: %s)", doc.WorkflowState)
	}

	chain, err := s.resolver.Resolve(ctx, tenantID, processType, doc.Attributes())
	if err != nil {
		return nil, false, err
	}

	rows := make([]*repository.Approval, 0, len(chain))
	for _, level := range chain {
		rows = append(rows, &repository.Approval{
			TenantID:    tenantID,
			ProcessType: processType,
			ProcessID:   processID,
			Level:       level.Level,
			ApproverID:  level.FirstApprover().UserID,
			Status:      repository.StatusPending,
		})
	}

	if err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		return s.ledger.CreateLedger(ctx, rows)
	}); err != nil {
		return nil, false, err
	}

	s.log.Info().
		Str("tenant_id", tenantID).
		Str("process_type", string(processType)).
		Str("process_id", processID).
		Int("levels", len(rows)).
		Msg("Approval ledger created")

	s.notifyPending(ctx, rows)

	return rows, true, nil
}

// notifyPending announces newly created pending rows to their approvers.
func (s *ApprovalService) notifyPending(ctx context.Context, rows []*repository.Approval) {
	if s.notifier == nil {
		return
	}
	for _, row := range rows {
		s.notifier.PublishApprovalEvent(ctx, "approval_required", row, "", []string{row.ApproverID}, map[string]interface{}{
			"level": row.Level,
		})
	}
}

// ── Decision processing ───────────────────────────────────────────────────────

// ProcessApproval records one approver's decision. Approving the last pending
// level advances the document to its approved successor; rejecting or
// cancelling any level advances it to the rejected successor immediately,
// leaving sibling pending rows untouched. The row update and the document
// transition are one atomic unit.
func (s *ApprovalService) ProcessApproval(
	ctx context.Context,
	tenantID, approvalID string,
	decision Decision,
	notes *string,
	actorID string,
) (*repository.Approval, bool, error) {
	status, err := decision.status()
	if err != nil {
		return nil, false, err
	}

	row, err := s.ledger.GetByID(ctx, tenantID, approvalID)
	if err != nil {
		return nil, false, err
	}
	if row.ApproverID != actorID {
		return nil, false, apperrors.Unauthorized("actor is not the current approver for this level")
	}
	if row.Status != repository.StatusPending {
		return nil, false, apperrors.Newf(apperrors.ErrCodeInvalidState,
			"approval is not pending (status: %s)", row.Status)
	}

	gate, err := workflow.GateFor(row.ProcessType)
	if err != nil {
		return nil, false, err
	}

	workflowComplete := false
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		won, err := s.ledger.Decide(ctx, tenantID, approvalID, actorID, status, notes)
		if err != nil {
			return err
		}
		if !won {
			// Either a decision or a transfer committed between our read and
			// this update. Re-read to tell the caller which.
			current, err := s.ledger.GetByID(ctx, tenantID, approvalID)
			if err != nil {
				return err
			}
			if current.Status != repository.StatusPending {
				return apperrors.InvalidState("approval was already decided")
			}
			return apperrors.Unauthorized("approval was transferred to another approver")
		}

		switch status {
		case repository.StatusApproved:
			remaining, err := s.ledger.CountPending(ctx, tenantID, row.ProcessType, row.ProcessID)
			if err != nil {
				return err
			}
			if remaining > 0 {
				return nil
			}
			workflowComplete = true
			return s.advanceDocument(ctx, tenantID, row.ProcessType, row.ProcessID, gate.Pending, gate.OnApproved)

		default:
			// Rejection and cancellation short-circuit the chain. Sibling
			// pending rows are intentionally left as they are.
			workflowComplete = true
			return s.advanceDocument(ctx, tenantID, row.ProcessType, row.ProcessID, gate.Pending, gate.OnRejected)
		}
	})
	if err != nil {
		return nil, false, err
	}

	updated, err := s.ledger.GetByID(ctx, tenantID, approvalID)
	if err != nil {
		return nil, false, err
	}

	s.log.Info().
		Str("tenant_id", tenantID).
		Str("process_type", string(row.ProcessType)).
		Str("process_id", row.ProcessID).
		Str("approval_id", approvalID).
		Int("level", row.Level).
		Str("decision", string(decision)).
		Str("actor_id", actorID).
		Bool("workflow_complete", workflowComplete).
		Msg("Approval decision recorded")

	return updated, workflowComplete, nil
}

func (s *ApprovalService) advanceDocument(
	ctx context.Context,
	tenantID string,
	processType repository.ProcessType,
	processID string,
	from, to workflow.State,
) error {
	if err := workflow.Validate(processType, from, to); err != nil {
		return err
	}
	moved, err := s.docs.SetWorkflowState(ctx, tenantID, processType, processID, string(from), string(to))
	if err != nil {
		return err
	}
	if !moved {
		return apperrors.Newf(apperrors.ErrCodeInvalidState,
			"document %s is no longer in state %s", processID, from)
	}
	return nil
}

// ── Transfer ──────────────────────────────────────────────────────────────────

// TransferApproval reassigns a pending row to a new approver. The chain's
// structure is unchanged; the prior approver immediately loses authority.
func (s *ApprovalService) TransferApproval(
	ctx context.Context,
	tenantID, approvalID, newApproverID, reason, transferredBy string,
) (*repository.Approval, error) {
	if newApproverID == "" {
		return nil, apperrors.InvalidInput("new_approver_id", "new approver is required")
	}
	if reason == "" {
		return nil, apperrors.InvalidInput("reason", "transfer reason is required")
	}

	row, err := s.ledger.GetByID(ctx, tenantID, approvalID)
	if err != nil {
		return nil, err
	}
	if row.Status != repository.StatusPending {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidState,
			"only pending approvals can be transferred (status: %s)", row.Status)
	}
	if row.ApproverID == newApproverID {
		return nil, apperrors.InvalidInput("new_approver_id", "approval is already assigned to this approver")
	}

	won, err := s.ledger.Transfer(ctx, tenantID, approvalID, newApproverID, reason, transferredBy)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, apperrors.InvalidState("approval was decided before the transfer could apply")
	}

	updated, err := s.ledger.GetByID(ctx, tenantID, approvalID)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("tenant_id", tenantID).
		Str("process_type", string(row.ProcessType)).
		Str("process_id", row.ProcessID).
		Str("approval_id", approvalID).
		Str("from_approver", row.ApproverID).
		Str("to_approver", newApproverID).
		Str("transferred_by", transferredBy).
		Msg("Approval transferred")

	return updated, nil
}

// ── Edit reset ────────────────────────────────────────────────────────────────

// EditContext describes the document edit that may trigger a reset.
type EditContext struct {
	EditorID      string
	ChangedFields []string
	Before        map[string]interface{}
	After         map[string]interface{}
}

// ResetApprovalsAfterEdit cancels every pending and approved ledger row of a
// document whose approval-relevant attributes changed, re-resolves the rules
// against the current attributes and recreates the ledger from level one.
// The edit is always recorded; with no active rows the ledger is untouched.
func (s *ApprovalService) ResetApprovalsAfterEdit(
	ctx context.Context,
	tenantID string,
	processType repository.ProcessType,
	processID string,
	edit EditContext,
) (bool, error) {
	if edit.EditorID == "" {
		return false, apperrors.InvalidInput("editor_id", "editor is required")
	}

	active, err := s.ledger.GetActiveByProcess(ctx, tenantID, processType, processID)
	if err != nil {
		return false, err
	}

	resettable := false
	for _, row := range active {
		if row.Status == repository.StatusPending || row.Status == repository.StatusApproved {
			resettable = true
			break
		}
	}

	if !resettable {
		entry := s.historyEntry(tenantID, processType, processID, edit, false, nil)
		if err := s.history.Append(ctx, entry); err != nil {
			return false, err
		}
		return false, nil
	}

	doc, err := s.docs.Get(ctx, tenantID, processType, processID)
	if err != nil {
		return false, err
	}

	gate, err := workflow.GateFor(processType)
	if err != nil {
		return false, err
	}
	if workflow.State(doc.WorkflowState) != gate.Pending {
		return false, apperrors.Newf(apperrors.ErrCodeInvalidState,
			"document has left the approval gate (state: %s)", doc.WorkflowState)
	}

	chain, err := s.resolver.Resolve(ctx, tenantID, processType, doc.Attributes())
	if err != nil {
		return false, err
	}

	now := time.Now()
	rows := make([]*repository.Approval, 0, len(chain))
	for _, level := range chain {
		rows = append(rows, &repository.Approval{
			TenantID:    tenantID,
			ProcessType: processType,
			ProcessID:   processID,
			Level:       level.Level,
			ApproverID:  level.FirstApprover().UserID,
			Status:      repository.StatusPending,
		})
	}

	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		cancelled, err := s.ledger.CancelActive(ctx, tenantID, processType, processID)
		if err != nil {
			return err
		}
		if err := s.ledger.CreateLedger(ctx, rows); err != nil {
			return err
		}

		s.log.Info().
			Str("tenant_id", tenantID).
			Str("process_type", string(processType)).
			Str("process_id", processID).
			Int64("cancelled", cancelled).
			Int("new_levels", len(rows)).
			Str("editor_id", edit.EditorID).
			Msg("Approval ledger reset after edit")

		return s.history.Append(ctx, s.historyEntry(tenantID, processType, processID, edit, true, &now))
	})
	if err != nil {
		return false, err
	}

	s.notifyPending(ctx, rows)

	return true, nil
}

func (s *ApprovalService) historyEntry(
	tenantID string,
	processType repository.ProcessType,
	processID string,
	edit EditContext,
	reset bool,
	resetAt *time.Time,
) *repository.EditHistoryEntry {
	return &repository.EditHistoryEntry{
		TenantID:       tenantID,
		ProcessType:    processType,
		ProcessID:      processID,
		EditorID:       edit.EditorID,
		ChangedFields:  edit.ChangedFields,
		Before:         edit.Before,
		After:          edit.After,
		ApprovalsReset: reset,
		ResetAt:        resetAt,
	}
}

// ── Edit permission ───────────────────────────────────────────────────────────

// CanEditSolicitation reports whether a document may still be edited: true
// while it sits at (or can still reach) its approval gate, false once it has
// advanced past the gate or reached a terminal state.
func (s *ApprovalService) CanEditSolicitation(
	ctx context.Context,
	tenantID string,
	processType repository.ProcessType,
	processID string,
) (bool, error) {
	doc, err := s.docs.Get(ctx, tenantID, processType, processID)
	if err != nil {
		return false, err
	}

	gate, err := workflow.GateFor(processType)
	if err != nil {
		return false, err
	}
	return workflow.CanReach(processType, workflow.State(doc.WorkflowState), gate.Pending), nil
}

// ── Query operations ──────────────────────────────────────────────────────────

// ResolveChain previews the approval chain a document would get from the
// current rules, without touching the ledger.
func (s *ApprovalService) ResolveChain(ctx context.Context, tenantID string, processType repository.ProcessType, processID string) ([]rules.Level, error) {
	if !processType.Valid() {
		return nil, apperrors.InvalidInput("process_type", "unknown process type")
	}
	doc, err := s.docs.Get(ctx, tenantID, processType, processID)
	if err != nil {
		return nil, err
	}
	return s.resolver.Resolve(ctx, tenantID, processType, doc.Attributes())
}

// GetPendingApprovals returns an approver's pending inbox.
func (s *ApprovalService) GetPendingApprovals(ctx context.Context, tenantID, userID string) ([]*repository.Approval, error) {
	return s.ledger.GetPendingForUser(ctx, tenantID, userID)
}

// GetApproval returns one ledger row. The reconciler reads this to confirm a
// mutation committed.
func (s *ApprovalService) GetApproval(ctx context.Context, tenantID, approvalID string) (*repository.Approval, error) {
	return s.ledger.GetByID(ctx, tenantID, approvalID)
}

// GetLedger returns a document's current ledger ordered by level.
func (s *ApprovalService) GetLedger(ctx context.Context, tenantID string, processType repository.ProcessType, processID string) ([]*repository.Approval, error) {
	return s.ledger.GetActiveByProcess(ctx, tenantID, processType, processID)
}

// GetLedgerHistory returns every ledger row for a document, cancelled rows
// from prior resets included.
func (s *ApprovalService) GetLedgerHistory(ctx context.Context, tenantID string, processType repository.ProcessType, processID string) ([]*repository.Approval, error) {
	return s.ledger.GetByProcess(ctx, tenantID, processType, processID)
}

// GetEditHistory returns a document's edit trail.
func (s *ApprovalService) GetEditHistory(ctx context.Context, tenantID string, processType repository.ProcessType, processID string) ([]*repository.EditHistoryEntry, error) {
	return s.history.GetByProcess(ctx, tenantID, processType, processID)
}

// ApprovalFlow summarizes a document's chain for display.
type ApprovalFlow struct {
	TotalLevels int                 `json:"total_levels"`
	Completed   bool                `json:"completed"`
	Levels      []ApprovalFlowLevel `json:"levels"`
}

// ApprovalFlowLevel is one stage in the flow summary.
type ApprovalFlowLevel struct {
	Level      int        `json:"level"`
	ApproverID string     `json:"approver_id"`
	Status     string     `json:"status"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
	Notes      *string    `json:"notes,omitempty"`
}

// GetApprovalFlow returns the display summary of a document's current ledger.
func (s *ApprovalService) GetApprovalFlow(ctx context.Context, tenantID string, processType repository.ProcessType, processID string) (*ApprovalFlow, error) {
	ledger, err := s.ledger.GetActiveByProcess(ctx, tenantID, processType, processID)
	if err != nil {
		return nil, err
	}

	flow := &ApprovalFlow{Completed: len(ledger) > 0}
	for _, row := range ledger {
		if row.Level > flow.TotalLevels {
			flow.TotalLevels = row.Level
		}
		if row.Status != repository.StatusApproved {
			flow.Completed = false
		}
		flow.Levels = append(flow.Levels, ApprovalFlowLevel{
			Level:      row.Level,
			ApproverID: row.ApproverID,
			Status:     string(row.Status),
			DecidedAt:  row.DecidedAt,
			Notes:      row.Notes,
		})
	}
	return flow, nil
}

package client

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-plt-approvals/internal/apperrors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

// ApprovalsAPI is the slice of the approvals client the reconciler needs.
type ApprovalsAPI interface {
	DecideApproval(ctx context.Context, tenantID, approvalID string, decision service.Decision, notes *string, actorID string) (*repository.Approval, bool, error)
	TransferApproval(ctx context.Context, tenantID, approvalID, newApproverID, reason, transferredBy string) (*repository.Approval, error)
	GetApproval(ctx context.Context, tenantID, approvalID string) (*repository.Approval, error)
	GetDocument(ctx context.Context, tenantID string, processType repository.ProcessType, processID string) (*repository.WorkflowDocument, error)
}

// Notifier publishes workflow events once a mutation has been verified.
type Notifier interface {
	PublishApprovalEvent(ctx context.Context, eventType string, row *repository.Approval, actorID string, recipients []string, payload map[string]interface{})
}

// Reconciler wraps the approvals client with read-back verification. After a
// mutation it re-reads the row until the write is visible, so callers on the
// other side of a replication lag never act on stale state. Notifications go
// out only after verification succeeds.
type Reconciler struct {
	api      ApprovalsAPI
	notifier Notifier
	attempts int
	backoff  time.Duration
	log      zerolog.Logger
}

// NewReconciler creates a Reconciler with the given verification budget.
// attempts is the maximum number of read-backs, backoff the initial delay
// between them. The delay doubles per attempt.
func NewReconciler(api ApprovalsAPI, notifier Notifier, attempts int, backoff time.Duration, log zerolog.Logger) *Reconciler {
	if attempts < 1 {
		attempts = 5
	}
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	return &Reconciler{
		api:      api,
		notifier: notifier,
		attempts: attempts,
		backoff:  backoff,
		log:      log,
	}
}

// verifyApproval re-reads the row until check passes or the budget is spent.
func (r *Reconciler) verifyApproval(ctx context.Context, tenantID, approvalID string, check func(*repository.Approval) bool) error {
	delay := r.backoff
	for attempt := 1; attempt <= r.attempts; attempt++ {
		row, err := r.api.GetApproval(ctx, tenantID, approvalID)
		if err == nil && check(row) {
			return nil
		}
		if err != nil && !apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
			return err
		}

		if attempt == r.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	r.log.Warn().
		Str("tenant_id", tenantID).
		Str("approval_id", approvalID).
		Int("attempts", r.attempts).
		Msg("Approval write not visible within verification budget")

	return apperrors.ConsistencyTimeout("approval write was not visible within the verification budget")
}

// DecideApproval records a decision and verifies it committed before
// publishing the matching event.
func (r *Reconciler) DecideApproval(ctx context.Context, tenantID, approvalID string, decision service.Decision, notes *string, actorID string) (*repository.Approval, bool, error) {
	row, complete, err := r.api.DecideApproval(ctx, tenantID, approvalID, decision, notes, actorID)
	if err != nil {
		return nil, false, err
	}

	wantStatus := row.Status
	if err := r.verifyApproval(ctx, tenantID, approvalID, func(got *repository.Approval) bool {
		return got.Status == wantStatus
	}); err != nil {
		return nil, false, err
	}

	if r.notifier != nil {
		eventType := "approval_" + string(decision)
		if complete {
			eventType = "workflow_" + string(decision)
		}
		r.notifier.PublishApprovalEvent(ctx, eventType, row, actorID, []string{row.ApproverID}, map[string]interface{}{
			"workflow_complete": complete,
		})
	}

	return row, complete, nil
}

// TransferApproval reassigns a row and verifies the new approver is visible
// before notifying them.
func (r *Reconciler) TransferApproval(ctx context.Context, tenantID, approvalID, newApproverID, reason, transferredBy string) (*repository.Approval, error) {
	row, err := r.api.TransferApproval(ctx, tenantID, approvalID, newApproverID, reason, transferredBy)
	if err != nil {
		return nil, err
	}

	if err := r.verifyApproval(ctx, tenantID, approvalID, func(got *repository.Approval) bool {
		return got.ApproverID == newApproverID
	}); err != nil {
		return nil, err
	}

	if r.notifier != nil {
		r.notifier.PublishApprovalEvent(ctx, "approval_transferred", row, transferredBy, []string{newApproverID}, map[string]interface{}{
			"reason": reason,
		})
	}

	return row, nil
}

// VerifyDocumentState re-reads a document until it reaches wantState, for
// callers that chained a decision with a dependent read.
func (r *Reconciler) VerifyDocumentState(ctx context.Context, tenantID string, processType repository.ProcessType, processID, wantState string) error {
	delay := r.backoff
	for attempt := 1; attempt <= r.attempts; attempt++ {
		doc, err := r.api.GetDocument(ctx, tenantID, processType, processID)
		if err == nil && doc.WorkflowState == wantState {
			return nil
		}
		if err != nil && !apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
			return err
		}

		if attempt == r.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return apperrors.ConsistencyTimeout("document state change was not visible within the verification budget")
}

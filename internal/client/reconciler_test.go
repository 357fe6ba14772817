package client

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/apperrors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

// fakeAPI simulates a service behind replication lag: reads return the stale
// row until staleReads reads have been served.
type fakeAPI struct {
	stale      *repository.Approval
	fresh      *repository.Approval
	staleReads int
	reads      int
	doc        *repository.WorkflowDocument
}

func (f *fakeAPI) DecideApproval(_ context.Context, _, _ string, decision service.Decision, _ *string, _ string) (*repository.Approval, bool, error) {
	return f.fresh, true, nil
}

func (f *fakeAPI) TransferApproval(_ context.Context, _, _, _, _, _ string) (*repository.Approval, error) {
	return f.fresh, nil
}

func (f *fakeAPI) GetApproval(_ context.Context, _, _ string) (*repository.Approval, error) {
	f.reads++
	if f.reads <= f.staleReads {
		return f.stale, nil
	}
	return f.fresh, nil
}

func (f *fakeAPI) GetDocument(_ context.Context, _ string, _ repository.ProcessType, _ string) (*repository.WorkflowDocument, error) {
	return f.doc, nil
}

type recordingNotifier struct {
	events []string
}

func (n *recordingNotifier) PublishApprovalEvent(_ context.Context, eventType string, _ *repository.Approval, _ string, _ []string, _ map[string]interface{}) {
	n.events = append(n.events, eventType)
}

func approvalRow(status repository.ApprovalStatus, approverID string) *repository.Approval {
	return &repository.Approval{
		ID:          "appr-1",
		TenantID:    "tenant-1",
		ProcessType: repository.ProcessRequisition,
		ProcessID:   "req-100",
		Level:       1,
		ApproverID:  approverID,
		Status:      status,
	}
}

func TestReconciler_DecideVerifiesBeforeNotifying(t *testing.T) {
	api := &fakeAPI{
		stale:      approvalRow(repository.StatusPending, "approver-1"),
		fresh:      approvalRow(repository.StatusApproved, "approver-1"),
		staleReads: 2,
	}
	notifier := &recordingNotifier{}
	r := NewReconciler(api, notifier, 5, time.Millisecond, zerolog.Nop())

	row, complete, err := r.DecideApproval(context.Background(), "tenant-1", "appr-1", service.DecisionApproved, nil, "approver-1")
	require.NoError(t, err)
	assert.True(t, complete)
	assert.Equal(t, repository.StatusApproved, row.Status)
	assert.Equal(t, 3, api.reads)
	assert.Equal(t, []string{"workflow_approved"}, notifier.events)
}

func TestReconciler_DecideTimesOutOnPersistentLag(t *testing.T) {
	api := &fakeAPI{
		stale:      approvalRow(repository.StatusPending, "approver-1"),
		fresh:      approvalRow(repository.StatusApproved, "approver-1"),
		staleReads: 100,
	}
	notifier := &recordingNotifier{}
	r := NewReconciler(api, notifier, 3, time.Millisecond, zerolog.Nop())

	_, _, err := r.DecideApproval(context.Background(), "tenant-1", "appr-1", service.DecisionApproved, nil, "approver-1")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConsistencyTimeout))

	// Nothing was announced for a write that could not be confirmed.
	assert.Empty(t, notifier.events)
	assert.Equal(t, 3, api.reads)
}

func TestReconciler_TransferVerifiesNewApprover(t *testing.T) {
	api := &fakeAPI{
		stale:      approvalRow(repository.StatusPending, "approver-1"),
		fresh:      approvalRow(repository.StatusPending, "approver-9"),
		staleReads: 1,
	}
	notifier := &recordingNotifier{}
	r := NewReconciler(api, notifier, 5, time.Millisecond, zerolog.Nop())

	row, err := r.TransferApproval(context.Background(), "tenant-1", "appr-1", "approver-9", "on vacation", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, "approver-9", row.ApproverID)
	assert.Equal(t, []string{"approval_transferred"}, notifier.events)
}

func TestReconciler_VerifyDocumentState(t *testing.T) {
	api := &fakeAPI{
		doc: &repository.WorkflowDocument{
			TenantID:      "tenant-1",
			ProcessType:   repository.ProcessRequisition,
			ProcessID:     "req-100",
			WorkflowState: "approved",
		},
	}
	r := NewReconciler(api, nil, 3, time.Millisecond, zerolog.Nop())

	err := r.VerifyDocumentState(context.Background(), "tenant-1", repository.ProcessRequisition, "req-100", "approved")
	require.NoError(t, err)

	err = r.VerifyDocumentState(context.Background(), "tenant-1", repository.ProcessRequisition, "req-100", "forwarded")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConsistencyTimeout))
}

func TestReconciler_CancelledContextStopsRetrying(t *testing.T) {
	api := &fakeAPI{
		stale:      approvalRow(repository.StatusPending, "approver-1"),
		fresh:      approvalRow(repository.StatusApproved, "approver-1"),
		staleReads: 100,
	}
	r := NewReconciler(api, nil, 10, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := r.DecideApproval(ctx, "tenant-1", "appr-1", service.DecisionApproved, nil, "approver-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

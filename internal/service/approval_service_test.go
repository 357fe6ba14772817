package service

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/apperrors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/rules"
)

// ── In-memory fakes ───────────────────────────────────────────────────────────

type fakeLedger struct {
	rows   []*repository.Approval
	nextID int

	// runs just before Decide's update applies, to model writes that
	// commit between the service's read and its compare-and-set.
	beforeDecide func()
}

func (f *fakeLedger) CreateLedger(_ context.Context, rows []*repository.Approval) error {
	for _, row := range rows {
		f.nextID++
		row.ID = fmt.Sprintf("appr-%d", f.nextID)
		row.CreatedAt = time.Now()
		f.rows = append(f.rows, row)
	}
	return nil
}

func (f *fakeLedger) GetByID(_ context.Context, tenantID, id string) (*repository.Approval, error) {
	for _, row := range f.rows {
		if row.ID == id && row.TenantID == tenantID {
			return row, nil
		}
	}
	return nil, apperrors.NotFound("approval", id)
}

func (f *fakeLedger) GetByProcess(_ context.Context, tenantID string, processType repository.ProcessType, processID string) ([]*repository.Approval, error) {
	var out []*repository.Approval
	for _, row := range f.rows {
		if row.TenantID == tenantID && row.ProcessType == processType && row.ProcessID == processID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeLedger) GetActiveByProcess(ctx context.Context, tenantID string, processType repository.ProcessType, processID string) ([]*repository.Approval, error) {
	all, _ := f.GetByProcess(ctx, tenantID, processType, processID)
	var out []*repository.Approval
	for _, row := range all {
		if row.Status != repository.StatusCancelled {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out, nil
}

func (f *fakeLedger) GetPendingForUser(_ context.Context, tenantID, userID string) ([]*repository.Approval, error) {
	var out []*repository.Approval
	for _, row := range f.rows {
		if row.TenantID == tenantID && row.ApproverID == userID && row.Status == repository.StatusPending {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeLedger) CountPending(_ context.Context, tenantID string, processType repository.ProcessType, processID string) (int, error) {
	count := 0
	for _, row := range f.rows {
		if row.TenantID == tenantID && row.ProcessType == processType && row.ProcessID == processID &&
			row.Status == repository.StatusPending {
			count++
		}
	}
	return count, nil
}

func (f *fakeLedger) Decide(_ context.Context, tenantID, id, actorID string, status repository.ApprovalStatus, notes *string) (bool, error) {
	if f.beforeDecide != nil {
		f.beforeDecide()
	}
	for _, row := range f.rows {
		if row.ID == id && row.TenantID == tenantID && row.Status == repository.StatusPending &&
			row.ApproverID == actorID {
			now := time.Now()
			row.Status = status
			row.DecidedAt = &now
			row.Notes = notes
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeLedger) Transfer(_ context.Context, tenantID, id, newApproverID, reason, transferredBy string) (bool, error) {
	for _, row := range f.rows {
		if row.ID == id && row.TenantID == tenantID && row.Status == repository.StatusPending {
			if row.OriginalApproverID == nil {
				original := row.ApproverID
				row.OriginalApproverID = &original
			}
			now := time.Now()
			row.ApproverID = newApproverID
			row.TransferredAt = &now
			row.TransferredBy = &transferredBy
			row.TransferReason = &reason
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeLedger) CancelActive(_ context.Context, tenantID string, processType repository.ProcessType, processID string) (int64, error) {
	var cancelled int64
	for _, row := range f.rows {
		if row.TenantID == tenantID && row.ProcessType == processType && row.ProcessID == processID &&
			(row.Status == repository.StatusPending || row.Status == repository.StatusApproved) {
			row.Status = repository.StatusCancelled
			cancelled++
		}
	}
	return cancelled, nil
}

type docKey struct {
	tenantID    string
	processType repository.ProcessType
	processID   string
}

type fakeDocs struct {
	docs map[docKey]*repository.WorkflowDocument
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{docs: make(map[docKey]*repository.WorkflowDocument)}
}

func (f *fakeDocs) put(doc *repository.WorkflowDocument) {
	f.docs[docKey{doc.TenantID, doc.ProcessType, doc.ProcessID}] = doc
}

func (f *fakeDocs) Get(_ context.Context, tenantID string, processType repository.ProcessType, processID string) (*repository.WorkflowDocument, error) {
	doc, ok := f.docs[docKey{tenantID, processType, processID}]
	if !ok {
		return nil, apperrors.NotFound("document", processID)
	}
	return doc, nil
}

func (f *fakeDocs) SetWorkflowState(_ context.Context, tenantID string, processType repository.ProcessType, processID, fromState, toState string) (bool, error) {
	doc, ok := f.docs[docKey{tenantID, processType, processID}]
	if !ok || doc.WorkflowState != fromState {
		return false, nil
	}
	doc.WorkflowState = toState
	return true, nil
}

type fakeHistory struct {
	entries []*repository.EditHistoryEntry
}

func (f *fakeHistory) Append(_ context.Context, entry *repository.EditHistoryEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeHistory) GetByProcess(_ context.Context, tenantID string, processType repository.ProcessType, processID string) ([]*repository.EditHistoryEntry, error) {
	return f.entries, nil
}

type fakeTx struct{}

func (fakeTx) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeResolver struct {
	levels []rules.Level
	err    error
}

func (f *fakeResolver) Resolve(_ context.Context, _ string, _ repository.ProcessType, _ repository.DocumentAttributes) ([]rules.Level, error) {
	return f.levels, f.err
}

// ── Fixture ───────────────────────────────────────────────────────────────────

const (
	testTenant  = "tenant-1"
	testProcess = "req-100"
)

func threeLevels() []rules.Level {
	return []rules.Level{
		{Level: 1, ConfigID: "cfg-1", Approvers: []repository.ConfigApprover{{UserID: "approver-1", Order: 1}}},
		{Level: 2, ConfigID: "cfg-2", Approvers: []repository.ConfigApprover{{UserID: "approver-2", Order: 1}}},
		{Level: 3, ConfigID: "cfg-3", Approvers: []repository.ConfigApprover{{UserID: "approver-3", Order: 1}}},
	}
}

type fixture struct {
	svc     *ApprovalService
	ledger  *fakeLedger
	docs    *fakeDocs
	history *fakeHistory
}

func newFixture(levels []rules.Level) *fixture {
	ledger := &fakeLedger{}
	docs := newFakeDocs()
	history := &fakeHistory{}
	svc := NewApprovalService(&fakeResolver{levels: levels}, ledger, docs, history, fakeTx{}, zerolog.Nop())
	return &fixture{svc: svc, ledger: ledger, docs: docs, history: history}
}

func (f *fixture) addRequisition(state string) {
	f.docs.put(&repository.WorkflowDocument{
		TenantID:      testTenant,
		ProcessType:   repository.ProcessRequisition,
		ProcessID:     testProcess,
		WorkflowState: state,
		Value:         700000,
	})
}

func (f *fixture) createLedger(t *testing.T) []*repository.Approval {
	t.Helper()
	rows, created, err := f.svc.CreateApprovalsForProcess(context.Background(), testTenant, repository.ProcessRequisition, testProcess)
	require.NoError(t, err)
	require.True(t, created)
	return rows
}

// ── Ledger creation ───────────────────────────────────────────────────────────

func TestCreateApprovalsForProcess(t *testing.T) {
	f := newFixture(threeLevels())
	f.addRequisition("pending_approval")

	rows := f.createLedger(t)
	require.Len(t, rows, 3)
	for i, row := range rows {
		assert.Equal(t, i+1, row.Level)
		assert.Equal(t, repository.StatusPending, row.Status)
	}
	assert.Equal(t, "approver-1", rows[0].ApproverID)
	assert.Equal(t, "approver-3", rows[2].ApproverID)
}

func TestCreateApprovalsForProcess_Idempotent(t *testing.T) {
	f := newFixture(threeLevels())
	f.addRequisition("pending_approval")
	first := f.createLedger(t)

	again, created, err := f.svc.CreateApprovalsForProcess(context.Background(), testTenant, repository.ProcessRequisition, testProcess)
	require.NoError(t, err)
	assert.False(t, created)
	require.Len(t, again, len(first))
	assert.Equal(t, first[0].ID, again[0].ID)
}

func TestCreateApprovalsForProcess_DocumentNotAtGate(t *testing.T) {
	f := newFixture(threeLevels())
	f.addRequisition("created")

	_, _, err := f.svc.CreateApprovalsForProcess(context.Background(), testTenant, repository.ProcessRequisition, testProcess)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidState))
}

func TestCreateApprovalsForProcess_UnknownDocument(t *testing.T) {
	f := newFixture(threeLevels())

	_, _, err := f.svc.CreateApprovalsForProcess(context.Background(), testTenant, repository.ProcessRequisition, "missing")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
}

func TestCreateApprovalsForProcess_ResolverErrorPropagates(t *testing.T) {
	f := newFixture(nil)
	f.svc.resolver = &fakeResolver{err: apperrors.Configuration("no approval configuration matches the document")}
	f.addRequisition("pending_approval")

	_, _, err := f.svc.CreateApprovalsForProcess(context.Background(), testTenant, repository.ProcessRequisition, testProcess)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConfiguration))
}

// ── Decisions ─────────────────────────────────────────────────────────────────

func TestProcessApproval_IntermediateApprovalKeepsDocumentPending(t *testing.T) {
	f := newFixture(threeLevels())
	f.addRequisition("pending_approval")
	rows := f.createLedger(t)

	row, complete, err := f.svc.ProcessApproval(context.Background(), testTenant, rows[0].ID, DecisionApproved, nil, "approver-1")
	require.NoError(t, err)
	assert.False(t, complete)
	assert.Equal(t, repository.StatusApproved, row.Status)
	require.NotNil(t, row.DecidedAt)

	doc, err := f.docs.Get(context.Background(), testTenant, repository.ProcessRequisition, testProcess)
	require.NoError(t, err)
	assert.Equal(t, "pending_approval", doc.WorkflowState)
}

func TestProcessApproval_FinalApprovalAdvancesDocument(t *testing.T) {
	f := newFixture(threeLevels())
	f.addRequisition("pending_approval")
	rows := f.createLedger(t)

	for i, actor := range []string{"approver-1", "approver-2", "approver-3"} {
		_, complete, err := f.svc.ProcessApproval(context.Background(), testTenant, rows[i].ID, DecisionApproved, nil, actor)
		require.NoError(t, err)
		assert.Equal(t, i == 2, complete)
	}

	doc, err := f.docs.Get(context.Background(), testTenant, repository.ProcessRequisition, testProcess)
	require.NoError(t, err)
	assert.Equal(t, "approved", doc.WorkflowState)
}

func TestProcessApproval_RejectionShortCircuits(t *testing.T) {
	f := newFixture(threeLevels())
	f.addRequisition("pending_approval")
	rows := f.createLedger(t)

	_, _, err := f.svc.ProcessApproval(context.Background(), testTenant, rows[0].ID, DecisionApproved, nil, "approver-1")
	require.NoError(t, err)

	notes := "budget exceeded"
	row, complete, err := f.svc.ProcessApproval(context.Background(), testTenant, rows[1].ID, DecisionRejected, &notes, "approver-2")
	require.NoError(t, err)
	assert.True(t, complete)
	assert.Equal(t, repository.StatusRejected, row.Status)
	require.NotNil(t, row.Notes)
	assert.Equal(t, notes, *row.Notes)

	// The document is rejected immediately.
	doc, err := f.docs.Get(context.Background(), testTenant, repository.ProcessRequisition, testProcess)
	require.NoError(t, err)
	assert.Equal(t, "rejected", doc.WorkflowState)

	// Level 3 stays pending. Rejection never cascades to sibling rows.
	level3, err := f.ledger.GetByID(context.Background(), testTenant, rows[2].ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusPending, level3.Status)
}

func TestProcessApproval_WrongActorUnauthorized(t *testing.T) {
	f := newFixture(threeLevels())
	f.addRequisition("pending_approval")
	rows := f.createLedger(t)

	_, _, err := f.svc.ProcessApproval(context.Background(), testTenant, rows[0].ID, DecisionApproved, nil, "someone-else")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnauthorized))

	// The row is untouched.
	row, err := f.ledger.GetByID(context.Background(), testTenant, rows[0].ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusPending, row.Status)
}

func TestProcessApproval_AlreadyDecided(t *testing.T) {
	f := newFixture(threeLevels())
	f.addRequisition("pending_approval")
	rows := f.createLedger(t)

	_, _, err := f.svc.ProcessApproval(context.Background(), testTenant, rows[0].ID, DecisionApproved, nil, "approver-1")
	require.NoError(t, err)

	_, _, err = f.svc.ProcessApproval(context.Background(), testTenant, rows[0].ID, DecisionApproved, nil, "approver-1")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidState))
}

func TestProcessApproval_InvalidDecision(t *testing.T) {
	f := newFixture(threeLevels())
	f.addRequisition("pending_approval")
	rows := f.createLedger(t)

	_, _, err := f.svc.ProcessApproval(context.Background(), testTenant, rows[0].ID, Decision("maybe"), nil, "approver-1")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
}

// ── Transfer ──────────────────────────────────────────────────────────────────

func TestTransferApproval(t *testing.T) {
	f := newFixture(threeLevels())
	f.addRequisition("pending_approval")
	rows := f.createLedger(t)

	row, err := f.svc.TransferApproval(context.Background(), testTenant, rows[0].ID, "approver-9", "on vacation", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, "approver-9", row.ApproverID)
	require.NotNil(t, row.OriginalApproverID)
	assert.Equal(t, "approver-1", *row.OriginalApproverID)
	require.NotNil(t, row.TransferReason)
	assert.Equal(t, "on vacation", *row.TransferReason)

	// The prior approver can no longer decide this level.
	_, _, err = f.svc.ProcessApproval(context.Background(), testTenant, rows[0].ID, DecisionApproved, nil, "approver-1")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnauthorized))

	// The new approver can.
	decided, _, err := f.svc.ProcessApproval(context.Background(), testTenant, rows[0].ID, DecisionApproved, nil, "approver-9")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusApproved, decided.Status)
}

func TestTransferApproval_DecidedRowFails(t *testing.T) {
	f := newFixture(threeLevels())
	f.addRequisition("pending_approval")
	rows := f.createLedger(t)

	_, _, err := f.svc.ProcessApproval(context.Background(), testTenant, rows[0].ID, DecisionApproved, nil, "approver-1")
	require.NoError(t, err)

	_, err = f.svc.TransferApproval(context.Background(), testTenant, rows[0].ID, "approver-9", "late transfer", "admin-1")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidState))
}

func TestProcessApproval_TransferDuringDecision(t *testing.T) {
	f := newFixture(threeLevels())
	f.addRequisition("pending_approval")
	rows := f.createLedger(t)

	// A transfer commits after the service has read the row but before its
	// decision update applies. The row stays pending, so only the approver
	// pin in the update can catch it.
	f.ledger.beforeDecide = func() {
		f.ledger.beforeDecide = nil
		_, err := f.svc.TransferApproval(context.Background(), testTenant, rows[0].ID, "approver-9", "reorg", "admin-1")
		require.NoError(t, err)
	}

	_, _, err := f.svc.ProcessApproval(context.Background(), testTenant, rows[0].ID, DecisionApproved, nil, "approver-1")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnauthorized))

	// The prior approver's decision never landed and the new approver still can.
	row, err := f.ledger.GetByID(context.Background(), testTenant, rows[0].ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusPending, row.Status)
	assert.Equal(t, "approver-9", row.ApproverID)

	decided, _, err := f.svc.ProcessApproval(context.Background(), testTenant, rows[0].ID, DecisionApproved, nil, "approver-9")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusApproved, decided.Status)
}

func TestTransferApproval_Validation(t *testing.T) {
	f := newFixture(threeLevels())
	f.addRequisition("pending_approval")
	rows := f.createLedger(t)

	_, err := f.svc.TransferApproval(context.Background(), testTenant, rows[0].ID, "", "reason", "admin-1")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))

	_, err = f.svc.TransferApproval(context.Background(), testTenant, rows[0].ID, "approver-9", "", "admin-1")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))

	// Transferring to the current approver is a no-op and refused.
	_, err = f.svc.TransferApproval(context.Background(), testTenant, rows[0].ID, "approver-1", "reason", "admin-1")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
}

// ── Edit reset ────────────────────────────────────────────────────────────────

func TestResetApprovalsAfterEdit(t *testing.T) {
	f := newFixture(threeLevels())
	f.addRequisition("pending_approval")
	rows := f.createLedger(t)

	// Level 1 already approved, levels 2 and 3 pending.
	_, _, err := f.svc.ProcessApproval(context.Background(), testTenant, rows[0].ID, DecisionApproved, nil, "approver-1")
	require.NoError(t, err)

	reset, err := f.svc.ResetApprovalsAfterEdit(context.Background(), testTenant, repository.ProcessRequisition, testProcess, EditContext{
		EditorID:      "requester-1",
		ChangedFields: []string{"value"},
	})
	require.NoError(t, err)
	assert.True(t, reset)

	// Old rows are cancelled, including the already approved level.
	for _, old := range rows {
		got, err := f.ledger.GetByID(context.Background(), testTenant, old.ID)
		require.NoError(t, err)
		assert.Equal(t, repository.StatusCancelled, got.Status)
	}

	// A fresh full chain is pending again.
	active, err := f.ledger.GetActiveByProcess(context.Background(), testTenant, repository.ProcessRequisition, testProcess)
	require.NoError(t, err)
	require.Len(t, active, 3)
	for _, row := range active {
		assert.Equal(t, repository.StatusPending, row.Status)
	}

	require.Len(t, f.history.entries, 1)
	assert.True(t, f.history.entries[0].ApprovalsReset)
	assert.NotNil(t, f.history.entries[0].ResetAt)
}

func TestResetApprovalsAfterEdit_RefusedPastGate(t *testing.T) {
	f := newFixture(threeLevels())
	f.addRequisition("pending_approval")
	rows := f.createLedger(t)

	for _, row := range rows {
		_, _, err := f.svc.ProcessApproval(context.Background(), testTenant, row.ID, DecisionApproved, nil, row.ApproverID)
		require.NoError(t, err)
	}

	_, err := f.svc.ResetApprovalsAfterEdit(context.Background(), testTenant, repository.ProcessRequisition, testProcess, EditContext{
		EditorID:      "requester-1",
		ChangedFields: []string{"value"},
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidState))
}

func TestResetApprovalsAfterEdit_NoActiveRowsIsNoOp(t *testing.T) {
	f := newFixture(threeLevels())
	f.addRequisition("created")

	reset, err := f.svc.ResetApprovalsAfterEdit(context.Background(), testTenant, repository.ProcessRequisition, testProcess, EditContext{
		EditorID:      "requester-1",
		ChangedFields: []string{"value"},
	})
	require.NoError(t, err)
	assert.False(t, reset)

	require.Len(t, f.history.entries, 1)
	assert.False(t, f.history.entries[0].ApprovalsReset)
	assert.Nil(t, f.history.entries[0].ResetAt)
}

// ── Edit permission ───────────────────────────────────────────────────────────

func TestCanEditSolicitation(t *testing.T) {
	cases := []struct {
		state   string
		canEdit bool
	}{
		{"created", true},
		{"pending_approval", true},
		{"approved", false},
		{"forwarded", false},
		{"rejected", false},
		{"finalized", false},
		{"cancelled", false},
	}

	for _, tc := range cases {
		t.Run(tc.state, func(t *testing.T) {
			f := newFixture(threeLevels())
			f.addRequisition(tc.state)

			got, err := f.svc.CanEditSolicitation(context.Background(), testTenant, repository.ProcessRequisition, testProcess)
			require.NoError(t, err)
			assert.Equal(t, tc.canEdit, got)
		})
	}
}

// ── Queries ───────────────────────────────────────────────────────────────────

func TestResolveChainPreview(t *testing.T) {
	f := newFixture(threeLevels())
	f.addRequisition("created")

	chain, err := f.svc.ResolveChain(context.Background(), testTenant, repository.ProcessRequisition, testProcess)
	require.NoError(t, err)
	require.Len(t, chain, 3)

	// Previewing never materializes ledger rows.
	active, err := f.ledger.GetActiveByProcess(context.Background(), testTenant, repository.ProcessRequisition, testProcess)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestGetPendingApprovals(t *testing.T) {
	f := newFixture(threeLevels())
	f.addRequisition("pending_approval")
	rows := f.createLedger(t)

	pending, err := f.svc.GetPendingApprovals(context.Background(), testTenant, "approver-2")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, rows[1].ID, pending[0].ID)

	_, _, err = f.svc.ProcessApproval(context.Background(), testTenant, rows[1].ID, DecisionApproved, nil, "approver-2")
	require.NoError(t, err)

	pending, err = f.svc.GetPendingApprovals(context.Background(), testTenant, "approver-2")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestGetApprovalFlow(t *testing.T) {
	f := newFixture(threeLevels())
	f.addRequisition("pending_approval")
	rows := f.createLedger(t)

	flow, err := f.svc.GetApprovalFlow(context.Background(), testTenant, repository.ProcessRequisition, testProcess)
	require.NoError(t, err)
	assert.Equal(t, 3, flow.TotalLevels)
	assert.False(t, flow.Completed)
	require.Len(t, flow.Levels, 3)

	for _, row := range rows {
		_, _, err := f.svc.ProcessApproval(context.Background(), testTenant, row.ID, DecisionApproved, nil, row.ApproverID)
		require.NoError(t, err)
	}

	flow, err = f.svc.GetApprovalFlow(context.Background(), testTenant, repository.ProcessRequisition, testProcess)
	require.NoError(t, err)
	assert.True(t, flow.Completed)
}

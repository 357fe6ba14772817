package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/apperrors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

// ApprovalsClient is the HTTP client consumer services use to talk to the
// approvals service.
type ApprovalsClient struct {
	baseURL string
	http    *http.Client
}

// NewApprovalsClient creates a client for the approvals service at baseURL.
func NewApprovalsClient(baseURL string) *ApprovalsClient {
	return &ApprovalsClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// decodeError rebuilds the typed error the service responded with.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Code != "" {
		return apperrors.New(apperrors.ErrCode(er.Code), er.Error)
	}
	return apperrors.Newf(apperrors.ErrCodeInternal, "approvals service returned status %d", resp.StatusCode)
}

func (c *ApprovalsClient) postJSON(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *ApprovalsClient) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateApprovals asks the service to materialize a document's ledger.
func (c *ApprovalsClient) CreateApprovals(ctx context.Context, tenantID string, processType repository.ProcessType, processID string) ([]*repository.Approval, bool, error) {
	var out struct {
		Approvals []*repository.Approval `json:"approvals"`
		Created   bool                   `json:"created"`
	}
	err := c.postJSON(ctx, "/api/v1/approvals", map[string]string{
		"tenant_id":    tenantID,
		"process_type": string(processType),
		"process_id":   processID,
	}, &out)
	if err != nil {
		return nil, false, err
	}
	return out.Approvals, out.Created, nil
}

// DecideApproval records a decision on one ledger row. Returns the updated
// row and whether the decision completed the workflow.
func (c *ApprovalsClient) DecideApproval(ctx context.Context, tenantID, approvalID string, decision service.Decision, notes *string, actorID string) (*repository.Approval, bool, error) {
	var out struct {
		Approval         *repository.Approval `json:"approval"`
		WorkflowComplete bool                 `json:"workflow_complete"`
	}
	err := c.postJSON(ctx, "/api/v1/approvals/decide", map[string]interface{}{
		"tenant_id":   tenantID,
		"approval_id": approvalID,
		"decision":    decision,
		"notes":       notes,
		"actor_id":    actorID,
	}, &out)
	if err != nil {
		return nil, false, err
	}
	return out.Approval, out.WorkflowComplete, nil
}

// TransferApproval reassigns a pending row to a new approver.
func (c *ApprovalsClient) TransferApproval(ctx context.Context, tenantID, approvalID, newApproverID, reason, transferredBy string) (*repository.Approval, error) {
	var out repository.Approval
	err := c.postJSON(ctx, "/api/v1/approvals/transfer", map[string]string{
		"tenant_id":       tenantID,
		"approval_id":     approvalID,
		"new_approver_id": newApproverID,
		"reason":          reason,
		"transferred_by":  transferredBy,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetApproval reads one ledger row.
func (c *ApprovalsClient) GetApproval(ctx context.Context, tenantID, approvalID string) (*repository.Approval, error) {
	query := url.Values{}
	query.Set("tenant_id", tenantID)
	query.Set("id", approvalID)

	var out repository.Approval
	if err := c.getJSON(ctx, "/api/v1/approvals/get", query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetDocument reads a document handle.
func (c *ApprovalsClient) GetDocument(ctx context.Context, tenantID string, processType repository.ProcessType, processID string) (*repository.WorkflowDocument, error) {
	query := url.Values{}
	query.Set("tenant_id", tenantID)
	query.Set("process_type", string(processType))
	query.Set("process_id", processID)

	var out repository.WorkflowDocument
	if err := c.getJSON(ctx, "/api/v1/documents/get", query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetLedger reads a document's active ledger.
func (c *ApprovalsClient) GetLedger(ctx context.Context, tenantID string, processType repository.ProcessType, processID string) ([]*repository.Approval, error) {
	query := url.Values{}
	query.Set("tenant_id", tenantID)
	query.Set("process_type", string(processType))
	query.Set("process_id", processID)

	var out struct {
		Approvals []*repository.Approval `json:"approvals"`
	}
	if err := c.getJSON(ctx, "/api/v1/approvals/ledger", query, &out); err != nil {
		return nil, err
	}
	return out.Approvals, nil
}

func (c *ApprovalsClient) String() string {
	return fmt.Sprintf("ApprovalsClient(%s)", c.baseURL)
}

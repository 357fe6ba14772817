package handler

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-plt-approvals/internal/apperrors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	approvals *service.ApprovalService
	documents *service.DocumentService
	configs   *service.ConfigService
	log       zerolog.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(
	approvals *service.ApprovalService,
	documents *service.DocumentService,
	configs *service.ConfigService,
	log zerolog.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		approvals: approvals,
		documents: documents,
		configs:   configs,
		log:       log.With().Str("handler", "http").Logger(),
	}
}

// Register wires every route into mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/approvals", h.CreateApprovals)
	mux.HandleFunc("/api/v1/approvals/decide", h.ProcessApproval)
	mux.HandleFunc("/api/v1/approvals/transfer", h.TransferApproval)
	mux.HandleFunc("/api/v1/approvals/reset", h.ResetApprovals)
	mux.HandleFunc("/api/v1/approvals/pending", h.GetPendingApprovals)
	mux.HandleFunc("/api/v1/approvals/get", h.GetApproval)
	mux.HandleFunc("/api/v1/approvals/ledger", h.GetLedger)
	mux.HandleFunc("/api/v1/approvals/flow", h.GetApprovalFlow)
	mux.HandleFunc("/api/v1/approvals/can-edit", h.CanEdit)
	mux.HandleFunc("/api/v1/approvals/resolve", h.ResolveChain)
	mux.HandleFunc("/api/v1/documents", h.RegisterDocument)
	mux.HandleFunc("/api/v1/documents/get", h.GetDocument)
	mux.HandleFunc("/api/v1/documents/transition", h.TransitionDocument)
	mux.HandleFunc("/api/v1/documents/attributes", h.UpdateDocumentAttributes)
	mux.HandleFunc("/api/v1/documents/edit-history", h.GetEditHistory)
	mux.HandleFunc("/api/v1/configs", h.Configs)
	mux.HandleFunc("/api/v1/configs/get", h.GetConfig)
	mux.HandleFunc("/health", h.Health)
}

// errorStatus maps error codes to HTTP statuses.
func errorStatus(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case apperrors.ErrCodeUnauthorized:
		return http.StatusForbidden
	case apperrors.ErrCodeConflict:
		return http.StatusConflict
	case apperrors.ErrCodeConfiguration:
		return http.StatusUnprocessableEntity
	case apperrors.ErrCodeInvalidState, apperrors.ErrCodeInvalidTransition:
		return http.StatusConflict
	case apperrors.ErrCodeConsistencyTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Request failed")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"code":  string(apperrors.CodeOf(err)),
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// processScope reads the tenant/process triple every document-scoped
// endpoint requires from query parameters.
func processScope(r *http.Request) (string, repository.ProcessType, string, bool) {
	tenantID := r.URL.Query().Get("tenant_id")
	processType := repository.ProcessType(r.URL.Query().Get("process_type"))
	processID := r.URL.Query().Get("process_id")
	if tenantID == "" || processID == "" || !processType.Valid() {
		return "", "", "", false
	}
	return tenantID, processType, processID, true
}

// Health responds to liveness probes.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateApprovals handles ledger creation HTTP requests
func (h *HTTPHandler) CreateApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		TenantID    string                 `json:"tenant_id"`
		ProcessType repository.ProcessType `json:"process_type"`
		ProcessID   string                 `json:"process_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rows, created, err := h.approvals.CreateApprovalsForProcess(r.Context(), req.TenantID, req.ProcessType, req.ProcessID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]interface{}{
		"approvals": rows,
		"created":   created,
	})
}

// ProcessApproval handles decision HTTP requests
func (h *HTTPHandler) ProcessApproval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		TenantID   string           `json:"tenant_id"`
		ApprovalID string           `json:"approval_id"`
		Decision   service.Decision `json:"decision"`
		Notes      *string          `json:"notes,omitempty"`
		ActorID    string           `json:"actor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	row, complete, err := h.approvals.ProcessApproval(r.Context(), req.TenantID, req.ApprovalID, req.Decision, req.Notes, req.ActorID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"approval":          row,
		"workflow_complete": complete,
	})
}

// TransferApproval handles transfer HTTP requests
func (h *HTTPHandler) TransferApproval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		TenantID      string `json:"tenant_id"`
		ApprovalID    string `json:"approval_id"`
		NewApproverID string `json:"new_approver_id"`
		Reason        string `json:"reason"`
		TransferredBy string `json:"transferred_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	row, err := h.approvals.TransferApproval(r.Context(), req.TenantID, req.ApprovalID, req.NewApproverID, req.Reason, req.TransferredBy)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, row)
}

// ResetApprovals handles edit-reset HTTP requests
func (h *HTTPHandler) ResetApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		TenantID      string                 `json:"tenant_id"`
		ProcessType   repository.ProcessType `json:"process_type"`
		ProcessID     string                 `json:"process_id"`
		EditorID      string                 `json:"editor_id"`
		ChangedFields []string               `json:"changed_fields"`
		Before        map[string]interface{} `json:"before,omitempty"`
		After         map[string]interface{} `json:"after,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	reset, err := h.approvals.ResetApprovalsAfterEdit(r.Context(), req.TenantID, req.ProcessType, req.ProcessID, service.EditContext{
		EditorID:      req.EditorID,
		ChangedFields: req.ChangedFields,
		Before:        req.Before,
		After:         req.After,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"reset": reset})
}

// GetPendingApprovals handles pending inbox HTTP requests
func (h *HTTPHandler) GetPendingApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID := r.URL.Query().Get("tenant_id")
	userID := r.URL.Query().Get("user_id")
	if tenantID == "" || userID == "" {
		http.Error(w, "Tenant ID and User ID are required", http.StatusBadRequest)
		return
	}

	rows, err := h.approvals.GetPendingApprovals(r.Context(), tenantID, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"approvals": rows,
		"total":     len(rows),
	})
}

// GetApproval handles single ledger row HTTP requests
func (h *HTTPHandler) GetApproval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID := r.URL.Query().Get("tenant_id")
	approvalID := r.URL.Query().Get("id")
	if tenantID == "" || approvalID == "" {
		http.Error(w, "Tenant ID and Approval ID are required", http.StatusBadRequest)
		return
	}

	row, err := h.approvals.GetApproval(r.Context(), tenantID, approvalID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, row)
}

// GetLedger handles ledger listing HTTP requests. With history=true the
// response includes cancelled rows from prior resets.
func (h *HTTPHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID, processType, processID, ok := processScope(r)
	if !ok {
		http.Error(w, "Tenant ID, process type and process ID are required", http.StatusBadRequest)
		return
	}

	var rows []*repository.Approval
	var err error
	if r.URL.Query().Get("history") == "true" {
		rows, err = h.approvals.GetLedgerHistory(r.Context(), tenantID, processType, processID)
	} else {
		rows, err = h.approvals.GetLedger(r.Context(), tenantID, processType, processID)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"approvals": rows,
		"total":     len(rows),
	})
}

// GetApprovalFlow handles flow summary HTTP requests
func (h *HTTPHandler) GetApprovalFlow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID, processType, processID, ok := processScope(r)
	if !ok {
		http.Error(w, "Tenant ID, process type and process ID are required", http.StatusBadRequest)
		return
	}

	flow, err := h.approvals.GetApprovalFlow(r.Context(), tenantID, processType, processID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, flow)
}

// CanEdit handles edit-permission HTTP requests
func (h *HTTPHandler) CanEdit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID, processType, processID, ok := processScope(r)
	if !ok {
		http.Error(w, "Tenant ID, process type and process ID are required", http.StatusBadRequest)
		return
	}

	editable, err := h.approvals.CanEditSolicitation(r.Context(), tenantID, processType, processID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"can_edit": editable})
}

// ResolveChain handles chain preview HTTP requests
func (h *HTTPHandler) ResolveChain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID, processType, processID, ok := processScope(r)
	if !ok {
		http.Error(w, "Tenant ID, process type and process ID are required", http.StatusBadRequest)
		return
	}

	chain, err := h.approvals.ResolveChain(r.Context(), tenantID, processType, processID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"levels": chain,
		"total":  len(chain),
	})
}

// RegisterDocument handles document registration HTTP requests
func (h *HTTPHandler) RegisterDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var doc repository.WorkflowDocument
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	registered, err := h.documents.RegisterDocument(r.Context(), &doc)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, registered)
}

// GetDocument handles document lookup HTTP requests
func (h *HTTPHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID, processType, processID, ok := processScope(r)
	if !ok {
		http.Error(w, "Tenant ID, process type and process ID are required", http.StatusBadRequest)
		return
	}

	doc, err := h.documents.GetDocument(r.Context(), tenantID, processType, processID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// TransitionDocument handles non-gate transition HTTP requests
func (h *HTTPHandler) TransitionDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		TenantID    string                 `json:"tenant_id"`
		ProcessType repository.ProcessType `json:"process_type"`
		ProcessID   string                 `json:"process_id"`
		ToState     string                 `json:"to_state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	doc, err := h.documents.TransitionDocument(r.Context(), req.TenantID, req.ProcessType, req.ProcessID, req.ToState)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// UpdateDocumentAttributes handles attribute edit HTTP requests
func (h *HTTPHandler) UpdateDocumentAttributes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		TenantID      string                        `json:"tenant_id"`
		ProcessType   repository.ProcessType        `json:"process_type"`
		ProcessID     string                        `json:"process_id"`
		Attributes    repository.DocumentAttributes `json:"attributes"`
		EditorID      string                        `json:"editor_id"`
		ChangedFields []string                      `json:"changed_fields"`
		Before        map[string]interface{}        `json:"before,omitempty"`
		After         map[string]interface{}        `json:"after,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	doc, reset, err := h.documents.UpdateDocumentAttributes(r.Context(), req.TenantID, req.ProcessType, req.ProcessID, req.Attributes, service.EditContext{
		EditorID:      req.EditorID,
		ChangedFields: req.ChangedFields,
		Before:        req.Before,
		After:         req.After,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"document":        doc,
		"approvals_reset": reset,
	})
}

// GetEditHistory handles edit history HTTP requests
func (h *HTTPHandler) GetEditHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID, processType, processID, ok := processScope(r)
	if !ok {
		http.Error(w, "Tenant ID, process type and process ID are required", http.StatusBadRequest)
		return
	}

	entries, err := h.approvals.GetEditHistory(r.Context(), tenantID, processType, processID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   len(entries),
	})
}

// Configs dispatches config collection HTTP requests by method.
func (h *HTTPHandler) Configs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listConfigs(w, r)
	case http.MethodPost:
		h.createConfig(w, r)
	case http.MethodPut:
		h.updateConfig(w, r)
	case http.MethodDelete:
		h.deleteConfig(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HTTPHandler) listConfigs(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		http.Error(w, "Tenant ID is required", http.StatusBadRequest)
		return
	}

	var processType *repository.ProcessType
	if pt := r.URL.Query().Get("process_type"); pt != "" {
		typed := repository.ProcessType(pt)
		processType = &typed
	}
	activeOnly := r.URL.Query().Get("active") == "true"

	configs, err := h.configs.ListConfigs(r.Context(), tenantID, processType, activeOnly)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"configs": configs,
		"total":   len(configs),
	})
}

func (h *HTTPHandler) createConfig(w http.ResponseWriter, r *http.Request) {
	var config repository.ApprovalConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	created, err := h.configs.CreateConfig(r.Context(), &config)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *HTTPHandler) updateConfig(w http.ResponseWriter, r *http.Request) {
	var config repository.ApprovalConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := h.configs.UpdateConfig(r.Context(), &config)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (h *HTTPHandler) deleteConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	id := r.URL.Query().Get("id")
	if tenantID == "" || id == "" {
		http.Error(w, "Tenant ID and Config ID are required", http.StatusBadRequest)
		return
	}

	if err := h.configs.DeleteConfig(r.Context(), tenantID, id); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetConfig handles single config HTTP requests
func (h *HTTPHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID := r.URL.Query().Get("tenant_id")
	id := r.URL.Query().Get("id")
	if tenantID == "" || id == "" {
		http.Error(w, "Tenant ID and Config ID are required", http.StatusBadRequest)
		return
	}

	config, err := h.configs.GetConfig(r.Context(), tenantID, id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, config)
}

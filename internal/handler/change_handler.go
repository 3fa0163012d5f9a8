package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/ccd/internal/audit"
	"github.com/hitoshi/ccd/internal/middleware"
	"github.com/hitoshi/ccd/internal/model"
	"github.com/hitoshi/ccd/internal/repository"
)

// ChangeHandler は承認ワークフローのHTTPハンドラー。
// 変更は即座に適用せず、承認者のレビューを経て適用される。
type ChangeHandler struct {
	changes repository.PendingChangeRepository
	clients repository.ClientRepository
	auditor repository.AuditLogRepository
}

// NewChangeHandler はChangeHandlerを生成する。
func NewChangeHandler(changes repository.PendingChangeRepository, clients repository.ClientRepository, auditor repository.AuditLogRepository) *ChangeHandler {
	return &ChangeHandler{
		changes: changes,
		clients: clients,
		auditor: auditor,
	}
}

// submitChangeRequest は変更申請リクエストのボディ。
type submitChangeRequest struct {
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Diff     map[string]any `json:"diff"`
}

// pendingChangeResponse は承認待ち変更のAPIレスポンス。
type pendingChangeResponse struct {
	ID          string         `json:"id"`
	Entity      string         `json:"entity"`
	EntityID    string         `json:"entity_id"`
	Diff        map[string]any `json:"diff"`
	RequestedBy string         `json:"requested_by"`
	Status      string         `json:"status"`
	ReviewedBy  string         `json:"reviewed_by,omitempty"`
	ReviewedAt  string         `json:"reviewed_at,omitempty"`
	Rationale   string         `json:"rationale,omitempty"`
	CreatedAt   string         `json:"created_at"`
}

func toPendingChangeResponse(c *model.PendingChange) pendingChangeResponse {
	resp := pendingChangeResponse{
		ID:          c.ID,
		Entity:      c.Entity,
		EntityID:    c.EntityID,
		Diff:        c.Diff,
		RequestedBy: c.RequestedBy,
		Status:      string(c.Status),
		ReviewedBy:  c.ReviewedBy,
		Rationale:   c.Rationale,
		CreatedAt:   c.CreatedAt.Format(time.RFC3339),
	}
	if c.ReviewedAt != nil {
		resp.ReviewedAt = c.ReviewedAt.Format(time.RFC3339)
	}
	return resp
}

// SubmitChange は変更申請を登録する。
// POST /api/changes
func (h *ChangeHandler) SubmitChange(w http.ResponseWriter, r *http.Request) {
	var req submitChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyError(w)
		return
	}
	if req.Entity != "client" {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewValidationError("entityはclientのみサポートされています"))
		return
	}
	if req.EntityID == "" || len(req.Diff) == 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewValidationError("entity_idとdiffが必要です"))
		return
	}

	// 対象エンティティの存在を確認してから申請を受け付ける
	client, err := h.clients.FindByID(r.Context(), req.EntityID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if client == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewNotFoundError("クライアント", req.EntityID))
		return
	}

	requestedBy := ""
	if staff, staffErr := middleware.StaffFromContext(r.Context()); staffErr == nil {
		requestedBy = staff.ID
	}

	change := &model.PendingChange{
		ID:          uuid.NewString(),
		Entity:      req.Entity,
		EntityID:    req.EntityID,
		Diff:        req.Diff,
		RequestedBy: requestedBy,
		Status:      model.PendingChangePending,
	}
	if err := h.changes.Create(r.Context(), change); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toPendingChangeResponse(change))
}

// ListChanges は承認待ち変更の一覧を返す。既定ではpendingのみ。
// GET /api/changes?status=
func (h *ChangeHandler) ListChanges(w http.ResponseWriter, r *http.Request) {
	status := model.PendingChangeStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = model.PendingChangePending
	}

	changes, err := h.changes.ListByStatus(r.Context(), status)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]pendingChangeResponse, 0, len(changes))
	for _, c := range changes {
		resp = append(resp, toPendingChangeResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": resp})
}

// reviewChangeRequest は承認・却下リクエストのボディ。
type reviewChangeRequest struct {
	Rationale string `json:"rationale"`
}

// ApproveChange は変更を承認し、差分をエンティティに適用する。
// POST /api/changes/{id}/approve
func (h *ChangeHandler) ApproveChange(w http.ResponseWriter, r *http.Request) {
	h.reviewChange(w, r, model.PendingChangeApproved)
}

// DeclineChange は変更を却下する。差分は適用されない。
// POST /api/changes/{id}/decline
func (h *ChangeHandler) DeclineChange(w http.ResponseWriter, r *http.Request) {
	h.reviewChange(w, r, model.PendingChangeDeclined)
}

func (h *ChangeHandler) reviewChange(w http.ResponseWriter, r *http.Request, newStatus model.PendingChangeStatus) {
	id := chi.URLParam(r, "id")

	change, err := h.changes.FindByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if change == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewNotFoundError("承認待ち変更", id))
		return
	}
	if change.Status != model.PendingChangePending {
		writeAPIErrorResponse(w, http.StatusConflict, &model.APIError{
			Code:     model.ErrCodeConflict,
			Message:  "この変更は既にレビュー済みです。",
			Category: "business_logic",
			Action:   "変更の状態を確認してください。",
		})
		return
	}

	var req reviewChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyError(w)
		return
	}

	reviewedBy := ""
	if staff, staffErr := middleware.StaffFromContext(r.Context()); staffErr == nil {
		reviewedBy = staff.ID
	}

	// 承認時は差分をエンティティへ適用する
	if newStatus == model.PendingChangeApproved {
		if err := h.applyChange(r, change, reviewedBy); err != nil {
			handleServiceError(w, err)
			return
		}
	}

	now := time.Now()
	change.Status = newStatus
	change.ReviewedBy = reviewedBy
	change.ReviewedAt = &now
	change.Rationale = req.Rationale
	if err := h.changes.UpdateStatus(r.Context(), change); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toPendingChangeResponse(change))
}

// applyChange は変更差分を対象エンティティへ適用し、監査ログを記録する。
func (h *ChangeHandler) applyChange(r *http.Request, change *model.PendingChange, reviewedBy string) error {
	client, err := h.clients.FindByID(r.Context(), change.EntityID)
	if err != nil {
		return err
	}
	if client == nil {
		return model.NewNotFoundError("クライアント", change.EntityID)
	}

	before := clientAuditFields(client)
	values := audit.NewValues(change.Diff)
	applyClientValues(client, values)

	diff := audit.ComputeDiff(before, clientAuditFields(client))
	if len(diff) == 0 {
		return nil
	}

	if err := h.clients.Update(r.Context(), client); err != nil {
		return err
	}
	_ = h.auditor.Create(r.Context(), &model.AuditLog{
		ID:        uuid.NewString(),
		Entity:    change.Entity,
		EntityID:  change.EntityID,
		Action:    model.AuditActionUpdate,
		ChangedBy: reviewedBy,
		Diff:      diff,
		ChangedAt: time.Now(),
	})
	return nil
}

// applyClientValues はフィールド名→新値のマップをクライアントへ適用する。
// 未知のフィールドは無視する。
func applyClientValues(client *model.Client, values map[string]any) {
	targets := map[string]*string{
		"first_name":     &client.FirstName,
		"last_name":      &client.LastName,
		"preferred_name": &client.PreferredName,
		"alias":          &client.Alias,
		"gender":         &client.Gender,
		"phone":          &client.Phone,
		"email":          &client.Email,
		"address":        &client.Address,
		"comments":       &client.Comments,
	}
	for field, dst := range targets {
		if v, ok := values[field].(string); ok {
			*dst = v
		}
	}
	if v, ok := values["active"].(bool); ok {
		client.Active = v
	}
	if v, ok := values["dob"].(string); ok && v != "" {
		if parsed, err := time.Parse(dateLayout, v); err == nil {
			client.DOB = &parsed
		}
	}
}

package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/ccd/internal/model"
	"github.com/hitoshi/ccd/internal/repository"
	"github.com/hitoshi/ccd/internal/security"
)

// RestrictionHandler はサービス制限管理のHTTPハンドラー。
type RestrictionHandler struct {
	restrictions repository.RestrictionRepository
	sanitizer    security.TextSanitizerService
}

// NewRestrictionHandler はRestrictionHandlerを生成する。
func NewRestrictionHandler(restrictions repository.RestrictionRepository, sanitizer security.TextSanitizerService) *RestrictionHandler {
	return &RestrictionHandler{
		restrictions: restrictions,
		sanitizer:    sanitizer,
	}
}

// restrictionRequest はサービス制限作成・更新リクエストのボディ。
type restrictionRequest struct {
	ClientID  string `json:"client_id"`
	Scope     string `json:"scope"` // org | program
	ProgramID string `json:"program_id"`
	StartDate string `json:"start_date"` // YYYY-MM-DD
	EndDate   string `json:"end_date"`   // YYYY-MM-DD、省略可
	Reason    string `json:"reason"`
}

// restrictionResponse はサービス制限のAPIレスポンス。
type restrictionResponse struct {
	ID        string `json:"id"`
	ClientID  string `json:"client_id"`
	Scope     string `json:"scope"`
	ProgramID string `json:"program_id,omitempty"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Active    bool   `json:"active"`
}

func toRestrictionResponse(r *model.ServiceRestriction) restrictionResponse {
	resp := restrictionResponse{
		ID:        r.ID,
		ClientID:  r.ClientID,
		Scope:     string(r.Scope),
		ProgramID: r.ProgramID,
		StartDate: r.StartDate.Format(dateLayout),
		Reason:    r.Reason,
		Active:    r.Active(time.Now()),
	}
	if r.EndDate != nil {
		resp.EndDate = r.EndDate.Format(dateLayout)
	}
	return resp
}

// ListRestrictions はサービス制限一覧を返す。
// GET /api/restrictions?client= または ?active=true
func (h *RestrictionHandler) ListRestrictions(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client")

	var (
		restrictions []*model.ServiceRestriction
		err          error
	)
	switch {
	case clientID != "":
		restrictions, err = h.restrictions.ListByClient(r.Context(), clientID)
	case r.URL.Query().Get("active") == "true":
		restrictions, err = h.restrictions.ListActive(r.Context(), time.Now())
	default:
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewValidationError("clientまたはactive=trueパラメータが必要です"))
		return
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]restrictionResponse, 0, len(restrictions))
	for _, restriction := range restrictions {
		resp = append(resp, toRestrictionResponse(restriction))
	}
	writeJSON(w, http.StatusOK, map[string]any{"restrictions": resp})
}

// GetRestriction はサービス制限の詳細を返す。
// GET /api/restrictions/{id}
func (h *RestrictionHandler) GetRestriction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	restriction, err := h.restrictions.FindByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if restriction == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewNotFoundError("サービス制限", id))
		return
	}

	writeJSON(w, http.StatusOK, toRestrictionResponse(restriction))
}

// CreateRestriction はサービス制限を作成する。
// POST /api/restrictions
func (h *RestrictionHandler) CreateRestriction(w http.ResponseWriter, r *http.Request) {
	var req restrictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyError(w)
		return
	}

	restriction, apiErr := h.buildRestriction(&req)
	if apiErr != nil {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	if err := h.restrictions.Create(r.Context(), restriction); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toRestrictionResponse(restriction))
}

// UpdateRestriction はサービス制限を更新する。
// PUT /api/restrictions/{id}
func (h *RestrictionHandler) UpdateRestriction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := h.restrictions.FindByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if existing == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewNotFoundError("サービス制限", id))
		return
	}

	var req restrictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyError(w)
		return
	}
	if req.ClientID == "" {
		req.ClientID = existing.ClientID
	}
	if req.Scope == "" {
		req.Scope = string(existing.Scope)
		if req.ProgramID == "" {
			req.ProgramID = existing.ProgramID
		}
	}
	if req.StartDate == "" {
		req.StartDate = existing.StartDate.Format(dateLayout)
	}
	if req.Reason == "" {
		req.Reason = existing.Reason
	}

	restriction, apiErr := h.buildRestriction(&req)
	if apiErr != nil {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}
	restriction.ID = existing.ID
	if req.EndDate == "" {
		restriction.EndDate = existing.EndDate
	}

	if err := h.restrictions.Update(r.Context(), restriction); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toRestrictionResponse(restriction))
}

// DeleteRestriction はサービス制限を削除する。
// DELETE /api/restrictions/{id}
func (h *RestrictionHandler) DeleteRestriction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.restrictions.DeleteByID(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// buildRestriction はリクエストを検証してServiceRestrictionを組み立てる。
// scope=orgとProgramIDの組み合わせ制約もここで検証する。
func (h *RestrictionHandler) buildRestriction(req *restrictionRequest) (*model.ServiceRestriction, *model.APIError) {
	if req.ClientID == "" {
		return nil, model.NewValidationError("client_idが必要です")
	}

	scope := model.RestrictionScope(req.Scope)
	switch scope {
	case model.RestrictionScopeOrg:
		if req.ProgramID != "" {
			return nil, model.NewValidationError("scope=orgの場合program_idは指定できません")
		}
	case model.RestrictionScopeProgram:
		if req.ProgramID == "" {
			return nil, model.NewValidationError("scope=programの場合program_idが必要です")
		}
	default:
		return nil, model.NewValidationError("scopeはorgまたはprogramを指定してください")
	}

	if req.StartDate == "" {
		return nil, model.NewValidationError("start_dateが必要です")
	}
	startDate, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		return nil, model.NewInvalidDateError(req.StartDate)
	}

	restriction := &model.ServiceRestriction{
		ID:        uuid.NewString(),
		ClientID:  req.ClientID,
		Scope:     scope,
		ProgramID: req.ProgramID,
		StartDate: startDate,
		Reason:    h.sanitizer.Sanitize(req.Reason),
	}
	if req.EndDate != "" {
		endDate, parseErr := time.Parse(dateLayout, req.EndDate)
		if parseErr != nil {
			return nil, model.NewInvalidDateError(req.EndDate)
		}
		if endDate.Before(startDate) {
			return nil, model.NewValidationError("end_dateはstart_date以降の日付を指定してください")
		}
		restriction.EndDate = &endDate
	}
	return restriction, nil
}

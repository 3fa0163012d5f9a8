package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/ccd/internal/model"
	"github.com/hitoshi/ccd/internal/repository"
)

// StaffHandler は職員管理のHTTPハンドラー。
type StaffHandler struct {
	staff repository.StaffRepository
}

// NewStaffHandler はStaffHandlerを生成する。
func NewStaffHandler(staff repository.StaffRepository) *StaffHandler {
	return &StaffHandler{staff: staff}
}

// staffRequest は職員作成・更新リクエストのボディ。
type staffRequest struct {
	UserID    string `json:"user_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Active    *bool  `json:"active"`
}

// staffResponse は職員情報のAPIレスポンス。
type staffResponse struct {
	ID        string   `json:"id"`
	UserID    string   `json:"user_id,omitempty"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Email     string   `json:"email,omitempty"`
	Active    bool     `json:"active"`
	Roles     []string `json:"roles,omitempty"`
}

func toStaffResponse(s *model.Staff) staffResponse {
	return staffResponse{
		ID:        s.ID,
		UserID:    s.UserID,
		FirstName: s.FirstName,
		LastName:  s.LastName,
		Email:     s.Email,
		Active:    s.Active,
	}
}

// ListStaff は職員一覧を返す。
// GET /api/staff
func (h *StaffHandler) ListStaff(w http.ResponseWriter, r *http.Request) {
	list, err := h.staff.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]staffResponse, 0, len(list))
	for _, s := range list {
		resp = append(resp, toStaffResponse(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"staff": resp})
}

// GetStaff は職員詳細をロール付きで返す。
// GET /api/staff/{id}
func (h *StaffHandler) GetStaff(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	withRoles, err := h.staff.FindWithRoles(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if withRoles == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewNotFoundError("職員", id))
		return
	}

	resp := toStaffResponse(&withRoles.Staff)
	resp.Roles = withRoles.RoleNames
	writeJSON(w, http.StatusOK, resp)
}

// CreateStaff は職員を作成する。
// POST /api/staff
func (h *StaffHandler) CreateStaff(w http.ResponseWriter, r *http.Request) {
	var req staffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyError(w)
		return
	}
	if strings.TrimSpace(req.FirstName) == "" && strings.TrimSpace(req.LastName) == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewValidationError("first_nameまたはlast_nameが必要です"))
		return
	}

	staff := &model.Staff{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Email:     strings.TrimSpace(strings.ToLower(req.Email)),
		Active:    true,
	}
	if req.Active != nil {
		staff.Active = *req.Active
	}

	if err := h.staff.Create(r.Context(), staff); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toStaffResponse(staff))
}

// UpdateStaff は職員を更新する。
// PUT /api/staff/{id}
func (h *StaffHandler) UpdateStaff(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	staff, err := h.staff.FindByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if staff == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewNotFoundError("職員", id))
		return
	}

	var req staffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyError(w)
		return
	}
	setIfPresent(&staff.FirstName, req.FirstName)
	setIfPresent(&staff.LastName, req.LastName)
	setIfPresent(&staff.Email, strings.ToLower(req.Email))
	if req.Active != nil {
		staff.Active = *req.Active
	}

	if err := h.staff.Update(r.Context(), staff); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toStaffResponse(staff))
}

// DeleteStaff は職員を削除する。
// DELETE /api/staff/{id}
func (h *StaffHandler) DeleteStaff(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.staff.DeleteByID(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// assignRoleRequest はロール割り当てリクエストのボディ。
type assignRoleRequest struct {
	Role string `json:"role"`
}

// AssignRole は職員にロールを割り当てる。
// POST /api/staff/{id}/roles
func (h *StaffHandler) AssignRole(w http.ResponseWriter, r *http.Request) {
	staffID := chi.URLParam(r, "id")

	var req assignRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyError(w)
		return
	}

	role, err := h.staff.FindRoleByName(r.Context(), req.Role)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if role == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewNotFoundError("ロール", req.Role))
		return
	}

	if err := h.staff.AssignRole(r.Context(), staffID, role.ID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RemoveRole は職員からロールを外す。
// DELETE /api/staff/{id}/roles/{roleName}
func (h *StaffHandler) RemoveRole(w http.ResponseWriter, r *http.Request) {
	staffID := chi.URLParam(r, "id")
	roleName := chi.URLParam(r, "roleName")

	role, err := h.staff.FindRoleByName(r.Context(), roleName)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if role == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewNotFoundError("ロール", roleName))
		return
	}

	if err := h.staff.RemoveRole(r.Context(), staffID, role.ID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

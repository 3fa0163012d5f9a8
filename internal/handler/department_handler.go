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

// DepartmentHandler は部門管理のHTTPハンドラー。
type DepartmentHandler struct {
	departments repository.DepartmentRepository
}

// NewDepartmentHandler はDepartmentHandlerを生成する。
func NewDepartmentHandler(departments repository.DepartmentRepository) *DepartmentHandler {
	return &DepartmentHandler{departments: departments}
}

// departmentRequest は部門作成・更新リクエストのボディ。
type departmentRequest struct {
	Name  string `json:"name"`
	Owner string `json:"owner"`
}

// departmentResponse は部門情報のAPIレスポンス。
type departmentResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Owner string `json:"owner,omitempty"`
}

func toDepartmentResponse(d *model.Department) departmentResponse {
	return departmentResponse{ID: d.ID, Name: d.Name, Owner: d.Owner}
}

// ListDepartments は部門一覧を返す。
// GET /api/departments
func (h *DepartmentHandler) ListDepartments(w http.ResponseWriter, r *http.Request) {
	departments, err := h.departments.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]departmentResponse, 0, len(departments))
	for _, d := range departments {
		resp = append(resp, toDepartmentResponse(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"departments": resp})
}

// GetDepartment は部門詳細を返す。
// GET /api/departments/{id}
func (h *DepartmentHandler) GetDepartment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dept, err := h.departments.FindByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if dept == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewNotFoundError("部門", id))
		return
	}

	writeJSON(w, http.StatusOK, toDepartmentResponse(dept))
}

// CreateDepartment は部門を作成する。
// POST /api/departments
func (h *DepartmentHandler) CreateDepartment(w http.ResponseWriter, r *http.Request) {
	var req departmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyError(w)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("nameが必要です"))
		return
	}

	dept := &model.Department{
		ID:    uuid.NewString(),
		Name:  strings.TrimSpace(req.Name),
		Owner: req.Owner,
	}
	if err := h.departments.Create(r.Context(), dept); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toDepartmentResponse(dept))
}

// UpdateDepartment は部門を更新する。
// PUT /api/departments/{id}
func (h *DepartmentHandler) UpdateDepartment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dept, err := h.departments.FindByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if dept == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewNotFoundError("部門", id))
		return
	}

	var req departmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyError(w)
		return
	}
	setIfPresent(&dept.Name, req.Name)
	setIfPresent(&dept.Owner, req.Owner)

	if err := h.departments.Update(r.Context(), dept); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toDepartmentResponse(dept))
}

// DeleteDepartment は部門を削除する。
// DELETE /api/departments/{id}
func (h *DepartmentHandler) DeleteDepartment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.departments.DeleteByID(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

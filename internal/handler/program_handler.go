package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/ccd/internal/model"
	"github.com/hitoshi/ccd/internal/repository"
)

// ProgramHandler はプログラム管理のHTTPハンドラー。
type ProgramHandler struct {
	programs repository.ProgramRepository
}

// NewProgramHandler はProgramHandlerを生成する。
func NewProgramHandler(programs repository.ProgramRepository) *ProgramHandler {
	return &ProgramHandler{programs: programs}
}

// programRequest はプログラム作成・更新リクエストのボディ。
type programRequest struct {
	Name                  string `json:"name"`
	DepartmentID          string `json:"department_id"`
	Location              string `json:"location"`
	CapacityCurrent       int    `json:"capacity_current"`
	CapacityEffectiveDate string `json:"capacity_effective_date"` // YYYY-MM-DD
}

// programResponse はプログラム情報のAPIレスポンス。
type programResponse struct {
	ID                    string `json:"id"`
	Name                  string `json:"name"`
	DepartmentID          string `json:"department_id"`
	Location              string `json:"location,omitempty"`
	CapacityCurrent       int    `json:"capacity_current"`
	CapacityEffectiveDate string `json:"capacity_effective_date,omitempty"`
}

func toProgramResponse(p *model.Program) programResponse {
	resp := programResponse{
		ID:              p.ID,
		Name:            p.Name,
		DepartmentID:    p.DepartmentID,
		Location:        p.Location,
		CapacityCurrent: p.CapacityCurrent,
	}
	if p.CapacityEffectiveDate != nil {
		resp.CapacityEffectiveDate = p.CapacityEffectiveDate.Format(dateLayout)
	}
	return resp
}

// ListPrograms はプログラム一覧を返す。
// GET /api/programs?department=
func (h *ProgramHandler) ListPrograms(w http.ResponseWriter, r *http.Request) {
	departmentID := strings.TrimSpace(r.URL.Query().Get("department"))

	programs, err := h.programs.List(r.Context(), departmentID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]programResponse, 0, len(programs))
	for _, p := range programs {
		resp = append(resp, toProgramResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"programs": resp})
}

// GetProgram はプログラム詳細を返す。
// GET /api/programs/{id}
func (h *ProgramHandler) GetProgram(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	program, err := h.programs.FindByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if program == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewNotFoundError("プログラム", id))
		return
	}

	writeJSON(w, http.StatusOK, toProgramResponse(program))
}

// CreateProgram はプログラムを作成する。
// POST /api/programs
func (h *ProgramHandler) CreateProgram(w http.ResponseWriter, r *http.Request) {
	var req programRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyError(w)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("nameが必要です"))
		return
	}
	if strings.TrimSpace(req.DepartmentID) == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("department_idが必要です"))
		return
	}

	program := &model.Program{
		ID:              uuid.NewString(),
		Name:            strings.TrimSpace(req.Name),
		DepartmentID:    req.DepartmentID,
		Location:        req.Location,
		CapacityCurrent: req.CapacityCurrent,
	}
	if req.CapacityEffectiveDate != "" {
		date, err := time.Parse(dateLayout, req.CapacityEffectiveDate)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidDateError(req.CapacityEffectiveDate))
			return
		}
		program.CapacityEffectiveDate = &date
	}

	if err := h.programs.Create(r.Context(), program); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toProgramResponse(program))
}

// UpdateProgram はプログラムを更新する。
// PUT /api/programs/{id}
func (h *ProgramHandler) UpdateProgram(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	program, err := h.programs.FindByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if program == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewNotFoundError("プログラム", id))
		return
	}

	var req programRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyError(w)
		return
	}

	setIfPresent(&program.Name, req.Name)
	setIfPresent(&program.DepartmentID, req.DepartmentID)
	setIfPresent(&program.Location, req.Location)
	if req.CapacityCurrent > 0 {
		program.CapacityCurrent = req.CapacityCurrent
	}
	if req.CapacityEffectiveDate != "" {
		date, parseErr := time.Parse(dateLayout, req.CapacityEffectiveDate)
		if parseErr != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidDateError(req.CapacityEffectiveDate))
			return
		}
		program.CapacityEffectiveDate = &date
	}

	if err := h.programs.Update(r.Context(), program); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toProgramResponse(program))
}

// DeleteProgram はプログラムを削除する。
// DELETE /api/programs/{id}
func (h *ProgramHandler) DeleteProgram(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.programs.DeleteByID(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// assignStaffRequest は職員割り当てリクエストのボディ。
type assignStaffRequest struct {
	StaffID   string `json:"staff_id"`
	IsManager bool   `json:"is_manager"`
}

// AssignStaff はプログラムに職員を割り当てる。
// POST /api/programs/{id}/staff
func (h *ProgramHandler) AssignStaff(w http.ResponseWriter, r *http.Request) {
	programID := chi.URLParam(r, "id")

	var req assignStaffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyError(w)
		return
	}
	if req.StaffID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("staff_idが必要です"))
		return
	}

	if err := h.programs.AssignStaff(r.Context(), programID, req.StaffID, req.IsManager); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RemoveStaff はプログラムから職員の割当を解除する。
// DELETE /api/programs/{id}/staff/{staffID}
func (h *ProgramHandler) RemoveStaff(w http.ResponseWriter, r *http.Request) {
	programID := chi.URLParam(r, "id")
	staffID := chi.URLParam(r, "staffID")

	if err := h.programs.RemoveStaff(r.Context(), programID, staffID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListStaff はプログラムに割り当てられた職員一覧を返す。
// GET /api/programs/{id}/staff
func (h *ProgramHandler) ListStaff(w http.ResponseWriter, r *http.Request) {
	programID := chi.URLParam(r, "id")

	assignments, err := h.programs.ListStaff(r.Context(), programID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	type assignmentResponse struct {
		StaffID   string `json:"staff_id"`
		IsManager bool   `json:"is_manager"`
	}
	resp := make([]assignmentResponse, 0, len(assignments))
	for _, a := range assignments {
		resp = append(resp, assignmentResponse{StaffID: a.StaffID, IsManager: a.IsManager})
	}
	writeJSON(w, http.StatusOK, map[string]any{"staff": resp})
}

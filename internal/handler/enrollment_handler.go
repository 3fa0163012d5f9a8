package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/ccd/internal/model"
	"github.com/hitoshi/ccd/internal/repository"
)

// EnrollmentHandler は在籍管理のHTTPハンドラー。
type EnrollmentHandler struct {
	enrollments repository.EnrollmentRepository
}

// NewEnrollmentHandler はEnrollmentHandlerを生成する。
func NewEnrollmentHandler(enrollments repository.EnrollmentRepository) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// enrollmentRequest は在籍登録リクエストのボディ。
type enrollmentRequest struct {
	ClientID  string `json:"client_id"`
	ProgramID string `json:"program_id"`
	StartDate string `json:"start_date"` // YYYY-MM-DD
	EndDate   string `json:"end_date"`   // YYYY-MM-DD、省略可
}

// enrollmentResponse は在籍情報のAPIレスポンス。
type enrollmentResponse struct {
	ID        string `json:"id"`
	ClientID  string `json:"client_id"`
	ProgramID string `json:"program_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date,omitempty"`
}

func toEnrollmentResponse(e *model.Enrollment) enrollmentResponse {
	resp := enrollmentResponse{
		ID:        e.ID,
		ClientID:  e.ClientID,
		ProgramID: e.ProgramID,
		StartDate: e.StartDate.Format(dateLayout),
	}
	if e.EndDate != nil {
		resp.EndDate = e.EndDate.Format(dateLayout)
	}
	return resp
}

// ListEnrollments は在籍一覧を返す。clientまたはprogramでの絞り込みが必須。
// GET /api/enrollments?client= または ?program=&open=
func (h *EnrollmentHandler) ListEnrollments(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client")
	programID := r.URL.Query().Get("program")

	var (
		enrollments []*model.Enrollment
		err         error
	)
	switch {
	case clientID != "":
		enrollments, err = h.enrollments.ListByClient(r.Context(), clientID)
	case programID != "":
		openOnly := r.URL.Query().Get("open") == "true"
		enrollments, err = h.enrollments.ListByProgram(r.Context(), programID, openOnly)
	default:
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewValidationError("clientまたはprogramパラメータが必要です"))
		return
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]enrollmentResponse, 0, len(enrollments))
	for _, e := range enrollments {
		resp = append(resp, toEnrollmentResponse(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"enrollments": resp})
}

// CreateEnrollment は在籍を登録し、受入記録を残す。
// POST /api/enrollments
func (h *EnrollmentHandler) CreateEnrollment(w http.ResponseWriter, r *http.Request) {
	var req enrollmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyError(w)
		return
	}
	if req.ClientID == "" || req.ProgramID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewValidationError("client_idとprogram_idが必要です"))
		return
	}

	startDate := time.Now().Truncate(24 * time.Hour)
	if req.StartDate != "" {
		parsed, err := time.Parse(dateLayout, req.StartDate)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidDateError(req.StartDate))
			return
		}
		startDate = parsed
	}

	enrollment := &model.Enrollment{
		ID:        uuid.NewString(),
		ClientID:  req.ClientID,
		ProgramID: req.ProgramID,
		StartDate: startDate,
	}
	if req.EndDate != "" {
		endDate, err := time.Parse(dateLayout, req.EndDate)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidDateError(req.EndDate))
			return
		}
		if endDate.Before(startDate) {
			writeAPIErrorResponse(w, http.StatusBadRequest,
				model.NewValidationError("end_dateはstart_date以降の日付を指定してください"))
			return
		}
		enrollment.EndDate = &endDate
	}

	// 同一クライアント・プログラムのオープンな在籍は二重登録しない
	open, err := h.enrollments.FindOpen(r.Context(), req.ClientID, req.ProgramID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if open != nil {
		writeAPIErrorResponse(w, http.StatusConflict, &model.APIError{
			Code:     model.ErrCodeConflict,
			Message:  "このクライアントは既にプログラムに在籍中です。",
			Category: "business_logic",
			Action:   "既存の在籍を終了してから登録してください。",
		})
		return
	}

	if err := h.enrollments.Create(r.Context(), enrollment); err != nil {
		handleServiceError(w, err)
		return
	}
	if err := h.enrollments.CreateIntake(r.Context(), &model.Intake{
		ID:         uuid.NewString(),
		ClientID:   req.ClientID,
		ProgramID:  req.ProgramID,
		IntakeDate: startDate,
	}); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toEnrollmentResponse(enrollment))
}

// dischargeRequest は退所リクエストのボディ。
type dischargeRequest struct {
	Date   string `json:"date"` // YYYY-MM-DD、省略時は当日
	Reason string `json:"reason"`
}

// DischargeEnrollment は在籍を終了し、退所記録を残す。
// POST /api/enrollments/{id}/discharge
func (h *EnrollmentHandler) DischargeEnrollment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	enrollment, err := h.enrollments.FindByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if enrollment == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewNotFoundError("在籍", id))
		return
	}
	if enrollment.EndDate != nil {
		writeAPIErrorResponse(w, http.StatusConflict, &model.APIError{
			Code:     model.ErrCodeConflict,
			Message:  "この在籍は既に終了しています。",
			Category: "business_logic",
			Action:   "在籍IDを確認してください。",
		})
		return
	}

	var req dischargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyError(w)
		return
	}

	date := time.Now().Truncate(24 * time.Hour)
	if req.Date != "" {
		parsed, parseErr := time.Parse(dateLayout, req.Date)
		if parseErr != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidDateError(req.Date))
			return
		}
		date = parsed
	}
	if date.Before(enrollment.StartDate) {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewValidationError("退所日は在籍開始日以降の日付を指定してください"))
		return
	}

	enrollment.EndDate = &date
	if err := h.enrollments.Update(r.Context(), enrollment); err != nil {
		handleServiceError(w, err)
		return
	}
	if err := h.enrollments.CreateDischarge(r.Context(), &model.Discharge{
		ID:            uuid.NewString(),
		ClientID:      enrollment.ClientID,
		ProgramID:     enrollment.ProgramID,
		DischargeDate: date,
		Reason:        req.Reason,
	}); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toEnrollmentResponse(enrollment))
}

// DeleteEnrollment は在籍を削除する。
// DELETE /api/enrollments/{id}
func (h *EnrollmentHandler) DeleteEnrollment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.enrollments.DeleteByID(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

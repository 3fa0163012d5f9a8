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

// RecipientHandler はレポート配信先管理のHTTPハンドラー。
type RecipientHandler struct {
	recipients repository.EmailRecipientRepository
}

// NewRecipientHandler はRecipientHandlerを生成する。
func NewRecipientHandler(recipients repository.EmailRecipientRepository) *RecipientHandler {
	return &RecipientHandler{recipients: recipients}
}

// recipientRequest は配信先作成・更新リクエストのボディ。
type recipientRequest struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	Frequency string `json:"frequency"` // daily | weekly | monthly
	Active    *bool  `json:"active"`
}

// recipientResponse は配信先のAPIレスポンス。
type recipientResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	Frequency string `json:"frequency"`
	Active    bool   `json:"active"`
}

func toRecipientResponse(rec *model.EmailRecipient) recipientResponse {
	return recipientResponse{
		ID:        rec.ID,
		Email:     rec.Email,
		Name:      rec.Name,
		Frequency: string(rec.Frequency),
		Active:    rec.Active,
	}
}

// validFrequency はレポート配信頻度の妥当性を検証する。
func validFrequency(f model.ReportFrequency) bool {
	switch f {
	case model.FrequencyDaily, model.FrequencyWeekly, model.FrequencyMonthly:
		return true
	}
	return false
}

// ListRecipients は配信先一覧を返す。
// GET /api/recipients
func (h *RecipientHandler) ListRecipients(w http.ResponseWriter, r *http.Request) {
	recipients, err := h.recipients.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]recipientResponse, 0, len(recipients))
	for _, rec := range recipients {
		resp = append(resp, toRecipientResponse(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"recipients": resp})
}

// CreateRecipient は配信先を作成する。
// POST /api/recipients
func (h *RecipientHandler) CreateRecipient(w http.ResponseWriter, r *http.Request) {
	var req recipientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyError(w)
		return
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewValidationError("有効なemailが必要です"))
		return
	}
	frequency := model.ReportFrequency(req.Frequency)
	if !validFrequency(frequency) {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewValidationError("frequencyはdaily、weekly、monthlyのいずれかを指定してください"))
		return
	}

	recipient := &model.EmailRecipient{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      req.Name,
		Frequency: frequency,
		Active:    true,
	}
	if req.Active != nil {
		recipient.Active = *req.Active
	}

	if err := h.recipients.Create(r.Context(), recipient); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toRecipientResponse(recipient))
}

// UpdateRecipient は配信先を更新する。
// PUT /api/recipients/{id}
func (h *RecipientHandler) UpdateRecipient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	recipient, err := h.recipients.FindByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if recipient == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewNotFoundError("配信先", id))
		return
	}

	var req recipientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyError(w)
		return
	}
	setIfPresent(&recipient.Email, strings.ToLower(req.Email))
	setIfPresent(&recipient.Name, req.Name)
	if req.Frequency != "" {
		frequency := model.ReportFrequency(req.Frequency)
		if !validFrequency(frequency) {
			writeAPIErrorResponse(w, http.StatusBadRequest,
				model.NewValidationError("frequencyはdaily、weekly、monthlyのいずれかを指定してください"))
			return
		}
		recipient.Frequency = frequency
	}
	if req.Active != nil {
		recipient.Active = *req.Active
	}

	if err := h.recipients.Update(r.Context(), recipient); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toRecipientResponse(recipient))
}

// DeleteRecipient は配信先を削除する。
// DELETE /api/recipients/{id}
func (h *RecipientHandler) DeleteRecipient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.recipients.DeleteByID(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/ccd/internal/audit"
	"github.com/hitoshi/ccd/internal/middleware"
	"github.com/hitoshi/ccd/internal/model"
	"github.com/hitoshi/ccd/internal/repository"
)

// DuplicateHandler は重複フラグの手動レビューを処理するHTTPハンドラー。
type DuplicateHandler struct {
	flags   repository.DuplicateFlagRepository
	clients repository.ClientRepository
	auditor repository.AuditLogRepository
}

// NewDuplicateHandler はDuplicateHandlerを生成する。
func NewDuplicateHandler(flags repository.DuplicateFlagRepository, clients repository.ClientRepository, auditor repository.AuditLogRepository) *DuplicateHandler {
	return &DuplicateHandler{
		flags:   flags,
		clients: clients,
		auditor: auditor,
	}
}

// duplicateFlagResponse は重複フラグのAPIレスポンス。
type duplicateFlagResponse struct {
	ID              string         `json:"id"`
	MatchedClientID string         `json:"matched_client_id"`
	Score           float64        `json:"score"`
	MatchType       string         `json:"match_type"`
	SourceSystem    string         `json:"source_system"`
	IncomingPayload map[string]any `json:"incoming_payload"`
	Status          string         `json:"status"`
	CreatedAt       string         `json:"created_at"`
}

func toDuplicateFlagResponse(f *model.DuplicateFlag) duplicateFlagResponse {
	return duplicateFlagResponse{
		ID:              f.ID,
		MatchedClientID: f.MatchedClientID,
		Score:           f.Score,
		MatchType:       f.MatchType,
		SourceSystem:    f.SourceSystem,
		IncomingPayload: f.IncomingPayload,
		Status:          string(f.Status),
		CreatedAt:       f.CreatedAt.Format(time.RFC3339),
	}
}

// ListDuplicates は重複フラグ一覧を返す。既定ではopenのみ。
// GET /api/duplicates?status=
func (h *DuplicateHandler) ListDuplicates(w http.ResponseWriter, r *http.Request) {
	status := model.DuplicateFlagStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = model.DuplicateFlagOpen
	}

	flags, err := h.flags.ListByStatus(r.Context(), status)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]duplicateFlagResponse, 0, len(flags))
	for _, f := range flags {
		resp = append(resp, toDuplicateFlagResponse(f))
	}
	writeJSON(w, http.StatusOK, map[string]any{"duplicates": resp})
}

// resolveDuplicateRequest は重複フラグ解決リクエストのボディ。
type resolveDuplicateRequest struct {
	Resolution string `json:"resolution"` // dismiss | merge
}

// ResolveDuplicate は重複フラグを解決する。
// dismissは誤検出として却下。mergeは取り込み行の値を既存クライアントに適用する。
// POST /api/duplicates/{id}/resolve
func (h *DuplicateHandler) ResolveDuplicate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	flag, err := h.flags.FindByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if flag == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewNotFoundError("重複フラグ", id))
		return
	}
	if flag.Status != model.DuplicateFlagOpen {
		writeAPIErrorResponse(w, http.StatusConflict, &model.APIError{
			Code:     model.ErrCodeConflict,
			Message:  "この重複フラグは既に解決済みです。",
			Category: "business_logic",
			Action:   "フラグの状態を確認してください。",
		})
		return
	}

	var req resolveDuplicateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyError(w)
		return
	}

	switch req.Resolution {
	case "dismiss":
		if err := h.flags.UpdateStatus(r.Context(), flag.ID, model.DuplicateFlagDismissed); err != nil {
			handleServiceError(w, err)
			return
		}
		flag.Status = model.DuplicateFlagDismissed

	case "merge":
		if err := h.mergeIntoClient(r, flag); err != nil {
			handleServiceError(w, err)
			return
		}
		if err := h.flags.UpdateStatus(r.Context(), flag.ID, model.DuplicateFlagMerged); err != nil {
			handleServiceError(w, err)
			return
		}
		flag.Status = model.DuplicateFlagMerged

	default:
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewValidationError("resolutionはdismissまたはmergeを指定してください"))
		return
	}

	writeJSON(w, http.StatusOK, toDuplicateFlagResponse(flag))
}

// mergeIntoClient は取り込み行のペイロードを照合先クライアントに適用する。
// 空でない値のみ上書きし、差分を監査ログに記録する。
func (h *DuplicateHandler) mergeIntoClient(r *http.Request, flag *model.DuplicateFlag) error {
	client, err := h.clients.FindByID(r.Context(), flag.MatchedClientID)
	if err != nil {
		return err
	}
	if client == nil {
		return model.NewNotFoundError("クライアント", flag.MatchedClientID)
	}

	before := clientAuditFields(client)
	applyPayloadField(flag.IncomingPayload, "first_name", &client.FirstName)
	applyPayloadField(flag.IncomingPayload, "last_name", &client.LastName)
	applyPayloadField(flag.IncomingPayload, "gender", &client.Gender)
	applyPayloadField(flag.IncomingPayload, "phone", &client.Phone)
	applyPayloadField(flag.IncomingPayload, "email", &client.Email)
	applyPayloadField(flag.IncomingPayload, "address", &client.Address)
	if dob, ok := flag.IncomingPayload["dob"].(string); ok && dob != "" && client.DOB == nil {
		if parsed, parseErr := time.Parse(dateLayout, dob); parseErr == nil {
			client.DOB = &parsed
		}
	}

	diff := audit.ComputeDiff(before, clientAuditFields(client))
	if len(diff) == 0 {
		return nil
	}

	if err := h.clients.Update(r.Context(), client); err != nil {
		return err
	}

	changedBy := ""
	if staff, staffErr := middleware.StaffFromContext(r.Context()); staffErr == nil {
		changedBy = staff.ID
	}
	// 監査の失敗はマージ自体を失敗させない。
	if err := h.auditor.Create(r.Context(), &model.AuditLog{
		ID:        uuid.NewString(),
		Entity:    "client",
		EntityID:  client.ID,
		Action:    model.AuditActionUpdate,
		ChangedBy: changedBy,
		Diff:      diff,
		ChangedAt: time.Now(),
	}); err != nil {
		slog.Error("監査ログの記録に失敗", "client_id", client.ID, "error", err)
	}
	return nil
}

// applyPayloadField はペイロードの文字列値が空でなければ書き込む。
func applyPayloadField(payload map[string]any, key string, dst *string) {
	if v, ok := payload[key].(string); ok && v != "" {
		*dst = v
	}
}

package handler

import (
	"net/http"
	"time"

	"github.com/hitoshi/ccd/internal/model"
	"github.com/hitoshi/ccd/internal/repository"
)

// AuditHandler は監査ログ参照のHTTPハンドラー。
type AuditHandler struct {
	auditor repository.AuditLogRepository
}

// NewAuditHandler はAuditHandlerを生成する。
func NewAuditHandler(auditor repository.AuditLogRepository) *AuditHandler {
	return &AuditHandler{auditor: auditor}
}

// auditLogResponse は監査ログのAPIレスポンス。
type auditLogResponse struct {
	ID        string         `json:"id"`
	Entity    string         `json:"entity"`
	EntityID  string         `json:"entity_id"`
	Action    string         `json:"action"`
	ChangedBy string         `json:"changed_by,omitempty"`
	Diff      map[string]any `json:"diff,omitempty"`
	ChangedAt string         `json:"changed_at"`
}

// ListAuditLogs は監査ログ一覧を返す。
// GET /api/audit?entity=&entity_id=&action=&limit=&offset=
func (h *AuditHandler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	filter := repository.AuditFilter{
		Entity:   r.URL.Query().Get("entity"),
		EntityID: r.URL.Query().Get("entity_id"),
		Action:   model.AuditAction(r.URL.Query().Get("action")),
		Limit:    parseIntParam(r.URL.Query().Get("limit"), defaultPageSize, maxPageSize),
		Offset:   parseIntParam(r.URL.Query().Get("offset"), 0, 1<<30),
	}

	logs, err := h.auditor.List(r.Context(), filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]auditLogResponse, 0, len(logs))
	for _, log := range logs {
		resp = append(resp, auditLogResponse{
			ID:        log.ID,
			Entity:    log.Entity,
			EntityID:  log.EntityID,
			Action:    string(log.Action),
			ChangedBy: log.ChangedBy,
			Diff:      log.Diff,
			ChangedAt: log.ChangedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": resp})
}

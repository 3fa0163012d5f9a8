package handler

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/ccd/internal/audit"
	"github.com/hitoshi/ccd/internal/middleware"
	"github.com/hitoshi/ccd/internal/model"
	"github.com/hitoshi/ccd/internal/repository"
	"github.com/hitoshi/ccd/internal/security"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
	dateLayout      = "2006-01-02"
)

// ClientHandler はクライアント管理のHTTPハンドラー。
type ClientHandler struct {
	clients   repository.ClientRepository
	auditor   repository.AuditLogRepository
	sanitizer security.TextSanitizerService
}

// NewClientHandler はClientHandlerを生成する。
func NewClientHandler(clients repository.ClientRepository, auditor repository.AuditLogRepository, sanitizer security.TextSanitizerService) *ClientHandler {
	return &ClientHandler{
		clients:   clients,
		auditor:   auditor,
		sanitizer: sanitizer,
	}
}

// clientRequest はクライアント作成・更新リクエストのボディ。
type clientRequest struct {
	FirstName     string   `json:"first_name"`
	LastName      string   `json:"last_name"`
	PreferredName string   `json:"preferred_name"`
	Alias         string   `json:"alias"`
	DOB           string   `json:"dob"` // YYYY-MM-DD
	Gender        string   `json:"gender"`
	Languages     []string `json:"languages"`
	Phone         string   `json:"phone"`
	Email         string   `json:"email"`
	Address       string   `json:"address"`
	Comments      string   `json:"comments"`
	UIDExternal   string   `json:"uid_external"`
	SourceSystem  string   `json:"source_system"`
	Active        *bool    `json:"active"`
}

// clientResponse はクライアント情報のAPIレスポンス。
type clientResponse struct {
	ID            string   `json:"id"`
	FirstName     string   `json:"first_name"`
	LastName      string   `json:"last_name"`
	PreferredName string   `json:"preferred_name,omitempty"`
	Alias         string   `json:"alias,omitempty"`
	DOB           string   `json:"dob,omitempty"`
	Gender        string   `json:"gender,omitempty"`
	Languages     []string `json:"languages,omitempty"`
	Phone         string   `json:"phone,omitempty"`
	Email         string   `json:"email,omitempty"`
	Address       string   `json:"address,omitempty"`
	Comments      string   `json:"comments,omitempty"`
	UIDExternal   string   `json:"uid_external,omitempty"`
	SourceSystem  string   `json:"source_system,omitempty"`
	Active        bool     `json:"active"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
}

// clientListResponse はクライアント一覧のAPIレスポンス。
type clientListResponse struct {
	Clients []clientResponse `json:"clients"`
	Total   int              `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

func toClientResponse(c *model.Client) clientResponse {
	resp := clientResponse{
		ID:            c.ID,
		FirstName:     c.FirstName,
		LastName:      c.LastName,
		PreferredName: c.PreferredName,
		Alias:         c.Alias,
		Gender:        c.Gender,
		Languages:     c.Languages,
		Phone:         c.Phone,
		Email:         c.Email,
		Address:       c.Address,
		Comments:      c.Comments,
		UIDExternal:   c.UIDExternal,
		SourceSystem:  c.SourceSystem,
		Active:        c.Active,
		CreatedAt:     c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     c.UpdatedAt.Format(time.RFC3339),
	}
	if c.DOB != nil {
		resp.DOB = c.DOB.Format(dateLayout)
	}
	return resp
}

// ListClients はクライアント一覧を返す。
// GET /api/clients?search=&source=&active=&limit=&offset=
func (h *ClientHandler) ListClients(w http.ResponseWriter, r *http.Request) {
	scope := middleware.ScopeFromContext(r.Context())
	filter := repository.ClientFilter{
		Search:       strings.TrimSpace(r.URL.Query().Get("search")),
		SourceSystem: strings.TrimSpace(r.URL.Query().Get("source")),
		ActiveOnly:   r.URL.Query().Get("active") == "true",
		Limit:        parseIntParam(r.URL.Query().Get("limit"), defaultPageSize, maxPageSize),
		Offset:       parseIntParam(r.URL.Query().Get("offset"), 0, 1<<30),
	}

	clients, err := h.clients.List(r.Context(), scope, filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	total, err := h.clients.Count(r.Context(), scope, filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := clientListResponse{
		Clients: make([]clientResponse, 0, len(clients)),
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}
	for _, c := range clients {
		resp.Clients = append(resp.Clients, toClientResponse(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetClient はクライアント詳細を返す。
// GET /api/clients/{id}
func (h *ClientHandler) GetClient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	client, err := h.clients.FindByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if client == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewNotFoundError("クライアント", id))
		return
	}

	writeJSON(w, http.StatusOK, toClientResponse(client))
}

// CreateClient はクライアントを作成する。
// POST /api/clients
func (h *ClientHandler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req clientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyError(w)
		return
	}

	client, err := h.buildClient(&req, &model.Client{ID: uuid.NewString(), Active: true})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if client.FirstName == "" && client.LastName == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewValidationError("first_nameまたはlast_nameが必要です"))
		return
	}

	if err := h.clients.Create(r.Context(), client); err != nil {
		handleServiceError(w, err)
		return
	}
	h.writeAudit(r, client.ID, model.AuditActionCreate, audit.ComputeDiff(nil, clientAuditFields(client)))

	writeJSON(w, http.StatusCreated, toClientResponse(client))
}

// UpdateClient はクライアント情報を更新する。
// PUT /api/clients/{id}
func (h *ClientHandler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := h.clients.FindByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if existing == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewNotFoundError("クライアント", id))
		return
	}

	var req clientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyError(w)
		return
	}

	before := clientAuditFields(existing)
	updated, err := h.buildClient(&req, existing)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	diff := audit.ComputeDiff(before, clientAuditFields(updated))
	if len(diff) == 0 {
		// 変更なしの場合は書き込みと監査ログをスキップする
		writeJSON(w, http.StatusOK, toClientResponse(updated))
		return
	}

	if err := h.clients.Update(r.Context(), updated); err != nil {
		handleServiceError(w, err)
		return
	}
	h.writeAudit(r, updated.ID, model.AuditActionUpdate, diff)

	writeJSON(w, http.StatusOK, toClientResponse(updated))
}

// DeleteClient はクライアントを削除する。
// DELETE /api/clients/{id}
func (h *ClientHandler) DeleteClient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	existing, err := h.clients.FindByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if existing == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewNotFoundError("クライアント", id))
		return
	}

	if err := h.clients.DeleteByID(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}
	h.writeAudit(r, id, model.AuditActionDelete, audit.ComputeDiff(clientAuditFields(existing), nil))

	w.WriteHeader(http.StatusNoContent)
}

// ExportClients はクライアント一覧をCSVで出力する。
// GET /api/clients/export?search=&source=&active=
func (h *ClientHandler) ExportClients(w http.ResponseWriter, r *http.Request) {
	scope := middleware.ScopeFromContext(r.Context())
	filter := repository.ClientFilter{
		Search:       strings.TrimSpace(r.URL.Query().Get("search")),
		SourceSystem: strings.TrimSpace(r.URL.Query().Get("source")),
		ActiveOnly:   r.URL.Query().Get("active") == "true",
	}

	clients, err := h.clients.List(r.Context(), scope, filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	filename := fmt.Sprintf("clients_%s.csv", time.Now().Format("20060102"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	cw := csv.NewWriter(w)
	cw.Write([]string{"id", "first_name", "last_name", "dob", "gender", "phone", "email", "uid_external", "source_system", "active"})
	for _, c := range clients {
		dob := ""
		if c.DOB != nil {
			dob = c.DOB.Format(dateLayout)
		}
		cw.Write([]string{
			c.ID, c.FirstName, c.LastName, dob, c.Gender,
			c.Phone, c.Email, c.UIDExternal, c.SourceSystem,
			strconv.FormatBool(c.Active),
		})
	}
	cw.Flush()
}

// buildClient はリクエストボディの値を既存クライアントへ適用する。
// 空文字のフィールドは送信されなかったものとして既存値を保持する。
func (h *ClientHandler) buildClient(req *clientRequest, base *model.Client) (*model.Client, error) {
	c := *base
	setIfPresent(&c.FirstName, req.FirstName)
	setIfPresent(&c.LastName, req.LastName)
	setIfPresent(&c.PreferredName, req.PreferredName)
	setIfPresent(&c.Alias, req.Alias)
	setIfPresent(&c.Gender, req.Gender)
	setIfPresent(&c.Phone, req.Phone)
	setIfPresent(&c.Email, req.Email)
	setIfPresent(&c.Address, req.Address)
	setIfPresent(&c.UIDExternal, req.UIDExternal)
	setIfPresent(&c.SourceSystem, req.SourceSystem)
	if req.Comments != "" {
		c.Comments = h.sanitizer.Sanitize(req.Comments)
	}
	if len(req.Languages) > 0 {
		c.Languages = req.Languages
	}
	if req.Active != nil {
		c.Active = *req.Active
	}
	if req.DOB != "" {
		dob, err := time.Parse(dateLayout, req.DOB)
		if err != nil {
			return nil, model.NewInvalidDateError(req.DOB)
		}
		c.DOB = &dob
	}
	return &c, nil
}

// writeAudit は監査ログを記録する。失敗しても本処理は失敗させない。
func (h *ClientHandler) writeAudit(r *http.Request, clientID string, action model.AuditAction, diff map[string]any) {
	changedBy := ""
	if staff, err := middleware.StaffFromContext(r.Context()); err == nil {
		changedBy = staff.ID
	}
	_ = h.auditor.Create(r.Context(), &model.AuditLog{
		ID:        uuid.NewString(),
		Entity:    "client",
		EntityID:  clientID,
		Action:    action,
		ChangedBy: changedBy,
		Diff:      diff,
		ChangedAt: time.Now(),
	})
}

// clientAuditFields は監査ログの差分計算対象フィールドを返す。
func clientAuditFields(c *model.Client) map[string]any {
	fields := map[string]any{
		"first_name":     c.FirstName,
		"last_name":      c.LastName,
		"preferred_name": c.PreferredName,
		"alias":          c.Alias,
		"gender":         c.Gender,
		"phone":          c.Phone,
		"email":          c.Email,
		"address":        c.Address,
		"comments":       c.Comments,
		"uid_external":   c.UIDExternal,
		"source_system":  c.SourceSystem,
		"active":         c.Active,
		"languages":      strings.Join(c.Languages, ","),
	}
	if c.DOB != nil {
		fields["dob"] = c.DOB.Format(dateLayout)
	}
	return fields
}

// setIfPresent は空でない値のみ書き込む。
func setIfPresent(dst *string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		*dst = v
	}
}

// parseIntParam はクエリパラメータを整数として解析する。不正な値はフォールバックを返す。
func parseIntParam(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	if n > max {
		return max
	}
	return n
}

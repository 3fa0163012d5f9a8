package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/ccd/internal/ingest"
	"github.com/hitoshi/ccd/internal/middleware"
	"github.com/hitoshi/ccd/internal/model"
	"github.com/hitoshi/ccd/internal/repository"
)

// importFileMaxBytes はアップロードファイルの上限サイズ（10MB）。
const importFileMaxBytes = 10 << 20

// ImportServiceInterface は取り込みハンドラーが必要とするサービスインターフェース。
type ImportServiceInterface interface {
	Run(ctx context.Context, input ingest.RunInput) (*model.UploadLog, error)
}

// ImportHandler はCSV取り込みのHTTPハンドラー。
type ImportHandler struct {
	service ImportServiceInterface
	uploads repository.UploadLogRepository
}

// NewImportHandler はImportHandlerを生成する。
func NewImportHandler(service ImportServiceInterface, uploads repository.UploadLogRepository) *ImportHandler {
	return &ImportHandler{
		service: service,
		uploads: uploads,
	}
}

// uploadLogResponse は取り込み実行サマリーのAPIレスポンス。
type uploadLogResponse struct {
	ID           string           `json:"id"`
	SourceSystem string           `json:"source_system"`
	Filename     string           `json:"filename"`
	TotalRows    int              `json:"total_rows"`
	CreatedCount int              `json:"created"`
	UpdatedCount int              `json:"updated"`
	FlaggedCount int              `json:"flagged"`
	RejectedRows int              `json:"rejected"`
	Status       string           `json:"status"`
	RowErrors    []model.RowError `json:"row_errors,omitempty"`
	CreatedAt    string           `json:"created_at"`
}

func toUploadLogResponse(log *model.UploadLog) uploadLogResponse {
	return uploadLogResponse{
		ID:           log.ID,
		SourceSystem: log.SourceSystem,
		Filename:     log.Filename,
		TotalRows:    log.TotalRows,
		CreatedCount: log.CreatedCount,
		UpdatedCount: log.UpdatedCount,
		FlaggedCount: log.FlaggedCount,
		RejectedRows: log.RejectedRows,
		Status:       string(log.Status),
		RowErrors:    log.RowErrors,
		CreatedAt:    log.CreatedAt.Format(time.RFC3339),
	}
}

// ImportClients はCSVファイルを取り込む。
// POST /api/clients/import (multipart/form-data: file, source)
func (h *ImportHandler) ImportClients(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(importFileMaxBytes); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewValidationError("multipart/form-data形式でアップロードしてください"))
		return
	}

	source := strings.TrimSpace(r.FormValue("source"))
	if source == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewValidationError("sourceパラメータが必要です"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewValidationError("fileフィールドが必要です"))
		return
	}
	defer file.Close()

	// CSV以外の拡張子はファイル形式エラーとして弾く
	if !strings.HasSuffix(strings.ToLower(header.Filename), ".csv") {
		writeAPIErrorResponse(w, http.StatusUnprocessableEntity, model.NewFileFormatError())
		return
	}

	uploadedBy := ""
	if staff, staffErr := middleware.StaffFromContext(r.Context()); staffErr == nil {
		uploadedBy = staff.ID
	}

	log, err := h.service.Run(r.Context(), ingest.RunInput{
		Reader:       file,
		Filename:     header.Filename,
		SourceSystem: source,
		UploadedBy:   uploadedBy,
	})
	if err != nil {
		// ファイルレベルのエラーはfailedサマリー付きのエラーレスポンスを返す
		var apiErr *model.APIError
		if log != nil && errors.As(err, &apiErr) {
			writeJSON(w, mapAPIErrorToHTTPStatus(apiErr), toUploadLogResponse(log))
			return
		}
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUploadLogResponse(log))
}

// ListUploads は取り込み実行履歴を返す。
// GET /api/uploads?limit=
func (h *ImportHandler) ListUploads(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r.URL.Query().Get("limit"), defaultPageSize, maxPageSize)

	logs, err := h.uploads.List(r.Context(), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]uploadLogResponse, 0, len(logs))
	for _, log := range logs {
		resp = append(resp, toUploadLogResponse(log))
	}
	writeJSON(w, http.StatusOK, map[string]any{"uploads": resp})
}

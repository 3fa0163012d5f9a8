package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/ccd/internal/ingest"
	"github.com/hitoshi/ccd/internal/middleware"
	"github.com/hitoshi/ccd/internal/model"
	"github.com/hitoshi/ccd/internal/rbac"
)

type mockImportService struct {
	runFn func(ctx context.Context, input ingest.RunInput) (*model.UploadLog, error)
}

var _ ImportServiceInterface = (*mockImportService)(nil)

func (m *mockImportService) Run(ctx context.Context, input ingest.RunInput) (*model.UploadLog, error) {
	return m.runFn(ctx, input)
}

type mockUploadLogRepo struct {
	logs []*model.UploadLog
}

func (m *mockUploadLogRepo) Create(ctx context.Context, log *model.UploadLog) error {
	m.logs = append(m.logs, log)
	return nil
}

func (m *mockUploadLogRepo) List(ctx context.Context, limit int) ([]*model.UploadLog, error) {
	return m.logs, nil
}

// multipartUpload はfileとsourceフィールドを持つmultipartリクエストを組み立てる。
func multipartUpload(t *testing.T, filename, source, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("multipartの組み立てに失敗: %v", err)
		}
		if _, err := io.WriteString(fw, content); err != nil {
			t.Fatalf("ファイル内容の書き込みに失敗: %v", err)
		}
	}
	if source != "" {
		if err := mw.WriteField("source", source); err != nil {
			t.Fatalf("sourceフィールドの書き込みに失敗: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("multipartのクローズに失敗: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/clients/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	ctx := middleware.ContextWithStaffScope(req.Context(),
		&model.StaffWithRoles{Staff: model.Staff{ID: "staff-1"}},
		rbac.ScopeAllData(),
	)
	return req.WithContext(ctx)
}

func TestImportHandler_ImportClients_Success(t *testing.T) {
	svc := &mockImportService{
		runFn: func(ctx context.Context, input ingest.RunInput) (*model.UploadLog, error) {
			// フォーム値がサービス入力に引き継がれることを検証
			if input.SourceSystem != "SMIS" {
				t.Errorf("source = %q, want SMIS", input.SourceSystem)
			}
			if input.Filename != "clients.csv" {
				t.Errorf("filename = %q, want clients.csv", input.Filename)
			}
			if input.UploadedBy != "staff-1" {
				t.Errorf("uploadedBy = %q, want staff-1", input.UploadedBy)
			}
			data, err := io.ReadAll(input.Reader)
			if err != nil || len(data) == 0 {
				t.Errorf("ファイル内容の読み取りに失敗: %v", err)
			}
			return &model.UploadLog{
				ID:           "upload-1",
				SourceSystem: input.SourceSystem,
				Filename:     input.Filename,
				TotalRows:    3,
				CreatedCount: 2,
				FlaggedCount: 1,
				Status:       model.UploadStatusCompleted,
				CreatedAt:    time.Now(),
			}, nil
		},
	}
	h := NewImportHandler(svc, &mockUploadLogRepo{})

	w := httptest.NewRecorder()
	h.ImportClients(w, multipartUpload(t, "clients.csv", "SMIS", "first_name,last_name\nJane,Smith\n"))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var got uploadLogResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("レスポンスのデコードに失敗: %v", err)
	}
	if got.TotalRows != 3 || got.CreatedCount != 2 || got.FlaggedCount != 1 {
		t.Errorf("summary = %+v, want 3 rows / 2 created / 1 flagged", got)
	}
}

func TestImportHandler_ImportClients_MissingSource_Returns400(t *testing.T) {
	h := NewImportHandler(&mockImportService{}, &mockUploadLogRepo{})

	w := httptest.NewRecorder()
	h.ImportClients(w, multipartUpload(t, "clients.csv", "", "data"))

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestImportHandler_ImportClients_MissingFile_Returns400(t *testing.T) {
	h := NewImportHandler(&mockImportService{}, &mockUploadLogRepo{})

	w := httptest.NewRecorder()
	h.ImportClients(w, multipartUpload(t, "", "SMIS", ""))

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestImportHandler_ImportClients_NonCSV_Returns422(t *testing.T) {
	h := NewImportHandler(&mockImportService{}, &mockUploadLogRepo{})

	w := httptest.NewRecorder()
	h.ImportClients(w, multipartUpload(t, "clients.xlsx", "SMIS", "data"))

	resp := w.Result()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusUnprocessableEntity)
	}
	var got apiErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("レスポンスのデコードに失敗: %v", err)
	}
	if got.Code != model.ErrCodeFileFormat {
		t.Errorf("code = %q, want %q", got.Code, model.ErrCodeFileFormat)
	}
}

func TestImportHandler_ImportClients_FileLevelError_ReturnsFailedSummary(t *testing.T) {
	svc := &mockImportService{
		runFn: func(ctx context.Context, input ingest.RunInput) (*model.UploadLog, error) {
			return &model.UploadLog{
				ID:           "upload-2",
				SourceSystem: input.SourceSystem,
				Filename:     input.Filename,
				Status:       model.UploadStatusFailed,
				CreatedAt:    time.Now(),
			}, model.NewMissingColumnsError([]string{"first_name"})
		},
	}
	h := NewImportHandler(svc, &mockUploadLogRepo{})

	w := httptest.NewRecorder()
	h.ImportClients(w, multipartUpload(t, "clients.csv", "SMIS", "last_name\nSmith\n"))

	resp := w.Result()
	// ファイルレベルエラーでもfailedサマリーをボディで返す
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusUnprocessableEntity)
	}
	var got uploadLogResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("レスポンスのデコードに失敗: %v", err)
	}
	if got.Status != string(model.UploadStatusFailed) {
		t.Errorf("status = %q, want failed", got.Status)
	}
}

func TestImportHandler_ListUploads_ReturnsHistory(t *testing.T) {
	uploads := &mockUploadLogRepo{logs: []*model.UploadLog{
		{ID: "upload-1", SourceSystem: "SMIS", Status: model.UploadStatusCompleted, CreatedAt: time.Now()},
		{ID: "upload-2", SourceSystem: "TIMS", Status: model.UploadStatusFailed, CreatedAt: time.Now()},
	}}
	h := NewImportHandler(&mockImportService{}, uploads)

	w := httptest.NewRecorder()
	h.ListUploads(w, httptest.NewRequest(http.MethodGet, "/api/uploads", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var got struct {
		Uploads []uploadLogResponse `json:"uploads"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("レスポンスのデコードに失敗: %v", err)
	}
	if len(got.Uploads) != 2 {
		t.Errorf("uploads = %d, want 2", len(got.Uploads))
	}
}

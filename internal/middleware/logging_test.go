package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/ccd/internal/metrics"
)

// logOneRequest はロギングミドルウェア越しにリクエストを1件処理し、JSONログを返す。
func logOneRequest(t *testing.T, req *http.Request, inner http.HandlerFunc) map[string]any {
	t.Helper()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := NewLoggingMiddleware(logger, nil)(inner)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("JSONログの解析に失敗: %v\nraw: %s", err, buf.String())
	}
	return entry
}

func TestLoggingMiddleware_LogsRequestFields(t *testing.T) {
	// method/path/status/duration_msの各フィールドが記録されることを検証
	req := httptest.NewRequest(http.MethodGet, "/api/clients/export", nil)
	entry := logOneRequest(t, req, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if entry["method"] != "GET" {
		t.Errorf("method = %q, want GET", entry["method"])
	}
	if entry["path"] != "/api/clients/export" {
		t.Errorf("path = %q, want /api/clients/export", entry["path"])
	}
	if status, _ := entry["status"].(float64); status != 200 {
		t.Errorf("status = %v, want 200", entry["status"])
	}
	if duration, ok := entry["duration_ms"].(float64); !ok || duration < 0 {
		t.Errorf("duration_ms = %v, 0以上の数値を期待", entry["duration_ms"])
	}
}

func TestLoggingMiddleware_UserIDField(t *testing.T) {
	// 認証済みリクエストはuser_idが入り、未認証では入らないことを検証
	req := httptest.NewRequest(http.MethodPost, "/api/clients/import", nil)
	req = req.WithContext(ContextWithUserID(req.Context(), "user-importer"))
	entry := logOneRequest(t, req, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if entry["user_id"] != "user-importer" {
		t.Errorf("user_id = %q, want user-importer", entry["user_id"])
	}

	anon := logOneRequest(t, httptest.NewRequest(http.MethodGet, "/health", nil),
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	if val, ok := anon["user_id"]; ok && val != "" {
		t.Errorf("未認証リクエストにuser_id = %q が記録された", val)
	}
}

func TestLoggingMiddleware_CapturesStatusCode(t *testing.T) {
	// エラー系を含む各ステータスコードの記録を検証
	for _, statusCode := range []int{
		http.StatusOK,
		http.StatusCreated,
		http.StatusBadRequest,
		http.StatusNotFound,
		http.StatusInternalServerError,
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/duplicates", nil)
		entry := logOneRequest(t, req, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(statusCode)
		})

		if got := int(entry["status"].(float64)); got != statusCode {
			t.Errorf("status = %d, want %d", got, statusCode)
		}
	}
}

// fakeHTTPCollector はステータスコードとレイテンシの記録だけを追跡する。
type fakeHTTPCollector struct {
	statuses  []int
	latencies []time.Duration
}

func (f *fakeHTTPCollector) RecordImportRow(result string)      {}
func (f *fakeHTTPCollector) RecordImportRun(status string)      {}
func (f *fakeHTTPCollector) RecordDuplicateScore(score float64) {}
func (f *fakeHTTPCollector) RecordNotificationsSent(count int)  {}
func (f *fakeHTTPCollector) RecordReportSent(frequency string)  {}

func (f *fakeHTTPCollector) RecordHTTPStatus(statusCode int) {
	f.statuses = append(f.statuses, statusCode)
}

func (f *fakeHTTPCollector) RecordRequestLatency(duration time.Duration) {
	f.latencies = append(f.latencies, duration)
}

var _ metrics.MetricsCollector = (*fakeHTTPCollector)(nil)

func TestLoggingMiddleware_RecordsMetrics(t *testing.T) {
	// コレクター指定時にステータスとレイテンシが記録されることを検証
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	collector := &fakeHTTPCollector{}

	handler := NewLoggingMiddleware(logger, collector)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/clients/missing", nil))

	if len(collector.statuses) != 1 || collector.statuses[0] != http.StatusNotFound {
		t.Errorf("statuses = %v, want [404]", collector.statuses)
	}
	if len(collector.latencies) != 1 || collector.latencies[0] < 0 {
		t.Errorf("latencies = %v, 0以上の記録1件を期待", collector.latencies)
	}
}

func TestLoggingMiddleware_ImplicitWriteRecords200(t *testing.T) {
	// WriteHeaderなしのWriteで暗黙の200が記録されることを検証
	entry := logOneRequest(t, httptest.NewRequest(http.MethodGet, "/health", nil),
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("ok"))
		})

	if got := int(entry["status"].(float64)); got != 200 {
		t.Errorf("status = %d, want 200", got)
	}
}

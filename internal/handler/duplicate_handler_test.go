package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/ccd/internal/model"
)

type mockDuplicateFlagRepo struct {
	findByIDFn     func(ctx context.Context, id string) (*model.DuplicateFlag, error)
	listByStatusFn func(ctx context.Context, status model.DuplicateFlagStatus) ([]*model.DuplicateFlag, error)

	statusUpdates map[string]model.DuplicateFlagStatus
}

func (m *mockDuplicateFlagRepo) FindByID(ctx context.Context, id string) (*model.DuplicateFlag, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockDuplicateFlagRepo) ListByStatus(ctx context.Context, status model.DuplicateFlagStatus) ([]*model.DuplicateFlag, error) {
	if m.listByStatusFn != nil {
		return m.listByStatusFn(ctx, status)
	}
	return nil, nil
}

func (m *mockDuplicateFlagRepo) Create(ctx context.Context, flag *model.DuplicateFlag) error {
	return nil
}

func (m *mockDuplicateFlagRepo) UpdateStatus(ctx context.Context, id string, status model.DuplicateFlagStatus) error {
	if m.statusUpdates == nil {
		m.statusUpdates = make(map[string]model.DuplicateFlagStatus)
	}
	m.statusUpdates[id] = status
	return nil
}

func duplicateTestRouter(h *DuplicateHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/duplicates", h.ListDuplicates)
	r.Post("/api/duplicates/{id}/resolve", h.ResolveDuplicate)
	return r
}

func openFlag() *model.DuplicateFlag {
	return &model.DuplicateFlag{
		ID:              "flag-1",
		MatchedClientID: "client-1",
		Score:           0.85,
		MatchType:       "fuzzy",
		SourceSystem:    "SMIS",
		IncomingPayload: map[string]any{
			"first_name": "Jane",
			"phone":      "555-0199",
			"dob":        "1990-04-01",
		},
		Status: model.DuplicateFlagOpen,
	}
}

func TestDuplicateHandler_ListDuplicates_DefaultsToOpen(t *testing.T) {
	flags := &mockDuplicateFlagRepo{
		listByStatusFn: func(ctx context.Context, status model.DuplicateFlagStatus) ([]*model.DuplicateFlag, error) {
			// statusパラメータ省略時はopenで絞り込むことを検証
			if status != model.DuplicateFlagOpen {
				t.Errorf("status = %q, want %q", status, model.DuplicateFlagOpen)
			}
			return []*model.DuplicateFlag{openFlag()}, nil
		},
	}
	h := NewDuplicateHandler(flags, &mockClientRepo{}, &mockAuditRepo{})

	w := httptest.NewRecorder()
	duplicateTestRouter(h).ServeHTTP(w, authedRequest(http.MethodGet, "/api/duplicates", ""))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var got struct {
		Duplicates []duplicateFlagResponse `json:"duplicates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("レスポンスのデコードに失敗: %v", err)
	}
	if len(got.Duplicates) != 1 || got.Duplicates[0].Score != 0.85 {
		t.Errorf("duplicates = %+v, want one flag with score 0.85", got.Duplicates)
	}
}

func TestDuplicateHandler_ResolveDuplicate_Dismiss(t *testing.T) {
	flags := &mockDuplicateFlagRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.DuplicateFlag, error) {
			return openFlag(), nil
		},
	}
	h := NewDuplicateHandler(flags, &mockClientRepo{}, &mockAuditRepo{})

	w := httptest.NewRecorder()
	duplicateTestRouter(h).ServeHTTP(w,
		authedRequest(http.MethodPost, "/api/duplicates/flag-1/resolve", `{"resolution":"dismiss"}`))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if flags.statusUpdates["flag-1"] != model.DuplicateFlagDismissed {
		t.Errorf("status = %q, want dismissed", flags.statusUpdates["flag-1"])
	}
}

func TestDuplicateHandler_ResolveDuplicate_Merge_AppliesPayload(t *testing.T) {
	flags := &mockDuplicateFlagRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.DuplicateFlag, error) {
			return openFlag(), nil
		},
	}
	clients := &mockClientRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Client, error) {
			return &model.Client{ID: "client-1", FirstName: "Jayne", LastName: "Smith"}, nil
		},
	}
	auditor := &mockAuditRepo{}
	h := NewDuplicateHandler(flags, clients, auditor)

	w := httptest.NewRecorder()
	duplicateTestRouter(h).ServeHTTP(w,
		authedRequest(http.MethodPost, "/api/duplicates/flag-1/resolve", `{"resolution":"merge"}`))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if len(clients.updated) != 1 {
		t.Fatalf("updated = %d, want 1", len(clients.updated))
	}
	merged := clients.updated[0]
	// 空でないペイロード値が上書きされることを検証
	if merged.FirstName != "Jane" || merged.Phone != "555-0199" {
		t.Errorf("client = %+v, want payload values applied", merged)
	}
	// 欠けているDOBはペイロードから補完される
	if merged.DOB == nil || merged.DOB.Format("2006-01-02") != "1990-04-01" {
		t.Errorf("dob = %v, want 1990-04-01", merged.DOB)
	}
	if flags.statusUpdates["flag-1"] != model.DuplicateFlagMerged {
		t.Errorf("status = %q, want merged", flags.statusUpdates["flag-1"])
	}
	if len(auditor.entries) != 1 || auditor.entries[0].Action != model.AuditActionUpdate {
		t.Errorf("audit entries = %+v, want one update entry", auditor.entries)
	}
}

func TestDuplicateHandler_ResolveDuplicate_Merge_AuditFailureDoesNotBlock(t *testing.T) {
	flags := &mockDuplicateFlagRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.DuplicateFlag, error) {
			return openFlag(), nil
		},
	}
	clients := &mockClientRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Client, error) {
			return &model.Client{ID: "client-1", FirstName: "Jayne", LastName: "Smith"}, nil
		},
	}
	auditor := &mockAuditRepo{
		createFn: func(ctx context.Context, log *model.AuditLog) error {
			return errors.New("監査ログDBが利用できません")
		},
	}
	h := NewDuplicateHandler(flags, clients, auditor)

	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&logs, nil)))
	defer slog.SetDefault(prev)

	w := httptest.NewRecorder()
	duplicateTestRouter(h).ServeHTTP(w,
		authedRequest(http.MethodPost, "/api/duplicates/flag-1/resolve", `{"resolution":"merge"}`))

	// 監査ログの失敗はマージを妨げないことを検証
	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if len(clients.updated) != 1 {
		t.Errorf("updated = %d, want 1", len(clients.updated))
	}
	if flags.statusUpdates["flag-1"] != model.DuplicateFlagMerged {
		t.Errorf("status = %q, want merged", flags.statusUpdates["flag-1"])
	}
	// 失敗自体は捨てずにログへ残す
	if !strings.Contains(logs.String(), "監査ログの記録に失敗") {
		t.Errorf("log = %q, want audit failure entry", logs.String())
	}
}

func TestDuplicateHandler_ResolveDuplicate_NotFound_Returns404(t *testing.T) {
	h := NewDuplicateHandler(&mockDuplicateFlagRepo{}, &mockClientRepo{}, &mockAuditRepo{})

	w := httptest.NewRecorder()
	duplicateTestRouter(h).ServeHTTP(w,
		authedRequest(http.MethodPost, "/api/duplicates/missing/resolve", `{"resolution":"dismiss"}`))

	if w.Result().StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNotFound)
	}
}

func TestDuplicateHandler_ResolveDuplicate_AlreadyResolved_Returns409(t *testing.T) {
	flags := &mockDuplicateFlagRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.DuplicateFlag, error) {
			f := openFlag()
			f.Status = model.DuplicateFlagDismissed
			return f, nil
		},
	}
	h := NewDuplicateHandler(flags, &mockClientRepo{}, &mockAuditRepo{})

	w := httptest.NewRecorder()
	duplicateTestRouter(h).ServeHTTP(w,
		authedRequest(http.MethodPost, "/api/duplicates/flag-1/resolve", `{"resolution":"merge"}`))

	resp := w.Result()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
	var got apiErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("レスポンスのデコードに失敗: %v", err)
	}
	if got.Code != model.ErrCodeConflict {
		t.Errorf("code = %q, want %q", got.Code, model.ErrCodeConflict)
	}
}

func TestDuplicateHandler_ResolveDuplicate_InvalidResolution_Returns400(t *testing.T) {
	flags := &mockDuplicateFlagRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.DuplicateFlag, error) {
			return openFlag(), nil
		},
	}
	h := NewDuplicateHandler(flags, &mockClientRepo{}, &mockAuditRepo{})

	w := httptest.NewRecorder()
	duplicateTestRouter(h).ServeHTTP(w,
		authedRequest(http.MethodPost, "/api/duplicates/flag-1/resolve", `{"resolution":"ignore"}`))

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}

package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/ccd/internal/middleware"
	"github.com/hitoshi/ccd/internal/model"
	"github.com/hitoshi/ccd/internal/rbac"
)

type mockStaffResolver struct {
	findByUserIDFn  func(ctx context.Context, userID string) (*model.Staff, error)
	findWithRolesFn func(ctx context.Context, staffID string) (*model.StaffWithRoles, error)
}

var _ middleware.StaffResolver = (*mockStaffResolver)(nil)

func (m *mockStaffResolver) FindByUserID(ctx context.Context, userID string) (*model.Staff, error) {
	if m.findByUserIDFn != nil {
		return m.findByUserIDFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockStaffResolver) FindWithRoles(ctx context.Context, staffID string) (*model.StaffWithRoles, error) {
	if m.findWithRolesFn != nil {
		return m.findWithRolesFn(ctx, staffID)
	}
	return nil, nil
}

type mockSessionFinder struct {
	findByIDFn func(ctx context.Context, id string) (*model.Session, error)
}

func (m *mockSessionFinder) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

// routerTestDeps はルーター全体のテストに必要な依存一式を組み立てる。
// セッションはsession-validで有効、職員はadminロールを持つ。
func routerTestDeps(t *testing.T, roleNames []string) *RouterDeps {
	t.Helper()

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	return &RouterDeps{
		SessionFinder: &mockSessionFinder{
			findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
				if id != "session-valid" {
					return nil, nil
				}
				return &model.Session{
					ID:        id,
					UserID:    "user-123",
					ExpiresAt: time.Now().Add(time.Hour),
				}, nil
			},
		},
		StaffResolver: &mockStaffResolver{
			findByUserIDFn: func(ctx context.Context, userID string) (*model.Staff, error) {
				return &model.Staff{ID: "staff-1", UserID: userID}, nil
			},
			findWithRolesFn: func(ctx context.Context, staffID string) (*model.StaffWithRoles, error) {
				return &model.StaffWithRoles{
					Staff:     model.Staff{ID: staffID},
					RoleNames: roleNames,
				}, nil
			},
		},
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		RBAC:              rbac.DefaultConfig(),
		AuthService:       &mockAuthService{},
		ImportService:     &mockImportService{},
		Clients:           &mockClientRepo{},
		Enrollments:       &mockEnrollmentRepo{},
		Restrictions:      &mockRestrictionRepo{},
		Flags:             &mockDuplicateFlagRepo{},
		Changes:           &mockPendingChangeRepo{},
		Uploads:           &mockUploadLogRepo{},
		AuditLogs:         &mockAuditRepo{},
		Sanitizer:         &mockSanitizer{},
	}
}

func sessionRequest(method, target, sessionID string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: "session_id", Value: sessionID})
	}
	return req
}

func TestRouter_Health_Returns200(t *testing.T) {
	router := NewRouter(routerTestDeps(t, []string{rbac.RoleAdmin}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, sessionRequest(http.MethodGet, "/health", ""))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if body := w.Body.String(); body != "ok" {
		t.Errorf("body = %q, want ok", body)
	}
}

func TestRouter_APIWithoutSession_Returns401(t *testing.T) {
	router := NewRouter(routerTestDeps(t, []string{rbac.RoleAdmin}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, sessionRequest(http.MethodGet, "/api/clients", ""))

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestRouter_APIWithValidSession_Returns200(t *testing.T) {
	router := NewRouter(routerTestDeps(t, []string{rbac.RoleAdmin}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, sessionRequest(http.MethodGet, "/api/clients", "session-valid"))

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestRouter_MissingPermission_Returns403(t *testing.T) {
	// Staffロールはクライアント閲覧はできるが職員管理はできない
	router := NewRouter(routerTestDeps(t, []string{rbac.RoleStaff}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, sessionRequest(http.MethodGet, "/api/staff", "session-valid"))

	if w.Result().StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusForbidden)
	}
}

func TestRouter_ManagerRole_CanListClients(t *testing.T) {
	// Managerはview_clientsを持たないがview_departmentで閲覧できる
	router := NewRouter(routerTestDeps(t, []string{rbac.RoleManager}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, sessionRequest(http.MethodGet, "/api/clients", "session-valid"))

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestRouter_AuditLog_RequiresPermission(t *testing.T) {
	router := NewRouter(routerTestDeps(t, []string{rbac.RoleStaff}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, sessionRequest(http.MethodGet, "/api/audit", "session-valid"))

	if w.Result().StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusForbidden)
	}
}

func TestRouter_StateChangingRequest_RequiresCSRFToken(t *testing.T) {
	router := NewRouter(routerTestDeps(t, []string{rbac.RoleAdmin}))

	// CSRFトークンなしのPOSTは拒否される
	w := httptest.NewRecorder()
	router.ServeHTTP(w, sessionRequest(http.MethodPost, "/api/clients", "session-valid"))

	if w.Result().StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusForbidden)
	}

	// CookieとヘッダーのトークンがそろったPOSTはCSRFチェックを通過する
	req := httptest.NewRequest(http.MethodPost, "/api/clients", strings.NewReader(`{"first_name":"Jane","last_name":"Doe"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRF-Token", "token-abc")
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "session-valid"})
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "token-abc"})

	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusCreated)
	}
}

func TestRouter_CSRFTokenEndpoint_IssuesToken(t *testing.T) {
	router := NewRouter(routerTestDeps(t, []string{rbac.RoleAdmin}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, sessionRequest(http.MethodGet, "/api/csrf-token", ""))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("レスポンスのデコードに失敗: %v", err)
	}
	if body.Token == "" {
		t.Error("expected non-empty token")
	}
}

func TestRouter_SecurityHeaders_Applied(t *testing.T) {
	router := NewRouter(routerTestDeps(t, []string{rbac.RoleAdmin}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, sessionRequest(http.MethodGet, "/health", ""))

	if got := w.Result().Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

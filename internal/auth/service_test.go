package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/ccd/internal/model"
	"github.com/hitoshi/ccd/internal/repository"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn    func(ctx context.Context, id string) (*model.User, error)
	findByEmailFn func(ctx context.Context, email string) (*model.User, error)
	createFn      func(ctx context.Context, user *model.User) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

type mockSessionRepo struct {
	createFn         func(ctx context.Context, session *model.Session) error
	findByIDFn       func(ctx context.Context, id string) (*model.Session, error)
	deleteByIDFn     func(ctx context.Context, id string) error
	deleteByUserIDFn func(ctx context.Context, userID string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	return nil
}

func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if m.deleteByUserIDFn != nil {
		return m.deleteByUserIDFn(ctx, userID)
	}
	return nil
}

func (m *mockSessionRepo) DeleteExpired(_ context.Context) (int64, error) {
	return 0, nil
}

type mockAuditRepo struct {
	createFn func(ctx context.Context, log *model.AuditLog) error
	entries  []*model.AuditLog
}

func (m *mockAuditRepo) Create(ctx context.Context, log *model.AuditLog) error {
	m.entries = append(m.entries, log)
	if m.createFn != nil {
		return m.createFn(ctx, log)
	}
	return nil
}

func (m *mockAuditRepo) List(_ context.Context, _ repository.AuditFilter) ([]*model.AuditLog, error) {
	return m.entries, nil
}

func (m *mockAuditRepo) DeleteOlderThan(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ repository.SessionRepository = (*mockSessionRepo)(nil)
var _ repository.AuditLogRepository = (*mockAuditRepo)(nil)

func newTestService(userRepo *mockUserRepo, sessionRepo *mockSessionRepo, auditRepo *mockAuditRepo) *Service {
	if userRepo == nil {
		userRepo = &mockUserRepo{}
	}
	if sessionRepo == nil {
		sessionRepo = &mockSessionRepo{}
	}
	if auditRepo == nil {
		auditRepo = &mockAuditRepo{}
	}
	return NewService(userRepo, sessionRepo, auditRepo, ServiceConfig{SessionMaxAge: 86400})
}

func hashOf(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("パスワードハッシュ生成に失敗: %v", err)
	}
	return string(hash)
}

// --- テスト ---

func TestRegister_NewUser_CreatesUser(t *testing.T) {
	var created *model.User
	userRepo := &mockUserRepo{
		createFn: func(ctx context.Context, user *model.User) error {
			created = user
			return nil
		},
	}
	svc := newTestService(userRepo, nil, nil)

	user, err := svc.Register(context.Background(), RegisterInput{
		Email:     "Jane.Doe@Example.com",
		FirstName: "Jane",
		LastName:  "Doe",
		Password:  "secret-password",
	})
	if err != nil {
		t.Fatalf("登録に失敗: %v", err)
	}

	if user.Email != "jane.doe@example.com" {
		t.Errorf("Email = %q, want lowercased", user.Email)
	}
	if !user.Active {
		t.Error("registered user should be active")
	}
	if created == nil {
		t.Fatal("expected Create to be called")
	}
	if created.PasswordHash == "" || created.PasswordHash == "secret-password" {
		t.Error("password should be stored as a hash")
	}
	// ハッシュが元パスワードを検証できること
	if err := bcrypt.CompareHashAndPassword([]byte(created.PasswordHash), []byte("secret-password")); err != nil {
		t.Errorf("hash does not verify original password: %v", err)
	}
	// ユーザー名未指定の場合はメールアドレスが使われる
	if created.Username != "jane.doe@example.com" {
		t.Errorf("Username = %q, want email fallback", created.Username)
	}
}

func TestRegister_EmailTaken_ReturnsError(t *testing.T) {
	userRepo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return &model.User{ID: "user-1", Email: email}, nil
		},
	}
	svc := newTestService(userRepo, nil, nil)

	_, err := svc.Register(context.Background(), RegisterInput{
		Email:    "taken@example.com",
		Password: "secret-password",
	})

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeEmailTaken {
		t.Errorf("err = %v, want EMAIL_TAKEN", err)
	}
}

func TestRegister_ShortPassword_ReturnsValidationError(t *testing.T) {
	svc := newTestService(nil, nil, nil)

	_, err := svc.Register(context.Background(), RegisterInput{
		Email:    "jane@example.com",
		Password: "short",
	})

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidation {
		t.Errorf("err = %v, want VALIDATION_FAILED", err)
	}
}

func TestLogin_ValidCredentials_CreatesSession(t *testing.T) {
	userRepo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return &model.User{
				ID:           "user-1",
				Email:        email,
				PasswordHash: hashOf(t, "correct-password"),
				Active:       true,
			}, nil
		},
	}
	var saved *model.Session
	sessionRepo := &mockSessionRepo{
		createFn: func(ctx context.Context, session *model.Session) error {
			saved = session
			return nil
		},
	}
	auditRepo := &mockAuditRepo{}
	svc := newTestService(userRepo, sessionRepo, auditRepo)

	session, user, err := svc.Login(context.Background(), "jane@example.com", "correct-password")
	if err != nil {
		t.Fatalf("ログインに失敗: %v", err)
	}

	if user.ID != "user-1" {
		t.Errorf("user.ID = %s, want user-1", user.ID)
	}
	if session.ID == "" || len(session.ID) != 64 {
		t.Errorf("session ID length = %d, want 64 hex chars", len(session.ID))
	}
	if saved == nil {
		t.Fatal("expected session to be persisted")
	}
	if !session.ExpiresAt.After(time.Now()) {
		t.Error("session should expire in the future")
	}

	// ログインイベントが監査ログに記録されること
	if len(auditRepo.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(auditRepo.entries))
	}
	if auditRepo.entries[0].Action != model.AuditActionLogin {
		t.Errorf("audit action = %s, want login", auditRepo.entries[0].Action)
	}
}

func TestLogin_WrongPassword_ReturnsInvalidCredentials(t *testing.T) {
	userRepo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return &model.User{
				ID:           "user-1",
				PasswordHash: hashOf(t, "correct-password"),
				Active:       true,
			}, nil
		},
	}
	svc := newTestService(userRepo, nil, nil)

	_, _, err := svc.Login(context.Background(), "jane@example.com", "wrong-password")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidCredentials {
		t.Errorf("err = %v, want INVALID_CREDENTIALS", err)
	}
}

func TestLogin_UnknownUser_ReturnsInvalidCredentials(t *testing.T) {
	svc := newTestService(nil, nil, nil)

	_, _, err := svc.Login(context.Background(), "nobody@example.com", "whatever")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidCredentials {
		t.Errorf("err = %v, want INVALID_CREDENTIALS", err)
	}
}

func TestLogin_InactiveUser_ReturnsInvalidCredentials(t *testing.T) {
	userRepo := &mockUserRepo{
		findByEmailFn: func(ctx context.Context, email string) (*model.User, error) {
			return &model.User{
				ID:           "user-1",
				PasswordHash: hashOf(t, "correct-password"),
				Active:       false,
			}, nil
		},
	}
	svc := newTestService(userRepo, nil, nil)

	_, _, err := svc.Login(context.Background(), "jane@example.com", "correct-password")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidCredentials {
		t.Errorf("err = %v, want INVALID_CREDENTIALS", err)
	}
}

func TestLogout_DeletesSession(t *testing.T) {
	var deletedID string
	sessionRepo := &mockSessionRepo{
		deleteByIDFn: func(ctx context.Context, id string) error {
			deletedID = id
			return nil
		},
	}
	svc := newTestService(nil, sessionRepo, nil)

	if err := svc.Logout(context.Background(), "session-123"); err != nil {
		t.Fatalf("ログアウトに失敗: %v", err)
	}
	if deletedID != "session-123" {
		t.Errorf("deleted = %s, want session-123", deletedID)
	}
}

func TestLogout_EmptySessionID_ReturnsError(t *testing.T) {
	svc := newTestService(nil, nil, nil)

	if err := svc.Logout(context.Background(), ""); err == nil {
		t.Error("expected error for empty session ID")
	}
}

func TestGetCurrentUser_ValidSession_ReturnsUser(t *testing.T) {
	sessionRepo := &mockSessionRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			return &model.Session{ID: id, UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Email: "jane@example.com"}, nil
		},
	}
	svc := newTestService(userRepo, sessionRepo, nil)

	user, err := svc.GetCurrentUser(context.Background(), "session-123")
	if err != nil {
		t.Fatalf("取得に失敗: %v", err)
	}
	if user.ID != "user-1" {
		t.Errorf("user.ID = %s, want user-1", user.ID)
	}
}

func TestGetCurrentUser_ExpiredSession_ReturnsError(t *testing.T) {
	// 期限切れセッションはリポジトリがnilを返す
	sessionRepo := &mockSessionRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			return nil, nil
		},
	}
	svc := newTestService(nil, sessionRepo, nil)

	if _, err := svc.GetCurrentUser(context.Background(), "expired-session"); err == nil {
		t.Error("expected error for expired session")
	}
}

func TestGetCurrentUser_EmptySessionID_ReturnsError(t *testing.T) {
	svc := newTestService(nil, nil, nil)

	if _, err := svc.GetCurrentUser(context.Background(), ""); err == nil {
		t.Error("expected error for empty session ID")
	}
}

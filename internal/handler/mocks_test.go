package handler

import (
	"context"
	"strings"
	"time"

	"github.com/hitoshi/ccd/internal/model"
	"github.com/hitoshi/ccd/internal/rbac"
	"github.com/hitoshi/ccd/internal/repository"
)

// --- ハンドラーテスト共通のモック定義 ---

type mockClientRepo struct {
	findByIDFn func(ctx context.Context, id string) (*model.Client, error)
	listFn     func(ctx context.Context, scope rbac.Scope, filter repository.ClientFilter) ([]*model.Client, error)
	countFn    func(ctx context.Context, scope rbac.Scope, filter repository.ClientFilter) (int, error)

	created []*model.Client
	updated []*model.Client
	deleted []string
}

func (m *mockClientRepo) FindByID(ctx context.Context, id string) (*model.Client, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockClientRepo) FindByExternalID(ctx context.Context, uidExternal, sourceSystem string) ([]*model.Client, error) {
	return nil, nil
}

func (m *mockClientRepo) ListMatchCandidates(ctx context.Context) ([]*model.Client, error) {
	return nil, nil
}

func (m *mockClientRepo) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]*model.Client, error) {
	return nil, nil
}

func (m *mockClientRepo) List(ctx context.Context, scope rbac.Scope, filter repository.ClientFilter) ([]*model.Client, error) {
	if m.listFn != nil {
		return m.listFn(ctx, scope, filter)
	}
	return nil, nil
}

func (m *mockClientRepo) Count(ctx context.Context, scope rbac.Scope, filter repository.ClientFilter) (int, error) {
	if m.countFn != nil {
		return m.countFn(ctx, scope, filter)
	}
	return 0, nil
}

func (m *mockClientRepo) Create(ctx context.Context, client *model.Client) error {
	m.created = append(m.created, client)
	return nil
}

func (m *mockClientRepo) Update(ctx context.Context, client *model.Client) error {
	m.updated = append(m.updated, client)
	return nil
}

func (m *mockClientRepo) DeleteByID(ctx context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

var _ repository.ClientRepository = (*mockClientRepo)(nil)

type mockAuditRepo struct {
	entries  []*model.AuditLog
	createFn func(ctx context.Context, log *model.AuditLog) error
	listFn   func(ctx context.Context, filter repository.AuditFilter) ([]*model.AuditLog, error)
}

func (m *mockAuditRepo) Create(ctx context.Context, log *model.AuditLog) error {
	if m.createFn != nil {
		return m.createFn(ctx, log)
	}
	m.entries = append(m.entries, log)
	return nil
}

func (m *mockAuditRepo) List(ctx context.Context, filter repository.AuditFilter) ([]*model.AuditLog, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return nil, nil
}

func (m *mockAuditRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

var _ repository.AuditLogRepository = (*mockAuditRepo)(nil)

// mockSanitizer は前後空白の除去のみ行うサニタイザー。
type mockSanitizer struct{}

func (m *mockSanitizer) Sanitize(raw string) string {
	return strings.TrimSpace(raw)
}

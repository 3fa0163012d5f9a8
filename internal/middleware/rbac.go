package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/ccd/internal/model"
	"github.com/hitoshi/ccd/internal/rbac"
)

// staffContextKey はリクエストコンテキストに職員情報を格納するためのキー。
var staffContextKey = contextKey("staff")

// scopeContextKey はリクエストコンテキストにデータ可視範囲を格納するためのキー。
var scopeContextKey = contextKey("scope")

// StaffResolver は認証済みユーザーから職員とロールを解決するインターフェース。
// repository.StaffRepositoryの部分集合として定義する。
type StaffResolver interface {
	FindByUserID(ctx context.Context, userID string) (*model.Staff, error)
	FindWithRoles(ctx context.Context, staffID string) (*model.StaffWithRoles, error)
}

// NewPermissionMiddleware は指定権限のいずれかを持つ職員のみ通過させる
// ミドルウェアを返す。セッションミドルウェアの後段に配置する前提で、
// コンテキストのユーザーIDから職員とロールを解決し、権限チェックに加えて
// データ可視範囲(Scope)を計算してリクエストコンテキストに注入する。
// 職員プロフィールが存在しない、または権限が不足するリクエストには
// 403 Forbiddenを返す。
func NewPermissionMiddleware(resolver StaffResolver, cfg *rbac.Config, permissions ...string) func(next http.Handler) http.Handler {
	required := strings.Join(permissions, "|")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			// 1. ユーザーIDから職員プロフィールを解決
			staff, err := resolver.FindByUserID(r.Context(), userID)
			if err != nil {
				slog.Error("failed to find staff",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if staff == nil {
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError(required))
				return
			}

			// 2. ロールと所属部門を解決
			withRoles, err := resolver.FindWithRoles(r.Context(), staff.ID)
			if err != nil {
				slog.Error("failed to find staff roles",
					slog.String("staff_id", staff.ID),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if withRoles == nil || !hasAnyPermission(cfg, withRoles.RoleNames, permissions) {
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError(required))
				return
			}

			// 3. データ可視範囲を計算してコンテキストに注入
			scope := cfg.ScopeFor(withRoles.RoleNames, withRoles.ID, withRoles.DepartmentIDs)
			ctx := context.WithValue(r.Context(), staffContextKey, withRoles)
			ctx = context.WithValue(ctx, scopeContextKey, scope)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// hasAnyPermission はロール集合が指定権限のいずれかを持つかを返す。
func hasAnyPermission(cfg *rbac.Config, roles []string, permissions []string) bool {
	for _, p := range permissions {
		if cfg.HasPermission(roles, p) {
			return true
		}
	}
	return false
}

// StaffFromContext はリクエストコンテキストから職員情報を取得する。
// 権限ミドルウェアを通過したリクエストでのみ有効。
func StaffFromContext(ctx context.Context) (*model.StaffWithRoles, error) {
	staff, ok := ctx.Value(staffContextKey).(*model.StaffWithRoles)
	if !ok || staff == nil {
		return nil, fmt.Errorf("staff not found in context")
	}
	return staff, nil
}

// ScopeFromContext はリクエストコンテキストからデータ可視範囲を取得する。
// 権限ミドルウェアを通過していない場合はScopeNoneを返す。
func ScopeFromContext(ctx context.Context) rbac.Scope {
	scope, ok := ctx.Value(scopeContextKey).(rbac.Scope)
	if !ok {
		return rbac.Scope{Kind: rbac.ScopeNone}
	}
	return scope
}

// ContextWithStaffScope はコンテキストに職員情報と可視範囲を注入する。
// ハンドラーのテストで使用する。
func ContextWithStaffScope(ctx context.Context, staff *model.StaffWithRoles, scope rbac.Scope) context.Context {
	ctx = context.WithValue(ctx, staffContextKey, staff)
	return context.WithValue(ctx, scopeContextKey, scope)
}

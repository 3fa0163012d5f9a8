package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/ccd/internal/metrics"
	"github.com/hitoshi/ccd/internal/middleware"
	"github.com/hitoshi/ccd/internal/rbac"
	"github.com/hitoshi/ccd/internal/repository"
	"github.com/hitoshi/ccd/internal/security"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	StaffResolver     middleware.StaffResolver
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRF              middleware.CSRFConfig
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	RBAC              *rbac.Config

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 取り込み
	ImportService ImportServiceInterface

	// リポジトリ
	Clients      repository.ClientRepository
	Departments  repository.DepartmentRepository
	Programs     repository.ProgramRepository
	Staff        repository.StaffRepository
	Enrollments  repository.EnrollmentRepository
	Restrictions repository.RestrictionRepository
	Flags        repository.DuplicateFlagRepository
	Changes      repository.PendingChangeRepository
	Uploads      repository.UploadLogRepository
	Recipients   repository.EmailRecipientRepository
	AuditLogs    repository.AuditLogRepository

	Sanitizer security.TextSanitizerService
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORS → セキュリティヘッダー → ロギング → リカバリー → セッション → レート制限 → CSRF → 権限チェック
//
// 認証ルート（/auth/*）と/healthはセッションミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.Metrics))
	}
	r.Use(middleware.NewRecoveryMiddleware())

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	clientHandler := NewClientHandler(deps.Clients, deps.AuditLogs, deps.Sanitizer)
	importHandler := NewImportHandler(deps.ImportService, deps.Uploads)
	programHandler := NewProgramHandler(deps.Programs)
	departmentHandler := NewDepartmentHandler(deps.Departments)
	staffHandler := NewStaffHandler(deps.Staff)
	enrollmentHandler := NewEnrollmentHandler(deps.Enrollments)
	restrictionHandler := NewRestrictionHandler(deps.Restrictions, deps.Sanitizer)
	duplicateHandler := NewDuplicateHandler(deps.Flags, deps.Clients, deps.AuditLogs)
	changeHandler := NewChangeHandler(deps.Changes, deps.Clients, deps.AuditLogs)
	auditHandler := NewAuditHandler(deps.AuditLogs)
	recipientHandler := NewRecipientHandler(deps.Recipients)

	// 権限ミドルウェアのショートハンド
	requires := func(permissions ...string) func(http.Handler) http.Handler {
		return middleware.NewPermissionMiddleware(deps.StaffResolver, deps.RBAC, permissions...)
	}

	// --- 認証不要のルート ---

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General) → CSRF → 権限チェック
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		viewClients := requires(rbac.PermViewClients, rbac.PermViewDepartment, rbac.PermViewAll)
		editClients := requires(rbac.PermEditClients, rbac.PermManageClients, rbac.PermManageAll)

		// クライアント管理
		r.Route("/api/clients", func(r chi.Router) {
			r.With(viewClients).Get("/", clientHandler.ListClients)
			r.With(editClients).Post("/", clientHandler.CreateClient)

			// CSV取り込み（取り込み専用レート制限を追加）
			r.With(deps.RateLimiter.ImportMiddleware(), requires(rbac.PermImportClients)).
				Post("/import", importHandler.ImportClients)
			r.With(requires(rbac.PermExportAll, rbac.PermExportDepartment)).
				Get("/export", clientHandler.ExportClients)

			r.Route("/{id}", func(r chi.Router) {
				r.With(viewClients).Get("/", clientHandler.GetClient)
				r.With(editClients).Put("/", clientHandler.UpdateClient)
				r.With(requires(rbac.PermDeleteAll, rbac.PermManageDepartment)).
					Delete("/", clientHandler.DeleteClient)
			})
		})

		// 取り込み履歴
		r.With(requires(rbac.PermImportClients)).Get("/api/uploads", importHandler.ListUploads)

		// 重複レビュー
		r.Route("/api/duplicates", func(r chi.Router) {
			r.Use(requires(rbac.PermManageClients))
			r.Get("/", duplicateHandler.ListDuplicates)
			r.Post("/{id}/resolve", duplicateHandler.ResolveDuplicate)
		})

		// 承認ワークフロー
		r.Route("/api/changes", func(r chi.Router) {
			r.With(editClients).Post("/", changeHandler.SubmitChange)
			r.With(requires(rbac.PermApproveChanges)).Get("/", changeHandler.ListChanges)
			r.With(requires(rbac.PermApproveChanges)).Post("/{id}/approve", changeHandler.ApproveChange)
			r.With(requires(rbac.PermApproveChanges)).Post("/{id}/decline", changeHandler.DeclineChange)
		})

		// プログラム管理
		r.Route("/api/programs", func(r chi.Router) {
			viewPrograms := requires(rbac.PermViewPrograms, rbac.PermViewDepartment, rbac.PermViewAll)
			managePrograms := requires(rbac.PermManagePrograms)

			r.With(viewPrograms).Get("/", programHandler.ListPrograms)
			r.With(managePrograms).Post("/", programHandler.CreateProgram)
			r.Route("/{id}", func(r chi.Router) {
				r.With(viewPrograms).Get("/", programHandler.GetProgram)
				r.With(managePrograms).Put("/", programHandler.UpdateProgram)
				r.With(managePrograms).Delete("/", programHandler.DeleteProgram)

				r.With(viewPrograms).Get("/staff", programHandler.ListStaff)
				r.With(managePrograms).Post("/staff", programHandler.AssignStaff)
				r.With(managePrograms).Delete("/staff/{staffID}", programHandler.RemoveStaff)
			})
		})

		// 部門管理
		r.Route("/api/departments", func(r chi.Router) {
			viewDepartments := requires(rbac.PermViewDepartment, rbac.PermViewAll)
			manageDepartments := requires(rbac.PermManageDepartments)

			r.With(viewDepartments).Get("/", departmentHandler.ListDepartments)
			r.With(manageDepartments).Post("/", departmentHandler.CreateDepartment)
			r.Route("/{id}", func(r chi.Router) {
				r.With(viewDepartments).Get("/", departmentHandler.GetDepartment)
				r.With(manageDepartments).Put("/", departmentHandler.UpdateDepartment)
				r.With(manageDepartments).Delete("/", departmentHandler.DeleteDepartment)
			})
		})

		// 職員管理
		r.Route("/api/staff", func(r chi.Router) {
			r.Use(requires(rbac.PermManageStaff))
			r.Get("/", staffHandler.ListStaff)
			r.Post("/", staffHandler.CreateStaff)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", staffHandler.GetStaff)
				r.Put("/", staffHandler.UpdateStaff)
				r.Delete("/", staffHandler.DeleteStaff)
				r.Post("/roles", staffHandler.AssignRole)
				r.Delete("/roles/{roleName}", staffHandler.RemoveRole)
			})
		})

		// 在籍管理
		r.Route("/api/enrollments", func(r chi.Router) {
			viewEnrollments := requires(rbac.PermViewEnrollments, rbac.PermViewDepartment, rbac.PermViewAll)
			manageEnrollments := requires(rbac.PermManageEnrollments)

			r.With(viewEnrollments).Get("/", enrollmentHandler.ListEnrollments)
			r.With(manageEnrollments).Post("/", enrollmentHandler.CreateEnrollment)
			r.Route("/{id}", func(r chi.Router) {
				r.With(manageEnrollments).Post("/discharge", enrollmentHandler.DischargeEnrollment)
				r.With(manageEnrollments).Delete("/", enrollmentHandler.DeleteEnrollment)
			})
		})

		// サービス制限管理
		r.Route("/api/restrictions", func(r chi.Router) {
			viewRestrictions := requires(rbac.PermViewRestrictions, rbac.PermViewDepartment, rbac.PermViewAll)
			manageRestrictions := requires(rbac.PermManageRestrictions)

			r.With(viewRestrictions).Get("/", restrictionHandler.ListRestrictions)
			r.With(manageRestrictions).Post("/", restrictionHandler.CreateRestriction)
			r.Route("/{id}", func(r chi.Router) {
				r.With(viewRestrictions).Get("/", restrictionHandler.GetRestriction)
				r.With(manageRestrictions).Put("/", restrictionHandler.UpdateRestriction)
				r.With(manageRestrictions).Delete("/", restrictionHandler.DeleteRestriction)
			})
		})

		// 監査ログ
		r.With(requires(rbac.PermViewAuditLog)).Get("/api/audit", auditHandler.ListAuditLogs)

		// レポート配信先
		r.Route("/api/recipients", func(r chi.Router) {
			r.Use(requires(rbac.PermManageRecipients))
			r.Get("/", recipientHandler.ListRecipients)
			r.Post("/", recipientHandler.CreateRecipient)
			r.Put("/{id}", recipientHandler.UpdateRecipient)
			r.Delete("/{id}", recipientHandler.DeleteRecipient)
		})
	})

	return r
}

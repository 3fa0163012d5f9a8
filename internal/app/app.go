package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/ccd/internal/auth"
	"github.com/hitoshi/ccd/internal/config"
	"github.com/hitoshi/ccd/internal/database"
	"github.com/hitoshi/ccd/internal/handler"
	"github.com/hitoshi/ccd/internal/ingest"
	"github.com/hitoshi/ccd/internal/logger"
	"github.com/hitoshi/ccd/internal/mail"
	"github.com/hitoshi/ccd/internal/match"
	"github.com/hitoshi/ccd/internal/metrics"
	"github.com/hitoshi/ccd/internal/middleware"
	"github.com/hitoshi/ccd/internal/rbac"
	"github.com/hitoshi/ccd/internal/repository"
	"github.com/hitoshi/ccd/internal/security"
	"github.com/hitoshi/ccd/internal/worker/cleanup"
	"github.com/hitoshi/ccd/internal/worker/report"
	restrictionworker "github.com/hitoshi/ccd/internal/worker/restriction"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	staffRepo := repository.NewPostgresStaffRepo(db)
	clientRepo := repository.NewPostgresClientRepo(db)
	departmentRepo := repository.NewPostgresDepartmentRepo(db)
	programRepo := repository.NewPostgresProgramRepo(db)
	enrollmentRepo := repository.NewPostgresEnrollmentRepo(db)
	restrictionRepo := repository.NewPostgresRestrictionRepo(db)
	flagRepo := repository.NewPostgresDuplicateFlagRepo(db)
	changeRepo := repository.NewPostgresPendingChangeRepo(db)
	uploadRepo := repository.NewPostgresUploadLogRepo(db)
	recipientRepo := repository.NewPostgresEmailRecipientRepo(db)
	auditRepo := repository.NewPostgresAuditLogRepo(db)

	// 3. メトリクスとセキュリティサービスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	sanitizer := security.NewTextSanitizer()

	// 4. ドメインサービスの初期化
	authService := auth.NewService(
		userRepo, sessionRepo, auditRepo,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)

	nicknames := match.LoadNicknames(cfg.NicknameMappingsFile)
	matcher := match.NewMatcher(match.Config{
		Threshold: cfg.SimilarityThreshold,
		DOBBonus:  cfg.DOBMatchBonus,
	}, nicknames)

	ingestService := ingest.NewService(
		clientRepo, programRepo, enrollmentRepo, flagRepo, uploadRepo, auditRepo,
		matcher, sanitizer, collector, cfg.ImportMaxRows,
	)

	// 5. レートリミッターの構築（configはreq/min単位なのでreq/secに変換する）
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.ImportRate = rate.Limit(float64(cfg.RateLimitImport) / 60.0)
	rateLimiterCfg.ImportBurst = cfg.RateLimitImport
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	// 6. ルーターの構築
	deps := &handler.RouterDeps{
		SessionFinder:     sessionRepo,
		StaffResolver:     staffRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		Logger:  slog.Default(),
		Metrics: collector,
		RBAC:    rbac.DefaultConfig(),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		ImportService: ingestService,

		Clients:      clientRepo,
		Departments:  departmentRepo,
		Programs:     programRepo,
		Staff:        staffRepo,
		Enrollments:  enrollmentRepo,
		Restrictions: restrictionRepo,
		Flags:        flagRepo,
		Changes:      changeRepo,
		Uploads:      uploadRepo,
		Recipients:   recipientRepo,
		AuditLogs:    auditRepo,

		Sanitizer: sanitizer,
	}

	router := handler.NewRouter(deps)

	// 7. /metricsはセッション認証の外でPrometheusスクレイプ用に公開する
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(registry))
	mux.Handle("/", router)

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// レポート配信、制限通知、データクリーンアップの各ジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	clientRepo := repository.NewPostgresClientRepo(db)
	recipientRepo := repository.NewPostgresEmailRecipientRepo(db)
	restrictionRepo := repository.NewPostgresRestrictionRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	auditRepo := repository.NewPostgresAuditLogRepo(db)

	// 3. メトリクスとメーラーの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	var mailer mail.Mailer = mail.NewConsoleMailer()
	if cfg.SendgridAPIKey != "" {
		mailer = mail.NewSendGridMailer(cfg.SendgridAPIKey, "CCD Reports", cfg.EmailFrom)
	} else {
		slog.Warn("SENDGRID_API_KEY is not set, reports will be logged instead of sent")
	}

	// 4. ジョブの初期化
	reportJob := report.NewJob(clientRepo, recipientRepo, mailer, collector, slog.Default())
	notifier := restrictionworker.NewNotifier(
		restrictionRepo, collector, slog.Default(), cfg.RestrictionExpiryDays,
	)
	cleanupJob := cleanup.NewCleanupJob(auditRepo, sessionRepo, slog.Default())
	cleanupJob.RetentionDays = cfg.AuditRetentionDays

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("report_interval", cfg.ReportInterval),
		slog.Duration("restriction_check_interval", cfg.RestrictionCheckInterval),
		slog.Int("audit_retention_days", cfg.AuditRetentionDays),
	)

	// 制限通知ジョブをバックグラウンドで起動
	go notifier.Start(ctx, cfg.RestrictionCheckInterval)

	// クリーンアップジョブを日次でバックグラウンド実行
	go func() {
		// 起動直後に1回実行
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := cleanupJob.Run(ctx); err != nil {
					slog.Error("cleanup job failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	// レポート配信ジョブをメインgoroutineで実行（ブロッキング）
	reportJob.Start(ctx, cfg.ReportInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}

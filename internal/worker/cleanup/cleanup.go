// Package cleanup は保持期間超過データの自動削除ジョブを提供する。
// 保持期間（デフォルト365日）を超過した監査ログと、期限切れの
// セッションを日次バッチで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/ccd/internal/repository"
)

// CleanupJob は保持期間を超過したデータの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	auditRepo     repository.AuditLogRepository
	sessionRepo   repository.SessionRepository
	logger        *slog.Logger
	RetentionDays int // 監査ログの保持日数（デフォルト: 365）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は365日。
func NewCleanupJob(
	auditRepo repository.AuditLogRepository,
	sessionRepo repository.SessionRepository,
	logger *slog.Logger,
) *CleanupJob {
	return &CleanupJob{
		auditRepo:     auditRepo,
		sessionRepo:   sessionRepo,
		logger:        logger,
		RetentionDays: 365,
	}
}

// Run は保持期間を超過した監査ログと期限切れセッションを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	cutoff := start.AddDate(0, 0, -j.RetentionDays)
	auditDeleted, err := j.auditRepo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error("監査ログクリーンアップの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("監査ログクリーンアップの実行に失敗: %w", err)
	}

	sessionsDeleted, err := j.sessionRepo.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("期限切れセッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("audit_deleted", auditDeleted),
		slog.Int64("sessions_deleted", sessionsDeleted),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

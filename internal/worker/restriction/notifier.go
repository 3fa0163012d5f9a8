// Package restriction はサービス制限の通知ジョブを提供する。
// 新規に登録された制限と、有効期限が近い制限について、
// 購読している職員へアプリ内通知を作成する。
package restriction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/ccd/internal/metrics"
	"github.com/hitoshi/ccd/internal/model"
	"github.com/hitoshi/ccd/internal/repository"
)

// Notifier はサービス制限の通知ジョブ。
// 前回実行時刻を保持し、差分だけを通知する。
type Notifier struct {
	restrictionRepo repository.RestrictionRepository
	collector       metrics.MetricsCollector
	logger          *slog.Logger
	expiryWindow    time.Duration // この期間内に期限が切れる制限を通知する
	lastRun         time.Time
}

// NewNotifier はNotifierの新しいインスタンスを生成する。
// expiryDaysは期限切れ警告の対象期間（日数）。0以下の場合は7日。
func NewNotifier(
	restrictionRepo repository.RestrictionRepository,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	expiryDays int,
) *Notifier {
	if expiryDays <= 0 {
		expiryDays = 7
	}
	return &Notifier{
		restrictionRepo: restrictionRepo,
		collector:       collector,
		logger:          logger,
		expiryWindow:    time.Duration(expiryDays) * 24 * time.Hour,
		lastRun:         time.Now(),
	}
}

// Start は指定間隔のティッカーでジョブを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (n *Notifier) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	n.logger.Info("制限通知ジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("expiry_window", n.expiryWindow),
	)

	for {
		select {
		case <-ctx.Done():
			n.logger.Info("制限通知ジョブを停止しました")
			return
		case <-ticker.C:
			if err := n.RunOnce(ctx, time.Now()); err != nil {
				n.logger.Error("制限通知の実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は新規制限と期限間近の制限を通知する。
// 1回の実行で両方を処理し、前回実行時刻を更新する。
func (n *Notifier) RunOnce(ctx context.Context, now time.Time) error {
	newCount, err := n.notifyNew(ctx)
	if err != nil {
		return err
	}

	expiringCount, err := n.notifyExpiring(ctx, now)
	if err != nil {
		return err
	}

	n.lastRun = now
	if total := newCount + expiringCount; total > 0 {
		n.collector.RecordNotificationsSent(total)
		n.logger.Info("制限通知を作成しました",
			slog.Int("new_count", newCount),
			slog.Int("expiring_count", expiringCount),
		)
	}
	return nil
}

// notifyNew は前回実行以降に作成された制限を購読者へ通知する。
func (n *Notifier) notifyNew(ctx context.Context) (int, error) {
	restrictions, err := n.restrictionRepo.ListCreatedSince(ctx, n.lastRun)
	if err != nil {
		return 0, fmt.Errorf("新規制限の取得に失敗: %w", err)
	}
	if len(restrictions) == 0 {
		return 0, nil
	}

	subscribers, err := n.restrictionRepo.ListSubscribers(ctx, repository.SubscriberNew)
	if err != nil {
		return 0, fmt.Errorf("購読者の取得に失敗: %w", err)
	}

	count := 0
	for _, r := range restrictions {
		for _, sub := range subscribers {
			if err := n.createNotification(ctx, sub.StaffID, r, "restriction_new",
				"新しいサービス制限", "新しいサービス制限が登録されました。"); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

// notifyExpiring は期限がexpiryWindow以内に切れる制限を購読者へ通知する。
func (n *Notifier) notifyExpiring(ctx context.Context, now time.Time) (int, error) {
	restrictions, err := n.restrictionRepo.ListExpiringBetween(ctx, now, now.Add(n.expiryWindow))
	if err != nil {
		return 0, fmt.Errorf("期限間近の制限の取得に失敗: %w", err)
	}
	if len(restrictions) == 0 {
		return 0, nil
	}

	subscribers, err := n.restrictionRepo.ListSubscribers(ctx, repository.SubscriberExpiring)
	if err != nil {
		return 0, fmt.Errorf("購読者の取得に失敗: %w", err)
	}

	count := 0
	for _, r := range restrictions {
		for _, sub := range subscribers {
			if err := n.createNotification(ctx, sub.StaffID, r, "restriction_expiring",
				"サービス制限の期限警告", "サービス制限の有効期限が近づいています。"); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

// createNotification は1件の通知を作成する。
func (n *Notifier) createNotification(ctx context.Context, staffID string, r *model.ServiceRestriction, kind, title, message string) error {
	notification := &model.Notification{
		ID:      uuid.New().String(),
		StaffID: staffID,
		Title:   title,
		Message: message,
		Metadata: map[string]any{
			"kind":           kind,
			"restriction_id": r.ID,
			"client_id":      r.ClientID,
			"scope":          string(r.Scope),
		},
		CreatedAt: time.Now(),
	}
	if err := n.restrictionRepo.CreateNotification(ctx, notification); err != nil {
		return fmt.Errorf("通知の作成に失敗: %w", err)
	}
	return nil
}

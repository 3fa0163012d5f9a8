// Package report はクライアントレポートの定期メール配信を提供する。
// 配信先ごとに設定された頻度（日次・週次・月次）で、直近に作成された
// クライアントの一覧をCSV添付で送信する。
package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/ccd/internal/mail"
	"github.com/hitoshi/ccd/internal/metrics"
	"github.com/hitoshi/ccd/internal/model"
	"github.com/hitoshi/ccd/internal/repository"
)

// Job はレポート配信ジョブ。
// 日次ティッカーで起動され、その日に配信すべき頻度を判定して送信する。
type Job struct {
	clientRepo    repository.ClientRepository
	recipientRepo repository.EmailRecipientRepository
	mailer        mail.Mailer
	collector     metrics.MetricsCollector
	logger        *slog.Logger
}

// NewJob はJobの新しいインスタンスを生成する。
func NewJob(
	clientRepo repository.ClientRepository,
	recipientRepo repository.EmailRecipientRepository,
	mailer mail.Mailer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Job {
	return &Job{
		clientRepo:    clientRepo,
		recipientRepo: recipientRepo,
		mailer:        mailer,
		collector:     collector,
		logger:        logger,
	}
}

// Start は指定間隔のティッカーでジョブを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("レポート配信ジョブを開始しました",
		slog.Duration("interval", interval),
	)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("レポート配信ジョブを停止しました")
			return
		case <-ticker.C:
			if err := j.RunOnce(ctx, time.Now()); err != nil {
				j.logger.Error("レポート配信の実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は実行時点で配信対象となる頻度のレポートを送信する。
// 日次は毎回、週次は月曜、月次は毎月1日に配信される。
func (j *Job) RunOnce(ctx context.Context, now time.Time) error {
	frequencies := []model.ReportFrequency{model.FrequencyDaily}
	if now.Weekday() == time.Monday {
		frequencies = append(frequencies, model.FrequencyWeekly)
	}
	if now.Day() == 1 {
		frequencies = append(frequencies, model.FrequencyMonthly)
	}

	for _, freq := range frequencies {
		if err := j.RunFrequency(ctx, freq, now); err != nil {
			return err
		}
	}
	return nil
}

// RunFrequency は指定頻度の配信先にレポートを送信する。
// 配信先が存在しない場合は何もしない。集計対象が0件でも
// 「新規クライアントなし」のレポートを送信する。
func (j *Job) RunFrequency(ctx context.Context, freq model.ReportFrequency, now time.Time) error {
	recipients, err := j.recipientRepo.ListActiveByFrequency(ctx, freq)
	if err != nil {
		return fmt.Errorf("配信先の取得に失敗: %w", err)
	}
	if len(recipients) == 0 {
		return nil
	}

	from := now.AddDate(0, 0, -freq.Days())
	clients, err := j.clientRepo.ListCreatedBetween(ctx, from, now)
	if err != nil {
		return fmt.Errorf("クライアントの集計に失敗: %w", err)
	}

	msg, err := j.buildMessage(recipients, clients, freq, from, now)
	if err != nil {
		return err
	}

	if err := j.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("レポートの送信に失敗: %w", err)
	}

	j.collector.RecordReportSent(string(freq))
	j.logger.Info("レポートを配信しました",
		slog.String("frequency", string(freq)),
		slog.Int("recipient_count", len(recipients)),
		slog.Int("client_count", len(clients)),
	)
	return nil
}

// buildMessage はレポートメールを組み立てる。
func (j *Job) buildMessage(
	recipients []*model.EmailRecipient,
	clients []*model.Client,
	freq model.ReportFrequency,
	from, to time.Time,
) (*mail.Message, error) {
	addrs := make([]string, 0, len(recipients))
	for _, r := range recipients {
		addrs = append(addrs, r.Email)
	}

	body := fmt.Sprintf(
		"%s〜%sに作成されたクライアント: %d件\n詳細は添付のCSVを参照してください。\n",
		from.Format("2006-01-02"), to.Format("2006-01-02"), len(clients))
	if len(clients) == 0 {
		body = fmt.Sprintf(
			"%s〜%sに新規クライアントはありませんでした。\n",
			from.Format("2006-01-02"), to.Format("2006-01-02"))
	}

	msg := &mail.Message{
		To: addrs,
		Subject: fmt.Sprintf("クライアントレポート（%s） %s",
			frequencyLabel(freq), to.Format("2006-01-02")),
		TextBody: body,
	}

	if len(clients) > 0 {
		data, err := clientsCSV(clients)
		if err != nil {
			return nil, fmt.Errorf("レポートCSVの生成に失敗: %w", err)
		}
		msg.Attachments = append(msg.Attachments, mail.Attachment{
			Filename:    fmt.Sprintf("clients_%s.csv", to.Format("20060102")),
			ContentType: "text/csv",
			Data:        data,
		})
	}

	return msg, nil
}

// clientsCSV はクライアント一覧をCSVへ変換する。
func clientsCSV(clients []*model.Client) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"id", "first_name", "last_name", "source_system", "created_at"}); err != nil {
		return nil, err
	}
	for _, c := range clients {
		row := []string{
			c.ID,
			c.FirstName,
			c.LastName,
			c.SourceSystem,
			c.CreatedAt.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// frequencyLabel は頻度の表示名を返す。
func frequencyLabel(freq model.ReportFrequency) string {
	switch freq {
	case model.FrequencyWeekly:
		return "週次"
	case model.FrequencyMonthly:
		return "月次"
	default:
		return "日次"
	}
}

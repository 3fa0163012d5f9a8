// Package mail はレポートや通知のメール送信を提供する。
package mail

import (
	"context"
	"fmt"
	"log/slog"
)

// Attachment はメールの添付ファイルを表す。
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message は送信する1通のメールを表す。
type Message struct {
	To          []string
	Subject     string
	TextBody    string
	Attachments []Attachment
}

// Validate は送信可能なメッセージかを検証する。
func (m *Message) Validate() error {
	if len(m.To) == 0 {
		return fmt.Errorf("message has no recipients")
	}
	if m.Subject == "" {
		return fmt.Errorf("message has no subject")
	}
	return nil
}

// Mailer はメール送信のインターフェース。
// 本番ではSendGrid実装、開発・テストではコンソール実装を使う。
type Mailer interface {
	// Send はメッセージを1通送信する。
	Send(ctx context.Context, msg *Message) error
}

// ConsoleMailer は実際に送信せず、ログに出力するMailer。
// SENDGRID_API_KEY未設定の環境で使用される。
type ConsoleMailer struct{}

// NewConsoleMailer はConsoleMailerを生成する。
func NewConsoleMailer() *ConsoleMailer {
	return &ConsoleMailer{}
}

var _ Mailer = (*ConsoleMailer)(nil)

// Send はメッセージの内容をログに出力する。
func (m *ConsoleMailer) Send(_ context.Context, msg *Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	slog.Info("メール送信（コンソール出力）",
		"to", msg.To,
		"subject", msg.Subject,
		"body_length", len(msg.TextBody),
		"attachments", len(msg.Attachments),
	)
	return nil
}

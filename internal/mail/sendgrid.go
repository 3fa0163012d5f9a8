package mail

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// SendGridMailer はSendGrid API経由でメールを送信するMailer。
type SendGridMailer struct {
	apiKey string
	from   *sgmail.Email
}

// NewSendGridMailer はSendGridMailerを生成する。
func NewSendGridMailer(apiKey, fromName, fromEmail string) *SendGridMailer {
	return &SendGridMailer{
		apiKey: apiKey,
		from:   sgmail.NewEmail(fromName, fromEmail),
	}
}

var _ Mailer = (*SendGridMailer)(nil)

// Send はメッセージをSendGrid APIへ送信する。
// APIが4xx/5xxを返した場合はエラーになる。リトライは行わない。
func (m *SendGridMailer) Send(ctx context.Context, msg *Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	req := sendgrid.GetRequest(m.apiKey, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m.build(msg))

	res, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("sendgridへの送信に失敗: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgridがエラーを返却: status=%d body=%s", res.StatusCode, res.Body)
	}
	return nil
}

// build はMessageをSendGridのリクエスト形式へ変換する。
func (m *SendGridMailer) build(msg *Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = msg.Subject
	for _, to := range msg.To {
		p.AddTos(sgmail.NewEmail("", to))
	}

	out := sgmail.NewV3Mail()
	out.SetFrom(m.from)
	out.AddPersonalizations(p)
	out.AddContent(sgmail.NewContent("text/plain", msg.TextBody))

	for _, a := range msg.Attachments {
		out.AddAttachment(&sgmail.Attachment{
			Content:     base64.StdEncoding.EncodeToString(a.Data),
			Type:        a.ContentType,
			Filename:    a.Filename,
			Disposition: "attachment",
		})
	}

	return out
}

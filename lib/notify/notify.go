package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("lib/notify")

// Notifier surfaces ingestion outcomes to a human. Failures to
// deliver a notification are logged and swallowed, notifications are
// never load bearing.
type Notifier interface {
	Notify(ctx context.Context, subject, body string)
}

type SmtpConfig struct {
	Server       string `json:"server"`
	Port         int    `json:"port"`
	EmailAddress string `json:"email_address"`
	Password     string `json:"password"`
	// Notify is the recipient list.
	Notify []string `json:"notify"`
}

// Email sends notifications over SMTP.
type Email struct {
	config SmtpConfig
}

func NewEmail(config SmtpConfig) Email {
	return Email{config: config}
}

func (e Email) Notify(ctx context.Context, subject, body string) {
	_, span := tracer.Start(ctx, "email:Notify")
	defer span.End()

	mail := email.NewEmail()
	mail.From = e.config.EmailAddress
	mail.To = e.config.Notify
	mail.Subject = subject
	mail.Text = []byte(body)

	err := mail.Send(
		fmt.Sprintf("%s:%d", e.config.Server, e.config.Port),
		smtp.PlainAuth("", e.config.EmailAddress, e.config.Password, e.config.Server),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		slog.ErrorContext(ctx, "failed to send notification email", "subject", subject, "err", err)
	}
}

// Log writes notifications to the process log, the fallback when no
// SMTP server is configured.
type Log struct{}

func (Log) Notify(ctx context.Context, subject, body string) {
	slog.InfoContext(ctx, "notification", "subject", subject, "body", body)
}

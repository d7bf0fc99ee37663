package worker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/google/uuid"
	"github.com/wneessen/go-mail"

	"jobpipe/features/job"
)

const confirmSubject = "Confirm your email address"

var confirmBody = template.Must(template.New("confirm").Parse(`Hi {{.Username}},

Please confirm your email address by opening the link below:

{{.ConfirmURL}}

If you did not sign up, you can ignore this message.
`))

// RenderConfirmation builds the confirmation message for p.
func RenderConfirmation(p job.EmailParam) (Message, error) {
	var buf bytes.Buffer
	if err := confirmBody.Execute(&buf, p); err != nil {
		return Message{}, fmt.Errorf("render confirmation: %w", err)
	}
	return Message{To: p.Address, Subject: confirmSubject, Body: buf.String()}, nil
}

type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

type SMTPMailer struct {
	cfg SMTPConfig
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) (string, error) {
	out := mail.NewMsg()
	if err := out.From(m.cfg.From); err != nil {
		return "", fmt.Errorf("sender %q: %w", m.cfg.From, err)
	}
	if err := out.To(msg.To); err != nil {
		return "", fmt.Errorf("recipient %q: %w", msg.To, err)
	}
	out.Subject(msg.Subject)
	out.SetBodyString(mail.TypeTextPlain, msg.Body)
	out.SetMessageID()

	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if m.cfg.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.User),
			mail.WithPassword(m.cfg.Pass),
		)
	}
	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return "", &UpstreamError{Op: "smtp client", Err: err}
	}
	if err := client.DialAndSendWithContext(ctx, out); err != nil {
		return "", &UpstreamError{Op: "smtp send", Err: err}
	}

	id := ""
	if ids := out.GetGenHeader(mail.HeaderMessageID); len(ids) > 0 {
		id = strings.Trim(ids[0], "<>")
	}
	return id, nil
}

// LogMailer records messages in the log instead of sending them. It is used
// when no SMTP host is configured.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) Send(ctx context.Context, msg Message) (string, error) {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	logger.InfoContext(ctx, "email not sent, no smtp host configured", "to", msg.To, "subject", msg.Subject, "message_id", id)
	return id, nil
}

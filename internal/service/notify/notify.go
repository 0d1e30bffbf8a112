package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"time"

	brevo "github.com/getbrevo/brevo-go/lib"

	"github.com/uptimewatch/uptimewatch/internal/model"
)

const senderName = "Uptime Watch"

var ErrNoRecipient = errors.New("monitor owner has no e-mail address")

// Notifier tells monitor owners about incidents.
type Notifier interface {
	NotifyAlert(ctx context.Context, m model.Monitor, a model.Alert) error
	NotifyRecovery(ctx context.Context, m model.Monitor, o model.Observation) error
}

// Nop is used when e-mail delivery is not configured.
type Nop struct{}

func (Nop) NotifyAlert(context.Context, model.Monitor, model.Alert) error { return nil }
func (Nop) NotifyRecovery(context.Context, model.Monitor, model.Observation) error { return nil }

// EmailNotifier sends transactional e-mail through Brevo.
type EmailNotifier struct {
	from string
	send func(ctx context.Context, email brevo.SendSmtpEmail) error
}

func NewEmailNotifier(apiKey, from string) *EmailNotifier {
	cfg := brevo.NewConfiguration()
	cfg.AddDefaultHeader("api-key", apiKey)
	client := brevo.NewAPIClient(cfg)

	return &EmailNotifier{
		from: from,
		send: func(ctx context.Context, email brevo.SendSmtpEmail) error {
			_, _, err := client.TransactionalEmailsApi.SendTransacEmail(ctx, email)
			return err
		},
	}
}

func (n *EmailNotifier) NotifyAlert(ctx context.Context, m model.Monitor, a model.Alert) error {
	subject, body := alertMessage(m, a)
	return n.deliver(ctx, m, subject, body)
}

func (n *EmailNotifier) NotifyRecovery(ctx context.Context, m model.Monitor, o model.Observation) error {
	subject, body := recoveryMessage(m, o)
	return n.deliver(ctx, m, subject, body)
}

func (n *EmailNotifier) deliver(ctx context.Context, m model.Monitor, subject, body string) error {
	if m.OwnerEmail == "" {
		return ErrNoRecipient
	}

	email := brevo.SendSmtpEmail{
		Sender: &brevo.SendSmtpEmailSender{
			Name:  senderName,
			Email: n.from,
		},
		To: []brevo.SendSmtpEmailTo{
			{Email: m.OwnerEmail},
		},
		Subject:     subject,
		HtmlContent: "<pre>" + html.EscapeString(body) + "</pre>",
		TextContent: body,
	}
	if err := n.send(ctx, email); err != nil {
		return fmt.Errorf("send e-mail via brevo: %w", err)
	}

	slog.Info("incident e-mail sent", "monitor_id", m.ID, "subject", subject)
	return nil
}

func alertMessage(m model.Monitor, a model.Alert) (string, string) {
	detail := "none"
	if a.Error != nil {
		detail = *a.Error
	}
	subject := fmt.Sprintf("Monitor DOWN: %s", m.URL)
	body := fmt.Sprintf(`Monitor Alert

URL: %s
Status: DOWN
Reason: %s
Last error: %s
Time: %s
`, m.URL, a.Reason, detail, a.TriggeredAt.UTC().Format(time.RFC1123))
	return subject, body
}

func recoveryMessage(m model.Monitor, o model.Observation) (string, string) {
	latency := "n/a"
	if o.ResponseTimeMs != nil {
		latency = fmt.Sprintf("%d ms", *o.ResponseTimeMs)
	}
	subject := fmt.Sprintf("Monitor UP: %s", m.URL)
	body := fmt.Sprintf(`Monitor Recovery

URL: %s
Status: UP
Response time: %s
Time: %s
`, m.URL, latency, o.CheckedAt.UTC().Format(time.RFC1123))
	return subject, body
}

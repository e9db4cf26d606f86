// Package mail delivers transactional email.
package mail

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	netmail "net/mail"
	"strings"
	"sync"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

const (
	appName  = "Feedback Hub"
	host     = "https://api.sendgrid.com"
	endpoint = "/v3/mail/send"
)

// Message is a single outgoing email.
type Message struct {
	To      netmail.Address
	Subject string
	Text    string
	HTML    string
}

// Mailer sends a message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// New returns a SendGrid mailer when apiKey is set and a console mailer otherwise.
func New(apiKey, from string) Mailer {
	if apiKey == "" {
		slog.Warn("SENDGRID_API_KEY not set, emails will be logged instead of sent")
		return NewConsoleMailer()
	}
	return NewSendgridMailer(apiKey, from)
}

// PasswordReset builds the password reset email for a user.
func PasswordReset(to, username, resetURL string) Message {
	return Message{
		To:      netmail.Address{Name: username, Address: to},
		Subject: "Password reset",
		Text: fmt.Sprintf("Hello %s,\n\n"+
			"We received a request to reset your password. Open the link below within one hour to choose a new one:\n\n"+
			"%s\n\n"+
			"If you did not request this, you can ignore this email.", username, resetURL),
		HTML: fmt.Sprintf(`<p>Hello %s,</p>`+
			`<p>We received a request to reset your password. The link below is valid for one hour.</p>`+
			`<p><a href="%s">Reset password</a></p>`+
			`<p>If you did not request this, you can ignore this email.</p>`,
			html.EscapeString(username), html.EscapeString(resetURL)),
	}
}

// SendgridMailer sends email through the SendGrid v3 API.
type SendgridMailer struct {
	key        string
	from       *sgmail.Email
	subjPrefix string
	api        func(rest.Request) (*rest.Response, error)
}

func NewSendgridMailer(key, from string) *SendgridMailer {
	return &SendgridMailer{
		key:        key,
		from:       sgmail.NewEmail(appName, from),
		subjPrefix: "[" + appName + "] ",
		api:        sendgrid.API,
	}
}

func (m *SendgridMailer) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = m.subjPrefix + msg.Subject
	p.AddTos(sgmail.NewEmail(msg.To.Name, msg.To.Address))

	v3 := sgmail.NewV3Mail()
	v3.SetFrom(m.from)
	v3.AddPersonalizations(p)
	v3.AddContent(sgmail.NewContent("text/plain", msg.Text))
	if msg.HTML != "" {
		v3.AddContent(sgmail.NewContent("text/html", msg.HTML))
	}
	return v3
}

func (m *SendgridMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := sendgrid.GetRequest(m.key, endpoint, host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m.prepare(msg))

	res, err := m.api(req)
	if err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sending email: status %d: %s", res.StatusCode, res.Body)
	}
	return nil
}

// consoleBacklog bounds how many recent messages a ConsoleMailer keeps.
const consoleBacklog = 32

// ConsoleMailer logs messages instead of sending them and keeps the most
// recent ones for inspection.
type ConsoleMailer struct {
	mu   sync.Mutex
	sent []Message
}

func NewConsoleMailer() *ConsoleMailer {
	return &ConsoleMailer{}
}

func (m *ConsoleMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	if len(m.sent) == consoleBacklog {
		copy(m.sent, m.sent[1:])
		m.sent = m.sent[:consoleBacklog-1]
	}
	m.sent = append(m.sent, msg)
	m.mu.Unlock()

	slog.Info("email",
		"to", msg.To.String(),
		"subject", msg.Subject,
		"body", strings.TrimSpace(msg.Text),
	)
	return nil
}

// Sent returns the retained messages, oldest first.
func (m *ConsoleMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}

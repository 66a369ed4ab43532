// Package mail dispatches the transactional emails of the sign-in flow:
// password reset and email verification links.
package mail

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"sync"

	"gopkg.in/gomail.v2"

	"hydrofirma/internal/observability"
)

// Message is a single outgoing email.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
	// Link is the action link carried by the message, kept for logging and tests.
	Link string
}

// Mailer sends messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Action paths served by the web layer.
const (
	ResetPasswordPath = "/reset-password"
	VerifyEmailPath   = "/verify-email"
)

// ActionLink builds "<baseURL><path>?code=<code>".
func ActionLink(baseURL, path, code string) string {
	return strings.TrimRight(baseURL, "/") + path + "?code=" + url.QueryEscape(code)
}

// PasswordResetMessage renders the reset email for to.
func PasswordResetMessage(to, link string) Message {
	return Message{
		To:      to,
		Subject: "Reset your HydroFirma password",
		Text: "We received a request to reset the password for your HydroFirma account.\n\n" +
			"Follow this link to choose a new password:\n" + link + "\n\n" +
			"If you did not ask for this, you can ignore this email.\n",
		HTML: `<p>We received a request to reset the password for your HydroFirma account.</p>` +
			`<p><a href="` + html.EscapeString(link) + `">Choose a new password</a></p>` +
			`<p>If you did not ask for this, you can ignore this email.</p>`,
		Link: link,
	}
}

// VerificationMessage renders the address verification email.
func VerificationMessage(to, displayName, link string) Message {
	greeting := "Hello"
	if displayName != "" {
		greeting = "Hello " + displayName
	}
	return Message{
		To:      to,
		Subject: "Verify your HydroFirma email address",
		Text:    greeting + ",\n\nFollow this link to verify your email address:\n" + link + "\n",
		HTML: `<p>` + html.EscapeString(greeting) + `,</p>` +
			`<p><a href="` + html.EscapeString(link) + `">Verify my email address</a></p>`,
		Link: link,
	}
}

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Validate reports missing SMTP settings.
func (c SMTPConfig) Validate() error {
	switch {
	case c.Host == "":
		return errors.New("mail: smtp host is required")
	case c.Port <= 0:
		return errors.New("mail: smtp port is required")
	case c.From == "":
		return errors.New("mail: from address is required")
	}
	return nil
}

// Sender is the part of gomail.Dialer SMTPMailer needs.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPMailer delivers messages over SMTP with gomail.
type SMTPMailer struct {
	from   string
	sender Sender
}

// NewSMTPMailer returns a mailer dialing the configured server per message.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SMTPMailer{
		from:   cfg.From,
		sender: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}, nil
}

// NewSMTPMailerWithSender wires a custom Sender, used by tests.
func NewSMTPMailerWithSender(from string, sender Sender) *SMTPMailer {
	return &SMTPMailer{from: from, sender: sender}
}

// Send implements Mailer.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	gm := gomail.NewMessage()
	gm.SetHeader("From", m.from)
	gm.SetHeader("To", msg.To)
	gm.SetHeader("Subject", msg.Subject)
	gm.SetBody("text/plain", msg.Text)
	if msg.HTML != "" {
		gm.AddAlternative("text/html", msg.HTML)
	}
	if err := m.sender.DialAndSend(gm); err != nil {
		return fmt.Errorf("mail: send to %s: %w", msg.To, err)
	}
	return nil
}

// LogMailer writes messages to the log instead of sending them. It is the
// development default when no SMTP host is configured.
type LogMailer struct {
	logger observability.Logger
}

// NewLogMailer returns a LogMailer.
func NewLogMailer(logger observability.Logger) *LogMailer {
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}
	return &LogMailer{logger: logger.WithComponent("mail")}
}

// Send implements Mailer.
func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logger.InfoContext(ctx, "email not sent, smtp disabled",
		"to", msg.To, "subject", msg.Subject, "link", msg.Link)
	return nil
}

// MemoryMailer records messages in memory.
type MemoryMailer struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

// NewMemoryMailer returns an empty MemoryMailer.
func NewMemoryMailer() *MemoryMailer { return &MemoryMailer{} }

// Send implements Mailer.
func (m *MemoryMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

// FailWith makes subsequent sends return err. A nil err restores delivery.
func (m *MemoryMailer) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Sent returns a copy of every recorded message.
func (m *MemoryMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}

// Last returns the most recent message to the given address.
func (m *MemoryMailer) Last(to string) (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if strings.EqualFold(m.sent[i].To, to) {
			return m.sent[i], true
		}
	}
	return Message{}, false
}

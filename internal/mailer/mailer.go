// Package mailer sends the email side effect of the email action.
//
// With an SMTP host configured, mail goes out through net/smtp. Without
// one, the LogMailer writes the message to the log instead of sending it.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/mail"
	"net/smtp"
	"strings"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "Zapier"

var (
	// ErrNoRecipients is returned when an email has no usable address.
	ErrNoRecipients = errors.New("no recipients")

	// ErrInvalidRecipient is returned when a recipient is not a single
	// RFC 5322 address.
	ErrInvalidRecipient = errors.New("invalid recipient")
)

// Email is one outgoing message. Body is plain text; it is escaped and
// wrapped in the HTML layout at send time.
type Email struct {
	To      []string
	Subject string
	Body    string
}

// Mailer sends email.
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// Config holds SMTP settings.
type Config struct {
	Host    string
	Port    string
	User    string
	Pass    string
	From    string
	Subject string
}

// New returns an SMTP mailer when cfg.Host is set and a LogMailer otherwise.
func New(cfg Config, logger *slog.Logger) Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Host == "" {
		logger.Warn("SMTP_HOST not set, emails will be logged instead of sent")
		return &LogMailer{logger: logger, from: cfg.From, subject: cfg.Subject}
	}
	if cfg.Port == "" {
		cfg.Port = "587"
	}
	return &SMTPMailer{cfg: cfg, sendMail: smtp.SendMail}
}

// ParseRecipients splits a comma or semicolon separated address list and
// drops empty entries.
func ParseRecipients(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(strings.ReplaceAll(s, ";", ","), ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// ValidateRecipients parses each entry as one RFC 5322 address and returns
// the bare addresses. Entries carrying extra headers or line breaks fail
// with ErrInvalidRecipient.
func ValidateRecipients(list []string) ([]string, error) {
	out := make([]string, 0, len(list))
	for _, raw := range list {
		addr, err := mail.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidRecipient, raw, err)
		}
		out = append(out, addr.Address)
	}
	return out, nil
}

var layout = template.Must(template.New("normal").Parse(`<!DOCTYPE html>
<html>
  <body style="font-family: Arial, sans-serif; background-color: #f4f4f4; padding: 20px;">
    <div style="max-width: 600px; margin: auto; background: #ffffff; padding: 24px; border-radius: 8px;">
      <p style="font-size: 16px; color: #333333; white-space: pre-wrap;">{{.}}</p>
    </div>
  </body>
</html>`))

// RenderHTML wraps body in the email layout. body is HTML-escaped, so
// payload values cannot inject markup.
func RenderHTML(body string) (string, error) {
	var buf bytes.Buffer
	if err := layout.Execute(&buf, body); err != nil {
		return "", fmt.Errorf("render email body: %w", err)
	}
	return buf.String(), nil
}

// BuildMessage assembles an RFC 5322 message with an HTML body.
func BuildMessage(from string, to []string, subject, html string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", sanitizeHeader(from))
	fmt.Fprintf(&b, "To: %s\r\n", sanitizeHeader(strings.Join(to, ", ")))
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(html)
	return []byte(b.String())
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}

// SMTPMailer sends through an SMTP relay with PLAIN auth.
type SMTPMailer struct {
	cfg      Config
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// Send delivers email. net/smtp has no context support, so the send runs
// in its own goroutine and Send returns ctx.Err() if ctx ends first.
func (m *SMTPMailer) Send(ctx context.Context, email Email) error {
	msg, to, err := prepare(email, m.cfg.From, m.cfg.Subject)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if m.cfg.User != "" {
		auth = smtp.PlainAuth("", m.cfg.User, m.cfg.Pass, m.cfg.Host)
	}
	addr := m.cfg.Host + ":" + m.cfg.Port
	from := m.cfg.From
	if from == "" {
		from = m.cfg.User
	}

	done := make(chan error, 1)
	go func() {
		done <- m.sendMail(addr, auth, from, to, msg)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send to %s: %w", strings.Join(to, ", "), err)
		}
		return nil
	}
}

// LogMailer logs messages instead of sending them.
type LogMailer struct {
	logger  *slog.Logger
	from    string
	subject string
}

// NewLogMailer creates a LogMailer.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

// Send logs the envelope and body length at info level and the body
// itself at debug level.
func (m *LogMailer) Send(ctx context.Context, email Email) error {
	_, to, err := prepare(email, m.from, m.subject)
	if err != nil {
		return err
	}
	subject := email.Subject
	if subject == "" {
		subject = m.subject
	}
	if subject == "" {
		subject = DefaultSubject
	}
	m.logger.InfoContext(ctx, "simulating email send",
		"to", strings.Join(to, ", "),
		"subject", subject,
		"body_len", len(email.Body),
	)
	m.logger.DebugContext(ctx, "simulated email body", "to", strings.Join(to, ", "), "body", email.Body)
	return nil
}

func prepare(email Email, from, defaultSubject string) ([]byte, []string, error) {
	var to []string
	for _, addr := range email.To {
		to = append(to, ParseRecipients(addr)...)
	}
	if len(to) == 0 {
		return nil, nil, ErrNoRecipients
	}
	to, err := ValidateRecipients(to)
	if err != nil {
		return nil, nil, err
	}
	subject := email.Subject
	if subject == "" {
		subject = defaultSubject
	}
	if subject == "" {
		subject = DefaultSubject
	}
	html, err := RenderHTML(email.Body)
	if err != nil {
		return nil, nil, err
	}
	return BuildMessage(from, to, subject, html), to, nil
}

// Package mail delivers password setup links to newly provisioned accounts.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"text/template"

	"gopkg.in/gomail.v2"
)

const passwordSetupSubject = "Set up your hostel account"

var passwordSetupBody = template.Must(template.New("password_setup").Parse(`Hello {{.Name}},

An account has been created for you on the hostel portal ({{.Email}}).
Choose a password using the link below to sign in:

{{.Link}}

If you were not expecting this email you can ignore it.
`))

// Sender hands a password setup link to its recipient.
type Sender interface {
	SendPasswordSetup(ctx context.Context, to, name, link string) error
}

// Dialer is satisfied by *gomail.Dialer.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// SMTP sends mail through an SMTP relay.
type SMTP struct {
	from     string
	fromName string
	dialer   Dialer
}

func NewSMTP(cfg SMTPConfig) *SMTP {
	return NewSMTPWithDialer(cfg, gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password))
}

func NewSMTPWithDialer(cfg SMTPConfig, d Dialer) *SMTP {
	return &SMTP{from: cfg.From, fromName: cfg.FromName, dialer: d}
}

func (s *SMTP) SendPasswordSetup(ctx context.Context, to, name, link string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := renderPasswordSetup(to, name, link)
	if err != nil {
		return err
	}
	m := gomail.NewMessage()
	if s.fromName != "" {
		m.SetAddressHeader("From", s.from, s.fromName)
	} else {
		m.SetHeader("From", s.from)
	}
	m.SetHeader("To", to)
	m.SetHeader("Subject", passwordSetupSubject)
	m.SetBody("text/plain", body)
	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send password setup mail: %w", err)
	}
	return nil
}

func renderPasswordSetup(to, name, link string) (string, error) {
	if name == "" {
		name = to
	}
	var buf bytes.Buffer
	err := passwordSetupBody.Execute(&buf, struct{ Name, Email, Link string }{name, to, link})
	if err != nil {
		return "", fmt.Errorf("render password setup mail: %w", err)
	}
	return buf.String(), nil
}

// Log writes links to the log instead of mailing them. Used when no relay
// is configured.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) SendPasswordSetup(ctx context.Context, to, name, link string) error {
	l.logger.InfoContext(ctx, "password setup link", "to", to, "name", name, "link", link)
	return nil
}

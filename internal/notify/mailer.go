package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"
)

// Email is one message. Text is the plain alternative part.
type Email struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Mailer delivers one email.
type Mailer interface {
	Send(ctx context.Context, e Email) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	FromName string
	// FromAddress defaults to Username.
	FromAddress string
	Timeout     time.Duration
}

// SMTPMailer sends over SMTP with implicit TLS (port 465 by default).
type SMTPMailer struct {
	cfg SMTPConfig
}

func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if cfg.Host == "" {
		return nil, errors.New("notify: smtp host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 465
	}
	if cfg.FromAddress == "" {
		cfg.FromAddress = cfg.Username
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &SMTPMailer{cfg: cfg}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, e Email) error {
	msg := mail.NewMsg()
	if err := msg.FromFormat(m.cfg.FromName, m.cfg.FromAddress); err != nil {
		return fmt.Errorf("notify: from: %w", err)
	}
	if err := msg.To(e.To); err != nil {
		return fmt.Errorf("notify: to: %w", err)
	}
	msg.Subject(e.Subject)
	msg.SetBodyString(mail.TypeTextHTML, e.HTML)
	if e.Text != "" {
		msg.AddAlternativeString(mail.TypeTextPlain, e.Text)
	}

	client, err := mail.NewClient(m.cfg.Host,
		mail.WithPort(m.cfg.Port),
		mail.WithSSL(),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.cfg.Username),
		mail.WithPassword(m.cfg.Password),
		mail.WithTimeout(m.cfg.Timeout),
	)
	if err != nil {
		return fmt.Errorf("notify: smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("notify: send to %s: %w", e.To, err)
	}
	return nil
}

// ErrMailDisabled is returned by Discard so the dispatcher can log a drop
// instead of a delivery.
var ErrMailDisabled = errors.New("notify: smtp not configured")

// Discard drops every email. Used when SMTP is not configured.
type Discard struct{}

func (Discard) Send(context.Context, Email) error { return ErrMailDisabled }

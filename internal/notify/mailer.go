package notify

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/gomail.v2"
)

// Sender delivers one HTML email
type Sender interface {
	Send(ctx context.Context, to, subject, html string) error
}

// SMTPConfig holds the outgoing mail server settings
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	FromName string
	// Timeout bounds one delivery; zero means 30s
	Timeout time.Duration
}

// SMTPMailer sends mail through an SMTP server. Port 465 uses implicit TLS.
type SMTPMailer struct {
	from    string
	timeout time.Duration
	deliver func(*gomail.Message) error
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	return &SMTPMailer{
		from:    fmt.Sprintf("%q <%s>", cfg.FromName, cfg.User),
		timeout: timeout,
		deliver: func(msg *gomail.Message) error { return dialer.DialAndSend(msg) },
	}
}

// From returns the formatted sender address
func (m *SMTPMailer) From() string { return m.from }

// Send returns when the server accepts the message, ctx ends or the send
// timeout passes. gomail takes no context, so an abandoned session finishes
// in the background and its result is discarded.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, html string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", html)

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.deliver(msg) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("smtp send to %s: %w", to, ctx.Err())
	}
}

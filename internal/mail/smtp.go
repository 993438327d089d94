// smtp.go
//
// SMTPMailer: delivers mail through any SMTP relay using gomail.
// Port 465 uses implicit TLS; other ports upgrade with STARTTLS when offered.
package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"gopkg.in/gomail.v2"
)

// SMTPConfig holds all configuration for SMTPMailer.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
}

// maxInFlightSends caps concurrent gomail sessions, including ones whose
// caller already gave up on a stalled relay.
const maxInFlightSends = 4

// ErrSMTPBusy is returned when maxInFlightSends sessions are still open.
var ErrSMTPBusy = errors.New("smtp: too many sends in flight")

// SMTPMailer sends transactional email via SMTP.
// Compatible with Yandex 360, Mailgun, SES, Mailpit (local dev), etc.
type SMTPMailer struct {
	cfg      SMTPConfig
	dialer   *gomail.Dialer
	inFlight chan struct{}
}

// NewSMTPMailer creates an SMTPMailer with the given config. Makes no network calls.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	return &SMTPMailer{cfg: cfg, dialer: d, inFlight: make(chan struct{}, maxInFlightSends)}
}

// newMessage builds a plain-text message from the configured sender.
func (m *SMTPMailer) newMessage(toEmail, subject, body string) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.FromAddress)
	msg.SetHeader("To", toEmail)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	return msg
}

// send delivers msg, giving up when ctx is done.
// gomail has no context support, so an abandoned session keeps its slot in
// inFlight until the relay answers or drops the connection.
func (m *SMTPMailer) send(ctx context.Context, msg *gomail.Message) error {
	select {
	case m.inFlight <- struct{}{}:
	default:
		return ErrSMTPBusy
	}
	done := make(chan error, 1)
	go func() {
		defer func() { <-m.inFlight }()
		done <- m.dialer.DialAndSend(msg)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendRecoveryCode emails code to toEmail.
func (m *SMTPMailer) SendRecoveryCode(ctx context.Context, toEmail string, code int, expiresIn time.Duration) error {
	subject, body := recoveryMessage(code, expiresIn)
	if err := m.send(ctx, m.newMessage(toEmail, subject, body)); err != nil {
		return fmt.Errorf("sending recovery code email: %w", err)
	}
	return nil
}

/*
SMTP delivery for the weekly report.

Tries STARTTLS on the submission port first and falls back to implicit
SSL on 465, which some in-house relays still require.
*/
package report

import (
	"context"
	"fmt"

	mail "github.com/wneessen/go-mail"
)

// SMTPConfig holds the mail relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends report mail over SMTP.
type SMTPMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer creates a mailer for the given relay.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPMailer{cfg: cfg}
}

// Send delivers one HTML message to all recipients.
func (m *SMTPMailer) Send(ctx context.Context, subject, htmlBody string, recipients []string) error {
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients configured")
	}

	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(recipients...); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, htmlBody)

	if err := m.send(ctx, msg, false); err != nil {
		// Retry once over implicit SSL for relays that reject STARTTLS.
		if sslErr := m.send(ctx, msg, true); sslErr != nil {
			return fmt.Errorf("failed to send mail: %w", err)
		}
	}
	return nil
}

func (m *SMTPMailer) send(ctx context.Context, msg *mail.Msg, ssl bool) error {
	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.cfg.Username),
		mail.WithPassword(m.cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	}
	if ssl {
		opts = append(opts, mail.WithSSLPort(false))
	}

	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, msg)
}

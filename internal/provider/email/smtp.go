package email

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strings"

	"relay/internal/platform/config"
)

// SMTPSender delivers through an SMTP relay with optional PLAIN auth.
type SMTPSender struct {
	host     string
	port     string
	username string
	password string
	from     string
	send     func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(cfg config.ProvidersConfig) *SMTPSender {
	return &SMTPSender{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.SMTPUser,
		password: cfg.SMTPPass,
		from:     cfg.SMTPFrom,
		send:     smtp.SendMail,
	}
}

func (c *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.host == "" {
		return fmt.Errorf("smtp host: %w", ErrNotConfigured)
	}
	if msg.From == "" {
		msg.From = c.from
	}
	if msg.From == "" {
		msg.From = c.username
	}
	if msg.From == "" {
		return fmt.Errorf("smtp from address: %w", ErrNotConfigured)
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	from, _ := mail.ParseAddress(msg.From)
	to := make([]*mail.Address, 0, len(msg.To))
	envelope := make([]string, 0, len(msg.To))
	for _, raw := range msg.To {
		addr, _ := mail.ParseAddress(raw)
		to = append(to, addr)
		envelope = append(envelope, addr.Address)
	}

	var auth smtp.Auth
	if c.username != "" || c.password != "" {
		auth = smtp.PlainAuth("", c.username, c.password, c.host)
	}
	hostport := net.JoinHostPort(c.host, c.port)
	if err := c.send(hostport, auth, from.Address, envelope, buildMIME(from, to, msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// buildMIME expects a validated message. The subject is Q-encoded so
// non-ASCII text survives.
func buildMIME(from *mail.Address, to []*mail.Address, msg Message) []byte {
	recipients := make([]string, len(to))
	for i, addr := range to {
		recipients[i] = addr.String()
	}
	headers := []string{
		"From: " + from.String(),
		"To: " + strings.Join(recipients, ", "),
		"Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject),
		"MIME-Version: 1.0",
	}
	body := msg.Text
	if msg.HTML != "" {
		headers = append(headers, "Content-Type: text/html; charset=UTF-8")
		body = msg.HTML
	} else {
		headers = append(headers, "Content-Type: text/plain; charset=UTF-8")
	}
	return []byte(strings.Join(headers, "\r\n") + "\r\n\r\n" + body)
}

// Package email sends the send_mail action's messages through a selectable
// provider.
package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"

	"relay/pkg/platform/circuit"
)

// Provider names accepted in payload.provider.
const (
	ProviderSMTP    = "smtp"
	ProviderConsole = "console"
)

var (
	// ErrNotConfigured is returned when a provider lacks credentials.
	ErrNotConfigured = errors.New("email provider not configured")
	// ErrInvalidMessage is returned for header values that cannot be sent as is.
	ErrInvalidMessage = errors.New("invalid email message")
)

type Message struct {
	From    string
	To      []string
	Subject string
	Text    string
	HTML    string
}

// Validate rejects line breaks in header values and addresses that do not
// parse as RFC 5322 mailboxes. An empty From is allowed; senders fill in
// their configured address.
func (m Message) Validate() error {
	if len(m.To) == 0 {
		return fmt.Errorf("%w: no recipients", ErrInvalidMessage)
	}
	if hasLineBreak(m.Subject) {
		return fmt.Errorf("%w: subject contains a line break", ErrInvalidMessage)
	}
	if m.From != "" {
		if _, err := parseAddress(m.From); err != nil {
			return fmt.Errorf("%w: from: %w", ErrInvalidMessage, err)
		}
	}
	for _, to := range m.To {
		if _, err := parseAddress(to); err != nil {
			return fmt.Errorf("%w: to: %w", ErrInvalidMessage, err)
		}
	}
	return nil
}

func parseAddress(raw string) (*mail.Address, error) {
	if hasLineBreak(raw) {
		return nil, fmt.Errorf("address %q contains a line break", raw)
	}
	return mail.ParseAddress(raw)
}

func hasLineBreak(s string) bool {
	return strings.ContainsAny(s, "\r\n")
}

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// guarded passes calls through a circuit breaker.
type guarded struct {
	sender  Sender
	breaker *circuit.Breaker
}

// WithBreaker wraps sender so an open circuit fails fast.
func WithBreaker(sender Sender, breaker *circuit.Breaker) Sender {
	return &guarded{sender: sender, breaker: breaker}
}

func (g *guarded) Send(ctx context.Context, msg Message) error {
	return g.breaker.Do(func() error { return g.sender.Send(ctx, msg) })
}

// ConsoleSender logs messages instead of delivering them.
type ConsoleSender struct {
	logger *slog.Logger
}

func NewConsoleSender(logger *slog.Logger) *ConsoleSender {
	return &ConsoleSender{logger: logger}
}

func (c *ConsoleSender) Send(ctx context.Context, msg Message) error {
	c.logger.InfoContext(ctx, "email (console provider)",
		"to", strings.Join(msg.To, ","),
		"subject", msg.Subject,
	)
	return nil
}

// MemorySender records messages for inspection in tests.
type MemorySender struct {
	mu   sync.Mutex
	sent []Message
	Err  error
}

func NewMemorySender() *MemorySender {
	return &MemorySender{}
}

func (m *MemorySender) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, msg)
	return nil
}

// Sent returns a copy of messages seen so far.
func (m *MemorySender) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}

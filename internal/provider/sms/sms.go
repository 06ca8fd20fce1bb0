// Package sms sends the send_sms action's messages through Termii, Twilio or
// a console sink.
package sms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"relay/pkg/platform/circuit"
)

const (
	ProviderTermii  = "termii"
	ProviderTwilio  = "twilio"
	ProviderConsole = "console"
)

var ErrNotConfigured = errors.New("sms provider not configured")

type Message struct {
	To   string
	Body string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ProviderError is a non-2xx answer from an SMS API.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s responded %d: %s", e.Provider, e.StatusCode, e.Body)
}

// NormalizePhone rewrites a local number with a leading 0 to international
// form using countryPrefix ("08031234567" -> "+2348031234567").
func NormalizePhone(phone, countryPrefix string) string {
	phone = strings.TrimSpace(phone)
	phone = strings.NewReplacer(" ", "", "-", "").Replace(phone)
	if countryPrefix != "" && strings.HasPrefix(phone, "0") {
		return countryPrefix + phone[1:]
	}
	return phone
}

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

type ConsoleSender struct {
	logger *slog.Logger
}

func NewConsoleSender(logger *slog.Logger) *ConsoleSender {
	return &ConsoleSender{logger: logger}
}

func (c *ConsoleSender) Send(ctx context.Context, msg Message) error {
	c.logger.InfoContext(ctx, "sms (console provider)", "to", msg.To, "length", len(msg.Body))
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

func (m *MemorySender) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}

package action

import (
	"context"
	"fmt"
	"strings"

	"relay/internal/provider/email"
	dErrors "relay/pkg/domain-errors"
)

// SendMailHandler delivers payload as an email through payload.provider.
type SendMailHandler struct {
	providers       map[string]email.Sender
	defaultProvider string
}

func NewSendMailHandler(providers map[string]email.Sender, defaultProvider string) *SendMailHandler {
	return &SendMailHandler{providers: providers, defaultProvider: defaultProvider}
}

func (h *SendMailHandler) Execute(ctx context.Context, inv Invocation) (Result, error) {
	payload := inv.Payload()
	name := stringField(payload, "provider")
	if name == "" {
		name = h.defaultProvider
	}
	sender, ok := h.providers[strings.ToLower(name)]
	if !ok {
		return Result{}, dErrors.New(dErrors.CodeConfiguration, fmt.Sprintf("unknown email provider %q", name))
	}

	msg, err := buildEmail(payload)
	if err != nil {
		return Result{}, err
	}
	if err := sender.Send(ctx, msg); err != nil {
		return Result{}, err
	}
	return Result{Detail: fmt.Sprintf("email sent via %s", name)}, nil
}

func buildEmail(payload map[string]any) (email.Message, error) {
	msg := email.Message{
		From:    stringField(payload, "from"),
		To:      stringList(payload["to"]),
		Subject: stringField(payload, "subject"),
		Text:    stringField(payload, "content"),
		HTML:    stringField(payload, "html"),
	}
	if msg.Text == "" {
		msg.Text = stringField(payload, "text")
	}
	if len(msg.To) == 0 {
		return email.Message{}, dErrors.New(dErrors.CodeInvalidInput, "send_mail payload requires to")
	}
	if err := msg.Validate(); err != nil {
		return email.Message{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "send_mail payload has unsafe headers")
	}
	return msg, nil
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// stringList accepts a single address, a comma separated list or a JSON array.
func stringList(v any) []string {
	var out []string
	switch t := v.(type) {
	case string:
		for part := range strings.SplitSeq(t, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	}
	return out
}

package action

import (
	"context"
	"fmt"
	"strings"

	"relay/internal/provider/sms"
	dErrors "relay/pkg/domain-errors"
)

// SendSMSHandler delivers payload.message to payload.phone.
type SendSMSHandler struct {
	providers       map[string]sms.Sender
	defaultProvider string
	countryPrefix   string
}

func NewSendSMSHandler(providers map[string]sms.Sender, defaultProvider, countryPrefix string) *SendSMSHandler {
	return &SendSMSHandler{providers: providers, defaultProvider: defaultProvider, countryPrefix: countryPrefix}
}

func (h *SendSMSHandler) Execute(ctx context.Context, inv Invocation) (Result, error) {
	payload := inv.Payload()
	name := stringField(payload, "provider")
	if name == "" {
		name = h.defaultProvider
	}
	sender, ok := h.providers[strings.ToLower(name)]
	if !ok {
		return Result{}, dErrors.New(dErrors.CodeConfiguration, fmt.Sprintf("unknown sms provider %q", name))
	}

	phone := stringField(payload, "phone")
	if phone == "" {
		phone = stringField(payload, "to")
	}
	if phone == "" {
		return Result{}, dErrors.New(dErrors.CodeInvalidInput, "send_sms payload requires phone")
	}
	msg := sms.Message{
		To:   sms.NormalizePhone(phone, h.countryPrefix),
		Body: stringField(payload, "message"),
	}
	if err := sender.Send(ctx, msg); err != nil {
		return Result{}, err
	}
	return Result{Detail: fmt.Sprintf("sms sent via %s", name)}, nil
}

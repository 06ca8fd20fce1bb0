package main

import (
	"log/slog"
	"net/http"

	"relay/internal/action"
	"relay/internal/broadcast"
	"relay/internal/inbox"
	"relay/internal/platform/config"
	"relay/internal/provider/email"
	"relay/internal/provider/sms"
	"relay/pkg/platform/circuit"
)

// buildActions assembles the closed action set. Remote providers sit behind
// their own circuit breaker; the console providers are always available and
// become the default when nothing else is configured.
func buildActions(cfg config.ProvidersConfig, store inbox.Store, groups broadcast.Publisher, log *slog.Logger) *action.Registry {
	client := &http.Client{Timeout: cfg.HTTPTimeout}
	breaker := func(name string) *circuit.Breaker {
		return circuit.New(name,
			circuit.WithFailureThreshold(cfg.BreakerFailures),
			circuit.WithCooldown(cfg.BreakerCooldown),
		)
	}

	mail := map[string]email.Sender{
		email.ProviderSMTP:    email.WithBreaker(email.NewSMTPSender(cfg), breaker("email."+email.ProviderSMTP)),
		email.ProviderConsole: email.NewConsoleSender(log),
	}
	defaultMail := email.ProviderConsole
	if cfg.SMTPHost != "" {
		defaultMail = email.ProviderSMTP
	}

	texts := map[string]sms.Sender{
		sms.ProviderTermii:  sms.WithBreaker(sms.NewTermiiSender(cfg, client), breaker("sms."+sms.ProviderTermii)),
		sms.ProviderTwilio:  sms.WithBreaker(sms.NewTwilioSender(cfg, client), breaker("sms."+sms.ProviderTwilio)),
		sms.ProviderConsole: sms.NewConsoleSender(log),
	}
	defaultSMS := sms.ProviderConsole
	switch {
	case cfg.TermiiAPIKey != "":
		defaultSMS = sms.ProviderTermii
	case cfg.TwilioAccountSID != "":
		defaultSMS = sms.ProviderTwilio
	}

	return action.NewRegistry(
		action.NewNotifyUserHandler(store, groups, log),
		action.NewSendMailHandler(mail, defaultMail),
		action.NewSendSMSHandler(texts, defaultSMS, cfg.SMSCountryPrefix),
	)
}

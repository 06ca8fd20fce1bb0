package sms

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"relay/internal/platform/config"
)

// TwilioSender creates messages through Twilio's REST API.
type TwilioSender struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	client     *http.Client
}

func NewTwilioSender(cfg config.ProvidersConfig, client *http.Client) *TwilioSender {
	return &TwilioSender{
		baseURL:    strings.TrimRight(cfg.TwilioBaseURL, "/"),
		accountSID: cfg.TwilioAccountSID,
		authToken:  cfg.TwilioAuthToken,
		from:       cfg.TwilioSender,
		client:     client,
	}
}

func (s *TwilioSender) Send(ctx context.Context, msg Message) error {
	if s.accountSID == "" || s.authToken == "" {
		return fmt.Errorf("twilio credentials: %w", ErrNotConfigured)
	}
	form := url.Values{}
	form.Set("To", msg.To)
	form.Set("From", s.from)
	form.Set("Body", msg.Body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, url.PathEscape(s.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build twilio request: %w", err)
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return doRequest(s.client, req, ProviderTwilio)
}

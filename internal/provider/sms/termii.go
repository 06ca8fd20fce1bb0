package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"relay/internal/platform/config"
)

// TermiiSender posts to Termii's /api/sms/send.
type TermiiSender struct {
	baseURL string
	apiKey  string
	from    string
	client  *http.Client
}

func NewTermiiSender(cfg config.ProvidersConfig, client *http.Client) *TermiiSender {
	return &TermiiSender{
		baseURL: strings.TrimRight(cfg.TermiiBaseURL, "/"),
		apiKey:  cfg.TermiiAPIKey,
		from:    cfg.TermiiSender,
		client:  client,
	}
}

type termiiRequest struct {
	To      string `json:"to"`
	From    string `json:"from"`
	SMS     string `json:"sms"`
	Type    string `json:"type"`
	Channel string `json:"channel"`
	APIKey  string `json:"api_key"`
}

func (s *TermiiSender) Send(ctx context.Context, msg Message) error {
	if s.apiKey == "" {
		return fmt.Errorf("termii api key: %w", ErrNotConfigured)
	}
	payload, err := json.Marshal(termiiRequest{
		To:      msg.To,
		From:    s.from,
		SMS:     msg.Body,
		Type:    "plain",
		Channel: "generic",
		APIKey:  s.apiKey,
	})
	if err != nil {
		return fmt.Errorf("marshal termii request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/sms/send", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build termii request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return doRequest(s.client, req, ProviderTermii)
}

// doRequest treats any 2xx as delivered.
func doRequest(client *http.Client, req *http.Request, provider string) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &ProviderError{Provider: provider, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

package sms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/platform/config"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in, prefix, want string
	}{
		{"08031234567", "+234", "+2348031234567"},
		{" 0803 123-4567 ", "+234", "+2348031234567"},
		{"+2348031234567", "+234", "+2348031234567"},
		{"08031234567", "", "08031234567"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePhone(tt.in, tt.prefix), tt.in)
	}
}

func TestTermiiSender(t *testing.T) {
	var got termiiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sms/send", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewTermiiSender(config.ProvidersConfig{TermiiBaseURL: srv.URL + "/", TermiiAPIKey: "k", TermiiSender: "Relay"}, srv.Client())
	require.NoError(t, sender.Send(context.Background(), Message{To: "+2348031234567", Body: "hello"}))

	assert.Equal(t, "+2348031234567", got.To)
	assert.Equal(t, "Relay", got.From)
	assert.Equal(t, "hello", got.SMS)
	assert.Equal(t, "k", got.APIKey)
}

func TestTermiiSender_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	sender := NewTermiiSender(config.ProvidersConfig{TermiiBaseURL: srv.URL, TermiiAPIKey: "k"}, srv.Client())
	err := sender.Send(context.Background(), Message{To: "+1", Body: "x"})

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusBadGateway, perr.StatusCode)
	assert.Equal(t, "upstream down", perr.Body)
}

func TestTwilioSender(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "secret", pass)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "+15550001", r.PostForm.Get("To"))
		assert.Equal(t, "+15559999", r.PostForm.Get("From"))
		assert.Equal(t, "hi", r.PostForm.Get("Body"))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sender := NewTwilioSender(config.ProvidersConfig{
		TwilioBaseURL: srv.URL, TwilioAccountSID: "AC123", TwilioAuthToken: "secret", TwilioSender: "+15559999",
	}, srv.Client())
	require.NoError(t, sender.Send(context.Background(), Message{To: "+15550001", Body: "hi"}))
}

func TestSenders_NotConfigured(t *testing.T) {
	ctx := context.Background()
	assert.ErrorIs(t, NewTermiiSender(config.ProvidersConfig{}, http.DefaultClient).Send(ctx, Message{}), ErrNotConfigured)
	assert.ErrorIs(t, NewTwilioSender(config.ProvidersConfig{}, http.DefaultClient).Send(ctx, Message{}), ErrNotConfigured)
}

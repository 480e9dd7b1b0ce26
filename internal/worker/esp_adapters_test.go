package worker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailengine/internal/domain"
)

// =============================================================================
// ResendSender Tests
// =============================================================================

func resendProvider() *domain.ProviderConfig {
	return &domain.ProviderConfig{
		Kind:   domain.ProviderResend,
		Resend: &domain.ResendConfig{Enabled: domain.Bool(true), APIKey: "re_test", FromEmail: "ops@acme.io", FromName: "Acme"},
	}
}

func TestResendSender_Send(t *testing.T) {
	var got resendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "Bearer re_test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"id":"49a3999c-0ce1-4ea6-ab68-afcd6dc2e794"}`)
	}))
	defer srv.Close()

	pre := base64.StdEncoding.EncodeToString([]byte("binary"))
	sender := NewResendSender(HTTPSenderOptions{BaseURL: srv.URL, MaxRetries: -1})
	res, err := sender.Send(context.Background(), &domain.EmailMessage{
		To:      domain.Recipients{"a@x.com"},
		Subject: "Hi",
		HTML:    "<p>Hi</p>",
		Text:    "Hi",
		Attachments: []domain.Attachment{
			{Filename: "raw.txt", Content: "plain"},
			{Filename: "pre.bin", Content: pre, Encoding: "base64"},
		},
	}, resendProvider())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, domain.ProviderResend, res.Provider)
	assert.Equal(t, "49a3999c-0ce1-4ea6-ab68-afcd6dc2e794", res.MessageID)

	assert.Equal(t, `"Acme" <ops@acme.io>`, got.From)
	assert.Equal(t, []string{"a@x.com"}, got.To)
	require.Len(t, got.Attachments, 2)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("plain")), got.Attachments[0].Content)
	assert.Equal(t, pre, got.Attachments[1].Content)
}

func TestResendSender_RecipientLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	sender := NewResendSender(HTTPSenderOptions{BaseURL: srv.URL, MaxRetries: -1})
	_, err := sender.Send(context.Background(), &domain.EmailMessage{
		To: recipients(51), Subject: "S", HTML: "h",
	}, resendProvider())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRecipientLimitExceeded))

	var limit *domain.RecipientLimitError
	require.True(t, errors.As(err, &limit))
	assert.Equal(t, ResendMaxRecipients, limit.Limit)
	assert.Equal(t, 51, limit.Count)
	assert.Equal(t, int32(0), calls.Load())
}

func TestResendSender_UpstreamErrorVerbatim(t *testing.T) {
	body := `{"statusCode":422,"name":"validation_error","message":"Invalid from field"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	sender := NewResendSender(HTTPSenderOptions{BaseURL: srv.URL, MaxRetries: -1})
	_, err := sender.Send(context.Background(), &domain.EmailMessage{
		To: domain.Recipients{"a@x.com"}, Subject: "S", HTML: "h",
	}, resendProvider())
	require.Error(t, err)

	var upstream *domain.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, domain.ProviderResend, upstream.Provider)
	assert.Equal(t, http.StatusUnprocessableEntity, upstream.StatusCode)
	assert.Equal(t, body, upstream.Body)
	assert.Contains(t, err.Error(), "Invalid from field")
	assert.False(t, domain.IsRetryable(err))
}

func TestResendSender_MissingAPIKey(t *testing.T) {
	cfg := resendProvider()
	cfg.Resend.APIKey = ""
	_, err := NewResendSender(HTTPSenderOptions{}).Send(context.Background(), &domain.EmailMessage{
		To: domain.Recipients{"a@x.com"}, Subject: "S", HTML: "h",
	}, cfg)
	assert.True(t, errors.Is(err, domain.ErrConfigurationIncomplete))
}

// =============================================================================
// BrevoSender Tests
// =============================================================================

func brevoProvider() *domain.ProviderConfig {
	return &domain.ProviderConfig{
		Kind:  domain.ProviderBrevo,
		Brevo: &domain.BrevoConfig{Enabled: domain.Bool(true), APIKey: "xkeysib-test", FromEmail: "ops@acme.io", FromName: "Acme"},
	}
}

func TestBrevoSender_Send(t *testing.T) {
	var got brevoRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/smtp/email", r.URL.Path)
		assert.Equal(t, "xkeysib-test", r.Header.Get("api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"messageId":"<202601021200.123@smtp-relay.mailin.fr>"}`)
	}))
	defer srv.Close()

	sender := NewBrevoSender(HTTPSenderOptions{BaseURL: srv.URL, MaxRetries: -1})
	res, err := sender.Send(context.Background(), &domain.EmailMessage{
		To:          domain.Recipients{"a@x.com", "b@x.com"},
		Subject:     "Hi",
		HTML:        "<p>Hi</p>",
		ReplyTo:     "help@acme.io",
		Attachments: []domain.Attachment{{Filename: "n.txt", Content: "note"}},
	}, brevoProvider())
	require.NoError(t, err)

	assert.Equal(t, "<202601021200.123@smtp-relay.mailin.fr>", res.MessageID)
	assert.Equal(t, brevoContact{Email: "ops@acme.io", Name: "Acme"}, got.Sender)
	assert.Equal(t, []brevoContact{{Email: "a@x.com"}, {Email: "b@x.com"}}, got.To)
	assert.Equal(t, "<p>Hi</p>", got.HTMLContent)
	require.NotNil(t, got.ReplyTo)
	assert.Equal(t, "help@acme.io", got.ReplyTo.Email)
	require.Len(t, got.Attachment, 1)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("note")), got.Attachment[0].Content)
}

func TestBrevoSender_UpstreamErrorVerbatim(t *testing.T) {
	body := `{"code":"unauthorized","message":"Key not found"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	sender := NewBrevoSender(HTTPSenderOptions{BaseURL: srv.URL, MaxRetries: -1})
	_, err := sender.Send(context.Background(), &domain.EmailMessage{
		To: domain.Recipients{"a@x.com"}, Subject: "S", HTML: "h",
	}, brevoProvider())

	var upstream *domain.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, domain.ProviderBrevo, upstream.Provider)
	assert.Equal(t, body, upstream.Body)
}

func TestBrevoSender_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"messageId":"m-1"}`)
	}))
	defer srv.Close()

	sender := NewBrevoSender(HTTPSenderOptions{BaseURL: srv.URL, MaxRetries: 1})
	res, err := sender.Send(context.Background(), &domain.EmailMessage{
		To: domain.Recipients{"a@x.com"}, Subject: "S", HTML: "h",
	}, brevoProvider())
	require.NoError(t, err)
	assert.Equal(t, "m-1", res.MessageID)
	assert.Equal(t, int32(2), calls.Load())
}

package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProviderKind(t *testing.T) {
	tests := []struct {
		in   string
		want ProviderKind
		ok   bool
	}{
		{"persistent_smtp", ProviderSMTP, true},
		{" SMTP ", ProviderSMTP, true},
		{"microsoft_graph", ProviderGraph, true},
		{"resend", ProviderResend, true},
		{"brevo", ProviderBrevo, true},
		{"mailtrap", ProviderSandbox, true},
		{"ses_api", ProviderSES, true},
		{"", "", false},
		{"pigeon", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseProviderKind(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProviderConfig_Validate(t *testing.T) {
	var cfgErr *ConfigError

	smtp := &ProviderConfig{Kind: ProviderSMTP, SMTP: &SMTPConfig{Host: "mail.example.com", Port: 587, FromEmail: "noreply@example.com"}}
	assert.NoError(t, smtp.Validate())

	smtp.SMTP.Username = "user"
	err := smtp.Validate()
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, []string{"password"}, cfgErr.Missing)

	graph := &ProviderConfig{Kind: ProviderGraph, Graph: &GraphConfig{TenantID: "t", FromEmail: "a@b.com"}}
	err = graph.Validate()
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, []string{"client_id", "client_secret"}, cfgErr.Missing)

	missingVariant := &ProviderConfig{Kind: ProviderBrevo}
	assert.True(t, errors.Is(missingVariant.Validate(), ErrConfigurationIncomplete))

	var none *ProviderConfig
	assert.True(t, errors.Is(none.Validate(), ErrProviderUnavailable))
}

func TestProviderConfig_EnabledAndSender(t *testing.T) {
	sandbox := &ProviderConfig{Kind: ProviderSandbox, SMTP: &SMTPConfig{Enabled: Bool(false), FromEmail: "qa@example.com", FromName: "QA"}}
	assert.True(t, sandbox.Enabled())

	resend := &ProviderConfig{Kind: ProviderResend, Resend: &ResendConfig{FromEmail: "hi@example.com"}}
	assert.False(t, resend.Enabled())
	resend.Resend.Enabled = Bool(true)
	assert.True(t, resend.Enabled())

	email, name := sandbox.Sender()
	assert.Equal(t, "qa@example.com", email)
	assert.Equal(t, "QA", name)
}

func TestRecipients_UnmarshalJSON(t *testing.T) {
	var msg EmailMessage
	require.NoError(t, json.Unmarshal([]byte(`{"to":"a@x.com","subject":"S","html":"<p>hi</p>"}`), &msg))
	assert.Equal(t, Recipients{"a@x.com"}, msg.To)

	require.NoError(t, json.Unmarshal([]byte(`{"to":["a@x.com","b@x.com"]}`), &msg))
	assert.Equal(t, Recipients{"a@x.com", "b@x.com"}, msg.To)

	assert.Error(t, json.Unmarshal([]byte(`{"to":42}`), &msg))
}

func TestEmailMessage_CloneIsDeep(t *testing.T) {
	orig := EmailMessage{
		To:          Recipients{"a@x.com"},
		Subject:     "S",
		HTML:        "<p>x</p>",
		Attachments: []Attachment{{Filename: "a.txt", Content: "hello"}},
		Headers:     map[string]string{"X-A": "1"},
	}
	c := orig.Clone()
	c.To[0] = "changed@x.com"
	c.Attachments[0].Filename = "b.txt"
	c.Headers["X-A"] = "2"

	assert.Equal(t, "a@x.com", orig.To[0])
	assert.Equal(t, "a.txt", orig.Attachments[0].Filename)
	assert.Equal(t, "1", orig.Headers["X-A"])
}

func TestEmailMessage_Validate(t *testing.T) {
	msg := EmailMessage{To: Recipients{"a@x.com"}, Subject: "S", HTML: "<p>x</p>"}
	assert.NoError(t, msg.Validate())

	assert.Error(t, (&EmailMessage{Subject: "S", HTML: "x"}).Validate())
	assert.Error(t, (&EmailMessage{To: Recipients{"nope"}, Subject: "S", HTML: "x"}).Validate())
	assert.Error(t, (&EmailMessage{To: Recipients{"a@x.com"}, HTML: "x"}).Validate())
	assert.Error(t, (&EmailMessage{To: Recipients{"a@x.com"}, Subject: "S", HTML: "x",
		Attachments: []Attachment{{Filename: "f"}}}).Validate())
}

func TestBulkTestJob_BackoffDelay(t *testing.T) {
	job := &BulkTestJob{Options: JobOptions{Attempts: 3, Backoff: Backoff{Type: BackoffExponential, Delay: 5000}}}
	assert.Equal(t, 5*time.Second, job.BackoffDelay(1))
	assert.Equal(t, 10*time.Second, job.BackoffDelay(2))
	assert.Equal(t, 20*time.Second, job.BackoffDelay(3))

	job.Options.Backoff.Type = "fixed"
	assert.Equal(t, 5*time.Second, job.BackoffDelay(3))

	assert.False(t, job.Exhausted())
	job.AttemptsMade = 3
	assert.True(t, job.Exhausted())
}

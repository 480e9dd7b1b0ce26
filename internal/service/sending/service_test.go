package sending

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailengine/internal/config"
	"github.com/ignite/mailengine/internal/domain"
)

type recordingAdapter struct {
	mu   sync.Mutex
	kind domain.ProviderKind
	msgs []domain.EmailMessage
	cfgs []*domain.ProviderConfig
	err  error
}

func (a *recordingAdapter) Send(ctx context.Context, msg *domain.EmailMessage, cfg *domain.ProviderConfig) (*domain.SendResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = append(a.msgs, *msg)
	a.cfgs = append(a.cfgs, cfg)
	if a.err != nil {
		return nil, a.err
	}
	from, _ := cfg.Sender()
	return &domain.SendResult{Success: true, Provider: cfg.Kind, MessageID: "id-1", FromEmail: from}, nil
}

func newTestService(t *testing.T, env config.EnvMap) (*Service, map[domain.ProviderKind]*recordingAdapter) {
	t.Helper()
	recs := make(map[domain.ProviderKind]*recordingAdapter)
	adapters := make(map[domain.ProviderKind]Adapter)
	for _, k := range domain.AllProviderKinds() {
		r := &recordingAdapter{kind: k}
		recs[k] = r
		adapters[k] = r
	}
	svc, err := NewService(adapters, WithEnvironment(env))
	require.NoError(t, err)
	return svc, recs
}

func resendSettings() *domain.Settings {
	return &domain.Settings{
		EmailEnabled: true,
		Provider:     domain.ProviderResend,
		Resend:       domain.ResendConfig{Enabled: domain.Bool(true), APIKey: "re_test", FromEmail: "billing@example.com", FromName: "Billing"},
	}
}

func baseMessage() domain.EmailMessage {
	return domain.EmailMessage{To: domain.Recipients{"a@x.com"}, Subject: "S", HTML: "<p>Hello</p>"}
}

func TestNewService_RequiresEveryKind(t *testing.T) {
	_, err := NewService(map[domain.ProviderKind]Adapter{
		domain.ProviderSMTP: &recordingAdapter{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(domain.ProviderGraph))
	assert.Contains(t, err.Error(), string(domain.ProviderSandbox))
}

func TestSend_DispatchesToResolvedKind(t *testing.T) {
	svc, recs := newTestService(t, config.EnvMap{})

	msg := baseMessage()
	res, err := svc.Send(context.Background(), msg, resendSettings())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "billing@example.com", res.FromEmail)

	require.Len(t, recs[domain.ProviderResend].msgs, 1)
	assert.Empty(t, recs[domain.ProviderSMTP].msgs)
	sent := recs[domain.ProviderResend].msgs[0]
	assert.Equal(t, "Hello", sent.Text)
	// caller's message untouched
	assert.Empty(t, msg.Text)
}

func TestSend_NoProviderIsUnavailable(t *testing.T) {
	svc, _ := newTestService(t, config.EnvMap{})
	_, err := svc.Send(context.Background(), baseMessage(), &domain.Settings{EmailEnabled: true})
	assert.True(t, errors.Is(err, domain.ErrProviderUnavailable))
}

func TestSend_DisabledIsUnavailable(t *testing.T) {
	svc, recs := newTestService(t, config.EnvMap{})
	s := resendSettings()
	s.EmailEnabled = false

	_, err := svc.Send(context.Background(), baseMessage(), s)
	assert.True(t, errors.Is(err, domain.ErrProviderUnavailable))
	assert.Empty(t, recs[domain.ProviderResend].msgs)
	assert.False(t, svc.IsEmailEnabled(s))
}

func TestSend_SandboxIgnoresGlobalSwitch(t *testing.T) {
	svc, recs := newTestService(t, config.EnvMap{})
	s := &domain.Settings{
		EmailEnabled: false,
		Provider:     domain.ProviderSandbox,
		Sandbox:      domain.SMTPConfig{Host: "127.0.0.1", Port: 2525, FromEmail: "qa@example.com"},
	}
	assert.True(t, svc.IsEmailEnabled(s))

	_, err := svc.Send(context.Background(), baseMessage(), s)
	require.NoError(t, err)
	require.Len(t, recs[domain.ProviderSandbox].msgs, 1)
}

func TestSend_IncompleteConfigFailsBeforeAdapter(t *testing.T) {
	svc, recs := newTestService(t, config.EnvMap{})
	s := resendSettings()
	s.Resend.APIKey = ""

	_, err := svc.Send(context.Background(), baseMessage(), s)
	var cfgErr *domain.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, cfgErr.Missing, "api_key")
	assert.Empty(t, recs[domain.ProviderResend].msgs)
}

func TestSend_InvalidMessage(t *testing.T) {
	svc, _ := newTestService(t, config.EnvMap{})
	_, err := svc.Send(context.Background(), domain.EmailMessage{Subject: "S", HTML: "x"}, resendSettings())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid message")
}

func TestSend_TestModeRedirects(t *testing.T) {
	svc, recs := newTestService(t, config.EnvMap{"EMAIL_TEST_MODE": "true", "EMAIL_TEST_RECIPIENT": "qa@y.com"})

	msg := baseMessage()
	_, err := svc.Send(context.Background(), msg, resendSettings())
	require.NoError(t, err)

	sent := recs[domain.ProviderResend].msgs[0]
	assert.Equal(t, domain.Recipients{"qa@y.com"}, sent.To)
	assert.Equal(t, "[TEST -> a@x.com] S", sent.Subject)
	assert.Equal(t, domain.Recipients{"a@x.com"}, msg.To)
}

func TestSend_ExplicitTestEmailBypassesRedirect(t *testing.T) {
	svc, recs := newTestService(t, config.EnvMap{"EMAIL_TEST_MODE": "true", "EMAIL_TEST_RECIPIENT": "qa@y.com"})

	msg := baseMessage()
	msg.IsTestEmail = true
	_, err := svc.Send(context.Background(), msg, resendSettings())
	require.NoError(t, err)

	sent := recs[domain.ProviderResend].msgs[0]
	assert.Equal(t, domain.Recipients{"a@x.com"}, sent.To)
	assert.Equal(t, "S", sent.Subject)
	assert.Equal(t, "true", sent.Headers[TestEmailHeader])
	assert.Nil(t, msg.Headers)
}

func TestSend_AdapterErrorPropagates(t *testing.T) {
	svc, recs := newTestService(t, config.EnvMap{})
	recs[domain.ProviderResend].err = &domain.UpstreamError{Provider: domain.ProviderResend, StatusCode: 422, Body: `{"message":"invalid from"}`}

	_, err := svc.Send(context.Background(), baseMessage(), resendSettings())
	var up *domain.UpstreamError
	require.True(t, errors.As(err, &up))
	assert.Equal(t, `{"message":"invalid from"}`, up.Body)
}

func TestProvider_EnvDeclaredKind(t *testing.T) {
	svc, _ := newTestService(t, config.EnvMap{"EMAIL_PROVIDER": "brevo", "BREVO_API_KEY": "xkeysib"})
	cfg := svc.Provider(&domain.Settings{})
	require.NotNil(t, cfg)
	assert.Equal(t, domain.ProviderBrevo, cfg.Kind)
}

package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/mail"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailengine/internal/domain"
	"github.com/ignite/mailengine/internal/pool"
)

// =============================================================================
// In-process SMTP server
// =============================================================================

type receivedMail struct {
	From string
	To   []string
	Data []byte
}

type testBackend struct {
	mu       sync.Mutex
	messages []receivedMail
	sessions int
	rejectTo string
}

func (b *testBackend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	b.mu.Lock()
	b.sessions++
	b.mu.Unlock()
	return &testSession{backend: b}, nil
}

func (b *testBackend) received() []receivedMail {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]receivedMail(nil), b.messages...)
}

func (b *testBackend) sessionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions
}

type testSession struct {
	backend *testBackend
	from    string
	to      []string
}

func (s *testSession) Mail(from string, _ *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *testSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	if to == s.backend.rejectTo {
		return &smtp.SMTPError{Code: 550, EnhancedCode: smtp.EnhancedCode{5, 1, 1}, Message: "mailbox unavailable"}
	}
	s.to = append(s.to, to)
	return nil
}

func (s *testSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.backend.mu.Lock()
	s.backend.messages = append(s.backend.messages, receivedMail{From: s.from, To: s.to, Data: data})
	s.backend.mu.Unlock()
	return nil
}

func (s *testSession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *testSession) Logout() error { return nil }

func startSMTPServer(t *testing.T) (*testBackend, string, int) {
	t.Helper()
	be := &testBackend{}
	srv := smtp.NewServer(be)
	srv.Domain = "localhost"
	srv.ReadTimeout = 5 * time.Second
	srv.WriteTimeout = 5 * time.Second
	srv.AllowInsecureAuth = true

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return be, host, port
}

func smtpProvider(kind domain.ProviderKind, host string, port int) *domain.ProviderConfig {
	return &domain.ProviderConfig{
		Kind: kind,
		SMTP: &domain.SMTPConfig{
			Enabled:     domain.Bool(true),
			Host:        host,
			Port:        port,
			FromEmail:   "ops@acme.io",
			FromName:    "Acme Ops",
			PoolSize:    1,
			MaxMessages: 100,
		},
	}
}

func newTestPool(t *testing.T) *pool.Manager {
	t.Helper()
	m := pool.NewManager(pool.Options{
		RateLimit: 100,
		Timeouts:  pool.Timeouts{Dial: 2 * time.Second, Greeting: 2 * time.Second, Socket: 2 * time.Second},
	})
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// =============================================================================
// SMTPSender Tests
// =============================================================================

func TestSMTPSender_DeliversOverPooledConnection(t *testing.T) {
	be, host, port := startSMTPServer(t)
	mgr := newTestPool(t)
	sender := NewSMTPSender(mgr, nil)
	cfg := smtpProvider(domain.ProviderSMTP, host, port)

	for i := 0; i < 3; i++ {
		res, err := sender.Send(context.Background(), &domain.EmailMessage{
			To:      domain.Recipients{"user@example.com"},
			Subject: "Welcome",
			HTML:    "<p>Hello</p>",
			Text:    "Hello",
		}, cfg)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, domain.ProviderSMTP, res.Provider)
		assert.Equal(t, "ops@acme.io", res.FromEmail)
		assert.NotEqual(t, domain.UnknownMessageID, res.MessageID)
	}

	got := be.received()
	require.Len(t, got, 3)
	assert.Equal(t, "ops@acme.io", got[0].From)
	assert.Equal(t, []string{"user@example.com"}, got[0].To)
	assert.Equal(t, 1, be.sessionCount(), "messages should reuse one connection")

	m, err := mail.ReadMessage(bytes.NewReader(got[0].Data))
	require.NoError(t, err)
	assert.Equal(t, `"Acme Ops" <ops@acme.io>`, m.Header.Get("From"))

	stats := mgr.Stats()
	require.Equal(t, 1, stats.TotalConnections)
	assert.Equal(t, int64(3), stats.PerKey[0].MessageCount)
}

func TestSMTPSender_SandboxUsesSamePath(t *testing.T) {
	be, host, port := startSMTPServer(t)
	sender := NewSMTPSender(newTestPool(t), nil)

	res, err := sender.Send(context.Background(), &domain.EmailMessage{
		To:      domain.Recipients{"qa@example.com"},
		Subject: "Preview",
		HTML:    "<p>Preview</p>",
	}, smtpProvider(domain.ProviderSandbox, host, port))
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderSandbox, res.Provider)
	assert.Len(t, be.received(), 1)
}

func TestSMTPSender_RejectedRecipientIsUpstreamError(t *testing.T) {
	be, host, port := startSMTPServer(t)
	be.rejectTo = "gone@example.com"
	mgr := newTestPool(t)
	sender := NewSMTPSender(mgr, nil)
	cfg := smtpProvider(domain.ProviderSMTP, host, port)

	_, err := sender.Send(context.Background(), &domain.EmailMessage{
		To:      domain.Recipients{"gone@example.com"},
		Subject: "Hi",
		HTML:    "<p>Hi</p>",
	}, cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUpstreamRejected))

	var upstream *domain.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, domain.ProviderSMTP, upstream.Provider)
	assert.Equal(t, 550, upstream.StatusCode)
	assert.Equal(t, domain.ProtocolSMTP, upstream.Protocol)
	assert.Contains(t, upstream.Body, "mailbox unavailable")
	assert.Contains(t, err.Error(), "smtp status 550")
	assert.False(t, domain.IsRetryable(err))
	assert.Equal(t, 1, mgr.Len(), "a rejection keeps the pooled transport")

	_, err = sender.Send(context.Background(), &domain.EmailMessage{
		To:      domain.Recipients{"ok@example.com"},
		Subject: "Hi",
		HTML:    "<p>Hi</p>",
	}, cfg)
	require.NoError(t, err)
	assert.Len(t, be.received(), 1)
}

func TestSMTPSender_IncompleteConfig(t *testing.T) {
	sender := NewSMTPSender(newTestPool(t), nil)
	cfg := &domain.ProviderConfig{Kind: domain.ProviderSMTP, SMTP: &domain.SMTPConfig{Enabled: domain.Bool(true), Port: 587}}

	_, err := sender.Send(context.Background(), &domain.EmailMessage{
		To: domain.Recipients{"a@x.com"}, Subject: "S", HTML: "h",
	}, cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfigurationIncomplete))
}

func TestSMTPSender_UnreachableHostIsTransportError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	mgr := newTestPool(t)
	sender := NewSMTPSender(mgr, nil)
	_, err = sender.Send(context.Background(), &domain.EmailMessage{
		To: domain.Recipients{"a@x.com"}, Subject: "S", HTML: "h",
	}, smtpProvider(domain.ProviderSMTP, "127.0.0.1", port))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTransport))
	assert.Equal(t, 0, mgr.Len())
}

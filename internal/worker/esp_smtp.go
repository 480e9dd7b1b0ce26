package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/mailengine/internal/domain"
	"github.com/ignite/mailengine/internal/pkg/logger"
	"github.com/ignite/mailengine/internal/pool"
	"github.com/ignite/mailengine/internal/storage"
)

// SMTPSender delivers through pooled SMTP transports. It serves both the
// persistent_smtp and sandbox_smtp kinds; only the config variant differs.
type SMTPSender struct {
	pool   *pool.Manager
	loader storage.Loader
	now    func() time.Time
}

// NewSMTPSender creates an SMTP sender backed by the given pool.
func NewSMTPSender(p *pool.Manager, loader storage.Loader) *SMTPSender {
	return &SMTPSender{pool: p, loader: loader, now: time.Now}
}

// Send implements sending.Adapter.
func (s *SMTPSender) Send(ctx context.Context, msg *domain.EmailMessage, cfg *domain.ProviderConfig) (*domain.SendResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	// Both SMTP kinds carry their resolved variant in cfg.SMTP.
	smtpCfg := cfg.SMTP

	atts, err := EncodeAttachments(ctx, s.loader, msg.Attachments)
	if err != nil {
		return nil, err
	}

	fromEmail, fromName := cfg.Sender()
	messageID := NewMessageID(fromEmail)
	data := MIMEFromMessage(msg, FormatFrom(fromName, fromEmail), messageID, atts)

	t, err := s.pool.Acquire(ctx, pool.EndpointFromConfig(smtpCfg))
	if err != nil {
		return nil, err
	}

	start := time.Now()
	err = t.Send(ctx, pool.Envelope{From: fromEmail, To: msg.To, Data: data})
	if err != nil {
		var upstream *domain.UpstreamError
		if errors.As(err, &upstream) {
			upstream.Provider = cfg.Kind
		}
		logger.Warn(fmt.Sprintf("[SMTP] send via %s failed", cfg.Kind),
			"key", t.Key(),
			"to", logger.RedactEmails(msg.To),
			"error", err.Error(),
		)
		return nil, err
	}

	logger.Info(fmt.Sprintf("[SMTP] sent via %s", cfg.Kind),
		"key", t.Key(),
		"to", logger.RedactEmails(msg.To),
		"message_id", messageID,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	return &domain.SendResult{
		Success:   true,
		Provider:  cfg.Kind,
		MessageID: messageID,
		FromEmail: fromEmail,
		SentAt:    s.now(),
	}, nil
}

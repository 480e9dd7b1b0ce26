// Package sending is the delivery engine: it resolves the active provider,
// applies test mode, derives plain text and dispatches to the adapter for
// the provider kind. Oversized recipient lists are fanned out by the batch
// splitter.
//
// Each provider kind (persistent SMTP, sandbox SMTP, Graph, Resend, Brevo,
// SES) is served by one Adapter. The Service refuses to start unless every
// kind has one.
package sending

import (
	"context"

	"github.com/ignite/mailengine/internal/domain"
)

// Adapter sends a message through one provider. Implementations must be
// safe for concurrent use and must return a *domain.ConfigError before any
// network call when cfg lacks required fields.
type Adapter interface {
	Send(ctx context.Context, msg *domain.EmailMessage, cfg *domain.ProviderConfig) (*domain.SendResult, error)
}

// AdapterFunc adapts a function to the Adapter interface.
type AdapterFunc func(ctx context.Context, msg *domain.EmailMessage, cfg *domain.ProviderConfig) (*domain.SendResult, error)

func (f AdapterFunc) Send(ctx context.Context, msg *domain.EmailMessage, cfg *domain.ProviderConfig) (*domain.SendResult, error) {
	return f(ctx, msg, cfg)
}

// SendFunc sends one chunk of a split message.
type SendFunc func(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error)

// SettingsSource loads the persisted email settings for an organisation.
type SettingsSource interface {
	Settings(ctx context.Context, orgID string) (*domain.Settings, error)
}

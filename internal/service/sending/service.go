package sending

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ignite/mailengine/internal/config"
	"github.com/ignite/mailengine/internal/domain"
	"github.com/ignite/mailengine/internal/pkg/logger"
)

// TestEmailHeader marks messages sent as explicit test emails.
const TestEmailHeader = "X-Test-Email"

// Service is the delivery engine entry point.
type Service struct {
	adapters map[domain.ProviderKind]Adapter
	env      config.Environment
}

// Option configures a Service.
type Option func(*Service)

// WithEnvironment overrides where runtime overrides are read from.
func WithEnvironment(env config.Environment) Option {
	return func(s *Service) { s.env = env }
}

// NewService builds the engine. It fails unless every provider kind has an
// adapter, so a missing kind is caught at startup rather than at send time.
func NewService(adapters map[domain.ProviderKind]Adapter, opts ...Option) (*Service, error) {
	var missing []string
	for _, k := range domain.AllProviderKinds() {
		if adapters[k] == nil {
			missing = append(missing, string(k))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("no adapter registered for: %s", strings.Join(missing, ", "))
	}

	s := &Service{
		adapters: make(map[domain.ProviderKind]Adapter, len(adapters)),
		env:      config.OSEnv{},
	}
	for k, a := range adapters {
		s.adapters[k] = a
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Provider returns the resolved provider configuration, or nil when none is
// configured.
func (s *Service) Provider(settings *domain.Settings) *domain.ProviderConfig {
	return config.Resolve(settings, s.env)
}

// IsEmailEnabled reports whether settings allow delivery right now.
func (s *Service) IsEmailEnabled(settings *domain.Settings) bool {
	return config.IsEmailEnabled(config.GlobalEnabled(settings, s.env), s.Provider(settings))
}

// Send delivers msg using the provider resolved from settings. msg is not
// modified. Whether a failed send should undo anything is the caller's call.
func (s *Service) Send(ctx context.Context, msg domain.EmailMessage, settings *domain.Settings) (*domain.SendResult, error) {
	cfg := config.Resolve(settings, s.env)
	if cfg == nil {
		return nil, &domain.UnavailableError{Reason: "no email provider configured"}
	}
	if !config.IsEmailEnabled(config.GlobalEnabled(settings, s.env), cfg) {
		return nil, &domain.UnavailableError{Provider: cfg.Kind, Reason: "email delivery is disabled"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}

	out := s.prepare(msg, settings)

	adapter := s.adapters[cfg.Kind]
	res, err := adapter.Send(ctx, &out, cfg)
	if err != nil {
		logger.Error("[Engine] send failed",
			"provider", string(cfg.Kind),
			"to", logger.RedactEmails(out.To),
			"error", err,
		)
		return nil, err
	}

	if res.Success {
		logger.Info("[Engine] sent",
			"provider", string(cfg.Kind),
			"to", logger.RedactEmails(out.To),
			"message_id", res.MessageID,
			"calls", max(res.MessagesSent, 1),
		)
	} else {
		logger.Warn("[Engine] send incomplete",
			"provider", string(cfg.Kind),
			"to", logger.RedactEmails(out.To),
			"error", res.Error,
		)
	}
	return res, nil
}

// prepare applies test mode (or the test email header) and fills the text
// body, always on a copy.
func (s *Service) prepare(msg domain.EmailMessage, settings *domain.Settings) domain.EmailMessage {
	var out domain.EmailMessage
	if msg.IsTestEmail {
		out = msg.Clone()
		if out.Headers == nil {
			out.Headers = make(map[string]string, 1)
		}
		out.Headers[TestEmailHeader] = "true"
	} else {
		tm := config.ResolveTestMode(settings, s.env)
		out = ApplyTestMode(msg, tm)
		if tm.Active() {
			logger.Debug("[Engine] test mode redirect", "original_to", logger.RedactEmails(msg.To))
		}
	}
	if out.Text == "" {
		out.Text = HTMLToText(out.HTML)
	}
	return out
}

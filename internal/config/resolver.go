package config

import (
	"os"
	"strconv"
	"strings"

	"dario.cat/mergo"

	"github.com/ignite/mailengine/internal/domain"
	"github.com/ignite/mailengine/internal/pkg/logger"
)

// Hard defaults for fields neither persisted nor overridden.
const (
	DefaultFromName       = "Notifications"
	DefaultSMTPPort       = 587
	DefaultSMTPSecurePort = 465
	DefaultSandboxHost    = "sandbox.smtp.mailtrap.io"
	DefaultSandboxPort    = 2525
	DefaultSESRegion      = "us-east-1"
	DefaultPoolSize       = 5
	DefaultMaxMessages    = 100
)

// Environment supplies runtime overrides by variable name.
type Environment interface {
	Lookup(key string) string
}

// OSEnv reads the process environment.
type OSEnv struct{}

func (OSEnv) Lookup(key string) string { return os.Getenv(key) }

// EnvMap is a fixed environment, mostly for tests.
type EnvMap map[string]string

func (m EnvMap) Lookup(key string) string { return m[key] }

func envInt(env Environment, key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(env.Lookup(key)))
	if err != nil {
		return 0
	}
	return n
}

func envBool(env Environment, key string) (bool, bool) {
	v := strings.TrimSpace(env.Lookup(key))
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// credentialLayer merges credential and endpoint fields: a non-empty env
// value wins over the persisted one, then defaults fill what is still empty.
func credentialLayer[T any](persisted, env, defaults T) T {
	out := persisted
	if err := mergo.Merge(&out, env, mergo.WithOverride); err != nil {
		logger.Error("[Resolver] credential merge failed", "error", err)
	}
	if err := mergo.Merge(&out, defaults); err != nil {
		logger.Error("[Resolver] default merge failed", "error", err)
	}
	return out
}

// displayLayer merges non-credential fields: persisted first, then env,
// then defaults. Each layer only fills fields the previous left empty.
func displayLayer[T any](persisted, env, defaults T) T {
	out := persisted
	if err := mergo.Merge(&out, env); err != nil {
		logger.Error("[Resolver] display merge failed", "error", err)
	}
	if err := mergo.Merge(&out, defaults); err != nil {
		logger.Error("[Resolver] default merge failed", "error", err)
	}
	return out
}

type display struct {
	FromName string
}

// Resolve merges persisted settings with environment overrides into the
// single active provider configuration. It returns nil when no provider is
// declared anywhere, meaning delivery is unavailable.
func Resolve(settings *domain.Settings, env Environment) *domain.ProviderConfig {
	if env == nil {
		env = OSEnv{}
	}
	var s domain.Settings
	if settings != nil {
		s = *settings
	}

	kind, fromEnv := activeKind(s, env)
	if kind == "" {
		logger.Debug("[Resolver] no provider configured")
		return nil
	}

	cfg := &domain.ProviderConfig{Kind: kind}
	switch kind {
	case domain.ProviderSMTP:
		c := resolveSMTP(s.SMTP, env, "SMTP_", fromEnv, domain.SMTPConfig{Port: DefaultSMTPPort})
		cfg.SMTP = &c
	case domain.ProviderSandbox:
		c := resolveSMTP(s.Sandbox, env, "SANDBOX_SMTP_", fromEnv, domain.SMTPConfig{Host: DefaultSandboxHost, Port: DefaultSandboxPort})
		c.Enabled = domain.Bool(true)
		cfg.SMTP = &c
	case domain.ProviderGraph:
		c := resolveGraph(s.Graph, env, fromEnv)
		cfg.Graph = &c
	case domain.ProviderResend:
		c := resolveResend(s.Resend, env, fromEnv)
		cfg.Resend = &c
	case domain.ProviderBrevo:
		c := resolveBrevo(s.Brevo, env, fromEnv)
		cfg.Brevo = &c
	case domain.ProviderSES:
		c := resolveSES(s.SES, env, fromEnv)
		cfg.SES = &c
	}

	source := "settings"
	if fromEnv {
		source = "env"
	}
	fromEmail, _ := cfg.Sender()
	logger.Debug("[Resolver] provider resolved",
		"provider", string(kind),
		"source", source,
		"enabled", cfg.Enabled(),
		"from_email", fromEmail,
	)
	return cfg
}

// activeKind returns the persisted provider kind, falling back to
// EMAIL_PROVIDER only when nothing usable is persisted.
func activeKind(s domain.Settings, env Environment) (domain.ProviderKind, bool) {
	if s.Provider != "" {
		if k, ok := domain.ParseProviderKind(string(s.Provider)); ok {
			return k, false
		}
		logger.Warn("[Resolver] ignoring unknown persisted provider", "provider", string(s.Provider))
	}
	if k, ok := domain.ParseProviderKind(env.Lookup("EMAIL_PROVIDER")); ok {
		return k, true
	}
	return "", false
}

// variantEnabled resolves a variant's enable flag. A provider declared only
// through the environment defaults to enabled.
func variantEnabled(persisted *bool, env Environment, prefix string, fromEnv bool) *bool {
	return optionalBool(persisted, env, prefix+"ENABLED", fromEnv)
}

// optionalBool applies persisted > env > default to a non-credential flag.
// The result is always a fresh pointer.
func optionalBool(persisted *bool, env Environment, key string, def bool) *bool {
	if persisted != nil {
		return domain.Bool(*persisted)
	}
	if v, ok := envBool(env, key); ok {
		return &v
	}
	return domain.Bool(def)
}

func resolveSMTP(p domain.SMTPConfig, env Environment, prefix string, fromEnv bool, defaults domain.SMTPConfig) domain.SMTPConfig {
	type endpoint struct {
		Host        string
		Port        int
		Username    string
		Password    string
		FromEmail   string
		PoolSize    int
		MaxMessages int
	}

	secure := p.Secure
	if v, ok := envBool(env, prefix+"SECURE"); ok {
		secure = v
	}
	defaultPort := defaults.Port
	if secure && prefix == "SMTP_" {
		defaultPort = DefaultSMTPSecurePort
	}

	ep := credentialLayer(
		endpoint{p.Host, p.Port, p.Username, p.Password, p.FromEmail, p.PoolSize, p.MaxMessages},
		endpoint{
			Host:        env.Lookup(prefix + "HOST"),
			Port:        envInt(env, prefix+"PORT"),
			Username:    env.Lookup(prefix + "USER"),
			Password:    env.Lookup(prefix + "PASS"),
			FromEmail:   env.Lookup(prefix + "FROM_EMAIL"),
			PoolSize:    envInt(env, prefix+"POOL_SIZE"),
			MaxMessages: envInt(env, prefix+"MAX_MESSAGES"),
		},
		endpoint{Host: defaults.Host, Port: defaultPort, PoolSize: DefaultPoolSize, MaxMessages: DefaultMaxMessages},
	)
	d := displayLayer(
		display{p.FromName},
		display{env.Lookup(prefix + "FROM_NAME")},
		display{DefaultFromName},
	)

	reject := optionalBool(p.RejectUnauthorized, env, prefix+"REJECT_UNAUTHORIZED", false)
	// Submission relays expect STARTTLS; local catchers usually speak plaintext.
	startTLS := optionalBool(p.StartTLS, env, prefix+"STARTTLS", prefix == "SMTP_")

	return domain.SMTPConfig{
		Enabled:            variantEnabled(p.Enabled, env, prefix, fromEnv),
		Host:               ep.Host,
		Port:               ep.Port,
		Secure:             secure,
		Username:           ep.Username,
		Password:           ep.Password,
		FromEmail:          ep.FromEmail,
		FromName:           d.FromName,
		StartTLS:           startTLS,
		RejectUnauthorized: reject,
		PoolSize:           ep.PoolSize,
		MaxMessages:        ep.MaxMessages,
	}
}

func resolveGraph(p domain.GraphConfig, env Environment, fromEnv bool) domain.GraphConfig {
	type creds struct {
		TenantID     string
		ClientID     string
		ClientSecret string
		FromEmail    string
		SendAs       string
	}
	c := credentialLayer(
		creds{p.TenantID, p.ClientID, p.ClientSecret, p.FromEmail, p.SendAs},
		creds{
			TenantID:     env.Lookup("GRAPH_TENANT_ID"),
			ClientID:     env.Lookup("GRAPH_CLIENT_ID"),
			ClientSecret: env.Lookup("GRAPH_CLIENT_SECRET"),
			FromEmail:    env.Lookup("GRAPH_FROM_EMAIL"),
			SendAs:       env.Lookup("GRAPH_SEND_AS"),
		},
		creds{},
	)
	d := displayLayer(display{p.FromName}, display{env.Lookup("GRAPH_FROM_NAME")}, display{DefaultFromName})
	return domain.GraphConfig{
		Enabled:      variantEnabled(p.Enabled, env, "GRAPH_", fromEnv),
		TenantID:     c.TenantID,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		FromEmail:    c.FromEmail,
		SendAs:       c.SendAs,
		FromName:     d.FromName,
	}
}

type apiKeyCreds struct {
	APIKey    string
	FromEmail string
}

func resolveResend(p domain.ResendConfig, env Environment, fromEnv bool) domain.ResendConfig {
	c := credentialLayer(
		apiKeyCreds{p.APIKey, p.FromEmail},
		apiKeyCreds{env.Lookup("RESEND_API_KEY"), env.Lookup("RESEND_FROM_EMAIL")},
		apiKeyCreds{},
	)
	d := displayLayer(display{p.FromName}, display{env.Lookup("RESEND_FROM_NAME")}, display{DefaultFromName})
	return domain.ResendConfig{
		Enabled:   variantEnabled(p.Enabled, env, "RESEND_", fromEnv),
		APIKey:    c.APIKey,
		FromEmail: c.FromEmail,
		FromName:  d.FromName,
	}
}

func resolveBrevo(p domain.BrevoConfig, env Environment, fromEnv bool) domain.BrevoConfig {
	c := credentialLayer(
		apiKeyCreds{p.APIKey, p.FromEmail},
		apiKeyCreds{env.Lookup("BREVO_API_KEY"), env.Lookup("BREVO_FROM_EMAIL")},
		apiKeyCreds{},
	)
	d := displayLayer(display{p.FromName}, display{env.Lookup("BREVO_FROM_NAME")}, display{DefaultFromName})
	return domain.BrevoConfig{
		Enabled:   variantEnabled(p.Enabled, env, "BREVO_", fromEnv),
		APIKey:    c.APIKey,
		FromEmail: c.FromEmail,
		FromName:  d.FromName,
	}
}

func resolveSES(p domain.SESConfig, env Environment, fromEnv bool) domain.SESConfig {
	type creds struct {
		AccessKey string
		SecretKey string
		Region    string
		FromEmail string
	}
	c := credentialLayer(
		creds{p.AccessKey, p.SecretKey, p.Region, p.FromEmail},
		creds{
			AccessKey: env.Lookup("SES_ACCESS_KEY"),
			SecretKey: env.Lookup("SES_SECRET_KEY"),
			Region:    env.Lookup("SES_REGION"),
			FromEmail: env.Lookup("SES_FROM_EMAIL"),
		},
		creds{Region: DefaultSESRegion},
	)
	d := displayLayer(display{p.FromName}, display{env.Lookup("SES_FROM_NAME")}, display{DefaultFromName})
	return domain.SESConfig{
		Enabled:   variantEnabled(p.Enabled, env, "SES_", fromEnv),
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Region:    c.Region,
		FromEmail: c.FromEmail,
		FromName:  d.FromName,
	}
}

// GlobalEnabled returns the global delivery switch: the persisted flag or
// EMAIL_ENABLED=true.
func GlobalEnabled(settings *domain.Settings, env Environment) bool {
	if settings != nil && settings.EmailEnabled {
		return true
	}
	if env == nil {
		env = OSEnv{}
	}
	v, _ := envBool(env, "EMAIL_ENABLED")
	return v
}

// IsEmailEnabled reports whether cfg may deliver. The sandbox provider is
// always enabled; every other kind needs the global switch and its own flag.
func IsEmailEnabled(globalEnabled bool, cfg *domain.ProviderConfig) bool {
	if cfg == nil {
		return false
	}
	if cfg.Kind == domain.ProviderSandbox {
		return true
	}
	return globalEnabled && cfg.Enabled()
}

// ResolveTestMode merges the test-mode switch and redirect recipient:
// persisted values first, then EMAIL_TEST_MODE / EMAIL_TEST_RECIPIENT.
func ResolveTestMode(settings *domain.Settings, env Environment) domain.TestMode {
	if env == nil {
		env = OSEnv{}
	}
	var persisted domain.TestMode
	if settings != nil {
		persisted = settings.TestMode
	}
	tm := displayLayer(
		domain.TestMode{Recipient: persisted.Recipient},
		domain.TestMode{Recipient: strings.TrimSpace(env.Lookup("EMAIL_TEST_RECIPIENT"))},
		domain.TestMode{},
	)
	tm.Enabled = optionalBool(persisted.Enabled, env, "EMAIL_TEST_MODE", false)
	return tm
}

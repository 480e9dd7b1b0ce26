package domain

import (
	"strings"
)

// ProviderKind identifies the transport used for a send. The set is closed:
// every kind must have an adapter registered with the sending service.
type ProviderKind string

const (
	ProviderSMTP    ProviderKind = "persistent_smtp"
	ProviderGraph   ProviderKind = "oauth_mail_api"
	ProviderResend  ProviderKind = "http_api_a"
	ProviderBrevo   ProviderKind = "http_api_b"
	ProviderSandbox ProviderKind = "sandbox_smtp"
	ProviderSES     ProviderKind = "ses_api"
)

// AllProviderKinds lists every supported provider kind.
func AllProviderKinds() []ProviderKind {
	return []ProviderKind{
		ProviderSMTP,
		ProviderGraph,
		ProviderResend,
		ProviderBrevo,
		ProviderSandbox,
		ProviderSES,
	}
}

var providerAliases = map[string]ProviderKind{
	"smtp":            ProviderSMTP,
	"microsoft_graph": ProviderGraph,
	"graph":           ProviderGraph,
	"office365":       ProviderGraph,
	"resend":          ProviderResend,
	"brevo":           ProviderBrevo,
	"sendinblue":      ProviderBrevo,
	"sandbox":         ProviderSandbox,
	"mailtrap":        ProviderSandbox,
	"ses":             ProviderSES,
}

// ParseProviderKind accepts canonical kinds and a few common aliases.
func ParseProviderKind(s string) (ProviderKind, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", false
	}
	for _, k := range AllProviderKinds() {
		if string(k) == s {
			return k, true
		}
	}
	k, ok := providerAliases[s]
	return k, ok
}

// UsesSMTP reports whether the kind is delivered over a pooled SMTP connection.
func (k ProviderKind) UsesSMTP() bool {
	return k == ProviderSMTP || k == ProviderSandbox
}

// Bool returns a pointer to v. Optional flags use nil for "not set" so an
// explicit false survives layering.
func Bool(v bool) *bool { return &v }

// IsTrue reports whether an optional flag is set and true.
func IsTrue(b *bool) bool { return b != nil && *b }

// SMTPConfig configures the persistent_smtp and sandbox_smtp providers.
type SMTPConfig struct {
	Enabled   *bool  `json:"enabled,omitempty" yaml:"enabled"`
	Host      string `json:"host" yaml:"host"`
	Port      int    `json:"port" yaml:"port"`
	Secure    bool   `json:"secure" yaml:"secure"`
	Username  string `json:"username,omitempty" yaml:"username"`
	Password  string `json:"password,omitempty" yaml:"password"`
	FromEmail string `json:"from_email" yaml:"from_email"`
	FromName  string `json:"from_name" yaml:"from_name"`
	// StartTLS upgrades a plaintext connection before authenticating.
	// Ignored when Secure is set. Nil means "not set".
	StartTLS *bool `json:"starttls,omitempty" yaml:"starttls"`
	// RejectUnauthorized only takes effect for loopback hosts; remote
	// certificates are always verified. Nil means "not set".
	RejectUnauthorized *bool `json:"reject_unauthorized,omitempty" yaml:"reject_unauthorized"`
	PoolSize           int   `json:"pool_size,omitempty" yaml:"pool_size"`
	MaxMessages        int   `json:"max_messages,omitempty" yaml:"max_messages"`
}

// GraphConfig configures the Microsoft Graph (OAuth client credentials) provider.
type GraphConfig struct {
	Enabled      *bool  `json:"enabled,omitempty" yaml:"enabled"`
	TenantID     string `json:"tenant_id" yaml:"tenant_id"`
	ClientID     string `json:"client_id" yaml:"client_id"`
	ClientSecret string `json:"client_secret,omitempty" yaml:"client_secret"`
	FromEmail    string `json:"from_email" yaml:"from_email"`
	// SendAs is the visible From identity when it differs from the mailbox
	// the application is authorised to send through.
	SendAs   string `json:"send_as,omitempty" yaml:"send_as"`
	FromName string `json:"from_name" yaml:"from_name"`
}

// ResendConfig configures the bearer-token HTTP API provider.
type ResendConfig struct {
	Enabled   *bool  `json:"enabled,omitempty" yaml:"enabled"`
	APIKey    string `json:"api_key,omitempty" yaml:"api_key"`
	FromEmail string `json:"from_email" yaml:"from_email"`
	FromName  string `json:"from_name" yaml:"from_name"`
}

// BrevoConfig configures the api-key-header HTTP API provider.
type BrevoConfig struct {
	Enabled   *bool  `json:"enabled,omitempty" yaml:"enabled"`
	APIKey    string `json:"api_key,omitempty" yaml:"api_key"`
	FromEmail string `json:"from_email" yaml:"from_email"`
	FromName  string `json:"from_name" yaml:"from_name"`
}

// SESConfig configures the AWS SES v2 provider.
type SESConfig struct {
	Enabled   *bool  `json:"enabled,omitempty" yaml:"enabled"`
	AccessKey string `json:"access_key,omitempty" yaml:"access_key"`
	SecretKey string `json:"secret_key,omitempty" yaml:"secret_key"`
	Region    string `json:"region" yaml:"region"`
	FromEmail string `json:"from_email" yaml:"from_email"`
	FromName  string `json:"from_name" yaml:"from_name"`
}

// ProviderConfig is the resolved configuration of the single provider active
// for a send. Exactly one variant pointer matching Kind is non-nil.
type ProviderConfig struct {
	Kind   ProviderKind  `json:"kind"`
	SMTP   *SMTPConfig   `json:"smtp,omitempty"`
	Graph  *GraphConfig  `json:"graph,omitempty"`
	Resend *ResendConfig `json:"resend,omitempty"`
	Brevo  *BrevoConfig  `json:"brevo,omitempty"`
	SES    *SESConfig    `json:"ses,omitempty"`
}

// Enabled reports the variant's own enable flag. The sandbox is always enabled.
func (c *ProviderConfig) Enabled() bool {
	if c == nil {
		return false
	}
	switch c.Kind {
	case ProviderSandbox:
		return true
	case ProviderSMTP:
		return c.SMTP != nil && IsTrue(c.SMTP.Enabled)
	case ProviderGraph:
		return c.Graph != nil && IsTrue(c.Graph.Enabled)
	case ProviderResend:
		return c.Resend != nil && IsTrue(c.Resend.Enabled)
	case ProviderBrevo:
		return c.Brevo != nil && IsTrue(c.Brevo.Enabled)
	case ProviderSES:
		return c.SES != nil && IsTrue(c.SES.Enabled)
	}
	return false
}

// Sender returns the nominal from address and display name.
func (c *ProviderConfig) Sender() (email, name string) {
	if c == nil {
		return "", ""
	}
	switch {
	case c.SMTP != nil:
		return c.SMTP.FromEmail, c.SMTP.FromName
	case c.Graph != nil:
		return c.Graph.FromEmail, c.Graph.FromName
	case c.Resend != nil:
		return c.Resend.FromEmail, c.Resend.FromName
	case c.Brevo != nil:
		return c.Brevo.FromEmail, c.Brevo.FromName
	case c.SES != nil:
		return c.SES.FromEmail, c.SES.FromName
	}
	return "", ""
}

// Validate fails with a *ConfigError listing every missing required field.
// It never performs I/O.
func (c *ProviderConfig) Validate() error {
	if c == nil {
		return &UnavailableError{Reason: "no provider configured"}
	}
	var missing []string
	need := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, field)
		}
	}

	switch c.Kind {
	case ProviderSMTP, ProviderSandbox:
		if c.SMTP == nil {
			return &ConfigError{Provider: c.Kind, Missing: []string{"smtp"}}
		}
		need("host", c.SMTP.Host)
		if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
			missing = append(missing, "port")
		}
		need("from_email", c.SMTP.FromEmail)
		if c.SMTP.Username != "" && c.SMTP.Password == "" {
			missing = append(missing, "password")
		}
	case ProviderGraph:
		if c.Graph == nil {
			return &ConfigError{Provider: c.Kind, Missing: []string{"graph"}}
		}
		need("tenant_id", c.Graph.TenantID)
		need("client_id", c.Graph.ClientID)
		need("client_secret", c.Graph.ClientSecret)
		need("from_email", c.Graph.FromEmail)
	case ProviderResend:
		if c.Resend == nil {
			return &ConfigError{Provider: c.Kind, Missing: []string{"resend"}}
		}
		need("api_key", c.Resend.APIKey)
		need("from_email", c.Resend.FromEmail)
	case ProviderBrevo:
		if c.Brevo == nil {
			return &ConfigError{Provider: c.Kind, Missing: []string{"brevo"}}
		}
		need("api_key", c.Brevo.APIKey)
		need("from_email", c.Brevo.FromEmail)
	case ProviderSES:
		if c.SES == nil {
			return &ConfigError{Provider: c.Kind, Missing: []string{"ses"}}
		}
		need("access_key", c.SES.AccessKey)
		need("secret_key", c.SES.SecretKey)
		need("region", c.SES.Region)
		need("from_email", c.SES.FromEmail)
	default:
		return &UnavailableError{Provider: c.Kind, Reason: "unknown provider kind"}
	}

	if len(missing) > 0 {
		return &ConfigError{Provider: c.Kind, Missing: missing}
	}
	return nil
}

// TestMode redirects every outbound message to one inspection address.
type TestMode struct {
	Enabled   *bool  `json:"enabled,omitempty" yaml:"enabled"`
	Recipient string `json:"recipient,omitempty" yaml:"recipient"`
}

// Active reports whether messages should be redirected.
func (t TestMode) Active() bool {
	return IsTrue(t.Enabled) && strings.TrimSpace(t.Recipient) != ""
}

// Settings is the persisted email settings snapshot for one organisation.
// It is an input to the resolver and travels inside bulk jobs.
type Settings struct {
	EmailEnabled bool         `json:"email_enabled" yaml:"email_enabled"`
	Provider     ProviderKind `json:"provider,omitempty" yaml:"provider"`
	SMTP         SMTPConfig   `json:"smtp" yaml:"smtp"`
	Sandbox      SMTPConfig   `json:"sandbox_smtp" yaml:"sandbox_smtp"`
	Graph        GraphConfig  `json:"graph" yaml:"graph"`
	Resend       ResendConfig `json:"resend" yaml:"resend"`
	Brevo        BrevoConfig  `json:"brevo" yaml:"brevo"`
	SES          SESConfig    `json:"ses" yaml:"ses"`
	TestMode     TestMode     `json:"test_mode" yaml:"test_mode"`
}

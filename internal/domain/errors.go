package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Every typed error below matches one of them with errors.Is.
var (
	ErrConfigurationIncomplete = errors.New("configuration incomplete")
	ErrProviderUnavailable     = errors.New("provider unavailable")
	ErrTransport               = errors.New("transport error")
	ErrTimeout                 = errors.New("timeout")
	ErrUpstreamRejected        = errors.New("upstream rejected")
	ErrRecipientLimitExceeded  = errors.New("recipient limit exceeded")
)

// ConfigError is returned before any network call when required fields of
// the resolved provider are absent.
type ConfigError struct {
	Provider ProviderKind
	Missing  []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s for %s: missing %s", ErrConfigurationIncomplete, e.Provider, strings.Join(e.Missing, ", "))
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfigurationIncomplete }

// UnavailableError means no provider was resolved, or it is disabled.
type UnavailableError struct {
	Provider ProviderKind
	Reason   string
}

func (e *UnavailableError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("%s: %s", ErrProviderUnavailable, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrProviderUnavailable, e.Provider, e.Reason)
}

func (e *UnavailableError) Is(target error) bool { return target == ErrProviderUnavailable }

// TransportError is a connection, handshake or timeout failure on a pooled
// connection. The pool evicts the handle before returning it.
type TransportError struct {
	Key     string
	Op      string
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	kind := "transport error"
	if e.Timeout {
		kind = "transport timeout"
	}
	return fmt.Sprintf("%s during %s: %v", kind, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport || (e.Timeout && target == ErrTimeout)
}

// Protocols an UpstreamError status code can come from.
const (
	ProtocolHTTP = "http"
	ProtocolSMTP = "smtp"
)

// UpstreamError carries a provider's rejection verbatim: an HTTP status and
// body, or an SMTP reply code and text. An empty Protocol means HTTP.
type UpstreamError struct {
	Provider   ProviderKind
	Protocol   string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	proto := e.Protocol
	if proto == "" {
		proto = ProtocolHTTP
	}
	return fmt.Sprintf("%s: %s returned %s status %d: %s", ErrUpstreamRejected, e.Provider, proto, e.StatusCode, e.Body)
}

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstreamRejected }

// RecipientLimitError is raised when a provider cannot batch and the caller
// must shrink the recipient list.
type RecipientLimitError struct {
	Provider ProviderKind
	Limit    int
	Count    int
}

func (e *RecipientLimitError) Error() string {
	return fmt.Sprintf("%s: %s accepts at most %d recipients per message, got %d", ErrRecipientLimitExceeded, e.Provider, e.Limit, e.Count)
}

func (e *RecipientLimitError) Is(target error) bool { return target == ErrRecipientLimitExceeded }

// IsRetryable reports whether a failed send may succeed on a later attempt.
// Configuration, availability and recipient-limit errors never will.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConfigurationIncomplete) ||
		errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrRecipientLimitExceeded) {
		return false
	}
	var up *UpstreamError
	if errors.As(err, &up) {
		if up.Protocol == ProtocolSMTP {
			// 4xx replies are transient, 5xx are permanent
			return up.StatusCode >= 400 && up.StatusCode < 500
		}
		return up.StatusCode == 429 || up.StatusCode >= 500
	}
	return true
}

package pool

import (
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"net"
	"strings"

	"github.com/ignite/mailengine/internal/domain"
)

// Endpoint is an SMTP server plus the principal that sends through it.
type Endpoint struct {
	Host               string
	Port               int
	Secure             bool
	StartTLS           bool
	Username           string
	Password           string
	RejectUnauthorized bool

	// Per-endpoint overrides of the manager limits. Zero uses the default.
	MaxConnections int
	MaxMessages    int
}

// EndpointFromConfig builds an Endpoint from a resolved SMTP variant.
func EndpointFromConfig(c *domain.SMTPConfig) Endpoint {
	ep := Endpoint{
		Host:           c.Host,
		Port:           c.Port,
		Secure:         c.Secure,
		StartTLS:       domain.IsTrue(c.StartTLS),
		Username:       c.Username,
		Password:       c.Password,
		MaxConnections: c.PoolSize,
		MaxMessages:    c.MaxMessages,
	}
	if c.RejectUnauthorized != nil {
		ep.RejectUnauthorized = *c.RejectUnauthorized
	}
	return ep.Normalize()
}

// Normalize rewrites a bare "localhost" to 127.0.0.1 so dialing never stalls
// on dual-stack resolution.
func (e Endpoint) Normalize() Endpoint {
	h := strings.TrimSpace(strings.ToLower(e.Host))
	if h == "localhost" {
		h = "127.0.0.1"
	}
	e.Host = h
	return e
}

// IsLoopback reports whether the endpoint targets the local machine.
func (e Endpoint) IsLoopback() bool {
	if strings.EqualFold(e.Host, "localhost") {
		return true
	}
	ip := net.ParseIP(e.Host)
	return ip != nil && ip.IsLoopback()
}

// Addr returns host:port.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, fmt.Sprintf("%d", e.Port))
}

// Key identifies the pool entry for this endpoint. The password only
// contributes a short fingerprint.
func (e Endpoint) Key() string {
	e = e.Normalize()
	mode := "plain"
	switch {
	case e.Secure:
		mode = "tls"
	case e.StartTLS:
		mode = "starttls"
	}
	fp := ""
	if e.Password != "" {
		sum := sha256.Sum256([]byte(e.Username + "\x00" + e.Password))
		fp = hex.EncodeToString(sum[:6])
	}
	return fmt.Sprintf("%s:%d:%s:%s:%s", e.Host, e.Port, e.Username, fp, mode)
}

// TLSConfig returns the client TLS settings. Certificate checks are only
// relaxed for loopback targets that did not ask for strict verification.
func (e Endpoint) TLSConfig() *tls.Config {
	return &tls.Config{
		ServerName:         e.Host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: e.IsLoopback() && !e.RejectUnauthorized, //nolint:gosec // loopback only
	}
}

package pool

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/ignite/mailengine/internal/domain"
)

// SMTPDialer opens SMTP connections with emersion/go-smtp: implicit TLS when
// the endpoint is Secure, STARTTLS when the endpoint asks for it, and PLAIN
// auth when a username is set.
type SMTPDialer struct {
	// LocalName is sent in EHLO. Defaults to "localhost".
	LocalName string
}

// Dial connects, reads the greeting and authenticates. The whole handshake
// is bounded by the greeting timeout.
func (d *SMTPDialer) Dial(ctx context.Context, ep Endpoint, to Timeouts) (Conn, error) {
	nd := &net.Dialer{Timeout: to.Dial}
	var (
		raw net.Conn
		err error
	)
	if ep.Secure {
		td := &tls.Dialer{NetDialer: nd, Config: ep.TLSConfig()}
		raw, err = td.DialContext(ctx, "tcp", ep.Addr())
	} else {
		raw, err = nd.DialContext(ctx, "tcp", ep.Addr())
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", ep.Addr(), err)
	}

	// go-smtp resets socket deadlines per command, so the handshake bound
	// closes the socket instead.
	var expired *time.Timer
	if to.Greeting > 0 {
		expired = time.AfterFunc(to.Greeting, func() { raw.Close() })
	}
	stopCtx := context.AfterFunc(ctx, func() { raw.Close() })
	c, err := d.handshake(raw, ep)
	if !stopCtx() && err == nil {
		err = ctx.Err()
	}
	if expired != nil && !expired.Stop() && err == nil {
		err = fmt.Errorf("greeting: timed out after %s", to.Greeting)
	}
	if err != nil {
		if c != nil {
			c.Close()
		} else {
			raw.Close()
		}
		return nil, err
	}

	if to.Socket > 0 {
		c.CommandTimeout = to.Socket
		c.SubmissionTimeout = to.Socket
	}
	return &smtpConn{client: c}, nil
}

func (d *SMTPDialer) handshake(raw net.Conn, ep Endpoint) (*smtp.Client, error) {
	localName := d.LocalName
	if localName == "" {
		localName = "localhost"
	}

	var c *smtp.Client
	if !ep.Secure && ep.StartTLS {
		// NewClientStartTLS greets as "localhost"; the post-upgrade EHLO
		// carries the configured name.
		sc, err := smtp.NewClientStartTLS(raw, ep.TLSConfig())
		if err != nil {
			return nil, fmt.Errorf("starttls: %w", err)
		}
		c = sc
	} else {
		c = smtp.NewClient(raw)
	}
	if err := c.Hello(localName); err != nil {
		return c, fmt.Errorf("greeting: %w", err)
	}
	if ep.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", ep.Username, ep.Password)); err != nil {
			return c, fmt.Errorf("auth: %w", err)
		}
	}
	return c, nil
}

type smtpConn struct {
	client *smtp.Client
}

// Send runs one MAIL/RCPT/DATA transaction. Server replies with an error
// code come back as *domain.UpstreamError. A cancelled ctx aborts the
// transaction by closing the connection.
func (c *smtpConn) Send(ctx context.Context, env Envelope) error {
	stop := context.AfterFunc(ctx, func() { c.client.Close() })
	defer stop()

	if err := c.client.Mail(env.From, nil); err != nil {
		return mapSMTPError(err)
	}
	for _, rcpt := range env.To {
		if err := c.client.Rcpt(rcpt, nil); err != nil {
			return mapSMTPError(err)
		}
	}
	w, err := c.client.Data()
	if err != nil {
		return mapSMTPError(err)
	}
	if _, err := bytes.NewReader(env.Data).WriteTo(w); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return mapSMTPError(err)
	}
	return nil
}

func (c *smtpConn) Reset() error {
	return c.client.Reset()
}

func (c *smtpConn) Close() error {
	if err := c.client.Quit(); err != nil {
		return c.client.Close()
	}
	return nil
}

func mapSMTPError(err error) error {
	var se *smtp.SMTPError
	if errors.As(err, &se) {
		return &domain.UpstreamError{Protocol: domain.ProtocolSMTP, StatusCode: se.Code, Body: se.Message}
	}
	return err
}

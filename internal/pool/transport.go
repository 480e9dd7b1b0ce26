package pool

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/ignite/mailengine/internal/domain"
	"github.com/ignite/mailengine/internal/pkg/logger"
)

// Envelope is one message ready for the wire.
type Envelope struct {
	From string
	To   []string
	Data []byte
}

// Timeouts bound each phase of an SMTP exchange.
type Timeouts struct {
	Dial     time.Duration
	Greeting time.Duration
	Socket   time.Duration
}

// Conn is one live physical connection.
type Conn interface {
	Send(ctx context.Context, env Envelope) error
	// Reset aborts the current mail transaction, keeping the connection.
	Reset() error
	Close() error
}

// Dialer opens physical connections for a Transport.
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint, to Timeouts) (Conn, error)
}

// ErrTransportClosed is returned by Send on an evicted or closed Transport.
var ErrTransportClosed = errors.New("transport closed")

type slot struct {
	conn Conn
	sent int
}

// Transport is the pooled handle for one key. It owns up to maxConns
// physical connections, each carrying one message at a time. Idle
// connections are reused most-recently-released first, so a sequential
// caller keeps a single warm connection.
type Transport struct {
	key      string
	endpoint Endpoint
	manager  *Manager
	dialer   Dialer
	timeouts Timeouts
	limiter  *rate.Limiter
	maxMsgs  int
	sem      chan struct{}

	createdAt time.Time

	mu       sync.Mutex
	idle     []*slot
	lastUsed time.Time
	closed   bool

	messageCount atomic.Int64
	connCount    atomic.Int64
	open         atomic.Int32
}

func newTransport(m *Manager, key string, ep Endpoint) *Transport {
	maxConns := m.opts.MaxConnections
	if ep.MaxConnections > 0 {
		maxConns = ep.MaxConnections
	}
	maxMsgs := m.opts.MaxMessages
	if ep.MaxMessages > 0 {
		maxMsgs = ep.MaxMessages
	}

	now := m.clock.Now()
	t := &Transport{
		key:       key,
		endpoint:  ep,
		manager:   m,
		dialer:    m.dialer,
		timeouts:  m.opts.Timeouts,
		limiter:   rate.NewLimiter(rate.Every(m.opts.RateDelta/time.Duration(m.opts.RateLimit)), m.opts.RateLimit),
		maxMsgs:   maxMsgs,
		sem:       make(chan struct{}, maxConns),
		createdAt: now,
		lastUsed:  now,
	}
	return t
}

// Key returns the pool key of this transport.
func (t *Transport) Key() string { return t.key }

// MessageCount returns the number of messages sent successfully.
func (t *Transport) MessageCount() int64 { return t.messageCount.Load() }

// ConnectionCount returns how many physical connections were established.
func (t *Transport) ConnectionCount() int64 { return t.connCount.Load() }

// LastUsed returns the time of the last successful send.
func (t *Transport) LastUsed() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastUsed
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Send transmits one message. Rejections reported by the server return an
// *domain.UpstreamError and keep the connection; any other failure closes
// the connection, evicts the transport and returns a *domain.TransportError.
func (t *Transport) Send(ctx context.Context, env Envelope) error {
	if t.isClosed() {
		return &domain.TransportError{Key: t.key, Op: "acquire", Err: ErrTransportClosed}
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return &domain.TransportError{Key: t.key, Op: "rate", Timeout: isTimeout(err), Err: err}
	}

	select {
	case t.sem <- struct{}{}:
	case <-ctx.Done():
		return &domain.TransportError{Key: t.key, Op: "acquire", Timeout: isTimeout(ctx.Err()), Err: ctx.Err()}
	}
	s := t.acquire()
	defer t.release(s)

	if s.conn != nil && s.sent >= t.maxMsgs {
		logger.Debug("[Pool] rotating connection", "key", t.key, "sent", s.sent)
		t.closeSlot(s)
	}
	if s.conn == nil {
		conn, err := t.dialer.Dial(ctx, t.endpoint, t.timeouts)
		if err != nil {
			t.fail()
			return &domain.TransportError{Key: t.key, Op: "dial", Timeout: isTimeout(err), Err: err}
		}
		s.conn = conn
		s.sent = 0
		t.connCount.Add(1)
		t.open.Add(1)
	}

	if err := s.conn.Send(ctx, env); err != nil {
		var rejected *domain.UpstreamError
		if errors.As(err, &rejected) {
			if rerr := s.conn.Reset(); rerr == nil {
				return err
			}
		}
		t.closeSlot(s)
		t.fail()
		return &domain.TransportError{Key: t.key, Op: "send", Timeout: isTimeout(err), Err: err}
	}

	s.sent++
	t.messageCount.Add(1)
	t.mu.Lock()
	t.lastUsed = t.manager.clock.Now()
	t.mu.Unlock()
	return nil
}

// acquire pops the most recently used idle connection, or an empty slot
// when none is idle. The caller must hold a sem token.
func (t *Transport) acquire() *slot {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := len(t.idle); n > 0 {
		s := t.idle[n-1]
		t.idle[n-1] = nil
		t.idle = t.idle[:n-1]
		return s
	}
	return &slot{}
}

// release parks a live connection on the idle stack and returns the sem
// token. Connections released after close are shut down instead.
func (t *Transport) release(s *slot) {
	t.mu.Lock()
	keep := !t.closed && s.conn != nil
	if keep {
		t.idle = append(t.idle, s)
	}
	t.mu.Unlock()
	if !keep {
		t.closeSlot(s)
	}
	<-t.sem
}

func (t *Transport) closeSlot(s *slot) {
	if s.conn == nil {
		return
	}
	if err := s.conn.Close(); err != nil {
		logger.Debug("[Pool] close connection", "key", t.key, "error", err)
	}
	s.conn = nil
	s.sent = 0
	t.open.Add(-1)
}

func (t *Transport) fail() {
	t.manager.evict(t, "transport error")
}

// close marks the transport closed and closes every idle connection.
// Connections in use are closed when their send returns.
func (t *Transport) close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	idle := t.idle
	t.idle = nil
	t.mu.Unlock()

	for _, s := range idle {
		t.closeSlot(s)
	}
}

func (t *Transport) snapshot(now time.Time) domain.PooledConnection {
	return domain.PooledConnection{
		Key:             t.key,
		Host:            t.endpoint.Host,
		Port:            t.endpoint.Port,
		MessageCount:    t.messageCount.Load(),
		ConnectionCount: t.connCount.Load(),
		OpenConnections: int(t.open.Load()),
		CreatedAt:       t.createdAt,
		LastUsed:        t.LastUsed(),
		Age:             now.Sub(t.createdAt).Milliseconds(),
	}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

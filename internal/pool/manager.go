package pool

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ignite/mailengine/internal/domain"
	"github.com/ignite/mailengine/internal/pkg/logger"
)

// Pool defaults.
const (
	DefaultMaxConnections = 5
	DefaultMaxMessages    = 100
	DefaultRateLimit      = 5
	DefaultRateDelta      = time.Second
	DefaultIdleTimeout    = 5 * time.Minute
	DefaultSweepInterval  = 5 * time.Minute
	DefaultTimeout        = 10 * time.Second
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("pool closed")

// Options configure a Manager. Zero values take the defaults above.
type Options struct {
	MaxConnections int
	MaxMessages    int
	RateLimit      int
	RateDelta      time.Duration
	IdleTimeout    time.Duration
	SweepInterval  time.Duration
	Timeouts       Timeouts
	Dialer         Dialer
	Clock          Clock
}

// Manager is the process-wide registry of pooled transports.
type Manager struct {
	opts   Options
	dialer Dialer
	clock  Clock

	mu         sync.Mutex
	transports map[string]*Transport
	closed     bool
}

// NewManager creates an empty registry.
func NewManager(opts Options) *Manager {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = DefaultMaxConnections
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = DefaultMaxMessages
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = DefaultRateLimit
	}
	if opts.RateDelta <= 0 {
		opts.RateDelta = DefaultRateDelta
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Timeouts.Dial <= 0 {
		opts.Timeouts.Dial = DefaultTimeout
	}
	if opts.Timeouts.Greeting <= 0 {
		opts.Timeouts.Greeting = DefaultTimeout
	}
	if opts.Timeouts.Socket <= 0 {
		opts.Timeouts.Socket = DefaultTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = &SMTPDialer{}
	}
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	return &Manager{
		opts:       opts,
		dialer:     opts.Dialer,
		clock:      opts.Clock,
		transports: make(map[string]*Transport),
	}
}

// Acquire returns the transport for ep, creating it on first use. Creation
// only allocates; the first Send dials. Concurrent callers for one key
// always get the same transport.
func (m *Manager) Acquire(ctx context.Context, ep Endpoint) (*Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ep = ep.Normalize()
	key := ep.Key()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrPoolClosed
	}
	if t, ok := m.transports[key]; ok && !t.isClosed() {
		return t, nil
	}
	t := newTransport(m, key, ep)
	m.transports[key] = t
	logger.Debug("[Pool] created transport", "key", key, "host", ep.Host, "port", ep.Port)
	return t, nil
}

// evict removes t if it is still the registered transport for its key,
// then closes it.
func (m *Manager) evict(t *Transport, reason string) {
	m.mu.Lock()
	if cur, ok := m.transports[t.key]; ok && cur == t {
		delete(m.transports, t.key)
	}
	m.mu.Unlock()

	t.close()
	logger.Info("[Pool] evicted transport", "key", t.key, "reason", reason)
}

// EvictIdle closes and removes every transport unused for at least the idle
// timeout. It returns the number evicted.
func (m *Manager) EvictIdle(now time.Time) int {
	m.mu.Lock()
	var idle []*Transport
	for key, t := range m.transports {
		if now.Sub(t.LastUsed()) >= m.opts.IdleTimeout {
			idle = append(idle, t)
			delete(m.transports, key)
		}
	}
	m.mu.Unlock()

	for _, t := range idle {
		t.close()
		logger.Info("[Pool] evicted idle transport", "key", t.key, "messages", t.MessageCount())
	}
	return len(idle)
}

// Run sweeps idle transports every SweepInterval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	logger.Info("[Pool] sweeper starting", "interval", m.opts.SweepInterval.String(), "idle_timeout", m.opts.IdleTimeout.String())
	ticker := m.clock.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("[Pool] sweeper stopping")
			return
		case now := <-ticker.C():
			if n := m.EvictIdle(now); n > 0 {
				logger.Debug("[Pool] sweep complete", "evicted", n)
			}
		}
	}
}

// Close tears down every transport. Acquire fails afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	all := make([]*Transport, 0, len(m.transports))
	for _, t := range m.transports {
		all = append(all, t)
	}
	m.transports = make(map[string]*Transport)
	m.mu.Unlock()

	for _, t := range all {
		t.close()
	}
	logger.Info("[Pool] closed", "transports", len(all))
	return nil
}

// Len returns the number of registered transports.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transports)
}

// Stats returns a snapshot of the registry, ordered by key.
func (m *Manager) Stats() domain.PoolSnapshot {
	now := m.clock.Now()
	m.mu.Lock()
	per := make([]domain.PooledConnection, 0, len(m.transports))
	for _, t := range m.transports {
		per = append(per, t.snapshot(now))
	}
	m.mu.Unlock()

	sort.Slice(per, func(i, j int) bool { return per[i].Key < per[j].Key })
	return domain.PoolSnapshot{TotalConnections: len(per), PerKey: per}
}

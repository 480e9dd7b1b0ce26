package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailengine/internal/domain"
	"github.com/ignite/mailengine/internal/pkg/distlock"
)

type fakeEngine struct {
	mu       sync.Mutex
	subjects []string
	failFor  map[string]error
	provider *domain.ProviderConfig
}

func (f *fakeEngine) Send(_ context.Context, msg domain.EmailMessage, _ *domain.Settings) (*domain.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, msg.Subject)
	if err := f.failFor[msg.Subject]; err != nil {
		return nil, err
	}
	return &domain.SendResult{Success: true, Provider: domain.ProviderSandbox, MessageID: "m-" + msg.Subject}, nil
}

func (f *fakeEngine) Provider(*domain.Settings) *domain.ProviderConfig { return f.provider }

func (f *fakeEngine) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subjects...)
}

func newTestProcessor(t *testing.T, engine *fakeEngine, limiter *RateLimiter) (*BulkProcessor, *BulkQueue, time.Time) {
	t.Helper()
	_, client := newTestRedis(t)
	q := NewBulkQueue(client, "test")
	p := NewBulkProcessor(q, client, engine, limiter, BulkProcessorOptions{Lease: time.Minute})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	return p, q, now
}

func TestBulkProcessor_SendsAndAcks(t *testing.T) {
	engine := &fakeEngine{}
	p, q, now := newTestProcessor(t, engine, nil)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, testJob("a", 0, 10), now))

	outcome, err := p.ProcessOne(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, outcome)
	assert.Equal(t, []string{"Subject a"}, engine.sent())

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStats{Completed: 1}, stats)

	marker, err := p.redis.Get(ctx, p.doneKey("a")).Result()
	require.NoError(t, err)
	assert.Equal(t, "m-Subject a", marker)

	outcome, err = p.ProcessOne(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIdle, outcome)
}

func TestBulkProcessor_FailureDoesNotBlockSiblings(t *testing.T) {
	engine := &fakeEngine{failFor: map[string]error{
		"Subject bad": &domain.TransportError{Key: "k", Op: "send", Err: errors.New("connection reset")},
	}}
	p, q, now := newTestProcessor(t, engine, nil)
	ctx := context.Background()
	jobs := []domain.BulkTestJob{*testJob("bad", 0, 1), *testJob("good1", 0, 10), *testJob("good2", 0, 10)}
	require.NoError(t, q.EnqueueAll(ctx, jobs, now))

	var outcomes []JobOutcome
	for i := 0; i < 3; i++ {
		o, err := p.ProcessOne(ctx)
		require.NoError(t, err)
		outcomes = append(outcomes, o)
	}
	assert.Equal(t, []JobOutcome{OutcomeRetry, OutcomeSent, OutcomeSent}, outcomes)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStats{Delayed: 1, Completed: 2}, stats)

	score, err := p.redis.ZScore(ctx, q.Key("delayed"), "bad").Result()
	require.NoError(t, err)
	assert.Equal(t, float64(now.Add(time.Second).UnixMilli()), score, "first retry waits the base backoff")
}

func TestBulkProcessor_ExponentialBackoffThenDeadLetter(t *testing.T) {
	engine := &fakeEngine{failFor: map[string]error{
		"Subject flaky": &domain.UpstreamError{Provider: domain.ProviderResend, StatusCode: 503, Body: "unavailable"},
	}}
	p, q, now := newTestProcessor(t, engine, nil)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, testJob("flaky", 0, 10), now))

	clock := now
	p.now = func() time.Time { return clock }

	wantDelays := []time.Duration{time.Second, 2 * time.Second}
	for _, d := range wantDelays {
		o, err := p.ProcessOne(ctx)
		require.NoError(t, err)
		require.Equal(t, OutcomeRetry, o)
		score, err := p.redis.ZScore(ctx, q.Key("delayed"), "flaky").Result()
		require.NoError(t, err)
		assert.Equal(t, float64(clock.Add(d).UnixMilli()), score)
		clock = clock.Add(d)
	}

	o, err := p.ProcessOne(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeadLetter, o)

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, 3, dead[0].AttemptsMade)
	assert.Contains(t, dead[0].LastError, "unavailable")
}

func TestBulkProcessor_NonRetryableGoesStraightToDeadLetter(t *testing.T) {
	engine := &fakeEngine{failFor: map[string]error{
		"Subject cfg": &domain.ConfigError{Provider: domain.ProviderSMTP, Missing: []string{"host"}},
	}}
	p, q, now := newTestProcessor(t, engine, nil)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, testJob("cfg", 0, 10), now))

	o, err := p.ProcessOne(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeadLetter, o)
}

func TestBulkProcessor_SkipsDeliveredJob(t *testing.T) {
	engine := &fakeEngine{}
	p, q, now := newTestProcessor(t, engine, nil)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, testJob("dup", 0, 10), now))
	require.NoError(t, p.redis.Set(ctx, p.doneKey("dup"), "m-1", time.Hour).Err())

	o, err := p.ProcessOne(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, o)
	assert.Empty(t, engine.sent())
}

func TestBulkProcessor_LockedJobLeftAlone(t *testing.T) {
	engine := &fakeEngine{}
	p, q, now := newTestProcessor(t, engine, nil)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, testJob("busy", 0, 10), now))

	other := distlock.NewRedisLock(p.redis, q.Key("job:busy"), time.Minute)
	ok, err := other.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	o, err := p.ProcessOne(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLocked, o)
	assert.Empty(t, engine.sent())
}

func TestBulkProcessor_ThrottledJobKeepsAttempts(t *testing.T) {
	engine := &fakeEngine{provider: &domain.ProviderConfig{Kind: domain.ProviderSandbox}}
	_, client := newTestRedis(t)
	limiter := NewRateLimiter(client, "test", map[domain.ProviderKind]RateLimit{
		domain.ProviderSandbox: {RequestsPerSecond: 1},
	})

	q := NewBulkQueue(client, "test")
	p := NewBulkProcessor(q, client, engine, limiter, BulkProcessorOptions{Lease: time.Minute})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	limiter.now = p.now

	ctx := context.Background()
	require.NoError(t, q.EnqueueAll(ctx, []domain.BulkTestJob{*testJob("one", 0, 10), *testJob("two", 0, 10)}, now))

	o, err := p.ProcessOne(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, o)

	o, err = p.ProcessOne(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeThrottled, o)
	assert.Len(t, engine.sent(), 1)

	body, err := client.HGet(ctx, q.Key("jobs"), "two").Result()
	require.NoError(t, err)
	assert.Contains(t, body, `"attemptsMade":0`)

	score, err := client.ZScore(ctx, q.Key("delayed"), "two").Result()
	require.NoError(t, err)
	assert.Equal(t, float64(now.Add(time.Second).UnixMilli()), score)
}

func TestBulkProcessor_RunDrainsQueue(t *testing.T) {
	engine := &fakeEngine{}
	_, client := newTestRedis(t)
	q := NewBulkQueue(client, "test")
	p := NewBulkProcessor(q, client, engine, nil, BulkProcessorOptions{Workers: 3, PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobs, err := PlanBulkTest(BulkTestRequest{To: domain.Recipients{"inbox@test.io"}, Count: 6, Subject: "Run"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, q.EnqueueAll(ctx, jobs, time.Now()))

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		stats, err := q.Stats(context.Background())
		return err == nil && stats.Completed == 6
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	<-done
	assert.Len(t, engine.sent(), 6)
}

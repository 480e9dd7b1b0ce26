package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailengine/internal/domain"
	"github.com/ignite/mailengine/internal/pkg/distlock"
	"github.com/ignite/mailengine/internal/pkg/logger"
)

// =============================================================================
// BULK PROCESSOR — claims due jobs and hands them to the engine
// =============================================================================
// Each job is processed under a per-job Redis lock and skipped when its done
// marker exists, so a job recovered after a crash is never sent twice once
// it has succeeded. Failures consume an attempt and are retried with the
// job's backoff; rate-limit denials are requeued without consuming one.
// A failing job only ever touches its own queue entry.

// Bulk processor defaults.
const (
	DefaultBulkWorkers      = 2
	DefaultBulkPollInterval = 500 * time.Millisecond
	DefaultBulkLease        = 2 * time.Minute
	DefaultDoneMarkerTTL    = 24 * time.Hour
)

// BulkEngine is the part of the sending service the processor needs.
type BulkEngine interface {
	Send(ctx context.Context, msg domain.EmailMessage, settings *domain.Settings) (*domain.SendResult, error)
	Provider(settings *domain.Settings) *domain.ProviderConfig
}

// BulkProcessorOptions configure a BulkProcessor. Zero values take the
// defaults above.
type BulkProcessorOptions struct {
	Workers      int
	PollInterval time.Duration
	Lease        time.Duration
	DoneTTL      time.Duration
}

// JobOutcome is what ProcessOne did with a claimed job.
type JobOutcome string

const (
	OutcomeIdle       JobOutcome = "idle"
	OutcomeSent       JobOutcome = "sent"
	OutcomeDuplicate  JobOutcome = "duplicate"
	OutcomeLocked     JobOutcome = "locked"
	OutcomeThrottled  JobOutcome = "throttled"
	OutcomeRetry      JobOutcome = "retry"
	OutcomeDeadLetter JobOutcome = "dead_letter"
)

// BulkProcessor drains a BulkQueue.
type BulkProcessor struct {
	queue   *BulkQueue
	redis   redis.UniversalClient
	engine  BulkEngine
	limiter *RateLimiter
	opts    BulkProcessorOptions
	now     func() time.Time
}

// NewBulkProcessor creates a processor. limiter may be nil.
func NewBulkProcessor(queue *BulkQueue, client redis.UniversalClient, engine BulkEngine, limiter *RateLimiter, opts BulkProcessorOptions) *BulkProcessor {
	if opts.Workers <= 0 {
		opts.Workers = DefaultBulkWorkers
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultBulkPollInterval
	}
	if opts.Lease <= 0 {
		opts.Lease = DefaultBulkLease
	}
	if opts.DoneTTL <= 0 {
		opts.DoneTTL = DefaultDoneMarkerTTL
	}
	return &BulkProcessor{
		queue:   queue,
		redis:   client,
		engine:  engine,
		limiter: limiter,
		opts:    opts,
		now:     time.Now,
	}
}

func (p *BulkProcessor) doneKey(id string) string { return p.queue.Key("done:" + id) }

// ProcessOne claims and handles at most one due job.
func (p *BulkProcessor) ProcessOne(ctx context.Context) (JobOutcome, error) {
	now := p.now()
	job, err := p.queue.Claim(ctx, now, p.opts.Lease)
	if errors.Is(err, ErrQueueEmpty) {
		return OutcomeIdle, nil
	}
	if err != nil {
		return OutcomeIdle, err
	}

	done, err := p.redis.Exists(ctx, p.doneKey(job.ID)).Result()
	if err != nil {
		return OutcomeIdle, fmt.Errorf("check done marker %s: %w", job.ID, err)
	}
	if done > 0 {
		logger.Info("[BulkProcessor] job already delivered, acking", "job", job.ID)
		return OutcomeDuplicate, p.queue.Ack(ctx, job)
	}

	lock := distlock.NewRedisLock(p.redis, p.queue.Key("job:"+job.ID), p.opts.Lease)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return OutcomeIdle, fmt.Errorf("lock job %s: %w", job.ID, err)
	}
	if !acquired {
		// Another worker is still sending it; lease recovery will revisit.
		return OutcomeLocked, nil
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("[BulkProcessor] release lock", "job", job.ID, "error", err.Error())
		}
	}()

	if outcome, throttled, err := p.throttle(ctx, job, now); throttled || err != nil {
		return outcome, err
	}

	res, sendErr := p.engine.Send(ctx, job.Message(), &job.Settings)
	if sendErr == nil && res != nil && res.Success {
		if err := p.redis.Set(ctx, p.doneKey(job.ID), res.MessageID, p.opts.DoneTTL).Err(); err != nil {
			logger.Warn("[BulkProcessor] set done marker", "job", job.ID, "error", err.Error())
		}
		logger.Info("[BulkProcessor] job sent",
			"job", job.ID,
			"email_number", job.Metadata.EmailNumber,
			"total", job.Metadata.TotalEmails,
			"message_id", res.MessageID,
		)
		return OutcomeSent, p.queue.Ack(ctx, job)
	}

	if sendErr == nil {
		msg := "send failed"
		if res != nil && res.Error != "" {
			msg = res.Error
		}
		sendErr = errors.New(msg)
	}
	return p.handleFailure(ctx, job, sendErr, now)
}

func (p *BulkProcessor) throttle(ctx context.Context, job *domain.BulkTestJob, now time.Time) (JobOutcome, bool, error) {
	if p.limiter == nil {
		return "", false, nil
	}
	cfg := p.engine.Provider(&job.Settings)
	if cfg == nil {
		return "", false, nil
	}
	allowed, wait, err := p.limiter.CheckAndIncrement(ctx, cfg.Kind, 1)
	if err != nil {
		logger.Warn("[BulkProcessor] rate limit check failed, sending anyway", "job", job.ID, "error", err.Error())
		return "", false, nil
	}
	if allowed {
		return "", false, nil
	}
	logger.Debug("[BulkProcessor] throttled", "job", job.ID, "provider", string(cfg.Kind), "wait", wait.String())
	return OutcomeThrottled, true, p.queue.Requeue(ctx, job, now.Add(wait))
}

func (p *BulkProcessor) handleFailure(ctx context.Context, job *domain.BulkTestJob, sendErr error, now time.Time) (JobOutcome, error) {
	job.AttemptsMade++
	job.LastError = sendErr.Error()

	if !domain.IsRetryable(sendErr) || job.Exhausted() {
		logger.Error("[BulkProcessor] job dead-lettered",
			"job", job.ID,
			"attempts", job.AttemptsMade,
			"error", job.LastError,
		)
		return OutcomeDeadLetter, p.queue.Fail(ctx, job)
	}

	delay := job.BackoffDelay(job.AttemptsMade)
	logger.Warn("[BulkProcessor] job failed, retrying",
		"job", job.ID,
		"attempt", job.AttemptsMade,
		"retry_in", delay.String(),
		"error", job.LastError,
	)
	return OutcomeRetry, p.queue.Requeue(ctx, job, now.Add(delay))
}

// Run processes jobs with opts.Workers goroutines until ctx is cancelled.
func (p *BulkProcessor) Run(ctx context.Context) {
	logger.Info("[BulkProcessor] Starting", "workers", p.opts.Workers, "poll", p.opts.PollInterval.String())

	var wg sync.WaitGroup
	for i := 0; i < p.opts.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}
	wg.Wait()
	logger.Info("[BulkProcessor] Stopped")
}

func (p *BulkProcessor) loop(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}
		outcome, err := p.ProcessOne(ctx)
		if err != nil && ctx.Err() == nil {
			logger.Error("[BulkProcessor] process job", "worker", id, "error", err.Error())
		}
		if outcome == OutcomeIdle || outcome == OutcomeLocked || err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.opts.PollInterval):
			}
		}
	}
}

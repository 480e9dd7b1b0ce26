package worker

import (
	"context"
	"time"

	"github.com/ignite/mailengine/internal/pkg/logger"
)

// =============================================================================
// QUEUE RECOVERY WORKER — Reclaims jobs whose lease expired
// =============================================================================
// If a bulk worker crashes mid-send, its job stays in the active set past
// its lease. This worker periodically moves such jobs back to the delayed
// set, counting the lost run as an attempt, or dead-letters them when no
// attempts remain.

const (
	// DefaultRecoveryInterval is how often we scan for expired leases.
	DefaultRecoveryInterval = time.Minute

	// recoveryBatch bounds one scan.
	recoveryBatch = 500
)

// QueueRecoveryWorker requeues bulk jobs abandoned by crashed workers.
type QueueRecoveryWorker struct {
	queue    *BulkQueue
	interval time.Duration
	now      func() time.Time
}

// NewQueueRecoveryWorker creates a recovery worker. A non-positive interval
// selects DefaultRecoveryInterval.
func NewQueueRecoveryWorker(queue *BulkQueue, interval time.Duration) *QueueRecoveryWorker {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	return &QueueRecoveryWorker{queue: queue, interval: interval, now: time.Now}
}

// Start begins the recovery loop. It blocks until ctx is cancelled.
func (qr *QueueRecoveryWorker) Start(ctx context.Context) {
	logger.Info("[QueueRecovery] Starting", "interval", qr.interval.String())

	ticker := time.NewTicker(qr.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("[QueueRecovery] Stopping")
			return
		case <-ticker.C:
			qr.RecoverExpired(ctx)
		}
	}
}

// RecoverExpired handles every job whose lease has ended and returns how
// many were requeued and dead-lettered.
func (qr *QueueRecoveryWorker) RecoverExpired(ctx context.Context) (requeued, deadLettered int) {
	queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := qr.now()
	ids, err := qr.queue.ExpiredLeases(queryCtx, now, recoveryBatch)
	if err != nil {
		logger.Error("[QueueRecovery] scan error", "error", err.Error())
		return 0, 0
	}

	for _, id := range ids {
		job, err := qr.queue.TakeExpired(queryCtx, id)
		if err != nil {
			logger.Error("[QueueRecovery] take error", "job", id, "error", err.Error())
			continue
		}
		if job == nil {
			continue
		}

		job.AttemptsMade++
		job.LastError = "lease expired"
		if job.Exhausted() {
			if err := qr.queue.Fail(queryCtx, job); err != nil {
				logger.Error("[QueueRecovery] dead-letter error", "job", id, "error", err.Error())
				continue
			}
			deadLettered++
			continue
		}
		if err := qr.queue.Requeue(queryCtx, job, now); err != nil {
			logger.Error("[QueueRecovery] requeue error", "job", id, "error", err.Error())
			continue
		}
		requeued++
	}

	if requeued > 0 || deadLettered > 0 {
		logger.Info("[QueueRecovery] recovered expired leases", "requeued", requeued, "dead_lettered", deadLettered)
	}
	return requeued, deadLettered
}

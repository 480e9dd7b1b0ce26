package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ignite/mailengine/internal/pkg/logger"
)

// BulkEnqueuer plans bulk test runs and pushes them onto the queue.
type BulkEnqueuer struct {
	queue *BulkQueue

	defaultWindow time.Duration
	testRecipient string

	// Stats
	totalEnqueued atomic.Int64
	totalFailed   atomic.Int64
}

// NewBulkEnqueuer creates an enqueuer. defaultWindow applies when a request
// has no window; testRecipient applies when it has no recipient.
func NewBulkEnqueuer(queue *BulkQueue, defaultWindow time.Duration, testRecipient string) *BulkEnqueuer {
	return &BulkEnqueuer{queue: queue, defaultWindow: defaultWindow, testRecipient: testRecipient}
}

// EnqueueBulkTest plans req and enqueues every job in one transaction. It
// returns the run id shared by the jobs.
func (e *BulkEnqueuer) EnqueueBulkTest(ctx context.Context, req BulkTestRequest, now time.Time) (string, int, error) {
	if req.Window == 0 {
		req.Window = e.defaultWindow
	}
	if len(req.To) == 0 && e.testRecipient != "" {
		req.To = []string{e.testRecipient}
	}

	jobs, err := PlanBulkTest(req, now)
	if err != nil {
		return "", 0, err
	}

	startTime := time.Now()
	if err := e.queue.EnqueueAll(ctx, jobs, now); err != nil {
		e.totalFailed.Add(int64(len(jobs)))
		return "", 0, fmt.Errorf("enqueue bulk test: %w", err)
	}
	e.totalEnqueued.Add(int64(len(jobs)))

	runID := jobs[0].Metadata.RunID
	logger.Info("[BulkEnqueuer] enqueued bulk test",
		"run", runID,
		"jobs", len(jobs),
		"window", req.Window.String(),
		"to", logger.RedactEmails(req.To),
		"elapsed_ms", time.Since(startTime).Milliseconds(),
	)
	return runID, len(jobs), nil
}

// Stats returns lifetime counters.
func (e *BulkEnqueuer) Stats() (enqueued, failed int64) {
	return e.totalEnqueued.Load(), e.totalFailed.Load()
}

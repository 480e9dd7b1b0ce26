package worker

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailengine/internal/domain"
)

// MaxBulkTestEmails caps a single bulk test run.
const MaxBulkTestEmails = 10000

// MaxBulkTestWindow caps how far a bulk test run may be spread.
const MaxBulkTestWindow = 7 * 24 * time.Hour

// BulkTestRequest describes a paced run of test emails to one inbox.
type BulkTestRequest struct {
	To       domain.Recipients
	Count    int
	Window   time.Duration
	Subject  string
	HTML     string
	Settings domain.Settings
	RunID    string

	Attempts      int
	Priority      int
	BackoffMillis int64
}

// PlanBulkTest expands req into Count jobs spread evenly over Window. Job i
// (0-based) is delayed by i*Window/Count and its subject is suffixed with
// its position.
func PlanBulkTest(req BulkTestRequest, now time.Time) ([]domain.BulkTestJob, error) {
	if len(req.To) == 0 {
		return nil, errors.New("bulk test requires a recipient")
	}
	if req.Count <= 0 {
		return nil, errors.New("bulk test count must be positive")
	}
	if req.Count > MaxBulkTestEmails {
		return nil, fmt.Errorf("bulk test count %d exceeds max %d", req.Count, MaxBulkTestEmails)
	}
	if req.Window < 0 {
		return nil, errors.New("bulk test window must not be negative")
	}
	if req.Window > MaxBulkTestWindow {
		return nil, fmt.Errorf("bulk test window %s exceeds max %s", req.Window, MaxBulkTestWindow)
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	attempts := req.Attempts
	if attempts <= 0 {
		attempts = domain.DefaultJobAttempts
	}
	priority := req.Priority
	if priority <= 0 {
		priority = domain.DefaultJobPriority
	}
	backoff := req.BackoffMillis
	if backoff <= 0 {
		backoff = domain.DefaultJobBackoffMillis
	}

	// i*Window/Count split into quotient and remainder so the product
	// never leaves int64 range.
	n := time.Duration(req.Count)
	step, rem := req.Window/n, req.Window%n
	jobs := make([]domain.BulkTestJob, req.Count)
	for i := range jobs {
		delay := step*time.Duration(i) + rem*time.Duration(i)/n
		jobs[i] = domain.BulkTestJob{
			ID:       fmt.Sprintf("%s-%d", runID, i+1),
			Name:     domain.BulkTestJobName,
			To:       append(domain.Recipients(nil), req.To...),
			Subject:  fmt.Sprintf("%s #%d/%d", req.Subject, i+1, req.Count),
			HTML:     req.HTML,
			Settings: req.Settings,
			Metadata: domain.JobMetadata{
				Type:        domain.BulkTestType,
				RunID:       runID,
				EmailNumber: i + 1,
				TotalEmails: req.Count,
				SentAt:      now.Add(delay),
			},
			Options: domain.JobOptions{
				Delay:    delay.Milliseconds(),
				Priority: priority,
				Attempts: attempts,
				Backoff:  domain.Backoff{Type: domain.BackoffExponential, Delay: backoff},
			},
		}
	}
	return jobs, nil
}

package domain

import "time"

// Bulk job defaults.
const (
	BulkTestJobName         = "bulk-test-email"
	BulkTestType            = "bulk_test"
	DefaultJobAttempts      = 3
	DefaultJobPriority      = 10
	DefaultJobBackoffMillis = 5000
	BackoffExponential      = "exponential"
)

// JobMetadata positions a job within its bulk run.
type JobMetadata struct {
	Type        string    `json:"type"`
	RunID       string    `json:"runId,omitempty"`
	EmailNumber int       `json:"emailNumber"`
	TotalEmails int       `json:"totalEmails"`
	SentAt      time.Time `json:"sentAt"`
}

// Backoff is the queue-level retry delay policy. Delay is in milliseconds.
type Backoff struct {
	Type  string `json:"type"`
	Delay int64  `json:"delay"`
}

// JobOptions are the queue directives attached to a job. Delay is in
// milliseconds; lower Priority values are claimed first.
type JobOptions struct {
	Delay    int64   `json:"delay"`
	Priority int     `json:"priority"`
	Attempts int     `json:"attempts"`
	Backoff  Backoff `json:"backoff"`
}

// BulkTestJob is one unit of a paced bulk send. It carries everything needed
// to process it independently of its siblings.
type BulkTestJob struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	To       Recipients  `json:"to"`
	Subject  string      `json:"subject"`
	HTML     string      `json:"html"`
	Settings Settings    `json:"settings"`
	Metadata JobMetadata `json:"metadata"`
	Options  JobOptions  `json:"options"`

	AttemptsMade int       `json:"attemptsMade"`
	LastError    string    `json:"lastError,omitempty"`
	EnqueuedAt   time.Time `json:"enqueuedAt"`
}

// Message builds the engine message for this job.
func (j *BulkTestJob) Message() EmailMessage {
	return EmailMessage{
		To:      append(Recipients(nil), j.To...),
		Subject: j.Subject,
		HTML:    j.HTML,
	}
}

// BackoffDelay returns the wait before the given retry attempt (1-based).
// Exponential backoff doubles the base delay per attempt.
func (j *BulkTestJob) BackoffDelay(attempt int) time.Duration {
	base := time.Duration(j.Options.Backoff.Delay) * time.Millisecond
	if base <= 0 {
		base = DefaultJobBackoffMillis * time.Millisecond
	}
	if attempt < 1 {
		attempt = 1
	}
	if j.Options.Backoff.Type != BackoffExponential {
		return base
	}
	if attempt > 16 {
		attempt = 16
	}
	return base << uint(attempt-1)
}

// Exhausted reports whether no attempts remain.
func (j *BulkTestJob) Exhausted() bool {
	max := j.Options.Attempts
	if max <= 0 {
		max = DefaultJobAttempts
	}
	return j.AttemptsMade >= max
}

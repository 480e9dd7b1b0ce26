package domain

import "time"

// UnknownMessageID is reported when a provider does not return an id.
const UnknownMessageID = "unknown"

// SendResult is the normalized outcome of a send. Batch sends fill
// TotalRecipients, MessagesSent and Results with one entry per chunk.
type SendResult struct {
	Success   bool         `json:"success"`
	Provider  ProviderKind `json:"provider"`
	MessageID string       `json:"messageId"`
	FromEmail string       `json:"fromEmail"`
	Response  interface{}  `json:"response,omitempty"`
	Error     string       `json:"error,omitempty"`
	SentAt    time.Time    `json:"sentAt"`

	TotalRecipients int          `json:"totalRecipients,omitempty"`
	MessagesSent    int          `json:"messagesSent,omitempty"`
	Results         []SendResult `json:"results,omitempty"`
}

// IsBatch reports whether the result aggregates several provider calls.
func (r *SendResult) IsBatch() bool {
	return r != nil && len(r.Results) > 0
}

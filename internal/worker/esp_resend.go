package worker

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/ignite/mailengine/internal/domain"
	"github.com/ignite/mailengine/internal/pkg/httpretry"
	"github.com/ignite/mailengine/internal/pkg/logger"
	"github.com/ignite/mailengine/internal/storage"
)

// ResendMaxRecipients is the per-call recipient ceiling of POST /emails.
const ResendMaxRecipients = 50

const defaultResendBaseURL = "https://api.resend.com"

// HTTPSenderOptions configures the stateless HTTP API senders.
type HTTPSenderOptions struct {
	BaseURL    string
	HTTPClient httpretry.HTTPDoer
	MaxRetries int
	Loader     storage.Loader
}

func (o HTTPSenderOptions) doer() httpretry.HTTPDoer {
	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return httpretry.NewRetryClient(client, o.MaxRetries)
}

// ResendSender sends through the Resend HTTP API.
type ResendSender struct {
	baseURL string
	client  httpretry.HTTPDoer
	loader  storage.Loader
}

// NewResendSender creates a Resend sender.
func NewResendSender(opts HTTPSenderOptions) *ResendSender {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultResendBaseURL
	}
	return &ResendSender{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client:  opts.doer(),
		loader:  opts.Loader,
	}
}

type resendAttachment struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

type resendRequest struct {
	From        string             `json:"from"`
	To          []string           `json:"to"`
	Subject     string             `json:"subject"`
	HTML        string             `json:"html,omitempty"`
	Text        string             `json:"text,omitempty"`
	ReplyTo     string             `json:"reply_to,omitempty"`
	Headers     map[string]string  `json:"headers,omitempty"`
	Attachments []resendAttachment `json:"attachments,omitempty"`
}

type resendResponse struct {
	ID string `json:"id"`
}

// Send implements sending.Adapter. Resend does not batch: lists over
// ResendMaxRecipients fail with a *domain.RecipientLimitError.
func (r *ResendSender) Send(ctx context.Context, msg *domain.EmailMessage, cfg *domain.ProviderConfig) (*domain.SendResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(msg.To) > ResendMaxRecipients {
		return nil, &domain.RecipientLimitError{Provider: domain.ProviderResend, Limit: ResendMaxRecipients, Count: len(msg.To)}
	}

	atts, err := EncodeAttachments(ctx, r.loader, msg.Attachments)
	if err != nil {
		return nil, err
	}

	fromEmail, fromName := cfg.Sender()
	payload := resendRequest{
		From:    FormatFrom(fromName, fromEmail),
		To:      msg.To,
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
		ReplyTo: msg.ReplyTo,
		Headers: msg.Headers,
	}
	for _, a := range atts {
		payload.Attachments = append(payload.Attachments, resendAttachment{Filename: a.Filename, Content: a.Content})
	}

	headers := map[string]string{"Authorization": "Bearer " + cfg.Resend.APIKey}
	_, body, err := postJSON(ctx, r.client, domain.ProviderResend, r.baseURL+"/emails", headers, payload)
	if err != nil {
		logger.Warn("[Resend] send failed", "to", logger.RedactEmails(msg.To), "error", err.Error())
		return nil, err
	}

	var parsed resendResponse
	_ = json.Unmarshal(body, &parsed)
	messageID := parsed.ID
	if messageID == "" {
		messageID = domain.UnknownMessageID
	}

	logger.Info("[Resend] sent", "to", logger.RedactEmails(msg.To), "message_id", messageID)
	return &domain.SendResult{
		Success:   true,
		Provider:  domain.ProviderResend,
		MessageID: messageID,
		FromEmail: fromEmail,
		Response:  decodeResponse(body),
		SentAt:    time.Now(),
	}, nil
}

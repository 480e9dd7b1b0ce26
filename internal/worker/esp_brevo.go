package worker

import (
	"context"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/ignite/mailengine/internal/domain"
	"github.com/ignite/mailengine/internal/pkg/httpretry"
	"github.com/ignite/mailengine/internal/pkg/logger"
	"github.com/ignite/mailengine/internal/storage"
)

const defaultBrevoBaseURL = "https://api.brevo.com"

// BrevoSender sends through the Brevo transactional email API.
type BrevoSender struct {
	baseURL string
	client  httpretry.HTTPDoer
	loader  storage.Loader
}

// NewBrevoSender creates a Brevo sender.
func NewBrevoSender(opts HTTPSenderOptions) *BrevoSender {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBrevoBaseURL
	}
	return &BrevoSender{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client:  opts.doer(),
		loader:  opts.Loader,
	}
}

type brevoContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type brevoAttachment struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type brevoRequest struct {
	Sender      brevoContact      `json:"sender"`
	To          []brevoContact    `json:"to"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"htmlContent,omitempty"`
	TextContent string            `json:"textContent,omitempty"`
	ReplyTo     *brevoContact     `json:"replyTo,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Attachment  []brevoAttachment `json:"attachment,omitempty"`
}

type brevoResponse struct {
	MessageID string `json:"messageId"`
}

// Send implements sending.Adapter.
func (b *BrevoSender) Send(ctx context.Context, msg *domain.EmailMessage, cfg *domain.ProviderConfig) (*domain.SendResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	atts, err := EncodeAttachments(ctx, b.loader, msg.Attachments)
	if err != nil {
		return nil, err
	}

	fromEmail, fromName := cfg.Sender()
	payload := brevoRequest{
		Sender:      brevoContact{Email: fromEmail, Name: fromName},
		Subject:     msg.Subject,
		HTMLContent: msg.HTML,
		TextContent: msg.Text,
		Headers:     msg.Headers,
	}
	for _, to := range msg.To {
		payload.To = append(payload.To, brevoContact{Email: to})
	}
	if msg.ReplyTo != "" {
		payload.ReplyTo = &brevoContact{Email: msg.ReplyTo}
	}
	for _, a := range atts {
		payload.Attachment = append(payload.Attachment, brevoAttachment{Name: a.Filename, Content: a.Content})
	}

	headers := map[string]string{"api-key": cfg.Brevo.APIKey}
	_, body, err := postJSON(ctx, b.client, domain.ProviderBrevo, b.baseURL+"/v3/smtp/email", headers, payload)
	if err != nil {
		logger.Warn("[Brevo] send failed", "to", logger.RedactEmails(msg.To), "error", err.Error())
		return nil, err
	}

	var parsed brevoResponse
	_ = json.Unmarshal(body, &parsed)
	messageID := parsed.MessageID
	if messageID == "" {
		messageID = domain.UnknownMessageID
	}

	logger.Info("[Brevo] sent", "to", logger.RedactEmails(msg.To), "message_id", messageID)
	return &domain.SendResult{
		Success:   true,
		Provider:  domain.ProviderBrevo,
		MessageID: messageID,
		FromEmail: fromEmail,
		Response:  decodeResponse(body),
		SentAt:    time.Now(),
	}, nil
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/mailengine/internal/domain"
	"github.com/ignite/mailengine/internal/pkg/logger"
	"github.com/ignite/mailengine/internal/service/sending"
	"github.com/ignite/mailengine/internal/storage"
)

// SESMaxRecipients is the SES destination ceiling per SendEmail call.
const SESMaxRecipients = 50

// SESAPI is the part of the SES v2 client the sender uses.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESClientFactory builds a client for one set of credentials.
type SESClientFactory func(ctx context.Context, cfg domain.SESConfig) (SESAPI, error)

// NewSESClientFactory returns a factory using static credentials. A
// non-empty endpoint overrides the regional SES endpoint.
func NewSESClientFactory(endpoint string) SESClientFactory {
	return func(ctx context.Context, c domain.SESConfig) (SESAPI, error) {
		cfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(c.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, "")),
		)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		return sesv2.NewFromConfig(cfg, func(o *sesv2.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		}), nil
	}
}

// SESSender sends through AWS SES v2. Clients are cached per credential set.
type SESSender struct {
	factory     SESClientFactory
	loader      storage.Loader
	concurrency int

	mu      sync.Mutex
	clients map[string]SESAPI
}

// NewSESSender creates an SES sender.
func NewSESSender(factory SESClientFactory, loader storage.Loader, concurrency int) *SESSender {
	if factory == nil {
		factory = NewSESClientFactory("")
	}
	return &SESSender{
		factory:     factory,
		loader:      loader,
		concurrency: concurrency,
		clients:     make(map[string]SESAPI),
	}
}

func (s *SESSender) client(ctx context.Context, c domain.SESConfig) (SESAPI, error) {
	key := c.Region + "|" + c.AccessKey
	s.mu.Lock()
	defer s.mu.Unlock()
	if cl, ok := s.clients[key]; ok {
		return cl, nil
	}
	cl, err := s.factory(ctx, c)
	if err != nil {
		return nil, err
	}
	s.clients[key] = cl
	return cl, nil
}

// Send implements sending.Adapter. Lists over SESMaxRecipients are split.
func (s *SESSender) Send(ctx context.Context, msg *domain.EmailMessage, cfg *domain.ProviderConfig) (*domain.SendResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sc := *cfg.SES

	cl, err := s.client(ctx, sc)
	if err != nil {
		return nil, &domain.UnavailableError{Provider: domain.ProviderSES, Reason: err.Error()}
	}
	atts, err := EncodeAttachments(ctx, s.loader, msg.Attachments)
	if err != nil {
		return nil, err
	}

	return sending.SplitAndSend(ctx, msg, domain.ProviderSES, SESMaxRecipients, s.concurrency,
		func(ctx context.Context, part *domain.EmailMessage) (*domain.SendResult, error) {
			return s.sendOne(ctx, cl, part, sc, atts)
		})
}

func (s *SESSender) sendOne(ctx context.Context, cl SESAPI, msg *domain.EmailMessage, sc domain.SESConfig, atts []EncodedAttachment) (*domain.SendResult, error) {
	from := FormatFrom(sc.FromName, sc.FromEmail)
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: msg.To},
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}

	if len(atts) > 0 || len(msg.Headers) > 0 {
		raw := MIMEFromMessage(msg, from, NewMessageID(sc.FromEmail), atts)
		input.Content = &types.EmailContent{Raw: &types.RawMessage{Data: raw}}
	} else {
		body := &types.Body{}
		if msg.HTML != "" {
			body.Html = &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")}
		}
		if msg.Text != "" {
			body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
		}
		input.Content = &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		}
	}

	out, err := cl.SendEmail(ctx, input)
	if err != nil {
		logger.Warn("[SES] send failed", "to", logger.RedactEmails(msg.To), "error", err.Error())
		return nil, mapSESError(err)
	}

	messageID := domain.UnknownMessageID
	if out != nil && out.MessageId != nil {
		messageID = *out.MessageId
	}
	logger.Info("[SES] sent", "to", logger.RedactEmails(msg.To), "message_id", messageID)

	return &domain.SendResult{
		Success:   true,
		Provider:  domain.ProviderSES,
		MessageID: messageID,
		FromEmail: sc.FromEmail,
		SentAt:    time.Now(),
	}, nil
}

// mapSESError turns an SDK response error into a *domain.UpstreamError.
// Errors without an HTTP status (signing, network) are returned wrapped.
func mapSESError(err error) error {
	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) && status.HTTPStatusCode() > 0 {
		return &domain.UpstreamError{Provider: domain.ProviderSES, StatusCode: status.HTTPStatusCode(), Body: err.Error()}
	}
	return fmt.Errorf("ses: %w", err)
}

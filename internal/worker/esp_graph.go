package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/ignite/mailengine/internal/domain"
	"github.com/ignite/mailengine/internal/pkg/httpretry"
	"github.com/ignite/mailengine/internal/pkg/logger"
	"github.com/ignite/mailengine/internal/service/sending"
	"github.com/ignite/mailengine/internal/storage"
)

const (
	// GraphMaxRecipients is the per-call recipient ceiling for sendMail.
	GraphMaxRecipients = 500
	// GraphScope requests the application permissions granted to the app.
	GraphScope = "https://graph.microsoft.com/.default"

	defaultGraphAuthority = "https://login.microsoftonline.com"
	defaultGraphBaseURL   = "https://graph.microsoft.com"
)

// GraphOptions configures a GraphSender. Zero values select the public
// Microsoft endpoints.
type GraphOptions struct {
	Authority   string
	BaseURL     string
	HTTPClient  *http.Client
	MaxRetries  int
	Concurrency int
	Loader      storage.Loader
}

// GraphSender sends through Microsoft Graph using the client-credentials
// grant. A token is fetched for every call.
type GraphSender struct {
	authority   string
	baseURL     string
	httpClient  *http.Client
	client      httpretry.HTTPDoer
	concurrency int
	loader      storage.Loader
}

// NewGraphSender creates a Graph sender.
func NewGraphSender(opts GraphOptions) *GraphSender {
	if opts.Authority == "" {
		opts.Authority = defaultGraphAuthority
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultGraphBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &GraphSender{
		authority:   strings.TrimRight(opts.Authority, "/"),
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		httpClient:  opts.HTTPClient,
		client:      httpretry.NewRetryClient(opts.HTTPClient, opts.MaxRetries),
		concurrency: opts.Concurrency,
		loader:      opts.Loader,
	}
}

type graphAddress struct {
	EmailAddress graphEmail `json:"emailAddress"`
}

type graphEmail struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType,omitempty"`
	ContentBytes string `json:"contentBytes"`
}

type graphMessage struct {
	Subject      string            `json:"subject"`
	Body         graphBody         `json:"body"`
	ToRecipients []graphAddress    `json:"toRecipients"`
	From         *graphAddress     `json:"from,omitempty"`
	ReplyTo      []graphAddress    `json:"replyTo,omitempty"`
	Attachments  []graphAttachment `json:"attachments,omitempty"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphSendMailRequest struct {
	Message         graphMessage `json:"message"`
	SaveToSentItems bool         `json:"saveToSentItems"`
}

// Send implements sending.Adapter. Lists over GraphMaxRecipients are split
// into chunks, one sendMail call each.
func (g *GraphSender) Send(ctx context.Context, msg *domain.EmailMessage, cfg *domain.ProviderConfig) (*domain.SendResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	gc := *cfg.Graph

	atts, err := EncodeAttachments(ctx, g.loader, msg.Attachments)
	if err != nil {
		return nil, err
	}

	return sending.SplitAndSend(ctx, msg, domain.ProviderGraph, GraphMaxRecipients, g.concurrency,
		func(ctx context.Context, part *domain.EmailMessage) (*domain.SendResult, error) {
			return g.sendOne(ctx, part, gc, atts)
		})
}

func (g *GraphSender) token(ctx context.Context, gc domain.GraphConfig) (*oauth2.Token, error) {
	cc := clientcredentials.Config{
		ClientID:     gc.ClientID,
		ClientSecret: gc.ClientSecret,
		TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", g.authority, url.PathEscape(gc.TenantID)),
		Scopes:       []string{GraphScope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tok, err := cc.Token(context.WithValue(ctx, oauth2.HTTPClient, g.httpClient))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return nil, &domain.UpstreamError{Provider: domain.ProviderGraph, StatusCode: re.Response.StatusCode, Body: string(re.Body)}
		}
		return nil, fmt.Errorf("graph token: %w", err)
	}
	return tok, nil
}

func (g *GraphSender) sendOne(ctx context.Context, msg *domain.EmailMessage, gc domain.GraphConfig, atts []EncodedAttachment) (*domain.SendResult, error) {
	tok, err := g.token(ctx, gc)
	if err != nil {
		return nil, err
	}

	from := gc.FromEmail
	sendAs := gc.SendAs
	if sendAs == "" {
		sendAs = from
	}

	m := graphMessage{
		Subject: msg.Subject,
		Body:    graphBody{ContentType: "HTML", Content: msg.HTML},
		From:    &graphAddress{EmailAddress: graphEmail{Address: sendAs, Name: gc.FromName}},
	}
	if m.Body.Content == "" {
		m.Body = graphBody{ContentType: "Text", Content: msg.Text}
	}
	for _, to := range msg.To {
		m.ToRecipients = append(m.ToRecipients, graphAddress{EmailAddress: graphEmail{Address: to}})
	}
	if msg.ReplyTo != "" {
		m.ReplyTo = []graphAddress{{EmailAddress: graphEmail{Address: msg.ReplyTo}}}
	}
	for _, a := range atts {
		m.Attachments = append(m.Attachments, graphAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         a.Filename,
			ContentType:  a.ContentType,
			ContentBytes: a.Content,
		})
	}

	endpoint := fmt.Sprintf("%s/v1.0/users/%s/sendMail", g.baseURL, url.PathEscape(from))
	headers := map[string]string{"Authorization": "Bearer " + tok.AccessToken}
	status, body, err := postJSON(ctx, g.client, domain.ProviderGraph, endpoint, headers, graphSendMailRequest{Message: m})
	if err != nil {
		logger.Warn("[Graph] sendMail failed", "to", logger.RedactEmails(msg.To), "error", err.Error())
		return nil, err
	}

	logger.Info("[Graph] sendMail accepted", "status", status, "recipients", len(msg.To))
	return &domain.SendResult{
		Success:   true,
		Provider:  domain.ProviderGraph,
		MessageID: domain.UnknownMessageID,
		FromEmail: sendAs,
		Response:  decodeResponse(body),
		SentAt:    time.Now(),
	}, nil
}

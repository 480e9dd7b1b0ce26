// Package worker contains the provider adapters and the bulk delivery worker.
//
// Provider adapters are split into individual files:
//   - esp_smtp.go:   pooled SMTP (persistent_smtp and sandbox_smtp)
//   - esp_graph.go:  Microsoft Graph sendMail with client-credentials tokens
//   - esp_resend.go: Resend /emails (bearer token)
//   - esp_brevo.go:  Brevo /v3/smtp/email (api-key header)
//   - esp_ses.go:    AWS SES v2
//
// Bulk delivery lives in bulk_*.go, rate_limiter.go and queue_recovery.go.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/ignite/mailengine/internal/domain"
	"github.com/ignite/mailengine/internal/pkg/httpretry"
)

// maxResponseBytes bounds how much of a provider response is read.
const maxResponseBytes = 1 << 20

// postJSON sends payload as JSON and returns the response body. Status codes
// of 400 and above become a *domain.UpstreamError carrying the body verbatim.
func postJSON(ctx context.Context, client httpretry.HTTPDoer, provider domain.ProviderKind, url string, headers map[string]string, payload interface{}) (int, []byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s request: %w", provider, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode >= 400 {
		return resp.StatusCode, body, &domain.UpstreamError{Provider: provider, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return resp.StatusCode, body, nil
}

// decodeResponse parses a provider response for diagnostics. Non-JSON
// bodies are returned as a string.
func decodeResponse(body []byte) interface{} {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body)
	}
	return v
}

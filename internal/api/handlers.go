package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/ignite/mailengine/internal/domain"
	"github.com/ignite/mailengine/internal/pkg/httputil"
	"github.com/ignite/mailengine/internal/pkg/logger"
	"github.com/ignite/mailengine/internal/worker"
)

// maxRequestBytes bounds request bodies; attachments arrive base64-inline.
const maxRequestBytes = 32 << 20

// Handlers contains all HTTP handlers
type Handlers struct {
	deps Deps
	now  func() time.Time
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{deps: deps, now: time.Now}
}

// PoolStats returns the pooled transport snapshot.
//
//	GET /api/pool/stats
func (h *Handlers) PoolStats(w http.ResponseWriter, r *http.Request) {
	if h.deps.Pool == nil {
		httputil.ServiceUnavailable(w, "pool_unavailable", "transport pool not running")
		return
	}
	httputil.OK(w, h.deps.Pool.Stats())
}

// QueueStats returns bulk queue depth.
//
//	GET /api/queue/stats
func (h *Handlers) QueueStats(w http.ResponseWriter, r *http.Request) {
	if h.deps.Queue == nil {
		httputil.ServiceUnavailable(w, "queue_unavailable", "bulk queue not configured")
		return
	}
	stats, err := h.deps.Queue.Stats(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, stats)
}

// ProviderInfo reports which provider the current settings resolve to.
//
//	GET /api/provider
func (h *Handlers) ProviderInfo(w http.ResponseWriter, r *http.Request) {
	if h.deps.Engine == nil {
		httputil.ServiceUnavailable(w, "engine_unavailable", "sending engine not configured")
		return
	}
	settings, err := h.settings(r.Context(), nil)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	cfg := h.deps.Engine.Provider(settings)
	resp := map[string]interface{}{
		"configured": cfg != nil,
		"enabled":    h.deps.Engine.IsEmailEnabled(settings),
	}
	if cfg != nil {
		from, name := cfg.Sender()
		resp["provider"] = cfg.Kind
		resp["fromEmail"] = from
		resp["fromName"] = name
	}
	httputil.OK(w, resp)
}

type sendRequest struct {
	domain.EmailMessage
	Settings *domain.Settings `json:"settings,omitempty"`
}

// Send delivers one message. The body is the message plus an optional
// settings snapshot; without one the stored settings are used.
//
//	POST /api/send
func (h *Handlers) Send(w http.ResponseWriter, r *http.Request) {
	if h.deps.Engine == nil {
		httputil.ServiceUnavailable(w, "engine_unavailable", "sending engine not configured")
		return
	}
	var req sendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	settings, err := h.settings(r.Context(), req.Settings)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	res, err := h.deps.Engine.Send(r.Context(), req.EmailMessage, settings)
	if err != nil {
		writeSendError(w, err)
		return
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusMultiStatus
	}
	httputil.JSON(w, status, res)
}

type bulkTestRequest struct {
	To            domain.Recipients `json:"to"`
	Count         int               `json:"count"`
	WindowMinutes int               `json:"windowMinutes"`
	Subject       string            `json:"subject"`
	HTML          string            `json:"html"`
	Settings      *domain.Settings  `json:"settings,omitempty"`
}

// BulkTest plans and enqueues a paced bulk test run.
//
//	POST /api/bulk-test
func (h *Handlers) BulkTest(w http.ResponseWriter, r *http.Request) {
	if h.deps.Bulk == nil {
		httputil.ServiceUnavailable(w, "queue_unavailable", "bulk queue not configured")
		return
	}
	var req bulkTestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	maxMinutes := int(worker.MaxBulkTestWindow / time.Minute)
	if req.WindowMinutes < 0 || req.WindowMinutes > maxMinutes {
		httputil.Error(w, http.StatusBadRequest, fmt.Sprintf("windowMinutes must be between 0 and %d", maxMinutes))
		return
	}
	settings, err := h.settings(r.Context(), req.Settings)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	runID, n, err := h.deps.Bulk.EnqueueBulkTest(r.Context(), worker.BulkTestRequest{
		To:       req.To,
		Count:    req.Count,
		Window:   time.Duration(req.WindowMinutes) * time.Minute,
		Subject:  req.Subject,
		HTML:     req.HTML,
		Settings: *settings,
	}, h.now())
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	httputil.JSON(w, http.StatusAccepted, map[string]interface{}{"runId": runID, "jobs": n})
}

// settings prefers the snapshot sent with the request over the stored one.
func (h *Handlers) settings(ctx context.Context, inline *domain.Settings) (*domain.Settings, error) {
	if inline != nil {
		return inline, nil
	}
	if h.deps.Settings == nil {
		return &domain.Settings{}, nil
	}
	return h.deps.Settings.Settings(ctx, OrgIDFromContext(ctx))
}

// writeSendError maps engine errors to status codes. Provider diagnostics
// are logged for operators and never returned to the caller.
func writeSendError(w http.ResponseWriter, err error) {
	var upstream *domain.UpstreamError
	switch {
	case errors.Is(err, domain.ErrProviderUnavailable):
		httputil.ServiceUnavailable(w, "provider_unavailable", "email delivery is not available")
	case errors.Is(err, domain.ErrConfigurationIncomplete):
		httputil.JSON(w, http.StatusUnprocessableEntity, httputil.ErrorResponse{Error: err.Error(), Code: "configuration_incomplete"})
	case errors.Is(err, domain.ErrRecipientLimitExceeded):
		httputil.JSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error(), Code: "recipient_limit_exceeded"})
	case errors.As(err, &upstream):
		logger.Error("[API] provider rejected send", "provider", string(upstream.Provider), "status", upstream.StatusCode, "body", upstream.Body)
		httputil.JSON(w, http.StatusBadGateway, httputil.ErrorResponse{Error: "email provider rejected the message", Code: "upstream_rejected"})
	case errors.Is(err, domain.ErrTransport):
		logger.Error("[API] transport failure", "error", err.Error())
		httputil.JSON(w, http.StatusBadGateway, httputil.ErrorResponse{Error: "email provider unreachable", Code: "transport_error"})
	default:
		httputil.Error(w, http.StatusBadRequest, err.Error())
	}
}

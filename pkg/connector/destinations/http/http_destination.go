// Package http delivers event batches to a webhook as a JSON envelope.
package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datastream/pkg/clients"
	"github.com/ajitpratap0/datastream/pkg/connector/base"
	"github.com/ajitpratap0/datastream/pkg/connector/core"
	"github.com/ajitpratap0/datastream/pkg/connector/registry"
	"github.com/ajitpratap0/datastream/pkg/errors"
	"github.com/ajitpratap0/datastream/pkg/models"
)

func init() {
	_ = registry.RegisterDestination(models.DestinationHTTP, New)
}

const checkTimeout = 10 * time.Second

// Envelope is the request body sent for each batch. Events holds full
// events, or projected rows when the stream has a custom schema.
type Envelope struct {
	Events    []interface{} `json:"events"`
	Count     int           `json:"count"`
	Timestamp float64       `json:"timestamp"`
}

// Destination posts batches to a webhook.
type Destination struct {
	*base.BaseConnector

	cfg           models.HTTPConfig
	client        *clients.HTTPClient
	retryInterval time.Duration
}

// Option customizes a Destination.
type Option func(*Destination)

// WithRetryInterval sets the pause between 5xx retries.
func WithRetryInterval(d time.Duration) Option {
	return func(h *Destination) { h.retryInterval = d }
}

// New creates an HTTP destination.
func New(cfg core.Config) (core.Connector, error) {
	return NewDestination(cfg)
}

// NewDestination creates an HTTP destination with options applied.
func NewDestination(cfg core.Config, opts ...Option) (*Destination, error) {
	if cfg.Destination.HTTP == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "HTTP configuration is required")
	}
	h := &Destination{
		BaseConnector: base.NewBaseConnector(cfg),
		cfg:           *cfg.Destination.HTTP,
		retryInterval: time.Second,
	}
	if h.cfg.Method == "" {
		h.cfg.Method = nethttp.MethodPost
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Connect creates the pooled client.
func (h *Destination) Connect(ctx context.Context) error {
	if h.IsConnected() {
		return nil
	}
	clientCfg := clients.DefaultHTTPConfig()
	if h.cfg.TimeoutSeconds > 0 {
		clientCfg.RequestTimeout = time.Duration(h.cfg.TimeoutSeconds) * time.Second
	}
	h.client = clients.NewHTTPClient(clientCfg, h.Logger())
	h.SetConnected(true)
	h.Logger().Info("HTTP destination ready", zap.String("url", h.cfg.URL))
	return nil
}

// Disconnect logs the request counters and closes idle connections.
func (h *Destination) Disconnect(ctx context.Context) error {
	if h.client != nil {
		stats := h.client.GetStats()
		h.Logger().Info("HTTP destination closed",
			zap.Int64("requests", stats.TotalRequests),
			zap.Int64("failed_requests", stats.FailedRequests),
			zap.Float64("success_rate", stats.SuccessRate))
		_ = h.client.Close()
		h.client = nil
	}
	h.SetConnected(false)
	return nil
}

// Send posts events in one envelope. Server errors are retried up to
// retry_count times; client errors fail immediately with a rejection.
func (h *Destination) Send(ctx context.Context, events []*models.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	if err := h.EnsureConnected(ctx, h.Connect); err != nil {
		return 0, err
	}

	docs, castFailures := base.Documents(events, h.Config().Schema)
	if castFailures > 0 {
		h.Logger().Warn("schema cast failures", zap.Int("values", castFailures))
	}
	body, err := json.Marshal(Envelope{
		Events:    docs,
		Count:     len(events),
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
	})
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeData, "failed to encode envelope")
	}

	start := time.Now()
	sendErr := h.post(ctx, body)
	h.RecordSend(start, sendErr)
	if sendErr != nil {
		return 0, sendErr
	}

	h.Logger().Debug("sent events", zap.Int("count", len(events)), zap.String("url", h.cfg.URL))
	return len(events), nil
}

func (h *Destination) post(ctx context.Context, body []byte) error {
	policy := base.ConstantRetry(h.cfg.RetryCount, h.retryInterval)
	policy.OnRetry = func(attempt int, _ time.Duration, err error) {
		h.Logger().Warn("webhook send failed",
			zap.Int("attempt", attempt), zap.Int("retry_count", h.cfg.RetryCount), zap.Error(err))
	}

	return policy.Do(ctx, func() error {
		status, respBody, err := h.do(ctx, h.cfg.Method, body)
		switch {
		case err != nil:
			return base.Classify(err, "webhook request failed")
		case status >= 200 && status < 300:
			return nil
		case status >= 500:
			return errors.Newf(errors.ErrorTypeDelivery, "server error: %d", status)
		default:
			return errors.Newf(errors.ErrorTypeRejected, "webhook rejected batch: %d %s", status, strings.TrimSpace(respBody)).
				WithDetail("status_code", status)
		}
	})
}

func (h *Destination) do(ctx context.Context, method string, body []byte) (int, string, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := nethttp.NewRequestWithContext(ctx, method, h.cfg.URL, reader)
	if err != nil {
		return 0, "", errors.Wrap(err, errors.ErrorTypeConfig, "invalid webhook request")
	}
	h.setHeaders(req, body != nil)

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return resp.StatusCode, string(snippet), nil
}

func (h *Destination) setHeaders(req *nethttp.Request, hasBody bool) {
	for k, v := range h.cfg.Headers {
		req.Header.Set(k, v)
	}
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.cfg.AuthValue == "" {
		return
	}
	switch h.cfg.AuthType {
	case models.HTTPAuthBasic:
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(h.cfg.AuthValue)))
	case models.HTTPAuthBearer:
		req.Header.Set("Authorization", "Bearer "+h.cfg.AuthValue)
	case models.HTTPAuthAPIKey:
		req.Header.Set("X-API-Key", h.cfg.AuthValue)
	}
}

// TestConnection issues a HEAD request; 2xx and 3xx count as reachable.
func (h *Destination) TestConnection(ctx context.Context) *models.TestConnectionResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	return base.CheckConnection(ctx, h, func(ctx context.Context) (map[string]interface{}, error) {
		status, _, err := h.do(ctx, nethttp.MethodHead, nil)
		if err != nil {
			return nil, base.Classify(err, "webhook unreachable")
		}
		if status >= 400 {
			return nil, fmt.Errorf("server returned status: %d", status)
		}
		return map[string]interface{}{
			"url":         h.cfg.URL,
			"status_code": status,
			"requests":    h.client.GetStats().TotalRequests,
		}, nil
	})
}

// Package webhook posts scan lifecycle events and agent info to HTTP
// endpoints as JSON.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/dastctl/internal/app/notify"
	"github.com/ahrav/dastctl/internal/domain/scanning"
	"github.com/ahrav/dastctl/pkg/common/logger"
)

var _ notify.Sink = (*Sink)(nil)

// Sink makes a single JSON POST per event. Non-2xx responses are failures.
type Sink struct {
	endpoint   string
	httpClient *http.Client

	logger *logger.Logger
	tracer trace.Tracer
}

// NewSink creates a Sink posting to endpoint. A nil httpClient uses
// http.DefaultClient.
func NewSink(endpoint string, httpClient *http.Client, logger *logger.Logger, tracer trace.Tracer) (*Sink, error) {
	u, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Sink{
		endpoint:   endpoint,
		httpClient: httpClient,
		logger:     logger.With("component", "webhook_notify_sink", "host", u.Host),
		tracer:     tracer,
	}, nil
}

// Name implements notify.Sink.
func (s *Sink) Name() string { return "webhook" }

// Deliver posts evt once.
func (s *Sink) Deliver(ctx context.Context, evt scanning.LifecycleEvent) error {
	ctx, span := s.tracer.Start(ctx, "webhook_sink.deliver",
		trace.WithAttributes(attribute.String("event.type", evt.Type.String())))
	defer span.End()

	body, err := json.Marshal(evt)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to encode %s event: %w", evt.Type, err)
	}

	status, err := postJSON(ctx, s.httpClient, s.endpoint, body, http.Header{"X-Dastctl-Event": {evt.Type.String()}})
	span.SetAttributes(attribute.Int("http.status_code", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		return err
	}

	s.logger.Debug(ctx, "Delivered lifecycle event", "event", evt.Type, "status", status)
	return nil
}

// postJSON makes one POST of body to endpoint. It returns the response status
// and an error for transport failures and non-2xx answers.
func postJSON(ctx context.Context, client *http.Client, endpoint string, body []byte, header http.Header) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to post to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("%s returned status %d", endpoint, resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func parseEndpoint(endpoint string) (*url.URL, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid webhook url %q", endpoint)
	}
	return u, nil
}
